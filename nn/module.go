// Package nn provides the learnable building blocks of the segmentation
// network: 3-D convolution layers, batch normalization, activations and
// containers, plus the weight-initialization policies applied to them.
package nn

import (
	"math/rand"

	"github.com/medvision/volseg/tensor"
)

// Global random source for deterministic initialization and dropout masks.
var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and dropout.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// RNG exposes the package random source for operations that need it.
func RNG() *rand.Rand {
	return globalRng
}

// LayerKind tags the structural kind of a layer. Weight-initialization
// policies dispatch on this enumeration rather than on type names.
type LayerKind int

const (
	KindConv3D LayerKind = iota
	KindConvTranspose3D
	KindBatchNorm3D
	KindLinear
	KindActivation
	KindDropout3D
	KindContainer
)

func (k LayerKind) String() string {
	switch k {
	case KindConv3D:
		return "Conv3D"
	case KindConvTranspose3D:
		return "ConvTranspose3D"
	case KindBatchNorm3D:
		return "BatchNorm3D"
	case KindLinear:
		return "Linear"
	case KindActivation:
		return "Activation"
	case KindDropout3D:
		return "Dropout3D"
	case KindContainer:
		return "Container"
	default:
		return "Unknown"
	}
}

// Module is the interface all single-input layers implement.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	IsTraining() bool
	Kind() LayerKind
}

// Visitable is implemented by modules that contain sub-layers. Visit calls
// fn for every leaf layer in definition order; leaves call fn on themselves.
type Visitable interface {
	Visit(fn func(layer Module))
}

// Stateful is implemented by modules whose tensors participate in
// checkpointing. StateDict writes named tensors into dst; LoadStateDict
// copies matching entries back in place.
type Stateful interface {
	StateDict(prefix string, dst map[string]*tensor.Tensor)
	LoadStateDict(prefix string, src map[string]*tensor.Tensor) error
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
