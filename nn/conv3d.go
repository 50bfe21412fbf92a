package nn

import (
	"fmt"
	"math"

	"github.com/medvision/volseg/tensor"
)

// Conv3d is a 3-D convolution layer over NCDHW input.
type Conv3d struct {
	weight   *tensor.Tensor // [out, in, k, k, k]
	bias     *tensor.Tensor // [out]
	stride   int
	padding  int
	training bool
}

// NewConv3d creates a Conv3d layer with a cubic kernel. Weights start from
// a fan-in scaled normal draw; bias starts at zero. The network-level
// initialization policy normally overwrites both.
func NewConv3d(inChannels, outChannels, kernelSize, stride, padding int) *Conv3d {
	fanIn := float64(inChannels * kernelSize * kernelSize * kernelSize)
	scale := math.Sqrt(2.0 / fanIn)

	weight := tensor.Zeros(outChannels, inChannels, kernelSize, kernelSize, kernelSize)
	for i := range weight.Data {
		weight.Data[i] = float32(globalRng.NormFloat64() * scale)
	}
	weight.SetRequiresGrad(true)

	bias := tensor.Zeros(outChannels)
	bias.SetRequiresGrad(true)

	return &Conv3d{
		weight:   weight,
		bias:     bias,
		stride:   stride,
		padding:  padding,
		training: true,
	}
}

// Forward performs the convolution.
func (c *Conv3d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv3D(input, c.weight, c.bias, c.stride, c.padding)
}

// Weight returns the kernel tensor.
func (c *Conv3d) Weight() *tensor.Tensor { return c.weight }

// Bias returns the bias tensor.
func (c *Conv3d) Bias() *tensor.Tensor { return c.bias }

func (c *Conv3d) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.weight, c.bias}
}

func (c *Conv3d) Train()           { c.training = true }
func (c *Conv3d) Eval()            { c.training = false }
func (c *Conv3d) IsTraining() bool { return c.training }
func (c *Conv3d) Kind() LayerKind  { return KindConv3D }

func (c *Conv3d) Visit(fn func(layer Module)) { fn(c) }

func (c *Conv3d) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	dst[joinPrefix(prefix, "weight")] = c.weight
	dst[joinPrefix(prefix, "bias")] = c.bias
}

func (c *Conv3d) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := loadInto(src, joinPrefix(prefix, "weight"), c.weight); err != nil {
		return err
	}
	return loadInto(src, joinPrefix(prefix, "bias"), c.bias)
}

// loadInto copies a named tensor from src into dst in place.
func loadInto(src map[string]*tensor.Tensor, key string, dst *tensor.Tensor) error {
	t, ok := src[key]
	if !ok {
		return fmt.Errorf("state dict missing %s", key)
	}
	if err := dst.CopyFrom(t); err != nil {
		return fmt.Errorf("failed to load %s: %v", key, err)
	}
	return nil
}
