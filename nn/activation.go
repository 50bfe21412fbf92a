package nn

import (
	"github.com/medvision/volseg/tensor"
)

// Activation applies either ELU or ReLU, chosen once per network
// instantiation and shared by every block.
type Activation struct {
	elu      bool
	training bool
}

// NewActivation selects ELU when elu is true, ReLU otherwise.
func NewActivation(elu bool) *Activation {
	return &Activation{elu: elu, training: true}
}

// Forward applies the activation.
func (a *Activation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if a.elu {
		return tensor.ELU(input), nil
	}
	return tensor.ReLU(input), nil
}

func (a *Activation) Parameters() []*tensor.Tensor { return nil }
func (a *Activation) Train()                       { a.training = true }
func (a *Activation) Eval()                        { a.training = false }
func (a *Activation) IsTraining() bool             { return a.training }
func (a *Activation) Kind() LayerKind              { return KindActivation }

func (a *Activation) Visit(fn func(layer Module)) { fn(a) }
