package nn

import (
	"github.com/medvision/volseg/tensor"
)

// Dropout3d zeroes whole channels with probability p during training.
type Dropout3d struct {
	p        float64
	training bool
}

// NewDropout3d creates a channel dropout layer.
func NewDropout3d(p float64) *Dropout3d {
	return &Dropout3d{p: p, training: true}
}

// Forward applies channel dropout in training mode; identity in eval mode.
func (d *Dropout3d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Dropout3d(input, d.p, d.training, globalRng)
}

func (d *Dropout3d) Parameters() []*tensor.Tensor { return nil }
func (d *Dropout3d) Train()                       { d.training = true }
func (d *Dropout3d) Eval()                        { d.training = false }
func (d *Dropout3d) IsTraining() bool             { return d.training }
func (d *Dropout3d) Kind() LayerKind              { return KindDropout3D }

func (d *Dropout3d) Visit(fn func(layer Module)) { fn(d) }
