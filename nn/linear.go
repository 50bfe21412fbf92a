package nn

import (
	"fmt"
	"math"

	"github.com/medvision/volseg/tensor"
)

// Linear is a fully connected layer: y = xW + b.
type Linear struct {
	weight   *tensor.Tensor // [in, out]
	bias     *tensor.Tensor // [out]
	training bool
}

// NewLinear creates a Linear layer with fan-in scaled initialization.
func NewLinear(inputSize, outputSize int) *Linear {
	scale := math.Sqrt(2.0 / float64(inputSize))
	weight := tensor.Zeros(inputSize, outputSize)
	for i := range weight.Data {
		weight.Data[i] = float32(globalRng.NormFloat64() * scale)
	}
	weight.SetRequiresGrad(true)

	bias := tensor.Zeros(outputSize)
	bias.SetRequiresGrad(true)

	return &Linear{weight: weight, bias: bias, training: true}
}

// Forward computes xW + b for a [batch, in] input.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear expects 2-D input [batch, features], got shape %v", input.Shape)
	}
	out, err := tensor.MatMul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("failed to multiply input by weight: %v", err)
	}
	return tensor.AddRowBias(out, l.bias)
}

// Weight returns the weight matrix.
func (l *Linear) Weight() *tensor.Tensor { return l.weight }

// Bias returns the bias vector.
func (l *Linear) Bias() *tensor.Tensor { return l.bias }

func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.weight, l.bias}
}

func (l *Linear) Train()           { l.training = true }
func (l *Linear) Eval()            { l.training = false }
func (l *Linear) IsTraining() bool { return l.training }
func (l *Linear) Kind() LayerKind  { return KindLinear }

func (l *Linear) Visit(fn func(layer Module)) { fn(l) }

func (l *Linear) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	dst[joinPrefix(prefix, "weight")] = l.weight
	dst[joinPrefix(prefix, "bias")] = l.bias
}

func (l *Linear) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := loadInto(src, joinPrefix(prefix, "weight"), l.weight); err != nil {
		return err
	}
	return loadInto(src, joinPrefix(prefix, "bias"), l.bias)
}
