package nn

import (
	"math"

	"github.com/medvision/volseg/tensor"
)

// ConvTranspose3d is a 3-D transposed convolution layer over NCDHW input.
type ConvTranspose3d struct {
	weight   *tensor.Tensor // [in, out, k, k, k]
	bias     *tensor.Tensor // [out]
	stride   int
	padding  int
	training bool
}

// NewConvTranspose3d creates a ConvTranspose3d layer with a cubic kernel.
func NewConvTranspose3d(inChannels, outChannels, kernelSize, stride, padding int) *ConvTranspose3d {
	fanIn := float64(inChannels * kernelSize * kernelSize * kernelSize)
	scale := math.Sqrt(2.0 / fanIn)

	weight := tensor.Zeros(inChannels, outChannels, kernelSize, kernelSize, kernelSize)
	for i := range weight.Data {
		weight.Data[i] = float32(globalRng.NormFloat64() * scale)
	}
	weight.SetRequiresGrad(true)

	bias := tensor.Zeros(outChannels)
	bias.SetRequiresGrad(true)

	return &ConvTranspose3d{
		weight:   weight,
		bias:     bias,
		stride:   stride,
		padding:  padding,
		training: true,
	}
}

// Forward performs the transposed convolution.
func (c *ConvTranspose3d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ConvTranspose3D(input, c.weight, c.bias, c.stride, c.padding)
}

// Weight returns the kernel tensor.
func (c *ConvTranspose3d) Weight() *tensor.Tensor { return c.weight }

// Bias returns the bias tensor.
func (c *ConvTranspose3d) Bias() *tensor.Tensor { return c.bias }

func (c *ConvTranspose3d) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.weight, c.bias}
}

func (c *ConvTranspose3d) Train()           { c.training = true }
func (c *ConvTranspose3d) Eval()            { c.training = false }
func (c *ConvTranspose3d) IsTraining() bool { return c.training }
func (c *ConvTranspose3d) Kind() LayerKind  { return KindConvTranspose3D }

func (c *ConvTranspose3d) Visit(fn func(layer Module)) { fn(c) }

func (c *ConvTranspose3d) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	dst[joinPrefix(prefix, "weight")] = c.weight
	dst[joinPrefix(prefix, "bias")] = c.bias
}

func (c *ConvTranspose3d) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := loadInto(src, joinPrefix(prefix, "weight"), c.weight); err != nil {
		return err
	}
	return loadInto(src, joinPrefix(prefix, "bias"), c.bias)
}
