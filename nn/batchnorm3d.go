package nn

import (
	"github.com/medvision/volseg/tensor"
)

// BatchNorm3d normalizes NCDHW input per channel. Normalization always uses
// batch statistics, matching the sub-volume training regime; running
// statistics are tracked for checkpointing only.
type BatchNorm3d struct {
	numFeatures int
	eps         float64
	momentum    float64
	gamma       *tensor.Tensor
	beta        *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
	training    bool
}

// NewBatchNorm3d creates a BatchNorm3d layer with gamma=1, beta=0.
func NewBatchNorm3d(numFeatures int) *BatchNorm3d {
	gamma := tensor.Ones(numFeatures)
	gamma.SetRequiresGrad(true)
	beta := tensor.Zeros(numFeatures)
	beta.SetRequiresGrad(true)

	return &BatchNorm3d{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		gamma:       gamma,
		beta:        beta,
		runningMean: tensor.Zeros(numFeatures),
		runningVar:  tensor.Ones(numFeatures),
		training:    true,
	}
}

// Forward performs batch normalization.
func (bn *BatchNorm3d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BatchNorm3D(input, bn.gamma, bn.beta, bn.runningMean, bn.runningVar, bn.training, bn.momentum, bn.eps)
}

// Gamma returns the scale parameter.
func (bn *BatchNorm3d) Gamma() *tensor.Tensor { return bn.gamma }

// Beta returns the shift parameter.
func (bn *BatchNorm3d) Beta() *tensor.Tensor { return bn.beta }

func (bn *BatchNorm3d) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{bn.gamma, bn.beta}
}

func (bn *BatchNorm3d) Train()           { bn.training = true }
func (bn *BatchNorm3d) Eval()            { bn.training = false }
func (bn *BatchNorm3d) IsTraining() bool { return bn.training }
func (bn *BatchNorm3d) Kind() LayerKind  { return KindBatchNorm3D }

func (bn *BatchNorm3d) Visit(fn func(layer Module)) { fn(bn) }

func (bn *BatchNorm3d) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	dst[joinPrefix(prefix, "weight")] = bn.gamma
	dst[joinPrefix(prefix, "bias")] = bn.beta
	dst[joinPrefix(prefix, "running_mean")] = bn.runningMean
	dst[joinPrefix(prefix, "running_var")] = bn.runningVar
}

func (bn *BatchNorm3d) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := loadInto(src, joinPrefix(prefix, "weight"), bn.gamma); err != nil {
		return err
	}
	if err := loadInto(src, joinPrefix(prefix, "bias"), bn.beta); err != nil {
		return err
	}
	if err := loadInto(src, joinPrefix(prefix, "running_mean"), bn.runningMean); err != nil {
		return err
	}
	return loadInto(src, joinPrefix(prefix, "running_var"), bn.runningVar)
}
