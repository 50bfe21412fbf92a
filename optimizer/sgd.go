package optimizer

import (
	"fmt"

	"github.com/medvision/volseg/checkpoints"
	"github.com/medvision/volseg/tensor"
)

// SGDOptimizerState holds SGD hyperparameters and momentum buffers.
type SGDOptimizerState struct {
	learningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	params          []*tensor.Tensor
	MomentumBuffers [][]float32 // only allocated when momentum > 0

	StepCount uint64
}

// NewSGDOptimizer creates a new SGD optimizer over the given parameters.
func NewSGDOptimizer(config Config, params []*tensor.Tensor) (*SGDOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0")
	}

	sgd := &SGDOptimizerState{
		learningRate: config.LearningRate,
		Momentum:     config.Momentum,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
	}

	if config.Momentum > 0 {
		sgd.MomentumBuffers = make([][]float32, len(params))
		for i, p := range params {
			sgd.MomentumBuffers[i] = make([]float32, len(p.Data))
		}
	}

	return sgd, nil
}

// Step performs a single SGD optimization step
func (sgd *SGDOptimizerState) Step() error {
	sgd.StepCount++

	for i, p := range sgd.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if len(grad.Data) != len(p.Data) {
			return fmt.Errorf("gradient size mismatch for parameter %d: %d vs %d",
				i, len(grad.Data), len(p.Data))
		}

		for j := range p.Data {
			g := grad.Data[j]
			if sgd.WeightDecay != 0 {
				g += sgd.WeightDecay * p.Data[j]
			}
			if sgd.Momentum > 0 {
				buf := sgd.MomentumBuffers[i]
				buf[j] = sgd.Momentum*buf[j] + g
				if sgd.Nesterov {
					g += sgd.Momentum * buf[j]
				} else {
					g = buf[j]
				}
			}
			p.Data[j] -= sgd.learningRate * g
		}
	}

	return nil
}

// ZeroGrad clears the gradients of all parameters.
func (sgd *SGDOptimizerState) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(newLR float32) {
	sgd.learningRate = newLR
}

// LearningRate returns the current learning rate
func (sgd *SGDOptimizerState) LearningRate() float32 {
	return sgd.learningRate
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.MomentumBuffers))

	if sgd.Momentum > 0 {
		for i, buffer := range sgd.MomentumBuffers {
			stateData = append(stateData,
				extractBufferState(buffer, fmt.Sprintf("momentum_%d", i), "momentum"))
		}
	}

	return &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.learningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_count":    sgd.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.learningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.learningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	if sgd.Momentum > 0 && sgd.MomentumBuffers == nil {
		sgd.MomentumBuffers = make([][]float32, len(sgd.params))
		for i, p := range sgd.params {
			sgd.MomentumBuffers[i] = make([]float32, len(p.Data))
		}
	}

	for _, t := range state.StateData {
		if t.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		if sgd.MomentumBuffers == nil {
			return fmt.Errorf("momentum buffer %d not allocated", idx)
		}
		if err := restoreBufferState(sgd.MomentumBuffers[idx], t.Data, t.Name); err != nil {
			return err
		}
	}

	return nil
}
