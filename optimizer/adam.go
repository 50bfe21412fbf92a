package optimizer

import (
	"fmt"
	"math"

	"github.com/medvision/volseg/checkpoints"
	"github.com/medvision/volseg/tensor"
)

// AdamOptimizerState holds Adam hyperparameters and the first and second
// moment estimates per parameter.
type AdamOptimizerState struct {
	learningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	params []*tensor.Tensor
	M      [][]float32 // first moment estimates
	V      [][]float32 // second moment estimates

	StepCount uint64
}

// NewAdamOptimizer creates a new Adam optimizer over the given parameters.
func NewAdamOptimizer(config Config, params []*tensor.Tensor) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must lie in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must lie in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizerState{
		learningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		params:       params,
		M:            make([][]float32, len(params)),
		V:            make([][]float32, len(params)),
	}
	for i, p := range params {
		adam.M[i] = make([]float32, len(p.Data))
		adam.V[i] = make([]float32, len(p.Data))
	}

	return adam, nil
}

// Step performs a single Adam optimization step
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++

	bc1 := 1 - float32(math.Pow(float64(adam.Beta1), float64(adam.StepCount)))
	bc2 := 1 - float32(math.Pow(float64(adam.Beta2), float64(adam.StepCount)))

	for i, p := range adam.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if len(grad.Data) != len(p.Data) {
			return fmt.Errorf("gradient size mismatch for parameter %d: %d vs %d",
				i, len(grad.Data), len(p.Data))
		}

		m, v := adam.M[i], adam.V[i]
		for j := range p.Data {
			g := grad.Data[j]
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * p.Data[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g

			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= adam.learningRate * mHat / (float32(math.Sqrt(float64(vHat))) + adam.Epsilon)
		}
	}

	return nil
}

// ZeroGrad clears the gradients of all parameters.
func (adam *AdamOptimizerState) ZeroGrad() {
	for _, p := range adam.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(newLR float32) {
	adam.learningRate = newLR
}

// LearningRate returns the current learning rate
func (adam *AdamOptimizerState) LearningRate() float32 {
	return adam.learningRate
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*checkpoints.OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, 2*len(adam.params))
	for i := range adam.params {
		stateData = append(stateData,
			extractBufferState(adam.M[i], fmt.Sprintf("m_%d", i), "m"),
			extractBufferState(adam.V[i], fmt.Sprintf("v_%d", i), "v"))
	}

	return &checkpoints.OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.learningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    adam.StepCount,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *checkpoints.OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.learningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.learningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)

	for _, t := range state.StateData {
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		var buffer []float32
		switch t.StateType {
		case "m":
			buffer = adam.M[idx]
		case "v":
			buffer = adam.V[idx]
		default:
			continue
		}
		if err := restoreBufferState(buffer, t.Data, t.Name); err != nil {
			return err
		}
	}

	return nil
}
