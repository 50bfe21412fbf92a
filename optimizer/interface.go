// Package optimizer implements gradient-descent parameter updates over the
// tensors a network exposes through Parameters().
package optimizer

import (
	"fmt"
	"strings"

	"github.com/medvision/volseg/checkpoints"
	"github.com/medvision/volseg/tensor"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step applies one update from the gradients currently accumulated
	// on the parameters.
	Step() error

	// ZeroGrad clears the accumulated gradients of all parameters.
	ZeroGrad()

	// GetState extracts optimizer state for checkpointing
	GetState() (*checkpoints.OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *checkpoints.OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)

	// LearningRate returns the current learning rate
	LearningRate() float32
}

// Config carries the union of hyperparameters the optimizers accept.
// Fields an optimizer does not use are ignored.
type Config struct {
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Nesterov     bool
	Beta1        float32
	Beta2        float32
	Epsilon      float32
}

// DefaultConfig returns the shared defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate: 0.01,
		Momentum:     0.9,
		WeightDecay:  0.0,
		Nesterov:     false,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// New builds an optimizer by name. Recognized names are "sgd" and "adam",
// case-insensitive.
func New(name string, params []*tensor.Tensor, config Config) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGDOptimizer(config, params)
	case "adam":
		return NewAdamOptimizer(config, params)
	default:
		return nil, fmt.Errorf("unknown optimizer %q, supported: sgd, adam", name)
	}
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *checkpoints.OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
