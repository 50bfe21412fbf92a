package optimizer

import (
	"math"
	"testing"

	"github.com/medvision/volseg/tensor"
)

func TestAdamFirstStepIsBiasCorrected(t *testing.T) {
	p := paramWithGrad(t, 1.0, 0.5, 2)
	cfg := Config{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
	adam, err := NewAdamOptimizer(cfg, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}

	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// after bias correction the first step moves by lr * g/(|g| + eps),
	// independent of the betas
	g := 0.5
	want := 1.0 - 0.1*g/(math.Abs(g)+1e-8)
	for i, v := range p.Data {
		if math.Abs(float64(v)-want) > 1e-5 {
			t.Errorf("param[%d] = %f, want %f", i, v, want)
		}
	}
}

func TestAdamMomentBuffersTrackGradient(t *testing.T) {
	p := paramWithGrad(t, 0, 2.0, 1)
	cfg := Config{LearningRate: 0.01, Beta1: 0.9, Beta2: 0.99, Epsilon: 1e-8}
	adam, err := NewAdamOptimizer(cfg, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	if got, want := adam.M[0][0], float32((1-0.9)*2.0); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("first moment = %f, want %f", got, want)
	}
	if got, want := adam.V[0][0], float32((1-0.99)*4.0); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("second moment = %f, want %f", got, want)
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := paramWithGrad(t, 1.0, 0.3, 3)
	cfg := Config{LearningRate: 0.02, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: 0.01}
	src, err := NewAdamOptimizer(cfg, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	if err := src.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	state, err := src.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "Adam" {
		t.Errorf("state type = %q, want Adam", state.Type)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("state tensors = %d, want 2 (m and v)", len(state.StateData))
	}

	q := tensor.Full(0, 3)
	dst, err := NewAdamOptimizer(DefaultConfig(), []*tensor.Tensor{q})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	if err := dst.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if dst.LearningRate() != src.LearningRate() {
		t.Errorf("learning rate = %f, want %f", dst.LearningRate(), src.LearningRate())
	}
	if dst.GetStepCount() != src.GetStepCount() {
		t.Errorf("step count = %d, want %d", dst.GetStepCount(), src.GetStepCount())
	}
	for i := range src.M[0] {
		if dst.M[0][i] != src.M[0][i] {
			t.Fatalf("first moment differs at %d", i)
		}
		if dst.V[0][i] != src.V[0][i] {
			t.Fatalf("second moment differs at %d", i)
		}
	}
}

func TestAdamValidation(t *testing.T) {
	p := tensor.Full(0, 1)
	cases := []Config{
		{LearningRate: -1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 1.0, Beta2: 0.999, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: -0.1, Epsilon: 1e-8},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 0},
		{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8, WeightDecay: -1},
	}
	for i, cfg := range cases {
		if _, err := NewAdamOptimizer(cfg, []*tensor.Tensor{p}); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
}
