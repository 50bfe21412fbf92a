package optimizer

import (
	"math"
	"testing"

	"github.com/medvision/volseg/tensor"
)

// paramWithGrad returns a parameter holding value whose accumulated
// gradient equals grad on every element.
func paramWithGrad(t *testing.T, value, grad float32, n int) *tensor.Tensor {
	t.Helper()
	p := tensor.Full(value, n)
	p.SetRequiresGrad(true)
	loss := tensor.Sum(tensor.Scale(p, grad))
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	return p
}

func TestSGDVanillaStep(t *testing.T) {
	p := paramWithGrad(t, 1.0, 0.5, 3)
	sgd, err := NewSGDOptimizer(Config{LearningRate: 0.1}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	want := float32(1.0 - 0.1*0.5)
	for i, v := range p.Data {
		if math.Abs(float64(v-want)) > 1e-6 {
			t.Errorf("param[%d] = %f, want %f", i, v, want)
		}
	}
	if sgd.GetStepCount() != 1 {
		t.Errorf("step count = %d, want 1", sgd.GetStepCount())
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := paramWithGrad(t, 0, 1.0, 2)
	sgd, err := NewSGDOptimizer(Config{LearningRate: 0.1, Momentum: 0.9}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}

	// first step: buf = g, update = lr*g
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got, want := p.Data[0], float32(-0.1); math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("after step 1 param = %f, want %f", got, want)
	}

	// second step with the same gradient: buf = 0.9 + 1, update = lr*1.9
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if got, want := p.Data[0], float32(-0.1-0.1*1.9); math.Abs(float64(got-want)) > 1e-6 {
		t.Errorf("after step 2 param = %f, want %f", got, want)
	}
}

func TestSGDNesterovFirstStep(t *testing.T) {
	p := paramWithGrad(t, 0, 1.0, 1)
	sgd, err := NewSGDOptimizer(Config{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// g' = g + m*buf = (1+m)*g
	want := float32(-0.1 * 1.9)
	if math.Abs(float64(p.Data[0]-want)) > 1e-6 {
		t.Errorf("param = %f, want %f", p.Data[0], want)
	}
}

func TestSGDWeightDecay(t *testing.T) {
	p := paramWithGrad(t, 2.0, 0, 1)
	sgd, err := NewSGDOptimizer(Config{LearningRate: 0.1, WeightDecay: 0.5}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// effective gradient is wd*p = 1.0
	want := float32(2.0 - 0.1*1.0)
	if math.Abs(float64(p.Data[0]-want)) > 1e-6 {
		t.Errorf("param = %f, want %f", p.Data[0], want)
	}
}

func TestSGDZeroGradSkipsUpdate(t *testing.T) {
	p := paramWithGrad(t, 1.0, 1.0, 1)
	sgd, err := NewSGDOptimizer(Config{LearningRate: 0.1}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}

	sgd.ZeroGrad()
	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if p.Data[0] != 1.0 {
		t.Errorf("param moved without a gradient: %f", p.Data[0])
	}
}

func TestSGDStateRoundTrip(t *testing.T) {
	p := paramWithGrad(t, 1.0, 1.0, 4)
	src, err := NewSGDOptimizer(Config{LearningRate: 0.05, Momentum: 0.9, WeightDecay: 0.01}, []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}
	if err := src.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	state, err := src.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Type != "SGD" {
		t.Errorf("state type = %q, want SGD", state.Type)
	}

	q := tensor.Full(0, 4)
	q.SetRequiresGrad(true)
	dst, err := NewSGDOptimizer(Config{LearningRate: 0.5}, []*tensor.Tensor{q})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}
	if err := dst.LoadState(state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}

	if dst.LearningRate() != src.LearningRate() {
		t.Errorf("learning rate = %f, want %f", dst.LearningRate(), src.LearningRate())
	}
	if dst.Momentum != src.Momentum {
		t.Errorf("momentum = %f, want %f", dst.Momentum, src.Momentum)
	}
	if dst.GetStepCount() != 1 {
		t.Errorf("step count = %d, want 1", dst.GetStepCount())
	}
	for i := range src.MomentumBuffers[0] {
		if dst.MomentumBuffers[0][i] != src.MomentumBuffers[0][i] {
			t.Fatalf("momentum buffer differs at %d", i)
		}
	}
}

func TestSGDRejectsWrongStateType(t *testing.T) {
	p := tensor.Full(0, 1)
	sgd, err := NewSGDOptimizer(DefaultConfig(), []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewSGDOptimizer failed: %v", err)
	}

	adam, err := NewAdamOptimizer(DefaultConfig(), []*tensor.Tensor{p})
	if err != nil {
		t.Fatalf("NewAdamOptimizer failed: %v", err)
	}
	state, err := adam.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if err := sgd.LoadState(state); err == nil {
		t.Fatal("loaded Adam state into SGD")
	}
}

func TestSGDValidation(t *testing.T) {
	p := tensor.Full(0, 1)
	cases := []Config{
		{LearningRate: -1},
		{LearningRate: 0.1, Momentum: -0.5},
		{LearningRate: 0.1, Momentum: 1.5},
		{LearningRate: 0.1, WeightDecay: -1},
		{LearningRate: 0.1, Nesterov: true},
	}
	for i, cfg := range cases {
		if _, err := NewSGDOptimizer(cfg, []*tensor.Tensor{p}); err == nil {
			t.Errorf("case %d: invalid config accepted", i)
		}
	}
	if _, err := NewSGDOptimizer(DefaultConfig(), nil); err == nil {
		t.Error("accepted an empty parameter list")
	}
}

func TestNewDispatchesByName(t *testing.T) {
	p := tensor.Full(0, 1)
	if _, err := New("SGD", []*tensor.Tensor{p}, DefaultConfig()); err != nil {
		t.Errorf("New(SGD) failed: %v", err)
	}
	if _, err := New("adam", []*tensor.Tensor{p}, DefaultConfig()); err != nil {
		t.Errorf("New(adam) failed: %v", err)
	}
	if _, err := New("adagrad", []*tensor.Tensor{p}, DefaultConfig()); err == nil {
		t.Error("New accepted an unknown optimizer name")
	}
}
