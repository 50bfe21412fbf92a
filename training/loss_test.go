package training

import (
	"math"
	"testing"

	"github.com/medvision/volseg/config"
	"github.com/medvision/volseg/tensor"
)

func TestBuildLossTermsOrderAndNames(t *testing.T) {
	cfg := config.LossConfig{
		Name:       []string{"Dice", "Focal", "Boundary"},
		LossWeight: []float32{0.5, 0.3, 0.2},
		FocalGamma: 2,
		Level:      1,
		KMax:       4,
	}
	terms, weights, err := BuildLossTerms(cfg)
	if err != nil {
		t.Fatalf("BuildLossTerms failed: %v", err)
	}
	if len(terms) != 3 || len(weights) != 3 {
		t.Fatalf("got %d terms and %d weights, want 3 each", len(terms), len(weights))
	}
	for i, want := range []string{"Dice", "Focal", "Boundary"} {
		if terms[i].Name() != want {
			t.Errorf("term %d = %q, want %q", i, terms[i].Name(), want)
		}
	}
}

func TestBuildLossTermsWeightMismatchIsFatal(t *testing.T) {
	// the mismatch must surface at construction, before any forward pass
	cfg := config.LossConfig{
		Name:       []string{"Dice", "Focal"},
		LossWeight: []float32{1},
	}
	if _, _, err := BuildLossTerms(cfg); err == nil {
		t.Fatal("accepted 2 terms with 1 weight")
	}
}

func TestBuildLossTermsUnknownTag(t *testing.T) {
	cfg := config.LossConfig{
		Name:       []string{"Hausdorff"},
		LossWeight: []float32{1},
	}
	if _, _, err := BuildLossTerms(cfg); err == nil {
		t.Fatal("accepted an unknown loss tag")
	}
}

func TestCalculateLossCombinesTerms(t *testing.T) {
	cfg := config.LossConfig{
		Name:       []string{"Dice", "Focal"},
		LossWeight: []float32{0.75, 0.25},
		FocalGamma: 2,
	}
	terms, weights, err := BuildLossTerms(cfg)
	if err != nil {
		t.Fatalf("BuildLossTerms failed: %v", err)
	}

	pred := tensor.Zeros(1, 2, 2, 2, 2)
	mask := tensor.Zeros(1, 1, 2, 2, 2)
	for v := 0; v < 8; v++ {
		label := float32(v % 2)
		mask.Data[v] = label
		p := float32(0.7)
		if label == 0 {
			p = 0.3
		}
		pred.Data[v] = 1 - p
		pred.Data[8+v] = p
	}

	total, individual, err := CalculateLoss(terms, weights, pred, mask)
	if err != nil {
		t.Fatalf("CalculateLoss failed: %v", err)
	}
	if len(individual) != 2 {
		t.Fatalf("got %d individual values, want 2", len(individual))
	}

	want := 0.75*float64(individual[0]) + 0.25*float64(individual[1])
	if math.Abs(float64(total.Data[0])-want) > 1e-5 {
		t.Errorf("total = %f, want weighted sum %f", total.Data[0], want)
	}
}

func TestCalculateLossPropagatesGradients(t *testing.T) {
	terms := []Loss{NewMultiDiceLoss(nil)}
	weights := []float32{1}

	pred := tensor.Zeros(1, 2, 2, 2, 2)
	mask := tensor.Zeros(1, 1, 2, 2, 2)
	for v := 0; v < 8; v++ {
		mask.Data[v] = float32(v % 2)
		pred.Data[v] = 0.6
		pred.Data[8+v] = 0.4
	}
	pred.SetRequiresGrad(true)

	total, _, err := CalculateLoss(terms, weights, pred, mask)
	if err != nil {
		t.Fatalf("CalculateLoss failed: %v", err)
	}
	if err := total.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if pred.Grad() == nil {
		t.Fatal("no gradient reached the prediction")
	}
	var nonzero int
	for _, g := range pred.Grad().Data {
		if g != 0 {
			nonzero++
		}
	}
	if nonzero == 0 {
		t.Error("gradient is identically zero")
	}
}
