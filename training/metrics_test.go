package training

import (
	"math"
	"testing"

	"github.com/medvision/volseg/tensor"
)

func segPair(t *testing.T, probs, labels []float32) (*tensor.Tensor, *tensor.Tensor) {
	t.Helper()
	pred := tensor.Zeros(1, 2, 2, 2, 2)
	mask := tensor.Zeros(1, 1, 2, 2, 2)
	for v := 0; v < 8; v++ {
		pred.Data[v] = 1 - probs[v]
		pred.Data[8+v] = probs[v]
		mask.Data[v] = labels[v]
	}
	return pred, mask
}

func TestDiceScorePerfectPrediction(t *testing.T) {
	labels := []float32{0, 1, 1, 0, 1, 0, 0, 1}
	pred, mask := segPair(t, labels, labels)

	score, err := DiceScore(pred, mask)
	if err != nil {
		t.Fatalf("DiceScore failed: %v", err)
	}
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("score = %f, want 1", score)
	}
}

func TestDiceScoreDisjointPrediction(t *testing.T) {
	labels := []float32{0, 0, 0, 0, 1, 1, 1, 1}
	inverted := []float32{1, 1, 1, 1, 0, 0, 0, 0}
	pred, mask := segPair(t, inverted, labels)

	score, err := DiceScore(pred, mask)
	if err != nil {
		t.Fatalf("DiceScore failed: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %f, want 0", score)
	}
}

func TestDiceScoreEmptyForegroundAgreement(t *testing.T) {
	labels := []float32{0, 0, 0, 0, 0, 0, 0, 0}
	pred, mask := segPair(t, labels, labels)

	score, err := DiceScore(pred, mask)
	if err != nil {
		t.Fatalf("DiceScore failed: %v", err)
	}
	if score != 1 {
		t.Errorf("both-empty score = %f, want 1", score)
	}
}

func TestDiceScoreRejectsBadShapes(t *testing.T) {
	pred := tensor.Zeros(1, 2, 2, 2, 2)
	if _, err := DiceScore(pred, tensor.Zeros(1, 2, 2, 2, 2)); err == nil {
		t.Error("accepted a two-channel mask")
	}
	if _, err := DiceScore(tensor.Zeros(2, 2, 2), tensor.Zeros(1, 1, 2, 2, 2)); err == nil {
		t.Error("accepted a 3-D prediction")
	}

	outOfRange := tensor.Zeros(1, 1, 2, 2, 2)
	outOfRange.Data[0] = 9
	if _, err := DiceScore(pred, outOfRange); err == nil {
		t.Error("accepted an out-of-range label")
	}
}
