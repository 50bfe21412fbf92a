package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func fillRand(t *Tensor, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
}

// numericalGrad perturbs one element of leaf and re-evaluates f.
func numericalGrad(t *testing.T, leaf *Tensor, idx int, f func() float64) float64 {
	t.Helper()
	const h = 1e-2
	orig := leaf.Data[idx]
	leaf.Data[idx] = orig + h
	plus := f()
	leaf.Data[idx] = orig - h
	minus := f()
	leaf.Data[idx] = orig
	return (plus - minus) / (2 * h)
}

func TestConv3DForwardKnownValues(t *testing.T) {
	// 1x1x2x2x2 input, all-ones 2x2x2 kernel, bias 0.5: output sums the
	// input cube and adds the bias.
	input := Zeros(1, 1, 2, 2, 2)
	for i := range input.Data {
		input.Data[i] = float32(i + 1)
	}
	weight := Ones(1, 1, 2, 2, 2)
	bias := Full(0.5, 1)

	out, err := Conv3D(input, weight, bias, 1, 0)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}
	if !shapesEqual(out.Shape, []int{1, 1, 1, 1, 1}) {
		t.Fatalf("output shape = %v, want [1 1 1 1 1]", out.Shape)
	}
	if got, want := out.Data[0], float32(36.5); got != want {
		t.Errorf("output = %f, want %f", got, want)
	}
}

func TestConv3DStrideHalvesExtents(t *testing.T) {
	input := Zeros(1, 3, 8, 8, 8)
	weight := Zeros(6, 3, 2, 2, 2)
	bias := Zeros(6)

	out, err := Conv3D(input, weight, bias, 2, 0)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}
	if !shapesEqual(out.Shape, []int{1, 6, 4, 4, 4}) {
		t.Fatalf("output shape = %v, want [1 6 4 4 4]", out.Shape)
	}
}

func TestConv3DGradientsMatchNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	input := Zeros(1, 2, 3, 3, 3)
	weight := Zeros(2, 2, 3, 3, 3)
	bias := Zeros(2)
	fillRand(input, rng)
	fillRand(weight, rng)
	fillRand(bias, rng)
	input.SetRequiresGrad(true)
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)

	eval := func() float64 {
		out, err := Conv3D(input, weight, bias, 1, 1)
		if err != nil {
			t.Fatalf("Conv3D failed: %v", err)
		}
		var sum float64
		for _, v := range out.Data {
			sum += float64(v)
		}
		return sum
	}

	out, err := Conv3D(input, weight, bias, 1, 1)
	if err != nil {
		t.Fatalf("Conv3D failed: %v", err)
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	checks := []struct {
		name string
		leaf *Tensor
		idx  int
	}{
		{"input", input, 5},
		{"input", input, 40},
		{"weight", weight, 0},
		{"weight", weight, 30},
		{"bias", bias, 1},
	}
	for _, c := range checks {
		want := numericalGrad(t, c.leaf, c.idx, eval)
		got := float64(c.leaf.Grad().Data[c.idx])
		if math.Abs(got-want) > 1e-2*math.Max(1, math.Abs(want)) {
			t.Errorf("%s grad[%d] = %f, numerical %f", c.name, c.idx, got, want)
		}
	}
}

func TestConvTranspose3DDoublesExtents(t *testing.T) {
	input := Zeros(1, 4, 3, 3, 3)
	weight := Zeros(4, 2, 2, 2, 2)
	bias := Zeros(2)

	out, err := ConvTranspose3D(input, weight, bias, 2, 0)
	if err != nil {
		t.Fatalf("ConvTranspose3D failed: %v", err)
	}
	if !shapesEqual(out.Shape, []int{1, 2, 6, 6, 6}) {
		t.Fatalf("output shape = %v, want [1 2 6 6 6]", out.Shape)
	}
}

func TestConvTranspose3DGradientsMatchNumerical(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	input := Zeros(1, 2, 2, 2, 2)
	weight := Zeros(2, 3, 2, 2, 2)
	bias := Zeros(3)
	fillRand(input, rng)
	fillRand(weight, rng)
	fillRand(bias, rng)
	input.SetRequiresGrad(true)
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)

	eval := func() float64 {
		out, err := ConvTranspose3D(input, weight, bias, 2, 0)
		if err != nil {
			t.Fatalf("ConvTranspose3D failed: %v", err)
		}
		var sum float64
		for _, v := range out.Data {
			sum += float64(v)
		}
		return sum
	}

	out, err := ConvTranspose3D(input, weight, bias, 2, 0)
	if err != nil {
		t.Fatalf("ConvTranspose3D failed: %v", err)
	}
	if err := Sum(out).Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for _, leaf := range []struct {
		name string
		t    *Tensor
		idx  int
	}{
		{"input", input, 3},
		{"weight", weight, 10},
		{"bias", bias, 2},
	} {
		want := numericalGrad(t, leaf.t, leaf.idx, eval)
		got := float64(leaf.t.Grad().Data[leaf.idx])
		if math.Abs(got-want) > 1e-2*math.Max(1, math.Abs(want)) {
			t.Errorf("%s grad[%d] = %f, numerical %f", leaf.name, leaf.idx, got, want)
		}
	}
}

func TestBatchNorm3DNormalizesWithBatchStatistics(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	input := Zeros(2, 3, 2, 2, 2)
	fillRand(input, rng)
	gamma := Ones(3)
	beta := Zeros(3)
	runningMean := Zeros(3)
	runningVar := Ones(3)

	out, err := BatchNorm3D(input, gamma, beta, runningMean, runningVar, true, 0.1, 1e-5)
	if err != nil {
		t.Fatalf("BatchNorm3D failed: %v", err)
	}

	batch, channels := out.Shape[0], out.Shape[1]
	spatial := out.Shape[2] * out.Shape[3] * out.Shape[4]
	for c := 0; c < channels; c++ {
		var mean, variance float64
		count := float64(batch * spatial)
		for n := 0; n < batch; n++ {
			for s := 0; s < spatial; s++ {
				mean += float64(out.Data[(n*channels+c)*spatial+s])
			}
		}
		mean /= count
		for n := 0; n < batch; n++ {
			for s := 0; s < spatial; s++ {
				d := float64(out.Data[(n*channels+c)*spatial+s]) - mean
				variance += d * d
			}
		}
		variance /= count

		if math.Abs(mean) > 1e-4 {
			t.Errorf("channel %d mean = %f, want ~0", c, mean)
		}
		if math.Abs(variance-1) > 1e-2 {
			t.Errorf("channel %d variance = %f, want ~1", c, variance)
		}
	}

	// training mode must move the running statistics off their defaults
	moved := false
	for c := 0; c < channels; c++ {
		if runningMean.Data[c] != 0 || runningVar.Data[c] != 1 {
			moved = true
		}
	}
	if !moved {
		t.Error("running statistics were not updated in training mode")
	}
}
