package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Add performs elementwise addition of two same-shape tensors.
func Add(a, b *Tensor) (*Tensor, error) {
	if !shapesEqual(a.Shape, b.Shape) {
		return nil, fmt.Errorf("Add shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	attachNode(out, func(gradOut *Tensor) {
		if a.requiresGrad {
			accumulateGrad(a, gradOut)
		}
		if b.requiresGrad {
			accumulateGrad(b, gradOut)
		}
	}, a, b)
	return out, nil
}

// Scale multiplies every element by s.
func Scale(a *Tensor, s float32) *Tensor {
	out := Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = a.Data[i] * s
	}
	attachNode(out, func(gradOut *Tensor) {
		g := Zeros(a.Shape...)
		for i := range g.Data {
			g.Data[i] = gradOut.Data[i] * s
		}
		accumulateGrad(a, g)
	}, a)
	return out
}

// Sum reduces a tensor to a scalar by summing all elements.
func Sum(a *Tensor) *Tensor {
	var sum float32
	for _, v := range a.Data {
		sum += v
	}
	out := FromScalar(sum)
	attachNode(out, func(gradOut *Tensor) {
		g := Full(gradOut.Data[0], a.Shape...)
		accumulateGrad(a, g)
	}, a)
	return out
}

// WeightedSum combines scalar loss terms into one scalar: sum(w[i]*terms[i]).
// Term and weight counts must match.
func WeightedSum(terms []*Tensor, weights []float64) (*Tensor, error) {
	if len(terms) != len(weights) {
		return nil, fmt.Errorf("term count %d does not match weight count %d", len(terms), len(weights))
	}
	var total float32
	for i, t := range terms {
		if t.NumElems != 1 {
			return nil, fmt.Errorf("term %d is not scalar, shape %v", i, t.Shape)
		}
		total += float32(weights[i]) * t.Data[0]
	}
	out := FromScalar(total)
	parents := make([]*Tensor, len(terms))
	copy(parents, terms)
	attachNode(out, func(gradOut *Tensor) {
		for i, t := range terms {
			if !t.requiresGrad {
				continue
			}
			accumulateGrad(t, FromScalar(gradOut.Data[0]*float32(weights[i])))
		}
	}, parents...)
	return out, nil
}

// ReLU applies max(x, 0) elementwise.
func ReLU(a *Tensor) *Tensor {
	out := Zeros(a.Shape...)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	attachNode(out, func(gradOut *Tensor) {
		g := Zeros(a.Shape...)
		for i, v := range a.Data {
			if v > 0 {
				g.Data[i] = gradOut.Data[i]
			}
		}
		accumulateGrad(a, g)
	}, a)
	return out
}

// ELU applies the exponential linear unit with alpha=1.
func ELU(a *Tensor) *Tensor {
	out := Zeros(a.Shape...)
	for i, v := range a.Data {
		if v > 0 {
			out.Data[i] = v
		} else {
			out.Data[i] = float32(math.Exp(float64(v)) - 1)
		}
	}
	attachNode(out, func(gradOut *Tensor) {
		g := Zeros(a.Shape...)
		for i, v := range a.Data {
			if v > 0 {
				g.Data[i] = gradOut.Data[i]
			} else {
				// d/dx elu(x) = elu(x) + 1 for x <= 0
				g.Data[i] = gradOut.Data[i] * (out.Data[i] + 1)
			}
		}
		accumulateGrad(a, g)
	}, a)
	return out
}

// ConcatChannel concatenates two 5-D tensors along the channel axis.
// Batch and spatial extents must match.
func ConcatChannel(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 5 || len(b.Shape) != 5 {
		return nil, fmt.Errorf("ConcatChannel expects 5-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	for _, dim := range []int{0, 2, 3, 4} {
		if a.Shape[dim] != b.Shape[dim] {
			return nil, fmt.Errorf("ConcatChannel non-channel extents differ: %v vs %v", a.Shape, b.Shape)
		}
	}
	batch, ca, cb := a.Shape[0], a.Shape[1], b.Shape[1]
	spatial := a.Shape[2] * a.Shape[3] * a.Shape[4]
	out := Zeros(batch, ca+cb, a.Shape[2], a.Shape[3], a.Shape[4])

	for n := 0; n < batch; n++ {
		copy(out.Data[n*(ca+cb)*spatial:], a.Data[n*ca*spatial:(n+1)*ca*spatial])
		copy(out.Data[(n*(ca+cb)+ca)*spatial:], b.Data[n*cb*spatial:(n+1)*cb*spatial])
	}
	attachNode(out, func(gradOut *Tensor) {
		if a.requiresGrad {
			g := Zeros(a.Shape...)
			for n := 0; n < batch; n++ {
				copy(g.Data[n*ca*spatial:], gradOut.Data[n*(ca+cb)*spatial:n*(ca+cb)*spatial+ca*spatial])
			}
			accumulateGrad(a, g)
		}
		if b.requiresGrad {
			g := Zeros(b.Shape...)
			for n := 0; n < batch; n++ {
				copy(g.Data[n*cb*spatial:], gradOut.Data[(n*(ca+cb)+ca)*spatial:(n*(ca+cb)+ca)*spatial+cb*spatial])
			}
			accumulateGrad(b, g)
		}
	}, a, b)
	return out, nil
}

// SoftmaxChannel applies softmax across the channel axis of a 5-D tensor,
// producing per-voxel class probabilities.
func SoftmaxChannel(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 5 {
		return nil, fmt.Errorf("SoftmaxChannel expects 5-D input, got shape %v", a.Shape)
	}
	batch, channels := a.Shape[0], a.Shape[1]
	spatial := a.Shape[2] * a.Shape[3] * a.Shape[4]
	out := Zeros(a.Shape...)

	for n := 0; n < batch; n++ {
		base := n * channels * spatial
		for s := 0; s < spatial; s++ {
			// max over channels for numerical stability
			maxVal := a.Data[base+s]
			for c := 1; c < channels; c++ {
				if v := a.Data[base+c*spatial+s]; v > maxVal {
					maxVal = v
				}
			}
			var sum float32
			for c := 0; c < channels; c++ {
				e := float32(math.Exp(float64(a.Data[base+c*spatial+s] - maxVal)))
				out.Data[base+c*spatial+s] = e
				sum += e
			}
			for c := 0; c < channels; c++ {
				out.Data[base+c*spatial+s] /= sum
			}
		}
	}
	attachNode(out, func(gradOut *Tensor) {
		g := Zeros(a.Shape...)
		for n := 0; n < batch; n++ {
			base := n * channels * spatial
			for s := 0; s < spatial; s++ {
				var dot float32
				for c := 0; c < channels; c++ {
					idx := base + c*spatial + s
					dot += gradOut.Data[idx] * out.Data[idx]
				}
				for c := 0; c < channels; c++ {
					idx := base + c*spatial + s
					g.Data[idx] = out.Data[idx] * (gradOut.Data[idx] - dot)
				}
			}
		}
		accumulateGrad(a, g)
	}, a)
	return out, nil
}

// Dropout3d zeroes whole channels of a 5-D tensor with probability p and
// scales survivors by 1/(1-p). In eval mode (training=false) it is the
// identity.
func Dropout3d(a *Tensor, p float64, training bool, rng *rand.Rand) (*Tensor, error) {
	if len(a.Shape) != 5 {
		return nil, fmt.Errorf("Dropout3d expects 5-D input, got shape %v", a.Shape)
	}
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("Dropout3d probability must be in [0, 1), got %v", p)
	}
	if !training || p == 0 {
		out := a.Clone()
		attachNode(out, func(gradOut *Tensor) {
			accumulateGrad(a, gradOut)
		}, a)
		return out, nil
	}

	batch, channels := a.Shape[0], a.Shape[1]
	spatial := a.Shape[2] * a.Shape[3] * a.Shape[4]
	keep := make([]bool, batch*channels)
	scale := float32(1 / (1 - p))
	for i := range keep {
		keep[i] = rng.Float64() >= p
	}

	out := Zeros(a.Shape...)
	for nc := 0; nc < batch*channels; nc++ {
		if !keep[nc] {
			continue
		}
		base := nc * spatial
		for s := 0; s < spatial; s++ {
			out.Data[base+s] = a.Data[base+s] * scale
		}
	}
	attachNode(out, func(gradOut *Tensor) {
		g := Zeros(a.Shape...)
		for nc := 0; nc < batch*channels; nc++ {
			if !keep[nc] {
				continue
			}
			base := nc * spatial
			for s := 0; s < spatial; s++ {
				g.Data[base+s] = gradOut.Data[base+s] * scale
			}
		}
		accumulateGrad(a, g)
	}, a)
	return out, nil
}

// AddRowBias adds a bias vector to every row of a 2-D tensor.
func AddRowBias(a, bias *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(bias.Shape) != 1 || bias.Shape[0] != a.Shape[1] {
		return nil, fmt.Errorf("AddRowBias expects [batch, n] and [n], got %v and %v", a.Shape, bias.Shape)
	}
	batch, features := a.Shape[0], a.Shape[1]
	out := Zeros(batch, features)
	for i := 0; i < batch; i++ {
		for j := 0; j < features; j++ {
			out.Data[i*features+j] = a.Data[i*features+j] + bias.Data[j]
		}
	}
	attachNode(out, func(gradOut *Tensor) {
		if a.requiresGrad {
			accumulateGrad(a, gradOut)
		}
		if bias.requiresGrad {
			g := Zeros(bias.Shape...)
			for i := 0; i < batch; i++ {
				for j := 0; j < features; j++ {
					g.Data[j] += gradOut.Data[i*features+j]
				}
			}
			accumulateGrad(bias, g)
		}
	}, a, bias)
	return out, nil
}
