package tensor

import (
	"fmt"
	"math/rand"
)

// New creates a tensor with the given shape wrapping data. When data is nil
// a zero-filled backing slice is allocated.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, n)
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)
	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor. It panics on an invalid shape; use New
// when the shape comes from untrusted input.
func Zeros(shape ...int) *Tensor {
	t, err := New(shape, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Full creates a tensor filled with value.
func Full(value float32, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = value
	}
	return t
}

// Ones creates a tensor filled with 1.
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// FromScalar wraps a single value in a 1-element tensor.
func FromScalar(value float32) *Tensor {
	t := Zeros(1)
	t.Data[0] = value
	return t
}

// Rand creates a tensor with uniform values in [0, 1) drawn from rng.
func Rand(rng *rand.Rand, shape ...int) *Tensor {
	t := Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = rng.Float32()
	}
	return t
}
