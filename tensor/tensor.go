package tensor

import (
	"fmt"
)

// Tensor is a dense float32 tensor in row-major (NCDHW for volumes) layout.
// Tensors participating in autograd carry a backward closure and the list
// of parent tensors the closure propagates gradients into.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	parents      []*Tensor
	backward     func(gradOut *Tensor)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// RequiresGrad reports whether gradients are tracked for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks this tensor as a leaf that accumulates gradients.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Clone returns a deep copy of the tensor data. The copy does not carry
// autograd history.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, _ := New(t.Shape, data)
	return out
}

// CopyFrom overwrites the tensor data in place from src. Shapes must match.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !shapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// Item returns the single element of a scalar tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a scalar tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
