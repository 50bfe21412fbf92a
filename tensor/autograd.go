package tensor

import (
	"fmt"
)

// accumulateGrad adds g into t's gradient buffer, allocating it on first use.
func accumulateGrad(t *Tensor, g *Tensor) {
	if t.grad == nil {
		t.grad = g.Clone()
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] += g.Data[i]
	}
}

// anyRequiresGrad reports whether any of the tensors tracks gradients.
func anyRequiresGrad(tensors ...*Tensor) bool {
	for _, t := range tensors {
		if t != nil && t.requiresGrad {
			return true
		}
	}
	return false
}

// attachNode wires out into the autograd graph with the given parents and
// backward closure. No-op when none of the parents requires gradients.
func attachNode(out *Tensor, backward func(gradOut *Tensor), parents ...*Tensor) {
	live := make([]*Tensor, 0, len(parents))
	for _, p := range parents {
		if p != nil && p.requiresGrad {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return
	}
	out.requiresGrad = true
	out.parents = live
	out.backward = backward
}

// Backward runs reverse-mode differentiation from a scalar tensor,
// accumulating gradients into every reachable leaf that requires them.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar tensor, got shape %v", t.Shape)
	}
	if !t.requiresGrad {
		return fmt.Errorf("Backward called on a tensor that does not require gradients")
	}

	order := topoSort(t)
	t.grad = Ones(1)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.backward == nil || node.grad == nil {
			continue
		}
		node.backward(node.grad)
	}
	return nil
}

// topoSort returns the autograd graph in topological order ending at root.
func topoSort(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(t *Tensor)
	visit = func(t *Tensor) {
		if visited[t] {
			return
		}
		visited[t] = true
		for _, p := range t.parents {
			visit(p)
		}
		order = append(order, t)
	}
	visit(root)
	return order
}
