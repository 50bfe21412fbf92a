package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MatMul multiplies two 2-D tensors: [m, k] x [k, n] -> [m, n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul expects 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("MatMul inner dimensions differ: %v vs %v", a.Shape, b.Shape)
	}
	m, n := a.Shape[0], b.Shape[1]

	am := toDense(a.Data, a.Shape[0], a.Shape[1])
	bm := toDense(b.Data, b.Shape[0], b.Shape[1])
	var y mat.Dense
	y.Mul(am, bm)

	out := Zeros(m, n)
	fromDense(&y, out.Data)

	attachNode(out, func(gradOut *Tensor) {
		g := toDense(gradOut.Data, m, n)
		if a.requiresGrad {
			var ga mat.Dense
			ga.Mul(g, bm.T())
			gt := Zeros(a.Shape...)
			fromDense(&ga, gt.Data)
			accumulateGrad(a, gt)
		}
		if b.requiresGrad {
			var gb mat.Dense
			gb.Mul(am.T(), g)
			gt := Zeros(b.Shape...)
			fromDense(&gb, gt.Data)
			accumulateGrad(b, gt)
		}
	}, a, b)
	return out, nil
}
