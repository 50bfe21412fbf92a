package tensor

import (
	"gonum.org/v1/gonum/mat"
)

// pointwiseConv3D computes a 1x1x1 stride-1 convolution as a channel-mixing
// matrix multiply: for each batch item, Out = W (Cout x Cin) * X (Cin x S).
func pointwiseConv3D(input, weight, bias *Tensor) (*Tensor, error) {
	batch := input.Shape[0]
	inChannels := input.Shape[1]
	outChannels := weight.Shape[0]
	spatial := input.Shape[2] * input.Shape[3] * input.Shape[4]

	w := toDense(weight.Data, outChannels, inChannels)
	out := Zeros(batch, outChannels, input.Shape[2], input.Shape[3], input.Shape[4])

	for n := 0; n < batch; n++ {
		x := toDense(input.Data[n*inChannels*spatial:(n+1)*inChannels*spatial], inChannels, spatial)
		var y mat.Dense
		y.Mul(w, x)
		fromDense(&y, out.Data[n*outChannels*spatial:(n+1)*outChannels*spatial])
		if bias != nil {
			for oc := 0; oc < outChannels; oc++ {
				base := (n*outChannels + oc) * spatial
				b := bias.Data[oc]
				for s := 0; s < spatial; s++ {
					out.Data[base+s] += b
				}
			}
		}
	}

	attachNode(out, func(gradOut *Tensor) {
		if input.requiresGrad {
			gInput := Zeros(input.Shape...)
			for n := 0; n < batch; n++ {
				g := toDense(gradOut.Data[n*outChannels*spatial:(n+1)*outChannels*spatial], outChannels, spatial)
				var gx mat.Dense
				gx.Mul(w.T(), g)
				fromDense(&gx, gInput.Data[n*inChannels*spatial:(n+1)*inChannels*spatial])
			}
			accumulateGrad(input, gInput)
		}
		if weight.requiresGrad {
			gWeight := Zeros(weight.Shape...)
			gw := mat.NewDense(outChannels, inChannels, nil)
			for n := 0; n < batch; n++ {
				g := toDense(gradOut.Data[n*outChannels*spatial:(n+1)*outChannels*spatial], outChannels, spatial)
				x := toDense(input.Data[n*inChannels*spatial:(n+1)*inChannels*spatial], inChannels, spatial)
				var gwn mat.Dense
				gwn.Mul(g, x.T())
				gw.Add(gw, &gwn)
			}
			fromDense(gw, gWeight.Data)
			accumulateGrad(weight, gWeight)
		}
		if bias != nil && bias.requiresGrad {
			gBias := Zeros(bias.Shape...)
			for n := 0; n < batch; n++ {
				for oc := 0; oc < outChannels; oc++ {
					base := (n*outChannels + oc) * spatial
					for s := 0; s < spatial; s++ {
						gBias.Data[oc] += gradOut.Data[base+s]
					}
				}
			}
			accumulateGrad(bias, gBias)
		}
	}, input, weight, bias)
	return out, nil
}

func toDense(data []float32, rows, cols int) *mat.Dense {
	buf := make([]float64, rows*cols)
	for i, v := range data[:rows*cols] {
		buf[i] = float64(v)
	}
	return mat.NewDense(rows, cols, buf)
}

func fromDense(m mat.Matrix, dst []float32) {
	rows, cols := m.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst[r*cols+c] = float32(m.At(r, c))
		}
	}
}
