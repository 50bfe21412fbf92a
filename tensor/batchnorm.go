package tensor

import (
	"fmt"
	"math"
)

// BatchNorm3D normalizes a NCDHW tensor per channel using batch statistics,
// then applies the affine transform gamma*xhat + beta. Batch statistics are
// always used for normalization (sub-volume crops make running statistics
// unreliable); running mean/var are updated in place when training is true
// so checkpoints can still reconstruct an inference-time estimate.
func BatchNorm3D(input, gamma, beta, runningMean, runningVar *Tensor, training bool, momentum, eps float64) (*Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("BatchNorm3D expects 5-D input, got shape %v", input.Shape)
	}
	channels := input.Shape[1]
	if gamma.NumElems != channels || beta.NumElems != channels {
		return nil, fmt.Errorf("BatchNorm3D affine parameters must have %d elements", channels)
	}

	batch := input.Shape[0]
	spatial := input.Shape[2] * input.Shape[3] * input.Shape[4]
	count := batch * spatial

	mean := make([]float32, channels)
	variance := make([]float32, channels)
	for c := 0; c < channels; c++ {
		var sum float32
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * spatial
			for s := 0; s < spatial; s++ {
				sum += input.Data[base+s]
			}
		}
		mean[c] = sum / float32(count)
		var sumSq float32
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * spatial
			for s := 0; s < spatial; s++ {
				d := input.Data[base+s] - mean[c]
				sumSq += d * d
			}
		}
		variance[c] = sumSq / float32(count)
	}

	if training && runningMean != nil && runningVar != nil {
		m := float32(momentum)
		for c := 0; c < channels; c++ {
			runningMean.Data[c] = (1-m)*runningMean.Data[c] + m*mean[c]
			runningVar.Data[c] = (1-m)*runningVar.Data[c] + m*variance[c]
		}
	}

	invStd := make([]float32, channels)
	for c := 0; c < channels; c++ {
		invStd[c] = float32(1 / math.Sqrt(float64(variance[c])+eps))
	}

	out := Zeros(input.Shape...)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * spatial
			g, b := gamma.Data[c], beta.Data[c]
			for s := 0; s < spatial; s++ {
				xhat := (input.Data[base+s] - mean[c]) * invStd[c]
				out.Data[base+s] = g*xhat + b
			}
		}
	}

	attachNode(out, func(gradOut *Tensor) {
		// Per-channel reductions shared by all three gradients.
		sumG := make([]float32, channels)
		sumGXhat := make([]float32, channels)
		for n := 0; n < batch; n++ {
			for c := 0; c < channels; c++ {
				base := (n*channels + c) * spatial
				for s := 0; s < spatial; s++ {
					g := gradOut.Data[base+s]
					xhat := (input.Data[base+s] - mean[c]) * invStd[c]
					sumG[c] += g
					sumGXhat[c] += g * xhat
				}
			}
		}
		if gamma.requiresGrad {
			gGamma := Zeros(gamma.Shape...)
			copy(gGamma.Data, sumGXhat)
			accumulateGrad(gamma, gGamma)
		}
		if beta.requiresGrad {
			gBeta := Zeros(beta.Shape...)
			copy(gBeta.Data, sumG)
			accumulateGrad(beta, gBeta)
		}
		if input.requiresGrad {
			gInput := Zeros(input.Shape...)
			inv := 1 / float32(count)
			for n := 0; n < batch; n++ {
				for c := 0; c < channels; c++ {
					base := (n*channels + c) * spatial
					scale := gamma.Data[c] * invStd[c]
					for s := 0; s < spatial; s++ {
						g := gradOut.Data[base+s]
						xhat := (input.Data[base+s] - mean[c]) * invStd[c]
						gInput.Data[base+s] = scale * (g - inv*sumG[c] - xhat*inv*sumGXhat[c])
					}
				}
			}
			accumulateGrad(input, gInput)
		}
	}, input, gamma, beta)
	return out, nil
}
