package tensor

import (
	"fmt"
)

// ConvTranspose3D performs a 3-D transposed convolution over a NCDHW input.
// Input shape: [batch, in_channels, d, h, w]
// Weight shape: [in_channels, out_channels, kd, kh, kw]
// Bias shape (optional): [out_channels]
func ConvTranspose3D(input, weight, bias *Tensor, stride, pad int) (*Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("ConvTranspose3D expects input shape [batch, channels, depth, height, width], got %v", input.Shape)
	}
	if len(weight.Shape) != 5 {
		return nil, fmt.Errorf("ConvTranspose3D expects weight shape [in_channels, out_channels, kd, kh, kw], got %v", weight.Shape)
	}
	if bias != nil && len(bias.Shape) != 1 {
		return nil, fmt.Errorf("ConvTranspose3D bias must be rank 1, got %v", bias.Shape)
	}
	if weight.Shape[0] != input.Shape[1] {
		return nil, fmt.Errorf("ConvTranspose3D channel mismatch: input has %d, kernel expects %d", input.Shape[1], weight.Shape[0])
	}
	if stride <= 0 {
		return nil, fmt.Errorf("ConvTranspose3D stride must be positive, got %d", stride)
	}

	batch := input.Shape[0]
	inChannels := input.Shape[1]
	inD, inH, inW := input.Shape[2], input.Shape[3], input.Shape[4]
	outChannels := weight.Shape[1]
	kD, kH, kW := weight.Shape[2], weight.Shape[3], weight.Shape[4]

	outD := (inD-1)*stride - 2*pad + kD
	outH := (inH-1)*stride - 2*pad + kH
	outW := (inW-1)*stride - 2*pad + kW
	if outD <= 0 || outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("ConvTranspose3D produces empty output for input %v, kernel %v, stride %d, pad %d", input.Shape, weight.Shape, stride, pad)
	}

	out := Zeros(batch, outChannels, outD, outH, outW)
	// Scatter formulation: every input voxel contributes a kernel-sized
	// patch to the output.
	for n := 0; n < batch; n++ {
		for ic := 0; ic < inChannels; ic++ {
			for id := 0; id < inD; id++ {
				for ih := 0; ih < inH; ih++ {
					for iw := 0; iw < inW; iw++ {
						v := input.Data[(((n*inChannels+ic)*inD+id)*inH+ih)*inW+iw]
						if v == 0 {
							continue
						}
						for oc := 0; oc < outChannels; oc++ {
							for kd := 0; kd < kD; kd++ {
								od := id*stride - pad + kd
								if od < 0 || od >= outD {
									continue
								}
								for kh := 0; kh < kH; kh++ {
									oh := ih*stride - pad + kh
									if oh < 0 || oh >= outH {
										continue
									}
									for kw := 0; kw < kW; kw++ {
										ow := iw*stride - pad + kw
										if ow < 0 || ow >= outW {
											continue
										}
										wIdx := (((ic*outChannels+oc)*kD+kd)*kH+kh)*kW + kw
										out.Data[(((n*outChannels+oc)*outD+od)*outH+oh)*outW+ow] += v * weight.Data[wIdx]
									}
								}
							}
						}
					}
				}
			}
		}
	}
	if bias != nil {
		outSpatial := outD * outH * outW
		for n := 0; n < batch; n++ {
			for oc := 0; oc < outChannels; oc++ {
				base := (n*outChannels + oc) * outSpatial
				b := bias.Data[oc]
				for s := 0; s < outSpatial; s++ {
					out.Data[base+s] += b
				}
			}
		}
	}

	attachNode(out, func(gradOut *Tensor) {
		var gInput, gWeight *Tensor
		if input.requiresGrad {
			gInput = Zeros(input.Shape...)
		}
		if weight.requiresGrad {
			gWeight = Zeros(weight.Shape...)
		}
		for n := 0; n < batch; n++ {
			for ic := 0; ic < inChannels; ic++ {
				for id := 0; id < inD; id++ {
					for ih := 0; ih < inH; ih++ {
						for iw := 0; iw < inW; iw++ {
							inIdx := (((n*inChannels+ic)*inD+id)*inH+ih)*inW + iw
							var acc float32
							for oc := 0; oc < outChannels; oc++ {
								for kd := 0; kd < kD; kd++ {
									od := id*stride - pad + kd
									if od < 0 || od >= outD {
										continue
									}
									for kh := 0; kh < kH; kh++ {
										oh := ih*stride - pad + kh
										if oh < 0 || oh >= outH {
											continue
										}
										for kw := 0; kw < kW; kw++ {
											ow := iw*stride - pad + kw
											if ow < 0 || ow >= outW {
												continue
											}
											wIdx := (((ic*outChannels+oc)*kD+kd)*kH+kh)*kW + kw
											gVal := gradOut.Data[(((n*outChannels+oc)*outD+od)*outH+oh)*outW+ow]
											acc += weight.Data[wIdx] * gVal
											if gWeight != nil {
												gWeight.Data[wIdx] += input.Data[inIdx] * gVal
											}
										}
									}
								}
							}
							if gInput != nil {
								gInput.Data[inIdx] = acc
							}
						}
					}
				}
			}
		}
		if gInput != nil {
			accumulateGrad(input, gInput)
		}
		if gWeight != nil {
			accumulateGrad(weight, gWeight)
		}
		if bias != nil && bias.requiresGrad {
			gBias := Zeros(bias.Shape...)
			outSpatial := outD * outH * outW
			for n := 0; n < batch; n++ {
				for oc := 0; oc < outChannels; oc++ {
					base := (n*outChannels + oc) * outSpatial
					for s := 0; s < outSpatial; s++ {
						gBias.Data[oc] += gradOut.Data[base+s]
					}
				}
			}
			accumulateGrad(bias, gBias)
		}
	}, input, weight, bias)
	return out, nil
}
