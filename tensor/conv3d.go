package tensor

import (
	"fmt"
)

// Conv3D performs a 3-D convolution over a NCDHW input.
// Input shape: [batch, in_channels, d, h, w]
// Weight shape: [out_channels, in_channels, kd, kh, kw]
// Bias shape (optional): [out_channels]
func Conv3D(input, weight, bias *Tensor, stride, pad int) (*Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("Conv3D expects input shape [batch, channels, depth, height, width], got %v", input.Shape)
	}
	if len(weight.Shape) != 5 {
		return nil, fmt.Errorf("Conv3D expects weight shape [out_channels, in_channels, kd, kh, kw], got %v", weight.Shape)
	}
	if bias != nil && len(bias.Shape) != 1 {
		return nil, fmt.Errorf("Conv3D bias must be rank 1, got %v", bias.Shape)
	}
	if weight.Shape[1] != input.Shape[1] {
		return nil, fmt.Errorf("Conv3D channel mismatch: input has %d, kernel expects %d", input.Shape[1], weight.Shape[1])
	}
	if stride <= 0 {
		return nil, fmt.Errorf("Conv3D stride must be positive, got %d", stride)
	}

	// Pointwise convolutions reduce to a channel-mixing matrix multiply.
	if weight.Shape[2] == 1 && weight.Shape[3] == 1 && weight.Shape[4] == 1 && stride == 1 && pad == 0 {
		return pointwiseConv3D(input, weight, bias)
	}

	batch := input.Shape[0]
	inChannels := input.Shape[1]
	inD, inH, inW := input.Shape[2], input.Shape[3], input.Shape[4]
	outChannels := weight.Shape[0]
	kD, kH, kW := weight.Shape[2], weight.Shape[3], weight.Shape[4]

	outD := (inD+2*pad-kD)/stride + 1
	outH := (inH+2*pad-kH)/stride + 1
	outW := (inW+2*pad-kW)/stride + 1
	if outD <= 0 || outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("Conv3D produces empty output for input %v, kernel %v, stride %d, pad %d", input.Shape, weight.Shape, stride, pad)
	}

	out := Zeros(batch, outChannels, outD, outH, outW)
	for n := 0; n < batch; n++ {
		for oc := 0; oc < outChannels; oc++ {
			for od := 0; od < outD; od++ {
				for oh := 0; oh < outH; oh++ {
					for ow := 0; ow < outW; ow++ {
						var acc float32
						for ic := 0; ic < inChannels; ic++ {
							for kd := 0; kd < kD; kd++ {
								id := od*stride - pad + kd
								if id < 0 || id >= inD {
									continue
								}
								for kh := 0; kh < kH; kh++ {
									ih := oh*stride - pad + kh
									if ih < 0 || ih >= inH {
										continue
									}
									for kw := 0; kw < kW; kw++ {
										iw := ow*stride - pad + kw
										if iw < 0 || iw >= inW {
											continue
										}
										inIdx := (((n*inChannels+ic)*inD+id)*inH+ih)*inW + iw
										wIdx := (((oc*inChannels+ic)*kD+kd)*kH+kh)*kW + kw
										acc += input.Data[inIdx] * weight.Data[wIdx]
									}
								}
							}
						}
						if bias != nil {
							acc += bias.Data[oc]
						}
						out.Data[(((n*outChannels+oc)*outD+od)*outH+oh)*outW+ow] = acc
					}
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
			for oc := 0; oc < outChannels; oc++ {
				for od := 0; od < outD; od++ {
					for oh := 0; oh < outH; oh++ {
						for ow := 0; ow < outW; ow++ {
							gVal := gradOut.Data[(((n*outChannels+oc)*outD+od)*outH+oh)*outW+ow]
							if gVal == 0 {
								continue
							}
							for ic := 0; ic < inChannels; ic++ {
								for kd := 0; kd < kD; kd++ {
									id := od*stride - pad + kd
									if id < 0 || id >= inD {
										continue
									}
									for kh := 0; kh < kH; kh++ {
										ih := oh*stride - pad + kh
										if ih < 0 || ih >= inH {
											continue
										}
										for kw := 0; kw < kW; kw++ {
											iw := ow*stride - pad + kw
											if iw < 0 || iw >= inW {
												continue
											}
											inIdx := (((n*inChannels+ic)*inD+id)*inH+ih)*inW + iw
											wIdx := (((oc*inChannels+ic)*kD+kd)*kH+kh)*kW + kw
											if gInput != nil {
												gInput.Data[inIdx] += weight.Data[wIdx] * gVal
											}
											if gWeight != nil {
												gWeight.Data[wIdx] += input.Data[inIdx] * gVal
											}
										}
									}
								}
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
