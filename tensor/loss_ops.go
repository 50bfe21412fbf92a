package tensor

import (
	"fmt"
	"math"
)

const lossEps = 1e-5

// validateSegPair checks a (probabilities, label mask) pair: pred is
// (N, C, D, H, W), target is (N, 1, D, H, W) with labels in [0, C).
func validateSegPair(pred, target *Tensor) (numClasses, voxels int, err error) {
	if len(pred.Shape) != 5 {
		return 0, 0, fmt.Errorf("expected 5-D prediction (NCDHW), got %d-D", len(pred.Shape))
	}
	if len(target.Shape) != 5 || target.Shape[1] != 1 {
		return 0, 0, fmt.Errorf("expected target shape (N, 1, D, H, W), got %v", target.Shape)
	}
	if pred.Shape[0] != target.Shape[0] {
		return 0, 0, fmt.Errorf("batch size mismatch: %d vs %d", pred.Shape[0], target.Shape[0])
	}
	for axis := 2; axis < 5; axis++ {
		if pred.Shape[axis] != target.Shape[axis] {
			return 0, 0, fmt.Errorf("spatial shape mismatch on axis %d: %d vs %d",
				axis, pred.Shape[axis], target.Shape[axis])
		}
	}
	numClasses = pred.Shape[1]
	voxels = pred.Shape[0] * pred.Shape[2] * pred.Shape[3] * pred.Shape[4]
	for i, v := range target.Data {
		label := int(v)
		if label < 0 || label >= numClasses {
			return 0, 0, fmt.Errorf("target label %d at voxel %d out of range [0, %d)", label, i, numClasses)
		}
	}
	return numClasses, voxels, nil
}

func normalizeClassWeights(classWeights []float32, numClasses int) ([]float64, error) {
	weights := make([]float64, numClasses)
	if classWeights == nil {
		for c := range weights {
			weights[c] = 1
		}
		return weights, nil
	}
	if len(classWeights) != numClasses {
		return nil, fmt.Errorf("expected %d class weights, got %d", numClasses, len(classWeights))
	}
	for c, w := range classWeights {
		if w < 0 {
			return nil, fmt.Errorf("class weight %d cannot be negative: %f", c, w)
		}
		weights[c] = float64(w)
	}
	return weights, nil
}

// predIndex maps a voxel's linear index within one batch item to the flat
// prediction index of class c.
func predIndex(n, c, v, numClasses, spatial int) int {
	return (n*numClasses+c)*spatial + v
}

// softDice computes weighted soft dice restricted to the voxels band marks
// as true. A nil band covers the whole volume. Returns the scalar loss and
// the gradient with respect to pred.
func softDice(pred, target *Tensor, weights []float64, band []bool) (float32, []float32) {
	numClasses := pred.Shape[1]
	batch := pred.Shape[0]
	spatial := pred.Shape[2] * pred.Shape[3] * pred.Shape[4]

	intersections := make([]float64, numClasses)
	unions := make([]float64, numClasses)
	for n := 0; n < batch; n++ {
		for v := 0; v < spatial; v++ {
			if band != nil && !band[n*spatial+v] {
				continue
			}
			label := int(target.Data[n*spatial+v])
			for c := 0; c < numClasses; c++ {
				p := float64(pred.Data[predIndex(n, c, v, numClasses, spatial)])
				g := 0.0
				if c == label {
					g = 1.0
				}
				intersections[c] += p * g
				unions[c] += p*p + g*g
			}
		}
	}

	var totalWeight float64
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	var loss float64
	for c := 0; c < numClasses; c++ {
		dice := (2*intersections[c] + lossEps) / (unions[c] + lossEps)
		loss += weights[c] / totalWeight * (1 - dice)
	}

	grad := make([]float32, len(pred.Data))
	for n := 0; n < batch; n++ {
		for v := 0; v < spatial; v++ {
			if band != nil && !band[n*spatial+v] {
				continue
			}
			label := int(target.Data[n*spatial+v])
			for c := 0; c < numClasses; c++ {
				idx := predIndex(n, c, v, numClasses, spatial)
				p := float64(pred.Data[idx])
				g := 0.0
				if c == label {
					g = 1.0
				}
				u := unions[c] + lossEps
				num := 2*intersections[c] + lossEps
				dDice := (2*g*u - num*2*p) / (u * u)
				grad[idx] = float32(-weights[c] / totalWeight * dDice)
			}
		}
	}

	return float32(loss), grad
}

// MultiDiceLoss computes weighted multi-class soft dice loss between class
// probabilities and an integer label mask.
func MultiDiceLoss(pred, target *Tensor, classWeights []float32) (*Tensor, error) {
	numClasses, _, err := validateSegPair(pred, target)
	if err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}
	weights, err := normalizeClassWeights(classWeights, numClasses)
	if err != nil {
		return nil, fmt.Errorf("dice loss: %v", err)
	}

	loss, grad := softDice(pred, target, weights, nil)
	out := FromScalar(loss)

	attachNode(out, func(gradOut *Tensor) {
		g := gradOut.Data[0]
		scaled := make([]float32, len(grad))
		for i, v := range grad {
			scaled[i] = g * v
		}
		accumulateGrad(pred, &Tensor{Shape: pred.Shape, Strides: pred.Strides, Data: scaled, NumElems: pred.NumElems})
	}, pred)
	return out, nil
}

// FocalLoss computes the focal cross-entropy over class probabilities with
// per-class alpha weighting and focusing parameter gamma. The mean is taken
// over all voxels.
func FocalLoss(pred, target *Tensor, alpha []float32, gamma float32) (*Tensor, error) {
	numClasses, voxels, err := validateSegPair(pred, target)
	if err != nil {
		return nil, fmt.Errorf("focal loss: %v", err)
	}
	if gamma < 0 {
		return nil, fmt.Errorf("focal loss: gamma cannot be negative: %f", gamma)
	}
	weights, err := normalizeClassWeights(alpha, numClasses)
	if err != nil {
		return nil, fmt.Errorf("focal loss: %v", err)
	}

	batch := pred.Shape[0]
	spatial := pred.Shape[2] * pred.Shape[3] * pred.Shape[4]
	gm := float64(gamma)

	var loss float64
	grad := make([]float32, len(pred.Data))
	for n := 0; n < batch; n++ {
		for v := 0; v < spatial; v++ {
			label := int(target.Data[n*spatial+v])
			idx := predIndex(n, label, v, numClasses, spatial)
			p := math.Max(float64(pred.Data[idx]), lossEps)
			a := weights[label]
			focus := math.Pow(1-p, gm)
			loss -= a * focus * math.Log(p)

			dFocus := focus / p
			if gm > 0 {
				dFocus -= gm * math.Pow(1-p, gm-1) * math.Log(p)
			}
			grad[idx] = float32(-a * dFocus / float64(voxels))
		}
	}
	loss /= float64(voxels)

	out := FromScalar(float32(loss))
	attachNode(out, func(gradOut *Tensor) {
		g := gradOut.Data[0]
		scaled := make([]float32, len(grad))
		for i, v := range grad {
			scaled[i] = g * v
		}
		accumulateGrad(pred, &Tensor{Shape: pred.Shape, Strides: pred.Strides, Data: scaled, NumElems: pred.NumElems})
	}, pred)
	return out, nil
}

// boundaryBand marks voxels within radius steps (6-connectivity) of a label
// transition in the mask. One flag per voxel per batch item.
func boundaryBand(target *Tensor, radius int) []bool {
	batch := target.Shape[0]
	depth, height, width := target.Shape[2], target.Shape[3], target.Shape[4]
	spatial := depth * height * width
	band := make([]bool, batch*spatial)

	at := func(n, d, h, w int) float32 {
		return target.Data[((n*depth+d)*height+h)*width+w]
	}

	for n := 0; n < batch; n++ {
		for d := 0; d < depth; d++ {
			for h := 0; h < height; h++ {
				for w := 0; w < width; w++ {
					label := at(n, d, h, w)
					edge := (d > 0 && at(n, d-1, h, w) != label) ||
						(d < depth-1 && at(n, d+1, h, w) != label) ||
						(h > 0 && at(n, d, h-1, w) != label) ||
						(h < height-1 && at(n, d, h+1, w) != label) ||
						(w > 0 && at(n, d, h, w-1) != label) ||
						(w < width-1 && at(n, d, h, w+1) != label)
					if edge {
						band[n*spatial+(d*height+h)*width+w] = true
					}
				}
			}
		}
	}

	for step := 1; step < radius; step++ {
		grown := make([]bool, len(band))
		copy(grown, band)
		for n := 0; n < batch; n++ {
			for d := 0; d < depth; d++ {
				for h := 0; h < height; h++ {
					for w := 0; w < width; w++ {
						i := n*spatial + (d*height+h)*width + w
						if band[i] {
							continue
						}
						near := (d > 0 && band[i-height*width]) ||
							(d < depth-1 && band[i+height*width]) ||
							(h > 0 && band[i-width]) ||
							(h < height-1 && band[i+width]) ||
							(w > 0 && band[i-1]) ||
							(w < width-1 && band[i+1])
						if near {
							grown[i] = true
						}
					}
				}
			}
		}
		band = grown
	}
	return band
}

// BoundarySoftDice computes weighted soft dice restricted to a band of
// voxels around the label transitions of the mask. The band half-width is
// level, capped at kMax. Voxels outside the band contribute nothing to the
// loss or the gradient; a mask with a single label yields zero loss.
func BoundarySoftDice(pred, target *Tensor, classWeights []float32, level, kMax int) (*Tensor, error) {
	numClasses, _, err := validateSegPair(pred, target)
	if err != nil {
		return nil, fmt.Errorf("boundary loss: %v", err)
	}
	if level <= 0 {
		return nil, fmt.Errorf("boundary loss: band level must be positive, got %d", level)
	}
	if kMax > 0 && level > kMax {
		level = kMax
	}
	weights, err := normalizeClassWeights(classWeights, numClasses)
	if err != nil {
		return nil, fmt.Errorf("boundary loss: %v", err)
	}

	band := boundaryBand(target, level)
	loss, grad := softDice(pred, target, weights, band)

	out := FromScalar(loss)
	attachNode(out, func(gradOut *Tensor) {
		g := gradOut.Data[0]
		scaled := make([]float32, len(grad))
		for i, v := range grad {
			scaled[i] = g * v
		}
		accumulateGrad(pred, &Tensor{Shape: pred.Shape, Strides: pred.Strides, Data: scaled, NumElems: pred.NumElems})
	}, pred)
	return out, nil
}
