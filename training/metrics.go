package training

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/medvision/volseg/tensor"
)

// DiceScore computes the hard overlap between the argmax of a probability
// map and a label mask, averaged over the foreground classes. It is a
// reporting metric only and takes no part in gradient computation.
func DiceScore(predicted, target *tensor.Tensor) (float64, error) {
	if len(predicted.Shape) != 5 {
		return 0, fmt.Errorf("expected 5-D prediction (NCDHW), got %d-D", len(predicted.Shape))
	}
	if len(target.Shape) != 5 || target.Shape[1] != 1 {
		return 0, fmt.Errorf("expected target shape (N, 1, D, H, W), got %v", target.Shape)
	}

	batch := predicted.Shape[0]
	numClasses := predicted.Shape[1]
	spatial := predicted.Shape[2] * predicted.Shape[3] * predicted.Shape[4]
	if target.NumElems != batch*spatial {
		return 0, fmt.Errorf("target size %d does not match prediction spatial size %d", target.NumElems, batch*spatial)
	}

	intersections := make([]float64, numClasses)
	predCounts := make([]float64, numClasses)
	maskCounts := make([]float64, numClasses)

	for n := 0; n < batch; n++ {
		for v := 0; v < spatial; v++ {
			best := 0
			bestP := predicted.Data[(n*numClasses)*spatial+v]
			for c := 1; c < numClasses; c++ {
				p := predicted.Data[(n*numClasses+c)*spatial+v]
				if p > bestP {
					best, bestP = c, p
				}
			}
			label := int(target.Data[n*spatial+v])
			if label < 0 || label >= numClasses {
				return 0, fmt.Errorf("target label %d out of range [0, %d)", label, numClasses)
			}
			predCounts[best]++
			maskCounts[label]++
			if best == label {
				intersections[best]++
			}
		}
	}

	// class 0 is background
	perClass := make([]float64, 0, numClasses-1)
	for c := 1; c < numClasses; c++ {
		denom := predCounts[c] + maskCounts[c]
		if denom == 0 {
			perClass = append(perClass, 1) // both empty, perfect agreement
			continue
		}
		perClass = append(perClass, 2*intersections[c]/denom)
	}
	return floats.Sum(perClass) / float64(len(perClass)), nil
}
