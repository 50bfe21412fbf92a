package training

import (
	"fmt"

	"github.com/medvision/volseg/config"
	"github.com/medvision/volseg/tensor"
)

// Loss interface defines methods that all loss functions must implement
type Loss interface {
	// Calculate returns the scalar loss for a (probabilities, label mask)
	// pair, wired into the autograd graph of the prediction.
	Calculate(predicted, target *tensor.Tensor) (*tensor.Tensor, error)

	// Name returns the loss term tag for logging
	Name() string
}

// MultiDiceLoss is the weighted multi-class soft dice term.
type MultiDiceLoss struct {
	classWeights []float32
}

// NewMultiDiceLoss creates a dice loss with per-class weights; nil weights
// mean uniform.
func NewMultiDiceLoss(classWeights []float32) *MultiDiceLoss {
	return &MultiDiceLoss{classWeights: classWeights}
}

func (l *MultiDiceLoss) Calculate(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MultiDiceLoss(predicted, target, l.classWeights)
}

func (l *MultiDiceLoss) Name() string { return "Dice" }

// FocalLoss is the focal cross-entropy term.
type FocalLoss struct {
	alpha []float32
	gamma float32
}

// NewFocalLoss creates a focal loss with per-class alpha weights and
// focusing parameter gamma.
func NewFocalLoss(alpha []float32, gamma float32) *FocalLoss {
	return &FocalLoss{alpha: alpha, gamma: gamma}
}

func (l *FocalLoss) Calculate(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FocalLoss(predicted, target, l.alpha, l.gamma)
}

func (l *FocalLoss) Name() string { return "Focal" }

// BoundaryLoss is the soft dice term restricted to a band around label
// transitions.
type BoundaryLoss struct {
	classWeights []float32
	level        int
	kMax         int
}

// NewBoundaryLoss creates a boundary dice loss; the band half-width is
// level capped at kMax.
func NewBoundaryLoss(classWeights []float32, level, kMax int) *BoundaryLoss {
	return &BoundaryLoss{classWeights: classWeights, level: level, kMax: kMax}
}

func (l *BoundaryLoss) Calculate(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BoundarySoftDice(predicted, target, l.classWeights, l.level, l.kMax)
}

func (l *BoundaryLoss) Name() string { return "Boundary" }

// BuildLossTerms constructs the ordered loss-term list from the enabled
// configuration tags and returns it with the parallel weight list. A term
// count that does not match the weight count is an error; the engine
// treats it as fatal before any forward pass.
func BuildLossTerms(cfg config.LossConfig) ([]Loss, []float32, error) {
	var terms []Loss
	for _, tag := range cfg.Name {
		switch tag {
		case "Dice":
			terms = append(terms, NewMultiDiceLoss(cfg.ObjWeight))
		case "Focal":
			terms = append(terms, NewFocalLoss(cfg.ObjWeight, float32(cfg.FocalGamma)))
		case "Boundary":
			terms = append(terms, NewBoundaryLoss(cfg.ObjWeight, cfg.Level, cfg.KMax))
		default:
			return nil, nil, fmt.Errorf("unknown loss term %q", tag)
		}
	}

	if len(terms) != len(cfg.LossWeight) {
		return nil, nil, fmt.Errorf("number of valid losses (%d) should equal to that of given weights (%d)",
			len(terms), len(cfg.LossWeight))
	}
	return terms, cfg.LossWeight, nil
}

// CalculateLoss evaluates every term against (output, mask) and returns
// the weighted total along with the individual term values.
func CalculateLoss(terms []Loss, weights []float32, output, mask *tensor.Tensor) (*tensor.Tensor, []float32, error) {
	if len(terms) != len(weights) {
		return nil, nil, fmt.Errorf("number of valid losses (%d) should equal to that of given weights (%d)",
			len(terms), len(weights))
	}

	values := make([]*tensor.Tensor, len(terms))
	individual := make([]float32, len(terms))
	for i, term := range terms {
		value, err := term.Calculate(output, mask)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compute %s loss: %v", term.Name(), err)
		}
		values[i] = value
		individual[i] = value.Data[0]
	}

	w := make([]float64, len(weights))
	for i, weight := range weights {
		w[i] = float64(weight)
	}
	total, err := tensor.WeightedSum(values, w)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to combine loss terms: %v", err)
	}
	return total, individual, nil
}
