package nn

import (
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// Initialization policies. Each policy visits every layer of a network and
// applies a rule keyed on the layer's kind; kinds without a rule are left
// untouched.

// InitConfig carries the distribution parameters of the policies.
type InitConfig struct {
	ConvStd float64 // Gaussian policy: stddev of conv kernel weights
	BNStd   float64 // both policies: stddev of batch-norm gamma around 1.0
	Seed    uint64
}

// DefaultInitConfig mirrors the reference parameterization.
func DefaultInitConfig() InitConfig {
	return InitConfig{ConvStd: 0.01, BNStd: 0.02, Seed: 1}
}

// GaussianInit draws conv and transposed-conv kernels from N(0, ConvStd),
// zeroes their biases, draws batch-norm gamma from N(1, BNStd) and zeroes
// beta. Other layer kinds are skipped.
func GaussianInit(net Visitable, cfg InitConfig) {
	src := rand.NewSource(cfg.Seed)
	convDist := distuv.Normal{Mu: 0, Sigma: cfg.ConvStd, Src: src}
	bnDist := distuv.Normal{Mu: 1, Sigma: cfg.BNStd, Src: src}

	net.Visit(func(layer Module) {
		switch l := layer.(type) {
		case *Conv3d:
			fillNormal(l.Weight().Data, &convDist)
			zero(l.Bias().Data)
		case *ConvTranspose3d:
			fillNormal(l.Weight().Data, &convDist)
			zero(l.Bias().Data)
		case *BatchNorm3d:
			fillNormal(l.Gamma().Data, &bnDist)
			zero(l.Beta().Data)
		}
	})
}

// KaimingInit draws conv, transposed-conv and linear weights from a fan-in
// scaled normal distribution, zeroes biases, and treats batch-norm layers
// as GaussianInit does.
func KaimingInit(net Visitable, cfg InitConfig) {
	src := rand.NewSource(cfg.Seed)
	bnDist := distuv.Normal{Mu: 1, Sigma: cfg.BNStd, Src: src}

	net.Visit(func(layer Module) {
		switch l := layer.(type) {
		case *Conv3d:
			w := l.Weight()
			fanIn := w.Shape[1] * w.Shape[2] * w.Shape[3] * w.Shape[4]
			kaimingFill(w.Data, fanIn, src)
			zero(l.Bias().Data)
		case *ConvTranspose3d:
			w := l.Weight()
			fanIn := w.Shape[0] * w.Shape[2] * w.Shape[3] * w.Shape[4]
			kaimingFill(w.Data, fanIn, src)
			zero(l.Bias().Data)
		case *Linear:
			w := l.Weight()
			kaimingFill(w.Data, w.Shape[0], src)
			zero(l.Bias().Data)
		case *BatchNorm3d:
			fillNormal(l.Gamma().Data, &bnDist)
			zero(l.Beta().Data)
		}
	})
}

// FocalPriorBias converts a target foreground prior probability into the
// output-logit bias -ln((1-p)/p).
func FocalPriorBias(objP float64) float64 {
	return -math.Log((1 - objP) / objP)
}

func kaimingFill(data []float32, fanIn int, src rand.Source) {
	dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2.0 / float64(fanIn)), Src: src}
	fillNormal(data, &dist)
}

func fillNormal(data []float32, dist *distuv.Normal) {
	for i := range data {
		data[i] = float32(dist.Rand())
	}
}

func zero(data []float32) {
	for i := range data {
		data[i] = 0
	}
}
