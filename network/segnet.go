package network

import (
	"fmt"

	"github.com/medvision/volseg/nn"
	"github.com/medvision/volseg/tensor"
)

// baseWidth is the channel width established by the input transition.
const baseWidth = 16

// SegmentationNet is the volumetric encoder-decoder. The adapter pair
// halves resolution before the encoder and restores it before the final
// classifier, so the effective downsampling factor is the product of the
// adapter stride and the four encoder strides.
type SegmentationNet struct {
	inChannels  int
	outChannels int

	preBlock  *PreBlock
	inBlock   *InputTransition
	down32    *DownTransition
	down64    *DownTransition
	down128   *DownTransition
	down256   *DownTransition
	up256     *UpTransition
	up128     *UpTransition
	up64      *UpTransition
	up32      *UpTransition
	outBlock  *OutputTransition
	postBlock *PostBlock
	outFinal  *OutputTransition
}

// NewSegmentationNet builds the network for the given modality and class
// counts.
func NewSegmentationNet(inChannels, outChannels int, elu bool) (*SegmentationNet, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got in=%d out=%d", inChannels, outChannels)
	}
	n := &SegmentationNet{inChannels: inChannels, outChannels: outChannels}

	var err error
	n.preBlock = NewPreBlock(inChannels, inChannels, elu)
	n.inBlock = NewInputTransition(inChannels, elu)
	if n.down32, err = NewDownTransition(16, 2, elu, false); err != nil {
		return nil, err
	}
	if n.down64, err = NewDownTransition(32, 3, elu, true); err != nil {
		return nil, err
	}
	if n.down128, err = NewDownTransition(64, 4, elu, true); err != nil {
		return nil, err
	}
	if n.down256, err = NewDownTransition(128, 4, elu, true); err != nil {
		return nil, err
	}
	if n.up256, err = NewUpTransition(256, 256, 4, elu, true); err != nil {
		return nil, err
	}
	if n.up128, err = NewUpTransition(256, 128, 4, elu, true); err != nil {
		return nil, err
	}
	if n.up64, err = NewUpTransition(128, 64, 3, elu, false); err != nil {
		return nil, err
	}
	if n.up32, err = NewUpTransition(64, 32, 2, elu, false); err != nil {
		return nil, err
	}
	n.outBlock = NewOutputTransition(32, outChannels, elu)
	n.postBlock = NewPostBlock(outChannels, outChannels, elu)
	n.outFinal = NewOutputTransition(inChannels+outChannels, outChannels, elu)
	return n, nil
}

// Name identifies the architecture in checkpoints and exports.
func (n *SegmentationNet) Name() string { return "vsegnet" }

// InChannels reports the modality count the network was built for.
func (n *SegmentationNet) InChannels() int { return n.inChannels }

// OutChannels reports the class count the network was built for.
func (n *SegmentationNet) OutChannels() int { return n.outChannels }

// MaxStride is the coarsest downsampling factor along each spatial axis.
// Crop sizes must be divisible by it. It is computed from the actual stage
// strides rather than stated as a constant.
func (n *SegmentationNet) MaxStride() int {
	// adapter stride times the four encoder strides
	stride := 2
	for i := 0; i < 4; i++ {
		stride *= 2
	}
	return stride
}

// Forward runs a full pass. Input is NCDHW; every spatial extent must be
// divisible by MaxStride.
func (n *SegmentationNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 5 {
		return nil, fmt.Errorf("expected 5-D input (NCDHW), got %d-D", len(x.Shape))
	}
	if x.Shape[1] != n.inChannels {
		return nil, fmt.Errorf("expected %d input channels, got %d", n.inChannels, x.Shape[1])
	}
	stride := n.MaxStride()
	for axis := 2; axis < 5; axis++ {
		if x.Shape[axis]%stride != 0 {
			return nil, fmt.Errorf("spatial extent %d on axis %d not divisible by stride %d",
				x.Shape[axis], axis, stride)
		}
	}

	pre, err := n.preBlock.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("pre adapter failed: %v", err)
	}
	out16, err := n.inBlock.Forward(pre)
	if err != nil {
		return nil, fmt.Errorf("input transition failed: %v", err)
	}
	out32, err := n.down32.Forward(out16)
	if err != nil {
		return nil, fmt.Errorf("down transition 32 failed: %v", err)
	}
	out64, err := n.down64.Forward(out32)
	if err != nil {
		return nil, fmt.Errorf("down transition 64 failed: %v", err)
	}
	out128, err := n.down128.Forward(out64)
	if err != nil {
		return nil, fmt.Errorf("down transition 128 failed: %v", err)
	}
	out256, err := n.down256.Forward(out128)
	if err != nil {
		return nil, fmt.Errorf("down transition 256 failed: %v", err)
	}

	up, err := n.up256.Forward(out256, out128)
	if err != nil {
		return nil, fmt.Errorf("up transition 256 failed: %v", err)
	}
	if up, err = n.up128.Forward(up, out64); err != nil {
		return nil, fmt.Errorf("up transition 128 failed: %v", err)
	}
	if up, err = n.up64.Forward(up, out32); err != nil {
		return nil, fmt.Errorf("up transition 64 failed: %v", err)
	}
	if up, err = n.up32.Forward(up, out16); err != nil {
		return nil, fmt.Errorf("up transition 32 failed: %v", err)
	}

	out, err := n.outBlock.Forward(up)
	if err != nil {
		return nil, fmt.Errorf("output transition failed: %v", err)
	}
	if out, err = n.postBlock.Forward(out, x); err != nil {
		return nil, fmt.Errorf("post adapter failed: %v", err)
	}
	if out, err = n.outFinal.Forward(out); err != nil {
		return nil, fmt.Errorf("final output transition failed: %v", err)
	}
	return out, nil
}

func (n *SegmentationNet) stages() []interface {
	Parameters() []*tensor.Tensor
	Train()
	Eval()
	Visit(fn func(layer nn.Module))
} {
	return []interface {
		Parameters() []*tensor.Tensor
		Train()
		Eval()
		Visit(fn func(layer nn.Module))
	}{
		n.preBlock, n.inBlock,
		n.down32, n.down64, n.down128, n.down256,
		n.up256, n.up128, n.up64, n.up32,
		n.outBlock, n.postBlock, n.outFinal,
	}
}

func (n *SegmentationNet) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, stage := range n.stages() {
		params = append(params, stage.Parameters()...)
	}
	return params
}

func (n *SegmentationNet) Train() {
	for _, stage := range n.stages() {
		stage.Train()
	}
}

func (n *SegmentationNet) Eval() {
	for _, stage := range n.stages() {
		stage.Eval()
	}
}

func (n *SegmentationNet) Visit(fn func(layer nn.Module)) {
	for _, stage := range n.stages() {
		stage.Visit(fn)
	}
}

func (n *SegmentationNet) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	p := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	n.preBlock.StateDict(p("pre_block"), dst)
	n.inBlock.StateDict(p("in_tr"), dst)
	n.down32.StateDict(p("down_tr32"), dst)
	n.down64.StateDict(p("down_tr64"), dst)
	n.down128.StateDict(p("down_tr128"), dst)
	n.down256.StateDict(p("down_tr256"), dst)
	n.up256.StateDict(p("up_tr256"), dst)
	n.up128.StateDict(p("up_tr128"), dst)
	n.up64.StateDict(p("up_tr64"), dst)
	n.up32.StateDict(p("up_tr32"), dst)
	n.outBlock.StateDict(p("out_tr"), dst)
	n.postBlock.StateDict(p("post_block"), dst)
	n.outFinal.StateDict(p("out_final"), dst)
}

func (n *SegmentationNet) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	p := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	steps := []struct {
		name string
		load func(string, map[string]*tensor.Tensor) error
	}{
		{"pre_block", n.preBlock.LoadStateDict},
		{"in_tr", n.inBlock.LoadStateDict},
		{"down_tr32", n.down32.LoadStateDict},
		{"down_tr64", n.down64.LoadStateDict},
		{"down_tr128", n.down128.LoadStateDict},
		{"down_tr256", n.down256.LoadStateDict},
		{"up_tr256", n.up256.LoadStateDict},
		{"up_tr128", n.up128.LoadStateDict},
		{"up_tr64", n.up64.LoadStateDict},
		{"up_tr32", n.up32.LoadStateDict},
		{"out_tr", n.outBlock.LoadStateDict},
		{"post_block", n.postBlock.LoadStateDict},
		{"out_final", n.outFinal.LoadStateDict},
	}
	for _, step := range steps {
		if err := step.load(p(step.name), src); err != nil {
			return fmt.Errorf("failed to load %s: %v", step.name, err)
		}
	}
	return nil
}

// InitGaussian applies the Gaussian policy to every layer.
func (n *SegmentationNet) InitGaussian(cfg nn.InitConfig) {
	nn.GaussianInit(n, cfg)
}

// InitKaiming applies the fan-in scaled policy to every layer.
func (n *SegmentationNet) InitKaiming(cfg nn.InitConfig) {
	nn.KaimingInit(n, cfg)
}

// InitFocalPrior applies the Gaussian policy, then overwrites the object
// class bias of the final classifier so the initial foreground probability
// approximates objP. Only binary segmentation has a single well-defined
// object class.
func (n *SegmentationNet) InitFocalPrior(objP float64, cfg nn.InitConfig) error {
	if objP <= 0 || objP >= 1 {
		return fmt.Errorf("object prior must lie in (0, 1), got %g", objP)
	}
	if n.outChannels != 2 {
		return fmt.Errorf("focal prior initialization requires 2 output classes, got %d", n.outChannels)
	}
	nn.GaussianInit(n, cfg)
	bias := n.outFinal.ClassifierBias()
	bias.Data[1] = float32(nn.FocalPriorBias(objP))
	return nil
}
