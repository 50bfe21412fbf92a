package network

import (
	"fmt"

	"github.com/medvision/volseg/nn"
	"github.com/medvision/volseg/tensor"
)

// InputTransition establishes the 16-channel base width:
// conv3x3x3 -> norm -> activation.
type InputTransition struct {
	conv *nn.Conv3d
	bn   *nn.BatchNorm3d
	act  *nn.Activation
}

// NewInputTransition maps inChannels to the 16-channel base width.
func NewInputTransition(inChannels int, elu bool) *InputTransition {
	return &InputTransition{
		conv: nn.NewConv3d(inChannels, baseWidth, 3, 1, 1),
		bn:   nn.NewBatchNorm3d(baseWidth),
		act:  nn.NewActivation(elu),
	}
}

func (t *InputTransition) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := t.conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = t.bn.Forward(out); err != nil {
		return nil, err
	}
	return t.act.Forward(out)
}

func (t *InputTransition) Parameters() []*tensor.Tensor {
	return append(t.conv.Parameters(), t.bn.Parameters()...)
}

func (t *InputTransition) Train() { t.conv.Train(); t.bn.Train() }
func (t *InputTransition) Eval()  { t.conv.Eval(); t.bn.Eval() }

func (t *InputTransition) Visit(fn func(layer nn.Module)) {
	fn(t.conv)
	fn(t.bn)
}

func (t *InputTransition) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	t.conv.StateDict(prefix+".conv1", dst)
	t.bn.StateDict(prefix+".bn1", dst)
}

func (t *InputTransition) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := t.conv.LoadStateDict(prefix+".conv1", src); err != nil {
		return err
	}
	return t.bn.LoadStateDict(prefix+".bn1", src)
}

// DownTransition halves spatial resolution and doubles channels with a
// strided convolution, then runs a block stack and adds the downsampled
// tensor back in before the final activation.
type DownTransition struct {
	downConv *nn.Conv3d
	bn       *nn.BatchNorm3d
	act1     *nn.Activation
	act2     *nn.Activation
	ops      *BlockStack
}

// NewDownTransition builds a down stage from inChannels to 2*inChannels.
func NewDownTransition(inChannels, depth int, elu, bottleneck bool) (*DownTransition, error) {
	outChannels := 2 * inChannels
	ops, err := NewBlockStack(outChannels, depth, elu, bottleneck)
	if err != nil {
		return nil, err
	}
	return &DownTransition{
		downConv: nn.NewConv3d(inChannels, outChannels, 2, 2, 0),
		bn:       nn.NewBatchNorm3d(outChannels),
		act1:     nn.NewActivation(elu),
		act2:     nn.NewActivation(elu),
		ops:      ops,
	}, nil
}

func (t *DownTransition) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	down, err := t.downConv.Forward(x)
	if err != nil {
		return nil, err
	}
	if down, err = t.bn.Forward(down); err != nil {
		return nil, err
	}
	if down, err = t.act1.Forward(down); err != nil {
		return nil, err
	}
	out, err := t.ops.Forward(down)
	if err != nil {
		return nil, err
	}
	if out, err = tensor.Add(out, down); err != nil {
		return nil, err
	}
	return t.act2.Forward(out)
}

func (t *DownTransition) Parameters() []*tensor.Tensor {
	params := append(t.downConv.Parameters(), t.bn.Parameters()...)
	return append(params, t.ops.Parameters()...)
}

func (t *DownTransition) Train() { t.downConv.Train(); t.bn.Train(); t.ops.Train() }
func (t *DownTransition) Eval()  { t.downConv.Eval(); t.bn.Eval(); t.ops.Eval() }

func (t *DownTransition) Visit(fn func(layer nn.Module)) {
	fn(t.downConv)
	fn(t.bn)
	t.ops.Visit(fn)
}

func (t *DownTransition) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	t.downConv.StateDict(prefix+".down_conv", dst)
	t.bn.StateDict(prefix+".bn1", dst)
	t.ops.StateDict(prefix+".ops", dst)
}

func (t *DownTransition) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := t.downConv.LoadStateDict(prefix+".down_conv", src); err != nil {
		return err
	}
	if err := t.bn.LoadStateDict(prefix+".bn1", src); err != nil {
		return err
	}
	return t.ops.LoadStateDict(prefix+".ops", src)
}

// UpTransition doubles spatial resolution with a transposed convolution and
// concatenates the skip tensor from the matching down stage. Dropout is
// applied only to the skip branch before concatenation; the upsampled
// branch is left untouched.
type UpTransition struct {
	upConv  *nn.ConvTranspose3d
	bn      *nn.BatchNorm3d
	dropout *nn.Dropout3d
	act1    *nn.Activation
	act2    *nn.Activation
	ops     *BlockStack
}

// NewUpTransition builds an up stage producing outChannels after skip
// concatenation.
func NewUpTransition(inChannels, outChannels, depth int, elu, bottleneck bool) (*UpTransition, error) {
	ops, err := NewBlockStack(outChannels, depth, elu, bottleneck)
	if err != nil {
		return nil, err
	}
	return &UpTransition{
		upConv:  nn.NewConvTranspose3d(inChannels, outChannels/2, 2, 2, 0),
		bn:      nn.NewBatchNorm3d(outChannels / 2),
		dropout: nn.NewDropout3d(0.2),
		act1:    nn.NewActivation(elu),
		act2:    nn.NewActivation(elu),
		ops:     ops,
	}, nil
}

func (t *UpTransition) Forward(x, skip *tensor.Tensor) (*tensor.Tensor, error) {
	skipDo, err := t.dropout.Forward(skip)
	if err != nil {
		return nil, err
	}
	up, err := t.upConv.Forward(x)
	if err != nil {
		return nil, err
	}
	if up, err = t.bn.Forward(up); err != nil {
		return nil, err
	}
	if up, err = t.act1.Forward(up); err != nil {
		return nil, err
	}
	xcat, err := tensor.ConcatChannel(up, skipDo)
	if err != nil {
		return nil, fmt.Errorf("skip concatenation failed: %v", err)
	}
	out, err := t.ops.Forward(xcat)
	if err != nil {
		return nil, err
	}
	if out, err = tensor.Add(out, xcat); err != nil {
		return nil, err
	}
	return t.act2.Forward(out)
}

func (t *UpTransition) Parameters() []*tensor.Tensor {
	params := append(t.upConv.Parameters(), t.bn.Parameters()...)
	return append(params, t.ops.Parameters()...)
}

func (t *UpTransition) Train() { t.upConv.Train(); t.bn.Train(); t.dropout.Train(); t.ops.Train() }
func (t *UpTransition) Eval()  { t.upConv.Eval(); t.bn.Eval(); t.dropout.Eval(); t.ops.Eval() }

func (t *UpTransition) Visit(fn func(layer nn.Module)) {
	fn(t.upConv)
	fn(t.bn)
	fn(t.dropout)
	t.ops.Visit(fn)
}

func (t *UpTransition) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	t.upConv.StateDict(prefix+".up_conv", dst)
	t.bn.StateDict(prefix+".bn1", dst)
	t.ops.StateDict(prefix+".ops", dst)
}

func (t *UpTransition) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := t.upConv.LoadStateDict(prefix+".up_conv", src); err != nil {
		return err
	}
	if err := t.bn.LoadStateDict(prefix+".bn1", src); err != nil {
		return err
	}
	return t.ops.LoadStateDict(prefix+".ops", src)
}

// OutputTransition maps features to per-voxel class probabilities:
// conv3x3x3 -> norm -> activation -> conv1x1x1 -> channel softmax.
type OutputTransition struct {
	conv1 *nn.Conv3d
	bn    *nn.BatchNorm3d
	act   *nn.Activation
	conv2 *nn.Conv3d
}

// NewOutputTransition maps inChannels to outChannels class scores.
func NewOutputTransition(inChannels, outChannels int, elu bool) *OutputTransition {
	return &OutputTransition{
		conv1: nn.NewConv3d(inChannels, outChannels, 3, 1, 1),
		bn:    nn.NewBatchNorm3d(outChannels),
		act:   nn.NewActivation(elu),
		conv2: nn.NewConv3d(outChannels, outChannels, 1, 1, 0),
	}
}

func (t *OutputTransition) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := t.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = t.bn.Forward(out); err != nil {
		return nil, err
	}
	if out, err = t.act.Forward(out); err != nil {
		return nil, err
	}
	if out, err = t.conv2.Forward(out); err != nil {
		return nil, err
	}
	return tensor.SoftmaxChannel(out)
}

// ClassifierBias exposes the final 1x1x1 convolution bias; the focal-prior
// initialization overwrites its object-class entry.
func (t *OutputTransition) ClassifierBias() *tensor.Tensor {
	return t.conv2.Bias()
}

func (t *OutputTransition) Parameters() []*tensor.Tensor {
	params := append(t.conv1.Parameters(), t.bn.Parameters()...)
	return append(params, t.conv2.Parameters()...)
}

func (t *OutputTransition) Train() { t.conv1.Train(); t.bn.Train(); t.conv2.Train() }
func (t *OutputTransition) Eval()  { t.conv1.Eval(); t.bn.Eval(); t.conv2.Eval() }

func (t *OutputTransition) Visit(fn func(layer nn.Module)) {
	fn(t.conv1)
	fn(t.bn)
	fn(t.conv2)
}

func (t *OutputTransition) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	t.conv1.StateDict(prefix+".conv1", dst)
	t.bn.StateDict(prefix+".bn1", dst)
	t.conv2.StateDict(prefix+".conv2", dst)
}

func (t *OutputTransition) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := t.conv1.LoadStateDict(prefix+".conv1", src); err != nil {
		return err
	}
	if err := t.bn.LoadStateDict(prefix+".bn1", src); err != nil {
		return err
	}
	return t.conv2.LoadStateDict(prefix+".conv2", src)
}

// PreBlock is the initial resolution-halving adapter in front of the
// encoder: conv2x2x2 stride 2 -> norm -> activation.
type PreBlock struct {
	conv *nn.Conv3d
	bn   *nn.BatchNorm3d
	act  *nn.Activation
}

// NewPreBlock builds the input adapter.
func NewPreBlock(inChannels, outChannels int, elu bool) *PreBlock {
	return &PreBlock{
		conv: nn.NewConv3d(inChannels, outChannels, 2, 2, 0),
		bn:   nn.NewBatchNorm3d(outChannels),
		act:  nn.NewActivation(elu),
	}
}

func (p *PreBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := p.conv.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = p.bn.Forward(out); err != nil {
		return nil, err
	}
	return p.act.Forward(out)
}

func (p *PreBlock) Parameters() []*tensor.Tensor {
	return append(p.conv.Parameters(), p.bn.Parameters()...)
}

func (p *PreBlock) Train() { p.conv.Train(); p.bn.Train() }
func (p *PreBlock) Eval()  { p.conv.Eval(); p.bn.Eval() }

func (p *PreBlock) Visit(fn func(layer nn.Module)) {
	fn(p.conv)
	fn(p.bn)
}

func (p *PreBlock) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	p.conv.StateDict(prefix+".conv", dst)
	p.bn.StateDict(prefix+".bn", dst)
}

func (p *PreBlock) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := p.conv.LoadStateDict(prefix+".conv", src); err != nil {
		return err
	}
	return p.bn.LoadStateDict(prefix+".bn", src)
}

// PostBlock restores the original resolution with a transposed convolution
// and concatenates the unmodified network input for the final refinement.
type PostBlock struct {
	upConv *nn.ConvTranspose3d
	bn     *nn.BatchNorm3d
	act    *nn.Activation
}

// NewPostBlock builds the output adapter.
func NewPostBlock(inChannels, outChannels int, elu bool) *PostBlock {
	return &PostBlock{
		upConv: nn.NewConvTranspose3d(inChannels, outChannels, 2, 2, 0),
		bn:     nn.NewBatchNorm3d(outChannels),
		act:    nn.NewActivation(elu),
	}
}

func (p *PostBlock) Forward(x, original *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := p.upConv.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = p.bn.Forward(out); err != nil {
		return nil, err
	}
	if out, err = p.act.Forward(out); err != nil {
		return nil, err
	}
	return tensor.ConcatChannel(out, original)
}

func (p *PostBlock) Parameters() []*tensor.Tensor {
	return append(p.upConv.Parameters(), p.bn.Parameters()...)
}

func (p *PostBlock) Train() { p.upConv.Train(); p.bn.Train() }
func (p *PostBlock) Eval()  { p.upConv.Eval(); p.bn.Eval() }

func (p *PostBlock) Visit(fn func(layer nn.Module)) {
	fn(p.upConv)
	fn(p.bn)
}

func (p *PostBlock) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	p.upConv.StateDict(prefix+".up_conv", dst)
	p.bn.StateDict(prefix+".up_bn", dst)
}

func (p *PostBlock) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := p.upConv.LoadStateDict(prefix+".up_conv", src); err != nil {
		return err
	}
	return p.bn.LoadStateDict(prefix+".up_bn", src)
}
