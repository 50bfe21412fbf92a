// Package network defines the volumetric encoder-decoder segmentation
// architecture: convolution blocks, resolution transitions and the network
// that composes them.
package network

import (
	"fmt"

	"github.com/medvision/volseg/nn"
	"github.com/medvision/volseg/tensor"
)

// ConvBlock is the atomic learnable unit at a fixed channel width. The
// plain variant is conv3x3x3 -> norm -> activation; the bottleneck variant
// reduces to nchan/4, convolves, and expands back. When applyFinalAct is
// false the terminal activation is suppressed so the enclosing stage can
// activate once after its residual addition.
type ConvBlock struct {
	bottleneck    bool
	applyFinalAct bool

	conv1 *nn.Conv3d
	bn1   *nn.BatchNorm3d
	act1  *nn.Activation

	// bottleneck variant only
	conv2 *nn.Conv3d
	bn2   *nn.BatchNorm3d
	act2  *nn.Activation
	conv3 *nn.Conv3d
	bn3   *nn.BatchNorm3d
}

// NewConvBlock builds one block at width nchan. The bottleneck variant
// requires nchan to be divisible by 4.
func NewConvBlock(nchan int, elu, bottleneck, applyFinalAct bool) (*ConvBlock, error) {
	b := &ConvBlock{bottleneck: bottleneck, applyFinalAct: applyFinalAct}
	if !bottleneck {
		b.conv1 = nn.NewConv3d(nchan, nchan, 3, 1, 1)
		b.bn1 = nn.NewBatchNorm3d(nchan)
		b.act1 = nn.NewActivation(elu)
		return b, nil
	}
	if nchan%4 != 0 {
		return nil, fmt.Errorf("bottleneck block requires channel count divisible by 4, got %d", nchan)
	}
	mid := nchan / 4
	b.conv1 = nn.NewConv3d(nchan, mid, 1, 1, 0)
	b.bn1 = nn.NewBatchNorm3d(mid)
	b.act1 = nn.NewActivation(elu)
	b.conv2 = nn.NewConv3d(mid, mid, 3, 1, 1)
	b.bn2 = nn.NewBatchNorm3d(mid)
	b.act2 = nn.NewActivation(elu)
	b.conv3 = nn.NewConv3d(mid, nchan, 1, 1, 0)
	b.bn3 = nn.NewBatchNorm3d(nchan)
	return b, nil
}

// Forward applies the block.
func (b *ConvBlock) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := b.conv1.Forward(x)
	if err != nil {
		return nil, err
	}
	if out, err = b.bn1.Forward(out); err != nil {
		return nil, err
	}
	if !b.bottleneck {
		if b.applyFinalAct {
			return b.act1.Forward(out)
		}
		return out, nil
	}
	if out, err = b.act1.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.conv2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.bn2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.act2.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.conv3.Forward(out); err != nil {
		return nil, err
	}
	if out, err = b.bn3.Forward(out); err != nil {
		return nil, err
	}
	if b.applyFinalAct {
		return b.act1.Forward(out)
	}
	return out, nil
}

func (b *ConvBlock) Parameters() []*tensor.Tensor {
	params := append(b.conv1.Parameters(), b.bn1.Parameters()...)
	if b.bottleneck {
		params = append(params, b.conv2.Parameters()...)
		params = append(params, b.bn2.Parameters()...)
		params = append(params, b.conv3.Parameters()...)
		params = append(params, b.bn3.Parameters()...)
	}
	return params
}

func (b *ConvBlock) Train() {
	b.conv1.Train()
	b.bn1.Train()
	if b.bottleneck {
		b.conv2.Train()
		b.bn2.Train()
		b.conv3.Train()
		b.bn3.Train()
	}
}

func (b *ConvBlock) Eval() {
	b.conv1.Eval()
	b.bn1.Eval()
	if b.bottleneck {
		b.conv2.Eval()
		b.bn2.Eval()
		b.conv3.Eval()
		b.bn3.Eval()
	}
}

func (b *ConvBlock) IsTraining() bool   { return b.conv1.IsTraining() }
func (b *ConvBlock) Kind() nn.LayerKind { return nn.KindContainer }

func (b *ConvBlock) Visit(fn func(layer nn.Module)) {
	fn(b.conv1)
	fn(b.bn1)
	if b.bottleneck {
		fn(b.conv2)
		fn(b.bn2)
		fn(b.conv3)
		fn(b.bn3)
	}
}

func (b *ConvBlock) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	b.conv1.StateDict(prefix+".conv1", dst)
	b.bn1.StateDict(prefix+".bn1", dst)
	if b.bottleneck {
		b.conv2.StateDict(prefix+".conv2", dst)
		b.bn2.StateDict(prefix+".bn2", dst)
		b.conv3.StateDict(prefix+".conv3", dst)
		b.bn3.StateDict(prefix+".bn3", dst)
	}
}

func (b *ConvBlock) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	if err := b.conv1.LoadStateDict(prefix+".conv1", src); err != nil {
		return err
	}
	if err := b.bn1.LoadStateDict(prefix+".bn1", src); err != nil {
		return err
	}
	if !b.bottleneck {
		return nil
	}
	if err := b.conv2.LoadStateDict(prefix+".conv2", src); err != nil {
		return err
	}
	if err := b.bn2.LoadStateDict(prefix+".bn2", src); err != nil {
		return err
	}
	if err := b.conv3.LoadStateDict(prefix+".conv3", src); err != nil {
		return err
	}
	return b.bn3.LoadStateDict(prefix+".bn3", src)
}

// BlockStack composes depth ConvBlocks at constant width. Every block
// activates its output except the last, whose activation is deferred to
// the enclosing stage's residual junction.
type BlockStack struct {
	blocks []*ConvBlock
}

// NewBlockStack builds depth blocks at width nchan.
func NewBlockStack(nchan, depth int, elu, bottleneck bool) (*BlockStack, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("block stack depth must be positive, got %d", depth)
	}
	s := &BlockStack{blocks: make([]*ConvBlock, depth)}
	for i := 0; i < depth; i++ {
		block, err := NewConvBlock(nchan, elu, bottleneck, i != depth-1)
		if err != nil {
			return nil, err
		}
		s.blocks[i] = block
	}
	return s, nil
}

// Forward applies the blocks in order.
func (s *BlockStack) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x
	var err error
	for i, block := range s.blocks {
		if out, err = block.Forward(out); err != nil {
			return nil, fmt.Errorf("block %d failed: %v", i, err)
		}
	}
	return out, nil
}

func (s *BlockStack) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, block := range s.blocks {
		params = append(params, block.Parameters()...)
	}
	return params
}

func (s *BlockStack) Train() {
	for _, block := range s.blocks {
		block.Train()
	}
}

func (s *BlockStack) Eval() {
	for _, block := range s.blocks {
		block.Eval()
	}
}

func (s *BlockStack) Visit(fn func(layer nn.Module)) {
	for _, block := range s.blocks {
		block.Visit(fn)
	}
}

func (s *BlockStack) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	for i, block := range s.blocks {
		block.StateDict(fmt.Sprintf("%s.%d", prefix, i), dst)
	}
}

func (s *BlockStack) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	for i, block := range s.blocks {
		if err := block.LoadStateDict(fmt.Sprintf("%s.%d", prefix, i), src); err != nil {
			return err
		}
	}
	return nil
}
