// Package dataset defines the data collaborator the training engine
// consumes: indexed access to (volume, mask) crops and the flat index
// stream that concatenates shuffled epochs.
package dataset

import (
	"fmt"
	"math/rand"

	"github.com/medvision/volseg/tensor"
)

// Dataset is the collaborator interface. A sample is one cropped volume
// (C, D, H, W) with its label mask (1, D, H, W) and an identifier for
// logging.
type Dataset interface {
	// Len returns the number of samples.
	Len() int

	// NumModalities returns the channel count of every volume.
	NumModalities() int

	// Sample returns the idx-th (volume, mask, identifier) triple.
	Sample(idx int) (volume, mask *tensor.Tensor, id string, err error)
}

// EpochConcatSampler flattens a configured number of epochs into one index
// stream. Each epoch is an independent shuffle of the dataset; the stream
// is deterministic for a given seed.
type EpochConcatSampler struct {
	ds     Dataset
	epochs int
	rng    *rand.Rand

	order  []int
	cursor int
}

// NewEpochConcatSampler builds the stream for epochs passes over ds.
func NewEpochConcatSampler(ds Dataset, epochs int, seed uint64) (*EpochConcatSampler, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if epochs <= 0 {
		return nil, fmt.Errorf("epoch count must be positive, got %d", epochs)
	}

	s := &EpochConcatSampler{
		ds:     ds,
		epochs: epochs,
		rng:    rand.New(rand.NewSource(int64(seed))),
	}
	s.order = make([]int, 0, epochs*ds.Len())
	for e := 0; e < epochs; e++ {
		epoch := s.rng.Perm(ds.Len())
		s.order = append(s.order, epoch...)
	}
	return s, nil
}

// Len returns the total number of indices in the stream.
func (s *EpochConcatSampler) Len() int { return len(s.order) }

// Next returns the next dataset index. ok is false once the stream is
// exhausted.
func (s *EpochConcatSampler) Next() (idx int, ok bool) {
	if s.cursor >= len(s.order) {
		return 0, false
	}
	idx = s.order[s.cursor]
	s.cursor++
	return idx, true
}

// Skip advances the stream by n indices, as when resuming from a saved
// batch offset.
func (s *EpochConcatSampler) Skip(n int) {
	s.cursor += n
	if s.cursor > len(s.order) {
		s.cursor = len(s.order)
	}
}

// NextBatch fetches batchSize samples and stacks them into one
// (N, C, D, H, W) volume and one (N, 1, D, H, W) mask. ok is false when
// the stream cannot fill a whole batch.
func (s *EpochConcatSampler) NextBatch(batchSize int) (volume, mask *tensor.Tensor, ids []string, ok bool, err error) {
	if batchSize <= 0 {
		return nil, nil, nil, false, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	volumes := make([]*tensor.Tensor, 0, batchSize)
	masks := make([]*tensor.Tensor, 0, batchSize)
	ids = make([]string, 0, batchSize)
	for len(volumes) < batchSize {
		idx, more := s.Next()
		if !more {
			return nil, nil, nil, false, nil
		}
		v, m, id, err := s.ds.Sample(idx)
		if err != nil {
			return nil, nil, nil, false, fmt.Errorf("failed to fetch sample %d: %v", idx, err)
		}
		volumes = append(volumes, v)
		masks = append(masks, m)
		ids = append(ids, id)
	}

	volume, err = Stack(volumes)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("failed to stack volumes: %v", err)
	}
	mask, err = Stack(masks)
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("failed to stack masks: %v", err)
	}
	return volume, mask, ids, true, nil
}

// Stack concatenates same-shaped samples along a new leading batch axis.
func Stack(samples []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("nothing to stack")
	}
	first := samples[0]
	for i, s := range samples[1:] {
		if len(s.Shape) != len(first.Shape) {
			return nil, fmt.Errorf("sample %d rank mismatch: %d vs %d", i+1, len(s.Shape), len(first.Shape))
		}
		for axis := range s.Shape {
			if s.Shape[axis] != first.Shape[axis] {
				return nil, fmt.Errorf("sample %d shape mismatch on axis %d: %d vs %d",
					i+1, axis, s.Shape[axis], first.Shape[axis])
			}
		}
	}

	shape := append([]int{len(samples)}, first.Shape...)
	data := make([]float32, 0, len(samples)*first.NumElems)
	for _, s := range samples {
		data = append(data, s.Data...)
	}
	return tensor.New(shape, data)
}
