package dataset

import (
	"testing"

	"github.com/medvision/volseg/tensor"
)

func tinyDataset(t *testing.T, n int) *InMemoryDataset {
	t.Helper()
	volumes := make([]*tensor.Tensor, n)
	masks := make([]*tensor.Tensor, n)
	ids := make([]string, n)
	for i := range volumes {
		volumes[i] = tensor.Full(float32(i), 2, 4, 4, 4)
		masks[i] = tensor.Zeros(1, 4, 4, 4)
		ids[i] = string(rune('a' + i))
	}
	ds, err := NewInMemoryDataset(volumes, masks, ids)
	if err != nil {
		t.Fatalf("NewInMemoryDataset failed: %v", err)
	}
	return ds
}

func TestSamplerConcatenatesEpochs(t *testing.T) {
	ds := tinyDataset(t, 3)
	s, err := NewEpochConcatSampler(ds, 4, 1)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}

	if got, want := s.Len(), 12; got != want {
		t.Fatalf("stream length = %d, want %d", got, want)
	}

	// every epoch is a permutation: each index appears once per epoch
	seen := make(map[int]int)
	for i := 0; i < 12; i++ {
		idx, ok := s.Next()
		if !ok {
			t.Fatalf("stream exhausted at %d", i)
		}
		seen[idx]++
		if (i+1)%3 == 0 {
			for j := 0; j < 3; j++ {
				if seen[j] != 1 {
					t.Fatalf("index %d drawn %d times within one epoch", j, seen[j])
				}
			}
			seen = make(map[int]int)
		}
	}
	if _, ok := s.Next(); ok {
		t.Error("stream did not report exhaustion")
	}
}

func TestSamplerDeterministicForSeed(t *testing.T) {
	ds := tinyDataset(t, 5)
	a, err := NewEpochConcatSampler(ds, 2, 7)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}
	b, err := NewEpochConcatSampler(ds, 2, 7)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}

	for i := 0; i < a.Len(); i++ {
		x, _ := a.Next()
		y, _ := b.Next()
		if x != y {
			t.Fatalf("streams diverge at %d: %d vs %d", i, x, y)
		}
	}
}

func TestSamplerSkip(t *testing.T) {
	ds := tinyDataset(t, 4)
	full, err := NewEpochConcatSampler(ds, 2, 2)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}
	skipped, err := NewEpochConcatSampler(ds, 2, 2)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		full.Next()
	}
	skipped.Skip(3)

	for i := 3; i < full.Len(); i++ {
		x, _ := full.Next()
		y, _ := skipped.Next()
		if x != y {
			t.Fatalf("skip diverges at %d: %d vs %d", i, x, y)
		}
	}
}

func TestNextBatchStacksSamples(t *testing.T) {
	ds := tinyDataset(t, 4)
	s, err := NewEpochConcatSampler(ds, 1, 1)
	if err != nil {
		t.Fatalf("NewEpochConcatSampler failed: %v", err)
	}

	volume, mask, ids, ok, err := s.NextBatch(2)
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if !ok {
		t.Fatal("stream ended before the first batch")
	}

	wantVolume := []int{2, 2, 4, 4, 4}
	for i, extent := range wantVolume {
		if volume.Shape[i] != extent {
			t.Fatalf("volume shape = %v, want %v", volume.Shape, wantVolume)
		}
	}
	wantMask := []int{2, 1, 4, 4, 4}
	for i, extent := range wantMask {
		if mask.Shape[i] != extent {
			t.Fatalf("mask shape = %v, want %v", mask.Shape, wantMask)
		}
	}
	if len(ids) != 2 {
		t.Errorf("got %d ids, want 2", len(ids))
	}

	// 4 samples, batch 2: one more full batch, then exhaustion
	if _, _, _, ok, err := s.NextBatch(2); err != nil || !ok {
		t.Fatalf("second batch: ok=%v err=%v", ok, err)
	}
	if _, _, _, ok, err := s.NextBatch(2); err != nil || ok {
		t.Fatalf("exhausted stream: ok=%v err=%v", ok, err)
	}
}

func TestStackRejectsShapeMismatch(t *testing.T) {
	a := tensor.Zeros(1, 4, 4, 4)
	b := tensor.Zeros(1, 4, 4, 2)
	if _, err := Stack([]*tensor.Tensor{a, b}); err == nil {
		t.Fatal("stacked mismatched shapes")
	}
	if _, err := Stack(nil); err == nil {
		t.Fatal("stacked an empty sample list")
	}
}

func TestInMemoryDatasetValidation(t *testing.T) {
	volume := tensor.Zeros(2, 4, 4, 4)
	mask := tensor.Zeros(1, 4, 4, 4)

	if _, err := NewInMemoryDataset(nil, nil, nil); err == nil {
		t.Error("accepted an empty dataset")
	}
	if _, err := NewInMemoryDataset(
		[]*tensor.Tensor{volume},
		[]*tensor.Tensor{tensor.Zeros(2, 4, 4, 4)},
		[]string{"x"},
	); err == nil {
		t.Error("accepted a two-channel mask")
	}
	if _, err := NewInMemoryDataset(
		[]*tensor.Tensor{volume, tensor.Zeros(3, 4, 4, 4)},
		[]*tensor.Tensor{mask, tensor.Zeros(1, 4, 4, 4)},
		[]string{"x", "y"},
	); err == nil {
		t.Error("accepted inconsistent modality counts")
	}

	ds, err := NewInMemoryDataset([]*tensor.Tensor{volume}, []*tensor.Tensor{mask}, []string{"x"})
	if err != nil {
		t.Fatalf("NewInMemoryDataset failed: %v", err)
	}
	if _, _, _, err := ds.Sample(5); err == nil {
		t.Error("accepted an out-of-range sample index")
	}
}
