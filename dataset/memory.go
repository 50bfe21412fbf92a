package dataset

import (
	"fmt"

	"github.com/medvision/volseg/tensor"
)

// InMemoryDataset serves pre-cropped samples held in memory. It backs
// tests and small smoke runs; production data loading lives behind the
// same Dataset interface.
type InMemoryDataset struct {
	volumes []*tensor.Tensor
	masks   []*tensor.Tensor
	ids     []string
}

// NewInMemoryDataset wraps parallel volume/mask/id slices.
func NewInMemoryDataset(volumes, masks []*tensor.Tensor, ids []string) (*InMemoryDataset, error) {
	if len(volumes) == 0 {
		return nil, fmt.Errorf("dataset needs at least one sample")
	}
	if len(volumes) != len(masks) || len(volumes) != len(ids) {
		return nil, fmt.Errorf("volumes, masks and ids must be parallel: %d/%d/%d",
			len(volumes), len(masks), len(ids))
	}
	channels := volumes[0].Shape[0]
	for i, v := range volumes {
		if len(v.Shape) != 4 {
			return nil, fmt.Errorf("volume %d must be 4-D (CDHW), got %d-D", i, len(v.Shape))
		}
		if v.Shape[0] != channels {
			return nil, fmt.Errorf("volume %d modality count %d differs from %d", i, v.Shape[0], channels)
		}
		if len(masks[i].Shape) != 4 || masks[i].Shape[0] != 1 {
			return nil, fmt.Errorf("mask %d must be (1, D, H, W), got %v", i, masks[i].Shape)
		}
	}
	return &InMemoryDataset{volumes: volumes, masks: masks, ids: ids}, nil
}

func (d *InMemoryDataset) Len() int           { return len(d.volumes) }
func (d *InMemoryDataset) NumModalities() int { return d.volumes[0].Shape[0] }

func (d *InMemoryDataset) Sample(idx int) (*tensor.Tensor, *tensor.Tensor, string, error) {
	if idx < 0 || idx >= len(d.volumes) {
		return nil, nil, "", fmt.Errorf("sample index %d out of range [0, %d)", idx, len(d.volumes))
	}
	return d.volumes[idx], d.masks[idx], d.ids[idx], nil
}
