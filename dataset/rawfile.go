package dataset

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/medvision/volseg/tensor"
)

// Manifest lists the pre-cropped samples of a raw-file dataset. Paths are
// relative to the manifest's directory.
type Manifest struct {
	Samples []ManifestSample `json:"samples"`
}

// ManifestSample names one (volume, mask) crop pair.
type ManifestSample struct {
	Volume string `json:"volume"`
	Mask   string `json:"mask"`
	ID     string `json:"id"`
}

// RawFileDataset serves crops stored as little-endian float32 raw files.
// Volumes hold channels*D*H*W values, masks D*H*W label values.
type RawFileDataset struct {
	dir      string
	samples  []ManifestSample
	channels int
	crop     [3]int
}

// OpenRawFileDataset reads a manifest and binds it to the expected
// modality count and crop size.
func OpenRawFileDataset(manifestPath string, channels int, crop [3]int) (*RawFileDataset, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %v", manifestPath, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %v", manifestPath, err)
	}
	if len(manifest.Samples) == 0 {
		return nil, fmt.Errorf("manifest %s lists no samples", manifestPath)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("modality count must be positive, got %d", channels)
	}
	return &RawFileDataset{
		dir:      filepath.Dir(manifestPath),
		samples:  manifest.Samples,
		channels: channels,
		crop:     crop,
	}, nil
}

func (d *RawFileDataset) Len() int           { return len(d.samples) }
func (d *RawFileDataset) NumModalities() int { return d.channels }

func (d *RawFileDataset) Sample(idx int) (*tensor.Tensor, *tensor.Tensor, string, error) {
	if idx < 0 || idx >= len(d.samples) {
		return nil, nil, "", fmt.Errorf("sample index %d out of range [0, %d)", idx, len(d.samples))
	}
	s := d.samples[idx]

	spatial := d.crop[0] * d.crop[1] * d.crop[2]
	volume, err := d.readRaw(s.Volume, d.channels*spatial)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read volume for %s: %v", s.ID, err)
	}
	mask, err := d.readRaw(s.Mask, spatial)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read mask for %s: %v", s.ID, err)
	}

	vt, err := tensor.New([]int{d.channels, d.crop[0], d.crop[1], d.crop[2]}, volume)
	if err != nil {
		return nil, nil, "", err
	}
	mt, err := tensor.New([]int{1, d.crop[0], d.crop[1], d.crop[2]}, mask)
	if err != nil {
		return nil, nil, "", err
	}
	return vt, mt, s.ID, nil
}

func (d *RawFileDataset) readRaw(name string, expected int) ([]float32, error) {
	raw, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, err
	}
	if len(raw) != 4*expected {
		return nil, fmt.Errorf("%s holds %d bytes, expected %d", name, len(raw), 4*expected)
	}
	values := make([]float32, expected)
	for i := range values {
		bits := binary.LittleEndian.Uint32(raw[4*i:])
		values[i] = math.Float32frombits(bits)
	}
	return values, nil
}
