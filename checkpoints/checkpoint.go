// Package checkpoints serializes network weights, optimizer state and
// training metadata, and manages the per-epoch checkpoint directories of a
// training run.
package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/medvision/volseg/tensor"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatONNX:
		return "ONNX"
	default:
		return "Unknown"
	}
}

// ErrNotFound reports that a requested checkpoint directory or file does
// not exist. Resuming from a missing checkpoint is a fatal condition for
// the caller.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint represents a complete model state including weights, training
// progress and reload metadata.
type Checkpoint struct {
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Type  string    `json:"type"` // "weight", "bias", "gamma", "beta", etc.
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Batch        int64   `json:"batch"`
	LearningRate float32 `json:"learning_rate"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "SGD", "Adam", etc.
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "m", "v", etc.
}

// Preprocessing records the input conditioning a reloaded model expects.
type Preprocessing struct {
	Spacing         []float64        `json:"spacing"`
	Interpolation   string           `json:"interpolation"`
	PadType         string           `json:"pad_type"`
	DefaultValues   []float64        `json:"default_values"`
	CropNormalizers []NormalizerSpec `json:"crop_normalizers"`
}

// NormalizerSpec identifies one per-modality intensity normalizer.
type NormalizerSpec struct {
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params,omitempty"`
}

// Metadata is everything a loader needs to rebuild and feed the network.
type Metadata struct {
	Version       string        `json:"version"`
	Framework     string        `json:"framework"`
	CreatedAt     time.Time     `json:"created_at"`
	Net           string        `json:"net"`
	MaxStride     int           `json:"max_stride"`
	InChannels    int           `json:"in_channels"`
	OutChannels   int           `json:"out_channels"`
	Preprocessing Preprocessing `json:"preprocessing"`
}

// StatefulNetwork is the network surface the store serializes.
type StatefulNetwork interface {
	StateDict(prefix string, dst map[string]*tensor.Tensor)
	LoadStateDict(prefix string, src map[string]*tensor.Tensor) error
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatONNX:
		exporter := NewONNXExporter()
		return exporter.ExportToONNX(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "volseg"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// ExtractWeights flattens a network state dict into a deterministic,
// name-sorted weight list.
func ExtractWeights(net StatefulNetwork) []WeightTensor {
	state := make(map[string]*tensor.Tensor)
	net.StateDict("", state)

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	weights := make([]WeightTensor, 0, len(names))
	for _, name := range names {
		t := state[name]
		data := make([]float32, len(t.Data))
		copy(data, t.Data)
		weights = append(weights, WeightTensor{
			Name:  name,
			Shape: append([]int(nil), t.Shape...),
			Data:  data,
			Type:  weightType(name),
		})
	}
	return weights
}

// LoadWeights restores a weight list into a network through its state dict.
func LoadWeights(weights []WeightTensor, net StatefulNetwork) error {
	state := make(map[string]*tensor.Tensor)
	net.StateDict("", state)

	if len(weights) != len(state) {
		return fmt.Errorf("weight count mismatch: checkpoint has %d tensors, network has %d", len(weights), len(state))
	}

	src := make(map[string]*tensor.Tensor, len(weights))
	for _, w := range weights {
		t, err := tensor.New(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("invalid checkpoint tensor %s: %v", w.Name, err)
		}
		src[w.Name] = t
	}

	return net.LoadStateDict("", src)
}

func weightType(name string) string {
	switch {
	case strings.HasSuffix(name, ".running_mean"):
		return "running_mean"
	case strings.HasSuffix(name, ".running_var"):
		return "running_var"
	case strings.Contains(name, "bn") && strings.HasSuffix(name, ".weight"):
		return "gamma"
	case strings.Contains(name, "bn") && strings.HasSuffix(name, ".bias"):
		return "beta"
	case strings.HasSuffix(name, ".bias"):
		return "bias"
	default:
		return "weight"
	}
}

// Store manages the checkpoints/chk_<epoch> directory tree under a run's
// save directory.
type Store struct {
	saveDir string
	saver   *CheckpointSaver
}

// NewStore creates a store rooted at saveDir. The checkpoints subdirectory
// is created on first save.
func NewStore(saveDir string) *Store {
	return &Store{saveDir: saveDir, saver: NewCheckpointSaver(FormatJSON)}
}

// Root returns the directory that holds the per-epoch checkpoints.
func (s *Store) Root() string {
	return filepath.Join(s.saveDir, "checkpoints")
}

// Dir returns the directory of one epoch's checkpoint.
func (s *Store) Dir(epoch int) string {
	return filepath.Join(s.Root(), fmt.Sprintf("chk_%d", epoch))
}

// Save writes params.json, optimizer.json and a copy of the run
// configuration into the epoch's checkpoint directory.
func (s *Store) Save(checkpoint *Checkpoint, optState *OptimizerState, configPath string) error {
	dir := s.Dir(checkpoint.TrainingState.Epoch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	if err := s.saver.SaveCheckpoint(checkpoint, filepath.Join(dir, "params.json")); err != nil {
		return err
	}

	if optState != nil {
		if err := saveOptimizerState(optState, filepath.Join(dir, "optimizer.json")); err != nil {
			return err
		}
	}

	if configPath != "" {
		dst := filepath.Join(dir, filepath.Base(configPath))
		if err := copyFile(configPath, dst); err != nil {
			return fmt.Errorf("failed to copy config into checkpoint: %v", err)
		}
	}

	return nil
}

// Load reads one epoch's checkpoint. The optimizer state is nil when
// optimizer.json is absent.
func (s *Store) Load(epoch int) (*Checkpoint, *OptimizerState, error) {
	dir := s.Dir(epoch)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, nil, fmt.Errorf("failed to stat checkpoint directory: %v", err)
	}

	checkpoint, err := s.saver.LoadCheckpoint(filepath.Join(dir, "params.json"))
	if err != nil {
		return nil, nil, err
	}

	optState, err := loadOptimizerState(filepath.Join(dir, "optimizer.json"))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, err
	}

	return checkpoint, optState, nil
}

// LatestEpoch returns the highest epoch with a saved checkpoint, or
// ErrNotFound when the store is empty.
func (s *Store) LatestEpoch() (int, error) {
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to read checkpoint root: %v", err)
	}

	latest := -1
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "chk_") {
			continue
		}
		epoch, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "chk_"))
		if err != nil {
			continue
		}
		if epoch > latest {
			latest = epoch
		}
	}
	if latest < 0 {
		return 0, ErrNotFound
	}
	return latest, nil
}

func saveOptimizerState(state *OptimizerState, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create optimizer state file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode optimizer state: %v", err)
	}
	return nil
}

func loadOptimizerState(path string) (*OptimizerState, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open optimizer state file: %v", err)
	}
	defer file.Close()

	var state OptimizerState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode optimizer state: %v", err)
	}
	return &state, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
