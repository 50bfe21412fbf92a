package checkpoints

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/medvision/volseg/tensor"
)

// mapNet is a minimal stateful network for exercising the store.
type mapNet struct {
	state map[string]*tensor.Tensor
}

func newMapNet(t *testing.T) *mapNet {
	t.Helper()
	w, err := tensor.New([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	b, err := tensor.New([]int{2}, []float32{0.5, -0.5})
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	return &mapNet{state: map[string]*tensor.Tensor{
		"layer.weight": w,
		"layer.bias":   b,
	}}
}

func (m *mapNet) StateDict(prefix string, dst map[string]*tensor.Tensor) {
	for name, t := range m.state {
		if prefix != "" {
			name = prefix + "." + name
		}
		dst[name] = t
	}
}

func (m *mapNet) LoadStateDict(prefix string, src map[string]*tensor.Tensor) error {
	for name, t := range m.state {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		s, ok := src[key]
		if !ok {
			return fmt.Errorf("missing tensor %s", key)
		}
		if err := t.CopyFrom(s); err != nil {
			return err
		}
	}
	return nil
}

func TestExtractWeightsIsSortedAndDetached(t *testing.T) {
	net := newMapNet(t)
	weights := ExtractWeights(net)

	if len(weights) != 2 {
		t.Fatalf("extracted %d tensors, want 2", len(weights))
	}
	if weights[0].Name != "layer.bias" || weights[1].Name != "layer.weight" {
		t.Errorf("weights not name-sorted: %s, %s", weights[0].Name, weights[1].Name)
	}
	if weights[0].Type != "bias" || weights[1].Type != "weight" {
		t.Errorf("weight types = %s, %s", weights[0].Type, weights[1].Type)
	}

	// mutating the extracted copy must not touch the network
	weights[1].Data[0] = 99
	if net.state["layer.weight"].Data[0] != 1 {
		t.Error("extracted weights alias the network tensors")
	}
}

func TestLoadWeightsCountMismatch(t *testing.T) {
	net := newMapNet(t)
	weights := ExtractWeights(net)
	if err := LoadWeights(weights[:1], net); err == nil {
		t.Fatal("accepted a truncated weight list")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	net := newMapNet(t)

	configPath := filepath.Join(dir, "train.json")
	if err := os.WriteFile(configPath, []byte(`{"general":{}}`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	checkpoint := &Checkpoint{
		Weights: ExtractWeights(net),
		TrainingState: TrainingState{
			Epoch:        3,
			Batch:        120,
			LearningRate: 0.005,
		},
		Metadata: Metadata{
			Net:         "vsegnet",
			MaxStride:   32,
			InChannels:  1,
			OutChannels: 2,
		},
	}
	optState := &OptimizerState{
		Type:       "SGD",
		Parameters: map[string]interface{}{"learning_rate": 0.005},
		StateData: []OptimizerTensor{
			{Name: "momentum_0", Shape: []int{6}, Data: []float32{1, 2, 3, 4, 5, 6}, StateType: "momentum"},
		},
	}

	if err := store.Save(checkpoint, optState, configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// the checkpoint directory carries a copy of the run configuration
	if _, err := os.Stat(filepath.Join(store.Dir(3), "train.json")); err != nil {
		t.Errorf("config copy missing: %v", err)
	}

	loaded, loadedOpt, err := store.Load(3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.TrainingState.Epoch != 3 || loaded.TrainingState.Batch != 120 {
		t.Errorf("training state = %+v", loaded.TrainingState)
	}
	if loaded.Metadata.Net != "vsegnet" || loaded.Metadata.MaxStride != 32 {
		t.Errorf("metadata = %+v", loaded.Metadata)
	}
	if loadedOpt == nil || loadedOpt.Type != "SGD" {
		t.Fatalf("optimizer state = %+v", loadedOpt)
	}
	if len(loadedOpt.StateData) != 1 || loadedOpt.StateData[0].Name != "momentum_0" {
		t.Errorf("optimizer tensors = %+v", loadedOpt.StateData)
	}

	// weights must restore bit-identically
	restored := newMapNet(t)
	for _, tensorState := range restored.state {
		for i := range tensorState.Data {
			tensorState.Data[i] = 0
		}
	}
	if err := LoadWeights(loaded.Weights, restored); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	for name, want := range net.state {
		got := restored.state[name]
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Fatalf("tensor %s differs at element %d: %f vs %f",
					name, i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestStoreLoadMissingEpoch(t *testing.T) {
	store := NewStore(t.TempDir())
	_, _, err := store.Load(7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreLatestEpoch(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if _, err := store.LatestEpoch(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: err = %v, want ErrNotFound", err)
	}

	net := newMapNet(t)
	for _, epoch := range []int{1, 5, 3} {
		checkpoint := &Checkpoint{
			Weights:       ExtractWeights(net),
			TrainingState: TrainingState{Epoch: epoch},
		}
		if err := store.Save(checkpoint, nil, ""); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	latest, err := store.LatestEpoch()
	if err != nil {
		t.Fatalf("LatestEpoch failed: %v", err)
	}
	if latest != 5 {
		t.Errorf("latest epoch = %d, want 5", latest)
	}
}

func TestCheckpointSaverMissingFile(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON)
	_, err := saver.LoadCheckpoint(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
