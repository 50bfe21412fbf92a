// Package config defines the declarative run configuration of a training
// job and its validation rules. A run is fully described by one JSON file;
// nothing behavioral lives in code outside it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// GeneralConfig controls run placement and resumption.
type GeneralConfig struct {
	SaveDir string `json:"save_dir"`
	// Overwrite permits reuse of a non-empty save directory. Starting a
	// fresh run into an existing directory without it is a fatal error.
	Overwrite       bool   `json:"overwrite"`
	ResumeEpoch     int    `json:"resume_epoch"`      // -1 disables resume
	ClearStartEpoch bool   `json:"clear_start_epoch"` // resume weights but restart the batch counter
	Seed            uint64 `json:"seed"`
	Device          string `json:"device"` // "cpu" or "auto"
	RunLabel        string `json:"run_label,omitempty"`
}

// NormalizerConfig selects one per-modality intensity normalizer.
type NormalizerConfig struct {
	Type   string             `json:"type"`
	Params map[string]float64 `json:"params,omitempty"`
}

// DatasetConfig describes the training data and its conditioning.
type DatasetConfig struct {
	NumClasses    int                `json:"num_classes"`
	NumModalities int                `json:"num_modalities"`
	Manifest      string             `json:"manifest,omitempty"`
	CropSize      [3]int             `json:"crop_size"`
	Spacing       []float64          `json:"spacing"`
	Interpolation string             `json:"interpolation"`
	PadType       string             `json:"pad_type"`
	DefaultValues []float64          `json:"default_values"`
	Normalizers   []NormalizerConfig `json:"crop_normalizers,omitempty"`
}

// InitConfig selects the weight-initialization policy.
type InitConfig struct {
	Policy  string  `json:"policy"` // "gaussian", "kaiming" or "focal"
	ConvStd float64 `json:"conv_std"`
	BNStd   float64 `json:"bn_std"`
	ObjP    float64 `json:"obj_p,omitempty"` // focal policy only
}

// NetConfig selects and parameterizes the architecture.
type NetConfig struct {
	Name string     `json:"name"`
	ELU  bool       `json:"elu"`
	Init InitConfig `json:"init"`
}

// OptimizerConfig selects and parameterizes the optimizer.
type OptimizerConfig struct {
	Name        string  `json:"name"`
	Momentum    float64 `json:"momentum,omitempty"`
	WeightDecay float64 `json:"weight_decay,omitempty"`
	Nesterov    bool    `json:"nesterov,omitempty"`
	Beta1       float64 `json:"beta1,omitempty"`
	Beta2       float64 `json:"beta2,omitempty"`
	Epsilon     float64 `json:"epsilon,omitempty"`
}

// SchedulerConfig selects and parameterizes the learning-rate schedule.
type SchedulerConfig struct {
	Name     string  `json:"name"` // "constant", "step", "exponential" or "cosine"
	StepSize int     `json:"step_size,omitempty"`
	Gamma    float64 `json:"gamma,omitempty"`
	TMax     int     `json:"t_max,omitempty"`
	EtaMin   float64 `json:"eta_min,omitempty"`
}

// TrainConfig controls the optimization loop.
type TrainConfig struct {
	Epochs       int             `json:"epochs"`
	BatchSize    int             `json:"batchsize"`
	LR           float64         `json:"lr"`
	Optimizer    OptimizerConfig `json:"optimizer"`
	LRScheduler  SchedulerConfig `json:"lr_scheduler"`
	SaveEpochs   int             `json:"save_epochs"`
	PlotSnapshot int             `json:"plot_snapshot"`
}

// LossConfig enables loss terms by tag and parameterizes them. Name holds
// the enabled tags ("Dice", "Focal", "Boundary"); LossWeight is the
// parallel per-term weight list.
type LossConfig struct {
	Name       []string  `json:"name"`
	LossWeight []float32 `json:"loss_weight"`
	ObjWeight  []float32 `json:"obj_weight,omitempty"`
	FocalGamma float64   `json:"focal_gamma,omitempty"`
	Level      int       `json:"level,omitempty"`
	KMax       int       `json:"k_max,omitempty"`
}

// PlottingConfig points at the progress-plot sidecar. Failures against it
// never abort training.
type PlottingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"`
}

// TelemetryConfig points at the metrics collector. An empty endpoint
// disables telemetry.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Dataset   DatasetConfig   `json:"dataset"`
	Net       NetConfig       `json:"net"`
	Train     TrainConfig     `json:"train"`
	Loss      LossConfig      `json:"loss"`
	Plotting  PlottingConfig  `json:"plotting"`
	Telemetry TelemetryConfig `json:"telemetry"`

	// Path records where the configuration was loaded from so checkpoints
	// can keep a provenance copy. Not part of the schema.
	Path string `json:"-"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %v", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %v", path, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with the documented defaults filled in.
// Loading overlays the file on top of these.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			ResumeEpoch: -1,
			Seed:        1,
			Device:      "auto",
		},
		Dataset: DatasetConfig{
			Interpolation: "linear",
			PadType:       "zero",
		},
		Net: NetConfig{
			Name: "vsegnet",
			ELU:  true,
			Init: InitConfig{Policy: "kaiming", ConvStd: 0.01, BNStd: 0.02},
		},
		Train: TrainConfig{
			BatchSize:    1,
			LR:           0.01,
			Optimizer:    OptimizerConfig{Name: "adam", Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
			LRScheduler:  SchedulerConfig{Name: "constant"},
			SaveEpochs:   1,
			PlotSnapshot: 10,
		},
		Loss: LossConfig{
			Name:       []string{"Dice"},
			LossWeight: []float32{1},
			FocalGamma: 2,
			Level:      1,
			KMax:       4,
		},
	}
}

var knownLossTags = map[string]bool{"Dice": true, "Focal": true, "Boundary": true}

// Validate checks the cross-field invariants the training engine depends
// on. It does not check stride divisibility of the crop size; that needs
// the instantiated network and is enforced by the caller.
func (c *Config) Validate() error {
	if c.General.SaveDir == "" {
		return fmt.Errorf("general.save_dir is required")
	}
	if c.Dataset.NumClasses < 2 {
		return fmt.Errorf("dataset.num_classes must be at least 2, got %d", c.Dataset.NumClasses)
	}
	if c.Dataset.NumModalities <= 0 {
		return fmt.Errorf("dataset.num_modalities must be positive, got %d", c.Dataset.NumModalities)
	}
	for axis, extent := range c.Dataset.CropSize {
		if extent <= 0 {
			return fmt.Errorf("dataset.crop_size axis %d must be positive, got %d", axis, extent)
		}
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be positive, got %d", c.Train.Epochs)
	}
	if c.Train.BatchSize <= 0 {
		return fmt.Errorf("train.batchsize must be positive, got %d", c.Train.BatchSize)
	}
	if c.Train.LR <= 0 {
		return fmt.Errorf("train.lr must be positive, got %g", c.Train.LR)
	}
	if c.Train.SaveEpochs <= 0 {
		return fmt.Errorf("train.save_epochs must be positive, got %d", c.Train.SaveEpochs)
	}
	if c.Train.PlotSnapshot <= 0 {
		return fmt.Errorf("train.plot_snapshot must be positive, got %d", c.Train.PlotSnapshot)
	}

	if len(c.Loss.Name) == 0 {
		return fmt.Errorf("loss.name must enable at least one term")
	}
	for _, tag := range c.Loss.Name {
		if !knownLossTags[tag] {
			return fmt.Errorf("unknown loss term %q, supported: Dice, Focal, Boundary", tag)
		}
	}
	if len(c.Loss.Name) != len(c.Loss.LossWeight) {
		return fmt.Errorf("number of loss terms (%d) must equal number of loss weights (%d)",
			len(c.Loss.Name), len(c.Loss.LossWeight))
	}
	if c.Loss.ObjWeight != nil && len(c.Loss.ObjWeight) != c.Dataset.NumClasses {
		return fmt.Errorf("loss.obj_weight must have one entry per class: expected %d, got %d",
			c.Dataset.NumClasses, len(c.Loss.ObjWeight))
	}

	switch strings.ToLower(c.General.Device) {
	case "cpu", "auto":
	default:
		return fmt.Errorf("unsupported device %q, supported: cpu, auto", c.General.Device)
	}

	switch strings.ToLower(c.Net.Init.Policy) {
	case "gaussian", "kaiming":
	case "focal":
		if c.Net.Init.ObjP <= 0 || c.Net.Init.ObjP >= 1 {
			return fmt.Errorf("net.init.obj_p must lie in (0, 1) for the focal policy, got %g", c.Net.Init.ObjP)
		}
	default:
		return fmt.Errorf("unknown init policy %q, supported: gaussian, kaiming, focal", c.Net.Init.Policy)
	}

	return nil
}
