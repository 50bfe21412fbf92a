package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfigJSON() string {
	return `{
  "general": {"save_dir": "/tmp/run", "device": "cpu", "seed": 5},
  "dataset": {
    "num_classes": 2,
    "num_modalities": 1,
    "crop_size": [32, 32, 32],
    "spacing": [1.0, 1.0, 1.0]
  },
  "net": {"name": "vsegnet", "elu": true, "init": {"policy": "kaiming"}},
  "train": {
    "epochs": 10,
    "batchsize": 2,
    "lr": 0.001,
    "optimizer": {"name": "adam"},
    "lr_scheduler": {"name": "step", "step_size": 5, "gamma": 0.5},
    "save_epochs": 2,
    "plot_snapshot": 20
  },
  "loss": {"name": ["Dice", "Focal"], "loss_weight": [0.7, 0.3], "focal_gamma": 2}
}`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfigJSON())
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Path != path {
		t.Errorf("path = %q, want %q", cfg.Path, path)
	}
	if cfg.General.SaveDir != "/tmp/run" || cfg.General.Seed != 5 {
		t.Errorf("general = %+v", cfg.General)
	}
	if cfg.Dataset.CropSize != [3]int{32, 32, 32} {
		t.Errorf("crop size = %v", cfg.Dataset.CropSize)
	}
	if cfg.Train.BatchSize != 2 || cfg.Train.LR != 0.001 {
		t.Errorf("train = %+v", cfg.Train)
	}
	if len(cfg.Loss.Name) != 2 || cfg.Loss.Name[1] != "Focal" {
		t.Errorf("loss terms = %v", cfg.Loss.Name)
	}
	if cfg.Train.LRScheduler.Name != "step" || cfg.Train.LRScheduler.StepSize != 5 {
		t.Errorf("scheduler = %+v", cfg.Train.LRScheduler)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
  "general": {"save_dir": "/tmp/run"},
  "dataset": {"num_classes": 2, "num_modalities": 1, "crop_size": [32, 32, 32]},
  "train": {"epochs": 1}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.General.ResumeEpoch != -1 {
		t.Errorf("resume epoch = %d, want -1 by default", cfg.General.ResumeEpoch)
	}
	if cfg.General.Device != "auto" {
		t.Errorf("device = %q, want auto by default", cfg.General.Device)
	}
	if cfg.Train.BatchSize != 1 || cfg.Train.SaveEpochs != 1 {
		t.Errorf("train defaults = %+v", cfg.Train)
	}
	if cfg.Net.Init.Policy != "kaiming" {
		t.Errorf("init policy = %q, want kaiming by default", cfg.Net.Init.Policy)
	}
	if len(cfg.Loss.Name) != 1 || cfg.Loss.Name[0] != "Dice" {
		t.Errorf("default loss terms = %v", cfg.Loss.Name)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.General.SaveDir = "/tmp/run"
		cfg.Dataset.NumClasses = 2
		cfg.Dataset.NumModalities = 1
		cfg.Dataset.CropSize = [3]int{32, 32, 32}
		cfg.Train.Epochs = 1
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing save dir", func(c *Config) { c.General.SaveDir = "" }},
		{"single class", func(c *Config) { c.Dataset.NumClasses = 1 }},
		{"zero modalities", func(c *Config) { c.Dataset.NumModalities = 0 }},
		{"zero crop extent", func(c *Config) { c.Dataset.CropSize[1] = 0 }},
		{"zero epochs", func(c *Config) { c.Train.Epochs = 0 }},
		{"negative lr", func(c *Config) { c.Train.LR = -0.1 }},
		{"zero save epochs", func(c *Config) { c.Train.SaveEpochs = 0 }},
		{"no loss terms", func(c *Config) { c.Loss.Name = nil }},
		{"unknown loss term", func(c *Config) { c.Loss.Name = []string{"Hausdorff"}; c.Loss.LossWeight = []float32{1} }},
		{"loss weight mismatch", func(c *Config) { c.Loss.LossWeight = []float32{1, 2} }},
		{"obj weight wrong length", func(c *Config) { c.Loss.ObjWeight = []float32{1} }},
		{"bad device", func(c *Config) { c.General.Device = "cuda" }},
		{"bad init policy", func(c *Config) { c.Net.Init.Policy = "xavier" }},
		{"focal without prior", func(c *Config) { c.Net.Init.Policy = "focal"; c.Net.Init.ObjP = 0 }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"general": {`)
	if _, err := Load(path); err == nil {
		t.Fatal("accepted malformed JSON")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("accepted a missing file")
	}
}
