// Command train runs a volumetric segmentation training job described by a
// JSON configuration file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/medvision/volseg/checkpoints"
	"github.com/medvision/volseg/config"
	"github.com/medvision/volseg/dataset"
	"github.com/medvision/volseg/device"
	"github.com/medvision/volseg/network"
	"github.com/medvision/volseg/nn"
	"github.com/medvision/volseg/optimizer"
	"github.com/medvision/volseg/telemetry"
	"github.com/medvision/volseg/training"
)

func main() {
	configPath := flag.String("config", "", "path to the training configuration file")
	flag.Parse()

	if *configPath == "" {
		fatal("a configuration file is required (-config)")
	}
	if _, err := os.Stat(*configPath); err != nil {
		fatal("configuration file not found: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("%v", err)
	}

	dev, err := device.Resolve(cfg.General.Device)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Using device: %s\n", dev)

	if err := prepareSaveDir(cfg); err != nil {
		fatal("%v", err)
	}

	net, err := buildNetwork(cfg)
	if err != nil {
		fatal("%v", err)
	}

	ds, err := dataset.OpenRawFileDataset(cfg.Dataset.Manifest, cfg.Dataset.NumModalities, cfg.Dataset.CropSize)
	if err != nil {
		fatal("%v", err)
	}

	opt, err := optimizer.New(cfg.Train.Optimizer.Name, net.Parameters(), optimizer.Config{
		LearningRate: float32(cfg.Train.LR),
		Momentum:     float32(cfg.Train.Optimizer.Momentum),
		WeightDecay:  float32(cfg.Train.Optimizer.WeightDecay),
		Nesterov:     cfg.Train.Optimizer.Nesterov,
		Beta1:        float32(cfg.Train.Optimizer.Beta1),
		Beta2:        float32(cfg.Train.Optimizer.Beta2),
		Epsilon:      float32(cfg.Train.Optimizer.Epsilon),
	})
	if err != nil {
		fatal("%v", err)
	}

	scheduler, err := training.NewScheduler(cfg.Train.LRScheduler)
	if err != nil {
		fatal("%v", err)
	}

	store := checkpoints.NewStore(cfg.General.SaveDir)

	plotter := training.NewPlottingService(plotterConfig(cfg))
	if cfg.Plotting.Enabled {
		plotter.Enable()
		if err := plotter.CheckHealth(); err != nil {
			fmt.Printf("Warning: plotting sidecar unavailable: %v\n", err)
		}
	}

	tel := telemetry.NewClient(cfg.Telemetry.Endpoint, cfg.General.RunLabel)

	engine, err := training.NewEngine(cfg, net, ds, opt, scheduler, store, plotter, tel)
	if err != nil {
		fatal("%v", err)
	}

	if cfg.General.ResumeEpoch >= 0 {
		if err := engine.Resume(cfg.General.ResumeEpoch, cfg.General.ClearStartEpoch); err != nil {
			fatal("%v", err)
		}
	}

	if err := engine.Run(); err != nil {
		fatal("%v", err)
	}
}

// prepareSaveDir creates the save directory, refusing to start a fresh run
// into a non-empty one unless overwrite is set. Resumed runs reuse their
// directory unconditionally.
func prepareSaveDir(cfg *config.Config) error {
	dir := cfg.General.SaveDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(dir, 0o755)
		}
		return fmt.Errorf("failed to inspect save directory %s: %v", dir, err)
	}
	if len(entries) > 0 && cfg.General.ResumeEpoch < 0 && !cfg.General.Overwrite {
		return fmt.Errorf("save directory %s is not empty; set general.overwrite to reuse it", dir)
	}
	return nil
}

func buildNetwork(cfg *config.Config) (*network.SegmentationNet, error) {
	net, err := network.NewSegmentationNet(cfg.Dataset.NumModalities, cfg.Dataset.NumClasses, cfg.Net.ELU)
	if err != nil {
		return nil, err
	}

	initCfg := nn.InitConfig{
		ConvStd: cfg.Net.Init.ConvStd,
		BNStd:   cfg.Net.Init.BNStd,
		Seed:    cfg.General.Seed,
	}
	switch cfg.Net.Init.Policy {
	case "gaussian":
		net.InitGaussian(initCfg)
	case "kaiming":
		net.InitKaiming(initCfg)
	case "focal":
		if err := net.InitFocalPrior(cfg.Net.Init.ObjP, initCfg); err != nil {
			return nil, err
		}
	}
	return net, nil
}

func plotterConfig(cfg *config.Config) training.PlottingServiceConfig {
	pc := training.DefaultPlottingServiceConfig()
	if cfg.Plotting.Endpoint != "" {
		pc.BaseURL = cfg.Plotting.Endpoint
	}
	return pc
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "train: "+format+"\n", args...)
	os.Exit(1)
}
