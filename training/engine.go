package training

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/medvision/volseg/checkpoints"
	"github.com/medvision/volseg/config"
	"github.com/medvision/volseg/dataset"
	"github.com/medvision/volseg/network"
	"github.com/medvision/volseg/optimizer"
	"github.com/medvision/volseg/telemetry"
)

// Engine drives the flat-batch training loop. The epoch index is derived
// from the batch counter and the dataset length rather than tracked on its
// own; scheduler stepping and checkpoint saving key off that derived value.
type Engine struct {
	cfg       *config.Config
	net       *network.SegmentationNet
	ds        dataset.Dataset
	sampler   *dataset.EpochConcatSampler
	opt       optimizer.Optimizer
	scheduler LRScheduler
	store     *checkpoints.Store
	plotter   *PlottingService
	telemetry *telemetry.Client

	lossTerms   []Loss
	lossWeights []float32

	baseLR float64

	batchIdx           int64
	lastSchedulerEpoch int
	lastSaveEpoch      int
}

// NewEngine wires the collaborators together and validates every
// precondition that must hold before the first forward pass: loss-term and
// weight counts must match, and the crop size must be divisible by the
// network stride along each axis.
func NewEngine(
	cfg *config.Config,
	net *network.SegmentationNet,
	ds dataset.Dataset,
	opt optimizer.Optimizer,
	scheduler LRScheduler,
	store *checkpoints.Store,
	plotter *PlottingService,
	tel *telemetry.Client,
) (*Engine, error) {
	stride := net.MaxStride()
	for axis, extent := range cfg.Dataset.CropSize {
		if extent%stride != 0 {
			return nil, fmt.Errorf("crop size %d on axis %d is not divisible by network stride %d",
				extent, axis, stride)
		}
	}
	if ds.NumModalities() != net.InChannels() {
		return nil, fmt.Errorf("dataset has %d modalities but network expects %d",
			ds.NumModalities(), net.InChannels())
	}

	terms, weights, err := BuildLossTerms(cfg.Loss)
	if err != nil {
		return nil, err
	}

	sampler, err := dataset.NewEpochConcatSampler(ds, cfg.Train.Epochs, cfg.General.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build sampler: %v", err)
	}

	return &Engine{
		cfg:                cfg,
		net:                net,
		ds:                 ds,
		sampler:            sampler,
		opt:                opt,
		scheduler:          scheduler,
		store:              store,
		plotter:            plotter,
		telemetry:          tel,
		lossTerms:          terms,
		lossWeights:        weights,
		baseLR:             cfg.Train.LR,
		lastSchedulerEpoch: 0,
		lastSaveEpoch:      0,
	}, nil
}

// BatchIdx returns the current batch counter.
func (e *Engine) BatchIdx() int64 { return e.batchIdx }

// EpochIdx derives the epoch from the batch counter.
func (e *Engine) EpochIdx() int {
	return int(e.batchIdx * int64(e.cfg.Train.BatchSize) / int64(e.ds.Len()))
}

// Resume restores network and optimizer state from the given saved epoch.
// A missing checkpoint is fatal: the engine must not silently start from
// scratch when resume was explicitly requested. When clearStart is set,
// only the weights are restored and the batch counter restarts at zero.
func (e *Engine) Resume(epoch int, clearStart bool) error {
	checkpoint, optState, err := e.store.Load(epoch)
	if err != nil {
		if errors.Is(err, checkpoints.ErrNotFound) {
			return fmt.Errorf("resume from epoch %d requested but checkpoint missing: %v", epoch, err)
		}
		return fmt.Errorf("failed to load checkpoint for epoch %d: %v", epoch, err)
	}
	if optState == nil {
		return fmt.Errorf("resume from epoch %d requested but optimizer state missing", epoch)
	}

	if err := checkpoints.LoadWeights(checkpoint.Weights, e.net); err != nil {
		return fmt.Errorf("failed to restore network state: %v", err)
	}
	if err := e.opt.LoadState(optState); err != nil {
		return fmt.Errorf("failed to restore optimizer state: %v", err)
	}

	if clearStart {
		e.batchIdx = 0
		e.lastSchedulerEpoch = 0
		e.lastSaveEpoch = 0
		return nil
	}

	e.batchIdx = checkpoint.TrainingState.Batch
	e.lastSchedulerEpoch = checkpoint.TrainingState.Epoch
	e.lastSaveEpoch = checkpoint.TrainingState.Epoch
	e.sampler.Skip(int(e.batchIdx) * e.cfg.Train.BatchSize)

	// recompute the scheduler cursor from the restored epoch
	lr := e.scheduler.GetLR(e.lastSchedulerEpoch, int(e.batchIdx), e.baseLR)
	e.opt.UpdateLearningRate(float32(lr))

	fmt.Printf("Resumed from epoch %d at batch %d\n", checkpoint.TrainingState.Epoch, e.batchIdx)
	return nil
}

// Run executes the training loop to its configured batch count.
func (e *Engine) Run() error {
	e.net.Train()
	PrintNetworkSummary(e.net.Name(), e.net)

	totalBatches := int64(e.cfg.Train.Epochs) * int64(e.ds.Len()) / int64(e.cfg.Train.BatchSize)
	progress := NewProgressBar("Training", int(totalBatches))

	var plotBatches, plotLosses []float64
	var recentLosses []float64

	for e.batchIdx < totalBatches {
		volume, mask, _, ok, err := e.sampler.NextBatch(e.cfg.Train.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to fetch batch %d: %v", e.batchIdx, err)
		}
		if !ok {
			break
		}

		e.opt.ZeroGrad()

		output, err := e.net.Forward(volume)
		if err != nil {
			return fmt.Errorf("forward pass failed at batch %d: %v", e.batchIdx, err)
		}

		// reporting only, kept out of the gradient path
		dice, err := DiceScore(output, mask)
		if err != nil {
			return fmt.Errorf("failed to compute dice score at batch %d: %v", e.batchIdx, err)
		}

		total, _, err := CalculateLoss(e.lossTerms, e.lossWeights, output, mask)
		if err != nil {
			return fmt.Errorf("loss computation failed at batch %d: %v", e.batchIdx, err)
		}
		if err := total.Backward(); err != nil {
			return fmt.Errorf("backward pass failed at batch %d: %v", e.batchIdx, err)
		}
		if err := e.opt.Step(); err != nil {
			return fmt.Errorf("optimizer step failed at batch %d: %v", e.batchIdx, err)
		}

		lossValue := float64(total.Data[0])
		recentLosses = append(recentLosses, lossValue)

		epochIdx := e.EpochIdx()
		if epochIdx != e.lastSchedulerEpoch {
			lr := e.scheduler.GetLR(epochIdx, int(e.batchIdx), e.baseLR)
			e.opt.UpdateLearningRate(float32(lr))
			e.lastSchedulerEpoch = epochIdx
		}

		e.batchIdx++

		if e.batchIdx%int64(e.cfg.Train.PlotSnapshot) == 0 {
			avg := floats.Sum(recentLosses) / float64(len(recentLosses))
			recentLosses = recentLosses[:0]

			plotBatches = append(plotBatches, float64(e.batchIdx))
			plotLosses = append(plotLosses, avg)
			if e.plotter != nil && e.plotter.IsEnabled() {
				if _, err := e.plotter.SendLossCurve(plotBatches, plotLosses); err != nil {
					fmt.Printf("\nWarning: failed to send loss plot: %v\n", err)
				}
			}
		}

		if e.telemetry != nil {
			metrics := map[string]float64{
				"training_loss": lossValue,
				"dice":          dice,
				"learning_rate": float64(e.opt.LearningRate()),
			}
			if err := e.telemetry.LogMetrics(metrics, epochIdx); err != nil {
				fmt.Printf("\nWarning: failed to log metrics: %v\n", err)
			}
		}

		epochIdx = e.EpochIdx()
		if epochIdx != 0 && epochIdx%e.cfg.Train.SaveEpochs == 0 && e.lastSaveEpoch != epochIdx {
			if err := e.Save(epochIdx); err != nil {
				return fmt.Errorf("failed to save checkpoint at epoch %d: %v", epochIdx, err)
			}
			e.lastSaveEpoch = epochIdx
		}

		progress.Update(int(e.batchIdx), map[string]float64{
			"loss": lossValue,
			"dice": dice,
		})
	}

	progress.Finish()
	return nil
}

// Save writes the network, optimizer and metadata snapshot for epoch.
func (e *Engine) Save(epoch int) error {
	optState, err := e.opt.GetState()
	if err != nil {
		return fmt.Errorf("failed to extract optimizer state: %v", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		Weights: checkpoints.ExtractWeights(e.net),
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Batch:        e.batchIdx,
			LearningRate: e.opt.LearningRate(),
		},
		Metadata: e.metadata(),
	}
	return e.store.Save(checkpoint, optState, e.cfg.Path)
}

func (e *Engine) metadata() checkpoints.Metadata {
	normalizers := make([]checkpoints.NormalizerSpec, 0, len(e.cfg.Dataset.Normalizers))
	for _, n := range e.cfg.Dataset.Normalizers {
		normalizers = append(normalizers, checkpoints.NormalizerSpec{Type: n.Type, Params: n.Params})
	}
	return checkpoints.Metadata{
		Net:         e.net.Name(),
		MaxStride:   e.net.MaxStride(),
		InChannels:  e.net.InChannels(),
		OutChannels: e.net.OutChannels(),
		Preprocessing: checkpoints.Preprocessing{
			Spacing:         e.cfg.Dataset.Spacing,
			Interpolation:   e.cfg.Dataset.Interpolation,
			PadType:         e.cfg.Dataset.PadType,
			DefaultValues:   e.cfg.Dataset.DefaultValues,
			CropNormalizers: normalizers,
		},
	}
}
