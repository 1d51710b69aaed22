// Package tester - Runs a segmentation model over a dataset shard and
// collects, saves and evaluates the predictions.
package tester

import (
	"context"
	"io"
	"os"

	"github.com/nvr-ai/go-seg/config"
	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/distributed"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/loader"
	"github.com/nvr-ai/go-seg/models"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/nvr-ai/go-seg/results"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PredictorFactory creates the predictor of a model config.
type PredictorFactory func(args model.NewModelArgs) (inference.Predictor, error)

// DatasetFactory creates the dataset of a dataset config.
type DatasetFactory func(cfg datasets.Config) (datasets.Dataset, error)

// Options describes one test run.
type Options struct {
	// Config is the run configuration.
	Config *config.Config
	// ConfigPath is the file Config was read from, for the log.
	ConfigPath string
	// Checkpoint is the weights file.
	Checkpoint string
	// NProcPerNode is the number of processes started on this machine.
	NProcPerNode int
	// NoEval skips evaluation after saving.
	NoEval bool
	// NewPredictor defaults to models.NewPredictor.
	NewPredictor PredictorFactory
	// NewDataset defaults to datasets.New.
	NewDataset DatasetFactory
}

// Report summarizes a finished run.
type Report struct {
	// Predictions and GroundTruths count the pairs collected by this rank.
	Predictions  int
	GroundTruths int
	// Metrics is set on rank 0 unless evaluation was skipped.
	Metrics *datasets.Metrics
}

// Tester runs one rank of a test.
type Tester struct {
	rc       distributed.RunContext
	opts     Options
	cfg      *config.Config
	log      *logrus.Entry
	profiler *profiler.Tracker
	dataset  datasets.Dataset
}

// New creates a tester.
//
// Arguments:
//   - rc: The run context of this process.
//   - opts: The run options.
//
// Returns:
//   - *Tester: The tester.
//   - error: config.ErrConfig if no config is given.
func New(rc distributed.RunContext, opts Options) (*Tester, error) {
	if opts.Config == nil {
		return nil, errors.Wrap(config.ErrConfig, "no config given")
	}
	if opts.NewPredictor == nil {
		opts.NewPredictor = models.NewPredictor
	}
	if opts.NewDataset == nil {
		opts.NewDataset = datasets.New
	}
	if rc.WorldSize <= 0 {
		rc.WorldSize = 1
	}
	if rc.Logger == nil {
		rc.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tester{
		rc:       rc,
		opts:     opts,
		cfg:      opts.Config,
		log:      rc.Logger,
		profiler: profiler.NewTracker(),
	}, nil
}

// SplitLoader divides the total batch size and worker count evenly across
// processes.
//
// Arguments:
//   - cfg: The run-wide loader config.
//   - worldSize: The number of processes.
//
// Returns:
//   - loader.Options: The per-process loader options.
//   - error: config.ErrConfig if either total is not divisible by worldSize.
func SplitLoader(cfg config.DataLoader, worldSize int) (loader.Options, error) {
	if worldSize <= 0 {
		return loader.Options{}, errors.Wrapf(config.ErrConfig, "world size must be positive, got %d", worldSize)
	}
	if cfg.BatchSize%worldSize != 0 {
		return loader.Options{}, errors.Wrapf(config.ErrConfig,
			"batch size %d is not divisible by %d processes", cfg.BatchSize, worldSize)
	}
	if cfg.NumWorkers%worldSize != 0 {
		return loader.Options{}, errors.Wrapf(config.ErrConfig,
			"number of workers %d is not divisible by %d processes", cfg.NumWorkers, worldSize)
	}
	return loader.Options{
		BatchSize:  cfg.BatchSize / worldSize,
		NumWorkers: cfg.NumWorkers / worldSize,
		Prefetch:   cfg.Prefetch,
	}, nil
}

// Start runs the predictor over this rank's shard and adds every prediction
// to agg in dataset order. Configuration is checked before any predictor is
// created.
//
// Arguments:
//   - ctx: Cancels the run between batches and tiles.
//   - agg: Receives the predictions and ground truths.
//
// Returns:
//   - error: config.ErrConfig for unusable settings, or the first dataset,
//     predictor or grid error.
func (t *Tester) Start(ctx context.Context, agg *results.Aggregator) error {
	opts, err := SplitLoader(t.cfg.DataLoader, t.rc.WorldSize)
	if err != nil {
		return err
	}
	ds, err := t.opts.NewDataset(t.cfg.Dataset)
	if err != nil {
		return err
	}
	t.dataset = ds
	if ds.NumClasses() != t.cfg.Model.NumClasses {
		return errors.Wrapf(config.ErrConfig, "dataset has %d classes, model has %d",
			ds.NumClasses(), t.cfg.Model.NumClasses)
	}
	if t.rc.IsMain() {
		t.log.Infof("Dataset size: %d", ds.Len())
	}

	predictor, err := t.predictor()
	if err != nil {
		return err
	}
	engine, err := inference.NewEngineBuilder().
		WithPredictor(predictor).
		WithConfig(t.cfg.Inference).
		WithNumClasses(t.cfg.Model.NumClasses).
		WithAlignCorners(t.cfg.Model.AlignCorners).
		WithProfiler(t.profiler).
		Build()
	if err != nil {
		if c, ok := predictor.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	}
	defer engine.Close()

	l, err := loader.New(ds, loader.Shard(ds.Len(), t.rc.Rank, t.rc.WorldSize), opts, t.profiler)
	if err != nil {
		return err
	}

	total := l.Len()
	return l.Run(ctx, func(i int, b loader.Batch) error {
		if t.rc.IsMain() {
			t.log.Infof("Processing %d/%d", i+1, total)
		}
		done := t.profiler.StartOperation("batch")
		preds, err := engine.Segment(ctx, b.Images, b.Sizes())
		done()
		if err != nil {
			return err
		}
		for j, s := range b.Samples {
			agg.Add(preds[j], s.GroundTruth)
		}
		return nil
	})
}

// predictor creates the predictor on this rank's device, falling back to the
// CPU when the device cannot be used.
func (t *Tester) predictor() (inference.Predictor, error) {
	args := model.NewModelArgs{
		Config:     t.cfg.Model,
		Checkpoint: t.opts.Checkpoint,
		Device:     t.rc.Device,
	}
	p, err := t.opts.NewPredictor(args)
	if err == nil || !errors.Is(err, providers.ErrDeviceUnavailable) || t.rc.Device == providers.CPU {
		return p, err
	}

	t.log.WithError(err).Warnf("device %s is not available, testing this rank on cpu", t.rc.Device)
	t.rc.Device = providers.CPU
	args.Device = providers.CPU
	return t.opts.NewPredictor(args)
}

// Run performs the whole test of this rank: it checks the environment, runs
// Start, and on rank 0 saves and evaluates the results. Ranks never wait for
// each other after the loop, so a failed or stuck rank does not keep rank 0
// from saving its own shard.
//
// Arguments:
//   - ctx: Cancels the run.
//
// Returns:
//   - Report: What this rank collected.
//   - error: The first fatal error.
func (t *Tester) Run(ctx context.Context) (Report, error) {
	if n, ok := providers.VisibleDevices(); ok && t.rc.Device.Backend != providers.CPUProviderBackend &&
		n != t.opts.NProcPerNode {
		t.log.Warnf("%d visible devices but nproc-per-node is %d, using nproc-per-node", n, t.opts.NProcPerNode)
	}

	if t.rc.IsMain() {
		t.log.WithFields(logrus.Fields{
			"model":      t.cfg.Model.Type,
			"backbone":   t.cfg.Model.Backbone,
			"checkpoint": t.opts.Checkpoint,
			"config":     t.opts.ConfigPath,
			"device":     t.rc.Device.String(),
			"world_size": t.rc.WorldSize,
		}).Info("Testing")
		t.log.Debugf("Config: %+v", *t.cfg)
		if dir := t.cfg.Common.BackupDir; dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Report{}, errors.Wrap(err, "failed to create backup directory")
			}
		}
	}

	agg := results.NewAggregator(t.cfg.Model.NumClasses)
	if err := t.Start(ctx, agg); err != nil {
		return Report{}, err
	}

	report := Report{Predictions: agg.Len(), GroundTruths: agg.Len()}
	if t.rc.IsMain() {
		if err := agg.Save(t.cfg.Common.ResultSavePath); err != nil {
			return report, err
		}
		t.log.Infof("Results saved to %s", t.cfg.Common.ResultSavePath)

		if !t.opts.NoEval {
			m, err := agg.Evaluate(t.dataset)
			if err != nil {
				return report, err
			}
			report.Metrics = &m
			t.log.WithFields(logrus.Fields{
				"pixel_accuracy": m.PixelAccuracy,
				"mean_accuracy":  m.MeanAccuracy,
				"mean_iou":       m.MeanIoU,
			}).Info("Evaluation")
		}

		for _, s := range t.profiler.Summary() {
			t.log.Debugf("%s: count=%d mean=%s max=%s", s.Name, s.Count, s.Mean, s.Max)
		}
	}

	t.log.Infof("Finished, number of preds is %d and number of gts is %d", report.Predictions, report.GroundTruths)
	return report, nil
}

// Profiler returns the timings recorded so far.
func (t *Tester) Profiler() *profiler.Tracker {
	return t.profiler
}
