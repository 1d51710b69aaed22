// Package results - Collection, persistence and evaluation of one rank's
// predictions.
package results

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
)

// Results are parallel sequences of predictions and ground truths.
type Results struct {
	Predictions  []images.LabelMap
	GroundTruths []images.LabelMap
}

// Aggregator collects predictions and their ground truth in order.
type Aggregator struct {
	numClasses int

	mu    sync.Mutex
	preds []images.LabelMap
	gts   []images.LabelMap
}

// NewAggregator creates an empty aggregator.
//
// Arguments:
//   - numClasses: Ground-truth values at or above it become images.IgnoreLabel.
//
// Returns:
//   - *Aggregator: The aggregator.
func NewAggregator(numClasses int) *Aggregator {
	return &Aggregator{numClasses: numClasses}
}

// Add appends one prediction and its ground truth. The prediction is kept as
// is; the ground truth is copied with out-of-range values set to
// images.IgnoreLabel.
func (a *Aggregator) Add(pred, gt images.LabelMap) {
	gt = gt.Clone()
	k := int32(a.numClasses)
	for i, v := range gt.Labels {
		if v >= k {
			gt.Labels[i] = images.IgnoreLabel
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.preds = append(a.preds, pred)
	a.gts = append(a.gts, gt)
}

// Len returns the number of collected pairs.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.preds)
}

// Results returns the collected sequences.
func (a *Aggregator) Results() Results {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Results{Predictions: a.preds, GroundTruths: a.gts}
}

// Save writes the collected sequences to path, creating its directory.
//
// Arguments:
//   - path: The output file.
//
// Returns:
//   - error: The error if the file cannot be written.
func (a *Aggregator) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create results directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create results file")
	}
	if err := gob.NewEncoder(f).Encode(a.Results()); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to encode results")
	}
	return errors.Wrap(f.Close(), "failed to close results file")
}

// Load reads sequences written by Save.
func Load(path string) (Results, error) {
	f, err := os.Open(path)
	if err != nil {
		return Results{}, errors.Wrap(err, "failed to open results file")
	}
	defer f.Close()
	var r Results
	if err := gob.NewDecoder(f).Decode(&r); err != nil {
		return Results{}, errors.Wrap(err, "failed to decode results")
	}
	return r, nil
}

// Evaluate scores the collected sequences with the dataset's evaluator and
// returns its metrics unchanged.
func (a *Aggregator) Evaluate(ev datasets.Evaluator) (datasets.Metrics, error) {
	r := a.Results()
	return ev.Evaluate(r.Predictions, r.GroundTruths)
}
