package results

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(w, h int, v ...int32) images.LabelMap {
	return images.LabelMap{Width: w, Height: h, Labels: v}
}

func TestAggregatorAdd(t *testing.T) {
	a := NewAggregator(21)
	gt := labels(4, 1, 0, 20, 21, 255)
	pred := labels(4, 1, 1, 2, 3, 4)
	a.Add(pred, gt)

	r := a.Results()
	require.Equal(t, 1, a.Len())
	assert.Equal(t, pred, r.Predictions[0])
	assert.Equal(t, []int32{0, 20, -1, -1}, r.GroundTruths[0].Labels)
	assert.Equal(t, []int32{0, 20, 21, 255}, gt.Labels, "input ground truth untouched")
}

func TestAggregatorKeepsOrder(t *testing.T) {
	a := NewAggregator(3)
	for i := int32(0); i < 5; i++ {
		a.Add(labels(1, 1, i%3), labels(1, 1, i))
	}
	r := a.Results()
	require.Len(t, r.Predictions, 5)
	require.Len(t, r.GroundTruths, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int32(i%3), r.Predictions[i].Labels[0])
	}
	assert.Equal(t, int32(-1), r.GroundTruths[3].Labels[0])
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.gob")
	a := NewAggregator(2)
	a.Add(labels(2, 1, 0, 1), labels(2, 1, 1, 255))
	a.Add(labels(1, 2, 1, 1), labels(1, 2, 0, 1))
	require.NoError(t, a.Save(path))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, a.Results(), r)

	_, err = Load(filepath.Join(t.TempDir(), "missing.gob"))
	assert.Error(t, err)
}

type recordingEvaluator struct {
	preds, gts []images.LabelMap
	metrics    datasets.Metrics
}

func (r *recordingEvaluator) Evaluate(preds, gts []images.LabelMap) (datasets.Metrics, error) {
	r.preds, r.gts = preds, gts
	return r.metrics, nil
}

func TestEvaluate(t *testing.T) {
	a := NewAggregator(2)
	a.Add(labels(1, 1, 1), labels(1, 1, 7))
	ev := &recordingEvaluator{metrics: datasets.Metrics{MeanIoU: 0.42}}

	m, err := a.Evaluate(ev)
	require.NoError(t, err)
	assert.Equal(t, 0.42, m.MeanIoU)
	assert.Equal(t, []int32{-1}, ev.gts[0].Labels)
	assert.Equal(t, []int32{1}, ev.preds[0].Labels)
}

func TestEvaluateWithMetrics(t *testing.T) {
	a := NewAggregator(2)
	a.Add(labels(3, 1, 0, 1, 1), labels(3, 1, 0, 1, 9))
	m, err := a.Evaluate(evaluatorFunc(func(p, g []images.LabelMap) (datasets.Metrics, error) {
		return datasets.Evaluate(p, g, 2)
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Pixels)
	assert.Equal(t, 1.0, m.MeanIoU)
}

type evaluatorFunc func(preds, gts []images.LabelMap) (datasets.Metrics, error)

func (f evaluatorFunc) Evaluate(preds, gts []images.LabelMap) (datasets.Metrics, error) {
	return f(preds, gts)
}
