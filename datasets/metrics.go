package datasets

import (
	"math"

	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metrics are the standard semantic-segmentation scores.
type Metrics struct {
	// PixelAccuracy is correct pixels over evaluated pixels.
	PixelAccuracy float64 `json:"pixel_accuracy" yaml:"pixel_accuracy"`
	// MeanAccuracy is per-class recall averaged over present classes.
	MeanAccuracy float64 `json:"mean_accuracy" yaml:"mean_accuracy"`
	// MeanIoU is per-class IoU averaged over classes with a defined IoU.
	MeanIoU float64 `json:"mean_iou" yaml:"mean_iou"`
	// ClassIoU is the IoU of each class, NaN where the class never occurs
	// in either predictions or ground truth.
	ClassIoU []float64 `json:"class_iou" yaml:"class_iou"`
	// Pixels is the number of evaluated pixels.
	Pixels int `json:"pixels" yaml:"pixels"`
}

// ConfusionMatrix counts ground-truth (row) against predicted (column)
// labels. Ground-truth pixels outside [0, numClasses) are skipped.
//
// Arguments:
//   - preds: The predicted label maps.
//   - gts: The ground-truth label maps, parallel to preds.
//   - numClasses: The number of classes.
//
// Returns:
//   - *mat.Dense: A numClasses×numClasses matrix.
//   - error: ErrDataset if the sequences or map sizes disagree.
func ConfusionMatrix(preds, gts []images.LabelMap, numClasses int) (*mat.Dense, error) {
	if numClasses <= 0 {
		return nil, errors.Wrapf(ErrDataset, "number of classes must be positive, got %d", numClasses)
	}
	if len(preds) != len(gts) {
		return nil, errors.Wrapf(ErrDataset, "%d predictions for %d ground truths", len(preds), len(gts))
	}

	counts := make([]float64, numClasses*numClasses)
	k := int32(numClasses)
	for i := range preds {
		p, g := preds[i], gts[i]
		if p.Width != g.Width || p.Height != g.Height {
			return nil, errors.Wrapf(ErrDataset, "prediction %d is %dx%d, ground truth is %dx%d",
				i, p.Height, p.Width, g.Height, g.Width)
		}
		for j, gv := range g.Labels {
			if gv < 0 || gv >= k {
				continue
			}
			pv := p.Labels[j]
			if pv < 0 || pv >= k {
				return nil, errors.Wrapf(ErrDataset, "prediction %d has label %d outside [0, %d)", i, pv, k)
			}
			counts[int(gv)*numClasses+int(pv)]++
		}
	}
	return mat.NewDense(numClasses, numClasses, counts), nil
}

// Evaluate computes pixel accuracy, mean accuracy and mean IoU.
func Evaluate(preds, gts []images.LabelMap, numClasses int) (Metrics, error) {
	cm, err := ConfusionMatrix(preds, gts, numClasses)
	if err != nil {
		return Metrics{}, err
	}
	return MetricsFromConfusion(cm), nil
}

// MetricsFromConfusion derives the scores from a confusion matrix.
func MetricsFromConfusion(cm *mat.Dense) Metrics {
	n, _ := cm.Dims()
	total := mat.Sum(cm)

	m := Metrics{
		Pixels:   int(total),
		ClassIoU: make([]float64, n),
	}
	if total > 0 {
		m.PixelAccuracy = mat.Trace(cm) / total
	}

	var accs, ious []float64
	row := make([]float64, n)
	col := make([]float64, n)
	for c := 0; c < n; c++ {
		mat.Row(row, c, cm)
		mat.Col(col, c, cm)
		tp := cm.At(c, c)
		gt := floats.Sum(row)
		pred := floats.Sum(col)

		if gt > 0 {
			accs = append(accs, tp/gt)
		}
		union := gt + pred - tp
		if union > 0 {
			m.ClassIoU[c] = tp / union
			ious = append(ious, m.ClassIoU[c])
		} else {
			m.ClassIoU[c] = math.NaN()
		}
	}
	if len(accs) > 0 {
		m.MeanAccuracy = floats.Sum(accs) / float64(len(accs))
	}
	if len(ious) > 0 {
		m.MeanIoU = floats.Sum(ious) / float64(len(ious))
	}
	return m
}
