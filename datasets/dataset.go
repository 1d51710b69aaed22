// Package datasets - Evaluation datasets for semantic segmentation.
package datasets

import (
	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrDataset is returned for unusable dataset configuration or content.
var ErrDataset = errors.New("invalid dataset")

// Sample is one test image with its annotation.
type Sample struct {
	// Index is the position of the sample in the dataset.
	Index int
	// ID is the file stem the sample was read from.
	ID string
	// Image is the normalized C×H×W input at the processing resolution.
	Image *tensor.Dense
	// Width and Height are the original image size. Predictions are
	// resized back to it before evaluation.
	Width  int
	Height int
	// GroundTruth holds the raw annotation at the original size.
	GroundTruth images.LabelMap
}

// Size returns the original image size.
func (s Sample) Size() images.Size {
	return images.Size{Height: s.Height, Width: s.Width}
}

// Evaluator scores predictions against ground truth.
type Evaluator interface {
	Evaluate(preds, gts []images.LabelMap) (Metrics, error)
}

// Dataset is an indexable set of test samples.
type Dataset interface {
	Evaluator
	Len() int
	NumClasses() int
	Get(i int) (Sample, error)
}

// Type identifies a dataset layout.
type Type string

const (
	// TypeVOC is Pascal VOC 2012 (JPEGImages + SegmentationClass).
	TypeVOC Type = "voc"
	// TypeADE20K is ADEChallengeData2016.
	TypeADE20K Type = "ade20k"
	// TypeCityscapes is Cityscapes leftImg8bit + gtFine.
	TypeCityscapes Type = "cityscapes"
	// TypeFolder is a plain images/ + annotations/ folder.
	TypeFolder Type = "folder"
)

// Config describes where a dataset lives and how its images are prepared.
type Config struct {
	// Type selects the directory layout and label mapping.
	Type Type `json:"type" yaml:"type"`
	// RootDir is the dataset root.
	RootDir string `json:"rootdir" yaml:"rootdir"`
	// Set is the split to read, e.g. "val".
	Set string `json:"set" yaml:"set"`
	// NumClasses overrides the layout's class count when set.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// Resize is the processing resolution shared by every image. Batches
	// larger than one need it so samples stack. Zero keeps the original size.
	Resize images.Size `json:"resize" yaml:"resize"`
	// Normalization applies per-channel mean and std to [0, 255] pixels.
	Normalization images.Normalization `json:"normalization" yaml:"normalization"`
	// ImageDir, AnnDir and SplitFile override the layout's relative paths.
	// "{set}" is replaced by Set.
	ImageDir  string `json:"image_dir"  yaml:"image_dir"`
	AnnDir    string `json:"ann_dir"    yaml:"ann_dir"`
	SplitFile string `json:"split_file" yaml:"split_file"`
}

// DefaultNormalization is the ImageNet mean and std on [0, 255] pixels.
func DefaultNormalization() images.Normalization {
	return images.Normalization{
		Mean: []float32{123.675, 116.28, 103.53},
		Std:  []float32{58.395, 57.12, 57.375},
	}
}

// New creates the dataset described by cfg.
//
// Arguments:
//   - cfg: The dataset configuration.
//
// Returns:
//   - Dataset: The dataset.
//   - error: ErrDataset if the layout is unknown or the files are missing.
func New(cfg Config) (Dataset, error) {
	layout, err := LayoutFor(cfg.Type)
	if err != nil {
		return nil, err
	}
	return NewFolder(cfg, layout)
}
