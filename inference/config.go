// Package inference - Sliding-window segmentation inference.
package inference

import (
	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned for inconsistent inference settings.
var ErrInvalidConfig = errors.New("invalid inference config")

// Mode selects how the predictor is applied to a batch.
type Mode string

const (
	// ModeWhole runs the predictor once on the full image.
	ModeWhole Mode = "whole"
	// ModeSlide runs the predictor on overlapping crops and averages overlaps.
	ModeSlide Mode = "slide"
)

// SlideOptions configures the crop grid used by ModeSlide.
type SlideOptions struct {
	// CropSize is the tile size, [height, width].
	CropSize images.Size `json:"cropsize" yaml:"cropsize"`
	// Stride is the offset between tile origins, [height, width].
	Stride images.Size `json:"stride" yaml:"stride"`
}

// Config is the inference configuration.
type Config struct {
	Mode Mode         `json:"mode" yaml:"mode"`
	Opts SlideOptions `json:"opts" yaml:"opts"`
}

// DefaultConfig returns whole-image inference.
func DefaultConfig() Config {
	return Config{Mode: ModeWhole}
}

// Validate checks the mode and, for ModeSlide, the grid parameters.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeWhole:
		return nil
	case ModeSlide:
		if !c.Opts.CropSize.Positive() {
			return errors.Wrapf(ErrInvalidConfig, "slide cropsize %s must be positive", c.Opts.CropSize)
		}
		if !c.Opts.Stride.Positive() {
			return errors.Wrapf(ErrInvalidConfig, "slide stride %s must be positive", c.Opts.Stride)
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported mode %q", c.Mode)
	}
}
