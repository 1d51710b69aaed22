// Package model - Segmentation model configuration shared by predictor runtimes.
package model

import (
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/pkg/errors"
)

// ErrInvalidModel is returned for inconsistent model settings.
var ErrInvalidModel = errors.New("invalid model config")

// Runtime selects the predictor implementation.
type Runtime string

const (
	// RuntimeONNX runs an exported ONNX graph through ONNX Runtime.
	RuntimeONNX Runtime = "onnx"
	// RuntimeLinear runs a per-pixel linear classifier on the input channels.
	RuntimeLinear Runtime = "linear"
)

// Runtimes is a list of all supported runtimes.
var Runtimes = []Runtime{RuntimeONNX, RuntimeLinear}

// Config describes a segmentation network as seen by the test runner.
type Config struct {
	// Type is the architecture name, e.g. "annnet".
	Type string `json:"type" yaml:"type"`
	// Backbone is the feature extractor name, e.g. "resnet50".
	Backbone string `json:"backbone" yaml:"backbone"`
	// NumClasses is the number of score channels the network produces.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// InChannels is the number of image channels the network consumes.
	InChannels int `json:"in_channels" yaml:"in_channels"`
	// AlignCorners is the bilinear convention the network was trained with.
	AlignCorners bool `json:"align_corners" yaml:"align_corners"`
	// Runtime selects the predictor implementation. Defaults to RuntimeONNX.
	Runtime Runtime `json:"runtime" yaml:"runtime"`
	// Inputs names the image input of an ONNX graph. Empty means the first.
	Inputs []string `json:"inputs" yaml:"inputs"`
	// Outputs names the score output of an ONNX graph. Empty means the first.
	Outputs []string `json:"outputs" yaml:"outputs"`
	// Backend is the accelerator to use. Each rank binds its own device index.
	Backend providers.ProviderBackend `json:"backend" yaml:"backend"`
	// Provider holds execution provider settings.
	Provider providers.Config `json:"provider" yaml:"provider"`
}

// Validate checks the static constraints of the model config and fills
// defaults.
//
// Returns:
//   - error: ErrInvalidModel if the config is unusable.
func (c *Config) Validate() error {
	if c.NumClasses <= 0 {
		return errors.Wrapf(ErrInvalidModel, "num_classes must be positive, got %d", c.NumClasses)
	}
	if c.InChannels == 0 {
		c.InChannels = 3
	}
	if c.InChannels < 0 {
		return errors.Wrapf(ErrInvalidModel, "in_channels must be positive, got %d", c.InChannels)
	}
	if c.Runtime == "" {
		c.Runtime = RuntimeONNX
	}
	known := false
	for _, r := range Runtimes {
		if r == c.Runtime {
			known = true
			break
		}
	}
	if !known {
		return errors.Wrapf(ErrInvalidModel, "unsupported runtime %q", c.Runtime)
	}
	if c.Backend == "" {
		c.Backend = providers.CPUProviderBackend
	}
	return nil
}

// NewModelArgs is the arguments for creating a new predictor.
type NewModelArgs struct {
	// Config is the model description.
	Config Config `json:"config" yaml:"config"`
	// Checkpoint is the weights file: an .onnx graph or a .safetensors state.
	Checkpoint string `json:"checkpoint" yaml:"checkpoint"`
	// Device is the execution provider bound to this process.
	Device providers.Device `json:"device" yaml:"device"`
}
