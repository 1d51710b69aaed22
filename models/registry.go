// Package models - registry for segmentation predictors.
package models

import (
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/linear"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/nvr-ai/go-seg/models/onnxseg"
	"github.com/pkg/errors"
)

// NewPredictor creates a predictor for the configured runtime.
//
// Arguments:
//   - args: The model config, checkpoint path and device.
//
// Returns:
//   - inference.Predictor: The predictor. It implements io.Closer when it
//     holds native resources.
//   - error: providers.ErrDeviceUnavailable when the device cannot be used,
//     checkpoints.ErrMismatch when the weights do not fit the config.
func NewPredictor(args model.NewModelArgs) (inference.Predictor, error) {
	if err := args.Config.Validate(); err != nil {
		return nil, err
	}

	switch args.Config.Runtime {
	case model.RuntimeONNX:
		p, err := onnxseg.New(args)
		if err != nil {
			return nil, err
		}
		return p, nil
	case model.RuntimeLinear:
		p, err := linear.Load(args)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, errors.Wrapf(model.ErrInvalidModel, "unsupported runtime %q", args.Config.Runtime)
	}
}
