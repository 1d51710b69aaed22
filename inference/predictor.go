package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Predictor maps an N×C×H×W image batch to N×numClasses×H×W raw class scores.
//
// Implementations must accept any crop of at least their minimum receptive
// size and are called synchronously from a single goroutine.
type Predictor interface {
	Forward(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error)
	NumClasses() int
}

// PredictorFunc adapts a function to the Predictor interface.
type PredictorFunc struct {
	Classes int
	Fn      func(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error)
}

// Forward calls Fn.
func (p PredictorFunc) Forward(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
	return p.Fn(ctx, batch)
}

// NumClasses returns Classes.
func (p PredictorFunc) NumClasses() int {
	return p.Classes
}
