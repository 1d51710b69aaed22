// Package linear - Per-pixel linear classifier evaluated as a gorgonia graph.
//
// The head is a 1×1 convolution: every pixel's channel vector is mapped to
// class scores by the same weight matrix and bias. It has no spatial
// receptive field, so any crop size is accepted.
package linear

import (
	"context"

	"github.com/nvr-ai/go-seg/checkpoints"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Parameter names in the checkpoint.
const (
	WeightName = "classifier.weight"
	BiasName   = "classifier.bias"
)

// Predictor is a per-pixel linear segmentation head.
type Predictor struct {
	numClasses int
	channels   int
	weight     []float32 // numClasses×channels
	bias       []float32 // numClasses
}

// Spec returns the checkpoint layout for the given sizes.
func Spec(numClasses, channels int) checkpoints.Spec {
	return checkpoints.Spec{
		WeightName: tensor.Shape{numClasses, channels, 1, 1},
		BiasName:   tensor.Shape{numClasses},
	}
}

// New creates a predictor from a validated checkpoint state.
//
// Arguments:
//   - numClasses: The number of output classes.
//   - channels: The number of input channels.
//   - state: The checkpoint holding WeightName and BiasName.
//
// Returns:
//   - *Predictor: The predictor.
//   - error: checkpoints.ErrMismatch if the state does not fit.
func New(numClasses, channels int, state checkpoints.State) (*Predictor, error) {
	if err := checkpoints.Validate(state, Spec(numClasses, channels)); err != nil {
		return nil, err
	}
	weight, err := inference.Float32Data(state[WeightName])
	if err != nil {
		return nil, err
	}
	bias, err := inference.Float32Data(state[BiasName])
	if err != nil {
		return nil, err
	}
	return &Predictor{
		numClasses: numClasses,
		channels:   channels,
		weight:     append([]float32(nil), weight...),
		bias:       append([]float32(nil), bias...),
	}, nil
}

// Load reads the checkpoint named in args and creates the predictor. The
// head runs on the CPU whatever device is requested.
func Load(args model.NewModelArgs) (*Predictor, error) {
	state, err := checkpoints.Load(args.Checkpoint)
	if err != nil {
		return nil, err
	}
	return New(args.Config.NumClasses, args.Config.InChannels, state)
}

// NumClasses returns the number of score channels.
func (p *Predictor) NumClasses() int {
	return p.numClasses
}

// Forward computes N×numClasses×H×W scores for an N×channels×H×W batch.
func (p *Predictor) Forward(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
	n, c, h, w, err := inference.Dims4(batch)
	if err != nil {
		return nil, err
	}
	if c != p.channels {
		return nil, errors.Wrapf(inference.ErrShape, "batch has %d channels, head expects %d", c, p.channels)
	}
	data, err := inference.Float32Data(batch)
	if err != nil {
		return nil, err
	}

	plane := h * w
	out := make([]float32, n*p.numClasses*plane)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores, err := p.project(data[i*c*plane:(i+1)*c*plane], plane)
		if err != nil {
			return nil, err
		}
		dst := out[i*p.numClasses*plane : (i+1)*p.numClasses*plane]
		for k := 0; k < p.numClasses; k++ {
			b := p.bias[k]
			row := dst[k*plane : (k+1)*plane]
			for j, v := range scores[k*plane : (k+1)*plane] {
				row[j] = v + b
			}
		}
	}

	return tensor.New(tensor.WithShape(n, p.numClasses, h, w), tensor.WithBacking(out)), nil
}

// project multiplies the weight matrix with one image's channels×pixels
// matrix.
func (p *Predictor) project(pixels []float32, plane int) ([]float32, error) {
	g := G.NewGraph()
	weight := G.NewMatrix(g, tensor.Float32,
		G.WithShape(p.numClasses, p.channels),
		G.WithName("weight"),
		G.WithValue(tensor.New(tensor.WithShape(p.numClasses, p.channels), tensor.WithBacking(p.weight))),
	)
	x := G.NewMatrix(g, tensor.Float32,
		G.WithShape(p.channels, plane),
		G.WithName("x"),
		G.WithValue(tensor.New(tensor.WithShape(p.channels, plane), tensor.WithBacking(pixels))),
	)
	scores, err := G.Mul(weight, x)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build linear head graph")
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "failed to run linear head graph")
	}

	result, ok := scores.Value().Data().([]float32)
	if !ok {
		return nil, errors.Errorf("linear head produced %T", scores.Value().Data())
	}
	return append([]float32(nil), result...), nil
}
