// Engine interface and the sliding-window implementation.
package inference

import (
	"context"
	"io"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference/tiling"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Engine produces full-resolution class scores and label maps for a batch.
type Engine interface {
	// Infer returns N×numClasses×H×W scores for an N×C×H×W batch.
	Infer(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error)
	// Segment runs Infer and resizes each image's scores to its own size
	// before taking the per-pixel arg-max.
	Segment(ctx context.Context, batch *tensor.Dense, sizes []images.Size) ([]images.LabelMap, error)
	Close() error
}

// EngineBuilder helps build engines with a fluent API.
type EngineBuilder struct {
	predictor  Predictor
	config     Config
	numClasses int
	normalizer Normalizer
	profiler   *profiler.Tracker
	err        error
}

// NewEngineBuilder creates a new engine builder with whole-image inference.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{config: DefaultConfig()}
}

// WithPredictor sets the predictor for the engine.
//
// Arguments:
//   - p: The predictor to use for the engine.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithPredictor(p Predictor) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if p == nil {
		b.err = errors.New("predictor is nil")
		return b
	}
	b.predictor = p
	return b
}

// WithConfig sets the inference mode and grid.
//
// Arguments:
//   - cfg: The inference configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithConfig(cfg Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.config = cfg
	return b
}

// WithNumClasses sets the number of classes the predictor must produce.
// Defaults to the predictor's own NumClasses.
func (b *EngineBuilder) WithNumClasses(n int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if n <= 0 {
		b.err = errors.Errorf("number of classes must be positive, got %d", n)
		return b
	}
	b.numClasses = n
	return b
}

// WithAlignCorners sets the resize convention used by Segment. It must match
// the convention the predictor was trained with.
func (b *EngineBuilder) WithAlignCorners(alignCorners bool) *EngineBuilder {
	b.normalizer = Normalizer{AlignCorners: alignCorners}
	return b
}

// WithProfiler records predictor call timings into p.
func (b *EngineBuilder) WithProfiler(p *profiler.Tracker) *EngineBuilder {
	b.profiler = p
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - Engine: The engine.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.predictor == nil {
		return nil, errors.New("predictor not configured")
	}

	numClasses := b.numClasses
	if numClasses == 0 {
		numClasses = b.predictor.NumClasses()
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("number of classes must be positive, got %d", numClasses)
	}
	if p := b.predictor.NumClasses(); p > 0 && p != numClasses {
		return nil, errors.Wrapf(ErrInvalidConfig, "predictor produces %d classes, engine expects %d", p, numClasses)
	}

	return &engine{
		predictor:  b.predictor,
		config:     b.config,
		numClasses: numClasses,
		normalizer: b.normalizer,
		profiler:   b.profiler,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	predictor  Predictor
	config     Config
	numClasses int
	normalizer Normalizer
	profiler   *profiler.Tracker
}

// Infer runs whole-image or sliding-window inference on a batch.
//
// Arguments:
//   - ctx: The context handed to the predictor.
//   - batch: The N×C×H×W batch.
//
// Returns:
//   - *tensor.Dense: N×numClasses×H×W scores.
//   - error: Predictor errors are returned unmodified.
func (e *engine) Infer(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
	n, _, h, w, err := Dims4(batch)
	if err != nil {
		return nil, err
	}

	if e.config.Mode == ModeWhole {
		out, err := e.forward(ctx, batch)
		if err != nil {
			return nil, err
		}
		if _, err := e.checkOutput(out, n, h, w); err != nil {
			return nil, err
		}
		return out, nil
	}

	return e.slide(ctx, batch, n, h, w)
}

// slide covers the batch with a tile grid and overlap-averages tile scores.
// The grid depends only on the batch's spatial size, so every image in the
// batch shares the same tiles.
func (e *engine) slide(ctx context.Context, batch *tensor.Dense, n, h, w int) (*tensor.Dense, error) {
	grid, err := tiling.NewGrid(h, w, e.config.Opts.CropSize, e.config.Opts.Stride)
	if err != nil {
		return nil, err
	}

	accs := make([]*tiling.Accumulator, n)
	for i := range accs {
		accs[i] = tiling.NewAccumulator(e.numClasses, h, w)
	}

	for tile := range grid.Tiles() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop, err := Crop(batch, tile)
		if err != nil {
			return nil, err
		}
		out, err := e.forward(ctx, crop)
		if err != nil {
			return nil, err
		}
		scores, err := e.checkOutput(out, n, tile.Dy(), tile.Dx())
		if err != nil {
			return nil, errors.WithMessagef(err, "tile %s", tile)
		}

		block := e.numClasses * tile.Dy() * tile.Dx()
		for i, acc := range accs {
			acc.Deposit(tile, scores[i*block:(i+1)*block])
		}
	}

	per := e.numClasses * h * w
	result := make([]float32, n*per)
	for i, acc := range accs {
		scores, err := acc.Finalize()
		if err != nil {
			return nil, errors.WithMessagef(err, "image %d with crop %s and stride %s",
				i, e.config.Opts.CropSize, e.config.Opts.Stride)
		}
		copy(result[i*per:(i+1)*per], scores)
	}

	return tensor.New(tensor.WithShape(n, e.numClasses, h, w), tensor.WithBacking(result)), nil
}

func (e *engine) forward(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
	defer e.profiler.StartOperation("forward")()
	return e.predictor.Forward(ctx, batch)
}

func (e *engine) checkOutput(out *tensor.Dense, n, h, w int) ([]float32, error) {
	on, oc, oh, ow, err := Dims4(out)
	if err != nil {
		return nil, errors.WithMessage(err, "predictor output")
	}
	if on != n || oc != e.numClasses || oh != h || ow != w {
		return nil, errors.Wrapf(ErrShape, "predictor output %v, want [%d %d %d %d]",
			out.Shape(), n, e.numClasses, h, w)
	}
	return Float32Data(out)
}

// Segment runs inference and reduces the scores to one label map per image.
//
// Arguments:
//   - ctx: The context handed to the predictor.
//   - batch: The N×C×H×W batch.
//   - sizes: The original size of each image.
//
// Returns:
//   - []images.LabelMap: One prediction per image at its original size.
//   - error: The error if any.
func (e *engine) Segment(ctx context.Context, batch *tensor.Dense, sizes []images.Size) ([]images.LabelMap, error) {
	scores, err := e.Infer(ctx, batch)
	if err != nil {
		return nil, err
	}
	return e.normalizer.Normalize(scores, sizes)
}

// Close releases the predictor if it holds resources.
func (e *engine) Close() error {
	if c, ok := e.predictor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
