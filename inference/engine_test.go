package inference

import (
	"context"
	"testing"

	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference/tiling"
	"github.com/nvr-ai/go-seg/profiler"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// pixelPredictor scores class k at each pixel as (k+1)*value of channel 0.
// Its output at a pixel depends only on that pixel, so whole-image and tiled
// inference agree exactly.
func pixelPredictor(classes int) PredictorFunc {
	return PredictorFunc{
		Classes: classes,
		Fn: func(_ context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
			n, c, h, w, err := Dims4(batch)
			if err != nil {
				return nil, err
			}
			in, err := Float32Data(batch)
			if err != nil {
				return nil, err
			}
			out := make([]float32, n*classes*h*w)
			for i := 0; i < n; i++ {
				src := in[i*c*h*w : i*c*h*w+h*w]
				for k := 0; k < classes; k++ {
					dst := out[(i*classes+k)*h*w : (i*classes+k+1)*h*w]
					for p, v := range src {
						dst[p] = float32(k+1) * v
					}
				}
			}
			return tensor.New(tensor.WithShape(n, classes, h, w), tensor.WithBacking(out)), nil
		},
	}
}

func constantPredictor(classes int, value float32) PredictorFunc {
	return PredictorFunc{
		Classes: classes,
		Fn: func(_ context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
			n, _, h, w, err := Dims4(batch)
			if err != nil {
				return nil, err
			}
			out := make([]float32, n*classes*h*w)
			for i := range out {
				out[i] = value
			}
			return tensor.New(tensor.WithShape(n, classes, h, w), tensor.WithBacking(out)), nil
		},
	}
}

func rampBatch(n, c, h, w int) *tensor.Dense {
	data := make([]float32, n*c*h*w)
	for i := range data {
		data[i] = float32(i%97) / 10
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(data))
}

func slideConfig(crop, stride images.Size) Config {
	return Config{Mode: ModeSlide, Opts: SlideOptions{CropSize: crop, Stride: stride}}
}

func TestEngineBuilder(t *testing.T) {
	t.Run("missing predictor", func(t *testing.T) {
		_, err := NewEngineBuilder().Build()
		assert.Error(t, err)
	})

	t.Run("nil predictor", func(t *testing.T) {
		b := NewEngineBuilder().WithPredictor(nil)
		assert.True(t, b.HasError())
		_, err := b.Build()
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewEngineBuilder().
			WithPredictor(constantPredictor(2, 0)).
			WithConfig(Config{Mode: "tiled"}).
			Build()
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("class mismatch", func(t *testing.T) {
		_, err := NewEngineBuilder().
			WithPredictor(constantPredictor(3, 0)).
			WithNumClasses(4).
			Build()
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("non-positive classes", func(t *testing.T) {
		b := NewEngineBuilder().WithNumClasses(0)
		assert.True(t, b.HasError())
	})

	t.Run("first error wins", func(t *testing.T) {
		b := NewEngineBuilder().WithPredictor(nil).WithConfig(Config{Mode: "x"})
		_, err := b.Build()
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("must build panics", func(t *testing.T) {
		assert.Panics(t, func() { NewEngineBuilder().MustBuild() })
	})

	t.Run("classes from predictor", func(t *testing.T) {
		e := NewEngineBuilder().WithPredictor(constantPredictor(5, 0)).MustBuild()
		out, err := e.Infer(context.Background(), NewBatch(1, 3, 4, 4))
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 5, 4, 4}, out.Shape())
	})
}

func TestInferWholeEqualsSlideWhenCropCoversImage(t *testing.T) {
	batch := rampBatch(2, 3, 7, 9)

	whole := NewEngineBuilder().WithPredictor(pixelPredictor(3)).MustBuild()
	slide := NewEngineBuilder().
		WithPredictor(pixelPredictor(3)).
		WithConfig(slideConfig(images.Size{Height: 7, Width: 9}, images.Size{Height: 4, Width: 4})).
		MustBuild()

	a, err := whole.Infer(context.Background(), batch)
	require.NoError(t, err)
	b, err := slide.Infer(context.Background(), batch)
	require.NoError(t, err)

	ad, _ := Float32Data(a)
	bd, _ := Float32Data(b)
	assert.Equal(t, ad, bd)
}

func TestInferSlideMatchesWholeForPixelwisePredictor(t *testing.T) {
	tests := []struct {
		name   string
		h, w   int
		crop   images.Size
		stride images.Size
	}{
		{name: "overlapping", h: 10, w: 13, crop: images.Size{Height: 4, Width: 5}, stride: images.Size{Height: 3, Width: 2}},
		{name: "edge aligned", h: 8, w: 8, crop: images.Size{Height: 4, Width: 4}, stride: images.Size{Height: 4, Width: 4}},
		{name: "crop larger than image", h: 3, w: 5, crop: images.Size{Height: 8, Width: 8}, stride: images.Size{Height: 2, Width: 2}},
		{name: "unit stride", h: 5, w: 6, crop: images.Size{Height: 3, Width: 3}, stride: images.Size{Height: 1, Width: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := rampBatch(2, 1, tt.h, tt.w)
			whole := NewEngineBuilder().WithPredictor(pixelPredictor(2)).MustBuild()
			slide := NewEngineBuilder().
				WithPredictor(pixelPredictor(2)).
				WithConfig(slideConfig(tt.crop, tt.stride)).
				MustBuild()

			a, err := whole.Infer(context.Background(), batch)
			require.NoError(t, err)
			b, err := slide.Infer(context.Background(), batch)
			require.NoError(t, err)
			assert.Equal(t, tensor.Shape{2, 2, tt.h, tt.w}, b.Shape())

			ad, _ := Float32Data(a)
			bd, _ := Float32Data(b)
			assert.InDeltaSlice(t, ad, bd, 1e-5)
		})
	}
}

func TestInferSlideConstantPredictor(t *testing.T) {
	e := NewEngineBuilder().
		WithPredictor(constantPredictor(4, 0.25)).
		WithConfig(slideConfig(images.Size{Height: 3, Width: 4}, images.Size{Height: 2, Width: 3})).
		MustBuild()

	out, err := e.Infer(context.Background(), NewBatch(3, 3, 11, 7))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4, 11, 7}, out.Shape())

	data, err := Float32Data(out)
	require.NoError(t, err)
	for i, v := range data {
		require.InDelta(t, 0.25, v, 1e-6, "index %d", i)
	}
}

func TestInferSlideCallsPredictorPerTile(t *testing.T) {
	var shapes []tensor.Shape
	p := PredictorFunc{
		Classes: 1,
		Fn: func(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
			shapes = append(shapes, batch.Shape().Clone())
			return constantPredictor(1, 1).Forward(ctx, batch)
		},
	}

	tracker := profiler.NewTracker()
	e := NewEngineBuilder().
		WithPredictor(p).
		WithConfig(slideConfig(images.Size{Height: 4, Width: 4}, images.Size{Height: 4, Width: 4})).
		WithProfiler(tracker).
		MustBuild()

	_, err := e.Infer(context.Background(), NewBatch(2, 3, 10, 4))
	require.NoError(t, err)

	// Rows start at 0, 4 and 6 so every tile keeps the full crop size.
	require.Len(t, shapes, 3)
	for _, s := range shapes {
		assert.Equal(t, tensor.Shape{2, 3, 4, 4}, s)
	}
	stats, ok := tracker.Stats("forward")
	require.True(t, ok)
	assert.Equal(t, int64(3), stats.Count)
}

func TestInferPredictorErrorReturnedUnmodified(t *testing.T) {
	boom := errors.New("boom")
	p := PredictorFunc{
		Classes: 2,
		Fn: func(context.Context, *tensor.Dense) (*tensor.Dense, error) {
			return nil, boom
		},
	}

	for _, cfg := range []Config{
		DefaultConfig(),
		slideConfig(images.Size{Height: 2, Width: 2}, images.Size{Height: 1, Width: 1}),
	} {
		t.Run(string(cfg.Mode), func(t *testing.T) {
			e := NewEngineBuilder().WithPredictor(p).WithConfig(cfg).MustBuild()
			_, err := e.Infer(context.Background(), NewBatch(1, 3, 4, 4))
			assert.Same(t, boom, err)
		})
	}
}

func TestInferRejectsBadPredictorOutput(t *testing.T) {
	wrongClasses := PredictorFunc{
		Classes: 2,
		Fn: func(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
			return constantPredictor(3, 0).Forward(ctx, batch)
		},
	}

	for _, cfg := range []Config{
		DefaultConfig(),
		slideConfig(images.Size{Height: 2, Width: 2}, images.Size{Height: 2, Width: 2}),
	} {
		t.Run(string(cfg.Mode), func(t *testing.T) {
			e := NewEngineBuilder().WithPredictor(wrongClasses).WithConfig(cfg).MustBuild()
			_, err := e.Infer(context.Background(), NewBatch(1, 3, 4, 4))
			assert.True(t, errors.Is(err, ErrShape))
		})
	}
}

func TestInferRejectsBadBatch(t *testing.T) {
	e := NewEngineBuilder().WithPredictor(constantPredictor(2, 0)).MustBuild()
	_, err := e.Infer(context.Background(), tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, 4, 4)))
	assert.True(t, errors.Is(err, ErrShape))
}

func TestSegment(t *testing.T) {
	// Class 1 wins where channel 0 is positive, class 0 wins (tie at zero) elsewhere.
	data := []float32{
		0, 1,
		2, 0,
	}
	batch := tensor.New(tensor.WithShape(1, 1, 2, 2), tensor.WithBacking(data))

	e := NewEngineBuilder().
		WithPredictor(pixelPredictor(2)).
		WithConfig(slideConfig(images.Size{Height: 1, Width: 2}, images.Size{Height: 1, Width: 1})).
		WithAlignCorners(true).
		MustBuild()

	maps, err := e.Segment(context.Background(), batch, []images.Size{{Height: 2, Width: 2}})
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, []int32{0, 1, 1, 0}, maps[0].Labels)

	_, err = e.Segment(context.Background(), batch, nil)
	assert.True(t, errors.Is(err, ErrShape))
}

func TestInferSlideGaps(t *testing.T) {
	for _, tt := range []struct {
		stride  int
		wantErr bool
	}{
		{stride: 1}, {stride: 2}, {stride: 3},
		{stride: 5, wantErr: true},
	} {
		e := NewEngineBuilder().
			WithPredictor(constantPredictor(1, 1)).
			WithConfig(slideConfig(images.Size{Height: 3, Width: 3}, images.Size{Height: tt.stride, Width: tt.stride})).
			MustBuild()
		_, err := e.Infer(context.Background(), NewBatch(1, 1, 9, 10))
		if tt.wantErr {
			assert.True(t, errors.Is(err, tiling.ErrGridCoverage), "stride %d", tt.stride)
			continue
		}
		assert.NoError(t, err, "stride %d", tt.stride)
	}
}
