package inference

import (
	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShape is returned when a tensor does not have the expected layout.
var ErrShape = errors.New("unexpected tensor shape")

// NewBatch allocates a zeroed N×C×H×W float32 tensor.
func NewBatch(n, c, h, w int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, c, h, w))
}

// Float32Data returns the contiguous float32 backing of t, materializing
// views first.
//
// Arguments:
//   - t: The tensor.
//
// Returns:
//   - []float32: The row-major data.
//   - error: ErrShape if t is nil or not float32.
func Float32Data(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShape, "tensor is nil")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShape, "dtype %v, want float32", t.Dtype())
	}
	if t.IsView() {
		m, ok := t.Materialize().(*tensor.Dense)
		if !ok {
			return nil, errors.Wrap(ErrShape, "cannot materialize tensor view")
		}
		t = m
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrShape, "backing %T, want []float32", t.Data())
	}
	return data, nil
}

// Dims4 returns the N, C, H, W dimensions of a rank-4 tensor.
func Dims4(t *tensor.Dense) (n, c, h, w int, err error) {
	if t == nil {
		return 0, 0, 0, 0, errors.Wrap(ErrShape, "tensor is nil")
	}
	shape := t.Shape()
	if len(shape) != 4 {
		return 0, 0, 0, 0, errors.Wrapf(ErrShape, "shape %v is not [N, C, H, W]", shape)
	}
	for i, d := range shape {
		if d <= 0 {
			return 0, 0, 0, 0, errors.Wrapf(ErrShape, "dimension %d of %v must be > 0", i, shape)
		}
	}
	return shape[0], shape[1], shape[2], shape[3], nil
}

// Crop copies the region r out of every image in an N×C×H×W batch.
//
// Arguments:
//   - batch: The source batch.
//   - r: The region, which must lie inside the batch's spatial extent.
//
// Returns:
//   - *tensor.Dense: An N×C×r.Dy()×r.Dx() tensor.
//   - error: ErrShape if the batch is malformed or r is out of bounds.
func Crop(batch *tensor.Dense, r images.Rect) (*tensor.Dense, error) {
	n, c, h, w, err := Dims4(batch)
	if err != nil {
		return nil, err
	}
	if !r.Within(w, h) {
		return nil, errors.Wrapf(ErrShape, "crop %s outside %dx%d batch", r, h, w)
	}
	src, err := Float32Data(batch)
	if err != nil {
		return nil, err
	}

	th, tw := r.Dy(), r.Dx()
	dst := make([]float32, n*c*th*tw)
	i := 0
	for p := 0; p < n*c; p++ {
		plane := src[p*h*w : (p+1)*h*w]
		for y := r.Y1; y < r.Y2; y++ {
			i += copy(dst[i:i+tw], plane[y*w+r.X1:y*w+r.X2])
		}
	}

	return tensor.New(tensor.WithShape(n, c, th, tw), tensor.WithBacking(dst)), nil
}

// Stack joins C×H×W tensors of identical shape into an N×C×H×W batch.
func Stack(items []*tensor.Dense) (*tensor.Dense, error) {
	if len(items) == 0 {
		return nil, errors.Wrap(ErrShape, "empty batch")
	}
	first := items[0].Shape()
	if len(first) != 3 {
		return nil, errors.Wrapf(ErrShape, "item shape %v is not [C, H, W]", first)
	}

	per := first.TotalSize()
	out := make([]float32, per*len(items))
	for i, item := range items {
		if !item.Shape().Eq(first) {
			return nil, errors.Wrapf(ErrShape, "item %d has shape %v, want %v", i, item.Shape(), first)
		}
		data, err := Float32Data(item)
		if err != nil {
			return nil, err
		}
		copy(out[i*per:(i+1)*per], data)
	}

	return tensor.New(tensor.WithShape(len(items), first[0], first[1], first[2]), tensor.WithBacking(out)), nil
}
