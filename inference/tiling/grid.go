// Package tiling - Overlapping crop windows and overlap-add accumulation for
// tiled inference.
package tiling

import (
	"iter"

	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
)

// ErrInvalidGrid is returned when grid parameters are not positive.
var ErrInvalidGrid = errors.New("invalid tile grid")

// Grid describes the ordered crop windows covering a Height×Width image.
//
// A stride larger than the crop size is accepted and leaves gaps between
// tiles; such gaps surface as ErrGridCoverage when accumulating.
type Grid struct {
	Height int
	Width  int
	Crop   images.Size
	Stride images.Size
}

// NewGrid creates a grid for an image of the given size.
//
// Arguments:
//   - height: The image height in pixels.
//   - width: The image width in pixels.
//   - crop: The tile size.
//   - stride: The offset between consecutive tile origins.
//
// Returns:
//   - Grid: The grid.
//   - error: ErrInvalidGrid if any dimension is not positive.
func NewGrid(height, width int, crop, stride images.Size) (Grid, error) {
	if height <= 0 || width <= 0 {
		return Grid{}, errors.Wrapf(ErrInvalidGrid, "image size %dx%d", height, width)
	}
	if !crop.Positive() {
		return Grid{}, errors.Wrapf(ErrInvalidGrid, "crop size %s", crop)
	}
	if !stride.Positive() {
		return Grid{}, errors.Wrapf(ErrInvalidGrid, "stride %s", stride)
	}

	return Grid{Height: height, Width: width, Crop: crop, Stride: stride}, nil
}

// Rows returns the number of tiles along the height axis.
func (g Grid) Rows() int {
	return axisCount(g.Height, g.Crop.Height, g.Stride.Height)
}

// Cols returns the number of tiles along the width axis.
func (g Grid) Cols() int {
	return axisCount(g.Width, g.Crop.Width, g.Stride.Width)
}

// Len returns the total number of tiles.
func (g Grid) Len() int {
	return g.Rows() * g.Cols()
}

// Tile returns the window at grid position (row, col).
//
// The last window on each axis is shifted inward rather than shrunk, so every
// tile is exactly the crop size whenever the image is at least that large,
// and a single full-extent tile is produced when it is smaller.
func (g Grid) Tile(row, col int) images.Rect {
	y1, y2 := axisSpan(row, g.Height, g.Crop.Height, g.Stride.Height)
	x1, x2 := axisSpan(col, g.Width, g.Crop.Width, g.Stride.Width)
	return images.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Tiles yields every window in row-major order (rows outer, columns inner).
// The sequence is restartable and deterministic.
func (g Grid) Tiles() iter.Seq[images.Rect] {
	return func(yield func(images.Rect) bool) {
		rows, cols := g.Rows(), g.Cols()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if !yield(g.Tile(r, c)) {
					return
				}
			}
		}
	}
}

func axisCount(dim, crop, stride int) int {
	return max(dim-crop+stride-1, 0)/stride + 1
}

func axisSpan(i, dim, crop, stride int) (int, int) {
	a1 := i * stride
	a2 := min(a1+crop, dim)
	a1 = max(a2-crop, 0)
	return a1, a2
}
