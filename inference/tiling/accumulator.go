package tiling

import (
	"fmt"

	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
)

// ErrGridCoverage is returned when a pixel was not covered by any tile.
var ErrGridCoverage = errors.New("tile grid does not cover the image")

// Accumulator sums tile scores and coverage counts for one image.
//
// It is owned by a single inference call and is not safe for concurrent use.
type Accumulator struct {
	numClasses int
	height     int
	width      int
	scores     []float32
	counts     []int32
}

// NewAccumulator allocates zeroed score and count buffers.
//
// Arguments:
//   - numClasses: The number of score channels.
//   - height: The image height.
//   - width: The image width.
//
// Returns:
//   - *Accumulator: The accumulator.
func NewAccumulator(numClasses, height, width int) *Accumulator {
	return &Accumulator{
		numClasses: numClasses,
		height:     height,
		width:      width,
		scores:     make([]float32, numClasses*height*width),
		counts:     make([]int32, height*width),
	}
}

// Deposit adds a numClasses×tile.Dy()×tile.Dx() block of scores into the tile
// region and increments the coverage count of every pixel in it.
//
// Panics if the tile lies outside the image or the block has the wrong length;
// callers validate predictor output before depositing.
func (a *Accumulator) Deposit(tile images.Rect, scores []float32) {
	if !tile.Within(a.width, a.height) {
		panic(fmt.Sprintf("tiling: tile %s outside %dx%d image", tile, a.height, a.width))
	}
	th, tw := tile.Dy(), tile.Dx()
	if len(scores) != a.numClasses*th*tw {
		panic(fmt.Sprintf("tiling: tile block has %d scores, want %d", len(scores), a.numClasses*th*tw))
	}

	plane := a.height * a.width
	for c := 0; c < a.numClasses; c++ {
		src := scores[c*th*tw : (c+1)*th*tw]
		dst := a.scores[c*plane : (c+1)*plane]
		for y := 0; y < th; y++ {
			row := dst[(tile.Y1+y)*a.width+tile.X1 : (tile.Y1+y)*a.width+tile.X2]
			for x, v := range src[y*tw : (y+1)*tw] {
				row[x] += v
			}
		}
	}

	for y := tile.Y1; y < tile.Y2; y++ {
		row := a.counts[y*a.width+tile.X1 : y*a.width+tile.X2]
		for x := range row {
			row[x]++
		}
	}
}

// Finalize returns the overlap-averaged scores: each pixel receives the mean
// of the scores of every tile that covered it.
//
// Returns:
//   - []float32: numClasses×height×width averaged scores.
//   - error: ErrGridCoverage if any pixel has a zero count.
func (a *Accumulator) Finalize() ([]float32, error) {
	for i, n := range a.counts {
		if n == 0 {
			return nil, errors.Wrapf(ErrGridCoverage, "pixel (x=%d, y=%d) of %dx%d image",
				i%a.width, i/a.width, a.height, a.width)
		}
	}

	plane := a.height * a.width
	out := make([]float32, len(a.scores))
	for c := 0; c < a.numClasses; c++ {
		for i := 0; i < plane; i++ {
			out[c*plane+i] = a.scores[c*plane+i] / float32(a.counts[i])
		}
	}
	return out, nil
}

// Counts returns a copy of the per-pixel coverage counts.
func (a *Accumulator) Counts() []int32 {
	out := make([]int32, len(a.counts))
	copy(out, a.counts)
	return out
}
