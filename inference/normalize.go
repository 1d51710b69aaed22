package inference

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Normalizer resizes raw scores to each image's original resolution and
// reduces them to label maps.
type Normalizer struct {
	// AlignCorners selects the bilinear sampling grid. When true the corner
	// pixels of input and output are aligned; otherwise pixel centers are
	// (half-pixel offset). It must match the predictor's training setup.
	AlignCorners bool
}

// Normalize resizes each image's scores independently and takes the arg-max
// over the class axis.
//
// Arguments:
//   - scores: N×K×Hc×Wc scores.
//   - sizes: The original size of each of the N images.
//
// Returns:
//   - []images.LabelMap: N label maps with values in [0, K).
//   - error: ErrShape if scores and sizes disagree.
func (n Normalizer) Normalize(scores *tensor.Dense, sizes []images.Size) ([]images.LabelMap, error) {
	batch, k, h, w, err := Dims4(scores)
	if err != nil {
		return nil, err
	}
	if len(sizes) != batch {
		return nil, errors.Wrapf(ErrShape, "%d target sizes for batch of %d", len(sizes), batch)
	}
	data, err := Float32Data(scores)
	if err != nil {
		return nil, err
	}

	per := k * h * w
	out := make([]images.LabelMap, batch)
	for i, size := range sizes {
		if !size.Positive() {
			return nil, errors.Wrapf(ErrShape, "target size %s of image %d", size, i)
		}
		resized := ResizeBilinear(data[i*per:(i+1)*per], k, h, w, size.Height, size.Width, n.AlignCorners)
		out[i] = Argmax(resized, k, size.Height, size.Width)
	}
	return out, nil
}

// ResizeBilinear resizes a channels×inH×inW plane stack to channels×outH×outW.
//
// The sampling follows the usual deep-learning convention: with alignCorners
// the scale is (in-1)/(out-1) and source = dst*scale; without it the scale is
// in/out and source = (dst+0.5)*scale-0.5 clamped at zero.
func ResizeBilinear(src []float32, channels, inH, inW, outH, outW int, alignCorners bool) []float32 {
	out := make([]float32, channels*outH*outW)
	if inH == outH && inW == outW {
		copy(out, src)
		return out
	}

	ys := samplePositions(inH, outH, alignCorners)
	xs := samplePositions(inW, outW, alignCorners)

	for c := 0; c < channels; c++ {
		plane := src[c*inH*inW : (c+1)*inH*inW]
		dst := out[c*outH*outW : (c+1)*outH*outW]
		for oy, sy := range ys {
			top := plane[sy.i0*inW : (sy.i0+1)*inW]
			bottom := plane[sy.i1*inW : (sy.i1+1)*inW]
			for ox, sx := range xs {
				upper := sx.w0*top[sx.i0] + sx.w1*top[sx.i1]
				lower := sx.w0*bottom[sx.i0] + sx.w1*bottom[sx.i1]
				dst[oy*outW+ox] = sy.w0*upper + sy.w1*lower
			}
		}
	}
	return out
}

// sample is a source position as two neighbour indices and their weights.
type sample struct {
	i0, i1 int
	w0, w1 float32
}

func samplePositions(in, out int, alignCorners bool) []sample {
	var scale float32
	if alignCorners {
		if out > 1 {
			scale = float32(in-1) / float32(out-1)
		}
	} else {
		scale = float32(in) / float32(out)
	}

	samples := make([]sample, out)
	for d := range samples {
		var src float32
		if alignCorners {
			src = scale * float32(d)
		} else {
			src = math32.Max(scale*(float32(d)+0.5)-0.5, 0)
		}

		i0 := min(int(math32.Floor(src)), in-1)
		i1 := i0
		if i0 < in-1 {
			i1 = i0 + 1
		}
		lambda := src - float32(i0)
		samples[d] = sample{i0: i0, i1: i1, w0: 1 - lambda, w1: lambda}
	}
	return samples
}

// Argmax reduces a channels×height×width score stack to the index of the
// highest score per pixel. Ties resolve to the lowest class index. NaN ranks
// above every number, so the first NaN class wins.
func Argmax(scores []float32, channels, height, width int) images.LabelMap {
	m := images.NewLabelMap(width, height)
	plane := height * width
	for i := 0; i < plane; i++ {
		best := scores[i]
		label := int32(0)
		for c := 1; c < channels && !math32.IsNaN(best); c++ {
			if v := scores[c*plane+i]; math32.IsNaN(v) || v > best {
				best = v
				label = int32(c)
			}
		}
		m.Labels[i] = label
	}
	return m
}
