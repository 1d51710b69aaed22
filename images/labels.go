package images

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// IgnoreLabel marks ground-truth pixels excluded from evaluation.
const IgnoreLabel int32 = -1

// LabelMap is an integer class map of Height×Width pixels in row-major order.
// It carries both predictions and ground truth.
type LabelMap struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Labels []int32 `json:"labels"`
}

// NewLabelMap allocates a zeroed label map.
func NewLabelMap(width, height int) LabelMap {
	return LabelMap{
		Width:  width,
		Height: height,
		Labels: make([]int32, width*height),
	}
}

// At returns the label at (x, y).
func (m LabelMap) At(x, y int) int32 {
	return m.Labels[y*m.Width+x]
}

// Set assigns the label at (x, y).
func (m LabelMap) Set(x, y int, v int32) {
	m.Labels[y*m.Width+x] = v
}

// Clone returns a deep copy of the label map.
func (m LabelMap) Clone() LabelMap {
	out := LabelMap{Width: m.Width, Height: m.Height, Labels: make([]int32, len(m.Labels))}
	copy(out.Labels, m.Labels)
	return out
}

// DecodeLabelMap decodes an annotation image into class ids.
//
// Paletted images (VOC style) use the palette index as the class id, every
// other color model uses the 8-bit gray value.
//
// Arguments:
//   - data: The encoded annotation image.
//
// Returns:
//   - LabelMap: The decoded label map at the annotation's own resolution.
//   - error: An error if the image cannot be decoded.
func DecodeLabelMap(data []byte) (LabelMap, error) {
	if len(data) == 0 {
		return LabelMap{}, errors.New("annotation data is empty")
	}

	// imaging.Decode converts to NRGBA, which would lose palette indices,
	// so paletted images are decoded with the standard registry first.
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return LabelMap{}, errors.Wrap(err, "annotation decoding failed")
	}

	return LabelMapFromImage(img), nil
}

// LabelMapFromImage converts a decoded annotation image into class ids.
func LabelMapFromImage(img image.Image) LabelMap {
	b := img.Bounds()
	m := NewLabelMap(b.Dx(), b.Dy())

	if p, ok := img.(*image.Paletted); ok {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				m.Set(x, y, int32(p.ColorIndexAt(b.Min.X+x, b.Min.Y+y)))
			}
		}
		return m
	}

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				m.Set(x, y, int32(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return m
	}

	gray := imaging.Grayscale(img)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := color.GrayModel.Convert(gray.At(x, y)).(color.Gray)
			m.Set(x, y, int32(c.Y))
		}
	}
	return m
}
