package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImage_Decode(t *testing.T) {
	img := &Image{Format: FormatPNG, Data: encodePNG(t, getTestImage(7, 5))}

	decoded, err := img.Decode()
	require.NoError(t, err)
	assert.Equal(t, 7, img.Width)
	assert.Equal(t, 5, img.Height)
	assert.Equal(t, 7, decoded.Bounds().Dx())

	_, err = (&Image{Format: FormatPNG}).Decode()
	assert.Error(t, err, "empty data should fail")

	_, err = (&Image{Format: FormatPNG, Data: []byte("not a png")}).Decode()
	assert.Error(t, err, "garbage data should fail")
}

func TestToTensor(t *testing.T) {
	t.Run("Raw values in CHW order", func(t *testing.T) {
		dense, err := ToTensor(getTestImage(4, 3), Size{Height: 3, Width: 4}, Normalization{})
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3, 4}, []int(dense.Shape()))

		data := dense.Data().([]float32)
		assert.Equal(t, float32(200), data[0])
		assert.Equal(t, float32(100), data[12])
		assert.Equal(t, float32(50), data[24])
	})

	t.Run("Normalized and resized", func(t *testing.T) {
		norm := Normalization{Mean: []float32{200, 100, 50}, Std: []float32{2, 2, 2}}
		dense, err := ToTensor(getTestImage(8, 8), Size{Height: 2, Width: 2}, norm)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 2, 2}, []int(dense.Shape()))
		for _, v := range dense.Data().([]float32) {
			assert.InDelta(t, 0, v, 1.0)
		}
	})

	t.Run("Invalid arguments", func(t *testing.T) {
		_, err := ToTensor(nil, Size{Height: 2, Width: 2}, Normalization{})
		assert.Error(t, err)
		_, err = ToTensor(getTestImage(2, 2), Size{}, Normalization{})
		assert.Error(t, err)
		_, err = ToTensor(getTestImage(2, 2), Size{Height: 2, Width: 2}, Normalization{Mean: []float32{1}, Std: []float32{1}})
		assert.Error(t, err)
		_, err = ToTensor(getTestImage(2, 2), Size{Height: 2, Width: 2}, Normalization{Mean: []float32{1, 1, 1}, Std: []float32{1, 0, 1}})
		assert.Error(t, err)
	})
}

func TestDecodeLabelMap(t *testing.T) {
	t.Run("Gray annotation", func(t *testing.T) {
		gray := image.NewGray(image.Rect(0, 0, 3, 2))
		gray.SetGray(0, 0, color.Gray{Y: 1})
		gray.SetGray(2, 1, color.Gray{Y: 255})

		m, err := DecodeLabelMap(encodePNG(t, gray))
		require.NoError(t, err)
		assert.Equal(t, 3, m.Width)
		assert.Equal(t, 2, m.Height)
		assert.Equal(t, int32(1), m.At(0, 0))
		assert.Equal(t, int32(255), m.At(2, 1))
		assert.Equal(t, int32(0), m.At(1, 1))
	})

	t.Run("Paletted annotation uses indices", func(t *testing.T) {
		palette := color.Palette{color.Black, color.RGBA{R: 128, A: 255}, color.RGBA{G: 128, A: 255}}
		p := image.NewPaletted(image.Rect(0, 0, 2, 2), palette)
		p.SetColorIndex(1, 0, 2)
		p.SetColorIndex(0, 1, 1)

		m, err := DecodeLabelMap(encodePNG(t, p))
		require.NoError(t, err)
		assert.Equal(t, []int32{0, 2, 1, 0}, m.Labels)
	})

	t.Run("Empty data", func(t *testing.T) {
		_, err := DecodeLabelMap(nil)
		assert.Error(t, err)
	})
}

func TestLabelMap_Clone(t *testing.T) {
	m := NewLabelMap(2, 1)
	m.Set(1, 0, 5)
	c := m.Clone()
	c.Set(1, 0, 7)
	assert.Equal(t, int32(5), m.At(1, 0))
	assert.Equal(t, int32(7), c.At(1, 0))
}
