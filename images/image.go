// Package images - Image definition for processing utilities.
package images

import (
	"bytes"
	"image"
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder

	_ "github.com/chai2010/webp" // Register WebP format decoder
	"github.com/chewxy/math32"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// Normalization holds the per-channel mean and standard deviation applied to
// pixel values scaled to [0, 255].
type Normalization struct {
	Mean []float32 `json:"mean" yaml:"mean"`
	Std  []float32 `json:"std"  yaml:"std"`
}

// Decode decodes the image bytes and records the original dimensions.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the data is empty or cannot be decoded.
func (i *Image) Decode() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, errors.New("image data is empty")
	}

	img, err := imaging.Decode(bytes.NewReader(i.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}

	i.Width = img.Bounds().Dx()
	i.Height = img.Bounds().Dy()
	return img, nil
}

// ToTensor resizes img to the processing size with bilinear interpolation and
// converts it into a 3×H×W float32 tensor in RGB order.
//
// Arguments:
//   - img: The decoded image.
//   - size: The shared processing resolution.
//   - norm: Per-channel normalization, skipped when empty.
//
// Returns:
//   - *tensor.Dense: The CHW tensor.
//   - error: An error if the size or normalization is invalid.
func ToTensor(img image.Image, size Size, norm Normalization) (*tensor.Dense, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if !size.Positive() {
		return nil, errors.Errorf("invalid processing size %s", size)
	}
	if len(norm.Mean) != len(norm.Std) {
		return nil, errors.Errorf("normalization mean has %d values but std has %d", len(norm.Mean), len(norm.Std))
	}
	if len(norm.Mean) != 0 && len(norm.Mean) != 3 {
		return nil, errors.Errorf("normalization needs 3 channel values, got %d", len(norm.Mean))
	}

	b := img.Bounds()
	if b.Dx() != size.Width || b.Dy() != size.Height {
		img = resize.Resize(uint(size.Width), uint(size.Height), img, resize.Bilinear)
		b = img.Bounds()
	}

	plane := size.Height * size.Width
	data := make([]float32, 3*plane)
	i := 0
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			data[i] = float32(r >> 8)
			data[plane+i] = float32(g >> 8)
			data[2*plane+i] = float32(bl >> 8)
			i++
		}
	}

	if len(norm.Mean) == 3 {
		for c := 0; c < 3; c++ {
			std := norm.Std[c]
			if math32.Abs(std) < 1e-12 {
				return nil, errors.Errorf("normalization std for channel %d is zero", c)
			}
			channel := data[c*plane : (c+1)*plane]
			for j := range channel {
				channel[j] = (channel[j] - norm.Mean[c]) / std
			}
		}
	}

	return tensor.New(tensor.WithShape(3, size.Height, size.Width), tensor.WithBacking(data)), nil
}
