// Package images - Image geometry, label maps and decoding utilities.
package images

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rect is a lightweight axis-aligned box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Dx returns the width of the rectangle.
func (r Rect) Dx() int {
	return r.X2 - r.X1
}

// Dy returns the height of the rectangle.
func (r Rect) Dy() int {
	return r.Y2 - r.Y1
}

// Empty reports whether the rectangle contains no pixels.
func (r Rect) Empty() bool {
	return r.X1 >= r.X2 || r.Y1 >= r.Y2
}

// Within reports whether the rectangle lies inside [0,width)×[0,height).
//
// Arguments:
//   - width: The width of the enclosing image.
//   - height: The height of the enclosing image.
//
// Returns:
//   - bool: True if every pixel of r is addressable in the image.
func (r Rect) Within(width, height int) bool {
	return r.X1 >= 0 && r.Y1 >= 0 && r.X2 <= width && r.Y2 <= height && !r.Empty()
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// Size is a two dimensional extent expressed as height then width, matching
// the [batch, channels, height, width] tensor layout.
type Size struct {
	Height int `json:"height" yaml:"height"`
	Width  int `json:"width"  yaml:"width"`
}

// Positive reports whether both dimensions are greater than zero.
func (s Size) Positive() bool {
	return s.Height > 0 && s.Width > 0
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Height, s.Width)
}

// UnmarshalYAML accepts either a mapping with height/width keys or a two
// element sequence [height, width].
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []int
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("size must have 2 elements [height, width], got %d", len(pair))
		}
		s.Height, s.Width = pair[0], pair[1]
		return nil
	}

	type plain Size
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Size(p)
	return nil
}
