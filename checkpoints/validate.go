package checkpoints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrMismatch is returned when a checkpoint does not fit a model's
// parameter layout.
var ErrMismatch = errors.New("checkpoint does not match model")

// Spec is the parameter layout a model expects, by name.
type Spec map[string]tensor.Shape

// Mismatch lists how a checkpoint differs from a Spec.
type Mismatch struct {
	Missing    []string
	Unexpected []string
	Shapes     []string
}

// Empty reports whether the checkpoint matched.
func (m Mismatch) Empty() bool {
	return len(m.Missing) == 0 && len(m.Unexpected) == 0 && len(m.Shapes) == 0
}

// String formats the differences on one line.
func (m Mismatch) String() string {
	var parts []string
	if len(m.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(m.Missing, ", "))
	}
	if len(m.Unexpected) > 0 {
		parts = append(parts, "unexpected: "+strings.Join(m.Unexpected, ", "))
	}
	if len(m.Shapes) > 0 {
		parts = append(parts, "shape: "+strings.Join(m.Shapes, ", "))
	}
	return strings.Join(parts, "; ")
}

// Compare reports the differences between a state and a spec.
func Compare(state State, spec Spec) Mismatch {
	var m Mismatch
	for name, want := range spec {
		got, ok := state[name]
		if !ok {
			m.Missing = append(m.Missing, name)
			continue
		}
		if !got.Shape().Eq(want) {
			m.Shapes = append(m.Shapes, fmt.Sprintf("%s has %v, want %v", name, got.Shape(), want))
		}
	}
	for name := range state {
		if _, ok := spec[name]; !ok {
			m.Unexpected = append(m.Unexpected, name)
		}
	}
	sort.Strings(m.Missing)
	sort.Strings(m.Unexpected)
	sort.Strings(m.Shapes)
	return m
}

// Validate checks a state against a spec.
//
// Arguments:
//   - state: The loaded checkpoint.
//   - spec: The model's parameter layout.
//
// Returns:
//   - error: ErrMismatch describing every difference, or nil.
func Validate(state State, spec Spec) error {
	if m := Compare(state, spec); !m.Empty() {
		return errors.Wrap(ErrMismatch, m.String())
	}
	return nil
}
