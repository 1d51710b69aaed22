// Package checkpoints - Model weights stored in the safetensors format.
//
// A file is an 8-byte little-endian header length, a JSON header mapping
// tensor names to dtype, shape and byte offsets, and the raw tensor data.
// See: https://github.com/huggingface/safetensors#format
package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrFormat is returned for files that are not valid float32 safetensors.
var ErrFormat = errors.New("invalid checkpoint format")

const (
	dtypeF32 = "F32"
	// maxHeaderSize bounds the JSON header read from untrusted files.
	maxHeaderSize = 100 << 20
	metadataKey   = "__metadata__"
)

// State maps parameter names to their values.
type State map[string]*tensor.Dense

// entry is one tensor description in the file header.
type entry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Names returns the parameter names in sorted order.
func (s State) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a safetensors checkpoint.
//
// Arguments:
//   - path: The checkpoint file.
//
// Returns:
//   - State: The parameters by name.
//   - error: The error if the file cannot be read or is malformed.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint %s", path)
	}
	state, err := Decode(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %s", path)
	}
	return state, nil
}

// Decode parses an in-memory safetensors file. Only F32 tensors are
// supported.
func Decode(data []byte) (State, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(ErrFormat, "file shorter than header length")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderSize || n > uint64(len(data)-8) {
		return nil, errors.Wrapf(ErrFormat, "header length %d exceeds file size %d", n, len(data))
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &header); err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	body := data[8+n:]

	state := make(State, len(header))
	for name, raw := range header {
		if name == metadataKey {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, errors.Wrapf(ErrFormat, "tensor %q: %v", name, err)
		}
		t, err := decodeTensor(e, body)
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor %q", name)
		}
		state[name] = t
	}
	return state, nil
}

func decodeTensor(e entry, body []byte) (*tensor.Dense, error) {
	if e.DType != dtypeF32 {
		return nil, errors.Wrapf(ErrFormat, "unsupported dtype %s", e.DType)
	}
	size := 1
	for _, d := range e.Shape {
		if d < 0 {
			return nil, errors.Wrapf(ErrFormat, "negative dimension in shape %v", e.Shape)
		}
		size *= d
	}
	begin, end := e.DataOffsets[0], e.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(body)) {
		return nil, errors.Wrapf(ErrFormat, "data offsets [%d, %d] outside body of %d bytes", begin, end, len(body))
	}
	if end-begin != int64(size)*4 {
		return nil, errors.Wrapf(ErrFormat, "shape %v needs %d bytes, offsets span %d", e.Shape, size*4, end-begin)
	}

	values := make([]float32, size)
	raw := body[begin:end]
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	shape := e.Shape
	if len(shape) == 0 {
		// Scalars are stored with an empty shape.
		shape = []int{1}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(values)), nil
}

// Save writes a safetensors checkpoint with tensors laid out in name order.
//
// Arguments:
//   - path: The output file.
//   - state: The parameters to store. Every tensor must be float32.
//   - metadata: Optional string metadata stored in the header.
//
// Returns:
//   - error: The error if any.
func Save(path string, state State, metadata map[string]string) error {
	data, err := Encode(state, metadata)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint %s", path)
	}
	return nil
}

// Encode serializes state to the safetensors format.
func Encode(state State, metadata map[string]string) ([]byte, error) {
	header := make(map[string]any, len(state)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var body bytes.Buffer
	for _, name := range state.Names() {
		t := state[name]
		if t == nil || t.Dtype() != tensor.Float32 {
			return nil, errors.Wrapf(ErrFormat, "tensor %q is not float32", name)
		}
		if t.IsView() {
			t = t.Materialize().(*tensor.Dense)
		}
		values := t.Data().([]float32)

		begin := int64(body.Len())
		var word [4]byte
		for _, v := range values {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			body.Write(word[:])
		}
		header[name] = entry{
			DType:       dtypeF32,
			Shape:       []int(t.Shape()),
			DataOffsets: [2]int64{begin, int64(body.Len())},
		}
	}

	js, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode checkpoint header")
	}
	// Pad the header so the body starts 8-byte aligned.
	for len(js)%8 != 0 {
		js = append(js, ' ')
	}

	out := make([]byte, 8, 8+len(js)+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(js)))
	out = append(out, js...)
	out = append(out, body.Bytes()...)
	return out, nil
}
