package onnxseg

import (
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-seg/checkpoints"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func info(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{
		Name:         name,
		OrtValueType: ort.ONNXTypeTensor,
		Dimensions:   ort.NewShape(dims...),
		DataType:     ort.TensorElementDataTypeFloat,
	}
}

func TestMatch(t *testing.T) {
	cfg := model.Config{NumClasses: 21, InChannels: 3}

	tests := []struct {
		name      string
		cfg       model.Config
		inputs    []ort.InputOutputInfo
		outputs   []ort.InputOutputInfo
		wantIn    string
		wantOut   string
		wantError string
	}{
		{
			name:    "dynamic spatial dims",
			cfg:     cfg,
			inputs:  []ort.InputOutputInfo{info("image", -1, 3, -1, -1)},
			outputs: []ort.InputOutputInfo{info("scores", -1, 21, -1, -1)},
			wantIn:  "image",
			wantOut: "scores",
		},
		{
			name: "named io",
			cfg: model.Config{
				NumClasses: 21, InChannels: 3,
				Inputs: []string{"pixels"}, Outputs: []string{"seg_logits"},
			},
			inputs:  []ort.InputOutputInfo{info("aux", 1), info("pixels", 1, 3, 512, 512)},
			outputs: []ort.InputOutputInfo{info("aux_logits", 1, 21, 64, 64), info("seg_logits", 1, 21, 512, 512)},
			wantIn:  "pixels",
			wantOut: "seg_logits",
		},
		{
			name:      "class mismatch",
			cfg:       cfg,
			inputs:    []ort.InputOutputInfo{info("image", 1, 3, -1, -1)},
			outputs:   []ort.InputOutputInfo{info("scores", 1, 150, -1, -1)},
			wantError: "scores has 150 classes, want 21",
		},
		{
			name:      "channel mismatch",
			cfg:       cfg,
			inputs:    []ort.InputOutputInfo{info("image", 1, 1, -1, -1)},
			outputs:   []ort.InputOutputInfo{info("scores", 1, 21, -1, -1)},
			wantError: "image has 1 channels, want 3",
		},
		{
			name:      "missing named output",
			cfg:       model.Config{NumClasses: 21, InChannels: 3, Outputs: []string{"logits"}},
			inputs:    []ort.InputOutputInfo{info("image", 1, 3, -1, -1)},
			outputs:   []ort.InputOutputInfo{info("scores", 1, 21, -1, -1)},
			wantError: "missing: output logits",
		},
		{
			name:      "wrong rank",
			cfg:       cfg,
			inputs:    []ort.InputOutputInfo{info("image", 3, -1, -1)},
			outputs:   []ort.InputOutputInfo{info("scores", 1, 21, -1, -1)},
			wantError: "want [N, C, H, W]",
		},
		{
			name:      "no inputs",
			cfg:       cfg,
			outputs:   []ort.InputOutputInfo{info("scores", 1, 21, -1, -1)},
			wantError: "missing: input (any)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out, err := Match(tt.cfg, tt.inputs, tt.outputs)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.True(t, errors.Is(err, checkpoints.ErrMismatch))
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIn, in)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestMatchRejectsNonFloat(t *testing.T) {
	in := info("image", 1, 3, -1, -1)
	in.DataType = ort.TensorElementDataTypeUint8
	_, _, err := Match(model.Config{NumClasses: 2, InChannels: 3},
		[]ort.InputOutputInfo{in},
		[]ort.InputOutputInfo{info("scores", 1, 2, -1, -1)})
	assert.True(t, errors.Is(err, checkpoints.ErrMismatch))
}

func TestNewMissingGraph(t *testing.T) {
	_, err := New(model.NewModelArgs{
		Config:     model.Config{NumClasses: 2, InChannels: 3},
		Checkpoint: filepath.Join(t.TempDir(), "missing.onnx"),
	})
	assert.Error(t, err)
}
