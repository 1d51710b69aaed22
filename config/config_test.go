package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/images"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slideYAML = `
dataset:
  type: voc
  rootdir: /data/VOCdevkit/VOC2012
  set: val
  resize: [512, 512]
dataloader:
  batch_size: 4
  num_workers: 8
model:
  type: annnet
  backbone: resnet50
  num_classes: 21
  align_corners: false
inference:
  mode: slide
  opts:
    cropsize: [512, 512]
    stride: [341, 341]
common:
  resultsavepath: annnet_resnet50_voc_results.gob
  logfilepath: annnet_resnet50_voc/test.log
  backupdir: annnet_resnet50_voc
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(slideYAML))
	require.NoError(t, err)

	assert.Equal(t, datasets.TypeVOC, cfg.Dataset.Type)
	assert.Equal(t, images.Size{Height: 512, Width: 512}, cfg.Dataset.Resize)
	assert.Equal(t, DataLoader{BatchSize: 4, NumWorkers: 8}, cfg.DataLoader)
	assert.Equal(t, 21, cfg.Model.NumClasses)
	assert.Equal(t, 3, cfg.Model.InChannels)
	assert.Equal(t, model.RuntimeONNX, cfg.Model.Runtime)
	assert.Equal(t, providers.CPUProviderBackend, cfg.Model.Backend)
	assert.Equal(t, inference.Config{
		Mode: inference.ModeSlide,
		Opts: inference.SlideOptions{
			CropSize: images.Size{Height: 512, Width: 512},
			Stride:   images.Size{Height: 341, Width: 341},
		},
	}, cfg.Inference)
	assert.Equal(t, "annnet_resnet50_voc", cfg.Common.BackupDir)
}

func TestParseDefaultsToWholeInference(t *testing.T) {
	data := `
dataset: {rootdir: /data}
dataloader: {batch_size: 1}
model: {num_classes: 2}
common: {resultsavepath: out.gob}
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, inference.ModeWhole, cfg.Inference.Mode)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "unknown key", data: "dataloader: {batch_size: 1, shuffle: true}"},
		{name: "bad mode", data: "dataset: {rootdir: /d}\ndataloader: {batch_size: 1}\nmodel: {num_classes: 2}\ninference: {mode: tiles}\ncommon: {resultsavepath: x}"},
		{name: "slide without crop", data: "dataset: {rootdir: /d}\ndataloader: {batch_size: 1}\nmodel: {num_classes: 2}\ninference: {mode: slide}\ncommon: {resultsavepath: x}"},
		{name: "no classes", data: "dataset: {rootdir: /d}\ndataloader: {batch_size: 1}\nmodel: {type: annnet}\ncommon: {resultsavepath: x}"},
		{name: "no result path", data: "dataset: {rootdir: /d}\ndataloader: {batch_size: 1}\nmodel: {num_classes: 2}"},
		{name: "no dataset root", data: "dataloader: {batch_size: 1}\nmodel: {num_classes: 2}\ncommon: {resultsavepath: x}"},
		{name: "negative workers", data: "dataset: {rootdir: /d}\ndataloader: {batch_size: 1, num_workers: -1}\nmodel: {num_classes: 2}\ncommon: {resultsavepath: x}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
		})
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "annnet", "resnet50", "voc")
	assert.Equal(t, filepath.Join(dir, "annnet", "annnet_resnet50_voc.yaml"), path)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(slideYAML), 0o644))

	cfg, got, err := Build(dir, "annnet", "voc", "resnet50")
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "annnet", cfg.Model.Type)

	_, _, err = Build(dir, "annnet", "ade20k", "resnet50")
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestShippedConfigs(t *testing.T) {
	for _, name := range []struct{ model, backbone, dataset string }{
		{"annnet", "resnet50", "voc"},
		{"annnet", "linear", "ade20k"},
	} {
		t.Run(name.backbone+"_"+name.dataset, func(t *testing.T) {
			cfg, _, err := Build(filepath.Join("..", "configs"), name.model, name.dataset, name.backbone)
			require.NoError(t, err)
			assert.Equal(t, name.backbone, cfg.Model.Backbone)
		})
	}
}
