// Package config - Run configuration files.
//
// A run is described by one YAML file per (model, backbone, dataset) triple,
// found at <dir>/<model>/<model>_<backbone>_<dataset>.yaml.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-seg/datasets"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrConfig is returned for configuration that cannot be run.
var ErrConfig = errors.New("invalid config")

// DataLoader configures batching across all processes.
type DataLoader struct {
	// BatchSize is the total batch size, split evenly across processes.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// NumWorkers is the total number of reader goroutines, split evenly
	// across processes.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
	// Prefetch is the number of batches each process reads ahead.
	Prefetch int `json:"prefetch" yaml:"prefetch"`
}

// Common holds run-wide paths.
type Common struct {
	// ResultSavePath is where rank 0 writes predictions and ground truths.
	ResultSavePath string `json:"resultsavepath" yaml:"resultsavepath"`
	// LogFilePath is an optional log file.
	LogFilePath string `json:"logfilepath" yaml:"logfilepath"`
	// LogLevel is the logrus level of rank 0. Defaults to info.
	LogLevel string `json:"loglevel" yaml:"loglevel"`
	// BackupDir is created before the run when set.
	BackupDir string `json:"backupdir" yaml:"backupdir"`
}

// Config is a complete run configuration.
type Config struct {
	Dataset    datasets.Config  `json:"dataset"    yaml:"dataset"`
	DataLoader DataLoader       `json:"dataloader" yaml:"dataloader"`
	Model      model.Config     `json:"model"      yaml:"model"`
	Inference  inference.Config `json:"inference"  yaml:"inference"`
	Common     Common           `json:"common"     yaml:"common"`
}

// Path returns the config file of a (model, backbone, dataset) triple.
func Path(dir, modelName, backbone, dataset string) string {
	return filepath.Join(dir, modelName, fmt.Sprintf("%s_%s_%s.yaml", modelName, backbone, dataset))
}

// Build loads the config file of a (model, backbone, dataset) triple.
//
// Arguments:
//   - dir: The config root directory.
//   - modelName: The model name, e.g. "annnet".
//   - dataset: The dataset name, e.g. "voc".
//   - backbone: The backbone name, e.g. "resnet50".
//
// Returns:
//   - *Config: The validated config.
//   - string: The file it was read from.
//   - error: ErrConfig if the file is missing or invalid.
func Build(dir, modelName, dataset, backbone string) (*Config, string, error) {
	path := Path(dir, modelName, backbone, dataset)
	cfg, err := Load(path)
	return cfg, path, err
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to read %s: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML config. Unknown keys are rejected and a
// missing inference section means whole-image inference.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrConfig, "failed to parse: %v", err)
	}
	if cfg.Inference.Mode == "" {
		cfg.Inference.Mode = inference.DefaultConfig().Mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the static constraints of the config and fills model
// defaults.
func (c *Config) Validate() error {
	if c.DataLoader.BatchSize <= 0 {
		return errors.Wrapf(ErrConfig, "dataloader batch_size must be positive, got %d", c.DataLoader.BatchSize)
	}
	if c.DataLoader.NumWorkers < 0 {
		return errors.Wrapf(ErrConfig, "dataloader num_workers must not be negative, got %d", c.DataLoader.NumWorkers)
	}
	if err := c.Inference.Validate(); err != nil {
		return errors.Wrapf(ErrConfig, "inference: %v", err)
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrapf(ErrConfig, "model: %v", err)
	}
	if c.Dataset.RootDir == "" {
		return errors.Wrap(ErrConfig, "dataset rootdir is required")
	}
	if c.Common.ResultSavePath == "" {
		return errors.Wrap(ErrConfig, "common resultsavepath is required")
	}
	return nil
}
