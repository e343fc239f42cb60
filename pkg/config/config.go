// Package config provides configuration loading and management for segensemble.
// It handles the run configuration, the per-model training configurations that
// declare an ensemble, and the default values applied to both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"segensemble/internal/faults"
	"segensemble/internal/models"
)

// Config represents the run configuration loaded from YAML
type Config struct {
	// Frame is the canonical volume predictions are reassembled into
	Frame struct {
		Channels int `yaml:"channels"`
		Depth    int `yaml:"depth"`
		Height   int `yaml:"height"`
		Width    int `yaml:"width"`
	} `yaml:"frame"`

	// Inference parameters
	Inference struct {
		// TTA enables test-time augmentation
		TTA bool `yaml:"tta"`

		// Threshold binarises each probability channel before label decoding
		Threshold float64 `yaml:"threshold"`

		// PadMultiple is the size-divisibility constraint of the models
		PadMultiple int `yaml:"padMultiple"`

		// Device names the accelerator models are moved to
		Device string `yaml:"device"`

		// UseCUDA selects the CUDA execution provider of the ONNX runtime
		UseCUDA bool `yaml:"useCUDA"`

		// ONNXLibrary is the path of the onnxruntime shared library
		ONNXLibrary string `yaml:"onnxLibrary"`
	} `yaml:"inference"`

	// Dataset parameters
	Dataset struct {
		// Root holds one directory per patient
		Root string `yaml:"root"`

		// On selects the split: train, val or test
		On string `yaml:"on"`

		// Modalities are the input channels in model order
		Modalities []string `yaml:"modalities"`

		// Reference is the modality whose geometry is copied onto the output
		Reference string `yaml:"reference"`
	} `yaml:"dataset"`

	// Output parameters
	Output struct {
		// Dir is where timestamped run folders are created
		Dir string `yaml:"dir"`

		// ExtractSlices exports label map slices as JPEG images
		ExtractSlices bool `yaml:"extractSlices"`

		// SlicesDir is the folder name for extracted slices inside the run folder
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"output"`

	Logging Logging `yaml:"logging"`

	// Metrics parameters
	Metrics struct {
		// Addr serves prometheus metrics when non-empty, e.g. ":9090"
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	// Models lists the training config of every ensemble member, in ensemble order
	Models []string `yaml:"models,omitempty"`
}

// Logging configures the zap logger
type Logging struct {
	Level string `yaml:"level"`

	// File enables a rotated JSON log file in addition to the console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Frame.Channels = models.CanonicalFrame.C
	cfg.Frame.Depth = models.CanonicalFrame.Z
	cfg.Frame.Height = models.CanonicalFrame.Y
	cfg.Frame.Width = models.CanonicalFrame.X

	cfg.Inference.TTA = false
	cfg.Inference.Threshold = 0.5
	cfg.Inference.PadMultiple = 16
	cfg.Inference.Device = "cuda:0"
	cfg.Inference.UseCUDA = true

	cfg.Dataset.On = "val"
	cfg.Dataset.Modalities = []string{"t1", "t1ce", "t2", "flair"}
	cfg.Dataset.Reference = "flair"

	cfg.Output.Dir = "preds"
	cfg.Output.SlicesDir = "slices"

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30

	return cfg
}

// FrameShape returns the canonical frame as a shape
func (c *Config) FrameShape() models.Shape {
	return models.Shape{C: c.Frame.Channels, Z: c.Frame.Depth, Y: c.Frame.Height, X: c.Frame.Width}
}

// Validate checks the run configuration. Every failure is a ConfigInconsistency.
func (c *Config) Validate() error {
	frame := c.FrameShape()
	if frame.C != 3 || frame.Z <= 0 || frame.Y <= 0 || frame.X <= 0 {
		return faults.Errorf(faults.KindConfig, "validate", "frame %s must have 3 channels and a positive extent", frame)
	}
	if c.Inference.Threshold <= 0 || c.Inference.Threshold >= 1 {
		return faults.Errorf(faults.KindConfig, "validate", "threshold %.3f outside (0,1)", c.Inference.Threshold)
	}
	if c.Inference.PadMultiple < 1 {
		return faults.Errorf(faults.KindConfig, "validate", "padMultiple must be at least 1, got %d", c.Inference.PadMultiple)
	}
	if !lo.Contains([]string{"train", "val", "test"}, c.Dataset.On) {
		return faults.Errorf(faults.KindConfig, "validate", "dataset.on must be train, val or test, got %q", c.Dataset.On)
	}
	if len(c.Dataset.Modalities) == 0 {
		return faults.Errorf(faults.KindConfig, "validate", "no input modalities configured")
	}
	if len(lo.Uniq(c.Dataset.Modalities)) != len(c.Dataset.Modalities) {
		return faults.Errorf(faults.KindConfig, "validate", "duplicate modality in %v", c.Dataset.Modalities)
	}
	if !lo.Contains(c.Dataset.Modalities, c.Dataset.Reference) {
		return faults.Errorf(faults.KindConfig, "validate", "reference modality %q is not one of %v", c.Dataset.Reference, c.Dataset.Modalities)
	}
	if len(c.Models) == 0 {
		return faults.Errorf(faults.KindConfig, "validate", "ensemble has no models")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Model paths are relative to the config file
	base := filepath.Dir(configPath)
	for i, p := range cfg.Models {
		if !filepath.IsAbs(p) {
			cfg.Models[i] = filepath.Join(base, p)
		}
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	return writeYAML(cfg, configPath)
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// RunRecord is what a run writes next to its predictions so it can be
// reproduced: the resolved configuration and every ensemble member.
type RunRecord struct {
	RunID   string                   `yaml:"runId"`
	Started time.Time                `yaml:"started"`
	Config  *Config                  `yaml:"config"`
	Models  []models.ModelDescriptor `yaml:"models"`
}

// SaveRunRecord writes rec to path
func SaveRunRecord(rec *RunRecord, path string) error {
	return writeYAML(rec, path)
}

func writeYAML(v any, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
