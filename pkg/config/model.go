package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"segensemble/internal/faults"
	"segensemble/internal/models"
)

// CheckpointName is the weight file expected next to every training config
const CheckpointName = "model_best.onnx"

// ModelDefaults is the default table for training configs. A field absent
// from the YAML keeps the value listed here:
//
//	normalisation  minmax
//	width          48
//	deep_sup       false
//	norm_layer     group
//	dropout        0
//
// arch has no default and must be present.
var ModelDefaults = models.ModelDescriptor{
	Normalization:   models.MinMax,
	Width:           48,
	DeepSupervision: false,
	NormLayer:       "group",
	Dropout:         0,
}

// LoadModelConfig reads the training config of one ensemble member and
// resolves it against ModelDefaults. The result has every field set.
func LoadModelConfig(path string) (models.ModelDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.ModelDescriptor{}, faults.New(faults.KindConfig, "model config", err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return models.ModelDescriptor{}, faults.New(faults.KindConfig, "model config", err)
	}

	desc := ModelDefaults
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return models.ModelDescriptor{}, faults.New(faults.KindConfig, "model config", fmt.Errorf("%s: %w", abs, err))
	}

	if desc.Arch == "" {
		return models.ModelDescriptor{}, faults.Errorf(faults.KindConfig, "model config", "%s: arch is required", abs)
	}
	if !desc.Normalization.Valid() {
		return models.ModelDescriptor{}, faults.Errorf(faults.KindConfig, "model config", "%s: unknown normalisation %q", abs, desc.Normalization)
	}
	if desc.Width <= 0 {
		return models.ModelDescriptor{}, faults.Errorf(faults.KindConfig, "model config", "%s: width must be positive, got %d", abs, desc.Width)
	}

	if desc.Name == "" {
		desc.Name = filepath.Base(filepath.Dir(abs))
	}
	if desc.Checkpoint == "" {
		desc.Checkpoint = filepath.Join(filepath.Dir(abs), CheckpointName)
	} else if !filepath.IsAbs(desc.Checkpoint) {
		desc.Checkpoint = filepath.Join(filepath.Dir(abs), desc.Checkpoint)
	}

	return desc, nil
}

// LoadEnsemble resolves every training config in order. The first failure
// aborts: an ensemble is never silently shrunk.
func LoadEnsemble(paths []string) ([]models.ModelDescriptor, error) {
	if len(paths) == 0 {
		return nil, faults.New(faults.KindConfig, "ensemble", errors.New("no models declared"))
	}
	descs := make([]models.ModelDescriptor, 0, len(paths))
	for _, p := range paths {
		desc, err := LoadModelConfig(p)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}
