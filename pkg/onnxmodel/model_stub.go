//go:build !cgo

package onnxmodel

import (
	"context"
	"errors"

	"segensemble/internal/models"
)

// ErrUnavailable is returned when the binary was built without cgo
var ErrUnavailable = errors.New("onnxruntime requires a cgo build")

// Model is unavailable without cgo
type Model struct{}

// New always fails without cgo
func New(opts Options) (*Model, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}

func (m *Model) LoadCheckpoint(path string) error { return ErrUnavailable }
func (m *Model) ToDevice() error { return ErrUnavailable }
func (m *Model) ToHost() error { return nil }

func (m *Model) Forward(ctx context.Context, in models.Tensor) ([]models.Tensor, error) {
	return nil, ErrUnavailable
}
