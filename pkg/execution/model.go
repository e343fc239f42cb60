package execution

import (
	"context"

	"segensemble/internal/models"
)

// Model is a pretrained segmentation network. Implementations hold their
// weights on the host until ToDevice and must free the device copy in ToHost.
type Model interface {
	// LoadCheckpoint populates the weights; a checkpoint that does not fit
	// the architecture is an error
	LoadCheckpoint(path string) error

	ToDevice() error
	ToHost() error

	// Forward returns the raw logits of every output head, primary head first
	Forward(ctx context.Context, in models.Tensor) ([]models.Tensor, error)
}

// Member is one ensemble member: its resolved descriptor and loaded model.
type Member struct {
	Descriptor models.ModelDescriptor
	Model      Model
}

// ForwardFunc runs a model and returns the logits of its primary head
type ForwardFunc func(ctx context.Context, in models.Tensor) (models.Tensor, error)

// Augmenter is the test-time augmentation collaborator. It runs forward on
// transformed copies of in, inverts each transform on the output and returns
// averaged probabilities in [0,1] with the shape of a plain forward pass.
type Augmenter interface {
	Augment(ctx context.Context, forward ForwardFunc, in models.Tensor) (models.Tensor, error)
}
