package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"segensemble/internal/faults"
	"segensemble/internal/models"
	"segensemble/pkg/logging"
)

// Manager runs ensemble members one at a time on a device. Each Predict
// acquires the device for the member, produces probabilities and releases
// the device before returning, so the next member always finds it empty.
type Manager struct {
	device    *Device
	augmenter Augmenter
	logger    *zap.Logger
}

// NewManager creates a manager. augmenter may be nil when test-time
// augmentation is never requested.
func NewManager(device *Device, augmenter Augmenter, logger *zap.Logger) *Manager {
	return &Manager{
		device:    device,
		augmenter: augmenter,
		logger:    logging.OrNop(logger),
	}
}

// Device returns the device the manager schedules on
func (m *Manager) Device() *Device {
	return m.device
}

// Predict produces per-voxel probabilities for a padded, normalised input.
// The result has the member's output channels and the input's spatial
// extent; the caller strips padding and reconstructs. Non-finite or
// malformed output is reported as an InferenceError for this member.
func (m *Manager) Predict(ctx context.Context, member Member, in models.Tensor, tta bool) (out models.Tensor, err error) {
	name := member.Descriptor.Name
	if err := ctx.Err(); err != nil {
		return models.Tensor{}, err
	}
	if tta && m.augmenter == nil {
		return models.Tensor{}, faults.Errorf(faults.KindConfig, "predict", "test-time augmentation requested without an augmenter")
	}

	lease, err := m.device.Acquire(name, member.Model)
	if err != nil {
		if errors.Is(err, ErrDeviceBusy) {
			return models.Tensor{}, faults.New(faults.KindConfig, "acquire", err)
		}
		// weights that cannot be placed on the device fail the same way for every case
		return models.Tensor{}, &faults.Error{Kind: faults.KindLoad, Op: "acquire", Model: name, Err: err}
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil && err == nil {
			err = &faults.Error{Kind: faults.KindInference, Op: "release", Model: name, Err: rerr}
		}
	}()

	start := time.Now()
	forward := primaryHead(member)
	if tta {
		out, err = m.augmenter.Augment(ctx, forward, in)
	} else {
		var logits models.Tensor
		logits, err = forward(ctx, in)
		if err == nil {
			out = Sigmoid(logits)
		}
	}
	if err != nil {
		forwardFailures.WithLabelValues(name).Inc()
		return models.Tensor{}, &faults.Error{Kind: faults.KindInference, Op: "forward", Model: name, Err: err}
	}

	if err := validateProbabilities(out, in.Shape); err != nil {
		forwardFailures.WithLabelValues(name).Inc()
		return models.Tensor{}, &faults.Error{Kind: faults.KindInference, Op: "validate", Model: name, Err: err}
	}

	elapsed := time.Since(start)
	forwardSeconds.WithLabelValues(name, strconv.FormatBool(tta)).Observe(elapsed.Seconds())
	m.logger.Debug("model turn finished",
		zap.String("model", name),
		zap.Bool("tta", tta),
		zap.Duration("duration", elapsed))

	return out, nil
}

// primaryHead wraps the member's forward pass so it yields only the primary
// output. Deep-supervision models return auxiliary heads after it, which are
// discarded; any other model must return exactly one head.
func primaryHead(member Member) ForwardFunc {
	return func(ctx context.Context, in models.Tensor) (models.Tensor, error) {
		heads, err := member.Model.Forward(ctx, in)
		if err != nil {
			return models.Tensor{}, err
		}
		if len(heads) == 0 {
			return models.Tensor{}, errors.New("model returned no output")
		}
		if !member.Descriptor.DeepSupervision && len(heads) != 1 {
			return models.Tensor{}, fmt.Errorf("model returned %d heads without deep supervision", len(heads))
		}
		if err := checkFinite(heads[0]); err != nil {
			return models.Tensor{}, err
		}
		return heads[0], nil
	}
}

// Sigmoid applies the logistic function elementwise, returning a new tensor
func Sigmoid(t models.Tensor) models.Tensor {
	out := models.Tensor{Shape: t.Shape, Data: make([]float32, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return out
}

// checkFinite rejects logits containing NaN or infinities, which a sigmoid would otherwise hide
func checkFinite(t models.Tensor) error {
	for i, v := range t.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite logit at element %d", i)
		}
	}
	return nil
}

// validateProbabilities checks that out has 3 output channels over the
// input's spatial extent and holds finite values in [0,1]
func validateProbabilities(out models.Tensor, in models.Shape) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if out.Shape.Spatial() != in.Spatial() {
		return fmt.Errorf("output spatial extent %v differs from input %v", out.Shape.Spatial(), in.Spatial())
	}
	if out.Shape.C != models.CanonicalFrame.C {
		return fmt.Errorf("output has %d channels, want %d", out.Shape.C, models.CanonicalFrame.C)
	}
	for i, v := range out.Data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite probability at element %d", i)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("probability %g at element %d outside [0,1]", f, i)
		}
	}
	return nil
}
