// Package inference runs an ensemble over a sequence of cases. For every
// case it routes the matching normalisation variant to each member in turn,
// reconstructs each member's prediction into the canonical frame, averages
// the ensemble and decodes the mean into a label map.
package inference

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"segensemble/internal/faults"
	"segensemble/internal/models"
	"segensemble/pkg/dataset"
	"segensemble/pkg/ensemble"
	"segensemble/pkg/execution"
	"segensemble/pkg/labels"
	"segensemble/pkg/logging"
	"segensemble/pkg/reconstruction"
	"segensemble/pkg/routing"
)

// Options controls a run
type Options struct {
	// Frame is the canonical frame predictions are reassembled into
	Frame models.Shape

	// TTA enables test-time augmentation for every member
	TTA bool

	// Threshold binarises the averaged probabilities
	Threshold float64

	// PadMultiple is the size every spatial axis is padded to a multiple of
	PadMultiple int
}

// Source yields cases by index
type Source interface {
	Len() int
	Load(i int) (*models.Case, error)
}

// Result is the decoded label map of one case
type Result struct {
	PatientID string
	Labels    *models.LabelVolume

	// Reference is the geometry to write Labels with
	Reference     models.Geometry
	ReferencePath string

	Counts labels.Counts
}

// Engine runs an ensemble case by case. It is not safe for concurrent use:
// the device it drives holds one model at a time.
type Engine struct {
	opts    Options
	members []execution.Member
	manager *execution.Manager
	logger  *zap.Logger
	runID   string

	// stagerFor builds the stager that moves one case's inputs to the device
	stagerFor func(device *execution.Device, prepared []models.Prepared) routing.Stager
}

// NewEngine validates the ensemble against opts. Members run in the order
// given.
func NewEngine(opts Options, members []execution.Member, manager *execution.Manager, logger *zap.Logger) (*Engine, error) {
	if len(members) == 0 {
		return nil, faults.Errorf(faults.KindConfig, "engine", "ensemble has no members")
	}
	if opts.Frame.C <= 0 || opts.Frame.Voxels() <= 0 {
		return nil, faults.Errorf(faults.KindConfig, "engine", "invalid frame %s", opts.Frame)
	}
	if opts.PadMultiple < 1 {
		return nil, faults.Errorf(faults.KindConfig, "engine", "pad multiple must be at least 1, got %d", opts.PadMultiple)
	}
	for _, m := range members {
		if !m.Descriptor.Normalization.Valid() {
			err := fmt.Errorf("unknown normalisation %q", m.Descriptor.Normalization)
			return nil, &faults.Error{Kind: faults.KindConfig, Op: "engine", Model: m.Descriptor.Name, Err: err}
		}
	}

	runID := uuid.NewString()
	return &Engine{
		opts:      opts,
		members:   members,
		manager:   manager,
		logger:    logging.OrNop(logger).With(zap.String("run", runID)),
		runID:     runID,
		stagerFor: deviceStager,
	}, nil
}

// RunID identifies this engine's run in logs and run records
func (e *Engine) RunID() string {
	return e.runID
}

// Predict runs every member on c and decodes the ensemble mean. Errors are
// classified and carry the patient and, when one is to blame, the model.
func (e *Engine) Predict(ctx context.Context, c *models.Case) (res *Result, err error) {
	start := time.Now()
	router := routing.NewRouter(e.stagerFor(e.manager.Device(), dataset.Prepare(c, e.opts.PadMultiple)))
	defer func() {
		rerr := router.Release()
		if rerr == nil {
			return
		}
		if err != nil {
			e.logger.Warn("releasing staged input",
				zap.String("patient", c.PatientID),
				zap.Error(rerr))
			return
		}
		res = nil
		err = faults.WithCase(faults.New(faults.KindInput, "unstage", rerr), faults.KindInput, c.PatientID, "")
	}()

	agg := ensemble.NewAggregator(e.opts.Frame)
	for _, m := range e.members {
		field, err := e.predictMember(ctx, router, m)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, faults.WithCase(err, faults.KindInference, c.PatientID, m.Descriptor.Name)
		}
		if err := agg.Add(field); err != nil {
			return nil, faults.WithCase(faults.New(faults.KindShape, "aggregate", err), faults.KindShape, c.PatientID, m.Descriptor.Name)
		}
	}

	mean, err := agg.Mean()
	if err != nil {
		return nil, faults.WithCase(faults.New(faults.KindShape, "aggregate", err), faults.KindShape, c.PatientID, "")
	}
	vol, err := labels.Decode(mean, e.opts.Threshold)
	if err != nil {
		return nil, faults.WithCase(faults.New(faults.KindShape, "decode", err), faults.KindShape, c.PatientID, "")
	}

	r := &Result{
		PatientID:     c.PatientID,
		Labels:        vol,
		Reference:     c.Reference,
		ReferencePath: c.ReferencePath,
		Counts:        labels.Count(vol),
	}
	e.logger.Info("case predicted",
		zap.String("patient", c.PatientID),
		zap.Int("models", agg.Len()),
		zap.Int("enhancing", r.Counts.Enhancing),
		zap.Int("necrotic", r.Counts.Necrotic),
		zap.Int("edema", r.Counts.Edema),
		zap.Int("transfers", router.Transfers()),
		zap.Duration("duration", time.Since(start)))
	return r, nil
}

func (e *Engine) predictMember(ctx context.Context, router *routing.Router, m execution.Member) (*models.PredictionField, error) {
	variant := m.Descriptor.Normalization
	st, reused, err := router.Route(variant)
	if err != nil {
		return nil, faults.New(faults.KindInput, "route", err)
	}

	start := time.Now()
	pred, err := e.manager.Predict(ctx, m, deviceTensor(st), e.opts.TTA)
	if err != nil {
		return nil, err
	}
	field, err := reconstruction.Reconstruct(pred, st.Input.Pad, st.Input.Crop, e.opts.Frame)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("member predicted",
		zap.String("model", m.Descriptor.Name),
		zap.String("normalization", string(variant)),
		zap.Bool("reused", reused),
		zap.Duration("duration", time.Since(start)))
	return field, nil
}

// Run yields one result per case of src, in order. A case that fails with a
// per-case error is yielded as an error and the sequence continues; a fatal
// error is yielded last.
func (e *Engine) Run(ctx context.Context, src Source) iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		for i := 0; i < src.Len(); i++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			c, err := src.Load(i)
			if err == nil {
				var r *Result
				r, err = e.Predict(ctx, c)
				if err == nil {
					if !yield(r, nil) {
						return
					}
					continue
				}
			} else {
				err = faults.WithCase(err, faults.KindInput, "", "")
			}

			if !yield(nil, err) || faults.IsFatal(err) {
				return
			}
		}
	}
}

// Writer persists a result
type Writer interface {
	Write(r *Result) error
}

// Summary counts the outcomes of a run
type Summary struct {
	RunID   string
	Written int
	Skipped int

	// Failures maps error kinds to the number of cases they skipped
	Failures map[string]int
}

// Process runs every case of src through the engine and writes each
// result. Per-case failures are logged and counted; the first fatal error
// stops the run and is returned.
func (e *Engine) Process(ctx context.Context, src Source, w Writer) (Summary, error) {
	sum := Summary{RunID: e.runID, Failures: make(map[string]int)}

	for r, err := range e.Run(ctx, src) {
		if err == nil {
			if werr := w.Write(r); werr != nil {
				err = faults.WithCase(werr, faults.KindWrite, r.PatientID, "")
			}
		}
		if err != nil {
			if faults.IsFatal(err) {
				e.logger.Error("run aborted", zap.Error(err))
				return sum, err
			}
			e.skip(&sum, err)
			continue
		}

		sum.Written++
		casesTotal.WithLabelValues("written").Inc()
		labelVoxels.WithLabelValues("necrotic").Add(float64(r.Counts.Necrotic))
		labelVoxels.WithLabelValues("edema").Add(float64(r.Counts.Edema))
		labelVoxels.WithLabelValues("enhancing").Add(float64(r.Counts.Enhancing))
	}

	e.logger.Info("run finished",
		zap.Int("written", sum.Written),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}

func (e *Engine) skip(sum *Summary, err error) {
	kind := faults.KindOf(err).String()
	sum.Skipped++
	sum.Failures[kind]++
	casesTotal.WithLabelValues(kind).Inc()

	fields := []zap.Field{zap.String("kind", kind), zap.Error(err)}
	var fe *faults.Error
	if errors.As(err, &fe) {
		fields = append(fields, zap.String("patient", fe.Patient))
		if fe.Model != "" {
			fields = append(fields, zap.String("model", fe.Model))
		}
	}
	e.logger.Warn("case skipped", fields...)
}
