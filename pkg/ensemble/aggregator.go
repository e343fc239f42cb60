// Package ensemble reduces the prediction fields of all ensemble members for
// one case to their elementwise mean.
package ensemble

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"segensemble/internal/models"
)

// ErrEmpty is returned by Mean before any field was added
var ErrEmpty = errors.New("no prediction fields accumulated")

// Aggregator accumulates prediction fields as a running sum. Addition is
// commutative, so the mean does not depend on accumulation order beyond
// floating-point rounding.
type Aggregator struct {
	frame models.Shape
	sum   []float64
	n     int
}

// NewAggregator creates an aggregator for fields of the given frame
func NewAggregator(frame models.Shape) *Aggregator {
	return &Aggregator{frame: frame}
}

// Add accumulates one member's field
func (a *Aggregator) Add(f *models.PredictionField) error {
	if f.Shape != a.frame || len(f.Data) != a.frame.Len() {
		return fmt.Errorf("field shape %s does not match frame %s", f.Shape, a.frame)
	}
	if a.sum == nil {
		a.sum = make([]float64, a.frame.Len())
	}
	floats.Add(a.sum, f.Data)
	a.n++
	return nil
}

// Len returns the number of accumulated fields
func (a *Aggregator) Len() int {
	return a.n
}

// Mean returns the elementwise mean of the accumulated fields. With a single
// field the result equals it exactly.
func (a *Aggregator) Mean() (*models.PredictionField, error) {
	if a.n == 0 {
		return nil, ErrEmpty
	}
	mean := models.NewPredictionField(a.frame)
	copy(mean.Data, a.sum)
	if a.n > 1 {
		floats.Scale(1/float64(a.n), mean.Data)
	}
	return mean, nil
}

// Reset clears the accumulator for the next case, keeping its buffer
func (a *Aggregator) Reset() {
	if a.sum != nil {
		for i := range a.sum {
			a.sum[i] = 0
		}
	}
	a.n = 0
}

// Mean averages fields in one call
func Mean(frame models.Shape, fields ...*models.PredictionField) (*models.PredictionField, error) {
	agg := NewAggregator(frame)
	for _, f := range fields {
		if err := agg.Add(f); err != nil {
			return nil, err
		}
	}
	return agg.Mean()
}
