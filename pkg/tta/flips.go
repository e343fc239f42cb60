// Package tta implements test-time augmentation by axis flips.
//
// Every subset of the three spatial axes is one view: the input is mirrored
// along those axes, run through the model, converted to probabilities and
// mirrored back before the views are averaged.
package tta

import (
	"context"
	"fmt"

	"segensemble/internal/models"
	"segensemble/pkg/execution"
)

// Axis bit flags for a flip combination
const (
	FlipZ = 1 << iota
	FlipY
	FlipX
)

// AllFlips lists every combination of spatial flips, identity first
var AllFlips = []int{0, FlipZ, FlipY, FlipX, FlipZ | FlipY, FlipZ | FlipX, FlipY | FlipX, FlipZ | FlipY | FlipX}

// Flips averages model probabilities over mirrored views of the input.
type Flips struct {
	combos []int
}

// NewFlips returns an augmenter over the given flip combinations; with none
// it uses AllFlips.
func NewFlips(combos ...int) (*Flips, error) {
	if len(combos) == 0 {
		combos = AllFlips
	}
	for _, c := range combos {
		if c < 0 || c > FlipZ|FlipY|FlipX {
			return nil, fmt.Errorf("invalid flip combination %d", c)
		}
	}
	return &Flips{combos: combos}, nil
}

// Views returns the number of forward passes per Augment call
func (f *Flips) Views() int {
	return len(f.combos)
}

// Augment runs forward once per view and returns the mean probability.
func (f *Flips) Augment(ctx context.Context, forward execution.ForwardFunc, in models.Tensor) (models.Tensor, error) {
	var sum []float64
	var shape models.Shape

	for _, combo := range f.combos {
		if err := ctx.Err(); err != nil {
			return models.Tensor{}, err
		}

		logits, err := forward(ctx, Flip(in, combo))
		if err != nil {
			return models.Tensor{}, fmt.Errorf("flip view %03b: %w", combo, err)
		}
		if err := logits.Validate(); err != nil {
			return models.Tensor{}, fmt.Errorf("flip view %03b: %w", combo, err)
		}

		probs := Flip(execution.Sigmoid(logits), combo)
		if sum == nil {
			shape = probs.Shape
			sum = make([]float64, len(probs.Data))
		} else if probs.Shape != shape {
			return models.Tensor{}, fmt.Errorf("flip view %03b: output shape %s differs from %s", combo, probs.Shape, shape)
		}
		for i, v := range probs.Data {
			sum[i] += float64(v)
		}
	}

	out := models.NewTensor(shape)
	n := float64(len(f.combos))
	for i, v := range sum {
		out.Data[i] = float32(v / n)
	}
	return out, nil
}

// Flip returns a copy of t mirrored along the axes set in combo. Flipping
// twice with the same combo restores the original.
func Flip(t models.Tensor, combo int) models.Tensor {
	out := models.NewTensor(t.Shape)
	s := t.Shape
	for c := 0; c < s.C; c++ {
		for z := 0; z < s.Z; z++ {
			sz := z
			if combo&FlipZ != 0 {
				sz = s.Z - 1 - z
			}
			for y := 0; y < s.Y; y++ {
				sy := y
				if combo&FlipY != 0 {
					sy = s.Y - 1 - y
				}
				dst := out.Data[s.Index(c, z, y, 0) : s.Index(c, z, y, 0)+s.X]
				src := t.Data[s.Index(c, sz, sy, 0) : s.Index(c, sz, sy, 0)+s.X]
				if combo&FlipX != 0 {
					for x := range dst {
						dst[x] = src[s.X-1-x]
					}
				} else {
					copy(dst, src)
				}
			}
		}
	}
	return out
}
