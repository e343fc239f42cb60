package tta

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segensemble/internal/models"
	"segensemble/pkg/execution"
)

func ramp(s models.Shape) models.Tensor {
	t := models.NewTensor(s)
	for i := range t.Data {
		t.Data[i] = float32(i)
	}
	return t
}

func TestFlipInvolution(t *testing.T) {
	in := ramp(models.Shape{C: 2, Z: 3, Y: 4, X: 5})
	for _, combo := range AllFlips {
		assert.Equal(t, in.Data, Flip(Flip(in, combo), combo).Data, "combo %03b", combo)
	}
}

func TestFlipMirrorsAxis(t *testing.T) {
	s := models.Shape{C: 1, Z: 2, Y: 2, X: 3}
	in := ramp(s)

	x := Flip(in, FlipX)
	assert.Equal(t, in.Data[s.Index(0, 1, 0, 0)], x.Data[s.Index(0, 1, 0, 2)])

	z := Flip(in, FlipZ)
	assert.Equal(t, in.Data[s.Index(0, 0, 1, 2)], z.Data[s.Index(0, 1, 1, 2)])

	zyx := Flip(in, FlipZ|FlipY|FlipX)
	assert.Equal(t, in.Data[0], zyx.Data[len(zyx.Data)-1])
}

// a voxel-wise model commutes with flips, so every view agrees
func TestAugmentVoxelwiseModelMatchesPlainPass(t *testing.T) {
	in := ramp(models.Shape{C: 3, Z: 2, Y: 3, X: 4})
	for i := range in.Data {
		in.Data[i] = in.Data[i]/10 - 3
	}
	forward := func(_ context.Context, t models.Tensor) (models.Tensor, error) {
		return t.Clone(), nil
	}

	f, err := NewFlips()
	require.NoError(t, err)
	assert.Equal(t, 8, f.Views())

	out, err := f.Augment(context.Background(), forward, in)
	require.NoError(t, err)

	want := execution.Sigmoid(in)
	require.Equal(t, want.Shape, out.Shape)
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], out.Data[i], 1e-6)
	}
}

// a model that only answers for its first voxel averages to 1/8 there
// after each view's answer is mirrored back
func TestAugmentMapsViewsBack(t *testing.T) {
	s := models.Shape{C: 1, Z: 2, Y: 2, X: 2}
	in := models.NewTensor(s)
	forward := func(_ context.Context, t models.Tensor) (models.Tensor, error) {
		out := models.NewTensor(t.Shape)
		for i := range out.Data {
			out.Data[i] = -100
		}
		out.Data[0] = 100
		return out, nil
	}

	f, err := NewFlips()
	require.NoError(t, err)
	out, err := f.Augment(context.Background(), forward, in)
	require.NoError(t, err)

	// each corner is hit by exactly one view
	for i, v := range out.Data {
		assert.InDelta(t, 1.0/8, v, 1e-6, "voxel %d", i)
	}
	assert.False(t, math.IsNaN(float64(out.Data[0])))
}

func TestAugmentForwardError(t *testing.T) {
	boom := errors.New("boom")
	f, err := NewFlips(0, FlipX)
	require.NoError(t, err)

	_, err = f.Augment(context.Background(), func(context.Context, models.Tensor) (models.Tensor, error) {
		return models.Tensor{}, boom
	}, models.NewTensor(models.Shape{C: 1, Z: 1, Y: 1, X: 1}))
	assert.ErrorIs(t, err, boom)
}

func TestAugmentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := NewFlips()
	require.NoError(t, err)

	_, err = f.Augment(ctx, func(context.Context, models.Tensor) (models.Tensor, error) {
		t.Fatal("forward must not run")
		return models.Tensor{}, nil
	}, models.NewTensor(models.Shape{C: 1, Z: 1, Y: 1, X: 1}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFlipsRejectsInvalid(t *testing.T) {
	_, err := NewFlips(8)
	assert.Error(t, err)
}
