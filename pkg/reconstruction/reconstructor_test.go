package reconstruction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segensemble/internal/faults"
	"segensemble/internal/models"
)

// smallFrame keeps the synthetic tests fast
var smallFrame = models.Shape{C: 3, Z: 6, Y: 7, X: 8}

// constantTensor creates a tensor filled with v
func constantTensor(s models.Shape, v float32) models.Tensor {
	t := models.NewTensor(s)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

func inside(w models.CropWindow, z, y, x int) bool {
	return z >= w[0].Start && z < w[0].End &&
		y >= w[1].Start && y < w[1].End &&
		x >= w[2].Start && x < w[2].End
}

// TestConstantPlacedInsideWindow verifies that a constant crop lands exactly
// inside the window and leaves zeros everywhere else, for several pads and
// window positions
func TestConstantPlacedInsideWindow(t *testing.T) {
	tests := []struct {
		name   string
		pad    models.PadSpec
		window models.CropWindow
	}{
		{"origin no pad", models.PadSpec{0, 0, 0}, models.CropWindow{{Start: 0, End: 2}, {Start: 0, End: 2}, {Start: 0, End: 2}}},
		{"interior padded", models.PadSpec{1, 2, 3}, models.CropWindow{{Start: 2, End: 4}, {Start: 3, End: 5}, {Start: 4, End: 6}}},
		{"far corner", models.PadSpec{2, 0, 1}, models.CropWindow{{Start: 4, End: 6}, {Start: 5, End: 7}, {Start: 6, End: 8}}},
	}

	const v = 0.75
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape := models.Shape{C: 3, Z: 2 + tt.pad[0], Y: 2 + tt.pad[1], X: 2 + tt.pad[2]}
			pred := constantTensor(shape, v)
			// mark the padded region so leaking it would be visible
			for c := 0; c < shape.C; c++ {
				for z := 0; z < shape.Z; z++ {
					for y := 0; y < shape.Y; y++ {
						for x := 0; x < shape.X; x++ {
							if z >= 2 || y >= 2 || x >= 2 {
								pred.Data[shape.Index(c, z, y, x)] = 99
							}
						}
					}
				}
			}

			field, err := Reconstruct(pred, tt.pad, tt.window, smallFrame)
			require.NoError(t, err)
			require.Equal(t, smallFrame, field.Shape)

			for c := 0; c < smallFrame.C; c++ {
				for z := 0; z < smallFrame.Z; z++ {
					for y := 0; y < smallFrame.Y; y++ {
						for x := 0; x < smallFrame.X; x++ {
							got := field.Data[smallFrame.Index(c, z, y, x)]
							if inside(tt.window, z, y, x) {
								assert.Equal(t, v, got, "voxel (%d,%d,%d,%d)", c, z, y, x)
							} else {
								assert.Zero(t, got, "voxel (%d,%d,%d,%d)", c, z, y, x)
							}
						}
					}
				}
			}
		})
	}
}

// TestPreservesVoxelOrder checks that distinct values land at the matching offsets
func TestPreservesVoxelOrder(t *testing.T) {
	shape := models.Shape{C: 3, Z: 2, Y: 3, X: 4}
	pred := models.NewTensor(shape)
	for i := range pred.Data {
		pred.Data[i] = float32(i)
	}
	window := models.CropWindow{{Start: 1, End: 3}, {Start: 2, End: 5}, {Start: 3, End: 7}}

	field, err := Reconstruct(pred, models.PadSpec{}, window, smallFrame)
	require.NoError(t, err)

	assert.Equal(t, float64(pred.Data[shape.Index(2, 1, 2, 3)]), field.Data[smallFrame.Index(2, 2, 4, 6)])
	assert.Equal(t, float64(pred.Data[shape.Index(0, 0, 0, 0)]), field.Data[smallFrame.Index(0, 1, 2, 3)])
}

func TestPaddingReducesAxisBeforePlacement(t *testing.T) {
	window := models.CropWindow{{Start: 0, End: 3}, {Start: 0, End: 3}, {Start: 0, End: 3}}

	// 3 + pad 2 on z fits exactly
	_, err := Reconstruct(constantTensor(models.Shape{C: 3, Z: 5, Y: 3, X: 3}, 1), models.PadSpec{2, 0, 0}, window, smallFrame)
	require.NoError(t, err)

	// the same tensor without declaring the pad is too long for the window
	_, err = Reconstruct(constantTensor(models.Shape{C: 3, Z: 5, Y: 3, X: 3}, 1), models.PadSpec{}, window, smallFrame)
	assert.True(t, errors.Is(err, faults.ErrShapeMismatch), "got %v", err)
}

func TestShapeMismatch(t *testing.T) {
	base := constantTensor(models.Shape{C: 3, Z: 2, Y: 2, X: 2}, 1)
	window := models.CropWindow{{Start: 0, End: 2}, {Start: 0, End: 2}, {Start: 0, End: 2}}

	tests := []struct {
		name   string
		pred   models.Tensor
		pad    models.PadSpec
		window models.CropWindow
	}{
		{"window smaller", base, models.PadSpec{}, models.CropWindow{{Start: 0, End: 1}, {Start: 0, End: 2}, {Start: 0, End: 2}}},
		{"window larger", base, models.PadSpec{}, models.CropWindow{{Start: 0, End: 2}, {Start: 0, End: 3}, {Start: 0, End: 2}}},
		{"pad exceeds length", base, models.PadSpec{0, 0, 3}, window},
		{"negative pad", base, models.PadSpec{-1, 0, 0}, window},
		{"window outside frame", base, models.PadSpec{}, models.CropWindow{{Start: 5, End: 7}, {Start: 0, End: 2}, {Start: 0, End: 2}}},
		{"channel count", constantTensor(models.Shape{C: 2, Z: 2, Y: 2, X: 2}, 1), models.PadSpec{}, window},
		{"truncated data", models.Tensor{Shape: base.Shape, Data: base.Data[:3]}, models.PadSpec{}, window},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, err := Reconstruct(tt.pred, tt.pad, tt.window, smallFrame)
			assert.Nil(t, field)
			assert.True(t, errors.Is(err, faults.ErrShapeMismatch), "got %v", err)
		})
	}
}
