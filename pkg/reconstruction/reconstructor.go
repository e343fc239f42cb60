// Package reconstruction places cropped model predictions back into the
// canonical frame.
package reconstruction

import (
	"segensemble/internal/faults"
	"segensemble/internal/models"
)

// Reconstruct maps a cropped, padded prediction back into a full-size
// prediction field.
//
// The reconstruction process consists of three steps:
// 1. Strip the trailing padding from every spatial axis of pred
// 2. Allocate a zero-filled field of the canonical frame
// 3. Copy the unpadded prediction into the field at the crop window offsets
//
// Voxels outside the window stay exactly zero. When the ensemble is averaged
// they therefore count as "no tumour" for this member; the crop window is
// expected to cover the whole region of interest.
//
// Parameters:
//   - pred: Prediction in channels x padded-Z x padded-Y x padded-X layout
//   - pad: Trailing padding that was added to the model input on each axis
//   - window: Location of the unpadded prediction in the canonical frame
//   - frame: The canonical frame
//
// Returns:
//   - The reconstructed field, or a ShapeMismatch error when the unpadded
//     prediction and the window disagree on any axis
func Reconstruct(pred models.Tensor, pad models.PadSpec, window models.CropWindow, frame models.Shape) (*models.PredictionField, error) {
	if err := pred.Validate(); err != nil {
		return nil, faults.New(faults.KindShape, "reconstruct", err)
	}
	if pred.Shape.C != frame.C {
		return nil, faults.Errorf(faults.KindShape, "reconstruct", "prediction has %d channels, frame has %d", pred.Shape.C, frame.C)
	}
	if err := window.Within(frame); err != nil {
		return nil, faults.New(faults.KindShape, "reconstruct", err)
	}

	// Step 1: truncate the padded region
	padded := pred.Shape.Spatial()
	span := window.Span()
	var crop [3]int
	for axis := 0; axis < 3; axis++ {
		if pad[axis] < 0 || pad[axis] > padded[axis] {
			return nil, faults.Errorf(faults.KindShape, "reconstruct", "axis %d: pad %d invalid for length %d", axis, pad[axis], padded[axis])
		}
		crop[axis] = padded[axis] - pad[axis]
		if crop[axis] != span[axis] {
			return nil, faults.Errorf(faults.KindShape, "reconstruct", "axis %d: unpadded prediction length %d does not match crop window %d", axis, crop[axis], span[axis])
		}
	}

	// Step 2: zero-filled canonical field
	field := models.NewPredictionField(frame)

	// Step 3: copy row by row; x rows are contiguous in both layouts
	zOffset, yOffset, xOffset := window[0].Start, window[1].Start, window[2].Start
	for c := 0; c < frame.C; c++ {
		for z := 0; z < crop[0]; z++ {
			for y := 0; y < crop[1]; y++ {
				src := pred.Data[pred.Shape.Index(c, z, y, 0):]
				dst := field.Data[frame.Index(c, zOffset+z, yOffset+y, xOffset):]
				for x := 0; x < crop[2]; x++ {
					dst[x] = float64(src[x])
				}
			}
		}
	}

	return field, nil
}
