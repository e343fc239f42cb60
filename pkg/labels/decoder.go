// Package labels turns averaged region probabilities into a mutually
// exclusive label map.
//
// The three channels are nested region indicators, not competing class
// probabilities: channel 0 is the enhancing tumour, channel 1 the tumour core
// (containing the enhancing tumour) and channel 2 the whole tumour
// (containing the core). Each voxel gets the most specific region it
// belongs to, in the BraTS label convention:
//
//	enhancing tumour            4
//	necrotic / non-enhancing    1   core and not enhancing
//	edema                       2   whole tumour and not core
//	background                  0
package labels

import (
	"fmt"

	"segensemble/internal/models"
)

// DefaultThreshold binarises every channel
const DefaultThreshold = 0.5

// Decode thresholds each channel of f and resolves the nested regions into
// one label per voxel. A probability must be strictly above threshold.
func Decode(f *models.PredictionField, threshold float64) (*models.LabelVolume, error) {
	if f.Shape.C != 3 {
		return nil, fmt.Errorf("expected 3 region channels, got %d", f.Shape.C)
	}
	if len(f.Data) != f.Shape.Len() {
		return nil, fmt.Errorf("field shape %s needs %d values, got %d", f.Shape, f.Shape.Len(), len(f.Data))
	}

	et, tc, wt := f.Channel(0), f.Channel(1), f.Channel(2)
	vol := models.NewLabelVolume(f.Shape.Z, f.Shape.Y, f.Shape.X)

	for i := range vol.Data {
		enhancing := et[i] > threshold
		core := tc[i] > threshold
		whole := wt[i] > threshold

		necrotic := core && !enhancing
		edema := whole && !core

		// assignment order enhancing, necrotic, edema; later wins on overlap
		if enhancing {
			vol.Data[i] = models.LabelEnhancing
		}
		if necrotic {
			vol.Data[i] = models.LabelNecrotic
		}
		if edema {
			vol.Data[i] = models.LabelEdema
		}
	}
	return vol, nil
}

// Counts holds the number of voxels per label
type Counts struct {
	Background int
	Necrotic   int
	Edema      int
	Enhancing  int
}

// Tumor returns the number of non-background voxels
func (c Counts) Tumor() int {
	return c.Necrotic + c.Edema + c.Enhancing
}

// Count tallies the labels of vol
func Count(vol *models.LabelVolume) Counts {
	var c Counts
	for _, l := range vol.Data {
		switch l {
		case models.LabelNecrotic:
			c.Necrotic++
		case models.LabelEdema:
			c.Edema++
		case models.LabelEnhancing:
			c.Enhancing++
		default:
			c.Background++
		}
	}
	return c
}
