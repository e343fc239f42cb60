package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"segensemble/internal/models"
)

// Palette maps label values to display colours. Index i of the palette is
// used for label value i; unused indices are black.
var Palette = color.Palette{
	models.LabelBackground: color.RGBA{0, 0, 0, 255},
	models.LabelNecrotic:   color.RGBA{220, 40, 40, 255},
	models.LabelEdema:      color.RGBA{40, 200, 60, 255},
	3:                      color.RGBA{0, 0, 0, 255},
	models.LabelEnhancing:  color.RGBA{250, 220, 30, 255},
}

// Viewer renders 2D slices of a label map for visual quality checks
type Viewer struct {
	// labels holds the label map being viewed
	labels *models.LabelVolume
}

// NewViewer creates a new viewer over a label map
func NewViewer(labels *models.LabelVolume) *Viewer {
	return &Viewer{labels: labels}
}

// ExtractSlice extracts a 2D colour slice from the label map along the
// specified axis
//
// Parameters:
//   - axis: "x" (sagittal, YZ plane), "y" (coronal, XZ plane) or "z" (axial, XY plane)
//   - position: slice index along axis
//
// Returns:
//   - a paletted image using Palette
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	l := v.labels
	var img *image.Paletted

	switch axis {
	case "x", "X":
		if position >= l.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, l.X)
		}
		img = image.NewPaletted(image.Rect(0, 0, l.Z, l.Y), Palette)
		for y := 0; y < l.Y; y++ {
			for z := 0; z < l.Z; z++ {
				img.SetColorIndex(z, y, l.At(z, y, position))
			}
		}

	case "y", "Y":
		if position >= l.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, l.Y)
		}
		img = image.NewPaletted(image.Rect(0, 0, l.X, l.Z), Palette)
		for z := 0; z < l.Z; z++ {
			for x := 0; x < l.X; x++ {
				img.SetColorIndex(x, z, l.At(z, position, x))
			}
		}

	case "z", "Z":
		if position >= l.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, l.Z)
		}
		img = image.NewPaletted(image.Rect(0, 0, l.X, l.Y), Palette)
		for y := 0; y < l.Y; y++ {
			for x := 0; x < l.X; x++ {
				img.SetColorIndex(x, y, l.At(position, y, x))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as outputDir/slice_<axis>_<pos>.jpg
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.labels.X
	case "y", "Y":
		maxPos = v.labels.Y
	case "z", "Z":
		maxPos = v.labels.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
