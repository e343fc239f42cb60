package models

import "fmt"

// Interval is a half-open integer range [Start, End).
type Interval struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Len returns End - Start
func (i Interval) Len() int {
	return i.End - i.Start
}

// CropWindow locates a cropped volume inside the canonical frame, one
// interval per spatial axis in (z, y, x) order.
type CropWindow [3]Interval

// Span returns the window length on each axis
func (w CropWindow) Span() [3]int {
	return [3]int{w[0].Len(), w[1].Len(), w[2].Len()}
}

// Within reports an error unless every interval is non-empty and lies inside frame.
func (w CropWindow) Within(frame Shape) error {
	dims := frame.Spatial()
	for axis, iv := range w {
		if iv.Start < 0 || iv.End > dims[axis] || iv.Start >= iv.End {
			return fmt.Errorf("crop window axis %d [%d,%d) outside frame extent %d", axis, iv.Start, iv.End, dims[axis])
		}
	}
	return nil
}

// PadSpec is the trailing padding added per spatial axis (z, y, x) so a
// cropped input satisfies the model's size-divisibility constraint.
type PadSpec [3]int

// Normalization names one of the two input intensity rescaling schemes.
type Normalization string

const (
	MinMax Normalization = "minmax"
	ZScore Normalization = "zscore"
)

// Normalizations lists the supported variants in preparation order
var Normalizations = []Normalization{MinMax, ZScore}

// Valid reports whether n is a known variant
func (n Normalization) Valid() bool {
	return n == MinMax || n == ZScore
}

// Input is one normalisation variant of a case: the cropped, normalised
// tensor and where it sits in the canonical frame.
type Input struct {
	// Tensor is the cropped input, not yet padded
	Tensor Tensor

	// Crop locates Tensor in the canonical frame
	Crop CropWindow
}

// Prepared is an Input after pad-to-divisibility.
type Prepared struct {
	Variant Normalization

	// Tensor is the padded input handed to the model
	Tensor Tensor

	// Pad is what was appended to Tensor and must be stripped from the output
	Pad PadSpec

	// Crop is carried over from the Input
	Crop CropWindow
}

// Geometry is the spatial metadata of a reference image: grid size, voxel
// spacing and the qform/sform orientation of a NIfTI-1 header. It is copied
// verbatim onto written label maps.
type Geometry struct {
	// Dims is the grid size in (x, y, z) file order
	Dims [3]int `yaml:"dims"`

	// Spacing is the voxel size along x, y and z
	Spacing [3]float64 `yaml:"spacing"`

	QFormCode int16         `yaml:"qformCode"`
	SFormCode int16         `yaml:"sformCode"`
	Quatern   [3]float64    `yaml:"quatern"`
	QOffset   [3]float64    `yaml:"qoffset"`
	QFac      float64       `yaml:"qfac"`
	SRow      [3][4]float64 `yaml:"srow"`
	XYZTUnits uint8         `yaml:"xyztUnits"`
}

// Case is one patient scan ready for inference. It is read-only after the
// dataset builds it.
type Case struct {
	PatientID string

	// Reference is the geometry written back onto the label map
	Reference Geometry

	// ReferencePath is the image the geometry was read from
	ReferencePath string

	// Inputs holds the case under each normalisation variant
	Inputs map[Normalization]Input
}
