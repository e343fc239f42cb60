package models

import "fmt"

// Shape is the layout of a channel-first volume: channels, depth (z),
// height (y) and width (x). Data is stored row-major with x varying fastest.
type Shape struct {
	C, Z, Y, X int
}

// CanonicalFrame is the full-volume extent every prediction is reassembled into.
var CanonicalFrame = Shape{C: 3, Z: 155, Y: 240, X: 240}

// Len returns the number of elements a tensor of this shape holds
func (s Shape) Len() int {
	return s.C * s.Z * s.Y * s.X
}

// Spatial returns the (z, y, x) extent
func (s Shape) Spatial() [3]int {
	return [3]int{s.Z, s.Y, s.X}
}

// Voxels returns the number of voxels in one channel
func (s Shape) Voxels() int {
	return s.Z * s.Y * s.X
}

// Index returns the flat offset of element (c, z, y, x)
func (s Shape) Index(c, z, y, x int) int {
	return ((c*s.Z+z)*s.Y+y)*s.X + x
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", s.C, s.Z, s.Y, s.X)
}

// Tensor is a dense channel-first float32 volume. Model inputs and raw
// model outputs travel as tensors; float32 is the precision models run in.
type Tensor struct {
	// Shape describes the layout of Data
	Shape Shape

	// Data holds Shape.Len() values in row-major order
	Data []float32
}

// NewTensor allocates a zero-filled tensor
func NewTensor(s Shape) Tensor {
	return Tensor{Shape: s, Data: make([]float32, s.Len())}
}

// Clone returns a deep copy of the tensor
func (t Tensor) Clone() Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return Tensor{Shape: t.Shape, Data: data}
}

// Validate checks that the data length agrees with the shape
func (t Tensor) Validate() error {
	if t.Shape.C <= 0 || t.Shape.Z <= 0 || t.Shape.Y <= 0 || t.Shape.X <= 0 {
		return fmt.Errorf("invalid tensor shape %s", t.Shape)
	}
	if len(t.Data) != t.Shape.Len() {
		return fmt.Errorf("tensor shape %s needs %d values, got %d", t.Shape, t.Shape.Len(), len(t.Data))
	}
	return nil
}

// PredictionField is a per-voxel class-membership probability volume in the
// canonical frame. Channel 0 is the enhancing tumour, channel 1 the tumour
// core and channel 2 the whole tumour; each region contains the previous one.
type PredictionField struct {
	// Shape is the canonical frame the field lives in
	Shape Shape

	// Data holds probabilities in [0,1], row-major like Tensor
	Data []float64
}

// NewPredictionField allocates a zero-filled field
func NewPredictionField(s Shape) *PredictionField {
	return &PredictionField{Shape: s, Data: make([]float64, s.Len())}
}

// Channel returns the slice of Data belonging to channel c
func (f *PredictionField) Channel(c int) []float64 {
	n := f.Shape.Voxels()
	return f.Data[c*n : (c+1)*n]
}

// Label values of the output label map.
const (
	LabelBackground uint8 = 0
	LabelNecrotic   uint8 = 1
	LabelEdema      uint8 = 2
	LabelEnhancing  uint8 = 4
)

// LabelVolume is a mutually exclusive label map over the spatial extent of
// the canonical frame, stored z-major with x varying fastest.
type LabelVolume struct {
	Z, Y, X int

	// Data holds one of LabelBackground, LabelNecrotic, LabelEdema or LabelEnhancing per voxel
	Data []uint8
}

// NewLabelVolume allocates a background-filled label volume
func NewLabelVolume(z, y, x int) *LabelVolume {
	return &LabelVolume{Z: z, Y: y, X: x, Data: make([]uint8, z*y*x)}
}

// At returns the label at (z, y, x)
func (v *LabelVolume) At(z, y, x int) uint8 {
	return v.Data[(z*v.Y+y)*v.X+x]
}
