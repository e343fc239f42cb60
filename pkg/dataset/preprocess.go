package dataset

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"segensemble/internal/models"
)

// Percentiles used to clip non-zero intensities before min-max rescaling
const (
	LowPercentile  = 0.5
	HighPercentile = 99.5
)

// BrainCrop returns the bounding box of voxels that are non-zero in the sum
// of all channels, with one voxel of margin below. Upper bounds are exclusive.
func BrainCrop(t models.Tensor) (models.CropWindow, error) {
	s := t.Shape
	lo := [3]int{s.Z, s.Y, s.X}
	hi := [3]int{-1, -1, -1}

	n := s.Voxels()
	for z := 0; z < s.Z; z++ {
		for y := 0; y < s.Y; y++ {
			for x := 0; x < s.X; x++ {
				v := z*s.Y*s.X + y*s.X + x
				var sum float32
				for c := 0; c < s.C; c++ {
					sum += t.Data[c*n+v]
				}
				if sum == 0 {
					continue
				}
				for axis, p := range [3]int{z, y, x} {
					lo[axis] = min(lo[axis], p)
					hi[axis] = max(hi[axis], p)
				}
			}
		}
	}
	if hi[0] < 0 {
		return models.CropWindow{}, fmt.Errorf("volume %s has no non-zero voxel", s)
	}

	var w models.CropWindow
	for axis := range w {
		w[axis] = models.Interval{Start: max(0, lo[axis]-1), End: hi[axis] + 1}
	}
	return w, nil
}

// Crop copies the region w out of t
func Crop(t models.Tensor, w models.CropWindow) (models.Tensor, error) {
	if err := w.Within(t.Shape); err != nil {
		return models.Tensor{}, err
	}
	span := w.Span()
	out := models.NewTensor(models.Shape{C: t.Shape.C, Z: span[0], Y: span[1], X: span[2]})
	for c := 0; c < t.Shape.C; c++ {
		for z := 0; z < span[0]; z++ {
			for y := 0; y < span[1]; y++ {
				src := t.Shape.Index(c, w[0].Start+z, w[1].Start+y, w[2].Start)
				dst := out.Shape.Index(c, z, y, 0)
				copy(out.Data[dst:dst+span[2]], t.Data[src:src+span[2]])
			}
		}
	}
	return out, nil
}

// nonZero returns the non-zero values of one channel as float64
func nonZero(ch []float32) []float64 {
	vals := make([]float64, 0, len(ch))
	for _, v := range ch {
		if v != 0 {
			vals = append(vals, float64(v))
		}
	}
	return vals
}

func channel(t models.Tensor, c int) []float32 {
	n := t.Shape.Voxels()
	return t.Data[c*n : (c+1)*n]
}

// MinMax rescales each channel to [0,1] after clipping it to the
// LowPercentile and HighPercentile of its non-zero voxels. A channel without
// intensity range comes out all zero.
func MinMax(t models.Tensor) models.Tensor {
	out := models.NewTensor(t.Shape)
	for c := 0; c < t.Shape.C; c++ {
		src, dst := channel(t, c), channel(out, c)
		vals := nonZero(src)
		if len(vals) == 0 {
			continue
		}
		slices.Sort(vals)
		low := stat.Quantile(LowPercentile/100, stat.LinInterp, vals, nil)
		high := stat.Quantile(HighPercentile/100, stat.LinInterp, vals, nil)
		scale := high - low
		if scale <= 0 {
			continue
		}
		for i, v := range src {
			x := min(max(float64(v), low), high)
			dst[i] = float32((x - low) / scale)
		}
	}
	return out
}

// ZScore standardises the non-zero voxels of each channel with their
// population mean and standard deviation; zero voxels stay zero. A channel
// with no spread is only centred.
func ZScore(t models.Tensor) models.Tensor {
	out := models.NewTensor(t.Shape)
	for c := 0; c < t.Shape.C; c++ {
		src, dst := channel(t, c), channel(out, c)
		vals := nonZero(src)
		if len(vals) == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(vals, nil)
		if std == 0 {
			std = 1
		}
		for i, v := range src {
			if v != 0 {
				dst[i] = float32((float64(v) - mean) / std)
			}
		}
	}
	return out
}

// PadToMultiple appends zeros after each spatial axis of t until its
// length is divisible by multiple. It returns the padded tensor and the
// amount added per axis.
func PadToMultiple(t models.Tensor, multiple int) (models.Tensor, models.PadSpec) {
	var pad models.PadSpec
	dims := t.Shape.Spatial()
	for axis, d := range dims {
		if r := d % multiple; r != 0 {
			pad[axis] = multiple - r
		}
	}
	if pad == (models.PadSpec{}) {
		return t, pad
	}

	s := t.Shape
	out := models.NewTensor(models.Shape{C: s.C, Z: s.Z + pad[0], Y: s.Y + pad[1], X: s.X + pad[2]})
	for c := 0; c < s.C; c++ {
		for z := 0; z < s.Z; z++ {
			for y := 0; y < s.Y; y++ {
				src := s.Index(c, z, y, 0)
				dst := out.Shape.Index(c, z, y, 0)
				copy(out.Data[dst:dst+s.X], t.Data[src:src+s.X])
			}
		}
	}
	return out, pad
}

// Prepare pads every variant of c to multiple, in Normalizations order.
func Prepare(c *models.Case, multiple int) []models.Prepared {
	prepared := make([]models.Prepared, 0, len(c.Inputs))
	for _, v := range models.Normalizations {
		in, ok := c.Inputs[v]
		if !ok {
			continue
		}
		padded, pad := PadToMultiple(in.Tensor, multiple)
		prepared = append(prepared, models.Prepared{Variant: v, Tensor: padded, Pad: pad, Crop: in.Crop})
	}
	return prepared
}
