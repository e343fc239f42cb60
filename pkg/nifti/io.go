package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"segensemble/internal/models"
)

// Volume is a decoded image: its header and voxel values in file order
// (x fastest, then y, then z) with scl_slope/scl_inter applied.
type Volume struct {
	Header *Header
	Data   []float32
}

// open returns a reader over the uncompressed image bytes
func open(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !isGzip(path) {
		return bufio.NewReader(f), f.Close, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	closer := func() error {
		zr.Close()
		return f.Close()
	}
	return zr, closer, nil
}

func isGzip(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// ReadHeader reads only the header of the image at path.
func ReadHeader(path string) (*Header, error) {
	r, closer, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	h, err := decodeHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// ReadVolume reads the image at path.
//
// Parameters:
//   - path: .nii or .nii.gz file
//
// Returns:
//   - the decoded volume, or an error if the file is not a 3-D single-file
//     NIfTI-1 image of a supported datatype
func ReadVolume(path string) (*Volume, error) {
	r, closer, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	h, err := decodeHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if skip := int64(h.raw.VoxOffset) - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("%s: skipping extensions: %w", path, err)
		}
	}

	data, err := decodeVoxels(r, h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Volume{Header: h, Data: data}, nil
}

func decodeVoxels(r io.Reader, h *Header) ([]float32, error) {
	n := h.Voxels()
	width := int(bitsPerVoxel[h.raw.Datatype] / 8)
	buf := make([]byte, n*width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}

	out := make([]float32, n)
	o := h.order
	for i := range out {
		b := buf[i*width:]
		var v float64
		switch h.raw.Datatype {
		case DTUint8:
			v = float64(b[0])
		case DTInt8:
			v = float64(int8(b[0]))
		case DTInt16:
			v = float64(int16(o.Uint16(b)))
		case DTUint16:
			v = float64(o.Uint16(b))
		case DTInt32:
			v = float64(int32(o.Uint32(b)))
		case DTFloat32:
			v = float64(math.Float32frombits(o.Uint32(b)))
		case DTFloat64:
			v = math.Float64frombits(o.Uint64(b))
		}
		out[i] = float32(v)
	}

	// scl_slope 0 means no scaling
	if slope, inter := h.raw.SclSlope, h.raw.SclInter; slope != 0 && (slope != 1 || inter != 0) {
		for i, v := range out {
			out[i] = v*slope + inter
		}
	}
	return out, nil
}

// WriteLabels writes vol as a uint8 image carrying geometry g. The label
// volume is z-major like the file, so its (z, y, x) extent must match the
// reversed g.Dims.
func WriteLabels(path string, vol *models.LabelVolume, g models.Geometry) error {
	if g.Dims != [3]int{vol.X, vol.Y, vol.Z} {
		return fmt.Errorf("label volume %dx%dx%d (x,y,z) does not match geometry %v", vol.X, vol.Y, vol.Z, g.Dims)
	}
	return write(path, newHeader(g, DTUint8), vol.Data)
}

// WriteVolume writes data, in file order, as a float32 image carrying geometry g.
func WriteVolume(path string, data []float32, g models.Geometry) error {
	if n := g.Dims[0] * g.Dims[1] * g.Dims[2]; n != len(data) {
		return fmt.Errorf("geometry %v needs %d voxels, got %d", g.Dims, n, len(data))
	}
	return write(path, newHeader(g, DTFloat32), data)
}

func write(path string, h rawHeader, data any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *gzip.Writer
	if isGzip(path) {
		zw = gzip.NewWriter(bw)
		w = zw
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	// empty extension flag
	if _, err := w.Write(make([]byte, voxOffset-headerSize)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("writing voxels: %w", err)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}
