// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz) with three spatial dimensions.
package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"segensemble/internal/models"
)

const (
	headerSize = 348

	// voxOffset is the header plus the four-byte empty extension flag
	voxOffset = 352
)

var magicSingle = [4]byte{'n', '+', '1', 0}

// Datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
)

var bitsPerVoxel = map[int16]int16{
	DTUint8:   8,
	DTInt8:    8,
	DTInt16:   16,
	DTUint16:  16,
	DTInt32:   32,
	DTFloat32: 32,
	DTFloat64: 64,
}

// ErrUnsupported is returned for images this package cannot decode.
var ErrUnsupported = errors.New("unsupported nifti image")

// rawHeader is the on-disk NIfTI-1 header layout
type rawHeader struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QFormCode     int16
	SFormCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SRowX         [4]float32
	SRowY         [4]float32
	SRowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Header is a decoded NIfTI-1 header.
type Header struct {
	raw   rawHeader
	order binary.ByteOrder
}

// Dims returns the grid size in (x, y, z) file order
func (h *Header) Dims() [3]int {
	return [3]int{int(h.raw.Dim[1]), int(h.raw.Dim[2]), int(h.raw.Dim[3])}
}

// Datatype returns the voxel datatype code
func (h *Header) Datatype() int16 {
	return h.raw.Datatype
}

// Voxels returns the number of voxels in the image
func (h *Header) Voxels() int {
	d := h.Dims()
	return d[0] * d[1] * d[2]
}

// Geometry returns the spatial metadata of the image
func (h *Header) Geometry() models.Geometry {
	r := &h.raw
	g := models.Geometry{
		Dims:      h.Dims(),
		Spacing:   [3]float64{float64(r.Pixdim[1]), float64(r.Pixdim[2]), float64(r.Pixdim[3])},
		QFormCode: r.QFormCode,
		SFormCode: r.SFormCode,
		Quatern:   [3]float64{float64(r.QuaternB), float64(r.QuaternC), float64(r.QuaternD)},
		QOffset:   [3]float64{float64(r.QOffsetX), float64(r.QOffsetY), float64(r.QOffsetZ)},
		QFac:      float64(r.Pixdim[0]),
		XYZTUnits: r.XYZTUnits,
	}
	if g.QFac != -1 {
		g.QFac = 1
	}
	for i, row := range [3][4]float32{r.SRowX, r.SRowY, r.SRowZ} {
		for j, v := range row {
			g.SRow[i][j] = float64(v)
		}
	}
	return g
}

// decodeHeader parses the first 348 bytes of r, detecting byte order from
// the sizeof_hdr field.
func decodeHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(buf) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(buf) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a NIfTI-1 header", ErrUnsupported)
	}

	h := &Header{order: order}
	if err := binary.Read(bytes.NewReader(buf), order, &h.raw); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if err := h.check(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Header) check() error {
	r := &h.raw
	if r.Magic != magicSingle {
		return fmt.Errorf("%w: magic %q, only single-file n+1 images are read", ErrUnsupported, r.Magic[:3])
	}
	if r.Dim[0] < 3 || r.Dim[0] > 7 {
		return fmt.Errorf("%w: %d dimensions", ErrUnsupported, r.Dim[0])
	}
	for i := 1; i <= 3; i++ {
		if r.Dim[i] <= 0 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrUnsupported, i, r.Dim[i])
		}
	}
	for i := 4; i <= int(r.Dim[0]); i++ {
		if r.Dim[i] > 1 {
			return fmt.Errorf("%w: dim[%d] = %d, only 3-D images are read", ErrUnsupported, i, r.Dim[i])
		}
	}
	if _, ok := bitsPerVoxel[r.Datatype]; !ok {
		return fmt.Errorf("%w: datatype %d", ErrUnsupported, r.Datatype)
	}
	if r.VoxOffset < headerSize {
		return fmt.Errorf("%w: vox_offset %v", ErrUnsupported, r.VoxOffset)
	}
	return nil
}

// newHeader builds a header for a 3-D image with geometry g
func newHeader(g models.Geometry, datatype int16) rawHeader {
	r := rawHeader{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  datatype,
		Bitpix:    bitsPerVoxel[datatype],
		VoxOffset: voxOffset,
		SclSlope:  1,
		XYZTUnits: g.XYZTUnits,
		QFormCode: g.QFormCode,
		SFormCode: g.SFormCode,
		QuaternB:  float32(g.Quatern[0]),
		QuaternC:  float32(g.Quatern[1]),
		QuaternD:  float32(g.Quatern[2]),
		QOffsetX:  float32(g.QOffset[0]),
		QOffsetY:  float32(g.QOffset[1]),
		QOffsetZ:  float32(g.QOffset[2]),
		Magic:     magicSingle,
	}
	r.Dim = [8]int16{3, int16(g.Dims[0]), int16(g.Dims[1]), int16(g.Dims[2]), 1, 1, 1, 1}

	qfac := float32(1)
	if g.QFac == -1 {
		qfac = -1
	}
	r.Pixdim = [8]float32{qfac, float32(g.Spacing[0]), float32(g.Spacing[1]), float32(g.Spacing[2])}

	rows := [3]*[4]float32{&r.SRowX, &r.SRowY, &r.SRowZ}
	for i, row := range rows {
		for j := range row {
			row[j] = float32(g.SRow[i][j])
		}
	}
	copy(r.Descrip[:], "segensemble")
	return r
}
