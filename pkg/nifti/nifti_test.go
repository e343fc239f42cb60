package nifti

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segensemble/internal/models"
)

func testGeometry(x, y, z int) models.Geometry {
	return models.Geometry{
		Dims:      [3]int{x, y, z},
		Spacing:   [3]float64{1, 1.5, 2},
		QFormCode: 1,
		SFormCode: 1,
		Quatern:   [3]float64{0, 0, 1},
		QOffset:   [3]float64{-90, 126, -72},
		QFac:      -1,
		SRow: [3][4]float64{
			{-1, 0, 0, 90},
			{0, -1.5, 0, 126},
			{0, 0, 2, -72},
		},
		XYZTUnits: 10,
	}
}

func TestWriteLabelsRoundTrip(t *testing.T) {
	for _, name := range []string{"case.nii", "case.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			vol := models.NewLabelVolume(2, 3, 4)
			vol.Data[0] = models.LabelEnhancing
			vol.Data[5] = models.LabelNecrotic
			vol.Data[len(vol.Data)-1] = models.LabelEdema
			g := testGeometry(4, 3, 2)

			require.NoError(t, WriteLabels(path, vol, g))

			h, err := ReadHeader(path)
			require.NoError(t, err)
			assert.Equal(t, g, h.Geometry())
			assert.Equal(t, DTUint8, h.Datatype())

			got, err := ReadVolume(path)
			require.NoError(t, err)
			require.Len(t, got.Data, len(vol.Data))
			for i, l := range vol.Data {
				assert.Equal(t, float32(l), got.Data[i], "voxel %d", i)
			}
		})
	}
}

func TestWriteLabelsGeometryMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nii.gz")
	err := WriteLabels(path, models.NewLabelVolume(2, 3, 4), testGeometry(2, 3, 4))
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteVolumeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.nii.gz")
	data := []float32{0, 1.5, -2, 3e4, 7, 8}
	require.NoError(t, WriteVolume(path, data, testGeometry(3, 2, 1)))

	got, err := ReadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, [3]int{3, 2, 1}, got.Header.Dims())
}

// hand-built big-endian int16 image with intensity scaling
func TestReadScaledBigEndian(t *testing.T) {
	h := newHeader(testGeometry(2, 2, 1), DTInt16)
	h.SclSlope = 2
	h.SclInter = 1

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	buf.Write(make([]byte, voxOffset-headerSize))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []int16{-3, 0, 5, 100}))

	path := filepath.Join(t.TempDir(), "be.nii")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	got, err := ReadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{-5, 1, 11, 201}, got.Data)
}

func TestReadRejects(t *testing.T) {
	dir := t.TempDir()

	garbage := filepath.Join(dir, "garbage.nii")
	require.NoError(t, os.WriteFile(garbage, make([]byte, 400), 0o644))
	_, err := ReadHeader(garbage)
	assert.ErrorIs(t, err, ErrUnsupported)

	h := newHeader(testGeometry(2, 2, 2), DTFloat32)
	h.Dim[0], h.Dim[4] = 4, 3
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	series := filepath.Join(dir, "series.nii")
	require.NoError(t, os.WriteFile(series, buf.Bytes(), 0o644))
	_, err = ReadHeader(series)
	assert.ErrorIs(t, err, ErrUnsupported)

	truncated := filepath.Join(dir, "truncated.nii")
	h = newHeader(testGeometry(2, 2, 2), DTFloat32)
	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	require.NoError(t, os.WriteFile(truncated, buf.Bytes(), 0o644))
	_, err = ReadVolume(truncated)
	assert.Error(t, err)

	_, err = ReadVolume(filepath.Join(dir, "missing.nii.gz"))
	assert.True(t, os.IsNotExist(err))
}
