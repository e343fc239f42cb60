package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segensemble/internal/faults"
	"segensemble/internal/models"
	"segensemble/pkg/execution"
	"segensemble/pkg/nifti"
)

// listSource serves prepared cases; errs replaces the case at an index
type listSource struct {
	cases  []*models.Case
	errs   map[int]error
	loaded []int
}

func (s *listSource) Len() int { return len(s.cases) }

func (s *listSource) Load(i int) (*models.Case, error) {
	s.loaded = append(s.loaded, i)
	if err, ok := s.errs[i]; ok {
		return nil, err
	}
	return s.cases[i], nil
}

// memoryWriter keeps results and fails for the listed patients
type memoryWriter struct {
	fail    map[string]bool
	written []string
}

func (w *memoryWriter) Write(r *Result) error {
	if w.fail[r.PatientID] {
		return errors.New("disk full")
	}
	w.written = append(w.written, r.PatientID)
	return nil
}

func mismatchedCase(patient string) *models.Case {
	c := newCase(patient)
	for v, in := range c.Inputs {
		in.Crop[0] = models.Interval{Start: 5, End: 24}
		c.Inputs[v] = in
	}
	return c
}

func TestProcessSkipsPerCaseFailures(t *testing.T) {
	device := execution.NewDevice("test")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, newRegionModel(device, 0.9, 0.9, 0.9)))

	src := &listSource{
		cases: []*models.Case{newCase("p0"), nil, mismatchedCase("p2"), newCase("p3"), newCase("p4")},
		errs:  map[int]error{1: faults.Errorf(faults.KindInput, "dataset", "no flair image")},
	}
	w := &memoryWriter{fail: map[string]bool{"p3": true}}

	sum, err := e.Process(context.Background(), src, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p4"}, w.written)
	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, map[string]int{
		faults.KindInput.String(): 1,
		faults.KindShape.String(): 1,
		faults.KindWrite.String(): 1,
	}, sum.Failures)
	assert.Equal(t, e.RunID(), sum.RunID)
	assert.Equal(t, 0, device.Resident())
}

func TestProcessStopsOnFatal(t *testing.T) {
	device := execution.NewDevice("test")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, newRegionModel(device, 0.9, 0.9, 0.9)))

	src := &listSource{
		cases: []*models.Case{newCase("p0"), nil, newCase("p2")},
		errs:  map[int]error{1: faults.Errorf(faults.KindLoad, "checkpoint", "weights do not fit")},
	}
	w := &memoryWriter{}

	sum, err := e.Process(context.Background(), src, w)
	assert.ErrorIs(t, err, faults.ErrLoad)
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, []int{0, 1}, src.loaded)
}

// weights that never reach the device fail every case alike, so the run stops
func TestProcessStopsWhenModelCannotLoad(t *testing.T) {
	device := execution.NewDevice("test")
	m := newRegionModel(device, 0.9, 0.9, 0.9)
	m.toDeviceErr = errors.New("invalid checkpoint graph")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, m))

	src := &listSource{cases: []*models.Case{newCase("p0"), newCase("p1"), newCase("p2")}}
	w := &memoryWriter{}

	sum, err := e.Process(context.Background(), src, w)
	assert.ErrorIs(t, err, faults.ErrLoad)
	assert.True(t, faults.IsFatal(err))
	assert.Equal(t, 0, sum.Written)
	assert.Equal(t, 0, sum.Skipped)
	assert.Equal(t, []int{0}, src.loaded)
	assert.Equal(t, 0, device.Resident())
}

func TestRunYieldsInOrder(t *testing.T) {
	device := execution.NewDevice("test")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, newRegionModel(device, 0.9, 0.9, 0.9)))
	src := &listSource{cases: []*models.Case{newCase("p0"), mismatchedCase("p1"), newCase("p2")}}

	var patients []string
	var errs []error
	for r, err := range e.Run(context.Background(), src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		patients = append(patients, r.PatientID)
	}
	assert.Equal(t, []string{"p0", "p2"}, patients)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], faults.ErrShapeMismatch)
}

func TestRunStopsWhenConsumerBreaks(t *testing.T) {
	device := execution.NewDevice("test")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, newRegionModel(device, 0.9, 0.9, 0.9)))
	src := &listSource{cases: []*models.Case{newCase("p0"), newCase("p1"), newCase("p2")}}

	for r, err := range e.Run(context.Background(), src) {
		require.NoError(t, err)
		assert.Equal(t, "p0", r.PatientID)
		break
	}
	assert.Equal(t, []int{0}, src.loaded)
}

func TestFolderWriter(t *testing.T) {
	device := execution.NewDevice("test")
	e := newEngine(t, testOptions(), device, newMember("a", models.MinMax, newRegionModel(device, 0.9, 0.9, 0.9)))

	c := newCase("BraTS_010")
	c.Reference.SFormCode = 1
	c.Reference.SRow = [3][4]float64{{-1, 0, 0, 0}, {0, -1, 0, 239}, {0, 0, 1, 0}}
	r, err := e.Predict(context.Background(), c)
	require.NoError(t, err)

	dir := t.TempDir()
	w := &FolderWriter{Dir: filepath.Join(dir, "validation_segs_ttafalse"), SlicesDir: filepath.Join(dir, "slices")}
	require.NoError(t, w.Write(r))

	path := filepath.Join(dir, "validation_segs_ttafalse", "BraTS_010.nii.gz")
	assert.Equal(t, path, w.Path("BraTS_010"))
	h, err := nifti.ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, c.Reference, h.Geometry())

	vol, err := nifti.ReadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, float32(models.LabelEnhancing), vol.Data[(10*30+10)*30+15])
	assert.Equal(t, float32(models.LabelBackground), vol.Data[0])

	_, err = os.Stat(filepath.Join(dir, "slices", "BraTS_010", "slice_z_000.jpg"))
	assert.NoError(t, err)
}

func TestFolderWriterUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w := &FolderWriter{Dir: filepath.Join(blocker, "preds")}
	err := w.Write(&Result{PatientID: "p", Labels: models.NewLabelVolume(1, 1, 1), Reference: models.Geometry{Dims: [3]int{1, 1, 1}}})
	assert.Error(t, err)
}
