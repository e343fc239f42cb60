// Package dataset reads BraTS-style patient folders and prepares them as
// inference cases.
//
// Each patient lives in its own directory holding one image per modality:
//
//	<root>/<patient>/<patient>_<modality>.nii.gz   (or .nii)
//
// Modalities are stacked in the configured order, cropped to the brain and
// normalised under every supported scheme.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"segensemble/internal/faults"
	"segensemble/internal/models"
	"segensemble/pkg/nifti"
)

var extensions = []string{".nii.gz", ".nii"}

// Options configures how cases are read.
type Options struct {
	// Modalities in input channel order
	Modalities []string

	// Reference is the modality whose geometry is copied onto the output
	Reference string

	// Frame is the canonical frame every image must fill
	Frame models.Shape
}

// Dataset is an ordered list of patient folders under a root directory.
type Dataset struct {
	root     string
	opts     Options
	patients []string
}

// Open enumerates the patient folders under root. A folder counts as a
// patient when it holds at least one file named after itself.
func Open(root string, opts Options) (*Dataset, error) {
	if len(opts.Modalities) == 0 {
		return nil, faults.Errorf(faults.KindConfig, "dataset", "no modalities")
	}
	if !lo.Contains(opts.Modalities, opts.Reference) {
		return nil, faults.Errorf(faults.KindConfig, "dataset", "reference modality %q is not one of %v", opts.Reference, opts.Modalities)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, faults.New(faults.KindConfig, "dataset", err)
	}

	var patients []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := holdsPatientFiles(filepath.Join(root, e.Name()), e.Name())
		if err != nil {
			return nil, faults.New(faults.KindConfig, "dataset", err)
		}
		if ok {
			patients = append(patients, e.Name())
		}
	}
	if len(patients) == 0 {
		return nil, faults.Errorf(faults.KindConfig, "dataset", "no patient folders under %s", root)
	}
	sort.Strings(patients)

	return &Dataset{root: root, opts: opts, patients: patients}, nil
}

// holdsPatientFiles reports whether dir contains a file named <patient>_*
func holdsPatientFiles(dir, patient string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), patient+"_") {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of cases
func (d *Dataset) Len() int {
	return len(d.patients)
}

// Patients returns the patient identifiers in load order
func (d *Dataset) Patients() []string {
	return d.patients
}

// Path returns the image file of one modality of a patient
func (d *Dataset) Path(patient, modality string) (string, error) {
	base := filepath.Join(d.root, patient, patient+"_"+modality)
	for _, ext := range extensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext, nil
		}
	}
	return "", fmt.Errorf("no %s image for %s: %w", modality, patient, os.ErrNotExist)
}

// Load reads case i. Every failure is an InputError naming the patient.
func (d *Dataset) Load(i int) (*models.Case, error) {
	if i < 0 || i >= len(d.patients) {
		return nil, faults.Errorf(faults.KindInput, "dataset", "case index %d out of range [0,%d)", i, len(d.patients))
	}
	patient := d.patients[i]

	c, err := d.load(patient)
	if err != nil {
		return nil, faults.WithCase(err, faults.KindInput, patient, "")
	}
	return c, nil
}

func (d *Dataset) load(patient string) (*models.Case, error) {
	frame := d.opts.Frame
	want := [3]int{frame.X, frame.Y, frame.Z}
	stack := models.NewTensor(models.Shape{C: len(d.opts.Modalities), Z: frame.Z, Y: frame.Y, X: frame.X})

	c := &models.Case{PatientID: patient, Inputs: make(map[models.Normalization]models.Input, len(models.Normalizations))}
	n := frame.Voxels()

	for ch, modality := range d.opts.Modalities {
		path, err := d.Path(patient, modality)
		if err != nil {
			return nil, err
		}
		vol, err := nifti.ReadVolume(path)
		if err != nil {
			return nil, err
		}
		if dims := vol.Header.Dims(); dims != want {
			return nil, fmt.Errorf("%s: grid %v does not fill frame %v", path, dims, want)
		}
		copy(stack.Data[ch*n:(ch+1)*n], vol.Data)

		if modality == d.opts.Reference {
			c.Reference = vol.Header.Geometry()
			c.ReferencePath = path
		}
	}

	window, err := BrainCrop(stack)
	if err != nil {
		return nil, err
	}
	cropped, err := Crop(stack, window)
	if err != nil {
		return nil, err
	}

	for _, v := range models.Normalizations {
		var t models.Tensor
		switch v {
		case models.MinMax:
			t = MinMax(cropped)
		case models.ZScore:
			t = ZScore(cropped)
		default:
			return nil, errors.New("unhandled normalisation " + string(v))
		}
		c.Inputs[v] = models.Input{Tensor: t, Crop: window}
	}
	return c, nil
}
