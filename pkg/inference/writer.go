package inference

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"segensemble/pkg/logging"
	"segensemble/pkg/nifti"
	"segensemble/pkg/visualization"
)

// FolderWriter writes each label map to <Dir>/<patient>.nii.gz with the
// geometry of the case's reference image.
type FolderWriter struct {
	Dir string

	// SlicesDir, when set, also receives axial JPEG slices of every label
	// map under <SlicesDir>/<patient>/
	SlicesDir string

	Logger *zap.Logger
}

// Path returns the output file of a patient
func (w *FolderWriter) Path(patient string) string {
	return filepath.Join(w.Dir, patient+".nii.gz")
}

func (w *FolderWriter) Write(r *Result) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}
	path := w.Path(r.PatientID)
	if err := nifti.WriteLabels(path, r.Labels, r.Reference); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if w.SlicesDir != "" {
		viewer := visualization.NewViewer(r.Labels)
		if err := viewer.SaveSliceSequence("z", filepath.Join(w.SlicesDir, r.PatientID)); err != nil {
			return fmt.Errorf("writing slices of %s: %w", r.PatientID, err)
		}
	}

	logging.OrNop(w.Logger).Debug("label map written", zap.String("patient", r.PatientID), zap.String("path", path))
	return nil
}
