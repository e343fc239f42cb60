package inference

import (
	"fmt"

	"segensemble/internal/models"
	"segensemble/pkg/execution"
	"segensemble/pkg/routing"
)

// caseStager uploads the prepared variants of one case to the device
type caseStager struct {
	device   *execution.Device
	prepared map[models.Normalization]models.Prepared
}

func newCaseStager(device *execution.Device, prepared []models.Prepared) *caseStager {
	s := &caseStager{device: device, prepared: make(map[models.Normalization]models.Prepared, len(prepared))}
	for _, p := range prepared {
		s.prepared[p.Variant] = p
	}
	return s
}

// deviceStager stages prepared inputs as device buffers
func deviceStager(device *execution.Device, prepared []models.Prepared) routing.Stager {
	return newCaseStager(device, prepared)
}

func (s *caseStager) Stage(v models.Normalization) (*routing.Staged, error) {
	p, ok := s.prepared[v]
	if !ok {
		return nil, fmt.Errorf("case has no %s input", v)
	}
	buf := s.device.Upload(p.Tensor)
	return &routing.Staged{Input: p, Handle: buf}, nil
}

func (s *caseStager) Unstage(st *routing.Staged) error {
	buf, ok := st.Handle.(*execution.Buffer)
	if !ok {
		return fmt.Errorf("staged %s input has no device buffer", st.Input.Variant)
	}
	buf.Free()
	return nil
}

// deviceTensor returns the device copy of a staged input
func deviceTensor(st *routing.Staged) models.Tensor {
	if buf, ok := st.Handle.(*execution.Buffer); ok {
		return buf.Tensor
	}
	return st.Input.Tensor
}
