package execution

import (
	"fmt"
	"sort"

	"segensemble/internal/faults"
	"segensemble/internal/models"
	"segensemble/pkg/onnxmodel"
)

// BackendOptions configure how architectures are instantiated
type BackendOptions struct {
	// InputChannels is the number of MRI modalities fed to the model
	InputChannels int

	// OutputChannels is the number of nested tumour regions predicted
	OutputChannels int

	UseCUDA  bool
	DeviceID int

	// Library is the onnxruntime shared library path
	Library string
}

// Constructor builds an untrained model for a descriptor
type Constructor func(desc models.ModelDescriptor, opts BackendOptions) (Model, error)

// architectures is the closed set of supported architectures. Every entry is
// served from an ONNX export of the trained network.
var architectures = map[string]Constructor{
	"Unet":         onnxArchitecture,
	"EquiUnet":     onnxArchitecture,
	"Att_EquiUnet": onnxArchitecture,
}

func onnxArchitecture(desc models.ModelDescriptor, opts BackendOptions) (Model, error) {
	m, err := onnxmodel.New(onnxmodel.Options{
		Name:            desc.Name,
		Arch:            desc.Arch,
		InputChannels:   opts.InputChannels,
		OutputChannels:  opts.OutputChannels,
		DeepSupervision: desc.DeepSupervision,
		UseCUDA:         opts.UseCUDA,
		DeviceID:        opts.DeviceID,
		Library:         opts.Library,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Architectures returns the supported architecture identifiers, sorted
func Architectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the model for desc and loads its checkpoint. An unknown
// architecture is a ConfigInconsistency; a checkpoint that does not fit is a
// LoadError. Both are fatal for the run.
func Build(desc models.ModelDescriptor, opts BackendOptions) (Member, error) {
	ctor, ok := architectures[desc.Arch]
	if !ok {
		err := fmt.Errorf("unknown architecture %q, supported: %v", desc.Arch, Architectures())
		return Member{}, &faults.Error{Kind: faults.KindConfig, Op: "build", Model: desc.Name, Err: err}
	}
	model, err := ctor(desc, opts)
	if err != nil {
		return Member{}, &faults.Error{Kind: faults.KindConfig, Op: "build", Model: desc.Name, Err: err}
	}
	if err := model.LoadCheckpoint(desc.Checkpoint); err != nil {
		return Member{}, &faults.Error{Kind: faults.KindLoad, Op: "checkpoint", Model: desc.Name, Err: err}
	}
	return Member{Descriptor: desc, Model: model}, nil
}

// BuildEnsemble builds every member in order, stopping at the first failure
func BuildEnsemble(descs []models.ModelDescriptor, opts BackendOptions) ([]Member, error) {
	members := make([]Member, 0, len(descs))
	for _, desc := range descs {
		m, err := Build(desc, opts)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}
