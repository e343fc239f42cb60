//go:build cgo

package onnxmodel

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"segensemble/internal/models"
)

var (
	initOnce sync.Once
	initErr  error
)

// initialize sets up the ONNX Runtime environment once per process
func initialize(library string) error {
	initOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("initializing onnxruntime: %w", err)
		}
	})
	return initErr
}

// Model is an ONNX export of a segmentation network
type Model struct {
	opts Options

	graph       []byte
	inputName   string
	outputNames []string

	session *ort.DynamicAdvancedSession
}

// New prepares a model; weights are read by LoadCheckpoint
func New(opts Options) (*Model, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := initialize(opts.Library); err != nil {
		return nil, err
	}
	return &Model{opts: opts}, nil
}

// LoadCheckpoint reads an ONNX graph and checks its inputs and outputs
// against the architecture
func (m *Model) LoadCheckpoint(path string) error {
	graph, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(graph)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}
	if len(inputs) != 1 {
		return fmt.Errorf("%s: graph has %d inputs, want 1", path, len(inputs))
	}
	if err := checkDims("input "+inputs[0].Name, inputs[0].Dimensions, m.opts.InputChannels); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := checkHeads(len(outputs), m.opts.DeepSupervision); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := checkDims("output "+outputs[0].Name, outputs[0].Dimensions, m.opts.OutputChannels); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}

	m.graph = graph
	m.inputName = inputs[0].Name
	m.outputNames = names
	return nil
}

// ToDevice creates the inference session, placing the weights on the
// configured execution provider
func (m *Model) ToDevice() error {
	if m.session != nil {
		return nil
	}
	if m.graph == nil {
		return fmt.Errorf("%s: no checkpoint loaded", m.opts.Name)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("creating session options: %w", err)
	}
	defer opts.Destroy()

	if m.opts.UseCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("creating CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(m.opts.DeviceID)}); err != nil {
			return fmt.Errorf("configuring CUDA device %d: %w", m.opts.DeviceID, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("enabling CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(m.graph, []string{m.inputName}, m.outputNames, opts)
	if err != nil {
		return fmt.Errorf("creating session for %s: %w", m.opts.Name, err)
	}
	m.session = session
	return nil
}

// ToHost destroys the session
func (m *Model) ToHost() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// Forward runs the graph on a batch of one and returns every output head
func (m *Model) Forward(ctx context.Context, in models.Tensor) ([]models.Tensor, error) {
	if m.session == nil {
		return nil, ErrNotOnDevice
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := in.Shape
	input, err := ort.NewTensor(ort.NewShape(1, int64(s.C), int64(s.Z), int64(s.Y), int64(s.X)), in.Data)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer input.Destroy()

	// nil outputs are allocated by the runtime with the graph's types and shapes
	outputs := make([]ort.Value, len(m.outputNames))
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("running %s: %w", m.opts.Name, err)
	}

	heads := make([]models.Tensor, 0, len(outputs))
	for i, o := range outputs {
		head, err := toTensor(o)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", m.outputNames[i], err)
		}
		heads = append(heads, head)
	}
	return heads, nil
}

// toTensor copies a runtime-owned batch-of-one output into a Tensor
func toTensor(v ort.Value) (models.Tensor, error) {
	var shape ort.Shape
	var data []float32

	switch t := v.(type) {
	case *ort.Tensor[float32]:
		shape = t.GetShape()
		data = make([]float32, len(t.GetData()))
		copy(data, t.GetData())
	case *ort.Tensor[float64]:
		shape = t.GetShape()
		src := t.GetData()
		data = make([]float32, len(src))
		for i, f := range src {
			data[i] = float32(f)
		}
	default:
		return models.Tensor{}, fmt.Errorf("unsupported output type %T", v)
	}

	if len(shape) != 5 || shape[0] != 1 {
		return models.Tensor{}, fmt.Errorf("output shape %v is not a batch of one 4-D volume", shape)
	}
	out := models.Tensor{
		Shape: models.Shape{C: int(shape[1]), Z: int(shape[2]), Y: int(shape[3]), X: int(shape[4])},
		Data:  data,
	}
	return out, out.Validate()
}
