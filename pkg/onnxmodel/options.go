// Package onnxmodel serves trained segmentation networks from ONNX exports
// through ONNX Runtime. Weights stay on the host as the serialized graph;
// moving a model to the device creates an inference session and moving it
// back destroys the session, releasing the runtime's device memory.
package onnxmodel

import (
	"errors"
	"fmt"
)

// ErrNotOnDevice is returned by Forward before ToDevice or after ToHost
var ErrNotOnDevice = errors.New("model is not on the device")

// Options describe the network an ONNX export must implement
type Options struct {
	Name string
	Arch string

	// InputChannels and OutputChannels are checked against the graph
	InputChannels  int
	OutputChannels int

	// DeepSupervision models export auxiliary heads after the primary output
	DeepSupervision bool

	UseCUDA  bool
	DeviceID int

	// Library is the onnxruntime shared library; empty uses the runtime default lookup
	Library string
}

func (o Options) validate() error {
	if o.InputChannels <= 0 || o.OutputChannels <= 0 {
		return fmt.Errorf("%s: channel counts must be positive (in=%d out=%d)", o.Name, o.InputChannels, o.OutputChannels)
	}
	return nil
}

// checkDims verifies a 5-D (batch, channel, z, y, x) graph dimension list.
// Negative entries are dynamic axes and accept any size.
func checkDims(kind string, dims []int64, channels int) error {
	if len(dims) != 5 {
		return fmt.Errorf("%s has %d dimensions, want 5 (batch, channel, z, y, x)", kind, len(dims))
	}
	if dims[1] >= 0 && dims[1] != int64(channels) {
		return fmt.Errorf("%s has %d channels, architecture expects %d", kind, dims[1], channels)
	}
	return nil
}

// checkHeads verifies the number of outputs against deep supervision
func checkHeads(n int, deepSupervision bool) error {
	switch {
	case n == 0:
		return errors.New("graph has no outputs")
	case deepSupervision && n < 2:
		return fmt.Errorf("deep supervision expects auxiliary heads, graph has %d output", n)
	case !deepSupervision && n != 1:
		return fmt.Errorf("graph has %d outputs, architecture without deep supervision has 1", n)
	}
	return nil
}
