package execution

import (
	"errors"
	"fmt"
	"sync"

	"segensemble/internal/models"
)

// ErrDeviceBusy is returned when a model is acquired while another one is
// still resident.
var ErrDeviceBusy = errors.New("device already holds a model")

// Device is the single-owner handle for accelerator memory. At most one
// model may be resident at any instant: Acquire fails while a Lease is
// outstanding. Input tensors are tracked separately through Upload.
type Device struct {
	name string

	mu       sync.Mutex
	owner    string
	resident int
	peak     int
	loads    int
	buffers  int
}

// NewDevice creates a handle for the named accelerator
func NewDevice(name string) *Device {
	residentModels.WithLabelValues(name).Set(0)
	return &Device{name: name}
}

// Name returns the accelerator name
func (d *Device) Name() string {
	return d.name
}

// Lease is the scoped ownership of the device by one model. Release moves the
// weights back to the host and must be called before the next Acquire.
type Lease struct {
	device *Device
	model  Model
	name   string
	once   sync.Once
	err    error
}

// Acquire moves m's weights onto the device and returns the lease holding it
func (d *Device) Acquire(name string, m Model) (*Lease, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.owner != "" {
		return nil, fmt.Errorf("%w: %s is resident, %s requested", ErrDeviceBusy, d.owner, name)
	}
	if err := m.ToDevice(); err != nil {
		return nil, fmt.Errorf("moving %s to %s: %w", name, d.name, err)
	}

	d.owner = name
	d.resident++
	d.loads++
	if d.resident > d.peak {
		d.peak = d.resident
	}
	residentModels.WithLabelValues(d.name).Set(float64(d.resident))

	return &Lease{device: d, model: m, name: name}, nil
}

// Release frees the device. It is safe to call more than once; later calls
// return the result of the first.
func (l *Lease) Release() error {
	l.once.Do(func() {
		d := l.device
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := l.model.ToHost(); err != nil {
			l.err = fmt.Errorf("moving %s off %s: %w", l.name, d.name, err)
		}
		d.owner = ""
		d.resident--
		residentModels.WithLabelValues(d.name).Set(float64(d.resident))
	})
	return l.err
}

// Resident returns the number of models currently on the device
func (d *Device) Resident() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resident
}

// Peak returns the largest number of simultaneously resident models observed
func (d *Device) Peak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

// Loads returns how many times a model was moved onto the device
func (d *Device) Loads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads
}

// Owner returns the name of the resident model, or "" when the device is free
func (d *Device) Owner() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owner
}

// Buffer is an input tensor copied into device memory
type Buffer struct {
	device *Device
	Tensor models.Tensor
	freed  bool
}

// Upload copies t into a device buffer
func (d *Device) Upload(t models.Tensor) *Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers++
	return &Buffer{device: d, Tensor: t.Clone()}
}

// Free releases the buffer; later calls are no-ops
func (b *Buffer) Free() {
	d := b.device
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.freed {
		return
	}
	b.freed = true
	b.Tensor = models.Tensor{}
	d.buffers--
}

// Buffers returns the number of input buffers currently allocated
func (d *Device) Buffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers
}
