// Package software implements the "software" device backend: a pure-Go,
// in-memory device that executes buffer copies on the CPU.
//
// The backend follows the usage rules of an explicit graphics API and
// records every breach (recording into a pending command buffer, resetting
// an in-flight fence, destroying memory still referenced by queued work,
// and so on) as a violation instead of crashing. Tests use Violations to
// prove that callers respect those rules. Options can add submission
// latency, cap device memory, and the device can be lost on demand.
package software

import (
	"sync"
	"time"

	"github.com/gogpu/halcore/device"
)

func init() {
	device.Register(device.BackendSoftware, func() device.Backend {
		return New(Options{})
	})
}

// Options configure a software backend.
type Options struct {
	// Latency delays the completion of every submission. Zero executes
	// submissions synchronously inside Submit.
	Latency time.Duration

	// MemoryLimit caps the bytes of live allocations. Zero is unlimited.
	MemoryLimit uint64

	// AdapterName overrides the reported adapter name.
	AdapterName string
}

// Backend is the software backend.
type Backend struct {
	opts Options
}

// New creates a software backend with the given options.
func New(opts Options) *Backend {
	return &Backend{opts: opts}
}

// Name returns "software".
func (b *Backend) Name() string { return device.BackendSoftware }

// CreateInstance creates a software instance.
func (b *Backend) CreateInstance(desc *device.InstanceDescriptor) (device.Instance, error) {
	inst := &Instance{opts: b.opts}
	if desc != nil {
		inst.desc = *desc
	}
	device.Logger().Debug("software: instance created",
		"app", inst.desc.AppName,
		"api", inst.desc.APIVersion.String(),
		"validation", inst.desc.Validation)
	return inst, nil
}

// Instance is a software instance.
type Instance struct {
	opts Options
	desc device.InstanceDescriptor

	mu      sync.Mutex
	devices []*Device
}

// OpenDevice opens a new software device.
func (i *Instance) OpenDevice() (device.Device, error) {
	d := newDevice(i.opts, i.desc.Validation)

	i.mu.Lock()
	i.devices = append(i.devices, d)
	i.mu.Unlock()
	return d, nil
}

// Destroy releases the instance. Devices still open are recorded as
// violations on themselves.
func (i *Instance) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, d := range i.devices {
		if !d.destroyed.Load() {
			d.violate("instance destroyed before device")
		}
	}
	i.devices = nil
}
