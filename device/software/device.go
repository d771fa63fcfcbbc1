package software

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/halcore/device"
)

const defaultAdapterName = "halcore software device"

// Device is a software logical device with one queue.
type Device struct {
	opts       Options
	validation bool
	queue      *queue

	lost      atomic.Bool
	destroyed atomic.Bool
	inflight  sync.WaitGroup

	mu         sync.Mutex
	violations []string
	memoryUsed uint64
}

func newDevice(opts Options, validation bool) *Device {
	d := &Device{opts: opts, validation: validation}
	d.queue = &queue{dev: d}
	return d
}

// Info describes the software adapter.
func (d *Device) Info() device.AdapterInfo {
	name := d.opts.AdapterName
	if name == "" {
		name = defaultAdapterName
	}
	return device.AdapterInfo{Name: name, Backend: device.BackendSoftware, Type: "CPU"}
}

// Queue returns the device queue.
func (d *Device) Queue() device.Queue { return d.queue }

// Lose marks the device as lost. Every later operation that can fail
// returns device.ErrDeviceLost. Work already submitted still completes.
func (d *Device) Lose() { d.lost.Store(true) }

// Violations returns the usage-rule breaches recorded so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// MemoryUsed returns the bytes held by live allocations.
func (d *Device) MemoryUsed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memoryUsed
}

func (d *Device) violate(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.violations = append(d.violations, msg)
	d.mu.Unlock()
	if d.validation {
		device.Logger().Warn("software: usage violation", "msg", msg)
	}
}

func (d *Device) checkLost() error {
	if d.lost.Load() {
		return device.ErrDeviceLost
	}
	return nil
}

// CreateCommandPool creates a command pool.
func (d *Device) CreateCommandPool() (device.CommandPool, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &commandPool{dev: d, live: make(map[*commandBuffer]struct{})}, nil
}

// CreateAllocator creates a memory allocator.
func (d *Device) CreateAllocator() (device.Allocator, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &allocator{dev: d}, nil
}

// WaitIdle blocks until every submission has completed.
func (d *Device) WaitIdle() error {
	d.inflight.Wait()
	return d.checkLost()
}

// Destroy releases the device. Work still in flight is a violation.
func (d *Device) Destroy() {
	if d.destroyed.Swap(true) {
		d.violate("device destroyed twice")
		return
	}
	if d.queue.busy() {
		d.violate("device destroyed with work in flight")
	}
}

type fence struct {
	mu        sync.Mutex
	signaled  bool
	pending   bool
	destroyed bool
	done      chan struct{}
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (d *Device) fence(h device.Fence) (*fence, error) {
	f, ok := h.(*fence)
	if !ok || f == nil {
		d.violate("foreign fence handle %T", h)
		return nil, device.ErrForeignHandle
	}
	return f, nil
}

// CreateFence creates a binary fence.
func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f, nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(h device.Fence) {
	f, err := d.fence(h)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		d.violate("fence destroyed twice")
		return
	}
	if f.pending {
		d.violate("fence destroyed while in use by the queue")
	}
	f.destroyed = true
}

// Wait blocks until the fence is signaled or timeout elapses.
func (d *Device) Wait(h device.Fence, timeout time.Duration) (bool, error) {
	f, err := d.fence(h)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	switch {
	case f.destroyed:
		f.mu.Unlock()
		d.violate("wait on destroyed fence")
		return false, device.ErrInvalidState
	case f.signaled:
		f.mu.Unlock()
		return true, nil
	case !f.pending:
		f.mu.Unlock()
		return false, device.ErrFenceNotSubmitted
	}
	done := f.done
	f.mu.Unlock()

	if timeout == device.Infinite {
		<-done
		return true, d.checkLost()
	}
	if timeout <= 0 {
		select {
		case <-done:
			return true, d.checkLost()
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true, d.checkLost()
	case <-timer.C:
		return false, nil
	}
}

// ResetFence returns a signaled fence to the unsignaled state.
func (d *Device) ResetFence(h device.Fence) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	if err := d.checkLost(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		d.violate("fence reset while in use by the queue")
		return device.ErrInvalidState
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

type semaphore struct {
	destroyed bool
}

// CreateSemaphore creates a binary semaphore.
func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	return &semaphore{}, nil
}

// DestroySemaphore destroys a semaphore.
func (d *Device) DestroySemaphore(h device.Semaphore) {
	s, ok := h.(*semaphore)
	if !ok || s == nil {
		d.violate("foreign semaphore handle %T", h)
		return
	}
	if s.destroyed {
		d.violate("semaphore destroyed twice")
	}
	s.destroyed = true
}
