package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/halcore/device"
	"github.com/gogpu/wgpu/hal"
)

// idleTimeout bounds WaitIdle.
const idleTimeout = 5 * time.Second

// Device wraps an open HAL device and its queue.
type Device struct {
	raw   hal.Device
	queue *queue
	info  device.AdapterInfo
}

func newDevice(raw hal.Device, q hal.Queue, info device.AdapterInfo) *Device {
	d := &Device{raw: raw, info: info}
	d.queue = &queue{dev: d, raw: q}
	return d
}

// Info describes the adapter.
func (d *Device) Info() device.AdapterInfo { return d.info }

// Queue returns the device queue.
func (d *Device) Queue() device.Queue { return d.queue }

// CreateCommandPool creates a host-side pool.
func (d *Device) CreateCommandPool() (device.CommandPool, error) {
	return &commandPool{dev: d, live: make(map[*commandBuffer]struct{})}, nil
}

// CreateAllocator creates an allocator over HAL buffers.
func (d *Device) CreateAllocator() (device.Allocator, error) {
	return &allocator{dev: d}, nil
}

// WaitIdle submits an empty batch and waits for it, which orders after
// all earlier submissions on the single queue.
func (d *Device) WaitIdle() error {
	f, err := d.raw.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.raw.DestroyFence(f)

	if err := d.queue.raw.Submit(nil, f, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	ok, err := d.raw.Wait(f, 1, idleTimeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait idle: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: wait idle: timed out after %v", idleTimeout)
	}
	return nil
}

// Destroy releases the device unless it belongs to the host.
func (d *Device) Destroy() {
	if d.info.Shared {
		return
	}
	d.raw.Destroy()
}

// fence is a binary fence. A HAL fence exists only between the
// submission that will signal it and the first successful wait.
type fence struct {
	mu       sync.Mutex
	signaled bool
	raw      hal.Fence
	// readback lists host-mapped allocations written by the submission.
	readback []*allocation
	cb       *commandBuffer
}

func (d *Device) fence(h device.Fence) (*fence, error) {
	f, ok := h.(*fence)
	if !ok || f == nil {
		return nil, device.ErrForeignHandle
	}
	return f, nil
}

// CreateFence creates a binary fence.
func (d *Device) CreateFence(signaled bool) (device.Fence, error) {
	return &fence{signaled: signaled}, nil
}

// DestroyFence destroys a fence.
func (d *Device) DestroyFence(h device.Fence) {
	f, err := d.fence(h)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raw != nil {
		d.raw.DestroyFence(f.raw)
		f.raw = nil
	}
}

// Wait waits for the submission guarded by the fence, then copies
// back host-mapped allocations it wrote.
func (d *Device) Wait(h device.Fence, timeout time.Duration) (bool, error) {
	f, err := d.fence(h)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return true, nil
	}
	if f.raw == nil {
		return false, device.ErrFenceNotSubmitted
	}

	ok, err := d.raw.Wait(f.raw, 1, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: wait: %w", err)
	}
	if !ok {
		return false, nil
	}

	var errs []error
	for _, a := range f.readback {
		if err := d.queue.raw.ReadBuffer(a.readback, 0, a.shadow); err != nil {
			errs = append(errs, fmt.Errorf("wgpu: readback %q: %w", a.label, err))
		}
	}
	f.readback = nil
	if f.cb != nil {
		f.cb.setPending(false)
		f.cb = nil
	}
	d.raw.DestroyFence(f.raw)
	f.raw = nil
	f.signaled = true
	return true, errors.Join(errs...)
}

// ResetFence unsignals a fence.
func (d *Device) ResetFence(h device.Fence) error {
	f, err := d.fence(h)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raw != nil {
		return fmt.Errorf("%w: fence reset while in use", device.ErrInvalidState)
	}
	f.signaled = false
	return nil
}

// arm attaches a freshly submitted HAL fence.
func (f *fence) arm(raw hal.Fence, cb *commandBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled || f.raw != nil {
		return fmt.Errorf("%w: submit with a signaled or in-use fence", device.ErrInvalidState)
	}
	f.raw = raw
	f.cb = cb
	f.readback = cb.readbacks()
	return nil
}

// disarm drops the HAL fence of a submission that failed.
func (f *fence) disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raw != nil && f.cb != nil {
		f.cb.dev.raw.DestroyFence(f.raw)
	}
	f.raw = nil
	f.cb = nil
	f.readback = nil
}

type semaphore struct{}

// CreateSemaphore creates a host-side semaphore token. Work on the single
// HAL queue executes in submission order.
func (d *Device) CreateSemaphore() (device.Semaphore, error) {
	return &semaphore{}, nil
}

// DestroySemaphore releases a semaphore token.
func (d *Device) DestroySemaphore(device.Semaphore) {}
