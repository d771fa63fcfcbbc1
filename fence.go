package halcore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/halcore/device"
)

// InfiniteTimeout is the timeout that never elapses.
const InfiniteTimeout = device.Infinite

type fenceState int

const (
	fenceIdle fenceState = iota
	fenceSignaled
	fencePending
)

// Fence is a device-to-host completion signal.
//
// A fence is signaled, pending (a submission will signal it) or idle
// (unsignaled with nothing submitted). Waiting on an idle fence returns
// ErrFenceNotSubmitted instead of blocking forever.
type Fence struct {
	ctx *Context

	mu        sync.Mutex
	raw       device.Fence
	state     fenceState
	destroyed bool
}

// NewFence creates a fence in the global context.
func NewFence(signaled bool) (*Fence, error) {
	c, err := Get()
	if err != nil {
		return nil, err
	}
	return c.newFence(signaled)
}

func (c *Context) newFence(signaled bool) (*Fence, error) {
	if err := c.acquire(kindFence); err != nil {
		return nil, err
	}
	raw, err := c.dev.CreateFence(signaled)
	if err != nil {
		c.release(kindFence)
		return nil, deviceError("create fence", err)
	}
	f := &Fence{ctx: c, raw: raw}
	if signaled {
		f.state = fenceSignaled
	}
	return f, nil
}

// Wait blocks until the fence is signaled.
func (f *Fence) Wait() error {
	return f.WaitWithTimeout(InfiniteTimeout)
}

// WaitWithTimeout blocks until the fence is signaled or timeout elapses,
// in which case the error matches ErrTimeout.
func (f *Fence) WaitWithTimeout(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitLocked(timeout)
}

func (f *Fence) waitLocked(timeout time.Duration) error {
	switch {
	case f.destroyed:
		return ErrFenceDestroyed
	case f.state == fenceSignaled:
		return nil
	case f.state == fenceIdle:
		return ErrFenceNotSubmitted
	}

	ok, err := f.ctx.dev.Wait(f.raw, timeout)
	if err != nil {
		return deviceError("wait fence", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	f.state = fenceSignaled
	return nil
}

// Signaled polls the fence without blocking.
func (f *Fence) Signaled() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.waitLocked(0)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrFenceNotSubmitted):
		return false, nil
	default:
		return false, err
	}
}

// Reset returns the fence to the idle, unsignaled state.
func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.destroyed:
		return ErrFenceDestroyed
	case f.state == fencePending:
		return ErrFencePending
	}
	if err := f.ctx.dev.ResetFence(f.raw); err != nil {
		return deviceError("reset fence", err)
	}
	f.state = fenceIdle
	return nil
}

// markPending records that a submission will signal the fence.
func (f *Fence) markPending() {
	f.mu.Lock()
	f.state = fencePending
	f.mu.Unlock()
}

// Destroy waits for a pending submission and releases the fence.
// Later calls do nothing.
func (f *Fence) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.destroyed {
		return nil
	}
	var err error
	if f.state == fencePending {
		err = f.waitLocked(InfiniteTimeout)
	}
	f.ctx.dev.DestroyFence(f.raw)
	f.destroyed = true
	f.ctx.release(kindFence)
	return err
}

// Semaphore orders work between queue submissions.
type Semaphore struct {
	ctx *Context

	mu        sync.Mutex
	raw       device.Semaphore
	destroyed bool
}

// NewSemaphore creates a semaphore in the global context.
func NewSemaphore() (*Semaphore, error) {
	c, err := Get()
	if err != nil {
		return nil, err
	}
	if err := c.acquire(kindSemaphore); err != nil {
		return nil, err
	}
	raw, err := c.dev.CreateSemaphore()
	if err != nil {
		c.release(kindSemaphore)
		return nil, deviceError("create semaphore", err)
	}
	return &Semaphore{ctx: c, raw: raw}, nil
}

// Destroy releases the semaphore. Later calls do nothing.
func (s *Semaphore) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}
	s.ctx.dev.DestroySemaphore(s.raw)
	s.destroyed = true
	s.ctx.release(kindSemaphore)
	return nil
}
