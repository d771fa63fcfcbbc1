package halcore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/halcore/device"
)

// Uses is the submission policy of a command buffer.
type Uses int

const (
	// SingleUse command buffers are recorded and submitted exactly once.
	SingleUse Uses = iota
	// MultiUse command buffers may be recorded and submitted repeatedly.
	MultiUse
)

// String returns the string representation of Uses.
func (u Uses) String() string {
	switch u {
	case SingleUse:
		return "Single"
	case MultiUse:
		return "Multi"
	default:
		return fmt.Sprintf("Uses(%d)", int(u))
	}
}

// CommandBuffer is a device command buffer paired with the fence that
// signals completion of its last submission.
//
// State machine:
//
//	Idle      -> StartRecording()      -> Recording
//	Recording -> Recording.Submit()    -> Submitted
//	Recording -> Recording.Discard()   -> Idle
//	Submitted -> (fence signaled)      -> Completed
//	Completed -> StartRecording()      -> Recording (MultiUse only)
//
// StartRecording always waits for the previous submission to complete, so
// a command buffer is never re-recorded while the device may still read
// it. A SingleUse command buffer becomes unusable once submitted.
//
// CommandBuffer is NOT safe for concurrent recording. Wait may be called
// from any goroutine.
type CommandBuffer struct {
	ctx   *Context
	uses  Uses
	fence *Fence

	mu        sync.Mutex
	raw       device.CommandBuffer
	label     string
	usable    bool
	recording bool
	destroyed bool
	submits   int
}

// NewCommandBuffer allocates a command buffer in the global context. Its
// fence starts signaled, so the first StartRecording does not block.
func NewCommandBuffer(uses Uses) (*CommandBuffer, error) {
	c, err := Get()
	if err != nil {
		return nil, err
	}
	return c.newCommandBuffer(uses)
}

func (c *Context) newCommandBuffer(uses Uses) (*CommandBuffer, error) {
	if uses != SingleUse && uses != MultiUse {
		return nil, contractError(fmt.Sprintf("invalid command buffer uses %d", int(uses)))
	}
	if err := c.acquire(kindCommandBuffer); err != nil {
		return nil, err
	}
	raw, err := c.pool.Allocate()
	if err != nil {
		c.release(kindCommandBuffer)
		return nil, deviceError("allocate command buffer", err)
	}
	fence, err := c.newFence(true)
	if err != nil {
		c.pool.Free(raw)
		c.release(kindCommandBuffer)
		return nil, err
	}
	Logger().Debug("halcore: command buffer allocated", "uses", uses.String())
	return &CommandBuffer{ctx: c, uses: uses, fence: fence, raw: raw, usable: true}, nil
}

// Uses returns the submission policy.
func (cb *CommandBuffer) Uses() Uses { return cb.uses }

// Usable reports whether the command buffer may be recorded again.
func (cb *CommandBuffer) Usable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.usable && !cb.destroyed
}

// SetLabel sets the debug label used in log records.
func (cb *CommandBuffer) SetLabel(label string) {
	cb.mu.Lock()
	cb.label = label
	cb.mu.Unlock()
}

// Label returns the debug label.
func (cb *CommandBuffer) Label() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.label
}

// Submissions returns how many times the command buffer was submitted.
func (cb *CommandBuffer) Submissions() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.submits
}

// StartRecording waits for the previous submission and begins a new
// recording. It returns ErrCommandBufferConsumed for a submitted SingleUse
// buffer and ErrCommandBufferBusy while another recording is open.
func (cb *CommandBuffer) StartRecording() (*Recording, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case cb.destroyed:
		return nil, ErrCommandBufferDestroyed
	case !cb.usable:
		return nil, ErrCommandBufferConsumed
	case cb.recording:
		return nil, ErrCommandBufferBusy
	}

	if err := cb.fence.Wait(); err != nil && !errors.Is(err, ErrFenceNotSubmitted) {
		return nil, err
	}

	var usage device.CommandBufferUsage
	if cb.uses == SingleUse {
		usage = device.UsageOneTimeSubmit
	}
	if err := cb.raw.Begin(usage); err != nil {
		return nil, deviceError("begin recording", err)
	}
	cb.recording = true
	return &Recording{cb: cb, debug: cb.ctx.Debug(), label: cb.label}, nil
}

// Wait blocks until the last submission has completed. It returns nil
// immediately when nothing was submitted.
func (cb *CommandBuffer) Wait() error {
	return cb.WaitWithTimeout(InfiniteTimeout)
}

// WaitWithTimeout is Wait bounded by timeout; an elapsed timeout returns
// an error matching ErrTimeout.
func (cb *CommandBuffer) WaitWithTimeout(timeout time.Duration) error {
	cb.mu.Lock()
	if cb.destroyed {
		cb.mu.Unlock()
		return ErrCommandBufferDestroyed
	}
	f := cb.fence
	cb.mu.Unlock()

	if err := f.WaitWithTimeout(timeout); err != nil && !errors.Is(err, ErrFenceNotSubmitted) {
		return err
	}
	return nil
}

// Destroy waits for the last submission, then frees the command buffer
// and its fence. Later calls do nothing.
func (cb *CommandBuffer) Destroy() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.destroyed {
		return nil
	}
	err := cb.fence.Wait()
	if errors.Is(err, ErrFenceNotSubmitted) {
		err = nil
	}
	cb.ctx.pool.Free(cb.raw)
	cb.raw = nil
	err = errors.Join(err, cb.fence.Destroy())
	cb.destroyed = true
	cb.recording = false
	cb.ctx.release(kindCommandBuffer)
	return err
}

// Recording is an open recording of a CommandBuffer. It is consumed by
// Submit or Discard.
type Recording struct {
	cb     *CommandBuffer
	closed bool
	copies int
	debug  bool
	label  string
}

// CommandBuffer returns the command buffer being recorded.
func (r *Recording) CommandBuffer() *CommandBuffer { return r.cb }

// Copies returns the number of copy commands recorded so far.
func (r *Recording) Copies() int { return r.copies }

func (r *Recording) copyBuffer(src, dst device.Allocation, regions []device.BufferCopy) error {
	if r == nil || r.closed {
		return ErrRecordingClosed
	}
	if r.cb.raw == nil {
		return ErrCommandBufferDestroyed
	}
	r.cb.raw.CopyBuffer(src, dst, regions)
	r.copies++
	if r.debug {
		var bytes uint64
		for _, rg := range regions {
			bytes += rg.Size
		}
		Logger().Debug("halcore: copy recorded", "label", r.label, "regions", len(regions), "bytes", bytes)
	}
	return nil
}

// Submit ends the recording, resets the fence and submits the command
// buffer, which the fence then guards. A SingleUse command buffer becomes
// unusable. The command buffer is returned for waiting.
func (r *Recording) Submit() (*CommandBuffer, error) {
	if r == nil || r.closed {
		return nil, ErrRecordingClosed
	}
	r.closed = true

	cb := r.cb
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.destroyed {
		return cb, ErrCommandBufferDestroyed
	}
	cb.recording = false

	if err := cb.raw.End(); err != nil {
		return cb, deviceError("end recording", err)
	}
	if err := cb.fence.Reset(); err != nil {
		return cb, err
	}
	if cb.uses == SingleUse {
		cb.usable = false
	}
	if err := cb.ctx.dev.Queue().Submit(cb.raw, cb.fence.raw); err != nil {
		return cb, deviceError("submit", err)
	}
	cb.fence.markPending()
	cb.submits++
	Logger().Debug("halcore: command buffer submitted",
		"label", cb.label, "uses", cb.uses.String(), "copies", r.copies)
	return cb, nil
}

// Discard ends the recording without submitting it. The command buffer
// stays usable.
func (r *Recording) Discard() (*CommandBuffer, error) {
	if r == nil || r.closed {
		return nil, ErrRecordingClosed
	}
	r.closed = true

	cb := r.cb
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.destroyed {
		return cb, ErrCommandBufferDestroyed
	}
	cb.recording = false
	if err := cb.raw.End(); err != nil {
		return cb, deviceError("end recording", err)
	}
	return cb, nil
}

// RunSingleUse records fn into a fresh SingleUse command buffer in the
// global context, submits it, waits for completion and destroys it.
//
// If fn returns an error or panics, the recording is discarded without
// being submitted and the command buffer is still destroyed.
func RunSingleUse(fn func(*Recording) error) error {
	c, err := Get()
	if err != nil {
		return err
	}
	return c.runSingleUse(fn)
}

func (c *Context) runSingleUse(fn func(*Recording) error) (err error) {
	cb, err := c.newCommandBuffer(SingleUse)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, cb.Destroy())
	}()

	rec, err := cb.StartRecording()
	if err != nil {
		return err
	}
	if err := record(rec, fn); err != nil {
		_, derr := rec.Discard()
		return errors.Join(err, derr)
	}
	if _, err := rec.Submit(); err != nil {
		return err
	}
	return cb.Wait()
}

func record(rec *Recording, fn func(*Recording) error) error {
	defer func() {
		if p := recover(); p != nil {
			_, _ = rec.Discard()
			panic(p)
		}
	}()
	return fn(rec)
}
