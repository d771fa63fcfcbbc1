package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/halcore/device"
	"github.com/gogpu/wgpu/hal"
)

type commandPool struct {
	dev *Device

	mu   sync.Mutex
	live map[*commandBuffer]struct{}
}

// Allocate creates a command buffer. The HAL encoder is created when
// recording begins.
func (p *commandPool) Allocate() (device.CommandBuffer, error) {
	cb := &commandBuffer{dev: p.dev}
	p.mu.Lock()
	p.live[cb] = struct{}{}
	p.mu.Unlock()
	return cb, nil
}

// Free releases the HAL objects of a command buffer.
func (p *commandPool) Free(h device.CommandBuffer) {
	cb, ok := h.(*commandBuffer)
	if !ok || cb == nil {
		return
	}
	p.mu.Lock()
	delete(p.live, cb)
	p.mu.Unlock()
	cb.release()
}

// Destroy frees every command buffer still allocated from the pool.
func (p *commandPool) Destroy() {
	p.mu.Lock()
	live := p.live
	p.live = make(map[*commandBuffer]struct{})
	p.mu.Unlock()
	for cb := range live {
		cb.release()
	}
}

type commandBuffer struct {
	dev *Device

	mu      sync.Mutex
	encoder hal.CommandEncoder
	raw     hal.CommandBuffer
	pending bool
	uploads []*allocation
	written []*allocation
}

// Begin discards any previous recording and starts a new HAL encoding.
func (cb *commandBuffer) Begin(usage device.CommandBufferUsage) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.pending {
		return fmt.Errorf("%w: begin while pending", device.ErrInvalidState)
	}
	if cb.encoder != nil {
		return fmt.Errorf("%w: begin while recording", device.ErrInvalidState)
	}
	if cb.raw != nil {
		cb.dev.raw.FreeCommandBuffer(cb.raw)
		cb.raw = nil
	}

	label := "halcore_commands"
	if usage&device.UsageOneTimeSubmit != 0 {
		label = "halcore_single_use"
	}
	encoder, err := cb.dev.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	cb.encoder = encoder
	cb.uploads = cb.uploads[:0]
	cb.written = cb.written[:0]
	return nil
}

// CopyBuffer records copies and tracks host-mapped endpoints.
func (cb *commandBuffer) CopyBuffer(src, dst device.Allocation, regions []device.BufferCopy) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok1 := src.(*allocation)
	d, ok2 := dst.(*allocation)
	if cb.encoder == nil || !ok1 || !ok2 || len(regions) == 0 {
		device.Logger().Warn("wgpu: copy dropped", "recording", cb.encoder != nil)
		return
	}

	copies := make([]hal.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = hal.BufferCopy{SrcOffset: r.SrcOffset, DstOffset: r.DstOffset, Size: r.Size}
	}
	cb.encoder.CopyBufferToBuffer(s.raw, d.raw, copies)

	if s.hostMapped() {
		cb.uploads = appendUnique(cb.uploads, s)
	}
	if d.hostMapped() {
		// Upload the destination too so bytes outside the copied ranges
		// survive the readback.
		cb.uploads = appendUnique(cb.uploads, d)
		cb.written = appendUnique(cb.written, d)
	}
}

// End copies written host-mapped allocations into their readback
// companions and finishes the encoding.
func (cb *commandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.encoder == nil {
		return fmt.Errorf("%w: end without begin", device.ErrInvalidState)
	}
	for _, a := range cb.written {
		size, _ := device.AlignUp(a.size, copyBufferAlignment)
		cb.encoder.CopyBufferToBuffer(a.raw, a.readback, []hal.BufferCopy{{Size: size}})
	}

	raw, err := cb.encoder.EndEncoding()
	cb.encoder = nil
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	cb.raw = raw
	return nil
}

func (cb *commandBuffer) readbacks() []*allocation {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]*allocation(nil), cb.written...)
}

func (cb *commandBuffer) setPending(p bool) {
	cb.mu.Lock()
	cb.pending = p
	cb.mu.Unlock()
}

func (cb *commandBuffer) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.encoder != nil {
		cb.encoder.DiscardEncoding()
		cb.encoder = nil
	}
	if cb.raw != nil {
		cb.dev.raw.FreeCommandBuffer(cb.raw)
		cb.raw = nil
	}
}

func appendUnique(list []*allocation, a *allocation) []*allocation {
	for _, x := range list {
		if x == a {
			return list
		}
	}
	return append(list, a)
}

type queue struct {
	dev *Device
	raw hal.Queue
}

// Submit uploads host shadows read by the command buffer, then submits
// it with a fresh HAL fence bound to f.
func (q *queue) Submit(h device.CommandBuffer, fh device.Fence) error {
	cb, ok := h.(*commandBuffer)
	if !ok || cb == nil {
		return device.ErrForeignHandle
	}

	cb.mu.Lock()
	raw, pending := cb.raw, cb.pending
	uploads := append([]*allocation(nil), cb.uploads...)
	cb.mu.Unlock()
	if raw == nil || pending {
		return fmt.Errorf("%w: command buffer is not executable", device.ErrInvalidState)
	}

	for _, a := range uploads {
		q.raw.WriteBuffer(a.raw, 0, a.shadow)
	}

	if fh == nil {
		if err := q.raw.Submit([]hal.CommandBuffer{raw}, nil, 0); err != nil {
			return fmt.Errorf("wgpu: submit: %w", err)
		}
		return nil
	}

	f, err := q.dev.fence(fh)
	if err != nil {
		return err
	}
	hf, err := q.dev.raw.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	if err := f.arm(hf, cb); err != nil {
		q.dev.raw.DestroyFence(hf)
		return err
	}
	cb.setPending(true)
	if err := q.raw.Submit([]hal.CommandBuffer{raw}, hf, 1); err != nil {
		cb.setPending(false)
		f.disarm()
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	return nil
}
