package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/halcore/device"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbInvalid
)

func (s cbState) String() string {
	switch s {
	case cbInitial:
		return "initial"
	case cbRecording:
		return "recording"
	case cbExecutable:
		return "executable"
	case cbInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("cbState(%d)", int(s))
	}
}

type copyCmd struct {
	src, dst *allocation
	regions  []device.BufferCopy
}

type commandPool struct {
	dev *Device

	mu        sync.Mutex
	live      map[*commandBuffer]struct{}
	destroyed bool
}

// Allocate creates a command buffer in the initial state.
func (p *commandPool) Allocate() (device.CommandBuffer, error) {
	if err := p.dev.checkLost(); err != nil {
		return nil, err
	}
	cb := &commandBuffer{pool: p}

	p.mu.Lock()
	p.live[cb] = struct{}{}
	p.mu.Unlock()
	return cb, nil
}

// Free releases a command buffer.
func (p *commandPool) Free(h device.CommandBuffer) {
	cb, ok := h.(*commandBuffer)
	if !ok || cb == nil {
		p.dev.violate("foreign command buffer %T", h)
		return
	}

	p.mu.Lock()
	_, live := p.live[cb]
	delete(p.live, cb)
	p.mu.Unlock()

	if !live {
		p.dev.violate("command buffer freed twice")
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.pending {
		p.dev.violate("command buffer freed while pending execution")
	}
}

// Destroy releases the pool and implicitly every buffer allocated from it.
func (p *commandPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		p.dev.violate("command pool destroyed twice")
		return
	}
	p.destroyed = true
	for cb := range p.live {
		cb.mu.Lock()
		if cb.pending {
			p.dev.violate("command pool destroyed while a command buffer is pending")
		}
		cb.mu.Unlock()
	}
	p.live = nil
}

type commandBuffer struct {
	pool *commandPool

	mu      sync.Mutex
	state   cbState
	usage   device.CommandBufferUsage
	pending bool
	cmds    []copyCmd
}

func (cb *commandBuffer) violate(format string, args ...any) {
	cb.pool.dev.violate(format, args...)
}

// Begin resets the buffer and starts recording.
func (cb *commandBuffer) Begin(usage device.CommandBufferUsage) error {
	if err := cb.pool.dev.checkLost(); err != nil {
		return err
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.pending {
		cb.violate("begin on a command buffer pending execution")
		return device.ErrInvalidState
	}
	if cb.state == cbRecording {
		cb.violate("begin on a command buffer that is already recording")
		return device.ErrInvalidState
	}
	cb.state = cbRecording
	cb.usage = usage
	cb.cmds = cb.cmds[:0]
	return nil
}

// CopyBuffer records a buffer-to-buffer copy.
func (cb *commandBuffer) CopyBuffer(src, dst device.Allocation, regions []device.BufferCopy) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != cbRecording {
		cb.violate("copy recorded outside of recording (state %s)", cb.state)
		return
	}
	s, ok1 := src.(*allocation)
	d, ok2 := dst.(*allocation)
	if !ok1 || !ok2 || s == nil || d == nil {
		cb.violate("copy with foreign allocations %T -> %T", src, dst)
		return
	}
	if len(regions) == 0 {
		cb.violate("copy recorded with no regions")
		return
	}
	for _, r := range regions {
		if r.Size == 0 {
			cb.violate("copy region with zero size")
			return
		}
		if r.SrcOffset > s.Size() || r.Size > s.Size()-r.SrcOffset ||
			r.DstOffset > d.Size() || r.Size > d.Size()-r.DstOffset {
			cb.violate("copy region %+v out of bounds (%d -> %d bytes)", r, s.Size(), d.Size())
			return
		}
	}
	cb.cmds = append(cb.cmds, copyCmd{
		src:     s,
		dst:     d,
		regions: append([]device.BufferCopy(nil), regions...),
	})
}

// End finishes recording.
func (cb *commandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != cbRecording {
		cb.violate("end on a command buffer that is not recording (state %s)", cb.state)
		return device.ErrInvalidState
	}
	cb.state = cbExecutable
	return cb.pool.dev.checkLost()
}

type queue struct {
	dev *Device

	mu sync.Mutex
	// tail is closed when the most recent submission has completed.
	tail chan struct{}
}

func (q *queue) busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail == nil {
		return false
	}
	select {
	case <-q.tail:
		return false
	default:
		return true
	}
}

// Submit queues one command buffer. Submissions complete in order.
func (q *queue) Submit(h device.CommandBuffer, fh device.Fence) error {
	d := q.dev
	if err := d.checkLost(); err != nil {
		return err
	}
	cb, ok := h.(*commandBuffer)
	if !ok || cb == nil {
		d.violate("submit of foreign command buffer %T", h)
		return device.ErrForeignHandle
	}

	var f *fence
	if fh != nil {
		var err error
		if f, err = d.fence(fh); err != nil {
			return err
		}
		f.mu.Lock()
		bad := f.signaled || f.pending || f.destroyed
		if !bad {
			f.pending = true
		}
		f.mu.Unlock()
		if bad {
			d.violate("submit with a fence that is signaled or in use")
			return device.ErrInvalidState
		}
	}

	cb.mu.Lock()
	if cb.state != cbExecutable || cb.pending {
		state, pending := cb.state, cb.pending
		cb.mu.Unlock()
		d.violate("submit of command buffer in state %s (pending %v)", state, pending)
		if f != nil {
			f.mu.Lock()
			f.pending = false
			f.mu.Unlock()
		}
		return device.ErrInvalidState
	}
	cb.pending = true
	cmds := cb.cmds
	for _, c := range cmds {
		c.src.inflight.Add(1)
		c.dst.inflight.Add(1)
	}
	cb.mu.Unlock()

	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tail
	q.tail = done
	q.mu.Unlock()

	d.inflight.Add(1)
	run := func() {
		defer d.inflight.Done()
		if prev != nil {
			<-prev
		}
		if d.opts.Latency > 0 {
			time.Sleep(d.opts.Latency)
		}
		q.execute(cmds)
		cb.complete()
		if f != nil {
			f.signal()
		}
		close(done)
	}
	if d.opts.Latency > 0 {
		go run()
	} else {
		run()
	}
	return nil
}

func (q *queue) execute(cmds []copyCmd) {
	for _, c := range cmds {
		if c.src.destroyed.Load() || c.dst.destroyed.Load() {
			q.dev.violate("executed copy references a destroyed buffer")
		}
		for _, r := range c.regions {
			copy(c.dst.mem[r.DstOffset:r.DstOffset+r.Size], c.src.mem[r.SrcOffset:r.SrcOffset+r.Size])
		}
		c.src.inflight.Add(-1)
		c.dst.inflight.Add(-1)
	}
}

func (cb *commandBuffer) complete() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pending = false
	if cb.usage&device.UsageOneTimeSubmit != 0 {
		cb.state = cbInvalid
	}
}
