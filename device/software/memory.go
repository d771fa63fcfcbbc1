package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
)

type allocation struct {
	label     string
	mem       []byte
	usage     gputypes.BufferUsage
	mapped    bool
	destroyed atomic.Bool
	// inflight counts queued submissions that reference the allocation.
	inflight atomic.Int32
}

// Size returns the allocation size in bytes.
func (a *allocation) Size() uint64 { return uint64(len(a.mem)) }

// Mapped returns the backing bytes for host-visible allocations.
func (a *allocation) Mapped() []byte {
	if !a.mapped {
		return nil
	}
	return a.mem
}

type allocator struct {
	dev *Device

	mu        sync.Mutex
	live      int
	destroyed bool
}

// CreateBuffer allocates zeroed memory. Memory is host visible when
// mapping was requested or host placement is preferred.
func (al *allocator) CreateBuffer(desc *device.BufferDescriptor) (device.Allocation, error) {
	d := al.dev
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if desc == nil || desc.Size == 0 {
		d.violate("buffer created with zero size")
		return nil, fmt.Errorf("%w: zero-size buffer", device.ErrInvalidState)
	}
	if desc.Usage == 0 {
		d.violate("buffer %q created without usage", desc.Label)
		return nil, fmt.Errorf("%w: empty buffer usage", device.ErrInvalidState)
	}

	d.mu.Lock()
	if limit := d.opts.MemoryLimit; limit != 0 && (desc.Size > limit || d.memoryUsed > limit-desc.Size) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			device.ErrOutOfDeviceMemory, desc.Size, d.memoryUsed, limit)
	}
	d.memoryUsed += desc.Size
	d.mu.Unlock()

	mem, err := device.AlignedBytes(desc.Size, desc.Alignment)
	if err != nil {
		d.mu.Lock()
		d.memoryUsed -= desc.Size
		d.mu.Unlock()
		return nil, err
	}

	al.mu.Lock()
	al.live++
	al.mu.Unlock()

	return &allocation{
		label:  desc.Label,
		mem:    mem,
		usage:  desc.Usage,
		mapped: desc.HostMapped || desc.Memory == device.MemoryPreferHost,
	}, nil
}

// DestroyBuffer frees an allocation.
func (al *allocator) DestroyBuffer(h device.Allocation) {
	d := al.dev
	a, ok := h.(*allocation)
	if !ok || a == nil {
		d.violate("foreign allocation %T", h)
		return
	}
	if a.destroyed.Swap(true) {
		d.violate("buffer %q destroyed twice", a.label)
		return
	}
	if a.inflight.Load() > 0 {
		d.violate("buffer %q destroyed while in use by the queue", a.label)
	}

	d.mu.Lock()
	d.memoryUsed -= uint64(len(a.mem))
	d.mu.Unlock()

	al.mu.Lock()
	al.live--
	al.mu.Unlock()
}

// Destroy releases the allocator. Live allocations are violations.
func (al *allocator) Destroy() {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.destroyed {
		al.dev.violate("allocator destroyed twice")
		return
	}
	al.destroyed = true
	if al.live != 0 {
		al.dev.violate("allocator destroyed with %d live allocations", al.live)
	}
}
