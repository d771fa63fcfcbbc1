package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
	"github.com/gogpu/wgpu/hal"
)

// copyBufferAlignment is the HAL's required alignment for buffer sizes
// and copy offsets.
const copyBufferAlignment = 4

type allocation struct {
	label string
	size  uint64
	raw   hal.Buffer

	// Host-mapped allocations only.
	shadow   []byte
	readback hal.Buffer
}

// Size returns the requested size in bytes.
func (a *allocation) Size() uint64 { return a.size }

// Mapped returns the host shadow, or nil for device-only allocations.
func (a *allocation) Mapped() []byte {
	if a.shadow == nil {
		return nil
	}
	return a.shadow[:a.size]
}

func (a *allocation) hostMapped() bool { return a.shadow != nil }

type allocator struct {
	dev *Device
}

// CreateBuffer creates a HAL buffer. Host-mapped allocations also get a
// host shadow and a map-read companion buffer used for readback.
func (al *allocator) CreateBuffer(desc *device.BufferDescriptor) (device.Allocation, error) {
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("%w: zero-size buffer", device.ErrInvalidState)
	}
	size, ok := device.AlignUp(desc.Size, copyBufferAlignment)
	if !ok {
		return nil, device.ErrOutOfDeviceMemory
	}

	usage := desc.Usage
	hostMapped := desc.HostMapped || desc.Memory == device.MemoryPreferHost
	if hostMapped {
		usage |= gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	}

	raw, err := al.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	a := &allocation{label: desc.Label, size: desc.Size, raw: raw}
	if !hostMapped {
		return a, nil
	}

	a.readback, err = al.dev.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label + "_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		al.dev.raw.DestroyBuffer(raw)
		return nil, fmt.Errorf("wgpu: create readback buffer %q: %w", desc.Label, err)
	}
	a.shadow, err = device.AlignedBytes(size, desc.Alignment)
	if err != nil {
		al.dev.raw.DestroyBuffer(a.readback)
		al.dev.raw.DestroyBuffer(raw)
		return nil, err
	}
	return a, nil
}

// DestroyBuffer destroys the HAL buffers of an allocation.
func (al *allocator) DestroyBuffer(h device.Allocation) {
	a, ok := h.(*allocation)
	if !ok || a == nil || a.raw == nil {
		return
	}
	if a.readback != nil {
		al.dev.raw.DestroyBuffer(a.readback)
		a.readback = nil
	}
	al.dev.raw.DestroyBuffer(a.raw)
	a.raw = nil
}

// Destroy releases the allocator. HAL buffers are owned by the device.
func (al *allocator) Destroy() {}
