// Package device defines the narrow GPU capabilities the halcore lifecycle
// core consumes, and the registry through which backends provide them.
//
// The core never talks to a graphics API directly. It creates an
// [Instance] from a registered [Backend], opens one [Device] with a single
// [Queue], and from that device obtains a [CommandPool] and an
// [Allocator]. Everything else (buffers, command buffers, fences,
// semaphores) is created through those four objects.
//
// Backends register themselves from init functions:
//
//	import _ "github.com/gogpu/halcore/device/software" // "software"
//	import _ "github.com/gogpu/halcore/device/wgpu"     // "vulkan", "noop"
package device

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Version is a packed API version in the Vulkan layout:
// major in bits 22..28, minor in bits 12..21, patch in bits 0..11.
type Version uint32

// MakeVersion packs major.minor.patch.
func MakeVersion(major, minor, patch uint32) Version {
	return Version(major<<22 | minor<<12 | patch)
}

// Major returns the major component.
func (v Version) Major() uint32 { return uint32(v) >> 22 }

// Minor returns the minor component.
func (v Version) Minor() uint32 { return uint32(v) >> 12 & 0x3ff }

// Patch returns the patch component.
func (v Version) Patch() uint32 { return uint32(v) & 0xfff }

// String returns "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// InstanceDescriptor describes the instance a backend should create.
type InstanceDescriptor struct {
	AppName    string
	AppVersion Version
	EngineName string
	APIVersion Version

	// Validation asks the backend to enable API validation where it can.
	Validation bool

	// Host is an optional windowing host. Backends that can share a device
	// with the host (see HalProvider) open that device instead of their own.
	Host gpucontext.DeviceProvider
}

// AdapterInfo describes the physical device a Device was opened on.
type AdapterInfo struct {
	Name    string
	Backend string
	// Type is a human-readable device class, e.g. "DiscreteGPU".
	Type string
	// Shared is true when the device belongs to the host and must not be
	// destroyed by the core.
	Shared bool
}

// Backend creates instances of one graphics API.
type Backend interface {
	// Name returns the registry name, e.g. "vulkan".
	Name() string

	// CreateInstance creates the API instance.
	CreateInstance(desc *InstanceDescriptor) (Instance, error)
}

// Instance is a created API instance.
type Instance interface {
	// OpenDevice selects a physical device and opens a logical device with
	// one queue supporting graphics, compute and transfer.
	OpenDevice() (Device, error)

	// Destroy releases the instance. All devices must be destroyed first.
	Destroy()
}

// Fence is an opaque backend fence handle.
type Fence interface{}

// Semaphore is an opaque backend semaphore handle.
type Semaphore interface{}

// Device is an open logical device.
type Device interface {
	// Info describes the adapter the device was opened on.
	Info() AdapterInfo

	// Queue returns the device's single queue.
	Queue() Queue

	// CreateCommandPool creates a pool command buffers are allocated from.
	CreateCommandPool() (CommandPool, error)

	// CreateAllocator creates the memory allocator for buffers.
	CreateAllocator() (Allocator, error)

	// CreateFence creates a binary fence, optionally already signaled.
	CreateFence(signaled bool) (Fence, error)

	// DestroyFence destroys a fence that is not in use by the queue.
	DestroyFence(f Fence)

	// Wait blocks until f is signaled or timeout elapses. It returns
	// false with a nil error when the timeout elapsed. A timeout of
	// [Infinite] never elapses.
	Wait(f Fence, timeout time.Duration) (bool, error)

	// ResetFence returns a signaled fence to the unsignaled state.
	ResetFence(f Fence) error

	// CreateSemaphore creates a binary semaphore for queue-side ordering.
	CreateSemaphore() (Semaphore, error)

	// DestroySemaphore destroys a semaphore.
	DestroySemaphore(s Semaphore)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error

	// Destroy releases the device.
	Destroy()
}

// Infinite is the timeout that never elapses.
const Infinite time.Duration = 1<<63 - 1

// Queue submits recorded work.
type Queue interface {
	// Submit submits one command buffer. fence, if non-nil, is signaled
	// when the work completes.
	Submit(cb CommandBuffer, fence Fence) error
}

// CommandPool allocates command buffers.
type CommandPool interface {
	Allocate() (CommandBuffer, error)

	// Free releases a command buffer that is not pending execution.
	Free(cb CommandBuffer)

	Destroy()
}

// CommandBufferUsage are hints passed when recording begins.
type CommandBufferUsage uint32

const (
	// UsageOneTimeSubmit marks a recording that will be submitted once.
	UsageOneTimeSubmit CommandBufferUsage = 1 << iota
)

// BufferCopy is one buffer-to-buffer copy descriptor, in bytes.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// CommandBuffer records commands between Begin and End.
type CommandBuffer interface {
	// Begin starts recording. Previously recorded commands are discarded.
	Begin(usage CommandBufferUsage) error

	// CopyBuffer records copies from src to dst.
	CopyBuffer(src, dst Allocation, regions []BufferCopy)

	// End finishes recording and makes the buffer executable.
	End() error
}

// MemoryUsage is the placement preference for an allocation.
type MemoryUsage int

const (
	// MemoryAuto lets the allocator choose.
	MemoryAuto MemoryUsage = iota
	// MemoryPreferDevice prefers device-local memory.
	MemoryPreferDevice
	// MemoryPreferHost prefers host-visible memory.
	MemoryPreferHost
)

// String returns the string representation of MemoryUsage.
func (m MemoryUsage) String() string {
	switch m {
	case MemoryAuto:
		return "Auto"
	case MemoryPreferDevice:
		return "PreferDevice"
	case MemoryPreferHost:
		return "PreferHost"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// BufferDescriptor describes a buffer allocation.
type BufferDescriptor struct {
	Label     string
	Size      uint64
	Alignment uint64
	Usage     gputypes.BufferUsage
	Memory    MemoryUsage

	// HostMapped requests memory that stays mapped for the allocation's
	// lifetime. Allocation.Mapped must then return Size bytes.
	HostMapped bool
}

// Allocator creates and destroys buffer allocations.
type Allocator interface {
	CreateBuffer(desc *BufferDescriptor) (Allocation, error)
	DestroyBuffer(a Allocation)
	Destroy()
}

// Allocation is one buffer allocation.
type Allocation interface {
	// Size returns the allocated size in bytes.
	Size() uint64

	// Mapped returns the host-visible bytes of the allocation, or nil when
	// the allocation is not host mapped. The slice is valid until the
	// allocation is destroyed and its start honors the requested alignment.
	Mapped() []byte
}

// HalProvider is implemented by hosts that expose their raw HAL device and
// queue, allowing a backend to share the host's device.
type HalProvider interface {
	HalDevice() any
	HalQueue() any
}
