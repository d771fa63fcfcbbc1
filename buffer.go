package halcore

import (
	"fmt"
	"math/bits"
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
	"github.com/gogpu/halcore/span"
)

// BufferUsage is the set of ways a buffer may be used.
type BufferUsage = gputypes.BufferUsage

// MemoryUsage is the placement preference of a buffer.
type MemoryUsage = device.MemoryUsage

// Placement preferences.
const (
	MemoryAuto         = device.MemoryAuto
	MemoryPreferDevice = device.MemoryPreferDevice
	MemoryPreferHost   = device.MemoryPreferHost
)

// Buffer is a typed device buffer of Count elements of T.
//
// T must be a plain value type: numbers, booleans, and arrays or structs
// of them. The buffer exclusively owns its allocation and releases it on
// Destroy. A buffer built with HostMapped exposes its memory through
// Mapped for its whole lifetime.
type Buffer[T any] struct {
	ctx      *Context
	alloc    device.Allocation
	count    uint64
	size     uint64
	elemSize uint64
	usage    BufferUsage
	memory   MemoryUsage
	label    string

	mapped    []T
	destroyed atomic.Bool
}

// Count returns the number of elements.
func (b *Buffer[T]) Count() uint64 { return b.count }

// Size returns the allocation size in bytes, including alignment padding.
func (b *Buffer[T]) Size() uint64 { return b.size }

// Usage returns the usage flags the buffer was built with.
func (b *Buffer[T]) Usage() BufferUsage { return b.usage }

// Memory returns the placement preference the buffer was built with.
func (b *Buffer[T]) Memory() MemoryUsage { return b.memory }

// Label returns the debug label.
func (b *Buffer[T]) Label() string { return b.label }

// HostMapped reports whether the buffer memory is host mapped.
func (b *Buffer[T]) HostMapped() bool { return b.mapped != nil }

// Destroyed reports whether Destroy has been called.
func (b *Buffer[T]) Destroyed() bool { return b.destroyed.Load() }

// Span returns the whole buffer, {0, Count}.
func (b *Buffer[T]) Span() span.Span[uint64] {
	return span.New(0, b.count)
}

// Mapped returns a view of the host-mapped memory.
func (b *Buffer[T]) Mapped() (View[T], bool) {
	if b.mapped == nil {
		return View[T]{}, false
	}
	return View[T]{data: b.mapped, destroyed: &b.destroyed}, true
}

// Region returns a read-only region resolved against the whole buffer.
func (b *Buffer[T]) Region(r span.Range[uint64]) Region[T] {
	return Region[T]{buf: b, span: resolve(r, b.Span())}
}

// RegionMut returns a writable region resolved against the whole buffer.
func (b *Buffer[T]) RegionMut(r span.Range[uint64]) RegionMut[T] {
	return RegionMut[T]{Region[T]{buf: b, span: resolve(r, b.Span())}}
}

// RecordCopy records a copy of min(b.Count, dst.Count) elements into dst.
func (b *Buffer[T]) RecordCopy(rec *Recording, dst *Buffer[T]) error {
	if b == nil || dst == nil {
		return ErrNilBuffer
	}
	return b.Region(nil).RecordCopy(rec, dst.RegionMut(nil))
}

// CopyTo copies min(b.Count, dst.Count) elements into dst through a
// single-use command buffer and waits for completion.
func (b *Buffer[T]) CopyTo(dst *Buffer[T]) error {
	if b == nil || dst == nil {
		return ErrNilBuffer
	}
	return b.Region(nil).CopyTo(dst.RegionMut(nil))
}

// Destroy releases the allocation. Views of the mapped memory become
// invalid. Later calls do nothing.
func (b *Buffer[T]) Destroy() error {
	if b.destroyed.Swap(true) {
		return nil
	}
	b.ctx.alloc.DestroyBuffer(b.alloc)
	b.ctx.bufferBytes.Add(^(b.size - 1))
	b.ctx.release(kindBuffer)
	Logger().Debug("halcore: buffer destroyed", "label", b.label, "bytes", b.size)
	return nil
}

// View is a bounds-checked window onto host-mapped buffer memory.
//
// A View aliases device-visible memory: writes are seen by the device at
// the next submission that reads the buffer. Using a View after its
// buffer was destroyed panics.
type View[T any] struct {
	data      []T
	destroyed *atomic.Bool
}

func (v View[T]) check() {
	if v.destroyed != nil && v.destroyed.Load() {
		panic(ErrBufferDestroyed)
	}
}

// Valid reports whether the owning buffer is still alive.
func (v View[T]) Valid() bool {
	return v.destroyed == nil || !v.destroyed.Load()
}

// Len returns the number of elements in the view.
func (v View[T]) Len() int { return len(v.data) }

// At returns element i.
func (v View[T]) At(i int) T {
	v.check()
	return v.data[i]
}

// Set stores x at element i.
func (v View[T]) Set(i int, x T) {
	v.check()
	v.data[i] = x
}

// Slice returns the viewed elements. The slice aliases buffer memory and
// must not be used after the buffer is destroyed.
func (v View[T]) Slice() []T {
	v.check()
	return v.data
}

// Read copies the view into dst and returns the number of elements copied.
func (v View[T]) Read(dst []T) (int, error) {
	if !v.Valid() {
		return 0, ErrBufferDestroyed
	}
	return copy(dst, v.data), nil
}

// Write copies src into the view and returns the number of elements copied.
func (v View[T]) Write(src []T) (int, error) {
	if !v.Valid() {
		return 0, ErrBufferDestroyed
	}
	return copy(v.data, src), nil
}

// BufferBuilder configures and builds a Buffer.
//
//	buf, err := halcore.NewBufferBuilder[uint32]().
//	    Data([]uint32{0, 1, 2, 3, 4}).
//	    Usage(gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst).
//	    Memory(halcore.MemoryPreferDevice).
//	    Build()
type BufferBuilder[T any] struct {
	count      uint64
	countSet   bool
	data       []T
	usage      BufferUsage
	memory     MemoryUsage
	hostMapped bool
	alignment  uint64
	label      string
}

// NewBufferBuilder returns a builder for buffers of T.
func NewBufferBuilder[T any]() *BufferBuilder[T] {
	return &BufferBuilder[T]{}
}

// Count sets the element count. Without it the count is len(data).
func (b *BufferBuilder[T]) Count(n uint64) *BufferBuilder[T] {
	b.count, b.countSet = n, true
	return b
}

// Data sets the initial contents.
func (b *BufferBuilder[T]) Data(data []T) *BufferBuilder[T] {
	b.data = data
	return b
}

// Usage adds usage flags.
func (b *BufferBuilder[T]) Usage(u BufferUsage) *BufferBuilder[T] {
	b.usage |= u
	return b
}

// Memory sets the placement preference. MemoryPreferHost buffers are
// always host mapped.
func (b *BufferBuilder[T]) Memory(m MemoryUsage) *BufferBuilder[T] {
	b.memory = m
	return b
}

// HostMapped requests memory that stays mapped for the buffer's lifetime.
func (b *BufferBuilder[T]) HostMapped(on bool) *BufferBuilder[T] {
	b.hostMapped = on
	return b
}

// Alignment sets the allocation alignment in bytes. It must be a power of
// two; values below the element alignment are raised to it.
func (b *BufferBuilder[T]) Alignment(a uint64) *BufferBuilder[T] {
	b.alignment = a
	return b
}

// Label sets the debug label.
func (b *BufferBuilder[T]) Label(label string) *BufferBuilder[T] {
	b.label = label
	return b
}

// Staging configures a host-mapped, host-preferred transfer buffer.
func (b *BufferBuilder[T]) Staging() *BufferBuilder[T] {
	b.hostMapped = true
	b.memory = MemoryPreferHost
	b.usage |= gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	return b
}

// Build allocates the buffer in the global context and uploads the
// initial data, through a temporary staging buffer when the memory is
// not host mapped.
func (b *BufferBuilder[T]) Build() (*Buffer[T], error) {
	c, err := Get()
	if err != nil {
		return nil, err
	}
	return buildBuffer(c, b)
}

// MustBuild is Build that panics on error.
func (b *BufferBuilder[T]) MustBuild() *Buffer[T] {
	return Must(b.Build())
}

func buildBuffer[T any](c *Context, b *BufferBuilder[T]) (*Buffer[T], error) {
	elemSize, elemAlign, err := elementLayout[T]()
	if err != nil {
		return nil, err
	}
	if b.usage == 0 {
		return nil, ErrEmptyUsage
	}

	count := b.count
	if !b.countSet {
		count = uint64(len(b.data))
	}
	if count == 0 || elemSize == 0 {
		return nil, ErrZeroSize
	}
	if uint64(len(b.data)) > count {
		return nil, fmt.Errorf("%w: %d elements for count %d", ErrDataExceedsCount, len(b.data), count)
	}

	align := b.alignment
	if align != 0 && !device.IsPowerOfTwo(align) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	align = max(align, elemAlign)

	// Host-preferred memory is always mapped.
	mapped := b.hostMapped || b.memory == MemoryPreferHost
	if len(b.data) > 0 && !mapped && b.usage&gputypes.BufferUsageCopyDst == 0 {
		return nil, ErrDataWithoutTransferDst
	}

	hi, raw := bits.Mul64(count, elemSize)
	size, ok := device.AlignUp(raw, align)
	if hi != 0 || !ok {
		return nil, deviceError("allocate buffer", device.ErrOutOfDeviceMemory)
	}

	if err := c.acquire(kindBuffer); err != nil {
		return nil, err
	}
	alloc, err := c.alloc.CreateBuffer(&device.BufferDescriptor{
		Label:      b.label,
		Size:       size,
		Alignment:  align,
		Usage:      b.usage,
		Memory:     b.memory,
		HostMapped: mapped,
	})
	if err != nil {
		c.release(kindBuffer)
		return nil, deviceError("allocate buffer", err)
	}
	c.bufferBytes.Add(size)

	buf := &Buffer[T]{
		ctx:      c,
		alloc:    alloc,
		count:    count,
		size:     size,
		elemSize: elemSize,
		usage:    b.usage,
		memory:   b.memory,
		label:    b.label,
	}

	if mapped {
		mem := alloc.Mapped()
		if uint64(len(mem)) < size {
			_ = buf.Destroy()
			return nil, deviceError("map buffer", device.ErrMappingFailed)
		}
		buf.mapped = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(mem))), count)
	}
	Logger().Debug("halcore: buffer built",
		"label", b.label, "count", count, "bytes", size,
		"memory", b.memory.String(), "mapped", mapped)

	if len(b.data) == 0 {
		return buf, nil
	}
	if mapped {
		copy(buf.mapped, b.data)
		return buf, nil
	}
	if err := buf.upload(b.data); err != nil {
		_ = buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// upload copies data into the start of a device-only buffer through a
// temporary staging buffer.
func (b *Buffer[T]) upload(data []T) error {
	label := b.label + "_staging"
	if b.label == "" {
		label = "staging"
	}
	staging, err := buildBuffer(b.ctx, NewBufferBuilder[T]().Data(data).Staging().Label(label))
	if err != nil {
		return err
	}
	defer staging.Destroy()

	return b.ctx.runSingleUse(func(rec *Recording) error {
		return staging.RecordCopy(rec, b)
	})
}

// elementLayout returns the size and alignment of T, rejecting types that
// hold pointers.
func elementLayout[T any]() (size, align uint64, err error) {
	t := reflect.TypeFor[T]()
	if hasPointers(t) {
		return 0, 0, fmt.Errorf("%w: %s", ErrElementNotPlain, t)
	}
	return uint64(t.Size()), uint64(t.Align()), nil
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
