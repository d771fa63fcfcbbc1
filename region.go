package halcore

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
	"github.com/gogpu/halcore/span"
)

// Element range descriptors over buffer element indices.

// Index selects element i.
func Index(i uint64) span.Range[uint64] { return span.Index(i) }

// Between selects elements [start, end).
func Between(start, end uint64) span.Range[uint64] { return span.Between(start, end) }

// Through selects elements [start, end].
func Through(start, end uint64) span.Range[uint64] { return span.Through(start, end) }

// UpTo selects elements [0, end).
func UpTo(end uint64) span.Range[uint64] { return span.UpTo(end) }

// UpThrough selects elements [0, end].
func UpThrough(end uint64) span.Range[uint64] { return span.UpThrough(end) }

// From selects elements [start, count).
func From(start uint64) span.Range[uint64] { return span.From(start) }

// All selects every element.
func All() span.Range[uint64] { return span.Full[uint64]() }

func resolve(r span.Range[uint64], parent span.Span[uint64]) span.Span[uint64] {
	if r == nil {
		return parent
	}
	return r.Resolve(parent)
}

// Region is a read-only window of elements of a Buffer.
//
// A Region does not own the buffer and must not be used after the buffer
// is destroyed. A range that does not fit yields an empty region; copies
// from or into an empty region record nothing.
type Region[T any] struct {
	buf  *Buffer[T]
	span span.Span[uint64]
}

// Region narrows r. The range is resolved against r's own span, so a
// derived region never exceeds its parent.
func (r Region[T]) Region(rng span.Range[uint64]) Region[T] {
	return Region[T]{buf: r.buf, span: resolve(rng, r.span)}
}

// Span returns the absolute element span within the buffer.
func (r Region[T]) Span() span.Span[uint64] { return r.span }

// Count returns the number of elements.
func (r Region[T]) Count() uint64 { return r.span.Count }

// IsEmpty reports whether the region selects no elements.
func (r Region[T]) IsEmpty() bool { return r.span.IsEmpty() }

// Buffer returns the underlying buffer.
func (r Region[T]) Buffer() *Buffer[T] { return r.buf }

// Mapped returns a view of the region when the buffer is host mapped.
func (r Region[T]) Mapped() (View[T], bool) {
	if r.buf == nil {
		return View[T]{}, false
	}
	v, ok := r.buf.Mapped()
	if !ok {
		return View[T]{}, false
	}
	v.data = v.data[r.span.Offset:r.span.End()]
	return v, true
}

func (r Region[T]) String() string {
	if r.buf == nil {
		return "Region(nil)"
	}
	return fmt.Sprintf("Region(%q %s)", r.buf.label, r.span)
}

// RecordCopy records a copy of min(r.Count, dst.Count) elements from the
// start of r to the start of dst.
func (r Region[T]) RecordCopy(rec *Recording, dst RegionMut[T]) error {
	return recordCopies(rec, r, dst, []CopyPair{{}})
}

// RecordCopyRegions records one device copy per pair. Each pair's ranges
// are resolved against r and dst respectively and the copy length is the
// smaller of the two counts.
func (r Region[T]) RecordCopyRegions(rec *Recording, dst RegionMut[T], pairs ...CopyPair) error {
	return recordCopies(rec, r, dst, pairs)
}

// CopyTo copies into dst through a single-use command buffer and waits for
// completion.
func (r Region[T]) CopyTo(dst RegionMut[T]) error {
	return r.CopyRegionsTo(dst, CopyPair{})
}

// CopyRegionsTo is RecordCopyRegions through a single-use command buffer
// that is submitted and waited on.
func (r Region[T]) CopyRegionsTo(dst RegionMut[T], pairs ...CopyPair) error {
	if r.buf == nil {
		return ErrNilBuffer
	}
	return r.buf.ctx.runSingleUse(func(rec *Recording) error {
		return recordCopies(rec, r, dst, pairs)
	})
}

// RegionMut is a writable window of elements of a Buffer.
type RegionMut[T any] struct {
	Region[T]
}

// RegionMut narrows r to a writable sub-region.
func (r RegionMut[T]) RegionMut(rng span.Range[uint64]) RegionMut[T] {
	return RegionMut[T]{r.Region.Region(rng)}
}

// AsRegion returns the read-only region.
func (r RegionMut[T]) AsRegion() Region[T] { return r.Region }

// CopyPair pairs a source range with a destination range. A nil range
// selects the whole region.
type CopyPair struct {
	Src span.Range[uint64]
	Dst span.Range[uint64]
}

func checkEndpoint[T any](r Region[T], c *Context, need BufferUsage, role string) error {
	switch {
	case r.buf == nil:
		return ErrNilBuffer
	case r.buf.destroyed.Load():
		return fmt.Errorf("%w: %s %q", ErrBufferDestroyed, role, r.buf.label)
	case c != nil && r.buf.ctx != c:
		return fmt.Errorf("%w: %s %q", ErrContextDestroyed, role, r.buf.label)
	case r.buf.usage&need == 0:
		return fmt.Errorf("%w: %s %q", ErrMissingUsage, role, r.buf.label)
	}
	return nil
}

func recordCopies[T any](rec *Recording, src Region[T], dst RegionMut[T], pairs []CopyPair) error {
	if rec == nil || rec.closed {
		return ErrRecordingClosed
	}
	c := rec.cb.ctx
	if err := checkEndpoint(src, c, gputypes.BufferUsageCopySrc, "source"); err != nil {
		return err
	}
	if err := checkEndpoint(dst.Region, c, gputypes.BufferUsageCopyDst, "destination"); err != nil {
		return err
	}

	elem := src.buf.elemSize
	sameBuffer := src.buf == dst.buf
	regions := make([]device.BufferCopy, 0, len(pairs))
	for _, p := range pairs {
		s := resolve(p.Src, src.span)
		d := resolve(p.Dst, dst.span)
		n := min(s.Count, d.Count)
		if n == 0 {
			continue
		}
		s.Count, d.Count = n, n
		if sameBuffer && s.Overlaps(d) {
			return fmt.Errorf("%w: %s and %s", ErrCopyOverlap, s, d)
		}
		regions = append(regions, device.BufferCopy{
			SrcOffset: s.Offset * elem,
			DstOffset: d.Offset * elem,
			Size:      n * elem,
		})
	}
	if len(regions) == 0 {
		return nil
	}
	return rec.copyBuffer(src.buf.alloc, dst.buf.alloc, regions)
}
