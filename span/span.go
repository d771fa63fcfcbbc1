// Package span provides offset/count arithmetic over unsigned integer
// domains and the relative range descriptors used to address sub-ranges
// of GPU buffers.
//
// A [Span] is an absolute window {Offset, Count}. A [Range] is relative:
// it is resolved against a parent Span and either yields a window fully
// contained in the parent or the invalid sentinel {0, 0}. Resolution is
// pure and total, so callers never need to handle errors; an invalid
// resolution simply describes nothing and downstream copies become no-ops.
package span

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Unsigned is the set of integer domains a Span can be expressed in.
type Unsigned = constraints.Unsigned

// Span is an absolute window {Offset, Count} in an unsigned domain.
type Span[T Unsigned] struct {
	Offset T
	Count  T
}

// New returns the span {offset, count}.
func New[T Unsigned](offset, count T) Span[T] {
	return Span[T]{Offset: offset, Count: count}
}

// Invalid returns the {0, 0} sentinel produced by failed resolutions.
func Invalid[T Unsigned]() Span[T] {
	return Span[T]{}
}

// End returns the exclusive end of the span.
func (s Span[T]) End() T {
	return s.Offset + s.Count
}

// IsEmpty reports whether the span describes no elements.
func (s Span[T]) IsEmpty() bool {
	return s.Count == 0
}

// Contains reports whether other lies entirely within s.
// Empty spans are contained in any span whose bounds enclose their offset.
func (s Span[T]) Contains(other Span[T]) bool {
	return other.Offset >= s.Offset && other.Count <= s.Count &&
		other.Offset-s.Offset <= s.Count-other.Count
}

// Overlaps reports whether s and other share at least one element.
func (s Span[T]) Overlaps(other Span[T]) bool {
	if s.Count == 0 || other.Count == 0 {
		return false
	}
	return s.Offset < other.End() && other.Offset < s.End()
}

// Resolve treats s as relative to parent. The result is valid iff
// s.Offset+s.Count <= parent.Count.
func (s Span[T]) Resolve(parent Span[T]) Span[T] {
	if s.Offset > parent.Count || s.Count > parent.Count-s.Offset {
		return Invalid[T]()
	}
	return Span[T]{Offset: parent.Offset + s.Offset, Count: s.Count}
}

// String implements fmt.Stringer.
func (s Span[T]) String() string {
	return fmt.Sprintf("{%d, %d}", s.Offset, s.Count)
}
