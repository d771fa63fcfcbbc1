package span

import "fmt"

// Range is a relative range descriptor. Resolve returns the absolute
// window the descriptor selects inside parent, or the Invalid sentinel
// when the selection does not fit.
type Range[T Unsigned] interface {
	Resolve(parent Span[T]) Span[T]
}

type indexRange[T Unsigned] struct{ i T }

// Index selects the single element at i.
func Index[T Unsigned](i T) Range[T] { return indexRange[T]{i} }

func (r indexRange[T]) Resolve(p Span[T]) Span[T] {
	if r.i >= p.Count {
		return Invalid[T]()
	}
	return Span[T]{Offset: p.Offset + r.i, Count: 1}
}

func (r indexRange[T]) String() string { return fmt.Sprintf("[%d]", r.i) }

type halfOpenRange[T Unsigned] struct{ start, end T }

// Between selects the half-open range [start, end).
// A reversed range saturates to an empty window at start.
func Between[T Unsigned](start, end T) Range[T] { return halfOpenRange[T]{start, end} }

func (r halfOpenRange[T]) Resolve(p Span[T]) Span[T] {
	if r.end > p.Count || r.start > p.Count {
		return Invalid[T]()
	}
	return Span[T]{Offset: p.Offset + r.start, Count: saturatingSub(r.end, r.start)}
}

func (r halfOpenRange[T]) String() string { return fmt.Sprintf("%d..%d", r.start, r.end) }

type closedRange[T Unsigned] struct{ start, end T }

// Through selects the closed range [start, end].
func Through[T Unsigned](start, end T) Range[T] { return closedRange[T]{start, end} }

func (r closedRange[T]) Resolve(p Span[T]) Span[T] {
	if r.end >= p.Count || r.start > p.Count {
		return Invalid[T]()
	}
	if r.start > r.end {
		return Span[T]{Offset: p.Offset + r.start}
	}
	return Span[T]{Offset: p.Offset + r.start, Count: r.end - r.start + 1}
}

func (r closedRange[T]) String() string { return fmt.Sprintf("%d..=%d", r.start, r.end) }

type upToRange[T Unsigned] struct{ end T }

// UpTo selects the first end elements, ..end.
func UpTo[T Unsigned](end T) Range[T] { return upToRange[T]{end} }

func (r upToRange[T]) Resolve(p Span[T]) Span[T] {
	if r.end > p.Count {
		return Invalid[T]()
	}
	return Span[T]{Offset: p.Offset, Count: r.end}
}

func (r upToRange[T]) String() string { return fmt.Sprintf("..%d", r.end) }

type upThroughRange[T Unsigned] struct{ end T }

// UpThrough selects ..=end.
func UpThrough[T Unsigned](end T) Range[T] { return upThroughRange[T]{end} }

func (r upThroughRange[T]) Resolve(p Span[T]) Span[T] {
	if r.end >= p.Count {
		return Invalid[T]()
	}
	return Span[T]{Offset: p.Offset, Count: r.end + 1}
}

func (r upThroughRange[T]) String() string { return fmt.Sprintf("..=%d", r.end) }

type fromRange[T Unsigned] struct{ start T }

// From selects start.. to the end of the parent.
func From[T Unsigned](start T) Range[T] { return fromRange[T]{start} }

func (r fromRange[T]) Resolve(p Span[T]) Span[T] {
	if r.start >= p.Count {
		return Invalid[T]()
	}
	return Span[T]{Offset: p.Offset + r.start, Count: p.Count - r.start}
}

func (r fromRange[T]) String() string { return fmt.Sprintf("%d..", r.start) }

type fullRange[T Unsigned] struct{}

// Full selects the whole parent.
func Full[T Unsigned]() Range[T] { return fullRange[T]{} }

func (fullRange[T]) Resolve(p Span[T]) Span[T] { return p }

func (fullRange[T]) String() string { return ".." }

type composed[T Unsigned] struct{ outer, inner Range[T] }

// Compose returns the range that resolves inner against the resolution
// of outer. An invalid outer resolution propagates as the sentinel, which
// inner then resolves against like any other parent.
func Compose[T Unsigned](outer, inner Range[T]) Range[T] {
	return composed[T]{outer, inner}
}

func (c composed[T]) Resolve(p Span[T]) Span[T] {
	return c.inner.Resolve(c.outer.Resolve(p))
}

func saturatingSub[T Unsigned](a, b T) T {
	if b > a {
		return 0
	}
	return a - b
}
