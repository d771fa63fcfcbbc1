package device

import (
	"fmt"
	"math/bits"
	"unsafe"
)

// DefaultAlignment is the minimum start alignment of host memory handed out
// by AlignedBytes.
const DefaultAlignment = 8

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
// ok is false on overflow.
func AlignUp(n, align uint64) (uint64, bool) {
	if align <= 1 {
		return n, true
	}
	sum, carry := bits.Add64(n, align-1, 0)
	if carry != 0 {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// AlignedBytes returns a zeroed byte slice of length size whose first byte
// is aligned to align (a power of two; values below DefaultAlignment are
// raised to it). Backends use it for host-visible memory so that the core
// can view it as a slice of any plain element type.
func AlignedBytes(size, align uint64) ([]byte, error) {
	if align < DefaultAlignment {
		align = DefaultAlignment
	}
	if !IsPowerOfTwo(align) {
		return nil, fmt.Errorf("device: alignment %d is not a power of two", align)
	}
	if size == 0 {
		return []byte{}, nil
	}
	total, ok := AlignUp(size+align, DefaultAlignment)
	if !ok || size > uint64(^uint(0)>>1)-align {
		return nil, ErrOutOfHostMemory
	}

	words := make([]uint64, total/DefaultAlignment)
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*DefaultAlignment)

	// Go heap objects do not move, so the address is stable.
	addr := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(raw))))
	start, _ := AlignUp(addr, align)
	skip := start - addr
	return raw[skip : skip+size : skip+size], nil
}
