// Package mem implements the two byte-level primitives every piece of code
// linked into a target image depends on: fill and forward copy.
//
// Neither function checks its arguments. The caller guarantees that every
// byte in the addressed ranges is valid, writable memory (and, for Copy, that
// the ranges do not overlap). Violating that is memory corruption, not an
// error.
package mem

import "unsafe"

// Set writes n copies of c, truncated to a single byte, starting at dst and
// moving to increasing addresses. It returns dst unchanged so calls can be
// chained. Set with n == 0 does nothing.
func Set(dst unsafe.Pointer, c int, n uintptr) unsafe.Pointer {
	b := byte(c)
	p := dst
	for n > 0 {
		*(*byte)(p) = b
		p = unsafe.Add(p, 1)
		n--
	}
	return dst
}

// Copy copies n bytes from src to dst with a forward, increasing index and
// returns dst. The ranges must not overlap: a destination that starts inside
// the source range reads bytes it already wrote.
//
// The index is a uintptr, so it can address every length that fits in n.
func Copy(dst, src unsafe.Pointer, n uintptr) unsafe.Pointer {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Add(dst, i)) = *(*byte)(unsafe.Add(src, i))
	}
	return dst
}

// Zero clears n bytes at dst. It is Set with a zero value, kept separate
// because clearing memory is by far the most common use.
func Zero(dst unsafe.Pointer, n uintptr) unsafe.Pointer {
	return Set(dst, 0, n)
}
