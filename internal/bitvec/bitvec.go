// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector type used as the
// free list of block allocators.
package bitvec

import "math/bits"

// Uint is the word type of a V.
type Uint interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// V is a bit vector that grows by whole words.
// Set bits are in use.
type V[T Uint] struct {
	s   []T
	rem int
}

// nbit returns the number of bits in T.
func (*V[T]) nbit() int { return bits.OnesCount64(uint64(^T(0))) }

// Len returns the capacity of v in bits.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns how many bits of v are free.
func (v *V[_]) Rem() int { return v.rem }

// Count returns the number of set bits in the vector.
func (v *V[_]) Count() int { return v.Len() - v.rem }

// Grow appends nplus Uints of unset bits to the vector.
// It returns the value of v.Len prior to the call, which
// is the first bit of the new extent.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.rem += nplus * v.nbit()
		v.s = append(v.s, make([]T, nplus)...)
	}
	return
}

func (v *V[T]) locate(index int) (int, T) {
	n := v.nbit()
	return index / n, T(1) << (index % n)
}

// Set marks index as used.
func (v *V[T]) Set(index int) {
	i, b := v.locate(index)
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// Unset marks index as free.
func (v *V[T]) Unset(index int) {
	i, b := v.locate(index)
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet reports whether index is used.
func (v *V[T]) IsSet(index int) bool {
	i, b := v.locate(index)
	return v.s[i]&b != 0
}

// Search locates an unset bit.
// It fails only when v.Rem() is zero.
func (v *V[T]) Search() (index int, ok bool) { return v.SearchRange(1) }

// SearchRange locates the first range of n contiguous
// unset bits. If ok is true, every bit in
// [index, index+n) is unset.
// n values less than 1 are treated as 1.
func (v *V[T]) SearchRange(n int) (index int, ok bool) {
	n = max(n, 1)
	if v.rem < n {
		return
	}
	nb := v.nbit()
	var run int
	for i, x := range v.s {
		switch x {
		case 0:
			if run == 0 {
				index = i * nb
			}
			run += nb
		case ^T(0):
			run = 0
		default:
			for b := range nb {
				if x&(T(1)<<b) != 0 {
					run = 0
					continue
				}
				if run == 0 {
					index = i*nb + b
				}
				if run++; run >= n {
					return index, true
				}
			}
		}
		if run >= n {
			return index, true
		}
	}
	return 0, false
}

// SetRange sets every bit in [index, index+n).
func (v *V[T]) SetRange(index, n int) {
	for i := index; i < index+n; i++ {
		v.Set(i)
	}
}

// UnsetRange unsets every bit in [index, index+n).
func (v *V[T]) UnsetRange(index, n int) {
	for i := index; i < index+n; i++ {
		v.Unset(i)
	}
}
