// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package data defines CPU-side data that is mirrored
// in GPU memory, along with the modification tracking
// that decides when it must be copied again.
package data

import (
	"sync"
	"sync/atomic"

	"github.com/gviegas/sgraph/object"
)

// Variance describes how often data is expected to
// change after compilation.
type Variance int

// Variance values.
const (
	// Static data is copied once during compilation.
	Static Variance = iota
	// Dynamic data is copied before the main pass.
	Dynamic
	// DynamicLate data may be copied after the main
	// pass was recorded, just before submission.
	DynamicLate
)

// String implements fmt.Stringer.
func (v Variance) String() string {
	switch v {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case DynamicLate:
		return "dynamic-late"
	}
	return "invalid"
}

// Array is a byte array with a modification count.
// Every write increments the count, which is what
// copy tracking compares against.
type Array struct {
	object.Object
	mu       sync.RWMutex
	bytes    []byte
	modCount atomic.Uint64
	variance Variance
}

// NewArray creates a new Array that takes ownership
// of b.
func NewArray(b []byte, v Variance) *Array { return &Array{bytes: b, variance: v} }

// Variance returns the variance of a.
func (a *Array) Variance() Variance { return a.variance }

// Len returns the length of a in bytes.
func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.bytes)
}

// ModifiedCount returns the number of times a was
// modified.
func (a *Array) ModifiedCount() uint64 { return a.modCount.Load() }

// Dirty marks a as modified.
func (a *Array) Dirty() { a.modCount.Add(1) }

// WriteAt copies p into a at offset off and marks a
// as modified.
// It panics if the write is out of bounds.
func (a *Array) WriteAt(p []byte, off int) {
	a.mu.Lock()
	if off < 0 || off+len(p) > len(a.bytes) {
		a.mu.Unlock()
		panic("data: Array.WriteAt out of bounds")
	}
	copy(a.bytes[off:], p)
	a.modCount.Add(1)
	a.mu.Unlock()
}

// Update calls f with the bytes of a and marks a as
// modified once f returns.
// f must not retain the slice.
func (a *Array) Update(f func(b []byte)) {
	a.mu.Lock()
	f(a.bytes)
	a.modCount.Add(1)
	a.mu.Unlock()
}

// ReadAt copies the bytes of a starting at off into
// dst. It returns the number of bytes copied and the
// modification count that the copy reflects.
func (a *Array) ReadAt(dst []byte, off int) (n int, count uint64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if off < len(a.bytes) {
		n = copy(dst, a.bytes[off:])
	}
	return n, a.modCount.Load()
}

// copyCounts stores the modification count of the
// last copy, per device.
type copyCounts struct {
	mu     sync.Mutex
	counts map[int]uint64
}

// CopiedCount returns the modification count that was
// last copied to device dev.
func (c *copyCounts) CopiedCount(dev int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[dev]
}

// SetCopiedCount sets the modification count that was
// last copied to device dev.
func (c *copyCounts) SetCopiedCount(dev int, n uint64) {
	c.mu.Lock()
	if c.counts == nil {
		c.counts = make(map[int]uint64)
	}
	c.counts[dev] = n
	c.mu.Unlock()
}
