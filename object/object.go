// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package object implements intrusive reference counting
// with lazily created auxiliary data and weak observers.
package object

import (
	"sync"
	"sync/atomic"
)

// Interface is the interface of reference-counted values.
// It is implemented by *Object, so embedding an Object is
// enough to satisfy it.
type Interface interface {
	Ref()
	Unref() bool
	RefCount() int
}

// Object is the base unit of ownership.
// The zero value is ready for use and has a reference
// count of zero; owners call Ref to take a reference and
// Unref to drop it. When the count drops back to zero,
// the release hooks run exactly once.
type Object struct {
	refs    atomic.Int64
	aux     atomic.Pointer[Auxiliary]
	mu      sync.Mutex
	release []func()
	dead    bool
}

// Ref takes a reference to o.
func (o *Object) Ref() {
	if o.refs.Add(1) == 1 {
		o.mu.Lock()
		dead := o.dead
		o.mu.Unlock()
		if dead {
			panic("object: Ref on released object")
		}
	}
}

// Unref drops a reference to o.
// It returns true if this call released o.
func (o *Object) Unref() bool {
	switch n := o.refs.Add(-1); {
	case n > 0:
		return false
	case n < 0:
		panic("object: too many releases")
	}
	o.mu.Lock()
	if o.dead {
		o.mu.Unlock()
		return false
	}
	o.dead = true
	fns := o.release
	o.release = nil
	o.mu.Unlock()
	if aux := o.aux.Load(); aux != nil {
		aux.disconnect()
	}
	// Hooks run in reverse order of registration,
	// so embedding types release before the types
	// they embed.
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	return true
}

// RefCount returns the current reference count.
func (o *Object) RefCount() int { return int(o.refs.Load()) }

// Released returns whether o was released.
func (o *Object) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dead
}

// OnRelease registers f to be called when o is released.
// If o was already released, f is called immediately.
func (o *Object) OnRelease(f func()) {
	o.mu.Lock()
	if o.dead {
		o.mu.Unlock()
		f()
		return
	}
	o.release = append(o.release, f)
	o.mu.Unlock()
}

// Aux returns o's Auxiliary, creating it if necessary.
func (o *Object) Aux() *Auxiliary {
	if aux := o.aux.Load(); aux != nil {
		return aux
	}
	aux := &Auxiliary{obj: o}
	if !o.aux.CompareAndSwap(nil, aux) {
		return o.aux.Load()
	}
	if o.Released() {
		aux.disconnect()
	}
	return aux
}

// HasAux returns whether o's Auxiliary was created.
func (o *Object) HasAux() bool { return o.aux.Load() != nil }

// SetValue stores a named value in o's Auxiliary.
// A nil value removes the entry.
func (o *Object) SetValue(key string, value any) { o.Aux().set(key, value) }

// Value returns a named value from o's Auxiliary.
func (o *Object) Value(key string) (value any, ok bool) {
	aux := o.aux.Load()
	if aux == nil {
		return nil, false
	}
	return aux.get(key)
}
