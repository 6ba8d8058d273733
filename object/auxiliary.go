// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package object

import (
	"sort"
	"sync"
)

// Auxiliary is the side object of an Object.
// It holds user values and the weak back-reference used
// by observers. It outlives the Object it belongs to for
// as long as observers keep it reachable.
type Auxiliary struct {
	mu     sync.Mutex
	obj    *Object
	values map[string]any
}

func (a *Auxiliary) set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if value == nil {
		delete(a.values, key)
		return
	}
	if a.values == nil {
		a.values = make(map[string]any)
	}
	a.values[key] = value
}

func (a *Auxiliary) get(key string) (value any, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok = a.values[key]
	return
}

// Keys returns the sorted keys of the stored values.
func (a *Auxiliary) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Connected returns whether the Object is still alive.
func (a *Auxiliary) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.obj != nil
}

// disconnect detaches a from its Object.
// Values are kept; observers will fail to lock.
func (a *Auxiliary) disconnect() {
	a.mu.Lock()
	a.obj = nil
	a.mu.Unlock()
}

// lock takes a reference to the connected Object.
// It fails if the Object was released or is in the
// middle of being released.
func (a *Auxiliary) lock() *Object {
	a.mu.Lock()
	defer a.mu.Unlock()
	o := a.obj
	if o == nil {
		return nil
	}
	for {
		n := o.refs.Load()
		if n <= 0 {
			return nil
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return o
		}
	}
}

// Observer is a weak handle to an Object.
// It does not keep the Object alive; Lock succeeds only
// while some owner holds a reference.
type Observer struct {
	aux *Auxiliary
}

// Observe creates an Observer of o.
func Observe(o *Object) Observer { return Observer{o.Aux()} }

// Valid returns whether the observed Object is alive.
func (w Observer) Valid() bool { return w.aux != nil && w.aux.Connected() }

// Lock takes a strong reference to the observed Object.
// On success the caller must call Unref on the result.
func (w Observer) Lock() (*Object, bool) {
	if w.aux == nil {
		return nil, false
	}
	o := w.aux.lock()
	return o, o != nil
}
