// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package pager

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gviegas/sgraph/node"
)

// ActivityStatus tells the goroutines of a
// DatabasePager whether they should keep running.
type ActivityStatus struct{ active atomic.Bool }

// Set sets the status.
func (s *ActivityStatus) Set(active bool) { s.active.Store(active) }

// Active returns the status.
func (s *ActivityStatus) Active() bool { return s.active.Load() }

// DatabaseQueue is a queue of PagedLODs shared by
// producers and blocking consumers. PagedLODs are taken
// in decreasing order of priority, and in the order
// they were added among equal priorities.
// Its methods are safe for concurrent use.
type DatabaseQueue struct {
	status *ActivityStatus
	mu     sync.Mutex
	cond   sync.Cond
	plods  []*node.PagedLOD
}

// NewDatabaseQueue creates a new DatabaseQueue whose
// blocked consumers return once status is cleared and
// Release is called.
func NewDatabaseQueue(status *ActivityStatus) *DatabaseQueue {
	q := &DatabaseQueue{status: status}
	q.cond.L = &q.mu
	return q
}

// Add appends p and wakes up one consumer.
func (q *DatabaseQueue) Add(p *node.PagedLOD) {
	q.mu.Lock()
	q.plods = append(q.plods, p)
	q.mu.Unlock()
	q.cond.Signal()
}

// TakeWhenAvailable removes and returns the PagedLOD
// with the highest priority, blocking until one is
// available.
// It returns nil when the status is no longer active.
func (q *DatabaseQueue) TakeWhenAvailable() *node.PagedLOD {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.plods) == 0 && q.status.Active() {
		q.cond.Wait()
	}
	if !q.status.Active() {
		return nil
	}
	i := 0
	for j := 1; j < len(q.plods); j++ {
		if q.plods[j].Priority() > q.plods[i].Priority() {
			i = j
		}
	}
	p := q.plods[i]
	q.plods = slices.Delete(q.plods, i, i+1)
	return p
}

// TakeAll removes and returns every queued PagedLOD
// without blocking.
func (q *DatabaseQueue) TakeAll() []*node.PagedLOD {
	q.mu.Lock()
	defer q.mu.Unlock()
	plods := q.plods
	q.plods = nil
	return plods
}

// Len returns the number of queued PagedLODs.
func (q *DatabaseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.plods)
}

// Release wakes up every blocked consumer so that it
// can observe the status.
func (q *DatabaseQueue) Release() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
