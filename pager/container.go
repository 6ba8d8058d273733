// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package pager

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/google/btree"

	"github.com/gviegas/sgraph/node"
)

// lruItem orders inactive PagedLODs by the frame in
// which their high resolution child was last used.
type lruItem struct {
	lastUsed uint64
	id       uint32
	plod     *node.PagedLOD
}

func (a *lruItem) Less(than btree.Item) bool {
	b := than.(*lruItem)
	if a.lastUsed != b.lastUsed {
		return a.lastUsed < b.lastUsed
	}
	return a.id < b.id
}

type entry struct {
	plod   *node.PagedLOD
	active bool
	// Key under which the entry is stored in the
	// inactive tree. Only valid if !active.
	key *lruItem
}

// PagedLODContainer tracks the PagedLODs whose high
// resolution child is resident.
// Active PagedLODs were required in a recent frame.
// Inactive ones are candidates for eviction, oldest
// first.
// It must only be used from the frame goroutine.
type PagedLODContainer struct {
	entries  map[uint32]*entry
	inactive *btree.BTree
}

// NewPagedLODContainer creates a new PagedLODContainer.
func NewPagedLODContainer() *PagedLODContainer {
	return &PagedLODContainer{
		entries:  make(map[uint32]*entry),
		inactive: btree.New(8),
	}
}

// Active marks p as active, adding it if necessary.
// It returns whether p was added.
func (c *PagedLODContainer) Active(p *node.PagedLOD) bool {
	e, ok := c.entries[p.ID()]
	switch {
	case !ok:
		c.entries[p.ID()] = &entry{plod: p, active: true}
		return true
	case !e.active:
		c.inactive.Delete(e.key)
		e.key = nil
		e.active = true
	}
	return false
}

// Inactive marks p as inactive, adding it if necessary.
// It returns whether p was added.
func (c *PagedLODContainer) Inactive(p *node.PagedLOD) (added bool) {
	e, ok := c.entries[p.ID()]
	if !ok {
		added = true
		e = &entry{plod: p}
		c.entries[p.ID()] = e
	} else if !e.active {
		// Refresh the key since the last used frame
		// may have changed.
		c.inactive.Delete(e.key)
	}
	e.active = false
	e.key = &lruItem{p.FrameHighResLastUsed(), p.ID(), p}
	c.inactive.ReplaceOrInsert(e.key)
	return
}

// Stale marks as inactive every active PagedLOD whose
// high resolution child was not used in the frame
// before frame, unless keep returns true for it.
func (c *PagedLODContainer) Stale(frame uint64, keep func(*node.PagedLOD) bool) {
	for _, e := range c.entries {
		if e.active && frame-e.plod.FrameHighResLastUsed() > 1 && !keep(e.plod) {
			c.Inactive(e.plod)
		}
	}
}

// Remove removes p. It returns whether p was present.
func (c *PagedLODContainer) Remove(p *node.PagedLOD) bool {
	e, ok := c.entries[p.ID()]
	if !ok {
		return false
	}
	if !e.active {
		c.inactive.Delete(e.key)
	}
	delete(c.entries, p.ID())
	return true
}

// Len returns the number of PagedLODs.
func (c *PagedLODContainer) Len() int { return len(c.entries) }

// Inactives returns the number of inactive PagedLODs.
func (c *PagedLODContainer) Inactives() int { return c.inactive.Len() }

// Evict removes and returns the least recently used
// inactive PagedLOD whose id is not in required.
// It returns nil if there is no such PagedLOD.
func (c *PagedLODContainer) Evict(required *roaring.Bitmap) (p *node.PagedLOD) {
	var key *lruItem
	c.inactive.Ascend(func(i btree.Item) bool {
		it := i.(*lruItem)
		if required != nil && required.Contains(it.id) {
			return true
		}
		key = it
		return false
	})
	if key == nil {
		return nil
	}
	c.inactive.Delete(key)
	delete(c.entries, key.id)
	return key.plod
}

// Clear removes every PagedLOD, returning them.
func (c *PagedLODContainer) Clear() []*node.PagedLOD {
	plods := make([]*node.PagedLOD, 0, len(c.entries))
	for _, e := range c.entries {
		plods = append(plods, e.plod)
	}
	clear(c.entries)
	c.inactive.Clear(false)
	return plods
}
