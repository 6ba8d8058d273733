// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package idmap implements a dense table whose elements
// are identified by stable integer ids.
package idmap

import (
	"github.com/gviegas/sgraph/internal/bitvec"
)

// entry is what a Map stores.
type entry[T any] struct {
	data T
	id   int
}

// Map stores data of type D with identifiers of type I.
// Removal swaps the last element into the vacated slot,
// so iteration order is not insertion order.
// The zero value is ready for use.
type Map[I ~int, D any] struct {
	ids   []int
	idMap bitvec.V[uint32]
	data  []entry[D]
}

// Insert inserts data into m.
// It returns an I value that identifies data in m.
func (m *Map[I, D]) Insert(data D) I {
	if m.idMap.Rem() == 0 {
		n := max(1, m.idMap.Len()/32)
		m.ids = append(m.ids, make([]int, n*32)...)
		m.idMap.Grow(n)
	}
	idx, ok := m.idMap.Search()
	if !ok {
		// Should never happen.
		panic("unexpected failure from bitvec.V.Search")
	}
	m.idMap.Set(idx)
	m.ids[idx] = len(m.data)
	m.data = append(m.data, entry[D]{data, idx})
	return I(idx)
}

// Remove removes the data identified by id.
// It returns the removed data.
// id must belong to m.
func (m *Map[I, D]) Remove(id I) D {
	d := m.ids[id]
	data := m.data[d].data
	last := len(m.data) - 1
	if d < last {
		swap := m.data[last].id
		m.ids[swap] = d
		m.data[d] = m.data[last]
	}
	m.ids[id] = -1
	m.idMap.Unset(int(id))
	m.data[last] = entry[D]{}
	m.data = m.data[:last]
	return data
}

// Contains returns whether id belongs to m.
func (m *Map[I, D]) Contains(id I) bool {
	return int(id) >= 0 && int(id) < m.idMap.Len() && m.idMap.IsSet(int(id))
}

// Get returns a pointer to the data identified by id.
// id must belong to m.
func (m *Map[I, D]) Get(id I) *D { return &m.data[m.ids[id]].data }

// Len returns the number of elements in m.
func (m *Map[_, _]) Len() int { return len(m.data) }

// Each calls f for every element of m.
// f must not insert into or remove from m.
func (m *Map[I, D]) Each(f func(id I, data *D)) {
	for i := range m.data {
		f(I(m.data[i].id), &m.data[i].data)
	}
}
