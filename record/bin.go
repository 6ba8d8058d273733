// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package record

import (
	"cmp"
	"slices"

	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/state"
)

// SortOrder is the order in which a Bin replays its
// elements.
type SortOrder int

// Sort orders.
const (
	NoSort SortOrder = iota
	Ascending
	Descending
)

type element struct {
	value  float64
	matrix int
	start  int
	count  int
	node   node.Node
}

// Bin defers and reorders the visits of nodes within a
// view record.
// A Bin is owned by a single RecordTraversal and must
// not be accessed from other goroutines.
type Bin struct {
	Number int
	Order  SortOrder

	matrices []linear.M4
	commands []state.Command
	elements []element
	order    []int
	scratch  []state.Command
}

// NewBin creates a new Bin.
func NewBin(number int, order SortOrder) *Bin { return &Bin{Number: number, Order: order} }

// Clear empties b, keeping its capacity.
func (b *Bin) Clear() {
	b.matrices = b.matrices[:0]
	clear(b.commands)
	b.commands = b.commands[:0]
	clear(b.elements)
	b.elements = b.elements[:0]
}

// Len returns the number of elements in b.
func (b *Bin) Len() int { return len(b.elements) }

// Add appends n to b, capturing the current model-view
// matrix and active state commands of st.
func (b *Bin) Add(st *state.State, value float64, n node.Node) {
	e := element{value: value, node: n}

	mv := st.ModelView.Top()
	if k := len(b.matrices); k == 0 || b.matrices[k-1] != *mv {
		b.matrices = append(b.matrices, *mv)
	}
	e.matrix = len(b.matrices) - 1

	b.scratch = st.Active(b.scratch[:0])
	if k := len(b.elements); k > 0 {
		prev := b.elements[k-1]
		if slices.Equal(b.commands[prev.start:prev.start+prev.count], b.scratch) {
			e.start, e.count = prev.start, prev.count
			b.elements = append(b.elements, e)
			return
		}
	}
	e.start = len(b.commands)
	e.count = len(b.scratch)
	b.commands = append(b.commands, b.scratch...)
	b.elements = append(b.elements, e)
}

// sort computes the replay order.
// Elements with equal values keep their insertion
// order.
func (b *Bin) sort() {
	b.order = b.order[:0]
	for i := range b.elements {
		b.order = append(b.order, i)
	}
	switch b.Order {
	case Ascending:
		slices.SortStableFunc(b.order, func(i, j int) int {
			return cmp.Compare(b.elements[i].value, b.elements[j].value)
		})
	case Descending:
		slices.SortStableFunc(b.order, func(i, j int) int {
			return cmp.Compare(b.elements[j].value, b.elements[i].value)
		})
	}
}

// Traverse replays the elements of b in sort order.
// Only the matrix and state commands that differ from
// the previous element are pushed before each visit.
func (b *Bin) Traverse(rt *RecordTraversal) {
	if len(b.elements) == 0 {
		return
	}
	b.sort()
	st := rt.state
	matrix := -1
	var cmds []state.Command
	for _, i := range b.order {
		e := &b.elements[i]
		if e.matrix != matrix {
			if matrix >= 0 {
				st.PopTransform()
			}
			st.PushModelView(&b.matrices[e.matrix])
			matrix = e.matrix
		}
		next := b.commands[e.start : e.start+e.count]
		if !slices.Equal(cmds, next) {
			st.PopCommands(cmds)
			st.PushCommands(next)
			cmds = next
		}
		e.node.Accept(rt)
	}
	st.PopCommands(cmds)
	st.PopTransform()
}
