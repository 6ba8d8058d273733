// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package node implements the scene's graph.
package node

import (
	"github.com/gviegas/sgraph/object"
)

// Mask is a traversal mask.
type Mask uint64

// Common masks.
const (
	MaskNone Mask = 0
	MaskAll  Mask = ^Mask(0)
)

// Node is the interface of a node in the graph.
// Nodes are reference counted; a parent holds one
// reference to each of its children, so a node can
// be shared by any number of parents.
type Node interface {
	object.Interface

	// Mask returns the node's mask.
	Mask() Mask

	// SetMask sets the node's mask.
	SetMask(m Mask)

	// Accept dispatches to the Visitor method for the
	// node's concrete type.
	Accept(v Visitor)

	// Traverse calls Accept on each child.
	Traverse(v Visitor)

	// Children returns the current children.
	// The slice must not be modified.
	Children() []Node
}

// Visitor has one method per node type.
// Node types defined elsewhere dispatch to VisitNode.
type Visitor interface {
	VisitNode(n Node)
	VisitGroup(g *Group)
	VisitTransform(t *Transform)
	VisitStateGroup(sg *StateGroup)
	VisitCullNode(c *CullNode)
	VisitDepthSorted(d *DepthSorted)
	VisitGeometry(g *Geometry)
	VisitPagedLOD(p *PagedLOD)
}

// Base implements the Node methods that are common
// to every node type.
// Embedding types must implement Accept, and should
// implement Traverse and Children when they have
// children.
type Base struct {
	object.Object
	// Stored complemented so that the zero value
	// is MaskAll.
	notMask Mask
}

// Mask implements Node.
func (b *Base) Mask() Mask { return ^b.notMask }

// SetMask implements Node.
func (b *Base) SetMask(m Mask) { b.notMask = ^m }

// Traverse implements Node.
func (b *Base) Traverse(Visitor) {}

// Children implements Node.
func (b *Base) Children() []Node { return nil }

// ForEach calls f for each descendant of node n.
// Ancestors are processed first.
// The graph must not be changed until this function
// returns.
func ForEach(n Node, f func(Node)) {
	Until(n, func(n Node) bool {
		f(n)
		return true
	})
}

// Until calls f for each descendant of node n.
// Ancestors are processed first. If f returns false,
// Until returns immediately.
// Shared nodes are visited once per path.
// The graph must not be changed until this function
// returns.
func Until(n Node, f func(Node) bool) {
	que := [][]Node{n.Children()}
	for len(que) > 0 {
		for _, nd := range que[0] {
			if !f(nd) {
				return
			}
			if sub := nd.Children(); len(sub) > 0 {
				que = append(que, sub)
			}
		}
		que = que[1:]
	}
}

// Walk calls f for n and then for each of its
// descendants, depth first. If f returns false, the
// subgraph of the node is skipped.
func Walk(n Node, f func(Node) bool) {
	if !f(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, f)
	}
}
