// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package node

import (
	"slices"

	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/state"
)

// Group is a node with an ordered list of children.
// Insertion order is traversal order.
type Group struct {
	Base
	children []Node
}

// NewGroup creates a new Group containing children.
func NewGroup(children ...Node) *Group {
	g := &Group{}
	g.init(children)
	return g
}

func (g *Group) init(children []Node) {
	for _, c := range children {
		g.AddChild(c)
	}
	g.OnRelease(g.clear)
}

func (g *Group) clear() {
	for _, c := range g.children {
		c.Unref()
	}
	g.children = nil
}

// AddChild appends n to g's children.
// It takes a reference to n.
func (g *Group) AddChild(n Node) {
	n.Ref()
	g.children = append(g.children, n)
}

// RemoveChild removes the first occurrence of n from
// g's children and drops the reference g held.
// It returns false if n is not a child of g.
func (g *Group) RemoveChild(n Node) bool {
	i := slices.Index(g.children, n)
	if i < 0 {
		return false
	}
	g.children = slices.Delete(g.children, i, i+1)
	n.Unref()
	return true
}

// Children implements Node.
func (g *Group) Children() []Node { return g.children }

// Accept implements Node.
func (g *Group) Accept(v Visitor) { v.VisitGroup(g) }

// Traverse implements Node.
func (g *Group) Traverse(v Visitor) {
	for _, c := range g.children {
		c.Accept(v)
	}
}

// Transform is a Group with a local transform.
type Transform struct {
	Group
	Local linear.M4
}

// NewTransform creates a new Transform.
func NewTransform(local *linear.M4, children ...Node) *Transform {
	t := &Transform{Local: *local}
	t.init(children)
	return t
}

// Accept implements Node.
func (t *Transform) Accept(v Visitor) { v.VisitTransform(t) }

// StateGroup is a Group whose state commands are active
// while its children are visited.
type StateGroup struct {
	Group
	Commands []state.Command
}

// NewStateGroup creates a new StateGroup.
func NewStateGroup(cmds []state.Command, children ...Node) *StateGroup {
	sg := &StateGroup{Commands: cmds}
	sg.init(children)
	return sg
}

// Accept implements Node.
func (sg *StateGroup) Accept(v Visitor) { v.VisitStateGroup(sg) }

// CullNode has a single child that is visited only if
// Bound intersects the view frustum.
type CullNode struct {
	Base
	Bound linear.Sphere
	child []Node
}

// NewCullNode creates a new CullNode.
func NewCullNode(bound linear.Sphere, child Node) *CullNode {
	child.Ref()
	c := &CullNode{Bound: bound, child: []Node{child}}
	c.OnRelease(func() { child.Unref() })
	return c
}

// Child returns c's child.
func (c *CullNode) Child() Node { return c.child[0] }

// Children implements Node.
func (c *CullNode) Children() []Node { return c.child }

// Accept implements Node.
func (c *CullNode) Accept(v Visitor) { v.VisitCullNode(c) }

// Traverse implements Node.
func (c *CullNode) Traverse(v Visitor) { c.child[0].Accept(v) }

// DepthSorted has a single child that is recorded in a
// bin, sorted by the depth of Bound's center.
type DepthSorted struct {
	Base
	BinNumber int
	Bound     linear.Sphere
	child     []Node
}

// NewDepthSorted creates a new DepthSorted.
func NewDepthSorted(binNumber int, bound linear.Sphere, child Node) *DepthSorted {
	child.Ref()
	d := &DepthSorted{BinNumber: binNumber, Bound: bound, child: []Node{child}}
	d.OnRelease(func() { child.Unref() })
	return d
}

// Child returns d's child.
func (d *DepthSorted) Child() Node { return d.child[0] }

// Children implements Node.
func (d *DepthSorted) Children() []Node { return d.child }

// Accept implements Node.
func (d *DepthSorted) Accept(v Visitor) { v.VisitDepthSorted(d) }

// Traverse implements Node.
func (d *DepthSorted) Traverse(v Visitor) { d.child[0].Accept(v) }
