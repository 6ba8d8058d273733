// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package record implements the per-frame traversal
// that culls the scene graph and records draw commands.
package record

import (
	"slices"
	"time"

	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/state"
)

// FrameStamp identifies a frame.
type FrameStamp struct {
	FrameCount uint64
	Time       time.Time
}

// Requester is the interface used to request the high
// resolution child of a PagedLOD.
// Request must not block.
type Requester interface {
	Request(p *node.PagedLOD) bool
}

// CulledPagedLODs lists the PagedLODs whose high
// resolution state changed during a record.
type CulledPagedLODs struct {
	// HighresCulled holds PagedLODs whose resident high
	// resolution child was not required.
	HighresCulled []*node.PagedLOD
	// NewHighresRequired holds PagedLODs whose resident
	// high resolution child was required.
	NewHighresRequired []*node.PagedLOD
}

// Clear empties c, keeping its capacity.
func (c *CulledPagedLODs) Clear() {
	clear(c.HighresCulled)
	c.HighresCulled = c.HighresCulled[:0]
	clear(c.NewHighresRequired)
	c.NewHighresRequired = c.NewHighresRequired[:0]
}

// RecordTraversal visits a scene graph once per view
// and records the visible geometry.
// A RecordTraversal must be used from a single
// goroutine.
type RecordTraversal struct {
	TraversalMask node.Mask
	OverrideMask  node.Mask

	// Pager receives requests for missing high
	// resolution children. It may be nil.
	Pager Requester
	// Culled receives PagedLOD changes. It may be nil.
	Culled *CulledPagedLODs

	log   logrus.FieldLogger
	state *state.State
	cb    *state.CommandBuffer
	frame *FrameStamp
	bins  []*Bin
}

// New creates a new RecordTraversal.
func New() *RecordTraversal {
	return &RecordTraversal{
		TraversalMask: node.MaskAll,
		log:           logrus.StandardLogger(),
		state:         state.New(),
	}
}

// SetLogger sets the logger used by rt.
func (rt *RecordTraversal) SetLogger(log logrus.FieldLogger) { rt.log = log }

// State returns the state of rt.
func (rt *RecordTraversal) State() *state.State { return rt.state }

// CommandBuffer returns the command buffer being
// recorded, or nil if not recording.
func (rt *RecordTraversal) CommandBuffer() *state.CommandBuffer { return rt.cb }

// FrameStamp returns the frame being recorded, or nil
// if not recording.
func (rt *RecordTraversal) FrameStamp() *FrameStamp { return rt.frame }

// AddBin adds a bin. Bins are traversed in increasing
// order of Bin.Number at the end of each view.
// It replaces any bin with the same number.
func (rt *RecordTraversal) AddBin(b *Bin) {
	for i, x := range rt.bins {
		if x.Number == b.Number {
			rt.bins[i] = b
			return
		}
	}
	rt.bins = append(rt.bins, b)
	slices.SortFunc(rt.bins, func(a, b *Bin) int { return a.Number - b.Number })
}

// Bin returns the bin with the given number, or nil.
func (rt *RecordTraversal) Bin(number int) *Bin {
	for _, x := range rt.bins {
		if x.Number == number {
			return x
		}
	}
	return nil
}

// ClearBins clears every bin.
func (rt *RecordTraversal) ClearBins() {
	for _, b := range rt.bins {
		b.Clear()
	}
}

// RecordView records the scene of v into cb.
// cb must be between Begin and End. A nil cb, fs, view
// or camera makes the call a no-op.
func (rt *RecordTraversal) RecordView(cb *state.CommandBuffer, fs *FrameStamp, v *View) {
	if cb == nil || fs == nil || v == nil || v.Camera == nil || v.Scene == nil {
		rt.log.WithField("view", v).Debug("record: nothing to record")
		return
	}
	rt.cb = cb
	rt.frame = fs
	defer func() {
		rt.cb = nil
		rt.frame = nil
	}()

	cb.ViewID = v.ID
	rt.TraversalMask = v.Mask
	rt.ClearBins()
	rt.state.Reset(&v.Camera.Projection, &v.Camera.View)

	v.Scene.Accept(rt)

	for _, b := range rt.bins {
		b.Traverse(rt)
	}
}

// Apply visits n.
func (rt *RecordTraversal) Apply(n node.Node) { n.Accept(rt) }

// enter checks n's mask against the traversal mask.
// If n is to be visited, the traversal mask is
// narrowed and the previous value is returned for
// leave to restore.
func (rt *RecordTraversal) enter(n node.Node) (node.Mask, bool) {
	m := n.Mask()
	if rt.TraversalMask&(rt.OverrideMask|m) == 0 {
		return 0, false
	}
	prev := rt.TraversalMask
	rt.TraversalMask &= m
	return prev, true
}

func (rt *RecordTraversal) leave(prev node.Mask) { rt.TraversalMask = prev }

// VisitNode implements node.Visitor.
func (rt *RecordTraversal) VisitNode(n node.Node) {
	prev, ok := rt.enter(n)
	if !ok {
		return
	}
	defer rt.leave(prev)
	n.Traverse(rt)
}

// VisitGroup implements node.Visitor.
func (rt *RecordTraversal) VisitGroup(g *node.Group) {
	prev, ok := rt.enter(g)
	if !ok {
		return
	}
	defer rt.leave(prev)
	g.Traverse(rt)
}

// VisitTransform implements node.Visitor.
func (rt *RecordTraversal) VisitTransform(t *node.Transform) {
	prev, ok := rt.enter(t)
	if !ok {
		return
	}
	defer rt.leave(prev)
	rt.state.PushTransform(&t.Local)
	defer rt.state.PopTransform()
	t.Traverse(rt)
}

// VisitStateGroup implements node.Visitor.
func (rt *RecordTraversal) VisitStateGroup(sg *node.StateGroup) {
	prev, ok := rt.enter(sg)
	if !ok {
		return
	}
	defer rt.leave(prev)
	rt.state.PushCommands(sg.Commands)
	defer rt.state.PopCommands(sg.Commands)
	sg.Traverse(rt)
}

// VisitCullNode implements node.Visitor.
func (rt *RecordTraversal) VisitCullNode(c *node.CullNode) {
	prev, ok := rt.enter(c)
	if !ok {
		return
	}
	defer rt.leave(prev)
	if rt.state.Intersect(&c.Bound) {
		c.Traverse(rt)
	}
}

// VisitDepthSorted implements node.Visitor.
// The child is added to the bin numbered BinNumber,
// or visited immediately if there is no such bin.
func (rt *RecordTraversal) VisitDepthSorted(d *node.DepthSorted) {
	prev, ok := rt.enter(d)
	if !ok {
		return
	}
	defer rt.leave(prev)
	if !rt.state.Intersect(&d.Bound) {
		return
	}
	if b := rt.Bin(d.BinNumber); b != nil {
		b.Add(rt.state, float64(rt.state.EyeDepth(&d.Bound.Center)), d.Child())
		return
	}
	d.Traverse(rt)
}

// VisitGeometry implements node.Visitor.
func (rt *RecordTraversal) VisitGeometry(g *node.Geometry) {
	prev, ok := rt.enter(g)
	if !ok {
		return
	}
	defer rt.leave(prev)
	rt.state.Record(rt.cb)
	g.Record(rt.cb)
}

// VisitPagedLOD implements node.Visitor.
func (rt *RecordTraversal) VisitPagedLOD(p *node.PagedLOD) {
	prev, ok := rt.enter(p)
	if !ok {
		return
	}
	defer rt.leave(prev)

	frame := rt.frame.FrameCount
	high := p.HighResNode()
	if !rt.state.Intersect(&p.Bound) {
		if high != nil && frame-p.FrameHighResLastUsed() > 1 {
			rt.culled(p)
		}
		return
	}

	proj := rt.state.Projection.Top()
	rf := p.Bound.Radius * math32.Abs(proj[1][1])
	distance := math32.Abs(rt.state.EyeDepth(&p.Bound.Center))

	cutoff := distance * p.Levels[node.HighRes].MinimumScreenHeightRatio
	if rf > cutoff {
		p.MarkUsed(frame)
		if high != nil {
			if rt.Culled != nil {
				rt.Culled.NewHighresRequired = append(rt.Culled.NewHighresRequired, p)
			}
			high.Accept(rt)
			return
		}
		if rt.Pager != nil {
			if cutoff > 0 {
				p.SetPriority(rf / cutoff)
			}
			rt.Pager.Request(p)
		}
	} else if high != nil && frame-p.FrameHighResLastUsed() > 1 {
		rt.culled(p)
	}

	low := p.LowResNode()
	if low == nil {
		return
	}
	cutoff = distance * p.Levels[node.LowRes].MinimumScreenHeightRatio
	if rf > cutoff {
		low.Accept(rt)
	}
}

func (rt *RecordTraversal) culled(p *node.PagedLOD) {
	if rt.Culled != nil {
		rt.Culled.HighresCulled = append(rt.Culled.HighresCulled, p)
	}
}
