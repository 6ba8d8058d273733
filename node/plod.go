// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package node

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gviegas/sgraph/linear"
)

// RequestStatus is the state of a PagedLOD's high
// resolution request.
type RequestStatus int32

// Request statuses.
const (
	NoRequest RequestStatus = iota
	ReadRequest
	Reading
	Compiling
	MergeRequest
	Merging
)

// String implements fmt.Stringer.
func (s RequestStatus) String() string {
	switch s {
	case NoRequest:
		return "NoRequest"
	case ReadRequest:
		return "ReadRequest"
	case Reading:
		return "Reading"
	case Compiling:
		return "Compiling"
	case MergeRequest:
		return "MergeRequest"
	case Merging:
		return "Merging"
	}
	return fmt.Sprintf("RequestStatus(%d)", int32(s))
}

// Indices of PagedLOD.Children.
const (
	HighRes = iota
	LowRes
)

// LODChild describes a level of a PagedLOD.
// The level is visible when the projected height of
// the bound exceeds the distance to its center times
// MinimumScreenHeightRatio.
type LODChild struct {
	MinimumScreenHeightRatio float32
}

type slot struct{ n Node }

var plodID atomic.Uint32

// PagedLOD is a level of detail node whose high
// resolution child is loaded on demand.
// The high resolution child is published atomically,
// so the record traversal observes it either absent
// or fully compiled.
// Only the frame goroutine may publish or clear it.
type PagedLOD struct {
	Base
	Bound    linear.Sphere
	Filename string
	// Options are passed to the reader. They are
	// usually an *sgio.Options.
	Options any
	// Levels holds the screen height thresholds of the
	// HighRes and LowRes children.
	Levels [2]LODChild

	id       uint32
	highres  atomic.Pointer[slot]
	lowres   Node
	pending  atomic.Pointer[slot]
	status   atomic.Int32
	lastUsed atomic.Uint64
	failures atomic.Int32
	priority atomic.Uint32
}

// NewPagedLOD creates a new PagedLOD.
// lowres may be nil.
func NewPagedLOD(bound linear.Sphere, filename string, highRatio float32, lowres Node, lowRatio float32) *PagedLOD {
	p := &PagedLOD{
		Bound:    bound,
		Filename: filename,
		Levels:   [2]LODChild{{highRatio}, {lowRatio}},
		id:       plodID.Add(1),
	}
	if lowres != nil {
		lowres.Ref()
		p.lowres = lowres
	}
	p.OnRelease(func() {
		if n := p.ReleaseHighRes(); n != nil {
			n.Unref()
		}
		if n := p.TakePending(); n != nil {
			n.Unref()
		}
		if p.lowres != nil {
			p.lowres.Unref()
			p.lowres = nil
		}
	})
	return p
}

// ID returns a process-wide identifier of p.
func (p *PagedLOD) ID() uint32 { return p.id }

// String implements fmt.Stringer.
func (p *PagedLOD) String() string { return fmt.Sprintf("PagedLOD(%d %q)", p.id, p.Filename) }

// HighResNode returns the published high resolution
// child, or nil if it is not resident.
func (p *PagedLOD) HighResNode() Node {
	if s := p.highres.Load(); s != nil {
		return s.n
	}
	return nil
}

// LowResNode returns the low resolution child.
func (p *PagedLOD) LowResNode() Node { return p.lowres }

// PublishHighRes makes n the high resolution child.
// It takes ownership of the caller's reference to n.
// It panics if a child is already published.
func (p *PagedLOD) PublishHighRes(n Node) {
	if !p.highres.CompareAndSwap(nil, &slot{n}) {
		panic("node: PagedLOD high resolution child already published")
	}
}

// ReleaseHighRes clears the high resolution child and
// returns it. The caller takes ownership of the
// reference that p held.
func (p *PagedLOD) ReleaseHighRes() Node {
	if s := p.highres.Swap(nil); s != nil {
		return s.n
	}
	return nil
}

// SetPending stores a loaded subgraph that was not
// published yet, taking ownership of the caller's
// reference to n.
func (p *PagedLOD) SetPending(n Node) {
	if old := p.pending.Swap(&slot{n}); old != nil {
		old.n.Unref()
	}
}

// Pending returns the pending subgraph.
func (p *PagedLOD) Pending() Node {
	if s := p.pending.Load(); s != nil {
		return s.n
	}
	return nil
}

// TakePending removes the pending subgraph and returns
// it. The caller takes ownership of its reference.
func (p *PagedLOD) TakePending() Node {
	if s := p.pending.Swap(nil); s != nil {
		return s.n
	}
	return nil
}

// Status returns the request status.
func (p *PagedLOD) Status() RequestStatus { return RequestStatus(p.status.Load()) }

// SetStatus sets the request status.
func (p *PagedLOD) SetStatus(s RequestStatus) { p.status.Store(int32(s)) }

// CompareAndSwapStatus changes the request status from
// old to new, failing if the status is not old.
func (p *PagedLOD) CompareAndSwapStatus(old, new RequestStatus) bool {
	return p.status.CompareAndSwap(int32(old), int32(new))
}

// MarkUsed records that the high resolution child was
// required in frame. It returns the previous value.
func (p *PagedLOD) MarkUsed(frame uint64) uint64 { return p.lastUsed.Swap(frame) }

// FrameHighResLastUsed returns the last frame in which
// the high resolution child was required.
func (p *PagedLOD) FrameHighResLastUsed() uint64 { return p.lastUsed.Load() }

// LoadFailures returns the number of failed loads.
func (p *PagedLOD) LoadFailures() int { return int(p.failures.Load()) }

// AddLoadFailure increments the number of failed loads.
func (p *PagedLOD) AddLoadFailure() int { return int(p.failures.Add(1)) }

// ResetLoadFailures clears the number of failed loads.
func (p *PagedLOD) ResetLoadFailures() { p.failures.Store(0) }

// Priority returns the last computed request priority.
func (p *PagedLOD) Priority() float32 { return math.Float32frombits(p.priority.Load()) }

// SetPriority sets the request priority.
func (p *PagedLOD) SetPriority(x float32) { p.priority.Store(math.Float32bits(x)) }

// Accept implements Node.
func (p *PagedLOD) Accept(v Visitor) { v.VisitPagedLOD(p) }

// Traverse implements Node.
// It visits every resident child, regardless of
// visibility.
func (p *PagedLOD) Traverse(v Visitor) {
	if n := p.HighResNode(); n != nil {
		n.Accept(v)
	}
	if p.lowres != nil {
		p.lowres.Accept(v)
	}
}

// Children implements Node.
// It returns the resident children.
func (p *PagedLOD) Children() []Node {
	children := make([]Node, 0, 2)
	if n := p.HighResNode(); n != nil {
		children = append(children, n)
	}
	if p.lowres != nil {
		children = append(children, p.lowres)
	}
	return children
}
