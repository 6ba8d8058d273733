// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package node

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/driver/soft"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/state"
)

// named is a leaf node used for testing.
type named struct {
	Base
	name string
}

func (n *named) Accept(v Visitor) { v.VisitNode(n) }

func (n *named) String() string { return n.name }

func leaf(name string) *named { return &named{name: name} }

// visitLog is a Visitor that logs the nodes it visits
// and traverses every child.
type visitLog struct{ s []string }

func (v *visitLog) log(n Node) {
	if s, ok := n.(fmt.Stringer); ok {
		v.s = append(v.s, s.String())
	} else {
		v.s = append(v.s, fmt.Sprintf("%T", n))
	}
}

func (v *visitLog) VisitNode(n Node)                { v.log(n); n.Traverse(v) }
func (v *visitLog) VisitGroup(g *Group)             { v.log(g); g.Traverse(v) }
func (v *visitLog) VisitTransform(t *Transform)     { v.log(t); t.Traverse(v) }
func (v *visitLog) VisitStateGroup(sg *StateGroup)  { v.log(sg); sg.Traverse(v) }
func (v *visitLog) VisitCullNode(c *CullNode)       { v.log(c); c.Traverse(v) }
func (v *visitLog) VisitDepthSorted(d *DepthSorted) { v.log(d); d.Traverse(v) }
func (v *visitLog) VisitGeometry(g *Geometry)       { v.log(g) }
func (v *visitLog) VisitPagedLOD(p *PagedLOD)       { v.log(p); p.Traverse(v) }

func TestMask(t *testing.T) {
	n := leaf("a")
	if m := n.Mask(); m != MaskAll {
		t.Fatalf("Base.Mask:\nhave %x\nwant %x", m, MaskAll)
	}
	n.SetMask(0x0f)
	if m := n.Mask(); m != 0x0f {
		t.Fatalf("Base.Mask:\nhave %x\nwant %x", m, 0x0f)
	}
	n.SetMask(MaskNone)
	if m := n.Mask(); m != MaskNone {
		t.Fatalf("Base.Mask:\nhave %x\nwant %x", m, MaskNone)
	}
}

func TestGroupOwnership(t *testing.T) {
	a, b := leaf("a"), leaf("b")
	g1 := NewGroup(a, b)
	g2 := NewGroup(a)
	g1.Ref()
	g2.Ref()
	require.Equal(t, 2, a.RefCount())
	require.Equal(t, 1, b.RefCount())

	require.True(t, g1.RemoveChild(b))
	require.False(t, g1.RemoveChild(b))
	require.True(t, b.Released())

	g1.Unref()
	require.False(t, a.Released())
	require.Equal(t, 1, a.RefCount())
	g2.Unref()
	require.True(t, a.Released())
}

func TestTraversalOrder(t *testing.T) {
	var m linear.M4
	m.I()
	root := NewGroup(
		NewTransform(&m, leaf("a"), leaf("b")),
		NewCullNode(linear.Sphere{Radius: 1}, leaf("c")),
		leaf("d"),
	)
	root.Ref()
	defer root.Unref()

	var v visitLog
	root.Accept(&v)
	want := []string{"*node.Group", "*node.Transform", "a", "b", "*node.CullNode", "c", "d"}
	require.Equal(t, want, v.s)

	// Breadth first.
	var have []string
	ForEach(root, func(n Node) {
		if s, ok := n.(fmt.Stringer); ok {
			have = append(have, s.String())
		}
	})
	require.Equal(t, []string{"d", "a", "b", "c"}, have)

	var cnt int
	Until(root, func(Node) bool { cnt++; return cnt < 2 })
	require.Equal(t, 2, cnt)

	have = have[:0]
	Walk(root, func(n Node) bool {
		if s, ok := n.(fmt.Stringer); ok {
			have = append(have, s.String())
		}
		_, skip := n.(*Transform)
		return !skip
	})
	require.Equal(t, []string{"c", "d"}, have)
}

func TestPagedLOD(t *testing.T) {
	low := leaf("low")
	p := NewPagedLOD(linear.Sphere{Radius: 10}, "tile.glb", 0.1, low, 0)
	p.Ref()
	require.NotZero(t, p.ID())
	require.Nil(t, p.HighResNode())
	require.Equal(t, []Node{low}, p.Children())

	require.True(t, p.CompareAndSwapStatus(NoRequest, ReadRequest))
	require.False(t, p.CompareAndSwapStatus(NoRequest, ReadRequest))
	require.Equal(t, ReadRequest, p.Status())

	high := leaf("high")
	high.Ref()
	p.SetPending(high)
	require.Same(t, high, p.Pending())
	n := p.TakePending()
	p.PublishHighRes(n)
	require.Nil(t, p.Pending())
	require.Same(t, high, p.HighResNode())
	require.Equal(t, []Node{high, low}, p.Children())
	require.Panics(t, func() { p.PublishHighRes(leaf("x")) })

	require.Equal(t, uint64(0), p.MarkUsed(7))
	require.Equal(t, uint64(7), p.FrameHighResLastUsed())

	require.Equal(t, 1, p.AddLoadFailure())
	p.ResetLoadFailures()
	require.Zero(t, p.LoadFailures())

	p.SetPriority(2.5)
	require.Equal(t, float32(2.5), p.Priority())

	p.Unref()
	require.True(t, high.Released())
	require.True(t, low.Released())
}

// Readers must see either nothing or a complete subgraph.
func TestPagedLODPublishStress(t *testing.T) {
	p := NewPagedLOD(linear.Sphere{Radius: 1}, "", 0.1, nil, 0)
	p.Ref()
	defer p.Unref()

	const (
		cycles  = 2000
		readers = 4
	)
	done := make(chan struct{})
	var wg sync.WaitGroup
	var torn sync.Map
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				n := p.HighResNode()
				if n == nil {
					continue
				}
				g := n.(*Group)
				if len(g.Children()) != 3 {
					torn.Store(len(g.Children()), true)
				}
			}
		}()
	}
	for range cycles {
		g := NewGroup(leaf("a"), leaf("b"), leaf("c"))
		g.Ref()
		p.SetPending(g)
		p.PublishHighRes(p.TakePending())
		if old := p.ReleaseHighRes(); old != nil {
			// Readers may still be looking at old; the
			// release is deferred as the pager does.
			defer old.Unref()
		}
	}
	close(done)
	wg.Wait()
	torn.Range(func(k, _ any) bool {
		t.Errorf("PagedLOD.HighResNode: torn read with %v children", k)
		return true
	})
}

func newGeometry(t *testing.T, v data.Variance) *Geometry {
	t.Helper()
	vb := data.NewBufferInfo(data.NewArray(make([]byte, 36), v))
	ib := data.NewBufferInfo(data.NewArray(make([]byte, 12), data.Static))
	g := NewGeometry([]*data.BufferInfo{vb}, ib, 3)
	return g
}

func TestCompileAndRecord(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	ctx, err := compile.NewContext(gpu, compile.NewBufferPool(gpu, driver.UVertexData|driver.UIndexData, 0), 0)
	require.NoError(t, err)
	defer ctx.Destroy()

	g1 := newGeometry(t, data.Dynamic)
	g2 := newGeometry(t, data.Static)
	root := NewGroup(g1, NewGroup(g2, g1))
	root.Ref()
	defer root.Unref()

	require.False(t, g1.Compiled())
	require.NoError(t, Compile(ctx, root))
	require.True(t, g1.Compiled())
	require.True(t, g2.Compiled())
	require.Equal(t, 4, ctx.Resources())
	// Idempotent.
	require.NoError(t, Compile(ctx, root))
	require.Equal(t, 4, ctx.Resources())

	dyn := CollectDynamic(root)
	require.Equal(t, []*data.BufferInfo{g1.Vertices[0]}, dyn.Buffers)
	require.Empty(t, dyn.Images)

	dcb, _ := gpu.NewCmdBuffer()
	cb := state.NewCommandBuffer(dcb, 0)
	require.NoError(t, cb.Begin())
	dcb.BeginPass(1, 1)
	g1.Record(cb)
	g2.Record(cb)
	// Not compiled.
	newGeometry(t, data.Static).Record(cb)
	dcb.EndPass()
	require.NoError(t, cb.End())
	require.Equal(t, 2, cb.Stats().Draws)
}
