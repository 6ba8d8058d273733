// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package pager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/driver/soft"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/object"
	"github.com/gviegas/sgraph/record"
	"github.com/gviegas/sgraph/sgio"
	"github.com/gviegas/sgraph/state"
)

// tileReader creates a group holding a single triangle
// for every locator with the .tile extension.
// Locators starting with "fail" cannot be read.
type tileReader struct {
	reads atomic.Int32
	block chan struct{}
}

func (r *tileReader) Extensions() []string { return []string{".tile"} }

func (r *tileReader) Read(ctx context.Context, req *sgio.Request) (node.Node, error) {
	r.reads.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if strings.HasPrefix(req.Locator, "fail") {
		return nil, errors.New("tile not found")
	}
	vb := data.NewBufferInfo(data.NewArray(make([]byte, 36), data.Static))
	g := node.NewGroup(node.NewGeometry([]*data.BufferInfo{vb}, nil, 3))
	g.Ref()
	return g, nil
}

func newPager(t *testing.T, cfg Config, r *tileReader) (*DatabasePager, *soft.GPU) {
	t.Helper()
	gpu := soft.New()
	pool := compile.NewBufferPool(gpu, driver.UVertexData|driver.UIndexData, 0)
	reg := sgio.NewRegistry()
	reg.Register(r)
	dp, err := New(cfg, gpu, pool, reg)
	require.NoError(t, err)
	require.NoError(t, dp.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, dp.Close())
		pool.Destroy()
		gpu.Close()
	})
	return dp, gpu
}

func newPagedLOD(name string) *node.PagedLOD {
	p := node.NewPagedLOD(linear.Sphere{Radius: 10}, name, 0.1, nil, 0)
	p.Ref()
	return p
}

func waitMerges(t *testing.T, dp *DatabasePager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return dp.merges.Len() == n }, 5*time.Second, time.Millisecond)
}

func TestDatabaseQueue(t *testing.T) {
	var status ActivityStatus
	status.Set(true)
	q := NewDatabaseQueue(&status)
	a, b := newPagedLOD("a"), newPagedLOD("b")
	q.Add(a)
	q.Add(b)
	require.Equal(t, 2, q.Len())
	require.Same(t, a, q.TakeWhenAvailable())
	require.Equal(t, []*node.PagedLOD{b}, q.TakeAll())
	require.Zero(t, q.Len())

	took := make(chan *node.PagedLOD)
	go func() { took <- q.TakeWhenAvailable() }()
	time.Sleep(10 * time.Millisecond)
	q.Add(b)
	require.Same(t, b, <-took)

	go func() { took <- q.TakeWhenAvailable() }()
	time.Sleep(10 * time.Millisecond)
	status.Set(false)
	q.Release()
	require.Nil(t, <-took)

	// Inactive queues return nil even if not empty.
	q.Add(a)
	require.Nil(t, q.TakeWhenAvailable())

	// Higher priorities are taken first, then older
	// requests.
	status.Set(true)
	require.Len(t, q.TakeAll(), 1)
	c := newPagedLOD("c")
	a.SetPriority(1)
	b.SetPriority(5)
	c.SetPriority(5)
	for _, p := range []*node.PagedLOD{a, b, c} {
		q.Add(p)
	}
	for _, want := range []*node.PagedLOD{b, c, a} {
		require.Same(t, want, q.TakeWhenAvailable())
	}
	require.Zero(t, q.Len())
}

func TestContainer(t *testing.T) {
	c := NewPagedLODContainer()
	a, b, d := newPagedLOD("a"), newPagedLOD("b"), newPagedLOD("d")
	a.MarkUsed(5)
	b.MarkUsed(3)
	d.MarkUsed(4)
	require.True(t, c.Active(a))
	require.False(t, c.Active(a))
	require.True(t, c.Inactive(b))
	require.True(t, c.Inactive(d))
	require.False(t, c.Inactive(d))
	require.Equal(t, 3, c.Len())
	require.Equal(t, 2, c.Inactives())

	required := roaring.New()
	required.Add(b.ID())
	require.Same(t, d, c.Evict(required))
	require.Nil(t, c.Evict(required))
	require.Same(t, b, c.Evict(nil))
	require.Nil(t, c.Evict(nil))

	c.Inactive(a)
	c.Active(a)
	require.Zero(t, c.Inactives())
	c.Stale(7, func(*node.PagedLOD) bool { return true })
	require.Zero(t, c.Inactives())
	c.Stale(7, func(*node.PagedLOD) bool { return false })
	require.Equal(t, 1, c.Inactives())
	require.True(t, c.Remove(a))
	require.False(t, c.Remove(a))
	require.Zero(t, c.Len())
}

func TestDeleteQueue(t *testing.T) {
	q, err := NewDeleteQueue(2, 1)
	require.NoError(t, err)
	defer q.Close()

	g := node.NewGroup()
	g.Ref()
	obs := object.Observe(&g.Object)
	q.Add(10, g)
	require.Zero(t, q.Advance(11))
	require.Equal(t, 1, q.Len())
	require.Equal(t, 1, q.Advance(12))
	require.Eventually(t, func() bool { return !obs.Valid() }, time.Second, time.Millisecond)

	h := node.NewGroup()
	h.Ref()
	q.Add(12, h)
	q.Flush()
	require.True(t, h.Released())
	require.Zero(t, q.Len())
}

func TestDuplicateRequests(t *testing.T) {
	r := &tileReader{}
	dp, _ := newPager(t, DefaultConfig(), r)
	p := newPagedLOD("a.tile")
	defer p.Unref()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dp.Request(p) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), accepted.Load())
	require.Equal(t, 1, dp.NumActiveRequests())

	waitMerges(t, dp, 1)
	require.Equal(t, node.MergeRequest, p.Status())
	require.False(t, dp.Request(p))
	require.Nil(t, p.HighResNode())

	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 1})
	require.NotNil(t, p.HighResNode())
	require.Equal(t, node.NoRequest, p.Status())
	require.Zero(t, dp.NumActiveRequests())
	require.Equal(t, 1, dp.Resident())
	require.Equal(t, int32(1), r.reads.Load())
	require.True(t, p.HighResNode().Children()[0].(*node.Geometry).Compiled())

	// Resident children are not requested again.
	require.False(t, dp.Request(p))
}

func TestLoadFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLoadAttempts = 2
	r := &tileReader{}
	dp, _ := newPager(t, cfg, r)
	p := newPagedLOD("fail.tile")
	defer p.Unref()

	for i := 1; i <= 2; i++ {
		require.True(t, dp.Request(p))
		require.Eventually(t, func() bool { return dp.NumActiveRequests() == 0 }, 5*time.Second, time.Millisecond)
		require.Equal(t, node.NoRequest, p.Status())
		require.Equal(t, i, p.LoadFailures())
		require.Nil(t, p.Pending())
	}
	require.False(t, dp.Request(p))
	p.ResetLoadFailures()
	require.True(t, dp.Request(p))
}

func TestCompileFailure(t *testing.T) {
	r := &tileReader{}
	dp, gpu := newPager(t, DefaultConfig(), r)
	p := newPagedLOD("a.tile")
	defer p.Unref()

	gpu.FailNextExecution(errors.New("device lost"))
	require.True(t, dp.Request(p))
	require.Eventually(t, func() bool { return dp.NumActiveRequests() == 0 }, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, p.LoadFailures())
	require.Nil(t, p.Pending())
	require.Equal(t, node.NoRequest, p.Status())

	require.True(t, dp.Request(p))
	waitMerges(t, dp, 1)
	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 1})
	require.NotNil(t, p.HighResNode())
	require.Zero(t, p.LoadFailures())
}

func TestEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetMaxNumPagedLODWithHighResSubgraphs = 1
	cfg.NumFramesToRetain = 2
	r := &tileReader{}
	dp, _ := newPager(t, cfg, r)
	a, b, c := newPagedLOD("a.tile"), newPagedLOD("b.tile"), newPagedLOD("c.tile")
	defer a.Unref()
	defer b.Unref()
	defer c.Unref()

	for _, p := range []*node.PagedLOD{a, b, c} {
		require.True(t, dp.Request(p))
	}
	waitMerges(t, dp, 3)
	// Every merged child is required in the frame it
	// is merged.
	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 1})
	require.Equal(t, 3, dp.Resident())

	hb := b.HighResNode().(*node.Group)
	obs := object.Observe(&hb.Object)

	// Frame 2 only required a.
	a.MarkUsed(2)
	culled := &record.CulledPagedLODs{
		HighresCulled:      []*node.PagedLOD{b},
		NewHighresRequired: []*node.PagedLOD{a},
	}
	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 3}, culled)
	require.Equal(t, 1, dp.Resident())
	require.NotNil(t, a.HighResNode())
	require.Nil(t, b.HighResNode())
	require.Nil(t, c.HighResNode())
	require.Equal(t, 2, dp.Retained())
	require.True(t, obs.Valid())

	// Required children are kept even if over target.
	a.MarkUsed(3)
	culled = &record.CulledPagedLODs{NewHighresRequired: []*node.PagedLOD{a}}
	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 4}, culled)
	require.NotNil(t, a.HighResNode())
	require.Equal(t, 2, dp.Retained())

	dp.UpdateSceneGraph(&record.FrameStamp{FrameCount: 5})
	require.Zero(t, dp.Retained())
	require.Eventually(t, func() bool { return !obs.Valid() }, time.Second, time.Millisecond)

	// Evicted children may be requested again.
	require.True(t, dp.Request(b))
}

func TestStop(t *testing.T) {
	r := &tileReader{block: make(chan struct{})}
	gpu := soft.New()
	defer gpu.Close()
	pool := compile.NewBufferPool(gpu, driver.UVertexData, 0)
	defer pool.Destroy()
	reg := sgio.NewRegistry()
	reg.Register(r)
	cfg := DefaultConfig()
	cfg.NumReadThreads = 1
	dp, err := New(cfg, gpu, pool, reg)
	require.NoError(t, err)
	require.False(t, dp.Request(newPagedLOD("x.tile")))
	require.NoError(t, dp.Start(context.Background()))
	require.Error(t, dp.Start(context.Background()))

	ps := []*node.PagedLOD{newPagedLOD("a.tile"), newPagedLOD("b.tile")}
	for _, p := range ps {
		require.True(t, dp.Request(p))
	}
	require.Eventually(t, func() bool { return r.reads.Load() == 1 }, 5*time.Second, time.Millisecond)

	done := make(chan error)
	go func() { done <- dp.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("DatabasePager.Stop: timed out")
	}
	require.Zero(t, dp.NumActiveRequests())
	for _, p := range ps {
		require.Equal(t, node.NoRequest, p.Status())
		require.Equal(t, 1, p.RefCount())
	}
	require.False(t, dp.Request(ps[0]))

	// Restart.
	close(r.block)
	require.NoError(t, dp.Start(context.Background()))
	require.True(t, dp.Request(ps[0]))
	waitMerges(t, dp, 1)
	require.NoError(t, dp.Close())
}

func TestPagedLODEndToEnd(t *testing.T) {
	r := &tileReader{}
	dp, gpu := newPager(t, DefaultConfig(), r)

	low := node.NewGroup()
	plod := node.NewPagedLOD(linear.Sphere{Radius: 10}, "tile.tile", 0.1, low, 0)
	scene := node.NewGroup(plod)
	scene.Ref()
	defer scene.Unref()

	rt := record.New()
	rt.Pager = dp
	rt.Culled = &record.CulledPagedLODs{}
	var views record.ViewRegistry
	cam := record.NewCamera(linear.V3{0, 0, 500}, linear.V3{}, linear.V3{0, 1, 0}, math32.Pi/2, 1, 1, 1000)
	v := views.NewView(cam, scene)
	defer v.Close()

	dcb, err := gpu.NewCmdBuffer()
	require.NoError(t, err)
	cb := state.NewCommandBuffer(dcb, 0)
	var frame uint64
	draw := func() int {
		frame++
		fs := &record.FrameStamp{FrameCount: frame}
		dp.UpdateSceneGraph(fs, rt.Culled)
		rt.Culled.Clear()
		require.NoError(t, cb.Begin())
		dcb.BeginPass(1, 1)
		rt.RecordView(cb, fs, v)
		dcb.EndPass()
		require.NoError(t, cb.End())
		return cb.Stats().Draws
	}

	// Far away, only the low resolution child is drawn.
	for range 3 {
		require.Zero(t, draw())
	}
	require.Zero(t, r.reads.Load())

	cam.LookAt(linear.V3{0, 0, 50}, linear.V3{}, linear.V3{0, 1, 0})
	require.Zero(t, draw())
	require.Equal(t, 1, dp.NumActiveRequests())
	waitMerges(t, dp, 1)
	require.Equal(t, 1, draw())
	require.Equal(t, 1, draw())
	require.Equal(t, int32(1), r.reads.Load())
	require.Zero(t, dp.NumActiveRequests())

	// Far away again. The child is culled and then
	// evicted once over target.
	cam.LookAt(linear.V3{0, 0, 500}, linear.V3{}, linear.V3{0, 1, 0})
	dp.cfg.TargetMaxNumPagedLODWithHighResSubgraphs = 0
	for range 4 {
		require.Zero(t, draw())
	}
	require.Nil(t, plod.HighResNode())
	require.Zero(t, dp.Resident())
}

func TestFatalCompileError(t *testing.T) {
	r := &tileReader{}
	gpu := soft.New()
	defer gpu.Close()
	pool := compile.NewBufferPool(gpu, driver.UVertexData, 0)
	defer pool.Destroy()
	reg := sgio.NewRegistry()
	reg.Register(r)
	cfg := DefaultConfig()
	cfg.NumCompileThreads = 1
	dp, err := New(cfg, gpu, pool, reg)
	require.NoError(t, err)
	require.NoError(t, dp.Start(context.Background()))
	a, b := newPagedLOD("a.tile"), newPagedLOD("b.tile")
	defer a.Unref()
	defer b.Unref()

	gpu.FailNextCommit(driver.ErrFatal)
	require.True(t, dp.Request(a))
	require.Eventually(t, func() bool { return dp.NumActiveRequests() == 0 }, 5*time.Second, time.Millisecond)
	require.ErrorIs(t, dp.Err(), driver.ErrFatal)
	require.Equal(t, 1, a.LoadFailures())
	require.Equal(t, node.NoRequest, a.Status())

	// Nothing is accepted until the pager is restarted.
	require.False(t, dp.Request(b))
	require.Equal(t, node.NoRequest, b.Status())
	require.ErrorIs(t, dp.Stop(), driver.ErrFatal)
	require.NoError(t, dp.Start(context.Background()))
	require.NoError(t, dp.Err())
	require.True(t, dp.Request(b))
	waitMerges(t, dp, 1)
	require.NoError(t, dp.Close())
}

// Several views record the same paged scene
// concurrently while tiles are loaded, merged and
// evicted.
func TestPagerStress(t *testing.T) {
	const (
		tiles   = 16
		views   = 4
		frames  = 200
		spacing = 30
	)
	cfg := DefaultConfig()
	cfg.NumReadThreads = 3
	cfg.NumCompileThreads = 2
	cfg.TargetMaxNumPagedLODWithHighResSubgraphs = 4
	cfg.NumFramesToRetain = 2
	r := &tileReader{}
	dp, gpu := newPager(t, cfg, r)

	scene := node.NewGroup()
	plods := make([]*node.PagedLOD, tiles)
	for i := range plods {
		var m linear.M4
		m.Translate(float32(i*spacing), 0, 0)
		plods[i] = node.NewPagedLOD(linear.Sphere{Radius: 10}, fmt.Sprintf("%d.tile", i), 0.1, node.NewGroup(), 0)
		scene.AddChild(node.NewTransform(&m, plods[i]))
	}
	scene.Ref()
	defer scene.Unref()

	var reg record.ViewRegistry
	rts := make([]*record.RecordTraversal, views)
	cams := make([]*record.Camera, views)
	vs := make([]*record.View, views)
	cbs := make([]*state.CommandBuffer, views)
	culled := make([]*record.CulledPagedLODs, views)
	for i := range views {
		rts[i] = record.New()
		rts[i].Pager = dp
		rts[i].Culled = &record.CulledPagedLODs{}
		culled[i] = rts[i].Culled
		cams[i] = record.NewCamera(linear.V3{0, 0, 50}, linear.V3{}, linear.V3{0, 1, 0}, math32.Pi/2, 1, 1, 1000)
		vs[i] = reg.NewView(cams[i], scene)
		defer vs[i].Close()
		dcb, err := gpu.NewCmdBuffer()
		require.NoError(t, err)
		defer dcb.Destroy()
		cbs[i] = state.NewCommandBuffer(dcb, 0)
	}

	span := float32(tiles * spacing)
	var evictions, draws int
	for frame := uint64(1); frame <= frames; frame++ {
		fs := &record.FrameStamp{FrameCount: frame}
		var before []*node.PagedLOD
		for _, p := range plods {
			if p.HighResNode() != nil {
				before = append(before, p)
			}
		}
		dp.UpdateSceneGraph(fs, culled...)
		for _, p := range before {
			if p.HighResNode() == nil {
				evictions++
			}
		}
		for _, c := range culled {
			c.Clear()
		}

		var wg sync.WaitGroup
		errs := make([]error, views)
		counts := make([]int, views)
		for i := range views {
			wg.Add(1)
			go func() {
				defer wg.Done()
				x := math32.Mod(float32(frame)*3+float32(i)*span/views, span)
				cams[i].LookAt(linear.V3{x, 0, 50}, linear.V3{x, 0, 0}, linear.V3{0, 1, 0})
				if errs[i] = cbs[i].Begin(); errs[i] != nil {
					return
				}
				cbs[i].Cmd().BeginPass(1, 1)
				rts[i].RecordView(cbs[i], fs, vs[i])
				cbs[i].Cmd().EndPass()
				errs[i] = cbs[i].End()
				counts[i] = cbs[i].Stats().Draws
			}()
		}
		wg.Wait()
		for i := range views {
			require.NoError(t, errs[i])
			draws += counts[i]
		}
		time.Sleep(500 * time.Microsecond)
	}
	require.NoError(t, dp.Stop())
	require.NoError(t, dp.Err())

	require.Positive(t, r.reads.Load())
	require.Positive(t, draws)
	require.Positive(t, evictions)
	require.Zero(t, dp.NumActiveRequests())
	var resident int
	for _, p := range plods {
		require.Equal(t, node.NoRequest, p.Status(), p)
		require.Nil(t, p.Pending(), p)
		want := 1
		if p.HighResNode() != nil {
			resident++
			want++
		}
		require.Equal(t, want, p.RefCount(), p)
	}
	require.Equal(t, resident, dp.Resident())
}
