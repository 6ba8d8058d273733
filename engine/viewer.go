// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/engine/internal/ctxt"
	"github.com/gviegas/sgraph/metrics"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/pager"
	"github.com/gviegas/sgraph/record"
	"github.com/gviegas/sgraph/sgio"
	"github.com/gviegas/sgraph/state"
	"github.com/gviegas/sgraph/transfer"
)

const prefix = "engine: "

// FrameStats describes the last frame.
type FrameStats struct {
	FrameCount     uint64
	Draws          int
	Early, Late    transfer.Result
	ActiveRequests int
	Resident       int
}

// Viewer renders a set of views.
// Other than Request calls made by the pager's own
// traversal, a Viewer must be used from a single
// goroutine.
type Viewer struct {
	cfg Config
	gpu driver.GPU
	log logrus.FieldLogger

	pool  *compile.BufferPool
	cctx  *compile.Context
	reg   *sgio.Registry
	pager *pager.DatabasePager
	tasks transfer.Tasks
	// Scenes of removed views, kept until the frames
	// that recorded them complete.
	deletes *pager.DeleteQueue

	rt     *record.RecordTraversal
	culled record.CulledPagedLODs
	views  record.ViewRegistry
	active []*record.View

	cb []*state.CommandBuffer
	ch chan *driver.WorkItem

	fs    record.FrameStamp
	stats FrameStats
}

// New creates a new Viewer.
// If gpu is nil, the driver named by cfg.Driver is
// loaded.
func New(cfg Config, gpu driver.GPU) (v *Viewer, err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	if gpu == nil {
		if gpu, err = ctxt.Load(cfg.Driver); err != nil {
			return nil, errors.Wrap(err, prefix+"driver")
		}
	}
	v = &Viewer{
		cfg:  cfg,
		gpu:  gpu,
		log:  logrus.StandardLogger(),
		pool: compile.NewBufferPool(gpu, driver.UVertexData|driver.UIndexData, 0),
		reg:  sgio.NewRegistry(),
		rt:   record.New(),
	}
	defer func() {
		if err != nil {
			v.Close()
			v = nil
		}
	}()
	if v.cctx, err = compile.NewContext(gpu, v.pool, 0); err != nil {
		return
	}
	if v.pager, err = pager.New(cfg.pagerConfig(), gpu, v.pool, v.reg); err != nil {
		return
	}
	if v.tasks.Early, err = transfer.New(gpu, cfg.transferConfig()); err != nil {
		return
	}
	if v.tasks.Late, err = transfer.New(gpu, cfg.transferConfig()); err != nil {
		return
	}
	n := cfg.frames()
	if v.deletes, err = pager.NewDeleteQueue(n, cfg.ReleaseWorkers); err != nil {
		return
	}
	v.cb = make([]*state.CommandBuffer, 0, n)
	v.ch = make(chan *driver.WorkItem, n)
	for i := range n {
		var cb driver.CmdBuffer
		if cb, err = gpu.NewCmdBuffer(); err != nil {
			err = errors.Wrap(err, prefix+"command buffer")
			return
		}
		v.cb = append(v.cb, state.NewCommandBuffer(cb, 0))
		v.ch <- &driver.WorkItem{Work: []driver.CmdBuffer{cb}, Custom: i}
	}
	v.rt.Pager = v.pager
	v.rt.Culled = &v.culled
	v.rt.AddBin(record.NewBin(0, record.Descending))
	return
}

// SetLogger sets the logger used by v and its
// components.
func (v *Viewer) SetLogger(log logrus.FieldLogger) {
	v.log = log
	v.cctx.SetLogger(log)
	v.reg.SetLogger(log)
	v.pager.SetLogger(log)
	v.deletes.SetLogger(log)
	v.tasks.Early.SetLogger(log.WithField("task", "early"))
	v.tasks.Late.SetLogger(log.WithField("task", "late"))
	v.rt.SetLogger(log)
}

// Config returns the configuration of v.
func (v *Viewer) Config() Config { return v.cfg }

// GPU returns the driver.GPU used by v.
func (v *Viewer) GPU() driver.GPU { return v.gpu }

// Registry returns the sgio.Registry used to read
// scenes and paged subgraphs.
func (v *Viewer) Registry() *sgio.Registry { return v.reg }

// Pager returns the DatabasePager of v.
func (v *Viewer) Pager() *pager.DatabasePager { return v.pager }

// RecordTraversal returns the RecordTraversal of v.
// Bins can be added to it.
func (v *Viewer) RecordTraversal() *record.RecordTraversal { return v.rt }

// Stats returns the statistics of the last frame.
func (v *Viewer) Stats() FrameStats { return v.stats }

// Options returns new sgio.Options that search the
// configured paths.
func (v *Viewer) Options() *sgio.Options {
	return &sgio.Options{SearchPaths: slices.Clone(v.cfg.SearchPaths)}
}

// Start starts the pager.
func (v *Viewer) Start(ctx context.Context) error {
	return errors.Wrap(v.pager.Start(ctx), prefix+"pager")
}

// Load reads the scene at locator.
// The caller owns one reference to the result.
func (v *Viewer) Load(ctx context.Context, locator string) (node.Node, error) {
	return v.reg.Read(ctx, locator, v.Options())
}

// AddView compiles scene, assigns its dynamic data for
// transfer and creates a View of it.
// v holds a reference to scene until the View is
// removed.
func (v *Viewer) AddView(cam *record.Camera, scene node.Node) (*record.View, error) {
	scene.Ref()
	if err := node.Compile(v.cctx, scene); err != nil {
		scene.Unref()
		return nil, errors.Wrap(err, prefix+"compile")
	}
	d := node.CollectDynamic(scene)
	v.tasks.Assign(d.Buffers, d.Images)
	view := v.views.NewView(cam, scene)
	v.active = append(v.active, view)
	v.log.WithFields(logrus.Fields{
		"view":    view.ID,
		"dynamic": len(d.Buffers) + len(d.Images),
	}).Debug("engine: view added")
	return view, nil
}

// RemoveView removes a View created by AddView.
// The reference to its scene is dropped once every
// frame that recorded it completes.
func (v *Viewer) RemoveView(view *record.View) {
	i := slices.Index(v.active, view)
	if i < 0 {
		return
	}
	v.active = slices.Delete(v.active, i, i+1)
	scene := view.Scene
	view.Close()
	v.deletes.Add(v.fs.FrameCount, scene)
}

// Views returns the current views.
func (v *Viewer) Views() []*record.View { return v.active }

// acquire waits for the work item of the next frame.
func (v *Viewer) acquire(ctx context.Context) (*driver.WorkItem, error) {
	var wk *driver.WorkItem
	select {
	case wk = <-v.ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := wk.Err; err != nil {
		wk.Err = nil
		v.ch <- wk
		return nil, errors.Wrap(err, prefix+"previous frame")
	}
	return wk, nil
}

func observe(phase string, start time.Time) time.Time {
	now := time.Now()
	metrics.FrameSeconds.WithLabelValues(phase).Observe(now.Sub(start).Seconds())
	return now
}

// Frame renders one frame.
// The high resolution subgraphs loaded since the last
// frame are merged first and their dynamic data is
// assigned for transfer. Then data marked as
// data.Dynamic is transferred, the views are recorded,
// data.DynamicLate is transferred and the frame is
// committed.
// Transfers that cannot proceed because the GPU is
// still busy are retried in the next frame. Device
// failures, including those that stopped the pager,
// are returned.
func (v *Viewer) Frame(ctx context.Context) error {
	if err := v.pager.Err(); err != nil {
		return errors.Wrap(err, prefix+"pager")
	}
	start := time.Now()
	v.fs = record.FrameStamp{FrameCount: v.fs.FrameCount + 1, Time: start}
	v.stats = FrameStats{FrameCount: v.fs.FrameCount}
	log := v.log.WithField("frame", v.fs.FrameCount)

	for _, p := range v.pager.UpdateSceneGraph(&v.fs, &v.culled) {
		if n := p.HighResNode(); n != nil {
			d := node.CollectDynamic(n)
			v.tasks.Assign(d.Buffers, d.Images)
		}
	}
	v.culled.Clear()
	t := observe("update", start)

	v.stats.Early = v.tasks.Early.TransferData(ctx)
	if err := v.transferred(log, v.stats.Early); err != nil {
		return err
	}

	wk, err := v.acquire(ctx)
	if err != nil {
		return err
	}
	v.deletes.Advance(v.fs.FrameCount)
	cb := v.cb[wk.Custom.(int)]
	if err = cb.Begin(); err != nil {
		v.ch <- wk
		return errors.Wrap(err, prefix+"Begin")
	}
	cb.Cmd().BeginPass(v.cfg.Width, v.cfg.Height)
	for _, view := range v.active {
		v.rt.RecordView(cb, &v.fs, view)
	}
	cb.Cmd().EndPass()
	if err = cb.End(); err != nil {
		v.ch <- wk
		return errors.Wrap(err, prefix+"End")
	}
	v.stats.Draws = cb.Stats().Draws
	t = observe("record", t)

	v.stats.Late = v.tasks.Late.TransferData(ctx)
	if err = v.transferred(log, v.stats.Late); err != nil {
		cb.Cmd().Reset()
		v.ch <- wk
		return err
	}
	t = observe("transfer", t)

	if err = v.gpu.Commit(wk, v.ch); err != nil {
		cb.Cmd().Reset()
		v.ch <- wk
		return errors.Wrap(err, prefix+"Commit")
	}
	observe("submit", t)

	v.stats.ActiveRequests = v.pager.NumActiveRequests()
	v.stats.Resident = v.pager.Resident()
	metrics.FrameDraws.Set(float64(v.stats.Draws))
	log.WithFields(logrus.Fields{
		"draws":    v.stats.Draws,
		"early":    v.stats.Early.Status,
		"late":     v.stats.Late.Status,
		"requests": v.stats.ActiveRequests,
		"resident": v.stats.Resident,
	}).Debug("engine: frame committed")
	return nil
}

func (v *Viewer) transferred(log logrus.FieldLogger, res transfer.Result) error {
	switch res.Status {
	case transfer.Failed:
		return errors.Wrap(res.Err, prefix+"transfer")
	case transfer.NotReady:
		log.WithError(res.Err).Debug("engine: transfer deferred")
	}
	return nil
}

// Wait waits for every committed frame to complete.
// It returns transfer.ErrBusy on timeout.
func (v *Viewer) Wait(timeout time.Duration) error {
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	wks := make([]*driver.WorkItem, 0, cap(v.ch))
	defer func() {
		for _, wk := range wks {
			v.ch <- wk
		}
	}()
	for range cap(v.ch) {
		select {
		case wk := <-v.ch:
			wks = append(wks, wk)
		case <-tm.C:
			return transfer.ErrBusy
		}
	}
	if err := v.tasks.Early.Wait(timeout); err != nil {
		return err
	}
	return v.tasks.Late.Wait(timeout)
}

// Close stops the pager, waits for committed work and
// releases every resource of v.
func (v *Viewer) Close() error {
	var err error
	if v.pager != nil {
		err = v.pager.Close()
		v.pager = nil
	}
	if v.ch != nil {
		for range len(v.cb) {
			wk := <-v.ch
			wk.Work[0].Destroy()
		}
		v.ch = nil
		v.cb = nil
	}
	for _, t := range [...]*transfer.TransferTask{v.tasks.Early, v.tasks.Late} {
		if t != nil {
			t.Destroy()
		}
	}
	v.tasks = transfer.Tasks{}
	for _, view := range v.active {
		scene := view.Scene
		view.Close()
		scene.Unref()
	}
	v.active = nil
	if v.deletes != nil {
		v.deletes.Close()
		v.deletes = nil
	}
	if v.cctx != nil {
		v.cctx.Destroy()
		v.cctx = nil
	}
	if v.pool != nil {
		v.pool.Destroy()
		v.pool = nil
	}
	return err
}
