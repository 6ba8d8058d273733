// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package pager loads the high resolution children of
// PagedLOD nodes in the background and merges them
// into the scene graph.
package pager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/metrics"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/record"
	"github.com/gviegas/sgraph/sgio"
)

const prefix = "pager: "

var errStopped = errors.New(prefix + "stopped")

// Config configures a DatabasePager.
type Config struct {
	NumReadThreads    int
	NumCompileThreads int
	// TargetMaxNumPagedLODWithHighResSubgraphs is the
	// number of resident high resolution subgraphs
	// above which inactive ones are evicted.
	TargetMaxNumPagedLODWithHighResSubgraphs int
	// NumFramesToRetain is the number of frames that
	// an evicted subgraph is kept alive.
	NumFramesToRetain int
	// MaxLoadAttempts is the number of failed loads
	// after which a PagedLOD is no longer requested.
	// Zero means no limit.
	MaxLoadAttempts int
	// ReleaseWorkers is the size of the pool that
	// releases evicted subgraphs.
	ReleaseWorkers int
	// DeviceID identifies the device for which
	// subgraphs are compiled.
	DeviceID int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NumReadThreads:    4,
		NumCompileThreads: 1,
		TargetMaxNumPagedLODWithHighResSubgraphs: 1500,
		NumFramesToRetain: 3,
		MaxLoadAttempts:   3,
		ReleaseWorkers:    2,
	}
}

// DatabasePager reads, compiles and merges the high
// resolution children of PagedLODs.
// Request may be called from any goroutine; the
// remaining methods must be called from the frame
// goroutine.
type DatabasePager struct {
	cfg  Config
	gpu  driver.GPU
	pool *compile.BufferPool
	reg  *sgio.Registry
	log  logrus.FieldLogger

	status    ActivityStatus
	requests  *DatabaseQueue
	compiles  *DatabaseQueue
	merges    *DatabaseQueue
	numActive atomic.Int64
	ids       sync.Map

	container *PagedLODContainer
	deletes   *DeleteQueue
	required  *roaring.Bitmap

	group  *errgroup.Group
	cancel context.CancelFunc
	ctxs   []*compile.Context

	errMu sync.Mutex
	err   error

	merged []*node.PagedLOD
}

// New creates a new DatabasePager.
// Subgraphs are read using reg and compiled for gpu,
// with buffers allocated from pool.
func New(cfg Config, gpu driver.GPU, pool *compile.BufferPool, reg *sgio.Registry) (*DatabasePager, error) {
	if gpu == nil || pool == nil || reg == nil {
		return nil, errors.New(prefix + "nil GPU, BufferPool or Registry")
	}
	cfg.NumReadThreads = max(cfg.NumReadThreads, 1)
	cfg.NumCompileThreads = max(cfg.NumCompileThreads, 1)
	deletes, err := NewDeleteQueue(cfg.NumFramesToRetain, cfg.ReleaseWorkers)
	if err != nil {
		return nil, err
	}
	dp := &DatabasePager{
		cfg:       cfg,
		gpu:       gpu,
		pool:      pool,
		reg:       reg,
		log:       logrus.StandardLogger(),
		container: NewPagedLODContainer(),
		deletes:   deletes,
		required:  roaring.New(),
	}
	dp.requests = NewDatabaseQueue(&dp.status)
	dp.compiles = NewDatabaseQueue(&dp.status)
	dp.merges = NewDatabaseQueue(&dp.status)
	return dp, nil
}

// SetLogger sets the logger used by dp.
func (dp *DatabasePager) SetLogger(log logrus.FieldLogger) {
	dp.log = log
	dp.deletes.SetLogger(log)
}

// Config returns the configuration of dp.
func (dp *DatabasePager) Config() Config { return dp.cfg }

// NumActiveRequests returns the number of accepted
// requests that were neither merged nor discarded.
func (dp *DatabasePager) NumActiveRequests() int { return int(dp.numActive.Load()) }

// Resident returns the number of PagedLODs whose high
// resolution child is resident.
func (dp *DatabasePager) Resident() int { return dp.container.Len() }

// Retained returns the number of evicted subgraphs
// that were not released yet.
func (dp *DatabasePager) Retained() int { return dp.deletes.Len() }

// Start starts the reading and compiling goroutines.
func (dp *DatabasePager) Start(ctx context.Context) error {
	if dp.group != nil {
		return errors.New(prefix + "already started")
	}
	ctxs := make([]*compile.Context, 0, dp.cfg.NumCompileThreads)
	for range dp.cfg.NumCompileThreads {
		c, err := compile.NewContext(dp.gpu, dp.pool, dp.cfg.DeviceID)
		if err != nil {
			for _, c := range ctxs {
				c.Destroy()
			}
			return errors.Wrap(err, prefix+"compile context")
		}
		c.SetLogger(dp.log)
		ctxs = append(ctxs, c)
	}
	dp.ctxs = ctxs
	dp.errMu.Lock()
	dp.err = nil
	dp.errMu.Unlock()
	dp.status.Set(true)

	ctx, dp.cancel = context.WithCancel(ctx)
	var g *errgroup.Group
	g, ctx = errgroup.WithContext(ctx)
	for range dp.cfg.NumReadThreads {
		g.Go(func() error { return dp.read(ctx) })
	}
	for _, c := range ctxs {
		g.Go(func() error { return dp.compile(c) })
	}
	dp.group = g
	dp.log.WithFields(logrus.Fields{
		"readers":   dp.cfg.NumReadThreads,
		"compilers": dp.cfg.NumCompileThreads,
	}).Info("pager: started")
	return nil
}

// Err returns the unrecoverable error that stopped
// the goroutines of dp, if any. Once it is set, dp
// accepts no more requests until restarted.
func (dp *DatabasePager) Err() error {
	dp.errMu.Lock()
	defer dp.errMu.Unlock()
	return dp.err
}

// fail records err and wakes up every goroutine so
// that they exit.
func (dp *DatabasePager) fail(err error) {
	dp.errMu.Lock()
	if dp.err == nil {
		dp.err = err
	}
	dp.errMu.Unlock()
	dp.status.Set(false)
	dp.requests.Release()
	dp.compiles.Release()
	dp.merges.Release()
	dp.log.WithError(err).Error("pager: stopped accepting requests")
}

// Stop stops and joins the goroutines started by
// Start. Pending requests are discarded.
// It returns the first unrecoverable error that a
// goroutine encountered.
func (dp *DatabasePager) Stop() error {
	if dp.group == nil {
		return nil
	}
	dp.status.Set(false)
	dp.requests.Release()
	dp.compiles.Release()
	dp.merges.Release()
	dp.cancel()
	err := dp.group.Wait()
	dp.group = nil

	for _, q := range [...]*DatabaseQueue{dp.requests, dp.compiles, dp.merges} {
		for _, p := range q.TakeAll() {
			if n := p.TakePending(); n != nil {
				n.Unref()
			}
			dp.requestDiscarded(p, errStopped)
		}
	}
	for _, c := range dp.ctxs {
		c.Destroy()
	}
	dp.ctxs = nil
	dp.log.Info("pager: stopped")
	return err
}

// Close stops dp and releases every resident high
// resolution subgraph.
func (dp *DatabasePager) Close() error {
	err := dp.Stop()
	clear(dp.merged)
	dp.merged = nil
	for _, p := range dp.container.Clear() {
		if n := p.ReleaseHighRes(); n != nil {
			dp.deletes.Add(0, n)
		}
		p.Unref()
	}
	metrics.PagerResident.Set(0)
	dp.deletes.Close()
	return err
}

// Request requests the high resolution child of p.
// It never blocks. It returns false if p already has
// an outstanding request, its child is resident, it
// failed to load too many times or dp is not running.
func (dp *DatabasePager) Request(p *node.PagedLOD) bool {
	if !dp.status.Active() || p.HighResNode() != nil {
		return false
	}
	if dp.cfg.MaxLoadAttempts > 0 && p.LoadFailures() >= dp.cfg.MaxLoadAttempts {
		return false
	}
	if !p.CompareAndSwapStatus(node.NoRequest, node.ReadRequest) {
		return false
	}
	p.Ref()
	dp.numActive.Add(1)
	metrics.PagerActiveRequests.Inc()
	id := uuid.New().String()
	dp.ids.Store(p.ID(), id)
	dp.logger(p).WithField("priority", p.Priority()).Debug("pager: request accepted")
	dp.requests.Add(p)
	return true
}

func (dp *DatabasePager) logger(p *node.PagedLOD) logrus.FieldLogger {
	log := dp.log.WithFields(logrus.Fields{"plod": p.ID(), "file": p.Filename})
	if id, ok := dp.ids.Load(p.ID()); ok {
		log = log.WithField("request", id)
	}
	return log
}

// requestDiscarded ends the request of p without
// merging it.
func (dp *DatabasePager) requestDiscarded(p *node.PagedLOD, err error) {
	log := dp.logger(p).WithError(err)
	if errors.Is(err, errStopped) {
		log.Debug("pager: request discarded")
	} else {
		log.WithField("failures", p.LoadFailures()).Warn("pager: request discarded")
	}
	dp.ids.Delete(p.ID())
	p.SetStatus(node.NoRequest)
	dp.numActive.Add(-1)
	metrics.PagerActiveRequests.Dec()
	p.Unref()
}

func (dp *DatabasePager) loadFailed(p *node.PagedLOD, err error) {
	if n := p.TakePending(); n != nil {
		n.Unref()
	}
	p.AddLoadFailure()
	dp.requestDiscarded(p, err)
}

func (dp *DatabasePager) read(ctx context.Context) error {
	for {
		p := dp.requests.TakeWhenAvailable()
		if p == nil {
			return nil
		}
		if !p.CompareAndSwapStatus(node.ReadRequest, node.Reading) {
			dp.requestDiscarded(p, errors.Errorf(prefix+"unexpected status %v", p.Status()))
			continue
		}
		opts, _ := p.Options.(*sgio.Options)
		start := time.Now()
		n, err := dp.reg.Read(ctx, p.Filename, opts)
		metrics.PagerReadSeconds.Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
		case ctx.Err() != nil:
			dp.requestDiscarded(p, errStopped)
			continue
		default:
			metrics.PagerLoads.WithLabelValues("read", "error").Inc()
			dp.loadFailed(p, err)
			continue
		}
		metrics.PagerLoads.WithLabelValues("read", "ok").Inc()
		dp.logger(p).WithField("elapsed", time.Since(start)).Debug("pager: read")
		p.SetPending(n)
		p.SetStatus(node.Compiling)
		dp.compiles.Add(p)
	}
}

func (dp *DatabasePager) compile(ctx *compile.Context) error {
	for {
		p := dp.compiles.TakeWhenAvailable()
		if p == nil {
			return nil
		}
		if err := node.Compile(ctx, p.Pending()); err != nil {
			metrics.PagerLoads.WithLabelValues("compile", "error").Inc()
			fatal := errors.Is(err, driver.ErrFatal)
			if fatal {
				dp.fail(err)
			}
			dp.loadFailed(p, err)
			if fatal {
				return err
			}
			continue
		}
		metrics.PagerLoads.WithLabelValues("compile", "ok").Inc()
		p.SetStatus(node.MergeRequest)
		dp.merges.Add(p)
	}
}

// UpdateSceneGraph merges the compiled subgraphs into
// the scene graph and evicts high resolution children
// that were not used recently.
// culled holds the PagedLOD changes of the views
// recorded in the previous frame.
// It returns the PagedLODs merged by this call. The
// slice is only valid until the next call, and its
// elements may have been evicted already.
// It must be called from the frame goroutine, outside
// of any record traversal.
func (dp *DatabasePager) UpdateSceneGraph(fs *record.FrameStamp, culled ...*record.CulledPagedLODs) []*node.PagedLOD {
	frame := fs.FrameCount
	clear(dp.merged)
	dp.merged = dp.merged[:0]
	if n := dp.deletes.Advance(frame); n > 0 {
		dp.log.WithFields(logrus.Fields{"frame": frame, "count": n}).Debug("pager: released subgraphs")
	}
	dp.required.Clear()

	for _, p := range dp.merges.TakeAll() {
		p.SetStatus(node.Merging)
		n := p.TakePending()
		if n == nil || p.HighResNode() != nil {
			if n != nil {
				n.Unref()
			}
			dp.requestDiscarded(p, errors.New(prefix+"nothing to merge"))
			continue
		}
		p.PublishHighRes(n)
		dp.merged = append(dp.merged, p)
		p.ResetLoadFailures()
		p.MarkUsed(frame)
		dp.active(p)
		metrics.PagerMerges.Inc()
		dp.logger(p).WithField("frame", frame).Debug("pager: merged")
		dp.ids.Delete(p.ID())
		p.SetStatus(node.NoRequest)
		dp.numActive.Add(-1)
		metrics.PagerActiveRequests.Dec()
		p.Unref()
	}

	for _, c := range culled {
		if c == nil {
			continue
		}
		for _, p := range c.HighresCulled {
			if p.HighResNode() != nil && dp.container.Inactive(p) {
				p.Ref()
			}
		}
		for _, p := range c.NewHighresRequired {
			if p.HighResNode() != nil {
				dp.active(p)
			}
		}
	}
	dp.container.Stale(frame, func(p *node.PagedLOD) bool {
		return dp.required.Contains(p.ID())
	})

	for dp.container.Len() > dp.cfg.TargetMaxNumPagedLODWithHighResSubgraphs {
		p := dp.container.Evict(dp.required)
		if p == nil {
			break
		}
		if n := p.ReleaseHighRes(); n != nil {
			dp.deletes.Add(frame, n)
			metrics.PagerReleases.Inc()
			dp.logger(p).WithFields(logrus.Fields{
				"frame":    frame,
				"lastUsed": p.FrameHighResLastUsed(),
			}).Debug("pager: evicted")
		}
		p.Unref()
	}
	metrics.PagerResident.Set(float64(dp.container.Len()))
	return dp.merged
}

func (dp *DatabasePager) active(p *node.PagedLOD) {
	if dp.container.Active(p) {
		p.Ref()
	}
	dp.required.Add(p.ID())
}
