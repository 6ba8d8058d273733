// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package transfer uploads modified data to the
// device buffers and images created by compilation.
package transfer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/internal/idmap"
	"github.com/gviegas/sgraph/metrics"
)

const prefix = "transfer: "

// ErrNotYet means that a commit has not completed
// within the given timeout.
var ErrNotYet = errors.New(prefix + "not yet complete")

// Status is the outcome of a transfer.
type Status int

// Transfer statuses.
const (
	// Nothing was dirty.
	NothingToDo Status = iota
	// Copies were committed.
	Submitted
	// The Block was in use; data stays dirty.
	NotReady
	// Recording or committing failed; copy counts
	// were rolled back.
	Failed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case NothingToDo:
		return "NothingToDo"
	case Submitted:
		return "Submitted"
	case NotReady:
		return "NotReady"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is the result of TransferData.
type Result struct {
	Status Status
	Err    error
	// Number of bytes and copy regions committed.
	Bytes  int64
	Copies int

	blk *Block
	gen uint64
}

// Wait waits for the commit of a Submitted result to
// complete. It returns ErrNotYet on timeout, and the
// execution error otherwise. It returns nil for other
// statuses.
// It must be called from the goroutine that calls
// TransferData.
func (r Result) Wait(timeout time.Duration) error {
	if r.Status != Submitted || r.blk.gen != r.gen {
		return nil
	}
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case wk := <-r.blk.wk:
		err := wk.Err
		r.blk.wk <- wk
		return err
	case <-tm.C:
		return ErrNotYet
	}
}

// copyTracker is implemented by data.BufferInfo and
// data.ImageInfo.
type copyTracker interface {
	Ref()
	Unref() bool
	CopiedCount(dev int) uint64
	SetCopiedCount(dev int, n uint64)
}

// advance records an optimistic copy count update.
// The Block holds a reference to x until the commit
// completes.
type advance struct {
	x         copyTracker
	prev, new uint64
}

// Config configures a TransferTask.
type Config struct {
	// NumBlocks is the number of frames in flight.
	NumBlocks int
	// MinimumStagingBufferSize is the initial size of
	// each Block's staging buffer.
	MinimumStagingBufferSize int64
	// Timeout bounds the wait for a Block.
	Timeout time.Duration
	// DeviceID identifies the device whose copy counts
	// are tracked.
	DeviceID int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NumBlocks:                3,
		MinimumStagingBufferSize: 1 << 16,
		Timeout:                  time.Second,
	}
}

// TransferTask copies the modified data of its
// entries to the device.
// A TransferTask must be used from a single goroutine.
type TransferTask struct {
	gpu  driver.GPU
	cfg  Config
	ring *Ring
	log  logrus.FieldLogger

	buffers idmap.Map[int, *data.BufferInfo]
	images  idmap.Map[int, *data.ImageInfo]
	index   map[any]bool

	// Scratch.
	dirty []*data.BufferInfo
	dimgs []*data.ImageInfo
	drop  []int
	order map[driver.Buffer]int
}

// New creates a new TransferTask.
func New(gpu driver.GPU, cfg Config) (*TransferTask, error) {
	cfg.NumBlocks = max(cfg.NumBlocks, 1)
	ring, err := NewRing(gpu, cfg.NumBlocks)
	if err != nil {
		return nil, err
	}
	return &TransferTask{
		gpu:   gpu,
		cfg:   cfg,
		ring:  ring,
		log:   logrus.StandardLogger(),
		index: make(map[any]bool),
		order: make(map[driver.Buffer]int),
	}, nil
}

// SetLogger sets the logger used by t.
func (t *TransferTask) SetLogger(log logrus.FieldLogger) { t.log = log }

// Ring returns the Ring of t.
func (t *TransferTask) Ring() *Ring { return t.ring }

// Len returns the number of entries.
func (t *TransferTask) Len() int { return t.buffers.Len() + t.images.Len() }

// Assign adds buffers and images to the entries of t,
// taking a reference to each new entry.
func (t *TransferTask) Assign(buffers []*data.BufferInfo, images []*data.ImageInfo) {
	for _, x := range buffers {
		if x != nil && !t.index[x] {
			x.Ref()
			t.index[x] = true
			t.buffers.Insert(x)
		}
	}
	for _, x := range images {
		if x != nil && !t.index[x] {
			x.Ref()
			t.index[x] = true
			t.images.Insert(x)
		}
	}
}

// dropOrphans drops the entries that are only
// referenced by t.
func (t *TransferTask) dropOrphans() {
	t.drop = t.drop[:0]
	t.buffers.Each(func(id int, x **data.BufferInfo) {
		if (*x).RefCount() <= 1 {
			t.drop = append(t.drop, id)
		}
	})
	for _, id := range t.drop {
		x := t.buffers.Remove(id)
		delete(t.index, x)
		x.Unref()
	}
	t.drop = t.drop[:0]
	t.images.Each(func(id int, x **data.ImageInfo) {
		if (*x).RefCount() <= 1 {
			t.drop = append(t.drop, id)
		}
	})
	for _, id := range t.drop {
		x := t.images.Remove(id)
		delete(t.index, x)
		x.Unref()
	}
}

// TransferData records and commits copies of every
// entry whose data changed since its last copy.
// Entries that were not compiled are skipped.
func (t *TransferTask) TransferData(ctx context.Context) Result {
	t.ring.Reap(t.settle)
	t.dropOrphans()
	dev := t.cfg.DeviceID
	t.dirty = t.dirty[:0]
	t.buffers.Each(func(_ int, x **data.BufferInfo) {
		if (*x).RequiresCopy(dev) && (*x).Range > 0 {
			t.dirty = append(t.dirty, *x)
		}
	})
	t.dimgs = t.dimgs[:0]
	t.images.Each(func(_ int, x **data.ImageInfo) {
		if (*x).RequiresCopy(dev) {
			t.dimgs = append(t.dimgs, *x)
		}
	})
	if len(t.dirty) == 0 && len(t.dimgs) == 0 {
		return Result{Status: NothingToDo}
	}

	blk, wk, err := t.ring.Acquire(ctx, t.cfg.Timeout)
	if err != nil {
		metrics.TransferBusy.Inc()
		t.log.WithFields(logrus.Fields{"block": t.ring.Current().Index(), "dirty": len(t.dirty) + len(t.dimgs)}).Debug("transfer: block busy")
		return Result{Status: NotReady, Err: err}
	}
	t.settle(blk, wk)

	res, err := t.record(blk, wk)
	if err != nil {
		release(blk, dev, true)
		t.ring.Release(wk)
		return Result{Status: Failed, Err: err}
	}
	if err = t.ring.Commit(t.gpu, wk); err != nil {
		release(blk, dev, true)
		wk.Work[0].Reset()
		return Result{Status: Failed, Err: errors.Wrap(err, prefix+"Commit")}
	}
	metrics.TransferBytes.Add(float64(res.Bytes))
	metrics.TransferCopies.Add(float64(res.Copies))
	t.log.WithFields(logrus.Fields{
		"block":  blk.index,
		"bytes":  res.Bytes,
		"copies": res.Copies,
	}).Debug("transfer: committed")
	res.Status = Submitted
	res.blk = blk
	res.gen = blk.gen
	return res
}

// settle ends the last commit of an idle blk. Its copy
// counts are rolled back if the execution failed.
func (t *TransferTask) settle(blk *Block, wk *driver.WorkItem) {
	failed := wk.Err != nil
	if failed {
		t.log.WithError(wk.Err).WithField("block", blk.index).Warn("transfer: execution failed")
		wk.Err = nil
	}
	release(blk, t.cfg.DeviceID, failed)
}

// release drops the references held by blk, first
// restoring the copy counts it advanced if rollback
// is set.
func release(blk *Block, dev int, rollback bool) {
	if len(blk.advanced) == 0 {
		return
	}
	for _, a := range blk.advanced {
		if rollback && a.x.CopiedCount(dev) == a.new {
			a.x.SetCopiedCount(dev, a.prev)
		}
		a.x.Unref()
	}
	clear(blk.advanced)
	blk.advanced = blk.advanced[:0]
	if rollback {
		metrics.TransferRollbacks.Inc()
	}
}

// stagingSize returns an upper bound of the staging
// memory needed by the dirty entries.
func (t *TransferTask) stagingSize() (n int64) {
	for _, x := range t.dirty {
		n += (x.Range + 3) &^ 3
	}
	for _, x := range t.dimgs {
		n += int64(x.Data.Len()+3) &^ 3
	}
	return
}

// reserve grows the staging buffer of blk to hold at
// least n bytes.
func (t *TransferTask) reserve(blk *Block, n int64) error {
	if blk.staging != nil && blk.staging.Cap() >= n {
		return nil
	}
	sz := max(t.cfg.MinimumStagingBufferSize, 4)
	if blk.staging != nil {
		sz = blk.staging.Cap() * 2
	}
	for sz < n {
		sz *= 2
	}
	buf, err := t.gpu.NewBuffer(sz, true, driver.UCopySrc)
	if err != nil {
		return errors.Wrap(err, prefix+"staging buffer")
	}
	if blk.staging != nil {
		blk.staging.Destroy()
	}
	blk.staging = buf
	t.log.WithFields(logrus.Fields{"block": blk.index, "size": sz}).Debug("transfer: staging buffer grown")
	return nil
}

// record writes the dirty entries to the staging
// buffer of blk and records the copies into wk.
// Copy counts are advanced as entries are staged.
func (t *TransferTask) record(blk *Block, wk *driver.WorkItem) (res Result, err error) {
	if err = t.reserve(blk, t.stagingSize()); err != nil {
		return
	}
	cb := wk.Work[0]
	if err = cb.Begin(); err != nil {
		err = errors.Wrap(err, prefix+"Begin")
		return
	}
	dev := t.cfg.DeviceID
	staging := blk.staging.Bytes()

	// Sort by destination so that contiguous regions
	// of the same buffer can be copied at once.
	clear(t.order)
	for _, x := range t.dirty {
		if _, ok := t.order[x.Buffer]; !ok {
			t.order[x.Buffer] = len(t.order)
		}
	}
	slices.SortStableFunc(t.dirty, func(a, b *data.BufferInfo) int {
		if d := t.order[a.Buffer] - t.order[b.Buffer]; d != 0 {
			return d
		}
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})

	var off int64
	var run *driver.BufferCopy
	flush := func() {
		if run != nil {
			cb.CopyBuffer(run)
			res.Copies++
			run = nil
		}
	}
	for _, x := range t.dirty {
		contiguous := run != nil && run.To == x.Buffer && run.ToOff+run.Size == x.Offset
		if !contiguous {
			flush()
			off = (off + 3) &^ 3
			run = &driver.BufferCopy{From: blk.staging, FromOff: off, To: x.Buffer, ToOff: x.Offset}
		}
		_, cnt := x.Data.ReadAt(staging[off:off+x.Range], 0)
		off += x.Range
		run.Size += x.Range
		res.Bytes += x.Range
		x.Ref()
		blk.advanced = append(blk.advanced, advance{x, x.CopiedCount(dev), cnt})
		x.SetCopiedCount(dev, cnt)
	}
	flush()

	for _, x := range t.dimgs {
		off = (off + 3) &^ 3
		n := int64(x.Data.Len())
		_, cnt := x.Data.ReadAt(staging[off:off+n], 0)
		size := driver.Dim3D{Width: x.Width, Height: x.Height}
		cb.Transition([]driver.Transition{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SFragmentShading,
				SyncAfter:    driver.SCopy,
				AccessBefore: driver.AShaderRead,
				AccessAfter:  driver.ACopyWrite,
			},
			LayoutBefore: driver.LShaderRead,
			LayoutAfter:  driver.LCopyDst,
			Img:          x.Image,
			Layer:        x.Layer,
			Layers:       1,
			Levels:       1,
		}})
		cb.CopyBufToImg(&driver.BufImgCopy{
			Buf:    blk.staging,
			BufOff: off,
			Stride: [2]int{x.Width, x.Height},
			Img:    x.Image,
			Layer:  x.Layer,
			Size:   size,
			Layers: 1,
		})
		cb.Transition([]driver.Transition{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SCopy,
				SyncAfter:    driver.SFragmentShading,
				AccessBefore: driver.ACopyWrite,
				AccessAfter:  driver.AShaderRead,
			},
			LayoutBefore: driver.LCopyDst,
			LayoutAfter:  driver.LShaderRead,
			Img:          x.Image,
			Layer:        x.Layer,
			Layers:       1,
			Levels:       1,
		}})
		off += n
		res.Bytes += n
		res.Copies++
		x.Ref()
		blk.advanced = append(blk.advanced, advance{x, x.CopiedCount(dev), cnt})
		x.SetCopiedCount(dev, cnt)
	}

	if err = cb.End(); err != nil {
		err = errors.Wrap(err, prefix+"End")
	}
	return
}

// Wait waits for every commit of t to complete.
func (t *TransferTask) Wait(timeout time.Duration) error { return t.ring.Wait(timeout) }

// Destroy waits for pending commits, drops every entry
// and destroys the driver resources of t.
func (t *TransferTask) Destroy() {
	blocks := t.ring.blocks
	t.ring.Destroy()
	for _, b := range blocks {
		if b != nil {
			release(b, t.cfg.DeviceID, false)
		}
	}
	t.buffers.Each(func(_ int, x **data.BufferInfo) { (*x).Unref() })
	t.images.Each(func(_ int, x **data.ImageInfo) { (*x).Unref() })
	t.buffers = idmap.Map[int, *data.BufferInfo]{}
	t.images = idmap.Map[int, *data.ImageInfo]{}
	clear(t.index)
}

// Tasks routes dynamic data to the task that transfers
// it: data.Dynamic data is transferred early in the
// frame, before recording, and data.DynamicLate data
// late, after recording.
type Tasks struct {
	Early *TransferTask
	Late  *TransferTask
}

// Assign assigns each entry to the task that matches
// its data's variance. Static entries are ignored.
func (ts *Tasks) Assign(buffers []*data.BufferInfo, images []*data.ImageInfo) {
	var eb, lb []*data.BufferInfo
	for _, x := range buffers {
		switch x.Data.Variance() {
		case data.Dynamic:
			eb = append(eb, x)
		case data.DynamicLate:
			lb = append(lb, x)
		}
	}
	var ei, li []*data.ImageInfo
	for _, x := range images {
		switch x.Data.Variance() {
		case data.Dynamic:
			ei = append(ei, x)
		case data.DynamicLate:
			li = append(li, x)
		}
	}
	if ts.Early != nil {
		ts.Early.Assign(eb, ei)
	}
	if ts.Late != nil {
		ts.Late.Assign(lb, li)
	}
}
