// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package transfer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/gviegas/sgraph/driver"
)

// ErrBusy means that a Block is still in use by the
// GPU.
var ErrBusy = errors.New(prefix + "block in use")

// Block is one of the rotating units of a Ring.
// It owns a command buffer and a staging buffer.
// The command buffer is wrapped in a work item that is
// held by the Block's channel whenever the GPU is not
// using it.
type Block struct {
	index   int
	wk      chan *driver.WorkItem
	staging driver.Buffer
	// Incremented on every commit.
	gen uint64
	// Copy counts advanced by the last commit.
	advanced []advance
}

// Index returns the position of b in its Ring.
func (b *Block) Index() int { return b.index }

// Staging returns the staging buffer of b, which may
// be nil.
func (b *Block) Staging() driver.Buffer { return b.staging }

// Ring rotates a fixed number of Blocks, one per frame
// in flight. A Block is only reused once the GPU is
// done with its previous commit.
// A Ring must be used from a single goroutine.
type Ring struct {
	blocks []*Block
	cur    int
	held   *driver.WorkItem
}

// NewRing creates a Ring with n Blocks.
func NewRing(gpu driver.GPU, n int) (*Ring, error) {
	if n < 1 {
		return nil, errors.New(prefix + "invalid number of blocks")
	}
	r := &Ring{blocks: make([]*Block, n)}
	for i := range r.blocks {
		cb, err := gpu.NewCmdBuffer()
		if err != nil {
			r.Destroy()
			return nil, errors.Wrap(err, prefix+"command buffer")
		}
		b := &Block{index: i, wk: make(chan *driver.WorkItem, 1)}
		b.wk <- &driver.WorkItem{Work: []driver.CmdBuffer{cb}, Custom: b}
		r.blocks[i] = b
	}
	return r, nil
}

// Len returns the number of Blocks.
func (r *Ring) Len() int { return len(r.blocks) }

// Current returns the Block that the next call to
// Acquire will wait for.
func (r *Ring) Current() *Block { return r.blocks[r.cur] }

// Acquire waits for the current Block to become
// available. It returns ErrBusy if the Block is still
// in use after timeout.
// The work item returned must be handed back with
// either Release or Commit.
func (r *Ring) Acquire(ctx context.Context, timeout time.Duration) (*Block, *driver.WorkItem, error) {
	if r.held != nil {
		panic("transfer: Ring.Acquire with a held block")
	}
	b := r.blocks[r.cur]
	var wk *driver.WorkItem
	select {
	case wk = <-b.wk:
	default:
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		select {
		case wk = <-b.wk:
		case <-tm.C:
			return nil, nil, ErrBusy
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	r.held = wk
	return b, wk, nil
}

// Release hands wk back without committing it.
// The Ring does not advance.
func (r *Ring) Release(wk *driver.WorkItem) {
	if r.held != wk {
		panic("transfer: Ring.Release of a block that is not held")
	}
	r.held = nil
	wk.Custom.(*Block).wk <- wk
}

// Commit commits wk for execution and advances the
// Ring. If it fails, wk is handed back and the Ring
// does not advance.
func (r *Ring) Commit(gpu driver.GPU, wk *driver.WorkItem) error {
	if r.held != wk {
		panic("transfer: Ring.Commit of a block that is not held")
	}
	b := wk.Custom.(*Block)
	if err := gpu.Commit(wk, b.wk); err != nil {
		r.Release(wk)
		return err
	}
	r.held = nil
	b.gen++
	r.cur = (r.cur + 1) % len(r.blocks)
	return nil
}

// Reap calls f for every idle Block without
// blocking. f may inspect and modify wk.
func (r *Ring) Reap(f func(b *Block, wk *driver.WorkItem)) {
	for _, b := range r.blocks {
		select {
		case wk := <-b.wk:
			f(b, wk)
			b.wk <- wk
		default:
		}
	}
}

// Wait waits until every Block is idle or timeout
// elapses. It returns ErrBusy on timeout.
func (r *Ring) Wait(timeout time.Duration) error {
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	for _, b := range r.blocks {
		select {
		case wk := <-b.wk:
			b.wk <- wk
		case <-tm.C:
			return ErrBusy
		}
	}
	return nil
}

// Destroy waits for every Block and destroys their
// resources.
func (r *Ring) Destroy() {
	for _, b := range r.blocks {
		if b == nil {
			continue
		}
		wk := <-b.wk
		wk.Work[0].Destroy()
		if b.staging != nil {
			b.staging.Destroy()
			b.staging = nil
		}
	}
	r.blocks = nil
}
