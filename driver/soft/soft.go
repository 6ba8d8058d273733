// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package soft implements driver interfaces on the CPU.
// Committed work executes in submission order on a single
// goroutine, optionally delayed to model GPU latency.
// It is meant for tests, benchmarks and headless tools.
package soft

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gviegas/sgraph/driver"
)

const driverName = "soft"

func init() { driver.Register(&Driver{}) }

// Driver implements driver.Driver.
type Driver struct {
	mu  sync.Mutex
	gpu *GPU
}

// Open implements driver.Driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		d.gpu = New()
		d.gpu.drv = d
	}
	return d.gpu, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return driverName }

// Close implements driver.Driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		d.gpu.Close()
		d.gpu = nil
	}
}

// Stats counts the work executed by a GPU.
type Stats struct {
	Commits     int64
	Copies      int64
	BytesCopied int64
	Draws       int64
	Buffers     int64
	Images      int64
}

// GPU implements driver.GPU.
// A GPU created by New is independent from the one
// returned by Driver.Open, so tests can use as many
// isolated GPUs as they need.
type GPU struct {
	drv     driver.Driver
	queue   chan submission
	done    chan struct{}
	latency atomic.Int64
	memUsed atomic.Int64
	memMax  atomic.Int64

	mu        sync.Mutex
	commitErr error
	execErr   error
	endErr    error

	commits, copies, bytes, draws, buffers, images atomic.Int64
}

type submission struct {
	wk *driver.WorkItem
	ch chan<- *driver.WorkItem
}

// New creates a new GPU.
func New() *GPU {
	g := &GPU{
		queue: make(chan submission, 64),
		done:  make(chan struct{}),
	}
	go g.execute()
	return g
}

// Close stops the execution goroutine.
// Pending work completes with driver.ErrFatal.
func (g *GPU) Close() {
	select {
	case <-g.done:
	default:
		close(g.done)
	}
}

// SetLatency sets the time each committed work item takes
// to execute.
func (g *GPU) SetLatency(d time.Duration) { g.latency.Store(int64(d)) }

// SetMemoryLimit sets the maximum number of bytes that can
// be allocated in buffers and images. Zero means no limit.
func (g *GPU) SetMemoryLimit(n int64) { g.memMax.Store(n) }

// MemoryUsed returns the number of bytes currently
// allocated.
func (g *GPU) MemoryUsed() int64 { return g.memUsed.Load() }

// FailNextCommit causes the next call to Commit to fail
// with err.
func (g *GPU) FailNextCommit(err error) { g.mu.Lock(); g.commitErr = err; g.mu.Unlock() }

// FailNextExecution causes the next committed work item
// to complete with err.
func (g *GPU) FailNextExecution(err error) { g.mu.Lock(); g.execErr = err; g.mu.Unlock() }

// FailNextEnd causes the next call to CmdBuffer.End to
// fail with err.
func (g *GPU) FailNextEnd(err error) { g.mu.Lock(); g.endErr = err; g.mu.Unlock() }

func (g *GPU) take(p *error) (err error) {
	g.mu.Lock()
	err, *p = *p, nil
	g.mu.Unlock()
	return
}

// Stats returns a snapshot of the execution counters.
func (g *GPU) Stats() Stats {
	return Stats{
		Commits:     g.commits.Load(),
		Copies:      g.copies.Load(),
		BytesCopied: g.bytes.Load(),
		Draws:       g.draws.Load(),
		Buffers:     g.buffers.Load(),
		Images:      g.images.Load(),
	}
}

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Commit implements driver.GPU.
func (g *GPU) Commit(wk *driver.WorkItem, ch chan<- *driver.WorkItem) error {
	if err := g.take(&g.commitErr); err != nil {
		return err
	}
	for _, cb := range wk.Work {
		c, ok := cb.(*cmdBuffer)
		switch {
		case !ok:
			return errors.New("soft: foreign command buffer")
		case c.recording:
			return errors.New("soft: command buffer not ended")
		case !c.ended:
			return errors.New("soft: command buffer not recorded")
		}
	}
	select {
	case <-g.done:
		return driver.ErrFatal
	case g.queue <- submission{wk, ch}:
		return nil
	}
}

// execute runs committed work in order.
func (g *GPU) execute() {
	for {
		select {
		case <-g.done:
			return
		case s := <-g.queue:
			if d := time.Duration(g.latency.Load()); d > 0 {
				select {
				case <-time.After(d):
				case <-g.done:
					s.wk.Err = driver.ErrFatal
					s.ch <- s.wk
					return
				}
			}
			for _, cb := range s.wk.Work {
				cb.(*cmdBuffer).run()
			}
			s.wk.Err = g.take(&g.execErr)
			g.commits.Add(1)
			s.ch <- s.wk
		}
	}
}

func (g *GPU) alloc(n int64) error {
	max := g.memMax.Load()
	if used := g.memUsed.Add(n); max > 0 && used > max {
		g.memUsed.Add(-n)
		return driver.ErrNoDeviceMemory
	}
	return nil
}

// NewCmdBuffer implements driver.GPU.
func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) { return &cmdBuffer{gpu: g}, nil }

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("soft: invalid buffer size")
	}
	if err := g.alloc(size); err != nil {
		return nil, err
	}
	g.buffers.Add(1)
	return &Buffer{gpu: g, data: make([]byte, size), visible: visible, usage: usg}, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if size.Width <= 0 || size.Height <= 0 || layers <= 0 || levels <= 0 || samples <= 0 {
		return nil, errors.New("soft: invalid image parameters")
	}
	if pf.Size() == 0 {
		return nil, errors.New("soft: invalid pixel format")
	}
	depth := max(size.Depth, 1)
	n := int64(pf.Size() * size.Width * size.Height * depth * layers)
	if err := g.alloc(n); err != nil {
		return nil, err
	}
	g.images.Add(1)
	return &Image{gpu: g, format: pf, size: size, layers: layers, data: make([]byte, n)}, nil
}

// NewPipeline implements driver.GPU.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	if state == nil {
		return nil, errors.New("soft: nil pipeline state")
	}
	return &Pipeline{State: state}, nil
}

// Limits implements driver.GPU.
func (g *GPU) Limits() driver.Limits {
	return driver.Limits{
		MaxImage2D: 16384,
		MaxLayers:  2048,
		MaxBuffer:  1 << 31,
		CopyAlign:  4,
	}
}

// Buffer implements driver.Buffer.
type Buffer struct {
	gpu     *GPU
	mu      sync.Mutex
	data    []byte
	visible bool
	usage   driver.Usage
}

// Visible implements driver.Buffer.
func (b *Buffer) Visible() bool { return b.visible }

// Bytes implements driver.Buffer.
func (b *Buffer) Bytes() []byte {
	if !b.visible {
		return nil
	}
	return b.data
}

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return int64(len(b.data)) }

// Destroy implements driver.Destroyer.
func (b *Buffer) Destroy() {
	if b.data != nil {
		b.gpu.memUsed.Add(-int64(len(b.data)))
		b.data = nil
	}
}

// Destroyed returns whether Destroy was called.
func (b *Buffer) Destroyed() bool { return b.data == nil }

// Contents returns a copy of the buffer's memory,
// regardless of host visibility.
func (b *Buffer) Contents() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Image implements driver.Image.
type Image struct {
	gpu    *GPU
	mu     sync.Mutex
	format driver.PixelFmt
	size   driver.Dim3D
	layers int
	data   []byte
}

// Format implements driver.Image.
func (m *Image) Format() driver.PixelFmt { return m.format }

// Size implements driver.Image.
func (m *Image) Size() driver.Dim3D { return m.size }

// Destroy implements driver.Destroyer.
func (m *Image) Destroy() {
	if m.data != nil {
		m.gpu.memUsed.Add(-int64(len(m.data)))
		m.data = nil
	}
}

// Contents returns a copy of the image's memory.
func (m *Image) Contents() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Pipeline implements driver.Pipeline.
type Pipeline struct {
	State     any
	destroyed bool
}

// Destroy implements driver.Destroyer.
func (p *Pipeline) Destroy() { p.destroyed = true }

// Destroyed returns whether Destroy was called.
func (p *Pipeline) Destroyed() bool { return p.destroyed }
