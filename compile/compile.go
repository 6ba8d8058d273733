// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package compile creates the device resources of
// scene graph objects.
package compile

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
)

const prefix = "compile: "

// Compilable is the interface of objects that own
// device resources.
// Compile must be idempotent: calling it on an object
// that was already compiled has no effect.
type Compilable interface {
	Compile(ctx *Context) error
}

// Context records the copy commands that initialize
// newly created device resources.
// Each goroutine that compiles must use its own
// Context, since it owns a command buffer and a
// staging buffer.
type Context struct {
	gpu      driver.GPU
	pool     *BufferPool
	deviceID int
	log      logrus.FieldLogger

	wk      chan *driver.WorkItem
	staging driver.Buffer
	off     int64
	pend    []func(failed bool)
	nres    int
}

// MinStagingSize is the minimum size of a Context's
// staging buffer.
const MinStagingSize = 65536

// NewContext creates a new Context.
// Buffers are allocated from pool, and copy counts are
// tracked for device deviceID.
func NewContext(gpu driver.GPU, pool *BufferPool, deviceID int) (*Context, error) {
	cb, err := gpu.NewCmdBuffer()
	if err != nil {
		return nil, errors.Wrap(err, prefix+"command buffer")
	}
	wk := make(chan *driver.WorkItem, 1)
	wk <- &driver.WorkItem{Work: []driver.CmdBuffer{cb}}
	return &Context{
		gpu:      gpu,
		pool:     pool,
		deviceID: deviceID,
		log:      logrus.StandardLogger(),
		wk:       wk,
	}, nil
}

// SetLogger sets the logger used by c.
func (c *Context) SetLogger(log logrus.FieldLogger) { c.log = log }

// GPU returns the driver.GPU used by c.
func (c *Context) GPU() driver.GPU { return c.gpu }

// DeviceID returns the device identifier of c.
func (c *Context) DeviceID() int { return c.deviceID }

// Resources returns the number of resources created
// through c.
func (c *Context) Resources() int { return c.nres }

// cmd returns the command buffer, beginning it if
// necessary. It must be paired with a call to done.
func (c *Context) cmd() (*driver.WorkItem, error) {
	wk := <-c.wk
	if !wk.Work[0].IsRecording() {
		if err := wk.Work[0].Begin(); err != nil {
			c.wk <- wk
			return nil, errors.Wrap(err, prefix+"Begin")
		}
	}
	return wk, nil
}

func (c *Context) done(wk *driver.WorkItem) { c.wk <- wk }

// reserve reserves n bytes of staging memory.
// It may need to commit pending copies to grow the
// staging buffer.
func (c *Context) reserve(n int64) (off int64, err error) {
	n = (n + 3) &^ 3
	if c.staging != nil && c.off+n <= c.staging.Cap() {
		off = c.off
		c.off += n
		return
	}
	if c.off > 0 {
		if err = c.Finish(); err != nil {
			return
		}
	}
	if c.staging == nil || c.staging.Cap() < n {
		sz := int64(MinStagingSize)
		if c.staging != nil {
			sz = c.staging.Cap() * 2
			c.staging.Destroy()
			c.staging = nil
		}
		for sz < n {
			sz *= 2
		}
		if c.staging, err = c.gpu.NewBuffer(sz, true, driver.UCopySrc); err != nil {
			return 0, errors.Wrap(err, prefix+"staging buffer")
		}
		c.log.WithField("size", sz).Debug("compile: staging buffer grown")
	}
	c.off = n
	return 0, nil
}

// CompileBuffer allocates device memory for bi and
// records a copy of its data.
// It does nothing if bi was already compiled.
func (c *Context) CompileBuffer(bi *data.BufferInfo) error {
	if bi.Buffer != nil {
		return nil
	}
	if bi.Range <= 0 {
		return errors.New(prefix + "empty BufferInfo")
	}
	sp, err := c.pool.Alloc(bi.Range)
	if err != nil {
		return errors.Wrap(err, prefix+"buffer allocation")
	}
	off, err := c.reserve(bi.Range)
	if err != nil {
		c.pool.Free(sp)
		return err
	}
	_, cnt := bi.Data.ReadAt(c.staging.Bytes()[off:off+bi.Range], 0)
	wk, err := c.cmd()
	if err != nil {
		c.pool.Free(sp)
		return err
	}
	wk.Work[0].CopyBuffer(&driver.BufferCopy{
		From:    c.staging,
		FromOff: off,
		To:      sp.Buffer,
		ToOff:   sp.Offset,
		Size:    bi.Range,
	})
	c.done(wk)

	bi.Buffer = sp.Buffer
	bi.Offset = sp.Offset
	prev := bi.CopiedCount(c.deviceID)
	bi.SetCopiedCount(c.deviceID, cnt)
	pool := c.pool
	bi.OnRelease(func() { pool.Free(sp) })
	dev := c.deviceID
	c.pend = append(c.pend, func(failed bool) {
		if failed {
			bi.SetCopiedCount(dev, prev)
		}
	})
	c.nres++
	return nil
}

// CompileImage creates a device image for ii and
// records a copy of its data.
// It does nothing if ii was already compiled.
func (c *Context) CompileImage(ii *data.ImageInfo) error {
	if ii.Image != nil {
		return nil
	}
	size := driver.Dim3D{Width: ii.Width, Height: ii.Height}
	img, err := c.gpu.NewImage(ii.Format, size, 1, 1, 1, driver.UCopyDst|driver.UShaderSample)
	if err != nil {
		return errors.Wrap(err, prefix+"image creation")
	}
	n := int64(ii.Data.Len())
	off, err := c.reserve(n)
	if err != nil {
		img.Destroy()
		return err
	}
	_, cnt := ii.Data.ReadAt(c.staging.Bytes()[off:off+n], 0)
	wk, err := c.cmd()
	if err != nil {
		img.Destroy()
		return err
	}
	cb := wk.Work[0]
	cb.Transition([]driver.Transition{{
		Barrier: driver.Barrier{
			SyncBefore:   driver.SNone,
			SyncAfter:    driver.SCopy,
			AccessBefore: driver.ANone,
			AccessAfter:  driver.ACopyWrite,
		},
		LayoutBefore: driver.LUndefined,
		LayoutAfter:  driver.LCopyDst,
		Img:          img,
		Layers:       1,
		Levels:       1,
	}})
	cb.CopyBufToImg(&driver.BufImgCopy{
		Buf:    c.staging,
		BufOff: off,
		Stride: [2]int{ii.Width, ii.Height},
		Img:    img,
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
		Img:          img,
		Layers:       1,
		Levels:       1,
	}})
	c.done(wk)

	ii.Image = img
	prev := ii.CopiedCount(c.deviceID)
	ii.SetCopiedCount(c.deviceID, cnt)
	ii.OnRelease(img.Destroy)
	dev := c.deviceID
	c.pend = append(c.pend, func(failed bool) {
		if failed {
			ii.SetCopiedCount(dev, prev)
		}
	})
	c.nres++
	return nil
}

// Finish commits the recorded copies for execution.
// It blocks until execution completes.
func (c *Context) Finish() (err error) {
	wk := <-c.wk
	defer func() {
		for _, f := range c.pend {
			f(err != nil)
		}
		c.pend = c.pend[:0]
		c.off = 0
	}()
	if !wk.Work[0].IsRecording() {
		c.wk <- wk
		return nil
	}
	if err = wk.Work[0].End(); err != nil {
		c.wk <- wk
		return errors.Wrap(err, prefix+"End")
	}
	if err = c.gpu.Commit(wk, c.wk); err != nil {
		wk.Work[0].Reset()
		c.wk <- wk
		return errors.Wrap(err, prefix+"Commit")
	}
	wk = <-c.wk
	err, wk.Err = wk.Err, nil
	c.wk <- wk
	if err != nil {
		err = errors.Wrap(err, prefix+"execution")
	}
	return
}

// Destroy destroys the driver resources owned by c.
// Resources created through c are not affected.
func (c *Context) Destroy() {
	if c.wk != nil {
		wk := <-c.wk
		wk.Work[0].Destroy()
		c.wk = nil
	}
	if c.staging != nil {
		c.staging.Destroy()
		c.staging = nil
	}
}
