// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"errors"

	"github.com/gviegas/sgraph/driver"
)

// cmdBuffer implements driver.CmdBuffer.
// Copy commands are deferred until execution; other
// commands are only validated and counted.
type cmdBuffer struct {
	gpu       *GPU
	recording bool
	ended     bool
	inPass    bool
	pipeline  driver.Pipeline
	cmds      []func()
	draws     int
	err       error
}

// Begin implements driver.CmdBuffer.
func (c *cmdBuffer) Begin() error {
	if c.recording {
		return errors.New("soft: command buffer already recording")
	}
	c.cmds = c.cmds[:0]
	c.recording = true
	c.ended = false
	c.inPass = false
	c.pipeline = nil
	c.draws = 0
	c.err = nil
	return nil
}

// IsRecording implements driver.CmdBuffer.
func (c *cmdBuffer) IsRecording() bool { return c.recording }

func (c *cmdBuffer) fail(msg string) {
	if c.err == nil {
		c.err = errors.New("soft: " + msg)
	}
}

// BeginPass implements driver.CmdBuffer.
func (c *cmdBuffer) BeginPass(width, height int) {
	if c.inPass {
		c.fail("nested render pass")
	}
	c.inPass = true
}

// EndPass implements driver.CmdBuffer.
func (c *cmdBuffer) EndPass() {
	if !c.inPass {
		c.fail("EndPass outside of render pass")
	}
	c.inPass = false
}

// SetPipeline implements driver.CmdBuffer.
func (c *cmdBuffer) SetPipeline(pl driver.Pipeline) { c.pipeline = pl }

// SetVertexBuf implements driver.CmdBuffer.
func (c *cmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64) {
	if len(buf) != len(off) {
		c.fail("SetVertexBuf length mismatch")
	}
}

// SetIndexBuf implements driver.CmdBuffer.
func (c *cmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {
	if off&3 != 0 {
		c.fail("misaligned index buffer offset")
	}
}

// SetConstants implements driver.CmdBuffer.
func (c *cmdBuffer) SetConstants(off int, data []byte) {}

func (c *cmdBuffer) draw() {
	if !c.inPass {
		c.fail("draw outside of render pass")
		return
	}
	c.draws++
}

// Draw implements driver.CmdBuffer.
func (c *cmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int) { c.draw() }

// DrawIndexed implements driver.CmdBuffer.
func (c *cmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int) { c.draw() }

// CopyBuffer implements driver.CmdBuffer.
func (c *cmdBuffer) CopyBuffer(param *driver.BufferCopy) {
	if c.inPass {
		c.fail("copy inside render pass")
		return
	}
	from, ok1 := param.From.(*Buffer)
	to, ok2 := param.To.(*Buffer)
	if !ok1 || !ok2 {
		c.fail("foreign buffer")
		return
	}
	if param.Size < 0 || param.FromOff+param.Size > from.Cap() || param.ToOff+param.Size > to.Cap() {
		c.fail("CopyBuffer out of bounds")
		return
	}
	p := *param
	c.cmds = append(c.cmds, func() {
		from.mu.Lock()
		src := append([]byte(nil), from.data[p.FromOff:p.FromOff+p.Size]...)
		from.mu.Unlock()
		to.mu.Lock()
		copy(to.data[p.ToOff:], src)
		to.mu.Unlock()
		c.gpu.copies.Add(1)
		c.gpu.bytes.Add(p.Size)
	})
}

// CopyBufToImg implements driver.CmdBuffer.
// Only tightly packed 2D copies of a whole level zero
// are executed; other copies are counted but ignored.
func (c *cmdBuffer) CopyBufToImg(param *driver.BufImgCopy) {
	if c.inPass {
		c.fail("copy inside render pass")
		return
	}
	buf, ok1 := param.Buf.(*Buffer)
	img, ok2 := param.Img.(*Image)
	if !ok1 || !ok2 {
		c.fail("foreign resource")
		return
	}
	p := *param
	c.cmds = append(c.cmds, func() {
		psz := int64(img.format.Size())
		n := psz * int64(p.Size.Width*p.Size.Height*max(p.Layers, 1))
		if p.Level == 0 && p.ImgOff == (driver.Off3D{}) && p.BufOff+n <= buf.Cap() {
			buf.mu.Lock()
			src := append([]byte(nil), buf.data[p.BufOff:p.BufOff+n]...)
			buf.mu.Unlock()
			img.mu.Lock()
			off := psz * int64(p.Layer*img.size.Width*img.size.Height)
			copy(img.data[off:], src)
			img.mu.Unlock()
			c.gpu.bytes.Add(n)
		}
		c.gpu.copies.Add(1)
	})
}

// Barrier implements driver.CmdBuffer.
func (c *cmdBuffer) Barrier(b []driver.Barrier) {}

// Transition implements driver.CmdBuffer.
func (c *cmdBuffer) Transition(t []driver.Transition) {}

// End implements driver.CmdBuffer.
func (c *cmdBuffer) End() error {
	if !c.recording {
		return errors.New("soft: command buffer not recording")
	}
	err := c.gpu.take(&c.gpu.endErr)
	if err == nil && c.inPass {
		c.fail("unterminated render pass")
	}
	if err == nil {
		err = c.err
	}
	if err != nil {
		c.Reset()
		return err
	}
	c.recording = false
	c.ended = true
	return nil
}

// Reset implements driver.CmdBuffer.
func (c *cmdBuffer) Reset() error {
	c.cmds = c.cmds[:0]
	c.recording = false
	c.ended = false
	c.inPass = false
	c.draws = 0
	c.err = nil
	return nil
}

// Destroy implements driver.Destroyer.
func (c *cmdBuffer) Destroy() { c.Reset() }

// run executes the deferred commands.
func (c *cmdBuffer) run() {
	for _, f := range c.cmds {
		f()
	}
	c.gpu.draws.Add(int64(c.draws))
	c.ended = false
}
