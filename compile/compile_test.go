// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package compile

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/driver/soft"
)

func TestBufferPool(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	p := NewBufferPool(gpu, driver.UVertexData, 1)
	if p.chunkSize != MinChunkSize {
		t.Fatalf("NewBufferPool: chunkSize\nhave %d\nwant %d", p.chunkSize, MinChunkSize)
	}

	_, err := p.Alloc(0)
	require.Error(t, err)

	s1, err := p.Alloc(100)
	require.NoError(t, err)
	s2, err := p.Alloc(spanBlock + 1)
	require.NoError(t, err)
	require.Same(t, s1.Buffer, s2.Buffer)
	require.Equal(t, int64(0), s1.Offset)
	require.Equal(t, int64(spanBlock), s2.Offset)

	// Does not fit in the first chunk.
	s3, err := p.Alloc(MinChunkSize)
	require.NoError(t, err)
	require.NotSame(t, s1.Buffer, s3.Buffer)
	require.Equal(t, 2, p.Chunks())

	p.Free(s3)
	require.Equal(t, 1, p.Chunks())
	p.Free(s1)
	s4, err := p.Alloc(spanBlock)
	require.NoError(t, err)
	require.Equal(t, int64(0), s4.Offset)

	p.Destroy()
	require.Zero(t, gpu.MemoryUsed())
}

func newInfo(b []byte) *data.BufferInfo {
	bi := data.NewBufferInfo(data.NewArray(b, data.Dynamic))
	bi.Ref()
	return bi
}

func TestCompileBuffer(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	pool := NewBufferPool(gpu, driver.UVertexData, 0)
	ctx, err := NewContext(gpu, pool, 0)
	require.NoError(t, err)
	defer ctx.Destroy()

	bi := newInfo([]byte("vertex data"))
	require.NoError(t, ctx.CompileBuffer(bi))
	require.NotNil(t, bi.Buffer)
	buf := bi.Buffer
	// Idempotent.
	require.NoError(t, ctx.CompileBuffer(bi))
	require.Same(t, buf, bi.Buffer)
	require.Equal(t, 1, ctx.Resources())

	require.NoError(t, ctx.Finish())
	have := buf.(*soft.Buffer).Contents()[bi.Offset : bi.Offset+bi.Range]
	if !bytes.Equal(have, []byte("vertex data")) {
		t.Fatalf("Context.CompileBuffer: contents\nhave %q\nwant %q", have, "vertex data")
	}
	require.False(t, bi.RequiresCopy(0))

	// Releasing frees the span.
	bi.Unref()
	s, err := pool.Alloc(1)
	require.NoError(t, err)
	require.Equal(t, bi.Offset, s.Offset)
}

func TestCompileGrowsStaging(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	pool := NewBufferPool(gpu, driver.UVertexData, 0)
	ctx, err := NewContext(gpu, pool, 0)
	require.NoError(t, err)
	defer ctx.Destroy()

	small := newInfo(bytes.Repeat([]byte{1}, MinStagingSize/2))
	large := newInfo(bytes.Repeat([]byte{2}, MinStagingSize*3))
	require.NoError(t, ctx.CompileBuffer(small))
	require.NoError(t, ctx.CompileBuffer(large))
	require.NoError(t, ctx.Finish())
	require.GreaterOrEqual(t, ctx.staging.Cap(), int64(MinStagingSize*3))

	for _, x := range []*data.BufferInfo{small, large} {
		b := x.Buffer.(*soft.Buffer).Contents()[x.Offset : x.Offset+x.Range]
		n, _ := x.Data.ReadAt(make([]byte, x.Range), 0)
		require.Equal(t, int(x.Range), n)
		require.Equal(t, b[0], b[len(b)-1])
	}
}

func TestFinishFailure(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	ctx, err := NewContext(gpu, NewBufferPool(gpu, 0, 0), 0)
	require.NoError(t, err)
	defer ctx.Destroy()

	bi := newInfo([]byte{1, 2, 3, 4})
	bi.Data.Dirty()
	require.NoError(t, ctx.CompileBuffer(bi))
	require.False(t, bi.RequiresCopy(0))

	errExec := errors.New("device lost")
	gpu.FailNextExecution(errExec)
	require.ErrorIs(t, ctx.Finish(), errExec)
	// Rolled back, so a transfer will retry it.
	require.True(t, bi.RequiresCopy(0))

	// Nothing pending.
	require.NoError(t, ctx.Finish())
}

func TestCompileImage(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	ctx, err := NewContext(gpu, NewBufferPool(gpu, 0, 0), 0)
	require.NoError(t, err)
	defer ctx.Destroy()

	px := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	ii := data.NewImageInfo(data.NewArray(px, data.Static), driver.RGBA8un, 2, 2)
	ii.Ref()
	require.NoError(t, ctx.CompileImage(ii))
	require.NoError(t, ctx.CompileImage(ii))
	require.NoError(t, ctx.Finish())
	require.Equal(t, px, ii.Image.(*soft.Image).Contents())
	before := gpu.MemoryUsed()
	ii.Unref()
	require.Equal(t, before-16, gpu.MemoryUsed())
}
