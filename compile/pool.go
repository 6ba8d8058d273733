// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package compile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/internal/bitvec"
)

// span block size.
const spanBlock = 256

const spanNBit = 32

// MinChunkSize is the minimum size of a BufferPool
// chunk.
const MinChunkSize = spanBlock * spanNBit

// Span identifies a range of a device buffer that
// was allocated from a BufferPool.
type Span struct {
	Buffer driver.Buffer
	Offset int64
	Size   int64
	chunk  int
	start  int
	n      int
}

// String implements fmt.Stringer.
func (s Span) String() string {
	return fmt.Sprintf("{chunk %d: %d(%dB) %d(%dB)}", s.chunk, s.start, s.Offset, s.start+s.n, s.Offset+int64(s.n)*spanBlock)
}

// BufferPool suballocates device buffers.
// Memory is managed in chunks; a new chunk is created
// whenever a request cannot be satisfied by the ones
// that exist. Chunks are never reallocated, so spans
// remain valid until freed.
// It is safe for concurrent use.
type BufferPool struct {
	gpu       driver.GPU
	usage     driver.Usage
	chunkSize int64

	mu     sync.Mutex
	chunks []*chunk
}

type chunk struct {
	buf   driver.Buffer
	spans bitvec.V[uint32]
}

// NewBufferPool creates a new BufferPool.
// chunkSize is rounded up to a multiple of
// MinChunkSize.
func NewBufferPool(gpu driver.GPU, usg driver.Usage, chunkSize int64) *BufferPool {
	chunkSize = max(chunkSize, MinChunkSize)
	chunkSize = (chunkSize + MinChunkSize - 1) &^ (MinChunkSize - 1)
	return &BufferPool{
		gpu:       gpu,
		usage:     usg | driver.UCopyDst,
		chunkSize: chunkSize,
	}
}

// Alloc allocates size bytes.
func (p *BufferPool) Alloc(size int64) (Span, error) {
	if size <= 0 {
		return Span{}, errors.New("compile: invalid allocation size")
	}
	ns := int((size + spanBlock - 1) / spanBlock)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.chunks {
		if c == nil {
			continue
		}
		if is, ok := c.spans.SearchRange(ns); ok {
			return p.take(i, is, ns, size), nil
		}
	}
	csz := max(p.chunkSize, int64(ns)*spanBlock)
	csz = (csz + MinChunkSize - 1) &^ (MinChunkSize - 1)
	buf, err := p.gpu.NewBuffer(csz, false, p.usage)
	if err != nil {
		return Span{}, err
	}
	c := &chunk{buf: buf}
	c.spans.Grow(int(csz / MinChunkSize))
	i := len(p.chunks)
	for j := range p.chunks {
		if p.chunks[j] == nil {
			i = j
			break
		}
	}
	if i == len(p.chunks) {
		p.chunks = append(p.chunks, c)
	} else {
		p.chunks[i] = c
	}
	return p.take(i, 0, ns, size), nil
}

func (p *BufferPool) take(i, is, ns int, size int64) Span {
	c := p.chunks[i]
	c.spans.SetRange(is, ns)
	return Span{
		Buffer: c.buf,
		Offset: int64(is) * spanBlock,
		Size:   size,
		chunk:  i,
		start:  is,
		n:      ns,
	}
}

// Free makes s available for reuse.
// Empty chunks are destroyed, except for the first.
func (p *BufferPool) Free(s Span) {
	if s.n == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chunks[s.chunk]
	if c == nil || c.buf != s.Buffer {
		panic("compile: Span does not belong to BufferPool")
	}
	c.spans.UnsetRange(s.start, s.n)
	if s.chunk > 0 && c.spans.Count() == 0 {
		c.buf.Destroy()
		p.chunks[s.chunk] = nil
	}
}

// Chunks returns the number of live chunks.
func (p *BufferPool) Chunks() (n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.chunks {
		if c != nil {
			n++
		}
	}
	return
}

// Destroy destroys every chunk.
// Spans allocated from p become invalid.
func (p *BufferPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.chunks {
		if c != nil {
			c.buf.Destroy()
		}
	}
	p.chunks = nil
}
