// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package node

import (
	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/state"
)

// Geometry is a drawable leaf.
// It holds vertex buffers, an optional index buffer
// and the images sampled when drawing it.
type Geometry struct {
	Base
	Vertices  []*data.BufferInfo
	Indices   *data.BufferInfo
	IndexFmt  driver.IndexFmt
	Count     int
	Instances int
	Images    []*data.ImageInfo

	bufs []driver.Buffer
	offs []int64
}

// NewGeometry creates a new Geometry.
// It takes a reference to every BufferInfo and
// ImageInfo that it is given.
// indices may be nil, in which case count is the
// number of vertices.
func NewGeometry(vertices []*data.BufferInfo, indices *data.BufferInfo, count int, images ...*data.ImageInfo) *Geometry {
	g := &Geometry{
		Vertices:  vertices,
		Indices:   indices,
		IndexFmt:  driver.Index32,
		Count:     count,
		Instances: 1,
		Images:    images,
	}
	for _, x := range vertices {
		x.Ref()
	}
	if indices != nil {
		indices.Ref()
	}
	for _, x := range images {
		x.Ref()
	}
	g.OnRelease(func() {
		for _, x := range g.Vertices {
			x.Unref()
		}
		if g.Indices != nil {
			g.Indices.Unref()
		}
		for _, x := range g.Images {
			x.Unref()
		}
	})
	return g
}

// Accept implements Node.
func (g *Geometry) Accept(v Visitor) { v.VisitGeometry(g) }

// Compile implements compile.Compilable.
func (g *Geometry) Compile(ctx *compile.Context) error {
	for _, x := range g.Vertices {
		if err := ctx.CompileBuffer(x); err != nil {
			return err
		}
	}
	if g.Indices != nil {
		if err := ctx.CompileBuffer(g.Indices); err != nil {
			return err
		}
	}
	for _, x := range g.Images {
		if err := ctx.CompileImage(x); err != nil {
			return err
		}
	}
	return nil
}

// Compiled returns whether every buffer and image of g
// has a device resource.
func (g *Geometry) Compiled() bool {
	for _, x := range g.Vertices {
		if x.Buffer == nil {
			return false
		}
	}
	if g.Indices != nil && g.Indices.Buffer == nil {
		return false
	}
	for _, x := range g.Images {
		if x.Image == nil {
			return false
		}
	}
	return true
}

// Record records the commands that draw g.
// Geometry that was not compiled is not drawn.
// It must not be called concurrently on the same g.
func (g *Geometry) Record(cb *state.CommandBuffer) {
	if !g.Compiled() || g.Count <= 0 {
		return
	}
	g.bufs = g.bufs[:0]
	g.offs = g.offs[:0]
	for _, x := range g.Vertices {
		g.bufs = append(g.bufs, x.Buffer)
		g.offs = append(g.offs, x.Offset)
	}
	dcb := cb.Cmd()
	if len(g.bufs) > 0 {
		dcb.SetVertexBuf(0, g.bufs, g.offs)
	}
	if g.Indices != nil {
		dcb.SetIndexBuf(g.IndexFmt, g.Indices.Buffer, g.Indices.Offset)
		cb.DrawIndexed(g.Count, max(g.Instances, 1))
	} else {
		cb.Draw(g.Count, max(g.Instances, 1))
	}
}
