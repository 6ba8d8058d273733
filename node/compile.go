// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package node

import (
	"github.com/pkg/errors"

	"github.com/gviegas/sgraph/compile"
	"github.com/gviegas/sgraph/data"
)

// Compile compiles every node of the graph rooted at n
// that implements compile.Compilable, then commits the
// recorded copies and waits for their completion.
// Only resident PagedLOD children are compiled.
func Compile(ctx *compile.Context, n Node) (err error) {
	Walk(n, func(n Node) bool {
		if c, ok := n.(compile.Compilable); ok {
			if err = c.Compile(ctx); err != nil {
				err = errors.Wrapf(err, "node: compiling %T", n)
				return false
			}
		}
		return err == nil
	})
	if ferr := ctx.Finish(); err == nil {
		err = ferr
	}
	return
}

// Dynamic is the data of a graph that may change after
// compilation.
type Dynamic struct {
	Buffers []*data.BufferInfo
	Images  []*data.ImageInfo
}

// CollectDynamic gathers the BufferInfos and ImageInfos
// of the graph rooted at n whose data is not
// data.Static. Shared entries are collected once.
func CollectDynamic(n Node) (d Dynamic) {
	seen := make(map[any]bool)
	addBuf := func(bi *data.BufferInfo) {
		if bi == nil || bi.Data.Variance() == data.Static || seen[bi] {
			return
		}
		seen[bi] = true
		d.Buffers = append(d.Buffers, bi)
	}
	Walk(n, func(n Node) bool {
		g, ok := n.(*Geometry)
		if !ok {
			return true
		}
		for _, x := range g.Vertices {
			addBuf(x)
		}
		addBuf(g.Indices)
		for _, x := range g.Images {
			if x.Data.Variance() != data.Static && !seen[x] {
				seen[x] = true
				d.Images = append(d.Images, x)
			}
		}
		return true
	})
	return
}
