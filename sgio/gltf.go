// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package sgio

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/gltf"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/node"
)

// GLTFReader reads .gltf and .glb files.
// Each mesh primitive becomes a node.Geometry whose
// vertex buffers are the primitive's attributes,
// POSITION first and the others in name order.
// Nodes become node.Transforms and the scene becomes
// a node.Group.
// Only triangle lists are supported.
type GLTFReader struct{}

// Extensions implements Reader.
func (GLTFReader) Extensions() []string { return []string{".gltf", ".glb"} }

// Read implements Reader.
func (GLTFReader) Read(ctx context.Context, req *Request) (node.Node, error) {
	b, err := req.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	var doc *gltf.GLTF
	var bin []byte
	if gltf.IsGLB(bytes.NewReader(b)) {
		doc, bin, err = gltf.ReadGLB(bytes.NewReader(b))
	} else {
		doc, err = gltf.Decode(bytes.NewReader(b))
	}
	if err != nil {
		return nil, err
	}
	if err = doc.Check(); err != nil {
		return nil, err
	}
	if len(doc.ExtensionsRequired) > 0 {
		return nil, errors.Errorf(prefix+"unsupported glTF extensions %v", doc.ExtensionsRequired)
	}

	buffers := make([][]byte, len(doc.Buffers))
	for i, x := range doc.Buffers {
		switch {
		case x.URI == "":
			if i != 0 || bin == nil {
				return nil, errors.Errorf(prefix+"glTF buffer %d has no data", i)
			}
			buffers[i] = bin
		case gltf.IsDataURI(x.URI):
			if buffers[i], err = gltf.DecodeDataURI(x.URI); err != nil {
				return nil, err
			}
		default:
			if buffers[i], err = req.Fetch(ctx, x.URI); err != nil {
				return nil, err
			}
		}
	}

	c := converter{doc: doc, buffers: buffers, variance: req.Options.Variance}
	root, err := c.scene()
	if err != nil {
		return nil, err
	}
	root.Ref()
	return root, nil
}

type converter struct {
	doc      *gltf.GLTF
	buffers  [][]byte
	variance data.Variance
	meshes   map[int64][]node.Node
	infos    map[int64]*data.BufferInfo
	nodes    int
}

func (c *converter) scene() (*node.Group, error) {
	var roots []int64
	switch {
	case c.doc.Scene != nil:
		roots = c.doc.Scenes[*c.doc.Scene].Nodes
	case len(c.doc.Scenes) > 0:
		roots = c.doc.Scenes[0].Nodes
	default:
		child := make([]bool, len(c.doc.Nodes))
		for _, n := range c.doc.Nodes {
			for _, i := range n.Children {
				child[i] = true
			}
		}
		for i := range c.doc.Nodes {
			if !child[i] {
				roots = append(roots, int64(i))
			}
		}
	}
	g := node.NewGroup()
	for _, i := range roots {
		n, err := c.node(i, 0)
		if err != nil {
			g.Ref()
			g.Unref()
			return nil, err
		}
		g.AddChild(n)
	}
	return g, nil
}

// maxDepth bounds the node hierarchy, which would
// otherwise recurse forever on cyclic documents.
// maxNodes bounds the number of Transforms created,
// since nodes shared by several parents are converted
// once per parent.
const (
	maxDepth = 64
	maxNodes = 1 << 16
)

// node converts node i and its descendants.
// On failure, the partially converted subgraph is
// released.
func (c *converter) node(i int64, depth int) (_ node.Node, err error) {
	if depth >= maxDepth {
		return nil, errors.New(prefix + "glTF node hierarchy too deep")
	}
	if c.nodes++; c.nodes > maxNodes {
		return nil, errors.Errorf(prefix+"glTF scene has more than %d nodes", maxNodes)
	}
	n := &c.doc.Nodes[i]
	local := localMatrix(n)
	t := node.NewTransform(&local)
	defer func() {
		if err != nil {
			t.Ref()
			t.Unref()
		}
	}()
	if n.Mesh != nil {
		geoms, err := c.mesh(*n.Mesh)
		if err != nil {
			return nil, err
		}
		for _, g := range geoms {
			t.AddChild(g)
		}
	}
	for _, j := range n.Children {
		child, err := c.node(j, depth+1)
		if err != nil {
			return nil, err
		}
		t.AddChild(child)
	}
	return t, nil
}

func localMatrix(n *gltf.Node) (m linear.M4) {
	if n.Matrix != nil {
		for i := range m {
			copy(m[i][:], n.Matrix[i*4:i*4+4])
		}
		return
	}
	m.I()
	var x linear.M4
	if n.Translation != nil {
		x.Translate(n.Translation[0], n.Translation[1], n.Translation[2])
		m.Mul(&m, &x)
	}
	if n.Rotation != nil {
		x.Rotate((*linear.V4)(n.Rotation))
		m.Mul(&m, &x)
	}
	if n.Scale != nil {
		x.Scale(n.Scale[0], n.Scale[1], n.Scale[2])
		m.Mul(&m, &x)
	}
	return
}

func (c *converter) mesh(i int64) ([]node.Node, error) {
	if geoms, ok := c.meshes[i]; ok {
		return geoms, nil
	}
	var geoms []node.Node
	for _, p := range c.doc.Meshes[i].Primitives {
		if p.Mode != nil && *p.Mode != gltf.TRIANGLES {
			return nil, errors.Errorf(prefix+"unsupported primitive mode %d", *p.Mode)
		}
		names := make([]string, 0, len(p.Attributes))
		for k := range p.Attributes {
			if k != "POSITION" {
				names = append(names, k)
			}
		}
		sort.Strings(names)
		names = append([]string{"POSITION"}, names...)

		verts := make([]*data.BufferInfo, 0, len(names))
		for _, k := range names {
			bi, err := c.bufferInfo(p.Attributes[k], false)
			if err != nil {
				return nil, err
			}
			verts = append(verts, bi)
		}
		count := int(c.doc.Accessors[p.Attributes["POSITION"]].Count)
		var idx *data.BufferInfo
		ifmt := driver.Index32
		if p.Indices != nil {
			var err error
			if idx, err = c.bufferInfo(*p.Indices, true); err != nil {
				return nil, err
			}
			a := &c.doc.Accessors[*p.Indices]
			count = int(a.Count)
			if a.ComponentType != gltf.UNSIGNED_INT {
				ifmt = driver.Index16
			}
		}
		g := node.NewGeometry(verts, idx, count)
		g.IndexFmt = ifmt
		geoms = append(geoms, g)
	}
	if c.meshes == nil {
		c.meshes = make(map[int64][]node.Node)
	}
	c.meshes[i] = geoms
	return geoms, nil
}

// bufferInfo creates the BufferInfo of accessor i.
// Index data with 8-bit components is widened to
// 16 bits.
func (c *converter) bufferInfo(i int64, index bool) (*data.BufferInfo, error) {
	if bi, ok := c.infos[i]; ok {
		return bi, nil
	}
	b, err := c.doc.AccessorData(int(i), c.buffers)
	if err != nil {
		return nil, err
	}
	a := &c.doc.Accessors[i]
	if index {
		switch {
		case a.Type != gltf.SCALAR:
			return nil, errors.New(prefix + "glTF indices must be scalars")
		case a.ComponentType == gltf.UNSIGNED_BYTE:
			w := make([]byte, len(b)*2)
			for j, x := range b {
				binary.LittleEndian.PutUint16(w[j*2:], uint16(x))
			}
			b = w
		case a.ComponentType != gltf.UNSIGNED_SHORT && a.ComponentType != gltf.UNSIGNED_INT:
			return nil, errors.New(prefix + "invalid glTF index component type")
		}
	}
	bi := data.NewBufferInfo(data.NewArray(b, c.variance))
	if c.infos == nil {
		c.infos = make(map[int64]*data.BufferInfo)
	}
	c.infos[i] = bi
	return bi, nil
}
