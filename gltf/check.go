// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package gltf

import (
	"errors"
)

func newErr(reason string) error {
	return errors.New("gltf: " + reason)
}

func inRange(i int64, n int) bool { return i >= 0 && i < int64(n) }

// Check validates the indices and ranges of f that
// the scene reader relies on.
func (f *GLTF) Check() error {
	if f.Asset.Version != "2.0" {
		return newErr("unsupported GLTF.Asset.Version")
	}
	if s := f.Scene; s != nil && !inRange(*s, len(f.Scenes)) {
		return newErr("invalid GLTF.Scene index")
	}
	for _, v := range f.BufferViews {
		if !inRange(v.Buffer, len(f.Buffers)) {
			return newErr("invalid BufferView.Buffer index")
		}
		if v.ByteOffset < 0 || v.ByteLength < 1 || v.ByteOffset+v.ByteLength > f.Buffers[v.Buffer].ByteLength {
			return newErr("BufferView out of bounds")
		}
		if v.ByteStride != 0 && (v.ByteStride < 4 || v.ByteStride > 252 || v.ByteStride&3 != 0) {
			return newErr("invalid BufferView.ByteStride value")
		}
	}
	for i := range f.Accessors {
		if err := f.Accessors[i].Check(f); err != nil {
			return err
		}
	}
	for _, m := range f.Meshes {
		if len(m.Primitives) == 0 {
			return newErr("Mesh has no primitives")
		}
		for _, p := range m.Primitives {
			if _, ok := p.Attributes["POSITION"]; !ok {
				return newErr("Primitive has no POSITION attribute")
			}
			for _, a := range p.Attributes {
				if !inRange(a, len(f.Accessors)) {
					return newErr("invalid Primitive.Attributes index")
				}
			}
			if p.Indices != nil && !inRange(*p.Indices, len(f.Accessors)) {
				return newErr("invalid Primitive.Indices index")
			}
		}
	}
	for _, n := range f.Nodes {
		if n.Mesh != nil && !inRange(*n.Mesh, len(f.Meshes)) {
			return newErr("invalid Node.Mesh index")
		}
		for _, c := range n.Children {
			if !inRange(c, len(f.Nodes)) {
				return newErr("invalid Node.Children index")
			}
		}
	}
	for _, s := range f.Scenes {
		for _, n := range s.Nodes {
			if !inRange(n, len(f.Nodes)) {
				return newErr("invalid Scene.Nodes index")
			}
		}
	}
	return nil
}

// Check validates a against the views of gltf.
func (a *Accessor) Check(gltf *GLTF) error {
	if a.BufferView != nil && !inRange(*a.BufferView, len(gltf.BufferViews)) {
		return newErr("invalid Accessor.BufferView index")
	}
	if a.ByteOffset < 0 {
		return newErr("invalid Accessor.ByteOffset value")
	}
	if a.ComponentSize() == 0 {
		return newErr("invalid Accessor.ComponentType value")
	}
	if a.Count < 1 {
		return newErr("invalid Accessor.Count value")
	}
	if a.Components() == 0 {
		return newErr("invalid Accessor.Type value")
	}
	if a.BufferView != nil {
		v := &gltf.BufferViews[*a.BufferView]
		stride := max(v.ByteStride, a.ElementSize())
		if a.ByteOffset+stride*(a.Count-1)+a.ElementSize() > v.ByteLength {
			return newErr("Accessor out of bounds")
		}
	}
	return nil
}
