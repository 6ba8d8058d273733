// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package gltf

import (
	"encoding/base64"
	"strings"
)

// ComponentSize returns the size in bytes of a's
// component type, or 0 if it is invalid.
func (a *Accessor) ComponentSize() int64 {
	switch a.ComponentType {
	case BYTE, UNSIGNED_BYTE:
		return 1
	case SHORT, UNSIGNED_SHORT:
		return 2
	case UNSIGNED_INT, FLOAT:
		return 4
	}
	return 0
}

// Components returns the number of components of a's
// type, or 0 if it is invalid.
func (a *Accessor) Components() int64 {
	switch a.Type {
	case SCALAR:
		return 1
	case VEC2:
		return 2
	case VEC3:
		return 3
	case VEC4, MAT2:
		return 4
	case MAT3:
		return 9
	case MAT4:
		return 16
	}
	return 0
}

// ElementSize returns the size in bytes of one element.
func (a *Accessor) ElementSize() int64 { return a.ComponentSize() * a.Components() }

// AccessorData returns the tightly packed data of
// accessor i. buffers holds the contents of f.Buffers.
// Accessors with no buffer view yield zeros.
// f must have been checked.
func (f *GLTF) AccessorData(i int, buffers [][]byte) ([]byte, error) {
	if i < 0 || i >= len(f.Accessors) {
		return nil, newErr("accessor index out of bounds")
	}
	a := &f.Accessors[i]
	esz := a.ElementSize()
	dst := make([]byte, esz*a.Count)
	if a.BufferView == nil {
		return dst, nil
	}
	v := &f.BufferViews[*a.BufferView]
	if int(v.Buffer) >= len(buffers) {
		return nil, newErr("missing buffer data")
	}
	src := buffers[v.Buffer]
	if v.ByteOffset+v.ByteLength > int64(len(src)) {
		return nil, newErr("buffer data too short")
	}
	src = src[v.ByteOffset : v.ByteOffset+v.ByteLength]
	stride := max(v.ByteStride, esz)
	for j := int64(0); j < a.Count; j++ {
		off := a.ByteOffset + j*stride
		copy(dst[j*esz:(j+1)*esz], src[off:off+esz])
	}
	return dst, nil
}

const dataURIPrefix = "data:"

// IsDataURI returns whether uri embeds its data.
func IsDataURI(uri string) bool { return strings.HasPrefix(uri, dataURIPrefix) }

// DecodeDataURI decodes a base64 data URI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !IsDataURI(uri) {
		return nil, newErr("not a data URI")
	}
	i := strings.Index(uri, ";base64,")
	if i < 0 {
		return nil, newErr("data URI is not base64")
	}
	return base64.StdEncoding.DecodeString(uri[i+len(";base64,"):])
}
