// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package gltf

import (
	"bytes"
	"encoding/binary"
	"io"
)

// glbHeader is the 12-byte prefix of a binary
// document: magic, version and total length.
type glbHeader [3]uint32

const (
	headerMagic   = 0
	headerVersion = 1
	headerLength  = 2
)

// glbChunk prefixes each chunk of a binary document.
type glbChunk [2]uint32

const (
	chunkLength = 0
	chunkType   = 1
	// Then payload.
)

const (
	// "glTF"
	magic = 0x46546c67

	// "JSON" and "BIN\x00"
	typeJSON = 0x4e4f534a
	typeBIN  = 0x004e4942
)

// IsGLB reads a header from r and reports whether it
// starts a version 2 binary document.
func IsGLB(r io.Reader) bool {
	var h glbHeader
	err := binary.Read(r, binary.LittleEndian, h[:])
	switch {
	case err != nil, h[headerMagic] != magic, h[headerVersion] != 2:
		return false
	default:
		return true
	}
}

// SeekJSON consumes the header and the JSON chunk
// prefix of the binary document in r, returning the
// length of the JSON text that follows.
func SeekJSON(r io.Reader) (n int, err error) {
	if !IsGLB(r) {
		err = newErr("not a GLB blob")
		return
	}
	var c glbChunk
	err = binary.Read(r, binary.LittleEndian, c[:])
	switch {
	case err != nil:
	case c[chunkLength] == 0 || c[chunkType] != typeJSON:
		err = newErr("invalid GLB chunk")
	default:
		n = int(c[chunkLength])
	}
	return
}

// ReadGLB reads a GLB blob.
// It returns the decoded JSON chunk and the BIN chunk,
// which is nil if absent.
func ReadGLB(r io.Reader) (gltf *GLTF, bin []byte, err error) {
	n, err := SeekJSON(r)
	if err != nil {
		return
	}
	js := make([]byte, n)
	if _, err = io.ReadFull(r, js); err != nil {
		return
	}
	if gltf, err = Decode(bytes.NewReader(js)); err != nil {
		return
	}
	var c glbChunk
	switch err = binary.Read(r, binary.LittleEndian, c[:]); err {
	case nil:
	case io.EOF:
		return gltf, nil, nil
	default:
		return
	}
	if c[chunkType] != typeBIN {
		return nil, nil, newErr("invalid GLB chunk")
	}
	bin = make([]byte, c[chunkLength])
	if _, err = io.ReadFull(r, bin); err != nil {
		return nil, nil, err
	}
	return
}

// WriteGLB writes gltf and bin as a GLB blob.
// bin may be nil.
func WriteGLB(w io.Writer, gltf *GLTF, bin []byte) error {
	var js bytes.Buffer
	if err := Encode(&js, gltf); err != nil {
		return err
	}
	for js.Len()&3 != 0 {
		js.WriteByte(' ')
	}
	nbin := (len(bin) + 3) &^ 3
	n := 12 + 8 + js.Len()
	if bin != nil {
		n += 8 + nbin
	}
	var b bytes.Buffer
	b.Grow(n)
	binary.Write(&b, binary.LittleEndian, glbHeader{magic, 2, uint32(n)})
	binary.Write(&b, binary.LittleEndian, glbChunk{uint32(js.Len()), typeJSON})
	b.Write(js.Bytes())
	if bin != nil {
		binary.Write(&b, binary.LittleEndian, glbChunk{uint32(nbin), typeBIN})
		b.Write(bin)
		b.Write(make([]byte, nbin-len(bin)))
	}
	_, err := w.Write(b.Bytes())
	return err
}
