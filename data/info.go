// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package data

import (
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/object"
)

// BufferInfo pairs an Array with a range of a shared
// device buffer.
// Buffer is nil until the BufferInfo is compiled.
type BufferInfo struct {
	object.Object
	copyCounts

	Data   *Array
	Buffer driver.Buffer
	Offset int64
	Range  int64
}

// NewBufferInfo creates a new BufferInfo for data.
// It takes a reference to data that is dropped when
// the BufferInfo is released.
func NewBufferInfo(data *Array) *BufferInfo {
	data.Ref()
	bi := &BufferInfo{Data: data, Range: int64(data.Len())}
	bi.OnRelease(func() { data.Unref() })
	return bi
}

// RequiresCopy returns whether the device copy for dev
// is out of date.
func (bi *BufferInfo) RequiresCopy(dev int) bool {
	return bi.Buffer != nil && bi.Data.ModifiedCount() != bi.CopiedCount(dev)
}

// ImageInfo pairs an Array with a layer of a device
// image. The Array holds tightly packed pixels of the
// first level.
// Image is nil until the ImageInfo is compiled.
type ImageInfo struct {
	object.Object
	copyCounts

	Data   *Array
	Format driver.PixelFmt
	Width  int
	Height int
	Image  driver.Image
	Layer  int
}

// NewImageInfo creates a new ImageInfo for data.
// It takes a reference to data that is dropped when
// the ImageInfo is released.
func NewImageInfo(data *Array, pf driver.PixelFmt, width, height int) *ImageInfo {
	if pf.Size()*width*height != data.Len() {
		panic("data: ImageInfo size mismatch")
	}
	data.Ref()
	ii := &ImageInfo{Data: data, Format: pf, Width: width, Height: height}
	ii.OnRelease(func() { data.Unref() })
	return ii
}

// RequiresCopy returns whether the device copy for dev
// is out of date.
func (ii *ImageInfo) RequiresCopy(dev int) bool {
	return ii.Image != nil && ii.Data.ModifiedCount() != ii.CopiedCount(dev)
}
