// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// GPU creates device resources and executes recorded
// work. Driver.Open returns it.
type GPU interface {
	Driver() Driver

	// Commit submits wk for execution.
	// The command buffers of wk run in slice order.
	// If Commit succeeds, wk is sent to ch once it has
	// executed, with wk.Err holding the outcome; its
	// command buffers must not be recorded until then.
	// If Commit fails, nothing is sent to ch.
	// Work items execute in the order they are committed,
	// even when sent to different channels: each one
	// observes the effects of those committed before it.
	Commit(wk *WorkItem, ch chan<- *WorkItem) error

	NewCmdBuffer() (CmdBuffer, error)

	// NewBuffer allocates size bytes or more. Only
	// visible buffers can be mapped with Bytes.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	NewImage(pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	// NewPipeline creates a pipeline from a
	// driver-specific description.
	NewPipeline(state any) (Pipeline, error)

	// Limits does not change while the GPU is open.
	Limits() Limits
}

// WorkItem groups the command buffers of one Commit.
type WorkItem struct {
	Work []CmdBuffer
	// Err is the execution result, set before the
	// WorkItem is sent back.
	Err error
	// Custom is left alone by drivers. Callers use it
	// to find what a returned WorkItem belongs to.
	Custom any
}

// Destroyer is implemented by resources that hold
// device memory. The garbage collector does not free
// it, so Destroy must be called.
type Destroyer interface {
	Destroy()
}

// CmdBuffer records commands for a later Commit.
// A recording starts with Begin and ends with End.
// Draws go between BeginPass and EndPass and copies
// outside of them.
type CmdBuffer interface {
	Destroyer

	// Begin starts a recording. It is needed again
	// after the buffer executes or is reset.
	Begin() error

	IsRecording() bool

	BeginPass(width, height int)
	EndPass()

	SetPipeline(pl Pipeline)
	SetVertexBuf(start int, buf []Buffer, off []int64)
	// SetIndexBuf requires off to be a multiple of 4.
	SetIndexBuf(format IndexFmt, buf Buffer, off int64)

	// SetConstants writes data at off in the constant
	// block read by the following draws.
	SetConstants(off int, data []byte)

	Draw(vertCount, instCount, baseVert, baseInst int)
	DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)

	CopyBuffer(param *BufferCopy)
	CopyBufToImg(param *BufImgCopy)

	Barrier(b []Barrier)
	Transition(t []Transition)

	// End finishes the recording. If it fails, the
	// recorded commands are discarded.
	End() error

	// Reset discards the recorded commands.
	Reset() error
}

// BufferCopy copies Size bytes from From at FromOff to
// To at ToOff.
type BufferCopy struct {
	From    Buffer
	FromOff int64
	To      Buffer
	ToOff   int64
	Size    int64
}

// BufImgCopy copies pixels from Buf at BufOff into a
// region of Img.
type BufImgCopy struct {
	Buf    Buffer
	BufOff int64
	// Row length and image height of the data in Buf,
	// in pixels.
	Stride [2]int
	Img    Image
	ImgOff Off3D
	Layer  int
	Level  int
	Size   Dim3D
	Layers int
}

// Sync is a mask of pipeline stages.
type Sync int

const (
	SVertexInput Sync = 1 << iota
	SVertexShading
	SFragmentShading
	SCopy
	SAll
	SNone Sync = 0
)

// Access is a mask of memory operations.
type Access int

const (
	AVertexBufRead Access = 1 << iota
	AIndexBufRead
	ACopyRead
	ACopyWrite
	AShaderRead
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Layout is the arrangement of image memory required
// by an operation.
type Layout int

const (
	LUndefined Layout = iota
	LCommon
	LCopySrc
	LCopyDst
	LShaderRead
)

// Barrier orders the accesses of the stages in
// SyncBefore before those of the stages in SyncAfter.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Transition is a Barrier that also changes the layout
// of a range of layers and levels of Img.
type Transition struct {
	Barrier

	LayoutBefore Layout
	LayoutAfter  Layout
	Img          Image
	Layer        int
	Layers       int
	Level        int
	Levels       int
}

// Usage is a mask of the ways a resource may be used.
type Usage int

const (
	UCopySrc Usage = 1 << iota
	UCopyDst
	UShaderRead
	UShaderSample
	UVertexData
	UIndexData
	UGeneric Usage = 1<<iota - 1
)

// IndexFmt is the size of an index.
type IndexFmt int

const (
	Index16 IndexFmt = iota
	Index32
)

// Buffer is a linear range of device memory.
type Buffer interface {
	Destroyer

	Visible() bool

	// Bytes maps the whole buffer, or returns nil if
	// it is not visible. The slice stays valid until
	// Destroy.
	Bytes() []byte

	// Cap is fixed at creation and may exceed the
	// requested size.
	Cap() int64
}

// PixelFmt is the format of image data.
type PixelFmt int

const (
	RGBA8un PixelFmt = iota
	RGBA8sRGB
	BGRA8un
	RG8un
	R8un
	RGBA16f
	RGBA32f
	R32f
	D32f
)

// Size returns the size of a pixel in bytes.
func (f PixelFmt) Size() int {
	switch f {
	case RGBA8un, RGBA8sRGB, BGRA8un, R32f, D32f:
		return 4
	case RG8un:
		return 2
	case R8un:
		return 1
	case RGBA16f:
		return 8
	case RGBA32f:
		return 16
	}
	return 0
}

type Dim3D struct {
	Width, Height, Depth int
}

type Off3D struct {
	X, Y, Z int
}

// Image is device memory holding pixels. It cannot be
// mapped: data reaches it through a staging Buffer and
// CopyBufToImg.
type Image interface {
	Destroyer

	Format() PixelFmt

	// Size is the size of level 0.
	Size() Dim3D
}

type Pipeline interface {
	Destroyer
}

// Limits holds the limits of a GPU.
type Limits struct {
	MaxImage2D int
	MaxLayers  int
	// Maximum size of a single buffer in bytes.
	MaxBuffer int64
	// Required alignment of buffer copy offsets.
	CopyAlign int64
}
