// Copyright 2026 Gustavo C. Viegas. All rights reserved.

// Package state defines state commands and the stacks
// that track them during recording.
package state

import (
	"encoding/binary"
	"math"

	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/linear"
)

// Command is a state command bound to a slot.
// At most one command per slot is active at a time;
// pushing a command hides the previous one in the same
// slot until it is popped.
type Command interface {
	Slot() int
	Record(cb *CommandBuffer)
}

// Slots used by the commands defined in this package.
const (
	PipelineSlot = iota
	ConstantSlot
	NSlot
)

// BindPipeline binds a pipeline.
type BindPipeline struct {
	Pipeline driver.Pipeline
}

// Slot implements Command.
func (*BindPipeline) Slot() int { return PipelineSlot }

// Record implements Command.
func (c *BindPipeline) Record(cb *CommandBuffer) {
	if cb.pipeline == c.Pipeline {
		return
	}
	cb.pipeline = c.Pipeline
	cb.cb.SetPipeline(c.Pipeline)
	cb.stats.StateChanges++
}

// PushConstants sets constant data after the model-view
// matrix.
type PushConstants struct {
	Data []byte
}

// Slot implements Command.
func (*PushConstants) Slot() int { return ConstantSlot }

// Record implements Command.
func (c *PushConstants) Record(cb *CommandBuffer) {
	cb.cb.SetConstants(matrixSize, c.Data)
	cb.stats.StateChanges++
}

// matrixSize is the size of a linear.M4 in bytes.
const matrixSize = 64

// putMatrix writes m into b in column-major order.
func putMatrix(b []byte, m *linear.M4) {
	for i := range m {
		for j := range m[i] {
			binary.LittleEndian.PutUint32(b[(i*4+j)*4:], math.Float32bits(m[i][j]))
		}
	}
}
