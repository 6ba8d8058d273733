// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package state

import (
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/linear"
)

// MatrixStack is a stack of linear.M4.
type MatrixStack struct {
	s []linear.M4
}

// Push pushes m.
func (s *MatrixStack) Push(m *linear.M4) { s.s = append(s.s, *m) }

// PushMul pushes Top ⋅ m.
func (s *MatrixStack) PushMul(m *linear.M4) {
	var t linear.M4
	t.Mul(s.Top(), m)
	s.s = append(s.s, t)
}

// Pop pops the top matrix.
func (s *MatrixStack) Pop() {
	if len(s.s) == 0 {
		panic("state: MatrixStack.Pop on empty stack")
	}
	s.s = s.s[:len(s.s)-1]
}

// Top returns the top matrix.
// The result is valid until the next push or pop.
func (s *MatrixStack) Top() *linear.M4 { return &s.s[len(s.s)-1] }

// Len returns the number of matrices in s.
func (s *MatrixStack) Len() int { return len(s.s) }

// State tracks the active state commands and matrices
// during a record traversal.
type State struct {
	ModelView  MatrixStack
	Projection MatrixStack

	frustums []linear.Frustum
	slots    [][]Command
	// Top command of each slot as of the last call
	// to Record.
	recorded   []Command
	mvRecorded bool
}

// New creates a new State.
func New() *State {
	return &State{
		slots:    make([][]Command, NSlot),
		recorded: make([]Command, NSlot),
	}
}

// Reset empties every stack and begins a new view.
func (st *State) Reset(proj, view *linear.M4) {
	st.ModelView.s = st.ModelView.s[:0]
	st.Projection.s = st.Projection.s[:0]
	st.frustums = st.frustums[:0]
	for i := range st.slots {
		st.slots[i] = st.slots[i][:0]
		st.recorded[i] = nil
	}
	st.mvRecorded = false
	st.Projection.Push(proj)
	st.ModelView.Push(view)
	st.pushFrustum()
}

func (st *State) grow(slot int) {
	if slot >= len(st.slots) {
		n := slot + 1
		st.slots = append(st.slots, make([][]Command, n-len(st.slots))...)
		st.recorded = append(st.recorded, make([]Command, n-len(st.recorded))...)
	}
}

// PushCommands pushes each command onto its slot.
func (st *State) PushCommands(cmds []Command) {
	for _, c := range cmds {
		i := c.Slot()
		st.grow(i)
		st.slots[i] = append(st.slots[i], c)
	}
}

// PopCommands pops the commands pushed by a call to
// PushCommands with the same cmds.
func (st *State) PopCommands(cmds []Command) {
	for i := len(cmds) - 1; i >= 0; i-- {
		s := cmds[i].Slot()
		n := len(st.slots[s])
		if n == 0 || st.slots[s][n-1] != cmds[i] {
			panic("state: unbalanced PopCommands")
		}
		st.slots[s] = st.slots[s][:n-1]
	}
}

// Active appends the top command of every non-empty
// slot to dst, in slot order.
func (st *State) Active(dst []Command) []Command {
	for _, s := range st.slots {
		if n := len(s); n > 0 {
			dst = append(dst, s[n-1])
		}
	}
	return dst
}

// PushTransform pushes ModelView.Top ⋅ m and the
// frustum that it implies.
func (st *State) PushTransform(m *linear.M4) {
	st.ModelView.PushMul(m)
	st.pushFrustum()
	st.mvRecorded = false
}

// PopTransform undoes a call to PushTransform.
func (st *State) PopTransform() {
	st.ModelView.Pop()
	st.frustums = st.frustums[:len(st.frustums)-1]
	st.mvRecorded = false
}

// PushModelView pushes m as is, along with its frustum.
func (st *State) PushModelView(m *linear.M4) {
	st.ModelView.Push(m)
	st.pushFrustum()
	st.mvRecorded = false
}

func (st *State) pushFrustum() {
	var clip linear.M4
	clip.Mul(st.Projection.Top(), st.ModelView.Top())
	var f linear.Frustum
	f.Set(&clip)
	st.frustums = append(st.frustums, f)
}

// Frustum returns the frustum in the current local
// coordinate system.
func (st *State) Frustum() *linear.Frustum { return &st.frustums[len(st.frustums)-1] }

// Intersect returns whether s, given in the current
// local coordinate system, is inside the frustum.
func (st *State) Intersect(s *linear.Sphere) bool { return st.Frustum().Intersect(s) }

// EyeDepth returns the distance along the view axis of
// the point p given in the current local coordinate
// system.
func (st *State) EyeDepth(p *linear.V3) float32 {
	e := st.ModelView.Top().Point(p)
	return -e[2]
}

// Record records the commands and the model-view
// matrix that differ from what was recorded last.
func (st *State) Record(cb *CommandBuffer) {
	for i, s := range st.slots {
		var top Command
		if n := len(s); n > 0 {
			top = s[n-1]
		}
		if top != st.recorded[i] {
			if top != nil {
				top.Record(cb)
			}
			st.recorded[i] = top
		}
	}
	if !st.mvRecorded {
		var b [matrixSize]byte
		putMatrix(b[:], st.ModelView.Top())
		cb.cb.SetConstants(0, b[:])
		cb.stats.MatrixChanges++
		st.mvRecorded = true
	}
}

// Stats are counters of recorded commands.
type Stats struct {
	Draws         int
	StateChanges  int
	MatrixChanges int
}

// CommandBuffer wraps a driver.CmdBuffer for recording.
type CommandBuffer struct {
	cb       driver.CmdBuffer
	pipeline driver.Pipeline
	stats    Stats

	// ViewID identifies the view being recorded.
	ViewID int
	// DeviceID identifies the device that will execute
	// the commands.
	DeviceID int
}

// NewCommandBuffer wraps cb.
func NewCommandBuffer(cb driver.CmdBuffer, deviceID int) *CommandBuffer {
	return &CommandBuffer{cb: cb, DeviceID: deviceID}
}

// Cmd returns the wrapped driver.CmdBuffer.
func (cb *CommandBuffer) Cmd() driver.CmdBuffer { return cb.cb }

// Begin begins the wrapped command buffer and clears
// the statistics.
func (cb *CommandBuffer) Begin() error {
	cb.pipeline = nil
	cb.stats = Stats{}
	return cb.cb.Begin()
}

// End ends the wrapped command buffer.
func (cb *CommandBuffer) End() error { return cb.cb.End() }

// Stats returns the counters since the last Begin.
func (cb *CommandBuffer) Stats() Stats { return cb.stats }

// Draw records a draw.
func (cb *CommandBuffer) Draw(vertCount, instCount int) {
	cb.cb.Draw(vertCount, instCount, 0, 0)
	cb.stats.Draws++
}

// DrawIndexed records an indexed draw.
func (cb *CommandBuffer) DrawIndexed(idxCount, instCount int) {
	cb.cb.DrawIndexed(idxCount, instCount, 0, 0, 0)
	cb.stats.Draws++
}
