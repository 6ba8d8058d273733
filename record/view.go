// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package record

import (
	"fmt"
	"sync"

	"github.com/gviegas/sgraph/internal/bitvec"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/node"
)

// Camera holds the matrices of a view.
type Camera struct {
	View       linear.M4
	Projection linear.M4
}

// NewCamera creates a perspective camera at eye looking
// at center.
// yfov is given in radians.
func NewCamera(eye, center, up linear.V3, yfov, aspect, znear, zfar float32) *Camera {
	c := &Camera{}
	c.LookAt(eye, center, up)
	c.Projection.Perspective(yfov, aspect, znear, zfar)
	return c
}

// LookAt sets the view matrix.
func (c *Camera) LookAt(eye, center, up linear.V3) { c.View.LookAt(&eye, &center, &up) }

// View is a camera looking at a scene.
type View struct {
	ID     int
	Camera *Camera
	Scene  node.Node
	Mask   node.Mask

	reg *ViewRegistry
}

// String implements fmt.Stringer.
func (v *View) String() string {
	if v == nil {
		return "View(nil)"
	}
	return fmt.Sprintf("View(%d)", v.ID)
}

// Close releases the view's ID.
func (v *View) Close() {
	if v.reg != nil {
		v.reg.release(v.ID)
		v.reg = nil
	}
}

// ViewRegistry hands out view IDs.
// The smallest free ID is always used, so IDs stay
// dense and can index per-view arrays.
// It is safe for concurrent use.
type ViewRegistry struct {
	mu  sync.Mutex
	ids bitvec.V[uint32]
}

// NewView creates a new View with a fresh ID.
func (r *ViewRegistry) NewView(cam *Camera, scene node.Node) *View {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids.Rem() == 0 {
		r.ids.Grow(1)
	}
	id, _ := r.ids.Search()
	r.ids.Set(id)
	return &View{
		ID:     id,
		Camera: cam,
		Scene:  scene,
		Mask:   node.MaskAll,
		reg:    r,
	}
}

func (r *ViewRegistry) release(id int) {
	r.mu.Lock()
	r.ids.Unset(id)
	r.mu.Unlock()
}

// Len returns the number of open views.
func (r *ViewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids.Count()
}
