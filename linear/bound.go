// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package linear

import (
	"github.com/chewxy/math32"
)

// Sphere is a bounding sphere.
// A negative radius denotes an invalid (empty) bound.
type Sphere struct {
	Center V3
	Radius float32
}

// Valid returns whether s bounds anything.
func (s *Sphere) Valid() bool { return s.Radius >= 0 }

// Expand grows s to contain t.
func (s *Sphere) Expand(t *Sphere) {
	switch {
	case !t.Valid():
		return
	case !s.Valid():
		*s = *t
		return
	}
	var d V3
	d.Sub(&t.Center, &s.Center)
	dist := d.Len()
	if dist+t.Radius <= s.Radius {
		return
	}
	if dist+s.Radius <= t.Radius {
		*s = *t
		return
	}
	r := (dist + s.Radius + t.Radius) / 2
	d.Scale((r-s.Radius)/dist, &d)
	s.Center.Add(&s.Center, &d)
	s.Radius = r
}

// Plane is a plane in the form ax + by + cz + d = 0,
// with (a, b, c) pointing to the inside half-space.
type Plane V4

// Distance returns the signed distance from p to the plane.
// The plane must be normalized.
func (pl *Plane) Distance(p *V3) float32 {
	return pl[0]*p[0] + pl[1]*p[1] + pl[2]*p[2] + pl[3]
}

// normalize scales pl so that (a, b, c) has unit length.
func (pl *Plane) normalize() {
	n := math32.Sqrt(pl[0]*pl[0] + pl[1]*pl[1] + pl[2]*pl[2])
	if n == 0 {
		return
	}
	for i := range pl {
		pl[i] /= n
	}
}

// Frustum is a set of six inward-facing planes.
type Frustum [6]Plane

// Indices in Frustum.
const (
	Left = iota
	Right
	Bottom
	Top
	Near
	Far
)

// Set extracts the planes of the clip matrix m (typically
// projection ⋅ modelview), so that the planes are given in
// the coordinate system m transforms from.
// The depth range is assumed to be [0, 1].
func (f *Frustum) Set(m *M4) {
	row := func(i int) V4 { return V4{m[0][i], m[1][i], m[2][i], m[3][i]} }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	for i := range f[Left] {
		f[Left][i] = r3[i] + r0[i]
		f[Right][i] = r3[i] - r0[i]
		f[Bottom][i] = r3[i] + r1[i]
		f[Top][i] = r3[i] - r1[i]
		f[Near][i] = r2[i]
		f[Far][i] = r3[i] - r2[i]
	}
	for i := range f {
		f[i].normalize()
	}
}

// Intersect returns whether s is at least partially
// inside f.
// Invalid spheres never intersect.
func (f *Frustum) Intersect(s *Sphere) bool {
	if !s.Valid() {
		return false
	}
	for i := range f {
		if f[i].Distance(&s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
