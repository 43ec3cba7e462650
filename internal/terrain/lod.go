package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// LODForDistance picks a level from the horizontal distance to a chunk's
// centre: one level per step chunks, capped at levels-1.
func LODForDistance(dist, chunkSize, step float64, levels int) int {
	if levels <= 1 || step <= 0 {
		return 0
	}
	level := int(dist / (step * chunkSize))
	return min(max(level, 0), levels-1)
}

// Frustum holds six normalised clip planes: left, right, bottom, top, near, far.
type Frustum [6]mgl32.Vec4

// FrustumFromMatrix extracts the planes of a projection*view matrix.
func FrustumFromMatrix(m mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := m.Row(0), m.Row(1), m.Row(2), m.Row(3)
	f := Frustum{
		r3.Add(r0),
		r3.Sub(r0),
		r3.Add(r1),
		r3.Sub(r1),
		r3.Add(r2),
		r3.Sub(r2),
	}
	for i, p := range f {
		l := float32(math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])))
		if l > 0 {
			f[i] = p.Mul(1 / l)
		}
	}
	return f
}

// IntersectsAABB reports whether the box is at least partly inside.
func (f Frustum) IntersectsAABB(lo, hi mgl32.Vec3) bool {
	for _, p := range f {
		// Corner farthest along the plane normal.
		x, y, z := hi.X(), hi.Y(), hi.Z()
		if p[0] < 0 {
			x = lo.X()
		}
		if p[1] < 0 {
			y = lo.Y()
		}
		if p[2] < 0 {
			z = lo.Z()
		}
		if p[0]*x+p[1]*y+p[2]*z+p[3] < 0 {
			return false
		}
	}
	return true
}
