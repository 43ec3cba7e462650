package gridmesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/terrastream/internal/terrain"
)

// Build creates the mesh of one chunk from res×res height samples spanning
// size metres. lod decimates the grid by 1<<lod; the last row and column are
// always kept so neighbouring chunks meet on the shared edge. uv maps the
// grid onto the chunk's atlas tile.
func Build(heights []float32, res int, size float64, lod int, uv terrain.UVRect) (*Mesh, error) {
	if res < 2 {
		return nil, fmt.Errorf("gridmesh: resolution %d below 2", res)
	}
	if len(heights) != res*res {
		return nil, fmt.Errorf("gridmesh: got %d samples, want %d", len(heights), res*res)
	}
	if lod < 0 {
		lod = 0
	}

	spacing := float32(size / float64(res-1))
	rows := lodIndices(res, lod)
	n := len(rows)

	vertices := make([]Vertex, 0, n*n)
	bounds := emptyBounds()
	for _, j := range rows {
		for _, i := range rows {
			p := mgl32.Vec3{float32(i) * spacing, heights[j*res+i], float32(j) * spacing}
			bounds.extend(p)
			vertices = append(vertices, Vertex{
				Position: p,
				Normal:   gridNormal(heights, res, i, j, spacing),
				TexCoord: mgl32.Vec2{
					lerp(uv.U0, uv.U1, float32(i)/float32(res-1)),
					lerp(uv.V0, uv.V1, float32(j)/float32(res-1)),
				},
			})
		}
	}

	// Two counter-clockwise triangles per cell, facing +Y.
	indices := make([]uint32, 0, (n-1)*(n-1)*6)
	for r := 0; r < n-1; r++ {
		for c := 0; c < n-1; c++ {
			a := uint32(r*n + c)
			b := a + 1
			d := a + uint32(n)
			e := d + 1
			indices = append(indices, a, d, b, b, d, e)
		}
	}

	return &Mesh{Vertices: vertices, Indices: indices, Bounds: bounds}, nil
}

// lodIndices returns the sample indices kept at a LOD level.
func lodIndices(res, lod int) []int {
	stride := 1 << lod
	if stride >= res {
		stride = res - 1
	}
	out := make([]int, 0, (res-1)/stride+2)
	for i := 0; i < res-1; i += stride {
		out = append(out, i)
	}
	return append(out, res-1)
}

// gridNormal estimates the surface normal at sample (i, j) from the full
// resolution grid, one-sided at the chunk border.
func gridNormal(h []float32, res, i, j int, spacing float32) mgl32.Vec3 {
	at := func(x, z int) float32 { return h[z*res+x] }

	x0, x1 := max(i-1, 0), min(i+1, res-1)
	z0, z1 := max(j-1, 0), min(j+1, res-1)
	dx := (at(x1, j) - at(x0, j)) / (float32(x1-x0) * spacing)
	dz := (at(i, z1) - at(i, z0)) / (float32(z1-z0) * spacing)

	n := mgl32.Vec3{-dx, 1, -dz}
	if n.Len() < 1e-4 {
		return mgl32.Vec3{0, 1, 0}
	}
	return n.Normalize()
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
