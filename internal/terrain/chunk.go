package terrain

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Mesh is the renderer-side object drawing one chunk. It samples the height
// and normal atlases through the tile UV rectangle; it never owns height data.
type Mesh interface {
	// SetTile binds the mesh to an atlas tile.
	SetTile(uv UVRect)
	// SetLOD selects the grid density, 0 being the finest.
	SetLOD(level int)
	// SetPosition places the chunk's minimum corner in render space.
	SetPosition(pos mgl32.Vec3)
	SetVisible(visible bool)
	Dispose()
}

// MeshFactory creates chunk meshes.
type MeshFactory interface {
	NewMesh(c ChunkCoord, chunkSize float64, resolution int) (Mesh, error)
}

// Camera is the view used for LOD selection and culling, in render space.
type Camera interface {
	Position() mgl32.Vec3
	ViewProjection() mgl32.Mat4
}

// Chunk is a loaded chunk: a mesh bound to one atlas tile.
type Chunk struct {
	Coord   ChunkCoord
	Tile    AtlasTile
	UV      UVRect
	LOD     int
	Visible bool

	// Height range from the last readback, for culling.
	MinHeight float32
	MaxHeight float32

	mesh Mesh
	size float64
}

func newChunk(c ChunkCoord, tile AtlasTile, uv UVRect, mesh Mesh, size float64) *Chunk {
	ch := &Chunk{
		Coord:   c,
		Tile:    tile,
		UV:      uv,
		Visible: true,
		mesh:    mesh,
		size:    size,
	}
	mesh.SetTile(uv)
	mesh.SetLOD(0)
	mesh.SetVisible(true)
	return ch
}

// Mesh returns the chunk's mesh.
func (c *Chunk) Mesh() Mesh { return c.mesh }

// placeAt positions the mesh relative to the floating origin offset.
func (c *Chunk) placeAt(offset mgl64.Vec3) {
	x, z := c.Coord.Origin(c.size)
	c.mesh.SetPosition(mgl32.Vec3{
		float32(x - offset.X()),
		float32(-offset.Y()),
		float32(z - offset.Z()),
	})
}

// bounds returns the chunk's render-space AABB.
func (c *Chunk) bounds(offset mgl64.Vec3) (lo, hi mgl32.Vec3) {
	x, z := c.Coord.Origin(c.size)
	lo = mgl32.Vec3{
		float32(x - offset.X()),
		c.MinHeight - float32(offset.Y()),
		float32(z - offset.Z()),
	}
	hi = mgl32.Vec3{
		lo.X() + float32(c.size),
		c.MaxHeight - float32(offset.Y()),
		lo.Z() + float32(c.size),
	}
	return lo, hi
}

// centre returns the chunk's render-space centre at height zero.
func (c *Chunk) centre(offset mgl64.Vec3) mgl32.Vec3 {
	x, z := c.Coord.Origin(c.size)
	half := c.size / 2
	return mgl32.Vec3{
		float32(x + half - offset.X()),
		float32(-offset.Y()),
		float32(z + half - offset.Z()),
	}
}

func (c *Chunk) setLOD(level int) {
	if level != c.LOD {
		c.LOD = level
		c.mesh.SetLOD(level)
	}
}

func (c *Chunk) setVisible(v bool) {
	if v != c.Visible {
		c.Visible = v
		c.mesh.SetVisible(v)
	}
}

func (c *Chunk) release() {
	c.mesh.Dispose()
}
