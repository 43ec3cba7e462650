// Package terrain streams a GPU-baked heightfield in square chunks around a
// viewer, keeps a CPU copy of every baked chunk for height queries, and
// applies brush edits on the GPU.
package terrain

import (
	"math"

	"github.com/Faultbox/terrastream/pkg/formats"
)

// ChunkCoord identifies a chunk on the infinite chunk grid.
type ChunkCoord struct {
	X, Z int
}

// ChunkAt returns the chunk containing world position (x, z).
func ChunkAt(worldX, worldZ, chunkSize float64) ChunkCoord {
	return ChunkCoord{
		X: int(math.Floor(worldX / chunkSize)),
		Z: int(math.Floor(worldZ / chunkSize)),
	}
}

// ParseChunkCoord parses a persisted chunk key.
func ParseChunkCoord(key string) (ChunkCoord, error) {
	x, z, err := formats.ParseChunkKey(key)
	return ChunkCoord{X: x, Z: z}, err
}

// Key returns the persisted form "cx,cz".
func (c ChunkCoord) Key() string {
	return formats.ChunkKey(c.X, c.Z)
}

// String implements fmt.Stringer.
func (c ChunkCoord) String() string {
	return "(" + c.Key() + ")"
}

// Add returns c offset by (dx, dz).
func (c ChunkCoord) Add(dx, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Z: c.Z + dz}
}

// DistSq returns the squared grid distance to o.
func (c ChunkCoord) DistSq(o ChunkCoord) int {
	dx := c.X - o.X
	dz := c.Z - o.Z
	return dx*dx + dz*dz
}

// Chebyshev returns the ring distance to o.
func (c ChunkCoord) Chebyshev(o ChunkCoord) int {
	return max(abs(c.X-o.X), abs(c.Z-o.Z))
}

// Origin returns the world position of the chunk's minimum corner.
func (c ChunkCoord) Origin(chunkSize float64) (x, z float64) {
	return float64(c.X) * chunkSize, float64(c.Z) * chunkSize
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
