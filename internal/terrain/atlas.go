package terrain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

// ErrAtlasExhausted is returned when every atlas tile is in use.
var ErrAtlasExhausted = errors.New("atlas exhausted")

// AtlasTile is a slot in the atlas grid.
type AtlasTile struct {
	X, Z int
}

// UVRect is a tile's footprint in normalised atlas coordinates, inset to
// the centres of its edge texels.
type UVRect struct {
	U0, V0, U1, V1 float32
}

// Atlas allocates fixed-size tiles of a square texture to chunks.
// It is not safe for concurrent use; the Manager serialises access.
type Atlas struct {
	tilesPerSide int
	resolution   int
	free         []AtlasTile // stack, top is the next tile handed out
	owner        map[AtlasTile]ChunkCoord
	tiles        map[ChunkCoord]AtlasTile
}

// NewAtlas creates an allocator for tilesPerSide² tiles of resolution² texels.
func NewAtlas(tilesPerSide, resolution int) *Atlas {
	a := &Atlas{
		tilesPerSide: tilesPerSide,
		resolution:   resolution,
	}
	a.Reset()
	return a
}

// Reset frees every tile.
func (a *Atlas) Reset() {
	n := a.tilesPerSide * a.tilesPerSide
	a.free = make([]AtlasTile, 0, n)
	for i := n - 1; i >= 0; i-- {
		a.free = append(a.free, AtlasTile{X: i % a.tilesPerSide, Z: i / a.tilesPerSide})
	}
	a.owner = make(map[AtlasTile]ChunkCoord, n)
	a.tiles = make(map[ChunkCoord]AtlasTile, n)
}

// Allocate returns the tile held by c, assigning a free one if it has none.
func (a *Atlas) Allocate(c ChunkCoord) (AtlasTile, error) {
	if t, ok := a.tiles[c]; ok {
		return t, nil
	}
	if len(a.free) == 0 {
		return AtlasTile{}, fmt.Errorf("%w: %d tiles in use, chunk %s", ErrAtlasExhausted, len(a.tiles), c)
	}
	t := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.owner[t] = c
	a.tiles[c] = t
	return t, nil
}

// Free releases the tile held by c. It reports whether c held one.
func (a *Atlas) Free(c ChunkCoord) bool {
	t, ok := a.tiles[c]
	if !ok {
		return false
	}
	delete(a.tiles, c)
	delete(a.owner, t)
	a.free = append(a.free, t)
	return true
}

// TileOf returns the tile held by c.
func (a *Atlas) TileOf(c ChunkCoord) (AtlasTile, bool) {
	t, ok := a.tiles[c]
	return t, ok
}

// Owner returns the chunk holding t.
func (a *Atlas) Owner(t AtlasTile) (ChunkCoord, bool) {
	c, ok := a.owner[t]
	return c, ok
}

// Chunks returns every chunk holding a tile, ordered by Z then X.
func (a *Atlas) Chunks() []ChunkCoord {
	out := make([]ChunkCoord, 0, len(a.tiles))
	for c := range a.tiles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out
}

// Used returns the number of allocated tiles.
func (a *Atlas) Used() int { return len(a.tiles) }

// Capacity returns the total number of tiles.
func (a *Atlas) Capacity() int { return a.tilesPerSide * a.tilesPerSide }

// TilesPerSide returns the grid width in tiles.
func (a *Atlas) TilesPerSide() int { return a.tilesPerSide }

// Resolution returns the tile width in texels.
func (a *Atlas) Resolution() int { return a.resolution }

// Size returns the atlas width in texels.
func (a *Atlas) Size() int { return a.tilesPerSide * a.resolution }

// Index returns the linear index of t.
func (a *Atlas) Index(t AtlasTile) int {
	return t.Z*a.tilesPerSide + t.X
}

// Rect returns the texel rectangle of t.
func (a *Atlas) Rect(t AtlasTile) gpu.Rect {
	return gpu.Rect{
		X: t.X * a.resolution,
		Y: t.Z * a.resolution,
		W: a.resolution,
		H: a.resolution,
	}
}

// UV returns the normalised texture rectangle of t.
func (a *Atlas) UV(t AtlasTile) UVRect {
	size := float32(a.Size())
	r := a.Rect(t)
	return UVRect{
		U0: (float32(r.X) + 0.5) / size,
		V0: (float32(r.Y) + 0.5) / size,
		U1: (float32(r.X+r.W) - 0.5) / size,
		V1: (float32(r.Y+r.H) - 0.5) / size,
	}
}
