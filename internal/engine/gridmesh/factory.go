package gridmesh

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/terrain"
)

// ErrDisposed is returned when building a disposed mesh.
var ErrDisposed = errors.New("gridmesh: mesh disposed")

// Factory creates chunk meshes for the streaming manager and keeps track of
// the ones not yet disposed.
type Factory struct {
	log *zap.Logger

	mu   sync.Mutex
	live map[terrain.ChunkCoord]*ChunkMesh
}

// NewFactory creates a factory. A nil logger disables logging.
func NewFactory(log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{log: log, live: make(map[terrain.ChunkCoord]*ChunkMesh)}
}

// NewMesh implements terrain.MeshFactory.
func (f *Factory) NewMesh(c terrain.ChunkCoord, chunkSize float64, resolution int) (terrain.Mesh, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[c]; ok {
		return nil, fmt.Errorf("gridmesh: mesh for chunk %s already live", c)
	}
	m := &ChunkMesh{
		factory: f,
		coord:   c,
		size:    chunkSize,
		res:     resolution,
		visible: true,
	}
	f.live[c] = m
	f.log.Debug("chunk mesh created", zap.Stringer("chunk", c))
	return m, nil
}

// Live returns the coordinates of undisposed meshes ordered by Z then X.
func (f *Factory) Live() []terrain.ChunkCoord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]terrain.ChunkCoord, 0, len(f.live))
	for c := range f.live {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b terrain.ChunkCoord) int {
		if a.Z != b.Z {
			return a.Z - b.Z
		}
		return a.X - b.X
	})
	return out
}

// Mesh returns the live mesh of c.
func (f *Factory) Mesh(c terrain.ChunkCoord) (*ChunkMesh, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.live[c]
	return m, ok
}

func (f *Factory) release(m *ChunkMesh) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[m.coord] == m {
		delete(f.live, m.coord)
		f.log.Debug("chunk mesh disposed", zap.Stringer("chunk", m.coord))
	}
}

// ChunkMesh is the CPU-side mesh of one chunk. It records the state set by
// the streaming manager and builds triangle data on demand.
type ChunkMesh struct {
	factory *Factory
	coord   terrain.ChunkCoord
	size    float64
	res     int

	mu       sync.Mutex
	uv       terrain.UVRect
	lod      int
	pos      mgl32.Vec3
	visible  bool
	disposed bool
}

// SetTile implements terrain.Mesh.
func (m *ChunkMesh) SetTile(uv terrain.UVRect) {
	m.mu.Lock()
	m.uv = uv
	m.mu.Unlock()
}

// SetLOD implements terrain.Mesh.
func (m *ChunkMesh) SetLOD(level int) {
	m.mu.Lock()
	m.lod = level
	m.mu.Unlock()
}

// SetPosition implements terrain.Mesh.
func (m *ChunkMesh) SetPosition(pos mgl32.Vec3) {
	m.mu.Lock()
	m.pos = pos
	m.mu.Unlock()
}

// SetVisible implements terrain.Mesh.
func (m *ChunkMesh) SetVisible(visible bool) {
	m.mu.Lock()
	m.visible = visible
	m.mu.Unlock()
}

// Dispose implements terrain.Mesh. It is idempotent.
func (m *ChunkMesh) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()
	m.factory.release(m)
}

// Coord returns the chunk this mesh draws.
func (m *ChunkMesh) Coord() terrain.ChunkCoord { return m.coord }

// State returns the current LOD, render-space position and visibility.
func (m *ChunkMesh) State() (lod int, pos mgl32.Vec3, visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lod, m.pos, m.visible
}

// Build creates the triangle data at the current LOD from heights.
func (m *ChunkMesh) Build(heights []float32) (*Mesh, error) {
	m.mu.Lock()
	disposed, lod, uv := m.disposed, m.lod, m.uv
	m.mu.Unlock()
	if disposed {
		return nil, ErrDisposed
	}
	return Build(heights, m.res, m.size, lod, uv)
}
