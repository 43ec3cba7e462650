package terrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/config"
	"github.com/Faultbox/terrastream/internal/engine/gpu"
	"github.com/Faultbox/terrastream/internal/logger"
	"github.com/Faultbox/terrastream/pkg/formats"
)

// ErrDisposed is returned by operations on a disposed Terrain.
var ErrDisposed = errors.New("terrain disposed")

// Terrain owns every piece of streaming terrain state: the atlas, the height
// cache, the compute passes and the chunk manager. Consumers share one
// instance; there is no package-level state.
type Terrain struct {
	cfg     config.Config
	dev     gpu.Device
	log     *zap.Logger
	atlas   *Atlas
	cache   *HeightCache
	height  *HeightCompute
	normals *NormalCompute
	brush   *BrushCompute
	origin  *FloatingOrigin
	manager *Manager

	mu            sync.Mutex
	seed          int64
	source        *formats.MapData // last loaded map, nil for procedural
	flattenLocked bool
	flattenTarget float32
	disposed      bool
}

// Option configures a Terrain.
type Option func(*Terrain)

// WithLogger sets the logger. The default is the "terrain" component logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Terrain) {
		t.log = log
	}
}

// New validates cfg and allocates the atlases on dev. The device stays owned
// by the caller.
func New(cfg *config.Config, dev gpu.Device, meshes MeshFactory, opts ...Option) (*Terrain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Terrain{
		cfg:  *cfg,
		dev:  dev,
		seed: cfg.Noise.Seed,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Named("terrain")
	}

	tc := cfg.Terrain
	t.atlas = NewAtlas(tc.AtlasTilesPerSide, tc.TileResolution)
	t.cache = NewHeightCache(tc.TileResolution, tc.ChunkSizeMeters, tc.FallbackHeight)
	t.origin = NewFloatingOrigin(cfg.Origin.RebaseThresholdMeters)

	var err error
	t.height, err = NewHeightCompute(dev, t.atlas, t.cache, tc.ChunkSizeMeters, noiseParams(cfg.Noise.Seed, cfg.Noise), t.log)
	if err != nil {
		return nil, err
	}
	t.normals, err = NewNormalCompute(dev, t.atlas, t.height.Texture(), tc.ChunkSizeMeters)
	if err != nil {
		return nil, multierr.Append(err, t.height.Destroy())
	}
	t.brush, err = NewBrushCompute(dev, t.atlas, t.height.Texture(), tc.ChunkSizeMeters, t.log)
	if err != nil {
		return nil, multierr.Combine(err, t.normals.Destroy(), t.height.Destroy())
	}

	sc := cfg.Streaming
	t.manager = newManager(StreamingSettings{
		ChunkSize:      tc.ChunkSizeMeters,
		ViewDistance:   sc.ViewDistanceChunks,
		Hysteresis:     sc.HysteresisChunks,
		MaxOpsPerFrame: sc.MaxChunkOpsPerFrame,
		LODLevels:      sc.LODLevels,
		LODStep:        sc.LODDistanceChunks,
	}, t.atlas, t.cache, t.height, t.normals, t.brush, meshes, t.origin, t.log)

	t.log.Info("terrain ready",
		zap.String("device", dev.Name()),
		zap.Int("atlasTiles", t.atlas.Capacity()),
		zap.Int("resolution", tc.TileResolution),
		zap.Float64("chunkSize", tc.ChunkSizeMeters),
		zap.Int64("seed", t.seed))
	return t, nil
}

// noiseParams maps configured generation parameters onto the kernel's.
func noiseParams(seed int64, n config.NoiseConfig) gpu.NoiseParams {
	return gpu.NoiseParams{
		Seed:          uint32(seed ^ seed>>32),
		Octaves:       n.Octaves,
		Lacunarity:    n.Lacunarity,
		Gain:          n.Gain,
		Frequency:     n.Frequency,
		Amplitude:     n.Amplitude,
		BaseHeight:    n.BaseHeight,
		WarpFrequency: n.WarpFrequency,
		WarpStrength:  n.WarpStrength,
	}
}

func mapNoise(seed int64, n formats.NoiseParams) gpu.NoiseParams {
	return noiseParams(seed, config.NoiseConfig{
		Octaves:       n.Octaves,
		Lacunarity:    n.Lacunarity,
		Gain:          n.Gain,
		Frequency:     n.Frequency,
		Amplitude:     n.Amplitude,
		BaseHeight:    n.BaseHeight,
		WarpFrequency: n.WarpFrequency,
		WarpStrength:  n.WarpStrength,
	})
}

func (t *Terrain) alive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return ErrDisposed
	}
	return nil
}

// HeightAt returns the cached height at a world position, or the configured
// fallback when the owning chunk has never been baked. It never blocks on
// GPU work.
func (t *Terrain) HeightAt(worldX, worldZ float64) float32 {
	return t.cache.HeightAt(worldX, worldZ)
}

// Update is the per-frame streaming tick. It returns immediately; queue work
// runs in the background. cam may be nil.
func (t *Terrain) Update(worldX, worldZ float64, cam Camera) {
	t.manager.Update(worldX, worldZ, cam)
}

// Wait blocks until background streaming work has finished.
func (t *Terrain) Wait() { t.manager.Wait() }

// ProcessQueues runs one budgeted processing frame synchronously.
func (t *Terrain) ProcessQueues(ctx context.Context) (FrameStats, error) {
	return t.manager.ProcessQueues(ctx)
}

// ForceLoadAround synchronously loads every chunk in view of a world position.
func (t *Terrain) ForceLoadAround(ctx context.Context, worldX, worldZ float64) error {
	t.manager.Wait()
	_, err := t.manager.ForceLoadAround(ctx, worldX, worldZ)
	return err
}

// LastFrameStats returns the stats of the latest processing run.
func (t *Terrain) LastFrameStats() FrameStats { return t.manager.LastFrameStats() }

// Err returns the fatal streaming error, if any.
func (t *Terrain) Err() error { return t.manager.Err() }

// Chunks returns the loaded chunks ordered by Z then X.
func (t *Terrain) Chunks() []*Chunk { return t.manager.Chunks() }

// Origin returns the floating origin.
func (t *Terrain) Origin() *FloatingOrigin { return t.origin }

// Seed returns the seed of the active height function.
func (t *Terrain) Seed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seed
}

// ChunkHeights returns a copy of the cached samples of c, row-major by Z.
func (t *Terrain) ChunkHeights(c ChunkCoord) ([]float32, bool) {
	data, ok := t.cache.Get(c)
	if !ok {
		return nil, false
	}
	return append([]float32(nil), data...), true
}

// ChunkSize returns the chunk edge length in metres.
func (t *Terrain) ChunkSize() float64 { return t.cfg.Terrain.ChunkSizeMeters }

// Resolution returns the samples per chunk edge.
func (t *Terrain) Resolution() int { return t.atlas.Resolution() }

// HeightTexture returns the readable height atlas for mesh sampling.
func (t *Terrain) HeightTexture() gpu.Texture { return t.height.Texture() }

// NormalTexture returns the normal atlas.
func (t *Terrain) NormalTexture() gpu.Texture { return t.normals.Texture() }

// Normals reads back the normals of a loaded chunk as xyz0 quadruples.
func (t *Terrain) Normals(ctx context.Context, c ChunkCoord) ([]float32, error) {
	if err := t.alive(); err != nil {
		return nil, err
	}
	t.manager.proc.Lock()
	defer t.manager.proc.Unlock()
	return t.normals.Normals(ctx, c)
}

// ApplyBrushStrokes applies strokes as one batch. The first flatten stroke of
// a drag that reaches a loaded chunk locks the flatten target to the height
// under it; EndBrushDrag releases it.
func (t *Terrain) ApplyBrushStrokes(ctx context.Context, strokes []BrushStroke) error {
	if err := t.alive(); err != nil {
		return err
	}
	if len(strokes) == 0 {
		return nil
	}

	touched, err := t.manager.ApplyBrush(ctx, strokes, t.lockFlattenTarget)
	if err != nil {
		return fmt.Errorf("apply %d brush stroke(s): %w", len(strokes), err)
	}
	t.log.Debug("applied brush batch", zap.Int("strokes", len(strokes)), zap.Int("chunks", len(touched)))
	return nil
}

// lockFlattenTarget returns the drag's flatten target, locking it to the
// height under the first flatten stroke if the drag has none yet.
func (t *Terrain) lockFlattenTarget(strokes []BrushStroke) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.flattenLocked {
		for _, s := range strokes {
			if s.Kind == BrushFlatten {
				t.flattenTarget = t.cache.HeightAt(s.WorldX, s.WorldZ)
				t.flattenLocked = true
				break
			}
		}
	}
	return t.flattenTarget
}

// EndBrushDrag releases the flatten target locked by the current drag.
func (t *Terrain) EndBrushDrag() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flattenLocked = false
}

// ExportCurrentMapData serialises every cached chunk together with the
// parameters that regenerate unedited ones.
func (t *Terrain) ExportCurrentMapData() *formats.MapData {
	t.mu.Lock()
	seed, source := t.seed, t.source
	n := t.height.Noise()
	t.mu.Unlock()

	md := formats.NewMapData("", seed, t.cfg.Terrain.TileResolution, t.cfg.Terrain.ChunkSizeMeters, formats.NoiseParams{
		Octaves:       n.Octaves,
		Lacunarity:    n.Lacunarity,
		Gain:          n.Gain,
		Frequency:     n.Frequency,
		Amplitude:     n.Amplitude,
		BaseHeight:    n.BaseHeight,
		WarpFrequency: n.WarpFrequency,
		WarpStrength:  n.WarpStrength,
	})
	if source != nil {
		md.Metadata.ID = source.Metadata.ID
		md.Metadata.Name = source.Metadata.Name
		md.Metadata.Created = source.Metadata.Created
		for k, v := range source.Metadata.Extra {
			if md.Metadata.Extra == nil {
				md.Metadata.Extra = make(map[string]string)
			}
			md.Metadata.Extra[k] = v
		}
	}
	md.Metadata.Modified = time.Now().UTC()

	for c, data := range t.cache.Snapshot() {
		md.Chunks[c.Key()] = data
	}
	return md
}

// LoadMapData replaces the terrain with md. md is validated in full before
// anything is touched; a map baked at a different tile resolution or chunk
// size is rejected with ErrResolutionMismatch.
func (t *Terrain) LoadMapData(ctx context.Context, md *formats.MapData) error {
	if err := t.alive(); err != nil {
		return err
	}
	if md == nil {
		return fmt.Errorf("%w: nil map", formats.ErrInvalidMapData)
	}
	if err := md.Validate(); err != nil {
		return err
	}
	if md.TileResolution != t.cfg.Terrain.TileResolution {
		return fmt.Errorf("%w: map resolution %d, terrain %d", ErrResolutionMismatch, md.TileResolution, t.cfg.Terrain.TileResolution)
	}
	if md.ChunkSizeMeters != t.cfg.Terrain.ChunkSizeMeters {
		return fmt.Errorf("%w: map chunk size %g, terrain %g", ErrResolutionMismatch, md.ChunkSizeMeters, t.cfg.Terrain.ChunkSizeMeters)
	}
	entries, err := mapEntries(md)
	if err != nil {
		return err
	}

	src := cloneMap(md)
	err = t.manager.Reload(ctx, func() error {
		t.install(src, entries)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	t.log.Info("loaded map",
		zap.String("id", md.Metadata.ID),
		zap.String("name", md.Metadata.Name),
		zap.Int("chunks", len(entries)))
	return nil
}

// ResetToOriginal discards every edit and restores the last loaded map, or
// the configured procedural terrain if none was loaded.
func (t *Terrain) ResetToOriginal(ctx context.Context) error {
	if err := t.alive(); err != nil {
		return err
	}
	t.mu.Lock()
	src := t.source
	t.mu.Unlock()

	var entries map[ChunkCoord][]float32
	if src != nil {
		var err error
		if entries, err = mapEntries(src); err != nil {
			return err
		}
	}
	err := t.manager.Reload(ctx, func() error {
		t.install(src, entries)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset terrain: %w", err)
	}
	t.log.Info("terrain reset", zap.Bool("fromMap", src != nil), zap.Int("chunks", len(entries)))
	return nil
}

// install swaps the cache contents and height function. It runs with no
// chunk bound to the atlas.
func (t *Terrain) install(src *formats.MapData, entries map[ChunkCoord][]float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seed, noise := t.cfg.Noise.Seed, noiseParams(t.cfg.Noise.Seed, t.cfg.Noise)
	if src != nil {
		seed = src.Seed
		noise = noiseParams(seed, t.cfg.Noise)
		if src.Noise.Recorded() {
			noise = mapNoise(seed, src.Noise)
		}
	}
	if entries == nil {
		entries = make(map[ChunkCoord][]float32)
	}
	t.cache.Replace(entries)
	t.height.SetNoise(noise)
	t.seed = seed
	t.source = src
	t.flattenLocked = false
}

func mapEntries(md *formats.MapData) (map[ChunkCoord][]float32, error) {
	entries := make(map[ChunkCoord][]float32, len(md.Chunks))
	for key, heights := range md.Chunks {
		c, err := ParseChunkCoord(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", formats.ErrInvalidMapData, err)
		}
		entries[c] = append([]float32(nil), heights...)
	}
	return entries, nil
}

func cloneMap(md *formats.MapData) *formats.MapData {
	out := *md
	out.Chunks = make(map[string][]float32, len(md.Chunks))
	for k, v := range md.Chunks {
		out.Chunks[k] = append([]float32(nil), v...)
	}
	if md.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]string, len(md.Metadata.Extra))
		for k, v := range md.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}

// Dispose stops streaming, disposes every chunk mesh, releases the atlas
// textures and clears the height cache. Later calls return ErrDisposed.
func (t *Terrain) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return ErrDisposed
	}
	t.disposed = true
	t.mu.Unlock()

	t.manager.Close()
	t.atlas.Reset()
	t.cache.Clear()
	err := multierr.Combine(
		t.brush.Destroy(),
		t.normals.Destroy(),
		t.height.Destroy(),
	)
	if err != nil {
		t.log.Warn("terrain release failed", zap.Error(err))
		return err
	}
	t.log.Info("terrain disposed")
	return nil
}
