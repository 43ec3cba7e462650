package terrain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StreamingSettings configures chunk streaming.
type StreamingSettings struct {
	ChunkSize      float64
	ViewDistance   int // chunks
	Hysteresis     int // chunks
	MaxOpsPerFrame int // loads plus unloads per processing run
	LODLevels      int
	LODStep        float64 // chunks per LOD level
}

// FrameStats describes one processing run.
type FrameStats struct {
	Unloaded           int
	Loaded             int
	Failed             int
	NormalsRegenerated bool
}

// Ops returns the number of operations the run consumed from its budget.
func (s FrameStats) Ops() int { return s.Unloaded + s.Loaded + s.Failed }

// Manager streams chunks around the viewer. Queue bookkeeping is guarded by
// qmu and held briefly; every GPU-touching path holds proc for its duration,
// so processing runs, brush batches and map reloads never interleave.
type Manager struct {
	settings StreamingSettings
	atlas    *Atlas
	cache    *HeightCache
	height   *HeightCompute
	normals  *NormalCompute
	brush    *BrushCompute
	meshes   MeshFactory
	origin   *FloatingOrigin
	log      *zap.Logger

	proc   sync.Mutex
	flight singleflight.Group
	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	qmu       sync.Mutex
	chunks    map[ChunkCoord]*Chunk
	inflight  map[ChunkCoord]struct{}
	loads     *coordQueue
	unloads   *coordQueue
	centre    ChunkCoord
	hasCentre bool
	camera    Camera
	stats     FrameStats
	err       error
	closed    bool
}

const processKey = "process"

func newManager(s StreamingSettings, atlas *Atlas, cache *HeightCache, height *HeightCompute,
	normals *NormalCompute, brush *BrushCompute, meshes MeshFactory, origin *FloatingOrigin, log *zap.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		settings: s,
		atlas:    atlas,
		cache:    cache,
		height:   height,
		normals:  normals,
		brush:    brush,
		meshes:   meshes,
		origin:   origin,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		chunks:   make(map[ChunkCoord]*Chunk),
		inflight: make(map[ChunkCoord]struct{}),
		loads:    newCoordQueue(),
		unloads:  newCoordQueue(),
	}
	m.unsub = origin.Subscribe(m.onRebase)
	return m
}

// Update recentres streaming on the viewer's world position and refreshes
// LOD and visibility. When the viewer has moved more than the hysteresis
// band since the last rebuild, the queues are rebuilt. Pending work is
// processed in the background; a call made while a run is in flight joins it.
// cam may be nil.
func (m *Manager) Update(worldX, worldZ float64, cam Camera) {
	centre := ChunkAt(worldX, worldZ, m.settings.ChunkSize)

	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return
	}
	if cam != nil {
		m.camera = cam
	}
	if !m.hasCentre || centre.Chebyshev(m.centre) > m.settings.Hysteresis {
		m.rebuildLocked(centre)
	}
	m.refreshViewLocked()
	pending := m.loads.Len()+m.unloads.Len() > 0 && m.err == nil
	m.qmu.Unlock()

	if !pending {
		return
	}
	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		<-m.flight.DoChan(processKey, func() (any, error) {
			stats, err := m.ProcessQueues(m.ctx)
			return stats, err
		})
	}()
}

// Wait blocks until background processing started by Update has finished.
func (m *Manager) Wait() {
	m.runs.Wait()
}

// Err returns the fatal error that stopped streaming, if any.
func (m *Manager) Err() error {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.err
}

// LastFrameStats returns the stats of the most recent processing run.
func (m *Manager) LastFrameStats() FrameStats {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.stats
}

// Centre returns the chunk the queues were last rebuilt around.
func (m *Manager) Centre() (ChunkCoord, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.centre, m.hasCentre
}

// Pending returns the queued loads and unloads.
func (m *Manager) Pending() (loads, unloads []ChunkCoord) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.loads.Items(), m.unloads.Items()
}

// Chunks returns the loaded chunks ordered by Z then X.
func (m *Manager) Chunks() []*Chunk {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	out := make([]*Chunk, 0, len(m.chunks))
	for _, ch := range m.chunks {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord, out[j].Coord
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return out
}

// Chunk returns the loaded chunk at c.
func (m *Manager) Chunk(c ChunkCoord) (*Chunk, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	ch, ok := m.chunks[c]
	return ch, ok
}

// Loaded reports whether c is loaded.
func (m *Manager) Loaded(c ChunkCoord) bool {
	_, ok := m.Chunk(c)
	return ok
}

func (m *Manager) loadedCoordsLocked() []ChunkCoord {
	out := make([]ChunkCoord, 0, len(m.chunks))
	for c := range m.chunks {
		out = append(out, c)
	}
	return out
}

func (m *Manager) rebuildLocked(centre ChunkCoord) {
	m.centre = centre
	m.hasCentre = true

	m.loads.Reset(loadOrder(centre, m.settings.ViewDistance, func(c ChunkCoord) bool {
		_, loaded := m.chunks[c]
		_, busy := m.inflight[c]
		return !loaded && !busy
	}))
	m.unloads.Reset(unloadOrder(centre, m.settings.ViewDistance+m.settings.Hysteresis, m.loadedCoordsLocked()))

	m.log.Debug("rebuilt streaming queues",
		zap.Stringer("centre", centre),
		zap.Int("loads", m.loads.Len()),
		zap.Int("unloads", m.unloads.Len()))
}

// refreshViewLocked recomputes LOD and frustum visibility of every chunk.
func (m *Manager) refreshViewLocked() {
	if m.camera == nil {
		return
	}
	offset := m.origin.Offset()
	frustum := FrustumFromMatrix(m.camera.ViewProjection())
	eye := m.camera.Position()
	for _, ch := range m.chunks {
		m.applyViewLocked(ch, offset, frustum, eye)
	}
}

func (m *Manager) applyViewLocked(ch *Chunk, offset mgl64.Vec3, frustum Frustum, eye mgl32.Vec3) {
	c := ch.centre(offset)
	dx := float64(c.X() - eye.X())
	dz := float64(c.Z() - eye.Z())
	dist := mgl64.Vec2{dx, dz}.Len()
	ch.setLOD(LODForDistance(dist, m.settings.ChunkSize, m.settings.LODStep, m.settings.LODLevels))
	lo, hi := ch.bounds(offset)
	ch.setVisible(frustum.IntersectsAABB(lo, hi))
}

// onRebase moves every mesh by the origin shift.
func (m *Manager) onRebase(delta mgl64.Vec3) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	offset := m.origin.Offset()
	for _, ch := range m.chunks {
		ch.placeAt(offset)
	}
	m.log.Debug("repositioned chunks after rebase",
		zap.Float64("dx", delta.X()),
		zap.Float64("dz", delta.Z()),
		zap.Int("chunks", len(m.chunks)))
}

// ProcessQueues runs one budgeted frame of queue work: unloads first, then
// loads, at most MaxOpsPerFrame operations in total, followed by a single
// normal regeneration if anything was loaded. Failed loads count toward the
// budget.
func (m *Manager) ProcessQueues(ctx context.Context) (FrameStats, error) {
	m.proc.Lock()
	defer m.proc.Unlock()
	return m.processLocked(ctx, m.settings.MaxOpsPerFrame)
}

// ForceLoadAround recentres on a world position and synchronously drains the
// queues with no operation cap.
func (m *Manager) ForceLoadAround(ctx context.Context, worldX, worldZ float64) (FrameStats, error) {
	m.proc.Lock()
	defer m.proc.Unlock()

	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return FrameStats{}, ErrDisposed
	}
	m.rebuildLocked(ChunkAt(worldX, worldZ, m.settings.ChunkSize))
	m.refreshViewLocked()
	m.qmu.Unlock()

	stats, err := m.processLocked(ctx, 0)
	if err != nil {
		return stats, err
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("force load around %s: %d chunk(s) failed", ChunkAt(worldX, worldZ, m.settings.ChunkSize), stats.Failed)
	}
	return stats, nil
}

// processLocked drains up to budget operations. A budget of zero or less is
// unlimited. Callers hold proc.
func (m *Manager) processLocked(ctx context.Context, budget int) (FrameStats, error) {
	m.qmu.Lock()
	closed, fatal := m.closed, m.err
	m.qmu.Unlock()
	if closed {
		return FrameStats{}, ErrDisposed
	}
	if fatal != nil {
		return FrameStats{}, fatal
	}

	var (
		stats  FrameStats
		failed []ChunkCoord
	)
	spend := func() bool { return budget <= 0 || stats.Ops() < budget }
	drainUnloads := func() {
		for spend() {
			c, ok := m.popUnload()
			if !ok {
				return
			}
			m.unload(c)
			stats.Unloaded++
		}
	}

	for {
		// Update may rebuild the queues while a load is in flight, so pending
		// unloads are drained before every load takes a tile.
		drainUnloads()
		if !spend() {
			break
		}
		if err := ctx.Err(); err != nil {
			m.requeueLoads(failed)
			m.finish(stats)
			return stats, err
		}
		c, ok := m.popLoad()
		if !ok {
			break
		}
		err := m.load(ctx, c)
		switch {
		case err == nil:
			stats.Loaded++
		case errors.Is(err, ErrAtlasExhausted):
			m.fail(err)
			m.finish(stats)
			return stats, err
		default:
			m.log.Warn("chunk load failed, requeued", zap.Stringer("chunk", c), zap.Error(err))
			stats.Failed++
			failed = append(failed, c)
		}
	}
	m.requeueLoads(failed)

	if stats.Loaded > 0 {
		if err := m.normals.Regenerate(ctx); err != nil {
			m.finish(stats)
			return stats, err
		}
		stats.NormalsRegenerated = true
	}
	m.finish(stats)
	return stats, nil
}

func (m *Manager) finish(stats FrameStats) {
	m.qmu.Lock()
	m.stats = stats
	m.qmu.Unlock()
	if stats.Ops() > 0 {
		m.log.Debug("processed chunk queues",
			zap.Int("unloaded", stats.Unloaded),
			zap.Int("loaded", stats.Loaded),
			zap.Int("failed", stats.Failed),
			zap.Bool("normals", stats.NormalsRegenerated))
	}
}

func (m *Manager) fail(err error) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.err == nil {
		m.err = err
		m.log.Error("chunk streaming stopped", zap.Error(err))
	}
}

func (m *Manager) popUnload() (ChunkCoord, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.unloads.Pop()
}

func (m *Manager) popLoad() (ChunkCoord, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	for {
		c, ok := m.loads.Pop()
		if !ok {
			return c, false
		}
		if _, loaded := m.chunks[c]; loaded {
			continue
		}
		m.inflight[c] = struct{}{}
		return c, true
	}
}

func (m *Manager) requeueLoads(cs []ChunkCoord) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	for _, c := range cs {
		delete(m.inflight, c)
		m.loads.Push(c)
	}
}

// unload disposes c's mesh and frees its tile. The cached heights survive,
// so a later load re-uploads them instead of baking.
func (m *Manager) unload(c ChunkCoord) {
	m.qmu.Lock()
	ch, ok := m.chunks[c]
	delete(m.chunks, c)
	m.qmu.Unlock()
	if !ok {
		return
	}
	ch.release()
	m.height.FreeTile(c)
}

// load binds c to a tile. Cached heights are uploaded; otherwise the chunk
// is baked and read back into the cache.
func (m *Manager) load(ctx context.Context, c ChunkCoord) error {
	ch, err := m.bind(ctx, c)

	m.qmu.Lock()
	defer m.qmu.Unlock()
	if err != nil {
		delete(m.inflight, c)
		return err
	}
	delete(m.inflight, c)
	m.chunks[c] = ch
	ch.placeAt(m.origin.Offset())
	if m.camera != nil {
		m.applyViewLocked(ch, m.origin.Offset(), FrustumFromMatrix(m.camera.ViewProjection()), m.camera.Position())
	}
	// Scrolled out of range while loading.
	if m.hasCentre && c.Chebyshev(m.centre) > m.settings.ViewDistance+m.settings.Hysteresis {
		m.unloads.Push(c)
	}
	return nil
}

func (m *Manager) bind(ctx context.Context, c ChunkCoord) (*Chunk, error) {
	var (
		tile AtlasTile
		err  error
	)
	if data, ok := m.cache.Get(c); ok {
		tile, err = m.height.Upload(ctx, c, data)
		if err != nil {
			return nil, err
		}
	} else {
		tile, err = m.height.Bake(ctx, c)
		if err != nil {
			return nil, err
		}
		if _, err := m.height.Readback(ctx, c); err != nil {
			m.height.FreeTile(c)
			return nil, err
		}
	}

	mesh, err := m.meshes.NewMesh(c, m.settings.ChunkSize, m.atlas.Resolution())
	if err != nil {
		m.height.FreeTile(c)
		return nil, fmt.Errorf("create mesh for %s: %w", c, err)
	}
	ch := newChunk(c, tile, m.atlas.UV(tile), mesh, m.settings.ChunkSize)
	ch.MinHeight, ch.MaxHeight, _ = m.cache.Range(c)
	return ch, nil
}

// ApplyBrush runs one brush batch: every stroke is dispatched into the write
// buffer, shared edges around the touched chunks are stitched, the result is
// published and read back into the cache, then normals are regenerated.
// Strokes that reach no loaded chunk are dropped. Unloaded chunks a kept
// stroke spills into are bound to a tile for the batch so their shared edges
// stay seamless. flattenTarget is called once with the kept strokes. It
// returns the chunks whose heights changed.
func (m *Manager) ApplyBrush(ctx context.Context, strokes []BrushStroke, flattenTarget func([]BrushStroke) float32) ([]ChunkCoord, error) {
	m.proc.Lock()
	defer m.proc.Unlock()

	var kept []BrushStroke
	for _, s := range strokes {
		for _, c := range s.AffectedChunks(m.settings.ChunkSize) {
			if m.Loaded(c) {
				kept = append(kept, s)
				break
			}
		}
	}
	if len(kept) == 0 {
		return nil, nil
	}

	kept, borrowed, err := m.borrowTiles(ctx, kept)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return nil, nil
	}

	order, errs := m.editBatch(ctx, kept, flattenTarget(kept))
	for _, c := range borrowed {
		m.height.FreeTile(c)
	}
	if order == nil {
		return nil, errs
	}
	errs = multierr.Append(errs, m.normals.Regenerate(ctx))
	return order, errs
}

// editBatch applies strokes, stitches and publishes them, then reads every
// changed chunk back into the cache. A nil result means nothing was
// published.
func (m *Manager) editBatch(ctx context.Context, strokes []BrushStroke, target float32) ([]ChunkCoord, error) {
	if err := m.brush.EnsureSynced(ctx); err != nil {
		return nil, err
	}

	dirty := make(map[ChunkCoord]struct{})
	var order []ChunkCoord
	mark := func(c ChunkCoord) {
		if _, ok := dirty[c]; !ok {
			dirty[c] = struct{}{}
			order = append(order, c)
		}
	}
	for _, s := range strokes {
		touched, err := m.brush.ApplyNoCopy(ctx, s, target)
		if err != nil {
			m.brush.Abort()
			return nil, err
		}
		for _, c := range touched {
			mark(c)
		}
	}

	edited := append([]ChunkCoord(nil), order...)
	for _, p := range stitchPairs(edited, m.atlasHolds) {
		if err := m.brush.StitchEdge(ctx, p.a, p.b); err != nil {
			m.brush.Abort()
			return nil, err
		}
		mark(p.a)
		mark(p.b)
	}

	if err := m.brush.SyncReadable(ctx); err != nil {
		m.brush.Abort()
		return nil, err
	}

	var errs error
	for _, c := range order {
		if _, err := m.height.Readback(ctx, c); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		m.refreshRange(c)
	}
	return order, errs
}

// borrowTiles binds every tileless chunk the strokes reach: cached heights
// are uploaded, unvisited chunks are baked and read back first. A stroke whose
// chunks cannot all be bound because the atlas is full is dropped whole, so
// no edge is edited on one side only. Callers hold proc and free the
// returned tiles after the batch.
func (m *Manager) borrowTiles(ctx context.Context, strokes []BrushStroke) (kept []BrushStroke, borrowed []ChunkCoord, err error) {
	release := func(cs []ChunkCoord) {
		for _, c := range cs {
			m.height.FreeTile(c)
		}
	}
	for _, s := range strokes {
		var fresh []ChunkCoord
		full := false
		for _, c := range s.AffectedChunks(m.settings.ChunkSize) {
			if m.atlasHolds(c) {
				continue
			}
			err := m.bindTemporary(ctx, c)
			if errors.Is(err, ErrAtlasExhausted) {
				full = true
				break
			}
			if err != nil {
				release(fresh)
				release(borrowed)
				return nil, nil, fmt.Errorf("bind %s for brush: %w", c, err)
			}
			fresh = append(fresh, c)
		}
		if full {
			release(fresh)
			m.log.Warn("brush stroke dropped, no free tile for an unloaded neighbour",
				zap.Float64("x", s.WorldX), zap.Float64("z", s.WorldZ), zap.Stringer("kind", s.Kind))
			continue
		}
		borrowed = append(borrowed, fresh...)
		kept = append(kept, s)
	}
	return kept, borrowed, nil
}

func (m *Manager) bindTemporary(ctx context.Context, c ChunkCoord) error {
	if data, ok := m.cache.Get(c); ok {
		_, err := m.height.Upload(ctx, c, data)
		return err
	}
	if _, err := m.height.Bake(ctx, c); err != nil {
		return err
	}
	if _, err := m.height.Readback(ctx, c); err != nil {
		m.height.FreeTile(c)
		return err
	}
	return nil
}

// atlasHolds reports whether c has a tile. Callers hold proc.
func (m *Manager) atlasHolds(c ChunkCoord) bool {
	_, ok := m.atlas.TileOf(c)
	return ok
}

func (m *Manager) refreshRange(c ChunkCoord) {
	lo, hi, ok := m.cache.Range(c)
	if !ok {
		return
	}
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if ch, loaded := m.chunks[c]; loaded {
		ch.MinHeight, ch.MaxHeight = lo, hi
	}
}

// Reload tears down every loaded chunk, runs install with no chunk bound,
// then loads the same chunks again from the cache or by baking. install may
// replace the cache contents or the height function.
func (m *Manager) Reload(ctx context.Context, install func() error) error {
	m.Wait()
	m.proc.Lock()
	defer m.proc.Unlock()

	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return ErrDisposed
	}
	coords := m.loadedCoordsLocked()
	m.qmu.Unlock()

	m.brush.Abort()
	for _, c := range coords {
		m.unload(c)
	}
	m.atlas.Reset()

	if err := install(); err != nil {
		return err
	}

	m.qmu.Lock()
	m.err = nil
	m.hasCentre = false
	m.loads.Reset(nil)
	m.unloads.Reset(nil)
	m.qmu.Unlock()

	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Z != coords[j].Z {
			return coords[i].Z < coords[j].Z
		}
		return coords[i].X < coords[j].X
	})

	var errs error
	for _, c := range coords {
		m.qmu.Lock()
		m.inflight[c] = struct{}{}
		m.qmu.Unlock()
		if err := m.load(ctx, c); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if len(coords) > 0 {
		errs = multierr.Append(errs, m.normals.Regenerate(ctx))
	}
	return errs
}

// Close stops background processing and disposes every loaded chunk.
func (m *Manager) Close() {
	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return
	}
	m.closed = true
	m.qmu.Unlock()

	m.cancel()
	m.Wait()
	m.unsub()

	m.proc.Lock()
	defer m.proc.Unlock()
	m.brush.Abort()

	m.qmu.Lock()
	chunks := m.chunks
	m.chunks = make(map[ChunkCoord]*Chunk)
	m.loads.Reset(nil)
	m.unloads.Reset(nil)
	m.qmu.Unlock()

	for c, ch := range chunks {
		ch.release()
		m.height.FreeTile(c)
	}
}
