package terrain

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrResolutionMismatch is returned when height data does not match the
// configured tile resolution.
var ErrResolutionMismatch = errors.New("tile resolution mismatch")

// HeightCache holds the last readback of every chunk ever baked. Entries
// outlive chunk unloads so edits survive revisits.
//
// HeightAt runs on the frame goroutine while streaming writes from another,
// so entries are guarded by an RWMutex. Stored slices are never mutated in
// place; Set replaces them.
type HeightCache struct {
	mu       sync.RWMutex
	entries  map[ChunkCoord][]float32
	res      int
	size     float64
	spacing  float64
	fallback float32
}

// NewHeightCache creates a cache for chunks of chunkSize meters sampled at
// resolution² points.
func NewHeightCache(resolution int, chunkSize float64, fallback float32) *HeightCache {
	return &HeightCache{
		entries:  make(map[ChunkCoord][]float32),
		res:      resolution,
		size:     chunkSize,
		spacing:  chunkSize / float64(resolution-1),
		fallback: fallback,
	}
}

// Set stores a copy of data for c.
func (hc *HeightCache) Set(c ChunkCoord, data []float32) error {
	if len(data) != hc.res*hc.res {
		return fmt.Errorf("%w: chunk %s has %d samples, want %d", ErrResolutionMismatch, c, len(data), hc.res*hc.res)
	}
	cp := make([]float32, len(data))
	copy(cp, data)

	hc.mu.Lock()
	hc.entries[c] = cp
	hc.mu.Unlock()
	return nil
}

// Get returns the samples for c. The slice must not be modified.
func (hc *HeightCache) Get(c ChunkCoord) ([]float32, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	data, ok := hc.entries[c]
	return data, ok
}

// Has reports whether c has ever been baked.
func (hc *HeightCache) Has(c ChunkCoord) bool {
	_, ok := hc.Get(c)
	return ok
}

// Len returns the number of cached chunks.
func (hc *HeightCache) Len() int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.entries)
}

// Clear drops every entry.
func (hc *HeightCache) Clear() {
	hc.mu.Lock()
	hc.entries = make(map[ChunkCoord][]float32)
	hc.mu.Unlock()
}

// Replace swaps the whole cache for entries, which it takes ownership of.
func (hc *HeightCache) Replace(entries map[ChunkCoord][]float32) {
	hc.mu.Lock()
	hc.entries = entries
	hc.mu.Unlock()
}

// Snapshot returns a copy of every entry.
func (hc *HeightCache) Snapshot() map[ChunkCoord][]float32 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[ChunkCoord][]float32, len(hc.entries))
	for c, data := range hc.entries {
		cp := make([]float32, len(data))
		copy(cp, data)
		out[c] = cp
	}
	return out
}

// Sample returns sample (i, j) of chunk c.
func (hc *HeightCache) Sample(c ChunkCoord, i, j int) (float32, bool) {
	data, ok := hc.Get(c)
	if !ok || i < 0 || j < 0 || i >= hc.res || j >= hc.res {
		return 0, false
	}
	return data[j*hc.res+i], true
}

// HeightAt bilinearly interpolates the cached height at a world position,
// or returns the fallback height if the owning chunk was never baked.
func (hc *HeightCache) HeightAt(worldX, worldZ float64) float32 {
	h, ok := hc.Lookup(worldX, worldZ)
	if !ok {
		return hc.fallback
	}
	return h
}

// Lookup is HeightAt that reports whether the chunk was cached.
func (hc *HeightCache) Lookup(worldX, worldZ float64) (float32, bool) {
	c := ChunkAt(worldX, worldZ, hc.size)
	data, ok := hc.Get(c)
	if !ok {
		return 0, false
	}

	ox, oz := c.Origin(hc.size)
	fx := (worldX - ox) / hc.spacing
	fz := (worldZ - oz) / hc.spacing

	last := hc.res - 2
	i := min(max(int(math.Floor(fx)), 0), last)
	j := min(max(int(math.Floor(fz)), 0), last)
	tx := float32(clamp(fx-float64(i), 0, 1))
	tz := float32(clamp(fz-float64(j), 0, 1))

	h00 := data[j*hc.res+i]
	h10 := data[j*hc.res+i+1]
	h01 := data[(j+1)*hc.res+i]
	h11 := data[(j+1)*hc.res+i+1]

	south := h00 + (h10-h00)*tx
	north := h01 + (h11-h01)*tx
	return south + (north-south)*tz, true
}

// Range returns the minimum and maximum cached height of c.
func (hc *HeightCache) Range(c ChunkCoord) (lo, hi float32, ok bool) {
	data, ok := hc.Get(c)
	if !ok || len(data) == 0 {
		return 0, 0, false
	}
	lo, hi = data[0], data[0]
	for _, h := range data[1:] {
		lo = min(lo, h)
		hi = max(hi, h)
	}
	return lo, hi, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
