package terrain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

// HeightCompute bakes procedural height into atlas tiles, uploads external
// height data and reads tiles back into the HeightCache. Readback is the
// only path that fills the cache from the GPU; there is no CPU evaluation of
// the height function.
type HeightCompute struct {
	dev     gpu.Device
	atlas   *Atlas
	cache   *HeightCache
	tex     gpu.Texture
	noise   gpu.NoiseParams
	spacing float32
	log     *zap.Logger
}

// NewHeightCompute allocates the height atlas texture.
func NewHeightCompute(dev gpu.Device, atlas *Atlas, cache *HeightCache, chunkSize float64, noise gpu.NoiseParams, log *zap.Logger) (*HeightCompute, error) {
	tex, err := dev.CreateTexture("height-atlas", atlas.Size(), gpu.FormatR32F)
	if err != nil {
		return nil, fmt.Errorf("create height atlas: %w", err)
	}
	return &HeightCompute{
		dev:     dev,
		atlas:   atlas,
		cache:   cache,
		tex:     tex,
		noise:   noise,
		spacing: float32(chunkSize / float64(atlas.Resolution()-1)),
		log:     log,
	}, nil
}

// Texture returns the height atlas.
func (h *HeightCompute) Texture() gpu.Texture { return h.tex }

// Noise returns the active height function parameters.
func (h *HeightCompute) Noise() gpu.NoiseParams { return h.noise }

// SetNoise replaces the height function parameters for future bakes.
func (h *HeightCompute) SetNoise(noise gpu.NoiseParams) { h.noise = noise }

// TileOf returns the tile held by c.
func (h *HeightCompute) TileOf(c ChunkCoord) (AtlasTile, bool) {
	return h.atlas.TileOf(c)
}

// allocate returns c's tile and whether it was newly assigned.
func (h *HeightCompute) allocate(c ChunkCoord) (AtlasTile, bool, error) {
	if t, ok := h.atlas.TileOf(c); ok {
		return t, false, nil
	}
	t, err := h.atlas.Allocate(c)
	return t, true, err
}

// Bake evaluates the height function into c's tile, allocating one if needed.
// A failed dispatch releases a newly allocated tile.
func (h *HeightCompute) Bake(ctx context.Context, c ChunkCoord) (AtlasTile, error) {
	t, fresh, err := h.allocate(c)
	if err != nil {
		return AtlasTile{}, err
	}

	res := int32(h.atlas.Resolution() - 1)
	err = h.dev.Dispatch(ctx, gpu.Dispatch{Program: gpu.ProgramHeight, Params: gpu.HeightParams{
		Target:       h.tex,
		Tile:         h.atlas.Rect(t),
		OriginTexelX: int32(c.X) * res,
		OriginTexelZ: int32(c.Z) * res,
		TexelSpacing: h.spacing,
		Noise:        h.noise,
	}})
	if err != nil {
		if fresh {
			h.atlas.Free(c)
		}
		return AtlasTile{}, fmt.Errorf("bake %s: %w", c, err)
	}

	h.log.Debug("baked chunk", zap.Stringer("chunk", c), zap.Int("tileX", t.X), zap.Int("tileZ", t.Z))
	return t, nil
}

// Upload writes externally supplied samples into c's tile, allocating one if
// needed.
func (h *HeightCompute) Upload(ctx context.Context, c ChunkCoord, data []float32) (AtlasTile, error) {
	res := h.atlas.Resolution()
	if len(data) != res*res {
		return AtlasTile{}, fmt.Errorf("upload %s: %w: %d samples, want %d", c, ErrResolutionMismatch, len(data), res*res)
	}
	t, fresh, err := h.allocate(c)
	if err != nil {
		return AtlasTile{}, err
	}
	if err := h.dev.Upload(ctx, h.tex, h.atlas.Rect(t), data); err != nil {
		if fresh {
			h.atlas.Free(c)
		}
		return AtlasTile{}, fmt.Errorf("upload %s: %w", c, err)
	}
	return t, nil
}

// Readback copies c's tile into the HeightCache and returns the samples.
func (h *HeightCompute) Readback(ctx context.Context, c ChunkCoord) ([]float32, error) {
	t, ok := h.atlas.TileOf(c)
	if !ok {
		return nil, fmt.Errorf("readback %s: chunk holds no tile", c)
	}
	data, err := h.dev.Readback(ctx, h.tex, h.atlas.Rect(t))
	if err != nil {
		return nil, fmt.Errorf("readback %s: %w", c, err)
	}
	if err := h.cache.Set(c, data); err != nil {
		return nil, err
	}
	return data, nil
}

// FreeTile returns c's tile to the allocator. The cache entry is kept.
func (h *HeightCompute) FreeTile(c ChunkCoord) bool {
	return h.atlas.Free(c)
}

// Destroy releases the height atlas.
func (h *HeightCompute) Destroy() error {
	return h.dev.DestroyTexture(h.tex)
}
