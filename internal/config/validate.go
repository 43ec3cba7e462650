package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when settings cannot produce a working terrain.
var ErrInvalidConfig = errors.New("invalid terrain config")

// Validate checks cross-field constraints. The atlas must hold every chunk the
// streaming radius plus its hysteresis margin can keep alive.
func (c *Config) Validate() error {
	t, s, n := c.Terrain, c.Streaming, c.Noise

	switch {
	case t.ChunkSizeMeters <= 0:
		return fmt.Errorf("%w: chunk_size_meters must be positive, got %v", ErrInvalidConfig, t.ChunkSizeMeters)
	case t.TileResolution < 2:
		return fmt.Errorf("%w: tile_resolution must be at least 2, got %d", ErrInvalidConfig, t.TileResolution)
	case t.AtlasTilesPerSide < 1:
		return fmt.Errorf("%w: atlas_tiles_per_side must be positive, got %d", ErrInvalidConfig, t.AtlasTilesPerSide)
	case s.ViewDistanceChunks < 0 || s.HysteresisChunks < 0:
		return fmt.Errorf("%w: view distance and hysteresis must not be negative", ErrInvalidConfig)
	case s.MaxChunkOpsPerFrame < 1:
		return fmt.Errorf("%w: max_chunk_ops_per_frame must be positive, got %d", ErrInvalidConfig, s.MaxChunkOpsPerFrame)
	case n.Octaves < 1:
		return fmt.Errorf("%w: octaves must be positive, got %d", ErrInvalidConfig, n.Octaves)
	case c.Origin.RebaseThresholdMeters <= 0:
		return fmt.Errorf("%w: rebase_threshold_meters must be positive", ErrInvalidConfig)
	}

	if c.GPU.Backend != "cpu" && c.GPU.Backend != "gl" {
		return fmt.Errorf("%w: unknown gpu backend %q", ErrInvalidConfig, c.GPU.Backend)
	}

	have := t.AtlasTilesPerSide * t.AtlasTilesPerSide
	if need := c.RequiredAtlasTiles(); have < need {
		return fmt.Errorf("%w: atlas holds %d tiles but view distance %d with hysteresis %d needs %d",
			ErrInvalidConfig, have, s.ViewDistanceChunks, s.HysteresisChunks, need)
	}
	return nil
}
