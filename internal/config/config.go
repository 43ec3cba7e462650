// Package config handles terrain configuration loading and management.
package config

// Config holds all terrain streaming settings.
type Config struct {
	Terrain   TerrainConfig   `yaml:"terrain"`
	Streaming StreamingConfig `yaml:"streaming"`
	Noise     NoiseConfig     `yaml:"noise"`
	Origin    OriginConfig    `yaml:"origin"`
	GPU       GPUConfig       `yaml:"gpu"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TerrainConfig holds chunk and atlas geometry.
type TerrainConfig struct {
	ChunkSizeMeters   float64 `yaml:"chunk_size_meters"`
	TileResolution    int     `yaml:"tile_resolution"`      // samples per chunk side, edges shared with neighbours
	AtlasTilesPerSide int     `yaml:"atlas_tiles_per_side"` // atlas holds AtlasTilesPerSide² chunks
	FallbackHeight    float32 `yaml:"fallback_height"`      // returned by height queries on unbaked chunks
}

// StreamingConfig holds chunk load/unload settings.
type StreamingConfig struct {
	ViewDistanceChunks  int     `yaml:"view_distance_chunks"`
	HysteresisChunks    int     `yaml:"hysteresis_chunks"`
	MaxChunkOpsPerFrame int     `yaml:"max_chunk_ops_per_frame"`
	LODLevels           int     `yaml:"lod_levels"`
	LODDistanceChunks   float64 `yaml:"lod_distance_chunks"` // chunks per LOD step
}

// NoiseConfig holds procedural height function parameters.
type NoiseConfig struct {
	Seed          int64   `yaml:"seed"`
	Octaves       int     `yaml:"octaves"`
	Lacunarity    float32 `yaml:"lacunarity"`
	Gain          float32 `yaml:"gain"`
	Frequency     float32 `yaml:"frequency"` // cycles per meter of the first octave
	Amplitude     float32 `yaml:"amplitude"` // meters
	BaseHeight    float32 `yaml:"base_height"`
	WarpFrequency float32 `yaml:"warp_frequency"`
	WarpStrength  float32 `yaml:"warp_strength"` // meters, 0 disables domain warp
}

// OriginConfig holds floating origin settings.
type OriginConfig struct {
	RebaseThresholdMeters float64 `yaml:"rebase_threshold_meters"`
}

// GPUConfig selects the compute backend.
type GPUConfig struct {
	Backend string `yaml:"backend"` // "cpu" or "gl"
	Workers int    `yaml:"workers"` // software device parallelism, 0 = GOMAXPROCS
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			ChunkSizeMeters:   64,
			TileResolution:    65,
			AtlasTilesPerSide: 12,
			FallbackHeight:    0,
		},
		Streaming: StreamingConfig{
			ViewDistanceChunks:  4,
			HysteresisChunks:    1,
			MaxChunkOpsPerFrame: 4,
			LODLevels:           4,
			LODDistanceChunks:   2,
		},
		Noise: NoiseConfig{
			Seed:          1337,
			Octaves:       5,
			Lacunarity:    2.0,
			Gain:          0.5,
			Frequency:     1.0 / 512.0,
			Amplitude:     120,
			BaseHeight:    0,
			WarpFrequency: 1.0 / 1024.0,
			WarpStrength:  64,
		},
		Origin: OriginConfig{
			RebaseThresholdMeters: 2048,
		},
		GPU: GPUConfig{
			Backend: "cpu",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// RequiredAtlasTiles returns how many tiles the streaming radius can hold at once.
func (c *Config) RequiredAtlasTiles() int {
	side := 2*(c.Streaming.ViewDistanceChunks+c.Streaming.HysteresisChunks) + 1
	return side * side
}
