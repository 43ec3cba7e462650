package config

import "flag"

// Flags holds command-line overrides. Zero values leave the config untouched.
type Flags struct {
	Config       string
	Debug        bool
	Seed         int64
	ViewDistance int
	Backend      string
	LogFile      string
}

// RegisterFlags binds the shared terrain flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.Int64Var(&f.Seed, "seed", 0, "World seed (0 keeps the configured seed)")
	fs.IntVar(&f.ViewDistance, "view-distance", 0, "View distance in chunks")
	fs.StringVar(&f.Backend, "backend", "", "Compute backend: cpu or gl")
	fs.StringVar(&f.LogFile, "log-file", "", "Write logs to this file as well")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.Seed != 0 {
		cfg.Noise.Seed = f.Seed
	}
	if f.ViewDistance > 0 {
		cfg.Streaming.ViewDistanceChunks = f.ViewDistance
		// Grow the atlas with the radius rather than failing validation.
		for cfg.Terrain.AtlasTilesPerSide*cfg.Terrain.AtlasTilesPerSide < cfg.RequiredAtlasTiles() {
			cfg.Terrain.AtlasTilesPerSide++
		}
	}
	if f.Backend != "" {
		cfg.GPU.Backend = f.Backend
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
}
