package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/terrastream/internal/config"
	"github.com/Faultbox/terrastream/internal/engine/camera"
	"github.com/Faultbox/terrastream/internal/engine/gpu"
	"github.com/Faultbox/terrastream/internal/engine/gpu/glcompute"
	"github.com/Faultbox/terrastream/internal/engine/gridmesh"
	"github.com/Faultbox/terrastream/internal/engine/picking"
	"github.com/Faultbox/terrastream/internal/engine/window"
	"github.com/Faultbox/terrastream/internal/logger"
	"github.com/Faultbox/terrastream/internal/project"
	"github.com/Faultbox/terrastream/internal/terrain"
)

// session is an open project with a live terrain.
type session struct {
	cfg     *config.Config
	project *project.Project
	terrain *terrain.Terrain
	meshes  *gridmesh.Factory
	log     *zap.Logger
}

// loadConfig parses fs and loads the config, then starts logging.
func loadConfig(fs *flag.FlagSet, flags *config.Flags, args []string) *config.Config {
	if err := fs.Parse(args); err != nil {
		fatal("%v", err)
	}
	cfg, err := config.Load(flags)
	if err != nil {
		fatal("config: %v", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fatal("logger: %v", err)
	}
	return cfg
}

// withSession opens the project in dir, runs fn against its terrain and
// disposes everything afterwards. A saved map overrides the configured chunk
// geometry so it always loads.
func withSession(cfg *config.Config, dir string, fn func(ctx context.Context, s *session) error) error {
	p, err := project.Open(dir)
	if err != nil {
		return err
	}
	md, err := p.LoadMap()
	switch {
	case errors.Is(err, project.ErrNoMap):
		md = nil
	case err != nil:
		return err
	default:
		cfg.Terrain.TileResolution = md.TileResolution
		cfg.Terrain.ChunkSizeMeters = md.ChunkSizeMeters
	}

	if err := project.NewRecent("").Add(p); err != nil {
		logger.Warn("could not update recent projects", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return withDevice(ctx, cfg, func(ctx context.Context, dev gpu.Device) (err error) {
		log := logger.Named("terrainctl")
		meshes := gridmesh.NewFactory(logger.Named("gridmesh"))
		t, err := terrain.New(cfg, dev, meshes)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, t.Dispose())
		}()

		if md != nil {
			if err := t.LoadMapData(ctx, md); err != nil {
				return fmt.Errorf("load map: %w", err)
			}
			log.Info("map loaded", zap.String("project", p.Meta.Name), zap.Int("chunks", len(md.Chunks)))
		}
		return fn(ctx, &session{cfg: cfg, project: p, terrain: t, meshes: meshes, log: log})
	})
}

// withDevice runs fn against the configured compute backend. The GL backend
// owns the calling thread for the lifetime of fn.
func withDevice(ctx context.Context, cfg *config.Config, fn func(context.Context, gpu.Device) error) error {
	if cfg.GPU.Backend != "gl" {
		dev := gpu.NewSoftDevice(cfg.GPU.Workers)
		return multierr.Append(fn(ctx, dev), dev.Close())
	}

	win, err := window.New(window.DefaultConfig())
	if err != nil {
		return err
	}
	defer win.Close()

	dev := glcompute.New()
	ctx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		defer dev.Close()
		return fn(ctx, dev)
	})

	serveErr := dev.Serve(ctx)
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}
	cancel()
	dev.Close()
	return multierr.Append(g.Wait(), serveErr)
}

// save writes the terrain back to the project.
func (s *session) save() error {
	md := s.terrain.ExportCurrentMapData()
	if err := s.project.SaveMap(md); err != nil {
		return err
	}
	s.log.Info("map saved", zap.String("path", s.project.MapPath()), zap.Int("chunks", len(md.Chunks)))
	return nil
}

// bakeAround loads every chunk in view of (x, z).
func (s *session) bakeAround(ctx context.Context, x, z float64) error {
	if err := s.terrain.ForceLoadAround(ctx, x, z); err != nil {
		return err
	}
	s.log.Info("chunks loaded",
		zap.Float64("x", x), zap.Float64("z", z),
		zap.Int("loaded", len(s.terrain.Chunks())))
	return nil
}

// orbitAt returns an orbit camera looking at the ground under world (x, z).
// The floating origin is rebased first when (x, z) is far from it, keeping
// render-space coordinates small.
func (s *session) orbitAt(x, z, distance, pitchDeg float64) *camera.OrbitCamera {
	origin := s.terrain.Origin()
	local := origin.ToLocal(mgl64.Vec3{x, 0, z})
	origin.CheckAndRebase(local.X(), local.Z())

	centre := origin.ToLocal(mgl64.Vec3{x, float64(s.terrain.HeightAt(x, z)), z})
	cam := camera.NewOrbitCamera()
	cam.Centre = mgl32.Vec3{float32(centre.X()), float32(centre.Y()), float32(centre.Z())}
	cam.Distance = float32(distance)
	cam.RotationX = mgl32.DegToRad(float32(pitchDeg))
	return cam
}

// pick casts a ray through pixel (sx, sy) of a 1280x720 view from an orbit
// camera over (x, z) and returns the world position where it meets the ground.
func (s *session) pick(x, z, distance, pitchDeg float64, sx, sy float32) (mgl64.Vec3, error) {
	cam := s.orbitAt(x, z, distance, pitchDeg)
	ray := picking.ScreenToRay(sx, sy, 1280, 720, cam.ViewProjection())
	hit, ok := picking.PickTerrain(ray, s.terrain, s.terrain.Origin().Offset(), cam.Far, 0.5)
	if !ok {
		return mgl64.Vec3{}, fmt.Errorf("pixel %g,%g does not hit the terrain", sx, sy)
	}
	return hit, nil
}
