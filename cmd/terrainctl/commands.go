package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/config"
	"github.com/Faultbox/terrastream/internal/logger"
	"github.com/Faultbox/terrastream/internal/project"
	"github.com/Faultbox/terrastream/internal/terrain"
)

func cmdNew(args []string) {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	name := fs.String("name", "", "Display name (default: folder name)")
	cfg := loadConfig(fs, flags, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatal("usage: terrainctl new [options] <dir>")
	}
	dir := fs.Arg(0)

	p, err := project.Create(dir, *name)
	if err != nil {
		fatal("%v", err)
	}
	err = withSession(cfg, p.Path, func(ctx context.Context, s *session) error {
		if err := s.bakeAround(ctx, 0, 0); err != nil {
			return err
		}
		return s.save()
	})
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Created %q in %s (seed %d)\n", p.Meta.Name, p.Path, cfg.Noise.Seed)
}

func cmdBake(args []string) {
	fs := flag.NewFlagSet("bake", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	x := fs.Float64("x", 0, "World X to bake around")
	z := fs.Float64("z", 0, "World Z to bake around")
	cfg := loadConfig(fs, flags, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatal("usage: terrainctl bake [options] <dir>")
	}

	err := withSession(cfg, fs.Arg(0), func(ctx context.Context, s *session) error {
		if err := s.bakeAround(ctx, *x, *z); err != nil {
			return err
		}
		return s.save()
	})
	if err != nil {
		fatal("%v", err)
	}
}

func cmdBrush(args []string) {
	fs := flag.NewFlagSet("brush", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	kind := fs.String("kind", "raise", "Brush: raise, lower, smooth or flatten")
	x := fs.Float64("x", 0, "Stroke start X")
	z := fs.Float64("z", 0, "Stroke start Z")
	toX := fs.Float64("to-x", 0, "Stroke end X (default: start)")
	toZ := fs.Float64("to-z", 0, "Stroke end Z (default: start)")
	radius := fs.Float64("radius", 8, "Radius in meters")
	strength := fs.Float64("strength", 4, "Strength (meters per second for raise/lower)")
	falloff := fs.Float64("falloff", 0.5, "Falloff, 0 hard to 1 smooth")
	steps := fs.Int("steps", 10, "Strokes along the drag")
	dt := fs.Duration("dt", 50*time.Millisecond, "Time per stroke")
	screen := fs.String("screen", "", "Place a single stroke where pixel sx,sy of a 1280x720 view hits the ground")
	distance := fs.Float64("cam-distance", 150, "Orbit camera distance for -screen")
	pitch := fs.Float64("cam-pitch", 50, "Orbit camera pitch in degrees for -screen")
	cfg := loadConfig(fs, flags, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatal("usage: terrainctl brush [options] <dir>")
	}
	k, err := terrain.ParseBrushKind(*kind)
	if err != nil {
		fatal("%v", err)
	}
	endX, endZ := *x, *z
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "to-x":
			endX = *toX
		case "to-z":
			endZ = *toZ
		}
	})
	n := max(*steps, 1)

	var sx, sy float32
	if *screen != "" {
		if _, err := fmt.Sscanf(*screen, "%g,%g", &sx, &sy); err != nil {
			fatal("invalid -screen %q: %v", *screen, err)
		}
	}

	err = withSession(cfg, fs.Arg(0), func(ctx context.Context, s *session) error {
		if err := s.bakeAround(ctx, (*x+endX)/2, (*z+endZ)/2); err != nil {
			return err
		}
		if *screen != "" {
			hit, err := s.pick(*x, *z, *distance, *pitch, sx, sy)
			if err != nil {
				return err
			}
			*x, *z, endX, endZ = hit.X(), hit.Z(), hit.X(), hit.Z()
			n = 1
			s.log.Info("stroke picked", zap.Float64("x", hit.X()), zap.Float64("z", hit.Z()), zap.Float64("height", hit.Y()))
		}
		defer s.terrain.EndBrushDrag()
		for i := range n {
			f := 0.0
			if n > 1 {
				f = float64(i) / float64(n-1)
			}
			stroke := terrain.BrushStroke{
				WorldX:   *x + (endX-*x)*f,
				WorldZ:   *z + (endZ-*z)*f,
				Kind:     k,
				Radius:   float32(*radius),
				Strength: float32(*strength),
				Falloff:  float32(*falloff),
				DT:       float32(dt.Seconds()),
			}
			if err := s.terrain.ApplyBrushStrokes(ctx, []terrain.BrushStroke{stroke}); err != nil {
				return err
			}
		}
		s.log.Info("brush applied", zap.Stringer("kind", k), zap.Int("strokes", n))
		return s.save()
	})
	if err != nil {
		fatal("%v", err)
	}
}

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		fatal("usage: terrainctl info <dir>")
	}

	p, err := project.Open(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Project:  %s\n", p.Meta.Name)
	fmt.Printf("ID:       %s\n", p.Meta.ID)
	fmt.Printf("Path:     %s\n", p.Path)
	fmt.Printf("Created:  %s\n", p.Meta.Created.Format(time.RFC3339))
	fmt.Printf("Modified: %s\n", p.Meta.Modified.Format(time.RFC3339))

	md, err := p.LoadMap()
	if err != nil {
		fmt.Printf("Map:      %v\n", err)
	} else {
		fmt.Println()
		fmt.Printf("Map seed:   %d\n", md.Seed)
		fmt.Printf("Resolution: %d samples per chunk edge\n", md.TileResolution)
		fmt.Printf("Chunk size: %g m\n", md.ChunkSizeMeters)
		fmt.Printf("Chunks:     %d\n", len(md.Chunks))
		if md.Noise.Recorded() {
			fmt.Printf("Noise:      %d octaves, amplitude %g m\n", md.Noise.Octaves, md.Noise.Amplitude)
		}
	}

	settings, err := p.Settings()
	if err != nil {
		fmt.Printf("Settings:   %v\n", err)
		return
	}
	if len(settings) > 0 {
		fmt.Println()
		fmt.Println("Settings:")
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-16s %v\n", k, settings[k])
		}
	}
}

func cmdRecent(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	remove := fs.String("remove", "", "Remove a project path from the list")
	fs.Parse(args)

	r := project.NewRecent("")
	if *remove != "" {
		if err := r.Remove(*remove); err != nil {
			fatal("%v", err)
		}
	}
	list, err := r.List()
	if err != nil {
		fatal("%v", err)
	}
	if len(list) == 0 {
		fmt.Println("No recent projects")
		return
	}
	for _, e := range list {
		fmt.Printf("%-24s %-20s %s\n", e.Name, e.LastOpen.Local().Format("2006-01-02 15:04"), e.Path)
	}
}

func cmdRename(args []string) {
	fs := flag.NewFlagSet("rename", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		fatal("usage: terrainctl rename <dir> <name>")
	}

	p, err := project.Open(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	old := p.Path
	if err := p.Rename(fs.Arg(1)); err != nil {
		fatal("%v", err)
	}
	r := project.NewRecent("")
	if err := r.Remove(old); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := r.Add(p); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	fmt.Printf("Renamed to %q at %s\n", p.Meta.Name, p.Path)
}
