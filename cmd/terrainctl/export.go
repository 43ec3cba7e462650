package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/image/tiff"

	"github.com/Faultbox/terrastream/internal/config"
	"github.com/Faultbox/terrastream/internal/engine/gridmesh"
	"github.com/Faultbox/terrastream/internal/logger"
	"github.com/Faultbox/terrastream/internal/terrain"
	"github.com/Faultbox/terrastream/pkg/formats"
)

func cmdExportHeights(args []string) {
	fs := flag.NewFlagSet("export-heights", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	chunk := fs.String("chunk", "0,0", "Chunk coordinate as cx,cz")
	tiffPath := fs.String("tiff", "", "Also write a 16-bit grayscale TIFF preview")
	cfg := loadConfig(fs, flags, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatal("usage: terrainctl export-heights [options] <dir>")
	}
	c, err := terrain.ParseChunkCoord(*chunk)
	if err != nil {
		fatal("%v", err)
	}

	err = withSession(cfg, fs.Arg(0), func(ctx context.Context, s *session) error {
		heights, ok := s.terrain.ChunkHeights(c)
		if !ok {
			// Never baked: bake it now without touching the saved map.
			x, z := c.Origin(s.terrain.ChunkSize())
			half := s.terrain.ChunkSize() / 2
			if err := s.bakeAround(ctx, x+half, z+half); err != nil {
				return err
			}
			if heights, ok = s.terrain.ChunkHeights(c); !ok {
				return fmt.Errorf("chunk %s did not bake", c)
			}
		}
		fmt.Println(formats.EncodeHeights(heights))

		if *tiffPath != "" {
			if err := writeTIFF(*tiffPath, heights, s.terrain.Resolution()); err != nil {
				return err
			}
			s.log.Info("preview written", zap.String("path", *tiffPath))
		}
		return nil
	})
	if err != nil {
		fatal("%v", err)
	}
}

// writeTIFF writes heights as a grayscale image stretched to the sample range.
func writeTIFF(path string, heights []float32, res int) (err error) {
	lo, hi := heights[0], heights[0]
	for _, h := range heights {
		lo, hi = min(lo, h), max(hi, h)
	}
	scale := float32(0)
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, res, res))
	for j := range res {
		for i := range res {
			img.SetGray16(i, j, color.Gray16{Y: uint16((heights[j*res+i] - lo) * scale)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

func cmdExportOBJ(args []string) {
	fs := flag.NewFlagSet("export-obj", flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	out := fs.String("o", "terrain.obj", "Output file")
	x := fs.Float64("x", 0, "World X to export around")
	z := fs.Float64("z", 0, "World Z to export around")
	lod := fs.Int("lod", -1, "Force a LOD level (default: LOD from the camera distance)")
	cull := fs.Bool("cull", false, "Skip chunks outside the camera frustum")
	distance := fs.Float64("cam-distance", 300, "Orbit camera distance in meters")
	pitch := fs.Float64("cam-pitch", 45, "Orbit camera pitch in degrees")
	cfg := loadConfig(fs, flags, args)
	defer logger.Sync()

	if fs.NArg() < 1 {
		fatal("usage: terrainctl export-obj [options] <dir>")
	}

	err := withSession(cfg, fs.Arg(0), func(ctx context.Context, s *session) error {
		if err := s.bakeAround(ctx, *x, *z); err != nil {
			return err
		}

		// One streaming tick so every chunk picks up LOD and visibility.
		cam := s.orbitAt(*x, *z, *distance, *pitch)
		s.terrain.Update(*x, *z, cam)
		s.terrain.Wait()

		var parts []gridmesh.Part
		for _, ch := range s.terrain.Chunks() {
			if *cull && !ch.Visible {
				continue
			}
			cm, ok := s.meshes.Mesh(ch.Coord)
			if !ok {
				continue
			}
			heights, ok := s.terrain.ChunkHeights(ch.Coord)
			if !ok {
				continue
			}
			if *lod >= 0 {
				cm.SetLOD(*lod)
			}
			m, err := cm.Build(heights)
			if err != nil {
				return fmt.Errorf("build chunk %s: %w", ch.Coord, err)
			}
			ox, oz := ch.Coord.Origin(s.terrain.ChunkSize())
			parts = append(parts, gridmesh.Part{
				Name:   fmt.Sprintf("chunk_%d_%d", ch.Coord.X, ch.Coord.Z),
				Offset: mgl32.Vec3{float32(ox - *x), 0, float32(oz - *z)},
				Mesh:   m,
			})
		}
		return writeOBJ(*out, parts, s.log)
	})
	if err != nil {
		fatal("%v", err)
	}
}

func writeOBJ(path string, parts []gridmesh.Part, log *zap.Logger) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create obj: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := gridmesh.WriteOBJ(f, parts); err != nil {
		return fmt.Errorf("write obj: %w", err)
	}

	tris := 0
	for _, p := range parts {
		tris += p.Mesh.Triangles()
	}
	log.Info("obj written", zap.String("path", path), zap.Int("chunks", len(parts)), zap.Int("triangles", tris))
	return nil
}
