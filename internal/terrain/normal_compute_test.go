package terrain

import (
	"context"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

func TestNeighbourTable(t *testing.T) {
	dev := gpu.NewSoftDevice(1)
	atlas := NewAtlas(3, 5)
	cache := NewHeightCache(5, 8, 0)
	height, err := NewHeightCompute(dev, atlas, cache, 8, gpu.NoiseParams{Octaves: 1}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	normals, err := NewNormalCompute(dev, atlas, height.Texture(), 8)
	if err != nil {
		t.Fatal(err)
	}

	centre, east, south := ChunkCoord{}, ChunkCoord{X: 1}, ChunkCoord{Z: -1}
	tiles := map[ChunkCoord]AtlasTile{}
	for _, c := range []ChunkCoord{centre, east, south} {
		tile, err := atlas.Allocate(c)
		if err != nil {
			t.Fatal(err)
		}
		tiles[c] = tile
	}

	table := normals.neighbours()
	if len(table) != 9*4 {
		t.Fatalf("table len = %d, want 36", len(table))
	}
	base := atlas.Index(tiles[centre]) * 4
	want := [4]int32{-1, int32(atlas.Index(tiles[east])), int32(atlas.Index(tiles[south])), -1}
	if got := [4]int32(table[base : base+4]); got != want {
		t.Errorf("centre neighbours = %v, want %v", got, want)
	}
	eb := atlas.Index(tiles[east]) * 4
	if table[eb] != int32(atlas.Index(tiles[centre])) {
		t.Errorf("east -X neighbour = %d", table[eb])
	}
}

func TestRegenerateSlopedChunk(t *testing.T) {
	ctx := context.Background()
	dev := gpu.NewSoftDevice(1)
	atlas := NewAtlas(2, 5)
	cache := NewHeightCache(5, 8, 0)
	height, err := NewHeightCompute(dev, atlas, cache, 8, gpu.NoiseParams{Octaves: 1}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	normals, err := NewNormalCompute(dev, atlas, height.Texture(), 8)
	if err != nil {
		t.Fatal(err)
	}

	// Height rises 1 m per 2 m texel along +X.
	data := make([]float32, 25)
	for j := range 5 {
		for i := range 5 {
			data[j*5+i] = float32(i)
		}
	}
	c := ChunkCoord{}
	if _, err := height.Upload(ctx, c, data); err != nil {
		t.Fatal(err)
	}
	if err := normals.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	n, err := normals.Normals(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	inv := float32(1 / math.Sqrt(1.25))
	for k := 0; k < len(n); k += 4 {
		if math.Abs(float64(n[k]+0.5*inv)) > 1e-5 || math.Abs(float64(n[k+1]-inv)) > 1e-5 || math.Abs(float64(n[k+2])) > 1e-5 {
			t.Fatalf("texel %d normal = %v, want (%v, %v, 0)", k/4, n[k:k+3], -0.5*inv, inv)
		}
	}
}
