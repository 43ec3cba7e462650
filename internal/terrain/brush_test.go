package terrain

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

func TestParseBrushKind(t *testing.T) {
	for _, k := range []BrushKind{BrushRaise, BrushLower, BrushSmooth, BrushFlatten} {
		got, err := ParseBrushKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseBrushKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if got, _ := ParseBrushKind("FLATTEN"); got != BrushFlatten {
		t.Errorf("case-insensitive parse = %v", got)
	}
	if _, err := ParseBrushKind("erode"); err == nil {
		t.Error("expected error for unknown brush")
	}
}

func TestAffectedChunks(t *testing.T) {
	s := BrushStroke{WorldX: 62, WorldZ: 10, Radius: 5}
	want := []ChunkCoord{{X: 0, Z: 0}, {X: 1, Z: 0}}
	if diff := cmp.Diff(want, s.AffectedChunks(64)); diff != "" {
		t.Errorf("AffectedChunks mismatch (-want +got):\n%s", diff)
	}

	corner := BrushStroke{WorldX: 0, WorldZ: 0, Radius: 1}
	if n := len(corner.AffectedChunks(64)); n != 4 {
		t.Errorf("corner stroke reaches %d chunks, want 4", n)
	}

	// The bounding box reaches (1,1) but the circle does not.
	diag := BrushStroke{WorldX: 60, WorldZ: 60, Radius: 5}
	if diag.Affects(ChunkCoord{X: 1, Z: 1}, 64) {
		t.Error("stroke reaches diagonal chunk outside its radius")
	}
}

func TestStitchPairs(t *testing.T) {
	loaded := map[ChunkCoord]bool{}
	for z := -1; z <= 1; z++ {
		for x := -1; x <= 1; x++ {
			loaded[ChunkCoord{X: x, Z: z}] = true
		}
	}
	isLoaded := func(c ChunkCoord) bool { return loaded[c] }

	pairs := stitchPairs([]ChunkCoord{{}, {X: 1}}, isLoaded)
	// A 3x3 block has 6 X edges and 6 Z edges.
	if len(pairs) != 12 {
		t.Fatalf("got %d pairs, want 12: %v", len(pairs), pairs)
	}
	seen := map[edgePair]bool{}
	zStarted := false
	for _, p := range pairs {
		if seen[p] {
			t.Errorf("duplicate pair %v", p)
		}
		seen[p] = true
		isX := p.b == p.a.Add(1, 0)
		isZ := p.b == p.a.Add(0, 1)
		if !isX && !isZ {
			t.Errorf("pair %v not canonical", p)
		}
		if isZ {
			zStarted = true
		} else if zStarted {
			t.Errorf("X pair %v after Z pairs", p)
		}
	}

	lone := stitchPairs([]ChunkCoord{{X: 10}}, isLoaded)
	if len(lone) != 0 {
		t.Errorf("pairs for isolated chunk: %v", lone)
	}
}

func newBrushRig(t *testing.T) (*BrushCompute, *HeightCompute, *Atlas) {
	t.Helper()
	dev := gpu.NewSoftDevice(1)
	atlas := NewAtlas(2, 5)
	cache := NewHeightCache(5, 8, 0)
	height, err := NewHeightCompute(dev, atlas, cache, 8, gpu.NoiseParams{Octaves: 1}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	brush, err := NewBrushCompute(dev, atlas, height.Texture(), 8, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return brush, height, atlas
}

func TestBrushStateMachine(t *testing.T) {
	ctx := context.Background()
	brush, _, _ := newBrushRig(t)

	if _, err := brush.ApplyNoCopy(ctx, BrushStroke{}, 0); !errors.Is(err, ErrBrushState) {
		t.Errorf("apply while idle: %v", err)
	}
	if err := brush.SyncReadable(ctx); !errors.Is(err, ErrBrushState) {
		t.Errorf("sync back while idle: %v", err)
	}
	if err := brush.StitchEdge(ctx, ChunkCoord{}, ChunkCoord{X: 1}); !errors.Is(err, ErrBrushState) {
		t.Errorf("stitch while idle: %v", err)
	}

	if err := brush.EnsureSynced(ctx); err != nil {
		t.Fatalf("EnsureSynced: %v", err)
	}
	if brush.State() != BrushEditing {
		t.Fatalf("state = %s, want editing", brush.State())
	}
	if err := brush.EnsureSynced(ctx); err != nil {
		t.Errorf("EnsureSynced while editing: %v", err)
	}
	if err := brush.SyncReadable(ctx); err != nil {
		t.Fatalf("SyncReadable: %v", err)
	}
	if brush.State() != BrushIdle {
		t.Errorf("state = %s, want idle", brush.State())
	}

	if err := brush.EnsureSynced(ctx); err != nil {
		t.Fatal(err)
	}
	brush.Abort()
	if brush.State() != BrushIdle {
		t.Errorf("state after Abort = %s", brush.State())
	}
}

func TestBrushBatchPublishesOnSync(t *testing.T) {
	ctx := context.Background()
	brush, height, _ := newBrushRig(t)
	c := ChunkCoord{}
	if _, err := height.Upload(ctx, c, make([]float32, 25)); err != nil {
		t.Fatal(err)
	}

	if err := brush.EnsureSynced(ctx); err != nil {
		t.Fatal(err)
	}
	stroke := BrushStroke{WorldX: 4, WorldZ: 4, Kind: BrushRaise, Radius: 3, Strength: 2, Falloff: 0, DT: 1}
	touched, err := brush.ApplyNoCopy(ctx, stroke, 0)
	if err != nil {
		t.Fatalf("ApplyNoCopy: %v", err)
	}
	if diff := cmp.Diff([]ChunkCoord{c}, touched); diff != "" {
		t.Errorf("touched mismatch (-want +got):\n%s", diff)
	}

	// Readable atlas is untouched until the batch is published.
	pre, _ := height.Readback(ctx, c)
	if pre[2*5+2] != 0 {
		t.Fatalf("edit visible before publish: %v", pre[2*5+2])
	}
	if err := brush.SyncReadable(ctx); err != nil {
		t.Fatal(err)
	}
	post, _ := height.Readback(ctx, c)
	if post[2*5+2] != 2 {
		t.Errorf("centre after publish = %v, want 2", post[2*5+2])
	}
	if post[0] != 0 {
		t.Errorf("corner outside radius changed: %v", post[0])
	}
}

func TestStitchEdgeRequiresAdjacency(t *testing.T) {
	ctx := context.Background()
	brush, height, _ := newBrushRig(t)
	for _, c := range []ChunkCoord{{}, {X: 1}, {X: 1, Z: 1}} {
		if _, err := height.Upload(ctx, c, make([]float32, 25)); err != nil {
			t.Fatal(err)
		}
	}
	if err := brush.EnsureSynced(ctx); err != nil {
		t.Fatal(err)
	}
	if err := brush.StitchEdge(ctx, ChunkCoord{X: 1}, ChunkCoord{}); err != nil {
		t.Errorf("reversed pair: %v", err)
	}
	if err := brush.StitchEdge(ctx, ChunkCoord{}, ChunkCoord{X: 1, Z: 1}); err == nil {
		t.Error("expected error for diagonal pair")
	}
	if err := brush.StitchEdge(ctx, ChunkCoord{}, ChunkCoord{Z: 1}); err == nil {
		t.Error("expected error for chunk without a tile")
	}
}
