package terrain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChunkAt(t *testing.T) {
	tests := []struct {
		x, z float64
		want ChunkCoord
	}{
		{0, 0, ChunkCoord{0, 0}},
		{63.99, 64, ChunkCoord{0, 1}},
		{-0.01, -64, ChunkCoord{-1, -1}},
		{-64.01, 130, ChunkCoord{-2, 2}},
	}
	for _, tt := range tests {
		if got := ChunkAt(tt.x, tt.z, 64); got != tt.want {
			t.Errorf("ChunkAt(%v, %v) = %s, want %s", tt.x, tt.z, got, tt.want)
		}
	}
}

func TestChunkCoordKey(t *testing.T) {
	c := ChunkCoord{X: -3, Z: 12}
	if c.Key() != "-3,12" {
		t.Errorf("Key = %q", c.Key())
	}
	back, err := ParseChunkCoord(c.Key())
	if err != nil || back != c {
		t.Errorf("ParseChunkCoord = %s, %v", back, err)
	}
	if _, err := ParseChunkCoord("nope"); err == nil {
		t.Error("expected error for malformed key")
	}
	if d := c.Chebyshev(ChunkCoord{X: 1, Z: 10}); d != 4 {
		t.Errorf("Chebyshev = %d, want 4", d)
	}
}

func TestCoordQueue(t *testing.T) {
	q := newCoordQueue()
	q.Push(ChunkCoord{X: 1})
	q.Push(ChunkCoord{X: 2})
	q.Push(ChunkCoord{X: 1})
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	c, _ := q.Pop()
	if c != (ChunkCoord{X: 1}) || q.Contains(c) {
		t.Errorf("Pop = %s", c)
	}
	q.Push(c)
	if diff := cmp.Diff([]ChunkCoord{{X: 2}, {X: 1}}, q.Items()); diff != "" {
		t.Errorf("requeue not at tail (-want +got):\n%s", diff)
	}
	q.Reset(nil)
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue")
	}
}

func TestLoadOrder(t *testing.T) {
	all := func(ChunkCoord) bool { return true }
	order := loadOrder(ChunkCoord{X: 5, Z: 5}, 2, all)
	if len(order) != 25 {
		t.Fatalf("len = %d, want 25", len(order))
	}
	want := []ChunkCoord{{5, 5}, {5, 4}, {4, 5}, {6, 5}, {5, 6}}
	if diff := cmp.Diff(want, order[:5]); diff != "" {
		t.Errorf("nearest first (-want +got):\n%s", diff)
	}

	skip := loadOrder(ChunkCoord{}, 1, func(c ChunkCoord) bool { return c != (ChunkCoord{}) })
	if len(skip) != 8 {
		t.Errorf("filtered len = %d, want 8", len(skip))
	}
}

func TestUnloadOrder(t *testing.T) {
	loaded := []ChunkCoord{{0, 0}, {3, 0}, {4, 0}, {-6, 1}, {2, 2}}
	got := unloadOrder(ChunkCoord{}, 3, loaded)
	want := []ChunkCoord{{-6, 1}, {4, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unloadOrder mismatch (-want +got):\n%s", diff)
	}
}
