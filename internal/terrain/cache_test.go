package terrain

import (
	"errors"
	"math"
	"testing"
)

func rampChunk(res int, base float32) []float32 {
	data := make([]float32, res*res)
	for j := range res {
		for i := range res {
			data[j*res+i] = base + float32(i) + 10*float32(j)
		}
	}
	return data
}

func TestHeightCacheSetCopies(t *testing.T) {
	hc := NewHeightCache(3, 10, 0)
	data := rampChunk(3, 0)
	if err := hc.Set(ChunkCoord{}, data); err != nil {
		t.Fatal(err)
	}
	data[0] = 99
	if v, _ := hc.Sample(ChunkCoord{}, 0, 0); v != 0 {
		t.Errorf("cache aliased caller slice: %v", v)
	}
	if err := hc.Set(ChunkCoord{}, []float32{1}); !errors.Is(err, ErrResolutionMismatch) {
		t.Errorf("expected ErrResolutionMismatch, got %v", err)
	}
}

func TestHeightAtBilinear(t *testing.T) {
	// 3 samples over 10 m: spacing 5 m.
	hc := NewHeightCache(3, 10, -1)
	if err := hc.Set(ChunkCoord{X: -1, Z: 2}, rampChunk(3, 100)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		x, z float64
		want float32
	}{
		{"corner", -10, 20, 100},
		{"texel", -5, 25, 111},
		{"midpoint x", -7.5, 20, 100.5},
		{"midpoint both", -2.5, 27.5, 116.5},
		{"far edge", -0.0001, 29.9999, 122},
		{"unbaked", 5, 20, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hc.HeightAt(tt.x, tt.z)
			if math.Abs(float64(got-tt.want)) > 1e-3 {
				t.Errorf("HeightAt(%v, %v) = %v, want %v", tt.x, tt.z, got, tt.want)
			}
		})
	}
}

func TestHeightCacheReplaceAndRange(t *testing.T) {
	hc := NewHeightCache(3, 10, 0)
	hc.Replace(map[ChunkCoord][]float32{{X: 4}: rampChunk(3, -5)})
	if hc.Len() != 1 || !hc.Has(ChunkCoord{X: 4}) {
		t.Fatalf("Replace: len %d", hc.Len())
	}
	lo, hi, ok := hc.Range(ChunkCoord{X: 4})
	if !ok || lo != -5 || hi != 17 {
		t.Errorf("Range = %v, %v, %v", lo, hi, ok)
	}

	snap := hc.Snapshot()
	snap[ChunkCoord{X: 4}][0] = 1000
	if v, _ := hc.Sample(ChunkCoord{X: 4}, 0, 0); v != -5 {
		t.Errorf("Snapshot aliased cache: %v", v)
	}

	hc.Clear()
	if hc.Len() != 0 {
		t.Errorf("Clear left %d entries", hc.Len())
	}
	if _, _, ok := hc.Range(ChunkCoord{X: 4}); ok {
		t.Error("Range on cleared chunk")
	}
}
