package formats

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testMap() *MapData {
	m := NewMapData("valley", 1337, 3, 64, NoiseParams{Octaves: 5, Lacunarity: 2, Gain: 0.5, Frequency: 0.002, Amplitude: 120})
	m.Chunks[ChunkKey(0, 0)] = []float32{0, 1, 2, 3, 4, 5, 6, 7, 8}
	m.Chunks[ChunkKey(-1, 2)] = []float32{-1.5, 0.25, 100, 3, 3, 3, -7, 8e3, 1e-6}
	return m
}

func TestChunkKey(t *testing.T) {
	tests := []struct {
		cx, cz int
		key    string
	}{
		{0, 0, "0,0"},
		{-3, 12, "-3,12"},
		{7, -1, "7,-1"},
	}
	for _, tt := range tests {
		if got := ChunkKey(tt.cx, tt.cz); got != tt.key {
			t.Errorf("ChunkKey(%d, %d) = %q, want %q", tt.cx, tt.cz, got, tt.key)
		}
		cx, cz, err := ParseChunkKey(tt.key)
		if err != nil || cx != tt.cx || cz != tt.cz {
			t.Errorf("ParseChunkKey(%q) = %d, %d, %v", tt.key, cx, cz, err)
		}
	}

	for _, bad := range []string{"", "1", "a,b", "1;2", "1,2,3", "01,2", "+1,2", "1,-0", " 1,2"} {
		if _, _, err := ParseChunkKey(bad); !errors.Is(err, ErrInvalidMapData) {
			t.Errorf("ParseChunkKey(%q): expected ErrInvalidMapData, got %v", bad, err)
		}
	}
}

func TestMapDataRoundTrip(t *testing.T) {
	m := testMap()
	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := ParseMapData(data)
	if err != nil {
		t.Fatalf("ParseMapData: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMapDataCompressed(t *testing.T) {
	m := NewMapData("flat", 1, 65, 64, NoiseParams{})
	m.Chunks[ChunkKey(0, 0)] = make([]float32, 65*65)

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// A raw base64 flat tile is ~22KB; compressed it is a few bytes.
	if len(data) > 2048 {
		t.Errorf("expected compressed payload, got %d bytes", len(data))
	}

	var f mapDataFile
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Version != CurrentMapDataVersion {
		t.Errorf("expected version %d on disk, got %d", CurrentMapDataVersion, f.Version)
	}
}

func TestParseMapDataV1Migrates(t *testing.T) {
	heights := []float32{1, 2, 3, 4}
	v1 := `{
  "version": 1,
  "seed": 42,
  "tile_resolution": 2,
  "chunk_size_meters": 32,
  "chunks": {"3,-4": "` + EncodeHeights(heights) + `"},
  "metadata": {"name": "old"}
}`

	m, err := ParseMapData([]byte(v1))
	if err != nil {
		t.Fatalf("ParseMapData: %v", err)
	}
	if m.Version != CurrentMapDataVersion {
		t.Errorf("expected migrated version %d, got %d", CurrentMapDataVersion, m.Version)
	}
	if m.Metadata.ID == "" {
		t.Error("expected migration to assign an ID")
	}
	if m.Noise.Recorded() {
		t.Errorf("v1 map should carry no noise params, got %+v", m.Noise)
	}
	if diff := cmp.Diff(heights, m.Chunks["3,-4"]); diff != "" {
		t.Errorf("heights mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMapDataFailsClosed(t *testing.T) {
	good := `"` + EncodeHeights([]float32{1, 2, 3, 4}) + `"`
	tests := []struct {
		name string
		json string
		want error
	}{
		{"not json", `{`, ErrInvalidMapData},
		{"future version", `{"version": 99, "tile_resolution": 2, "chunk_size_meters": 1}`, ErrUnsupportedMapVersion},
		{"missing version", `{"tile_resolution": 2, "chunk_size_meters": 1}`, ErrUnsupportedMapVersion},
		{"bad base64", `{"version": 1, "tile_resolution": 2, "chunk_size_meters": 1, "chunks": {"0,0": "!!"}}`, ErrInvalidMapData},
		{"bad zstd", `{"version": 2, "tile_resolution": 2, "chunk_size_meters": 1, "chunks": {"0,0": "AAAA"}}`, ErrInvalidMapData},
		{"wrong sample count", `{"version": 1, "tile_resolution": 3, "chunk_size_meters": 1, "chunks": {"0,0": ` + good + `}}`, ErrInvalidMapData},
		{"bad key", `{"version": 1, "tile_resolution": 2, "chunk_size_meters": 1, "chunks": {"zero": ` + good + `}}`, ErrInvalidMapData},
		{"aliased key", `{"version": 1, "tile_resolution": 2, "chunk_size_meters": 1, "chunks": {"1,2": ` + good + `, "01,2": ` + good + `}}`, ErrInvalidMapData},
		{"zero chunk size", `{"version": 1, "tile_resolution": 2, "chunk_size_meters": 0}`, ErrInvalidMapData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMapData([]byte(tt.json))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if m != nil {
				t.Error("expected no map on failure")
			}
		})
	}
}

func TestValidateRejectsNaN(t *testing.T) {
	m := testMap()
	m.Chunks["0,0"][4] = float32(math.NaN())
	if _, err := m.Marshal(); !errors.Is(err, ErrInvalidMapData) {
		t.Errorf("expected ErrInvalidMapData, got %v", err)
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maps", "map.json")
	m := testMap()
	if err := SaveMapDataFile(path, m); err != nil {
		t.Fatalf("SaveMapDataFile: %v", err)
	}

	got, err := LoadMapDataFile(path)
	if err != nil {
		t.Fatalf("LoadMapDataFile: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("file round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadMapDataFile(filepath.Join(t.TempDir(), "missing.json")); err == nil || !strings.Contains(err.Error(), "read map") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestHeightsEncoding(t *testing.T) {
	in := []float32{0, -0.5, float32(math.MaxFloat32), 1e-30}
	out, err := DecodeHeights(EncodeHeights(in))
	if err != nil {
		t.Fatalf("DecodeHeights: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := DecodeHeights("AAA="); !errors.Is(err, ErrInvalidMapData) {
		t.Errorf("expected ErrInvalidMapData for truncated float, got %v", err)
	}
}

func TestMarshalFailsWithoutCodec(t *testing.T) {
	codec()
	saved := codecErr
	codecErr = errors.New("codec unavailable")
	t.Cleanup(func() { codecErr = saved })

	data, err := testMap().Marshal()
	if err == nil {
		t.Fatalf("Marshal succeeded without a codec: %s", data)
	}
	if data != nil {
		t.Error("expected no output on failure")
	}
}
