// Package formats provides the persisted terrain map format.
package formats

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// MapData format errors.
var (
	ErrInvalidMapData        = errors.New("invalid map data")
	ErrUnsupportedMapVersion = errors.New("unsupported map data version")
)

// Map data versions.
const (
	MapDataV1 = 1 // heights as base64 little-endian float32
	MapDataV2 = 2 // heights as base64 zstd-compressed little-endian float32

	CurrentMapDataVersion = MapDataV2
)

// maxDecodedChunk bounds a single decompressed chunk (a 1025² tile).
const maxDecodedChunk = 1025 * 1025 * 4

// NoiseParams are the generation parameters stored with a map.
// Maps written as v1 carry none; Octaves == 0 means "not recorded".
type NoiseParams struct {
	Octaves       int     `json:"octaves"`
	Lacunarity    float32 `json:"lacunarity"`
	Gain          float32 `json:"gain"`
	Frequency     float32 `json:"frequency"`
	Amplitude     float32 `json:"amplitude"`
	BaseHeight    float32 `json:"base_height"`
	WarpFrequency float32 `json:"warp_frequency"`
	WarpStrength  float32 `json:"warp_strength"`
}

// Recorded reports whether the parameters were stored with the map.
func (n NoiseParams) Recorded() bool {
	return n.Octaves > 0
}

// MapMetadata is free-form information about a map.
type MapMetadata struct {
	ID       string            `json:"id,omitempty"`
	Name     string            `json:"name,omitempty"`
	Created  time.Time         `json:"created"`
	Modified time.Time         `json:"modified"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// MapData is the durable form of a terrain height cache plus the parameters
// needed to regenerate unedited chunks.
type MapData struct {
	Version         int
	Seed            int64
	TileResolution  int
	ChunkSizeMeters float64
	Noise           NoiseParams
	Chunks          map[string][]float32 // keyed by ChunkKey
	Metadata        MapMetadata
}

// mapDataFile is the on-disk JSON layout.
type mapDataFile struct {
	Version         int               `json:"version"`
	Seed            int64             `json:"seed"`
	TileResolution  int               `json:"tile_resolution"`
	ChunkSizeMeters float64           `json:"chunk_size_meters"`
	Noise           *NoiseParams      `json:"noise,omitempty"`
	Chunks          map[string]string `json:"chunks"`
	Metadata        MapMetadata       `json:"metadata"`
}

// NewMapData creates an empty map with a fresh ID.
func NewMapData(name string, seed int64, tileResolution int, chunkSizeMeters float64, noise NoiseParams) *MapData {
	now := time.Now().UTC()
	return &MapData{
		Version:         CurrentMapDataVersion,
		Seed:            seed,
		TileResolution:  tileResolution,
		ChunkSizeMeters: chunkSizeMeters,
		Noise:           noise,
		Chunks:          make(map[string][]float32),
		Metadata: MapMetadata{
			ID:       uuid.NewString(),
			Name:     name,
			Created:  now,
			Modified: now,
		},
	}
}

// ChunkKey returns the persisted key of chunk (cx, cz).
func ChunkKey(cx, cz int) string {
	return strconv.Itoa(cx) + "," + strconv.Itoa(cz)
}

// ParseChunkKey parses a key produced by ChunkKey. Only the canonical form
// is accepted, so "01,2" and "+1,2" are rejected rather than aliasing "1,2".
func ParseChunkKey(key string) (cx, cz int, err error) {
	xs, zs, ok := strings.Cut(key, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: chunk key %q", ErrInvalidMapData, key)
	}
	if cx, err = strconv.Atoi(xs); err != nil {
		return 0, 0, fmt.Errorf("%w: chunk key %q", ErrInvalidMapData, key)
	}
	if cz, err = strconv.Atoi(zs); err != nil {
		return 0, 0, fmt.Errorf("%w: chunk key %q", ErrInvalidMapData, key)
	}
	if ChunkKey(cx, cz) != key {
		return 0, 0, fmt.Errorf("%w: chunk key %q is not canonical", ErrInvalidMapData, key)
	}
	return cx, cz, nil
}

// Validate checks the map is internally consistent.
func (m *MapData) Validate() error {
	if m.TileResolution < 2 {
		return fmt.Errorf("%w: tile resolution %d", ErrInvalidMapData, m.TileResolution)
	}
	if !(m.ChunkSizeMeters > 0) || math.IsInf(m.ChunkSizeMeters, 0) {
		return fmt.Errorf("%w: chunk size %v", ErrInvalidMapData, m.ChunkSizeMeters)
	}
	want := m.TileResolution * m.TileResolution
	for key, heights := range m.Chunks {
		if _, _, err := ParseChunkKey(key); err != nil {
			return err
		}
		if len(heights) != want {
			return fmt.Errorf("%w: chunk %s has %d samples, want %d", ErrInvalidMapData, key, len(heights), want)
		}
		for i, h := range heights {
			if math.IsNaN(float64(h)) || math.IsInf(float64(h), 0) {
				return fmt.Errorf("%w: chunk %s sample %d is %v", ErrInvalidMapData, key, i, h)
			}
		}
	}
	return nil
}

// Marshal encodes the map as JSON in the current version.
func (m *MapData) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	f := mapDataFile{
		Version:         CurrentMapDataVersion,
		Seed:            m.Seed,
		TileResolution:  m.TileResolution,
		ChunkSizeMeters: m.ChunkSizeMeters,
		Chunks:          make(map[string]string, len(m.Chunks)),
		Metadata:        m.Metadata,
	}
	if m.Noise.Recorded() {
		noise := m.Noise
		f.Noise = &noise
	}
	for key, heights := range m.Chunks {
		enc, err := encodeChunk(heights)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", key, err)
		}
		f.Chunks[key] = enc
	}

	return json.MarshalIndent(f, "", "  ")
}

// ParseMapData decodes map JSON of any supported version, migrating older
// versions forward. Nothing is returned unless the whole map decodes.
func ParseMapData(data []byte) (*MapData, error) {
	var f mapDataFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapData, err)
	}

	var decode func(string) ([]float32, error)
	switch f.Version {
	case MapDataV1:
		decode = DecodeHeights
	case MapDataV2:
		decode = decodeChunk
	default:
		return nil, fmt.Errorf("%w: %d (current is %d)", ErrUnsupportedMapVersion, f.Version, CurrentMapDataVersion)
	}

	m := &MapData{
		Version:         f.Version,
		Seed:            f.Seed,
		TileResolution:  f.TileResolution,
		ChunkSizeMeters: f.ChunkSizeMeters,
		Chunks:          make(map[string][]float32, len(f.Chunks)),
		Metadata:        f.Metadata,
	}
	if f.Noise != nil {
		m.Noise = *f.Noise
	}
	for key, enc := range f.Chunks {
		heights, err := decode(enc)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", key, err)
		}
		m.Chunks[key] = heights
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	migrate(m)
	return m, nil
}

// migrate upgrades an already decoded map to the current version.
func migrate(m *MapData) {
	if m.Version == MapDataV1 && m.Metadata.ID == "" {
		m.Metadata.ID = uuid.NewString()
	}
	m.Version = CurrentMapDataVersion
}

// LoadMapDataFile reads and parses a map file.
func LoadMapDataFile(path string) (*MapData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map: %w", err)
	}
	return ParseMapData(data)
}

// SaveMapDataFile writes the map atomically, replacing any existing file.
func SaveMapDataFile(path string, m *MapData) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create map directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write map: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace map: %w", err)
	}
	return nil
}

// EncodeHeights returns heights as base64 little-endian float32.
func EncodeHeights(heights []float32) string {
	return base64.StdEncoding.EncodeToString(floatBytes(heights))
}

// DecodeHeights reverses EncodeHeights.
func DecodeHeights(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidMapData, err)
	}
	return bytesFloat(raw)
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedChunk))
	})
	return encoder, decoder, codecErr
}

func encodeChunk(heights []float32) (string, error) {
	enc, _, err := codec()
	if err != nil {
		return "", fmt.Errorf("zstd: %w", err)
	}
	return base64.StdEncoding.EncodeToString(enc.EncodeAll(floatBytes(heights), nil)), nil
}

func decodeChunk(s string) ([]float32, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidMapData, err)
	}
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrInvalidMapData, err)
	}
	return bytesFloat(raw)
}

func floatBytes(heights []float32) []byte {
	out := make([]byte, len(heights)*4)
	for i, h := range heights {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(h))
	}
	return out
}

func bytesFloat(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32", ErrInvalidMapData, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
