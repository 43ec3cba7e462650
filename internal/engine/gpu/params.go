package gpu

import "fmt"

// NoiseParams configures the fractal height function.
type NoiseParams struct {
	Seed          uint32
	Octaves       int
	Lacunarity    float32
	Gain          float32
	Frequency     float32
	Amplitude     float32
	BaseHeight    float32
	WarpFrequency float32
	WarpStrength  float32
}

// HeightParams bakes procedural height into one tile.
//
// Texel (i, j) of the tile sits at global texel (OriginTexelX+i, OriginTexelZ+j),
// i.e. world position that index times TexelSpacing. Chunks sharing an edge
// therefore evaluate the same global texel there.
type HeightParams struct {
	Target       Texture
	Tile         Rect
	OriginTexelX int32
	OriginTexelZ int32
	TexelSpacing float32
	Noise        NoiseParams
}

// NormalParams derives normals for the whole atlas.
//
// Neighbours holds four atlas tile indices per tile (-X, +X, -Z, +Z), -1 when
// the neighbouring chunk is not resident.
type NormalParams struct {
	Height         Texture
	Normal         Texture
	TileResolution int
	TilesPerSide   int
	TexelSpacing   float32
	Neighbours     []int32
}

// BrushOp is a brush kernel operation.
type BrushOp int32

// Brush operations.
const (
	BrushRaise BrushOp = iota
	BrushLower
	BrushSmooth
	BrushFlatten
)

// BrushParams applies one stroke to one tile of the write buffer.
// Centre and radius are expressed in texels relative to the tile origin.
type BrushParams struct {
	Write        Texture
	Readable     Texture
	Tile         Rect
	Op           BrushOp
	CenterX      float32
	CenterZ      float32
	RadiusTexels float32
	Strength     float32
	Falloff      float32
	DT           float32
	Target       float32 // flatten target height
}

// EdgeAxis selects which shared edge a stitch reconciles.
type EdgeAxis int32

// Edge axes.
const (
	EdgeX EdgeAxis = iota // B is the +X neighbour of A
	EdgeZ                 // B is the +Z neighbour of A
)

// StitchParams averages the shared edge of tiles A and B in Target.
type StitchParams struct {
	Target Texture
	A      Rect
	B      Rect
	Axis   EdgeAxis
}

// Validate checks the neighbour table against the atlas dimensions.
func (p NormalParams) Validate() error {
	if p.TileResolution < 2 || p.TilesPerSide < 1 {
		return fmt.Errorf("%w: normal pass needs resolution >= 2 and tiles >= 1", ErrInvalidDispatch)
	}
	if len(p.Neighbours) != 4*p.TilesPerSide*p.TilesPerSide {
		return fmt.Errorf("%w: neighbour table has %d entries, want %d",
			ErrInvalidDispatch, len(p.Neighbours), 4*p.TilesPerSide*p.TilesPerSide)
	}
	return nil
}

// Validate checks that A and B are equal square tiles.
func (p StitchParams) Validate() error {
	if p.A.W != p.B.W || p.A.H != p.B.H || p.A.W != p.A.H {
		return fmt.Errorf("%w: stitch tiles must be equal squares", ErrInvalidDispatch)
	}
	return nil
}
