// Package gpu defines the compute device abstraction used by the terrain
// pipeline and a software implementation of every kernel.
package gpu

import (
	"context"
	"errors"
	"fmt"
)

// Device errors.
var (
	ErrClosed          = errors.New("gpu device closed")
	ErrUnknownTexture  = errors.New("unknown texture")
	ErrOutOfBounds     = errors.New("region outside texture")
	ErrSizeMismatch    = errors.New("texture size mismatch")
	ErrUnknownProgram  = errors.New("unknown compute program")
	ErrInvalidDispatch = errors.New("invalid dispatch parameters")
)

// Format is a texel format.
type Format int

// Texel formats.
const (
	FormatR32F Format = iota
	FormatRGBA32F
)

// Channels returns the number of float32 components per texel.
func (f Format) Channels() int {
	if f == FormatRGBA32F {
		return 4
	}
	return 1
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatR32F:
		return "R32F"
	case FormatRGBA32F:
		return "RGBA32F"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Texture is a handle to a square 2D texture owned by a Device.
type Texture struct {
	ID     uint32
	Size   int // width and height in texels
	Format Format
	Label  string
}

// Valid reports whether the handle refers to a created texture.
func (t Texture) Valid() bool {
	return t.ID != 0
}

// Rect is a texel rectangle.
type Rect struct {
	X, Y, W, H int
}

// Area returns W*H.
func (r Rect) Area() int {
	return r.W * r.H
}

// Inside reports whether r lies entirely within a size×size texture.
func (r Rect) Inside(size int) bool {
	return r.X >= 0 && r.Y >= 0 && r.W > 0 && r.H > 0 && r.X+r.W <= size && r.Y+r.H <= size
}

// Program identifies a compute kernel.
type Program int

// Compute programs.
const (
	ProgramHeight Program = iota
	ProgramNormal
	ProgramBrush
	ProgramStitch
)

// String returns the program name.
func (p Program) String() string {
	switch p {
	case ProgramHeight:
		return "height"
	case ProgramNormal:
		return "normal"
	case ProgramBrush:
		return "brush"
	case ProgramStitch:
		return "stitch"
	default:
		return fmt.Sprintf("Program(%d)", int(p))
	}
}

// Dispatch describes one kernel invocation. Params must be the params type
// matching Program (HeightParams, NormalParams, BrushParams, StitchParams).
type Dispatch struct {
	Program Program
	Params  any
}

// Device runs compute kernels over textures. Every call returns once the
// work is complete, so a returned call is a fence for dependent work.
type Device interface {
	Name() string
	CreateTexture(label string, size int, format Format) (Texture, error)
	DestroyTexture(tex Texture) error
	// Upload writes r.Area()*channels floats into r.
	Upload(ctx context.Context, tex Texture, r Rect, data []float32) error
	// Readback returns r.Area()*channels floats, row-major.
	Readback(ctx context.Context, tex Texture, r Rect) ([]float32, error)
	// Copy copies the whole of src into dst. Both must have the same size and format.
	Copy(ctx context.Context, src, dst Texture) error
	Dispatch(ctx context.Context, d Dispatch) error
	Close() error
}
