package terrain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

// ErrBrushState is returned when a brush operation is issued in the wrong state.
var ErrBrushState = errors.New("invalid brush state")

// BrushKind selects a brush operation.
type BrushKind int

// Brush kinds.
const (
	BrushRaise BrushKind = iota
	BrushLower
	BrushSmooth
	BrushFlatten
)

var brushNames = [...]string{"raise", "lower", "smooth", "flatten"}

// String returns the brush name.
func (k BrushKind) String() string {
	if k >= 0 && int(k) < len(brushNames) {
		return brushNames[k]
	}
	return fmt.Sprintf("BrushKind(%d)", int(k))
}

// ParseBrushKind parses a brush name.
func ParseBrushKind(s string) (BrushKind, error) {
	for i, name := range brushNames {
		if strings.EqualFold(s, name) {
			return BrushKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown brush %q", s)
}

func (k BrushKind) op() gpu.BrushOp {
	switch k {
	case BrushLower:
		return gpu.BrushLower
	case BrushSmooth:
		return gpu.BrushSmooth
	case BrushFlatten:
		return gpu.BrushFlatten
	default:
		return gpu.BrushRaise
	}
}

// BrushStroke is one application of a brush at a world position.
type BrushStroke struct {
	WorldX   float64
	WorldZ   float64
	Kind     BrushKind
	Radius   float32 // meters
	Strength float32 // meters per second for raise/lower, blend rate otherwise
	Falloff  float32 // 0 hard edge, 1 smooth from the centre
	DT       float32 // seconds
}

// Affects reports whether the stroke reaches into chunk c.
func (s BrushStroke) Affects(c ChunkCoord, chunkSize float64) bool {
	x0, z0 := c.Origin(chunkSize)
	dx := s.WorldX - clamp(s.WorldX, x0, x0+chunkSize)
	dz := s.WorldZ - clamp(s.WorldZ, z0, z0+chunkSize)
	r := float64(s.Radius)
	return dx*dx+dz*dz < r*r
}

// AffectedChunks returns every chunk the stroke reaches, ordered by Z then X.
func (s BrushStroke) AffectedChunks(chunkSize float64) []ChunkCoord {
	r := float64(s.Radius)
	lo := ChunkAt(s.WorldX-r, s.WorldZ-r, chunkSize)
	hi := ChunkAt(s.WorldX+r, s.WorldZ+r, chunkSize)
	var out []ChunkCoord
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			if c := (ChunkCoord{X: x, Z: z}); s.Affects(c, chunkSize) {
				out = append(out, c)
			}
		}
	}
	return out
}

// BrushState is the ping-pong buffer state.
type BrushState int

// Brush states. A batch runs Idle → Syncing → Editing → SyncingBack → Idle.
const (
	BrushIdle BrushState = iota
	BrushSyncing
	BrushEditing
	BrushSyncingBack
)

// String returns the state name.
func (s BrushState) String() string {
	switch s {
	case BrushIdle:
		return "idle"
	case BrushSyncing:
		return "syncing"
	case BrushEditing:
		return "editing"
	case BrushSyncingBack:
		return "syncing-back"
	default:
		return fmt.Sprintf("BrushState(%d)", int(s))
	}
}

// BrushCompute applies strokes to a write copy of the height atlas and
// publishes the result to the readable atlas once per batch, so a render
// never samples a half-applied batch.
type BrushCompute struct {
	dev       gpu.Device
	atlas     *Atlas
	readable  gpu.Texture
	write     gpu.Texture
	state     BrushState
	chunkSize float64
	spacing   float64
	log       *zap.Logger
}

// NewBrushCompute allocates the write buffer matching the readable atlas.
func NewBrushCompute(dev gpu.Device, atlas *Atlas, readable gpu.Texture, chunkSize float64, log *zap.Logger) (*BrushCompute, error) {
	write, err := dev.CreateTexture("height-atlas-write", atlas.Size(), gpu.FormatR32F)
	if err != nil {
		return nil, fmt.Errorf("create brush write buffer: %w", err)
	}
	return &BrushCompute{
		dev:       dev,
		atlas:     atlas,
		readable:  readable,
		write:     write,
		chunkSize: chunkSize,
		spacing:   chunkSize / float64(atlas.Resolution()-1),
		log:       log,
	}, nil
}

// State returns the current buffer state.
func (b *BrushCompute) State() BrushState { return b.state }

func (b *BrushCompute) expect(op string, want BrushState) error {
	if b.state != want {
		return fmt.Errorf("%w: %s in state %s, want %s", ErrBrushState, op, b.state, want)
	}
	return nil
}

// EnsureSynced copies the readable atlas into the write buffer and enters
// Editing. It is a no-op while already Editing.
func (b *BrushCompute) EnsureSynced(ctx context.Context) error {
	if b.state == BrushEditing {
		return nil
	}
	if err := b.expect("sync", BrushIdle); err != nil {
		return err
	}
	b.state = BrushSyncing
	if err := b.dev.Copy(ctx, b.readable, b.write); err != nil {
		b.state = BrushIdle
		return fmt.Errorf("sync brush buffer: %w", err)
	}
	b.state = BrushEditing
	return nil
}

// ApplyNoCopy dispatches stroke into the write buffer of every chunk it
// reaches that holds a tile and returns those chunks. target is the flatten height.
func (b *BrushCompute) ApplyNoCopy(ctx context.Context, s BrushStroke, target float32) ([]ChunkCoord, error) {
	if err := b.expect("apply", BrushEditing); err != nil {
		return nil, err
	}

	var touched []ChunkCoord
	for _, c := range s.AffectedChunks(b.chunkSize) {
		t, ok := b.atlas.TileOf(c)
		if !ok {
			continue
		}
		ox, oz := c.Origin(b.chunkSize)
		err := b.dev.Dispatch(ctx, gpu.Dispatch{Program: gpu.ProgramBrush, Params: gpu.BrushParams{
			Write:        b.write,
			Readable:     b.readable,
			Tile:         b.atlas.Rect(t),
			Op:           s.Kind.op(),
			CenterX:      float32((s.WorldX - ox) / b.spacing),
			CenterZ:      float32((s.WorldZ - oz) / b.spacing),
			RadiusTexels: float32(float64(s.Radius) / b.spacing),
			Strength:     s.Strength,
			Falloff:      s.Falloff,
			DT:           s.DT,
			Target:       target,
		}})
		if err != nil {
			return touched, fmt.Errorf("brush %s on %s: %w", s.Kind, c, err)
		}
		touched = append(touched, c)
	}
	return touched, nil
}

// StitchEdge averages the shared edge of adjacent tiled chunks a and n in
// the write buffer so both hold identical samples.
func (b *BrushCompute) StitchEdge(ctx context.Context, a, n ChunkCoord) error {
	if err := b.expect("stitch", BrushEditing); err != nil {
		return err
	}
	// Order the pair so n is the +X or +Z neighbour.
	if n.X < a.X || n.Z < a.Z {
		a, n = n, a
	}
	var axis gpu.EdgeAxis
	switch {
	case n == a.Add(1, 0):
		axis = gpu.EdgeX
	case n == a.Add(0, 1):
		axis = gpu.EdgeZ
	default:
		return fmt.Errorf("stitch %s/%s: chunks are not adjacent", a, n)
	}

	ta, ok := b.atlas.TileOf(a)
	if !ok {
		return fmt.Errorf("stitch %s: chunk holds no tile", a)
	}
	tn, ok := b.atlas.TileOf(n)
	if !ok {
		return fmt.Errorf("stitch %s: chunk holds no tile", n)
	}
	err := b.dev.Dispatch(ctx, gpu.Dispatch{Program: gpu.ProgramStitch, Params: gpu.StitchParams{
		Target: b.write,
		A:      b.atlas.Rect(ta),
		B:      b.atlas.Rect(tn),
		Axis:   axis,
	}})
	if err != nil {
		return fmt.Errorf("stitch %s/%s: %w", a, n, err)
	}
	return nil
}

// SyncReadable publishes the write buffer to the readable atlas and returns
// to Idle.
func (b *BrushCompute) SyncReadable(ctx context.Context) error {
	if err := b.expect("sync back", BrushEditing); err != nil {
		return err
	}
	b.state = BrushSyncingBack
	if err := b.dev.Copy(ctx, b.write, b.readable); err != nil {
		b.state = BrushEditing
		return fmt.Errorf("publish brush buffer: %w", err)
	}
	b.state = BrushIdle
	return nil
}

// Abort discards an unpublished batch.
func (b *BrushCompute) Abort() {
	if b.state != BrushIdle {
		b.log.Warn("discarding unpublished brush batch", zap.Stringer("state", b.state))
	}
	b.state = BrushIdle
}

// Destroy releases the write buffer.
func (b *BrushCompute) Destroy() error {
	return b.dev.DestroyTexture(b.write)
}

type edgePair struct {
	a, b ChunkCoord
}

// stitchPairs returns the adjacent tiled pairs in the 3x3 neighbourhood of
// every dirty chunk, all X edges before all Z edges. Running X first then Z
// makes the corner sample shared by four chunks converge to one value.
func stitchPairs(dirty []ChunkCoord, tiled func(ChunkCoord) bool) []edgePair {
	region := make(map[ChunkCoord]struct{})
	for _, c := range dirty {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if n := c.Add(dx, dz); tiled(n) {
					region[n] = struct{}{}
				}
			}
		}
	}

	cells := make([]ChunkCoord, 0, len(region))
	for c := range region {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Z != cells[j].Z {
			return cells[i].Z < cells[j].Z
		}
		return cells[i].X < cells[j].X
	})

	seen := make(map[edgePair]struct{})
	var xs, zs []edgePair
	for _, c := range cells {
		for _, n := range [4]ChunkCoord{c.Add(-1, 0), c.Add(1, 0), c.Add(0, -1), c.Add(0, 1)} {
			if _, ok := region[n]; !ok {
				continue
			}
			p := edgePair{c, n}
			if n.X < c.X || n.Z < c.Z {
				p = edgePair{n, c}
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			if p.b.X != p.a.X {
				xs = append(xs, p)
			} else {
				zs = append(zs, p)
			}
		}
	}
	return append(xs, zs...)
}

