package gpu

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testNoise = NoiseParams{
	Seed:          1337,
	Octaves:       4,
	Lacunarity:    2,
	Gain:          0.5,
	Frequency:     1.0 / 256.0,
	Amplitude:     50,
	WarpFrequency: 1.0 / 512.0,
	WarpStrength:  16,
}

func newTexture(t *testing.T, d *SoftDevice, size int, format Format) Texture {
	t.Helper()
	tex, err := d.CreateTexture("test", size, format)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	return tex
}

func TestUploadReadbackSubRect(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(2)
	tex := newTexture(t, d, 8, FormatR32F)

	r := Rect{X: 2, Y: 3, W: 3, H: 2}
	data := []float32{1, 2, 3, 4, 5, 6}
	if err := d.Upload(ctx, tex, r, data); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := d.Readback(ctx, tex, r)
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("readback mismatch (-want +got):\n%s", diff)
	}

	// Texels outside the rect stay zero.
	outside, err := d.Readback(ctx, tex, Rect{X: 0, Y: 0, W: 2, H: 8})
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	for i, v := range outside {
		if v != 0 {
			t.Errorf("texel %d outside upload = %v, want 0", i, v)
		}
	}
}

func TestUploadErrors(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(1)
	tex := newTexture(t, d, 4, FormatR32F)

	if err := d.Upload(ctx, tex, Rect{X: 3, Y: 0, W: 2, H: 1}, []float32{1, 2}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if err := d.Upload(ctx, tex, Rect{W: 2, H: 2}, []float32{1}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
	if err := d.Upload(ctx, Texture{ID: 99}, Rect{W: 1, H: 1}, []float32{1}); !errors.Is(err, ErrUnknownTexture) {
		t.Errorf("expected ErrUnknownTexture, got %v", err)
	}

	d.Close()
	if _, err := d.Readback(ctx, tex, Rect{W: 1, H: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(1)
	src := newTexture(t, d, 2, FormatR32F)
	dst := newTexture(t, d, 2, FormatR32F)
	other := newTexture(t, d, 4, FormatR32F)

	if err := d.Upload(ctx, src, Rect{W: 2, H: 2}, []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := d.Copy(ctx, src, dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	got, _ := d.Readback(ctx, dst, Rect{W: 2, H: 2})
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("copy mismatch (-want +got):\n%s", diff)
	}
	if err := d.Copy(ctx, src, other); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func bake(t *testing.T, d *SoftDevice, tex Texture, tile Rect, ox, oz int32) []float32 {
	t.Helper()
	ctx := context.Background()
	err := d.Dispatch(ctx, Dispatch{Program: ProgramHeight, Params: HeightParams{
		Target:       tex,
		Tile:         tile,
		OriginTexelX: ox,
		OriginTexelZ: oz,
		TexelSpacing: 2,
		Noise:        testNoise,
	}})
	if err != nil {
		t.Fatalf("height dispatch: %v", err)
	}
	out, err := d.Readback(ctx, tex, tile)
	if err != nil {
		t.Fatalf("Readback: %v", err)
	}
	return out
}

func TestHeightDeterministic(t *testing.T) {
	a := NewSoftDevice(1)
	b := NewSoftDevice(8)
	const res = 17

	ta := newTexture(t, a, res*2, FormatR32F)
	tb := newTexture(t, b, res*2, FormatR32F)

	first := bake(t, a, ta, Rect{W: res, H: res}, -32, 48)
	// Same chunk in a different tile on a device with different parallelism.
	second := bake(t, b, tb, Rect{X: res, Y: res, W: res, H: res}, -32, 48)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("re-bake not bit-identical (-first +second):\n%s", diff)
	}
}

func TestHeightSharedEdges(t *testing.T) {
	d := NewSoftDevice(4)
	const res = 9
	tex := newTexture(t, d, res*2, FormatR32F)

	left := bake(t, d, tex, Rect{W: res, H: res}, 0, 0)
	// +X neighbour starts at the left chunk's last column.
	right := bake(t, d, tex, Rect{X: res, W: res, H: res}, res-1, 0)

	for j := range res {
		if a, b := left[j*res+res-1], right[j*res]; a != b {
			t.Errorf("row %d: shared edge %v != %v", j, a, b)
		}
	}
}

func TestSampleHeightRange(t *testing.T) {
	p := testNoise
	p.BaseHeight = 10
	const eps = 1e-3
	for x := float32(-1000); x < 1000; x += 37 {
		h := SampleHeight(x, -x*0.5, p)
		if h < p.BaseHeight-p.Amplitude-eps || h > p.BaseHeight+p.Amplitude+eps {
			t.Fatalf("height %v at x=%v outside [%v, %v]", h, x, p.BaseHeight-p.Amplitude, p.BaseHeight+p.Amplitude)
		}
	}
}

func TestNormalFlat(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(2)
	const res = 5
	height := newTexture(t, d, res*2, FormatR32F)
	normal := newTexture(t, d, res*2, FormatRGBA32F)

	neighbours := []int32{
		-1, 1, -1, 2,
		0, -1, -1, 3,
		-1, 3, 0, -1,
		2, -1, 1, -1,
	}
	err := d.Dispatch(ctx, Dispatch{Program: ProgramNormal, Params: NormalParams{
		Height: height, Normal: normal, TileResolution: res, TilesPerSide: 2,
		TexelSpacing: 1, Neighbours: neighbours,
	}})
	if err != nil {
		t.Fatalf("normal dispatch: %v", err)
	}

	got, _ := d.Readback(ctx, normal, Rect{W: res * 2, H: res * 2})
	for i := 0; i < len(got); i += 4 {
		if got[i] != 0 || got[i+1] != 1 || got[i+2] != 0 {
			t.Fatalf("texel %d normal = %v, want (0,1,0)", i/4, got[i:i+3])
		}
	}
}

func TestNormalSlopeAcrossTiles(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(2)
	const res = 4
	height := newTexture(t, d, res*2, FormatR32F)
	normal := newTexture(t, d, res*2, FormatRGBA32F)

	// h = global x, tile 1 is the +X neighbour of tile 0 sharing column 3.
	for tile, ox := range []int{0, res} {
		data := make([]float32, res*res)
		for j := range res {
			for i := range res {
				data[j*res+i] = float32(tile*(res-1) + i)
			}
		}
		if err := d.Upload(ctx, height, Rect{X: ox, W: res, H: res}, data); err != nil {
			t.Fatalf("Upload: %v", err)
		}
	}

	neighbours := []int32{
		-1, 1, -1, -1,
		0, -1, -1, -1,
		-1, -1, -1, -1,
		-1, -1, -1, -1,
	}
	err := d.Dispatch(ctx, Dispatch{Program: ProgramNormal, Params: NormalParams{
		Height: height, Normal: normal, TileResolution: res, TilesPerSide: 2,
		TexelSpacing: 1, Neighbours: neighbours,
	}})
	if err != nil {
		t.Fatalf("normal dispatch: %v", err)
	}

	got, _ := d.Readback(ctx, normal, Rect{W: res * 2, H: res})
	want := float32(-1 / math.Sqrt2)
	for x := range res * 2 {
		nx := got[x*4]
		if math.Abs(float64(nx-want)) > 1e-6 {
			t.Errorf("column %d: nx = %v, want %v", x, nx, want)
		}
	}
	// Shared column has the same normal in both tiles.
	if got[(res-1)*4] != got[res*4] {
		t.Errorf("shared edge normals differ: %v vs %v", got[(res-1)*4], got[res*4])
	}
}

func TestNormalRejectsBadNeighbourTable(t *testing.T) {
	d := NewSoftDevice(1)
	height := newTexture(t, d, 4, FormatR32F)
	normal := newTexture(t, d, 4, FormatRGBA32F)
	err := d.Dispatch(context.Background(), Dispatch{Program: ProgramNormal, Params: NormalParams{
		Height: height, Normal: normal, TileResolution: 4, TilesPerSide: 1, TexelSpacing: 1,
	}})
	if !errors.Is(err, ErrInvalidDispatch) {
		t.Errorf("expected ErrInvalidDispatch, got %v", err)
	}
}

func TestBrushWeight(t *testing.T) {
	tests := []struct {
		name    string
		d, r, f float32
		want    float32
	}{
		{"centre", 0, 10, 0.5, 1},
		{"inner edge", 5, 10, 0.5, 1},
		{"midway falloff", 7.5, 10, 0.5, 0.5},
		{"radius", 10, 10, 0.5, 0},
		{"outside", 12, 10, 0.5, 0},
		{"hard brush", 9.9, 10, 0, 1},
		{"zero radius", 0, 0, 0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BrushWeight(tt.d, tt.r, tt.f); math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("BrushWeight(%v, %v, %v) = %v, want %v", tt.d, tt.r, tt.f, got, tt.want)
			}
		})
	}
}

func TestBrushOps(t *testing.T) {
	ctx := context.Background()
	const res = 9
	tile := Rect{W: res, H: res}

	run := func(t *testing.T, op BrushOp, initial []float32, target float32) []float32 {
		t.Helper()
		d := NewSoftDevice(2)
		write := newTexture(t, d, res, FormatR32F)
		readable := newTexture(t, d, res, FormatR32F)
		for _, tex := range []Texture{write, readable} {
			if err := d.Upload(ctx, tex, tile, initial); err != nil {
				t.Fatalf("Upload: %v", err)
			}
		}
		err := d.Dispatch(ctx, Dispatch{Program: ProgramBrush, Params: BrushParams{
			Write: write, Readable: readable, Tile: tile, Op: op,
			CenterX: 4, CenterZ: 4, RadiusTexels: 2, Strength: 1, Falloff: 0, DT: 1, Target: target,
		}})
		if err != nil {
			t.Fatalf("brush dispatch: %v", err)
		}
		out, _ := d.Readback(ctx, write, tile)
		return out
	}

	flat := make([]float32, res*res)

	raised := run(t, BrushRaise, flat, 0)
	if raised[4*res+4] != 1 {
		t.Errorf("raise centre = %v, want 1", raised[4*res+4])
	}
	if raised[0] != 0 {
		t.Errorf("raise corner = %v, want untouched 0", raised[0])
	}

	lowered := run(t, BrushLower, flat, 0)
	if lowered[4*res+4] != -1 {
		t.Errorf("lower centre = %v, want -1", lowered[4*res+4])
	}

	flattened := run(t, BrushFlatten, flat, 7)
	if flattened[4*res+4] != 7 {
		t.Errorf("flatten centre = %v, want 7", flattened[4*res+4])
	}

	spike := make([]float32, res*res)
	spike[4*res+4] = 9
	smoothed := run(t, BrushSmooth, spike, 0)
	if smoothed[4*res+4] != 1 {
		t.Errorf("smooth centre = %v, want 3x3 mean 1", smoothed[4*res+4])
	}
	if smoothed[4*res+5] != 1 {
		t.Errorf("smooth neighbour = %v, want 1", smoothed[4*res+5])
	}
}

func TestStitch(t *testing.T) {
	ctx := context.Background()
	d := NewSoftDevice(1)
	const res = 3
	tex := newTexture(t, d, res*2, FormatR32F)

	a := Rect{W: res, H: res}
	b := Rect{X: res, W: res, H: res}
	if err := d.Upload(ctx, tex, a, []float32{0, 0, 2, 0, 0, 4, 0, 0, 6}); err != nil {
		t.Fatal(err)
	}
	if err := d.Upload(ctx, tex, b, []float32{4, 0, 0, 4, 0, 0, 4, 0, 0}); err != nil {
		t.Fatal(err)
	}

	err := d.Dispatch(ctx, Dispatch{Program: ProgramStitch, Params: StitchParams{Target: tex, A: a, B: b, Axis: EdgeX}})
	if err != nil {
		t.Fatalf("stitch dispatch: %v", err)
	}

	ga, _ := d.Readback(ctx, tex, a)
	gb, _ := d.Readback(ctx, tex, b)
	want := []float32{3, 4, 5}
	for j := range res {
		if ga[j*res+res-1] != want[j] || gb[j*res] != want[j] {
			t.Errorf("row %d: edges %v / %v, want %v", j, ga[j*res+res-1], gb[j*res], want[j])
		}
	}
}

func TestDispatchUnknownParams(t *testing.T) {
	d := NewSoftDevice(1)
	err := d.Dispatch(context.Background(), Dispatch{Program: ProgramHeight, Params: 42})
	if !errors.Is(err, ErrUnknownProgram) {
		t.Errorf("expected ErrUnknownProgram, got %v", err)
	}
}

func TestDispatchCancelled(t *testing.T) {
	d := NewSoftDevice(1)
	tex := newTexture(t, d, 4, FormatR32F)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Dispatch(ctx, Dispatch{Program: ProgramHeight, Params: HeightParams{
		Target: tex, Tile: Rect{W: 4, H: 4}, TexelSpacing: 1, Noise: testNoise,
	}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
