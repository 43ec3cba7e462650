package gridmesh

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/go-cmp/cmp"

	"github.com/Faultbox/terrastream/internal/terrain"
)

func flat(res int, h float32) []float32 {
	out := make([]float32, res*res)
	for i := range out {
		out[i] = h
	}
	return out
}

func TestLODIndices(t *testing.T) {
	tests := []struct {
		res, lod int
		want     []int
	}{
		{5, 0, []int{0, 1, 2, 3, 4}},
		{5, 1, []int{0, 2, 4}},
		{5, 2, []int{0, 4}},
		{5, 5, []int{0, 4}},
		{6, 1, []int{0, 2, 4, 5}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, lodIndices(tt.res, tt.lod)); diff != "" {
			t.Errorf("lodIndices(%d, %d) mismatch (-want +got):\n%s", tt.res, tt.lod, diff)
		}
	}
}

func TestBuildFlat(t *testing.T) {
	uv := terrain.UVRect{U0: 0.1, V0: 0.2, U1: 0.3, V1: 0.4}
	m, err := Build(flat(5, 3), 5, 8, 0, uv)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Vertices) != 25 || m.Triangles() != 32 {
		t.Fatalf("got %d vertices, %d triangles", len(m.Vertices), m.Triangles())
	}
	if diff := cmp.Diff(Bounds{Min: mgl32.Vec3{0, 3, 0}, Max: mgl32.Vec3{8, 3, 8}}, m.Bounds); diff != "" {
		t.Errorf("bounds mismatch (-want +got):\n%s", diff)
	}
	for _, v := range m.Vertices {
		if !v.Normal.ApproxEqual(mgl32.Vec3{0, 1, 0}) {
			t.Fatalf("flat normal = %v", v.Normal)
		}
	}
	if first, last := m.Vertices[0].TexCoord, m.Vertices[24].TexCoord; !first.ApproxEqual(mgl32.Vec2{0.1, 0.2}) || !last.ApproxEqual(mgl32.Vec2{0.3, 0.4}) {
		t.Errorf("uv corners = %v, %v", first, last)
	}

	// Every triangle faces up.
	for k := 0; k < len(m.Indices); k += 3 {
		a := m.Vertices[m.Indices[k]].Position
		b := m.Vertices[m.Indices[k+1]].Position
		c := m.Vertices[m.Indices[k+2]].Position
		if n := b.Sub(a).Cross(c.Sub(a)); n[1] <= 0 {
			t.Fatalf("triangle %d faces down: %v", k/3, n)
		}
	}
}

func TestBuildLODKeepsEdges(t *testing.T) {
	res := 9
	h := make([]float32, res*res)
	for j := range res {
		for i := range res {
			h[j*res+i] = float32(i*i + j)
		}
	}
	fine, err := Build(h, res, 16, 0, terrain.UVRect{})
	if err != nil {
		t.Fatal(err)
	}
	coarse, err := Build(h, res, 16, 2, terrain.UVRect{})
	if err != nil {
		t.Fatal(err)
	}
	if len(coarse.Vertices) != 9 {
		t.Fatalf("coarse vertices = %d, want 9", len(coarse.Vertices))
	}
	// The far corner is shared with neighbours at every LOD.
	if got, want := coarse.Vertices[8].Position, fine.Vertices[80].Position; got != want {
		t.Errorf("far corner = %v, want %v", got, want)
	}
	if diff := cmp.Diff(fine.Bounds, coarse.Bounds); diff != "" {
		t.Errorf("bounds changed with LOD (-fine +coarse):\n%s", diff)
	}
}

func TestBuildSlopeNormal(t *testing.T) {
	res := 5
	h := make([]float32, res*res)
	for j := range res {
		for i := range res {
			h[j*res+i] = float32(i) // 1 m rise per 2 m along +X
		}
	}
	m, err := Build(h, res, 8, 0, terrain.UVRect{})
	if err != nil {
		t.Fatal(err)
	}
	inv := float32(1 / math.Sqrt(1.25))
	want := mgl32.Vec3{-0.5 * inv, inv, 0}
	for i, v := range m.Vertices {
		if !v.Normal.ApproxEqualThreshold(want, 1e-5) {
			t.Fatalf("vertex %d normal = %v, want %v", i, v.Normal, want)
		}
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	if _, err := Build(flat(4, 0), 5, 8, 0, terrain.UVRect{}); err == nil {
		t.Error("expected error for short sample slice")
	}
	if _, err := Build(flat(1, 0), 1, 8, 0, terrain.UVRect{}); err == nil {
		t.Error("expected error for resolution 1")
	}
}

func TestFactoryTracksLiveMeshes(t *testing.T) {
	f := NewFactory(nil)
	var _ terrain.MeshFactory = f

	a, err := f.NewMesh(terrain.ChunkCoord{X: 1}, 8, 5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewMesh(terrain.ChunkCoord{Z: -1}, 8, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewMesh(terrain.ChunkCoord{X: 1}, 8, 5); err == nil {
		t.Error("expected error for duplicate live mesh")
	}
	want := []terrain.ChunkCoord{{Z: -1}, {X: 1}}
	if diff := cmp.Diff(want, f.Live()); diff != "" {
		t.Errorf("live mismatch (-want +got):\n%s", diff)
	}

	a.SetLOD(1)
	a.SetPosition(mgl32.Vec3{8, 0, 0})
	a.SetVisible(false)
	cm, ok := f.Mesh(terrain.ChunkCoord{X: 1})
	if !ok {
		t.Fatal("mesh not found")
	}
	lod, pos, visible := cm.State()
	if lod != 1 || pos != (mgl32.Vec3{8, 0, 0}) || visible {
		t.Errorf("state = %d %v %v", lod, pos, visible)
	}
	built, err := cm.Build(flat(5, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(built.Vertices) != 9 {
		t.Errorf("LOD 1 vertices = %d, want 9", len(built.Vertices))
	}

	a.Dispose()
	a.Dispose()
	if _, err := cm.Build(flat(5, 0)); !errors.Is(err, ErrDisposed) {
		t.Errorf("Build after Dispose: %v", err)
	}
	if diff := cmp.Diff([]terrain.ChunkCoord{{Z: -1}}, f.Live()); diff != "" {
		t.Errorf("live after dispose (-want +got):\n%s", diff)
	}
	if _, err := f.NewMesh(terrain.ChunkCoord{X: 1}, 8, 5); err != nil {
		t.Errorf("recreate after dispose: %v", err)
	}
}

func TestWriteOBJ(t *testing.T) {
	m, err := Build(flat(2, 1), 2, 4, 0, terrain.UVRect{U1: 1, V1: 1})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	err = WriteOBJ(&buf, []Part{
		{Name: "chunk_0_0", Mesh: m},
		{Name: "chunk_1_0", Offset: mgl32.Vec3{4, 0, 0}, Mesh: m},
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Count(out, "\nv ") != 8 || strings.Count(out, "\nf ") != 4 {
		t.Errorf("unexpected counts in:\n%s", out)
	}
	if !strings.Contains(out, "v 8 1 4\n") {
		t.Error("offset not applied to second part")
	}
	if !strings.Contains(out, "f 5/5/5 7/7/7 6/6/6\n") {
		t.Errorf("second part indices not rebased:\n%s", out)
	}
}
