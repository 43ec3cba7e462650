package gridmesh

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
)

// Part is a named mesh placed at an offset in a Wavefront OBJ file.
type Part struct {
	Name   string
	Offset mgl32.Vec3
	Mesh   *Mesh
}

// WriteOBJ writes parts as groups of one Wavefront OBJ document. Indices are
// rebased so every group addresses its own vertices.
func WriteOBJ(w io.Writer, parts []Part) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "# terrastream chunk export")

	base := 1
	for _, p := range parts {
		if p.Mesh == nil {
			continue
		}
		fmt.Fprintf(bw, "g %s\n", p.Name)
		for _, v := range p.Mesh.Vertices {
			pos := v.Position.Add(p.Offset)
			fmt.Fprintf(bw, "v %g %g %g\n", pos[0], pos[1], pos[2])
		}
		for _, v := range p.Mesh.Vertices {
			fmt.Fprintf(bw, "vt %g %g\n", v.TexCoord[0], v.TexCoord[1])
		}
		for _, v := range p.Mesh.Vertices {
			fmt.Fprintf(bw, "vn %g %g %g\n", v.Normal[0], v.Normal[1], v.Normal[2])
		}
		idx := p.Mesh.Indices
		for k := 0; k+2 < len(idx); k += 3 {
			a, b, c := int(idx[k])+base, int(idx[k+1])+base, int(idx[k+2])+base
			fmt.Fprintf(bw, "f %d/%d/%d %d/%d/%d %d/%d/%d\n", a, a, a, b, b, b, c, c, c)
		}
		base += len(p.Mesh.Vertices)
	}
	return bw.Flush()
}
