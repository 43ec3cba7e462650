package gpu

import (
	"context"
	"fmt"
	"math"
)

func (d *SoftDevice) texture(tex Texture, format Format) (*softTexture, error) {
	st, ok := d.textures[tex.ID]
	if !ok {
		return nil, fmt.Errorf("texture %q (id %d): %w", tex.Label, tex.ID, ErrUnknownTexture)
	}
	if st.tex.Format != format {
		return nil, fmt.Errorf("%w: %q is %s, want %s", ErrInvalidDispatch, tex.Label, st.tex.Format, format)
	}
	return st, nil
}

func (d *SoftDevice) runHeight(ctx context.Context, p HeightParams) error {
	st, err := d.texture(p.Target, FormatR32F)
	if err != nil {
		return err
	}
	if !p.Tile.Inside(st.tex.Size) {
		return fmt.Errorf("height %+v: %w", p.Tile, ErrOutOfBounds)
	}

	size := st.tex.Size
	return d.rows(ctx, p.Tile, func(y int) {
		gz := p.OriginTexelZ + int32(y-p.Tile.Y)
		pz := float32(gz) * p.TexelSpacing
		row := st.data[y*size : (y+1)*size]
		for i := range p.Tile.W {
			gx := p.OriginTexelX + int32(i)
			row[p.Tile.X+i] = SampleHeight(float32(gx)*p.TexelSpacing, pz, p.Noise)
		}
	})
}

func (d *SoftDevice) runNormal(ctx context.Context, p NormalParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	hs, err := d.texture(p.Height, FormatR32F)
	if err != nil {
		return err
	}
	ns, err := d.texture(p.Normal, FormatRGBA32F)
	if err != nil {
		return err
	}
	res := p.TileResolution
	size := res * p.TilesPerSide
	if hs.tex.Size != size || ns.tex.Size != size {
		return fmt.Errorf("%w: normal pass over %d texels, height %d, normal %d",
			ErrSizeMismatch, size, hs.tex.Size, ns.tex.Size)
	}

	// at returns the height of texel (i, j) of tile t, resolving one step past
	// the tile edge through the neighbour table.
	at := func(t, i, j int) (float32, bool) {
		switch {
		case i < 0:
			if t = int(p.Neighbours[t*4+0]); t < 0 {
				return 0, false
			}
			i = res - 2
		case i >= res:
			if t = int(p.Neighbours[t*4+1]); t < 0 {
				return 0, false
			}
			i = 1
		case j < 0:
			if t = int(p.Neighbours[t*4+2]); t < 0 {
				return 0, false
			}
			j = res - 2
		case j >= res:
			if t = int(p.Neighbours[t*4+3]); t < 0 {
				return 0, false
			}
			j = 1
		}
		tx := t % p.TilesPerSide
		tz := t / p.TilesPerSide
		return hs.data[(tz*res+j)*size+tx*res+i], true
	}

	spacing := p.TexelSpacing
	return d.rows(ctx, Rect{W: size, H: size}, func(y int) {
		tz := y / res
		j := y % res
		for x := range size {
			tx := x / res
			i := x % res
			t := tz*p.TilesPerSide + tx

			c, _ := at(t, i, j)
			l, hasL := at(t, i-1, j)
			r, hasR := at(t, i+1, j)
			b, hasB := at(t, i, j-1)
			f, hasF := at(t, i, j+1)

			dhdx := centralDiff(c, l, r, hasL, hasR, spacing)
			dhdz := centralDiff(c, b, f, hasB, hasF, spacing)

			nx, ny, nz := -dhdx, float32(1), -dhdz
			inv := 1 / float32(math.Sqrt(float64(nx*nx+ny*ny+nz*nz)))
			o := (y*size + x) * 4
			ns.data[o+0] = nx * inv
			ns.data[o+1] = ny * inv
			ns.data[o+2] = nz * inv
			ns.data[o+3] = 0
		}
	})
}

// centralDiff falls back to a one-sided difference when a side is missing.
func centralDiff(c, lo, hi float32, hasLo, hasHi bool, spacing float32) float32 {
	switch {
	case hasLo && hasHi:
		return (hi - lo) / (2 * spacing)
	case hasHi:
		return (hi - c) / spacing
	case hasLo:
		return (c - lo) / spacing
	default:
		return 0
	}
}

func (d *SoftDevice) runBrush(ctx context.Context, p BrushParams) error {
	ws, err := d.texture(p.Write, FormatR32F)
	if err != nil {
		return err
	}
	rs, err := d.texture(p.Readable, FormatR32F)
	if err != nil {
		return err
	}
	if ws == rs || ws.tex.Size != rs.tex.Size {
		return fmt.Errorf("%w: brush needs distinct write and readable buffers of equal size", ErrInvalidDispatch)
	}
	if !p.Tile.Inside(ws.tex.Size) {
		return fmt.Errorf("brush %+v: %w", p.Tile, ErrOutOfBounds)
	}

	// Only rows the brush can touch.
	j0 := max(0, int(math.Floor(float64(p.CenterZ-p.RadiusTexels))))
	j1 := min(p.Tile.H-1, int(math.Ceil(float64(p.CenterZ+p.RadiusTexels))))
	if j0 > j1 {
		return nil
	}
	i0 := max(0, int(math.Floor(float64(p.CenterX-p.RadiusTexels))))
	i1 := min(p.Tile.W-1, int(math.Ceil(float64(p.CenterX+p.RadiusTexels))))
	if i0 > i1 {
		return nil
	}

	size := ws.tex.Size
	rows := Rect{X: p.Tile.X, Y: p.Tile.Y + j0, W: p.Tile.W, H: j1 - j0 + 1}
	return d.rows(ctx, rows, func(y int) {
		j := y - p.Tile.Y
		for i := i0; i <= i1; i++ {
			dx := float32(i) - p.CenterX
			dz := float32(j) - p.CenterZ
			dist := float32(math.Sqrt(float64(dx*dx + dz*dz)))
			w := BrushWeight(dist, p.RadiusTexels, p.Falloff)
			if w == 0 {
				continue
			}
			o := y*size + p.Tile.X + i
			cur := ws.data[o]
			amount := p.Strength * w * p.DT
			switch p.Op {
			case BrushRaise:
				cur += amount
			case BrushLower:
				cur -= amount
			case BrushSmooth:
				cur = lerp(cur, tileMean3x3(rs.data, size, p.Tile, i, j), clamp01(amount))
			case BrushFlatten:
				cur = lerp(cur, p.Target, clamp01(amount))
			}
			ws.data[o] = cur
		}
	})
}

// tileMean3x3 averages the 3x3 neighbourhood of tile texel (i, j), clamped to the tile.
func tileMean3x3(data []float32, size int, tile Rect, i, j int) float32 {
	var sum float32
	var n int
	for dz := -1; dz <= 1; dz++ {
		z := j + dz
		if z < 0 || z >= tile.H {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			x := i + dx
			if x < 0 || x >= tile.W {
				continue
			}
			sum += data[(tile.Y+z)*size+tile.X+x]
			n++
		}
	}
	return sum / float32(n)
}

func (d *SoftDevice) runStitch(p StitchParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	st, err := d.texture(p.Target, FormatR32F)
	if err != nil {
		return err
	}
	if !p.A.Inside(st.tex.Size) || !p.B.Inside(st.tex.Size) {
		return fmt.Errorf("stitch %+v/%+v: %w", p.A, p.B, ErrOutOfBounds)
	}

	size := st.tex.Size
	n := p.A.W
	for k := range n {
		var a, b int
		if p.Axis == EdgeX {
			a = (p.A.Y+k)*size + p.A.X + n - 1
			b = (p.B.Y+k)*size + p.B.X
		} else {
			a = (p.A.Y+n-1)*size + p.A.X + k
			b = p.B.Y*size + p.B.X + k
		}
		avg := (st.data[a] + st.data[b]) * 0.5
		st.data[a] = avg
		st.data[b] = avg
	}
	return nil
}
