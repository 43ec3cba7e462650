package glcompute

import (
	"fmt"

	"github.com/go-gl/gl/v4.3-core/gl"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
	"github.com/Faultbox/terrastream/internal/engine/shader"
)

func (d *Device) image(unit uint32, tex gpu.Texture, format gpu.Format, access uint32) (gpu.Texture, error) {
	t, err := d.lookup(tex)
	if err != nil {
		return gpu.Texture{}, err
	}
	if t.Format != format {
		return gpu.Texture{}, fmt.Errorf("%w: %q is %s, want %s", gpu.ErrInvalidDispatch, tex.Label, t.Format, format)
	}
	internal, _ := internalFormat(format)
	gl.BindImageTexture(unit, t.ID, 0, false, 0, access, internal)
	return t, nil
}

func setNoise(program uint32, n gpu.NoiseParams) {
	gl.Uniform1ui(shader.Uniform(program, "uSeed"), n.Seed)
	gl.Uniform1i(shader.Uniform(program, "uOctaves"), int32(n.Octaves))
	gl.Uniform1f(shader.Uniform(program, "uLacunarity"), n.Lacunarity)
	gl.Uniform1f(shader.Uniform(program, "uGain"), n.Gain)
	gl.Uniform1f(shader.Uniform(program, "uFrequency"), n.Frequency)
	gl.Uniform1f(shader.Uniform(program, "uAmplitude"), n.Amplitude)
	gl.Uniform1f(shader.Uniform(program, "uBaseHeight"), n.BaseHeight)
	gl.Uniform1f(shader.Uniform(program, "uWarpFrequency"), n.WarpFrequency)
	gl.Uniform1f(shader.Uniform(program, "uWarpStrength"), n.WarpStrength)
}

func (d *Device) runHeight(p gpu.HeightParams) error {
	t, err := d.image(0, p.Target, gpu.FormatR32F, gl.WRITE_ONLY)
	if err != nil {
		return err
	}
	if !p.Tile.Inside(t.Size) {
		return fmt.Errorf("height %+v: %w", p.Tile, gpu.ErrOutOfBounds)
	}

	prog := d.programs[gpu.ProgramHeight]
	gl.UseProgram(prog)
	setNoise(prog, p.Noise)
	gl.Uniform2i(shader.Uniform(prog, "uTileOrigin"), int32(p.Tile.X), int32(p.Tile.Y))
	gl.Uniform2i(shader.Uniform(prog, "uTileSize"), int32(p.Tile.W), int32(p.Tile.H))
	gl.Uniform2i(shader.Uniform(prog, "uOriginTexel"), p.OriginTexelX, p.OriginTexelZ)
	gl.Uniform1f(shader.Uniform(prog, "uSpacing"), p.TexelSpacing)
	gl.DispatchCompute(groups(p.Tile.W), groups(p.Tile.H), 1)
	return nil
}

func (d *Device) runNormal(p gpu.NormalParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	size := p.TileResolution * p.TilesPerSide
	h, err := d.image(0, p.Height, gpu.FormatR32F, gl.READ_ONLY)
	if err != nil {
		return err
	}
	n, err := d.image(1, p.Normal, gpu.FormatRGBA32F, gl.WRITE_ONLY)
	if err != nil {
		return err
	}
	if h.Size != size || n.Size != size {
		return fmt.Errorf("%w: normal pass over %d texels, height %d, normal %d",
			gpu.ErrSizeMismatch, size, h.Size, n.Size)
	}

	gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, d.neighbours)
	gl.BufferData(gl.SHADER_STORAGE_BUFFER, len(p.Neighbours)*4, gl.Ptr(p.Neighbours), gl.DYNAMIC_DRAW)
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, 0, d.neighbours)

	prog := d.programs[gpu.ProgramNormal]
	gl.UseProgram(prog)
	gl.Uniform1i(shader.Uniform(prog, "uRes"), int32(p.TileResolution))
	gl.Uniform1i(shader.Uniform(prog, "uTiles"), int32(p.TilesPerSide))
	gl.Uniform1f(shader.Uniform(prog, "uSpacing"), p.TexelSpacing)
	gl.DispatchCompute(groups(size), groups(size), 1)
	return nil
}

func (d *Device) runBrush(p gpu.BrushParams) error {
	if p.Write.ID == p.Readable.ID {
		return fmt.Errorf("%w: brush needs distinct write and readable buffers", gpu.ErrInvalidDispatch)
	}
	w, err := d.image(0, p.Write, gpu.FormatR32F, gl.READ_WRITE)
	if err != nil {
		return err
	}
	r, err := d.image(1, p.Readable, gpu.FormatR32F, gl.READ_ONLY)
	if err != nil {
		return err
	}
	if w.Size != r.Size {
		return fmt.Errorf("%w: brush buffers %d and %d", gpu.ErrSizeMismatch, w.Size, r.Size)
	}
	if !p.Tile.Inside(w.Size) {
		return fmt.Errorf("brush %+v: %w", p.Tile, gpu.ErrOutOfBounds)
	}

	prog := d.programs[gpu.ProgramBrush]
	gl.UseProgram(prog)
	gl.Uniform2i(shader.Uniform(prog, "uTileOrigin"), int32(p.Tile.X), int32(p.Tile.Y))
	gl.Uniform2i(shader.Uniform(prog, "uTileSize"), int32(p.Tile.W), int32(p.Tile.H))
	gl.Uniform1i(shader.Uniform(prog, "uOp"), int32(p.Op))
	gl.Uniform2f(shader.Uniform(prog, "uCenter"), p.CenterX, p.CenterZ)
	gl.Uniform1f(shader.Uniform(prog, "uRadius"), p.RadiusTexels)
	gl.Uniform1f(shader.Uniform(prog, "uStrength"), p.Strength)
	gl.Uniform1f(shader.Uniform(prog, "uFalloff"), p.Falloff)
	gl.Uniform1f(shader.Uniform(prog, "uDT"), p.DT)
	gl.Uniform1f(shader.Uniform(prog, "uTarget"), p.Target)
	gl.DispatchCompute(groups(p.Tile.W), groups(p.Tile.H), 1)
	return nil
}

func (d *Device) runStitch(p gpu.StitchParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t, err := d.image(0, p.Target, gpu.FormatR32F, gl.READ_WRITE)
	if err != nil {
		return err
	}
	if !p.A.Inside(t.Size) || !p.B.Inside(t.Size) {
		return fmt.Errorf("stitch %+v/%+v: %w", p.A, p.B, gpu.ErrOutOfBounds)
	}

	prog := d.programs[gpu.ProgramStitch]
	gl.UseProgram(prog)
	gl.Uniform2i(shader.Uniform(prog, "uA"), int32(p.A.X), int32(p.A.Y))
	gl.Uniform2i(shader.Uniform(prog, "uB"), int32(p.B.X), int32(p.B.Y))
	gl.Uniform1i(shader.Uniform(prog, "uN"), int32(p.A.W))
	gl.Uniform1i(shader.Uniform(prog, "uAxis"), int32(p.Axis))
	gl.DispatchCompute(uint32((p.A.W+63)/64), 1, 1)
	return nil
}
