package terrain

import (
	"context"
	"fmt"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
)

// NormalCompute derives the normal atlas from the height atlas in one
// full-atlas pass, so normals on a shared edge see both chunks.
type NormalCompute struct {
	dev     gpu.Device
	atlas   *Atlas
	height  gpu.Texture
	tex     gpu.Texture
	spacing float32
}

// NewNormalCompute allocates the normal atlas texture.
func NewNormalCompute(dev gpu.Device, atlas *Atlas, height gpu.Texture, chunkSize float64) (*NormalCompute, error) {
	tex, err := dev.CreateTexture("normal-atlas", atlas.Size(), gpu.FormatRGBA32F)
	if err != nil {
		return nil, fmt.Errorf("create normal atlas: %w", err)
	}
	return &NormalCompute{
		dev:     dev,
		atlas:   atlas,
		height:  height,
		tex:     tex,
		spacing: float32(chunkSize / float64(atlas.Resolution()-1)),
	}, nil
}

// Texture returns the normal atlas.
func (n *NormalCompute) Texture() gpu.Texture { return n.tex }

// Regenerate recomputes every tile's normals.
func (n *NormalCompute) Regenerate(ctx context.Context) error {
	err := n.dev.Dispatch(ctx, gpu.Dispatch{Program: gpu.ProgramNormal, Params: gpu.NormalParams{
		Height:         n.height,
		Normal:         n.tex,
		TileResolution: n.atlas.Resolution(),
		TilesPerSide:   n.atlas.TilesPerSide(),
		TexelSpacing:   n.spacing,
		Neighbours:     n.neighbours(),
	}})
	if err != nil {
		return fmt.Errorf("regenerate normals: %w", err)
	}
	return nil
}

// neighbours builds the -X, +X, -Z, +Z tile index table for every tile.
func (n *NormalCompute) neighbours() []int32 {
	tiles := n.atlas.Capacity()
	table := make([]int32, tiles*4)
	for i := range table {
		table[i] = -1
	}

	for _, c := range n.atlas.Chunks() {
		t, _ := n.atlas.TileOf(c)
		base := n.atlas.Index(t) * 4
		for k, nb := range [4]ChunkCoord{c.Add(-1, 0), c.Add(1, 0), c.Add(0, -1), c.Add(0, 1)} {
			if nt, ok := n.atlas.TileOf(nb); ok {
				table[base+k] = int32(n.atlas.Index(nt))
			}
		}
	}
	return table
}

// Normals reads back c's normals as xyz0 quadruples.
func (n *NormalCompute) Normals(ctx context.Context, c ChunkCoord) ([]float32, error) {
	t, ok := n.atlas.TileOf(c)
	if !ok {
		return nil, fmt.Errorf("normals %s: chunk holds no tile", c)
	}
	return n.dev.Readback(ctx, n.tex, n.atlas.Rect(t))
}

// Destroy releases the normal atlas.
func (n *NormalCompute) Destroy() error {
	return n.dev.DestroyTexture(n.tex)
}
