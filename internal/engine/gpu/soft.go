package gpu

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SoftDevice executes kernels on the CPU. Operations are serialised like a
// single GPU queue; a dispatch fans its rows out over a bounded errgroup.
type SoftDevice struct {
	queue    sync.Mutex // held for the duration of every operation
	textures map[uint32]*softTexture
	nextID   uint32
	workers  int
	closed   bool
}

var _ Device = (*SoftDevice)(nil)

type softTexture struct {
	tex  Texture
	data []float32
}

// NewSoftDevice creates a software device. workers <= 0 uses GOMAXPROCS.
func NewSoftDevice(workers int) *SoftDevice {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &SoftDevice{
		textures: make(map[uint32]*softTexture),
		workers:  workers,
	}
}

// Name implements Device.
func (d *SoftDevice) Name() string {
	return "software"
}

// CreateTexture implements Device. Textures start zeroed.
func (d *SoftDevice) CreateTexture(label string, size int, format Format) (Texture, error) {
	d.queue.Lock()
	defer d.queue.Unlock()
	if d.closed {
		return Texture{}, ErrClosed
	}
	if size <= 0 {
		return Texture{}, fmt.Errorf("create %s: %w: size %d", label, ErrOutOfBounds, size)
	}

	d.nextID++
	tex := Texture{ID: d.nextID, Size: size, Format: format, Label: label}
	d.textures[tex.ID] = &softTexture{
		tex:  tex,
		data: make([]float32, size*size*format.Channels()),
	}
	return tex, nil
}

// DestroyTexture implements Device.
func (d *SoftDevice) DestroyTexture(tex Texture) error {
	d.queue.Lock()
	defer d.queue.Unlock()
	if _, ok := d.textures[tex.ID]; !ok {
		return fmt.Errorf("destroy %q: %w", tex.Label, ErrUnknownTexture)
	}
	delete(d.textures, tex.ID)
	return nil
}

// Upload implements Device.
func (d *SoftDevice) Upload(ctx context.Context, tex Texture, r Rect, data []float32) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	st, err := d.lookup(ctx, tex)
	if err != nil {
		return err
	}
	if !r.Inside(st.tex.Size) {
		return fmt.Errorf("upload %q %+v: %w", tex.Label, r, ErrOutOfBounds)
	}
	ch := st.tex.Format.Channels()
	if len(data) != r.Area()*ch {
		return fmt.Errorf("upload %q: %w: got %d floats, want %d", tex.Label, ErrSizeMismatch, len(data), r.Area()*ch)
	}

	rowLen := r.W * ch
	for y := range r.H {
		dst := ((r.Y+y)*st.tex.Size + r.X) * ch
		copy(st.data[dst:dst+rowLen], data[y*rowLen:(y+1)*rowLen])
	}
	return nil
}

// Readback implements Device.
func (d *SoftDevice) Readback(ctx context.Context, tex Texture, r Rect) ([]float32, error) {
	d.queue.Lock()
	defer d.queue.Unlock()

	st, err := d.lookup(ctx, tex)
	if err != nil {
		return nil, err
	}
	if !r.Inside(st.tex.Size) {
		return nil, fmt.Errorf("readback %q %+v: %w", tex.Label, r, ErrOutOfBounds)
	}

	ch := st.tex.Format.Channels()
	rowLen := r.W * ch
	out := make([]float32, r.Area()*ch)
	for y := range r.H {
		src := ((r.Y+y)*st.tex.Size + r.X) * ch
		copy(out[y*rowLen:(y+1)*rowLen], st.data[src:src+rowLen])
	}
	return out, nil
}

// Copy implements Device.
func (d *SoftDevice) Copy(ctx context.Context, src, dst Texture) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	s, err := d.lookup(ctx, src)
	if err != nil {
		return err
	}
	t, err := d.lookup(ctx, dst)
	if err != nil {
		return err
	}
	if s.tex.Size != t.tex.Size || s.tex.Format != t.tex.Format {
		return fmt.Errorf("copy %q -> %q: %w", src.Label, dst.Label, ErrSizeMismatch)
	}
	copy(t.data, s.data)
	return nil
}

// Dispatch implements Device.
func (d *SoftDevice) Dispatch(ctx context.Context, disp Dispatch) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch p := disp.Params.(type) {
	case HeightParams:
		return d.runHeight(ctx, p)
	case NormalParams:
		return d.runNormal(ctx, p)
	case BrushParams:
		return d.runBrush(ctx, p)
	case StitchParams:
		return d.runStitch(p)
	default:
		return fmt.Errorf("%w: %s with params %T", ErrUnknownProgram, disp.Program, disp.Params)
	}
}

// Close implements Device.
func (d *SoftDevice) Close() error {
	d.queue.Lock()
	defer d.queue.Unlock()
	d.closed = true
	d.textures = make(map[uint32]*softTexture)
	return nil
}

// TextureCount returns how many textures are alive.
func (d *SoftDevice) TextureCount() int {
	d.queue.Lock()
	defer d.queue.Unlock()
	return len(d.textures)
}

func (d *SoftDevice) lookup(ctx context.Context, tex Texture) (*softTexture, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := d.textures[tex.ID]
	if !ok {
		return nil, fmt.Errorf("texture %q (id %d): %w", tex.Label, tex.ID, ErrUnknownTexture)
	}
	return st, nil
}

// rows runs fn for every row of r across the worker pool.
func (d *SoftDevice) rows(ctx context.Context, r Rect, fn func(y int)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for y := r.Y; y < r.Y+r.H; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(y)
			return nil
		})
	}
	return g.Wait()
}
