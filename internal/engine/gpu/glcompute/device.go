// Package glcompute implements gpu.Device with OpenGL 4.3 compute shaders.
//
// GL state belongs to the OS thread that owns the context, so every call is
// marshalled onto the goroutine running Serve.
package glcompute

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gl/gl/v4.3-core/gl"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/terrastream/internal/engine/gpu"
	"github.com/Faultbox/terrastream/internal/engine/shader"
	"github.com/Faultbox/terrastream/internal/logger"
)

const localSize = 8

var _ gpu.Device = (*Device)(nil)

type command struct {
	fn  func() error
	res chan error
}

// Device is a GL compute device. Create it with New and run Serve on the
// thread that holds the current GL context.
type Device struct {
	log       *zap.Logger
	cmds      chan command
	done      chan struct{}
	closeOnce sync.Once

	// GL thread only.
	programs   map[gpu.Program]uint32
	textures   map[uint32]gpu.Texture
	fbo        uint32
	neighbours uint32
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// New creates a device. No GL call is made until Serve runs.
func New(opts ...Option) *Device {
	d := &Device{
		log:      logger.Named("glcompute"),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		programs: make(map[gpu.Program]uint32),
		textures: make(map[uint32]gpu.Texture),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements gpu.Device.
func (d *Device) Name() string {
	return "gl43"
}

// Serve initialises GL and executes queued calls until ctx is cancelled or
// the device is closed. It must run on the thread owning the GL context.
func (d *Device) Serve(ctx context.Context) (err error) {
	if err := gl.Init(); err != nil {
		return fmt.Errorf("gl init: %w", err)
	}
	d.log.Info("GL compute device ready",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	if err := d.setup(); err != nil {
		return multierr.Append(err, d.release())
	}
	defer func() {
		err = multierr.Append(err, d.release())
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		case cmd := <-d.cmds:
			cmd.res <- cmd.fn()
		}
	}
}

func (d *Device) setup() error {
	for program, src := range sources() {
		id, err := shader.CompileCompute(program.String(), src)
		if err != nil {
			return fmt.Errorf("compile %s: %w", program, err)
		}
		d.programs[program] = id
	}
	gl.GenFramebuffers(1, &d.fbo)
	gl.GenBuffers(1, &d.neighbours)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 4)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	return shader.Error("setup")
}

func (d *Device) release() error {
	for id, tex := range d.textures {
		gl.DeleteTextures(1, &id)
		d.log.Debug("released texture", zap.String("label", tex.Label))
	}
	clear(d.textures)
	for program, id := range d.programs {
		gl.DeleteProgram(id)
		delete(d.programs, program)
	}
	if d.fbo != 0 {
		gl.DeleteFramebuffers(1, &d.fbo)
		d.fbo = 0
	}
	if d.neighbours != 0 {
		gl.DeleteBuffers(1, &d.neighbours)
		d.neighbours = 0
	}
	return shader.Error("release")
}

// do runs fn on the GL thread and waits for it to finish.
func (d *Device) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, res: make(chan error, 1)}
	select {
	case d.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return gpu.ErrClosed
	}
	return <-cmd.res
}

// Close stops Serve, which releases every GL object on its way out.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	return nil
}

func internalFormat(f gpu.Format) (internal, format uint32) {
	if f == gpu.FormatRGBA32F {
		return gl.RGBA32F, gl.RGBA
	}
	return gl.R32F, gl.RED
}

// CreateTexture implements gpu.Device. Textures start zeroed.
func (d *Device) CreateTexture(label string, size int, format gpu.Format) (gpu.Texture, error) {
	if size <= 0 {
		return gpu.Texture{}, fmt.Errorf("create %s: %w: size %d", label, gpu.ErrOutOfBounds, size)
	}
	var tex gpu.Texture
	err := d.do(context.Background(), func() error {
		internal, pixFormat := internalFormat(format)
		var id uint32
		gl.GenTextures(1, &id)
		gl.BindTexture(gl.TEXTURE_2D, id)
		gl.TexStorage2D(gl.TEXTURE_2D, 1, internal, int32(size), int32(size))
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.NEAREST)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.NEAREST)

		zero := make([]float32, size*size*format.Channels())
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(size), int32(size), pixFormat, gl.FLOAT, gl.Ptr(zero))
		gl.BindTexture(gl.TEXTURE_2D, 0)
		if err := shader.Error("create texture " + label); err != nil {
			gl.DeleteTextures(1, &id)
			return err
		}

		tex = gpu.Texture{ID: id, Size: size, Format: format, Label: label}
		d.textures[id] = tex
		return nil
	})
	return tex, err
}

// DestroyTexture implements gpu.Device.
func (d *Device) DestroyTexture(tex gpu.Texture) error {
	return d.do(context.Background(), func() error {
		if _, ok := d.textures[tex.ID]; !ok {
			return fmt.Errorf("destroy %q: %w", tex.Label, gpu.ErrUnknownTexture)
		}
		id := tex.ID
		gl.DeleteTextures(1, &id)
		delete(d.textures, tex.ID)
		return nil
	})
}

func (d *Device) lookup(tex gpu.Texture) (gpu.Texture, error) {
	t, ok := d.textures[tex.ID]
	if !ok {
		return gpu.Texture{}, fmt.Errorf("texture %q (id %d): %w", tex.Label, tex.ID, gpu.ErrUnknownTexture)
	}
	return t, nil
}

// Upload implements gpu.Device.
func (d *Device) Upload(ctx context.Context, tex gpu.Texture, r gpu.Rect, data []float32) error {
	return d.do(ctx, func() error {
		t, err := d.lookup(tex)
		if err != nil {
			return err
		}
		if !r.Inside(t.Size) {
			return fmt.Errorf("upload %q %+v: %w", tex.Label, r, gpu.ErrOutOfBounds)
		}
		if want := r.Area() * t.Format.Channels(); len(data) != want {
			return fmt.Errorf("upload %q: %w: got %d floats, want %d", tex.Label, gpu.ErrSizeMismatch, len(data), want)
		}
		_, pixFormat := internalFormat(t.Format)
		gl.BindTexture(gl.TEXTURE_2D, t.ID)
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, int32(r.X), int32(r.Y), int32(r.W), int32(r.H), pixFormat, gl.FLOAT, gl.Ptr(data))
		gl.BindTexture(gl.TEXTURE_2D, 0)
		return shader.Error("upload " + tex.Label)
	})
}

// Readback implements gpu.Device.
func (d *Device) Readback(ctx context.Context, tex gpu.Texture, r gpu.Rect) ([]float32, error) {
	var out []float32
	err := d.do(ctx, func() error {
		t, err := d.lookup(tex)
		if err != nil {
			return err
		}
		if !r.Inside(t.Size) {
			return fmt.Errorf("readback %q %+v: %w", tex.Label, r, gpu.ErrOutOfBounds)
		}
		_, pixFormat := internalFormat(t.Format)
		out = make([]float32, r.Area()*t.Format.Channels())

		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, d.fbo)
		gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, t.ID, 0)
		gl.ReadBuffer(gl.COLOR_ATTACHMENT0)
		gl.ReadPixels(int32(r.X), int32(r.Y), int32(r.W), int32(r.H), pixFormat, gl.FLOAT, gl.Ptr(out))
		gl.FramebufferTexture2D(gl.READ_FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, 0, 0)
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
		return shader.Error("readback " + tex.Label)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Copy implements gpu.Device.
func (d *Device) Copy(ctx context.Context, src, dst gpu.Texture) error {
	return d.do(ctx, func() error {
		s, err := d.lookup(src)
		if err != nil {
			return err
		}
		t, err := d.lookup(dst)
		if err != nil {
			return err
		}
		if s.Size != t.Size || s.Format != t.Format {
			return fmt.Errorf("copy %q -> %q: %w", src.Label, dst.Label, gpu.ErrSizeMismatch)
		}
		gl.CopyImageSubData(s.ID, gl.TEXTURE_2D, 0, 0, 0, 0,
			t.ID, gl.TEXTURE_2D, 0, 0, 0, 0,
			int32(s.Size), int32(s.Size), 1)
		return shader.Error("copy " + src.Label)
	})
}

// Dispatch implements gpu.Device.
func (d *Device) Dispatch(ctx context.Context, disp gpu.Dispatch) error {
	return d.do(ctx, func() error {
		var err error
		switch p := disp.Params.(type) {
		case gpu.HeightParams:
			err = d.runHeight(p)
		case gpu.NormalParams:
			err = d.runNormal(p)
		case gpu.BrushParams:
			err = d.runBrush(p)
		case gpu.StitchParams:
			err = d.runStitch(p)
		default:
			return fmt.Errorf("%w: %s with params %T", gpu.ErrUnknownProgram, disp.Program, disp.Params)
		}
		if err != nil {
			return err
		}
		gl.MemoryBarrier(gl.ALL_BARRIER_BITS)
		gl.UseProgram(0)
		return shader.Error("dispatch " + disp.Program.String())
	})
}

func groups(n int) uint32 {
	return uint32((n + localSize - 1) / localSize)
}
