package opengl

import (
	"slices"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

// defaultTargets are the render targets of DefaultRenderTarget. Both share
// base and only differ by load operation.
type defaultTargets struct {
	base     *renderTarget
	textures []*texture
	clear    *renderTarget
	load     *renderTarget
}

func (b *Backend) createDefaultTargets() error {
	d := &b.defaults
	newTexture := func(format gputypes.TextureFormat, samples int, usage gpu.TextureUsage) (*texture, error) {
		t, err := b.newTexture(gpu.TextureParams{
			Format:    format,
			Width:     b.width,
			Height:    b.height,
			Samples:   samples,
			MipLevels: 1,
			Usage:     usage,
		})
		if err == nil {
			d.textures = append(d.textures, t)
		}
		return t, err
	}

	if !b.cfg.Offscreen && b.samples == 1 {
		d.base = &renderTarget{
			glResource: glResource{b},
			width:      b.width,
			height:     b.height,
			colors:     []attachment{{}},
			depth:      &attachment{},
			readBuffer: gl.BACK,
			readable:   true,
		}
	} else {
		color, err := newTexture(gputypes.TextureFormatRGBA8Unorm, b.samples, gpu.TextureUsageColorAttachment|gpu.TextureUsageTransferSrc)
		if err != nil {
			return err
		}
		depth, err := newTexture(b.PreferredDepthStencilFormat(), b.samples, gpu.TextureUsageDepthStencilAttachment)
		if err != nil {
			return err
		}
		spec := colorSpec{attachment: attachment{tex: color}}
		if b.cfg.Offscreen && b.samples > 1 {
			spec.resolve, err = newTexture(gputypes.TextureFormatRGBA8Unorm, 1, gpu.TextureUsageColorAttachment|gpu.TextureUsageTransferSrc)
			if err != nil {
				return err
			}
		}
		d.base, err = b.newRenderTarget(b.width, b.height, []colorSpec{spec}, &attachment{tex: depth}, nil)
		if err != nil {
			return err
		}
		if !b.cfg.Offscreen {
			// The multisampled image is resolved into the window.
			d.base.resolves = append(d.base.resolves, resolve{
				mask: gl.COLOR_BUFFER_BIT,
				read: gl.COLOR_ATTACHMENT0,
				draw: gl.BACK,
			})
			d.base.readFBO, d.base.readBuffer, d.base.readable = 0, gl.BACK, true
		}
	}
	d.clear = d.base.withLoad(gputypes.LoadOpClear, b.cfg.ClearColor)
	d.load = d.base.withLoad(gputypes.LoadOpLoad, b.cfg.ClearColor)
	return nil
}

// withLoad returns a view of rt sharing its framebuffers with every
// attachment loaded by load.
func (rt *renderTarget) withLoad(load gputypes.LoadOp, clear [4]float32) *renderTarget {
	c := *rt
	c.owned = false
	c.colors = slices.Clone(rt.colors)
	for i := range c.colors {
		c.colors[i].load = load
		c.colors[i].store = gputypes.StoreOpStore
		c.colors[i].clear = clear
	}
	if rt.depth != nil {
		d := *rt.depth
		d.load = load
		d.store = gputypes.StoreOpDiscard
		d.clearDepth = 1
		c.depth = &d
	}
	return &c
}

func (b *Backend) destroyDefaultTargets() {
	d := &b.defaults
	if d.base != nil {
		d.base.Release()
	}
	for _, t := range d.textures {
		t.Release()
	}
	*d = defaultTargets{}
}

func (b *Backend) createDummyTexture() error {
	dummy, err := b.newTexture(gpu.TextureParams{
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Width:     1,
		Height:    1,
		Samples:   1,
		MipLevels: 1,
		Usage:     gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
	})
	if err != nil {
		return err
	}
	b.dummy = dummy
	return dummy.Upload(make([]byte, 4), 4)
}

func (b *Backend) DefaultRenderTarget(load gputypes.LoadOp) gpu.RenderTargetImpl {
	if load == gputypes.LoadOpLoad {
		return b.defaults.load
	}
	return b.defaults.clear
}

func (b *Backend) DefaultRenderTargetDesc() gpu.RenderTargetDesc {
	desc := gpu.RenderTargetDesc{
		Samples:      b.samples,
		NbColors:     1,
		DepthStencil: gpu.AttachmentDesc{Format: b.PreferredDepthStencilFormat()},
	}
	desc.Colors[0] = gpu.AttachmentDesc{Format: gputypes.TextureFormatRGBA8Unorm, Resolve: b.samples > 1}
	return desc
}

func (b *Backend) BeginDraw(t float64) error {
	b.timer.begin()
	return checkError("begin draw")
}

// EndDraw captures the default color attachment when a capture buffer is
// set, then presents onscreen.
func (b *Backend) EndDraw(t float64) error {
	b.timer.end()
	if b.capture != nil {
		base := b.defaults.base
		if err := b.readFramebuffer(base.readFBO, base.readBuffer, b.width, b.height, b.capture); err != nil {
			return err
		}
	}
	if !b.cfg.Offscreen {
		b.window.SwapBuffers()
	}
	return checkError("end draw")
}

// unmask lifts every write mask and the scissor test, which clears and
// blits honor.
// unmaskedGroups are the cached state groups unmask overrides.
const unmaskedGroups = state.GroupColorMask | state.GroupDepth | state.GroupStencil | state.GroupScissorTest

func unmask() {
	gl.ColorMask(true, true, true, true)
	gl.DepthMask(true)
	gl.StencilMask(0xff)
	gl.Disable(gl.SCISSOR_TEST)
}

func isInteger(pf pixelFormat) bool {
	switch pf.format {
	case gl.RED_INTEGER, gl.RG_INTEGER, gl.RGBA_INTEGER:
		return true
	}
	return false
}

func isUnsigned(pf pixelFormat) bool {
	switch pf.typ {
	case gl.UNSIGNED_BYTE, gl.UNSIGNED_SHORT, gl.UNSIGNED_INT:
		return true
	}
	return false
}

func clearColor(index int32, a attachment) {
	c := a.clear
	if a.tex == nil || !isInteger(a.tex.format) {
		gl.ClearBufferfv(gl.COLOR, index, &c[0])
		return
	}
	if isUnsigned(a.tex.format) {
		v := [4]uint32{uint32(c[0]), uint32(c[1]), uint32(c[2]), uint32(c[3])}
		gl.ClearBufferuiv(gl.COLOR, index, &v[0])
		return
	}
	v := [4]int32{int32(c[0]), int32(c[1]), int32(c[2]), int32(c[3])}
	gl.ClearBufferiv(gl.COLOR, index, &v[0])
}

func clearDepthStencil(a *attachment) {
	hasDepth, hasStencil := true, true
	if a.tex != nil {
		hasDepth, hasStencil = a.tex.params.Format.HasDepth(), a.tex.params.Format.HasStencil()
	}
	switch {
	case hasDepth && hasStencil:
		gl.ClearBufferfi(gl.DEPTH_STENCIL, 0, a.clearDepth, int32(a.clearStencil))
	case hasDepth:
		depth := a.clearDepth
		gl.ClearBufferfv(gl.DEPTH, 0, &depth)
	case hasStencil:
		stencil := int32(a.clearStencil)
		gl.ClearBufferiv(gl.STENCIL, 0, &stencil)
	}
}

// BeginRenderPass binds the framebuffer of rt and clears the attachments
// that are not loaded. The store operation has no equivalent before
// OpenGL 4.3 and everything is stored.
func (b *Backend) BeginRenderPass(impl gpu.RenderTargetImpl) error {
	rt := impl.(*renderTarget)
	gl.BindFramebuffer(gl.FRAMEBUFFER, rt.fbo)
	if rt.fbo == 0 {
		gl.DrawBuffer(gl.BACK)
	} else {
		gl.DrawBuffers(int32(len(rt.drawBuffers)), drawBuffersPtr(rt.drawBuffers))
	}

	unmask()
	for i, a := range rt.colors {
		if a.load != gputypes.LoadOpLoad {
			clearColor(int32(i), a)
		}
	}
	if rt.depth != nil && rt.depth.load != gputypes.LoadOpLoad {
		clearDepthStencil(rt.depth)
	}
	b.cache.Forget(unmaskedGroups)
	b.pass = rt
	return checkError("begin render pass")
}

// EndRenderPass resolves the multisampled attachments of the pass.
func (b *Backend) EndRenderPass() error {
	rt := b.pass
	if rt == nil {
		return nil
	}
	b.pass = nil
	if len(rt.resolves) > 0 {
		unmask()
		w, h := int32(rt.width), int32(rt.height)
		gl.BindFramebuffer(gl.READ_FRAMEBUFFER, rt.fbo)
		for _, r := range rt.resolves {
			gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, r.fbo)
			if r.mask&gl.COLOR_BUFFER_BIT != 0 {
				gl.ReadBuffer(r.read)
				gl.DrawBuffer(r.draw)
			}
			gl.BlitFramebuffer(0, 0, w, h, 0, 0, w, h, r.mask, gl.NEAREST)
		}
		b.cache.Forget(unmaskedGroups)
	}
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	return checkError("end render pass")
}

// SetViewport takes a bottom-left origin rectangle, as GL does.
func (b *Backend) SetViewport(r state.Rect) {
	b.cache.SetViewport(r)
}

func (b *Backend) SetScissor(r state.Rect) {
	b.cache.SetScissor(r)
}

// drawTimer measures the GPU time of a frame with a GL_TIME_ELAPSED query,
// or the CPU time until completion when the query could not be created.
type drawTimer struct {
	query   uint32
	running bool
	pending bool
	start   time.Time
}

func (t *drawTimer) init() {
	gl.GenQueries(1, &t.query)
}

func (t *drawTimer) begin() {
	t.start = time.Now()
	if t.query != 0 && !t.running {
		gl.BeginQuery(gl.TIME_ELAPSED, t.query)
		t.running = true
	}
}

func (t *drawTimer) end() {
	if t.running {
		gl.EndQuery(gl.TIME_ELAPSED)
		t.running = false
		t.pending = true
	}
}

func (t *drawTimer) release() {
	if t.query != 0 {
		gl.DeleteQueries(1, &t.query)
	}
	*t = drawTimer{}
}

// QueryDrawTime waits for the last frame to complete.
func (b *Backend) QueryDrawTime() (time.Duration, error) {
	t := &b.timer
	if t.query == 0 {
		gl.Finish()
		return time.Since(t.start), checkError("query draw time")
	}
	if !t.pending {
		return 0, nil
	}
	var ns uint64
	gl.GetQueryObjectui64v(t.query, gl.QUERY_RESULT, &ns)
	t.pending = false
	return time.Duration(ns), checkError("query draw time")
}
