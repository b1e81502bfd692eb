package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

// glResource is embedded by every GL object. Commands are executed in
// submission order, so a released object is never referenced afterwards.
type glResource struct {
	b *Backend
}

func (r glResource) InUse() bool {
	return false
}

type buffer struct {
	glResource
	id   uint32
	size int
}

func (b *Backend) CreateBuffer(p gpu.BufferParams) (gpu.BufferImpl, error) {
	buf := &buffer{glResource: glResource{b}, size: p.Size}
	gl.GenBuffers(1, &buf.id)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, buf.id)
	gl.BufferData(gl.COPY_WRITE_BUFFER, p.Size, nil, gl.DYNAMIC_DRAW)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	if err := checkError("create buffer"); err != nil {
		gl.DeleteBuffers(1, &buf.id)
		return nil, err
	}
	return buf, nil
}

func (buf *buffer) Upload(data []byte, offset int) error {
	if len(data) == 0 {
		return nil
	}
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, buf.id)
	gl.BufferSubData(gl.COPY_WRITE_BUFFER, offset, len(data), gl.Ptr(data))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	return checkError("buffer upload")
}

// Download reads the buffer back. The driver waits for pending writes.
func (buf *buffer) Download(dst []byte, offset int) error {
	if len(dst) == 0 {
		return nil
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, buf.id)
	gl.GetBufferSubData(gl.COPY_READ_BUFFER, offset, len(dst), gl.Ptr(dst))
	gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
	return checkError("buffer download")
}

func (buf *buffer) Release() {
	if buf.id != 0 {
		gl.DeleteBuffers(1, &buf.id)
		buf.id = 0
	}
}

type texture struct {
	glResource
	id     uint32
	target uint32
	params gpu.TextureParams
	format pixelFormat
	// compare tracks TEXTURE_COMPARE_MODE, switched on when the texture is
	// sampled through a comparison sampler.
	compare bool
}

func (b *Backend) CreateTexture(p gpu.TextureParams) (gpu.TextureImpl, error) {
	return b.newTexture(p)
}

func (b *Backend) newTexture(p gpu.TextureParams) (*texture, error) {
	pf, ok := textureFormat(p.Format)
	if !ok {
		return nil, fmt.Errorf("texture format %s: %w", p.Format, core.ErrUnsupported)
	}
	if p.Usage&gpu.TextureUsageStorage != 0 {
		return nil, fmt.Errorf("storage textures need OpenGL 4.2: %w", core.ErrUnsupported)
	}
	if p.Samples == 0 {
		p.Samples = 1
	}
	if p.MipLevels == 0 {
		p.MipLevels = 1
	}
	t := &texture{glResource: glResource{b}, target: textureTarget(p), params: p, format: pf}
	gl.GenTextures(1, &t.id)
	gl.BindTexture(t.target, t.id)
	t.allocate()
	if t.target != gl.TEXTURE_2D_MULTISAMPLE {
		gl.TexParameteri(t.target, gl.TEXTURE_MIN_FILTER, minFilter(p.MinFilter, p.MipmapFilter))
		gl.TexParameteri(t.target, gl.TEXTURE_MAG_FILTER, magFilter(p.MagFilter))
		gl.TexParameteri(t.target, gl.TEXTURE_WRAP_S, wrapMode(p.WrapS))
		gl.TexParameteri(t.target, gl.TEXTURE_WRAP_T, wrapMode(p.WrapT))
		gl.TexParameteri(t.target, gl.TEXTURE_WRAP_R, wrapMode(p.WrapR))
		gl.TexParameteri(t.target, gl.TEXTURE_MAX_LEVEL, int32(p.MipLevels-1))
	}
	gl.BindTexture(t.target, 0)
	if err := checkError("create texture"); err != nil {
		gl.DeleteTextures(1, &t.id)
		return nil, err
	}
	return t, nil
}

// allocate reserves storage for every level of the bound texture.
func (t *texture) allocate() {
	p, pf := t.params, t.format
	if t.target == gl.TEXTURE_2D_MULTISAMPLE {
		gl.TexImage2DMultisample(t.target, int32(p.Samples), uint32(pf.internal), int32(p.Width), int32(p.Height), true)
		return
	}
	for level := 0; level < p.MipLevels; level++ {
		w, h := int32(max(p.Width>>level, 1)), int32(max(p.Height>>level, 1))
		switch t.target {
		case gl.TEXTURE_2D:
			gl.TexImage2D(t.target, int32(level), pf.internal, w, h, 0, pf.format, pf.typ, nil)
		case gl.TEXTURE_CUBE_MAP:
			for face := uint32(0); face < 6; face++ {
				gl.TexImage2D(gl.TEXTURE_CUBE_MAP_POSITIVE_X+face, int32(level), pf.internal, w, h, 0, pf.format, pf.typ, nil)
			}
		case gl.TEXTURE_2D_ARRAY:
			gl.TexImage3D(t.target, int32(level), pf.internal, w, h, int32(p.Layers()), 0, pf.format, pf.typ, nil)
		case gl.TEXTURE_3D:
			d := int32(max(p.Depth>>level, 1))
			gl.TexImage3D(t.target, int32(level), pf.internal, w, h, d, 0, pf.format, pf.typ, nil)
		}
	}
}

// Upload replaces level 0. Cube faces and array layers follow each other
// in data, bytesPerRow*height bytes apart.
func (t *texture) Upload(data []byte, bytesPerRow int) error {
	p, pf := t.params, t.format
	bpp := gpu.BytesPerPixel(p.Format)
	switch {
	case t.target == gl.TEXTURE_2D_MULTISAMPLE:
		return fmt.Errorf("multisampled textures cannot be uploaded to: %w", core.ErrInvalidUsage)
	case bpp == 0:
		return fmt.Errorf("uploads to %s textures: %w", p.Format, core.ErrUnsupported)
	case bytesPerRow%bpp != 0:
		return fmt.Errorf("row pitch %d is not a multiple of %d: %w", bytesPerRow, bpp, core.ErrInvalidArg)
	}
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, int32(bytesPerRow/bpp))
	gl.BindTexture(t.target, t.id)
	w, h := int32(p.Width), int32(p.Height)
	switch t.target {
	case gl.TEXTURE_2D:
		gl.TexSubImage2D(t.target, 0, 0, 0, w, h, pf.format, pf.typ, gl.Ptr(data))
	case gl.TEXTURE_CUBE_MAP:
		face := bytesPerRow * p.Height
		for i := 0; i < 6; i++ {
			gl.TexSubImage2D(gl.TEXTURE_CUBE_MAP_POSITIVE_X+uint32(i), 0, 0, 0, w, h, pf.format, pf.typ, gl.Ptr(data[i*face:]))
		}
	case gl.TEXTURE_2D_ARRAY:
		gl.TexSubImage3D(t.target, 0, 0, 0, 0, w, h, int32(p.Layers()), pf.format, pf.typ, gl.Ptr(data))
	case gl.TEXTURE_3D:
		gl.TexSubImage3D(t.target, 0, 0, 0, 0, w, h, int32(p.Depth), pf.format, pf.typ, gl.Ptr(data))
	}
	gl.BindTexture(t.target, 0)
	gl.PixelStorei(gl.UNPACK_ROW_LENGTH, 0)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 4)
	return checkError("texture upload")
}

func (t *texture) GenerateMipmap() error {
	if t.target == gl.TEXTURE_3D || t.params.Format.IsDepthStencil() {
		return fmt.Errorf("mipmap generation of %s textures: %w", t.params.Format, core.ErrUnsupported)
	}
	gl.BindTexture(t.target, t.id)
	gl.GenerateMipmap(t.target)
	gl.BindTexture(t.target, 0)
	return checkError("generate mipmap")
}

// setCompare switches depth comparison for the bound texture.
func (t *texture) setCompare(on bool) {
	if t.compare == on || !t.params.Format.HasDepth() {
		return
	}
	mode := int32(gl.NONE)
	if on {
		mode = gl.COMPARE_REF_TO_TEXTURE
		gl.TexParameteri(t.target, gl.TEXTURE_COMPARE_FUNC, gl.LEQUAL)
	}
	gl.TexParameteri(t.target, gl.TEXTURE_COMPARE_MODE, mode)
	t.compare = on
}

func (t *texture) Release() {
	if t.id != 0 {
		gl.DeleteTextures(1, &t.id)
		t.id = 0
	}
}

// attach binds layer 0 or the given layer of t to point of the bound draw
// framebuffer.
func (t *texture) attach(point uint32, layer int) {
	switch t.target {
	case gl.TEXTURE_2D, gl.TEXTURE_2D_MULTISAMPLE:
		gl.FramebufferTexture2D(gl.DRAW_FRAMEBUFFER, point, t.target, t.id, 0)
	case gl.TEXTURE_CUBE_MAP:
		gl.FramebufferTexture2D(gl.DRAW_FRAMEBUFFER, point, gl.TEXTURE_CUBE_MAP_POSITIVE_X+uint32(layer), t.id, 0)
	default:
		gl.FramebufferTextureLayer(gl.DRAW_FRAMEBUFFER, point, t.id, 0, int32(layer))
	}
}

type attachment struct {
	tex   *texture
	layer int
	load  gputypes.LoadOp
	store gputypes.StoreOp
	clear [4]float32

	clearDepth   float32
	clearStencil uint32
}

// resolve is a multisampled attachment blitted into a single-sample
// framebuffer at the end of a render pass.
type resolve struct {
	mask uint32
	// read is the color attachment of the source framebuffer.
	read uint32
	fbo  uint32
	draw uint32
}

type renderTarget struct {
	glResource
	fbo    uint32
	owned  bool
	width  int
	height int
	colors []attachment
	depth  *attachment
	// drawBuffers lists the color outputs of fbo.
	drawBuffers []uint32
	resolves    []resolve
	// readFBO and readBuffer locate the single-sample image of the first
	// color attachment.
	readFBO    uint32
	readBuffer uint32
	readable   bool
}

func newFramebuffer() uint32 {
	var fbo uint32
	gl.GenFramebuffers(1, &fbo)
	gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, fbo)
	return fbo
}

func deleteFramebuffer(fbo uint32) {
	if fbo != 0 {
		gl.DeleteFramebuffers(1, &fbo)
	}
}

// colorSpec is a color attachment and its optional resolve target.
type colorSpec struct {
	attachment
	resolve      *texture
	resolveLayer int
}

func (b *Backend) CreateRenderTarget(p gpu.RenderTargetParams) (gpu.RenderTargetImpl, error) {
	colors := make([]colorSpec, 0, len(p.Colors))
	for _, c := range p.Colors {
		spec := colorSpec{
			attachment: attachment{
				tex:   c.Texture.Impl().(*texture),
				layer: c.Layer,
				load:  c.Load,
				store: c.Store,
				clear: c.Clear,
			},
			resolveLayer: c.ResolveLayer,
		}
		if c.Resolve != nil {
			spec.resolve = c.Resolve.Impl().(*texture)
		}
		colors = append(colors, spec)
	}
	var depth *attachment
	var depthResolve *texture
	if ds := p.DepthStencil; ds.Texture != nil {
		depth = &attachment{
			tex:          ds.Texture.Impl().(*texture),
			load:         ds.Load,
			store:        ds.Store,
			clearDepth:   ds.ClearDepth,
			clearStencil: ds.ClearStencil,
		}
		if ds.Resolve != nil {
			depthResolve = ds.Resolve.Impl().(*texture)
		}
	}
	return b.newRenderTarget(p.Width, p.Height, colors, depth, depthResolve)
}

func (b *Backend) newRenderTarget(width, height int, colors []colorSpec, depth *attachment, depthResolve *texture) (*renderTarget, error) {
	rt := &renderTarget{glResource: glResource{b}, owned: true, width: width, height: height, depth: depth}
	rt.fbo = newFramebuffer()
	defer gl.BindFramebuffer(gl.DRAW_FRAMEBUFFER, 0)

	fail := func(err error) (*renderTarget, error) {
		rt.Release()
		return nil, err
	}
	for i, c := range colors {
		point := gl.COLOR_ATTACHMENT0 + uint32(i)
		c.tex.attach(point, c.layer)
		rt.colors = append(rt.colors, c.attachment)
		rt.drawBuffers = append(rt.drawBuffers, point)
	}
	if depth != nil {
		depth.tex.attach(attachmentPoint(depth.tex.params.Format, 0), 0)
	}
	gl.DrawBuffers(int32(len(rt.drawBuffers)), drawBuffersPtr(rt.drawBuffers))
	if err := framebufferError("create render target", gl.CheckFramebufferStatus(gl.DRAW_FRAMEBUFFER)); err != nil {
		return fail(err)
	}

	// Every resolve target gets a framebuffer of its own.
	for i, c := range colors {
		if c.resolve == nil {
			continue
		}
		rt.resolves = append(rt.resolves, resolve{
			mask: gl.COLOR_BUFFER_BIT,
			read: gl.COLOR_ATTACHMENT0 + uint32(i),
			fbo:  newFramebuffer(),
			draw: gl.COLOR_ATTACHMENT0,
		})
		c.resolve.attach(gl.COLOR_ATTACHMENT0, c.resolveLayer)
		gl.DrawBuffer(gl.COLOR_ATTACHMENT0)
		if err := framebufferError("create resolve target", gl.CheckFramebufferStatus(gl.DRAW_FRAMEBUFFER)); err != nil {
			return fail(err)
		}
	}
	if depthResolve != nil {
		format := depthResolve.params.Format
		mask := uint32(0)
		if format.HasDepth() {
			mask |= gl.DEPTH_BUFFER_BIT
		}
		if format.HasStencil() {
			mask |= gl.STENCIL_BUFFER_BIT
		}
		rt.resolves = append(rt.resolves, resolve{mask: mask, fbo: newFramebuffer(), draw: gl.NONE})
		depthResolve.attach(attachmentPoint(format, 0), 0)
		gl.DrawBuffer(gl.NONE)
		if err := framebufferError("create depth resolve target", gl.CheckFramebufferStatus(gl.DRAW_FRAMEBUFFER)); err != nil {
			return fail(err)
		}
	}

	if len(rt.colors) > 0 {
		rt.readable = true
		rt.readFBO, rt.readBuffer = rt.fbo, gl.COLOR_ATTACHMENT0
		if rt.colors[0].tex.params.Samples > 1 {
			rt.readable = false
			for _, r := range rt.resolves {
				if r.read == gl.COLOR_ATTACHMENT0 && r.mask == gl.COLOR_BUFFER_BIT {
					rt.readFBO, rt.readBuffer, rt.readable = r.fbo, r.draw, true
				}
			}
		}
	}
	if err := checkError("create render target"); err != nil {
		return fail(err)
	}
	return rt, nil
}

func drawBuffersPtr(bufs []uint32) *uint32 {
	if len(bufs) == 0 {
		return nil
	}
	return &bufs[0]
}

// ReadPixels reads the first color attachment, or its resolve target, top
// row first.
func (rt *renderTarget) ReadPixels(dst []byte) error {
	if len(rt.colors) == 0 {
		return fmt.Errorf("render target has no color attachment: %w", core.ErrInvalidUsage)
	}
	if !rt.readable {
		return fmt.Errorf("cannot read back a multisampled attachment without resolve: %w", core.ErrUnsupported)
	}
	// The window framebuffer has no texture and is always RGBA8.
	if t := rt.colors[0].tex; t != nil && gpu.BytesPerPixel(t.params.Format) != 4 {
		return fmt.Errorf("cannot read back format %s as RGBA8: %w", t.params.Format, core.ErrUnsupported)
	}
	return rt.b.readFramebuffer(rt.readFBO, rt.readBuffer, rt.width, rt.height, dst)
}

// readFramebuffer reads width x height RGBA8 pixels from buffer of fbo
// into dst with the top row first.
func (b *Backend) readFramebuffer(fbo, buffer uint32, width, height int, dst []byte) error {
	rows := make([]byte, width*height*4)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, fbo)
	gl.ReadBuffer(buffer)
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(0, 0, int32(width), int32(height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(rows))
	gl.PixelStorei(gl.PACK_ALIGNMENT, 4)
	gl.BindFramebuffer(gl.READ_FRAMEBUFFER, 0)
	if err := checkError("read pixels"); err != nil {
		return err
	}
	flipRows(dst, rows, width*4, height)
	return nil
}

func (rt *renderTarget) Release() {
	for _, r := range rt.resolves {
		deleteFramebuffer(r.fbo)
	}
	rt.resolves = nil
	if rt.owned {
		deleteFramebuffer(rt.fbo)
	}
	rt.fbo = 0
}
