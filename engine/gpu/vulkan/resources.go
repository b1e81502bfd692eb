package vulkan

import (
	"fmt"
	stdmath "math"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

// resource tracks the last submission that referenced a native object.
type resource struct {
	b       *Backend
	lastUse uint64
	// pending is set while the object is referenced by the frame being
	// recorded.
	pending bool
}

func (r *resource) touch() {
	if r.pending {
		return
	}
	r.pending = true
	r.b.touched = append(r.b.touched, r)
}

func (r *resource) InUse() bool {
	return r.pending || r.lastUse > r.b.pollCompleted()
}

type buffer struct {
	resource
	raw  *rawBuffer
	size uint64
}

// CreateBuffer places buffers in device local memory when the device has
// some the buffer can live in. Content always moves through staging.
func (b *Backend) CreateBuffer(p gpu.BufferParams) (gpu.BufferImpl, error) {
	usage := bufferUsage(p.Usage) | vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit)
	raw, err := b.newRawBuffer(uint64(p.Size), usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0)
	if err != nil {
		return nil, err
	}
	return &buffer{resource: resource{b: b}, raw: raw, size: uint64(p.Size)}, nil
}

// Upload writes data while recording through the upload command buffer,
// so it lands before every command of the frame.
func (buf *buffer) Upload(data []byte, offset int) error {
	if len(data) == 0 {
		return nil
	}
	b := buf.b
	s, err := b.stage(data)
	if err != nil {
		return err
	}
	defer s.release()
	record := func(cb vk.CommandBuffer) {
		vk.CmdCopyBuffer(cb, s.buf, buf.raw.buf, 1, []vk.BufferCopy{{
			SrcOffset: vk.DeviceSize(s.off),
			DstOffset: vk.DeviceSize(offset),
			Size:      vk.DeviceSize(len(data)),
		}})
	}
	if !b.recording {
		return b.submitTransient("buffer upload", record)
	}
	cb, err := b.uploadCmd()
	if err != nil {
		return err
	}
	buf.touch()
	record(cb)
	return nil
}

func (buf *buffer) Download(dst []byte, offset int) error {
	if len(dst) == 0 {
		return nil
	}
	b := buf.b
	if buf.pending {
		if err := b.flush(); err != nil {
			return err
		}
	}
	staging, err := b.newHostBuffer(uint64(len(dst)), vk.BufferUsageTransferDstBit)
	if err != nil {
		return err
	}
	defer staging.release()
	err = b.submitTransient("buffer download", func(cb vk.CommandBuffer) {
		vk.CmdCopyBuffer(cb, buf.raw.buf, staging.buf, 1, []vk.BufferCopy{{
			SrcOffset: vk.DeviceSize(offset),
			Size:      vk.DeviceSize(len(dst)),
		}})
	})
	if err != nil {
		return err
	}
	copy(dst, staging.bytes())
	return nil
}

func (buf *buffer) Release() {
	if buf.raw != nil {
		buf.raw.release()
		buf.raw = nil
	}
}

type texture struct {
	resource
	params gpu.TextureParams
	format vk.Format
	aspect vk.ImageAspectFlags
	image  vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	// storage is the single level view bound to storage image slots of
	// textures with mipmaps.
	storage vk.ImageView
	// samplers holds the filtering and the comparison sampler, created on
	// first use.
	samplers [2]vk.Sampler
	// layout is the layout the last recorded command left the image in.
	layout vk.ImageLayout
	// borrowed images belong to the swapchain.
	borrowed bool
}

func (b *Backend) CreateTexture(p gpu.TextureParams) (gpu.TextureImpl, error) {
	t, err := b.newTexture(p)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Backend) newTexture(p gpu.TextureParams) (*texture, error) {
	format, err := b.nativeFormat(p.Format)
	if err != nil {
		return nil, err
	}
	p.MipLevels = max(p.MipLevels, 1)
	t := &texture{resource: resource{b: b}, params: p, format: format, aspect: aspectMask(p.Format)}
	typ, _ := imageType(p.Type)
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: typ,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(p.Width),
			Height: uint32(p.Height),
			Depth:  1,
		},
		MipLevels:     uint32(p.MipLevels),
		ArrayLayers:   uint32(t.layers()),
		Samples:       sampleCount(max(p.Samples, 1)),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(p),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if p.Type == gpu.Texture3D {
		info.Extent.Depth = uint32(max(p.Depth, 1))
	}
	if p.Type == gpu.TextureCube {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	if res := vk.CreateImage(b.device, &info, nil, &t.image); res != vk.Success {
		return nil, vkError("create image", res)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.device, t.image, &reqs)
	if t.memory, err = b.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), 0); err != nil {
		t.Release()
		return nil, err
	}
	if res := vk.BindImageMemory(b.device, t.image, t.memory, 0); res != vk.Success {
		t.Release()
		return nil, vkError("bind image memory", res)
	}
	if err := t.createView(); err != nil {
		t.Release()
		return nil, err
	}
	// Images are born undefined: bring them to their resting layout so
	// descriptors can point at them right away.
	err = b.recordTransfer(&t.resource, "texture init", func(cb vk.CommandBuffer) {
		t.transition(cb, t.restLayout(), true)
	})
	if err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// layers returns the array layers of the image. 3D textures have one.
func (t *texture) layers() int {
	if t.params.Type == gpu.Texture3D {
		return 1
	}
	return t.params.Layers()
}

// viewAspect drops the stencil aspect of sampled depth stencil views.
func (t *texture) viewAspect() vk.ImageAspectFlags {
	if t.params.Format.HasDepth() && t.params.Usage&gpu.TextureUsageSampled != 0 {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return t.aspect
}

func (t *texture) newView(viewType vk.ImageViewType, aspect vk.ImageAspectFlags, level, levels, layer, layers int) (vk.ImageView, error) {
	var view vk.ImageView
	res := vk.CreateImageView(t.b.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.image,
		ViewType: viewType,
		Format:   t.format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   uint32(level),
			LevelCount:     uint32(levels),
			BaseArrayLayer: uint32(layer),
			LayerCount:     uint32(layers),
		},
	}, nil, &view)
	if res != vk.Success {
		return nil, vkError("create image view", res)
	}
	return view, nil
}

func (t *texture) createView() error {
	_, viewType := imageType(t.params.Type)
	view, err := t.newView(viewType, t.viewAspect(), 0, max(t.params.MipLevels, 1), 0, t.layers())
	if err != nil {
		return err
	}
	t.view = view
	return nil
}

// attachmentView returns a single layer, single level view used as a render
// pass attachment.
func (t *texture) attachmentView(layer int) (vk.ImageView, error) {
	return t.newView(vk.ImageViewType2d, t.aspect, 0, 1, layer, 1)
}

func (t *texture) storageView() (vk.ImageView, error) {
	if t.params.MipLevels <= 1 && t.params.Type != gpu.TextureCube {
		return t.view, nil
	}
	if t.storage != nil {
		return t.storage, nil
	}
	_, viewType := imageType(t.params.Type)
	if t.params.Type == gpu.TextureCube {
		viewType = vk.ImageViewType2dArray
	}
	view, err := t.newView(viewType, t.aspect, 0, 1, 0, t.layers())
	if err != nil {
		return nil, err
	}
	t.storage = view
	return view, nil
}

func (t *texture) sampler(comparison bool) (vk.Sampler, error) {
	i := 0
	if comparison {
		i = 1
	}
	if t.samplers[i] != nil {
		return t.samplers[i], nil
	}
	p := t.params
	info := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    filter(p.MagFilter),
		MinFilter:    filter(p.MinFilter),
		MipmapMode:   mipmapMode(p.MipmapFilter),
		AddressModeU: addressMode(p.WrapS),
		AddressModeV: addressMode(p.WrapT),
		AddressModeW: addressMode(p.WrapR),
		MaxLod:       0.25,
		BorderColor:  vk.BorderColorFloatTransparentBlack,
	}
	if p.MipmapFilter != gputypes.MipmapFilterModeUndefined {
		info.MaxLod = float32(p.MipLevels)
	}
	if comparison {
		info.CompareEnable = vk.True
		info.CompareOp = vk.CompareOpLessOrEqual
	}
	var s vk.Sampler
	if res := vk.CreateSampler(t.b.device, &info, nil, &s); res != vk.Success {
		return nil, vkError("create sampler", res)
	}
	t.samplers[i] = s
	return s, nil
}

// restLayout is the layout the texture is kept in outside of transfers and
// render passes.
func (t *texture) restLayout() vk.ImageLayout {
	u := t.params.Usage
	switch {
	case t.borrowed:
		return vk.ImageLayoutPresentSrc
	case u&gpu.TextureUsageStorage != 0:
		return vk.ImageLayoutGeneral
	case u&gpu.TextureUsageSampled != 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case u&gpu.TextureUsageColorAttachment != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case u&gpu.TextureUsageDepthStencilAttachment != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case u&gpu.TextureUsageTransferSrc != 0:
		return vk.ImageLayoutTransferSrcOptimal
	}
	return vk.ImageLayoutGeneral
}

// transition records a barrier moving every level of t to layout. Reads
// following reads need none.
func (t *texture) transition(cb vk.CommandBuffer, layout vk.ImageLayout, discard bool) {
	if t.layout == layout && (layout == vk.ImageLayoutShaderReadOnlyOptimal || layout == vk.ImageLayoutPresentSrc) {
		return
	}
	imageBarrier(cb, t, t.layout, layout, discard || t.layout == vk.ImageLayoutUndefined, 0, uint32(t.params.MipLevels))
	t.layout = layout
}

// Upload replaces level 0 of every layer. Layers follow each other in data,
// bytesPerRow*height bytes apart.
func (t *texture) Upload(data []byte, bytesPerRow int) error {
	b := t.b
	p := t.params
	bpp := gpu.BytesPerPixel(p.Format)
	if bpp == 0 || bytesPerRow%bpp != 0 {
		return fmt.Errorf("cannot upload %s with %d bytes per row: %w", p.Format, bytesPerRow, core.ErrInvalidArg)
	}
	if b.recording && b.pass != nil && t.pending {
		return fmt.Errorf("upload to a texture used by the current render pass: %w", core.ErrInvalidUsage)
	}
	s, err := b.stage(data)
	if err != nil {
		return err
	}
	defer s.release()
	depth := 1
	if p.Type == gpu.Texture3D {
		depth = max(p.Depth, 1)
	}
	region := vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(s.off),
		BufferRowLength:   uint32(bytesPerRow / bpp),
		BufferImageHeight: uint32(p.Height),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: t.viewAspect(),
			LayerCount: uint32(t.layers()),
		},
		ImageExtent: vk.Extent3D{Width: uint32(p.Width), Height: uint32(p.Height), Depth: uint32(depth)},
	}
	return b.recordTransfer(&t.resource, "texture upload", func(cb vk.CommandBuffer) {
		t.transition(cb, vk.ImageLayoutTransferDstOptimal, true)
		vk.CmdCopyBufferToImage(cb, s.buf, t.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
		t.transition(cb, t.restLayout(), false)
	})
}

// GenerateMipmap fills every level from level 0 with a chain of blits.
func (t *texture) GenerateMipmap() error {
	p := t.params
	if p.MipLevels <= 1 {
		return nil
	}
	b := t.b
	f := vk.FilterLinear
	if !b.formatSupports(t.format, vk.FormatFeatureSampledImageFilterLinearBit) {
		f = vk.FilterNearest
	}
	layers := uint32(t.layers())
	return b.recordTransfer(&t.resource, "mipmap generation", func(cb vk.CommandBuffer) {
		w, h, d := int32(p.Width), int32(p.Height), int32(1)
		if p.Type == gpu.Texture3D {
			d = int32(max(p.Depth, 1))
		}
		imageBarrier(cb, t, t.layout, vk.ImageLayoutTransferSrcOptimal, false, 0, 1)
		imageBarrier(cb, t, t.layout, vk.ImageLayoutTransferDstOptimal, true, 1, uint32(p.MipLevels-1))
		for level := 1; level < p.MipLevels; level++ {
			nw, nh, nd := max(w/2, 1), max(h/2, 1), max(d/2, 1)
			vk.CmdBlitImage(cb, t.image, vk.ImageLayoutTransferSrcOptimal, t.image, vk.ImageLayoutTransferDstOptimal,
				1, []vk.ImageBlit{{
					SrcSubresource: vk.ImageSubresourceLayers{AspectMask: t.aspect, MipLevel: uint32(level - 1), LayerCount: layers},
					SrcOffsets:     [2]vk.Offset3D{{}, {X: w, Y: h, Z: d}},
					DstSubresource: vk.ImageSubresourceLayers{AspectMask: t.aspect, MipLevel: uint32(level), LayerCount: layers},
					DstOffsets:     [2]vk.Offset3D{{}, {X: nw, Y: nh, Z: nd}},
				}}, f)
			imageBarrier(cb, t, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal, false, uint32(level), 1)
			w, h, d = nw, nh, nd
		}
		t.layout = vk.ImageLayoutTransferSrcOptimal
		t.transition(cb, t.restLayout(), false)
	})
}

func (t *texture) Release() {
	d := t.b.device
	for i, s := range t.samplers {
		if s != nil {
			vk.DestroySampler(d, s, nil)
			t.samplers[i] = nil
		}
	}
	if t.storage != nil {
		vk.DestroyImageView(d, t.storage, nil)
		t.storage = nil
	}
	if t.view != nil {
		vk.DestroyImageView(d, t.view, nil)
		t.view = nil
	}
	if t.image != nil && !t.borrowed {
		vk.DestroyImage(d, t.image, nil)
	}
	t.image = nil
	if t.memory != nil {
		vk.FreeMemory(d, t.memory, nil)
		t.memory = nil
	}
}

type attachment struct {
	tex  *texture
	view vk.ImageView
	// resolve is the single-sample texture a multisampled attachment is
	// resolved into at the end of the pass.
	resolve     *texture
	resolveView vk.ImageView
	layer       int

	load  gputypes.LoadOp
	store gputypes.StoreOp
	clear [4]float32

	clearDepth   float32
	clearStencil uint32
}

// target returns the view to render to. Default target attachments have
// no view of their own.
func (a *attachment) target() vk.ImageView {
	if a.view != nil {
		return a.view
	}
	return a.tex.view
}

func (a *attachment) resolveTarget() vk.ImageView {
	if a.resolveView != nil {
		return a.resolveView
	}
	return a.resolve.view
}

type renderTarget struct {
	resource
	width  int
	height int
	colors []attachment
	depth  *attachment

	pass         vk.RenderPass
	framebuffers []vk.Framebuffer
	// shared framebuffers belong to the default targets.
	shared bool
	// presented targets use the framebuffer of the acquired swapchain
	// image.
	presented bool
}

func (b *Backend) CreateRenderTarget(p gpu.RenderTargetParams) (gpu.RenderTargetImpl, error) {
	rt := &renderTarget{resource: resource{b: b}, width: p.Width, height: p.Height}
	for _, c := range p.Colors {
		a := attachment{
			tex:   c.Texture.Impl().(*texture),
			layer: c.Layer,
			load:  c.Load,
			store: c.Store,
			clear: c.Clear,
		}
		var err error
		if a.view, err = a.tex.attachmentView(c.Layer); err != nil {
			rt.Release()
			return nil, err
		}
		if c.Resolve != nil {
			a.resolve = c.Resolve.Impl().(*texture)
			if a.resolveView, err = a.resolve.attachmentView(c.ResolveLayer); err != nil {
				rt.colors = append(rt.colors, a)
				rt.Release()
				return nil, err
			}
		}
		rt.colors = append(rt.colors, a)
	}
	if ds := p.DepthStencil; ds.Texture != nil {
		if ds.Resolve != nil {
			rt.Release()
			return nil, fmt.Errorf("depth stencil resolve is not available: %w", core.ErrUnsupported)
		}
		a := &attachment{
			tex:          ds.Texture.Impl().(*texture),
			load:         ds.Load,
			store:        ds.Store,
			clearDepth:   ds.ClearDepth,
			clearStencil: ds.ClearStencil,
		}
		view, err := a.tex.attachmentView(0)
		if err != nil {
			rt.Release()
			return nil, err
		}
		a.view = view
		rt.depth = a
	}

	pass, err := b.renderPass(rt.passKey())
	if err != nil {
		rt.Release()
		return nil, err
	}
	rt.pass = pass
	fb, err := b.createFramebuffer(pass, rt.views(), rt.width, rt.height)
	if err != nil {
		rt.Release()
		return nil, err
	}
	rt.framebuffers = []vk.Framebuffer{fb}
	return rt, nil
}

func (rt *renderTarget) passKey() passKey {
	k := passKey{nbColors: len(rt.colors), samples: 1}
	for i, a := range rt.colors {
		k.samples = max(a.tex.params.Samples, 1)
		k.colors[i] = passAttachment{
			format:  a.tex.format,
			load:    loadOp(a.load),
			store:   storeOp(a.store),
			resolve: a.resolve != nil,
		}
	}
	if a := rt.depth; a != nil {
		k.samples = max(a.tex.params.Samples, 1)
		k.depth = passAttachment{
			format:  a.tex.format,
			load:    loadOp(a.load),
			store:   storeOp(a.store),
			stencil: a.tex.params.Format.HasStencil(),
		}
	}
	return k
}

// views lists the attachment views in render pass order: colors, resolve
// targets, depth.
func (rt *renderTarget) views() []vk.ImageView {
	var views []vk.ImageView
	for i := range rt.colors {
		views = append(views, rt.colors[i].target())
	}
	for i := range rt.colors {
		if a := &rt.colors[i]; a.resolve != nil {
			views = append(views, a.resolveTarget())
		}
	}
	if rt.depth != nil {
		views = append(views, rt.depth.target())
	}
	return views
}

func (rt *renderTarget) framebuffer() vk.Framebuffer {
	if rt.presented {
		return rt.framebuffers[rt.b.swapchain.index]
	}
	return rt.framebuffers[0]
}

// textures lists every texture the target writes to.
func (rt *renderTarget) textures() []*texture {
	out := make([]*texture, 0, 2*len(rt.colors)+1)
	for i := range rt.colors {
		out = append(out, rt.colors[i].tex)
		if r := rt.colors[i].resolve; r != nil {
			out = append(out, r)
		}
	}
	if rt.depth != nil {
		out = append(out, rt.depth.tex)
	}
	return out
}

func (rt *renderTarget) touchAll() {
	rt.touch()
	for _, t := range rt.textures() {
		t.touch()
	}
}

// InUse also covers the attachments, which may be written by a pass on
// another target sharing them.
func (rt *renderTarget) InUse() bool {
	if rt.resource.InUse() {
		return true
	}
	for _, t := range rt.textures() {
		if t.InUse() {
			return true
		}
	}
	return false
}

func (rt *renderTarget) ReadPixels(dst []byte) error {
	if len(rt.colors) == 0 {
		return fmt.Errorf("render target has no color attachment: %w", core.ErrInvalidUsage)
	}
	a := rt.colors[0]
	src, layer := a.tex, a.layer
	if a.resolve != nil {
		src, layer = a.resolve, 0
	}
	if src.params.Samples > 1 {
		return fmt.Errorf("cannot read back a multisampled attachment without resolve: %w", core.ErrUnsupported)
	}
	if gpu.BytesPerPixel(src.params.Format) != 4 {
		return fmt.Errorf("cannot read back format %s as RGBA8: %w", src.params.Format, core.ErrUnsupported)
	}
	if rt.pending || src.pending {
		if err := rt.b.flush(); err != nil {
			return err
		}
	}
	return rt.b.readTexture(src, layer, rt.width, rt.height, dst)
}

// readTexture copies one layer of t into dst as tightly packed RGBA rows.
func (b *Backend) readTexture(t *texture, layer, width, height int, dst []byte) error {
	staging, err := b.newHostBuffer(uint64(width*height*4), vk.BufferUsageTransferDstBit)
	if err != nil {
		return err
	}
	defer staging.release()
	err = b.submitTransient("read pixels", func(cb vk.CommandBuffer) {
		b.copyToBuffer(cb, t, layer, staging.buf, width, height)
	})
	if err != nil {
		return err
	}
	n := width * height * 4
	copy(dst[:n], staging.bytes())
	if isBGRA(t.params.Format) {
		swapRedBlue(dst[:n])
	}
	return nil
}

// copyToBuffer records the copy of a layer of t into dst and puts t back
// in the layout it was in.
func (b *Backend) copyToBuffer(cb vk.CommandBuffer, t *texture, layer int, dst vk.Buffer, width, height int) {
	prev := t.layout
	if prev == vk.ImageLayoutUndefined {
		prev = t.restLayout()
	}
	t.transition(cb, vk.ImageLayoutTransferSrcOptimal, false)
	vk.CmdCopyImageToBuffer(cb, t.image, vk.ImageLayoutTransferSrcOptimal, dst, 1, []vk.BufferImageCopy{{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseArrayLayer: uint32(layer),
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: uint32(width), Height: uint32(height), Depth: 1},
	}})
	t.transition(cb, prev, false)
}

func isBGRA(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBGRA8Unorm || f == gputypes.TextureFormatBGRA8UnormSrgb
}

func swapRedBlue(px []byte) {
	for i := 0; i+3 < len(px); i += 4 {
		px[i], px[i+2] = px[i+2], px[i]
	}
}

var (
	uintFormats = map[gputypes.TextureFormat]bool{
		gputypes.TextureFormatR8Uint: true, gputypes.TextureFormatRG8Uint: true, gputypes.TextureFormatRGBA8Uint: true,
		gputypes.TextureFormatR16Uint: true, gputypes.TextureFormatRG16Uint: true, gputypes.TextureFormatRGBA16Uint: true,
		gputypes.TextureFormatR32Uint: true, gputypes.TextureFormatRG32Uint: true, gputypes.TextureFormatRGBA32Uint: true,
	}
	sintFormats = map[gputypes.TextureFormat]bool{
		gputypes.TextureFormatR8Sint: true, gputypes.TextureFormatRG8Sint: true, gputypes.TextureFormatRGBA8Sint: true,
		gputypes.TextureFormatR16Sint: true, gputypes.TextureFormatRG16Sint: true, gputypes.TextureFormatRGBA16Sint: true,
		gputypes.TextureFormatR32Sint: true, gputypes.TextureFormatRG32Sint: true, gputypes.TextureFormatRGBA32Sint: true,
	}
)

// colorClear builds the clear value of a color attachment. Integer formats
// read the union as integers.
func colorClear(f gputypes.TextureFormat, c [4]float32) vk.ClearValue {
	var v [4]float32
	switch {
	case uintFormats[f]:
		for i := range c {
			v[i] = stdmath.Float32frombits(uint32(c[i]))
		}
	case sintFormats[f]:
		for i := range c {
			v[i] = stdmath.Float32frombits(uint32(int32(c[i])))
		}
	default:
		v = c
	}
	return vk.NewClearValue(v[:])
}

func (rt *renderTarget) Release() {
	d := rt.b.device
	if !rt.shared {
		for _, fb := range rt.framebuffers {
			vk.DestroyFramebuffer(d, fb, nil)
		}
	}
	rt.framebuffers = nil
	for i := range rt.colors {
		a := &rt.colors[i]
		if a.view != nil {
			vk.DestroyImageView(d, a.view, nil)
			a.view = nil
		}
		if a.resolveView != nil {
			vk.DestroyImageView(d, a.resolveView, nil)
			a.resolveView = nil
		}
	}
	if a := rt.depth; a != nil && a.view != nil {
		vk.DestroyImageView(d, a.view, nil)
		a.view = nil
	}
}

// passAttachment is the part of an attachment a render pass depends on.
type passAttachment struct {
	format  vk.Format
	load    vk.AttachmentLoadOp
	store   vk.AttachmentStoreOp
	resolve bool
	stencil bool
}

// passKey identifies a cached render pass. Passes differing only by load
// and store operations are compatible.
type passKey struct {
	samples  int
	nbColors int
	colors   [gpu.MaxColorAttachments]passAttachment
	depth    passAttachment
}

// descPassKey returns the key of a pass compatible with every target
// described by desc.
func (b *Backend) descPassKey(desc gpu.RenderTargetDesc) (passKey, error) {
	k := passKey{samples: max(desc.Samples, 1), nbColors: desc.NbColors}
	for i := 0; i < desc.NbColors; i++ {
		format, err := b.nativeFormat(desc.Colors[i].Format)
		if err != nil {
			return k, err
		}
		k.colors[i] = passAttachment{
			format:  format,
			load:    vk.AttachmentLoadOpClear,
			store:   vk.AttachmentStoreOpStore,
			resolve: desc.Colors[i].Resolve,
		}
	}
	if f := desc.DepthStencil.Format; f != gputypes.TextureFormatUndefined {
		format, err := b.nativeFormat(f)
		if err != nil {
			return k, err
		}
		k.depth = passAttachment{
			format:  format,
			load:    vk.AttachmentLoadOpClear,
			store:   vk.AttachmentStoreOpStore,
			stencil: f.HasStencil(),
		}
	}
	return k, nil
}

const attachmentUnused = ^uint32(0)

// renderPass returns the cached render pass of key. Attachments stay in
// their attachment layout: the transitions are recorded around the pass.
func (b *Backend) renderPass(key passKey) (vk.RenderPass, error) {
	if pass, ok := b.passes[key]; ok {
		return pass, nil
	}
	samples := sampleCount(key.samples)
	var (
		descs    []vk.AttachmentDescription
		colors   []vk.AttachmentReference
		resolves []vk.AttachmentReference
		resolved bool
	)
	for i := 0; i < key.nbColors; i++ {
		a := key.colors[i]
		colors = append(colors, vk.AttachmentReference{
			Attachment: uint32(len(descs)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		descs = append(descs, vk.AttachmentDescription{
			Format:         a.format,
			Samples:        samples,
			LoadOp:         a.load,
			StoreOp:        a.store,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	for i := 0; i < key.nbColors; i++ {
		a := key.colors[i]
		if !a.resolve {
			resolves = append(resolves, vk.AttachmentReference{Attachment: attachmentUnused})
			continue
		}
		resolved = true
		resolves = append(resolves, vk.AttachmentReference{
			Attachment: uint32(len(descs)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		descs = append(descs, vk.AttachmentDescription{
			Format:         a.format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpDontCare,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colors)),
		PColorAttachments:    colors,
	}
	if resolved {
		subpass.PResolveAttachments = resolves
	}
	if a := key.depth; a.format != vk.FormatUndefined {
		stencilLoad, stencilStore := vk.AttachmentLoadOpDontCare, vk.AttachmentStoreOpDontCare
		if a.stencil {
			stencilLoad, stencilStore = a.load, a.store
		}
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(descs)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		descs = append(descs, vk.AttachmentDescription{
			Format:         a.format,
			Samples:        samples,
			LoadOp:         a.load,
			StoreOp:        a.store,
			StencilLoadOp:  stencilLoad,
			StencilStoreOp: stencilStore,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}
	var pass vk.RenderPass
	res := vk.CreateRenderPass(b.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}, nil, &pass)
	if res != vk.Success {
		return nil, vkError("create render pass", res)
	}
	b.passes[key] = pass
	return pass, nil
}

func (b *Backend) createFramebuffer(pass vk.RenderPass, views []vk.ImageView, width, height int) (vk.Framebuffer, error) {
	var fb vk.Framebuffer
	res := vk.CreateFramebuffer(b.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(width),
		Height:          uint32(height),
		Layers:          1,
	}, nil, &fb)
	if res != vk.Success {
		return nil, vkError("create framebuffer", res)
	}
	return fb, nil
}

type program struct {
	resource
	compiled *shader.Program
	modules  []vk.ShaderModule
}

func (b *Backend) CreateProgram(src shader.Source) (gpu.ProgramImpl, error) {
	opts := shader.DefaultOptions()
	opts.Debug = b.cfg.Debug
	compiled, err := shader.Compile(src, shader.TargetSPIRV, opts)
	if err != nil {
		return nil, err
	}
	p := &program{resource: resource{b: b}, compiled: compiled}
	for i := range compiled.Modules {
		words := compiled.Modules[i].Words()
		var mod vk.ShaderModule
		res := vk.CreateShaderModule(b.device, &vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint64(len(words) * 4),
			PCode:    words,
		}, nil, &mod)
		if res != vk.Success {
			p.Release()
			return nil, fmt.Errorf("%s: %w", src.Label, vkError("create shader module", res))
		}
		p.modules = append(p.modules, mod)
	}
	return p, nil
}

func (p *program) Reflection() *shader.Reflection {
	return &p.compiled.Reflection
}

// stage returns the native module and entry point of stage.
func (p *program) stage(stage gputypes.ShaderStage) (vk.ShaderModule, string) {
	for i, m := range p.compiled.Modules {
		if m.Stage == stage {
			return p.modules[i], m.EntryPoint
		}
	}
	return nil, ""
}

func (p *program) Release() {
	for _, m := range p.modules {
		vk.DestroyShaderModule(p.b.device, m, nil)
	}
	p.modules = nil
}
