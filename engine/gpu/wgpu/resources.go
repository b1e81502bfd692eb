package wgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
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

// readMapped maps size bytes of a MapRead buffer and hands them to fn.
func (b *Backend) readMapped(buf hal.Buffer, size uint64, fn func([]byte)) error {
	m, err := b.device.MapBuffer(buf, 0, size)
	if err != nil {
		return halError("map buffer", err)
	}
	fn(unsafe.Slice((*byte)(m.Ptr), size))
	return halError("unmap buffer", b.device.UnmapBuffer(buf))
}

// unpad copies rows of rowSize bytes spaced by pitch into the tightly
// packed dst.
func unpad(dst, src []byte, rowSize int, pitch uint64, rows int) {
	for y := 0; y < rows; y++ {
		off := uint64(y) * pitch
		copy(dst[y*rowSize:(y+1)*rowSize], src[off:off+uint64(rowSize)])
	}
}

type buffer struct {
	resource
	raw  hal.Buffer
	size uint64
}

func (b *Backend) CreateBuffer(p gpu.BufferParams) (gpu.BufferImpl, error) {
	// Mappable buffers cannot carry any other usage in WebGPU. Reads go
	// through a staging copy instead.
	usage := p.Usage &^ (gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite)
	size := alignUp(uint64(p.Size), 4)
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "buffer",
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, halError("create buffer", err)
	}
	return &buffer{resource: resource{b: b}, raw: raw, size: size}, nil
}

func (buf *buffer) Upload(data []byte, offset int) error {
	b := buf.b
	lo := uint64(offset) &^ 3
	hi := alignUp(uint64(offset+len(data)), 4)
	if lo == uint64(offset) && hi == uint64(offset+len(data)) {
		return halError("write buffer", b.queue.WriteBuffer(buf.raw, lo, data))
	}
	// Queue writes must be 4-byte aligned: merge with the current content.
	scratch := make([]byte, hi-lo)
	if err := buf.download(scratch, lo); err != nil {
		return err
	}
	copy(scratch[uint64(offset)-lo:], data)
	return halError("write buffer", b.queue.WriteBuffer(buf.raw, lo, scratch))
}

func (buf *buffer) Download(dst []byte, offset int) error {
	lo := uint64(offset) &^ 3
	hi := alignUp(uint64(offset+len(dst)), 4)
	if lo == uint64(offset) && hi == uint64(offset+len(dst)) {
		return buf.download(dst, lo)
	}
	scratch := make([]byte, hi-lo)
	if err := buf.download(scratch, lo); err != nil {
		return err
	}
	copy(dst, scratch[uint64(offset)-lo:])
	return nil
}

// download reads an aligned range through a staging buffer.
func (buf *buffer) download(dst []byte, offset uint64) error {
	b := buf.b
	if buf.pending {
		if err := b.flush(); err != nil {
			return err
		}
	}
	size := uint64(len(dst))
	staging, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "download staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return halError("create staging buffer", err)
	}
	defer b.device.DestroyBuffer(staging)

	err = b.submitTransient("buffer download", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(buf.raw, staging, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	})
	if err != nil {
		return err
	}
	return b.readMapped(staging, size, func(data []byte) { copy(dst, data) })
}

func (buf *buffer) Release() {
	buf.b.device.DestroyBuffer(buf.raw)
	buf.raw = nil
}

type texture struct {
	resource
	params  gpu.TextureParams
	raw     hal.Texture
	view    hal.TextureView
	storage hal.TextureView
	// samplers holds the filtering and the comparison sampler, created on
	// first use.
	samplers [2]hal.Sampler
	// usage is the state the last recorded barrier left the texture in.
	usage gputypes.TextureUsage
	// borrowed textures belong to the surface.
	borrowed bool
}

func (b *Backend) CreateTexture(p gpu.TextureParams) (gpu.TextureImpl, error) {
	t, err := b.newTexture("texture", p)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *Backend) newTexture(label string, p gpu.TextureParams) (*texture, error) {
	dim, viewDim := textureDimension(p.Type)
	if p.Samples > 1 && p.Usage&gpu.TextureUsageSampled != 0 {
		viewDim = gputypes.TextureViewDimension2D
	}
	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          textureExtent(p),
		MipLevelCount: uint32(max(p.MipLevels, 1)),
		SampleCount:   uint32(max(p.Samples, 1)),
		Dimension:     dim,
		Format:        p.Format,
		Usage:         textureUsage(p),
	})
	if err != nil {
		return nil, halError("create texture", err)
	}
	t := &texture{resource: resource{b: b}, params: p, raw: raw}
	desc := &hal.TextureViewDescriptor{
		Label:           label,
		Format:          p.Format,
		Dimension:       viewDim,
		Aspect:          textureAspect(p.Format),
		MipLevelCount:   uint32(max(p.MipLevels, 1)),
		ArrayLayerCount: textureExtent(p).DepthOrArrayLayers,
	}
	if p.Type == gpu.Texture3D {
		desc.ArrayLayerCount = 1
	}
	t.view, err = b.device.CreateTextureView(raw, desc)
	if err != nil {
		b.device.DestroyTexture(raw)
		return nil, halError("create texture view", err)
	}
	return t, nil
}

// attachmentView returns a single layer, single level view used as a render
// pass attachment.
func (t *texture) attachmentView(layer, level int) (hal.TextureView, error) {
	view, err := t.b.device.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:           "attachment",
		Format:          t.params.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          textureAspect(t.params.Format),
		BaseMipLevel:    uint32(level),
		MipLevelCount:   1,
		BaseArrayLayer:  uint32(layer),
		ArrayLayerCount: 1,
	})
	if err != nil {
		return nil, halError("create attachment view", err)
	}
	return view, nil
}

func (t *texture) sampler(comparison bool) (hal.Sampler, error) {
	i := 0
	if comparison {
		i = 1
	}
	if t.samplers[i] != nil {
		return t.samplers[i], nil
	}
	desc := samplerDescriptor("sampler", t.params)
	if comparison {
		desc.Compare = gputypes.CompareFunctionLessEqual
	}
	s, err := t.b.device.CreateSampler(desc)
	if err != nil {
		return nil, halError("create sampler", err)
	}
	t.samplers[i] = s
	return s, nil
}

func (t *texture) storageView() (hal.TextureView, error) {
	if t.storage != nil {
		return t.storage, nil
	}
	_, viewDim := textureDimension(t.params.Type)
	if t.params.Type == gpu.TextureCube {
		viewDim = gputypes.TextureViewDimension2DArray
	}
	view, err := t.b.device.CreateTextureView(t.raw, &hal.TextureViewDescriptor{
		Label:         "storage",
		Format:        t.params.Format,
		Dimension:     viewDim,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return nil, halError("create storage view", err)
	}
	t.storage = view
	return view, nil
}

// transition records a barrier moving the whole texture to usage.
func (t *texture) transition(enc hal.CommandEncoder, usage gputypes.TextureUsage) {
	if t.usage == usage {
		return
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.raw,
		Range:   hal.TextureRange{Aspect: textureAspect(t.params.Format)},
		Usage:   hal.TextureUsageTransition{OldUsage: t.usage, NewUsage: usage},
	}})
	t.usage = usage
}

func (t *texture) Upload(data []byte, bytesPerRow int) error {
	// Queue writes land before the next submission.
	if t.pending {
		if err := t.b.flush(); err != nil {
			return err
		}
	}
	p := t.params
	extent := textureExtent(p)
	err := t.b.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: t.raw, Aspect: gputypes.TextureAspectAll},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(bytesPerRow), RowsPerImage: uint32(p.Height)},
		&extent,
	)
	if err != nil {
		return halError("write texture", err)
	}
	// Queue uploads leave the texture ready for sampling.
	t.usage = gputypes.TextureUsageTextureBinding
	return nil
}

func (t *texture) GenerateMipmap() error {
	b := t.b
	if b.mipmaps == nil {
		b.mipmaps = newMipmapper(b)
	}
	return b.mipmaps.generate(t)
}

func (t *texture) Release() {
	d := t.b.device
	for i, s := range t.samplers {
		if s != nil {
			d.DestroySampler(s)
			t.samplers[i] = nil
		}
	}
	if t.storage != nil {
		d.DestroyTextureView(t.storage)
		t.storage = nil
	}
	if t.view != nil {
		d.DestroyTextureView(t.view)
		t.view = nil
	}
	if t.raw != nil && !t.borrowed {
		d.DestroyTexture(t.raw)
	}
	t.raw = nil
}

type attachment struct {
	tex  *texture
	view hal.TextureView
	// resolve is the single-sample texture a multisampled attachment is
	// resolved into at the end of the pass.
	resolve     *texture
	resolveView hal.TextureView

	load  gputypes.LoadOp
	store gputypes.StoreOp
	clear gputypes.Color

	clearDepth   float32
	clearStencil uint32
}

// target returns the view to render to. Swapchain attachments have no view
// of their own and follow the image acquired for the frame.
func (a *attachment) target() hal.TextureView {
	if a.view != nil {
		return a.view
	}
	return a.tex.view
}

func (a *attachment) resolveTarget() hal.TextureView {
	if a.resolve == nil {
		return nil
	}
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
}

func (b *Backend) CreateRenderTarget(p gpu.RenderTargetParams) (gpu.RenderTargetImpl, error) {
	rt := &renderTarget{resource: resource{b: b}, width: p.Width, height: p.Height}
	for _, c := range p.Colors {
		a := attachment{
			tex:   c.Texture.Impl().(*texture),
			load:  c.Load,
			store: c.Store,
			clear: gputypes.Color{R: float64(c.Clear[0]), G: float64(c.Clear[1]), B: float64(c.Clear[2]), A: float64(c.Clear[3])},
		}
		var err error
		if a.view, err = a.tex.attachmentView(c.Layer, 0); err != nil {
			rt.Release()
			return nil, err
		}
		if c.Resolve != nil {
			a.resolve = c.Resolve.Impl().(*texture)
			if a.resolveView, err = a.resolve.attachmentView(c.ResolveLayer, 0); err != nil {
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
		view, err := a.tex.attachmentView(0, 0)
		if err != nil {
			rt.Release()
			return nil, err
		}
		a.view = view
		rt.depth = a
	}
	return rt, nil
}

func (rt *renderTarget) attachments() []*attachment {
	out := make([]*attachment, 0, len(rt.colors)+1)
	for i := range rt.colors {
		out = append(out, &rt.colors[i])
	}
	if rt.depth != nil {
		out = append(out, rt.depth)
	}
	return out
}

func (rt *renderTarget) touchAll() {
	rt.touch()
	for _, a := range rt.attachments() {
		a.tex.touch()
		if a.resolve != nil {
			a.resolve.touch()
		}
	}
}

// InUse also covers the attachments, which may be written by a pass on
// another target sharing them.
func (rt *renderTarget) InUse() bool {
	if rt.resource.InUse() {
		return true
	}
	for _, a := range rt.attachments() {
		if a.tex.InUse() || (a.resolve != nil && a.resolve.InUse()) {
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
	src := a.tex
	if a.resolve != nil {
		src = a.resolve
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
	return rt.b.readTexture(src, rt.width, rt.height, dst)
}

// readTexture copies the first layer of t into dst as tightly packed rows.
func (b *Backend) readTexture(t *texture, width, height int, dst []byte) error {
	pitch := b.rowPitch(width)
	size := pitch * uint64(height)
	staging, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "readback staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return halError("create staging buffer", err)
	}
	defer b.device.DestroyBuffer(staging)

	err = b.submitTransient("read pixels", func(enc hal.CommandEncoder) {
		b.copyToReadback(enc, t, staging, pitch, width, height)
	})
	if err != nil {
		return err
	}
	return b.readMapped(staging, size, func(data []byte) {
		unpad(dst, data, width*4, pitch, height)
	})
}

// copyToReadback records the copy of t into a row-padded staging buffer and
// puts t back in the state it was in.
func (b *Backend) copyToReadback(enc hal.CommandEncoder, t *texture, dst hal.Buffer, pitch uint64, width, height int) {
	prev := t.usage
	t.transition(enc, gputypes.TextureUsageCopySrc)
	enc.CopyTextureToBuffer(t.raw, dst, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{BytesPerRow: uint32(pitch), RowsPerImage: uint32(height)},
		TextureBase:  hal.ImageCopyTexture{Texture: t.raw, Aspect: gputypes.TextureAspectAll},
		Size:         hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
	}})
	if prev != 0 {
		t.transition(enc, prev)
	}
}

func (rt *renderTarget) Release() {
	d := rt.b.device
	for _, a := range rt.attachments() {
		if a.view != nil {
			d.DestroyTextureView(a.view)
			a.view = nil
		}
		if a.resolveView != nil {
			d.DestroyTextureView(a.resolveView)
			a.resolveView = nil
		}
	}
}

type program struct {
	resource
	compiled *shader.Program
	modules  []hal.ShaderModule
}

func (b *Backend) CreateProgram(src shader.Source) (gpu.ProgramImpl, error) {
	opts := shader.DefaultOptions()
	opts.Debug = b.cfg.Debug
	compiled, err := shader.Compile(src, shader.TargetWGSL, opts)
	if err != nil {
		return nil, err
	}
	p := &program{resource: resource{b: b}, compiled: compiled}
	for _, m := range compiled.Modules {
		mod, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  src.Label,
			Source: hal.ShaderSource{WGSL: m.WGSL},
		})
		if err != nil {
			p.Release()
			return nil, halError("create shader module", err)
		}
		p.modules = append(p.modules, mod)
	}
	return p, nil
}

func (p *program) Reflection() *shader.Reflection {
	return &p.compiled.Reflection
}

// stage returns the native module and entry point of stage.
func (p *program) stage(stage gputypes.ShaderStage) (hal.ShaderModule, string) {
	for i, m := range p.compiled.Modules {
		if m.Stage == stage {
			return p.modules[i], m.EntryPoint
		}
	}
	return nil, ""
}

func (p *program) Release() {
	for _, m := range p.modules {
		p.b.device.DestroyShaderModule(m)
	}
	p.modules = nil
}

type pipeline struct {
	resource
	id      uint64
	params  gpu.PipelineParams
	groups  [][]shader.Binding
	layouts []hal.BindGroupLayout
	layout  hal.PipelineLayout
	render  hal.RenderPipeline
	compute hal.ComputePipeline
}

func (b *Backend) CreatePipeline(p gpu.PipelineParams) (gpu.PipelineImpl, error) {
	b.nextID++
	pl := &pipeline{resource: resource{b: b}, id: b.nextID, params: p}
	if err := pl.createLayout(); err != nil {
		pl.Release()
		return nil, err
	}
	prog := p.Program.(*program)
	var err error
	if p.Type == gpu.PipelineCompute {
		module, entry := prog.stage(gputypes.ShaderStageCompute)
		pl.compute, err = b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   prog.compiled.Label,
			Layout:  pl.layout,
			Compute: hal.ComputeState{Module: module, EntryPoint: entry},
		})
	} else {
		pl.render, err = b.device.CreateRenderPipeline(pl.renderDescriptor(prog))
	}
	if err != nil {
		pl.Release()
		return nil, halError("create pipeline", err)
	}
	b.pipelines[pl.id] = pl
	return pl, nil
}

// createLayout builds one bind group layout per group index from the
// program reflection. Bindings are sorted by group.
func (pl *pipeline) createLayout() error {
	d := pl.b.device
	for _, binding := range pl.params.Reflection.Bindings {
		for int(binding.Group) >= len(pl.groups) {
			pl.groups = append(pl.groups, nil)
		}
		pl.groups[binding.Group] = append(pl.groups[binding.Group], binding)
	}
	for g, bindings := range pl.groups {
		entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
		for _, binding := range bindings {
			entries = append(entries, layoutEntry(binding))
		}
		layout, err := d.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("group %d", g),
			Entries: entries,
		})
		if err != nil {
			return halError("create bind group layout", err)
		}
		pl.layouts = append(pl.layouts, layout)
	}
	layout, err := d.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "pipeline layout",
		BindGroupLayouts: pl.layouts,
	})
	if err != nil {
		return halError("create pipeline layout", err)
	}
	pl.layout = layout
	return nil
}

func (pl *pipeline) renderDescriptor(prog *program) *hal.RenderPipelineDescriptor {
	p := pl.params
	vs, vsEntry := prog.stage(gputypes.ShaderStageVertex)
	fs, fsEntry := prog.stage(gputypes.ShaderStageFragment)
	targets := make([]gputypes.ColorTargetState, p.RTDesc.NbColors)
	for i := range targets {
		targets[i] = gputypes.ColorTargetState{
			Format:    p.RTDesc.Colors[i].Format,
			Blend:     p.State.Blend.BlendState(),
			WriteMask: p.State.ColorMask,
		}
	}
	return &hal.RenderPipelineDescriptor{
		Label:  prog.compiled.Label,
		Layout: pl.layout,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: vsEntry,
			Buffers:    p.VertexBuffers,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  p.Topology,
			FrontFace: p.FrontFace,
			CullMode:  p.State.Cull,
		},
		DepthStencil: depthStencilState(p.State, p.RTDesc.DepthStencil.Format),
		Multisample: gputypes.MultisampleState{
			Count: uint32(max(p.RTDesc.Samples, 1)),
			Mask:  0xFFFFFFFF,
		},
		Fragment: &hal.FragmentState{
			Module:     fs,
			EntryPoint: fsEntry,
			Targets:    targets,
		},
	}
}

// bindGroups creates the bind groups of one draw or dispatch. They live
// until the frame slot is recycled.
func (pl *pipeline) bindGroups(rb *gpu.ResolvedBindings) ([]hal.BindGroup, error) {
	b := pl.b
	entries := make([][]gputypes.BindGroupEntry, len(pl.groups))
	for _, bb := range rb.Buffers {
		buf := bb.Buffer.(*buffer)
		buf.touch()
		entries[bb.Binding.Group] = append(entries[bb.Binding.Group], gputypes.BindGroupEntry{
			Binding: bb.Binding.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.raw.NativeHandle(),
				Offset: uint64(bb.Offset),
				Size:   uint64(bb.Size),
			},
		})
	}
	for _, tb := range rb.Textures {
		tex := b.dummy
		if tb.Texture != nil {
			tex = tb.Texture.(*texture)
		}
		tex.touch()
		var res gputypes.BindingResource
		switch tb.Binding.Kind {
		case shader.BindingSampler:
			s, err := tex.sampler(tb.Binding.Comparison)
			if err != nil {
				return nil, err
			}
			res = gputypes.SamplerBinding{Sampler: s.NativeHandle()}
		case shader.BindingStorageTexture:
			if tb.Texture == nil {
				return nil, fmt.Errorf("storage texture %q is not bound: %w", tb.Binding.Name, core.ErrInvalidUsage)
			}
			view, err := tex.storageView()
			if err != nil {
				return nil, err
			}
			res = gputypes.TextureViewBinding{TextureView: view.NativeHandle()}
		default:
			res = gputypes.TextureViewBinding{TextureView: tex.view.NativeHandle()}
		}
		entries[tb.Binding.Group] = append(entries[tb.Binding.Group], gputypes.BindGroupEntry{
			Binding:  tb.Binding.Binding,
			Resource: res,
		})
	}

	slot := &b.slots[b.frame]
	groups := make([]hal.BindGroup, len(pl.groups))
	for g := range pl.groups {
		group, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("group %d", g),
			Layout:  pl.layouts[g],
			Entries: entries[g],
		})
		if err != nil {
			return nil, halError("create bind group", err)
		}
		slot.bindGroups = append(slot.bindGroups, group)
		groups[g] = group
	}
	return groups, nil
}

func (pl *pipeline) prepareDraw(rb *gpu.ResolvedBindings) error {
	b := pl.b
	groups, err := pl.bindGroups(rb)
	if err != nil {
		return err
	}
	b.cache.UseProgram(pl.id)

	st := pl.params.State
	if st.Stencil.Test && st.Stencil.Ref != b.stencil {
		b.pass.SetStencilReference(st.Stencil.Ref)
		b.stencil = st.Stencil.Ref
	}
	// Render pipelines have no scissor switch: a disabled test is a scissor
	// covering the whole target.
	scissor := b.scissor
	if !st.ScissorTest {
		scissor.X, scissor.Y = 0, 0
		scissor.W, scissor.H = b.passRT.width, b.passRT.height
	}
	b.cache.SetScissor(scissor)

	for g, group := range groups {
		b.pass.SetBindGroup(uint32(g), group, nil)
	}
	for i, vb := range rb.VertexBuffers {
		buf := vb.(*buffer)
		buf.touch()
		b.pass.SetVertexBuffer(uint32(i), buf.raw, 0)
	}
	if rb.IndexBuffer != nil {
		buf := rb.IndexBuffer.(*buffer)
		buf.touch()
		b.pass.SetIndexBuffer(buf.raw, rb.IndexFormat, 0)
	}
	pl.touch()
	return nil
}

func (pl *pipeline) Draw(rb *gpu.ResolvedBindings, vertices, instances int) error {
	if err := pl.prepareDraw(rb); err != nil {
		return err
	}
	pl.b.pass.Draw(uint32(vertices), uint32(instances), 0, 0)
	return nil
}

func (pl *pipeline) DrawIndexed(rb *gpu.ResolvedBindings, indices, instances int) error {
	if err := pl.prepareDraw(rb); err != nil {
		return err
	}
	pl.b.pass.DrawIndexed(uint32(indices), uint32(instances), 0, 0, 0)
	return nil
}

func (pl *pipeline) Dispatch(rb *gpu.ResolvedBindings, x, y, z int) error {
	b := pl.b
	groups, err := pl.bindGroups(rb)
	if err != nil {
		return err
	}
	for _, tb := range rb.Textures {
		if tb.Texture == nil {
			continue
		}
		tex := tb.Texture.(*texture)
		switch tb.Binding.Kind {
		case shader.BindingStorageTexture:
			tex.transition(b.encoder, gputypes.TextureUsageStorageBinding)
		case shader.BindingTexture:
			tex.transition(b.encoder, gputypes.TextureUsageTextureBinding)
		}
	}
	cp := b.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "dispatch"})
	cp.SetPipeline(pl.compute)
	for g, group := range groups {
		cp.SetBindGroup(uint32(g), group, nil)
	}
	cp.Dispatch(uint32(x), uint32(y), uint32(z))
	cp.End()
	for _, tb := range rb.Textures {
		if tb.Texture != nil && tb.Binding.Kind == shader.BindingStorageTexture && tb.Params.Usage&gpu.TextureUsageSampled != 0 {
			tb.Texture.(*texture).transition(b.encoder, gputypes.TextureUsageTextureBinding)
		}
	}
	pl.touch()
	return nil
}

func (pl *pipeline) Release() {
	d := pl.b.device
	delete(pl.b.pipelines, pl.id)
	if pl.render != nil {
		d.DestroyRenderPipeline(pl.render)
	}
	if pl.compute != nil {
		d.DestroyComputePipeline(pl.compute)
	}
	if pl.layout != nil {
		d.DestroyPipelineLayout(pl.layout)
	}
	for _, l := range pl.layouts {
		d.DestroyBindGroupLayout(l)
	}
	pl.layouts = nil
}
