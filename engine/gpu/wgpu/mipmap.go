package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

const blitWGSL = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> VertexOutput {
    let uv = vec2<f32>(f32((index << 1u) & 2u), f32(index & 2u));
    var out: VertexOutput;
    out.position = vec4<f32>(uv * vec2<f32>(2.0, -2.0) + vec2<f32>(-1.0, 1.0), 0.0, 1.0);
    out.uv = uv;
    return out;
}

@group(0) @binding(0) var src: texture_2d<f32>;
@group(0) @binding(1) var src_sampler: sampler;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(src, src_sampler, in.uv);
}
`

// mipmapper fills the levels of a texture by drawing each level from the
// previous one with a linear filter.
type mipmapper struct {
	b         *Backend
	module    hal.ShaderModule
	sampler   hal.Sampler
	group     hal.BindGroupLayout
	layout    hal.PipelineLayout
	pipelines map[gputypes.TextureFormat]hal.RenderPipeline
}

func newMipmapper(b *Backend) *mipmapper {
	return &mipmapper{b: b, pipelines: make(map[gputypes.TextureFormat]hal.RenderPipeline)}
}

func (m *mipmapper) init() error {
	if m.module != nil {
		return nil
	}
	d := m.b.device
	module, err := d.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "mipmap blit",
		Source: hal.ShaderSource{WGSL: blitWGSL},
	})
	if err != nil {
		return halError("create mipmap shader", err)
	}
	m.module = module
	m.sampler, err = d.CreateSampler(&hal.SamplerDescriptor{
		Label:        "mipmap",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  32,
		Anisotropy:   1,
	})
	if err != nil {
		return halError("create mipmap sampler", err)
	}
	m.group, err = d.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "mipmap",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return halError("create mipmap bind group layout", err)
	}
	m.layout, err = d.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "mipmap",
		BindGroupLayouts: []hal.BindGroupLayout{m.group},
	})
	return halError("create mipmap pipeline layout", err)
}

func (m *mipmapper) pipeline(format gputypes.TextureFormat) (hal.RenderPipeline, error) {
	if p, ok := m.pipelines[format]; ok {
		return p, nil
	}
	p, err := m.b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "mipmap " + format.String(),
		Layout: m.layout,
		Vertex: hal.VertexState{Module: m.module, EntryPoint: "vs_main"},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
		Fragment: &hal.FragmentState{
			Module:     m.module,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{
				Format:    format,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return nil, halError("create mipmap pipeline", err)
	}
	m.pipelines[format] = p
	return p, nil
}

func (m *mipmapper) generate(t *texture) error {
	p := t.params
	if p.Type == gpu.Texture3D || p.Format.IsDepthStencil() {
		return fmt.Errorf("mipmap generation of %s textures: %w", p.Format, core.ErrUnsupported)
	}
	// Level 0 may be written by the frame being recorded.
	if t.pending {
		if err := m.b.flush(); err != nil {
			return err
		}
	}
	if err := m.init(); err != nil {
		return err
	}
	pipeline, err := m.pipeline(p.Format)
	if err != nil {
		return err
	}

	d := m.b.device
	var views []hal.TextureView
	var groups []hal.BindGroup
	defer func() {
		for _, g := range groups {
			d.DestroyBindGroup(g)
		}
		for _, v := range views {
			d.DestroyTextureView(v)
		}
	}()
	view := func(layer, level int) (hal.TextureView, error) {
		v, err := t.attachmentView(layer, level)
		if err == nil {
			views = append(views, v)
		}
		return v, err
	}

	type blit struct {
		level int
		layer int
		group hal.BindGroup
		dst   hal.TextureView
	}
	var blits []blit
	for layer := 0; layer < p.Layers(); layer++ {
		for level := 1; level < p.MipLevels; level++ {
			src, err := view(layer, level-1)
			if err != nil {
				return err
			}
			dst, err := view(layer, level)
			if err != nil {
				return err
			}
			group, err := d.CreateBindGroup(&hal.BindGroupDescriptor{
				Label:  "mipmap",
				Layout: m.group,
				Entries: []gputypes.BindGroupEntry{
					{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: src.NativeHandle()}},
					{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: m.sampler.NativeHandle()}},
				},
			})
			if err != nil {
				return halError("create mipmap bind group", err)
			}
			groups = append(groups, group)
			blits = append(blits, blit{level: level, layer: layer, group: group, dst: dst})
		}
	}

	aspect := textureAspect(p.Format)
	barrier := func(enc hal.CommandEncoder, layer, level int, from, to gputypes.TextureUsage) {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.raw,
			Range: hal.TextureRange{
				Aspect:          aspect,
				BaseMipLevel:    uint32(level),
				MipLevelCount:   1,
				BaseArrayLayer:  uint32(layer),
				ArrayLayerCount: 1,
			},
			Usage: hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
		}})
	}
	return m.b.submitTransient("generate mipmap", func(enc hal.CommandEncoder) {
		t.transition(enc, gputypes.TextureUsageTextureBinding)
		for _, bl := range blits {
			barrier(enc, bl.layer, bl.level, gputypes.TextureUsageTextureBinding, gputypes.TextureUsageRenderAttachment)
			pass := enc.BeginRenderPass(&hal.RenderPassDescriptor{
				Label: fmt.Sprintf("mipmap level %d", bl.level),
				ColorAttachments: []hal.RenderPassColorAttachment{{
					View:    bl.dst,
					LoadOp:  gputypes.LoadOpClear,
					StoreOp: gputypes.StoreOpStore,
				}},
			})
			pass.SetPipeline(pipeline)
			pass.SetBindGroup(0, bl.group, nil)
			pass.Draw(3, 1, 0, 0)
			pass.End()
			barrier(enc, bl.layer, bl.level, gputypes.TextureUsageRenderAttachment, gputypes.TextureUsageTextureBinding)
		}
	})
}

func (m *mipmapper) release() {
	d := m.b.device
	for _, p := range m.pipelines {
		d.DestroyRenderPipeline(p)
	}
	m.pipelines = nil
	if m.layout != nil {
		d.DestroyPipelineLayout(m.layout)
	}
	if m.group != nil {
		d.DestroyBindGroupLayout(m.group)
	}
	if m.sampler != nil {
		d.DestroySampler(m.sampler)
	}
	if m.module != nil {
		d.DestroyShaderModule(m.module)
	}
}
