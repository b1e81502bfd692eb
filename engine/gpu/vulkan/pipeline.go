package vulkan

import (
	"fmt"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

const (
	poolSets        = 256
	poolDescriptors = 1024
)

var poolTypes = []vk.DescriptorType{
	vk.DescriptorTypeUniformBuffer,
	vk.DescriptorTypeStorageBuffer,
	vk.DescriptorTypeSampledImage,
	vk.DescriptorTypeStorageImage,
	vk.DescriptorTypeSampler,
}

type pipeline struct {
	resource
	id      uint64
	params  gpu.PipelineParams
	groups  [][]shader.Binding
	layouts []vk.DescriptorSetLayout
	layout  vk.PipelineLayout
	handle  vk.Pipeline
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
		err = pl.createCompute(prog)
	} else {
		err = pl.createGraphics(prog)
	}
	if err != nil {
		pl.Release()
		return nil, fmt.Errorf("%s: %w", prog.compiled.Label, err)
	}
	b.pipelines[pl.id] = pl
	return pl, nil
}

// createLayout builds one descriptor set layout per group index of the
// program reflection. Groups without bindings get an empty layout.
func (pl *pipeline) createLayout() error {
	d := pl.b.device
	for _, binding := range pl.params.Reflection.Bindings {
		for int(binding.Group) >= len(pl.groups) {
			pl.groups = append(pl.groups, nil)
		}
		pl.groups[binding.Group] = append(pl.groups[binding.Group], binding)
	}
	for _, bindings := range pl.groups {
		entries := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
		for _, binding := range bindings {
			entries = append(entries, vk.DescriptorSetLayoutBinding{
				Binding:         binding.Binding,
				DescriptorType:  descriptorType(binding.Kind),
				DescriptorCount: 1,
				StageFlags:      shaderStages(binding.Stages),
			})
		}
		var layout vk.DescriptorSetLayout
		res := vk.CreateDescriptorSetLayout(d, &vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(entries)),
			PBindings:    entries,
		}, nil, &layout)
		if res != vk.Success {
			return vkError("create descriptor set layout", res)
		}
		pl.layouts = append(pl.layouts, layout)
	}
	res := vk.CreatePipelineLayout(d, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(pl.layouts)),
		PSetLayouts:    pl.layouts,
	}, nil, &pl.layout)
	if res != vk.Success {
		return vkError("create pipeline layout", res)
	}
	return nil
}

func (pl *pipeline) createCompute(prog *program) error {
	module, entry := prog.stage(gputypes.ShaderStageCompute)
	out := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(pl.b.device, pl.b.pipelineCache, 1, []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  cString(entry),
		},
		Layout: pl.layout,
	}}, nil, out)
	if res != vk.Success {
		return vkError("create compute pipeline", res)
	}
	pl.handle = out[0]
	return nil
}

func (pl *pipeline) createGraphics(prog *program) error {
	b := pl.b
	p := pl.params
	key, err := b.descPassKey(p.RTDesc)
	if err != nil {
		return err
	}
	pass, err := b.renderPass(key)
	if err != nil {
		return err
	}

	var stages []vk.PipelineShaderStageCreateInfo
	for _, s := range []gputypes.ShaderStage{gputypes.ShaderStageVertex, gputypes.ShaderStageFragment} {
		module, entry := prog.stage(s)
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  shaderStage(s),
			Module: module,
			PName:  cString(entry),
		})
	}

	vertexInput, err := vertexInputState(p.VertexBuffers)
	if err != nil {
		return err
	}

	st := p.State
	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(st.ColorMask),
	}
	if st.Blend.Enabled {
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = blendFactor(st.Blend.Color.SrcFactor)
		blend.DstColorBlendFactor = blendFactor(st.Blend.Color.DstFactor)
		blend.ColorBlendOp = blendOp(st.Blend.Color.Operation)
		blend.SrcAlphaBlendFactor = blendFactor(st.Blend.Alpha.SrcFactor)
		blend.DstAlphaBlendFactor = blendFactor(st.Blend.Alpha.DstFactor)
		blend.AlphaBlendOp = blendOp(st.Blend.Alpha.Operation)
	}
	blends := make([]vk.PipelineColorBlendAttachmentState, p.RTDesc.NbColors)
	for i := range blends {
		blends[i] = blend
	}

	dynamic := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateStencilReference,
	}
	out := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(b.device, b.pipelineCache, 1, []vk.GraphicsPipelineCreateInfo{{
		SType:             vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:        uint32(len(stages)),
		PStages:           stages,
		PVertexInputState: vertexInput,
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(p.Topology),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    cullMode(st.Cull),
			FrontFace:   frontFace(p.FrontFace),
			LineWidth:   1,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: sampleCount(max(p.RTDesc.Samples, 1)),
		},
		PDepthStencilState: depthStencilState(st),
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blends)),
			PAttachments:    blends,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:     pl.layout,
		RenderPass: pass,
	}}, nil, out)
	if res != vk.Success {
		return vkError("create graphics pipeline", res)
	}
	pl.handle = out[0]
	return nil
}

func vertexInputState(layouts []gputypes.VertexBufferLayout) (*vk.PipelineVertexInputStateCreateInfo, error) {
	var (
		bindings []vk.VertexInputBindingDescription
		attrs    []vk.VertexInputAttributeDescription
	)
	for i, l := range layouts {
		rate := vk.VertexInputRateVertex
		if l.StepMode == gputypes.VertexStepModeInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding:   uint32(i),
			Stride:    uint32(l.ArrayStride),
			InputRate: rate,
		})
		for _, a := range l.Attributes {
			format, ok := vertexFormat(a.Format)
			if !ok {
				return nil, fmt.Errorf("vertex format %d at location %d: %w", a.Format, a.ShaderLocation, core.ErrUnsupported)
			}
			attrs = append(attrs, vk.VertexInputAttributeDescription{
				Location: a.ShaderLocation,
				Binding:  uint32(i),
				Format:   format,
				Offset:   uint32(a.Offset),
			})
		}
	}
	return &vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}, nil
}

// depthStencilState enables the depth test whenever depth is written:
// Vulkan only writes depth values that went through the test.
func depthStencilState(st state.GraphicsState) *vk.PipelineDepthStencilStateCreateInfo {
	ds := &vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpAlways,
	}
	if st.Depth.Test || st.Depth.Write {
		ds.DepthTestEnable = vk.True
	}
	if st.Depth.Test {
		ds.DepthCompareOp = compareOp(st.Depth.Compare)
	}
	if st.Depth.Write {
		ds.DepthWriteEnable = vk.True
	}
	if s := st.Stencil; s.Test {
		ds.StencilTestEnable = vk.True
		face := vk.StencilOpState{
			FailOp:      stencilOp(s.Fail),
			PassOp:      stencilOp(s.Pass),
			DepthFailOp: stencilOp(s.DepthFail),
			CompareOp:   compareOp(s.Compare),
			CompareMask: s.ReadMask,
			WriteMask:   s.WriteMask,
			Reference:   s.Ref,
		}
		ds.Front, ds.Back = face, face
	}
	return ds
}

// allocateSet takes a descriptor set from the pools of the current slot,
// adding a pool when they are exhausted.
func (b *Backend) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	slot := &b.slots[b.frame]
	for {
		if slot.pool == len(slot.pools) {
			pool, err := b.createDescriptorPool()
			if err != nil {
				return nil, err
			}
			slot.pools = append(slot.pools, pool)
		}
		sets := make([]vk.DescriptorSet, 1)
		res := vk.AllocateDescriptorSets(b.device, &vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     slot.pools[slot.pool],
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}, &sets[0])
		switch res {
		case vk.Success:
			return sets[0], nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			slot.pool++
		default:
			return nil, vkError("allocate descriptor set", res)
		}
	}
}

func (b *Backend) createDescriptorPool() (vk.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(poolTypes))
	for i, t := range poolTypes {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: poolDescriptors}
	}
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(b.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       poolSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if res != vk.Success {
		return nil, vkError("create descriptor pool", res)
	}
	return pool, nil
}

// descriptorSets writes the resources of one draw or dispatch into fresh
// sets. They live until the frame slot is recycled.
func (pl *pipeline) descriptorSets(rb *gpu.ResolvedBindings) ([]vk.DescriptorSet, error) {
	b := pl.b
	sets := make([]vk.DescriptorSet, len(pl.layouts))
	for g, layout := range pl.layouts {
		set, err := b.allocateSet(layout)
		if err != nil {
			return nil, err
		}
		sets[g] = set
	}
	writes := make([]vk.WriteDescriptorSet, 0, len(rb.Buffers)+len(rb.Textures))
	for _, bb := range rb.Buffers {
		buf := bb.Buffer.(*buffer)
		buf.touch()
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[bb.Binding.Group],
			DstBinding:      bb.Binding.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(bb.Binding.Kind),
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: buf.raw.buf,
				Offset: vk.DeviceSize(bb.Offset),
				Range:  vk.DeviceSize(bb.Size),
			}},
		})
	}
	for _, tb := range rb.Textures {
		tex := b.dummy
		if tb.Texture != nil {
			tex = tb.Texture.(*texture)
		}
		tex.touch()
		info := vk.DescriptorImageInfo{}
		switch tb.Binding.Kind {
		case shader.BindingSampler:
			s, err := tex.sampler(tb.Binding.Comparison)
			if err != nil {
				return nil, err
			}
			info.Sampler = s
		case shader.BindingStorageTexture:
			if tb.Texture == nil {
				return nil, fmt.Errorf("storage texture %q is not bound: %w", tb.Binding.Name, core.ErrInvalidUsage)
			}
			view, err := tex.storageView()
			if err != nil {
				return nil, err
			}
			info.ImageView = view
			info.ImageLayout = vk.ImageLayoutGeneral
		default:
			info.ImageView = tex.view
			info.ImageLayout = tex.restLayout()
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          sets[tb.Binding.Group],
			DstBinding:      tb.Binding.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(tb.Binding.Kind),
			PImageInfo:      []vk.DescriptorImageInfo{info},
		})
	}
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(b.device, uint32(len(writes)), writes, 0, nil)
	}
	return sets, nil
}

func (pl *pipeline) prepareDraw(rb *gpu.ResolvedBindings) error {
	b := pl.b
	if b.pass == nil {
		return fmt.Errorf("draw outside of a render pass: %w", core.ErrInvalidUsage)
	}
	sets, err := pl.descriptorSets(rb)
	if err != nil {
		return err
	}
	cb := b.cmd
	b.cache.UseProgram(pl.id)

	st := pl.params.State
	if st.Stencil.Test && st.Stencil.Ref != b.stencil {
		vk.CmdSetStencilReference(cb, vk.StencilFaceFlags(vk.StencilFrontAndBack), st.Stencil.Ref)
		b.stencil = st.Stencil.Ref
	}
	scissor := b.scissor
	if !st.ScissorTest {
		scissor.X, scissor.Y = 0, 0
		scissor.W, scissor.H = b.pass.width, b.pass.height
	}
	b.cache.SetScissor(scissor)

	if len(sets) > 0 {
		vk.CmdBindDescriptorSets(cb, vk.PipelineBindPointGraphics, pl.layout, 0, uint32(len(sets)), sets, 0, nil)
	}
	if n := len(rb.VertexBuffers); n > 0 {
		bufs := make([]vk.Buffer, n)
		offsets := make([]vk.DeviceSize, n)
		for i, vb := range rb.VertexBuffers {
			buf := vb.(*buffer)
			buf.touch()
			bufs[i] = buf.raw.buf
		}
		vk.CmdBindVertexBuffers(cb, 0, uint32(n), bufs, offsets)
	}
	if rb.IndexBuffer != nil {
		buf := rb.IndexBuffer.(*buffer)
		buf.touch()
		vk.CmdBindIndexBuffer(cb, buf.raw.buf, 0, indexType(rb.IndexFormat))
	}
	pl.touch()
	return nil
}

func (pl *pipeline) Draw(rb *gpu.ResolvedBindings, vertices, instances int) error {
	if err := pl.prepareDraw(rb); err != nil {
		return err
	}
	vk.CmdDraw(pl.b.cmd, uint32(vertices), uint32(instances), 0, 0)
	return nil
}

func (pl *pipeline) DrawIndexed(rb *gpu.ResolvedBindings, indices, instances int) error {
	if err := pl.prepareDraw(rb); err != nil {
		return err
	}
	vk.CmdDrawIndexed(pl.b.cmd, uint32(indices), uint32(instances), 0, 0, 0)
	return nil
}

// Dispatch records outside of render passes. Storage images rest in the
// general layout, so only memory needs ordering after the dispatch.
func (pl *pipeline) Dispatch(rb *gpu.ResolvedBindings, x, y, z int) error {
	b := pl.b
	if b.pass != nil {
		return fmt.Errorf("dispatch inside a render pass: %w", core.ErrInvalidUsage)
	}
	sets, err := pl.descriptorSets(rb)
	if err != nil {
		return err
	}
	cb := b.cmd
	vk.CmdBindPipeline(cb, vk.PipelineBindPointCompute, pl.handle)
	if len(sets) > 0 {
		vk.CmdBindDescriptorSets(cb, vk.PipelineBindPointCompute, pl.layout, 0, uint32(len(sets)), sets, 0, nil)
	}
	vk.CmdDispatch(cb, uint32(x), uint32(y), uint32(z))
	computeBarrier(cb)
	pl.touch()
	return nil
}

func (pl *pipeline) Release() {
	d := pl.b.device
	delete(pl.b.pipelines, pl.id)
	if pl.handle != nil {
		vk.DestroyPipeline(d, pl.handle, nil)
		pl.handle = nil
	}
	if pl.layout != nil {
		vk.DestroyPipelineLayout(d, pl.layout, nil)
		pl.layout = nil
	}
	for _, l := range pl.layouts {
		vk.DestroyDescriptorSetLayout(d, l, nil)
	}
	pl.layouts = nil
}
