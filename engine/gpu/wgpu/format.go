package wgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

// copyPitchAlignment is the WebGPU row alignment of texture <-> buffer
// copies. Adapters may report a smaller one.
const copyPitchAlignment = 256

func alignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func textureUsage(p gpu.TextureParams) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if p.Usage&gpu.TextureUsageTransferSrc != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	if p.Usage&gpu.TextureUsageTransferDst != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if p.Usage&gpu.TextureUsageSampled != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if p.Usage&gpu.TextureUsageStorage != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if p.Usage&(gpu.TextureUsageColorAttachment|gpu.TextureUsageDepthStencilAttachment) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	// Mipmaps are generated by rendering each level from the previous one.
	if p.MipLevels > 1 {
		u |= gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding
	}
	return u
}

func textureDimension(t gpu.TextureType) (gputypes.TextureDimension, gputypes.TextureViewDimension) {
	switch t {
	case gpu.Texture2DArray:
		return gputypes.TextureDimension2D, gputypes.TextureViewDimension2DArray
	case gpu.Texture3D:
		return gputypes.TextureDimension3D, gputypes.TextureViewDimension3D
	case gpu.TextureCube:
		return gputypes.TextureDimension2D, gputypes.TextureViewDimensionCube
	}
	return gputypes.TextureDimension2D, gputypes.TextureViewDimension2D
}

func textureExtent(p gpu.TextureParams) hal.Extent3D {
	layers := p.Layers()
	if p.Type == gpu.Texture3D {
		layers = p.Depth
	}
	return hal.Extent3D{
		Width:              uint32(p.Width),
		Height:             uint32(p.Height),
		DepthOrArrayLayers: uint32(layers),
	}
}

func textureAspect(f gputypes.TextureFormat) gputypes.TextureAspect {
	switch {
	case f.HasDepth() && f.HasStencil():
		return gputypes.TextureAspectAll
	case f.HasDepth():
		return gputypes.TextureAspectDepthOnly
	case f.HasStencil():
		return gputypes.TextureAspectStencilOnly
	}
	return gputypes.TextureAspectAll
}

func samplerDescriptor(label string, p gpu.TextureParams) *hal.SamplerDescriptor {
	desc := &hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: addressMode(p.WrapS),
		AddressModeV: addressMode(p.WrapT),
		AddressModeW: addressMode(p.WrapR),
		MagFilter:    filterMode(p.MagFilter),
		MinFilter:    filterMode(p.MinFilter),
		MipmapFilter: gputypes.FilterModeNearest,
		LodMaxClamp:  float32(max(p.MipLevels, 1)),
		Anisotropy:   1,
	}
	if p.MipmapFilter == gputypes.MipmapFilterModeLinear {
		desc.MipmapFilter = gputypes.FilterModeLinear
	}
	return desc
}

func addressMode(m gputypes.AddressMode) gputypes.AddressMode {
	if m == gputypes.AddressModeUndefined {
		return gputypes.AddressModeClampToEdge
	}
	return m
}

func filterMode(m gputypes.FilterMode) gputypes.FilterMode {
	if m == gputypes.FilterModeUndefined {
		return gputypes.FilterModeNearest
	}
	return m
}

func stencilOperation(op gputypes.StencilOperation) hal.StencilOperation {
	switch op {
	case gputypes.StencilOperationZero:
		return hal.StencilOperationZero
	case gputypes.StencilOperationReplace:
		return hal.StencilOperationReplace
	case gputypes.StencilOperationInvert:
		return hal.StencilOperationInvert
	case gputypes.StencilOperationIncrementClamp:
		return hal.StencilOperationIncrementClamp
	case gputypes.StencilOperationDecrementClamp:
		return hal.StencilOperationDecrementClamp
	case gputypes.StencilOperationIncrementWrap:
		return hal.StencilOperationIncrementWrap
	case gputypes.StencilOperationDecrementWrap:
		return hal.StencilOperationDecrementWrap
	}
	return hal.StencilOperationKeep
}

func stencilFace(f gputypes.StencilFaceState) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     f.Compare,
		FailOp:      stencilOperation(f.FailOp),
		DepthFailOp: stencilOperation(f.DepthFailOp),
		PassOp:      stencilOperation(f.PassOp),
	}
}

// depthStencilState converts the shared description of s for format. It
// returns nil for targets without a depth-stencil attachment.
func depthStencilState(s state.GraphicsState, format gputypes.TextureFormat) *hal.DepthStencilState {
	ds := s.DepthStencilState(format)
	if ds == nil {
		return nil
	}
	return &hal.DepthStencilState{
		Format:            ds.Format,
		DepthWriteEnabled: ds.DepthWriteEnabled,
		DepthCompare:      ds.DepthCompare,
		StencilFront:      stencilFace(ds.StencilFront),
		StencilBack:       stencilFace(ds.StencilBack),
		StencilReadMask:   ds.StencilReadMask,
		StencilWriteMask:  ds.StencilWriteMask,
	}
}

// layoutEntry describes one reflected binding in a bind group layout.
func layoutEntry(b shader.Binding) gputypes.BindGroupLayoutEntry {
	e := gputypes.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: b.Stages,
	}
	switch b.Kind {
	case shader.BindingUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{
			Type:           gputypes.BufferBindingTypeUniform,
			MinBindingSize: uint64(b.Size),
		}
	case shader.BindingStorageBuffer:
		typ := gputypes.BufferBindingTypeStorage
		if b.ReadOnly {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		e.Buffer = &gputypes.BufferBindingLayout{Type: typ, MinBindingSize: uint64(b.Size)}
	case shader.BindingTexture:
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    b.SampleType,
			ViewDimension: b.Dimension,
			Multisampled:  b.Multisampled,
		}
	case shader.BindingStorageTexture:
		access := gputypes.StorageTextureAccessWriteOnly
		if b.ReadOnly {
			access = gputypes.StorageTextureAccessReadOnly
		}
		e.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        access,
			Format:        b.Format,
			ViewDimension: b.Dimension,
		}
	case shader.BindingSampler:
		typ := gputypes.SamplerBindingTypeFiltering
		if b.Comparison {
			typ = gputypes.SamplerBindingTypeComparison
		}
		e.Sampler = &gputypes.SamplerBindingLayout{Type: typ}
	}
	return e
}
