package vulkan

import (
	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

var textureFormats = map[gputypes.TextureFormat]vk.Format{
	gputypes.TextureFormatR8Unorm:              vk.FormatR8Unorm,
	gputypes.TextureFormatR8Snorm:              vk.FormatR8Snorm,
	gputypes.TextureFormatR8Uint:               vk.FormatR8Uint,
	gputypes.TextureFormatR8Sint:               vk.FormatR8Sint,
	gputypes.TextureFormatR16Unorm:             vk.FormatR16Unorm,
	gputypes.TextureFormatR16Uint:              vk.FormatR16Uint,
	gputypes.TextureFormatR16Sint:              vk.FormatR16Sint,
	gputypes.TextureFormatR16Float:             vk.FormatR16Sfloat,
	gputypes.TextureFormatRG8Unorm:             vk.FormatR8g8Unorm,
	gputypes.TextureFormatRG8Snorm:             vk.FormatR8g8Snorm,
	gputypes.TextureFormatRG8Uint:              vk.FormatR8g8Uint,
	gputypes.TextureFormatRG8Sint:              vk.FormatR8g8Sint,
	gputypes.TextureFormatR32Uint:              vk.FormatR32Uint,
	gputypes.TextureFormatR32Sint:              vk.FormatR32Sint,
	gputypes.TextureFormatR32Float:             vk.FormatR32Sfloat,
	gputypes.TextureFormatRG16Unorm:            vk.FormatR16g16Unorm,
	gputypes.TextureFormatRG16Uint:             vk.FormatR16g16Uint,
	gputypes.TextureFormatRG16Sint:             vk.FormatR16g16Sint,
	gputypes.TextureFormatRG16Float:            vk.FormatR16g16Sfloat,
	gputypes.TextureFormatRGBA8Unorm:           vk.FormatR8g8b8a8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb:       vk.FormatR8g8b8a8Srgb,
	gputypes.TextureFormatRGBA8Snorm:           vk.FormatR8g8b8a8Snorm,
	gputypes.TextureFormatRGBA8Uint:            vk.FormatR8g8b8a8Uint,
	gputypes.TextureFormatRGBA8Sint:            vk.FormatR8g8b8a8Sint,
	gputypes.TextureFormatBGRA8Unorm:           vk.FormatB8g8r8a8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb:       vk.FormatB8g8r8a8Srgb,
	gputypes.TextureFormatRGB10A2Unorm:         vk.FormatA2b10g10r10UnormPack32,
	gputypes.TextureFormatRG11B10Ufloat:        vk.FormatB10g11r11UfloatPack32,
	gputypes.TextureFormatRG32Uint:             vk.FormatR32g32Uint,
	gputypes.TextureFormatRG32Sint:             vk.FormatR32g32Sint,
	gputypes.TextureFormatRG32Float:            vk.FormatR32g32Sfloat,
	gputypes.TextureFormatRGBA16Unorm:          vk.FormatR16g16b16a16Unorm,
	gputypes.TextureFormatRGBA16Uint:           vk.FormatR16g16b16a16Uint,
	gputypes.TextureFormatRGBA16Sint:           vk.FormatR16g16b16a16Sint,
	gputypes.TextureFormatRGBA16Float:          vk.FormatR16g16b16a16Sfloat,
	gputypes.TextureFormatRGBA32Uint:           vk.FormatR32g32b32a32Uint,
	gputypes.TextureFormatRGBA32Sint:           vk.FormatR32g32b32a32Sint,
	gputypes.TextureFormatRGBA32Float:          vk.FormatR32g32b32a32Sfloat,
	gputypes.TextureFormatStencil8:             vk.FormatS8Uint,
	gputypes.TextureFormatDepth16Unorm:         vk.FormatD16Unorm,
	gputypes.TextureFormatDepth24Plus:          vk.FormatX8D24UnormPack32,
	gputypes.TextureFormatDepth24PlusStencil8:  vk.FormatD24UnormS8Uint,
	gputypes.TextureFormatDepth32Float:         vk.FormatD32Sfloat,
	gputypes.TextureFormatDepth32FloatStencil8: vk.FormatD32SfloatS8Uint,
}

func textureFormat(f gputypes.TextureFormat) (vk.Format, bool) {
	vf, ok := textureFormats[f]
	return vf, ok
}

var vertexFormats = map[gputypes.VertexFormat]vk.Format{
	gputypes.VertexFormatUint8x2:      vk.FormatR8g8Uint,
	gputypes.VertexFormatUint8x4:      vk.FormatR8g8b8a8Uint,
	gputypes.VertexFormatSint8x2:      vk.FormatR8g8Sint,
	gputypes.VertexFormatSint8x4:      vk.FormatR8g8b8a8Sint,
	gputypes.VertexFormatUnorm8x2:     vk.FormatR8g8Unorm,
	gputypes.VertexFormatUnorm8x4:     vk.FormatR8g8b8a8Unorm,
	gputypes.VertexFormatSnorm8x2:     vk.FormatR8g8Snorm,
	gputypes.VertexFormatSnorm8x4:     vk.FormatR8g8b8a8Snorm,
	gputypes.VertexFormatUint16x2:     vk.FormatR16g16Uint,
	gputypes.VertexFormatUint16x4:     vk.FormatR16g16b16a16Uint,
	gputypes.VertexFormatSint16x2:     vk.FormatR16g16Sint,
	gputypes.VertexFormatSint16x4:     vk.FormatR16g16b16a16Sint,
	gputypes.VertexFormatUnorm16x2:    vk.FormatR16g16Unorm,
	gputypes.VertexFormatUnorm16x4:    vk.FormatR16g16b16a16Unorm,
	gputypes.VertexFormatSnorm16x2:    vk.FormatR16g16Snorm,
	gputypes.VertexFormatSnorm16x4:    vk.FormatR16g16b16a16Snorm,
	gputypes.VertexFormatFloat16x2:    vk.FormatR16g16Sfloat,
	gputypes.VertexFormatFloat16x4:    vk.FormatR16g16b16a16Sfloat,
	gputypes.VertexFormatFloat32:      vk.FormatR32Sfloat,
	gputypes.VertexFormatFloat32x2:    vk.FormatR32g32Sfloat,
	gputypes.VertexFormatFloat32x3:    vk.FormatR32g32b32Sfloat,
	gputypes.VertexFormatFloat32x4:    vk.FormatR32g32b32a32Sfloat,
	gputypes.VertexFormatUint32:       vk.FormatR32Uint,
	gputypes.VertexFormatUint32x2:     vk.FormatR32g32Uint,
	gputypes.VertexFormatUint32x3:     vk.FormatR32g32b32Uint,
	gputypes.VertexFormatUint32x4:     vk.FormatR32g32b32a32Uint,
	gputypes.VertexFormatSint32:       vk.FormatR32Sint,
	gputypes.VertexFormatSint32x2:     vk.FormatR32g32Sint,
	gputypes.VertexFormatSint32x3:     vk.FormatR32g32b32Sint,
	gputypes.VertexFormatSint32x4:     vk.FormatR32g32b32a32Sint,
	gputypes.VertexFormatUnorm1010102: vk.FormatA2b10g10r10UnormPack32,
}

func vertexFormat(f gputypes.VertexFormat) (vk.Format, bool) {
	vf, ok := vertexFormats[f]
	return vf, ok
}

func aspectMask(f gputypes.TextureFormat) vk.ImageAspectFlags {
	var mask vk.ImageAspectFlagBits
	if f.HasDepth() {
		mask |= vk.ImageAspectDepthBit
	}
	if f.HasStencil() {
		mask |= vk.ImageAspectStencilBit
	}
	if mask == 0 {
		mask = vk.ImageAspectColorBit
	}
	return vk.ImageAspectFlags(mask)
}

func sampleCount(n int) vk.SampleCountFlagBits {
	switch {
	case n >= 64:
		return vk.SampleCount64Bit
	case n >= 32:
		return vk.SampleCount32Bit
	case n >= 16:
		return vk.SampleCount16Bit
	case n >= 8:
		return vk.SampleCount8Bit
	case n >= 4:
		return vk.SampleCount4Bit
	case n >= 2:
		return vk.SampleCount2Bit
	}
	return vk.SampleCount1Bit
}

// maxSampleCount returns the highest count set in both masks.
func maxSampleCount(color, depth vk.SampleCountFlags) int {
	mask := color & depth
	for n := 64; n > 1; n /= 2 {
		if mask&vk.SampleCountFlags(sampleCount(n)) != 0 {
			return n
		}
	}
	return 1
}

func imageUsage(p gpu.TextureParams) vk.ImageUsageFlags {
	var u vk.ImageUsageFlagBits
	if p.Usage&gpu.TextureUsageTransferSrc != 0 {
		u |= vk.ImageUsageTransferSrcBit
	}
	if p.Usage&gpu.TextureUsageTransferDst != 0 {
		u |= vk.ImageUsageTransferDstBit
	}
	if p.Usage&gpu.TextureUsageSampled != 0 {
		u |= vk.ImageUsageSampledBit
	}
	if p.Usage&gpu.TextureUsageStorage != 0 {
		u |= vk.ImageUsageStorageBit
	}
	if p.Usage&gpu.TextureUsageColorAttachment != 0 {
		u |= vk.ImageUsageColorAttachmentBit
	}
	if p.Usage&gpu.TextureUsageDepthStencilAttachment != 0 {
		u |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if p.Usage&gpu.TextureUsageTransientAttachment != 0 {
		u |= vk.ImageUsageTransientAttachmentBit
	}
	// Mipmaps are generated with blits.
	if p.MipLevels > 1 {
		u |= vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(u)
}

func bufferUsage(u gputypes.BufferUsage) vk.BufferUsageFlags {
	var f vk.BufferUsageFlagBits
	if u&gputypes.BufferUsageCopySrc != 0 {
		f |= vk.BufferUsageTransferSrcBit
	}
	if u&gputypes.BufferUsageCopyDst != 0 {
		f |= vk.BufferUsageTransferDstBit
	}
	if u&gputypes.BufferUsageIndex != 0 {
		f |= vk.BufferUsageIndexBufferBit
	}
	if u&gputypes.BufferUsageVertex != 0 {
		f |= vk.BufferUsageVertexBufferBit
	}
	if u&gputypes.BufferUsageUniform != 0 {
		f |= vk.BufferUsageUniformBufferBit
	}
	if u&gputypes.BufferUsageStorage != 0 {
		f |= vk.BufferUsageStorageBufferBit
	}
	if u&gputypes.BufferUsageIndirect != 0 {
		f |= vk.BufferUsageIndirectBufferBit
	}
	return vk.BufferUsageFlags(f)
}

// imageType returns the image and view types of a texture type.
func imageType(t gpu.TextureType) (vk.ImageType, vk.ImageViewType) {
	switch t {
	case gpu.Texture2DArray:
		return vk.ImageType2d, vk.ImageViewType2dArray
	case gpu.Texture3D:
		return vk.ImageType3d, vk.ImageViewType3d
	case gpu.TextureCube:
		return vk.ImageType2d, vk.ImageViewTypeCube
	}
	return vk.ImageType2d, vk.ImageViewType2d
}

func filter(f gputypes.FilterMode) vk.Filter {
	if f == gputypes.FilterModeLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func mipmapMode(f gputypes.MipmapFilterMode) vk.SamplerMipmapMode {
	if f == gputypes.MipmapFilterModeLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func addressMode(m gputypes.AddressMode) vk.SamplerAddressMode {
	switch m {
	case gputypes.AddressModeRepeat:
		return vk.SamplerAddressModeRepeat
	case gputypes.AddressModeMirrorRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	}
	return vk.SamplerAddressModeClampToEdge
}

func compareOp(f gputypes.CompareFunction) vk.CompareOp {
	switch f {
	case gputypes.CompareFunctionNever:
		return vk.CompareOpNever
	case gputypes.CompareFunctionLess:
		return vk.CompareOpLess
	case gputypes.CompareFunctionEqual:
		return vk.CompareOpEqual
	case gputypes.CompareFunctionLessEqual:
		return vk.CompareOpLessOrEqual
	case gputypes.CompareFunctionGreater:
		return vk.CompareOpGreater
	case gputypes.CompareFunctionNotEqual:
		return vk.CompareOpNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return vk.CompareOpGreaterOrEqual
	}
	return vk.CompareOpAlways
}

func blendFactor(f gputypes.BlendFactor) vk.BlendFactor {
	switch f {
	case gputypes.BlendFactorZero:
		return vk.BlendFactorZero
	case gputypes.BlendFactorSrc:
		return vk.BlendFactorSrcColor
	case gputypes.BlendFactorOneMinusSrc:
		return vk.BlendFactorOneMinusSrcColor
	case gputypes.BlendFactorSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case gputypes.BlendFactorDst:
		return vk.BlendFactorDstColor
	case gputypes.BlendFactorOneMinusDst:
		return vk.BlendFactorOneMinusDstColor
	case gputypes.BlendFactorDstAlpha:
		return vk.BlendFactorDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	case gputypes.BlendFactorSrcAlphaSaturated:
		return vk.BlendFactorSrcAlphaSaturate
	case gputypes.BlendFactorConstant:
		return vk.BlendFactorConstantColor
	case gputypes.BlendFactorOneMinusConstant:
		return vk.BlendFactorOneMinusConstantColor
	}
	return vk.BlendFactorOne
}

func blendOp(op gputypes.BlendOperation) vk.BlendOp {
	switch op {
	case gputypes.BlendOperationSubtract:
		return vk.BlendOpSubtract
	case gputypes.BlendOperationReverseSubtract:
		return vk.BlendOpReverseSubtract
	case gputypes.BlendOperationMin:
		return vk.BlendOpMin
	case gputypes.BlendOperationMax:
		return vk.BlendOpMax
	}
	return vk.BlendOpAdd
}

func stencilOp(op gputypes.StencilOperation) vk.StencilOp {
	switch op {
	case gputypes.StencilOperationZero:
		return vk.StencilOpZero
	case gputypes.StencilOperationReplace:
		return vk.StencilOpReplace
	case gputypes.StencilOperationInvert:
		return vk.StencilOpInvert
	case gputypes.StencilOperationIncrementClamp:
		return vk.StencilOpIncrementAndClamp
	case gputypes.StencilOperationDecrementClamp:
		return vk.StencilOpDecrementAndClamp
	case gputypes.StencilOperationIncrementWrap:
		return vk.StencilOpIncrementAndWrap
	case gputypes.StencilOperationDecrementWrap:
		return vk.StencilOpDecrementAndWrap
	}
	return vk.StencilOpKeep
}

func cullMode(m gputypes.CullMode) vk.CullModeFlags {
	switch m {
	case gputypes.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case gputypes.CullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func frontFace(f gputypes.FrontFace) vk.FrontFace {
	if f == gputypes.FrontFaceCW {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func topology(t gputypes.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func indexType(f gputypes.IndexFormat) vk.IndexType {
	if f == gputypes.IndexFormatUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func loadOp(op gputypes.LoadOp) vk.AttachmentLoadOp {
	if op == gputypes.LoadOpLoad {
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpClear
}

func storeOp(op gputypes.StoreOp) vk.AttachmentStoreOp {
	if op == gputypes.StoreOpDiscard {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func descriptorType(k shader.BindingKind) vk.DescriptorType {
	switch k {
	case shader.BindingStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case shader.BindingTexture:
		return vk.DescriptorTypeSampledImage
	case shader.BindingStorageTexture:
		return vk.DescriptorTypeStorageImage
	case shader.BindingSampler:
		return vk.DescriptorTypeSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func shaderStages(s gputypes.ShaderStages) vk.ShaderStageFlags {
	var f vk.ShaderStageFlagBits
	if s&gputypes.ShaderStageVertex != 0 {
		f |= vk.ShaderStageVertexBit
	}
	if s&gputypes.ShaderStageFragment != 0 {
		f |= vk.ShaderStageFragmentBit
	}
	if s&gputypes.ShaderStageCompute != 0 {
		f |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(f)
}

func shaderStage(s gputypes.ShaderStage) vk.ShaderStageFlagBits {
	switch s {
	case gputypes.ShaderStageFragment:
		return vk.ShaderStageFragmentBit
	case gputypes.ShaderStageCompute:
		return vk.ShaderStageComputeBit
	}
	return vk.ShaderStageVertexBit
}
