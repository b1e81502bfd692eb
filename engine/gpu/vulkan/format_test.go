package vulkan

import (
	"testing"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextureFormat(t *testing.T) {
	f, ok := textureFormat(gputypes.TextureFormatRGBA8Unorm)
	require.True(t, ok)
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, f)

	f, ok = textureFormat(gputypes.TextureFormatBGRA8UnormSrgb)
	require.True(t, ok)
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, f)

	_, ok = textureFormat(gputypes.TextureFormatBC1RGBAUnorm)
	assert.False(t, ok)
}

func TestSwapchainFormatLookup(t *testing.T) {
	for _, want := range []gputypes.TextureFormat{
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA16Float,
	} {
		native, ok := textureFormat(want)
		require.True(t, ok)
		got, ok := gpuFormat(native)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := gpuFormat(vk.FormatUndefined)
	assert.False(t, ok)
}

func TestAspectMask(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectMask(gputypes.TextureFormatRGBA8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectMask(gputypes.TextureFormatDepth32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit),
		aspectMask(gputypes.TextureFormatDepth24PlusStencil8))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectStencilBit), aspectMask(gputypes.TextureFormatStencil8))
}

func TestSampleCount(t *testing.T) {
	tests := []struct {
		n    int
		want vk.SampleCountFlagBits
	}{
		{0, vk.SampleCount1Bit},
		{1, vk.SampleCount1Bit},
		{2, vk.SampleCount2Bit},
		{3, vk.SampleCount2Bit},
		{4, vk.SampleCount4Bit},
		{8, vk.SampleCount8Bit},
		{16, vk.SampleCount16Bit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampleCount(tt.n), "%d samples", tt.n)
	}

	color := vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount2Bit | vk.SampleCount4Bit | vk.SampleCount8Bit)
	depth := vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount2Bit | vk.SampleCount4Bit)
	assert.Equal(t, 4, maxSampleCount(color, depth))
	assert.Equal(t, 1, maxSampleCount(vk.SampleCountFlags(vk.SampleCount1Bit), color))
}

func TestImageUsage(t *testing.T) {
	u := imageUsage(gpu.TextureParams{Usage: gpu.TextureUsageSampled | gpu.TextureUsageColorAttachment, MipLevels: 1})
	assert.Equal(t, vk.ImageUsageFlags(vk.ImageUsageSampledBit|vk.ImageUsageColorAttachmentBit), u)

	u = imageUsage(gpu.TextureParams{Usage: gpu.TextureUsageSampled, MipLevels: 4})
	assert.NotZero(t, u&vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit), "mipmaps are blitted")
	assert.NotZero(t, u&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit))
}

func TestBufferUsage(t *testing.T) {
	u := bufferUsage(gputypes.BufferUsageVertex | gputypes.BufferUsageIndex | gputypes.BufferUsageUniform)
	assert.Equal(t, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageIndexBufferBit|vk.BufferUsageUniformBufferBit), u)
	assert.Zero(t, bufferUsage(0))
}

func TestImageType(t *testing.T) {
	tests := []struct {
		typ      gpu.TextureType
		image    vk.ImageType
		viewType vk.ImageViewType
	}{
		{gpu.Texture2D, vk.ImageType2d, vk.ImageViewType2d},
		{gpu.Texture2DArray, vk.ImageType2d, vk.ImageViewType2dArray},
		{gpu.Texture3D, vk.ImageType3d, vk.ImageViewType3d},
		{gpu.TextureCube, vk.ImageType2d, vk.ImageViewTypeCube},
	}
	for _, tt := range tests {
		image, view := imageType(tt.typ)
		assert.Equal(t, tt.image, image)
		assert.Equal(t, tt.viewType, view)
	}
}

func TestAttachmentOps(t *testing.T) {
	assert.Equal(t, vk.AttachmentLoadOpLoad, loadOp(gputypes.LoadOpLoad))
	assert.Equal(t, vk.AttachmentLoadOpClear, loadOp(gputypes.LoadOpClear))
	assert.Equal(t, vk.AttachmentLoadOpClear, loadOp(gputypes.LoadOpUndefined))
	assert.Equal(t, vk.AttachmentStoreOpDontCare, storeOp(gputypes.StoreOpDiscard))
	assert.Equal(t, vk.AttachmentStoreOpStore, storeOp(gputypes.StoreOpStore))
}

func TestFixedFunctionMapping(t *testing.T) {
	assert.Equal(t, vk.CompareOpLessOrEqual, compareOp(gputypes.CompareFunctionLessEqual))
	assert.Equal(t, vk.CompareOpAlways, compareOp(gputypes.CompareFunctionUndefined))
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, blendFactor(gputypes.BlendFactorOneMinusSrcAlpha))
	assert.Equal(t, vk.BlendFactorOne, blendFactor(gputypes.BlendFactorOne))
	assert.Equal(t, vk.BlendOpReverseSubtract, blendOp(gputypes.BlendOperationReverseSubtract))
	assert.Equal(t, vk.StencilOpIncrementAndWrap, stencilOp(gputypes.StencilOperationIncrementWrap))
	assert.Equal(t, vk.CullModeFlags(vk.CullModeBackBit), cullMode(gputypes.CullModeBack))
	assert.Equal(t, vk.FrontFaceClockwise, frontFace(gputypes.FrontFaceCW))
	assert.Equal(t, vk.PrimitiveTopologyTriangleStrip, topology(gputypes.PrimitiveTopologyTriangleStrip))
	assert.Equal(t, vk.IndexTypeUint16, indexType(gputypes.IndexFormatUint16))
}

func TestDescriptorMapping(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, descriptorType(shader.BindingUniformBuffer))
	assert.Equal(t, vk.DescriptorTypeStorageImage, descriptorType(shader.BindingStorageTexture))
	assert.Equal(t, vk.DescriptorTypeSampler, descriptorType(shader.BindingSampler))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		shaderStages(gputypes.ShaderStageVertex|gputypes.ShaderStageFragment))
	assert.Equal(t, vk.ShaderStageComputeBit, shaderStage(gputypes.ShaderStageCompute))
}
