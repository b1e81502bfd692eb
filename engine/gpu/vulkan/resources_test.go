package vulkan

import (
	stdmath "math"
	"testing"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/stretchr/testify/assert"
)

func TestRestLayout(t *testing.T) {
	tests := []struct {
		name  string
		usage gpu.TextureUsage
		want  vk.ImageLayout
	}{
		{"sampled", gpu.TextureUsageSampled | gpu.TextureUsageTransferDst, vk.ImageLayoutShaderReadOnlyOptimal},
		{"sampled attachment", gpu.TextureUsageSampled | gpu.TextureUsageColorAttachment, vk.ImageLayoutShaderReadOnlyOptimal},
		{"storage", gpu.TextureUsageStorage | gpu.TextureUsageSampled, vk.ImageLayoutGeneral},
		{"attachment", gpu.TextureUsageColorAttachment, vk.ImageLayoutColorAttachmentOptimal},
		{"depth", gpu.TextureUsageDepthStencilAttachment, vk.ImageLayoutDepthStencilAttachmentOptimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tex := &texture{params: gpu.TextureParams{Usage: tt.usage}}
			assert.Equal(t, tt.want, tex.restLayout())
		})
	}
	swapchainImage := &texture{borrowed: true, params: gpu.TextureParams{Usage: gpu.TextureUsageColorAttachment}}
	assert.Equal(t, vk.ImageLayoutPresentSrc, swapchainImage.restLayout())
}

func TestTextureLayers(t *testing.T) {
	assert.Equal(t, 1, (&texture{params: gpu.TextureParams{Type: gpu.Texture2D}}).layers())
	assert.Equal(t, 6, (&texture{params: gpu.TextureParams{Type: gpu.TextureCube}}).layers())
	assert.Equal(t, 3, (&texture{params: gpu.TextureParams{Type: gpu.Texture2DArray, Depth: 3}}).layers())
	assert.Equal(t, 1, (&texture{params: gpu.TextureParams{Type: gpu.Texture3D, Depth: 16}}).layers())
}

func TestColorClear(t *testing.T) {
	c := [4]float32{1, 2, 3, 4}
	v := colorClear(gputypes.TextureFormatRGBA8Uint, c)
	assert.Equal(t, colorClear(gputypes.TextureFormatRGBA8Unorm, [4]float32{
		stdmath.Float32frombits(1), stdmath.Float32frombits(2),
		stdmath.Float32frombits(3), stdmath.Float32frombits(4),
	}), v)

	neg := colorClear(gputypes.TextureFormatR32Sint, [4]float32{-1})
	assert.Equal(t, colorClear(gputypes.TextureFormatR32Float, [4]float32{stdmath.Float32frombits(0xFFFFFFFF)}), neg)
}

func TestSwapRedBlue(t *testing.T) {
	px := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	swapRedBlue(px)
	assert.Equal(t, []byte{3, 2, 1, 4, 7, 6, 5, 8}, px)
	assert.True(t, isBGRA(gputypes.TextureFormatBGRA8Unorm))
	assert.False(t, isBGRA(gputypes.TextureFormatRGBA8Unorm))
}

func TestLayoutSync(t *testing.T) {
	access, stage := layoutSync(vk.ImageLayoutTransferDstOptimal, false)
	assert.Equal(t, vk.AccessTransferWriteBit, access)
	assert.Equal(t, vk.PipelineStageTransferBit, stage)

	access, stage = layoutSync(vk.ImageLayoutUndefined, true)
	assert.Zero(t, access)
	assert.Equal(t, vk.PipelineStageColorAttachmentOutputBit, stage)

	_, stage = layoutSync(vk.ImageLayoutPresentSrc, false)
	assert.Equal(t, vk.PipelineStageBottomOfPipeBit, stage)
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), alignUp(0, 16))
	assert.Equal(t, uint64(16), alignUp(1, 16))
	assert.Equal(t, uint64(32), alignUp(32, 16))
	assert.Equal(t, uint64(8), alignUp(5, 4))
}
