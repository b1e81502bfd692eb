package opengl

import (
	"testing"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextureFormat(t *testing.T) {
	pf, ok := textureFormat(gputypes.TextureFormatRGBA8Unorm)
	require.True(t, ok)
	assert.Equal(t, pixelFormat{gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE}, pf)

	pf, ok = textureFormat(gputypes.TextureFormatDepth24PlusStencil8)
	require.True(t, ok)
	assert.Equal(t, uint32(gl.DEPTH_STENCIL), pf.format)

	_, ok = textureFormat(gputypes.TextureFormatBC1RGBAUnorm)
	assert.False(t, ok)

	for f, pf := range pixelFormats {
		if f.HasDepth() || f.HasStencil() {
			assert.Contains(t, []uint32{gl.DEPTH_COMPONENT, gl.DEPTH_STENCIL}, pf.format, "format %d", f)
		}
	}
}

func TestTextureTarget(t *testing.T) {
	assert.Equal(t, uint32(gl.TEXTURE_2D), textureTarget(gpu.TextureParams{Type: gpu.Texture2D, Samples: 1}))
	assert.Equal(t, uint32(gl.TEXTURE_2D_MULTISAMPLE), textureTarget(gpu.TextureParams{Type: gpu.Texture2D, Samples: 4}))
	assert.Equal(t, uint32(gl.TEXTURE_2D_ARRAY), textureTarget(gpu.TextureParams{Type: gpu.Texture2DArray}))
	assert.Equal(t, uint32(gl.TEXTURE_3D), textureTarget(gpu.TextureParams{Type: gpu.Texture3D}))
	assert.Equal(t, uint32(gl.TEXTURE_CUBE_MAP), textureTarget(gpu.TextureParams{Type: gpu.TextureCube}))
}

func TestAttachmentPoint(t *testing.T) {
	assert.Equal(t, uint32(gl.COLOR_ATTACHMENT0), attachmentPoint(gputypes.TextureFormatRGBA8Unorm, 0))
	assert.Equal(t, uint32(gl.COLOR_ATTACHMENT0+3), attachmentPoint(gputypes.TextureFormatR32Float, 3))
	assert.Equal(t, uint32(gl.DEPTH_ATTACHMENT), attachmentPoint(gputypes.TextureFormatDepth32Float, 0))
	assert.Equal(t, uint32(gl.DEPTH_STENCIL_ATTACHMENT), attachmentPoint(gputypes.TextureFormatDepth24PlusStencil8, 0))
}

func TestMinFilter(t *testing.T) {
	tests := []struct {
		filter gputypes.FilterMode
		mip    gputypes.MipmapFilterMode
		want   int32
	}{
		{gputypes.FilterModeNearest, gputypes.MipmapFilterModeUndefined, gl.NEAREST},
		{gputypes.FilterModeLinear, gputypes.MipmapFilterModeUndefined, gl.LINEAR},
		{gputypes.FilterModeNearest, gputypes.MipmapFilterModeNearest, gl.NEAREST_MIPMAP_NEAREST},
		{gputypes.FilterModeLinear, gputypes.MipmapFilterModeNearest, gl.LINEAR_MIPMAP_NEAREST},
		{gputypes.FilterModeNearest, gputypes.MipmapFilterModeLinear, gl.NEAREST_MIPMAP_LINEAR},
		{gputypes.FilterModeLinear, gputypes.MipmapFilterModeLinear, gl.LINEAR_MIPMAP_LINEAR},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, minFilter(tt.filter, tt.mip), "filter %d mip %d", tt.filter, tt.mip)
	}
	assert.Equal(t, int32(gl.LINEAR), magFilter(gputypes.FilterModeLinear))
	assert.Equal(t, int32(gl.NEAREST), magFilter(gputypes.FilterModeNearest))
}

func TestCullFace(t *testing.T) {
	face, ok := cullFace(gputypes.CullModeBack)
	assert.True(t, ok)
	assert.Equal(t, uint32(gl.BACK), face)

	face, ok = cullFace(gputypes.CullModeFront)
	assert.True(t, ok)
	assert.Equal(t, uint32(gl.FRONT), face)

	_, ok = cullFace(gputypes.CullModeNone)
	assert.False(t, ok)
}

func TestDrawMappings(t *testing.T) {
	assert.Equal(t, uint32(gl.CW), frontFace(gputypes.FrontFaceCW))
	assert.Equal(t, uint32(gl.CCW), frontFace(gputypes.FrontFaceCCW))
	assert.Equal(t, uint32(gl.TRIANGLE_STRIP), primitiveMode(gputypes.PrimitiveTopologyTriangleStrip))
	assert.Equal(t, uint32(gl.POINTS), primitiveMode(gputypes.PrimitiveTopologyPointList))
	assert.Equal(t, uint32(gl.TRIANGLES), primitiveMode(gputypes.PrimitiveTopologyTriangleList))

	typ, size := indexType(gputypes.IndexFormatUint16)
	assert.Equal(t, uint32(gl.UNSIGNED_SHORT), typ)
	assert.Equal(t, 2, size)
	typ, size = indexType(gputypes.IndexFormatUint32)
	assert.Equal(t, uint32(gl.UNSIGNED_INT), typ)
	assert.Equal(t, 4, size)

	assert.Equal(t, uint32(gl.FUNC_REVERSE_SUBTRACT), blendEquation(gputypes.BlendOperationReverseSubtract))
	assert.Equal(t, uint32(gl.ONE_MINUS_SRC_ALPHA), blendFactor(gputypes.BlendFactorOneMinusSrcAlpha))
	assert.Equal(t, uint32(gl.LEQUAL), compareFunc(gputypes.CompareFunctionLessEqual))
	assert.Equal(t, uint32(gl.INCR_WRAP), stencilOp(gputypes.StencilOperationIncrementWrap))
	assert.Equal(t, int32(gl.MIRRORED_REPEAT), wrapMode(gputypes.AddressModeMirrorRepeat))
}

func TestVertexFormat(t *testing.T) {
	a, ok := vertexFormat(gputypes.VertexFormatFloat32x3)
	require.True(t, ok)
	assert.Equal(t, vertexAttrib{3, gl.FLOAT, false, false}, a)

	a, ok = vertexFormat(gputypes.VertexFormatUnorm8x4)
	require.True(t, ok)
	assert.True(t, a.normalized)
	assert.False(t, a.integer)

	a, ok = vertexFormat(gputypes.VertexFormatSint32x2)
	require.True(t, ok)
	assert.True(t, a.integer)
	assert.Equal(t, int32(2), a.size)
}

func TestFlipRows(t *testing.T) {
	src := []byte{
		1, 1, 1,
		2, 2, 2,
		3, 3, 3,
	}
	dst := make([]byte, len(src))
	flipRows(dst, src, 3, 3)
	assert.Equal(t, []byte{
		3, 3, 3,
		2, 2, 2,
		1, 1, 1,
	}, dst)

	flipRows(dst, src, 3, 0)
	assert.Equal(t, byte(3), dst[0])
}
