package opengl

import (
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

// pixelFormat is the internal format and the client format/type pair of a
// texture format.
type pixelFormat struct {
	internal int32
	format   uint32
	typ      uint32
}

var pixelFormats = map[gputypes.TextureFormat]pixelFormat{
	gputypes.TextureFormatR8Unorm:              {gl.R8, gl.RED, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatR8Snorm:              {gl.R8_SNORM, gl.RED, gl.BYTE},
	gputypes.TextureFormatR8Uint:               {gl.R8UI, gl.RED_INTEGER, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatR8Sint:               {gl.R8I, gl.RED_INTEGER, gl.BYTE},
	gputypes.TextureFormatRG8Unorm:             {gl.RG8, gl.RG, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatRG8Snorm:             {gl.RG8_SNORM, gl.RG, gl.BYTE},
	gputypes.TextureFormatRG8Uint:              {gl.RG8UI, gl.RG_INTEGER, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatRG8Sint:              {gl.RG8I, gl.RG_INTEGER, gl.BYTE},
	gputypes.TextureFormatRGBA8Unorm:           {gl.RGBA8, gl.RGBA, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatRGBA8UnormSrgb:       {gl.SRGB8_ALPHA8, gl.RGBA, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatRGBA8Snorm:           {gl.RGBA8_SNORM, gl.RGBA, gl.BYTE},
	gputypes.TextureFormatRGBA8Uint:            {gl.RGBA8UI, gl.RGBA_INTEGER, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatRGBA8Sint:            {gl.RGBA8I, gl.RGBA_INTEGER, gl.BYTE},
	gputypes.TextureFormatBGRA8Unorm:           {gl.RGBA8, gl.BGRA, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatBGRA8UnormSrgb:       {gl.SRGB8_ALPHA8, gl.BGRA, gl.UNSIGNED_BYTE},
	gputypes.TextureFormatR16Uint:              {gl.R16UI, gl.RED_INTEGER, gl.UNSIGNED_SHORT},
	gputypes.TextureFormatR16Sint:              {gl.R16I, gl.RED_INTEGER, gl.SHORT},
	gputypes.TextureFormatR16Float:             {gl.R16F, gl.RED, gl.HALF_FLOAT},
	gputypes.TextureFormatRG16Uint:             {gl.RG16UI, gl.RG_INTEGER, gl.UNSIGNED_SHORT},
	gputypes.TextureFormatRG16Sint:             {gl.RG16I, gl.RG_INTEGER, gl.SHORT},
	gputypes.TextureFormatRG16Float:            {gl.RG16F, gl.RG, gl.HALF_FLOAT},
	gputypes.TextureFormatRGBA16Uint:           {gl.RGBA16UI, gl.RGBA_INTEGER, gl.UNSIGNED_SHORT},
	gputypes.TextureFormatRGBA16Sint:           {gl.RGBA16I, gl.RGBA_INTEGER, gl.SHORT},
	gputypes.TextureFormatRGBA16Float:          {gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT},
	gputypes.TextureFormatR32Uint:              {gl.R32UI, gl.RED_INTEGER, gl.UNSIGNED_INT},
	gputypes.TextureFormatR32Sint:              {gl.R32I, gl.RED_INTEGER, gl.INT},
	gputypes.TextureFormatR32Float:             {gl.R32F, gl.RED, gl.FLOAT},
	gputypes.TextureFormatRG32Uint:             {gl.RG32UI, gl.RG_INTEGER, gl.UNSIGNED_INT},
	gputypes.TextureFormatRG32Sint:             {gl.RG32I, gl.RG_INTEGER, gl.INT},
	gputypes.TextureFormatRG32Float:            {gl.RG32F, gl.RG, gl.FLOAT},
	gputypes.TextureFormatRGBA32Uint:           {gl.RGBA32UI, gl.RGBA_INTEGER, gl.UNSIGNED_INT},
	gputypes.TextureFormatRGBA32Sint:           {gl.RGBA32I, gl.RGBA_INTEGER, gl.INT},
	gputypes.TextureFormatRGBA32Float:          {gl.RGBA32F, gl.RGBA, gl.FLOAT},
	gputypes.TextureFormatRGB10A2Unorm:         {gl.RGB10_A2, gl.RGBA, gl.UNSIGNED_INT_2_10_10_10_REV},
	gputypes.TextureFormatRG11B10Ufloat:        {gl.R11F_G11F_B10F, gl.RGB, gl.UNSIGNED_INT_10F_11F_11F_REV},
	gputypes.TextureFormatDepth16Unorm:         {gl.DEPTH_COMPONENT16, gl.DEPTH_COMPONENT, gl.UNSIGNED_SHORT},
	gputypes.TextureFormatDepth24Plus:          {gl.DEPTH_COMPONENT24, gl.DEPTH_COMPONENT, gl.UNSIGNED_INT},
	gputypes.TextureFormatDepth24PlusStencil8:  {gl.DEPTH24_STENCIL8, gl.DEPTH_STENCIL, gl.UNSIGNED_INT_24_8},
	gputypes.TextureFormatDepth32Float:         {gl.DEPTH_COMPONENT32F, gl.DEPTH_COMPONENT, gl.FLOAT},
	gputypes.TextureFormatDepth32FloatStencil8: {gl.DEPTH32F_STENCIL8, gl.DEPTH_STENCIL, gl.FLOAT_32_UNSIGNED_INT_24_8_REV},
}

func textureFormat(f gputypes.TextureFormat) (pixelFormat, bool) {
	pf, ok := pixelFormats[f]
	return pf, ok
}

func textureTarget(p gpu.TextureParams) uint32 {
	switch p.Type {
	case gpu.Texture2DArray:
		return gl.TEXTURE_2D_ARRAY
	case gpu.Texture3D:
		return gl.TEXTURE_3D
	case gpu.TextureCube:
		return gl.TEXTURE_CUBE_MAP
	}
	if p.Samples > 1 {
		return gl.TEXTURE_2D_MULTISAMPLE
	}
	return gl.TEXTURE_2D
}

// attachmentPoint returns the framebuffer attachment of a color attachment
// at index, or of the depth-stencil attachment.
func attachmentPoint(f gputypes.TextureFormat, index int) uint32 {
	switch {
	case f.HasDepth() && f.HasStencil():
		return gl.DEPTH_STENCIL_ATTACHMENT
	case f.HasDepth():
		return gl.DEPTH_ATTACHMENT
	case f.HasStencil():
		return gl.STENCIL_ATTACHMENT
	}
	return gl.COLOR_ATTACHMENT0 + uint32(index)
}

func wrapMode(m gputypes.AddressMode) int32 {
	switch m {
	case gputypes.AddressModeRepeat:
		return gl.REPEAT
	case gputypes.AddressModeMirrorRepeat:
		return gl.MIRRORED_REPEAT
	}
	return gl.CLAMP_TO_EDGE
}

func magFilter(f gputypes.FilterMode) int32 {
	if f == gputypes.FilterModeLinear {
		return gl.LINEAR
	}
	return gl.NEAREST
}

func minFilter(f gputypes.FilterMode, mip gputypes.MipmapFilterMode) int32 {
	linear := f == gputypes.FilterModeLinear
	switch mip {
	case gputypes.MipmapFilterModeNearest:
		if linear {
			return gl.LINEAR_MIPMAP_NEAREST
		}
		return gl.NEAREST_MIPMAP_NEAREST
	case gputypes.MipmapFilterModeLinear:
		if linear {
			return gl.LINEAR_MIPMAP_LINEAR
		}
		return gl.NEAREST_MIPMAP_LINEAR
	}
	if linear {
		return gl.LINEAR
	}
	return gl.NEAREST
}

func compareFunc(f gputypes.CompareFunction) uint32 {
	switch f {
	case gputypes.CompareFunctionNever:
		return gl.NEVER
	case gputypes.CompareFunctionLess:
		return gl.LESS
	case gputypes.CompareFunctionEqual:
		return gl.EQUAL
	case gputypes.CompareFunctionLessEqual:
		return gl.LEQUAL
	case gputypes.CompareFunctionGreater:
		return gl.GREATER
	case gputypes.CompareFunctionNotEqual:
		return gl.NOTEQUAL
	case gputypes.CompareFunctionGreaterEqual:
		return gl.GEQUAL
	}
	return gl.ALWAYS
}

func blendFactor(f gputypes.BlendFactor) uint32 {
	switch f {
	case gputypes.BlendFactorZero:
		return gl.ZERO
	case gputypes.BlendFactorSrc:
		return gl.SRC_COLOR
	case gputypes.BlendFactorOneMinusSrc:
		return gl.ONE_MINUS_SRC_COLOR
	case gputypes.BlendFactorSrcAlpha:
		return gl.SRC_ALPHA
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return gl.ONE_MINUS_SRC_ALPHA
	case gputypes.BlendFactorDst:
		return gl.DST_COLOR
	case gputypes.BlendFactorOneMinusDst:
		return gl.ONE_MINUS_DST_COLOR
	case gputypes.BlendFactorDstAlpha:
		return gl.DST_ALPHA
	case gputypes.BlendFactorOneMinusDstAlpha:
		return gl.ONE_MINUS_DST_ALPHA
	case gputypes.BlendFactorSrcAlphaSaturated:
		return gl.SRC_ALPHA_SATURATE
	case gputypes.BlendFactorConstant:
		return gl.CONSTANT_COLOR
	case gputypes.BlendFactorOneMinusConstant:
		return gl.ONE_MINUS_CONSTANT_COLOR
	}
	return gl.ONE
}

func blendEquation(op gputypes.BlendOperation) uint32 {
	switch op {
	case gputypes.BlendOperationSubtract:
		return gl.FUNC_SUBTRACT
	case gputypes.BlendOperationReverseSubtract:
		return gl.FUNC_REVERSE_SUBTRACT
	case gputypes.BlendOperationMin:
		return gl.MIN
	case gputypes.BlendOperationMax:
		return gl.MAX
	}
	return gl.FUNC_ADD
}

func stencilOp(op gputypes.StencilOperation) uint32 {
	switch op {
	case gputypes.StencilOperationZero:
		return gl.ZERO
	case gputypes.StencilOperationReplace:
		return gl.REPLACE
	case gputypes.StencilOperationInvert:
		return gl.INVERT
	case gputypes.StencilOperationIncrementClamp:
		return gl.INCR
	case gputypes.StencilOperationDecrementClamp:
		return gl.DECR
	case gputypes.StencilOperationIncrementWrap:
		return gl.INCR_WRAP
	case gputypes.StencilOperationDecrementWrap:
		return gl.DECR_WRAP
	}
	return gl.KEEP
}

// cullFace returns the face to cull, false when culling is disabled.
func cullFace(m gputypes.CullMode) (uint32, bool) {
	switch m {
	case gputypes.CullModeFront:
		return gl.FRONT, true
	case gputypes.CullModeBack:
		return gl.BACK, true
	}
	return 0, false
}

func frontFace(f gputypes.FrontFace) uint32 {
	if f == gputypes.FrontFaceCW {
		return gl.CW
	}
	return gl.CCW
}

func primitiveMode(t gputypes.PrimitiveTopology) uint32 {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return gl.POINTS
	case gputypes.PrimitiveTopologyLineList:
		return gl.LINES
	case gputypes.PrimitiveTopologyLineStrip:
		return gl.LINE_STRIP
	case gputypes.PrimitiveTopologyTriangleStrip:
		return gl.TRIANGLE_STRIP
	}
	return gl.TRIANGLES
}

// indexType returns the GL type and byte size of an index format.
func indexType(f gputypes.IndexFormat) (uint32, int) {
	if f == gputypes.IndexFormatUint16 {
		return gl.UNSIGNED_SHORT, 2
	}
	return gl.UNSIGNED_INT, 4
}

// vertexAttrib describes how glVertexAttrib(I)Pointer reads one format.
type vertexAttrib struct {
	size       int32
	typ        uint32
	normalized bool
	integer    bool
}

var vertexAttribs = map[gputypes.VertexFormat]vertexAttrib{
	gputypes.VertexFormatUint8x2:      {2, gl.UNSIGNED_BYTE, false, true},
	gputypes.VertexFormatUint8x4:      {4, gl.UNSIGNED_BYTE, false, true},
	gputypes.VertexFormatSint8x2:      {2, gl.BYTE, false, true},
	gputypes.VertexFormatSint8x4:      {4, gl.BYTE, false, true},
	gputypes.VertexFormatUnorm8x2:     {2, gl.UNSIGNED_BYTE, true, false},
	gputypes.VertexFormatUnorm8x4:     {4, gl.UNSIGNED_BYTE, true, false},
	gputypes.VertexFormatSnorm8x2:     {2, gl.BYTE, true, false},
	gputypes.VertexFormatSnorm8x4:     {4, gl.BYTE, true, false},
	gputypes.VertexFormatUint16x2:     {2, gl.UNSIGNED_SHORT, false, true},
	gputypes.VertexFormatUint16x4:     {4, gl.UNSIGNED_SHORT, false, true},
	gputypes.VertexFormatSint16x2:     {2, gl.SHORT, false, true},
	gputypes.VertexFormatSint16x4:     {4, gl.SHORT, false, true},
	gputypes.VertexFormatUnorm16x2:    {2, gl.UNSIGNED_SHORT, true, false},
	gputypes.VertexFormatUnorm16x4:    {4, gl.UNSIGNED_SHORT, true, false},
	gputypes.VertexFormatSnorm16x2:    {2, gl.SHORT, true, false},
	gputypes.VertexFormatSnorm16x4:    {4, gl.SHORT, true, false},
	gputypes.VertexFormatFloat16x2:    {2, gl.HALF_FLOAT, false, false},
	gputypes.VertexFormatFloat16x4:    {4, gl.HALF_FLOAT, false, false},
	gputypes.VertexFormatFloat32:      {1, gl.FLOAT, false, false},
	gputypes.VertexFormatFloat32x2:    {2, gl.FLOAT, false, false},
	gputypes.VertexFormatFloat32x3:    {3, gl.FLOAT, false, false},
	gputypes.VertexFormatFloat32x4:    {4, gl.FLOAT, false, false},
	gputypes.VertexFormatUint32:       {1, gl.UNSIGNED_INT, false, true},
	gputypes.VertexFormatUint32x2:     {2, gl.UNSIGNED_INT, false, true},
	gputypes.VertexFormatUint32x3:     {3, gl.UNSIGNED_INT, false, true},
	gputypes.VertexFormatUint32x4:     {4, gl.UNSIGNED_INT, false, true},
	gputypes.VertexFormatSint32:       {1, gl.INT, false, true},
	gputypes.VertexFormatSint32x2:     {2, gl.INT, false, true},
	gputypes.VertexFormatSint32x3:     {3, gl.INT, false, true},
	gputypes.VertexFormatSint32x4:     {4, gl.INT, false, true},
	gputypes.VertexFormatUnorm1010102: {4, gl.UNSIGNED_INT_2_10_10_10_REV, true, false},
}

func vertexFormat(f gputypes.VertexFormat) (vertexAttrib, bool) {
	a, ok := vertexAttribs[f]
	return a, ok
}

// flipRows copies rows of rowSize bytes from src into dst in reverse order.
// GL reads framebuffers bottom row first.
func flipRows(dst, src []byte, rowSize, rows int) {
	for y := 0; y < rows; y++ {
		s := (rows - 1 - y) * rowSize
		copy(dst[y*rowSize:(y+1)*rowSize], src[s:s+rowSize])
	}
}
