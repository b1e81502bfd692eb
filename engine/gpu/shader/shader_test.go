package shader

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangleWGSL = `
struct Camera {
    offset: vec4<f32>,
}

@group(0) @binding(0) var<uniform> camera: Camera;

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) color: vec3<f32>,
}

@vertex
fn vs_main(@location(0) pos: vec3<f32>, @location(1) col: vec3<f32>) -> VertexOutput {
    var output: VertexOutput;
    output.position = vec4<f32>(pos.x, pos.y, pos.z, 1.0) + camera.offset;
    output.color = col;
    return output;
}

@fragment
fn fs_main(@location(0) color: vec3<f32>) -> @location(0) vec4<f32> {
    return vec4<f32>(color.x, color.y, color.z, 1.0);
}
`

const computeWGSL = `
@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    var temp: u32 = id.x * 2u;
}
`

func testOptions() Options {
	opts := DefaultOptions()
	opts.Validate = false
	return opts
}

func TestCompileGraphicsSPIRV(t *testing.T) {
	p, err := Compile(Source{Label: "triangle", Vertex: triangleWGSL, Fragment: triangleWGSL}, TargetSPIRV, testOptions())
	require.NoError(t, err)
	require.Len(t, p.Modules, 2)
	assert.False(t, p.IsCompute())

	vs, ok := p.Stage(gputypes.ShaderStageVertex)
	require.True(t, ok)
	assert.Equal(t, "vs_main", vs.EntryPoint)
	words := vs.Words()
	require.NotEmpty(t, words)
	assert.Equal(t, uint32(0x07230203), words[0])

	fs, ok := p.Stage(gputypes.ShaderStageFragment)
	require.True(t, ok)
	assert.Equal(t, "fs_main", fs.EntryPoint)
}

func TestReflection(t *testing.T) {
	p, err := Compile(Source{Label: "triangle", Vertex: triangleWGSL, Fragment: triangleWGSL}, TargetWGSL, testOptions())
	require.NoError(t, err)

	r := p.Reflection
	require.Len(t, r.Attributes, 2)
	assert.Equal(t, Attribute{Name: "pos", Location: 0, Format: gputypes.VertexFormatFloat32x3}, r.Attributes[0])
	assert.Equal(t, Attribute{Name: "col", Location: 1, Format: gputypes.VertexFormatFloat32x3}, r.Attributes[1])

	b, ok := r.Binding("camera")
	require.True(t, ok)
	assert.Equal(t, BindingUniformBuffer, b.Kind)
	assert.Equal(t, uint32(16), b.Size)
	assert.Equal(t, gputypes.ShaderStagesVertexFragment, b.Stages)
	assert.Len(t, r.Bindings, 1)
}

func TestCompileCompute(t *testing.T) {
	p, err := Compile(Source{Label: "double", Compute: computeWGSL}, TargetSPIRV, testOptions())
	require.NoError(t, err)
	assert.True(t, p.IsCompute())
	assert.Equal(t, [3]uint32{64, 1, 1}, p.Reflection.WorkgroupSize)
	assert.Empty(t, p.Reflection.Attributes)
}

func TestCompileRejectsBadPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"empty", Source{Label: "empty"}},
		{"vertex only", Source{Label: "v", Vertex: triangleWGSL}},
		{"mixed", Source{Label: "m", Vertex: triangleWGSL, Fragment: triangleWGSL, Compute: computeWGSL}},
		{"syntax", Source{Label: "s", Compute: "fn main( {"}},
		{"missing entry point", Source{Label: "e", Vertex: computeWGSL, Fragment: computeWGSL}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src, TargetWGSL, testOptions())
			assert.ErrorIs(t, err, core.ErrInvalidArg)
			assert.Equal(t, core.StatusInvalidArg, core.Status(err))
		})
	}
}

const texturedWGSL = `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var tex_sampler: sampler;
@group(0) @binding(2) var env: texture_cube<f32>;
@group(0) @binding(3) var shadow: texture_depth_2d;
@group(0) @binding(4) var shadow_sampler: sampler_comparison;
@group(0) @binding(5) var counts: texture_2d<u32>;

@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos.x, pos.y, 0.0, 1.0);
}

@fragment
fn fs_main(@builtin(position) coord: vec4<f32>) -> @location(0) vec4<f32> {
    return textureSample(tex, tex_sampler, coord.xy);
}
`

const storageWGSL = `
@group(0) @binding(0) var img: texture_storage_2d<rgba16float, write>;

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(img, vec2<i32>(i32(id.x), i32(id.y)), vec4<f32>(1.0, 0.0, 0.0, 1.0));
}
`

func TestReflectionTextures(t *testing.T) {
	p, err := Compile(Source{Label: "textured", Vertex: texturedWGSL, Fragment: texturedWGSL}, TargetWGSL, testOptions())
	require.NoError(t, err)
	r := p.Reflection
	require.Len(t, r.Bindings, 6)

	tex, _ := r.Binding("tex")
	assert.Equal(t, BindingTexture, tex.Kind)
	assert.Equal(t, gputypes.TextureViewDimension2D, tex.Dimension)
	assert.Equal(t, gputypes.TextureSampleTypeFloat, tex.SampleType)

	sampler, _ := r.Binding("tex_sampler")
	assert.Equal(t, BindingSampler, sampler.Kind)
	assert.False(t, sampler.Comparison)

	env, _ := r.Binding("env")
	assert.Equal(t, gputypes.TextureViewDimensionCube, env.Dimension)

	shadow, _ := r.Binding("shadow")
	assert.Equal(t, gputypes.TextureSampleTypeDepth, shadow.SampleType)
	cmp, _ := r.Binding("shadow_sampler")
	assert.True(t, cmp.Comparison)

	counts, _ := r.Binding("counts")
	assert.Equal(t, gputypes.TextureSampleTypeUint, counts.SampleType)
}

func TestReflectionStorageTexture(t *testing.T) {
	p, err := Compile(Source{Label: "fill", Compute: storageWGSL}, TargetWGSL, testOptions())
	require.NoError(t, err)

	img, ok := p.Reflection.Binding("img")
	require.True(t, ok)
	assert.Equal(t, BindingStorageTexture, img.Kind)
	assert.Equal(t, gputypes.TextureFormatRGBA16Float, img.Format)
	assert.False(t, img.ReadOnly)
	assert.Equal(t, [3]uint32{8, 8, 1}, p.Reflection.WorkgroupSize)
}

func TestCompileGLSL(t *testing.T) {
	p, err := Compile(Source{Label: "triangle", Vertex: triangleWGSL, Fragment: triangleWGSL}, TargetGLSL, testOptions())
	require.NoError(t, err)
	vs, ok := p.Stage(gputypes.ShaderStageVertex)
	require.True(t, ok)
	assert.Contains(t, vs.GLSL, "#version 410")
	assert.Contains(t, vs.GLSL, "_group_0_binding_0_vs")
	assert.Empty(t, vs.GLSLSamplers)

	p, err = Compile(Source{Label: "textured", Vertex: texturedWGSL, Fragment: texturedWGSL}, TargetGLSL, testOptions())
	require.NoError(t, err)
	fs, ok := p.Stage(gputypes.ShaderStageFragment)
	require.True(t, ok)
	require.Len(t, fs.GLSLSamplers, 1)
	for name, s := range fs.GLSLSamplers {
		assert.Contains(t, fs.GLSL, name)
		assert.Equal(t, uint32(0), s.Texture.Group)
		assert.Equal(t, uint32(0), s.Texture.Binding)
		require.NotNil(t, s.Sampler)
		assert.Equal(t, uint32(1), s.Sampler.Binding)
	}
}
