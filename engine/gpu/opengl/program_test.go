package opengl

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformBlocks(t *testing.T) {
	src := `#version 410 core
layout(std140) uniform Camera_block_0Vertex { Camera _group_0_binding_0_vs; };
uniform Light_block_1Vertex
{
    Light _group_1_binding_3_vs;
};
uniform highp sampler2D _group_0_binding_1_vs;
`
	blocks := uniformBlocks(src)
	require.Len(t, blocks, 2)
	assert.Equal(t, uniformBlock{name: "Camera_block_0Vertex", slot: slot{0, 0}}, blocks[0])
	assert.Equal(t, uniformBlock{name: "Light_block_1Vertex", slot: slot{1, 3}}, blocks[1])

	assert.Empty(t, uniformBlocks("void main() {}"))
}

const cameraWGSL = `
struct Camera {
    offset: vec4<f32>,
}

@group(0) @binding(2) var<uniform> camera: Camera;

@vertex
fn vs_main(@location(0) pos: vec3<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos.x, pos.y, pos.z, 1.0) + camera.offset;
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

func TestUniformBlocksFromCompiledProgram(t *testing.T) {
	opts := shader.DefaultOptions()
	opts.Validate = false
	p, err := shader.Compile(shader.Source{Label: "camera", Vertex: cameraWGSL, Fragment: cameraWGSL}, shader.TargetGLSL, opts)
	require.NoError(t, err)
	vs, ok := p.Stage(gputypes.ShaderStageVertex)
	require.True(t, ok)

	blocks := uniformBlocks(vs.GLSL)
	require.Len(t, blocks, 1)
	assert.Equal(t, slot{0, 2}, blocks[0].slot)
	assert.Contains(t, vs.GLSL, blocks[0].name)
}
