package testbed

import (
	"testing"

	"github.com/spaghettifunk/gpuctx/engine"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinShadersCompile(t *testing.T) {
	src, err := builtinSource()
	require.NoError(t, err)
	assert.Equal(t, ProgramName, src.Label)

	for _, target := range []shader.Target{shader.TargetSPIRV, shader.TargetGLSL, shader.TargetWGSL} {
		p, err := shader.Compile(src, target, shader.DefaultOptions())
		require.NoError(t, err, target.String())

		frame, ok := p.Reflection.Binding("frame")
		require.True(t, ok)
		assert.Equal(t, shader.BindingUniformBuffer, frame.Kind)
		assert.EqualValues(t, frameSize, frame.Size)

		tex, ok := p.Reflection.Binding("tex")
		require.True(t, ok)
		assert.Equal(t, shader.BindingTexture, tex.Kind)
		_, ok = p.Reflection.Binding("tex" + "_sampler")
		assert.True(t, ok)
		_, ok = p.Reflection.Attribute("position")
		assert.True(t, ok)
		_, ok = p.Reflection.Attribute("uv")
		assert.True(t, ok)
	}
}

func TestCheckerboard(t *testing.T) {
	pix := checkerboard(4, 2)
	require.Len(t, pix, 4*4*4)
	assert.Equal(t, pix[0:4], pix[4:8], "same cell")
	assert.NotEqual(t, pix[0:4], pix[8:12], "next cell")
	assert.Equal(t, pix[0:4], pix[(2*4+2)*4:(2*4+2)*4+4], "diagonal cell")
}

func TestQuadData(t *testing.T) {
	assert.Len(t, quadVertices, 4*4)
	for _, i := range quadIndices {
		assert.Less(t, int(i), len(quadVertices)/4)
	}
}

func TestNewTestGameWiresHooks(t *testing.T) {
	tg := NewTestGame(&engine.ApplicationConfig{Name: "test"}, "")
	assert.NotNil(t, tg.Scene)
	assert.NotNil(t, tg.FnInitialize)
	assert.NotNil(t, tg.FnShaderChanged)
	assert.NoError(t, tg.FnShaderChanged("other"), "unrelated programs are ignored")
	assert.NoError(t, tg.FnShaderChanged(ProgramName), "nothing to reload before the first frame")
}
