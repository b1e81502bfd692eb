package gpu

import (
	"testing"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	_, _, err := newBackend(BackendAuto)
	assert.ErrorIs(t, err, core.ErrUnsupported, "nothing compiled in")

	fb := withFake(t, nil)
	assert.Contains(t, Available(), BackendMetal)

	name, b, err := newBackend(BackendAuto)
	require.NoError(t, err)
	assert.Equal(t, BackendMetal, name)
	assert.Same(t, fb, b)

	_, _, err = newBackend(BackendVulkan)
	assert.ErrorIs(t, err, core.ErrUnsupported)

	Register(BackendOpenGL, func() Backend { return nil })
	defer Unregister(BackendOpenGL)
	_, _, err = newBackend(BackendOpenGL)
	assert.ErrorIs(t, err, core.ErrUnsupported)

	// Metal ranks above OpenGL.
	name, _, err = newBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendMetal, name)
	assert.Equal(t, BackendMetal, ResolveBackend(BackendAuto))
	assert.Equal(t, BackendVulkan, ResolveBackend(BackendVulkan))
}

func TestConfigureUnavailableBackend(t *testing.T) {
	withFake(t, nil)
	cfg := offscreenConfig()
	cfg.Backend = BackendWGPU
	ctx := NewContext()
	defer ctx.Destroy()
	assert.ErrorIs(t, ctx.Configure(cfg), core.ErrUnsupported)
	assert.Equal(t, StateUnconfigured, ctx.State())
}
