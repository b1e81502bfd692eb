package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, g *Game) *Engine {
	t.Helper()
	e, err := New(g)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.assetManager.Close() })
	return e
}

func TestNewRequiresApplicationConfig(t *testing.T) {
	_, err := New(&Game{})
	assert.ErrorIs(t, err, core.ErrInvalidArg)
}

func TestNewLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.toml")
	require.NoError(t, os.WriteFile(path, []byte("offscreen = true\nwidth = 64\nheight = 32\nsamples = 4\n"), 0o644))

	e := newTestEngine(t, &Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path}})
	assert.True(t, e.config.Offscreen)
	assert.Equal(t, 64, e.config.Width)
	assert.Equal(t, 32, e.config.Height)
	assert.Equal(t, 4, e.config.Samples)
	assert.Equal(t, gpu.BackendAuto, e.config.Backend)

	require.NoError(t, os.WriteFile(path, []byte("samples = 3\n"), 0o644))
	_, err := New(&Game{ApplicationConfig: &ApplicationConfig{ConfigPath: path}})
	assert.ErrorIs(t, err, core.ErrInvalidArg)
}

func TestRunRequiresInitialize(t *testing.T) {
	e := newTestEngine(t, &Game{ApplicationConfig: &ApplicationConfig{}})
	assert.ErrorIs(t, e.Run(), core.ErrInvalidUsage)
}

func TestShaderChangesAreCoalesced(t *testing.T) {
	var reloaded []string
	g := &Game{
		ApplicationConfig: &ApplicationConfig{},
		FnShaderChanged: func(name string) error {
			reloaded = append(reloaded, name)
			if name == "shaders/broken" {
				return errors.New("compile error")
			}
			return nil
		},
	}
	e := newTestEngine(t, g)

	for _, name := range []string{"shaders/quad", "shaders/broken", "shaders/quad"} {
		e.onShaderChanged(core.EVENT_CODE_SHADER_CHANGED, nil, e, core.EventContext{Path: name})
	}
	require.NoError(t, e.applyPending(), "a failed reload keeps the player running")
	assert.Equal(t, []string{"shaders/broken", "shaders/quad"}, reloaded)

	reloaded = nil
	require.NoError(t, e.applyPending())
	assert.Empty(t, reloaded)
}

func TestEscapeStopsTheEngine(t *testing.T) {
	core.EventInitialize()
	defer core.EventShutdown()
	e := newTestEngine(t, &Game{ApplicationConfig: &ApplicationConfig{}})
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.isRunning.Store(true)

	assert.False(t, e.onKey(core.EVENT_CODE_KEY_PRESSED, nil, e, core.EventContext{Key: int(core.KEY_SPACE)}))
	assert.True(t, e.isRunning.Load())

	assert.True(t, e.onKey(core.EVENT_CODE_KEY_PRESSED, nil, e, core.EventContext{Key: int(core.KEY_ESCAPE)}))
	assert.False(t, e.isRunning.Load())
}

func TestMinimizedWindowSuspends(t *testing.T) {
	e := newTestEngine(t, &Game{ApplicationConfig: &ApplicationConfig{}})
	e.onResized(core.EVENT_CODE_RESIZED, nil, e, core.EventContext{Width: 0, Height: 0})
	require.NoError(t, e.applyPending())
	assert.True(t, e.isSuspended)
}

func TestShippedConfigs(t *testing.T) {
	cfg, err := gpu.LoadConfig("../player.toml")
	require.NoError(t, err)
	assert.False(t, cfg.Offscreen)
	assert.Equal(t, 4, cfg.Samples)
	assert.True(t, cfg.HUD)

	cfg, err = gpu.LoadConfig("../offscreen.toml")
	require.NoError(t, err)
	assert.True(t, cfg.Offscreen)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 360, cfg.Height)
}
