package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineAssetType(t *testing.T) {
	assert.Equal(t, AssetTypeShader, determineAssetType("a/b.vert.wgsl"))
	assert.Equal(t, AssetTypeShader, determineAssetType("b.comp.wgsl"))
	assert.Equal(t, AssetTypeImage, determineAssetType("b.PNG"))
	assert.Equal(t, AssetTypeNone, determineAssetType("b.obj"))
}

func TestAssetManagerReportsShaderChanges(t *testing.T) {
	core.EventInitialize()
	defer core.EventShutdown()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "fx"), 0o755))
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("fx/blur.vert.wgsl", "vs")
	write("fx/blur.frag.wgsl", "fs")
	write("readme.txt", "")

	var (
		mu      sync.Mutex
		changed []string
	)
	core.EventRegister(core.EVENT_CODE_SHADER_CHANGED, t, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		mu.Lock()
		defer mu.Unlock()
		changed = append(changed, data.Path)
		return true
	})

	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	defer am.Close()

	assert.Len(t, am.Assets(AssetTypeShader), 2)
	src, err := am.LoadShader("fx/blur")
	require.NoError(t, err)
	assert.Equal(t, "vs", src.Vertex)

	write("fx/blur.frag.wgsl", "fs2")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "fx/blur", changed[0])
	mu.Unlock()

	src, err = am.LoadShader("fx/blur")
	require.NoError(t, err)
	assert.Equal(t, "fs2", src.Fragment)
}

func TestAssetManagerClose(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Initialize(t.TempDir()))
	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Close(), errClosed)
}

func TestAssetManagerCloseWithoutWatch(t *testing.T) {
	am, err := NewAssetManager()
	require.NoError(t, err)
	require.NoError(t, am.Close())
	assert.ErrorIs(t, am.Close(), errClosed)
}
