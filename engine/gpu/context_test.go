package gpu

import (
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFake registers the fake under the metal name: no metal backend is
// compiled into these tests. The first context gets the returned backend,
// later ones get fresh fakes.
func withFake(t *testing.T, setup func(*fakeBackend)) *fakeBackend {
	t.Helper()
	create := func() *fakeBackend {
		fb := newFakeBackend()
		if setup != nil {
			setup(fb)
		}
		return fb
	}
	first := create()
	used := false
	Register(BackendMetal, func() Backend {
		if !used {
			used = true
			return first
		}
		return create()
	})
	t.Cleanup(func() { Unregister(BackendMetal) })
	return first
}

func offscreenConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMetal
	cfg.Offscreen = true
	cfg.Width, cfg.Height = 64, 32
	return cfg
}

type fakeSurface struct {
	w, h int
}

func (s fakeSurface) NativeHandles() (uintptr, uintptr) { return 1, 2 }
func (s fakeSurface) FramebufferSize() (int, int)       { return s.w, s.h }

func onscreenConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = BackendMetal
	cfg.Width, cfg.Height = 0, 0
	cfg.Window = fakeSurface{w: 320, h: 240}
	return cfg
}

func configured(t *testing.T, cfg Config) *Context {
	t.Helper()
	ctx := NewContext()
	require.NoError(t, ctx.Configure(cfg))
	t.Cleanup(ctx.Destroy)
	return ctx
}

type testScene struct {
	prepare  func(ctx *Context, t float64) error
	draw     func(ctx *Context, t float64) error
	release  func(ctx *Context)
	prepared int
	drawn    int
	released int
}

func (s *testScene) Prepare(ctx *Context, t float64) error {
	s.prepared++
	if s.prepare != nil {
		return s.prepare(ctx, t)
	}
	return nil
}

func (s *testScene) Draw(ctx *Context, t float64) error {
	s.drawn++
	if s.draw != nil {
		return s.draw(ctx, t)
	}
	return nil
}

func (s *testScene) Release(ctx *Context) {
	s.released++
	if s.release != nil {
		s.release(ctx)
	}
}

func TestConfigureThenDestroyReleasesEverything(t *testing.T) {
	fb := withFake(t, nil)
	ctx := NewContext()
	require.NoError(t, ctx.Configure(offscreenConfig()))
	assert.Equal(t, StateConfigured, ctx.State())
	assert.Equal(t, BackendMetal, ctx.BackendType())

	buf := ctx.NewBuffer("leaked")
	require.NoError(t, buf.Init(64, gputypes.BufferUsageUniform))

	ctx.Destroy()
	assert.Equal(t, StateDestroyed, ctx.State())
	assert.Zero(t, fb.live)
	assert.Contains(t, fb.events, "destroy")

	ctx.Destroy()
	buf.Destroy()
	assert.ErrorIs(t, ctx.Configure(offscreenConfig()), core.ErrInvalidUsage)
}

func TestConfigureRejectsInvalidConfigs(t *testing.T) {
	withFake(t, nil)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"onscreen without window", func(c *Config) { c.Offscreen = false }, core.ErrInvalidArg},
		{"offscreen without size", func(c *Config) { c.Width = 0 }, core.ErrInvalidArg},
		{"capture onscreen", func(c *Config) {
			c.Offscreen = false
			c.Window = fakeSurface{w: 64, h: 32}
			c.CaptureBuffer = make([]byte, 64*32*4)
		}, core.ErrInvalidUsage},
		{"gpu capture", func(c *Config) {
			c.CaptureBufferType = CaptureBufferGPU
			c.CaptureBuffer = make([]byte, 64*32*4)
		}, core.ErrUnsupported},
		{"short capture", func(c *Config) { c.CaptureBuffer = make([]byte, 16) }, core.ErrInvalidArg},
		{"missing backend", func(c *Config) { c.Backend = BackendVulkan }, core.ErrUnsupported},
		{"bad samples", func(c *Config) { c.Samples = 3 }, core.ErrInvalidArg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offscreenConfig()
			tt.mutate(&cfg)
			ctx := NewContext()
			err := ctx.Configure(cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateUnconfigured, ctx.State())
		})
	}
}

func TestConfigureRollsBackFailedInit(t *testing.T) {
	fb := withFake(t, func(fb *fakeBackend) { fb.failInit = core.ErrMemory })
	ctx := NewContext()
	err := ctx.Configure(offscreenConfig())
	require.ErrorIs(t, err, core.ErrMemory)
	assert.Equal(t, core.StatusMemory, core.Status(err))
	assert.Equal(t, StateUnconfigured, ctx.State())
	assert.Contains(t, fb.events, "destroy")
	assert.ErrorIs(t, ctx.Draw(0), core.ErrInvalidUsage)
}

func TestReconfigureReplacesBackend(t *testing.T) {
	withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	tex := ctx.NewTexture("old")
	require.NoError(t, tex.Init(TextureParams{Format: gputypes.TextureFormatRGBA8Unorm, Width: 4, Height: 4}))

	cfg := offscreenConfig()
	cfg.Width, cfg.Height = 16, 16
	require.NoError(t, ctx.Configure(cfg))
	w, h := ctx.Size()
	assert.Equal(t, 16, w)
	assert.Equal(t, 16, h)
	assert.ErrorIs(t, tex.Upload(make([]byte, 64), 0), core.ErrInvalidUsage)
}

func TestFrameSlotsCycle(t *testing.T) {
	fb := withFake(t, nil)
	cfg := offscreenConfig()
	cfg.InFlightFrames = 3
	ctx := configured(t, cfg)

	for n := 1; n <= 7; n++ {
		require.NoError(t, ctx.Draw(float64(n)))
		assert.Contains(t, fb.events, submitEvent(n, (n-1)%3))
		assert.Equal(t, n%3, ctx.FrameIndex())
		assert.Equal(t, StateFrameEnded, ctx.State())
	}
	// Slots are only waited on once reused, starting with the fourth frame.
	assert.Equal(t, []int{0, 1, 2, 0, 1}, fb.slotWaits)
}

func submitEvent(n, slot int) string {
	return fmt.Sprintf("submit %d on slot %d", n, slot)
}

func TestDrawRunsSceneInDefaultRenderPass(t *testing.T) {
	fb := withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	scene := &testScene{
		draw: func(ctx *Context, _ float64) error {
			assert.Equal(t, StateInRenderPass, ctx.State())
			assert.Same(t, ctx.DefaultRenderTarget(gputypes.LoadOpClear), ctx.CurrentRenderTarget())
			return nil
		},
	}
	require.NoError(t, ctx.SetScene(scene))
	require.NoError(t, ctx.Draw(0.5))

	assert.Equal(t, 1, scene.prepared)
	assert.Equal(t, 1, scene.drawn)
	assert.Equal(t, []string{"init", "wait idle", "begin draw 0", "begin pass default", "end pass", "submit 1 on slot 0", "wait slot 0 fence 1"}, fb.events)
}

func TestDrawClosesPassAndFrameOnSceneError(t *testing.T) {
	fb := withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	scene := &testScene{
		draw: func(*Context, float64) error { return core.ErrInvalidArg },
	}
	require.NoError(t, ctx.SetScene(scene))
	assert.ErrorIs(t, ctx.Draw(0), core.ErrInvalidArg)
	assert.Contains(t, fb.events, "end pass")
	assert.Contains(t, fb.events, "submit 1 on slot 0")
	assert.Equal(t, StateFrameEnded, ctx.State())
	assert.Nil(t, ctx.CurrentRenderTarget())

	scene.draw = nil
	require.NoError(t, ctx.Draw(1))
	assert.Equal(t, 2, scene.drawn)
}

func TestDrawCannotBeReentered(t *testing.T) {
	withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	var inner error
	scene := &testScene{
		draw: func(ctx *Context, t float64) error {
			inner = ctx.Draw(t)
			return nil
		},
	}
	require.NoError(t, ctx.SetScene(scene))
	require.NoError(t, ctx.Draw(0))
	assert.ErrorIs(t, inner, core.ErrInvalidUsage)
	assert.Equal(t, 1, scene.drawn)
}

func TestFrameStateMachine(t *testing.T) {
	withFake(t, nil)
	ctx := configured(t, offscreenConfig())

	assert.ErrorIs(t, ctx.EndRenderPass(), core.ErrInvalidUsage)
	assert.ErrorIs(t, ctx.BeginRenderPass(ctx.DefaultRenderTarget(gputypes.LoadOpLoad)), core.ErrInvalidUsage)

	scene := &testScene{
		draw: func(ctx *Context, _ float64) error {
			assert.ErrorIs(t, ctx.BeginRenderPass(ctx.DefaultRenderTarget(gputypes.LoadOpLoad)), core.ErrInvalidUsage)
			assert.ErrorIs(t, ctx.Resize(10, 10, [4]int{}), core.ErrInvalidUsage)
			assert.ErrorIs(t, ctx.SetScene(nil), core.ErrInvalidUsage)
			require.NoError(t, ctx.EndRenderPass())
			assert.Equal(t, StateDrawing, ctx.State())
			return ctx.BeginRenderPass(ctx.DefaultRenderTarget(gputypes.LoadOpLoad))
		},
	}
	require.NoError(t, ctx.SetScene(scene))
	require.NoError(t, ctx.Draw(0))
	assert.Equal(t, StateFrameEnded, ctx.State())
}

func TestResizeIsIdempotent(t *testing.T) {
	fb := withFake(t, nil)
	ctx := configured(t, onscreenConfig())
	w, h := ctx.Size()
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	require.NoError(t, ctx.Resize(100, 50, [4]int{}))
	first := ctx.DefaultRenderTargetDesc()
	require.NoError(t, ctx.Resize(100, 50, [4]int{}))
	assert.Equal(t, first, ctx.DefaultRenderTargetDesc())

	resizes := 0
	for _, e := range fb.events {
		if e == "resize 100x50" {
			resizes++
		}
	}
	assert.Equal(t, 1, resizes)
	assert.Equal(t, state.Rect{W: 100, H: 50}, ctx.Viewport())
	assert.Equal(t, state.Rect{W: 100, H: 50}, ctx.Scissor())
}

func TestResizeViewportRules(t *testing.T) {
	withFake(t, nil)
	cfg := onscreenConfig()
	cfg.Viewport = [4]int{10, 20, 30, 40}
	ctx := configured(t, cfg)
	assert.Equal(t, state.Rect{X: 10, Y: 20, W: 30, H: 40}, ctx.Viewport())
	assert.Equal(t, state.Rect{W: 320, H: 240}, ctx.Scissor())

	require.NoError(t, ctx.Resize(200, 100, [4]int{5, 5, 0, 10}))
	assert.Equal(t, state.Rect{W: 200, H: 100}, ctx.Viewport())

	assert.ErrorIs(t, ctx.Resize(0, 100, [4]int{}), core.ErrInvalidArg)
	assert.ErrorIs(t, ctx.Resize(10, 10, [4]int{-1, 0, 0, 0}), core.ErrInvalidArg)
}

func TestResizeOffscreenIsUnsupported(t *testing.T) {
	withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	err := ctx.Resize(128, 128, [4]int{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
	assert.Equal(t, core.StatusUnsupported, core.Status(err))
}

func TestRenderPassUsesContextViewport(t *testing.T) {
	fb := withFake(t, nil)
	cfg := offscreenConfig()
	cfg.Viewport = [4]int{1, 2, 3, 4}
	ctx := configured(t, cfg)
	require.NoError(t, ctx.Draw(0))
	require.NotEmpty(t, fb.viewports)
	assert.Equal(t, state.Rect{X: 1, Y: 2, W: 3, H: 4}, fb.viewports[0])
}

func TestCaptureBuffer(t *testing.T) {
	withFake(t, nil)

	onscreen := configured(t, onscreenConfig())
	assert.ErrorIs(t, onscreen.SetCaptureBuffer(make([]byte, 320*240*4)), core.ErrInvalidUsage)

	ctx := configured(t, offscreenConfig())
	assert.ErrorIs(t, ctx.SetCaptureBuffer(make([]byte, 10)), core.ErrInvalidArg)

	capture := make([]byte, 64*32*4)
	require.NoError(t, ctx.SetCaptureBuffer(capture))
	require.NoError(t, ctx.Draw(0))
	assert.Equal(t, byte(0xff), capture[len(capture)-1])

	require.NoError(t, ctx.SetCaptureBuffer(nil))
	assert.Nil(t, ctx.Config().CaptureBuffer)
}

func TestQueryDrawTimeNeedsHUD(t *testing.T) {
	withFake(t, nil)
	ctx := configured(t, offscreenConfig())
	_, err := ctx.QueryDrawTime()
	assert.ErrorIs(t, err, core.ErrInvalidUsage)

	cfg := offscreenConfig()
	cfg.HUD = true
	hud := configured(t, cfg)
	for i := 0; i < 3; i++ {
		require.NoError(t, hud.Draw(float64(i)))
	}
	assert.Equal(t, newFakeBackend().drawTime, hud.AverageDrawTime())
	d, err := hud.QueryDrawTime()
	require.NoError(t, err)
	assert.Equal(t, newFakeBackend().drawTime, d)
}

func TestSetSceneAndReset(t *testing.T) {
	fb := withFake(t, nil)
	ctx := configured(t, offscreenConfig())

	var buf *Buffer
	first := &testScene{
		prepare: func(ctx *Context, _ float64) error {
			if buf == nil {
				buf = ctx.NewBuffer("scene")
				return buf.Init(16, gputypes.BufferUsageUniform)
			}
			return nil
		},
		release: func(*Context) {
			buf.Destroy()
			buf = nil
		},
	}
	require.NoError(t, ctx.SetScene(first))
	require.NoError(t, ctx.Draw(0))
	require.NotNil(t, buf)

	require.NoError(t, ctx.Reset(ResetKeepScene))
	assert.Equal(t, 1, first.released)
	assert.Same(t, first, ctx.Scene())
	require.NoError(t, ctx.Draw(1))
	require.NotNil(t, buf)

	second := &testScene{}
	require.NoError(t, ctx.SetScene(second))
	assert.Equal(t, 2, first.released)
	assert.Same(t, second, ctx.Scene())

	require.NoError(t, ctx.Reset(ResetUnrefScene))
	assert.Nil(t, ctx.Scene())
	assert.Equal(t, 1, second.released)
	// The default target is the only native object left.
	assert.Equal(t, 1, fb.live)
}

func TestThreadBoundBackendGoesThroughDispatcher(t *testing.T) {
	fb := withFake(t, func(fb *fakeBackend) { fb.threadBound = true })
	ctx := NewContext()
	require.NoError(t, ctx.Configure(offscreenConfig()))
	require.NotNil(t, ctx.dispatcher)

	buf := ctx.NewBuffer("data")
	require.NoError(t, buf.Init(32, gputypes.BufferUsageStorage))
	require.NoError(t, buf.Upload(make([]byte, 32), 0))
	require.NoError(t, ctx.Draw(0))

	ctx.Destroy()
	assert.Nil(t, ctx.dispatcher)
	assert.Zero(t, fb.live)
}
