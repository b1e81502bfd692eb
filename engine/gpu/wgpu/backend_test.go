package wgpu

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullscreenWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) index: u32) -> @builtin(position) vec4<f32> {
    let uv = vec2<f32>(f32((index << 1u) & 2u), f32(index & 2u));
    return vec4<f32>(uv * 2.0 - 1.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.5, 0.25, 1.0);
}
`

// withAPI routes the wgpu backend name to a backend driving the test
// doubles for the duration of the test.
func withAPI(t *testing.T) *testAPI {
	t.Helper()
	api := newTestAPI()
	gpu.Register(gpu.BackendWGPU, func() gpu.Backend { return New(api) })
	t.Cleanup(func() {
		gpu.Register(gpu.BackendWGPU, func() gpu.Backend { return New(nil) })
	})
	return api
}

func offscreen(w, h int) gpu.Config {
	cfg := gpu.DefaultConfig()
	cfg.Backend = gpu.BackendWGPU
	cfg.Offscreen = true
	cfg.Width, cfg.Height = w, h
	return cfg
}

func onscreen(win *testWindow) gpu.Config {
	cfg := gpu.DefaultConfig()
	cfg.Backend = gpu.BackendWGPU
	cfg.Window = win
	return cfg
}

func newContext(t *testing.T, cfg gpu.Config) *gpu.Context {
	t.Helper()
	ctx := gpu.NewContext()
	require.NoError(t, ctx.Configure(cfg))
	t.Cleanup(ctx.Destroy)
	return ctx
}

type scene struct {
	draw func(ctx *gpu.Context) error
}

func (s *scene) Prepare(*gpu.Context, float64) error { return nil }
func (s *scene) Release(*gpu.Context)                {}

func (s *scene) Draw(ctx *gpu.Context, _ float64) error {
	if s.draw == nil {
		return nil
	}
	return s.draw(ctx)
}

func TestHALErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{hal.ErrDeviceOutOfMemory, core.ErrMemory},
		{hal.ErrSurfaceOutdated, core.ErrSurfaceOutOfDate},
		{hal.ErrDeviceLost, core.ErrDeviceLost},
		{hal.ErrTimeout, core.ErrDeviceLost},
		{hal.ErrTimestampsNotSupported, core.ErrUnsupported},
		{hal.ErrZeroArea, core.ErrInvalidArg},
		{errors.New("driver says no"), core.ErrExternal},
	}
	for _, tt := range tests {
		err := halError("op", tt.err)
		assert.ErrorIs(t, err, tt.want, tt.err.Error())
		assert.Contains(t, err.Error(), tt.err.Error())
	}
	assert.NoError(t, halError("op", nil))
}

func TestRowPitch(t *testing.T) {
	b := New(nil)
	assert.Equal(t, uint64(256), b.rowPitch(1))
	assert.Equal(t, uint64(256), b.rowPitch(64))
	assert.Equal(t, uint64(512), b.rowPitch(65))
	assert.Equal(t, uint64(7), alignUp(7, 1))
	assert.Equal(t, uint64(8), alignUp(5, 4))
}

func TestConfigureDestroyReleasesNativeObjects(t *testing.T) {
	api := withAPI(t)
	ctx := gpu.NewContext()
	require.NoError(t, ctx.Configure(offscreen(64, 32)))
	assert.Positive(t, api.device.live)

	buf := ctx.NewBuffer("vertices")
	require.NoError(t, buf.Init(48, gputypes.BufferUsageVertex))
	tex := ctx.NewTexture("albedo")
	require.NoError(t, tex.Init(gpu.TextureParams{
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Width:        16,
		Height:       16,
		MipmapFilter: gputypes.MipmapFilterModeLinear,
		Usage:        gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
	}))
	require.NoError(t, tex.Upload(make([]byte, 16*16*4), 16*4))
	require.NoError(t, tex.GenerateMipmap())

	for i := 0; i < 3; i++ {
		require.NoError(t, ctx.Draw(float64(i)))
	}
	ctx.Destroy()
	assert.Zero(t, api.device.live)
}

func TestBufferRoundTrip(t *testing.T) {
	withAPI(t)
	ctx := newContext(t, offscreen(16, 16))

	buf := ctx.NewBuffer("storage")
	require.NoError(t, buf.Init(64, gputypes.BufferUsageStorage))
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, buf.Upload(data, 0))

	got := make([]byte, 64)
	require.NoError(t, buf.Download(got, 0))
	assert.Equal(t, data, got)

	// Unaligned ranges are merged with the current content.
	require.NoError(t, buf.Upload([]byte{0xAA, 0xBB, 0xCC}, 5))
	got = make([]byte, 6)
	require.NoError(t, buf.Download(got, 3))
	assert.Equal(t, []byte{3, 4, 0xAA, 0xBB, 0xCC, 8}, got)
}

func TestCaptureStripsRowPadding(t *testing.T) {
	withAPI(t)
	const w, h = 10, 3
	capture := make([]byte, w*h*4)
	cfg := offscreen(w, h)
	cfg.CaptureBuffer = capture
	ctx := newContext(t, cfg)

	require.NoError(t, ctx.Draw(0))
	for y := 0; y < h; y++ {
		for x := 0; x < w*4; x++ {
			require.Equal(t, texel(x, y), capture[y*w*4+x], "byte %d of row %d", x, y)
		}
	}

	require.NoError(t, ctx.SetCaptureBuffer(nil))
	clear(capture)
	require.NoError(t, ctx.Draw(1))
	assert.Equal(t, make([]byte, w*h*4), capture)
}

func TestReadPixelsOfDefaultTarget(t *testing.T) {
	withAPI(t)
	const w, h = 4, 2
	ctx := newContext(t, offscreen(w, h))

	pixels := make([]byte, w*h*4)
	require.NoError(t, ctx.SetScene(&scene{}))
	require.NoError(t, ctx.Draw(0))
	require.NoError(t, ctx.DefaultRenderTarget(gputypes.LoadOpLoad).ReadPixels(pixels))
	assert.Equal(t, texel(5, 1), pixels[1*w*4+5])
}

func TestOutOfDateSurfaceRecreatesOnce(t *testing.T) {
	api := withAPI(t)
	win := &testWindow{w: 320, h: 240}
	ctx := newContext(t, onscreen(win))

	require.NoError(t, ctx.Draw(0))
	require.NoError(t, ctx.Draw(1))

	// The window grew and the third acquisition reports it.
	win.w, win.h = 400, 300
	api.surface.failOn[3] = true
	require.NoError(t, ctx.Draw(2))
	require.NoError(t, ctx.Draw(3))

	assert.Equal(t, 5, api.surface.acquires)
	assert.Equal(t, 2, api.surface.configures)
	assert.Equal(t, uint32(400), api.surface.config.Width)
	assert.Equal(t, uint32(300), api.surface.config.Height)
	assert.Equal(t, 4, api.queue.presents)

	w, h := ctx.Size()
	assert.Equal(t, 400, w)
	assert.Equal(t, 300, h)
	assert.Equal(t, [4]float32{0, 0, 400, 300}, api.device.viewport)
}

func TestOutOfDateSurfaceTwiceFailsTheFrame(t *testing.T) {
	api := withAPI(t)
	ctx := newContext(t, onscreen(&testWindow{w: 320, h: 240}))

	// The acquisition after the recreation fails as well.
	api.surface.failOn[1] = true
	api.surface.failOn[2] = true
	err := ctx.Draw(0)
	assert.ErrorIs(t, err, core.ErrSurfaceOutOfDate)
	assert.Equal(t, 2, api.surface.acquires)
	assert.Equal(t, 2, api.surface.configures)
	assert.Zero(t, api.queue.presents)

	require.NoError(t, ctx.Draw(1))
	assert.Equal(t, 3, api.surface.acquires)
	assert.Equal(t, 2, api.surface.configures)
	assert.Equal(t, 1, api.queue.presents)
}

func TestSurfaceConfiguration(t *testing.T) {
	api := withAPI(t)
	cfg := onscreen(&testWindow{w: 64, h: 64})
	cfg.SwapInterval = 0
	newContext(t, cfg)

	c := api.surface.config
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, c.Format)
	assert.Equal(t, gputypes.PresentModeMailbox, c.PresentMode)
	assert.Equal(t, gputypes.CompositeAlphaModeOpaque, c.AlphaMode)
	assert.NotZero(t, c.Usage&gputypes.TextureUsageCopySrc)
}

func TestFrameSlotsWaitForTheirSubmission(t *testing.T) {
	api := withAPI(t)
	api.queue.lag = true
	cfg := offscreen(8, 8)
	cfg.InFlightFrames = 2
	ctx := newContext(t, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, ctx.Draw(float64(i)))
	}
	assert.Equal(t, 1, ctx.FrameIndex())
	assert.Positive(t, api.queue.polls)
	require.NoError(t, ctx.WaitIdle())
	assert.Equal(t, api.queue.submitted, api.queue.completed)
}

func TestBackendFrameSlotRecycling(t *testing.T) {
	api := newTestAPI()
	api.queue.lag = true
	cfg := offscreen(8, 8)
	cfg.InFlightFrames = 2
	b := New(api)
	require.NoError(t, b.Init(&cfg))
	t.Cleanup(b.Destroy)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.BeginDraw(float64(i)))
		require.NoError(t, b.BeginRenderPass(b.DefaultRenderTarget(gputypes.LoadOpClear)))
		require.NoError(t, b.EndRenderPass())
		require.NoError(t, b.EndDraw(float64(i)))

		// The slot about to be recorded has retired its previous frame.
		assert.GreaterOrEqual(t, b.completed, b.slots[b.frame].submission)
		assert.Equal(t, (i+1)%2, b.FrameIndex())
	}
	// With two slots, one frame may still be in flight.
	assert.LessOrEqual(t, b.submitted-b.completed, uint64(1))
}

func TestResourceInUseUntilCompletion(t *testing.T) {
	api := newTestAPI()
	api.queue.hold = true
	cfg := offscreen(8, 8)
	cfg.InFlightFrames = 2
	b := New(api)
	require.NoError(t, b.Init(&cfg))
	t.Cleanup(b.Destroy)

	rt := b.DefaultRenderTarget(gputypes.LoadOpClear)
	require.NoError(t, b.BeginDraw(0))
	require.NoError(t, b.BeginRenderPass(rt))
	assert.True(t, rt.InUse(), "referenced by the frame being recorded")
	require.NoError(t, b.EndRenderPass())
	require.NoError(t, b.EndDraw(0))
	assert.True(t, rt.InUse(), "submitted but not completed")

	require.NoError(t, b.WaitIdle())
	assert.False(t, rt.InUse())
}

func TestStateCacheDedupesPassCommands(t *testing.T) {
	api := withAPI(t)
	ctx := newContext(t, offscreen(64, 32))

	prog := ctx.NewProgram("fullscreen")
	require.NoError(t, prog.Init(shader.Source{Label: "fullscreen", Vertex: fullscreenWGSL, Fragment: fullscreenWGSL}))
	pl, err := ctx.Pipeline(ctx.NewDefaultPipelineDesc(prog))
	require.NoError(t, err)
	bindings := pl.NewBindings()

	require.NoError(t, ctx.SetScene(&scene{draw: func(ctx *gpu.Context) error {
		for i := 0; i < 3; i++ {
			if err := pl.Draw(bindings, 3, 1); err != nil {
				return err
			}
		}
		return nil
	}}))
	require.NoError(t, ctx.Draw(0))

	d := api.device
	assert.Equal(t, 3, d.draws)
	assert.Equal(t, 1, d.setPipeline)
	assert.Equal(t, 1, d.viewports)
	assert.Equal(t, 1, d.scissors)
	assert.Equal(t, [4]float32{0, 0, 64, 32}, d.viewport)
	assert.Equal(t, [4]uint32{0, 0, 64, 32}, d.scissor)
}

func TestViewportOriginIsBottomLeft(t *testing.T) {
	api := withAPI(t)
	cfg := offscreen(64, 32)
	cfg.Viewport = [4]int{8, 4, 16, 8}
	ctx := newContext(t, cfg)
	require.NoError(t, ctx.Draw(0))

	// 32 - 4 - 8 from the top.
	assert.Equal(t, [4]float32{8, 20, 16, 8}, api.device.viewport)
	assert.Equal(t, state.Rect{X: 8, Y: 4, W: 16, H: 8}, ctx.Viewport())
}

func TestTooManySamplesIsUnsupported(t *testing.T) {
	withAPI(t)
	cfg := offscreen(8, 8)
	cfg.Samples = 8
	ctx := gpu.NewContext()
	t.Cleanup(ctx.Destroy)
	assert.ErrorIs(t, ctx.Configure(cfg), core.ErrUnsupported)
}

func TestMultisampledDefaultTarget(t *testing.T) {
	withAPI(t)
	cfg := offscreen(8, 8)
	cfg.Samples = 4
	ctx := newContext(t, cfg)

	desc := ctx.DefaultRenderTargetDesc()
	assert.Equal(t, 4, desc.Samples)
	assert.True(t, desc.Colors[0].Resolve)
	assert.Equal(t, gputypes.TextureFormatDepth24PlusStencil8, desc.DepthStencil.Format)
	require.NoError(t, ctx.Draw(0))
}

func TestQueryDrawTimeFallsBackToCPU(t *testing.T) {
	withAPI(t)
	cfg := offscreen(8, 8)
	cfg.HUD = true
	ctx := newContext(t, cfg)

	require.NoError(t, ctx.Draw(0))
	d, err := ctx.QueryDrawTime()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(d), int64(0))
}

// renderedTexture returns a sampled, mipmapped texture and a render target
// drawing into its first level.
func renderedTexture(t *testing.T, ctx *gpu.Context) (*gpu.Texture, *gpu.RenderTarget) {
	t.Helper()
	tex := ctx.NewTexture("rendered")
	require.NoError(t, tex.Init(gpu.TextureParams{
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Width:        16,
		Height:       16,
		MinFilter:    gputypes.FilterModeLinear,
		MagFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.MipmapFilterModeLinear,
		Usage:        gpu.TextureUsageSampled | gpu.TextureUsageColorAttachment | gpu.TextureUsageTransferDst,
	}))
	t.Cleanup(tex.Destroy)
	rt := ctx.NewRenderTarget("rendered")
	require.NoError(t, rt.Init(gpu.RenderTargetParams{
		Width:  16,
		Height: 16,
		Colors: []gpu.Attachment{{Texture: tex, Load: gputypes.LoadOpClear, Store: gputypes.StoreOpStore}},
	}))
	t.Cleanup(rt.Destroy)
	return tex, rt
}

// renderInto ends the default pass and runs an empty pass on rt.
func renderInto(ctx *gpu.Context, rt *gpu.RenderTarget) error {
	if err := ctx.EndRenderPass(); err != nil {
		return err
	}
	if err := ctx.BeginRenderPass(rt); err != nil {
		return err
	}
	return ctx.EndRenderPass()
}

func TestGenerateMipmapAfterRenderingInTheSameFrame(t *testing.T) {
	api := withAPI(t)
	ctx := newContext(t, offscreen(16, 16))
	tex, rt := renderedTexture(t, ctx)

	require.NoError(t, ctx.SetScene(&scene{draw: func(ctx *gpu.Context) error {
		if err := renderInto(ctx, rt); err != nil {
			return err
		}
		return tex.GenerateMipmap()
	}}))
	require.NoError(t, ctx.Draw(0))

	// The pass writing level 0 is submitted before the mip chain is built.
	labels := api.queue.labels
	mip := slices.Index(labels, "generate mipmap")
	require.Positive(t, mip, "submissions: %v", labels)
	assert.Equal(t, "frame 0", labels[mip-1])
	assert.Equal(t, "frame 0", labels[len(labels)-1])
}

func TestTextureUploadAfterRenderingInTheSameFrame(t *testing.T) {
	api := withAPI(t)
	ctx := newContext(t, offscreen(16, 16))
	tex, rt := renderedTexture(t, ctx)

	require.NoError(t, ctx.SetScene(&scene{draw: func(ctx *gpu.Context) error {
		if err := renderInto(ctx, rt); err != nil {
			return err
		}
		return tex.Upload(make([]byte, 16*16*4), 16*4)
	}}))
	require.NoError(t, ctx.Draw(0))

	// The partial frame plus the rest of the frame.
	assert.Equal(t, []string{"frame 0", "frame 0"}, api.queue.labels)
}

func TestSampledAttachmentIsReadableAfterThePass(t *testing.T) {
	api := withAPI(t)
	ctx := newContext(t, offscreen(16, 16))
	tex, rt := renderedTexture(t, ctx)
	raw := tex.Impl().(*texture).raw

	require.NoError(t, ctx.SetScene(&scene{draw: func(ctx *gpu.Context) error {
		return renderInto(ctx, rt)
	}}))
	require.NoError(t, ctx.Draw(0))

	var transitions []hal.TextureUsageTransition
	for _, b := range api.device.barriers {
		if b.Texture == raw {
			transitions = append(transitions, b.Usage)
		}
	}
	require.NotEmpty(t, transitions)
	assert.Equal(t, hal.TextureUsageTransition{
		OldUsage: gputypes.TextureUsageRenderAttachment,
		NewUsage: gputypes.TextureUsageTextureBinding,
	}, transitions[len(transitions)-1])
	assert.Equal(t, gputypes.TextureUsageRenderAttachment, transitions[0].NewUsage)
}
