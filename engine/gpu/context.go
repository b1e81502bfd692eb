package gpu

import (
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/containers"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

// Scene is the node graph driven by a context. It issues resource and
// pipeline calls against the context and owns everything it creates.
type Scene interface {
	// Prepare advances the scene to time t. Host-side resource updates
	// happen here.
	Prepare(ctx *Context, t float64) error
	// Draw records the scene for time t. It is called with the default
	// render target bound.
	Draw(ctx *Context, t float64) error
	// Release destroys every GPU resource of the scene. The scene may be
	// prepared again afterwards.
	Release(ctx *Context)
}

type ResetAction uint8

const (
	// ResetKeepScene releases the GPU resources of the scene and keeps it
	// attached.
	ResetKeepScene ResetAction = iota
	// ResetUnrefScene also detaches the scene.
	ResetUnrefScene
)

// Context is the handle every rendering call goes through. It owns one
// backend and every resource created from it. A context must not be used
// from several goroutines at once.
type Context struct {
	config      Config
	backendType BackendType
	backend     Backend
	dispatcher  *Dispatcher

	state    FrameState
	drawing  atomic.Bool
	scene    Scene
	viewport state.Rect
	scissor  state.Rect

	rt        *RenderTarget
	rtClear   *RenderTarget
	rtLoad    *RenderTarget
	tracker   *core.Tracker
	live      []*resource
	deferred  []deferredRelease
	pipelines map[pipelineKey]*Pipeline
	drawTimes *containers.RingQueue[time.Duration]
}

type deferredRelease struct {
	kind  string
	label string
	impl  Releasable
}

func NewContext() *Context {
	return &Context{
		tracker:   core.NewTracker(),
		pipelines: make(map[pipelineKey]*Pipeline),
		drawTimes: containers.NewRingQueue[time.Duration](int(core.AVG_COUNT)),
	}
}

// fail logs err once, naming the operation, and returns it unchanged.
func (c *Context) fail(op string, err error) error {
	if err != nil {
		core.LogError("%s: %v", op, err)
	}
	return err
}

// run executes fn on the backend owning thread.
func (c *Context) run(fn func() error) error {
	if c.dispatcher != nil {
		return c.dispatcher.Call(fn)
	}
	return fn()
}

func (c *Context) track(r *resource, kind, label string) {
	r.ctx = c
	r.kind = kind
	r.label = label
	r.id = c.tracker.Acquire(kind, label)
	c.live = append(c.live, r)
}

func (c *Context) untrack(r *resource) {
	if i := slices.Index(c.live, r); i >= 0 {
		c.live = slices.Delete(c.live, i, i+1)
	}
	if err := c.tracker.Release(r.id); err != nil {
		core.LogWarn("%s %q: %v", r.kind, r.label, err)
	}
}

// release frees impl once the GPU cannot reference it anymore. Within a
// frame the commands recorded so far are not submitted, so the release
// waits for the end of the frame.
func (c *Context) release(kind, label string, impl Releasable) {
	if c.backend == nil {
		impl.Release()
		return
	}
	if c.inFrame() {
		c.deferred = append(c.deferred, deferredRelease{kind, label, impl})
		return
	}
	c.releaseNow(kind, label, impl)
}

func (c *Context) releaseNow(kind, label string, impl Releasable) {
	err := c.run(func() error {
		var err error
		if impl.InUse() {
			core.LogDebug("%s %q is in use by the GPU, waiting for idle", kind, label)
			err = c.backend.WaitIdle()
		}
		impl.Release()
		return err
	})
	c.fail("destroy "+kind, err)
}

func (c *Context) flushDeferred() {
	pending := c.deferred
	c.deferred = nil
	for _, d := range pending {
		c.releaseNow(d.kind, d.label, d.impl)
	}
}

// Configure creates the backend described by cfg. On an already configured
// context the previous backend and every resource are destroyed first.
func (c *Context) Configure(cfg Config) error {
	return c.fail("configure", c.configure(cfg))
}

func (c *Context) configure(cfg Config) error {
	if c.state == StateDestroyed {
		return fmt.Errorf("context is destroyed: %w", core.ErrInvalidUsage)
	}
	if c.inFrame() || c.drawing.Load() {
		return fmt.Errorf("configure within a frame: %w", core.ErrInvalidUsage)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Offscreen && cfg.Window == nil {
		return fmt.Errorf("onscreen context needs a window: %w", core.ErrInvalidArg)
	}
	if cfg.LogLevel != "" {
		if err := core.SetLogLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("log level %q: %v: %w", cfg.LogLevel, err, core.ErrInvalidArg)
		}
	}
	if cfg.Window != nil && !cfg.Offscreen && (cfg.Width == 0 || cfg.Height == 0) {
		cfg.Width, cfg.Height = cfg.Window.FramebufferSize()
	}

	if c.backend != nil {
		core.LogInfo("reconfiguring %s context", c.backendType)
		c.teardown()
	}

	name, b, err := newBackend(cfg.Backend)
	if err != nil {
		return err
	}
	if tb, ok := b.(ThreadBound); ok && tb.RequiresOwnerThread() {
		c.dispatcher = NewDispatcher()
		c.dispatcher.Go()
	}
	c.config = cfg
	c.backend = b
	c.backendType = name

	if err := c.run(func() error { return b.Init(&c.config) }); err != nil {
		c.run(func() error {
			b.Destroy()
			return nil
		})
		c.stopDispatcher()
		c.backend = nil
		c.backendType = ""
		c.state = StateUnconfigured
		return fmt.Errorf("%s backend: %w", name, err)
	}

	c.rtClear = c.newDefaultTarget()
	c.rtLoad = c.newDefaultTarget()
	w, h := b.Size()
	c.resetViewport(w, h, cfg.Viewport)
	c.state = StateConfigured
	core.LogInfo("configured %s backend: %dx%d, %d samples, offscreen=%t, %d frames in flight",
		name, w, h, cfg.SampleCount(), cfg.Offscreen, b.InFlightFrames())
	return nil
}

func (c *Context) newDefaultTarget() *RenderTarget {
	rt := &RenderTarget{builtin: true}
	rt.ctx = c
	rt.kind = "rendertarget"
	rt.label = "default"
	return rt
}

// resetViewport applies the default rules: the configured viewport when it
// has an area, the full surface otherwise. The scissor always covers the
// full surface.
func (c *Context) resetViewport(w, h int, vp [4]int) {
	if vp[2] > 0 && vp[3] > 0 {
		c.viewport = state.Rect{X: vp[0], Y: vp[1], W: vp[2], H: vp[3]}
	} else {
		c.viewport = state.Rect{W: w, H: h}
	}
	c.scissor = state.Rect{W: w, H: h}
}

func (c *Context) stopDispatcher() {
	if c.dispatcher != nil {
		c.dispatcher.Stop()
		c.dispatcher = nil
	}
}

// teardown releases the scene resources, every live resource in reverse
// creation order, then the backend.
func (c *Context) teardown() {
	if err := c.run(c.backend.WaitIdle); err != nil {
		core.LogError("wait idle: %v", err)
	}
	if c.scene != nil {
		c.scene.Release(c)
	}
	clear(c.pipelines)
	for _, r := range c.live {
		if r.kind != "pipeline" {
			core.LogDebug("releasing %s %q still alive at teardown", r.kind, r.label)
		}
	}
	live := slices.Clone(c.live)
	for i := len(live) - 1; i >= 0; i-- {
		live[i].destroy()
	}
	c.flushDeferred()
	c.run(func() error {
		c.backend.Destroy()
		return nil
	})
	c.stopDispatcher()
	for _, leak := range c.tracker.Live() {
		core.LogWarn("leaked GPU resource: %s", leak)
	}
	c.backend = nil
	c.rt, c.rtClear, c.rtLoad = nil, nil, nil
	c.state = StateUnconfigured
}

// Resize recreates the size dependent resources of an onscreen context.
// Offscreen contexts have a fixed size.
func (c *Context) Resize(width, height int, viewport [4]int) error {
	return c.fail("resize", c.resize(width, height, viewport))
}

func (c *Context) resize(width, height int, viewport [4]int) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if c.config.Offscreen {
		return fmt.Errorf("offscreen contexts cannot be resized: %w", core.ErrUnsupported)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d: %w", width, height, core.ErrInvalidArg)
	}
	for _, v := range viewport {
		if v < 0 {
			return fmt.Errorf("invalid viewport %v: %w", viewport, core.ErrInvalidArg)
		}
	}
	if err := c.run(func() error { return c.backend.Resize(width, height) }); err != nil {
		return err
	}
	w, h := c.backend.Size()
	c.config.Width, c.config.Height = w, h
	c.config.Viewport = viewport
	c.resetViewport(w, h, viewport)
	return nil
}

// SetCaptureBuffer sets the host memory the next frames are read back
// into. It is only legal on offscreen contexts; nil disables capture.
func (c *Context) SetCaptureBuffer(buf []byte) error {
	return c.fail("set capture buffer", c.setCaptureBuffer(buf))
}

func (c *Context) setCaptureBuffer(buf []byte) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if !c.config.Offscreen {
		return fmt.Errorf("capture buffer on an onscreen context: %w", core.ErrInvalidUsage)
	}
	if buf != nil {
		if c.config.CaptureBufferType != CaptureBufferCPU {
			return fmt.Errorf("capture buffer type %q is not supported: %w", c.config.CaptureBufferType, core.ErrUnsupported)
		}
		w, h := c.backend.Size()
		if len(buf) < w*h*4 {
			return fmt.Errorf("capture buffer holds %d bytes, %dx%d RGBA needs %d: %w", len(buf), w, h, w*h*4, core.ErrInvalidArg)
		}
	}
	if err := c.run(func() error { return c.backend.SetCaptureBuffer(buf) }); err != nil {
		return err
	}
	c.config.CaptureBuffer = buf
	return nil
}

// SetScene waits for the GPU, releases the current scene and attaches s.
func (c *Context) SetScene(s Scene) error {
	return c.fail("set scene", c.setScene(s))
}

func (c *Context) setScene(s Scene) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if err := c.run(c.backend.WaitIdle); err != nil {
		return err
	}
	if c.scene != nil {
		c.scene.Release(c)
	}
	c.scene = s
	return nil
}

func (c *Context) Scene() Scene {
	return c.scene
}

// Reset releases the scene resources without destroying the context.
func (c *Context) Reset(action ResetAction) error {
	return c.fail("reset", c.reset(action))
}

func (c *Context) reset(action ResetAction) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if err := c.run(c.backend.WaitIdle); err != nil {
		return err
	}
	if c.scene != nil {
		c.scene.Release(c)
	}
	for _, p := range slices.Collect(maps.Values(c.pipelines)) {
		p.Destroy()
	}
	if action == ResetUnrefScene {
		c.scene = nil
	}
	return nil
}

// WaitIdle blocks until the GPU has consumed every submitted command.
func (c *Context) WaitIdle() error {
	if c.backend == nil {
		return c.fail("wait idle", fmt.Errorf("context is not configured: %w", core.ErrInvalidUsage))
	}
	return c.fail("wait idle", c.run(c.backend.WaitIdle))
}

// Destroy waits for the GPU and releases everything the context owns. It
// is safe to call more than once.
func (c *Context) Destroy() {
	if c.state == StateDestroyed {
		return
	}
	if c.backend != nil {
		c.teardown()
	}
	c.scene = nil
	c.state = StateDestroyed
}

// QueryDrawTime returns the GPU time of the last completed frame. The HUD
// must be enabled.
func (c *Context) QueryDrawTime() (time.Duration, error) {
	d, err := c.queryDrawTime()
	return d, c.fail("query draw time", err)
}

func (c *Context) queryDrawTime() (time.Duration, error) {
	if c.backend == nil {
		return 0, fmt.Errorf("context is not configured: %w", core.ErrInvalidUsage)
	}
	if !c.config.HUD {
		return 0, fmt.Errorf("draw time queries need the HUD: %w", core.ErrInvalidUsage)
	}
	var d time.Duration
	err := c.run(func() error {
		var err error
		d, err = c.backend.QueryDrawTime()
		return err
	})
	if err != nil {
		return 0, err
	}
	c.drawTimes.Push(d)
	return d, nil
}

// AverageDrawTime averages the last draw time samples.
func (c *Context) AverageDrawTime() time.Duration {
	if c.drawTimes.IsEmpty() {
		return 0
	}
	var sum time.Duration
	c.drawTimes.Each(func(d time.Duration) { sum += d })
	return sum / time.Duration(c.drawTimes.Len())
}

func (c *Context) Config() Config {
	return c.config
}

func (c *Context) BackendType() BackendType {
	return c.backendType
}

func (c *Context) State() FrameState {
	return c.state
}

func (c *Context) Size() (int, int) {
	if c.backend == nil {
		return 0, 0
	}
	return c.backend.Size()
}

// FrameIndex returns the frame in flight slot used by the next frame.
func (c *Context) FrameIndex() int {
	if c.backend == nil {
		return 0
	}
	return c.backend.FrameIndex()
}

func (c *Context) Limits() Limits {
	if c.backend == nil {
		return Limits{}
	}
	return c.backend.Limits()
}

func (c *Context) Viewport() state.Rect {
	return c.viewport
}

func (c *Context) SetViewport(r state.Rect) {
	c.viewport = r
	if c.state == StateInRenderPass {
		c.run(func() error {
			c.backend.SetViewport(r)
			return nil
		})
	}
}

func (c *Context) Scissor() state.Rect {
	return c.scissor
}

func (c *Context) SetScissor(r state.Rect) {
	c.scissor = r
	if c.state == StateInRenderPass {
		c.run(func() error {
			c.backend.SetScissor(r)
			return nil
		})
	}
}

// TransformCullMode converts a cull mode expressed in the OpenGL convention
// into the one of the backend.
func (c *Context) TransformCullMode(mode gputypes.CullMode) gputypes.CullMode {
	if c.backend == nil {
		return mode
	}
	return c.backend.TransformCullMode(mode)
}

// TransformProjectionMatrix converts an OpenGL projection into the clip
// space of the backend.
func (c *Context) TransformProjectionMatrix(dst *math.Mat4) {
	if c.backend != nil {
		c.backend.TransformProjectionMatrix(dst)
	}
}

// RenderTargetUVCoordMatrix maps texture coordinates when sampling a
// texture that was rendered to.
func (c *Context) RenderTargetUVCoordMatrix() math.Mat4 {
	if c.backend == nil {
		return math.NewMat4Identity()
	}
	return c.backend.RenderTargetUVCoordMatrix()
}

func (c *Context) PreferredDepthFormat() gputypes.TextureFormat {
	if c.backend == nil {
		return gputypes.TextureFormatUndefined
	}
	return c.backend.PreferredDepthFormat()
}

func (c *Context) PreferredDepthStencilFormat() gputypes.TextureFormat {
	if c.backend == nil {
		return gputypes.TextureFormatUndefined
	}
	return c.backend.PreferredDepthStencilFormat()
}

// DefaultRenderTarget returns the target presented or captured at the end of
// the frame, clearing or loading its previous content.
func (c *Context) DefaultRenderTarget(load gputypes.LoadOp) *RenderTarget {
	if c.backend == nil {
		return nil
	}
	rt := c.rtClear
	if load == gputypes.LoadOpLoad {
		rt = c.rtLoad
	}
	w, h := c.backend.Size()
	rt.params = RenderTargetParams{Width: w, Height: h}
	rt.desc = c.backend.DefaultRenderTargetDesc()
	rt.impl = c.backend.DefaultRenderTarget(load)
	return rt
}

func (c *Context) DefaultRenderTargetDesc() RenderTargetDesc {
	if c.backend == nil {
		return RenderTargetDesc{}
	}
	return c.backend.DefaultRenderTargetDesc()
}

// NewDefaultPipelineDesc returns a graphics description targeting the
// default render target with the default render state.
func (c *Context) NewDefaultPipelineDesc(program *Program) PipelineDesc {
	return PipelineDesc{
		Type:    PipelineGraphics,
		Program: program,
		State:   state.Default(),
		RTDesc:  c.DefaultRenderTargetDesc(),
	}
}
