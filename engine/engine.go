package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/gpuctx/engine/assets"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/platform"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

// offscreenFrameRate is the time step of offscreen runs, which render
// frames at fixed times instead of the wall clock.
const offscreenFrameRate = 60.0

// metricsInterval is the number of frames between two metrics reports.
const metricsInterval = 300

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool

	config       gpu.Config
	window       *platform.Window
	ctx          *gpu.Context
	assetManager *assets.AssetManager
	clock        *core.Clock
	lastTime     float64
	frames       int
	capture      []byte

	// Filled by event handlers, drained between two frames.
	mu            sync.Mutex
	dirtyPrograms map[string]struct{}
	pendingResize *[2]int
	pendingReset  bool
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("game has no application config: %w", core.ErrInvalidArg)
	}
	cfg := gpu.DefaultConfig()
	if path := g.ApplicationConfig.ConfigPath; path != "" {
		var err error
		if cfg, err = gpu.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		core.LogWarn("invalid log level %q: %v", cfg.LogLevel, err)
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		config:        cfg,
		ctx:           gpu.NewContext(),
		assetManager:  am,
		clock:         core.NewClock(),
		dirtyPrograms: make(map[string]struct{}),
	}
	return e, nil
}

// Context returns the GPU context the engine renders with.
func (e *Engine) Context() *gpu.Context {
	return e.ctx
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	app := e.gameInstance.ApplicationConfig

	if err := core.InputInitialize(); err != nil {
		return err
	}
	core.EventInitialize()
	core.MetricsInitialize()

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_SHADER_CHANGED, e, e.onShaderChanged)

	backend := gpu.ResolveBackend(e.config.Backend)
	// Offscreen GL still needs a context, which glfw only gives with a window.
	if !e.config.Offscreen || backend == gpu.BackendOpenGL {
		w, err := platform.Startup(platform.Options{
			Title:   app.Name,
			X:       app.StartPosX,
			Y:       app.StartPosY,
			Width:   e.config.Width,
			Height:  e.config.Height,
			Backend: backend,
			Hidden:  e.config.Offscreen,
			Debug:   e.config.Debug,
		})
		if err != nil {
			return err
		}
		e.window = w
		e.config.Window = w
		if !e.config.Offscreen {
			e.config.Width, e.config.Height = w.FramebufferSize()
		}
	}

	if e.config.Offscreen && app.CapturePath != "" {
		e.capture = make([]byte, e.config.Width*e.config.Height*4)
		e.config.CaptureBuffer = e.capture
	}

	if err := e.ctx.Configure(e.config); err != nil {
		return err
	}
	core.LogInfo("context configured: backend=%s size=%dx%d offscreen=%t", e.ctx.BackendType(), e.config.Width, e.config.Height, e.config.Offscreen)

	if app.AssetsDir != "" {
		dir, err := filepath.Abs(app.AssetsDir)
		if err != nil {
			return err
		}
		if _, err := os.Stat(dir); err != nil {
			core.LogWarn("assets directory %s not found, shader hot reload disabled", dir)
		} else if err := e.assetManager.Initialize(dir); err != nil {
			return err
		}
	}

	if fn := e.gameInstance.FnInitialize; fn != nil {
		if err := fn(e.ctx, e.assetManager); err != nil {
			return err
		}
	}
	if err := e.ctx.SetScene(e.gameInstance.Scene); err != nil {
		return err
	}
	if fn := e.gameInstance.FnOnResize; fn != nil {
		w, h := e.ctx.Size()
		if err := fn(w, h); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Stop asks the run loop to return after the current frame. It is safe to
// call from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine is not initialized: %w", core.ErrInvalidUsage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.window != nil && !e.window.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if err := e.applyPending(); err != nil {
			return err
		}
		if e.isSuspended {
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		t := currentTime
		if e.config.Offscreen {
			t = float64(e.frames) / offscreenFrameRate
		}
		if err := e.ctx.Draw(t); err != nil {
			if errors.Is(err, core.ErrDeviceLost) || errors.Is(err, core.ErrMemory) {
				return err
			}
			core.LogError("frame %d: %v", e.frames, err)
		}

		e.clock.Update()
		core.MetricsUpdate(e.clock.Elapsed() - currentTime)
		e.frames++
		if e.frames%metricsInterval == 0 {
			e.logMetrics()
		}

		if err := core.InputUpdate(delta); err != nil {
			core.LogWarn("input update: %v", err)
		}
		e.lastTime = currentTime

		if n := e.gameInstance.ApplicationConfig.Frames; n > 0 && e.frames >= n {
			e.isRunning.Store(false)
		}
	}

	if e.capture != nil {
		w, h := e.ctx.Size()
		if err := WriteCapture(e.gameInstance.ApplicationConfig.CapturePath, e.capture, w, h); err != nil {
			return err
		}
		core.LogInfo("captured frame %d to %s", e.frames, e.gameInstance.ApplicationConfig.CapturePath)
	}
	return nil
}

func (e *Engine) logMetrics() {
	fps, frameMS := core.MetricsFrame()
	if e.config.HUD {
		core.LogInfo("fps=%.1f frame=%.2fms gpu=%s", fps, frameMS, e.ctx.AverageDrawTime())
		return
	}
	core.LogInfo("fps=%.1f frame=%.2fms", fps, frameMS)
}

// applyPending runs the work queued by event handlers. The context is
// between two frames here.
func (e *Engine) applyPending() error {
	e.mu.Lock()
	resize := e.pendingResize
	reset := e.pendingReset
	programs := make([]string, 0, len(e.dirtyPrograms))
	for name := range e.dirtyPrograms {
		programs = append(programs, name)
	}
	e.pendingResize = nil
	e.pendingReset = false
	clear(e.dirtyPrograms)
	e.mu.Unlock()

	if resize != nil {
		w, h := resize[0], resize[1]
		// A minimized window reports an empty framebuffer.
		e.isSuspended = w == 0 || h == 0
		if !e.isSuspended {
			if err := e.ctx.Resize(w, h, e.config.Viewport); err != nil {
				return err
			}
			if fn := e.gameInstance.FnOnResize; fn != nil {
				if err := fn(e.ctx.Size()); err != nil {
					return err
				}
			}
		}
	}
	if reset {
		core.LogInfo("releasing scene resources")
		if err := e.ctx.Reset(gpu.ResetKeepScene); err != nil {
			return err
		}
	}
	sort.Strings(programs)
	for _, name := range programs {
		if fn := e.gameInstance.FnShaderChanged; fn != nil {
			// A broken shader keeps the previous program alive.
			if err := fn(name); err != nil {
				core.LogError("reload %s: %v", name, err)
			}
		}
	}
	return nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	var errs []error

	if fn := e.gameInstance.FnShutdown; fn != nil {
		errs = append(errs, fn())
	}
	e.ctx.Destroy()
	if err := e.assetManager.Close(); err != nil {
		core.LogDebug("asset manager: %v", err)
	}
	if e.window != nil {
		e.window.Shutdown()
		e.window = nil
	}
	core.EventShutdown()
	errs = append(errs, core.InputShutdown())

	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch core.KeyCode(data.Key) {
	case core.KEY_ESCAPE:
		// Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
		return true
	case core.KEY_R:
		e.mu.Lock()
		e.pendingReset = true
		e.mu.Unlock()
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	e.mu.Lock()
	e.pendingResize = &[2]int{data.Width, data.Height}
	e.mu.Unlock()
	return false
}

// onShaderChanged runs on the asset watcher goroutine.
func (e *Engine) onShaderChanged(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	e.mu.Lock()
	e.dirtyPrograms[data.Path] = struct{}{}
	e.mu.Unlock()
	core.LogDebug("program %s changed on disk", data.Path)
	return false
}
