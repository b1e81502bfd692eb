// Package opengl implements the GPU backend on top of desktop OpenGL 4.1
// core. The GL context is owned by a Window and every call runs on the
// thread that made it current.
package opengl

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

func init() {
	gpu.Register(gpu.BackendOpenGL, func() gpu.Backend { return New() })
}

type Backend struct {
	cfg        *gpu.Config
	window     Window
	version    string
	renderer   string
	extensions map[string]bool
	loaded     bool

	width      int
	height     int
	samples    int
	maxSamples int
	limits     gpu.Limits

	cache *state.Cache
	pass  *renderTarget

	defaults defaultTargets
	dummy    *texture
	capture  []byte
	timer    drawTimer
}

func New() *Backend {
	return &Backend{extensions: make(map[string]bool)}
}

func (b *Backend) RequiresOwnerThread() bool {
	return true
}

func (b *Backend) Init(cfg *gpu.Config) error {
	b.cfg = cfg
	w, ok := cfg.Window.(Window)
	if !ok {
		return fmt.Errorf("OpenGL needs a window owning a GL context: %w", core.ErrUnsupported)
	}
	b.window = w
	w.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		return fmt.Errorf("load OpenGL entry points: %v: %w", err, core.ErrExternal)
	}
	b.loaded = true
	b.version = gl.GoStr(gl.GetString(gl.VERSION))
	b.renderer = gl.GoStr(gl.GetString(gl.RENDERER))
	var n int32
	gl.GetIntegerv(gl.NUM_EXTENSIONS, &n)
	for i := uint32(0); i < uint32(n); i++ {
		b.extensions[gl.GoStr(gl.GetStringi(gl.EXTENSIONS, i))] = true
	}
	if cfg.Debug {
		b.enableDebugOutput()
	}

	b.queryLimits()
	b.width, b.height = cfg.Width, cfg.Height
	b.samples = cfg.SampleCount()
	if b.samples > b.maxSamples {
		return fmt.Errorf("%d samples requested, the device supports %d: %w", b.samples, b.maxSamples, core.ErrUnsupported)
	}
	if !cfg.Offscreen {
		w.SetSwapInterval(cfg.SwapInterval)
	}

	a := applier{b}
	b.cache = state.NewCache(a, a)
	b.cache.Reset()
	if err := b.createDefaultTargets(); err != nil {
		return err
	}
	if err := b.createDummyTexture(); err != nil {
		return err
	}
	if cfg.HUD {
		b.timer.init()
	}
	if cfg.CaptureBuffer != nil {
		if err := b.SetCaptureBuffer(cfg.CaptureBuffer); err != nil {
			return err
		}
	}
	if err := checkError("init"); err != nil {
		return err
	}
	core.LogInfo("OpenGL backend: %s on %s", b.version, b.renderer)
	return nil
}

func (b *Backend) hasExtension(name string) bool {
	return b.extensions[name]
}

func (b *Backend) enableDebugOutput() {
	if !b.hasExtension("GL_KHR_debug") {
		core.LogWarn("GL_KHR_debug is not available, OpenGL debug output disabled")
		return
	}
	gl.Enable(gl.DEBUG_OUTPUT)
	gl.Enable(gl.DEBUG_OUTPUT_SYNCHRONOUS)
	gl.DebugMessageCallback(func(source, gltype, id, severity uint32, length int32, message string, userParam unsafe.Pointer) {
		message = strings.TrimSpace(message)
		switch severity {
		case gl.DEBUG_SEVERITY_HIGH:
			core.LogError("GL: %s", message)
		case gl.DEBUG_SEVERITY_MEDIUM:
			core.LogWarn("GL: %s", message)
		default:
			core.LogDebug("GL: %s", message)
		}
	}, nil)
}

func getInteger(pname uint32) int {
	var v int32
	gl.GetIntegerv(pname, &v)
	return int(v)
}

// queryLimits fills the capability record. OpenGL 4.1 has neither compute
// nor storage buffers, so their limits stay at zero.
func (b *Backend) queryLimits() {
	maxTexture := getInteger(gl.MAX_TEXTURE_SIZE)
	b.maxSamples = max(getInteger(gl.MAX_SAMPLES), 1)
	b.limits = gpu.Limits{
		MaxColorAttachments:      min(getInteger(gl.MAX_COLOR_ATTACHMENTS), getInteger(gl.MAX_DRAW_BUFFERS), gpu.MaxColorAttachments),
		MaxTextureDimension1D:    maxTexture,
		MaxTextureDimension2D:    maxTexture,
		MaxTextureDimension3D:    getInteger(gl.MAX_3D_TEXTURE_SIZE),
		MaxTextureDimensionCube:  getInteger(gl.MAX_CUBE_MAP_TEXTURE_SIZE),
		MaxTextureArrayLayers:    getInteger(gl.MAX_ARRAY_TEXTURE_LAYERS),
		MaxSamples:               b.maxSamples,
		MaxUniformBlockSize:      getInteger(gl.MAX_UNIFORM_BLOCK_SIZE),
		MinBufferOffsetAlignment: getInteger(gl.UNIFORM_BUFFER_OFFSET_ALIGNMENT),
		MaxVertexAttributes:      getInteger(gl.MAX_VERTEX_ATTRIBS),
		MaxVertexBuffers:         getInteger(gl.MAX_VERTEX_ATTRIBS),
	}
}

// Destroy releases every object the backend created and hands the GL
// context back. It is safe on a partially initialized backend.
func (b *Backend) Destroy() {
	if b.window == nil {
		return
	}
	if b.loaded {
		gl.Finish()
		b.timer.release()
		if b.dummy != nil {
			b.dummy.Release()
			b.dummy = nil
		}
		b.destroyDefaultTargets()
		if err := checkError("destroy"); err != nil {
			core.LogError("%v", err)
		}
	}
	b.window.DetachContext()
	b.window = nil
}

func (b *Backend) Resize(width, height int) error {
	if width == b.width && height == b.height {
		return nil
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d: %w", width, height, core.ErrInvalidArg)
	}
	b.destroyDefaultTargets()
	b.width, b.height = width, height
	if err := b.createDefaultTargets(); err != nil {
		return err
	}
	core.LogDebug("default framebuffer resized to %dx%d", width, height)
	return nil
}

// SetCaptureBuffer makes every EndDraw read the default color attachment
// into buf.
func (b *Backend) SetCaptureBuffer(buf []byte) error {
	if buf != nil && len(buf) < b.width*b.height*4 {
		return fmt.Errorf("capture buffer holds %d bytes, %dx%d RGBA needs %d: %w",
			len(buf), b.width, b.height, b.width*b.height*4, core.ErrInvalidArg)
	}
	b.capture = buf
	return nil
}

// WaitIdle blocks until every submitted command has executed.
func (b *Backend) WaitIdle() error {
	gl.Finish()
	return checkError("wait idle")
}

func (b *Backend) Size() (int, int) {
	return b.width, b.height
}

// OpenGL executes commands in order on one implicit queue: there is a
// single frame slot and nothing is ever in use after a call returns.

func (b *Backend) FrameIndex() int {
	return 0
}

func (b *Backend) InFlightFrames() int {
	return 1
}

func (b *Backend) Limits() gpu.Limits {
	return b.limits
}

func (b *Backend) TransformCullMode(mode gputypes.CullMode) gputypes.CullMode {
	return mode
}

func (b *Backend) TransformProjectionMatrix(dst *math.Mat4) {}

func (b *Backend) RenderTargetUVCoordMatrix() math.Mat4 {
	return math.NewMat4Identity()
}

func (b *Backend) PreferredDepthFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth24Plus
}

func (b *Backend) PreferredDepthStencilFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth24PlusStencil8
}

func (b *Backend) BeginUpdate(t float64) error { return nil }
func (b *Backend) EndUpdate(t float64) error   { return nil }
