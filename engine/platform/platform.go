// Package platform opens the glfw window a context renders to and feeds
// its events to the core event bus.
package platform

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Options struct {
	Title   string
	X, Y    int
	Width   int
	Height  int
	Backend gpu.BackendType
	// Hidden windows only carry a GL context for offscreen rendering.
	Hidden bool
	Debug  bool
}

// Window is a glfw window usable as the surface of every backend.
type Window struct {
	*glfw.Window
	api gpu.BackendType
}

func Startup(opts Options) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize glfw: %v: %w", err, core.ErrExternal)
	}

	glfw.DefaultWindowHints()
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	if opts.Backend == gpu.BackendOpenGL {
		glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLAPI)
		glfw.WindowHint(glfw.ContextVersionMajor, 4)
		glfw.WindowHint(glfw.ContextVersionMinor, 1)
		glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
		glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
		if opts.Debug {
			glfw.WindowHint(glfw.OpenGLDebugContext, glfw.True)
		}
		// Multisampling happens in offscreen targets.
		glfw.WindowHint(glfw.Samples, 0)
		glfw.WindowHint(glfw.DepthBits, 0)
		glfw.WindowHint(glfw.StencilBits, 0)
	} else {
		glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	}

	win, err := glfw.CreateWindow(opts.Width, opts.Height, opts.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %v: %w", err, core.ErrExternal)
	}
	w := &Window{Window: win, api: opts.Backend}
	win.SetKeyCallback(keyCallback)
	win.SetFramebufferSizeCallback(framebufferSizeCallback)
	win.SetCloseCallback(closeCallback)
	if !opts.Hidden {
		win.SetPos(opts.X, opts.Y)
		win.Show()
	}
	// The GL backend makes the context current on its own thread.
	if opts.Backend == gpu.BackendOpenGL {
		glfw.DetachCurrentContext()
	}
	return w, nil
}

func (w *Window) Shutdown() {
	if w.Window != nil {
		w.Destroy()
		w.Window = nil
	}
	glfw.Terminate()
}

// PumpMessages processes pending window events. It reports false once the
// window was asked to close.
func (w *Window) PumpMessages() bool {
	glfw.PollEvents()
	return !w.ShouldClose()
}

// Time returns the seconds elapsed since glfw was initialized.
func Time() float64 {
	return glfw.GetTime()
}

func (w *Window) FramebufferSize() (int, int) {
	return w.GetFramebufferSize()
}

func (w *Window) DetachContext() {
	glfw.DetachCurrentContext()
}

func (w *Window) SetSwapInterval(interval int) {
	glfw.SwapInterval(interval)
}

// VulkanProcAddr returns the loader glfw found. The window is not created
// with a Vulkan client API, but the loader is process-wide.
func (w *Window) VulkanProcAddr() unsafe.Pointer {
	if !glfw.VulkanSupported() {
		return nil
	}
	return glfw.GetVulkanGetInstanceProcAddress()
}

var keys = map[glfw.Key]core.KeyCode{
	glfw.KeyEscape:    core.KEY_ESCAPE,
	glfw.KeySpace:     core.KEY_SPACE,
	glfw.KeyEnter:     core.KEY_ENTER,
	glfw.KeyTab:       core.KEY_TAB,
	glfw.KeyBackspace: core.KEY_BACKSPACE,
	glfw.KeyLeft:      core.KEY_LEFT,
	glfw.KeyRight:     core.KEY_RIGHT,
	glfw.KeyUp:        core.KEY_UP,
	glfw.KeyDown:      core.KEY_DOWN,
}

// keyCode translates a glfw key. Letters and digits share their ASCII
// codes.
func keyCode(k glfw.Key) (core.KeyCode, bool) {
	if code := core.KeyCode(k); k >= 0 && code.IsPrintable() {
		return code, true
	}
	code, ok := keys[k]
	return code, ok
}

func keyCallback(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
	code, ok := keyCode(key)
	if !ok || action == glfw.Repeat {
		return
	}
	pressed := action == glfw.Press
	if err := core.InputProcessKey(code, pressed); err != nil {
		core.LogWarn("key %d: %v", code, err)
	}
	if pressed {
		core.EventFire(core.EVENT_CODE_KEY_PRESSED, w, core.EventContext{Key: int(code)})
	}
}

func framebufferSizeCallback(w *glfw.Window, width, height int) {
	core.EventFire(core.EVENT_CODE_RESIZED, w, core.EventContext{Width: width, Height: height})
}

func closeCallback(w *glfw.Window) {
	core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, w, core.EventContext{})
}
