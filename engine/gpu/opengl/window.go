package opengl

import "github.com/spaghettifunk/gpuctx/engine/gpu"

// Window is a surface that owns an OpenGL context. Offscreen contexts use
// a hidden window for the same purpose.
type Window interface {
	gpu.Surface
	MakeContextCurrent()
	DetachContext()
	SwapBuffers()
	SetSwapInterval(interval int)
}
