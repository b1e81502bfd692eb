package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

// errorClass maps a glGetError code to the core taxonomy.
func errorClass(code uint32) error {
	switch code {
	case gl.NO_ERROR:
		return nil
	case gl.OUT_OF_MEMORY:
		return core.ErrMemory
	case gl.INVALID_ENUM, gl.INVALID_VALUE:
		return core.ErrInvalidArg
	case gl.INVALID_OPERATION, gl.INVALID_FRAMEBUFFER_OPERATION:
		return core.ErrInvalidUsage
	}
	return core.ErrExternal
}

func errorName(code uint32) string {
	switch code {
	case gl.INVALID_ENUM:
		return "GL_INVALID_ENUM"
	case gl.INVALID_VALUE:
		return "GL_INVALID_VALUE"
	case gl.INVALID_OPERATION:
		return "GL_INVALID_OPERATION"
	case gl.INVALID_FRAMEBUFFER_OPERATION:
		return "GL_INVALID_FRAMEBUFFER_OPERATION"
	case gl.OUT_OF_MEMORY:
		return "GL_OUT_OF_MEMORY"
	}
	return fmt.Sprintf("GL error 0x%x", code)
}

// maxQueuedErrors bounds the drain loop: a lost context may report errors
// forever.
const maxQueuedErrors = 16

// checkError drains the GL error queue and reports the first error seen.
func checkError(op string) error {
	first := uint32(gl.NO_ERROR)
	for i := 0; i < maxQueuedErrors; i++ {
		code := gl.GetError()
		if code == gl.NO_ERROR {
			break
		}
		if first == gl.NO_ERROR {
			first = code
		}
	}
	if first == gl.NO_ERROR {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", op, errorName(first), errorClass(first))
}

func framebufferError(op string, status uint32) error {
	if status == gl.FRAMEBUFFER_COMPLETE {
		return nil
	}
	return fmt.Errorf("%s: framebuffer incomplete (status 0x%x): %w", op, status, core.ErrUnsupported)
}
