package opengl

import (
	"testing"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		code uint32
		want error
	}{
		{gl.OUT_OF_MEMORY, core.ErrMemory},
		{gl.INVALID_ENUM, core.ErrInvalidArg},
		{gl.INVALID_VALUE, core.ErrInvalidArg},
		{gl.INVALID_OPERATION, core.ErrInvalidUsage},
		{gl.INVALID_FRAMEBUFFER_OPERATION, core.ErrInvalidUsage},
		{0x0503, core.ErrExternal}, // GL_STACK_OVERFLOW
	}
	for _, tt := range tests {
		t.Run(errorName(tt.code), func(t *testing.T) {
			assert.ErrorIs(t, errorClass(tt.code), tt.want)
		})
	}
	assert.NoError(t, errorClass(gl.NO_ERROR))
}

func TestFramebufferError(t *testing.T) {
	assert.NoError(t, framebufferError("check", gl.FRAMEBUFFER_COMPLETE))
	err := framebufferError("check", gl.FRAMEBUFFER_UNSUPPORTED)
	require.Error(t, err)
	assert.Equal(t, core.StatusUnsupported, core.Status(err))
	assert.Contains(t, err.Error(), "0x8cdd")
}
