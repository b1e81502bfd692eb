package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestKeyCode(t *testing.T) {
	tests := []struct {
		key  glfw.Key
		want core.KeyCode
		ok   bool
	}{
		{glfw.KeyA, core.KEY_A, true},
		{glfw.KeyR, core.KEY_R, true},
		{glfw.KeyEscape, core.KEY_ESCAPE, true},
		{glfw.KeySpace, core.KEY_SPACE, true},
		{glfw.Key7, core.KeyCode('7'), true},
		{glfw.KeyLeft, core.KEY_LEFT, true},
		{glfw.KeyF12, 0, false},
		{glfw.KeyUnknown, 0, false},
	}
	for _, tt := range tests {
		code, ok := keyCode(tt.key)
		assert.Equal(t, tt.ok, ok, "key %d", tt.key)
		if tt.ok {
			assert.Equal(t, tt.want, code)
		}
	}
}
