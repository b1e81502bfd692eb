//go:build linux && wayland

package platform

import (
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func (w *Window) NativeHandles() (display, window uintptr) {
	return uintptr(unsafe.Pointer(glfw.GetWaylandDisplay())), uintptr(unsafe.Pointer(w.GetWaylandWindow()))
}
