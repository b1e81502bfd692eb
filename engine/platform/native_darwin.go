package platform

import "unsafe"

// NativeHandles returns the NSWindow. macOS has no display handle.
func (w *Window) NativeHandles() (display, window uintptr) {
	return 0, uintptr(unsafe.Pointer(w.GetCocoaWindow()))
}
