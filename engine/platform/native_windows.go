package platform

import "unsafe"

func (w *Window) NativeHandles() (display, window uintptr) {
	return 0, uintptr(unsafe.Pointer(w.GetWin32Window()))
}
