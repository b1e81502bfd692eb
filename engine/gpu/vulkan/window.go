package vulkan

import (
	"unsafe"

	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

// Window is a surface able to host a Vulkan swapchain. The glfw window of
// the platform package implements it.
type Window interface {
	gpu.Surface
	// VulkanProcAddr returns vkGetInstanceProcAddr as loaded by the window
	// system, or nil to let the backend load the Vulkan library itself.
	VulkanProcAddr() unsafe.Pointer
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}
