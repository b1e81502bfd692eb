package vulkan

import (
	"fmt"
	"strings"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

var resultNames = map[vk.Result]string{
	vk.Success:                    "VK_SUCCESS",
	vk.NotReady:                   "VK_NOT_READY",
	vk.Timeout:                    "VK_TIMEOUT",
	vk.EventSet:                   "VK_EVENT_SET",
	vk.EventReset:                 "VK_EVENT_RESET",
	vk.Incomplete:                 "VK_INCOMPLETE",
	vk.Suboptimal:                 "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:       "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:     "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:  "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:            "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:       "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:       "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:   "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:     "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:    "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:        "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:    "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:        "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:           "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:     "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:             "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:   "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:       "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle: "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:         "VK_ERROR_FRAGMENTATION",
}

func resultName(res vk.Result) string {
	if name, ok := resultNames[res]; ok {
		return name
	}
	return fmt.Sprintf("VkResult(%d)", int32(res))
}

// isSuccess reports whether res is one of the success codes. They are the
// non-negative ones.
func isSuccess(res vk.Result) bool {
	return res >= 0
}

// resultClass maps an error code to the core taxonomy.
func resultClass(res vk.Result) error {
	switch res {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory,
		vk.ErrorFragmentedPool, vk.ErrorFragmentation, vk.ErrorTooManyObjects, vk.ErrorMemoryMapFailed:
		return core.ErrMemory
	case vk.ErrorDeviceLost:
		return core.ErrDeviceLost
	case vk.ErrorOutOfDate, vk.ErrorSurfaceLost:
		return core.ErrSurfaceOutOfDate
	case vk.ErrorLayerNotPresent, vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent,
		vk.ErrorIncompatibleDriver, vk.ErrorFormatNotSupported, vk.ErrorIncompatibleDisplay:
		return core.ErrUnsupported
	}
	return core.ErrExternal
}

// vkError wraps a failed call. Success codes return nil.
func vkError(op string, res vk.Result) error {
	if isSuccess(res) {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", op, resultName(res), resultClass(res))
}

// cString terminates s for the entry points taking C strings.
func cString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func cStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = cString(s)
	}
	return out
}

// goString reads a fixed-size, NUL-padded name returned by the driver.
func goString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// extName strips the terminator some binding constants carry.
func extName(s string) string {
	return strings.TrimSuffix(s, "\x00")
}
