package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultClass(t *testing.T) {
	tests := []struct {
		res  vk.Result
		want error
	}{
		{vk.ErrorOutOfHostMemory, core.ErrMemory},
		{vk.ErrorOutOfDeviceMemory, core.ErrMemory},
		{vk.ErrorOutOfPoolMemory, core.ErrMemory},
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorOutOfDate, core.ErrSurfaceOutOfDate},
		{vk.ErrorSurfaceLost, core.ErrSurfaceOutOfDate},
		{vk.ErrorFormatNotSupported, core.ErrUnsupported},
		{vk.ErrorIncompatibleDriver, core.ErrUnsupported},
		{vk.ErrorInitializationFailed, core.ErrExternal},
	}
	for _, tt := range tests {
		t.Run(resultName(tt.res), func(t *testing.T) {
			assert.ErrorIs(t, resultClass(tt.res), tt.want)
		})
	}
}

func TestVkError(t *testing.T) {
	assert.NoError(t, vkError("submit", vk.Success))
	assert.NoError(t, vkError("present", vk.Suboptimal))
	assert.NoError(t, vkError("wait", vk.Timeout))

	err := vkError("allocate memory", vk.ErrorOutOfDeviceMemory)
	require.Error(t, err)
	assert.Equal(t, core.StatusMemory, core.Status(err))
	assert.Contains(t, err.Error(), "allocate memory")
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
}

func TestResultName(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", resultName(vk.Success))
	assert.Equal(t, "VkResult(-1234)", resultName(vk.Result(-1234)))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "main\x00", cString("main"))
	assert.Equal(t, "main\x00", cString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, cStrings([]string{"a", "b\x00"}))
	assert.Equal(t, "llvmpipe", goString([]byte("llvmpipe\x00\x00\x00")))
	assert.Equal(t, "full", goString([]byte("full")))
	assert.Equal(t, "VK_KHR_swapchain", extName("VK_KHR_swapchain\x00"))
}
