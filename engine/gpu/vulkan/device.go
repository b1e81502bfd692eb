package vulkan

import (
	"fmt"
	"runtime"
	"slices"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

const (
	validationLayer    = "VK_LAYER_KHRONOS_validation"
	portabilitySubset  = "VK_KHR_portability_subset"
	portabilityEnum    = "VK_KHR_portability_enumeration"
	physicalProperties = "VK_KHR_get_physical_device_properties2"
	// instanceEnumeratePortability is VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR.
	instanceEnumeratePortability = 0x1
)

// loadVulkan resolves the global entry points, through the window system
// when there is one.
func loadVulkan(w Window) error {
	if w != nil {
		if proc := w.VulkanProcAddr(); proc != nil {
			vk.SetGetInstanceProcAddr(proc)
			if err := vk.Init(); err != nil {
				return fmt.Errorf("load Vulkan: %v: %w", err, core.ErrUnsupported)
			}
			return nil
		}
	}
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("load Vulkan library: %v: %w", err, core.ErrUnsupported)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("load Vulkan: %v: %w", err, core.ErrUnsupported)
	}
	return nil
}

func instanceExtensions() (map[string]bool, error) {
	var n uint32
	if res := vk.EnumerateInstanceExtensionProperties("", &n, nil); !isSuccess(res) {
		return nil, vkError("enumerate instance extensions", res)
	}
	list := make([]vk.ExtensionProperties, n)
	if res := vk.EnumerateInstanceExtensionProperties("", &n, list); !isSuccess(res) {
		return nil, vkError("enumerate instance extensions", res)
	}
	out := make(map[string]bool, n)
	for i := range list {
		list[i].Deref()
		out[goString(list[i].ExtensionName[:])] = true
	}
	return out, nil
}

func hasInstanceLayer(name string) bool {
	var n uint32
	if res := vk.EnumerateInstanceLayerProperties(&n, nil); !isSuccess(res) || n == 0 {
		return false
	}
	list := make([]vk.LayerProperties, n)
	if res := vk.EnumerateInstanceLayerProperties(&n, list); !isSuccess(res) {
		return false
	}
	for i := range list {
		list[i].Deref()
		if goString(list[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// createInstance creates the instance with the extensions of the window,
// plus validation and debug reporting in debug mode.
func (b *Backend) createInstance() error {
	available, err := instanceExtensions()
	if err != nil {
		return err
	}
	var extensions []string
	if b.window != nil {
		extensions = append(extensions, b.window.GetRequiredInstanceExtensions()...)
		if !slices.Contains(extensions, extName(vk.KhrSurfaceExtensionName)) {
			extensions = append(extensions, extName(vk.KhrSurfaceExtensionName))
		}
	}
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" && available[portabilityEnum] {
		extensions = append(extensions, portabilityEnum, physicalProperties)
		flags |= instanceEnumeratePortability
	}
	var layers []string
	if b.cfg.Debug {
		if available[extName(vk.ExtDebugReportExtensionName)] {
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		}
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, validationLayer)
		} else {
			core.LogWarn("%s is not installed, Vulkan validation disabled", validationLayer)
		}
	}
	for _, ext := range extensions {
		if !available[extName(ext)] {
			return fmt.Errorf("instance extension %s is not available: %w", ext, core.ErrUnsupported)
		}
	}
	core.LogDebug("Vulkan instance extensions: %v", extensions)

	info := vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		Flags: flags,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   cString("gpuctx"),
			PEngineName:        cString("gpuctx"),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: cStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     cStrings(layers),
	}
	if res := vk.CreateInstance(&info, nil, &b.instance); res != vk.Success {
		return vkError("create instance", res)
	}
	if err := vk.InitInstance(b.instance); err != nil {
		return fmt.Errorf("load instance entry points: %v: %w", err, core.ErrExternal)
	}

	if b.cfg.Debug && available[extName(vk.ExtDebugReportExtensionName)] {
		dbg := vk.DebugReportCallbackCreateInfo{
			SType: vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
				vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugCallback,
		}
		if res := vk.CreateDebugReportCallback(b.instance, &dbg, nil, &b.debug); res != vk.Success {
			core.LogWarn("%v", vkError("create debug report callback", res))
		}
	}
	return nil
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64,
	messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("vulkan: [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("vulkan: [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("vulkan: [%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.False
}

func (b *Backend) createSurface() error {
	ptr, err := b.window.CreateWindowSurface(b.instance, nil)
	if err != nil {
		return fmt.Errorf("create window surface: %v: %w", err, core.ErrExternal)
	}
	b.surface = vk.SurfaceFromPointer(ptr)
	return nil
}

// candidate is a physical device able to run the backend.
type candidate struct {
	device        vk.PhysicalDevice
	props         vk.PhysicalDeviceProperties
	family        uint32
	presentFamily uint32
	timestamps    bool
	extensions    map[string]bool
}

func deviceRank(t vk.PhysicalDeviceType) int {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 0
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return 1
	case vk.PhysicalDeviceTypeVirtualGpu:
		return 2
	case vk.PhysicalDeviceTypeCpu:
		return 3
	}
	return 4
}

func deviceExtensions(pd vk.PhysicalDevice) map[string]bool {
	var n uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &n, nil); !isSuccess(res) || n == 0 {
		return nil
	}
	list := make([]vk.ExtensionProperties, n)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &n, list); !isSuccess(res) {
		return nil
	}
	out := make(map[string]bool, n)
	for i := range list {
		list[i].Deref()
		out[goString(list[i].ExtensionName[:])] = true
	}
	return out
}

// inspect checks that pd has a graphics and compute queue, and a present
// queue when rendering to a surface.
func (b *Backend) inspect(pd vk.PhysicalDevice) (candidate, bool) {
	c := candidate{device: pd, extensions: deviceExtensions(pd)}
	vk.GetPhysicalDeviceProperties(pd, &c.props)
	c.props.Deref()
	c.props.Limits.Deref()
	if b.onscreen && !c.extensions[extName(vk.KhrSwapchainExtensionName)] {
		return c, false
	}

	var n uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, nil)
	families := make([]vk.QueueFamilyProperties, n)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, families)

	// Prefer one family doing everything, then separate present.
	graphics, present := -1, -1
	flags := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		canPresent := !b.onscreen
		if b.onscreen {
			var ok vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), b.surface, &ok)
			canPresent = ok == vk.True
		}
		canDraw := families[i].QueueFlags&flags == flags
		switch {
		case canDraw && canPresent:
			graphics, present = i, i
		case canDraw && graphics < 0:
			graphics = i
		case canPresent && present < 0:
			present = i
		}
		if graphics == i && present == i {
			break
		}
	}
	if graphics >= 0 {
		c.timestamps = families[graphics].TimestampValidBits > 0 &&
			c.props.Limits.TimestampComputeAndGraphics == vk.True
	}
	if graphics < 0 || present < 0 {
		return c, false
	}
	c.family, c.presentFamily = uint32(graphics), uint32(present)
	return c, true
}

// openDevice picks a physical device, preferring discrete GPUs, and
// creates the logical device with its queues and command pool.
func (b *Backend) openDevice() error {
	var n uint32
	if res := vk.EnumeratePhysicalDevices(b.instance, &n, nil); !isSuccess(res) {
		return vkError("enumerate physical devices", res)
	}
	if n == 0 {
		return fmt.Errorf("no Vulkan device found: %w", core.ErrUnsupported)
	}
	devices := make([]vk.PhysicalDevice, n)
	if res := vk.EnumeratePhysicalDevices(b.instance, &n, devices); !isSuccess(res) {
		return vkError("enumerate physical devices", res)
	}
	var candidates []candidate
	for _, pd := range devices {
		if c, ok := b.inspect(pd); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no Vulkan device can render to the surface: %w", core.ErrUnsupported)
	}
	best := slices.MinFunc(candidates, func(a, c candidate) int {
		return deviceRank(a.props.DeviceType) - deviceRank(c.props.DeviceType)
	})

	b.physical = best.device
	b.props = best.props
	b.family, b.presentFamily = best.family, best.presentFamily
	b.timestamps = best.timestamps
	vk.GetPhysicalDeviceFeatures(b.physical, &b.features)
	b.features.Deref()
	vk.GetPhysicalDeviceMemoryProperties(b.physical, &b.memory)
	b.memory.Deref()

	priority := []float32{1}
	queues := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: b.family,
		QueueCount:       1,
		PQueuePriorities: priority,
	}}
	if b.presentFamily != b.family {
		queues = append(queues, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: b.presentFamily,
			QueueCount:       1,
			PQueuePriorities: priority,
		})
	}
	var extensions []string
	if b.onscreen {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}
	if best.extensions[portabilitySubset] {
		core.LogDebug("enabling %s", portabilitySubset)
		extensions = append(extensions, portabilitySubset)
	}
	features := vk.PhysicalDeviceFeatures{SamplerAnisotropy: b.features.SamplerAnisotropy}
	info := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queues)),
		PQueueCreateInfos:       queues,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: cStrings(extensions),
	}
	if res := vk.CreateDevice(b.physical, &info, nil, &b.device); res != vk.Success {
		return vkError("create device", res)
	}
	vk.GetDeviceQueue(b.device, b.family, 0, &b.queue)
	vk.GetDeviceQueue(b.device, b.presentFamily, 0, &b.presentQueue)

	pool := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: b.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if res := vk.CreateCommandPool(b.device, &pool, nil, &b.cmdPool); res != vk.Success {
		return vkError("create command pool", res)
	}
	cache := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if res := vk.CreatePipelineCache(b.device, &cache, nil, &b.pipelineCache); res != vk.Success {
		return vkError("create pipeline cache", res)
	}

	b.detectDepthFormats()
	l := b.props.Limits
	b.maxSamples = maxSampleCount(l.FramebufferColorSampleCounts, l.FramebufferDepthSampleCounts)
	b.limits = limitsFromDevice(l, b.maxSamples)
	return nil
}

// limitsFromDevice converts the limits of a physical device.
func limitsFromDevice(l vk.PhysicalDeviceLimits, maxSamples int) gpu.Limits {
	return gpu.Limits{
		MaxColorAttachments:     min(int(l.MaxColorAttachments), gpu.MaxColorAttachments),
		MaxTextureDimension1D:   int(l.MaxImageDimension1D),
		MaxTextureDimension2D:   int(l.MaxImageDimension2D),
		MaxTextureDimension3D:   int(l.MaxImageDimension3D),
		MaxTextureDimensionCube: int(l.MaxImageDimensionCube),
		MaxTextureArrayLayers:   int(l.MaxImageArrayLayers),
		MaxComputeWorkGroupCount: [3]int{
			int(l.MaxComputeWorkGroupCount[0]),
			int(l.MaxComputeWorkGroupCount[1]),
			int(l.MaxComputeWorkGroupCount[2]),
		},
		MaxComputeWorkGroupInvocations: int(l.MaxComputeWorkGroupInvocations),
		MaxComputeWorkGroupSize: [3]int{
			int(l.MaxComputeWorkGroupSize[0]),
			int(l.MaxComputeWorkGroupSize[1]),
			int(l.MaxComputeWorkGroupSize[2]),
		},
		MaxSamples:               maxSamples,
		MaxUniformBlockSize:      int(l.MaxUniformBufferRange),
		MaxStorageBlockSize:      int(l.MaxStorageBufferRange),
		MinBufferOffsetAlignment: int(max(l.MinUniformBufferOffsetAlignment, l.MinStorageBufferOffsetAlignment)),
		MaxVertexAttributes:      int(l.MaxVertexInputAttributes),
		MaxVertexBuffers:         int(l.MaxVertexInputBindings),
	}
}

func (b *Backend) formatSupports(f vk.Format, feature vk.FormatFeatureFlagBits) bool {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(b.physical, f, &props)
	props.Deref()
	want := vk.FormatFeatureFlags(feature)
	return props.OptimalTilingFeatures&want == want
}

// detectDepthFormats picks the native formats behind the depth formats
// whose layout is left to the implementation.
func (b *Backend) detectDepthFormats() {
	attachment := vk.FormatFeatureDepthStencilAttachmentBit
	b.depth32 = b.formatSupports(vk.FormatD32Sfloat, attachment)
	b.depthFormat = vk.FormatD32Sfloat
	if b.formatSupports(vk.FormatX8D24UnormPack32, attachment) {
		b.depthFormat = vk.FormatX8D24UnormPack32
	}
	b.depthStencilFormat = vk.FormatD32SfloatS8Uint
	if b.formatSupports(vk.FormatD24UnormS8Uint, attachment) {
		b.depthStencilFormat = vk.FormatD24UnormS8Uint
	}
}

// findMemoryType returns the first memory type allowed by typeBits that
// has every property of want.
func (b *Backend) findMemoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < b.memory.MemoryTypeCount; i++ {
		b.memory.MemoryTypes[i].Deref()
		if typeBits&(1<<i) != 0 && b.memory.MemoryTypes[i].PropertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

// allocate allocates memory for reqs, falling back from the preferred
// properties to the required ones.
func (b *Backend) allocate(reqs vk.MemoryRequirements, preferred, required vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	index, ok := b.findMemoryType(reqs.MemoryTypeBits, preferred)
	if !ok {
		if index, ok = b.findMemoryType(reqs.MemoryTypeBits, required); !ok {
			return vk.NullDeviceMemory, fmt.Errorf("no suitable memory type: %w", core.ErrMemory)
		}
	}
	var mem vk.DeviceMemory
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	if res := vk.AllocateMemory(b.device, &info, nil, &mem); res != vk.Success {
		return vk.NullDeviceMemory, vkError("allocate memory", res)
	}
	return mem, nil
}

// nativeFormat returns the Vulkan format of f on this device.
func (b *Backend) nativeFormat(f gputypes.TextureFormat) (vk.Format, error) {
	switch f {
	case gputypes.TextureFormatDepth24Plus:
		return b.depthFormat, nil
	case gputypes.TextureFormatDepth24PlusStencil8:
		return b.depthStencilFormat, nil
	}
	if format, ok := textureFormat(f); ok {
		return format, nil
	}
	return vk.FormatUndefined, fmt.Errorf("texture format %s: %w", f, core.ErrUnsupported)
}
