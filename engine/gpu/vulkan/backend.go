// Package vulkan implements the GPU backend on top of Vulkan 1.0. Frames
// in flight each own a command buffer, a fence and the semaphores of the
// swapchain image they render to.
package vulkan

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

func init() {
	gpu.Register(gpu.BackendVulkan, func() gpu.Backend { return New() })
}

// fenceTimeout bounds every wait on the GPU. A wait that expires means the
// device is gone.
var fenceTimeout = 10 * time.Second

type Backend struct {
	cfg      *gpu.Config
	window   Window
	onscreen bool

	instance      vk.Instance
	debug         vk.DebugReportCallback
	surface       vk.Surface
	physical      vk.PhysicalDevice
	props         vk.PhysicalDeviceProperties
	features      vk.PhysicalDeviceFeatures
	memory        vk.PhysicalDeviceMemoryProperties
	device        vk.Device
	family        uint32
	presentFamily uint32
	queue         vk.Queue
	presentQueue  vk.Queue
	cmdPool       vk.CommandPool
	pipelineCache vk.PipelineCache
	timestamps    bool

	depthFormat        vk.Format
	depthStencilFormat vk.Format
	depth32            bool

	width       int
	height      int
	samples     int
	maxSamples  int
	colorFormat gputypes.TextureFormat
	limits      gpu.Limits

	// Frame in flight slots and submission bookkeeping.
	slots     []frameSlot
	frame     int
	submitted uint64
	completed uint64
	touched   []*resource
	transient transientCmd

	// Recording state of the current frame.
	cmd       vk.CommandBuffer
	recording bool
	pass      *renderTarget
	cache     *state.Cache
	scissor   state.Rect
	stencil   uint32
	pipelines map[uint64]*pipeline
	passes    map[passKey]vk.RenderPass
	nextID    uint64

	swapchain *swapchain
	defaults  defaultTargets
	dummy     *texture
	capture   []byte
	readback  *rawBuffer
	timer     drawTimer
}

func New() *Backend {
	return &Backend{
		pipelines: make(map[uint64]*pipeline),
		passes:    make(map[passKey]vk.RenderPass),
	}
}

func (b *Backend) Init(cfg *gpu.Config) error {
	b.cfg = cfg
	if w, ok := cfg.Window.(Window); ok {
		b.window = w
	}
	if !cfg.Offscreen && b.window == nil {
		return fmt.Errorf("Vulkan needs a window able to create a surface: %w", core.ErrUnsupported)
	}
	b.onscreen = !cfg.Offscreen

	if err := loadVulkan(b.window); err != nil {
		return err
	}
	if err := b.createInstance(); err != nil {
		return err
	}
	if b.onscreen {
		if err := b.createSurface(); err != nil {
			return err
		}
	}
	if err := b.openDevice(); err != nil {
		return err
	}

	b.width, b.height = cfg.Width, cfg.Height
	b.samples = cfg.SampleCount()
	if b.samples > b.maxSamples {
		return fmt.Errorf("%d samples requested, the device supports %d: %w", b.samples, b.maxSamples, core.ErrUnsupported)
	}

	b.cache = state.NewCache(nil, passApplier{b})
	if err := b.createSlots(cfg.InFlight()); err != nil {
		return err
	}
	if err := b.transient.init(b); err != nil {
		return err
	}

	if b.onscreen {
		b.swapchain = &swapchain{}
		if err := b.createSwapchain(); err != nil {
			return err
		}
	} else {
		b.colorFormat = gputypes.TextureFormatRGBA8Unorm
	}
	if err := b.createDefaultTargets(); err != nil {
		return err
	}
	if err := b.createDummyTexture(); err != nil {
		return err
	}
	if cfg.HUD {
		b.timer.init(b)
	}
	if cfg.CaptureBuffer != nil {
		if err := b.SetCaptureBuffer(cfg.CaptureBuffer); err != nil {
			return err
		}
	}

	core.LogInfo("Vulkan backend on %s (%s), color format %s, %d frames in flight",
		goString(b.props.DeviceName[:]), deviceTypeName(b.props.DeviceType), b.colorFormat, len(b.slots))
	return nil
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "other"
}

// Destroy releases everything in reverse creation order. It is safe on a
// partially initialized backend.
func (b *Backend) Destroy() {
	if b.device != nil {
		if res := vk.DeviceWaitIdle(b.device); res != vk.Success {
			core.LogError("%v", vkError("wait idle", res))
		}
		b.completed = b.submitted
		b.timer.release(b)
		if b.readback != nil {
			b.readback.release()
			b.readback = nil
		}
		if b.dummy != nil {
			b.dummy.Release()
			b.dummy = nil
		}
		b.destroyDefaultTargets()
		for _, pl := range b.pipelines {
			pl.Release()
		}
		for key, pass := range b.passes {
			vk.DestroyRenderPass(b.device, pass, nil)
			delete(b.passes, key)
		}
		b.destroySlots()
		b.transient.release(b)
		if b.swapchain != nil {
			b.swapchain.release(b)
			b.swapchain = nil
		}
		if b.pipelineCache != nil {
			vk.DestroyPipelineCache(b.device, b.pipelineCache, nil)
		}
		if b.cmdPool != nil {
			vk.DestroyCommandPool(b.device, b.cmdPool, nil)
		}
		vk.DestroyDevice(b.device, nil)
		b.device = nil
	}
	if b.instance != nil {
		if b.onscreen && b.surface != nil {
			vk.DestroySurface(b.instance, b.surface, nil)
		}
		if b.debug != nil {
			vk.DestroyDebugReportCallback(b.instance, b.debug, nil)
		}
		vk.DestroyInstance(b.instance, nil)
		b.instance = nil
	}
}

func (b *Backend) Resize(width, height int) error {
	if width == b.width && height == b.height {
		return nil
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid size %dx%d: %w", width, height, core.ErrInvalidArg)
	}
	b.width, b.height = width, height
	return b.recreateSwapchain(false)
}

// SetCaptureBuffer allocates the host visible buffer the default color
// attachment is copied into at the end of every frame.
func (b *Backend) SetCaptureBuffer(buf []byte) error {
	if buf != nil && len(buf) < b.width*b.height*4 {
		return fmt.Errorf("capture buffer holds %d bytes, %dx%d RGBA needs %d: %w",
			len(buf), b.width, b.height, b.width*b.height*4, core.ErrInvalidArg)
	}
	if b.readback != nil {
		if err := b.WaitIdle(); err != nil {
			return err
		}
		b.readback.release()
		b.readback = nil
	}
	b.capture = buf
	if buf == nil {
		return nil
	}
	readback, err := b.newHostBuffer(uint64(b.width*b.height*4), vk.BufferUsageTransferDstBit)
	if err != nil {
		return err
	}
	b.readback = readback
	return nil
}

func (b *Backend) WaitIdle() error {
	if res := vk.DeviceWaitIdle(b.device); res != vk.Success {
		return vkError("wait idle", res)
	}
	b.completed = b.submitted
	return nil
}

func (b *Backend) Size() (int, int) {
	return b.width, b.height
}

func (b *Backend) FrameIndex() int {
	return b.frame
}

func (b *Backend) InFlightFrames() int {
	return len(b.slots)
}

func (b *Backend) Limits() gpu.Limits {
	return b.limits
}

// Vulkan clip space has Y pointing down and a [0, 1] depth range. Flipping
// Y in the projection reverses the winding, so culled faces are swapped.

func (b *Backend) TransformCullMode(mode gputypes.CullMode) gputypes.CullMode {
	return gpu.SwapCullMode(mode)
}

func (b *Backend) TransformProjectionMatrix(dst *math.Mat4) {
	gpu.FlipYHalfDepth(dst)
}

// RenderTargetUVCoordMatrix is the identity: the flipped projection puts
// rendered images upright in texture space.
func (b *Backend) RenderTargetUVCoordMatrix() math.Mat4 {
	return math.NewMat4Identity()
}

func (b *Backend) PreferredDepthFormat() gputypes.TextureFormat {
	if b.depth32 {
		return gputypes.TextureFormatDepth32Float
	}
	return gputypes.TextureFormatDepth24Plus
}

func (b *Backend) PreferredDepthStencilFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth24PlusStencil8
}

func (b *Backend) BeginUpdate(t float64) error { return nil }
func (b *Backend) EndUpdate(t float64) error   { return nil }
