// Package wgpu implements the reference GPU backend on top of the gogpu/wgpu
// hardware abstraction layer. It drives whichever HAL backend is compiled
// into the binary, the noop one included.
package wgpu

import (
	"fmt"
	"slices"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

func init() {
	gpu.Register(gpu.BackendWGPU, func() gpu.Backend { return New(nil) })
}

// fenceTimeout bounds every wait on the GPU. A wait that expires means the
// device is gone.
var fenceTimeout = 10 * time.Second

type Backend struct {
	api      hal.Backend
	cfg      *gpu.Config
	instance hal.Instance
	adapter  hal.Adapter
	info     gputypes.AdapterInfo
	caps     hal.Capabilities
	features gputypes.Features
	device   hal.Device
	queue    hal.Queue
	surface  hal.Surface

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
	transient hal.CommandEncoder

	// Recording state of the current frame.
	encoder   hal.CommandEncoder
	pass      hal.RenderPassEncoder
	passRT    *renderTarget
	cache     *state.Cache
	scissor   state.Rect
	stencil   uint32
	pipelines map[uint64]*pipeline
	nextID    uint64

	swapchain *swapchain
	defaults  defaultTargets
	dummy     *texture
	mipmaps   *mipmapper
	capture   []byte
	readback  hal.Buffer
	timer     drawTimer
}

// New creates a backend driving api. A nil api selects the best HAL
// backend compiled into the binary at Init.
func New(api hal.Backend) *Backend {
	return &Backend{
		api:       api,
		pipelines: make(map[uint64]*pipeline),
	}
}

func (b *Backend) Init(cfg *gpu.Config) error {
	b.cfg = cfg
	if b.api == nil {
		api, err := hal.SelectBestBackend()
		if err != nil {
			return halError("select HAL backend", err)
		}
		b.api = api
	}

	flags := gputypes.InstanceFlagsNone
	if cfg.Debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	instance, err := b.api.CreateInstance(&hal.InstanceDescriptor{
		Backends: gputypes.Backends(1) << b.api.Variant(),
		Flags:    flags,
	})
	if err != nil {
		return halError("create instance", err)
	}
	b.instance = instance

	if !cfg.Offscreen {
		display, window := cfg.Window.NativeHandles()
		surface, err := instance.CreateSurface(display, window)
		if err != nil {
			return halError("create surface", err)
		}
		b.surface = surface
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
	b.slots = make([]frameSlot, cfg.InFlight())
	for i := range b.slots {
		enc, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: fmt.Sprintf("frame %d", i)})
		if err != nil {
			return halError("create command encoder", err)
		}
		b.slots[i].encoder = enc
	}
	b.transient, err = b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "transient"})
	if err != nil {
		return halError("create command encoder", err)
	}

	if b.surface != nil {
		b.swapchain = &swapchain{}
		if err := b.configureSurface(); err != nil {
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

	core.LogInfo("wgpu backend on %s (%s, %s), color format %s",
		b.info.Name, b.api.Variant(), b.info.DeviceType, b.colorFormat)
	return nil
}

// openDevice picks an adapter, preferring discrete GPUs, and opens its
// device with the adapter limits.
func (b *Backend) openDevice() error {
	adapters := b.instance.EnumerateAdapters(b.surface)
	if len(adapters) == 0 {
		return fmt.Errorf("no GPU adapter found: %w", core.ErrUnsupported)
	}
	rank := func(t gputypes.DeviceType) int {
		switch t {
		case gputypes.DeviceTypeDiscreteGPU:
			return 0
		case gputypes.DeviceTypeIntegratedGPU:
			return 1
		case gputypes.DeviceTypeVirtualGPU:
			return 2
		}
		return 3
	}
	best := slices.MinFunc(adapters, func(a, c hal.ExposedAdapter) int {
		return rank(a.Info.DeviceType) - rank(c.Info.DeviceType)
	})

	var features gputypes.Features
	if best.Features.Contains(gputypes.FeatureTimestampQuery) {
		features.Insert(gputypes.FeatureTimestampQuery)
	}
	open, err := best.Adapter.Open(features, best.Capabilities.Limits)
	if err != nil {
		return halError("open device", err)
	}
	b.adapter = best.Adapter
	b.info = best.Info
	b.caps = best.Capabilities
	b.features = features
	b.device = open.Device
	b.queue = open.Queue

	b.maxSamples = 1
	if b.adapter.TextureFormatCapabilities(gputypes.TextureFormatRGBA8Unorm).Flags&hal.TextureFormatCapabilityMultisample != 0 {
		// WebGPU only guarantees 1 and 4 samples.
		b.maxSamples = 4
	}
	b.limits = gpu.LimitsFromDevice(b.caps.Limits, b.maxSamples)
	return nil
}

// Destroy releases everything in reverse creation order. It is safe on a
// partially initialized backend.
func (b *Backend) Destroy() {
	if b.device != nil {
		if err := b.device.WaitIdle(); err != nil {
			core.LogError("wait idle: %v", halError("destroy", err))
		}
		b.completed = b.submitted
	}
	b.timer.release(b)
	if b.readback != nil {
		b.device.DestroyBuffer(b.readback)
		b.readback = nil
	}
	if b.mipmaps != nil {
		b.mipmaps.release()
		b.mipmaps = nil
	}
	if b.dummy != nil {
		b.dummy.Release()
		b.dummy = nil
	}
	b.destroyDefaultTargets()
	for i := range b.slots {
		b.recycle(&b.slots[i])
		if b.slots[i].encoder != nil {
			b.slots[i].encoder.Destroy()
		}
	}
	b.slots = nil
	if b.transient != nil {
		b.transient.Destroy()
		b.transient = nil
	}
	if b.surface != nil {
		if b.device != nil {
			b.surface.Unconfigure(b.device)
		}
		b.surface.Destroy()
		b.surface = nil
	}
	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Destroy()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
}

func (b *Backend) Resize(width, height int) error {
	if width == b.width && height == b.height {
		return nil
	}
	if err := b.WaitIdle(); err != nil {
		return err
	}
	b.width, b.height = width, height
	return b.recreateSwapchain(false)
}

// SetCaptureBuffer allocates the staging buffer the default color
// attachment is copied into at the end of every frame.
func (b *Backend) SetCaptureBuffer(buf []byte) error {
	if b.readback != nil {
		if err := b.WaitIdle(); err != nil {
			return err
		}
		b.device.DestroyBuffer(b.readback)
		b.readback = nil
	}
	b.capture = buf
	if buf == nil {
		return nil
	}
	size := b.rowPitch(b.width) * uint64(b.height)
	readback, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "capture readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return halError("create capture buffer", err)
	}
	b.readback = readback
	return nil
}

// rowPitch returns the aligned size of one RGBA8 row in a texture to buffer
// copy.
func (b *Backend) rowPitch(width int) uint64 {
	align := max(b.caps.AlignmentsMask.BufferCopyPitch, copyPitchAlignment)
	return alignUp(uint64(width)*4, align)
}

func (b *Backend) WaitIdle() error {
	if err := b.device.WaitIdle(); err != nil {
		return halError("wait idle", err)
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

// WebGPU shares the OpenGL winding and Y-up clip space but uses a [0, 1]
// depth range and a top-left framebuffer origin.

func (b *Backend) TransformCullMode(mode gputypes.CullMode) gputypes.CullMode {
	return mode
}

func (b *Backend) TransformProjectionMatrix(dst *math.Mat4) {
	gpu.HalfDepth(dst)
}

func (b *Backend) RenderTargetUVCoordMatrix() math.Mat4 {
	return gpu.FlipVMatrix()
}

func (b *Backend) PreferredDepthFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth32Float
}

func (b *Backend) PreferredDepthStencilFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth24PlusStencil8
}

func (b *Backend) BeginUpdate(t float64) error { return nil }
func (b *Backend) EndUpdate(t float64) error   { return nil }
