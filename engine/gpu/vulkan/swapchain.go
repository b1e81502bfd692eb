package vulkan

import (
	"fmt"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

type swapchain struct {
	handle      vk.Swapchain
	images      []*texture
	index       uint32
	suboptimal  bool
	recreations int
}

// defaultTargets are the render targets of DefaultRenderTarget. They share
// their attachments and framebuffers and only differ by load operation.
type defaultTargets struct {
	// color is the texture presented or captured. Onscreen, it is the
	// swapchain image acquired for the frame.
	color *texture
	ms    *texture
	depth *texture
	clear *renderTarget
	load  *renderTarget
	// framebuffers holds one framebuffer per swapchain image, or a single
	// one offscreen.
	framebuffers []vk.Framebuffer
}

// present points the default targets at the swapchain image img.
func (d *defaultTargets) present(img *texture) {
	d.color = img
	for _, rt := range []*renderTarget{d.clear, d.load} {
		if d.ms != nil {
			rt.colors[0].resolve = img
		} else {
			rt.colors[0].tex = img
		}
	}
}

func (b *Backend) surfaceFormat() (vk.SurfaceFormat, gputypes.TextureFormat, error) {
	var n uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(b.physical, b.surface, &n, nil); res != vk.Success {
		return vk.SurfaceFormat{}, 0, vkError("surface formats", res)
	}
	formats := make([]vk.SurfaceFormat, n)
	if res := vk.GetPhysicalDeviceSurfaceFormats(b.physical, b.surface, &n, formats); res != vk.Success {
		return vk.SurfaceFormat{}, 0, vkError("surface formats", res)
	}
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			gputypes.TextureFormatBGRA8Unorm, nil
	}
	for _, want := range []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm} {
		native, _ := textureFormat(want)
		for _, f := range formats {
			if f.Format == native && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return f, want, nil
			}
		}
	}
	for _, f := range formats {
		if format, ok := gpuFormat(f.Format); ok {
			return f, format, nil
		}
	}
	return vk.SurfaceFormat{}, 0, fmt.Errorf("no usable surface format among %d: %w", len(formats), core.ErrUnsupported)
}

// gpuFormat is the reverse of textureFormat.
func gpuFormat(f vk.Format) (gputypes.TextureFormat, bool) {
	for format, native := range textureFormats {
		if native == f {
			return format, true
		}
	}
	return 0, false
}

func (b *Backend) presentMode() vk.PresentMode {
	if b.cfg.SwapInterval != 0 {
		return vk.PresentModeFifo
	}
	var n uint32
	vk.GetPhysicalDeviceSurfacePresentModes(b.physical, b.surface, &n, nil)
	modes := make([]vk.PresentMode, n)
	vk.GetPhysicalDeviceSurfacePresentModes(b.physical, b.surface, &n, modes)
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, m := range modes {
			if m == want {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

func compositeAlpha(supported vk.CompositeAlphaFlags) vk.CompositeAlphaFlagBits {
	for _, a := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if supported&vk.CompositeAlphaFlags(a) != 0 {
			return a
		}
	}
	return vk.CompositeAlphaOpaqueBit
}

// createSwapchain creates the swapchain, replacing the current one if any.
// The surface may impose its own size.
func (b *Backend) createSwapchain() error {
	sc := b.swapchain
	var caps vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(b.physical, b.surface, &caps); res != vk.Success {
		return vkError("surface capabilities", res)
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	surfaceFormat, format, err := b.surfaceFormat()
	if err != nil {
		return err
	}
	extent := caps.CurrentExtent
	if extent.Width == ^uint32(0) {
		extent = vk.Extent2D{
			Width:  clamp(uint32(b.width), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clamp(uint32(b.height), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("surface has no area: %w", core.ErrSurfaceOutOfDate)
	}
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 {
		count = min(count, caps.MaxImageCount)
	}
	usage := vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit
	if caps.SupportedUsageFlags&vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit) == 0 {
		core.LogWarn("swapchain images cannot be copied, captures will fail")
		usage = vk.ImageUsageColorAttachmentBit
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          b.surface,
		MinImageCount:    count,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(usage),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   compositeAlpha(caps.SupportedCompositeAlpha),
		PresentMode:      b.presentMode(),
		Clipped:          vk.True,
		OldSwapchain:     sc.handle,
	}
	if b.family != b.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{b.family, b.presentFamily}
	}
	var handle vk.Swapchain
	res := vk.CreateSwapchain(b.device, &info, nil, &handle)
	sc.release(b)
	if res != vk.Success {
		return vkError("create swapchain", res)
	}
	sc.handle = handle
	b.colorFormat = format
	b.width, b.height = int(extent.Width), int(extent.Height)

	var n uint32
	if res := vk.GetSwapchainImages(b.device, handle, &n, nil); res != vk.Success {
		return vkError("get swapchain images", res)
	}
	images := make([]vk.Image, n)
	if res := vk.GetSwapchainImages(b.device, handle, &n, images); res != vk.Success {
		return vkError("get swapchain images", res)
	}
	for _, img := range images {
		t := &texture{
			resource: resource{b: b},
			params: gpu.TextureParams{
				Format: format, Width: b.width, Height: b.height, Samples: 1, MipLevels: 1,
				Usage: gpu.TextureUsageColorAttachment | gpu.TextureUsageTransferSrc,
			},
			format:   surfaceFormat.Format,
			image:    img,
			aspect:   vk.ImageAspectFlags(vk.ImageAspectColorBit),
			layout:   vk.ImageLayoutUndefined,
			borrowed: true,
		}
		if err := t.createView(); err != nil {
			return err
		}
		sc.images = append(sc.images, t)
	}
	sc.index = 0
	return nil
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

// release destroys the image views and the swapchain.
func (sc *swapchain) release(b *Backend) {
	for _, t := range sc.images {
		t.Release()
	}
	sc.images = nil
	if sc.handle != nil {
		vk.DestroySwapchain(b.device, sc.handle, nil)
		sc.handle = nil
	}
}

// acquire fetches the swapchain image of the frame. An out of date
// swapchain is recreated once; a second failure is returned to the caller.
func (b *Backend) acquire(slot *frameSlot) error {
	sc := b.swapchain
	var index uint32
	res := vk.AcquireNextImage(b.device, sc.handle, uint64(fenceTimeout), slot.imageAvailable, vk.NullFence, &index)
	if res == vk.ErrorOutOfDate {
		core.LogWarn("swapchain out of date, recreating it")
		if err := b.recreateSwapchain(true); err != nil {
			return err
		}
		res = vk.AcquireNextImage(b.device, sc.handle, uint64(fenceTimeout), slot.imageAvailable, vk.NullFence, &index)
	}
	switch res {
	case vk.Success:
	case vk.Suboptimal:
		sc.suboptimal = true
	case vk.Timeout, vk.NotReady:
		return fmt.Errorf("no swapchain image after %s: %w", fenceTimeout, core.ErrDeviceLost)
	default:
		return vkError("acquire swapchain image", res)
	}
	sc.index = index
	slot.waitAcquire = true
	b.defaults.present(sc.images[index])
	return nil
}

func (b *Backend) present(slot *frameSlot) error {
	sc := b.swapchain
	res := vk.QueuePresent(b.presentQueue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{slot.renderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{sc.index},
	})
	switch {
	case res == vk.ErrorOutOfDate || res == vk.Suboptimal || sc.suboptimal:
		sc.suboptimal = false
		return b.recreateSwapchain(true)
	case res != vk.Success:
		return vkError("present", res)
	}
	return nil
}

// recreateSwapchain rebuilds the swapchain and the default targets. With
// fromWindow, the size is taken from the window framebuffer.
func (b *Backend) recreateSwapchain(fromWindow bool) error {
	if err := b.WaitIdle(); err != nil {
		return err
	}
	if fromWindow && b.window != nil {
		if w, h := b.window.FramebufferSize(); w > 0 && h > 0 {
			b.width, b.height = w, h
		}
	}
	b.destroyDefaultTargets()
	if b.onscreen {
		if err := b.createSwapchain(); err != nil {
			return err
		}
		b.swapchain.recreations++
	}
	if err := b.createDefaultTargets(); err != nil {
		return err
	}
	if b.readback != nil && b.readback.size < uint64(b.width*b.height*4) {
		core.LogWarn("capture buffer smaller than the new %dx%d size, capture disabled", b.width, b.height)
		b.readback.release()
		b.readback = nil
		b.capture = nil
	}
	core.LogDebug("swapchain recreated at %dx%d", b.width, b.height)
	return nil
}

func (b *Backend) createDefaultTargets() error {
	d := &b.defaults
	var images []*texture
	if b.onscreen {
		images = b.swapchain.images
		d.color = images[b.swapchain.index]
	} else {
		color, err := b.newTexture(gpu.TextureParams{
			Format:  b.colorFormat,
			Width:   b.width,
			Height:  b.height,
			Samples: 1,
			Usage:   gpu.TextureUsageColorAttachment | gpu.TextureUsageTransferSrc | gpu.TextureUsageSampled,
		})
		if err != nil {
			return err
		}
		d.color = color
		images = []*texture{color}
	}
	if b.samples > 1 {
		ms, err := b.newTexture(gpu.TextureParams{
			Format:  b.colorFormat,
			Width:   b.width,
			Height:  b.height,
			Samples: b.samples,
			Usage:   gpu.TextureUsageColorAttachment | gpu.TextureUsageTransientAttachment,
		})
		if err != nil {
			return err
		}
		d.ms = ms
	}
	depth, err := b.newTexture(gpu.TextureParams{
		Format:  b.PreferredDepthStencilFormat(),
		Width:   b.width,
		Height:  b.height,
		Samples: b.samples,
		Usage:   gpu.TextureUsageDepthStencilAttachment | gpu.TextureUsageTransientAttachment,
	})
	if err != nil {
		return err
	}
	d.depth = depth

	if d.clear, err = b.defaultTarget(gputypes.LoadOpClear); err != nil {
		return err
	}
	if d.load, err = b.defaultTarget(gputypes.LoadOpLoad); err != nil {
		return err
	}
	// Both passes are compatible: one set of framebuffers serves them.
	for _, img := range images {
		views := []vk.ImageView{img.view}
		if d.ms != nil {
			views = []vk.ImageView{d.ms.view, img.view}
		}
		views = append(views, d.depth.view)
		fb, err := b.createFramebuffer(d.clear.pass, views, b.width, b.height)
		if err != nil {
			return err
		}
		d.framebuffers = append(d.framebuffers, fb)
	}
	for _, rt := range []*renderTarget{d.clear, d.load} {
		rt.framebuffers = d.framebuffers
		rt.shared = true
		rt.presented = b.onscreen
	}
	return nil
}

func (b *Backend) defaultTarget(load gputypes.LoadOp) (*renderTarget, error) {
	d := &b.defaults
	color := attachment{
		tex:   d.color,
		load:  load,
		store: gputypes.StoreOpStore,
		clear: b.cfg.ClearColor,
	}
	if d.ms != nil {
		color.tex = d.ms
		color.store = gputypes.StoreOpDiscard
		color.resolve = d.color
	}
	rt := &renderTarget{
		resource: resource{b: b},
		width:    b.width,
		height:   b.height,
		colors:   []attachment{color},
		depth: &attachment{
			tex:        d.depth,
			load:       load,
			store:      gputypes.StoreOpDiscard,
			clearDepth: 1,
		},
	}
	pass, err := b.renderPass(rt.passKey())
	if err != nil {
		return nil, err
	}
	rt.pass = pass
	return rt, nil
}

func (b *Backend) destroyDefaultTargets() {
	d := &b.defaults
	for _, fb := range d.framebuffers {
		vk.DestroyFramebuffer(b.device, fb, nil)
	}
	for _, rt := range []*renderTarget{d.clear, d.load} {
		if rt != nil {
			rt.Release()
		}
	}
	for _, t := range []*texture{d.depth, d.ms, d.color} {
		if t != nil && !t.borrowed {
			t.Release()
		}
	}
	*d = defaultTargets{}
}

func (b *Backend) createDummyTexture() error {
	dummy, err := b.newTexture(gpu.TextureParams{
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Width:   1,
		Height:  1,
		Samples: 1,
		Usage:   gpu.TextureUsageSampled | gpu.TextureUsageTransferDst,
	})
	if err != nil {
		return err
	}
	b.dummy = dummy
	return dummy.Upload(make([]byte, 4), 4)
}

func (b *Backend) DefaultRenderTarget(load gputypes.LoadOp) gpu.RenderTargetImpl {
	if load == gputypes.LoadOpLoad {
		return b.defaults.load
	}
	return b.defaults.clear
}

func (b *Backend) DefaultRenderTargetDesc() gpu.RenderTargetDesc {
	desc := gpu.RenderTargetDesc{
		Samples:      b.samples,
		NbColors:     1,
		DepthStencil: gpu.AttachmentDesc{Format: b.PreferredDepthStencilFormat()},
	}
	desc.Colors[0] = gpu.AttachmentDesc{Format: b.colorFormat, Resolve: b.samples > 1}
	return desc
}
