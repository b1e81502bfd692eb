package wgpu

import (
	"errors"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

type swapchain struct {
	acquired    hal.SurfaceTexture
	suboptimal  bool
	recreating  bool
	recreations int
}

// defaultTargets are the render targets of DefaultRenderTarget. They share
// their attachments and only differ by load operation.
type defaultTargets struct {
	// color is the texture presented or captured. Onscreen, it borrows the
	// surface image acquired for the frame.
	color *texture
	ms    *texture
	depth *texture
	clear *renderTarget
	load  *renderTarget
}

// presented returns the single-sample color texture holding the frame.
func (d *defaultTargets) presented() *texture {
	return d.color
}

func (b *Backend) configureSurface() error {
	caps := b.adapter.SurfaceCapabilities(b.surface)
	if caps == nil || len(caps.Formats) == 0 {
		return halError("surface capabilities", hal.ErrSurfaceLost)
	}
	b.colorFormat = caps.Formats[0]
	for _, f := range []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm} {
		if slices.Contains(caps.Formats, f) {
			b.colorFormat = f
			break
		}
	}

	mode := gputypes.PresentModeFifo
	if b.cfg.SwapInterval == 0 {
		for _, m := range []gputypes.PresentMode{gputypes.PresentModeMailbox, gputypes.PresentModeImmediate} {
			if slices.Contains(caps.PresentModes, m) {
				mode = m
				break
			}
		}
	}
	alpha := gputypes.CompositeAlphaModeOpaque
	if len(caps.AlphaModes) > 0 && !slices.Contains(caps.AlphaModes, alpha) {
		alpha = caps.AlphaModes[0]
	}

	err := b.surface.Configure(b.device, &hal.SurfaceConfiguration{
		Width:       uint32(b.width),
		Height:      uint32(b.height),
		Format:      b.colorFormat,
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		PresentMode: mode,
		AlphaMode:   alpha,
	})
	return halError("configure surface", err)
}

// acquire fetches the surface image of the frame. An out of date surface is
// reconfigured once; a second failure is returned to the caller.
func (b *Backend) acquire() error {
	acquired, err := b.surface.AcquireTexture(nil)
	if errors.Is(err, hal.ErrSurfaceOutdated) || errors.Is(err, hal.ErrSurfaceLost) {
		core.LogWarn("surface out of date, recreating swapchain")
		if err := b.recreateSwapchain(true); err != nil {
			return err
		}
		acquired, err = b.surface.AcquireTexture(nil)
	}
	if err != nil {
		return halError("acquire surface texture", err)
	}
	sc := b.swapchain
	sc.acquired = acquired.Texture
	sc.suboptimal = acquired.Suboptimal

	view, err := b.device.CreateTextureView(acquired.Texture, &hal.TextureViewDescriptor{
		Label:           "swapchain",
		Format:          b.colorFormat,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		b.surface.DiscardTexture(acquired.Texture)
		sc.acquired = nil
		return halError("create swapchain view", err)
	}
	// The view is referenced by the frame commands and dies with the slot.
	slot := &b.slots[b.frame]
	slot.views = append(slot.views, view)
	b.defaults.color.raw = acquired.Texture
	b.defaults.color.view = view
	b.defaults.color.usage = 0
	return nil
}

func (b *Backend) present() error {
	sc := b.swapchain
	err := b.queue.Present(b.surface, sc.acquired, nil)
	sc.acquired = nil
	b.defaults.color.raw = nil
	b.defaults.color.view = nil
	switch {
	case errors.Is(err, hal.ErrSurfaceOutdated):
		return b.recreateSwapchain(true)
	case err != nil:
		return halError("present", err)
	case sc.suboptimal:
		sc.suboptimal = false
		return b.recreateSwapchain(true)
	}
	return nil
}

// recreateSwapchain rebuilds the surface configuration and the default
// targets. With fromWindow, the size is taken from the window framebuffer.
func (b *Backend) recreateSwapchain(fromWindow bool) error {
	if b.swapchain != nil {
		b.swapchain.recreating = true
		defer func() { b.swapchain.recreating = false }()
	}
	if err := b.WaitIdle(); err != nil {
		return err
	}
	if fromWindow && b.cfg.Window != nil {
		if w, h := b.cfg.Window.FramebufferSize(); w > 0 && h > 0 {
			b.width, b.height = w, h
		}
	}
	b.destroyDefaultTargets()
	if b.surface != nil {
		if err := b.configureSurface(); err != nil {
			return err
		}
		b.swapchain.recreations++
	}
	if err := b.createDefaultTargets(); err != nil {
		return err
	}
	core.LogDebug("swapchain recreated at %dx%d", b.width, b.height)
	return nil
}

func (b *Backend) createDefaultTargets() error {
	d := &b.defaults
	if b.surface != nil {
		d.color = &texture{
			resource: resource{b: b},
			params: gpu.TextureParams{
				Format: b.colorFormat, Width: b.width, Height: b.height, Samples: 1,
				Usage: gpu.TextureUsageColorAttachment | gpu.TextureUsageTransferSrc,
			},
			borrowed: true,
		}
	} else {
		color, err := b.newTexture("default color", gpu.TextureParams{
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
	}
	if b.samples > 1 {
		ms, err := b.newTexture("default color ms", gpu.TextureParams{
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
	depth, err := b.newTexture("default depth", gpu.TextureParams{
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

	d.clear = b.defaultTarget(gputypes.LoadOpClear)
	d.load = b.defaultTarget(gputypes.LoadOpLoad)
	return nil
}

func (b *Backend) defaultTarget(load gputypes.LoadOp) *renderTarget {
	d := &b.defaults
	c := b.cfg.ClearColor
	color := attachment{
		tex:   d.color,
		load:  load,
		store: gputypes.StoreOpStore,
		clear: gputypes.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])},
	}
	if d.ms != nil {
		color.tex = d.ms
		color.resolve = d.color
	}
	return &renderTarget{
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
}

func (b *Backend) destroyDefaultTargets() {
	d := &b.defaults
	// Targets hold no views of their own but go first all the same.
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
	dummy, err := b.newTexture("dummy", gpu.TextureParams{
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
