package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

const MaxColorAttachments = 8

type Attachment struct {
	Texture      *Texture
	Layer        int
	Resolve      *Texture
	ResolveLayer int
	Load         gputypes.LoadOp
	Store        gputypes.StoreOp
	Clear        [4]float32
}

type DepthStencilAttachment struct {
	Texture      *Texture
	Resolve      *Texture
	Load         gputypes.LoadOp
	Store        gputypes.StoreOp
	ClearDepth   float32
	ClearStencil uint32
}

type RenderTargetParams struct {
	Width        int
	Height       int
	Colors       []Attachment
	DepthStencil DepthStencilAttachment
}

type AttachmentDesc struct {
	Format  gputypes.TextureFormat
	Resolve bool
}

// RenderTargetDesc is the compatibility descriptor of a render target. A
// pipeline built for one descriptor can draw into every render target that
// shares it.
type RenderTargetDesc struct {
	Samples      int
	NbColors     int
	Colors       [MaxColorAttachments]AttachmentDesc
	DepthStencil AttachmentDesc
}

// Compatible reports whether a pipeline built for d can draw into a target
// described by o.
func (d RenderTargetDesc) Compatible(o RenderTargetDesc) bool {
	return d == o
}

type RenderTarget struct {
	resource
	params  RenderTargetParams
	desc    RenderTargetDesc
	builtin bool
}

// NewRenderTarget creates a render target wrapper. Nothing is allocated
// until Init.
func (c *Context) NewRenderTarget(label string) *RenderTarget {
	rt := &RenderTarget{}
	c.track(&rt.resource, "rendertarget", label)
	return rt
}

func (rt *RenderTarget) Params() RenderTargetParams {
	return rt.params
}

func (rt *RenderTarget) Desc() RenderTargetDesc {
	return rt.desc
}

func (rt *RenderTarget) Size() (int, int) {
	return rt.params.Width, rt.params.Height
}

func (rt *RenderTarget) Impl() RenderTargetImpl {
	if rt.impl == nil {
		return nil
	}
	return rt.impl.(RenderTargetImpl)
}

func (rt *RenderTarget) Init(p RenderTargetParams) error {
	return rt.ctx.fail("render target init", rt.init(p))
}

func (rt *RenderTarget) init(p RenderTargetParams) error {
	if err := rt.checkInit(); err != nil {
		return err
	}
	desc, err := rt.validate(p)
	if err != nil {
		return err
	}
	var impl RenderTargetImpl
	err = rt.ctx.run(func() error {
		var err error
		impl, err = rt.ctx.backend.CreateRenderTarget(p)
		return err
	})
	if err != nil {
		return fmt.Errorf("render target %q: %w", rt.label, err)
	}
	rt.params = p
	rt.desc = desc
	rt.impl = impl
	return nil
}

func (rt *RenderTarget) validate(p RenderTargetParams) (RenderTargetDesc, error) {
	var desc RenderTargetDesc
	if p.Width <= 0 || p.Height <= 0 {
		return desc, fmt.Errorf("render target %q: invalid dimensions %dx%d: %w", rt.label, p.Width, p.Height, core.ErrInvalidArg)
	}
	if len(p.Colors) == 0 && p.DepthStencil.Texture == nil {
		return desc, fmt.Errorf("render target %q has no attachment: %w", rt.label, core.ErrInvalidArg)
	}
	maxColors := min(rt.ctx.Limits().MaxColorAttachments, MaxColorAttachments)
	if maxColors == 0 {
		maxColors = MaxColorAttachments
	}
	if len(p.Colors) > maxColors {
		return desc, fmt.Errorf("render target %q: %d color attachments, at most %d: %w", rt.label, len(p.Colors), maxColors, core.ErrUnsupported)
	}

	desc.Samples = -1
	check := func(what string, tex, resolve *Texture, usage TextureUsage) (AttachmentDesc, error) {
		if err := rt.checkAttachment(what, tex, p, usage); err != nil {
			return AttachmentDesc{}, err
		}
		tp := tex.Params()
		if desc.Samples == -1 {
			desc.Samples = tp.Samples
		} else if desc.Samples != tp.Samples {
			return AttachmentDesc{}, fmt.Errorf("render target %q: %s has %d samples, expected %d: %w",
				rt.label, what, tp.Samples, desc.Samples, core.ErrInvalidArg)
		}
		ad := AttachmentDesc{Format: tp.Format}
		if resolve == nil {
			return ad, nil
		}
		if err := rt.checkAttachment(what+" resolve", resolve, p, usage); err != nil {
			return AttachmentDesc{}, err
		}
		rp := resolve.Params()
		if rp.Samples > 1 {
			return AttachmentDesc{}, fmt.Errorf("render target %q: %s resolve target must be single-sample, got %d samples: %w",
				rt.label, what, rp.Samples, core.ErrInvalidArg)
		}
		if rp.Format != tp.Format {
			return AttachmentDesc{}, fmt.Errorf("render target %q: %s resolve format %s differs from %s: %w",
				rt.label, what, rp.Format, tp.Format, core.ErrInvalidArg)
		}
		if tp.Samples <= 1 {
			return AttachmentDesc{}, fmt.Errorf("render target %q: %s is single-sample and cannot be resolved: %w",
				rt.label, what, core.ErrInvalidArg)
		}
		ad.Resolve = true
		return ad, nil
	}

	for i, a := range p.Colors {
		ad, err := check(fmt.Sprintf("color attachment %d", i), a.Texture, a.Resolve, TextureUsageColorAttachment)
		if err != nil {
			return desc, err
		}
		if a.Texture.Params().Format.IsDepthStencil() {
			return desc, fmt.Errorf("render target %q: color attachment %d has depth format %s: %w",
				rt.label, i, a.Texture.Params().Format, core.ErrInvalidArg)
		}
		desc.Colors[i] = ad
	}
	desc.NbColors = len(p.Colors)

	if ds := p.DepthStencil; ds.Texture != nil {
		ad, err := check("depth stencil attachment", ds.Texture, ds.Resolve, TextureUsageDepthStencilAttachment)
		if err != nil {
			return desc, err
		}
		if !ds.Texture.Params().Format.IsDepthStencil() {
			return desc, fmt.Errorf("render target %q: depth stencil attachment has color format %s: %w",
				rt.label, ds.Texture.Params().Format, core.ErrInvalidArg)
		}
		desc.DepthStencil = ad
	}
	return desc, nil
}

func (rt *RenderTarget) checkAttachment(what string, tex *Texture, p RenderTargetParams, usage TextureUsage) error {
	if tex == nil {
		return fmt.Errorf("render target %q: %s has no texture: %w", rt.label, what, core.ErrInvalidArg)
	}
	if err := tex.checkOwner(rt.ctx); err != nil {
		return err
	}
	if err := tex.checkUsable(); err != nil {
		return err
	}
	tp := tex.Params()
	if tp.Usage&usage == 0 {
		return fmt.Errorf("render target %q: %s texture %q lacks attachment usage: %w", rt.label, what, tex.label, core.ErrInvalidArg)
	}
	if tp.Width != p.Width || tp.Height != p.Height {
		return fmt.Errorf("render target %q: %s is %dx%d, expected %dx%d: %w",
			rt.label, what, tp.Width, tp.Height, p.Width, p.Height, core.ErrInvalidArg)
	}
	return nil
}

// ReadPixels copies the first color attachment into dst as tightly packed
// RGBA8. It waits for the GPU to finish writing the target.
func (rt *RenderTarget) ReadPixels(dst []byte) error {
	err := rt.checkUsable()
	if err == nil && len(dst) < rt.params.Width*rt.params.Height*4 {
		err = fmt.Errorf("render target %q: %d bytes cannot hold %dx%d RGBA: %w",
			rt.label, len(dst), rt.params.Width, rt.params.Height, core.ErrInvalidArg)
	}
	if err == nil && rt.ctx.state == StateInRenderPass && rt.ctx.rt == rt {
		err = fmt.Errorf("render target %q is being rendered to: %w", rt.label, core.ErrInvalidUsage)
	}
	if err == nil {
		err = rt.ctx.run(func() error {
			return rt.Impl().ReadPixels(dst)
		})
	}
	return rt.ctx.fail("read pixels", err)
}

// Destroy releases the target. The default targets belong to the context
// and are left untouched.
func (rt *RenderTarget) Destroy() {
	if rt.builtin {
		return
	}
	rt.destroy()
}
