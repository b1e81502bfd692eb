package gpu

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

type TextureType uint8

const (
	Texture2D TextureType = iota
	Texture2DArray
	Texture3D
	TextureCube
)

type TextureUsage uint32

const (
	TextureUsageTransferSrc TextureUsage = 1 << iota
	TextureUsageTransferDst
	TextureUsageSampled
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthStencilAttachment
	TextureUsageTransientAttachment
)

type TextureParams struct {
	Type    TextureType
	Format  gputypes.TextureFormat
	Width   int
	Height  int
	Depth   int
	Samples int

	MinFilter    gputypes.FilterMode
	MagFilter    gputypes.FilterMode
	MipmapFilter gputypes.MipmapFilterMode
	WrapS        gputypes.AddressMode
	WrapT        gputypes.AddressMode
	WrapR        gputypes.AddressMode

	Usage TextureUsage

	// MipLevels is filled by Init.
	MipLevels int
}

// Layers returns the number of array layers or cube faces.
func (p TextureParams) Layers() int {
	switch p.Type {
	case TextureCube:
		return 6
	case Texture2DArray:
		return max(p.Depth, 1)
	}
	return 1
}

// MipLevels returns the number of levels of a mipmapped texture: one level
// per halving of the smaller dimension, or 1 without mipmap filtering.
func MipLevels(width, height int, filter gputypes.MipmapFilterMode) int {
	if filter == gputypes.MipmapFilterModeUndefined {
		return 1
	}
	n := min(width, height)
	if n <= 0 {
		return 1
	}
	return bits.Len(uint(n))
}

// BytesPerPixel returns the size of one texel for uncompressed color
// formats, 0 otherwise.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm, gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint:
		return 1
	case gputypes.TextureFormatRG8Unorm, gputypes.TextureFormatRG8Snorm, gputypes.TextureFormatRG8Uint, gputypes.TextureFormatRG8Sint,
		gputypes.TextureFormatR16Float, gputypes.TextureFormatR16Uint, gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR16Unorm, gputypes.TextureFormatR16Snorm:
		return 2
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb, gputypes.TextureFormatRGBA8Snorm,
		gputypes.TextureFormatRGBA8Uint, gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatRG16Float, gputypes.TextureFormatRG16Uint, gputypes.TextureFormatRG16Sint,
		gputypes.TextureFormatRG16Unorm, gputypes.TextureFormatRG16Snorm, gputypes.TextureFormatRGB10A2Uint,
		gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint, gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRGB10A2Unorm, gputypes.TextureFormatRG11B10Ufloat:
		return 4
	case gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA16Unorm, gputypes.TextureFormatRGBA16Snorm,
		gputypes.TextureFormatRG32Float, gputypes.TextureFormatRG32Uint, gputypes.TextureFormatRG32Sint:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint, gputypes.TextureFormatRGBA32Sint:
		return 16
	}
	return 0
}

type Texture struct {
	resource
	params TextureParams
}

// NewTexture creates a texture wrapper. Nothing is allocated until Init.
func (c *Context) NewTexture(label string) *Texture {
	t := &Texture{}
	c.track(&t.resource, "texture", label)
	return t
}

func (t *Texture) Params() TextureParams {
	return t.params
}

func (t *Texture) Impl() TextureImpl {
	if t.impl == nil {
		return nil
	}
	return t.impl.(TextureImpl)
}

func (t *Texture) Init(p TextureParams) error {
	return t.ctx.fail("texture init", t.init(p))
}

func (t *Texture) init(p TextureParams) error {
	if err := t.checkInit(); err != nil {
		return err
	}
	if err := t.validate(&p); err != nil {
		return err
	}
	var impl TextureImpl
	err := t.ctx.run(func() error {
		var err error
		impl, err = t.ctx.backend.CreateTexture(p)
		return err
	})
	if err != nil {
		return fmt.Errorf("texture %q: %w", t.label, err)
	}
	t.params = p
	t.impl = impl
	return nil
}

func (t *Texture) validate(p *TextureParams) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("texture %q: invalid dimensions %dx%d: %w", t.label, p.Width, p.Height, core.ErrInvalidArg)
	}
	if p.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("texture %q: undefined format: %w", t.label, core.ErrInvalidArg)
	}
	if p.Samples == 0 {
		p.Samples = 1
	}
	switch p.Samples {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("texture %q: invalid sample count %d: %w", t.label, p.Samples, core.ErrInvalidArg)
	}
	limits := t.ctx.Limits()
	if p.Samples > 1 {
		if p.Type != Texture2D || p.MipmapFilter != gputypes.MipmapFilterModeUndefined {
			return fmt.Errorf("texture %q: multisampled textures must be 2D without mipmaps: %w", t.label, core.ErrInvalidArg)
		}
		if limits.MaxSamples > 0 && p.Samples > limits.MaxSamples {
			return fmt.Errorf("texture %q: %d samples exceeds the device maximum %d: %w", t.label, p.Samples, limits.MaxSamples, core.ErrUnsupported)
		}
	}

	maxDim := limits.MaxTextureDimension2D
	switch p.Type {
	case TextureCube:
		if p.Width != p.Height {
			return fmt.Errorf("texture %q: cube faces must be square, got %dx%d: %w", t.label, p.Width, p.Height, core.ErrInvalidArg)
		}
		maxDim = limits.MaxTextureDimensionCube
	case Texture3D:
		if p.Depth <= 0 {
			return fmt.Errorf("texture %q: 3D texture needs a depth: %w", t.label, core.ErrInvalidArg)
		}
		maxDim = limits.MaxTextureDimension3D
	case Texture2DArray:
		if p.Depth <= 0 {
			return fmt.Errorf("texture %q: array texture needs a layer count: %w", t.label, core.ErrInvalidArg)
		}
	}
	if maxDim > 0 && (p.Width > maxDim || p.Height > maxDim) {
		return fmt.Errorf("texture %q: %dx%d exceeds the device maximum %d: %w", t.label, p.Width, p.Height, maxDim, core.ErrUnsupported)
	}
	if p.Format.IsDepthStencil() && p.Usage&TextureUsageStorage != 0 {
		return fmt.Errorf("texture %q: depth formats cannot be used as storage: %w", t.label, core.ErrInvalidArg)
	}
	if p.Usage == 0 {
		p.Usage = TextureUsageSampled | TextureUsageTransferDst
	}
	if p.Depth == 0 {
		p.Depth = 1
	}
	p.MipLevels = MipLevels(p.Width, p.Height, p.MipmapFilter)
	return nil
}

// Upload replaces the content of the first level. bytesPerRow may be 0 for
// tightly packed data.
func (t *Texture) Upload(data []byte, bytesPerRow int) error {
	return t.ctx.fail("texture upload", t.upload(data, bytesPerRow))
}

func (t *Texture) upload(data []byte, bytesPerRow int) error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	if bytesPerRow == 0 {
		bytesPerRow = t.params.Width * BytesPerPixel(t.params.Format)
	}
	need := bytesPerRow * t.params.Height * t.params.Layers()
	if t.params.Type == Texture3D {
		need = bytesPerRow * t.params.Height * t.params.Depth
	}
	if bytesPerRow <= 0 || len(data) < need {
		return fmt.Errorf("texture %q: got %d bytes, need %d: %w", t.label, len(data), need, core.ErrInvalidArg)
	}
	return t.ctx.run(func() error {
		return t.Impl().Upload(data, bytesPerRow)
	})
}

// GenerateMipmap fills every level from level 0.
func (t *Texture) GenerateMipmap() error {
	err := t.checkUsable()
	if err == nil && t.params.MipLevels <= 1 {
		err = fmt.Errorf("texture %q has a single level: %w", t.label, core.ErrInvalidUsage)
	}
	if err == nil {
		err = t.ctx.run(t.Impl().GenerateMipmap)
	}
	return t.ctx.fail("generate mipmap", err)
}

func (t *Texture) Destroy() {
	t.destroy()
}
