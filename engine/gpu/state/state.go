package state

import "github.com/gogpu/gputypes"

// Rect is a viewport or scissor rectangle in framebuffer pixels.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

type Blend struct {
	Enabled bool
	Color   gputypes.BlendComponent
	Alpha   gputypes.BlendComponent
}

type Depth struct {
	Test    bool
	Write   bool
	Compare gputypes.CompareFunction
}

type Stencil struct {
	Test      bool
	WriteMask uint32
	Compare   gputypes.CompareFunction
	Ref       uint32
	ReadMask  uint32
	Fail      gputypes.StencilOperation
	DepthFail gputypes.StencilOperation
	Pass      gputypes.StencilOperation
}

// GraphicsState is the fixed-function draw state diffed between draws.
// It is comparable and safe to use as part of a map key.
type GraphicsState struct {
	Blend       Blend
	ColorMask   gputypes.ColorWriteMask
	Depth       Depth
	Stencil     Stencil
	Cull        gputypes.CullMode
	ScissorTest bool
}

// Default returns the state every context starts from.
func Default() GraphicsState {
	return GraphicsState{
		Blend: Blend{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorZero,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorZero,
				Operation: gputypes.BlendOperationAdd,
			},
		},
		ColorMask: gputypes.ColorWriteMaskAll,
		Depth: Depth{
			Write:   true,
			Compare: gputypes.CompareFunctionLess,
		},
		Stencil: Stencil{
			WriteMask: 1,
			Compare:   gputypes.CompareFunctionAlways,
			ReadMask:  1,
			Fail:      gputypes.StencilOperationKeep,
			DepthFail: gputypes.StencilOperationKeep,
			Pass:      gputypes.StencilOperationKeep,
		},
		Cull: gputypes.CullModeNone,
	}
}

// Group identifies one independently diffed part of GraphicsState.
type Group uint8

const (
	GroupBlend Group = 1 << iota
	GroupColorMask
	GroupDepth
	GroupStencil
	GroupCull
	GroupScissorTest

	GroupAll = GroupBlend | GroupColorMask | GroupDepth | GroupStencil | GroupCull | GroupScissorTest
)

// Diff returns the groups that differ between s and o.
func (s GraphicsState) Diff(o GraphicsState) Group {
	var g Group
	if s.Blend != o.Blend {
		g |= GroupBlend
	}
	if s.ColorMask != o.ColorMask {
		g |= GroupColorMask
	}
	if s.Depth != o.Depth {
		g |= GroupDepth
	}
	if s.Stencil != o.Stencil {
		g |= GroupStencil
	}
	if s.Cull != o.Cull {
		g |= GroupCull
	}
	if s.ScissorTest != o.ScissorTest {
		g |= GroupScissorTest
	}
	return g
}

// BlendState converts the blend group to the shared pipeline vocabulary.
// It returns nil when blending is disabled.
func (b Blend) BlendState() *gputypes.BlendState {
	if !b.Enabled {
		return nil
	}
	return &gputypes.BlendState{Color: b.Color, Alpha: b.Alpha}
}

// DepthStencilState builds the pipeline depth-stencil description for format.
func (s GraphicsState) DepthStencilState(format gputypes.TextureFormat) *gputypes.DepthStencilState {
	if format == gputypes.TextureFormatUndefined {
		return nil
	}
	ds := &gputypes.DepthStencilState{
		Format:            format,
		DepthWriteEnabled: s.Depth.Test && s.Depth.Write,
		DepthCompare:      gputypes.CompareFunctionAlways,
		StencilFront:      gputypes.DefaultStencilFaceState(),
		StencilBack:       gputypes.DefaultStencilFaceState(),
		StencilReadMask:   0xff,
		StencilWriteMask:  0xff,
	}
	if s.Depth.Test {
		ds.DepthCompare = s.Depth.Compare
	}
	if s.Stencil.Test && format.HasStencil() {
		face := gputypes.StencilFaceState{
			Compare:     s.Stencil.Compare,
			FailOp:      s.Stencil.Fail,
			DepthFailOp: s.Stencil.DepthFail,
			PassOp:      s.Stencil.Pass,
		}
		ds.StencilFront = face
		ds.StencilBack = face
		ds.StencilReadMask = s.Stencil.ReadMask
		ds.StencilWriteMask = s.Stencil.WriteMask
	}
	return ds
}
