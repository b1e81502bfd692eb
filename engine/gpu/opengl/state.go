package opengl

import (
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

// applier issues the GL calls behind the render state cache. Both the
// fixed-function and the dynamic state live in the context.
type applier struct {
	b *Backend
}

func enable(capability uint32, on bool) {
	if on {
		gl.Enable(capability)
	} else {
		gl.Disable(capability)
	}
}

func (a applier) ApplyBlend(bl state.Blend) {
	enable(gl.BLEND, bl.Enabled)
	if !bl.Enabled {
		return
	}
	gl.BlendFuncSeparate(
		blendFactor(bl.Color.SrcFactor), blendFactor(bl.Color.DstFactor),
		blendFactor(bl.Alpha.SrcFactor), blendFactor(bl.Alpha.DstFactor))
	gl.BlendEquationSeparate(blendEquation(bl.Color.Operation), blendEquation(bl.Alpha.Operation))
}

func (a applier) ApplyColorMask(m gputypes.ColorWriteMask) {
	gl.ColorMask(
		m&gputypes.ColorWriteMaskRed != 0,
		m&gputypes.ColorWriteMaskGreen != 0,
		m&gputypes.ColorWriteMaskBlue != 0,
		m&gputypes.ColorWriteMaskAlpha != 0)
}

// ApplyDepth disables writes along with the test: GL never writes depth
// without testing it.
func (a applier) ApplyDepth(d state.Depth) {
	enable(gl.DEPTH_TEST, d.Test)
	gl.DepthMask(d.Test && d.Write)
	if d.Test {
		gl.DepthFunc(compareFunc(d.Compare))
	}
}

func (a applier) ApplyStencil(s state.Stencil) {
	enable(gl.STENCIL_TEST, s.Test)
	gl.StencilMask(s.WriteMask)
	if !s.Test {
		return
	}
	gl.StencilFuncSeparate(gl.FRONT_AND_BACK, compareFunc(s.Compare), int32(s.Ref), s.ReadMask)
	gl.StencilOpSeparate(gl.FRONT_AND_BACK, stencilOp(s.Fail), stencilOp(s.DepthFail), stencilOp(s.Pass))
}

func (a applier) ApplyCull(mode gputypes.CullMode) {
	face, on := cullFace(mode)
	enable(gl.CULL_FACE, on)
	if on {
		gl.CullFace(face)
	}
}

func (a applier) ApplyScissorTest(on bool) {
	enable(gl.SCISSOR_TEST, on)
}

func (a applier) UseProgram(id uint64) {
	gl.UseProgram(uint32(id))
}

// Rectangles share the bottom-left origin of GL window coordinates.

func (a applier) SetViewport(r state.Rect) {
	gl.Viewport(int32(r.X), int32(r.Y), int32(r.W), int32(r.H))
}

func (a applier) SetScissor(r state.Rect) {
	gl.Scissor(int32(r.X), int32(r.Y), int32(r.W), int32(r.H))
}
