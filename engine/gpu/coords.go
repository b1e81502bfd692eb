package gpu

import (
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

// Clip space helpers shared by the backends. Matrices are column-major.

// FlipYHalfDepth maps an OpenGL-style projection (Y up, depth in [-1, 1]) to
// a clip space with Y down and depth in [0, 1].
func FlipYHalfDepth(dst *math.Mat4) {
	m := math.Mat4{Data: [16]float32{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}}
	// Mul is row-major indexed, so dst.Mul(m) yields m*dst in column-major.
	*dst = dst.Mul(m)
}

// HalfDepth maps depth from [-1, 1] to [0, 1] and keeps Y up.
func HalfDepth(dst *math.Mat4) {
	m := math.Mat4{Data: [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}}
	*dst = dst.Mul(m)
}

// SwapCullMode returns the opposite face for front or back culling. Flipping
// Y inverts the winding order.
func SwapCullMode(mode gputypes.CullMode) gputypes.CullMode {
	switch mode {
	case gputypes.CullModeFront:
		return gputypes.CullModeBack
	case gputypes.CullModeBack:
		return gputypes.CullModeFront
	}
	return mode
}

// FlipVMatrix maps texture coordinates for render targets whose origin is
// the top-left corner when sampled with a bottom-left convention.
func FlipVMatrix() math.Mat4 {
	return math.Mat4{Data: [16]float32{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 1, 0,
		0, 1, 0, 1,
	}}
}
