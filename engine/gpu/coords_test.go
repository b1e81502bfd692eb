package gpu

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/math"
	"github.com/stretchr/testify/assert"
)

func apply(m math.Mat4, v [4]float32) [4]float32 {
	o := m.MulVec4(math.Vec4{X: v[0], Y: v[1], Z: v[2], W: v[3]})
	return [4]float32{o.X, o.Y, o.Z, o.W}
}

func TestFlipYHalfDepth(t *testing.T) {
	m := math.NewMat4Identity()
	FlipYHalfDepth(&m)
	assert.Equal(t, [4]float32{0.5, -1, 0, 1}, apply(m, [4]float32{0.5, 1, -1, 1}))
	assert.Equal(t, [4]float32{0, 1, 1, 1}, apply(m, [4]float32{0, -1, 1, 1}))

	// The correction is applied after the projection.
	p := math.NewMat4Scale(math.NewVec3(2, 2, 2))
	FlipYHalfDepth(&p)
	assert.Equal(t, [4]float32{2, -2, 0.5, 1}, apply(p, [4]float32{1, 1, 0, 1}))
}

func TestHalfDepth(t *testing.T) {
	m := math.NewMat4Identity()
	HalfDepth(&m)
	assert.Equal(t, [4]float32{0, 1, 0, 1}, apply(m, [4]float32{0, 1, -1, 1}))
}

func TestSwapCullMode(t *testing.T) {
	assert.Equal(t, gputypes.CullModeBack, SwapCullMode(gputypes.CullModeFront))
	assert.Equal(t, gputypes.CullModeFront, SwapCullMode(gputypes.CullModeBack))
	assert.Equal(t, gputypes.CullModeNone, SwapCullMode(gputypes.CullModeNone))
}

func TestFlipVMatrix(t *testing.T) {
	m := FlipVMatrix()
	assert.Equal(t, [4]float32{0.25, 0.75, 0, 1}, apply(m, [4]float32{0.25, 0.25, 0, 1}))
}

func TestLimitsFromDevice(t *testing.T) {
	l := LimitsFromDevice(gputypes.DefaultLimits(), 4)
	d := gputypes.DefaultLimits()
	assert.Equal(t, 4, l.MaxSamples)
	assert.Equal(t, int(d.MaxTextureDimension2D), l.MaxTextureDimension2D)
	assert.Equal(t, l.MaxTextureDimension2D, l.MaxTextureDimensionCube)
	assert.LessOrEqual(t, l.MaxColorAttachments, MaxColorAttachments)
	assert.Equal(t, int(d.MaxComputeWorkgroupsPerDimension), l.MaxComputeWorkGroupCount[2])
}
