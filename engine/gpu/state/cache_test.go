package state

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) ApplyBlend(Blend)                       { r.calls = append(r.calls, "blend") }
func (r *recorder) ApplyColorMask(gputypes.ColorWriteMask) { r.calls = append(r.calls, "colormask") }
func (r *recorder) ApplyDepth(Depth)                       { r.calls = append(r.calls, "depth") }
func (r *recorder) ApplyStencil(Stencil)                   { r.calls = append(r.calls, "stencil") }
func (r *recorder) ApplyCull(gputypes.CullMode)            { r.calls = append(r.calls, "cull") }
func (r *recorder) ApplyScissorTest(bool)                  { r.calls = append(r.calls, "scissor_test") }
func (r *recorder) UseProgram(uint64)                      { r.calls = append(r.calls, "program") }
func (r *recorder) SetViewport(Rect)                       { r.calls = append(r.calls, "viewport") }
func (r *recorder) SetScissor(Rect)                        { r.calls = append(r.calls, "scissor") }

func (r *recorder) take() []string {
	c := r.calls
	r.calls = nil
	return c
}

func TestResetAppliesEveryGroup(t *testing.T) {
	r := &recorder{}
	c := NewCache(r, r)
	c.Reset()
	assert.ElementsMatch(t, []string{"blend", "colormask", "depth", "stencil", "cull", "scissor_test", "program"}, r.take())
	assert.Equal(t, Default(), c.Current())

	// the default state is now known, honoring it is free
	assert.Zero(t, c.Honor(Default()))
	assert.Empty(t, r.take())
}

func TestHonorIsIdempotent(t *testing.T) {
	r := &recorder{}
	c := NewCache(r, r)
	c.Reset()
	r.take()

	gs := Default()
	gs.Blend.Enabled = true
	gs.Blend.Color.SrcFactor = gputypes.BlendFactorSrcAlpha
	gs.Blend.Color.DstFactor = gputypes.BlendFactorOneMinusSrcAlpha
	gs.Depth.Test = true

	assert.Equal(t, 2, c.Honor(gs))
	assert.Equal(t, []string{"blend", "depth"}, r.take())

	assert.Zero(t, c.Honor(gs))
	assert.Empty(t, r.take())
}

func TestHonorAppliesOnlyChangedGroups(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GraphicsState)
		want   []string
	}{
		{"color mask", func(gs *GraphicsState) { gs.ColorMask = gputypes.ColorWriteMaskRed }, []string{"colormask"}},
		{"stencil ref", func(gs *GraphicsState) { gs.Stencil.Ref = 3 }, []string{"stencil"}},
		{"cull", func(gs *GraphicsState) { gs.Cull = gputypes.CullModeBack }, []string{"cull"}},
		{"scissor test", func(gs *GraphicsState) { gs.ScissorTest = true }, []string{"scissor_test"}},
		{"depth compare", func(gs *GraphicsState) { gs.Depth.Compare = gputypes.CompareFunctionGreater }, []string{"depth"}},
		{"blend alpha op", func(gs *GraphicsState) { gs.Blend.Alpha.Operation = gputypes.BlendOperationMax }, []string{"blend"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			c := NewCache(r, r)
			c.Reset()
			r.take()

			gs := Default()
			tt.mutate(&gs)
			assert.Equal(t, len(tt.want), c.Honor(gs))
			assert.Equal(t, tt.want, r.take())
			assert.Equal(t, gs, c.Current())
		})
	}
}

func TestDynamicStateIsCachedSeparately(t *testing.T) {
	r := &recorder{}
	c := NewCache(r, r)
	c.Reset()
	r.take()

	assert.False(t, c.UseProgram(0))
	assert.True(t, c.UseProgram(7))
	assert.False(t, c.UseProgram(7))

	vp := Rect{0, 0, 640, 480}
	assert.True(t, c.SetViewport(vp))
	assert.False(t, c.SetViewport(vp))
	assert.True(t, c.SetScissor(vp))
	assert.False(t, c.SetScissor(vp))
	assert.True(t, c.SetScissor(Rect{10, 10, 20, 20}))

	assert.Equal(t, []string{"program", "viewport", "scissor", "scissor"}, r.take())

	// dynamic changes never touch the fixed-function groups
	assert.Zero(t, c.Honor(Default()))
}

func TestForgetReappliesOnlyForgottenGroups(t *testing.T) {
	r := &recorder{}
	c := NewCache(r, r)
	c.Reset()
	c.UseProgram(3)
	c.SetViewport(Rect{0, 0, 8, 8})
	gs := Default()
	gs.Cull = gputypes.CullModeBack
	c.Honor(gs)
	r.take()

	// A clear overrode the masks and the scissor test behind the cache.
	c.Forget(GroupColorMask | GroupDepth | GroupStencil | GroupScissorTest)
	assert.Equal(t, 4, c.Honor(gs))
	assert.ElementsMatch(t, []string{"colormask", "depth", "stencil", "scissor_test"}, r.take())

	assert.Zero(t, c.Honor(gs))
	assert.False(t, c.UseProgram(3))
	assert.False(t, c.SetViewport(Rect{0, 0, 8, 8}))
	assert.Empty(t, r.take())

	// A new state applies the forgotten groups along with its own changes.
	c.Forget(GroupScissorTest)
	gs.Cull = gputypes.CullModeNone
	assert.Equal(t, 2, c.Honor(gs))
	assert.ElementsMatch(t, []string{"cull", "scissor_test"}, r.take())
}

func TestInvalidate(t *testing.T) {
	r := &recorder{}
	c := NewCache(r, r)
	c.Reset()
	c.UseProgram(3)
	c.SetViewport(Rect{0, 0, 1, 1})
	r.take()

	c.Invalidate()
	assert.Equal(t, 6, c.Honor(Default()))
	assert.True(t, c.UseProgram(3))
	assert.True(t, c.SetViewport(Rect{0, 0, 1, 1}))
	require.Len(t, r.take(), 8)
}

func TestNilAppliers(t *testing.T) {
	c := NewCache(nil, nil)
	c.Reset()
	gs := Default()
	gs.Cull = gputypes.CullModeFront
	assert.Equal(t, 1, c.Honor(gs))
	assert.True(t, c.SetViewport(Rect{0, 0, 4, 4}))
}

func TestDepthStencilState(t *testing.T) {
	gs := Default()
	assert.Nil(t, gs.DepthStencilState(gputypes.TextureFormatUndefined))

	ds := gs.DepthStencilState(gputypes.TextureFormatDepth24PlusStencil8)
	require.NotNil(t, ds)
	assert.False(t, ds.DepthWriteEnabled)
	assert.Equal(t, gputypes.CompareFunctionAlways, ds.DepthCompare)

	gs.Depth.Test = true
	gs.Stencil.Test = true
	gs.Stencil.Compare = gputypes.CompareFunctionEqual
	gs.Stencil.Pass = gputypes.StencilOperationReplace
	ds = gs.DepthStencilState(gputypes.TextureFormatDepth24PlusStencil8)
	assert.True(t, ds.DepthWriteEnabled)
	assert.Equal(t, gputypes.CompareFunctionLess, ds.DepthCompare)
	assert.Equal(t, gputypes.CompareFunctionEqual, ds.StencilFront.Compare)
	assert.Equal(t, gputypes.StencilOperationReplace, ds.StencilBack.PassOp)
	assert.Equal(t, uint32(1), ds.StencilWriteMask)

	assert.Nil(t, gs.Blend.BlendState())
}
