package state

import (
	"math/bits"

	"github.com/gogpu/gputypes"
)

// FixedApplier issues the native calls for one group of fixed-function state.
type FixedApplier interface {
	ApplyBlend(Blend)
	ApplyColorMask(gputypes.ColorWriteMask)
	ApplyDepth(Depth)
	ApplyStencil(Stencil)
	ApplyCull(gputypes.CullMode)
	ApplyScissorTest(bool)
}

// DynamicApplier issues the native calls for state that changes per draw or
// per pass.
type DynamicApplier interface {
	UseProgram(id uint64)
	SetViewport(Rect)
	SetScissor(Rect)
}

// Cache remembers the last applied state of one context and only forwards
// the differences to its appliers. Either applier may be nil when the
// backend bakes that part of the state somewhere else.
type Cache struct {
	fixed FixedApplier
	dyn   DynamicApplier

	last  GraphicsState
	known bool
	// stale groups were changed by native calls made behind the cache.
	stale Group

	program       uint64
	programKnown  bool
	viewport      Rect
	viewportKnown bool
	scissor       Rect
	scissorKnown  bool
}

func NewCache(fixed FixedApplier, dyn DynamicApplier) *Cache {
	return &Cache{fixed: fixed, dyn: dyn}
}

// Reset applies the default state unconditionally and records it.
func (c *Cache) Reset() {
	c.apply(Default(), GroupAll)
	c.last = Default()
	c.known = true
	c.stale = 0

	c.program = 0
	c.programKnown = true
	if c.dyn != nil {
		c.dyn.UseProgram(0)
	}
	c.viewportKnown = false
	c.scissorKnown = false
}

// Invalidate forgets everything, so the next request of each kind reaches
// the appliers.
func (c *Cache) Invalidate() {
	c.known = false
	c.programKnown = false
	c.viewportKnown = false
	c.scissorKnown = false
}

// Forget marks the groups in g as unknown. The next Honor applies them
// whatever the requested state.
func (c *Cache) Forget(g Group) {
	c.stale |= g & GroupAll
}

// Honor brings the native state to gs and returns the number of groups
// that had to be applied.
func (c *Cache) Honor(gs GraphicsState) int {
	groups := GroupAll
	if c.known {
		groups = c.last.Diff(gs) | c.stale
	}
	if groups == 0 {
		return 0
	}
	c.apply(gs, groups)
	c.last = gs
	c.known = true
	c.stale = 0
	return bits.OnesCount8(uint8(groups))
}

func (c *Cache) apply(gs GraphicsState, groups Group) {
	if c.fixed == nil {
		return
	}
	if groups&GroupBlend != 0 {
		c.fixed.ApplyBlend(gs.Blend)
	}
	if groups&GroupColorMask != 0 {
		c.fixed.ApplyColorMask(gs.ColorMask)
	}
	if groups&GroupDepth != 0 {
		c.fixed.ApplyDepth(gs.Depth)
	}
	if groups&GroupStencil != 0 {
		c.fixed.ApplyStencil(gs.Stencil)
	}
	if groups&GroupCull != 0 {
		c.fixed.ApplyCull(gs.Cull)
	}
	if groups&GroupScissorTest != 0 {
		c.fixed.ApplyScissorTest(gs.ScissorTest)
	}
}

// Current returns the last applied state.
func (c *Cache) Current() GraphicsState {
	return c.last
}

// UseProgram binds id unless it is already bound. It reports whether the
// applier was called.
func (c *Cache) UseProgram(id uint64) bool {
	if c.programKnown && c.program == id {
		return false
	}
	c.program = id
	c.programKnown = true
	if c.dyn != nil {
		c.dyn.UseProgram(id)
	}
	return true
}

func (c *Cache) SetViewport(r Rect) bool {
	if c.viewportKnown && c.viewport == r {
		return false
	}
	c.viewport = r
	c.viewportKnown = true
	if c.dyn != nil {
		c.dyn.SetViewport(r)
	}
	return true
}

func (c *Cache) SetScissor(r Rect) bool {
	if c.scissorKnown && c.scissor == r {
		return false
	}
	c.scissor = r
	c.scissorKnown = true
	if c.dyn != nil {
		c.dyn.SetScissor(r)
	}
	return true
}
