package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

type FrameState uint8

const (
	StateUnconfigured FrameState = iota
	StateConfigured
	StateUpdating
	StateDrawing
	StateInRenderPass
	StateFrameEnded
	StateDestroyed
)

func (s FrameState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateUpdating:
		return "updating"
	case StateDrawing:
		return "drawing"
	case StateInRenderPass:
		return "in render pass"
	case StateFrameEnded:
		return "frame ended"
	case StateDestroyed:
		return "destroyed"
	}
	return "unknown"
}

func (c *Context) inFrame() bool {
	switch c.state {
	case StateUpdating, StateDrawing, StateInRenderPass:
		return true
	}
	return false
}

// checkIdle requires a configured context between two frames.
func (c *Context) checkIdle() error {
	switch c.state {
	case StateConfigured, StateFrameEnded:
		return nil
	case StateUnconfigured:
		return fmt.Errorf("context is not configured: %w", core.ErrInvalidUsage)
	case StateDestroyed:
		return fmt.Errorf("context is destroyed: %w", core.ErrInvalidUsage)
	}
	return fmt.Errorf("operation not allowed while %s: %w", c.state, core.ErrInvalidUsage)
}

// PrepareDraw lets the scene update host-side resources for time t before
// anything is recorded.
func (c *Context) PrepareDraw(t float64) error {
	return c.fail("prepare draw", c.prepareDraw(t))
}

func (c *Context) prepareDraw(t float64) error {
	if err := c.checkIdle(); err != nil {
		return err
	}
	if err := c.run(func() error { return c.backend.BeginUpdate(t) }); err != nil {
		return err
	}
	c.state = StateUpdating
	var err error
	if c.scene != nil {
		err = c.scene.Prepare(c, t)
	}
	endErr := c.run(func() error { return c.backend.EndUpdate(t) })
	c.state = StateConfigured
	return errors.Join(err, endErr)
}

// Draw renders one frame at time t: the scene is prepared, recorded into the
// default render target, submitted, then presented or captured.
func (c *Context) Draw(t float64) error {
	if !c.drawing.CompareAndSwap(false, true) {
		return c.fail("draw", fmt.Errorf("draw re-entered: %w", core.ErrInvalidUsage))
	}
	defer c.drawing.Store(false)
	return c.fail("draw", c.draw(t))
}

func (c *Context) draw(t float64) error {
	if err := c.prepareDraw(t); err != nil {
		return err
	}
	if err := c.run(func() error { return c.backend.BeginDraw(t) }); err != nil {
		return err
	}
	c.state = StateDrawing
	if w, h := c.backend.Size(); w != c.config.Width || h != c.config.Height {
		// The backend rebuilt its swapchain for a new surface size.
		core.LogDebug("surface resized to %dx%d", w, h)
		c.config.Width, c.config.Height = w, h
		c.resetViewport(w, h, c.config.Viewport)
	}

	err := c.beginRenderPass(c.DefaultRenderTarget(gputypes.LoadOpClear))
	if err == nil && c.scene != nil {
		err = c.scene.Draw(c, t)
	}
	if c.state == StateInRenderPass {
		err = errors.Join(err, c.endRenderPass())
	}
	err = errors.Join(err, c.run(func() error { return c.backend.EndDraw(t) }))
	c.state = StateFrameEnded
	c.flushDeferred()
	if err != nil {
		return err
	}

	if c.config.HUD {
		d, err := c.queryDrawTime()
		if err != nil {
			return err
		}
		core.LogDebug("draw time %s (avg %s)", d, c.AverageDrawTime())
	}
	return nil
}

// BeginRenderPass makes rt the target of the following draws. Only one
// render pass may be open at a time.
func (c *Context) BeginRenderPass(rt *RenderTarget) error {
	return c.fail("begin render pass", c.beginRenderPass(rt))
}

func (c *Context) beginRenderPass(rt *RenderTarget) error {
	if c.state != StateDrawing {
		return fmt.Errorf("begin render pass while %s: %w", c.state, core.ErrInvalidUsage)
	}
	if rt == nil {
		return fmt.Errorf("nil render target: %w", core.ErrInvalidArg)
	}
	if err := rt.checkOwner(c); err != nil {
		return err
	}
	if err := rt.checkUsable(); err != nil {
		return err
	}
	viewport, scissor := c.viewport, c.scissor
	if !rt.builtin {
		w, h := rt.Size()
		viewport = state.Rect{W: w, H: h}
		scissor = viewport
	}
	err := c.run(func() error {
		if err := c.backend.BeginRenderPass(rt.Impl()); err != nil {
			return err
		}
		c.backend.SetViewport(viewport)
		c.backend.SetScissor(scissor)
		return nil
	})
	if err != nil {
		return err
	}
	c.rt = rt
	c.state = StateInRenderPass
	return nil
}

func (c *Context) EndRenderPass() error {
	return c.fail("end render pass", c.endRenderPass())
}

func (c *Context) endRenderPass() error {
	if c.state != StateInRenderPass {
		return fmt.Errorf("end render pass while %s: %w", c.state, core.ErrInvalidUsage)
	}
	err := c.run(c.backend.EndRenderPass)
	c.rt = nil
	c.state = StateDrawing
	return err
}

// CurrentRenderTarget returns the target of the open render pass.
func (c *Context) CurrentRenderTarget() *RenderTarget {
	return c.rt
}
