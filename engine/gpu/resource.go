package gpu

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

// resource is the lifecycle shared by every GPU object: it is created
// against one context without touching the GPU, allocated by Init, and ends
// with Destroy.
type resource struct {
	ctx       *Context
	id        uuid.UUID
	kind      string
	label     string
	impl      Releasable
	destroyed bool
}

func (r *resource) ID() uuid.UUID {
	return r.id
}

func (r *resource) Label() string {
	return r.label
}

// Context returns the owning context.
func (r *resource) Context() *Context {
	return r.ctx
}

func (r *resource) initialized() bool {
	return r.impl != nil && !r.destroyed
}

// checkInit is called at the top of Init.
func (r *resource) checkInit() error {
	switch {
	case r.destroyed:
		return fmt.Errorf("%s %q is destroyed: %w", r.kind, r.label, core.ErrInvalidUsage)
	case r.impl != nil:
		return fmt.Errorf("%s %q is already initialized: %w", r.kind, r.label, core.ErrInvalidUsage)
	case r.ctx.backend == nil:
		return fmt.Errorf("%s %q: context is not configured: %w", r.kind, r.label, core.ErrInvalidUsage)
	}
	return nil
}

// checkUsable is called before any operation on an initialized resource.
func (r *resource) checkUsable() error {
	if !r.initialized() {
		return fmt.Errorf("%s %q is not initialized: %w", r.kind, r.label, core.ErrInvalidUsage)
	}
	return nil
}

// checkOwner rejects resources created by another context.
func (r *resource) checkOwner(c *Context) error {
	if r.ctx != c {
		return fmt.Errorf("%s %q belongs to another context: %w", r.kind, r.label, core.ErrInvalidUsage)
	}
	return nil
}

// destroy releases the native handles once no GPU work can reference them.
func (r *resource) destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	impl := r.impl
	r.impl = nil
	r.ctx.untrack(r)
	if impl != nil {
		r.ctx.release(r.kind, r.label, impl)
	}
}
