package gpu

import (
	"fmt"

	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

type Program struct {
	resource
	source shader.Source
}

// NewProgram creates a program wrapper. Nothing is compiled until Init.
func (c *Context) NewProgram(label string) *Program {
	p := &Program{}
	c.track(&p.resource, "program", label)
	return p
}

func (p *Program) Impl() ProgramImpl {
	if p.impl == nil {
		return nil
	}
	return p.impl.(ProgramImpl)
}

// Init compiles the stages of src. It is the only entry point into the
// shader toolchain.
func (p *Program) Init(src shader.Source) error {
	return p.ctx.fail("program init", p.init(src))
}

func (p *Program) init(src shader.Source) error {
	if err := p.checkInit(); err != nil {
		return err
	}
	if src.Label == "" {
		src.Label = p.label
	}
	var impl ProgramImpl
	err := p.ctx.run(func() error {
		var err error
		impl, err = p.ctx.backend.CreateProgram(src)
		return err
	})
	if err != nil {
		return fmt.Errorf("program %q: %w", p.label, err)
	}
	p.source = src
	p.impl = impl
	return nil
}

// Reflection returns the interface of the compiled program, or nil before
// Init.
func (p *Program) Reflection() *shader.Reflection {
	if !p.initialized() {
		return nil
	}
	return p.Impl().Reflection()
}

func (p *Program) IsCompute() bool {
	return p.source.Compute != ""
}

func (p *Program) Destroy() {
	p.destroy()
}
