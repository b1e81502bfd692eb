package gpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

type PipelineType uint8

const (
	PipelineGraphics PipelineType = iota
	PipelineCompute
)

func (t PipelineType) String() string {
	if t == PipelineCompute {
		return "compute"
	}
	return "graphics"
}

// VertexAttribute feeds the program input Name from a vertex buffer.
type VertexAttribute struct {
	Name   string
	Format gputypes.VertexFormat
	Offset uint64
}

type VertexBufferLayout struct {
	Stride     uint64
	StepMode   gputypes.VertexStepMode
	Attributes []VertexAttribute
}

type PipelineDesc struct {
	Type          PipelineType
	Program       *Program
	State         state.GraphicsState
	Topology      gputypes.PrimitiveTopology
	FrontFace     gputypes.FrontFace
	VertexBuffers []VertexBufferLayout
	RTDesc        RenderTargetDesc
}

// PipelineParams is a PipelineDesc with attribute names resolved to shader
// locations.
type PipelineParams struct {
	Type          PipelineType
	Program       ProgramImpl
	Reflection    *shader.Reflection
	State         state.GraphicsState
	Topology      gputypes.PrimitiveTopology
	FrontFace     gputypes.FrontFace
	VertexBuffers []gputypes.VertexBufferLayout
	RTDesc        RenderTargetDesc
}

type pipelineKey struct {
	typ       PipelineType
	program   uuid.UUID
	state     state.GraphicsState
	topology  gputypes.PrimitiveTopology
	frontFace gputypes.FrontFace
	layout    string
	rt        RenderTargetDesc
}

func newPipelineKey(d PipelineDesc) pipelineKey {
	var sb strings.Builder
	for _, vb := range d.VertexBuffers {
		fmt.Fprintf(&sb, "%d/%d:", vb.Stride, vb.StepMode)
		for _, a := range vb.Attributes {
			fmt.Fprintf(&sb, "%s=%d@%d,", a.Name, a.Format, a.Offset)
		}
		sb.WriteByte(';')
	}
	k := pipelineKey{
		typ:     d.Type,
		layout:  sb.String(),
		program: d.Program.ID(),
	}
	if d.Type == PipelineGraphics {
		k.state = d.State
		k.topology = d.Topology
		k.frontFace = d.FrontFace
		k.rt = d.RTDesc
	}
	return k
}

type Pipeline struct {
	resource
	desc   PipelineDesc
	cached *pipelineKey
}

// NewPipeline creates a pipeline wrapper. Nothing is allocated until Init.
// Context.Pipeline returns shared pipelines instead.
func (c *Context) NewPipeline(label string) *Pipeline {
	p := &Pipeline{}
	c.track(&p.resource, "pipeline", label)
	return p
}

// Pipeline returns a pipeline for d, creating it on first use. Pipelines are
// shared between every caller with the same program, state, layout and
// render target compatibility descriptor.
func (c *Context) Pipeline(d PipelineDesc) (*Pipeline, error) {
	if d.Program == nil {
		return nil, c.fail("pipeline", fmt.Errorf("pipeline without program: %w", core.ErrInvalidArg))
	}
	key := newPipelineKey(d)
	if p, ok := c.pipelines[key]; ok {
		return p, nil
	}
	p := c.NewPipeline(fmt.Sprintf("%s/%s", d.Program.Label(), d.Type))
	if err := p.Init(d); err != nil {
		p.Destroy()
		return nil, err
	}
	p.cached = &key
	c.pipelines[key] = p
	return p, nil
}

func (p *Pipeline) Desc() PipelineDesc {
	return p.desc
}

func (p *Pipeline) Impl() PipelineImpl {
	if p.impl == nil {
		return nil
	}
	return p.impl.(PipelineImpl)
}

func (p *Pipeline) Init(d PipelineDesc) error {
	return p.ctx.fail("pipeline init", p.init(d))
}

func (p *Pipeline) init(d PipelineDesc) error {
	if err := p.checkInit(); err != nil {
		return err
	}
	if d.Program == nil {
		return fmt.Errorf("pipeline %q without program: %w", p.label, core.ErrInvalidArg)
	}
	if err := d.Program.checkOwner(p.ctx); err != nil {
		return err
	}
	if err := d.Program.checkUsable(); err != nil {
		return err
	}
	if d.Program.IsCompute() != (d.Type == PipelineCompute) {
		return fmt.Errorf("pipeline %q: %s pipeline with a program of the other kind: %w", p.label, d.Type, core.ErrInvalidArg)
	}
	refl := d.Program.Reflection()
	params := PipelineParams{
		Type:       d.Type,
		Program:    d.Program.Impl(),
		Reflection: refl,
		State:      d.State,
		Topology:   d.Topology,
		FrontFace:  d.FrontFace,
		RTDesc:     d.RTDesc,
	}
	if d.Type == PipelineGraphics {
		layouts, err := p.resolveLayouts(d.VertexBuffers, refl)
		if err != nil {
			return err
		}
		params.VertexBuffers = layouts
		if d.RTDesc.NbColors == 0 && d.RTDesc.DepthStencil.Format == gputypes.TextureFormatUndefined {
			return fmt.Errorf("pipeline %q: render target descriptor has no attachment: %w", p.label, core.ErrInvalidArg)
		}
	}

	var impl PipelineImpl
	err := p.ctx.run(func() error {
		var err error
		impl, err = p.ctx.backend.CreatePipeline(params)
		return err
	})
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", p.label, err)
	}
	p.desc = d
	p.impl = impl
	return nil
}

// resolveLayouts maps attribute names to program locations. Every program
// input must be fed.
func (p *Pipeline) resolveLayouts(vbs []VertexBufferLayout, refl *shader.Reflection) ([]gputypes.VertexBufferLayout, error) {
	limits := p.ctx.Limits()
	if limits.MaxVertexBuffers > 0 && len(vbs) > limits.MaxVertexBuffers {
		return nil, fmt.Errorf("pipeline %q: %d vertex buffers, at most %d: %w", p.label, len(vbs), limits.MaxVertexBuffers, core.ErrUnsupported)
	}
	fed := make(map[string]bool)
	out := make([]gputypes.VertexBufferLayout, 0, len(vbs))
	for i, vb := range vbs {
		l := gputypes.VertexBufferLayout{
			ArrayStride: vb.Stride,
			StepMode:    vb.StepMode,
		}
		if l.StepMode == gputypes.VertexStepModeUndefined {
			l.StepMode = gputypes.VertexStepModeVertex
		}
		for _, a := range vb.Attributes {
			in, ok := refl.Attribute(a.Name)
			if !ok {
				return nil, fmt.Errorf("pipeline %q: vertex buffer %d feeds unknown input %q: %w", p.label, i, a.Name, core.ErrInvalidArg)
			}
			if fed[a.Name] {
				return nil, fmt.Errorf("pipeline %q: input %q is fed twice: %w", p.label, a.Name, core.ErrInvalidArg)
			}
			fed[a.Name] = true
			format := a.Format
			if format == gputypes.VertexFormatUndefined {
				format = in.Format
			}
			l.Attributes = append(l.Attributes, gputypes.VertexAttribute{
				Format:         format,
				Offset:         a.Offset,
				ShaderLocation: in.Location,
			})
		}
		out = append(out, l)
	}
	for _, in := range refl.Attributes {
		if !fed[in.Name] {
			return nil, fmt.Errorf("pipeline %q: input %q has no vertex buffer: %w", p.label, in.Name, core.ErrInvalidArg)
		}
	}
	return out, nil
}

// Destroy releases the pipeline and drops it from the context cache.
func (p *Pipeline) Destroy() {
	if p.cached != nil {
		delete(p.ctx.pipelines, *p.cached)
		p.cached = nil
	}
	p.destroy()
}

// Draw records a non-indexed draw into the current render pass.
func (p *Pipeline) Draw(b *Bindings, vertices, instances int) error {
	return p.ctx.fail("draw", p.draw(b, false, vertices, instances))
}

// DrawIndexed records an indexed draw into the current render pass.
func (p *Pipeline) DrawIndexed(b *Bindings, indices, instances int) error {
	return p.ctx.fail("draw indexed", p.draw(b, true, indices, instances))
}

func (p *Pipeline) draw(b *Bindings, indexed bool, count, instances int) error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.desc.Type != PipelineGraphics {
		return fmt.Errorf("pipeline %q is not a graphics pipeline: %w", p.label, core.ErrInvalidUsage)
	}
	c := p.ctx
	if c.state != StateInRenderPass {
		return fmt.Errorf("pipeline %q: draw outside of a render pass: %w", p.label, core.ErrInvalidUsage)
	}
	if !p.desc.RTDesc.Compatible(c.rt.desc) {
		return fmt.Errorf("pipeline %q is not compatible with render target %q: %w", p.label, c.rt.label, core.ErrInvalidUsage)
	}
	if count < 0 || instances < 0 {
		return fmt.Errorf("pipeline %q: negative draw count: %w", p.label, core.ErrInvalidArg)
	}
	rb, err := b.resolve(p)
	if err != nil {
		return err
	}
	if indexed && rb.IndexBuffer == nil {
		return fmt.Errorf("pipeline %q: indexed draw without index buffer: %w", p.label, core.ErrInvalidUsage)
	}
	if instances == 0 {
		instances = 1
	}
	return c.run(func() error {
		if indexed {
			return p.Impl().DrawIndexed(rb, count, instances)
		}
		return p.Impl().Draw(rb, count, instances)
	})
}

// Dispatch records a compute dispatch. It must be called within a frame and
// outside of any render pass.
func (p *Pipeline) Dispatch(b *Bindings, x, y, z int) error {
	return p.ctx.fail("dispatch", p.dispatch(b, x, y, z))
}

func (p *Pipeline) dispatch(b *Bindings, x, y, z int) error {
	if err := p.checkUsable(); err != nil {
		return err
	}
	if p.desc.Type != PipelineCompute {
		return fmt.Errorf("pipeline %q is not a compute pipeline: %w", p.label, core.ErrInvalidUsage)
	}
	c := p.ctx
	if c.state != StateDrawing {
		return fmt.Errorf("pipeline %q: dispatch must happen within a frame, outside of render passes: %w", p.label, core.ErrInvalidUsage)
	}
	groups := [3]int{x, y, z}
	maxCount := c.Limits().MaxComputeWorkGroupCount
	for i, n := range groups {
		if n <= 0 {
			return fmt.Errorf("pipeline %q: invalid work group count %v: %w", p.label, groups, core.ErrInvalidArg)
		}
		if maxCount[i] > 0 && n > maxCount[i] {
			return fmt.Errorf("pipeline %q: work group count %v exceeds %v: %w", p.label, groups, maxCount, core.ErrUnsupported)
		}
	}
	rb, err := b.resolve(p)
	if err != nil {
		return err
	}
	return c.run(func() error {
		return p.Impl().Dispatch(rb, x, y, z)
	})
}
