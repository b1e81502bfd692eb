package opengl

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

type pipeline struct {
	glResource
	prog    *program
	state   state.GraphicsState
	mode    uint32
	front   uint32
	layouts []gputypes.VertexBufferLayout
	vao     uint32
}

func (b *Backend) CreatePipeline(p gpu.PipelineParams) (gpu.PipelineImpl, error) {
	if p.Type == gpu.PipelineCompute {
		return nil, fmt.Errorf("compute pipelines need OpenGL 4.3: %w", core.ErrUnsupported)
	}
	for _, l := range p.VertexBuffers {
		for _, a := range l.Attributes {
			if _, ok := vertexFormat(a.Format); !ok {
				return nil, fmt.Errorf("vertex format %d at location %d: %w", a.Format, a.ShaderLocation, core.ErrUnsupported)
			}
		}
	}
	pl := &pipeline{
		glResource: glResource{b},
		prog:       p.Program.(*program),
		state:      p.State,
		mode:       primitiveMode(p.Topology),
		front:      frontFace(p.FrontFace),
		layouts:    p.VertexBuffers,
	}
	gl.GenVertexArrays(1, &pl.vao)
	return pl, checkError("create pipeline")
}

func textureBindTarget(b shader.Binding) uint32 {
	if b.Multisampled {
		return gl.TEXTURE_2D_MULTISAMPLE
	}
	switch b.Dimension {
	case gputypes.TextureViewDimension2DArray:
		return gl.TEXTURE_2D_ARRAY
	case gputypes.TextureViewDimensionCube:
		return gl.TEXTURE_CUBE_MAP
	case gputypes.TextureViewDimension3D:
		return gl.TEXTURE_3D
	}
	return gl.TEXTURE_2D
}

// prepare binds the program, the draw state, the vertex layout and every
// resource of rb.
func (pl *pipeline) prepare(rb *gpu.ResolvedBindings) {
	b := pl.b
	b.cache.UseProgram(uint64(pl.prog.id))
	b.cache.Honor(pl.state)
	gl.FrontFace(pl.front)

	gl.BindVertexArray(pl.vao)
	for i, l := range pl.layouts {
		gl.BindBuffer(gl.ARRAY_BUFFER, rb.VertexBuffers[i].(*buffer).id)
		divisor := uint32(0)
		if l.StepMode == gputypes.VertexStepModeInstance {
			divisor = 1
		}
		for _, a := range l.Attributes {
			va, _ := vertexFormat(a.Format)
			loc := a.ShaderLocation
			gl.EnableVertexAttribArray(loc)
			if va.integer {
				gl.VertexAttribIPointerWithOffset(loc, va.size, va.typ, int32(l.ArrayStride), uintptr(a.Offset))
			} else {
				gl.VertexAttribPointerWithOffset(loc, va.size, va.typ, va.normalized, int32(l.ArrayStride), uintptr(a.Offset))
			}
			gl.VertexAttribDivisor(loc, divisor)
		}
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	if rb.IndexBuffer != nil {
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, rb.IndexBuffer.(*buffer).id)
	}

	for _, bb := range rb.Buffers {
		point, ok := pl.prog.uniformPoints[bindingSlot(bb.Binding)]
		if !ok {
			continue
		}
		gl.BindBufferRange(gl.UNIFORM_BUFFER, point, bb.Buffer.(*buffer).id, bb.Offset, bb.Size)
	}
	for _, tb := range rb.Textures {
		if tb.Binding.Kind != shader.BindingTexture {
			continue
		}
		s := bindingSlot(tb.Binding)
		unit, ok := pl.prog.textureUnits[s]
		if !ok {
			continue
		}
		gl.ActiveTexture(gl.TEXTURE0 + unit)
		target := textureBindTarget(tb.Binding)
		switch {
		case tb.Texture != nil:
			t := tb.Texture.(*texture)
			gl.BindTexture(t.target, t.id)
			t.setCompare(pl.prog.comparison[s])
		case target == gl.TEXTURE_2D:
			gl.BindTexture(target, b.dummy.id)
		default:
			gl.BindTexture(target, 0)
		}
	}
	gl.ActiveTexture(gl.TEXTURE0)
}

func (pl *pipeline) Draw(rb *gpu.ResolvedBindings, vertices, instances int) error {
	pl.prepare(rb)
	gl.DrawArraysInstanced(pl.mode, 0, int32(vertices), int32(instances))
	gl.BindVertexArray(0)
	return checkError("draw")
}

func (pl *pipeline) DrawIndexed(rb *gpu.ResolvedBindings, indices, instances int) error {
	pl.prepare(rb)
	typ, _ := indexType(rb.IndexFormat)
	gl.DrawElementsInstanced(pl.mode, int32(indices), typ, nil, int32(instances))
	gl.BindVertexArray(0)
	return checkError("draw indexed")
}

func (pl *pipeline) Dispatch(rb *gpu.ResolvedBindings, x, y, z int) error {
	return fmt.Errorf("compute dispatch needs OpenGL 4.3: %w", core.ErrUnsupported)
}

func (pl *pipeline) Release() {
	if pl.vao != 0 {
		gl.DeleteVertexArrays(1, &pl.vao)
		pl.vao = 0
	}
}
