package opengl

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

// slot is the group and binding of a shader resource.
type slot struct {
	group   uint32
	binding uint32
}

func bindingSlot(b shader.Binding) slot {
	return slot{b.Group, b.Binding}
}

// GLSL 4.1 has no binding qualifiers. The generated uniform blocks carry
// the group and binding of their variable in the member name instead.
var uniformBlockRe = regexp.MustCompile(`uniform\s+(\w+)\s*\{\s*\w+\s+_group_(\d+)_binding_(\d+)_\w+`)

type uniformBlock struct {
	name string
	slot slot
}

// uniformBlocks lists the uniform blocks declared by a generated stage.
func uniformBlocks(src string) []uniformBlock {
	var blocks []uniformBlock
	for _, m := range uniformBlockRe.FindAllStringSubmatch(src, -1) {
		group, err1 := strconv.ParseUint(m[2], 10, 32)
		binding, err2 := strconv.ParseUint(m[3], 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		blocks = append(blocks, uniformBlock{name: m[1], slot: slot{uint32(group), uint32(binding)}})
	}
	return blocks
}

type program struct {
	glResource
	id   uint32
	refl shader.Reflection
	// uniformPoints and textureUnits give the binding point of every
	// buffer and texture slot, in reflection order.
	uniformPoints map[slot]uint32
	textureUnits  map[slot]uint32
	// comparison marks the textures sampled through a comparison sampler.
	comparison map[slot]bool
}

func (b *Backend) CreateProgram(src shader.Source) (gpu.ProgramImpl, error) {
	if src.Compute != "" {
		return nil, fmt.Errorf("compute programs need OpenGL 4.3: %w", core.ErrUnsupported)
	}
	opts := shader.DefaultOptions()
	opts.Debug = b.cfg.Debug
	compiled, err := shader.Compile(src, shader.TargetGLSL, opts)
	if err != nil {
		return nil, err
	}
	p := &program{
		glResource:    glResource{b},
		refl:          compiled.Reflection,
		uniformPoints: make(map[slot]uint32),
		textureUnits:  make(map[slot]uint32),
		comparison:    make(map[slot]bool),
	}
	comparisonSamplers := make(map[slot]bool)
	for _, binding := range p.refl.Bindings {
		s := bindingSlot(binding)
		switch binding.Kind {
		case shader.BindingStorageBuffer, shader.BindingStorageTexture:
			return nil, fmt.Errorf("program %q: %s %q needs OpenGL 4.3: %w", src.Label, binding.Kind, binding.Name, core.ErrUnsupported)
		case shader.BindingUniformBuffer:
			p.uniformPoints[s] = uint32(len(p.uniformPoints))
		case shader.BindingTexture:
			p.textureUnits[s] = uint32(len(p.textureUnits))
		case shader.BindingSampler:
			comparisonSamplers[s] = binding.Comparison
		}
	}

	p.id = gl.CreateProgram()
	var shaders []uint32
	defer func() {
		for _, sh := range shaders {
			if p.id != 0 {
				gl.DetachShader(p.id, sh)
			}
			gl.DeleteShader(sh)
		}
	}()
	for _, m := range compiled.Modules {
		kind := uint32(gl.VERTEX_SHADER)
		if m.Stage == gputypes.ShaderStageFragment {
			kind = gl.FRAGMENT_SHADER
		}
		sh, err := compileShader(kind, m.GLSL)
		if err != nil {
			p.Release()
			return nil, fmt.Errorf("program %q: %s stage: %w", src.Label, m.Stage, err)
		}
		gl.AttachShader(p.id, sh)
		shaders = append(shaders, sh)
	}
	gl.LinkProgram(p.id)
	var status int32
	gl.GetProgramiv(p.id, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetProgramiv(p.id, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetProgramInfoLog(p.id, n, nil, gl.Str(msg))
		p.Release()
		return nil, fmt.Errorf("program %q: link failed: %s: %w", src.Label, strings.TrimRight(msg, "\x00"), core.ErrInvalidArg)
	}

	gl.UseProgram(p.id)
	for _, m := range compiled.Modules {
		for _, blk := range uniformBlocks(m.GLSL) {
			point, ok := p.uniformPoints[blk.slot]
			if !ok {
				continue
			}
			index := gl.GetUniformBlockIndex(p.id, gl.Str(blk.name+"\x00"))
			if index != gl.INVALID_INDEX {
				gl.UniformBlockBinding(p.id, index, point)
			}
		}
		for name, s := range m.GLSLSamplers {
			tex := slot{s.Texture.Group, s.Texture.Binding}
			unit, ok := p.textureUnits[tex]
			if !ok {
				continue
			}
			if loc := gl.GetUniformLocation(p.id, gl.Str(name+"\x00")); loc >= 0 {
				gl.Uniform1i(loc, int32(unit))
			}
			if s.Sampler != nil && comparisonSamplers[slot{s.Sampler.Group, s.Sampler.Binding}] {
				p.comparison[tex] = true
			}
		}
	}
	gl.UseProgram(0)
	// The program binding changed behind the state cache.
	b.cache.Invalidate()
	if err := checkError("create program"); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

func compileShader(kind uint32, src string) (uint32, error) {
	sh := gl.CreateShader(kind)
	csrc, free := gl.Strs(src + "\x00")
	gl.ShaderSource(sh, 1, csrc, nil)
	free()
	gl.CompileShader(sh)

	var status int32
	gl.GetShaderiv(sh, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetShaderiv(sh, gl.INFO_LOG_LENGTH, &n)
		msg := strings.Repeat("\x00", int(n+1))
		gl.GetShaderInfoLog(sh, n, nil, gl.Str(msg))
		gl.DeleteShader(sh)
		return 0, fmt.Errorf("shader compilation failed: %s: %w", strings.TrimRight(msg, "\x00"), core.ErrInvalidArg)
	}
	return sh, nil
}

func (p *program) Reflection() *shader.Reflection {
	return &p.refl
}

func (p *program) Release() {
	if p.id != 0 {
		gl.DeleteProgram(p.id)
		p.id = 0
	}
}
