package shader

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

// Target is the shader representation a backend consumes.
type Target uint8

const (
	TargetWGSL Target = iota
	TargetSPIRV
	TargetGLSL
)

func (t Target) String() string {
	switch t {
	case TargetWGSL:
		return "wgsl"
	case TargetSPIRV:
		return "spirv"
	case TargetGLSL:
		return "glsl"
	}
	return "unknown"
}

// Source holds the WGSL sources of one program. Vertex and Fragment may be
// the same module carrying both entry points.
type Source struct {
	Label    string
	Vertex   string
	Fragment string
	Compute  string
}

type Options struct {
	Debug bool
	// Validate runs the IR validator before code generation.
	Validate    bool
	GLSLVersion glsl.Version
}

func DefaultOptions() Options {
	return Options{
		Validate:    true,
		GLSLVersion: glsl.Version410,
	}
}

// Module is one compiled stage.
type Module struct {
	Stage      gputypes.ShaderStage
	EntryPoint string
	WGSL       string
	SPIRV      []byte
	GLSL       string
	// GLSLSamplers maps each combined sampler uniform of the GLSL output to
	// the texture and sampler it stands for.
	GLSLSamplers map[string]GLSLSampler
}

// GLSLSampler is a texture and sampler pair merged into one GLSL uniform.
// Sampler is nil for images sampled without one.
type GLSLSampler struct {
	Texture ir.ResourceBinding
	Sampler *ir.ResourceBinding
}

// Words returns the SPIR-V binary as little-endian 32-bit words.
func (m *Module) Words() []uint32 {
	words := make([]uint32, len(m.SPIRV)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(m.SPIRV[i*4:])
	}
	return words
}

// Program is the output of Compile: one module per stage plus the merged
// reflection of every stage.
type Program struct {
	Label      string
	Target     Target
	Modules    []Module
	Reflection Reflection
}

// Stage returns the module compiled for stage, if any.
func (p *Program) Stage(stage gputypes.ShaderStage) (*Module, bool) {
	for i := range p.Modules {
		if p.Modules[i].Stage == stage {
			return &p.Modules[i], true
		}
	}
	return nil, false
}

// IsCompute reports whether the program is a compute program.
func (p *Program) IsCompute() bool {
	_, ok := p.Stage(gputypes.ShaderStageCompute)
	return ok
}

type stageSource struct {
	stage gputypes.ShaderStage
	ir    ir.ShaderStage
	code  string
}

// Compile parses every stage of src and generates target code for it.
// Programs are either vertex+fragment or compute only.
func Compile(src Source, target Target, opts Options) (*Program, error) {
	graphics := src.Vertex != "" || src.Fragment != ""
	switch {
	case graphics && src.Compute != "":
		return nil, fmt.Errorf("program %q mixes graphics and compute stages: %w", src.Label, core.ErrInvalidArg)
	case graphics && (src.Vertex == "" || src.Fragment == ""):
		return nil, fmt.Errorf("program %q needs both a vertex and a fragment stage: %w", src.Label, core.ErrInvalidArg)
	case !graphics && src.Compute == "":
		return nil, fmt.Errorf("program %q has no stage: %w", src.Label, core.ErrInvalidArg)
	}

	stages := []stageSource{
		{gputypes.ShaderStageVertex, ir.StageVertex, src.Vertex},
		{gputypes.ShaderStageFragment, ir.StageFragment, src.Fragment},
		{gputypes.ShaderStageCompute, ir.StageCompute, src.Compute},
	}

	p := &Program{Label: src.Label, Target: target}
	for _, s := range stages {
		if s.code == "" {
			continue
		}
		module, err := lower(src.Label, s.code, opts)
		if err != nil {
			return nil, err
		}
		ep, ok := entryPoint(module, s.ir)
		if !ok {
			return nil, fmt.Errorf("program %q: no %s entry point: %w", src.Label, stageName(s.stage), core.ErrInvalidArg)
		}

		m := Module{Stage: s.stage, EntryPoint: ep.Name, WGSL: s.code}
		switch target {
		case TargetSPIRV:
			m.SPIRV, err = naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3, Debug: opts.Debug})
		case TargetGLSL:
			version := opts.GLSLVersion
			if version.Major == 0 {
				version = glsl.Version410
			}
			var info glsl.TranslationInfo
			m.GLSL, info, err = glsl.Compile(module, glsl.Options{
				LangVersion:        version,
				EntryPoint:         ep.Name,
				ForceHighPrecision: true,
			})
			if len(info.TextureMappings) > 0 {
				m.GLSLSamplers = make(map[string]GLSLSampler, len(info.TextureMappings))
				for name, tm := range info.TextureMappings {
					m.GLSLSamplers[name] = GLSLSampler{Texture: tm.TextureBinding, Sampler: tm.SamplerBinding}
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("program %q: %s %s generation failed: %v: %w", src.Label, stageName(s.stage), target, err, core.ErrInvalidArg)
		}

		if err := reflectStage(module, ep, s.stage, &p.Reflection); err != nil {
			return nil, fmt.Errorf("program %q: %w", src.Label, err)
		}
		p.Modules = append(p.Modules, m)
	}
	p.Reflection.sort()
	return p, nil
}

func lower(label, code string, opts Options) (*ir.Module, error) {
	ast, err := naga.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("program %q: parse: %v: %w", label, err, core.ErrInvalidArg)
	}
	module, err := naga.LowerWithSource(ast, code)
	if err != nil {
		return nil, fmt.Errorf("program %q: lower: %v: %w", label, err, core.ErrInvalidArg)
	}
	if opts.Validate {
		verrs, err := naga.Validate(module)
		if err != nil {
			return nil, fmt.Errorf("program %q: validate: %v: %w", label, err, core.ErrInvalidArg)
		}
		if len(verrs) > 0 {
			return nil, fmt.Errorf("program %q: validate: %s: %w", label, verrs[0].Message, core.ErrInvalidArg)
		}
	}
	return module, nil
}

func entryPoint(module *ir.Module, stage ir.ShaderStage) (*ir.EntryPoint, bool) {
	for i := range module.EntryPoints {
		if module.EntryPoints[i].Stage == stage {
			return &module.EntryPoints[i], true
		}
	}
	return nil, false
}

func stageName(s gputypes.ShaderStage) string {
	switch s {
	case gputypes.ShaderStageVertex:
		return "vertex"
	case gputypes.ShaderStageFragment:
		return "fragment"
	case gputypes.ShaderStageCompute:
		return "compute"
	}
	return "unknown"
}
