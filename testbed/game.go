package testbed

import (
	"embed"
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine"
	"github.com/spaghettifunk/gpuctx/engine/assets"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

//go:embed shaders/*.wgsl
var builtinShaders embed.FS

// ProgramName is the program the test scene draws with, relative to the
// assets directory.
const ProgramName = "quad"

const checkerSize = 256

// Interleaved position and uv of a unit quad.
var quadVertices = []float32{
	-0.8, -0.8, 0, 1,
	0.8, -0.8, 1, 1,
	0.8, 0.8, 1, 0,
	-0.8, 0.8, 0, 0,
}

var quadIndices = []uint16{0, 1, 2, 2, 3, 0}

// frameSize is the size of the Frame uniform: a mat4x4 and a vec4.
const frameSize = 80

type TestGame struct {
	*engine.Game
	scene *Scene
}

// Scene draws a rotating textured quad. Its resources are
// created on the first Prepare and after every Release.
type Scene struct {
	ctx       *gpu.Context
	am        *assets.AssetManager
	imageName string

	program  *gpu.Program
	pipeline *gpu.Pipeline
	bindings *gpu.Bindings
	uniforms *gpu.Buffer
	vertices *gpu.Buffer
	indices  *gpu.Buffer
	texture  *gpu.Texture
	frame    [frameSize]byte
}

// NewTestGame builds the player game. imageName is an image under the assets
// directory; empty uses a generated checkerboard.
func NewTestGame(app *engine.ApplicationConfig, imageName string) *TestGame {
	s := &Scene{imageName: imageName}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			Scene:             s,
		},
		scene: s,
	}
	tg.FnInitialize = tg.Initialize
	tg.FnShaderChanged = tg.ShaderChanged
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(ctx *gpu.Context, am *assets.AssetManager) error {
	core.LogInfo("initializing testbed on %s", ctx.BackendType())
	g.scene.ctx = ctx
	g.scene.am = am
	return nil
}

func (g *TestGame) ShaderChanged(name string) error {
	if name != ProgramName {
		return nil
	}
	return g.scene.reload()
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed")
	return nil
}

func (s *Scene) Prepare(ctx *gpu.Context, t float64) error {
	if s.pipeline == nil {
		if err := s.create(ctx); err != nil {
			s.Release(ctx)
			return err
		}
	}
	copy(s.frame[:], modelViewProjection(ctx, t).Bytes())
	binary.LittleEndian.PutUint32(s.frame[64:], stdmath.Float32bits(float32(t)))
	return s.uniforms.Upload(s.frame[:], 0)
}

// modelViewProjection spins the quad at the center of an aspect-preserving
// orthographic view, corrected for the clip space of the backend.
func modelViewProjection(ctx *gpu.Context, t float64) math.Mat4 {
	w, h := ctx.Size()
	aspect := float32(1)
	if h > 0 {
		aspect = float32(w) / float32(h)
	}
	proj := math.NewMat4Orthographic(-aspect, aspect, -1, 1, -1, 1)
	ctx.TransformProjectionMatrix(&proj)
	// Narrow windows shrink the quad so its corners stay visible.
	scale := math.Clamp(aspect, 0.25, 1)
	model := math.NewMat4Scale(math.NewVec3(scale, scale, 1)).Mul(math.NewMat4EulerZ(float32(t) * 0.5))
	return model.Mul(proj)
}

func (s *Scene) Draw(ctx *gpu.Context, t float64) error {
	return s.pipeline.DrawIndexed(s.bindings, len(quadIndices), 1)
}

func (s *Scene) Release(ctx *gpu.Context) {
	if s.pipeline != nil {
		s.pipeline.Destroy()
	}
	if s.program != nil {
		s.program.Destroy()
	}
	if s.texture != nil {
		s.texture.Destroy()
	}
	for _, b := range []*gpu.Buffer{s.uniforms, s.vertices, s.indices} {
		if b != nil {
			b.Destroy()
		}
	}
	s.pipeline, s.program, s.texture, s.bindings = nil, nil, nil, nil
	s.uniforms, s.vertices, s.indices = nil, nil, nil
}

func (s *Scene) create(ctx *gpu.Context) error {
	s.uniforms = ctx.NewBuffer("frame")
	if err := s.uniforms.Init(len(s.frame), gputypes.BufferUsageUniform); err != nil {
		return err
	}
	vertexData := make([]byte, 0, len(quadVertices)*4)
	for _, f := range quadVertices {
		vertexData = binary.LittleEndian.AppendUint32(vertexData, stdmath.Float32bits(f))
	}
	s.vertices = ctx.NewBuffer("quad vertices")
	if err := s.vertices.Init(len(vertexData), gputypes.BufferUsageVertex); err != nil {
		return err
	}
	if err := s.vertices.Upload(vertexData, 0); err != nil {
		return err
	}
	indexData := make([]byte, 0, len(quadIndices)*2)
	for _, i := range quadIndices {
		indexData = binary.LittleEndian.AppendUint16(indexData, i)
	}
	s.indices = ctx.NewBuffer("quad indices")
	if err := s.indices.Init(len(indexData), gputypes.BufferUsageIndex); err != nil {
		return err
	}
	if err := s.indices.Upload(indexData, 0); err != nil {
		return err
	}
	tex, err := s.createTexture(ctx)
	if err != nil {
		return err
	}
	s.texture = tex

	src, err := s.source()
	if err != nil {
		return err
	}
	return s.build(ctx, src)
}

// build replaces the program and pipeline. The previous ones are kept when
// src does not compile.
func (s *Scene) build(ctx *gpu.Context, src shader.Source) error {
	program := ctx.NewProgram(ProgramName)
	if err := program.Init(src); err != nil {
		program.Destroy()
		return err
	}
	pipeline, err := ctx.Pipeline(pipelineDesc(ctx, program))
	if err != nil {
		program.Destroy()
		return err
	}
	bindings, err := s.bind(pipeline)
	if err != nil {
		pipeline.Destroy()
		program.Destroy()
		return err
	}

	if s.pipeline != nil {
		s.pipeline.Destroy()
	}
	if s.program != nil {
		s.program.Destroy()
	}
	s.program, s.pipeline, s.bindings = program, pipeline, bindings
	return nil
}

func pipelineDesc(ctx *gpu.Context, program *gpu.Program) gpu.PipelineDesc {
	desc := ctx.NewDefaultPipelineDesc(program)
	desc.Topology = gputypes.PrimitiveTopologyTriangleList
	desc.VertexBuffers = []gpu.VertexBufferLayout{{
		Stride:   16,
		StepMode: gputypes.VertexStepModeVertex,
		Attributes: []gpu.VertexAttribute{
			{Name: "position", Format: gputypes.VertexFormatFloat32x2, Offset: 0},
			{Name: "uv", Format: gputypes.VertexFormatFloat32x2, Offset: 8},
		},
	}}
	return desc
}

func (s *Scene) bind(p *gpu.Pipeline) (*gpu.Bindings, error) {
	b := p.NewBindings()
	if err := b.SetBuffer("frame", s.uniforms, 0, len(s.frame)); err != nil {
		return nil, err
	}
	if err := b.SetTexture("tex", s.texture); err != nil {
		return nil, err
	}
	if err := b.SetVertexBuffer(0, s.vertices); err != nil {
		return nil, err
	}
	if err := b.SetIndexBuffer(s.indices, gputypes.IndexFormatUint16); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Scene) reload() error {
	if s.pipeline == nil {
		// Not drawn yet, the next Prepare reads the new sources.
		return nil
	}
	src, err := s.am.LoadShader(ProgramName)
	if err != nil {
		return err
	}
	if err := s.build(s.ctx, src); err != nil {
		return err
	}
	core.LogInfo("reloaded program %s", ProgramName)
	return nil
}

// source prefers the watched assets directory and falls back to the sources
// compiled into the binary.
func (s *Scene) source() (shader.Source, error) {
	if s.am != nil {
		if src, err := s.am.LoadShader(ProgramName); err == nil {
			return src, nil
		}
	}
	return builtinSource()
}

func builtinSource() (shader.Source, error) {
	vert, err := builtinShaders.ReadFile("shaders/" + ProgramName + ".vert.wgsl")
	if err != nil {
		return shader.Source{}, fmt.Errorf("builtin vertex shader: %v: %w", err, core.ErrGeneric)
	}
	frag, err := builtinShaders.ReadFile("shaders/" + ProgramName + ".frag.wgsl")
	if err != nil {
		return shader.Source{}, fmt.Errorf("builtin fragment shader: %v: %w", err, core.ErrGeneric)
	}
	return shader.Source{Label: ProgramName, Vertex: string(vert), Fragment: string(frag)}, nil
}

func (s *Scene) createTexture(ctx *gpu.Context) (*gpu.Texture, error) {
	w, h, pix := checkerSize, checkerSize, checkerboard(checkerSize, 32)
	if s.imageName != "" && s.am != nil {
		img, err := s.am.LoadImage(s.imageName)
		if err != nil {
			return nil, err
		}
		w, h, pix = img.Bounds().Dx(), img.Bounds().Dy(), img.Pix
	}

	tex := ctx.NewTexture("albedo")
	err := tex.Init(gpu.TextureParams{
		Type:         gpu.Texture2D,
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Width:        w,
		Height:       h,
		MinFilter:    gputypes.FilterModeLinear,
		MagFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.MipmapFilterModeLinear,
		WrapS:        gputypes.AddressModeRepeat,
		WrapT:        gputypes.AddressModeRepeat,
		Usage:        gpu.TextureUsageSampled | gpu.TextureUsageTransferDst | gpu.TextureUsageTransferSrc,
	})
	if err == nil {
		err = tex.Upload(pix, w*4)
	}
	if err == nil && tex.Params().MipLevels > 1 {
		err = tex.GenerateMipmap()
	}
	if err != nil {
		tex.Destroy()
		return nil, err
	}
	return tex, nil
}

// checkerboard returns size x size RGBA8 pixels alternating two colors
// every cell pixels.
func checkerboard(size, cell int) []byte {
	pix := make([]byte, size*size*4)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := []byte{0x20, 0x24, 0x30, 0xff}
			if (x/cell+y/cell)%2 == 0 {
				c = []byte{0xe8, 0x8a, 0x2c, 0xff}
			}
			copy(pix[(y*size+x)*4:], c)
		}
	}
	return pix
}
