package gpu

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

// Backend is the contract every native graphics API implements. A context
// owns exactly one backend and never calls it concurrently.
type Backend interface {
	Init(cfg *Config) error
	Resize(width, height int) error
	SetCaptureBuffer(buf []byte) error
	BeginUpdate(t float64) error
	EndUpdate(t float64) error
	BeginDraw(t float64) error
	EndDraw(t float64) error
	// QueryDrawTime returns the GPU time spent on the last completed frame.
	QueryDrawTime() (time.Duration, error)
	WaitIdle() error
	Destroy()

	Size() (width, height int)
	FrameIndex() int
	InFlightFrames() int
	Limits() Limits

	TransformCullMode(mode gputypes.CullMode) gputypes.CullMode
	TransformProjectionMatrix(dst *math.Mat4)
	RenderTargetUVCoordMatrix() math.Mat4

	DefaultRenderTarget(load gputypes.LoadOp) RenderTargetImpl
	DefaultRenderTargetDesc() RenderTargetDesc
	BeginRenderPass(rt RenderTargetImpl) error
	EndRenderPass() error
	SetViewport(r state.Rect)
	SetScissor(r state.Rect)
	PreferredDepthFormat() gputypes.TextureFormat
	PreferredDepthStencilFormat() gputypes.TextureFormat

	CreateBuffer(p BufferParams) (BufferImpl, error)
	CreateTexture(p TextureParams) (TextureImpl, error)
	CreateRenderTarget(p RenderTargetParams) (RenderTargetImpl, error)
	CreateProgram(src shader.Source) (ProgramImpl, error)
	CreatePipeline(p PipelineParams) (PipelineImpl, error)
}

// ThreadBound is implemented by backends whose native calls must all come
// from the thread that created the native context.
type ThreadBound interface {
	RequiresOwnerThread() bool
}

// Releasable is the part every backend resource shares.
type Releasable interface {
	// InUse reports whether unfinished GPU work may still reference the
	// resource.
	InUse() bool
	// Release frees the native handles. It is called at most once.
	Release()
}

type BufferImpl interface {
	Releasable
	Upload(data []byte, offset int) error
	Download(dst []byte, offset int) error
}

type TextureImpl interface {
	Releasable
	Upload(data []byte, bytesPerRow int) error
	GenerateMipmap() error
}

type RenderTargetImpl interface {
	Releasable
	// ReadPixels copies the first color attachment as tightly packed RGBA8.
	ReadPixels(dst []byte) error
}

type ProgramImpl interface {
	Releasable
	Reflection() *shader.Reflection
}

type PipelineImpl interface {
	Releasable
	Draw(b *ResolvedBindings, vertices, instances int) error
	DrawIndexed(b *ResolvedBindings, indices, instances int) error
	Dispatch(b *ResolvedBindings, x, y, z int) error
}
