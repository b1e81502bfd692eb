package gpu

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
	"github.com/spaghettifunk/gpuctx/engine/math"
)

// fakeBackend simulates a GPU that only completes work when a slot fence or
// an idle wait is waited on.
type fakeBackend struct {
	cfg         *Config
	width       int
	height      int
	inFlight    int
	frame       int
	submitted   uint64
	completed   uint64
	fences      []uint64
	slotWaits   []int
	waitIdle    int
	live        int
	events      []string
	viewports   []state.Rect
	threadBound bool
	failInit    error
	failBegin   error
	drawTime    time.Duration
	capture     []byte
	target      *fakeTarget
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{drawTime: 3 * time.Millisecond}
}

func (b *fakeBackend) log(format string, args ...interface{}) {
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

func (b *fakeBackend) RequiresOwnerThread() bool {
	return b.threadBound
}

func (b *fakeBackend) Init(cfg *Config) error {
	if b.failInit != nil {
		return b.failInit
	}
	b.cfg = cfg
	b.width, b.height = cfg.Width, cfg.Height
	b.inFlight = cfg.InFlight()
	b.fences = make([]uint64, b.inFlight)
	b.target = &fakeTarget{fakeImpl: b.newImpl("default")}
	b.log("init")
	return nil
}

func (b *fakeBackend) Resize(w, h int) error {
	if w == b.width && h == b.height {
		return nil
	}
	b.waitIdleNow()
	b.width, b.height = w, h
	b.log("resize %dx%d", w, h)
	return nil
}

func (b *fakeBackend) SetCaptureBuffer(buf []byte) error {
	b.capture = buf
	return nil
}

func (b *fakeBackend) BeginUpdate(t float64) error { return nil }
func (b *fakeBackend) EndUpdate(t float64) error   { return nil }

func (b *fakeBackend) BeginDraw(t float64) error {
	if b.failBegin != nil {
		return b.failBegin
	}
	b.log("begin draw %d", b.frame)
	return nil
}

func (b *fakeBackend) EndDraw(t float64) error {
	b.submitted++
	b.fences[b.frame] = b.submitted
	b.log("submit %d on slot %d", b.submitted, b.frame)
	if b.capture != nil {
		copy(b.capture, b.target.pixels(b.width, b.height))
	}
	b.frame = (b.frame + 1) % b.inFlight
	// Wait for the previous use of the slot the next frame records into.
	if fence := b.fences[b.frame]; fence > b.completed {
		b.completed = fence
		b.slotWaits = append(b.slotWaits, b.frame)
		b.log("wait slot %d fence %d", b.frame, fence)
	}
	return nil
}

func (b *fakeBackend) QueryDrawTime() (time.Duration, error) {
	return b.drawTime, nil
}

func (b *fakeBackend) waitIdleNow() {
	b.waitIdle++
	b.completed = b.submitted
	b.log("wait idle")
}

func (b *fakeBackend) WaitIdle() error {
	b.waitIdleNow()
	return nil
}

func (b *fakeBackend) Destroy() {
	if b.target != nil {
		b.target.Release()
	}
	b.log("destroy")
}

func (b *fakeBackend) Size() (int, int)    { return b.width, b.height }
func (b *fakeBackend) FrameIndex() int     { return b.frame }
func (b *fakeBackend) InFlightFrames() int { return b.inFlight }

func (b *fakeBackend) Limits() Limits {
	return LimitsFromDevice(gputypes.DefaultLimits(), 8)
}

func (b *fakeBackend) TransformCullMode(mode gputypes.CullMode) gputypes.CullMode {
	return SwapCullMode(mode)
}

func (b *fakeBackend) TransformProjectionMatrix(dst *math.Mat4) {
	FlipYHalfDepth(dst)
}

func (b *fakeBackend) RenderTargetUVCoordMatrix() math.Mat4 {
	return math.NewMat4Identity()
}

func (b *fakeBackend) DefaultRenderTarget(load gputypes.LoadOp) RenderTargetImpl {
	return b.target
}

func (b *fakeBackend) DefaultRenderTargetDesc() RenderTargetDesc {
	desc := RenderTargetDesc{Samples: b.cfg.SampleCount(), NbColors: 1}
	desc.Colors[0] = AttachmentDesc{Format: gputypes.TextureFormatRGBA8Unorm, Resolve: desc.Samples > 1}
	desc.DepthStencil = AttachmentDesc{Format: gputypes.TextureFormatDepth24PlusStencil8, Resolve: desc.Samples > 1}
	return desc
}

func (b *fakeBackend) BeginRenderPass(rt RenderTargetImpl) error {
	t := rt.(*fakeTarget)
	t.touch()
	b.log("begin pass %s", t.label)
	return nil
}

func (b *fakeBackend) EndRenderPass() error {
	b.log("end pass")
	return nil
}

func (b *fakeBackend) SetViewport(r state.Rect) {
	b.viewports = append(b.viewports, r)
}

func (b *fakeBackend) SetScissor(r state.Rect) {}

func (b *fakeBackend) PreferredDepthFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth32Float
}

func (b *fakeBackend) PreferredDepthStencilFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatDepth24PlusStencil8
}

func (b *fakeBackend) CreateBuffer(p BufferParams) (BufferImpl, error) {
	if p.Size > 1<<30 {
		return nil, fmt.Errorf("fake allocation of %d bytes: %w", p.Size, core.ErrMemory)
	}
	return &fakeBuffer{fakeImpl: b.newImpl("buffer"), data: make([]byte, p.Size)}, nil
}

func (b *fakeBackend) CreateTexture(p TextureParams) (TextureImpl, error) {
	return &fakeTexture{fakeImpl: b.newImpl("texture"), params: p}, nil
}

func (b *fakeBackend) CreateRenderTarget(p RenderTargetParams) (RenderTargetImpl, error) {
	t := &fakeTarget{fakeImpl: b.newImpl("rendertarget")}
	for _, a := range p.Colors {
		t.attachments = append(t.attachments, a.Texture.Impl().(*fakeTexture))
	}
	if p.DepthStencil.Texture != nil {
		t.attachments = append(t.attachments, p.DepthStencil.Texture.Impl().(*fakeTexture))
	}
	return t, nil
}

func (b *fakeBackend) CreateProgram(src shader.Source) (ProgramImpl, error) {
	opts := shader.DefaultOptions()
	opts.Validate = false
	prog, err := shader.Compile(src, shader.TargetWGSL, opts)
	if err != nil {
		return nil, err
	}
	return &fakeProgram{fakeImpl: b.newImpl("program"), prog: prog}, nil
}

func (b *fakeBackend) CreatePipeline(p PipelineParams) (PipelineImpl, error) {
	b.log("create pipeline %s", p.Type)
	return &fakePipeline{fakeImpl: b.newImpl("pipeline"), params: p}, nil
}

type fakeImpl struct {
	b        *fakeBackend
	label    string
	lastUse  uint64
	released bool
}

func (b *fakeBackend) newImpl(label string) *fakeImpl {
	b.live++
	return &fakeImpl{b: b, label: label}
}

// touch marks the resource as used by the frame being recorded.
func (i *fakeImpl) touch() {
	i.lastUse = i.b.submitted + 1
}

func (i *fakeImpl) InUse() bool {
	return i.lastUse > i.b.completed
}

func (i *fakeImpl) Release() {
	if i.released {
		panic("double release of " + i.label)
	}
	if i.InUse() {
		panic("release of in-use " + i.label)
	}
	i.released = true
	i.b.live--
	i.b.log("release %s", i.label)
}

type fakeBuffer struct {
	*fakeImpl
	data []byte
}

func (f *fakeBuffer) Upload(data []byte, offset int) error {
	copy(f.data[offset:], data)
	return nil
}

func (f *fakeBuffer) Download(dst []byte, offset int) error {
	copy(dst, f.data[offset:])
	return nil
}

type fakeTexture struct {
	*fakeImpl
	params  TextureParams
	data    []byte
	mipmaps int
}

func (f *fakeTexture) Upload(data []byte, bytesPerRow int) error {
	f.data = append(f.data[:0], data...)
	return nil
}

func (f *fakeTexture) GenerateMipmap() error {
	f.mipmaps++
	return nil
}

type fakeTarget struct {
	*fakeImpl
	attachments []*fakeTexture
}

func (f *fakeTarget) touch() {
	f.fakeImpl.touch()
	for _, a := range f.attachments {
		a.touch()
	}
}

func (f *fakeTarget) InUse() bool {
	for _, a := range f.attachments {
		if a.InUse() {
			return true
		}
	}
	return f.fakeImpl.InUse()
}

func (f *fakeTarget) pixels(w, h int) []byte {
	px := make([]byte, w*h*4)
	for i := range px {
		px[i] = 0xff
	}
	return px
}

func (f *fakeTarget) ReadPixels(dst []byte) error {
	copy(dst, f.pixels(1, len(dst)/4))
	return nil
}

type fakeProgram struct {
	*fakeImpl
	prog *shader.Program
}

func (f *fakeProgram) Reflection() *shader.Reflection {
	return &f.prog.Reflection
}

type fakePipeline struct {
	*fakeImpl
	params PipelineParams
	draws  []*ResolvedBindings
}

func (f *fakePipeline) Draw(rb *ResolvedBindings, vertices, instances int) error {
	f.touch()
	for _, vb := range rb.VertexBuffers {
		vb.(*fakeBuffer).touch()
	}
	f.draws = append(f.draws, rb)
	f.b.log("draw %d", vertices)
	return nil
}

func (f *fakePipeline) DrawIndexed(rb *ResolvedBindings, indices, instances int) error {
	return f.Draw(rb, indices, instances)
}

func (f *fakePipeline) Dispatch(rb *ResolvedBindings, x, y, z int) error {
	f.touch()
	f.draws = append(f.draws, rb)
	f.b.log("dispatch %d %d %d", x, y, z)
	return nil
}
