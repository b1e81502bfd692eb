package wgpu

import (
	"image"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// testAPI wraps the noop HAL backend with doubles that count native objects,
// run copies on submission and can lag or fail on demand.
type testAPI struct {
	noop.API
	device  *testDevice
	queue   *testQueue
	surface *testSurface
}

func newTestAPI() *testAPI {
	q := &testQueue{}
	d := &testDevice{queue: q}
	return &testAPI{
		device:  d,
		queue:   q,
		surface: &testSurface{failOn: map[int]bool{}},
	}
}

func (a *testAPI) CreateInstance(*hal.InstanceDescriptor) (hal.Instance, error) {
	return &testInstance{api: a}, nil
}

type testInstance struct {
	noop.Instance
	api *testAPI
}

func (i *testInstance) CreateSurface(_, _ uintptr) (hal.Surface, error) {
	return i.api.surface, nil
}

func (i *testInstance) EnumerateAdapters(s hal.Surface) []hal.ExposedAdapter {
	adapters := i.Instance.EnumerateAdapters(s)
	for n := range adapters {
		adapters[n].Adapter = &testAdapter{api: i.api}
	}
	return adapters
}

type testAdapter struct {
	noop.Adapter
	api *testAPI
}

func (a *testAdapter) Open(gputypes.Features, gputypes.Limits) (hal.OpenDevice, error) {
	return hal.OpenDevice{Device: a.api.device, Queue: a.api.queue}, nil
}

type testDevice struct {
	noop.Device
	queue *testQueue

	live     int
	waitIdle int

	setPipeline int
	viewports   int
	scissors    int
	draws       int
	viewport    [4]float32
	scissor     [4]uint32
	barriers    []hal.TextureBarrier
}

// bytes returns the backing storage of a noop buffer.
func (d *testDevice) bytes(buf hal.Buffer, offset, size uint64) []byte {
	m, err := d.Device.MapBuffer(buf, offset, size)
	if err != nil {
		panic(err)
	}
	return unsafe.Slice((*byte)(m.Ptr), size)
}

func (d *testDevice) counted(err error) {
	if err == nil {
		d.live++
	}
}

func (d *testDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	r, err := d.Device.CreateBuffer(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyBuffer(hal.Buffer) { d.live-- }

func (d *testDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	r, err := d.Device.CreateTexture(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyTexture(hal.Texture) { d.live-- }

func (d *testDevice) CreateTextureView(t hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	r, err := d.Device.CreateTextureView(t, desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyTextureView(hal.TextureView) { d.live-- }

func (d *testDevice) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	r, err := d.Device.CreateSampler(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroySampler(hal.Sampler) { d.live-- }

func (d *testDevice) CreateBindGroupLayout(desc *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	r, err := d.Device.CreateBindGroupLayout(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyBindGroupLayout(hal.BindGroupLayout) { d.live-- }

func (d *testDevice) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	r, err := d.Device.CreateBindGroup(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyBindGroup(hal.BindGroup) { d.live-- }

func (d *testDevice) CreatePipelineLayout(desc *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error) {
	r, err := d.Device.CreatePipelineLayout(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyPipelineLayout(hal.PipelineLayout) { d.live-- }

func (d *testDevice) CreateShaderModule(desc *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	r, err := d.Device.CreateShaderModule(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyShaderModule(hal.ShaderModule) { d.live-- }

func (d *testDevice) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	r, err := d.Device.CreateRenderPipeline(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyRenderPipeline(hal.RenderPipeline) { d.live-- }

func (d *testDevice) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	r, err := d.Device.CreateComputePipeline(desc)
	d.counted(err)
	return r, err
}

func (d *testDevice) DestroyComputePipeline(hal.ComputePipeline) { d.live-- }

func (d *testDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &testEncoder{device: d}, nil
}

func (d *testDevice) WaitIdle() error {
	d.waitIdle++
	d.queue.completed = d.queue.submitted
	return nil
}

// testEncoder records copies as closures run by the queue on submission.
type testEncoder struct {
	noop.CommandEncoder
	device *testDevice
	label  string
	ops    []func()
}

type testCommands struct {
	noop.Resource
	label string
	ops   []func()
}

func (e *testEncoder) BeginEncoding(label string) error {
	e.label = label
	e.ops = nil
	return nil
}

func (e *testEncoder) EndEncoding() (hal.CommandBuffer, error) {
	cb := &testCommands{label: e.label, ops: e.ops}
	e.ops = nil
	return cb, nil
}

func (e *testEncoder) TransitionTextures(barriers []hal.TextureBarrier) {
	e.device.barriers = append(e.device.barriers, barriers...)
}

func (e *testEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	e.ops = append(e.ops, func() {
		for _, r := range regions {
			copy(e.device.bytes(dst, r.DstOffset, r.Size), e.device.bytes(src, r.SrcOffset, r.Size))
		}
	})
}

// CopyTextureToBuffer writes the pattern byte(x+y) over the copied texels
// and 0xEE over the row padding.
func (e *testEncoder) CopyTextureToBuffer(_ hal.Texture, dst hal.Buffer, regions []hal.BufferTextureCopy) {
	e.ops = append(e.ops, func() {
		for _, r := range regions {
			pitch := uint64(r.BufferLayout.BytesPerRow)
			rows := uint64(r.Size.Height)
			data := e.device.bytes(dst, r.BufferLayout.Offset, pitch*rows)
			for y := uint64(0); y < rows; y++ {
				for x := uint64(0); x < pitch; x++ {
					v := byte(0xEE)
					if x < uint64(r.Size.Width)*4 {
						v = texel(int(x), int(y))
					}
					data[y*pitch+x] = v
				}
			}
		}
	})
}

func texel(x, y int) byte {
	return byte(x + y)
}

func (e *testEncoder) BeginRenderPass(*hal.RenderPassDescriptor) hal.RenderPassEncoder {
	return &testPass{device: e.device}
}

type testPass struct {
	noop.RenderPassEncoder
	device *testDevice
}

func (p *testPass) SetPipeline(hal.RenderPipeline) {
	p.device.setPipeline++
}

func (p *testPass) SetViewport(x, y, w, h, _, _ float32) {
	p.device.viewports++
	p.device.viewport = [4]float32{x, y, w, h}
}

func (p *testPass) SetScissorRect(x, y, w, h uint32) {
	p.device.scissors++
	p.device.scissor = [4]uint32{x, y, w, h}
}

func (p *testPass) Draw(_, _, _, _ uint32) {
	p.device.draws++
}

// testQueue completes submissions immediately, one per poll when lag is
// set, or only on WaitIdle when hold is set.
type testQueue struct {
	noop.Queue
	submitted uint64
	completed uint64
	lag       bool
	hold      bool
	polls     int
	presents  int
	// labels lists the submitted command buffers in order.
	labels []string
}

func (q *testQueue) Submit(cbs []hal.CommandBuffer) (uint64, error) {
	for _, cb := range cbs {
		if c, ok := cb.(*testCommands); ok {
			q.labels = append(q.labels, c.label)
			for _, op := range c.ops {
				op()
			}
		}
	}
	q.submitted++
	if !q.lag && !q.hold {
		q.completed = q.submitted
	}
	return q.submitted, nil
}

func (q *testQueue) PollCompleted() uint64 {
	q.polls++
	if q.lag && !q.hold && q.completed < q.submitted {
		q.completed++
	}
	return q.completed
}

func (q *testQueue) Present(hal.Surface, hal.SurfaceTexture, []image.Rectangle) error {
	q.presents++
	return nil
}

// testSurface fails the acquisitions listed in failOn, counted from 1.
type testSurface struct {
	noop.Surface
	failOn     map[int]bool
	acquires   int
	configures int
	config     hal.SurfaceConfiguration
}

func (s *testSurface) Configure(d hal.Device, c *hal.SurfaceConfiguration) error {
	s.configures++
	s.config = *c
	return s.Surface.Configure(d, c)
}

func (s *testSurface) AcquireTexture(f hal.Fence) (*hal.AcquiredSurfaceTexture, error) {
	s.acquires++
	if s.failOn[s.acquires] {
		return nil, hal.ErrSurfaceOutdated
	}
	return s.Surface.AcquireTexture(f)
}

type testWindow struct {
	w, h int
}

func (w *testWindow) NativeHandles() (uintptr, uintptr) { return 1, 2 }
func (w *testWindow) FramebufferSize() (int, int)       { return w.w, w.h }
