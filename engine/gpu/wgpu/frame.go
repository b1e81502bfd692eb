package wgpu

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

// frameSlot owns the command encoder of one frame in flight and every
// per-draw object recorded with it.
type frameSlot struct {
	encoder    hal.CommandEncoder
	buffers    []hal.CommandBuffer
	submission uint64
	bindGroups []hal.BindGroup
	views      []hal.TextureView
}

func (b *Backend) pollCompleted() uint64 {
	if b.queue == nil {
		return b.completed
	}
	if c := b.queue.PollCompleted(); c > b.completed {
		b.completed = c
	}
	return b.completed
}

// waitSubmission blocks until the queue reports index as completed.
func (b *Backend) waitSubmission(index uint64) error {
	if index == 0 || b.pollCompleted() >= index {
		return nil
	}
	deadline := time.Now().Add(fenceTimeout)
	backoff := 50 * time.Microsecond
	for b.pollCompleted() < index {
		if time.Now().After(deadline) {
			return fmt.Errorf("submission %d still running after %s: %w", index, fenceTimeout, core.ErrDeviceLost)
		}
		time.Sleep(backoff)
		backoff = min(backoff*2, 2*time.Millisecond)
	}
	return nil
}

// recycle waits for the last submission of slot and frees what it recorded.
func (b *Backend) recycle(slot *frameSlot) error {
	if err := b.waitSubmission(slot.submission); err != nil {
		return err
	}
	if len(slot.buffers) > 0 {
		slot.encoder.ResetAll(slot.buffers)
		slot.buffers = slot.buffers[:0]
	}
	for _, g := range slot.bindGroups {
		b.device.DestroyBindGroup(g)
	}
	slot.bindGroups = slot.bindGroups[:0]
	for _, v := range slot.views {
		b.device.DestroyTextureView(v)
	}
	slot.views = slot.views[:0]
	return nil
}

func (b *Backend) BeginDraw(t float64) error {
	slot := &b.slots[b.frame]
	if err := b.recycle(slot); err != nil {
		return err
	}
	if b.surface != nil {
		if err := b.acquire(); err != nil {
			return err
		}
	}
	if err := slot.encoder.BeginEncoding(fmt.Sprintf("frame %d", b.frame)); err != nil {
		return halError("begin encoding", err)
	}
	b.encoder = slot.encoder
	b.timer.begin(b.encoder)
	return nil
}

func (b *Backend) EndDraw(t float64) error {
	slot := &b.slots[b.frame]
	enc := b.encoder
	b.timer.end(enc)

	capture := b.capture != nil && b.readback != nil
	if capture {
		b.copyToReadback(enc, b.defaults.presented(), b.readback, b.rowPitch(b.width), b.width, b.height)
	}

	index, err := b.submit(slot, "frame")
	if err != nil {
		return err
	}
	b.timer.submission = index

	if b.surface != nil {
		if err := b.present(); err != nil {
			return err
		}
	}
	if capture {
		if err := b.waitSubmission(index); err != nil {
			return err
		}
		err := b.readMapped(b.readback, b.rowPitch(b.width)*uint64(b.height), func(data []byte) {
			unpad(b.capture, data, b.width*4, b.rowPitch(b.width), b.height)
		})
		if err != nil {
			return err
		}
	}

	b.frame = (b.frame + 1) % len(b.slots)
	// The next frame records into this slot: wait for its previous use.
	return b.recycle(&b.slots[b.frame])
}

// submit ends the encoding of the current frame and submits it. Every
// resource touched while recording is stamped with the submission index.
func (b *Backend) submit(slot *frameSlot, what string) (uint64, error) {
	cb, err := b.encoder.EndEncoding()
	b.encoder = nil
	if err != nil {
		return 0, halError("end "+what+" encoding", err)
	}
	slot.buffers = append(slot.buffers, cb)
	index, err := b.queue.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		return 0, halError("submit "+what, err)
	}
	b.submitted = max(b.submitted, index)
	slot.submission = index
	for _, r := range b.touched {
		r.lastUse = index
		r.pending = false
	}
	b.touched = b.touched[:0]
	return index, nil
}

// flush submits what the current frame recorded so far and reopens its
// encoder, so reads and transfers issued mid-frame run after the draws
// before them.
func (b *Backend) flush() error {
	if b.encoder == nil {
		return nil
	}
	if b.pass != nil {
		return fmt.Errorf("cannot submit the frame within a render pass: %w", core.ErrInvalidUsage)
	}
	slot := &b.slots[b.frame]
	// Keep the swapchain semaphores for the submission that presents.
	b.queue.SetSwapchainSuppressed(true)
	defer b.queue.SetSwapchainSuppressed(false)
	if _, err := b.submit(slot, "partial frame"); err != nil {
		return err
	}
	if err := slot.encoder.BeginEncoding(fmt.Sprintf("frame %d", b.frame)); err != nil {
		return halError("begin encoding", err)
	}
	b.encoder = slot.encoder
	return nil
}

// submitTransient records fn into the transient encoder, submits it and
// waits for completion. Used for uploads and readbacks outside of frames.
func (b *Backend) submitTransient(label string, fn func(enc hal.CommandEncoder)) error {
	enc := b.transient
	if err := enc.BeginEncoding(label); err != nil {
		return halError("begin encoding", err)
	}
	fn(enc)
	cb, err := enc.EndEncoding()
	if err != nil {
		return halError("end encoding", err)
	}
	defer enc.ResetAll([]hal.CommandBuffer{cb})
	if b.encoder != nil {
		b.queue.SetSwapchainSuppressed(true)
		defer b.queue.SetSwapchainSuppressed(false)
	}
	index, err := b.queue.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		return halError("submit "+label, err)
	}
	b.submitted = max(b.submitted, index)
	return b.waitSubmission(index)
}

func (b *Backend) BeginRenderPass(impl gpu.RenderTargetImpl) error {
	rt := impl.(*renderTarget)
	desc := &hal.RenderPassDescriptor{Label: "render pass"}
	for i := range rt.colors {
		a := &rt.colors[i]
		desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
			View:          a.target(),
			ResolveTarget: a.resolveTarget(),
			LoadOp:        loadOp(a.load),
			StoreOp:       storeOp(a.store),
			ClearValue:    a.clear,
		})
		a.tex.transition(b.encoder, gputypes.TextureUsageRenderAttachment)
		if a.resolve != nil {
			a.resolve.transition(b.encoder, gputypes.TextureUsageRenderAttachment)
		}
	}
	if a := rt.depth; a != nil {
		ds := &hal.RenderPassDepthStencilAttachment{
			View:            a.target(),
			DepthLoadOp:     loadOp(a.load),
			DepthStoreOp:    storeOp(a.store),
			DepthClearValue: a.clearDepth,
		}
		if a.tex.params.Format.HasStencil() {
			ds.StencilLoadOp = loadOp(a.load)
			ds.StencilStoreOp = storeOp(a.store)
			ds.StencilClearValue = a.clearStencil
		}
		desc.DepthStencilAttachment = ds
		a.tex.transition(b.encoder, gputypes.TextureUsageRenderAttachment)
	}

	b.pass = b.encoder.BeginRenderPass(desc)
	b.passRT = rt
	b.stencil = 0
	rt.touchAll()
	b.cache.Reset()
	return nil
}

func (b *Backend) EndRenderPass() error {
	if b.pass == nil {
		return nil
	}
	b.pass.End()
	// Attachments sampled by later passes go back to a shader readable state.
	for _, a := range b.passRT.attachments() {
		for _, t := range []*texture{a.tex, a.resolve} {
			if t != nil && t.params.Samples <= 1 && t.params.Usage&gpu.TextureUsageSampled != 0 {
				t.transition(b.encoder, gputypes.TextureUsageTextureBinding)
			}
		}
	}
	b.pass = nil
	b.passRT = nil
	return nil
}

func loadOp(op gputypes.LoadOp) gputypes.LoadOp {
	if op == gputypes.LoadOpUndefined {
		return gputypes.LoadOpClear
	}
	return op
}

func storeOp(op gputypes.StoreOp) gputypes.StoreOp {
	if op == gputypes.StoreOpUndefined {
		return gputypes.StoreOpStore
	}
	return op
}

// SetViewport takes a bottom-left origin rectangle, as every context
// rectangle.
func (b *Backend) SetViewport(r state.Rect) {
	if b.pass != nil {
		b.cache.SetViewport(r)
	}
}

func (b *Backend) SetScissor(r state.Rect) {
	b.scissor = r
}

// passApplier forwards the dynamic state of the render state cache to the
// open render pass.
type passApplier struct {
	b *Backend
}

func (a passApplier) UseProgram(id uint64) {
	if p, ok := a.b.pipelines[id]; ok && p.render != nil {
		a.b.pass.SetPipeline(p.render)
	}
}

func (a passApplier) SetViewport(r state.Rect) {
	h := a.b.passRT.height
	a.b.pass.SetViewport(float32(r.X), float32(h-r.Y-r.H), float32(r.W), float32(r.H), 0, 1)
}

func (a passApplier) SetScissor(r state.Rect) {
	rt := a.b.passRT
	x0, y0 := max(r.X, 0), max(rt.height-r.Y-r.H, 0)
	x1, y1 := min(r.X+r.W, rt.width), min(rt.height-r.Y, rt.height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	a.b.pass.SetScissorRect(uint32(x0), uint32(y0), uint32(x1-x0), uint32(y1-y0))
}

// drawTimer measures the GPU time of a frame with timestamp queries, or
// the CPU time until completion when the device has none.
type drawTimer struct {
	queries    hal.QuerySet
	resolve    hal.Buffer
	staging    hal.Buffer
	period     float32
	start      time.Time
	submission uint64
	b          *Backend
}

func (t *drawTimer) init(b *Backend) {
	t.b = b
	if !b.features.Contains(gputypes.FeatureTimestampQuery) {
		return
	}
	qs, err := b.device.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: "draw time",
		Type:  hal.QueryTypeTimestamp,
		Count: 2,
	})
	if err != nil {
		core.LogDebug("timestamp queries unavailable, timing frames on the CPU: %v", err)
		return
	}
	resolve, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "timestamp resolve",
		Size:  16,
		Usage: gputypes.BufferUsageQueryResolve | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		b.device.DestroyQuerySet(qs)
		return
	}
	staging, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "timestamp staging",
		Size:  16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		b.device.DestroyBuffer(resolve)
		b.device.DestroyQuerySet(qs)
		return
	}
	t.queries, t.resolve, t.staging = qs, resolve, staging
	t.period = b.queue.GetTimestampPeriod()
}

func (t *drawTimer) begin(enc hal.CommandEncoder) {
	t.start = time.Now()
	if t.queries == nil {
		return
	}
	first := uint32(0)
	enc.BeginComputePass(&hal.ComputePassDescriptor{
		Label:           "frame start",
		TimestampWrites: &hal.ComputePassTimestampWrites{QuerySet: t.queries, BeginningOfPassWriteIndex: &first},
	}).End()
}

func (t *drawTimer) end(enc hal.CommandEncoder) {
	if t.queries == nil {
		return
	}
	last := uint32(1)
	enc.BeginComputePass(&hal.ComputePassDescriptor{
		Label:           "frame end",
		TimestampWrites: &hal.ComputePassTimestampWrites{QuerySet: t.queries, EndOfPassWriteIndex: &last},
	}).End()
	enc.ResolveQuerySet(t.queries, 0, 2, t.resolve, 0)
	enc.CopyBufferToBuffer(t.resolve, t.staging, []hal.BufferCopy{{Size: 16}})
}

func (t *drawTimer) release(b *Backend) {
	if t.staging != nil {
		b.device.DestroyBuffer(t.staging)
	}
	if t.resolve != nil {
		b.device.DestroyBuffer(t.resolve)
	}
	if t.queries != nil {
		b.device.DestroyQuerySet(t.queries)
	}
	*t = drawTimer{}
}

// QueryDrawTime waits for the last submitted frame.
func (b *Backend) QueryDrawTime() (time.Duration, error) {
	t := &b.timer
	if err := b.waitSubmission(t.submission); err != nil {
		return 0, err
	}
	if t.queries == nil {
		return time.Since(t.start), nil
	}
	var ticks [2]uint64
	err := b.readMapped(t.staging, 16, func(data []byte) {
		ticks[0] = binary.LittleEndian.Uint64(data[0:])
		ticks[1] = binary.LittleEndian.Uint64(data[8:])
	})
	if err != nil {
		return 0, err
	}
	if ticks[1] < ticks[0] {
		return 0, nil
	}
	return time.Duration(float64(ticks[1]-ticks[0]) * float64(t.period)), nil
}
