package vulkan

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
	"github.com/spaghettifunk/gpuctx/engine/gpu/state"
)

// frameSlot owns the command buffers and synchronization objects of one
// frame in flight.
type frameSlot struct {
	cmd vk.CommandBuffer
	// upload collects the transfers issued while recording. It is
	// submitted ahead of cmd.
	upload    vk.CommandBuffer
	uploading bool
	fence     vk.Fence

	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	// waitAcquire is set until a submission waits on imageAvailable.
	waitAcquire bool

	submission uint64
	pools      []vk.DescriptorPool
	pool       int
	staging    stagingArena
}

func (b *Backend) createSlots(n int) error {
	cmds := make([]vk.CommandBuffer, 2*n)
	res := vk.AllocateCommandBuffers(b.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(len(cmds)),
	}, cmds)
	if res != vk.Success {
		return vkError("allocate command buffers", res)
	}
	b.slots = make([]frameSlot, n)
	for i := range b.slots {
		slot := &b.slots[i]
		slot.cmd, slot.upload = cmds[2*i], cmds[2*i+1]
		fence, err := b.createFence(true)
		if err != nil {
			return err
		}
		slot.fence = fence
		if !b.onscreen {
			continue
		}
		for _, sem := range []*vk.Semaphore{&slot.imageAvailable, &slot.renderFinished} {
			res := vk.CreateSemaphore(b.device, &vk.SemaphoreCreateInfo{
				SType: vk.StructureTypeSemaphoreCreateInfo,
			}, nil, sem)
			if res != vk.Success {
				return vkError("create semaphore", res)
			}
		}
	}
	return nil
}

func (b *Backend) createFence(signaled bool) (vk.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(b.device, &info, nil, &fence); res != vk.Success {
		return nil, vkError("create fence", res)
	}
	return fence, nil
}

func (b *Backend) destroySlots() {
	for i := range b.slots {
		slot := &b.slots[i]
		slot.staging.release()
		for _, p := range slot.pools {
			vk.DestroyDescriptorPool(b.device, p, nil)
		}
		for _, sem := range []vk.Semaphore{slot.imageAvailable, slot.renderFinished} {
			if sem != nil {
				vk.DestroySemaphore(b.device, sem, nil)
			}
		}
		if slot.fence != nil {
			vk.DestroyFence(b.device, slot.fence, nil)
		}
		if slot.cmd != nil {
			vk.FreeCommandBuffers(b.device, b.cmdPool, 2, []vk.CommandBuffer{slot.cmd, slot.upload})
		}
	}
	b.slots = nil
}

// pollCompleted advances the completed index with every signaled slot
// fence. A queue runs submissions in order, so the highest signaled one
// covers the others.
func (b *Backend) pollCompleted() uint64 {
	for i := range b.slots {
		slot := &b.slots[i]
		if slot.submission <= b.completed {
			continue
		}
		if vk.GetFenceStatus(b.device, slot.fence) == vk.Success {
			b.completed = slot.submission
		}
	}
	return b.completed
}

// waitSubmission blocks until index has completed.
func (b *Backend) waitSubmission(index uint64) error {
	if index == 0 || b.pollCompleted() >= index {
		return nil
	}
	var target *frameSlot
	for i := range b.slots {
		slot := &b.slots[i]
		if slot.submission >= index && (target == nil || slot.submission < target.submission) {
			target = slot
		}
	}
	if target == nil {
		return fmt.Errorf("submission %d has no fence: %w", index, core.ErrGeneric)
	}
	res := vk.WaitForFences(b.device, 1, []vk.Fence{target.fence}, vk.True, uint64(fenceTimeout))
	switch res {
	case vk.Success:
		b.completed = max(b.completed, target.submission)
		return nil
	case vk.Timeout:
		return fmt.Errorf("submission %d still running after %s: %w", index, fenceTimeout, core.ErrDeviceLost)
	}
	return vkError("wait for fence", res)
}

// recycle waits for the last submission of slot and frees what it recorded.
func (b *Backend) recycle(slot *frameSlot) error {
	if err := b.waitSubmission(slot.submission); err != nil {
		return err
	}
	for _, p := range slot.pools {
		vk.ResetDescriptorPool(b.device, p, 0)
	}
	slot.pool = 0
	slot.staging.reset()
	return nil
}

func beginCommands(cb vk.CommandBuffer) error {
	res := vk.BeginCommandBuffer(cb, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	return vkError("begin command buffer", res)
}

func (b *Backend) BeginDraw(t float64) error {
	slot := &b.slots[b.frame]
	if err := b.recycle(slot); err != nil {
		return err
	}
	if b.onscreen {
		if err := b.acquire(slot); err != nil {
			return err
		}
	}
	if err := beginCommands(slot.cmd); err != nil {
		return err
	}
	b.cmd = slot.cmd
	b.recording = true
	b.timer.begin(b, slot.cmd)
	return nil
}

func (b *Backend) EndDraw(t float64) error {
	slot := &b.slots[b.frame]
	b.timer.end(b, b.cmd)

	color := b.defaults.color
	capture := b.capture != nil && b.readback != nil
	if capture {
		b.copyToBuffer(b.cmd, color, 0, b.readback.buf, b.width, b.height)
	}
	if b.onscreen {
		color.transition(b.cmd, vk.ImageLayoutPresentSrc, false)
	}

	index, err := b.submit(slot, true)
	if err != nil {
		return err
	}
	b.timer.submission = index

	if b.onscreen {
		if err := b.present(slot); err != nil {
			return err
		}
	}
	if capture {
		if err := b.waitSubmission(index); err != nil {
			return err
		}
		n := b.width * b.height * 4
		copy(b.capture[:n], b.readback.bytes())
		if isBGRA(color.params.Format) {
			swapRedBlue(b.capture[:n])
		}
	}

	b.frame = (b.frame + 1) % len(b.slots)
	// The next frame records into this slot: wait for its previous use.
	return b.recycle(&b.slots[b.frame])
}

// uploadCmd returns the upload command buffer of the current slot, opened
// on first use.
func (b *Backend) uploadCmd() (vk.CommandBuffer, error) {
	slot := &b.slots[b.frame]
	if !slot.uploading {
		if err := beginCommands(slot.upload); err != nil {
			return nil, err
		}
		beginTransfers(slot.upload)
		slot.uploading = true
	}
	return slot.upload, nil
}

// closeUpload ends the upload command buffer and returns the command
// buffers to submit ahead of cb.
func (b *Backend) closeUpload(slot *frameSlot, cbs []vk.CommandBuffer) ([]vk.CommandBuffer, error) {
	if !slot.uploading {
		return cbs, nil
	}
	slot.uploading = false
	endTransfers(slot.upload)
	if res := vk.EndCommandBuffer(slot.upload); res != vk.Success {
		return nil, vkError("end upload commands", res)
	}
	return append(cbs, slot.upload), nil
}

// submit ends the recording of the current frame and submits it. Only the
// final submission of a frame signals the semaphore present waits on.
// Every resource touched while recording is stamped with the submission
// index.
func (b *Backend) submit(slot *frameSlot, final bool) (uint64, error) {
	cbs, err := b.closeUpload(slot, nil)
	if err != nil {
		return 0, err
	}
	res := vk.EndCommandBuffer(b.cmd)
	if final {
		b.cmd = nil
		b.recording = false
	}
	if res != vk.Success {
		return 0, vkError("end command buffer", res)
	}
	cbs = append(cbs, slot.cmd)

	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cbs)),
		PCommandBuffers:    cbs,
	}
	if slot.waitAcquire {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{slot.imageAvailable}
		info.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
		slot.waitAcquire = false
	}
	if final && b.onscreen {
		info.SignalSemaphoreCount = 1
		info.PSignalSemaphores = []vk.Semaphore{slot.renderFinished}
	}
	if res := vk.ResetFences(b.device, 1, []vk.Fence{slot.fence}); res != vk.Success {
		return 0, vkError("reset fence", res)
	}
	if res := vk.QueueSubmit(b.queue, 1, []vk.SubmitInfo{info}, slot.fence); res != vk.Success {
		return 0, vkError("queue submit", res)
	}
	b.submitted++
	index := b.submitted
	slot.submission = index
	for _, r := range b.touched {
		r.lastUse = index
		r.pending = false
	}
	b.touched = b.touched[:0]
	return index, nil
}

// flush submits what the current frame recorded so far and reopens its
// command buffer, so reads issued mid-frame observe the draws before them.
func (b *Backend) flush() error {
	if !b.recording {
		return nil
	}
	if b.pass != nil {
		return fmt.Errorf("cannot read back GPU data within a render pass: %w", core.ErrInvalidUsage)
	}
	slot := &b.slots[b.frame]
	index, err := b.submit(slot, false)
	if err != nil {
		return err
	}
	// The command buffer can only be reset once its execution is over.
	if err := b.waitSubmission(index); err != nil {
		return err
	}
	return beginCommands(slot.cmd)
}

// transientCmd runs the transfers issued outside of frames.
type transientCmd struct {
	cmd   vk.CommandBuffer
	fence vk.Fence
}

func (t *transientCmd) init(b *Backend) error {
	cmds := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(b.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmds)
	if res != vk.Success {
		return vkError("allocate command buffers", res)
	}
	t.cmd = cmds[0]
	fence, err := b.createFence(false)
	if err != nil {
		return err
	}
	t.fence = fence
	return nil
}

func (t *transientCmd) release(b *Backend) {
	if t.fence != nil {
		vk.DestroyFence(b.device, t.fence, nil)
	}
	if t.cmd != nil {
		vk.FreeCommandBuffers(b.device, b.cmdPool, 1, []vk.CommandBuffer{t.cmd})
	}
	*t = transientCmd{}
}

// submitTransient records fn into the transient command buffer, submits it
// and waits for completion. Pending uploads of the current frame go first.
func (b *Backend) submitTransient(label string, fn func(cb vk.CommandBuffer)) error {
	t := &b.transient
	if err := beginCommands(t.cmd); err != nil {
		return err
	}
	beginTransfers(t.cmd)
	fn(t.cmd)
	endTransfers(t.cmd)
	if res := vk.EndCommandBuffer(t.cmd); res != vk.Success {
		return vkError("end "+label+" commands", res)
	}
	var cbs []vk.CommandBuffer
	if b.recording {
		var err error
		if cbs, err = b.closeUpload(&b.slots[b.frame], cbs); err != nil {
			return err
		}
	}
	cbs = append(cbs, t.cmd)
	res := vk.QueueSubmit(b.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(cbs)),
		PCommandBuffers:    cbs,
	}}, t.fence)
	if res != vk.Success {
		return vkError("submit "+label, res)
	}
	b.submitted++
	res = vk.WaitForFences(b.device, 1, []vk.Fence{t.fence}, vk.True, uint64(fenceTimeout))
	vk.ResetFences(b.device, 1, []vk.Fence{t.fence})
	switch res {
	case vk.Success:
		// Everything submitted before is over too.
		b.completed = b.submitted
		return nil
	case vk.Timeout:
		return fmt.Errorf("%s still running after %s: %w", label, fenceTimeout, core.ErrDeviceLost)
	}
	return vkError("wait for "+label, res)
}

// recordTransfer runs fn on the command buffer where a transfer to r lands
// in order: the frame one between passes, the upload one during a pass, a
// transient one outside of frames.
func (b *Backend) recordTransfer(r *resource, label string, fn func(cb vk.CommandBuffer)) error {
	switch {
	case !b.recording:
		return b.submitTransient(label, fn)
	case b.pass == nil:
		r.touch()
		fn(b.cmd)
		return nil
	case !r.pending:
		cb, err := b.uploadCmd()
		if err != nil {
			return err
		}
		r.touch()
		fn(cb)
		return nil
	}
	return fmt.Errorf("%s of a texture used by the current render pass: %w", label, core.ErrInvalidUsage)
}

func (b *Backend) BeginRenderPass(impl gpu.RenderTargetImpl) error {
	rt := impl.(*renderTarget)
	cb := b.cmd
	clears := make([]vk.ClearValue, 0, 2*len(rt.colors)+1)
	for i := range rt.colors {
		a := &rt.colors[i]
		a.tex.transition(cb, vk.ImageLayoutColorAttachmentOptimal, a.load != gputypes.LoadOpLoad)
		clears = append(clears, colorClear(a.tex.params.Format, a.clear))
	}
	for i := range rt.colors {
		if a := &rt.colors[i]; a.resolve != nil {
			a.resolve.transition(cb, vk.ImageLayoutColorAttachmentOptimal, true)
			clears = append(clears, vk.ClearValue{})
		}
	}
	if a := rt.depth; a != nil {
		a.tex.transition(cb, vk.ImageLayoutDepthStencilAttachmentOptimal, a.load != gputypes.LoadOpLoad)
		clears = append(clears, vk.NewClearDepthStencil(a.clearDepth, a.clearStencil))
	}

	vk.CmdBeginRenderPass(cb, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rt.pass,
		Framebuffer: rt.framebuffer(),
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: uint32(rt.width), Height: uint32(rt.height)},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)

	b.pass = rt
	b.stencil = 0
	rt.touchAll()
	b.cache.Reset()
	return nil
}

// EndRenderPass closes the pass and returns the attachments to the layout
// they rest in between passes.
func (b *Backend) EndRenderPass() error {
	rt := b.pass
	if rt == nil {
		return nil
	}
	cb := b.cmd
	vk.CmdEndRenderPass(cb)
	b.pass = nil
	for _, t := range rt.textures() {
		t.transition(cb, t.restLayout(), false)
	}
	passBarrier(cb)
	return nil
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
// command buffer of the open pass.
type passApplier struct {
	b *Backend
}

func (a passApplier) UseProgram(id uint64) {
	if p, ok := a.b.pipelines[id]; ok && p.handle != nil && p.params.Type != gpu.PipelineCompute {
		vk.CmdBindPipeline(a.b.cmd, vk.PipelineBindPointGraphics, p.handle)
	}
}

func (a passApplier) SetViewport(r state.Rect) {
	h := a.b.pass.height
	vk.CmdSetViewport(a.b.cmd, 0, 1, []vk.Viewport{{
		X:        float32(r.X),
		Y:        float32(h - r.Y - r.H),
		Width:    float32(r.W),
		Height:   float32(r.H),
		MinDepth: 0,
		MaxDepth: 1,
	}})
}

func (a passApplier) SetScissor(r state.Rect) {
	rt := a.b.pass
	x0, y0 := max(r.X, 0), max(rt.height-r.Y-r.H, 0)
	x1, y1 := min(r.X+r.W, rt.width), min(rt.height-r.Y, rt.height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	vk.CmdSetScissor(a.b.cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(x0), Y: int32(y0)},
		Extent: vk.Extent2D{Width: uint32(x1 - x0), Height: uint32(y1 - y0)},
	}})
}

// drawTimer measures the GPU time of a frame with timestamp queries, one
// pool per frame slot, or the CPU time until completion when the queue has
// no timestamps.
type drawTimer struct {
	pools      []vk.QueryPool
	period     float64
	start      time.Time
	slot       int
	submission uint64
}

func (t *drawTimer) init(b *Backend) {
	if !b.timestamps {
		core.LogDebug("queue has no timestamps, timing frames on the CPU")
		return
	}
	for range b.slots {
		var pool vk.QueryPool
		res := vk.CreateQueryPool(b.device, &vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: 2,
		}, nil, &pool)
		if res != vk.Success {
			core.LogDebug("timestamp queries unavailable, timing frames on the CPU: %v", vkError("create query pool", res))
			t.release(b)
			return
		}
		t.pools = append(t.pools, pool)
	}
	t.period = float64(b.props.Limits.TimestampPeriod)
}

func (t *drawTimer) begin(b *Backend, cb vk.CommandBuffer) {
	t.start = time.Now()
	if t.pools == nil {
		return
	}
	pool := t.pools[b.frame]
	vk.CmdResetQueryPool(cb, pool, 0, 2)
	vk.CmdWriteTimestamp(cb, vk.PipelineStageTopOfPipeBit, pool, 0)
}

func (t *drawTimer) end(b *Backend, cb vk.CommandBuffer) {
	if t.pools == nil {
		return
	}
	vk.CmdWriteTimestamp(cb, vk.PipelineStageBottomOfPipeBit, t.pools[b.frame], 1)
	t.slot = b.frame
}

func (t *drawTimer) release(b *Backend) {
	for _, p := range t.pools {
		vk.DestroyQueryPool(b.device, p, nil)
	}
	*t = drawTimer{}
}

// QueryDrawTime waits for the last submitted frame.
func (b *Backend) QueryDrawTime() (time.Duration, error) {
	t := &b.timer
	if err := b.waitSubmission(t.submission); err != nil {
		return 0, err
	}
	if t.pools == nil || t.submission == 0 {
		return time.Since(t.start), nil
	}
	var ticks [2]uint64
	res := vk.GetQueryPoolResults(b.device, t.pools[t.slot], 0, 2, 16, unsafe.Pointer(&ticks[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if res != vk.Success {
		return 0, vkError("get query results", res)
	}
	if ticks[1] < ticks[0] {
		return 0, nil
	}
	return time.Duration(float64(ticks[1]-ticks[0]) * t.period), nil
}
