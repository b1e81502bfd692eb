package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

const (
	stagingChunk = 1 << 20
	// stagingAlign covers the texel size of every uploadable format and the
	// 4-byte rule of buffer to image copies.
	stagingAlign = 16
)

// rawBuffer is a buffer with its own allocation. Host visible buffers stay
// mapped for their whole life.
type rawBuffer struct {
	b    *Backend
	buf  vk.Buffer
	mem  vk.DeviceMemory
	size uint64
	ptr  unsafe.Pointer
}

func (b *Backend) newRawBuffer(size uint64, usage vk.BufferUsageFlags, preferred, required vk.MemoryPropertyFlags) (*rawBuffer, error) {
	// Zero sized buffers are invalid.
	size = max(alignUp(size, 4), 4)
	var buf vk.Buffer
	res := vk.CreateBuffer(b.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if res != vk.Success {
		return nil, vkError("create buffer", res)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device, buf, &reqs)
	mem, err := b.allocate(reqs, preferred, required)
	if err != nil {
		vk.DestroyBuffer(b.device, buf, nil)
		return nil, err
	}
	if res := vk.BindBufferMemory(b.device, buf, mem, 0); res != vk.Success {
		vk.FreeMemory(b.device, mem, nil)
		vk.DestroyBuffer(b.device, buf, nil)
		return nil, vkError("bind buffer memory", res)
	}
	return &rawBuffer{b: b, buf: buf, mem: mem, size: size}, nil
}

// newHostBuffer returns a mapped, coherent buffer for staging and readback.
func (b *Backend) newHostBuffer(size uint64, usage vk.BufferUsageFlagBits) (*rawBuffer, error) {
	host := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	preferred := host
	if usage&vk.BufferUsageTransferDstBit != 0 {
		// Reads from uncached memory are slow.
		preferred |= vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	}
	r, err := b.newRawBuffer(size, vk.BufferUsageFlags(usage), preferred, host)
	if err != nil {
		return nil, err
	}
	var ptr unsafe.Pointer
	if res := vk.MapMemory(b.device, r.mem, 0, vk.DeviceSize(r.size), 0, &ptr); res != vk.Success {
		r.release()
		return nil, vkError("map memory", res)
	}
	r.ptr = ptr
	return r, nil
}

func (r *rawBuffer) bytes() []byte {
	return unsafe.Slice((*byte)(r.ptr), r.size)
}

func (r *rawBuffer) release() {
	d := r.b.device
	if r.ptr != nil {
		vk.UnmapMemory(d, r.mem)
		r.ptr = nil
	}
	if r.buf != nil {
		vk.DestroyBuffer(d, r.buf, nil)
		r.buf = nil
	}
	if r.mem != nil {
		vk.FreeMemory(d, r.mem, nil)
		r.mem = nil
	}
}

// stagingArena hands out upload space to one frame slot. Everything is
// reclaimed at once when the slot is recycled.
type stagingArena struct {
	chunks []*rawBuffer
	off    uint64
}

// alloc returns a chunk and the offset of size free bytes in it.
func (a *stagingArena) alloc(b *Backend, size uint64) (*rawBuffer, uint64, error) {
	size = alignUp(size, stagingAlign)
	if n := len(a.chunks); n > 0 {
		c := a.chunks[n-1]
		if a.off+size <= c.size {
			off := a.off
			a.off += size
			return c, off, nil
		}
	}
	n := uint64(stagingChunk)
	if len(a.chunks) > 0 {
		n = a.chunks[len(a.chunks)-1].size * 2
	}
	c, err := b.newHostBuffer(max(n, size), vk.BufferUsageTransferSrcBit)
	if err != nil {
		return nil, 0, err
	}
	a.chunks = append(a.chunks, c)
	a.off = size
	return c, 0, nil
}

// reset keeps the largest chunk only.
func (a *stagingArena) reset() {
	if n := len(a.chunks); n > 1 {
		for _, c := range a.chunks[:n-1] {
			c.release()
		}
		a.chunks[0] = a.chunks[n-1]
		a.chunks = a.chunks[:1]
	}
	a.off = 0
}

func (a *stagingArena) release() {
	for _, c := range a.chunks {
		c.release()
	}
	a.chunks = nil
	a.off = 0
}

// staged is upload data copied to host memory, ready to be read by a
// transfer command.
type staged struct {
	buf     vk.Buffer
	off     uint64
	release func()
}

// stage copies data where the next transfer can read it: the arena of the
// frame slot while recording, a temporary buffer otherwise.
func (b *Backend) stage(data []byte) (staged, error) {
	if b.recording {
		c, off, err := b.slots[b.frame].staging.alloc(b, uint64(len(data)))
		if err != nil {
			return staged{}, err
		}
		copy(c.bytes()[off:], data)
		return staged{buf: c.buf, off: off, release: func() {}}, nil
	}
	r, err := b.newHostBuffer(uint64(len(data)), vk.BufferUsageTransferSrcBit)
	if err != nil {
		return staged{}, err
	}
	copy(r.bytes(), data)
	return staged{buf: r.buf, release: r.release}, nil
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}
