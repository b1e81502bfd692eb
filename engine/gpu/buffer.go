package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

type BufferParams struct {
	Size  int
	Usage gputypes.BufferUsage
}

type Buffer struct {
	resource
	params BufferParams
}

// NewBuffer creates a buffer wrapper. Nothing is allocated until Init.
func (c *Context) NewBuffer(label string) *Buffer {
	b := &Buffer{}
	c.track(&b.resource, "buffer", label)
	return b
}

func (b *Buffer) Size() int {
	return b.params.Size
}

func (b *Buffer) Usage() gputypes.BufferUsage {
	return b.params.Usage
}

func (b *Buffer) Impl() BufferImpl {
	if b.impl == nil {
		return nil
	}
	return b.impl.(BufferImpl)
}

// Init allocates size bytes of device memory. Transfer usages are always
// added so the buffer can be uploaded to and read back.
func (b *Buffer) Init(size int, usage gputypes.BufferUsage) error {
	return b.ctx.fail("buffer init", b.init(size, usage))
}

func (b *Buffer) init(size int, usage gputypes.BufferUsage) error {
	if err := b.checkInit(); err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("buffer %q: invalid size %d: %w", b.label, size, core.ErrInvalidArg)
	}
	p := BufferParams{
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	}
	var impl BufferImpl
	err := b.ctx.run(func() error {
		var err error
		impl, err = b.ctx.backend.CreateBuffer(p)
		return err
	})
	if err != nil {
		return fmt.Errorf("buffer %q: %w", b.label, err)
	}
	b.params = p
	b.impl = impl
	return nil
}

func (b *Buffer) checkRange(n, offset int) error {
	if offset < 0 || n < 0 || offset+n > b.params.Size {
		return fmt.Errorf("buffer %q: range [%d, %d) outside of %d bytes: %w",
			b.label, offset, offset+n, b.params.Size, core.ErrInvalidArg)
	}
	return nil
}

// Upload copies data into the buffer at offset. The data is visible to any
// later GPU work once Upload returns.
func (b *Buffer) Upload(data []byte, offset int) error {
	err := b.checkUsable()
	if err == nil {
		err = b.checkRange(len(data), offset)
	}
	if err == nil {
		err = b.ctx.run(func() error {
			return b.Impl().Upload(data, offset)
		})
	}
	return b.ctx.fail("buffer upload", err)
}

// Download fills dst from the buffer at offset, waiting for pending GPU
// writes to complete.
func (b *Buffer) Download(dst []byte, offset int) error {
	err := b.checkUsable()
	if err == nil {
		err = b.checkRange(len(dst), offset)
	}
	if err == nil {
		err = b.ctx.run(func() error {
			return b.Impl().Download(dst, offset)
		})
	}
	return b.ctx.fail("buffer download", err)
}

func (b *Buffer) Destroy() {
	b.destroy()
}
