package gpu

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

// SamplerSuffix names the sampler paired with a texture binding: the
// sampler of texture "tex" is "tex_sampler".
const SamplerSuffix = "_sampler"

type BufferBinding struct {
	Binding shader.Binding
	Buffer  BufferImpl
	Offset  int
	Size    int
}

// TextureBinding binds a texture, or the sampler of a texture. A nil
// Texture selects the backend dummy texture.
type TextureBinding struct {
	Binding shader.Binding
	Texture TextureImpl
	Params  TextureParams
}

// ResolvedBindings is the table handed to the backend for one draw or
// dispatch, in program binding order.
type ResolvedBindings struct {
	Buffers       []BufferBinding
	Textures      []TextureBinding
	VertexBuffers []BufferImpl
	IndexBuffer   BufferImpl
	IndexFormat   gputypes.IndexFormat
}

type bufferSlot struct {
	buffer *Buffer
	offset int
	size   int
}

// Bindings maps the named resources of one pipeline to buffers and
// textures. A pipeline may be shared, so each user keeps its own Bindings.
type Bindings struct {
	pipeline    *Pipeline
	buffers     map[string]bufferSlot
	textures    map[string]*Texture
	vertex      []*Buffer
	index       *Buffer
	indexFormat gputypes.IndexFormat
}

func (p *Pipeline) NewBindings() *Bindings {
	return &Bindings{
		pipeline: p,
		buffers:  make(map[string]bufferSlot),
		textures: make(map[string]*Texture),
		vertex:   make([]*Buffer, len(p.desc.VertexBuffers)),
	}
}

func (b *Bindings) reflection() *shader.Reflection {
	return b.pipeline.desc.Program.Reflection()
}

// SetBuffer binds size bytes of buf starting at offset. A size of 0 binds
// the rest of the buffer.
func (b *Bindings) SetBuffer(name string, buf *Buffer, offset, size int) error {
	c := b.pipeline.ctx
	err := b.setBuffer(name, buf, offset, size)
	return c.fail("set buffer", err)
}

func (b *Bindings) setBuffer(name string, buf *Buffer, offset, size int) error {
	if buf == nil {
		return fmt.Errorf("binding %q: nil buffer: %w", name, core.ErrInvalidArg)
	}
	if err := buf.checkOwner(b.pipeline.ctx); err != nil {
		return err
	}
	if err := buf.checkUsable(); err != nil {
		return err
	}
	binding, ok := b.reflection().Binding(name)
	if !ok {
		return fmt.Errorf("program has no binding %q: %w", name, core.ErrInvalidArg)
	}
	var usage gputypes.BufferUsage
	switch binding.Kind {
	case shader.BindingUniformBuffer:
		usage = gputypes.BufferUsageUniform
	case shader.BindingStorageBuffer:
		usage = gputypes.BufferUsageStorage
	default:
		return fmt.Errorf("binding %q is a %s, not a buffer: %w", name, binding.Kind, core.ErrInvalidArg)
	}
	if buf.Usage()&usage == 0 {
		return fmt.Errorf("buffer %q cannot be bound as %s: %w", buf.label, binding.Kind, core.ErrInvalidArg)
	}
	if size == 0 {
		size = buf.Size() - offset
	}
	if err := buf.checkRange(size, offset); err != nil {
		return err
	}
	if align := b.pipeline.ctx.Limits().MinBufferOffsetAlignment; align > 0 && offset%align != 0 {
		return fmt.Errorf("binding %q: offset %d is not aligned to %d: %w", name, offset, align, core.ErrInvalidArg)
	}
	if binding.Size > 0 && size < int(binding.Size) {
		return fmt.Errorf("binding %q needs %d bytes, got %d: %w", name, binding.Size, size, core.ErrInvalidArg)
	}
	b.buffers[name] = bufferSlot{buffer: buf, offset: offset, size: size}
	return nil
}

// SetTexture binds tex to the texture named name and, when the program
// declares one, to its paired sampler. A nil texture restores the dummy.
func (b *Bindings) SetTexture(name string, tex *Texture) error {
	c := b.pipeline.ctx
	err := b.setTexture(name, tex)
	return c.fail("set texture", err)
}

func (b *Bindings) setTexture(name string, tex *Texture) error {
	binding, ok := b.reflection().Binding(name)
	if !ok {
		return fmt.Errorf("program has no binding %q: %w", name, core.ErrInvalidArg)
	}
	if binding.Kind != shader.BindingTexture && binding.Kind != shader.BindingStorageTexture {
		return fmt.Errorf("binding %q is a %s, not a texture: %w", name, binding.Kind, core.ErrInvalidArg)
	}
	if tex == nil {
		delete(b.textures, name)
		return nil
	}
	if err := tex.checkOwner(b.pipeline.ctx); err != nil {
		return err
	}
	if err := tex.checkUsable(); err != nil {
		return err
	}
	want := TextureUsageSampled
	if binding.Kind == shader.BindingStorageTexture {
		want = TextureUsageStorage
	}
	if tex.Params().Usage&want == 0 {
		return fmt.Errorf("texture %q cannot be bound as %s: %w", tex.label, binding.Kind, core.ErrInvalidArg)
	}
	b.textures[name] = tex
	return nil
}

func (b *Bindings) SetVertexBuffer(slot int, buf *Buffer) error {
	c := b.pipeline.ctx
	if buf == nil {
		return c.fail("set vertex buffer", fmt.Errorf("vertex buffer slot %d: nil buffer: %w", slot, core.ErrInvalidArg))
	}
	err := buf.checkOwner(c)
	if err == nil {
		err = buf.checkUsable()
	}
	if err == nil && (slot < 0 || slot >= len(b.vertex)) {
		err = fmt.Errorf("vertex buffer slot %d out of %d: %w", slot, len(b.vertex), core.ErrInvalidArg)
	}
	if err == nil && buf.Usage()&gputypes.BufferUsageVertex == 0 {
		err = fmt.Errorf("buffer %q lacks vertex usage: %w", buf.label, core.ErrInvalidArg)
	}
	if err == nil {
		b.vertex[slot] = buf
	}
	return c.fail("set vertex buffer", err)
}

func (b *Bindings) SetIndexBuffer(buf *Buffer, format gputypes.IndexFormat) error {
	c := b.pipeline.ctx
	if buf == nil {
		b.index = nil
		return nil
	}
	err := buf.checkOwner(c)
	if err == nil {
		err = buf.checkUsable()
	}
	if err == nil && format != gputypes.IndexFormatUint16 && format != gputypes.IndexFormatUint32 {
		err = fmt.Errorf("invalid index format %d: %w", format, core.ErrInvalidArg)
	}
	if err == nil && buf.Usage()&gputypes.BufferUsageIndex == 0 {
		err = fmt.Errorf("buffer %q lacks index usage: %w", buf.label, core.ErrInvalidArg)
	}
	if err == nil {
		b.index = buf
		b.indexFormat = format
	}
	return c.fail("set index buffer", err)
}

// resolve builds the backend table, checking that every buffer and vertex
// slot is bound to a live resource.
func (b *Bindings) resolve(p *Pipeline) (*ResolvedBindings, error) {
	if b == nil {
		b = p.NewBindings()
	}
	if b.pipeline != p {
		return nil, fmt.Errorf("bindings of pipeline %q used with %q: %w", b.pipeline.label, p.label, core.ErrInvalidUsage)
	}
	rb := &ResolvedBindings{IndexFormat: b.indexFormat}
	for _, binding := range b.reflection().Bindings {
		switch binding.Kind {
		case shader.BindingUniformBuffer, shader.BindingStorageBuffer:
			slot, ok := b.buffers[binding.Name]
			if !ok || !slot.buffer.initialized() {
				return nil, fmt.Errorf("pipeline %q: buffer %q is not bound: %w", p.label, binding.Name, core.ErrInvalidUsage)
			}
			rb.Buffers = append(rb.Buffers, BufferBinding{
				Binding: binding,
				Buffer:  slot.buffer.Impl(),
				Offset:  slot.offset,
				Size:    slot.size,
			})
		case shader.BindingTexture, shader.BindingStorageTexture:
			rb.Textures = append(rb.Textures, b.textureBinding(binding, binding.Name))
		case shader.BindingSampler:
			name := strings.TrimSuffix(binding.Name, SamplerSuffix)
			rb.Textures = append(rb.Textures, b.textureBinding(binding, name))
		}
	}
	for i, vb := range b.vertex {
		if vb == nil || !vb.initialized() {
			return nil, fmt.Errorf("pipeline %q: vertex buffer %d is not bound: %w", p.label, i, core.ErrInvalidUsage)
		}
		rb.VertexBuffers = append(rb.VertexBuffers, vb.Impl())
	}
	if b.index != nil {
		if !b.index.initialized() {
			return nil, fmt.Errorf("pipeline %q: index buffer is destroyed: %w", p.label, core.ErrInvalidUsage)
		}
		rb.IndexBuffer = b.index.Impl()
	}
	return rb, nil
}

func (b *Bindings) textureBinding(binding shader.Binding, name string) TextureBinding {
	tb := TextureBinding{Binding: binding}
	if tex, ok := b.textures[name]; ok && tex.initialized() {
		tb.Texture = tex.Impl()
		tb.Params = tex.Params()
	}
	return tb
}
