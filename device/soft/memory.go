package soft

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/clmtl/device"
)

type heap struct {
	mem      []byte
	opts     device.ResourceOptions
	released atomic.Bool
}

func (h *heap) Size() uint64                     { return uint64(len(h.mem)) }
func (h *heap) Options() device.ResourceOptions { return h.opts }

func (h *heap) NewBuffer(length, offset uint64) (device.Buffer, error) {
	if h.released.Load() {
		return nil, device.ErrReleased
	}
	if length == 0 || offset > h.Size() || length > h.Size()-offset {
		return nil, fmt.Errorf("%w: [%d, %d) in heap of %d bytes",
			device.ErrOutOfBounds, offset, offset+length, h.Size())
	}
	return &buffer{heap: h, offset: offset, length: length}, nil
}

func (h *heap) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.mem = nil
	}
}

type buffer struct {
	heap   *heap
	offset uint64
	length uint64
}

func (b *buffer) Length() uint64    { return b.length }
func (b *buffer) Offset() uint64    { return b.offset }
func (b *buffer) Heap() device.Heap { return b.heap }

func (b *buffer) Contents() []byte {
	if !b.heap.opts.HostVisible() {
		return nil
	}
	return b.bytes()
}

// bytes returns the buffer memory regardless of storage mode.
func (b *buffer) bytes() []byte {
	return b.heap.mem[b.offset : b.offset+b.length : b.offset+b.length]
}

// asBuffer unwraps a buffer created by this package.
func asBuffer(buf device.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok {
		return nil, fmt.Errorf("soft: %w: foreign buffer %T", device.ErrUnsupported, buf)
	}
	if b.heap.released.Load() {
		return nil, device.ErrReleased
	}
	return b, nil
}

type texture struct {
	desc  device.TextureDescriptor
	pitch uint64
	texel []byte
}

func (t *texture) Descriptor() device.TextureDescriptor { return t.desc }
func (t *texture) AllocatedSize() uint64                { return uint64(len(t.texel)) }
func (t *texture) BytesPerRow() uint64                  { return t.pitch }
func (t *texture) Release()                             { t.texel = nil }

// offset returns the byte offset of texel (x, y, z).
func (t *texture) offset(x, y, z int) int {
	return ((z*t.desc.Height+y)*t.desc.Width + x) * t.desc.Format.BytesPerPixel()
}

func asTexture(tex device.Texture) (*texture, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, fmt.Errorf("soft: %w: foreign texture %T", device.ErrUnsupported, tex)
	}
	if t.texel == nil {
		return nil, device.ErrReleased
	}
	return t, nil
}

type sampler struct {
	desc device.SamplerDescriptor
}

func (s *sampler) Descriptor() device.SamplerDescriptor { return s.desc }
func (s *sampler) Release()                             {}
