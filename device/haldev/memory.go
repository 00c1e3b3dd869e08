package haldev

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/clmtl/device"
)

type heap struct {
	dev   *Device
	buf   hal.Buffer
	size  uint64
	opts  device.ResourceOptions
	label string

	// shadow is the host copy of a shared heap. It is authoritative outside
	// of submissions.
	shadow []byte

	released atomic.Bool
}

func (h *heap) Size() uint64                    { return h.size }
func (h *heap) Options() device.ResourceOptions { return h.opts }

func (h *heap) NewBuffer(length, offset uint64) (device.Buffer, error) {
	if h.released.Load() {
		return nil, device.ErrReleased
	}
	if length == 0 || offset > h.size || length > h.size-offset {
		return nil, fmt.Errorf("%w: [%d, %d) in heap of %d bytes",
			device.ErrOutOfBounds, offset, offset+length, h.size)
	}
	return &buffer{heap: h, offset: offset, length: length}, nil
}

// Release destroys the HAL buffer.
func (h *heap) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.dev.dev.DestroyBuffer(h.buf)
	h.shadow = nil
}

func (h *heap) shared() bool { return h.shadow != nil }

type buffer struct {
	heap   *heap
	offset uint64
	length uint64
}

func (b *buffer) Length() uint64    { return b.length }
func (b *buffer) Offset() uint64    { return b.offset }
func (b *buffer) Heap() device.Heap { return b.heap }

// Contents returns the shadow region of a shared heap.
func (b *buffer) Contents() []byte {
	if !b.heap.shared() {
		return nil
	}
	end := b.offset + b.length
	return b.heap.shadow[b.offset:end:end]
}

func asBuffer(buf device.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok {
		return nil, fmt.Errorf("haldev: %w: foreign buffer %T", device.ErrUnsupported, buf)
	}
	if b.heap.released.Load() {
		return nil, device.ErrReleased
	}
	return b, nil
}

// textureFormats maps pixel formats to WebGPU texture formats. Formats
// missing here have no WebGPU equivalent usable for copies.
var textureFormats = map[device.PixelFormat]gputypes.TextureFormat{
	device.R8Unorm:     gputypes.TextureFormatR8Unorm,
	device.R8Snorm:     gputypes.TextureFormatR8Snorm,
	device.R8Uint:      gputypes.TextureFormatR8Uint,
	device.R8Sint:      gputypes.TextureFormatR8Sint,
	device.R32Uint:     gputypes.TextureFormatR32Uint,
	device.R32Sint:     gputypes.TextureFormatR32Sint,
	device.R32Float:    gputypes.TextureFormatR32Float,
	device.RGBA8Unorm:  gputypes.TextureFormatRGBA8Unorm,
	device.RGBA8Snorm:  gputypes.TextureFormatRGBA8Snorm,
	device.RGBA8Uint:   gputypes.TextureFormatRGBA8Uint,
	device.RGBA8Sint:   gputypes.TextureFormatRGBA8Sint,
	device.RGBA16Float: gputypes.TextureFormatRGBA16Float,
	device.RGBA32Uint:  gputypes.TextureFormatRGBA32Uint,
	device.RGBA32Sint:  gputypes.TextureFormatRGBA32Sint,
	device.RGBA32Float: gputypes.TextureFormatRGBA32Float,
	device.BGRA8Unorm:  gputypes.TextureFormatBGRA8Unorm,
}

type texture struct {
	dev   *Device
	tex   hal.Texture
	desc  device.TextureDescriptor
	pitch uint64

	released atomic.Bool
}

// NewTexture creates a HAL texture. Rows are padded to the 256-byte copy
// alignment, so AllocatedSize is pitch*height*depth.
func (d *Device) NewTexture(desc device.TextureDescriptor) (device.Texture, error) {
	format, ok := textureFormats[desc.Format]
	if !ok {
		return nil, fmt.Errorf("haldev: %w: pixel format %s", device.ErrUnsupported, desc.Format)
	}
	size := desc.Size()
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("haldev: invalid texture size %dx%d", size.Width, size.Height)
	}
	if desc.Type == device.Texture2D {
		size.Depth = 1
	}
	desc.Depth = size.Depth

	dim := gputypes.TextureDimension2D
	if desc.Type == device.Texture3D {
		dim = gputypes.TextureDimension3D
	}
	if desc.Label == "" {
		desc.Label = d.label("texture")
	}
	tex, err := d.dev.CreateTexture(&hal.TextureDescriptor{
		Label: desc.Label,
		Size: hal.Extent3D{
			Width:              uint32(size.Width),
			Height:             uint32(size.Height),
			DepthOrArrayLayers: uint32(size.Depth),
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     dim,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("haldev: create texture: %w", err)
	}
	pitch := align(uint64(size.Width*desc.Format.BytesPerPixel()), rowAlignment)
	return &texture{dev: d, tex: tex, desc: desc, pitch: pitch}, nil
}

func (t *texture) Descriptor() device.TextureDescriptor { return t.desc }
func (t *texture) BytesPerRow() uint64                  { return t.pitch }

func (t *texture) AllocatedSize() uint64 {
	return t.pitch * uint64(t.desc.Height) * uint64(t.desc.Depth)
}

func (t *texture) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.dev.dev.DestroyTexture(t.tex)
	}
}

func asTexture(tex device.Texture) (*texture, error) {
	t, ok := tex.(*texture)
	if !ok {
		return nil, fmt.Errorf("haldev: %w: foreign texture %T", device.ErrUnsupported, tex)
	}
	if t.released.Load() {
		return nil, device.ErrReleased
	}
	return t, nil
}

type sampler struct {
	dev  *Device
	s    hal.Sampler
	desc device.SamplerDescriptor
}

// NewSampler creates a HAL sampler. WebGPU has no clamp-to-zero address
// mode; it maps to clamp-to-edge.
func (d *Device) NewSampler(desc device.SamplerDescriptor) (device.Sampler, error) {
	var mode gputypes.AddressMode
	switch desc.Address {
	case device.AddressRepeat:
		mode = gputypes.AddressModeRepeat
	case device.AddressMirrorRepeat:
		mode = gputypes.AddressModeMirrorRepeat
	default:
		mode = gputypes.AddressModeClampToEdge
	}
	filter := gputypes.FilterModeNearest
	if desc.Filter == device.FilterLinear {
		filter = gputypes.FilterModeLinear
	}
	s, err := d.dev.CreateSampler(&hal.SamplerDescriptor{
		Label:        d.label("sampler"),
		AddressModeU: mode,
		AddressModeV: mode,
		AddressModeW: mode,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return nil, fmt.Errorf("haldev: create sampler: %w", err)
	}
	return &sampler{dev: d, s: s, desc: desc}, nil
}

func (s *sampler) Descriptor() device.SamplerDescriptor { return s.desc }
func (s *sampler) Release()                             { s.dev.dev.DestroySampler(s.s) }
