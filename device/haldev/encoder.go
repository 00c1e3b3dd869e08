package haldev

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/clmtl/device"
)

type bufferBinding struct {
	buf    *buffer
	offset uint64
}

// bindings is the argument state captured by a dispatch.
type bindings struct {
	buffers  map[int]bufferBinding
	bytes    map[int][]byte
	textures map[int]*texture
	samplers map[int]*sampler
	local    map[int]int
}

func newBindings() *bindings {
	return &bindings{
		buffers:  make(map[int]bufferBinding),
		bytes:    make(map[int][]byte),
		textures: make(map[int]*texture),
		samplers: make(map[int]*sampler),
		local:    make(map[int]int),
	}
}

func (b *bindings) clone() *bindings {
	return &bindings{
		buffers:  maps.Clone(b.buffers),
		bytes:    maps.Clone(b.bytes),
		textures: maps.Clone(b.textures),
		samplers: maps.Clone(b.samplers),
		local:    maps.Clone(b.local),
	}
}

// indices returns the sorted buffer and inline-data binding indices.
func (b *bindings) indices() []int {
	idx := slices.Collect(maps.Keys(b.buffers))
	for i := range b.bytes {
		if _, ok := b.buffers[i]; !ok {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)
	return idx
}

type computeEncoder struct {
	cb       *commandBuffer
	pipeline *pipeline
	args     *bindings
	err      error
}

func (e *computeEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *computeEncoder) SetPipeline(p device.Pipeline) {
	hp, ok := p.(*pipeline)
	if !ok {
		e.fail(fmt.Errorf("haldev: %w: foreign pipeline %T", device.ErrUnsupported, p))
		return
	}
	e.pipeline = hp
}

func (e *computeEncoder) SetBuffer(buf device.Buffer, offset uint64, index int) {
	b, err := asBuffer(buf)
	if err != nil {
		e.fail(err)
		return
	}
	delete(e.args.bytes, index)
	e.args.buffers[index] = bufferBinding{buf: b, offset: offset}
}

func (e *computeEncoder) SetBytes(data []byte, index int) {
	delete(e.args.buffers, index)
	e.args.bytes[index] = slices.Clone(data)
}

func (e *computeEncoder) SetTexture(tex device.Texture, index int) {
	t, err := asTexture(tex)
	if err != nil {
		e.fail(err)
		return
	}
	e.args.textures[index] = t
}

func (e *computeEncoder) SetSampler(s device.Sampler, index int) {
	hs, ok := s.(*sampler)
	if !ok {
		e.fail(fmt.Errorf("haldev: %w: foreign sampler %T", device.ErrUnsupported, s))
		return
	}
	e.args.samplers[index] = hs
}

func (e *computeEncoder) SetThreadgroupMemoryLength(length, index int) {
	e.args.local[index] = length
}

func (e *computeEncoder) DispatchThreads(grid, group device.Size) {
	p, args, bindErr := e.pipeline, e.args.clone(), e.err
	e.cb.record(op{encode: func(s *segment) error {
		if bindErr != nil {
			return bindErr
		}
		if p == nil {
			return fmt.Errorf("haldev: dispatch without pipeline")
		}
		return s.dispatch(p, args, grid, group)
	}})
}

func (e *computeEncoder) End() {}

func (s *segment) dispatch(p *pipeline, args *bindings, grid, group device.Size) error {
	d := s.dev
	if len(args.textures) > 0 || len(args.samplers) > 0 {
		return fmt.Errorf("haldev: %w: images and samplers in kernel %q", device.ErrUnsupported, p.fn.name)
	}
	if group.Width <= 0 || group.Height <= 0 || group.Depth <= 0 {
		return fmt.Errorf("haldev: invalid work-group size %+v", group)
	}
	if group.Volume() > d.limits.MaxTotalThreadsPerThreadgroup {
		return fmt.Errorf("haldev: work-group size %d exceeds %d", group.Volume(), d.limits.MaxTotalThreadsPerThreadgroup)
	}
	if len(args.local) > 0 {
		d.log().Warn("haldev: threadgroup memory lengths are not applied", "kernel", p.fn.name)
	}
	if grid.Volume() <= 0 {
		return nil
	}

	indices := args.indices()
	v, err := p.variant(indices)
	if err != nil {
		return err
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(indices))
	for _, idx := range indices {
		if bb, ok := args.buffers[idx]; ok {
			b := bb.buf
			if bb.offset >= b.length {
				return fmt.Errorf("haldev: %w: bind offset %d in buffer of %d bytes", device.ErrOutOfBounds, bb.offset, b.length)
			}
			off := b.offset + bb.offset
			if off%d.limits.MinBufferOffsetAlignment != 0 {
				return fmt.Errorf("haldev: %w: storage offset %d not aligned to %d",
					device.ErrUnsupported, off, d.limits.MinBufferOffsetAlignment)
			}
			s.touch(b.heap)
			entries = append(entries, gputypes.BindGroupEntry{
				Binding: uint32(idx),
				Resource: gputypes.BufferBinding{
					Buffer: b.heap.buf.NativeHandle(),
					Offset: off,
					Size:   b.length - bb.offset,
				},
			})
			continue
		}
		data := args.bytes[idx]
		size := align(uint64(max(len(data), 4)), 4)
		tmp, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: d.label("bytes"),
			Size:  size,
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("haldev: create inline data buffer: %w", err)
		}
		s.temp.buffers = append(s.temp.buffers, tmp)
		padded := make([]byte, size)
		copy(padded, data)
		d.queue.WriteBuffer(tmp, 0, padded)
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(idx),
			Resource: gputypes.BufferBinding{Buffer: tmp.NativeHandle(), Offset: 0, Size: size},
		})
	}

	bg, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   d.label("bind_group"),
		Layout:  v.BindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("haldev: create bind group: %w", err)
	}
	s.temp.bindGroups = append(s.temp.bindGroups, bg)

	groups := device.Size{
		Width:  ceilDiv(grid.Width, group.Width),
		Height: ceilDiv(grid.Height, group.Height),
		Depth:  ceilDiv(grid.Depth, group.Depth),
	}
	pass := s.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: p.fn.name})
	pass.SetPipeline(v.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(uint32(groups.Width), uint32(groups.Height), uint32(groups.Depth))
	pass.End()
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

type blitEncoder struct {
	cb *commandBuffer
}

// CopyBuffer encodes a device copy. WebGPU requires offsets and size to be
// multiples of 4.
func (e *blitEncoder) CopyBuffer(src device.Buffer, srcOffset uint64, dst device.Buffer, dstOffset, size uint64) {
	e.cb.record(op{encode: func(s *segment) error {
		sb, err := asBuffer(src)
		if err != nil {
			return err
		}
		db, err := asBuffer(dst)
		if err != nil {
			return err
		}
		if srcOffset+size > sb.length || dstOffset+size > db.length {
			return fmt.Errorf("haldev: %w: copy of %d bytes", device.ErrOutOfBounds, size)
		}
		from, to := sb.offset+srcOffset, db.offset+dstOffset
		if from%4 != 0 || to%4 != 0 || size%4 != 0 {
			return fmt.Errorf("haldev: %w: unaligned copy src=%d dst=%d size=%d", device.ErrUnsupported, from, to, size)
		}
		s.touch(sb.heap)
		s.touch(db.heap)
		s.encoder.CopyBufferToBuffer(sb.heap.buf, db.heap.buf, []hal.BufferCopy{{
			SrcOffset: from, DstOffset: to, Size: size,
		}})
		return nil
	}})
}

// FillBuffer runs on the host between submissions: shared heaps are filled
// in the shadow, private heaps through a queue write.
func (e *blitEncoder) FillBuffer(dst device.Buffer, offset, size uint64, value byte) {
	d := e.cb.queue.dev
	e.cb.record(op{host: func() error {
		db, err := asBuffer(dst)
		if err != nil {
			return err
		}
		if offset+size > db.length {
			return fmt.Errorf("haldev: %w: fill of %d bytes", device.ErrOutOfBounds, size)
		}
		if db.heap.shared() {
			region := db.Contents()[offset : offset+size]
			for i := range region {
				region[i] = value
			}
			return nil
		}
		at := db.offset + offset
		if at%4 != 0 || size%4 != 0 {
			return fmt.Errorf("haldev: %w: unaligned fill at %d size %d", device.ErrUnsupported, at, size)
		}
		data := make([]byte, size)
		for i := range data {
			data[i] = value
		}
		d.submitMu.Lock()
		d.queue.WriteBuffer(db.heap.buf, at, data)
		d.submitMu.Unlock()
		return nil
	}})
}

func (e *blitEncoder) CopyBufferToTexture(src device.Buffer, srcOffset, bytesPerRow, bytesPerImage uint64, dst device.Texture, origin, size device.Size) {
	e.cb.record(op{encode: func(s *segment) error {
		sb, err := asBuffer(src)
		if err != nil {
			return err
		}
		t, err := asTexture(dst)
		if err != nil {
			return err
		}
		region, err := textureRegion(t, sb, srcOffset, bytesPerRow, bytesPerImage, origin, size)
		if err != nil {
			return err
		}
		s.touch(sb.heap)
		s.encoder.CopyBufferToTexture(sb.heap.buf, t.tex, []hal.BufferTextureCopy{region})
		return nil
	}})
}

func (e *blitEncoder) CopyTextureToBuffer(src device.Texture, origin, size device.Size, dst device.Buffer, dstOffset, bytesPerRow, bytesPerImage uint64) {
	e.cb.record(op{encode: func(s *segment) error {
		t, err := asTexture(src)
		if err != nil {
			return err
		}
		db, err := asBuffer(dst)
		if err != nil {
			return err
		}
		region, err := textureRegion(t, db, dstOffset, bytesPerRow, bytesPerImage, origin, size)
		if err != nil {
			return err
		}
		s.touch(db.heap)
		s.encoder.CopyTextureToBuffer(t.tex, db.heap.buf, []hal.BufferTextureCopy{region})
		return nil
	}})
}

func (e *blitEncoder) End() {}

// textureRegion validates a buffer/texture copy and builds its HAL region.
func textureRegion(t *texture, b *buffer, offset, bytesPerRow, bytesPerImage uint64, origin, size device.Size) (hal.BufferTextureCopy, error) {
	desc := t.desc
	if origin.Width+size.Width > desc.Width || origin.Height+size.Height > desc.Height ||
		origin.Depth+size.Depth > desc.Depth {
		return hal.BufferTextureCopy{}, fmt.Errorf("haldev: %w: region %+v at %+v in %dx%dx%d texture",
			device.ErrOutOfBounds, size, origin, desc.Width, desc.Height, desc.Depth)
	}
	if size.Volume() <= 0 {
		return hal.BufferTextureCopy{}, fmt.Errorf("haldev: empty texture region %+v", size)
	}
	if bytesPerRow == 0 || bytesPerRow%rowAlignment != 0 {
		return hal.BufferTextureCopy{}, fmt.Errorf("haldev: %w: row pitch %d not a multiple of %d",
			device.ErrUnsupported, bytesPerRow, rowAlignment)
	}
	if bytesPerImage == 0 {
		bytesPerImage = bytesPerRow * uint64(size.Height)
	}
	end := offset + uint64(size.Depth-1)*bytesPerImage + uint64(size.Height-1)*bytesPerRow +
		uint64(size.Width*desc.Format.BytesPerPixel())
	if end > b.length {
		return hal.BufferTextureCopy{}, fmt.Errorf("haldev: %w: texture copy needs %d bytes, buffer has %d",
			device.ErrOutOfBounds, end, b.length)
	}
	return hal.BufferTextureCopy{
		BufferLayout: hal.ImageDataLayout{
			Offset:       b.offset + offset,
			BytesPerRow:  uint32(bytesPerRow),
			RowsPerImage: uint32(bytesPerImage / bytesPerRow),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(origin.Width), Y: uint32(origin.Height), Z: uint32(origin.Depth)},
		},
		Size: hal.Extent3D{
			Width:              uint32(size.Width),
			Height:             uint32(size.Height),
			DepthOrArrayLayers: uint32(size.Depth),
		},
	}, nil
}
