package soft

import (
	"fmt"
	"maps"
	"slices"

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

type computeEncoder struct {
	cb       *commandBuffer
	pipeline *pipeline
	args     *bindings
	// err holds the first binding error; it surfaces at dispatch.
	err error
}

func (e *computeEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *computeEncoder) SetPipeline(p device.Pipeline) {
	sp, ok := p.(*pipeline)
	if !ok {
		e.fail(fmt.Errorf("soft: %w: foreign pipeline %T", device.ErrUnsupported, p))
		return
	}
	e.pipeline = sp
}

func (e *computeEncoder) SetBuffer(buf device.Buffer, offset uint64, index int) {
	b, err := asBuffer(buf)
	if err != nil {
		e.fail(err)
		return
	}
	e.args.buffers[index] = bufferBinding{buf: b, offset: offset}
}

func (e *computeEncoder) SetBytes(data []byte, index int) {
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
	ss, ok := s.(*sampler)
	if !ok {
		e.fail(fmt.Errorf("soft: %w: foreign sampler %T", device.ErrUnsupported, s))
		return
	}
	e.args.samplers[index] = ss
}

func (e *computeEncoder) SetThreadgroupMemoryLength(length, index int) {
	e.args.local[index] = length
}

func (e *computeEncoder) DispatchThreads(grid, group device.Size) {
	p, args, bindErr := e.pipeline, e.args.clone(), e.err
	dev := e.cb.queue.dev
	e.cb.record(func() error {
		if bindErr != nil {
			return bindErr
		}
		if p == nil {
			return fmt.Errorf("soft: dispatch without pipeline")
		}
		return dev.dispatch(p, args, grid, group)
	})
}

func (e *computeEncoder) End() {}

// dispatch runs grid threads in groups of group threads. Threads of a
// partial edge group that fall outside the grid are skipped.
func (d *Device) dispatch(p *pipeline, args *bindings, grid, group device.Size) error {
	if group.Width <= 0 || group.Height <= 0 || group.Depth <= 0 {
		return fmt.Errorf("soft: invalid work-group size %+v", group)
	}
	if group.Volume() > p.maxTotal {
		return fmt.Errorf("soft: work-group size %d exceeds %d", group.Volume(), p.maxTotal)
	}
	if grid.Volume() <= 0 {
		return nil
	}

	groups := device.Size{
		Width:  ceilDiv(grid.Width, group.Width),
		Height: ceilDiv(grid.Height, group.Height),
		Depth:  ceilDiv(grid.Depth, group.Depth),
	}
	d.log().Debug("soft: dispatch", "kernel", p.fn.name, "grid", grid, "group", group, "groups", groups.Volume())

	d.pool.Range(groups.Volume(), func(g int) {
		gid := device.Size{
			Width:  g % groups.Width,
			Height: g / groups.Width % groups.Height,
			Depth:  g / (groups.Width * groups.Height),
		}
		local := make(map[int][]byte, len(args.local))
		for idx, n := range args.local {
			local[idx] = make([]byte, n)
		}
		t := Thread{
			GroupID:   gid,
			GridSize:  grid,
			GroupSize: group,
			args:      args,
			local:     local,
			consts:    p.fn.constants,
		}
		for z := range group.Depth {
			for y := range group.Height {
				for x := range group.Width {
					t.LocalID = device.Size{Width: x, Height: y, Depth: z}
					t.GlobalID = device.Size{
						Width:  gid.Width*group.Width + x,
						Height: gid.Height*group.Height + y,
						Depth:  gid.Depth*group.Depth + z,
					}
					if t.GlobalID.Width >= grid.Width || t.GlobalID.Height >= grid.Height || t.GlobalID.Depth >= grid.Depth {
						continue
					}
					p.body(&t)
				}
			}
		}
	})
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

type blitEncoder struct {
	cb *commandBuffer
}

func (e *blitEncoder) CopyBuffer(src device.Buffer, srcOffset uint64, dst device.Buffer, dstOffset, size uint64) {
	e.cb.record(func() error {
		s, err := asBuffer(src)
		if err != nil {
			return err
		}
		d, err := asBuffer(dst)
		if err != nil {
			return err
		}
		if srcOffset+size > s.length || dstOffset+size > d.length {
			return fmt.Errorf("soft: %w: copy of %d bytes", device.ErrOutOfBounds, size)
		}
		copy(d.bytes()[dstOffset:dstOffset+size], s.bytes()[srcOffset:srcOffset+size])
		return nil
	})
}

func (e *blitEncoder) FillBuffer(dst device.Buffer, offset, size uint64, value byte) {
	e.cb.record(func() error {
		d, err := asBuffer(dst)
		if err != nil {
			return err
		}
		if offset+size > d.length {
			return fmt.Errorf("soft: %w: fill of %d bytes", device.ErrOutOfBounds, size)
		}
		region := d.bytes()[offset : offset+size]
		for i := range region {
			region[i] = value
		}
		return nil
	})
}

func (e *blitEncoder) CopyBufferToTexture(src device.Buffer, srcOffset, bytesPerRow, bytesPerImage uint64, dst device.Texture, origin, size device.Size) {
	e.cb.record(func() error {
		s, err := asBuffer(src)
		if err != nil {
			return err
		}
		t, err := asTexture(dst)
		if err != nil {
			return err
		}
		return copyRows(size, t, origin, func(row []byte, y, z int) error {
			off := srcOffset + uint64(z)*bytesPerImage + uint64(y)*bytesPerRow
			if off+uint64(len(row)) > s.length {
				return fmt.Errorf("soft: %w: texture upload row %d", device.ErrOutOfBounds, y)
			}
			copy(row, s.bytes()[off:])
			return nil
		})
	})
}

func (e *blitEncoder) CopyTextureToBuffer(src device.Texture, origin, size device.Size, dst device.Buffer, dstOffset, bytesPerRow, bytesPerImage uint64) {
	e.cb.record(func() error {
		t, err := asTexture(src)
		if err != nil {
			return err
		}
		d, err := asBuffer(dst)
		if err != nil {
			return err
		}
		return copyRows(size, t, origin, func(row []byte, y, z int) error {
			off := dstOffset + uint64(z)*bytesPerImage + uint64(y)*bytesPerRow
			if off+uint64(len(row)) > d.length {
				return fmt.Errorf("soft: %w: texture readback row %d", device.ErrOutOfBounds, y)
			}
			copy(d.bytes()[off:], row)
			return nil
		})
	})
}

func (e *blitEncoder) End() {}

// copyRows calls fn with each texture row of the region.
func copyRows(size device.Size, t *texture, origin device.Size, fn func(row []byte, y, z int) error) error {
	desc := t.desc
	if origin.Width+size.Width > desc.Width || origin.Height+size.Height > desc.Height ||
		origin.Depth+size.Depth > desc.Depth {
		return fmt.Errorf("soft: %w: region %+v at %+v in %dx%dx%d texture",
			device.ErrOutOfBounds, size, origin, desc.Width, desc.Height, desc.Depth)
	}
	rowBytes := size.Width * desc.Format.BytesPerPixel()
	for z := range size.Depth {
		for y := range size.Height {
			off := t.offset(origin.Width, origin.Height+y, origin.Depth+z)
			if err := fn(t.texel[off:off+rowBytes], y, z); err != nil {
				return err
			}
		}
	}
	return nil
}
