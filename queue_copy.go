package clmtl

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/clmtl/device"
)

// stagingRowAlignment is the row pitch of image staging buffers. It
// satisfies the copy pitch rules of every backend.
const stagingRowAlignment = 256

func checkRange(what string, offset, size, limit uint64) error {
	if size == 0 || offset > limit || size > limit-offset {
		return fmt.Errorf("%w: %s [%d, %d) outside %d bytes", ErrInvalidArgument, what, offset, offset+size, limit)
	}
	return nil
}

// completed returns an event already in the complete state.
func (q *CommandQueue) completed() *Event {
	ev := newEvent(q.ctx, nil, false)
	ev.setStatus(EventComplete)
	return ev
}

// EnqueueWriteBuffer copies data into buf at offset. The data is copied
// before EnqueueWriteBuffer returns, so the caller may reuse it. A
// blocking write returns after the copy reached the buffer.
func (q *CommandQueue) EnqueueWriteBuffer(buf *Buffer, blocking bool, offset uint64, data []byte, waitList ...*Event) (*Event, error) {
	if err := buf.checkLive(); err != nil {
		return nil, err
	}
	size := uint64(len(data))
	if err := checkRange("write", offset, size, buf.Size()); err != nil {
		return nil, err
	}

	if blocking && buf.hostVisible() {
		WaitForEvents(waitList...)
		if err := q.Finish(); err != nil {
			return nil, err
		}
		copy(buf.buf.Contents()[offset:], data)
		return q.completed(), nil
	}

	stg, err := q.newStaging(size)
	if err != nil {
		return nil, err
	}
	copy(stg.buf.Contents(), data)
	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyBuffer(stg.buf, 0, buf.buf, offset, size)
		blit.End()
		hold(cb, buf.alloc)
		stg.releaseOnCompletion(cb, nil)
	})
	if err != nil {
		stg.heap.Release()
		return nil, err
	}
	if blocking {
		return ev, q.Finish()
	}
	return ev, nil
}

// EnqueueReadBuffer copies buf at offset into dst. A non-blocking read
// fills dst on the device goroutine after the command completed; dst must
// not be touched before the returned event completes.
func (q *CommandQueue) EnqueueReadBuffer(buf *Buffer, blocking bool, offset uint64, dst []byte, waitList ...*Event) (*Event, error) {
	if err := buf.checkLive(); err != nil {
		return nil, err
	}
	size := uint64(len(dst))
	if err := checkRange("read", offset, size, buf.Size()); err != nil {
		return nil, err
	}

	if blocking && buf.hostVisible() {
		WaitForEvents(waitList...)
		if err := q.Finish(); err != nil {
			return nil, err
		}
		copy(dst, buf.buf.Contents()[offset:])
		return q.completed(), nil
	}

	stg, err := q.newStaging(size)
	if err != nil {
		return nil, err
	}
	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyBuffer(buf.buf, offset, stg.buf, 0, size)
		blit.End()
		hold(cb, buf.alloc)
		stg.releaseOnCompletion(cb, func(contents []byte) {
			copy(dst, contents)
		})
	})
	if err != nil {
		stg.heap.Release()
		return nil, err
	}
	if blocking {
		return ev, q.Finish()
	}
	return ev, nil
}

// EnqueueCopyBuffer copies size bytes between buffers. Overlapping
// regions of one heap are rejected.
func (q *CommandQueue) EnqueueCopyBuffer(src, dst *Buffer, srcOffset, dstOffset, size uint64, waitList ...*Event) (*Event, error) {
	if err := src.checkLive(); err != nil {
		return nil, err
	}
	if err := dst.checkLive(); err != nil {
		return nil, err
	}
	if err := checkRange("copy source", srcOffset, size, src.Size()); err != nil {
		return nil, err
	}
	if err := checkRange("copy destination", dstOffset, size, dst.Size()); err != nil {
		return nil, err
	}
	if src.heap == dst.heap {
		s := src.buf.Offset() + srcOffset
		d := dst.buf.Offset() + dstOffset
		if s < d+size && d < s+size {
			return nil, fmt.Errorf("%w: overlapping copy regions", ErrInvalidArgument)
		}
	}
	return q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyBuffer(src.buf, srcOffset, dst.buf, dstOffset, size)
		blit.End()
		hold(cb, src.alloc, dst.alloc)
	})
}

// EnqueueFillBuffer repeats pattern over size bytes of buf at offset.
// The pattern length must be a power of two up to 128, and offset and size
// multiples of it.
func (q *CommandQueue) EnqueueFillBuffer(buf *Buffer, pattern []byte, offset, size uint64, waitList ...*Event) (*Event, error) {
	if err := buf.checkLive(); err != nil {
		return nil, err
	}
	n := uint64(len(pattern))
	if n == 0 || n > 128 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: fill pattern of %d bytes", ErrInvalidArgument, n)
	}
	if offset%n != 0 || size%n != 0 {
		return nil, fmt.Errorf("%w: fill region not aligned to the %d byte pattern", ErrInvalidArgument, n)
	}
	if err := checkRange("fill", offset, size, buf.Size()); err != nil {
		return nil, err
	}

	if value, ok := uniform(pattern); ok {
		return q.record(waitList, true, func(cb device.CommandBuffer) {
			blit := cb.BlitEncoder()
			blit.FillBuffer(buf.buf, offset, size, value)
			blit.End()
			hold(cb, buf.alloc)
		})
	}

	stg, err := q.newStaging(size)
	if err != nil {
		return nil, err
	}
	contents := stg.buf.Contents()
	for i := uint64(0); i < size; i += n {
		copy(contents[i:], pattern)
	}
	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyBuffer(stg.buf, 0, buf.buf, offset, size)
		blit.End()
		hold(cb, buf.alloc)
		stg.releaseOnCompletion(cb, nil)
	})
	if err != nil {
		stg.heap.Release()
		return nil, err
	}
	return ev, nil
}

func uniform(pattern []byte) (byte, bool) {
	for _, b := range pattern[1:] {
		if b != pattern[0] {
			return 0, false
		}
	}
	return pattern[0], true
}

// imageRegion validates a region of img and the host layout of its data.
// Zero pitches mean tightly packed rows and slices.
func imageRegion(img *Image, origin, region Size, rowPitch, slicePitch uint64, dataLen int) (rowBytes, rp, sp uint64, err error) {
	ext := img.extent()
	region.Depth = max(region.Depth, 1)
	if region.Width <= 0 || region.Height <= 0 ||
		origin.Width < 0 || origin.Height < 0 || origin.Depth < 0 ||
		origin.Width+region.Width > ext.Width ||
		origin.Height+region.Height > ext.Height ||
		origin.Depth+region.Depth > ext.Depth {
		return 0, 0, 0, fmt.Errorf("%w: image region %v at %v outside %v", ErrInvalidArgument, region, origin, ext)
	}
	rowBytes = uint64(region.Width * img.format.PixelSize())
	rp, sp = rowPitch, slicePitch
	if rp == 0 {
		rp = rowBytes
	}
	if sp == 0 {
		sp = rp * uint64(region.Height)
	}
	if rp < rowBytes || sp < rp*uint64(region.Height) {
		return 0, 0, 0, fmt.Errorf("%w: image pitches %d/%d too small", ErrInvalidArgument, rp, sp)
	}
	need := sp*uint64(region.Depth-1) + rp*uint64(region.Height-1) + rowBytes
	if uint64(dataLen) < need {
		return 0, 0, 0, fmt.Errorf("%w: image data of %d bytes, need %d", ErrInvalidArgument, dataLen, need)
	}
	return rowBytes, rp, sp, nil
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}

// forRows calls fn with the host and staging offsets of every row.
func forRows(region Size, rp, sp, stagePitch, stageSlice uint64, fn func(host, stage uint64)) {
	for z := 0; z < max(region.Depth, 1); z++ {
		for y := 0; y < region.Height; y++ {
			fn(uint64(z)*sp+uint64(y)*rp, uint64(z)*stageSlice+uint64(y)*stagePitch)
		}
	}
}

// EnqueueWriteImage copies data into a region of img. Rows are repacked
// into a staging buffer with a 256-byte aligned pitch.
func (q *CommandQueue) EnqueueWriteImage(img *Image, blocking bool, origin, region Size, rowPitch, slicePitch uint64, data []byte, waitList ...*Event) (*Event, error) {
	if err := img.checkLive(); err != nil {
		return nil, err
	}
	region.Depth = max(region.Depth, 1)
	rowBytes, rp, sp, err := imageRegion(img, origin, region, rowPitch, slicePitch, len(data))
	if err != nil {
		return nil, err
	}

	stagePitch := alignUp(rowBytes, stagingRowAlignment)
	stageSlice := stagePitch * uint64(region.Height)
	stg, err := q.newStaging(stageSlice * uint64(region.Depth))
	if err != nil {
		return nil, err
	}
	contents := stg.buf.Contents()
	forRows(region, rp, sp, stagePitch, stageSlice, func(host, stage uint64) {
		copy(contents[stage:stage+rowBytes], data[host:host+rowBytes])
	})

	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyBufferToTexture(stg.buf, 0, stagePitch, stageSlice, img.tex, origin, region)
		blit.End()
		hold(cb, img.alloc)
		stg.releaseOnCompletion(cb, nil)
	})
	if err != nil {
		stg.heap.Release()
		return nil, err
	}
	if blocking {
		return ev, q.Finish()
	}
	return ev, nil
}

// EnqueueReadImage copies a region of img into dst. A non-blocking read
// fills dst on the device goroutine after the command completed.
func (q *CommandQueue) EnqueueReadImage(img *Image, blocking bool, origin, region Size, rowPitch, slicePitch uint64, dst []byte, waitList ...*Event) (*Event, error) {
	if err := img.checkLive(); err != nil {
		return nil, err
	}
	region.Depth = max(region.Depth, 1)
	rowBytes, rp, sp, err := imageRegion(img, origin, region, rowPitch, slicePitch, len(dst))
	if err != nil {
		return nil, err
	}

	stagePitch := alignUp(rowBytes, stagingRowAlignment)
	stageSlice := stagePitch * uint64(region.Height)
	stg, err := q.newStaging(stageSlice * uint64(region.Depth))
	if err != nil {
		return nil, err
	}
	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		blit := cb.BlitEncoder()
		blit.CopyTextureToBuffer(img.tex, origin, region, stg.buf, 0, stagePitch, stageSlice)
		blit.End()
		hold(cb, img.alloc)
		stg.releaseOnCompletion(cb, func(contents []byte) {
			forRows(region, rp, sp, stagePitch, stageSlice, func(host, stage uint64) {
				copy(dst[host:host+rowBytes], contents[stage:stage+rowBytes])
			})
		})
	})
	if err != nil {
		stg.heap.Release()
		return nil, err
	}
	if blocking {
		return ev, q.Finish()
	}
	return ev, nil
}

// EnqueueWriteImageFrom uploads a Go image into a 2D RGBA or BGRA
// UnormInt8 image, scaling it bilinearly when the sizes differ.
func (q *CommandQueue) EnqueueWriteImageFrom(img *Image, src image.Image, waitList ...*Event) (*Event, error) {
	f := img.format
	if f.Type != UnormInt8 || (f.Order != ChannelRGBA && f.Order != ChannelBGRA) || img.desc.Type != Image2D {
		return nil, fmt.Errorf("%w: WriteFrom needs a 2D RGBA or BGRA UnormInt8 image", ErrInvalidArgument)
	}

	w, h := img.desc.Width, img.desc.Height
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Copy(rgba, image.Point{}, src, sb, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), src, sb, draw.Src, nil)
	}
	if f.Order == ChannelBGRA {
		for i := 0; i+3 < len(rgba.Pix); i += 4 {
			rgba.Pix[i], rgba.Pix[i+2] = rgba.Pix[i+2], rgba.Pix[i]
		}
	}
	return q.EnqueueWriteImage(img, false, Size{}, Size{Width: w, Height: h, Depth: 1},
		uint64(rgba.Stride), 0, rgba.Pix, waitList...)
}
