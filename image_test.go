package clmtl

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/device"
)

func newImage(t *testing.T, ctx *Context, flags MemFlags, format ImageFormat, desc ImageDesc) *Image {
	t.Helper()
	img, err := NewImage(ctx, flags, format, desc)
	require.NoError(t, err)
	t.Cleanup(img.Release)
	return img
}

func TestImageFormatSizes(t *testing.T) {
	tests := []struct {
		format   ImageFormat
		channels int
		pixel    int
	}{
		{ImageFormat{ChannelR, UnormInt8}, 1, 1},
		{ImageFormat{ChannelA, UnormInt8}, 1, 1},
		{ImageFormat{ChannelR, HalfFloat}, 1, 2},
		{ImageFormat{ChannelRGBA, UnsignedInt16}, 4, 8},
		{ImageFormat{ChannelRGBA, Float}, 4, 16},
		{ImageFormat{ChannelBGRA, UnormInt8}, 4, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.channels, tt.format.ChannelCount(), "%+v", tt.format)
		assert.Equal(t, tt.pixel, tt.format.PixelSize(), "%+v", tt.format)
	}

	formats := SupportedImageFormats()
	assert.Len(t, formats, 26)
	for _, f := range formats {
		_, err := f.pixelFormat()
		assert.NoError(t, err)
	}

	_, err := ImageFormat{ChannelBGRA, Float}.pixelFormat()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestImageUsageFromFlags(t *testing.T) {
	assert.Equal(t, device.TextureUsageShaderWrite, MemWriteOnly.usage())
	assert.Equal(t, device.TextureUsageShaderRead, MemReadOnly.usage())
	assert.Equal(t, device.TextureUsageShaderRead|device.TextureUsageShaderWrite, MemReadWrite.usage())
}

func TestNewImageValidation(t *testing.T) {
	ctx := testContext(t, nil)
	rgba := ImageFormat{ChannelRGBA, UnormInt8}

	_, err := NewImage(ctx, MemReadWrite, rgba, ImageDesc{Type: Image2D, Width: 0, Height: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewImage(ctx, MemReadWrite, rgba, ImageDesc{Type: Image3D, Width: 4, Height: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewImage(ctx, MemReadWrite, ImageFormat{ChannelA, Float}, ImageDesc{Type: Image2D, Width: 4, Height: 4})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	img := newImage(t, ctx, MemReadWrite, rgba, ImageDesc{Type: Image2D, Width: 4, Height: 4, Depth: 9})
	assert.Equal(t, 1, img.Desc().Depth)
	assert.GreaterOrEqual(t, img.Footprint(), uint64(4*4*4))
	assert.GreaterOrEqual(t, img.RowPitch(), uint64(16))

	stats := ctx.MemoryStats()
	assert.Equal(t, int64(1), stats.Images)
	assert.Equal(t, img.Footprint(), stats.ImageBytes)
}

func TestImageRoundTrip(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	img := newImage(t, ctx, MemReadWrite, ImageFormat{ChannelRGBA, UnormInt8}, ImageDesc{Type: Image2D, Width: 5, Height: 3})

	data := make([]byte, 5*3*4)
	for i := range data {
		data[i] = byte(i)
	}
	_, err := q.EnqueueWriteImage(img, false, Size{}, Size{Width: 5, Height: 3}, 0, 0, data)
	require.NoError(t, err)

	out := make([]byte, len(data))
	_, err = q.EnqueueReadImage(img, true, Size{}, Size{Width: 5, Height: 3}, 0, 0, out)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// One 2x2 block at (1, 1) with a padded host row pitch.
	block := make([]byte, 2*12)
	ev, err := q.EnqueueReadImage(img, false, Size{Width: 1, Height: 1}, Size{Width: 2, Height: 2}, 12, 0, block)
	require.NoError(t, err)
	ev.Wait()
	assert.Equal(t, data[(1*5+1)*4:(1*5+3)*4], block[0:8])
	assert.Equal(t, data[(2*5+1)*4:(2*5+3)*4], block[12:20])
}

func TestImageReleaseWithPendingWrite(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	img, err := NewImage(ctx, MemReadWrite, ImageFormat{ChannelRGBA, UnormInt8}, ImageDesc{Type: Image2D, Width: 4, Height: 4})
	require.NoError(t, err)

	ev, err := q.EnqueueWriteImage(img, false, Size{}, Size{Width: 4, Height: 4}, 0, 0, make([]byte, 4*4*4))
	require.NoError(t, err)
	img.Release()
	assert.Equal(t, int64(0), ctx.MemoryStats().Images)

	require.NoError(t, q.Finish())
	assert.Equal(t, EventComplete, ev.Status())
}

func TestImage3DRegion(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	img := newImage(t, ctx, MemReadWrite, ImageFormat{ChannelR, Float}, ImageDesc{Type: Image3D, Width: 4, Height: 4, Depth: 2})

	region := Size{Width: 2, Height: 2, Depth: 2}
	data := bytes.Repeat([]byte{0, 0, 0x80, 0x3f}, 8)
	_, err := q.EnqueueWriteImage(img, false, Size{Width: 1, Height: 1}, region, 0, 0, data)
	require.NoError(t, err)

	full := make([]byte, 4*4*2*4)
	_, err = q.EnqueueReadImage(img, true, Size{}, Size{Width: 4, Height: 4, Depth: 2}, 0, 0, full)
	require.NoError(t, err)
	for z := range 2 {
		for y := range 4 {
			for x := range 4 {
				off := ((z*4+y)*4 + x) * 4
				inside := x >= 1 && x < 3 && y >= 1 && y < 3
				if inside {
					assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, full[off:off+4], "(%d,%d,%d)", x, y, z)
				} else {
					assert.Equal(t, []byte{0, 0, 0, 0}, full[off:off+4], "(%d,%d,%d)", x, y, z)
				}
			}
		}
	}
}

func TestImageRegionValidation(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	img := newImage(t, ctx, MemReadWrite, ImageFormat{ChannelR, UnormInt8}, ImageDesc{Type: Image2D, Width: 4, Height: 4})

	_, err := q.EnqueueWriteImage(img, false, Size{Width: 3}, Size{Width: 2, Height: 1}, 0, 0, make([]byte, 2))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueWriteImage(img, false, Size{}, Size{Width: 4, Height: 4}, 0, 0, make([]byte, 15))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueWriteImage(img, false, Size{}, Size{Width: 4, Height: 1}, 2, 0, make([]byte, 4))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWriteImageFrom(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	img := newImage(t, ctx, MemReadOnly, ImageFormat{ChannelBGRA, UnormInt8}, ImageDesc{Type: Image2D, Width: 2, Height: 2})

	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.Set(1, 1, color.RGBA{R: 40, G: 50, B: 60, A: 255})
	_, err := q.EnqueueWriteImageFrom(img, src)
	require.NoError(t, err)

	out := make([]byte, 2*2*4)
	_, err = q.EnqueueReadImage(img, true, Size{}, Size{Width: 2, Height: 2}, 0, 0, out)
	require.NoError(t, err)
	assert.Equal(t, []byte{30, 20, 10, 255}, out[0:4])
	assert.Equal(t, []byte{60, 50, 40, 255}, out[12:16])

	scaled := image.NewUniform(color.RGBA{R: 1, G: 2, B: 3, A: 4})
	_, err = q.EnqueueWriteImageFrom(img, &boundedImage{scaled, image.Rect(0, 0, 8, 8)})
	require.NoError(t, err)
	_, err = q.EnqueueReadImage(img, true, Size{}, Size{Width: 2, Height: 2}, 0, 0, out)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1, 4}, out[0:4])

	grey := newImage(t, ctx, MemReadOnly, ImageFormat{ChannelR, UnormInt8}, ImageDesc{Type: Image2D, Width: 2, Height: 2})
	_, err = q.EnqueueWriteImageFrom(grey, src)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// boundedImage gives an unbounded image finite bounds.
type boundedImage struct {
	image.Image
	r image.Rectangle
}

func (b *boundedImage) Bounds() image.Rectangle { return b.r }

func TestSamplerMapping(t *testing.T) {
	ctx := testContext(t, nil)
	tests := []struct {
		addressing AddressingMode
		want       device.SamplerAddressMode
	}{
		{AddressNone, device.AddressClampToZero},
		{AddressClamp, device.AddressClampToZero},
		{AddressClampToEdge, device.AddressClampToEdge},
		{AddressRepeat, device.AddressRepeat},
		{AddressMirroredRepeat, device.AddressMirrorRepeat},
	}
	for _, tt := range tests {
		s, err := NewSampler(ctx, true, tt.addressing, FilterLinear)
		require.NoError(t, err)
		desc := s.s.Descriptor()
		assert.Equal(t, tt.want, desc.Address)
		assert.Equal(t, device.FilterLinear, desc.Filter)
		assert.True(t, desc.NormalizedCoords)
		assert.Equal(t, tt.addressing, s.Addressing())
		s.Release()
	}

	_, err := NewSampler(ctx, false, AddressingMode(0x99), FilterNearest)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewSampler(ctx, false, AddressRepeat, FilterMode(0x99))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeviceInfo(t *testing.T) {
	ctx := testContext(t, nil)
	info := ctx.Info()

	assert.Equal(t, "clmtl software device", info.Name)
	assert.Equal(t, 256, info.MaxWorkGroupSize)
	assert.Equal(t, MaxParameterSize, info.MaxParameterSize)
	assert.Equal(t, 32, info.PreferredWorkGroupSizeMultiple)
	assert.True(t, info.ImageSupport)
	assert.Contains(t, info.String(), "clmtl software device")
}
