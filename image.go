package clmtl

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/clmtl/device"
)

// ChannelOrder is the channel layout of an image format. Values match
// the OpenCL CL_* channel orders.
type ChannelOrder uint32

// Supported channel orders.
const (
	ChannelR    ChannelOrder = 0x10B0
	ChannelA    ChannelOrder = 0x10B1
	ChannelRGBA ChannelOrder = 0x10B5
	ChannelBGRA ChannelOrder = 0x10B6
)

// ChannelType is the per-channel data type of an image format. Values
// match the OpenCL CL_* channel data types.
type ChannelType uint32

// Supported channel types.
const (
	SnormInt8     ChannelType = 0x10D0
	SnormInt16    ChannelType = 0x10D1
	UnormInt8     ChannelType = 0x10D2
	UnormInt16    ChannelType = 0x10D3
	SignedInt8    ChannelType = 0x10D7
	SignedInt16   ChannelType = 0x10D8
	SignedInt32   ChannelType = 0x10D9
	UnsignedInt8  ChannelType = 0x10DA
	UnsignedInt16 ChannelType = 0x10DB
	UnsignedInt32 ChannelType = 0x10DC
	HalfFloat     ChannelType = 0x10DD
	Float         ChannelType = 0x10DE
)

// ImageFormat pairs a channel order with a channel type.
type ImageFormat struct {
	Order ChannelOrder
	Type  ChannelType
}

// ChannelCount returns the number of channels, or 0 for an unknown order.
func (f ImageFormat) ChannelCount() int {
	switch f.Order {
	case ChannelR, ChannelA:
		return 1
	case ChannelRGBA, ChannelBGRA:
		return 4
	default:
		return 0
	}
}

// ChannelSize returns the bytes per channel, or 0 for an unknown type.
func (f ImageFormat) ChannelSize() int {
	switch f.Type {
	case SnormInt8, UnormInt8, SignedInt8, UnsignedInt8:
		return 1
	case SnormInt16, UnormInt16, SignedInt16, UnsignedInt16, HalfFloat:
		return 2
	case SignedInt32, UnsignedInt32, Float:
		return 4
	default:
		return 0
	}
}

// PixelSize returns the bytes per pixel.
func (f ImageFormat) PixelSize() int {
	return f.ChannelCount() * f.ChannelSize()
}

type formatKey struct {
	order ChannelOrder
	typ   ChannelType
}

var pixelFormats = map[formatKey]device.PixelFormat{
	{ChannelR, SnormInt8}:     device.R8Snorm,
	{ChannelR, UnormInt8}:     device.R8Unorm,
	{ChannelR, SignedInt8}:    device.R8Sint,
	{ChannelR, UnsignedInt8}:  device.R8Uint,
	{ChannelR, SnormInt16}:    device.R16Snorm,
	{ChannelR, UnormInt16}:    device.R16Unorm,
	{ChannelR, SignedInt16}:   device.R16Sint,
	{ChannelR, UnsignedInt16}: device.R16Uint,
	{ChannelR, SignedInt32}:   device.R32Sint,
	{ChannelR, UnsignedInt32}: device.R32Uint,
	{ChannelR, HalfFloat}:     device.R16Float,
	{ChannelR, Float}:         device.R32Float,

	{ChannelA, UnormInt8}: device.A8Unorm,

	{ChannelRGBA, SnormInt8}:     device.RGBA8Snorm,
	{ChannelRGBA, UnormInt8}:     device.RGBA8Unorm,
	{ChannelRGBA, SignedInt8}:    device.RGBA8Sint,
	{ChannelRGBA, UnsignedInt8}:  device.RGBA8Uint,
	{ChannelRGBA, SnormInt16}:    device.RGBA16Snorm,
	{ChannelRGBA, UnormInt16}:    device.RGBA16Unorm,
	{ChannelRGBA, SignedInt16}:   device.RGBA16Sint,
	{ChannelRGBA, UnsignedInt16}: device.RGBA16Uint,
	{ChannelRGBA, SignedInt32}:   device.RGBA32Sint,
	{ChannelRGBA, UnsignedInt32}: device.RGBA32Uint,
	{ChannelRGBA, HalfFloat}:     device.RGBA16Float,
	{ChannelRGBA, Float}:         device.RGBA32Float,

	{ChannelBGRA, UnormInt8}: device.BGRA8Unorm,
}

// pixelFormat returns the device format of f.
func (f ImageFormat) pixelFormat() (device.PixelFormat, error) {
	pf, ok := pixelFormats[formatKey{f.Order, f.Type}]
	if !ok {
		return device.PixelFormatInvalid, fmt.Errorf("%w: image format %#x/%#x", ErrInvalidArgument, uint32(f.Order), uint32(f.Type))
	}
	return pf, nil
}

// SupportedImageFormats lists every format NewImage accepts.
func SupportedImageFormats() []ImageFormat {
	out := make([]ImageFormat, 0, len(pixelFormats))
	for k := range pixelFormats {
		out = append(out, ImageFormat{Order: k.order, Type: k.typ})
	}
	return out
}

// ImageType is the dimensionality of an image.
type ImageType uint8

// Image types.
const (
	Image2D ImageType = iota
	Image3D
)

// ImageDesc describes the extent of an image. Depth is ignored for 2D
// images.
type ImageDesc struct {
	Type   ImageType
	Width  int
	Height int
	Depth  int
}

// Image is a device-private texture. Images cannot be mapped; use
// EnqueueWriteImage and EnqueueReadImage.
type Image struct {
	ctx    *Context
	flags  MemFlags
	format ImageFormat
	desc   ImageDesc
	tex    device.Texture
	size   uint64
	alloc  *allocation

	mu       sync.Mutex
	released bool
}

// usage derives the shader access of an image from its flags.
func (f MemFlags) usage() device.TextureUsage {
	switch {
	case f&MemWriteOnly != 0:
		return device.TextureUsageShaderWrite
	case f&MemReadOnly != 0:
		return device.TextureUsageShaderRead
	default:
		return device.TextureUsageShaderRead | device.TextureUsageShaderWrite
	}
}

// NewImage creates an image. The footprint is whatever the device
// allocated, which includes backend row padding.
func NewImage(ctx *Context, flags MemFlags, format ImageFormat, desc ImageDesc) (*Image, error) {
	if err := ctx.checkLive(); err != nil {
		return nil, err
	}
	if err := flags.validate(); err != nil {
		return nil, err
	}
	if !ctx.info.ImageSupport {
		return nil, fmt.Errorf("%w: device %s has no image support", ErrInvalidArgument, ctx.info.Name)
	}
	pf, err := format.pixelFormat()
	if err != nil {
		return nil, err
	}
	if desc.Width <= 0 || desc.Height <= 0 || (desc.Type == Image3D && desc.Depth <= 0) {
		return nil, fmt.Errorf("%w: image size %dx%dx%d", ErrInvalidArgument, desc.Width, desc.Height, desc.Depth)
	}

	td := device.TextureDescriptor{
		Format: pf,
		Width:  desc.Width,
		Height: desc.Height,
		Depth:  1,
		Usage:  flags.usage(),
	}
	if desc.Type == Image3D {
		td.Type = device.Texture3D
		td.Depth = desc.Depth
	} else {
		desc.Depth = 1
	}

	tex, err := ctx.dev.NewTexture(td)
	if err != nil {
		return nil, fmt.Errorf("%w: create texture: %w", ErrAllocationFailure, err)
	}
	size := tex.AllocatedSize()
	ctx.mem.addImage(size)
	ctx.log().Debug("clmtl: image created",
		"format", pf, "size", humanize.IBytes(size), "rowPitch", tex.BytesPerRow())
	return &Image{ctx: ctx, flags: flags, format: format, desc: desc, tex: tex, size: size, alloc: newAllocation(tex.Release)}, nil
}

// Format returns the image format.
func (img *Image) Format() ImageFormat { return img.format }

// Desc returns the image extent.
func (img *Image) Desc() ImageDesc { return img.desc }

// Footprint returns the bytes the device allocated for the image.
func (img *Image) Footprint() uint64 { return img.size }

// RowPitch returns the device row pitch in bytes.
func (img *Image) RowPitch() uint64 { return img.tex.BytesPerRow() }

func (img *Image) extent() device.Size {
	return device.Size{Width: img.desc.Width, Height: img.desc.Height, Depth: max(img.desc.Depth, 1)}
}

func (img *Image) checkLive() error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.released {
		return fmt.Errorf("%w: image", ErrReleased)
	}
	return nil
}

// Release frees the texture once no enqueued command uses it anymore.
func (img *Image) Release() {
	img.mu.Lock()
	if img.released {
		img.mu.Unlock()
		return
	}
	img.released = true
	img.mu.Unlock()
	img.ctx.mem.removeImage(img.size)
	img.alloc.release()
}
