package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Common errors returned by device implementations.
var (
	// ErrOutOfBounds is returned when a placement region exceeds its heap.
	ErrOutOfBounds = errors.New("device: region out of heap bounds")

	// ErrUnknownFunction is returned when a library has no such entry point.
	ErrUnknownFunction = errors.New("device: unknown function")

	// ErrUnsupported is returned for operations a backend cannot perform.
	ErrUnsupported = errors.New("device: unsupported operation")

	// ErrReleased is returned when a released object is used.
	ErrReleased = errors.New("device: object released")
)

// === Storage ===

// StorageMode selects where resource memory lives.
type StorageMode uint8

const (
	// StorageShared memory is visible to both host and device.
	StorageShared StorageMode = iota
	// StoragePrivate memory is visible to the device only.
	StoragePrivate
)

// String returns the storage mode name.
func (m StorageMode) String() string {
	switch m {
	case StorageShared:
		return "shared"
	case StoragePrivate:
		return "private"
	default:
		return fmt.Sprintf("StorageMode(%d)", m)
	}
}

// CPUCacheMode selects host caching for shared memory.
type CPUCacheMode uint8

const (
	CPUCacheDefault CPUCacheMode = iota
	// CPUCacheWriteCombined favors host writes over host reads.
	CPUCacheWriteCombined
)

// ResourceOptions describe heap storage.
type ResourceOptions struct {
	Storage StorageMode
	Cache   CPUCacheMode
}

// HostVisible reports whether resources with these options can be mapped.
func (o ResourceOptions) HostVisible() bool {
	return o.Storage == StorageShared
}

// Size is a three-dimensional extent or origin.
type Size struct {
	Width, Height, Depth int
}

// Volume returns Width*Height*Depth.
func (s Size) Volume() int {
	return s.Width * s.Height * s.Depth
}

// === Limits ===

// Limits describes device capabilities.
type Limits struct {
	MaxBufferLength uint64

	// MaxThreadsPerThreadgroup bounds each work-group dimension.
	MaxThreadsPerThreadgroup Size

	// MaxTotalThreadsPerThreadgroup bounds the product of the work-group
	// dimensions.
	MaxTotalThreadsPerThreadgroup int

	ThreadExecutionWidth int

	MaxThreadgroupsPerDimension uint32
	MaxTextureWidth             uint32
	MaxSamplers                 int

	// MinBufferOffsetAlignment is the alignment of buffer bind offsets.
	MinBufferOffsetAlignment uint64

	SupportsTextures bool
}

// Default work-group limits shared by both backends.
const (
	DefaultMaxTotalThreads      = 256
	DefaultThreadExecutionWidth = 32
	DefaultMaxSamplers          = 16
)

// DefaultLimits returns limits derived from the WebGPU defaults.
func DefaultLimits() Limits {
	return LimitsFrom(gputypes.DefaultLimits())
}

// LimitsFrom converts WebGPU limits.
func LimitsFrom(l gputypes.Limits) Limits {
	return Limits{
		MaxBufferLength: l.MaxBufferSize,
		MaxThreadsPerThreadgroup: Size{
			Width:  int(l.MaxComputeWorkgroupSizeX),
			Height: int(l.MaxComputeWorkgroupSizeY),
			Depth:  int(l.MaxComputeWorkgroupSizeZ),
		},
		MaxTotalThreadsPerThreadgroup: DefaultMaxTotalThreads,
		ThreadExecutionWidth:          DefaultThreadExecutionWidth,
		MaxThreadgroupsPerDimension:   l.MaxComputeWorkgroupsPerDimension,
		MaxTextureWidth:               l.MaxTextureDimension2D,
		MaxSamplers:                   DefaultMaxSamplers,
		MinBufferOffsetAlignment:      256,
		SupportsTextures:              true,
	}
}

// === Textures ===

// TextureType is the dimensionality of a texture.
type TextureType uint8

const (
	Texture2D TextureType = iota
	Texture3D
)

// TextureUsage is a bit set of shader access modes.
type TextureUsage uint8

const (
	TextureUsageShaderRead TextureUsage = 1 << iota
	TextureUsageShaderWrite
)

// PixelFormat is a texel format.
type PixelFormat uint8

// Supported pixel formats. Channel order R, A, RGBA and BGRA crossed with
// the normalized, integer and float channel types.
const (
	PixelFormatInvalid PixelFormat = iota
	R8Unorm
	R8Snorm
	R8Uint
	R8Sint
	R16Unorm
	R16Snorm
	R16Uint
	R16Sint
	R16Float
	R32Uint
	R32Sint
	R32Float
	A8Unorm
	RGBA8Unorm
	RGBA8Snorm
	RGBA8Uint
	RGBA8Sint
	RGBA16Unorm
	RGBA16Snorm
	RGBA16Uint
	RGBA16Sint
	RGBA16Float
	RGBA32Uint
	RGBA32Sint
	RGBA32Float
	BGRA8Unorm
	pixelFormatCount
)

var pixelFormatInfo = [pixelFormatCount]struct {
	name  string
	bytes int
}{
	PixelFormatInvalid: {"invalid", 0},
	R8Unorm:            {"r8unorm", 1},
	R8Snorm:            {"r8snorm", 1},
	R8Uint:             {"r8uint", 1},
	R8Sint:             {"r8sint", 1},
	R16Unorm:           {"r16unorm", 2},
	R16Snorm:           {"r16snorm", 2},
	R16Uint:            {"r16uint", 2},
	R16Sint:            {"r16sint", 2},
	R16Float:           {"r16float", 2},
	R32Uint:            {"r32uint", 4},
	R32Sint:            {"r32sint", 4},
	R32Float:           {"r32float", 4},
	A8Unorm:            {"a8unorm", 1},
	RGBA8Unorm:         {"rgba8unorm", 4},
	RGBA8Snorm:         {"rgba8snorm", 4},
	RGBA8Uint:          {"rgba8uint", 4},
	RGBA8Sint:          {"rgba8sint", 4},
	RGBA16Unorm:        {"rgba16unorm", 8},
	RGBA16Snorm:        {"rgba16snorm", 8},
	RGBA16Uint:         {"rgba16uint", 8},
	RGBA16Sint:         {"rgba16sint", 8},
	RGBA16Float:        {"rgba16float", 8},
	RGBA32Uint:         {"rgba32uint", 16},
	RGBA32Sint:         {"rgba32sint", 16},
	RGBA32Float:        {"rgba32float", 16},
	BGRA8Unorm:         {"bgra8unorm", 4},
}

// BytesPerPixel returns the texel size, or 0 for an invalid format.
func (f PixelFormat) BytesPerPixel() int {
	if f >= pixelFormatCount {
		return 0
	}
	return pixelFormatInfo[f].bytes
}

// String returns the format name.
func (f PixelFormat) String() string {
	if f >= pixelFormatCount {
		return fmt.Sprintf("PixelFormat(%d)", f)
	}
	return pixelFormatInfo[f].name
}

// TextureDescriptor describes a texture. Depth is 1 for 2D textures.
type TextureDescriptor struct {
	Label  string
	Type   TextureType
	Format PixelFormat
	Width  int
	Height int
	Depth  int
	Usage  TextureUsage
}

// Size returns the texture extent.
func (d TextureDescriptor) Size() Size {
	depth := d.Depth
	if depth < 1 {
		depth = 1
	}
	return Size{Width: d.Width, Height: d.Height, Depth: depth}
}

// === Samplers ===

// SamplerAddressMode selects behavior outside [0, 1].
type SamplerAddressMode uint8

const (
	AddressClampToZero SamplerAddressMode = iota
	AddressClampToEdge
	AddressRepeat
	AddressMirrorRepeat
)

// SamplerFilter selects texel filtering.
type SamplerFilter uint8

const (
	FilterNearest SamplerFilter = iota
	FilterLinear
)

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	NormalizedCoords bool
	Address          SamplerAddressMode
	Filter           SamplerFilter
}

// === Libraries ===

// LibrarySource is the input of Device.NewLibrary.
//
// MSL carries the translated shader source including injected defines.
// SPIRV carries the original binary for backends that consume it directly.
type LibrarySource struct {
	Label string
	MSL   string
	SPIRV []uint32
}

// FunctionConstants maps specialization constant ids to values.
type FunctionConstants map[uint32]uint32

// === Command buffers ===

// CommandBufferStatus is the lifecycle state of a command buffer.
type CommandBufferStatus uint8

const (
	StatusNotEnqueued CommandBufferStatus = iota
	StatusCommitted
	StatusScheduled
	StatusCompleted
	StatusError
)

// String returns the status name.
func (s CommandBufferStatus) String() string {
	switch s {
	case StatusNotEnqueued:
		return "not-enqueued"
	case StatusCommitted:
		return "committed"
	case StatusScheduled:
		return "scheduled"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("CommandBufferStatus(%d)", s)
	}
}
