package reflection

// AddressingMode is the addressing field of an OpenCL sampler bitmask.
type AddressingMode uint32

// Addressing modes, using the OpenCL CLK_ADDRESS_* values.
const (
	AddressNone           AddressingMode = 0x0
	AddressClampToEdge    AddressingMode = 0x2
	AddressClamp          AddressingMode = 0x4
	AddressRepeat         AddressingMode = 0x6
	AddressMirroredRepeat AddressingMode = 0x8
)

func (m AddressingMode) String() string {
	switch m {
	case AddressNone:
		return "none"
	case AddressClampToEdge:
		return "clamp-to-edge"
	case AddressClamp:
		return "clamp"
	case AddressRepeat:
		return "repeat"
	case AddressMirroredRepeat:
		return "mirrored-repeat"
	default:
		return "unknown"
	}
}

// FilterMode is the filter field of an OpenCL sampler bitmask.
type FilterMode uint32

// Filter modes, using the OpenCL CLK_FILTER_* values.
const (
	FilterNearest FilterMode = 0x10
	FilterLinear  FilterMode = 0x20
)

func (m FilterMode) String() string {
	if m == FilterNearest {
		return "nearest"
	}
	return "linear"
}

// Sampler bitmask layout.
const (
	samplerNormalizedMask = 0x1
	samplerAddressMask    = 0xE
	samplerFilterMask     = 0x30
)

// SamplerMask builds an OpenCL sampler bitmask.
func SamplerMask(normalized bool, addressing AddressingMode, filter FilterMode) uint32 {
	mask := uint32(addressing)&samplerAddressMask | uint32(filter)&samplerFilterMask
	if normalized {
		mask |= samplerNormalizedMask
	}
	return mask
}

// LiteralSampler is a sampler declared as a constant in kernel source.
type LiteralSampler struct {
	DescriptorSet uint32
	Binding       uint32
	Mask          uint32
}

// NormalizedCoords reports whether the sampler uses normalized coordinates.
func (s LiteralSampler) NormalizedCoords() bool {
	return s.Mask&samplerNormalizedMask != 0
}

// Addressing returns the addressing mode.
func (s LiteralSampler) Addressing() AddressingMode {
	return AddressingMode(s.Mask & samplerAddressMask)
}

// Filter returns the filter mode. A mask without a filter bit is linear.
func (s LiteralSampler) Filter() FilterMode {
	if FilterMode(s.Mask&samplerFilterMask) == FilterNearest {
		return FilterNearest
	}
	return FilterLinear
}
