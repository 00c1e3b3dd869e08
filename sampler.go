package clmtl

import (
	"fmt"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
)

// AddressingMode is the OpenCL sampler addressing mode.
type AddressingMode = reflection.AddressingMode

// FilterMode is the OpenCL sampler filter mode.
type FilterMode = reflection.FilterMode

// Sampler addressing and filter modes.
const (
	AddressNone           = reflection.AddressNone
	AddressClampToEdge    = reflection.AddressClampToEdge
	AddressClamp          = reflection.AddressClamp
	AddressRepeat         = reflection.AddressRepeat
	AddressMirroredRepeat = reflection.AddressMirroredRepeat

	FilterNearest = reflection.FilterNearest
	FilterLinear  = reflection.FilterLinear
)

// Sampler is an immutable sampler state usable as a kernel argument.
type Sampler struct {
	ctx        *Context
	normalized bool
	addressing AddressingMode
	filter     FilterMode
	s          device.Sampler
}

// NewSampler creates a sampler. AddressNone and AddressClamp both sample
// zero outside the image.
func NewSampler(ctx *Context, normalized bool, addressing AddressingMode, filter FilterMode) (*Sampler, error) {
	if err := ctx.checkLive(); err != nil {
		return nil, err
	}
	desc := device.SamplerDescriptor{NormalizedCoords: normalized}
	switch addressing {
	case AddressNone, AddressClamp:
		desc.Address = device.AddressClampToZero
	case AddressClampToEdge:
		desc.Address = device.AddressClampToEdge
	case AddressRepeat:
		desc.Address = device.AddressRepeat
	case AddressMirroredRepeat:
		desc.Address = device.AddressMirrorRepeat
	default:
		return nil, fmt.Errorf("%w: addressing mode %#x", ErrInvalidArgument, uint32(addressing))
	}
	switch filter {
	case FilterNearest:
		desc.Filter = device.FilterNearest
	case FilterLinear:
		desc.Filter = device.FilterLinear
	default:
		return nil, fmt.Errorf("%w: filter mode %#x", ErrInvalidArgument, uint32(filter))
	}

	s, err := ctx.dev.NewSampler(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: create sampler: %w", ErrAllocationFailure, err)
	}
	return &Sampler{ctx: ctx, normalized: normalized, addressing: addressing, filter: filter, s: s}, nil
}

// NormalizedCoords reports whether coordinates are normalized.
func (s *Sampler) NormalizedCoords() bool { return s.normalized }

// Addressing returns the addressing mode.
func (s *Sampler) Addressing() AddressingMode { return s.addressing }

// Filter returns the filter mode.
func (s *Sampler) Filter() FilterMode { return s.filter }

// Release frees the device sampler.
func (s *Sampler) Release() { s.s.Release() }
