package clmtl

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/clmtl/device"
)

// Fixed capabilities reported for every device.
const (
	// MaxParameterSize is the largest total size of kernel arguments.
	MaxParameterSize = 256

	// MemBaseAddrAlign is the buffer base alignment in bits.
	MemBaseAddrAlign = 1024

	// MaxInlineArgSize is the largest plain-old-data argument SetArg
	// accepts. Larger values must be passed in a buffer.
	MaxInlineArgSize = 64
)

// DeviceInfo is the read-only capability descriptor of a device.
type DeviceInfo struct {
	Name          string
	Vendor        string
	Version       string
	DriverVersion string

	MaxWorkGroupSize int
	MaxWorkItemSizes [3]int

	// PreferredWorkGroupSizeMultiple is the SIMD width of the device.
	PreferredWorkGroupSizeMultiple int

	MaxParameterSize int
	MemBaseAddrAlign int
	MaxMemAllocSize  uint64
	MaxSamplers      int

	ImageSupport     bool
	MaxImage2DWidth  int
	MaxImage2DHeight int
}

func deviceInfo(dev device.Device) DeviceInfo {
	l := dev.Limits()
	return DeviceInfo{
		Name:                           dev.Name(),
		Vendor:                         "gogpu",
		Version:                        "OpenCL 1.2 clmtl",
		DriverVersion:                  "1.0",
		MaxWorkGroupSize:               l.MaxTotalThreadsPerThreadgroup,
		MaxWorkItemSizes:               [3]int{l.MaxThreadsPerThreadgroup.Width, l.MaxThreadsPerThreadgroup.Height, l.MaxThreadsPerThreadgroup.Depth},
		PreferredWorkGroupSizeMultiple: l.ThreadExecutionWidth,
		MaxParameterSize:               MaxParameterSize,
		MemBaseAddrAlign:               MemBaseAddrAlign,
		MaxMemAllocSize:                l.MaxBufferLength,
		MaxSamplers:                    l.MaxSamplers,
		ImageSupport:                   l.SupportsTextures,
		MaxImage2DWidth:                int(l.MaxTextureWidth),
		MaxImage2DHeight:               int(l.MaxTextureWidth),
	}
}

// String renders the descriptor as aligned key/value lines.
func (i DeviceInfo) String() string {
	var b strings.Builder
	row := func(k string, v any) { fmt.Fprintf(&b, "%-24s %v\n", k, v) }
	row("name", i.Name)
	row("vendor", i.Vendor)
	row("version", i.Version)
	row("driver version", i.DriverVersion)
	row("max work-group size", i.MaxWorkGroupSize)
	row("max work-item sizes", fmt.Sprintf("%d x %d x %d", i.MaxWorkItemSizes[0], i.MaxWorkItemSizes[1], i.MaxWorkItemSizes[2]))
	row("preferred size multiple", i.PreferredWorkGroupSizeMultiple)
	row("max parameter size", i.MaxParameterSize)
	row("max alloc size", humanize.IBytes(i.MaxMemAllocSize))
	row("max samplers", i.MaxSamplers)
	row("image support", i.ImageSupport)
	if i.ImageSupport {
		row("max image 2d", fmt.Sprintf("%d x %d", i.MaxImage2DWidth, i.MaxImage2DHeight))
	}
	return b.String()
}
