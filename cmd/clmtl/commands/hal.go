//go:build !nogpu

package commands

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/device/haldev"

	// Vulkan registers itself with the HAL backend table.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func openHAL() (device.Device, error) {
	d, err := haldev.Open(gputypes.BackendVulkan)
	if err != nil {
		return nil, err
	}
	return d, nil
}
