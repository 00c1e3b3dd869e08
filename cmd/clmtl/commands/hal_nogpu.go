//go:build nogpu

package commands

import (
	"errors"

	"github.com/gogpu/clmtl/device"
)

func openHAL() (device.Device, error) {
	return nil, errors.New("built with the nogpu tag")
}
