package commands

import (
	"fmt"

	"github.com/gogpu/clmtl"
	"github.com/gogpu/clmtl/internal/config"
	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/device/soft"
)

// openContext opens the configured device and a context on it. The
// returned function releases both.
func openContext(reg *soft.Registry) (*clmtl.Context, func(), error) {
	var (
		dev device.Device
		err error
	)
	switch cfg.Device.Kind {
	case config.DeviceHAL:
		dev, err = openHAL()
	default:
		opts := []soft.Option{
			soft.WithWorkers(cfg.Device.Workers),
			soft.WithMaxTotalThreads(cfg.Device.MaxThreads),
			soft.WithExecutionWidth(cfg.Device.ExecutionWidth),
		}
		if reg != nil {
			opts = append(opts, soft.WithRegistry(reg))
		}
		dev = soft.New(opts...)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s device: %w", cfg.Device.Kind, err)
	}

	ctx, err := clmtl.NewContext(
		clmtl.WithDevice(dev),
		clmtl.WithLibraryCacheSize(cfg.Cache.Libraries),
		clmtl.WithPipelineCacheSize(cfg.Cache.Pipelines),
	)
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}
	return ctx, func() {
		_ = ctx.Release()
		_ = dev.Close()
	}, nil
}
