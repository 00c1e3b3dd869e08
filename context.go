package clmtl

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/device/soft"
	"github.com/gogpu/clmtl/translate"
)

// Context owns one compute device and the caches shared by the programs
// built on it.
type Context struct {
	id         uuid.UUID
	dev        device.Device
	ownsDevice bool
	ownLogger  bool
	logger     *slog.Logger

	compiler          Compiler
	translator        *translate.Translator
	libraries         *translate.LibraryCache
	pipelineCacheSize int
	info              DeviceInfo

	mem memoryCounters

	mu       sync.Mutex
	released bool
}

// NewContext creates a context. Without WithDevice it runs on a new
// software device that the context owns.
func NewContext(opts ...Option) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Context{
		id:                uuid.New(),
		dev:               o.dev,
		compiler:          o.compiler,
		pipelineCacheSize: o.pipelineCacheSize,
		logger:            o.logger,
		ownLogger:         o.logger != nil,
	}
	if c.logger == nil {
		c.logger = Logger()
	}
	if c.dev == nil {
		c.dev = soft.New()
		c.ownsDevice = true
	}
	propagateLogger(c.dev, c.logger)

	c.translator = o.translator
	if c.translator == nil {
		c.translator = translate.New(translate.WithLogger(c.logger))
	}
	c.libraries = translate.NewLibraryCache(c.dev, o.libraryCacheSize, c.logger)
	c.info = deviceInfo(c.dev)

	trackContext(c)
	c.log().Info("clmtl: context created", "id", c.id, "device", c.dev.Name())
	return c, nil
}

func (c *Context) log() *slog.Logger {
	if c.ownLogger {
		return c.logger
	}
	return Logger()
}

// ID returns the context identity.
func (c *Context) ID() uuid.UUID { return c.id }

// Device returns the context device.
func (c *Context) Device() device.Device { return c.dev }

// Info returns the device descriptor.
func (c *Context) Info() DeviceInfo { return c.info }

// Translator returns the translator used for program links.
func (c *Context) Translator() *translate.Translator { return c.translator }

// Libraries returns the library cache of the context.
func (c *Context) Libraries() *translate.LibraryCache { return c.libraries }

// MemoryStats returns the live memory objects of the context.
func (c *Context) MemoryStats() MemoryStats { return c.mem.snapshot() }

func (c *Context) checkLive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return fmt.Errorf("%w: context %s", ErrReleased, c.id)
	}
	return nil
}

// Release drops the library cache and closes the device if the context
// created it. Programs, kernels and memory objects of the context must be
// released first.
func (c *Context) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	c.released = true
	c.mu.Unlock()

	untrackContext(c)
	if s := c.mem.snapshot(); s.Buffers+s.Images > 0 {
		c.log().Warn("clmtl: context released with live memory objects",
			"buffers", s.Buffers, "images", s.Images)
	}
	c.libraries.Close()
	if c.ownsDevice {
		if err := c.dev.Close(); err != nil {
			return fmt.Errorf("close device: %w", err)
		}
	}
	return nil
}
