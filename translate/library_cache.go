package translate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/clmtl/internal/cache"
	"github.com/gogpu/clmtl/device"
)

// DefaultLibraryCacheSize is the number of libraries kept per cache.
const DefaultLibraryCacheSize = 64

type libraryKey struct {
	program uuid.UUID
	source  string
}

// LibraryCache compiles device libraries once per (program, source) pair.
// The source is the exact MSL after define injection, so every distinct
// define set of a program gets its own library.
//
// Libraries pushed out of the cache stay alive until Close, since
// pipelines built from them may still create variants.
type LibraryCache struct {
	dev    device.Device
	logger *slog.Logger

	entries *cache.Cache[libraryKey, device.Library]

	mu      sync.Mutex
	retired []device.Library
}

// NewLibraryCache creates a cache of at most size libraries. A size of 0
// selects DefaultLibraryCacheSize.
func NewLibraryCache(dev device.Device, size int, logger *slog.Logger) *LibraryCache {
	if size <= 0 {
		size = DefaultLibraryCacheSize
	}
	if logger == nil {
		logger = device.NopLogger()
	}
	c := &LibraryCache{
		dev:     dev,
		logger:  logger,
		entries: cache.New[libraryKey, device.Library](size),
	}
	c.entries.OnEvict(func(_ libraryKey, lib device.Library) {
		c.mu.Lock()
		c.retired = append(c.retired, lib)
		c.mu.Unlock()
	})
	return c
}

// Library returns the library for src, compiling it on a miss. Compilation
// failures are not cached.
func (c *LibraryCache) Library(program uuid.UUID, src device.LibrarySource) (device.Library, error) {
	key := libraryKey{program: program, source: src.MSL}
	hit := true
	lib, err := c.entries.GetOrCreate(key, func() (device.Library, error) {
		hit = false
		return c.dev.NewLibrary(src)
	})
	if err != nil {
		return nil, fmt.Errorf("compile library %s: %w", src.Label, err)
	}
	c.logger.Debug("translate: library lookup", "program", program, "hit", hit)
	return lib, nil
}

// Stats returns the cache counters.
func (c *LibraryCache) Stats() cache.Stats {
	return c.entries.Stats()
}

// Close releases every library the cache created.
func (c *LibraryCache) Close() {
	c.entries.Clear()
	c.mu.Lock()
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()
	for _, lib := range retired {
		lib.Release()
	}
}
