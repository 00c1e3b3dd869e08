// Package cache provides a generic LRU cache used for compiled shader
// libraries and pipeline variants.
//
//	c := cache.New[string, int](64)
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// Values that own device objects register an eviction callback with
// OnEvict; it runs for every entry removed by eviction, Delete or Clear.
//
// # Creation
//
// GetOrCreate builds a missing value under the cache lock, so concurrent
// callers never create the same key twice. A create function that fails
// leaves the cache unchanged.
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
