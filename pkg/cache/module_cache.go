// Package cache provides kernel module caching for the launcher.
//
// Loading a module means compiling device source (NVRTC for CUDA, the
// OpenCL runtime compiler for OpenCL) or at least binding entry points, so
// repeated launches with the same image should not pay for it twice.
//
// Features:
// - LRU eviction for bounded device memory
// - TTL expiration for long-running processes
// - Evicted modules are released
// - Thread-safe operations
// - Cache hit/miss statistics
//
// Usage:
//
//	modules := cache.NewModuleCache(8, 0)
//	defer modules.Clear()
//
//	key := cache.Key(dev.Backend(), img)
//	mod, err := modules.GetOrLoad(key, func() (driver.Module, error) {
//		return dev.LoadModule(img)
//	})
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

// ModuleCache is a thread-safe LRU cache of loaded kernel modules.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - TTL for automatic expiration
//
// The cache owns the modules it holds: a module is released when it is
// evicted, expired, removed, replaced or cleared. Callers must not release
// a module obtained from the cache.
type ModuleCache struct {
	mu sync.Mutex

	// Configuration
	maxSize int
	ttl     time.Duration
	enabled bool

	// LRU list and map
	list  *list.List
	items map[uint64]*list.Element

	// Statistics
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// cacheEntry holds a cached module with metadata.
type cacheEntry struct {
	key       uint64
	module    driver.Module
	expiresAt time.Time
}

// NewModuleCache creates a new module cache.
//
// Parameters:
//   - maxSize: Maximum number of loaded modules (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached modules (0 = no expiration)
//
// Example:
//
//	// Keep up to 8 modules for the life of the process
//	modules := NewModuleCache(8, 0)
func NewModuleCache(maxSize int, ttl time.Duration) *ModuleCache {
	if maxSize <= 0 {
		maxSize = 8
	}
	return &ModuleCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
	}
}

// Key generates a cache key for a module image on a backend.
//
// The key is a 64-bit FNV-1a hash over the backend, the image format, the
// build options in order and the source text. Two images that differ only
// in name share a key; two images built with different -DTILE_SZ options
// do not.
//
// Example:
//
//	k16 := cache.Key(driver.BackendCUDA, kernels.Image(driver.BackendCUDA, 16))
//	k32 := cache.Key(driver.BackendCUDA, kernels.Image(driver.BackendCUDA, 32))
//	// k16 != k32
func Key(backend driver.Backend, img driver.ModuleImage) uint64 {
	h := fnv.New64a()
	sep := []byte{0}

	h.Write([]byte(backend))
	h.Write(sep)
	h.Write([]byte(img.Format.String()))
	h.Write(sep)
	for _, opt := range img.Options {
		h.Write([]byte(opt))
		h.Write(sep)
	}
	h.Write(sep)
	h.Write([]byte(img.Source))

	return h.Sum64()
}

// Get retrieves a cached module if present and not expired.
//
// Returns:
//   - (module, true) on cache hit
//   - (nil, false) on cache miss or expiration
func (c *ModuleCache) Get(key uint64) (driver.Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *ModuleCache) getLocked(key uint64) (driver.Module, bool) {
	if !c.enabled {
		c.misses.Add(1)
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)

	// Check TTL
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return entry.module, true
}

// Put stores a module. If the key is already cached, the old module is
// released and replaced. When the cache is disabled the module is not kept
// and stays owned by the caller.
func (c *ModuleCache) Put(key uint64, mod driver.Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, mod)
}

func (c *ModuleCache) putLocked(key uint64, mod driver.Module) {
	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if entry.module != mod {
			entry.module.Release()
			entry.module = mod
		}
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:    key,
		module: mod,
	}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// GetOrLoad returns the cached module for key, calling load on a miss and
// caching its result. Load errors are returned unchanged and nothing is
// cached. Concurrent callers with the same key load once.
//
// When the cache is disabled, the loaded module is returned with owned set
// and the caller must release it.
func (c *ModuleCache) GetOrLoad(key uint64, load func() (driver.Module, error)) (mod driver.Module, owned bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mod, ok := c.getLocked(key); ok {
		return mod, false, nil
	}

	mod, err = load()
	if err != nil {
		return nil, false, err
	}
	if !c.enabled {
		return mod, true, nil
	}
	c.putLocked(key, mod)
	return mod, false, nil
}

// Remove releases and removes a cached module.
func (c *ModuleCache) Remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear releases and removes every cached module.
func (c *ModuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *ModuleCache) clearLocked() {
	for elem := c.list.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*cacheEntry).module.Release()
	}
	c.list.Init()
	c.items = make(map[uint64]*list.Element, c.maxSize)
}

// Len returns the number of cached modules.
func (c *ModuleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
//
// Example:
//
//	stats := modules.Stats()
//	fmt.Printf("module cache hit rate: %.1f%% (%d/%d)\n",
//		stats.HitRate, stats.Hits, stats.Hits+stats.Misses)
func (c *ModuleCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	c.mu.Lock()
	size := c.list.Len()
	c.mu.Unlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:      size,
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   hitRate,
	}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size      int     // Current number of modules
	MaxSize   int     // Maximum capacity
	Hits      uint64  // Number of cache hits
	Misses    uint64  // Number of cache misses
	Evictions uint64  // Modules released by LRU eviction
	HitRate   float64 // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling releases every
// cached module.
func (c *ModuleCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.clearLocked()
	}
}

// evictOldest removes the least recently used module.
// Must be called with lock held.
func (c *ModuleCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
	}
}

// removeElement releases and removes an entry.
// Must be called with lock held.
func (c *ModuleCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	entry.module.Release()
}
