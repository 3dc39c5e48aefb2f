// Package pool provides pooled float32 slices to reduce allocations.
//
// The software device allocates every device buffer and each block's
// shared-memory tiles from this pool, so repeated launches of the same
// problem size reuse the same backing arrays. Other backends and host-side
// matrices do not use it.
//
// Slices are bucketed by power-of-two capacity. A slice returned by
// GetFloat32s is always zeroed, like freshly allocated Go memory.
//
// Usage:
//
//	buf := pool.GetFloat32s(n * n)
//	defer pool.PutFloat32s(buf)
//
//	// Use buf...
package pool

import (
	"math/bits"
	"sync"
)

// PoolConfig configures pooling behavior.
//
// Fields:
//   - Enabled: Controls whether pooling is active (disable for debugging)
//   - MaxSize: Largest slice, in elements, that is kept for reuse
//
// Example:
//
//	pool.Configure(pool.PoolConfig{
//		Enabled: true,
//		MaxSize: 64 << 20, // keep slices up to 64M elements (256MB)
//	})
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the element count of slices kept in the pool
	MaxSize int
}

// maxClass is the largest bucket: 2^maxClass elements.
const maxClass = 34

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled: true,
		MaxSize: 1 << 28,
	}

	classes [maxClass + 1]sync.Pool
)

// Configure sets global pool configuration.
//
// Reconfiguring drops every pooled slice, so call it during initialization.
func Configure(config PoolConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalConfig = config
	for i := range classes {
		classes[i] = sync.Pool{}
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig.Enabled
}

func config() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// class returns the bucket index for a slice of n elements: the smallest c
// with 2^c >= n.
func class(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// GetFloat32s returns a zeroed slice of length n.
//
// The slice's capacity may exceed n. Return it with PutFloat32s when it is
// no longer referenced.
func GetFloat32s(n int) []float32 {
	if n < 0 {
		n = 0
	}
	cfg := config()
	c := class(n)
	if !cfg.Enabled || n > cfg.MaxSize || c > maxClass {
		return make([]float32, n)
	}

	if p, ok := classes[c].Get().(*[]float32); ok && cap(*p) >= n {
		s := (*p)[:n]
		clear(s)
		return s
	}
	return make([]float32, n, 1<<c)
}

// PutFloat32s returns a slice to the pool.
//
// Slices larger than MaxSize, or whose capacity is not a bucket size, are
// dropped. Don't use the slice after calling PutFloat32s.
func PutFloat32s(s []float32) {
	cfg := config()
	if !cfg.Enabled || s == nil {
		return
	}
	n := cap(s)
	if n == 0 || n > cfg.MaxSize {
		return
	}
	c := class(n)
	if c > maxClass || 1<<c != n {
		return
	}
	s = s[:0]
	classes[c].Put(&s)
}
