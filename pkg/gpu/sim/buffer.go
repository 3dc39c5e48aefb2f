package sim

import (
	"sync"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/pool"
)

// Buffer is software device memory.
type Buffer struct {
	dev *Device

	mu   sync.RWMutex
	data []float32
}

// Len implements driver.Buffer.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// CopyFromHost implements driver.Buffer.
func (b *Buffer) CopyFromHost(src []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return driver.Errorf(backend, driver.ErrTransfer, "copy htod", "buffer released")
	}
	if len(src) > len(b.data) {
		return driver.Errorf(backend, driver.ErrTransfer, "copy htod",
			"source has %d elements, buffer holds %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

// CopyToHost implements driver.Buffer.
func (b *Buffer) CopyToHost(dst []float32) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.data == nil {
		return driver.Errorf(backend, driver.ErrTransfer, "copy dtoh", "buffer released")
	}
	if len(dst) > len(b.data) {
		return driver.Errorf(backend, driver.ErrTransfer, "copy dtoh",
			"destination has %d elements, buffer holds %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

// Release implements driver.Buffer. Releasing twice is a no-op.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return
	}
	b.dev.free(uint64(len(b.data)) * 4)
	pool.PutFloat32s(b.data)
	b.data = nil
}

// view returns the backing slice for kernel execution.
func (b *Buffer) view() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}
