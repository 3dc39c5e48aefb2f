// Package sim provides a software compute device that executes kernels on
// the host CPU with GPU semantics.
//
// Every kernel thread is a goroutine. The threads of a block share the
// block's shared-memory slots and synchronize on a real barrier, and blocks
// run concurrently with no defined order, so a kernel that is correct here
// has the same structure as its CUDA and OpenCL counterparts. The device is
// always available and is the fallback when no GPU backend can be opened.
//
// Example:
//
//	dev, err := sim.NewDevice(0, sim.Options{})
//	if err != nil {
//		return err
//	}
//	defer dev.Release()
package sim

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/pool"
)

const backend = driver.BackendSoftware

// DefaultMemoryBytes is the device memory capacity when Options leaves it
// unset.
const DefaultMemoryBytes = 4 << 30

// Options configures a software device.
type Options struct {
	// MemoryBytes caps the total size of live buffers.
	MemoryBytes uint64 `yaml:"memory_bytes"`

	// MaxConcurrentBlocks bounds how many blocks execute at once.
	// Zero means GOMAXPROCS.
	MaxConcurrentBlocks int `yaml:"max_concurrent_blocks"`
}

// Device is a software compute device.
type Device struct {
	id     int
	name   string
	limits driver.Limits
	opts   Options

	mu       sync.Mutex
	used     uint64
	released bool

	launches atomic.Int64
}

// IsAvailable always reports true.
func IsAvailable() bool { return true }

// DeviceCount returns the number of software devices, which is always one.
func DeviceCount() int { return 1 }

// NewDevice opens the software device with the given ordinal.
func NewDevice(deviceID int, opts Options) (*Device, error) {
	if deviceID < 0 || deviceID >= DeviceCount() {
		return nil, driver.Errorf(backend, driver.ErrDeviceInit, "open", "invalid device ordinal %d", deviceID)
	}
	if opts.MemoryBytes == 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}
	if opts.MaxConcurrentBlocks <= 0 {
		opts.MaxConcurrentBlocks = runtime.GOMAXPROCS(0)
	}
	return &Device{
		id:     deviceID,
		name:   fmt.Sprintf("Software device (%d workers)", opts.MaxConcurrentBlocks),
		limits: driver.DefaultLimits(),
		opts:   opts,
	}, nil
}

// Backend implements driver.Device.
func (d *Device) Backend() driver.Backend { return backend }

// ID returns the device ordinal.
func (d *Device) ID() int { return d.id }

// Name implements driver.Device.
func (d *Device) Name() string { return d.name }

// MemoryBytes implements driver.Device.
func (d *Device) MemoryBytes() uint64 { return d.opts.MemoryBytes }

// MemoryUsed returns the bytes held by live buffers.
func (d *Device) MemoryUsed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// Limits implements driver.Device.
func (d *Device) Limits() driver.Limits { return d.limits }

// SuggestedBlockEdge implements driver.Device. A 16×16 block keeps two tiles
// inside a 2KB shared-memory budget and gives each block enough threads to
// amortize its barriers.
func (d *Device) SuggestedBlockEdge() int { return driver.DefaultTileSize }

// Launches returns the number of kernels executed so far.
func (d *Device) Launches() int64 { return d.launches.Load() }

// Alloc implements driver.Device.
func (d *Device) Alloc(count int) (driver.Buffer, error) {
	if count <= 0 {
		return nil, driver.Errorf(backend, driver.ErrAllocation, "alloc", "invalid element count %d", count)
	}
	bytes := uint64(count) * 4

	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return nil, driver.Errorf(backend, driver.ErrAllocation, "alloc", "device released")
	}
	if d.used+bytes > d.opts.MemoryBytes {
		free := d.opts.MemoryBytes - d.used
		d.mu.Unlock()
		return nil, driver.Errorf(backend, driver.ErrAllocation, "alloc",
			"out of memory: requested %d bytes, %d free", bytes, free)
	}
	d.used += bytes
	d.mu.Unlock()

	return &Buffer{dev: d, data: pool.GetFloat32s(count)}, nil
}

func (d *Device) free(bytes uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used -= bytes
}

// NewStream implements driver.Device.
func (d *Device) NewStream() (driver.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, driver.Errorf(backend, driver.ErrDeviceInit, "stream", "device released")
	}
	return newStream(d), nil
}

// Release implements driver.Device. Buffers still alive keep their memory
// until they are released.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}
