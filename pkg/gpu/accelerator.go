// Package gpu runs the tiled matrix multiplication on the best available
// compute device.
//
// An Accelerator picks and opens a device (CUDA, OpenCL, or the software
// device); a Launcher drives the host protocol on it: load the kernel module,
// allocate device buffers, copy inputs, launch, synchronize once, copy the
// result back, and time the kernel separately from the whole call.
//
// Usage:
//
//	accel, err := gpu.NewAccelerator(gpu.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer accel.Release()
//
//	launcher, err := gpu.NewLauncher(accel, gpu.LauncherOptions{TileSize: 16})
//	if err != nil {
//		return err
//	}
//	defer launcher.Release()
//
//	res, err := launcher.MatMul(a, b)
package gpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/tilegemm/pkg/gpu/cuda"
	"github.com/orneryd/tilegemm/pkg/gpu/driver"
	"github.com/orneryd/tilegemm/pkg/gpu/opencl"
	"github.com/orneryd/tilegemm/pkg/gpu/sim"
)

// ErrNoDevice is wrapped into the ErrDeviceInit returned when no backend
// could be opened.
var ErrNoDevice = errors.New("gpu: no compute device available")

// Config selects and configures the compute device.
type Config struct {
	// Backend is the preferred backend. BackendNone means auto-detect.
	Backend driver.Backend `yaml:"backend"`

	// DeviceID is the device ordinal within the backend.
	DeviceID int `yaml:"device_id"`

	// FallbackOnError opens the software device when no GPU backend can be
	// opened.
	FallbackOnError bool `yaml:"fallback_on_error"`

	// Software configures the software device.
	Software sim.Options `yaml:"software"`
}

// DefaultConfig returns auto-detection with software fallback.
func DefaultConfig() *Config {
	return &Config{
		Backend:         driver.BackendNone,
		FallbackOnError: true,
	}
}

// Option configures an Accelerator.
type Option func(*Accelerator)

// WithLogger sets the accelerator's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Accelerator) { a.log = log }
}

// Accelerator owns one open compute device.
//
// It automatically selects the best available backend: the configured
// preference first, then CUDA and OpenCL, then the software device when
// FallbackOnError is set.
type Accelerator struct {
	backend driver.Backend
	config  *Config
	device  driver.Device
	log     zerolog.Logger

	// Stats
	mu    sync.RWMutex
	stats AcceleratorStats
}

// AcceleratorStats tracks device usage statistics.
type AcceleratorStats struct {
	KernelLaunches  int64
	KernelFailures  int64
	BytesUploaded   int64
	BytesDownloaded int64
	KernelTime      time.Duration
}

// NewAccelerator opens a compute device.
//
// If no backend can be opened, the error wraps driver.ErrDeviceInit and
// ErrNoDevice and lists why each backend failed.
func NewAccelerator(config *Config, opts ...Option) (*Accelerator, error) {
	if config == nil {
		config = DefaultConfig()
	}

	accel := &Accelerator{
		config:  config,
		backend: driver.BackendNone,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(accel)
	}

	if err := accel.initBackend(); err != nil {
		return nil, err
	}
	accel.log.Info().
		Str("backend", accel.backend.String()).
		Str("device", accel.DeviceName()).
		Int("memory_mb", accel.DeviceMemoryMB()).
		Msg("compute device ready")
	return accel, nil
}

// candidates returns the backends to try, in order.
func (a *Accelerator) candidates() []driver.Backend {
	var backends []driver.Backend
	if a.config.Backend != driver.BackendNone {
		backends = append(backends, a.config.Backend)
	}

	if a.config.Backend == driver.BackendNone || a.config.FallbackOnError {
		// Auto-detect based on platform
		switch runtime.GOOS {
		case "linux", "windows":
			backends = append(backends, driver.BackendCUDA, driver.BackendOpenCL)
		case "darwin":
			backends = append(backends, driver.BackendOpenCL)
		}
	}
	if a.config.FallbackOnError {
		backends = append(backends, driver.BackendSoftware)
	}

	seen := make(map[driver.Backend]bool, len(backends))
	out := backends[:0]
	for _, b := range backends {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// initBackend opens the first backend that works.
func (a *Accelerator) initBackend() error {
	var errs []error
	for _, backend := range a.candidates() {
		dev, err := a.tryBackend(backend)
		if err == nil {
			a.device = dev
			a.backend = backend
			return nil
		}
		a.log.Debug().Err(err).Str("backend", backend.String()).Msg("backend unavailable")
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no backend selected"))
	}
	return driver.Wrap(a.config.Backend, driver.ErrDeviceInit, "select device",
		fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...)))
}

// tryBackend attempts to open a specific backend.
func (a *Accelerator) tryBackend(backend driver.Backend) (driver.Device, error) {
	switch backend {
	case driver.BackendCUDA:
		return a.initCUDA()
	case driver.BackendOpenCL:
		return a.initOpenCL()
	case driver.BackendSoftware:
		return sim.NewDevice(a.config.DeviceID, a.config.Software)
	default:
		return nil, driver.Errorf(backend, driver.ErrDeviceInit, "open", "unsupported backend %q", string(backend))
	}
}

// initCUDA initializes the CUDA backend.
func (a *Accelerator) initCUDA() (driver.Device, error) {
	if !cuda.IsAvailable() {
		return nil, driver.Errorf(driver.BackendCUDA, driver.ErrDeviceInit, "open", "no CUDA device")
	}
	device, err := cuda.NewDevice(a.config.DeviceID)
	if err != nil {
		return nil, err
	}
	return device, nil
}

// initOpenCL initializes the OpenCL backend.
func (a *Accelerator) initOpenCL() (driver.Device, error) {
	if !opencl.IsAvailable() {
		return nil, driver.Errorf(driver.BackendOpenCL, driver.ErrDeviceInit, "open", "no OpenCL device")
	}
	device, err := opencl.NewDevice(a.config.DeviceID)
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Release frees the device.
func (a *Accelerator) Release() {
	if a.device != nil {
		a.device.Release()
		a.device = nil
	}
	a.backend = driver.BackendNone
}

// Device returns the open device, or nil after Release.
func (a *Accelerator) Device() driver.Device {
	return a.device
}

// Backend returns the active backend.
func (a *Accelerator) Backend() driver.Backend {
	return a.backend
}

// IsGPU reports whether the active backend is a hardware GPU.
func (a *Accelerator) IsGPU() bool {
	return a.backend == driver.BackendCUDA || a.backend == driver.BackendOpenCL
}

// DeviceName returns the device name.
func (a *Accelerator) DeviceName() string {
	if a.device == nil {
		return "none"
	}
	return a.device.Name()
}

// DeviceMemoryMB returns the device memory in megabytes.
func (a *Accelerator) DeviceMemoryMB() int {
	if a.device == nil {
		return 0
	}
	return int(a.device.MemoryBytes() / (1024 * 1024))
}

// Stats returns device usage statistics.
func (a *Accelerator) Stats() AcceleratorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

func (a *Accelerator) recordUpload(bytes int) {
	a.mu.Lock()
	a.stats.BytesUploaded += int64(bytes)
	a.mu.Unlock()
}

func (a *Accelerator) recordDownload(bytes int) {
	a.mu.Lock()
	a.stats.BytesDownloaded += int64(bytes)
	a.mu.Unlock()
}

func (a *Accelerator) recordLaunch(elapsed time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.KernelLaunches++
	if err != nil {
		a.stats.KernelFailures++
		return
	}
	a.stats.KernelTime += elapsed
}

// BackendInfo describes one backend's availability on this host.
type BackendInfo struct {
	Backend   driver.Backend
	Available bool
	Devices   int
	Note      string
}

// Probe reports every backend's availability without opening a device.
func Probe() []BackendInfo {
	infos := []BackendInfo{
		{Backend: driver.BackendCUDA, Available: cuda.IsAvailable(), Devices: cuda.DeviceCount()},
		{Backend: driver.BackendOpenCL, Available: opencl.IsAvailable(), Devices: opencl.DeviceCount()},
		{Backend: driver.BackendSoftware, Available: sim.IsAvailable(), Devices: sim.DeviceCount(),
			Note: fmt.Sprintf("%d CPU threads", runtime.GOMAXPROCS(0))},
	}
	for i := range infos {
		if !infos[i].Available && infos[i].Note == "" {
			infos[i].Note = "not built in or no device (build with -tags " + infos[i].Backend.String() + ")"
		}
	}
	return infos
}
