// Package driver defines the device-neutral surface every compute backend
// implements: devices, device buffers, kernel modules, functions and streams.
//
// The interfaces mirror the CUDA driver model closely enough that the CUDA,
// OpenCL and software backends can each implement them without adapters:
//
//	dev, _ := sim.NewDevice(0, sim.Options{})
//	defer dev.Release()
//
//	mod, _ := dev.LoadModule(kernels.Image(driver.BackendSoftware, 16))
//	fn, _ := mod.Function(kernels.MatMulTiled)
//
//	stream, _ := dev.NewStream()
//	_ = fn.Launch(stream, driver.TiledLaunch(n, 16), a, b, c, n)
//	_ = stream.Synchronize()
//
// Launch is asynchronous; Synchronize is the only call that blocks on device
// work.
package driver

// Backend identifies a driver implementation.
type Backend string

const (
	BackendNone     Backend = "none"
	BackendSoftware Backend = "software"
	BackendCUDA     Backend = "cuda"
	BackendOpenCL   Backend = "opencl"
)

// String implements fmt.Stringer.
func (b Backend) String() string {
	if b == "" {
		return string(BackendNone)
	}
	return string(b)
}

// ParseBackend maps a config string to a Backend. "auto" and "" map to
// BackendNone, meaning no preference.
func ParseBackend(s string) (Backend, bool) {
	switch s {
	case "", "auto", "none":
		return BackendNone, true
	case "software", "sim", "cpu":
		return BackendSoftware, true
	case "cuda":
		return BackendCUDA, true
	case "opencl":
		return BackendOpenCL, true
	}
	return BackendNone, false
}

// Limits describes what a device accepts in a single launch.
type Limits struct {
	MaxThreadsPerBlock int
	MaxBlockDim        Dim3
	MaxGridDim         Dim3
	MaxSharedBytes     int
}

// DefaultLimits are the CUDA compute capability 3.x+ limits, used by the
// software device and as a fallback when a real device cannot be queried.
func DefaultLimits() Limits {
	return Limits{
		MaxThreadsPerBlock: 1024,
		MaxBlockDim:        Dim3{X: 1024, Y: 1024, Z: 64},
		MaxGridDim:         Dim3{X: 1<<31 - 1, Y: 65535, Z: 65535},
		MaxSharedBytes:     48 * 1024,
	}
}

// Device is an initialized compute device with its own memory.
type Device interface {
	Backend() Backend
	Name() string
	MemoryBytes() uint64
	Limits() Limits

	// SuggestedBlockEdge returns the edge length of a square block the device
	// considers a good fit for a 2-D kernel.
	SuggestedBlockEdge() int

	// Alloc reserves count float32 elements of device memory.
	Alloc(count int) (Buffer, error)

	// LoadModule loads a kernel artifact and exposes its entry points by name.
	LoadModule(img ModuleImage) (Module, error)

	// NewStream creates an in-order command queue.
	NewStream() (Stream, error)

	Release()
}

// Buffer is a float32 allocation resident on a device.
type Buffer interface {
	// Len returns the element count.
	Len() int

	// CopyFromHost copies src into the start of the buffer. It returns when
	// the copy has completed.
	CopyFromHost(src []float32) error

	// CopyToHost copies the start of the buffer into dst. It returns when the
	// copy has completed.
	CopyToHost(dst []float32) error

	Release()
}

// Module is a loaded kernel artifact.
type Module interface {
	// Function looks up an entry point by name.
	Function(name string) (Function, error)

	// Entries lists the entry point names the module declares.
	Entries() []string

	Release()
}

// Function is a launchable kernel entry point.
type Function interface {
	Name() string

	// Launch enqueues the kernel on stream. Arguments are Buffers and
	// integers, in the kernel's parameter order. An invalid configuration or
	// argument list fails immediately with ErrLaunch; execution failures are
	// reported by Stream.Synchronize.
	Launch(stream Stream, cfg LaunchConfig, args ...any) error
}

// Stream is an in-order device command queue.
type Stream interface {
	// Synchronize blocks until all work queued on the stream has finished and
	// returns the first execution error, if any.
	Synchronize() error

	Release()
}
