//go:build cuda && (linux || windows)
// +build cuda
// +build linux windows

// Package cuda provides NVIDIA GPU acceleration using CUDA.
package cuda

/*
#cgo linux CFLAGS: -I/usr/local/cuda/include
#cgo linux LDFLAGS: -L/usr/local/cuda/lib64 -L/usr/lib/x86_64-linux-gnu -lcuda -lnvrtc
#cgo windows CFLAGS: -I"C:/Program Files/NVIDIA GPU Computing Toolkit/CUDA/v12.0/include"
#cgo windows LDFLAGS: -L"C:/Program Files/NVIDIA GPU Computing Toolkit/CUDA/v12.0/lib/x64" -lcuda -lnvrtc

#include <cuda.h>
#include <nvrtc.h>
#include <stdlib.h>
#include <string.h>
#include <stdio.h>

// Error handling
static char cuda_last_error[4096] = {0};

void cuda_set_error(const char* msg) {
    strncpy(cuda_last_error, msg, sizeof(cuda_last_error) - 1);
}

const char* cuda_get_last_error() {
    return cuda_last_error;
}

void cuda_clear_error() {
    cuda_last_error[0] = 0;
}

static int cuda_fail(const char* what, CUresult res) {
    const char* name = NULL;
    const char* desc = NULL;
    cuGetErrorName(res, &name);
    cuGetErrorString(res, &desc);
    char msg[512];
    snprintf(msg, sizeof(msg), "%s: %s (%s)", what, name ? name : "CUDA_ERROR_UNKNOWN", desc ? desc : "unknown error");
    cuda_set_error(msg);
    return (int)res;
}

static int cuda_initialized = 0;

int cuda_init() {
    if (cuda_initialized) return 0;
    CUresult res = cuInit(0);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuInit", res);
    }
    cuda_initialized = 1;
    return 0;
}

int cuda_get_device_count() {
    if (cuda_init() != 0) return 0;
    int count = 0;
    if (cuDeviceGetCount(&count) != CUDA_SUCCESS) return 0;
    return count;
}

int cuda_is_available() {
    return cuda_get_device_count() > 0 ? 1 : 0;
}

typedef struct {
    CUdevice device;
    CUcontext context;
    int device_id;
    char name[256];
    size_t memory;
    int cc_major;
    int cc_minor;
    int max_threads;
    int max_block[3];
    int max_grid[3];
    int max_shared;
} CUDADevice;

static int attr(CUdevice dev, CUdevice_attribute a) {
    int v = 0;
    cuDeviceGetAttribute(&v, a, dev);
    return v;
}

CUDADevice* cuda_create_device(int device_id) {
    CUresult res;
    if (cuda_init() != 0) return NULL;

    CUDADevice* dev = (CUDADevice*)malloc(sizeof(CUDADevice));
    if (!dev) {
        cuda_set_error("Failed to allocate device struct");
        return NULL;
    }
    memset(dev, 0, sizeof(CUDADevice));
    dev->device_id = device_id;

    res = cuDeviceGet(&dev->device, device_id);
    if (res != CUDA_SUCCESS) {
        cuda_fail("cuDeviceGet", res);
        free(dev);
        return NULL;
    }

    res = cuDevicePrimaryCtxRetain(&dev->context, dev->device);
    if (res != CUDA_SUCCESS) {
        cuda_fail("cuDevicePrimaryCtxRetain", res);
        free(dev);
        return NULL;
    }

    cuDeviceGetName(dev->name, sizeof(dev->name), dev->device);
    cuDeviceTotalMem(&dev->memory, dev->device);
    dev->cc_major = attr(dev->device, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MAJOR);
    dev->cc_minor = attr(dev->device, CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MINOR);
    dev->max_threads = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_THREADS_PER_BLOCK);
    dev->max_block[0] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_X);
    dev->max_block[1] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_Y);
    dev->max_block[2] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_Z);
    dev->max_grid[0] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_X);
    dev->max_grid[1] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Y);
    dev->max_grid[2] = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Z);
    dev->max_shared = attr(dev->device, CU_DEVICE_ATTRIBUTE_MAX_SHARED_MEMORY_PER_BLOCK);
    return dev;
}

void cuda_release_device(CUDADevice* dev) {
    if (dev) {
        cuDevicePrimaryCtxRelease(dev->device);
        free(dev);
    }
}

// The context is current per OS thread, and goroutines migrate between
// threads, so every entry point makes it current first.
static int cuda_bind(CUDADevice* dev) {
    CUresult res = cuCtxSetCurrent(dev->context);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuCtxSetCurrent", res);
    }
    return 0;
}

// Memory

int cuda_alloc(CUDADevice* dev, size_t bytes, CUdeviceptr* out) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuMemAlloc(out, bytes);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuMemAlloc", res);
    }
    res = cuMemsetD32(*out, 0, bytes / 4);
    if (res != CUDA_SUCCESS) {
        cuMemFree(*out);
        return cuda_fail("cuMemsetD32", res);
    }
    return 0;
}

void cuda_free(CUDADevice* dev, CUdeviceptr ptr) {
    if (cuda_bind(dev) == 0) cuMemFree(ptr);
}

int cuda_copy_htod(CUDADevice* dev, CUdeviceptr dst, const void* src, size_t bytes) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuMemcpyHtoD(dst, src, bytes);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuMemcpyHtoD", res);
    }
    return 0;
}

int cuda_copy_dtoh(CUDADevice* dev, void* dst, CUdeviceptr src, size_t bytes) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuMemcpyDtoH(dst, src, bytes);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuMemcpyDtoH", res);
    }
    return 0;
}

// Compilation

// cuda_compile runs NVRTC over CUDA C source and returns malloc'd PTX.
char* cuda_compile(const char* source, const char* name, const char** opts, int nopts) {
    nvrtcProgram prog;
    nvrtcResult res = nvrtcCreateProgram(&prog, source, name, 0, NULL, NULL);
    if (res != NVRTC_SUCCESS) {
        char msg[256];
        snprintf(msg, sizeof(msg), "nvrtcCreateProgram: %s", nvrtcGetErrorString(res));
        cuda_set_error(msg);
        return NULL;
    }

    res = nvrtcCompileProgram(prog, nopts, opts);
    if (res != NVRTC_SUCCESS) {
        size_t log_size = 0;
        nvrtcGetProgramLogSize(prog, &log_size);
        char* log = (char*)malloc(log_size + 1);
        nvrtcGetProgramLog(prog, log);
        log[log_size] = '\0';

        char msg[4096];
        snprintf(msg, sizeof(msg), "nvrtcCompileProgram: %s\n%s", nvrtcGetErrorString(res), log);
        cuda_set_error(msg);

        free(log);
        nvrtcDestroyProgram(&prog);
        return NULL;
    }

    size_t ptx_size = 0;
    nvrtcGetPTXSize(prog, &ptx_size);
    char* ptx = (char*)malloc(ptx_size);
    nvrtcGetPTX(prog, ptx);
    nvrtcDestroyProgram(&prog);
    return ptx;
}

int cuda_module_load(CUDADevice* dev, const char* ptx, CUmodule* out) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuModuleLoadData(out, ptx);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuModuleLoadData", res);
    }
    return 0;
}

void cuda_module_unload(CUDADevice* dev, CUmodule mod) {
    if (cuda_bind(dev) == 0) cuModuleUnload(mod);
}

int cuda_module_function(CUDADevice* dev, CUmodule mod, const char* name, CUfunction* out) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuModuleGetFunction(out, mod, name);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuModuleGetFunction", res);
    }
    return 0;
}

// Streams and launch

int cuda_stream_create(CUDADevice* dev, CUstream* out) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuStreamCreate(out, CU_STREAM_NON_BLOCKING);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuStreamCreate", res);
    }
    return 0;
}

void cuda_stream_destroy(CUDADevice* dev, CUstream stream) {
    if (cuda_bind(dev) == 0) cuStreamDestroy(stream);
}

int cuda_stream_sync(CUDADevice* dev, CUstream stream) {
    if (cuda_bind(dev) != 0) return -1;
    CUresult res = cuStreamSynchronize(stream);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuStreamSynchronize", res);
    }
    return 0;
}

// cuda_launch passes nargs parameters; each lives in an 8-byte slot and is
// read by the driver at its declared size.
int cuda_launch(CUDADevice* dev, CUfunction fn,
                unsigned int gx, unsigned int gy, unsigned int gz,
                unsigned int bx, unsigned int by, unsigned int bz,
                unsigned int shared, CUstream stream,
                unsigned long long* slots, int nargs) {
    if (cuda_bind(dev) != 0) return -1;

    void* params[16];
    if (nargs > 16) {
        cuda_set_error("too many kernel arguments");
        return -1;
    }
    for (int i = 0; i < nargs; i++) {
        params[i] = &slots[i];
    }

    CUresult res = cuLaunchKernel(fn, gx, gy, gz, bx, by, bz, shared, stream, params, NULL);
    if (res != CUDA_SUCCESS) {
        return cuda_fail("cuLaunchKernel", res);
    }
    return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

const backend = driver.BackendCUDA

// ErrCUDANotAvailable is returned by NewDevice when no CUDA device is
// present.
var ErrCUDANotAvailable = errors.New("cuda: CUDA is not available on this system")

func lastError() error {
	msg := C.GoString(C.cuda_get_last_error())
	C.cuda_clear_error()
	if msg == "" {
		msg = "unknown CUDA error"
	}
	return errors.New(msg)
}

// IsAvailable checks if CUDA is available on this system.
func IsAvailable() bool {
	return C.cuda_is_available() != 0
}

// DeviceCount returns the number of CUDA devices.
func DeviceCount() int {
	return int(C.cuda_get_device_count())
}

// Device represents a CUDA GPU device bound to its primary context.
type Device struct {
	ptr    *C.CUDADevice
	id     int
	name   string
	memory uint64
	major  int
	minor  int
	limits driver.Limits
	mu     sync.Mutex
}

// NewDevice opens the device with the given ordinal.
func NewDevice(deviceID int) (*Device, error) {
	if !IsAvailable() {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "open", ErrCUDANotAvailable)
	}
	if deviceID < 0 || deviceID >= DeviceCount() {
		return nil, driver.Errorf(backend, driver.ErrDeviceInit, "open", "invalid device ordinal %d", deviceID)
	}

	ptr := C.cuda_create_device(C.int(deviceID))
	if ptr == nil {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "open", lastError())
	}

	return &Device{
		ptr:    ptr,
		id:     deviceID,
		name:   C.GoString(&ptr.name[0]),
		memory: uint64(ptr.memory),
		major:  int(ptr.cc_major),
		minor:  int(ptr.cc_minor),
		limits: driver.Limits{
			MaxThreadsPerBlock: int(ptr.max_threads),
			MaxBlockDim:        driver.Dim3{X: uint32(ptr.max_block[0]), Y: uint32(ptr.max_block[1]), Z: uint32(ptr.max_block[2])},
			MaxGridDim:         driver.Dim3{X: uint32(ptr.max_grid[0]), Y: uint32(ptr.max_grid[1]), Z: uint32(ptr.max_grid[2])},
			MaxSharedBytes:     int(ptr.max_shared),
		},
	}, nil
}

// Release frees the device's context reference.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ptr != nil {
		C.cuda_release_device(d.ptr)
		d.ptr = nil
	}
}

// Backend implements driver.Device.
func (d *Device) Backend() driver.Backend { return backend }

// ID returns the device ordinal.
func (d *Device) ID() int { return d.id }

// Name returns the GPU device name.
func (d *Device) Name() string { return d.name }

// MemoryBytes returns the GPU memory size in bytes.
func (d *Device) MemoryBytes() uint64 { return d.memory }

// MemoryMB returns the GPU memory size in megabytes.
func (d *Device) MemoryMB() int { return int(d.memory / (1024 * 1024)) }

// ComputeCapability returns the major and minor compute capability.
func (d *Device) ComputeCapability() (int, int) { return d.major, d.minor }

// Limits implements driver.Device.
func (d *Device) Limits() driver.Limits { return d.limits }

// SuggestedBlockEdge implements driver.Device. 16×16 keeps 256 threads per
// block on every supported architecture; devices limited below that get the
// largest power-of-two edge that fits.
func (d *Device) SuggestedBlockEdge() int {
	edge := driver.DefaultTileSize
	for edge > 1 && edge*edge > d.limits.MaxThreadsPerBlock {
		edge /= 2
	}
	return edge
}

func (d *Device) handle() (*C.CUDADevice, error) {
	if d.ptr == nil {
		return nil, errors.New("device released")
	}
	return d.ptr, nil
}

// Buffer is device memory holding float32 elements.
type Buffer struct {
	device *Device
	ptr    C.CUdeviceptr
	count  int
}

// Alloc implements driver.Device. The buffer is zero-filled.
func (d *Device) Alloc(count int) (driver.Buffer, error) {
	if count <= 0 {
		return nil, driver.Errorf(backend, driver.ErrAllocation, "alloc", "invalid element count %d", count)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	h, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrAllocation, "alloc", err)
	}
	var ptr C.CUdeviceptr
	if C.cuda_alloc(h, C.size_t(count)*4, &ptr) != 0 {
		return nil, driver.Wrap(backend, driver.ErrAllocation, "alloc", lastError())
	}
	return &Buffer{device: d, ptr: ptr, count: count}, nil
}

// Len implements driver.Buffer.
func (b *Buffer) Len() int { return b.count }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return uint64(b.count) * 4 }

// CopyFromHost implements driver.Buffer. The copy is synchronous.
func (b *Buffer) CopyFromHost(src []float32) error {
	if b.ptr == 0 {
		return driver.Errorf(backend, driver.ErrTransfer, "copy htod", "buffer released")
	}
	if len(src) > b.count {
		return driver.Errorf(backend, driver.ErrTransfer, "copy htod",
			"source has %d elements, buffer holds %d", len(src), b.count)
	}
	if len(src) == 0 {
		return nil
	}

	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	h, err := b.device.handle()
	if err != nil {
		return driver.Wrap(backend, driver.ErrTransfer, "copy htod", err)
	}
	if C.cuda_copy_htod(h, b.ptr, unsafe.Pointer(&src[0]), C.size_t(len(src))*4) != 0 {
		return driver.Wrap(backend, driver.ErrTransfer, "copy htod", lastError())
	}
	return nil
}

// CopyToHost implements driver.Buffer. The copy is synchronous.
func (b *Buffer) CopyToHost(dst []float32) error {
	if b.ptr == 0 {
		return driver.Errorf(backend, driver.ErrTransfer, "copy dtoh", "buffer released")
	}
	if len(dst) > b.count {
		return driver.Errorf(backend, driver.ErrTransfer, "copy dtoh",
			"destination has %d elements, buffer holds %d", len(dst), b.count)
	}
	if len(dst) == 0 {
		return nil
	}

	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	h, err := b.device.handle()
	if err != nil {
		return driver.Wrap(backend, driver.ErrTransfer, "copy dtoh", err)
	}
	if C.cuda_copy_dtoh(h, unsafe.Pointer(&dst[0]), b.ptr, C.size_t(len(dst))*4) != 0 {
		return driver.Wrap(backend, driver.ErrTransfer, "copy dtoh", lastError())
	}
	return nil
}

// Release frees the device memory.
func (b *Buffer) Release() {
	if b.ptr == 0 {
		return
	}
	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	if h, err := b.device.handle(); err == nil {
		C.cuda_free(h, b.ptr)
	}
	b.ptr = 0
}

// Module is a loaded CUDA module.
type Module struct {
	device  *Device
	name    string
	mod     C.CUmodule
	entries []string
	fns     map[string]*Function
}

// LoadModule implements driver.Device. CUDA C images are compiled with
// NVRTC for the device's compute capability, with the image options passed
// to the compiler; PTX images are loaded directly.
func (d *Device) LoadModule(img driver.ModuleImage) (driver.Module, error) {
	entries := img.Entries()
	if len(entries) == 0 {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module", "%s: no kernel entry points", img.Name)
	}

	var ptx string
	switch img.Format {
	case driver.FormatPTX:
		ptx = img.Source
	case driver.FormatCUDA:
		var err error
		ptx, err = d.compile(img)
		if err != nil {
			return nil, err
		}
	default:
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
			"%s: unsupported image format %s", img.Name, img.Format)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	h, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrModuleLoad, "load module", err)
	}

	cptx := C.CString(ptx)
	defer C.free(unsafe.Pointer(cptx))

	var mod C.CUmodule
	if C.cuda_module_load(h, cptx, &mod) != 0 {
		return nil, driver.Wrap(backend, driver.ErrModuleLoad, "load "+img.Name, lastError())
	}

	m := &Module{
		device:  d,
		name:    img.Name,
		mod:     mod,
		entries: entries,
		fns:     make(map[string]*Function, len(entries)),
	}
	for _, name := range entries {
		cname := C.CString(name)
		var fn C.CUfunction
		rc := C.cuda_module_function(h, mod, cname, &fn)
		C.free(unsafe.Pointer(cname))
		if rc != 0 {
			err := lastError()
			C.cuda_module_unload(h, mod)
			return nil, driver.Wrap(backend, driver.ErrModuleLoad, "get function", err)
		}
		m.fns[name] = &Function{module: m, name: name, fn: fn}
	}
	return m, nil
}

// compile runs NVRTC over a CUDA C image.
func (d *Device) compile(img driver.ModuleImage) (string, error) {
	opts := append([]string{fmt.Sprintf("--gpu-architecture=compute_%d%d", d.major, d.minor)}, img.Options...)

	copts := make([]*C.char, len(opts))
	for i, o := range opts {
		copts[i] = C.CString(o)
	}
	defer func() {
		for _, o := range copts {
			C.free(unsafe.Pointer(o))
		}
	}()
	csrc := C.CString(img.Source)
	defer C.free(unsafe.Pointer(csrc))
	cname := C.CString(img.Name)
	defer C.free(unsafe.Pointer(cname))

	// copts is Go memory holding C pointers, which cgo allows passing.
	ptx := C.cuda_compile(csrc, cname, &copts[0], C.int(len(copts)))
	if ptx == nil {
		return "", driver.Wrap(backend, driver.ErrModuleLoad, "compile "+img.Name, lastError())
	}
	defer C.free(unsafe.Pointer(ptx))
	return C.GoString(ptx), nil
}

// Entries implements driver.Module.
func (m *Module) Entries() []string {
	return append([]string(nil), m.entries...)
}

// Function implements driver.Module.
func (m *Module) Function(name string) (driver.Function, error) {
	if m.mod == nil {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "get function", "%s: module released", m.name)
	}
	fn, ok := m.fns[name]
	if !ok {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "get function",
			"%s: no entry point named %q", m.name, name)
	}
	return fn, nil
}

// Release implements driver.Module.
func (m *Module) Release() {
	if m.mod == nil {
		return
	}
	m.device.mu.Lock()
	defer m.device.mu.Unlock()

	if h, err := m.device.handle(); err == nil {
		C.cuda_module_unload(h, m.mod)
	}
	m.mod = nil
}

// Function is a kernel entry point.
type Function struct {
	module *Module
	name   string
	fn     C.CUfunction
}

// Name implements driver.Function.
func (f *Function) Name() string { return f.name }

// Launch implements driver.Function. Arguments are *Buffer (passed as a
// device pointer) or non-negative integers (passed as unsigned int).
func (f *Function) Launch(stream driver.Stream, cfg driver.LaunchConfig, args ...any) error {
	s, ok := stream.(*Stream)
	if !ok || s == nil || s.device != f.module.device {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "stream does not belong to this device")
	}
	if f.module.mod == nil {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "%s: module released", f.name)
	}
	if err := cfg.Validate(backend, s.device.limits); err != nil {
		return err
	}

	slots := make([]C.ulonglong, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case *Buffer:
			if v == nil || v.ptr == 0 || v.device != s.device {
				return driver.Errorf(backend, driver.ErrLaunch, "launch", "%s argument %d: invalid buffer", f.name, i)
			}
			slots[i] = C.ulonglong(v.ptr)
		default:
			n, ok := toUint32(arg)
			if !ok {
				return driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: unsupported type %T", f.name, i, arg)
			}
			slots[i] = C.ulonglong(n)
		}
	}

	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	h, err := s.device.handle()
	if err != nil {
		return driver.Wrap(backend, driver.ErrLaunch, "launch", err)
	}
	var slotPtr *C.ulonglong
	if len(slots) > 0 {
		slotPtr = &slots[0]
	}
	rc := C.cuda_launch(h, f.fn,
		C.uint(cfg.Grid.X), C.uint(cfg.Grid.Y), C.uint(cfg.Grid.Z),
		C.uint(cfg.Block.X), C.uint(cfg.Block.Y), C.uint(cfg.Block.Z),
		C.uint(cfg.SharedBytes), s.stream, slotPtr, C.int(len(slots)))
	if rc != 0 {
		return driver.Wrap(backend, driver.ErrLaunch, "launch "+f.name, lastError())
	}
	return nil
}

func toUint32(v any) (uint32, bool) {
	switch x := v.(type) {
	case uint32:
		return x, true
	case int:
		return uint32(x), x >= 0 && uint64(x) <= math.MaxUint32
	case int32:
		return uint32(x), x >= 0
	case int64:
		return uint32(x), x >= 0 && x <= math.MaxUint32
	case uint:
		return uint32(x), uint64(x) <= math.MaxUint32
	case uint64:
		return uint32(x), x <= math.MaxUint32
	}
	return 0, false
}

// Stream is a CUDA stream.
type Stream struct {
	device *Device
	stream C.CUstream
}

// NewStream implements driver.Device.
func (d *Device) NewStream() (driver.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "stream", err)
	}
	var stream C.CUstream
	if C.cuda_stream_create(h, &stream) != 0 {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "stream", lastError())
	}
	return &Stream{device: d, stream: stream}, nil
}

// Synchronize implements driver.Stream. Errors raised by kernels while they
// ran surface here.
func (s *Stream) Synchronize() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	h, err := s.device.handle()
	if err != nil {
		return driver.Wrap(backend, driver.ErrLaunch, "synchronize", err)
	}
	if s.stream == nil {
		return driver.Errorf(backend, driver.ErrLaunch, "synchronize", "stream released")
	}
	if C.cuda_stream_sync(h, s.stream) != 0 {
		return driver.Wrap(backend, driver.ErrLaunch, "synchronize", lastError())
	}
	return nil
}

// Release implements driver.Stream.
func (s *Stream) Release() {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()

	if s.stream == nil {
		return
	}
	if h, err := s.device.handle(); err == nil {
		C.cuda_stream_destroy(h, s.stream)
	}
	s.stream = nil
}
