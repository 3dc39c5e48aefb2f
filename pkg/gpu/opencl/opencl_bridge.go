//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

// Package opencl provides cross-platform GPU acceleration using OpenCL.
package opencl

/*
#cgo linux CFLAGS: -I/opt/rocm/include -I/usr/include -DCL_TARGET_OPENCL_VERSION=120
#cgo linux LDFLAGS: -L/opt/rocm/lib -L/usr/lib/x86_64-linux-gnu -lOpenCL
#cgo darwin CFLAGS: -DCL_SILENCE_DEPRECATION
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
#cgo windows LDFLAGS: -lOpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
#include <string.h>
#include <stdio.h>

// Error handling
static char opencl_last_error[1024] = {0};

void opencl_set_error(const char* msg) {
    strncpy(opencl_last_error, msg, sizeof(opencl_last_error) - 1);
}

const char* opencl_get_last_error() {
    return opencl_last_error;
}

void opencl_clear_error() {
    opencl_last_error[0] = 0;
}

const char* opencl_error_string(cl_int error) {
    switch (error) {
        case CL_SUCCESS: return "CL_SUCCESS";
        case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
        case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
        case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
        case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
        case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
        case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
        case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
        case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
        case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
        case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
        case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
        case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
        case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
        case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
        case CL_INVALID_HOST_PTR: return "CL_INVALID_HOST_PTR";
        case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
        case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
        case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
        case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
        case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
        case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
        case CL_INVALID_KERNEL_DEFINITION: return "CL_INVALID_KERNEL_DEFINITION";
        case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
        case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
        case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
        case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
        case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
        case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
        case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
        case CL_INVALID_WORK_ITEM_SIZE: return "CL_INVALID_WORK_ITEM_SIZE";
        case CL_INVALID_GLOBAL_OFFSET: return "CL_INVALID_GLOBAL_OFFSET";
        case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
        default: return "Unknown OpenCL error";
    }
}

static void opencl_fail(const char* what, cl_int err) {
    char msg[256];
    snprintf(msg, sizeof(msg), "%s: %s", what, opencl_error_string(err));
    opencl_set_error(msg);
}

typedef struct {
    cl_platform_id platform;
    cl_device_id device;
    cl_context context;
    cl_command_queue queue;
    int device_id;
} OpenCLDevice;

// Get number of GPU devices across all platforms
int opencl_get_device_count() {
    cl_uint num_platforms;
    cl_int err = clGetPlatformIDs(0, NULL, &num_platforms);
    if (err != CL_SUCCESS || num_platforms == 0) {
        return 0;
    }

    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int total_devices = 0;
    for (cl_uint i = 0; i < num_platforms; i++) {
        cl_uint num_devices;
        err = clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, 0, NULL, &num_devices);
        if (err == CL_SUCCESS) {
            total_devices += num_devices;
        }
    }

    free(platforms);
    return total_devices;
}

int opencl_is_available() {
    return opencl_get_device_count() > 0 ? 1 : 0;
}

// Get Nth GPU device across all platforms
int opencl_get_device_by_index(int index, cl_platform_id* out_platform, cl_device_id* out_device) {
    cl_uint num_platforms;
    cl_int err = clGetPlatformIDs(0, NULL, &num_platforms);
    if (err != CL_SUCCESS || num_platforms == 0) {
        return -1;
    }

    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int current_index = 0;
    for (cl_uint i = 0; i < num_platforms; i++) {
        cl_uint num_devices;
        err = clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, 0, NULL, &num_devices);
        if (err != CL_SUCCESS) continue;

        if (index < current_index + (int)num_devices) {
            cl_device_id* devices = (cl_device_id*)malloc(num_devices * sizeof(cl_device_id));
            clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_GPU, num_devices, devices, NULL);
            *out_platform = platforms[i];
            *out_device = devices[index - current_index];
            free(devices);
            free(platforms);
            return 0;
        }
        current_index += num_devices;
    }

    free(platforms);
    return -1;
}

OpenCLDevice* opencl_create_device(int device_id) {
    if (device_id < 0) {
        opencl_set_error("Invalid device ordinal");
        return NULL;
    }

    OpenCLDevice* dev = (OpenCLDevice*)malloc(sizeof(OpenCLDevice));
    if (!dev) {
        opencl_set_error("Failed to allocate device struct");
        return NULL;
    }
    memset(dev, 0, sizeof(OpenCLDevice));
    dev->device_id = device_id;

    if (opencl_get_device_by_index(device_id, &dev->platform, &dev->device) != 0) {
        opencl_set_error("Device not found");
        free(dev);
        return NULL;
    }

    cl_int err;
    dev->context = clCreateContext(NULL, 1, &dev->device, NULL, NULL, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to create context", err);
        free(dev);
        return NULL;
    }

    // Host transfers go through this queue; kernels run on stream queues.
    dev->queue = clCreateCommandQueue(dev->context, dev->device, 0, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to create command queue", err);
        clReleaseContext(dev->context);
        free(dev);
        return NULL;
    }

    return dev;
}

void opencl_release_device(OpenCLDevice* dev) {
    if (dev) {
        if (dev->queue) clReleaseCommandQueue(dev->queue);
        if (dev->context) clReleaseContext(dev->context);
        free(dev);
    }
}

const char* opencl_device_name(OpenCLDevice* dev) {
    static char name[256];
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_NAME, sizeof(name), name, NULL);
    if (err != CL_SUCCESS) {
        return "Unknown";
    }
    return name;
}

const char* opencl_device_vendor(OpenCLDevice* dev) {
    static char vendor[256];
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_VENDOR, sizeof(vendor), vendor, NULL);
    if (err != CL_SUCCESS) {
        return "Unknown";
    }
    return vendor;
}

unsigned long long opencl_device_memory(OpenCLDevice* dev) {
    cl_ulong mem_size;
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_GLOBAL_MEM_SIZE, sizeof(mem_size), &mem_size, NULL);
    if (err != CL_SUCCESS) {
        return 0;
    }
    return (unsigned long long)mem_size;
}

size_t opencl_max_work_group_size(OpenCLDevice* dev) {
    size_t max_size;
    cl_int err = clGetDeviceInfo(dev->device, CL_DEVICE_MAX_WORK_GROUP_SIZE, sizeof(max_size), &max_size, NULL);
    if (err != CL_SUCCESS) {
        return 256; // Default fallback
    }
    return max_size;
}

void opencl_max_work_item_sizes(OpenCLDevice* dev, size_t* out3) {
    size_t sizes[3] = {256, 256, 64};
    if (clGetDeviceInfo(dev->device, CL_DEVICE_MAX_WORK_ITEM_SIZES, sizeof(sizes), sizes, NULL) != CL_SUCCESS) {
        sizes[0] = 256; sizes[1] = 256; sizes[2] = 64;
    }
    out3[0] = sizes[0]; out3[1] = sizes[1]; out3[2] = sizes[2];
}

unsigned long long opencl_local_mem_size(OpenCLDevice* dev) {
    cl_ulong size;
    if (clGetDeviceInfo(dev->device, CL_DEVICE_LOCAL_MEM_SIZE, sizeof(size), &size, NULL) != CL_SUCCESS) {
        return 16384;
    }
    return (unsigned long long)size;
}

// Buffer management
typedef struct {
    cl_mem mem;
    size_t size;
    OpenCLDevice* device;
} OpenCLBuffer;

OpenCLBuffer* opencl_create_buffer(OpenCLDevice* dev, size_t count) {
    OpenCLBuffer* buf = (OpenCLBuffer*)malloc(sizeof(OpenCLBuffer));
    if (!buf) {
        opencl_set_error("Failed to allocate buffer struct");
        return NULL;
    }

    buf->size = count * sizeof(float);
    buf->device = dev;

    cl_int err;
    buf->mem = clCreateBuffer(dev->context, CL_MEM_READ_WRITE, buf->size, NULL, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to create buffer", err);
        free(buf);
        return NULL;
    }

    // Zero the buffer so fresh allocations match the other backends.
    float zero = 0.0f;
    err = clEnqueueFillBuffer(dev->queue, buf->mem, &zero, sizeof(zero), 0, buf->size, 0, NULL, NULL);
    if (err == CL_SUCCESS) {
        err = clFinish(dev->queue);
    }
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to clear buffer", err);
        clReleaseMemObject(buf->mem);
        free(buf);
        return NULL;
    }

    return buf;
}

void opencl_release_buffer(OpenCLBuffer* buf) {
    if (buf) {
        if (buf->mem) clReleaseMemObject(buf->mem);
        free(buf);
    }
}

int opencl_buffer_copy_from_host(OpenCLBuffer* buf, const float* host_data, size_t count) {
    if (!buf || !host_data) return -1;

    cl_int err = clEnqueueWriteBuffer(buf->device->queue, buf->mem, CL_TRUE, 0, count * sizeof(float), host_data, 0, NULL, NULL);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to write buffer", err);
        return -1;
    }
    return 0;
}

int opencl_buffer_copy_to_host(OpenCLBuffer* buf, float* host_data, size_t count) {
    if (!buf || !host_data) return -1;

    cl_int err = clEnqueueReadBuffer(buf->device->queue, buf->mem, CL_TRUE, 0, count * sizeof(float), host_data, 0, NULL, NULL);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to read buffer", err);
        return -1;
    }
    return 0;
}

// Programs and kernels

cl_program opencl_build_program(OpenCLDevice* dev, const char* source, const char* options) {
    cl_int err;
    size_t source_len = strlen(source);
    cl_program program = clCreateProgramWithSource(dev->context, 1, &source, &source_len, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to create program", err);
        return NULL;
    }

    err = clBuildProgram(program, 1, &dev->device, options, NULL, NULL);
    if (err != CL_SUCCESS) {
        size_t log_size = 0;
        clGetProgramBuildInfo(program, dev->device, CL_PROGRAM_BUILD_LOG, 0, NULL, &log_size);
        char* log = (char*)malloc(log_size + 1);
        clGetProgramBuildInfo(program, dev->device, CL_PROGRAM_BUILD_LOG, log_size, log, NULL);
        log[log_size] = '\0';

        char msg[1024];
        snprintf(msg, sizeof(msg), "Failed to build program: %s", log);
        opencl_set_error(msg);

        free(log);
        clReleaseProgram(program);
        return NULL;
    }
    return program;
}

void opencl_release_program(cl_program program) {
    if (program) clReleaseProgram(program);
}

cl_kernel opencl_create_kernel(cl_program program, const char* name) {
    cl_int err;
    cl_kernel kernel = clCreateKernel(program, name, &err);
    if (err != CL_SUCCESS) {
        char msg[256];
        snprintf(msg, sizeof(msg), "Failed to create kernel %s: %s", name, opencl_error_string(err));
        opencl_set_error(msg);
        return NULL;
    }
    return kernel;
}

void opencl_release_kernel(cl_kernel kernel) {
    if (kernel) clReleaseKernel(kernel);
}

int opencl_set_arg_buffer(cl_kernel kernel, unsigned int index, OpenCLBuffer* buf) {
    cl_int err = clSetKernelArg(kernel, index, sizeof(cl_mem), &buf->mem);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to set buffer argument", err);
        return -1;
    }
    return 0;
}

int opencl_set_arg_uint(cl_kernel kernel, unsigned int index, unsigned int value) {
    cl_uint v = value;
    cl_int err = clSetKernelArg(kernel, index, sizeof(cl_uint), &v);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to set integer argument", err);
        return -1;
    }
    return 0;
}

// Streams

cl_command_queue opencl_create_queue(OpenCLDevice* dev) {
    cl_int err;
    cl_command_queue queue = clCreateCommandQueue(dev->context, dev->device, 0, &err);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to create command queue", err);
        return NULL;
    }
    return queue;
}

void opencl_release_queue(cl_command_queue queue) {
    if (queue) clReleaseCommandQueue(queue);
}

int opencl_enqueue_kernel(cl_command_queue queue, cl_kernel kernel, const size_t* global3, const size_t* local3) {
    cl_int err = clEnqueueNDRangeKernel(queue, kernel, 3, NULL, global3, local3, 0, NULL, NULL);
    if (err != CL_SUCCESS) {
        opencl_fail("Failed to enqueue kernel", err);
        return -1;
    }
    return 0;
}

int opencl_finish(cl_command_queue queue) {
    cl_int err = clFinish(queue);
    if (err != CL_SUCCESS) {
        opencl_fail("Kernel execution failed", err);
        return -1;
    }
    return 0;
}
*/
import "C"

import (
	"errors"
	"math"
	"strings"
	"sync"
	"unsafe"

	"github.com/orneryd/tilegemm/pkg/gpu/driver"
)

const backend = driver.BackendOpenCL

// ErrOpenCLNotAvailable is returned by NewDevice when no OpenCL GPU is
// present.
var ErrOpenCLNotAvailable = errors.New("opencl: OpenCL is not available on this system")

// lastError returns and clears the bridge's last error message.
func lastError() error {
	msg := C.GoString(C.opencl_get_last_error())
	C.opencl_clear_error()
	if msg == "" {
		msg = "unknown OpenCL error"
	}
	return errors.New(msg)
}

// Device represents an OpenCL GPU device.
type Device struct {
	ptr    *C.OpenCLDevice
	id     int
	name   string
	vendor string
	memory uint64
	limits driver.Limits
	mu     sync.Mutex
}

// IsAvailable checks if OpenCL is available on this system.
func IsAvailable() bool {
	return C.opencl_is_available() != 0
}

// DeviceCount returns the number of OpenCL GPU devices.
func DeviceCount() int {
	count := C.opencl_get_device_count()
	if count < 0 {
		return 0
	}
	return int(count)
}

// NewDevice creates a new OpenCL device handle.
func NewDevice(deviceID int) (*Device, error) {
	if !IsAvailable() {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "open", ErrOpenCLNotAvailable)
	}

	ptr := C.opencl_create_device(C.int(deviceID))
	if ptr == nil {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "open", lastError())
	}

	var items [3]C.size_t
	C.opencl_max_work_item_sizes(ptr, &items[0])
	limits := driver.DefaultLimits()
	limits.MaxThreadsPerBlock = int(C.opencl_max_work_group_size(ptr))
	limits.MaxBlockDim = driver.Dim3{X: uint32(items[0]), Y: uint32(items[1]), Z: uint32(items[2])}
	limits.MaxSharedBytes = int(C.opencl_local_mem_size(ptr))

	return &Device{
		ptr:    ptr,
		id:     deviceID,
		name:   C.GoString(C.opencl_device_name(ptr)),
		vendor: C.GoString(C.opencl_device_vendor(ptr)),
		memory: uint64(C.opencl_device_memory(ptr)),
		limits: limits,
	}, nil
}

// Release frees the OpenCL device resources.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ptr != nil {
		C.opencl_release_device(d.ptr)
		d.ptr = nil
	}
}

// Backend implements driver.Device.
func (d *Device) Backend() driver.Backend { return backend }

// ID returns the device ID.
func (d *Device) ID() int { return d.id }

// Name returns the GPU device name.
func (d *Device) Name() string { return d.name }

// Vendor returns the GPU vendor name.
func (d *Device) Vendor() string { return d.vendor }

// MemoryBytes returns the GPU memory size in bytes.
func (d *Device) MemoryBytes() uint64 { return d.memory }

// MemoryMB returns the GPU memory size in megabytes.
func (d *Device) MemoryMB() int { return int(d.memory / (1024 * 1024)) }

// Limits implements driver.Device.
func (d *Device) Limits() driver.Limits { return d.limits }

// SuggestedBlockEdge returns the largest power-of-two square work-group edge
// whose two float tiles fit in local memory and whose size the device
// accepts, capped at 16.
func (d *Device) SuggestedBlockEdge() int {
	edge := driver.DefaultTileSize
	for edge > 1 {
		fitsGroup := edge*edge <= d.limits.MaxThreadsPerBlock &&
			uint32(edge) <= d.limits.MaxBlockDim.X && uint32(edge) <= d.limits.MaxBlockDim.Y
		fitsLocal := 2*edge*edge*4 <= d.limits.MaxSharedBytes
		if fitsGroup && fitsLocal {
			break
		}
		edge /= 2
	}
	return edge
}

func (d *Device) handle() (*C.OpenCLDevice, error) {
	if d.ptr == nil {
		return nil, errors.New("device released")
	}
	return d.ptr, nil
}

// Alloc implements driver.Device. The buffer is zero-filled.
func (d *Device) Alloc(count int) (driver.Buffer, error) {
	if count <= 0 {
		return nil, driver.Errorf(backend, driver.ErrAllocation, "alloc", "invalid element count %d", count)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ptr, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrAllocation, "alloc", err)
	}
	buf := C.opencl_create_buffer(ptr, C.size_t(count))
	if buf == nil {
		return nil, driver.Wrap(backend, driver.ErrAllocation, "alloc", lastError())
	}
	return &Buffer{ptr: buf, count: count, device: d}, nil
}

// Buffer represents an OpenCL memory buffer.
type Buffer struct {
	ptr    *C.OpenCLBuffer
	count  int
	device *Device
}

// Len implements driver.Buffer.
func (b *Buffer) Len() int { return b.count }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return uint64(b.count) * 4 }

// CopyFromHost implements driver.Buffer. The copy is blocking.
func (b *Buffer) CopyFromHost(src []float32) error {
	if b.ptr == nil {
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

	if C.opencl_buffer_copy_from_host(b.ptr, (*C.float)(unsafe.Pointer(&src[0])), C.size_t(len(src))) != 0 {
		return driver.Wrap(backend, driver.ErrTransfer, "copy htod", lastError())
	}
	return nil
}

// CopyToHost implements driver.Buffer. The copy is blocking.
func (b *Buffer) CopyToHost(dst []float32) error {
	if b.ptr == nil {
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

	if C.opencl_buffer_copy_to_host(b.ptr, (*C.float)(unsafe.Pointer(&dst[0])), C.size_t(len(dst))) != 0 {
		return driver.Wrap(backend, driver.ErrTransfer, "copy dtoh", lastError())
	}
	return nil
}

// Release frees the buffer resources.
func (b *Buffer) Release() {
	if b.ptr != nil {
		C.opencl_release_buffer(b.ptr)
		b.ptr = nil
	}
}

// Module is a built OpenCL program and its kernels.
type Module struct {
	device  *Device
	name    string
	program C.cl_program
	fns     map[string]*Function
	entries []string
}

// LoadModule implements driver.Device. The image must be OpenCL C; its
// options are passed to the OpenCL compiler.
func (d *Device) LoadModule(img driver.ModuleImage) (driver.Module, error) {
	if img.Format != driver.FormatOpenCL {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module",
			"%s: unsupported image format %s", img.Name, img.Format)
	}
	entries := img.Entries()
	if len(entries) == 0 {
		return nil, driver.Errorf(backend, driver.ErrModuleLoad, "load module", "%s: no kernel entry points", img.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ptr, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrModuleLoad, "load module", err)
	}

	csrc := C.CString(img.Source)
	defer C.free(unsafe.Pointer(csrc))
	copts := C.CString(strings.Join(img.Options, " "))
	defer C.free(unsafe.Pointer(copts))

	program := C.opencl_build_program(ptr, csrc, copts)
	if program == nil {
		return nil, driver.Wrap(backend, driver.ErrModuleLoad, "build "+img.Name, lastError())
	}

	m := &Module{
		device:  d,
		name:    img.Name,
		program: program,
		fns:     make(map[string]*Function, len(entries)),
		entries: entries,
	}
	for _, name := range entries {
		cname := C.CString(name)
		kernel := C.opencl_create_kernel(program, cname)
		C.free(unsafe.Pointer(cname))
		if kernel == nil {
			err := lastError()
			m.Release()
			return nil, driver.Wrap(backend, driver.ErrModuleLoad, "get function", err)
		}
		m.fns[name] = &Function{module: m, name: name, kernel: kernel}
	}
	return m, nil
}

// Entries implements driver.Module.
func (m *Module) Entries() []string {
	return append([]string(nil), m.entries...)
}

// Function implements driver.Module.
func (m *Module) Function(name string) (driver.Function, error) {
	if m.program == nil {
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
	for _, fn := range m.fns {
		fn.mu.Lock()
		C.opencl_release_kernel(fn.kernel)
		fn.kernel = nil
		fn.mu.Unlock()
	}
	if m.program != nil {
		C.opencl_release_program(m.program)
		m.program = nil
	}
}

// Function is an OpenCL kernel. Kernel arguments are kernel state, so
// launches of one Function are serialized.
type Function struct {
	module *Module
	name   string
	kernel C.cl_kernel
	mu     sync.Mutex
}

// Name implements driver.Function.
func (f *Function) Name() string { return f.name }

// Launch implements driver.Function. The CUDA-style grid is converted to an
// NDRange: global size is grid×block per axis, local size is the block.
// Arguments are *Buffer or non-negative integers.
func (f *Function) Launch(stream driver.Stream, cfg driver.LaunchConfig, args ...any) error {
	s, ok := stream.(*Stream)
	if !ok || s == nil || s.device != f.module.device || s.queue == nil {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "stream does not belong to this device")
	}
	if err := cfg.Validate(backend, s.device.limits); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.kernel == nil {
		return driver.Errorf(backend, driver.ErrLaunch, "launch", "%s: module released", f.name)
	}

	for i, arg := range args {
		idx := C.uint(i)
		switch v := arg.(type) {
		case *Buffer:
			if v == nil || v.ptr == nil || v.device != s.device {
				return driver.Errorf(backend, driver.ErrLaunch, "launch", "%s argument %d: invalid buffer", f.name, i)
			}
			if C.opencl_set_arg_buffer(f.kernel, idx, v.ptr) != 0 {
				return driver.Wrap(backend, driver.ErrLaunch, "launch", lastError())
			}
		default:
			n, ok := toUint32(arg)
			if !ok {
				return driver.Errorf(backend, driver.ErrLaunch, "launch",
					"%s argument %d: unsupported type %T", f.name, i, arg)
			}
			if C.opencl_set_arg_uint(f.kernel, idx, C.uint(n)) != 0 {
				return driver.Wrap(backend, driver.ErrLaunch, "launch", lastError())
			}
		}
	}

	global := [3]C.size_t{
		C.size_t(cfg.Grid.X) * C.size_t(cfg.Block.X),
		C.size_t(cfg.Grid.Y) * C.size_t(cfg.Block.Y),
		C.size_t(cfg.Grid.Z) * C.size_t(cfg.Block.Z),
	}
	local := [3]C.size_t{C.size_t(cfg.Block.X), C.size_t(cfg.Block.Y), C.size_t(cfg.Block.Z)}
	if C.opencl_enqueue_kernel(s.queue, f.kernel, &global[0], &local[0]) != 0 {
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

// Stream is an in-order OpenCL command queue.
type Stream struct {
	device *Device
	queue  C.cl_command_queue
}

// NewStream implements driver.Device.
func (d *Device) NewStream() (driver.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr, err := d.handle()
	if err != nil {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "stream", err)
	}
	queue := C.opencl_create_queue(ptr)
	if queue == nil {
		return nil, driver.Wrap(backend, driver.ErrDeviceInit, "stream", lastError())
	}
	return &Stream{device: d, queue: queue}, nil
}

// Synchronize implements driver.Stream.
func (s *Stream) Synchronize() error {
	if s.queue == nil {
		return driver.Errorf(backend, driver.ErrLaunch, "synchronize", "stream released")
	}
	if C.opencl_finish(s.queue) != 0 {
		return driver.Wrap(backend, driver.ErrLaunch, "synchronize", lastError())
	}
	return nil
}

// Release implements driver.Stream.
func (s *Stream) Release() {
	if s.queue != nil {
		C.opencl_release_queue(s.queue)
		s.queue = nil
	}
}
