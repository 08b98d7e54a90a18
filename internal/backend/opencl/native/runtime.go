//go:build opencl

package native

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>

// OpenCL 1.2 forward declarations; no SDK headers are needed to compile.
typedef int32_t cl_int;
typedef uint32_t cl_uint;
typedef uint64_t cl_ulong;
typedef cl_ulong cl_bitfield;
typedef cl_bitfield cl_device_type;
typedef cl_bitfield cl_mem_flags;
typedef cl_bitfield cl_command_queue_properties;
typedef cl_uint cl_bool;
typedef cl_uint cl_program_build_info;
typedef intptr_t cl_context_properties;

typedef struct _cl_platform_id* cl_platform_id;
typedef struct _cl_device_id* cl_device_id;
typedef struct _cl_context* cl_context;
typedef struct _cl_command_queue* cl_command_queue;
typedef struct _cl_mem* cl_mem;
typedef struct _cl_program* cl_program;
typedef struct _cl_kernel* cl_kernel;
typedef struct _cl_event* cl_event;

#define SHADOW_CL_DEVICE_TYPE_ALL 0xFFFFFFFF
#define SHADOW_CL_MEM_READ_WRITE (1 << 0)
#define SHADOW_CL_PROGRAM_BUILD_LOG 0x1183

extern cl_int clGetPlatformIDs(cl_uint num, cl_platform_id* platforms, cl_uint* count);
extern cl_int clGetDeviceIDs(cl_platform_id platform, cl_device_type type, cl_uint num, cl_device_id* devices, cl_uint* count);
extern cl_context clCreateContext(const cl_context_properties* props, cl_uint num, const cl_device_id* devices,
	void* notify, void* user, cl_int* err);
extern cl_command_queue clCreateCommandQueue(cl_context ctx, cl_device_id device, cl_command_queue_properties props, cl_int* err);
extern cl_mem clCreateBuffer(cl_context ctx, cl_mem_flags flags, size_t size, void* host, cl_int* err);
extern cl_int clEnqueueReadBuffer(cl_command_queue q, cl_mem mem, cl_bool blocking, size_t offset, size_t size, void* ptr,
	cl_uint num, const cl_event* wait, cl_event* event);
extern cl_int clEnqueueWriteBuffer(cl_command_queue q, cl_mem mem, cl_bool blocking, size_t offset, size_t size, const void* ptr,
	cl_uint num, const cl_event* wait, cl_event* event);
extern cl_int clEnqueueCopyBuffer(cl_command_queue q, cl_mem src, cl_mem dst, size_t srcOff, size_t dstOff, size_t size,
	cl_uint num, const cl_event* wait, cl_event* event);
extern cl_program clCreateProgramWithSource(cl_context ctx, cl_uint count, const char** strings, const size_t* lengths, cl_int* err);
extern cl_int clBuildProgram(cl_program program, cl_uint num, const cl_device_id* devices, const char* options, void* notify, void* user);
extern cl_int clGetProgramBuildInfo(cl_program program, cl_device_id device, cl_program_build_info param,
	size_t size, void* value, size_t* ret);
extern cl_kernel clCreateKernel(cl_program program, const char* name, cl_int* err);
extern cl_int clSetKernelArg(cl_kernel kernel, cl_uint index, size_t size, const void* value);
extern cl_int clEnqueueNDRangeKernel(cl_command_queue q, cl_kernel kernel, cl_uint dims, const size_t* offset,
	const size_t* global, const size_t* local, cl_uint num, const cl_event* wait, cl_event* event);
extern cl_int clFinish(cl_command_queue q);
extern cl_int clReleaseMemObject(cl_mem mem);
extern cl_int clReleaseKernel(cl_kernel kernel);
extern cl_int clReleaseProgram(cl_program program);
extern cl_int clReleaseCommandQueue(cl_command_queue q);
extern cl_int clReleaseContext(cl_context ctx);

static cl_program shadowProgram(cl_context ctx, const char* src, cl_int* err) {
	const char* strings[1] = { src };
	return clCreateProgramWithSource(ctx, 1, strings, NULL, err);
}

static cl_int shadowRun(cl_command_queue q, cl_kernel k, size_t global) {
	cl_int err = clEnqueueNDRangeKernel(q, k, 1, NULL, &global, NULL, 0, NULL, NULL);
	if (err != 0) {
		return err;
	}
	return clFinish(q);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Runtime is one device with its context and in-order command queue.
type Runtime struct {
	device C.cl_device_id
	ctx    C.cl_context
	queue  C.cl_command_queue
}

type Mem struct {
	ptr C.cl_mem
}

type Program struct {
	ptr C.cl_program
}

type Kernel struct {
	ptr C.cl_kernel
}

// devices lists every OpenCL device across all platforms.
func devices() ([]C.cl_device_id, error) {
	var nplat C.cl_uint
	if err := clErr(C.clGetPlatformIDs(0, nil, &nplat)); err != nil {
		return nil, err
	}
	if nplat == 0 {
		return nil, nil
	}
	platforms := make([]C.cl_platform_id, int(nplat))
	if err := clErr(C.clGetPlatformIDs(nplat, &platforms[0], nil)); err != nil {
		return nil, err
	}
	var out []C.cl_device_id
	for _, p := range platforms {
		var n C.cl_uint
		if C.clGetDeviceIDs(p, C.SHADOW_CL_DEVICE_TYPE_ALL, 0, nil, &n) != 0 || n == 0 {
			continue
		}
		ids := make([]C.cl_device_id, int(n))
		if err := clErr(C.clGetDeviceIDs(p, C.SHADOW_CL_DEVICE_TYPE_ALL, n, &ids[0], nil)); err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

func DeviceCount() (int, error) {
	ids, err := devices()
	return len(ids), err
}

func Open(id int) (*Runtime, error) {
	ids, err := devices()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(ids) {
		return nil, fmt.Errorf("opencl device %d out of range (%d devices)", id, len(ids))
	}
	r := &Runtime{device: ids[id]}
	var code C.cl_int
	r.ctx = C.clCreateContext(nil, 1, &r.device, nil, nil, &code)
	if err := clErr(code); err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	r.queue = C.clCreateCommandQueue(r.ctx, r.device, 0, &code)
	if err := clErr(code); err != nil {
		C.clReleaseContext(r.ctx)
		return nil, fmt.Errorf("create queue: %w", err)
	}
	return r, nil
}

func (r *Runtime) Close() {
	if r.queue != nil {
		C.clReleaseCommandQueue(r.queue)
		r.queue = nil
	}
	if r.ctx != nil {
		C.clReleaseContext(r.ctx)
		r.ctx = nil
	}
}

func (r *Runtime) Alloc(bytes int64) (Mem, error) {
	if bytes <= 0 {
		return Mem{}, fmt.Errorf("device alloc size must be > 0")
	}
	var code C.cl_int
	mem := C.clCreateBuffer(r.ctx, C.SHADOW_CL_MEM_READ_WRITE, C.size_t(bytes), nil, &code)
	if err := clErr(code); err != nil {
		return Mem{}, err
	}
	return Mem{ptr: mem}, nil
}

func (m Mem) Release() error {
	if m.ptr == nil {
		return nil
	}
	return clErr(C.clReleaseMemObject(m.ptr))
}

// Write blocks until bytes from src are on the device.
func (r *Runtime) Write(dst Mem, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return clErr(C.clEnqueueWriteBuffer(r.queue, dst.ptr, 1, 0, C.size_t(bytes), src, 0, nil, nil))
}

func (r *Runtime) Read(dst unsafe.Pointer, src Mem, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return clErr(C.clEnqueueReadBuffer(r.queue, src.ptr, 1, 0, C.size_t(bytes), dst, 0, nil, nil))
}

func (r *Runtime) Copy(dst, src Mem, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if err := clErr(C.clEnqueueCopyBuffer(r.queue, src.ptr, dst.ptr, 0, 0, C.size_t(bytes), 0, nil, nil)); err != nil {
		return err
	}
	return clErr(C.clFinish(r.queue))
}

// Build compiles source for the runtime's device. The build log is attached
// to the error on failure.
func (r *Runtime) Build(src, options string) (Program, error) {
	csrc := C.CString(src)
	defer C.free(unsafe.Pointer(csrc))
	var code C.cl_int
	prog := C.shadowProgram(r.ctx, csrc, &code)
	if err := clErr(code); err != nil {
		return Program{}, err
	}
	copts := C.CString(options)
	defer C.free(unsafe.Pointer(copts))
	if err := clErr(C.clBuildProgram(prog, 1, &r.device, copts, nil, nil)); err != nil {
		log := r.buildLog(prog)
		C.clReleaseProgram(prog)
		return Program{}, fmt.Errorf("build program: %w\n%s", err, log)
	}
	return Program{ptr: prog}, nil
}

func (r *Runtime) buildLog(prog C.cl_program) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(prog, r.device, C.SHADOW_CL_PROGRAM_BUILD_LOG, 0, nil, &size) != 0 || size <= 1 {
		return ""
	}
	buf := make([]byte, int(size))
	if C.clGetProgramBuildInfo(prog, r.device, C.SHADOW_CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != 0 {
		return ""
	}
	return string(buf[:len(buf)-1])
}

func (p Program) Release() {
	if p.ptr != nil {
		C.clReleaseProgram(p.ptr)
	}
}

func (p Program) Kernel(name string) (Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var code C.cl_int
	k := C.clCreateKernel(p.ptr, cname, &code)
	if err := clErr(code); err != nil {
		return Kernel{}, fmt.Errorf("kernel %s: %w", name, err)
	}
	return Kernel{ptr: k}, nil
}

func (k Kernel) Release() {
	if k.ptr != nil {
		C.clReleaseKernel(k.ptr)
	}
}

// Run binds args in order and executes k over global work items, waiting
// for completion. Arguments must be int32, float32 or Mem.
func (r *Runtime) Run(k Kernel, global int, args ...any) error {
	for i, arg := range args {
		var code C.cl_int
		switch v := arg.(type) {
		case int32:
			val := C.cl_int(v)
			code = C.clSetKernelArg(k.ptr, C.cl_uint(i), C.size_t(unsafe.Sizeof(val)), unsafe.Pointer(&val))
		case float32:
			val := C.float(v)
			code = C.clSetKernelArg(k.ptr, C.cl_uint(i), C.size_t(unsafe.Sizeof(val)), unsafe.Pointer(&val))
		case Mem:
			mem := v.ptr
			code = C.clSetKernelArg(k.ptr, C.cl_uint(i), C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
		default:
			return fmt.Errorf("unsupported kernel argument %T", arg)
		}
		if err := clErr(code); err != nil {
			return fmt.Errorf("set arg %d: %w", i, err)
		}
	}
	return clErr(C.shadowRun(r.queue, k.ptr, C.size_t(global)))
}

func clErr(code C.cl_int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("opencl error %d", int(code))
}
