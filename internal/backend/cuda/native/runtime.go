//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart -lcublas -lcuda -lnvrtc

#include <stddef.h>
#include <stdlib.h>

// Minimal CUDA forward declarations to avoid requiring headers at compile time.
// Linker will still require the CUDA libraries when building with the cuda tag.
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaDeviceSynchronize(void);
extern cudaError_t cudaGetLastError(void);
extern cudaError_t cudaMalloc(void** ptr, size_t size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpy(void* dst, const void* src, size_t size, int kind);

#define SHADOW_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define SHADOW_CUDA_MEMCPY_DEVICE_TO_HOST 2
#define SHADOW_CUDA_MEMCPY_DEVICE_TO_DEVICE 3

typedef int CUresult;
typedef struct CUmod_st* CUmodule;
typedef struct CUfunc_st* CUfunction;

extern CUresult cuInit(unsigned int flags);
extern CUresult cuModuleLoadData(CUmodule* module, const void* image);
extern CUresult cuModuleUnload(CUmodule module);
extern CUresult cuModuleGetFunction(CUfunction* fn, CUmodule module, const char* name);
extern CUresult cuLaunchKernel(CUfunction f,
	unsigned int gridX, unsigned int gridY, unsigned int gridZ,
	unsigned int blockX, unsigned int blockY, unsigned int blockZ,
	unsigned int sharedMem, void* stream, void** params, void** extra);

typedef struct _nvrtcProgram* nvrtcProgram;
typedef int nvrtcResult;

extern const char* nvrtcGetErrorString(nvrtcResult result);
extern nvrtcResult nvrtcCreateProgram(nvrtcProgram* prog, const char* src, const char* name,
	int numHeaders, const char* const* headers, const char* const* includeNames);
extern nvrtcResult nvrtcCompileProgram(nvrtcProgram prog, int numOptions, const char* const* options);
extern nvrtcResult nvrtcGetPTXSize(nvrtcProgram prog, size_t* size);
extern nvrtcResult nvrtcGetPTX(nvrtcProgram prog, char* ptx);
extern nvrtcResult nvrtcGetProgramLogSize(nvrtcProgram prog, size_t* size);
extern nvrtcResult nvrtcGetProgramLog(nvrtcProgram prog, char* log);
extern nvrtcResult nvrtcDestroyProgram(nvrtcProgram* prog);

typedef struct cublasContext* cublasHandle_t;
typedef int cublasStatus_t;

extern cublasStatus_t cublasCreate_v2(cublasHandle_t* handle);
extern cublasStatus_t cublasDestroy_v2(cublasHandle_t handle);
extern cublasStatus_t cublasSgemm_v2(cublasHandle_t handle, int transa, int transb,
	int m, int n, int k, const float* alpha, const float* A, int lda,
	const float* B, int ldb, const float* beta, float* C, int ldc);

static int shadowMemcpy(void* dst, const void* src, size_t size, int kind) {
	return (int)cudaMemcpy(dst, src, size, kind);
}

static int shadowLaunch(CUfunction f, unsigned int grid, unsigned int block, void** params) {
	return (int)cuLaunchKernel(f, grid, 1, 1, block, 1, 1, 0, NULL, params, NULL);
}

static int shadowCompile(nvrtcProgram prog, const char* arch) {
	const char* opts[2] = { arch, "--use_fast_math" };
	return (int)nvrtcCompileProgram(prog, 2, opts);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

type DeviceBuffer struct {
	ptr unsafe.Pointer
}

type BlasHandle struct {
	ptr C.cublasHandle_t
}

type Module struct {
	ptr C.CUmodule
}

type Function struct {
	ptr C.CUfunction
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.int(C.cudaGetDeviceCount(&count))); err != nil {
		return 0, err
	}
	return int(count), nil
}

// SetDevice binds the calling thread to the device and initializes the
// driver API on its primary context.
func SetDevice(id int) error {
	if err := cudaErr(C.int(C.cudaSetDevice(C.int(id)))); err != nil {
		return err
	}
	// Forces creation of the primary context the driver calls below use.
	if err := cudaErr(C.int(C.cudaFree(nil))); err != nil {
		return err
	}
	return driverErr(C.cuInit(0))
}

// BindDevice makes id current on the calling OS thread.
func BindDevice(id int) error {
	return cudaErr(C.int(C.cudaSetDevice(C.int(id))))
}

func Synchronize() error {
	if err := cudaErr(C.int(C.cudaDeviceSynchronize())); err != nil {
		return err
	}
	return cudaErr(C.int(C.cudaGetLastError()))
}

func AllocDevice(bytes int64) (DeviceBuffer, error) {
	if bytes <= 0 {
		return DeviceBuffer{}, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.int(C.cudaMalloc(&ptr, C.size_t(bytes)))); err != nil {
		return DeviceBuffer{}, err
	}
	return DeviceBuffer{ptr: ptr}, nil
}

func (b DeviceBuffer) Free() error {
	if b.ptr == nil {
		return nil
	}
	return cudaErr(C.int(C.cudaFree(b.ptr)))
}

func (b DeviceBuffer) Ptr() unsafe.Pointer {
	return b.ptr
}

// At returns the address of the element at byte offset off.
func (b DeviceBuffer) At(off int) unsafe.Pointer {
	return unsafe.Add(b.ptr, off)
}

func MemcpyH2D(dst DeviceBuffer, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.shadowMemcpy(dst.ptr, src, C.size_t(bytes), C.SHADOW_CUDA_MEMCPY_HOST_TO_DEVICE))
}

func MemcpyD2H(dst unsafe.Pointer, src DeviceBuffer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.shadowMemcpy(dst, src.ptr, C.size_t(bytes), C.SHADOW_CUDA_MEMCPY_DEVICE_TO_HOST))
}

func MemcpyD2D(dst, src DeviceBuffer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.shadowMemcpy(dst.ptr, src.ptr, C.size_t(bytes), C.SHADOW_CUDA_MEMCPY_DEVICE_TO_DEVICE))
}

// CompilePTX compiles CUDA C source to PTX for the given virtual arch
// (e.g. "compute_70").
func CompilePTX(src, name, arch string) ([]byte, error) {
	csrc := C.CString(src)
	defer C.free(unsafe.Pointer(csrc))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	carch := C.CString("--gpu-architecture=" + arch)
	defer C.free(unsafe.Pointer(carch))

	var prog C.nvrtcProgram
	if err := nvrtcErr(C.nvrtcCreateProgram(&prog, csrc, cname, 0, nil, nil)); err != nil {
		return nil, err
	}
	defer C.nvrtcDestroyProgram(&prog)

	if code := C.shadowCompile(prog, carch); code != 0 {
		return nil, fmt.Errorf("nvrtc compile %s: %w\n%s", name, nvrtcErr(C.nvrtcResult(code)), programLog(prog))
	}
	var size C.size_t
	if err := nvrtcErr(C.nvrtcGetPTXSize(prog, &size)); err != nil {
		return nil, err
	}
	ptx := make([]byte, int(size))
	if err := nvrtcErr(C.nvrtcGetPTX(prog, (*C.char)(unsafe.Pointer(&ptx[0])))); err != nil {
		return nil, err
	}
	return ptx, nil
}

func programLog(prog C.nvrtcProgram) string {
	var size C.size_t
	if C.nvrtcGetProgramLogSize(prog, &size) != 0 || size <= 1 {
		return ""
	}
	buf := make([]byte, int(size))
	if C.nvrtcGetProgramLog(prog, (*C.char)(unsafe.Pointer(&buf[0]))) != 0 {
		return ""
	}
	return string(buf[:len(buf)-1])
}

// LoadModule loads NUL-terminated PTX into the current context.
func LoadModule(ptx []byte) (Module, error) {
	if len(ptx) == 0 || ptx[len(ptx)-1] != 0 {
		ptx = append(ptx, 0)
	}
	image := C.CBytes(ptx)
	defer C.free(image)
	var mod C.CUmodule
	if err := driverErr(C.cuModuleLoadData(&mod, image)); err != nil {
		return Module{}, err
	}
	return Module{ptr: mod}, nil
}

func (m Module) Unload() error {
	if m.ptr == nil {
		return nil
	}
	return driverErr(C.cuModuleUnload(m.ptr))
}

func (m Module) Function(name string) (Function, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.CUfunction
	if err := driverErr(C.cuModuleGetFunction(&fn, m.ptr, cname)); err != nil {
		return Function{}, fmt.Errorf("kernel %s: %w", name, err)
	}
	return Function{ptr: fn}, nil
}

// Launch runs fn over a 1-D grid. Each argument must be an int32, a float32
// or a DeviceBuffer; the parameter block is staged in C memory.
func Launch(fn Function, grid, block int, args ...any) error {
	const slot = 8
	values := C.malloc(C.size_t(len(args) * slot))
	defer C.free(values)
	params := (*[1 << 16]unsafe.Pointer)(C.malloc(C.size_t(len(args)) * C.size_t(unsafe.Sizeof(uintptr(0)))))
	defer C.free(unsafe.Pointer(params))

	for i, arg := range args {
		p := unsafe.Add(values, i*slot)
		switch v := arg.(type) {
		case int32:
			*(*int32)(p) = v
		case float32:
			*(*float32)(p) = v
		case DeviceBuffer:
			*(*unsafe.Pointer)(p) = v.ptr
		default:
			return fmt.Errorf("unsupported kernel argument %T", arg)
		}
		params[i] = p
	}
	return driverErr(C.shadowLaunch(fn.ptr, C.uint(grid), C.uint(block), (*unsafe.Pointer)(unsafe.Pointer(params))))
}

func NewBlasHandle() (BlasHandle, error) {
	var handle C.cublasHandle_t
	if err := cublasErr(C.int(C.cublasCreate_v2(&handle))); err != nil {
		return BlasHandle{}, err
	}
	return BlasHandle{ptr: handle}, nil
}

func (h BlasHandle) Destroy() error {
	if h.ptr == nil {
		return nil
	}
	return cublasErr(C.int(C.cublasDestroy_v2(h.ptr)))
}

type BlasOp int

const (
	BlasOpN BlasOp = 0 // CUBLAS_OP_N
	BlasOpT BlasOp = 1 // CUBLAS_OP_T
)

// Sgemm is the column-major cuBLAS call; a, b and c are device addresses.
func Sgemm(handle BlasHandle, transA, transB BlasOp, m, n, k int, alpha float32, a unsafe.Pointer, lda int, b unsafe.Pointer, ldb int, beta float32, c unsafe.Pointer, ldc int) error {
	return cublasErr(C.int(C.cublasSgemm_v2(
		handle.ptr,
		C.int(transA),
		C.int(transB),
		C.int(m),
		C.int(n),
		C.int(k),
		(*C.float)(unsafe.Pointer(&alpha)),
		(*C.float)(a),
		C.int(lda),
		(*C.float)(b),
		C.int(ldb),
		(*C.float)(unsafe.Pointer(&beta)),
		(*C.float)(c),
		C.int(ldc),
	)))
}

func cublasErr(code C.int) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("cublas error %d", int(code))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.cudaGetErrorString(C.cudaError_t(code)))
	return fmt.Errorf("cuda runtime error %d: %s", int(code), msg)
}

func driverErr(code C.CUresult) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("cuda driver error %d", int(code))
}

func nvrtcErr(code C.nvrtcResult) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("nvrtc error %d: %s", int(code), C.GoString(C.nvrtcGetErrorString(code)))
}
