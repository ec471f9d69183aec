//go:build linux && cgo

package guard

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	int32_t dtype;
	int32_t rank;
	const int64_t* dims;
} gc_tensor_desc;

typedef bool (*gc_guard_fn)(const gc_tensor_desc**, size_t, char*, size_t);

static void* gc_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static const char* gc_dlerror(void) {
	return dlerror();
}

// Clear dlerror, call dlsym, and report the error (if any) alongside the symbol.
static void* gc_dlsym(void* h, const char* name, const char** err) {
	dlerror();
	void* p = dlsym(h, name);
	const char* e = dlerror();
	*err = e;
	return e ? NULL : p;
}

static int gc_dlclose(void* h) {
	return dlclose(h);
}

static bool gc_call(void* fn, const gc_tensor_desc** descs, size_t n, char* reason, size_t cap) {
	return ((gc_guard_fn)fn)(descs, n, reason, cap);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/roach88/guardcache/internal/graph"
)

// dlerr returns the last dlerror as a Go string, or a fallback label.
func dlerr() string {
	if e := C.gc_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

type nativeModule struct {
	file   *os.File
	handle unsafe.Pointer
	fn     unsafe.Pointer
}

// Open writes payload into a memfd, dlopens it and resolves the guard symbol.
// Every resource acquired before a failing step is released before returning.
func (l NativeLoader) Open(payload []byte) (Module, error) {
	fd, err := unix.MemfdCreate("jit-guard", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, &LoadError{Stage: StageMemfd, Err: err}
	}
	file := os.NewFile(uintptr(fd), "jit-guard")
	if _, err := file.Write(payload); err != nil {
		file.Close()
		return nil, &LoadError{Stage: StageMemfd, Err: fmt.Errorf("write payload: %w", err)}
	}

	path := C.CString(fmt.Sprintf("/proc/self/fd/%d", fd))
	defer C.free(unsafe.Pointer(path))
	handle := C.gc_dlopen(path)
	if handle == nil {
		msg := dlerr()
		file.Close()
		return nil, &LoadError{Stage: StageDlopen, Err: errors.New(msg)}
	}

	sym := C.CString(l.symbol())
	defer C.free(unsafe.Pointer(sym))
	var cerr *C.char
	fn := C.gc_dlsym(handle, sym, &cerr)
	if cerr != nil || fn == nil {
		msg := "symbol resolved to NULL"
		if cerr != nil {
			msg = C.GoString(cerr)
		}
		C.gc_dlclose(handle)
		file.Close()
		return nil, &LoadError{Stage: StageDlsym, Err: fmt.Errorf("%s: %s", l.symbol(), msg)}
	}

	return &nativeModule{file: file, handle: handle, fn: fn}, nil
}

// Check marshals descriptors into C memory, calls the predicate and frees
// everything before returning.
func (m *nativeModule) Check(descs []graph.TensorDesc, reasonCap int) (bool, string) {
	if m.fn == nil {
		return false, "guard closed"
	}
	if reasonCap < 1 {
		reasonCap = 1
	}

	var allocs []unsafe.Pointer
	defer func() {
		for _, p := range allocs {
			C.free(p)
		}
	}()
	calloc := func(n, size uintptr) unsafe.Pointer {
		if n == 0 {
			n = 1
		}
		p := C.calloc(C.size_t(n), C.size_t(size))
		allocs = append(allocs, p)
		return p
	}

	n := len(descs)
	structMem := calloc(uintptr(n), unsafe.Sizeof(C.gc_tensor_desc{}))
	ptrMem := calloc(uintptr(n), unsafe.Sizeof(uintptr(0)))
	structs := unsafe.Slice((*C.gc_tensor_desc)(structMem), n)
	ptrs := unsafe.Slice((**C.gc_tensor_desc)(ptrMem), n)

	for i, d := range descs {
		structs[i].dtype = C.int32_t(d.Type)
		structs[i].rank = C.int32_t(len(d.Dims))
		if len(d.Dims) > 0 {
			dimMem := calloc(uintptr(len(d.Dims)), unsafe.Sizeof(C.int64_t(0)))
			dims := unsafe.Slice((*C.int64_t)(dimMem), len(d.Dims))
			for j, dim := range d.Dims {
				dims[j] = C.int64_t(dim)
			}
			structs[i].dims = (*C.int64_t)(dimMem)
		}
		ptrs[i] = &structs[i]
	}

	reason := calloc(uintptr(reasonCap), 1)
	ok := C.gc_call(m.fn, (**C.gc_tensor_desc)(ptrMem), C.size_t(n), (*C.char)(reason), C.size_t(reasonCap))
	if bool(ok) {
		return true, ""
	}
	buf := unsafe.Slice((*byte)(reason), reasonCap)
	buf[reasonCap-1] = 0
	return false, C.GoString((*C.char)(reason))
}

// Close dlcloses the library, then closes the memfd.
func (m *nativeModule) Close() error {
	var errs []error
	if m.handle != nil {
		if C.gc_dlclose(m.handle) != 0 {
			errs = append(errs, fmt.Errorf("dlclose failed: %s", dlerr()))
		}
		m.handle = nil
		m.fn = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memfd: %w", err))
		}
		m.file = nil
	}
	return errors.Join(errs...)
}
