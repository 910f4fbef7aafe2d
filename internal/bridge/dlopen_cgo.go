//go:build (linux || darwin) && cgo

package bridge

/*
#define _GNU_SOURCE
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdio.h>
#include <stdlib.h>

// RTLD_NODELETE keeps the code mapped after dlclose; the environment built
// by an earlier unit still points into it.
static void* nat_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW | RTLD_LOCAL | RTLD_NODELETE);
}

static const char* nat_dlerror(void) {
	return dlerror();
}

static void* nat_dlsym(void* h, const char* name, const char** err) {
	dlerror();
	void* p = dlsym(h, name);
	const char* e = dlerror();
	if (e) { *err = e; return NULL; }
	*err = NULL;
	return p;
}

static int nat_dlclose(void* h) {
	fflush(NULL);
	return dlclose(h);
}

typedef void* (*nat_void_fn)(void);
typedef void* (*nat_ptr_fn)(void*);

static uintptr_t nat_call_void(void* fn) {
	return (uintptr_t)((nat_void_fn)fn)();
}

static uintptr_t nat_call_ptr(void* fn, uintptr_t arg) {
	uintptr_t r = (uintptr_t)((nat_ptr_fn)fn)((void*)arg);
	fflush(stdout);
	return r;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// DynamicLoader opens units with dlopen.
type DynamicLoader struct{}

// NewDynamicLoader returns the platform loader.
func NewDynamicLoader() *DynamicLoader {
	return &DynamicLoader{}
}

func dlerr() string {
	if e := C.nat_dlerror(); e != nil {
		return C.GoString(e)
	}
	return "unknown dlerror"
}

// Load opens path with immediate binding so missing symbols surface here
// rather than in the middle of EVAL.
func (l *DynamicLoader) Load(path string) (Module, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))

	h := C.nat_dlopen(cs)
	if h == nil {
		return nil, fmt.Errorf("dlopen(%q) failed: %s", path, dlerr())
	}
	return &dynamicModule{handle: h}, nil
}

type dynamicModule struct {
	mu     sync.Mutex
	handle unsafe.Pointer
}

func (m *dynamicModule) Lookup(name string) (Symbol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil, errors.New("module is closed")
	}

	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))

	var cerr *C.char
	p := C.nat_dlsym(m.handle, cs, &cerr)
	if cerr != nil {
		return nil, fmt.Errorf("dlsym(%q) failed: %s", name, C.GoString(cerr))
	}
	if p == nil {
		return nil, fmt.Errorf("dlsym(%q) returned null", name)
	}
	return dynamicSymbol{fn: p}, nil
}

func (m *dynamicModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	h := m.handle
	m.handle = nil
	if C.nat_dlclose(h) != 0 {
		return fmt.Errorf("dlclose failed: %s", dlerr())
	}
	return nil
}

type dynamicSymbol struct {
	fn unsafe.Pointer
}

func (s dynamicSymbol) CallVoid() uintptr {
	return uintptr(C.nat_call_void(s.fn))
}

func (s dynamicSymbol) CallPtr(arg uintptr) uintptr {
	return uintptr(C.nat_call_ptr(s.fn, C.uintptr_t(arg)))
}
