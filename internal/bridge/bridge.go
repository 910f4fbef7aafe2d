// Package bridge loads compiled units and drives their three entry points
// against one persistent top-level environment.
//
// Every unit exports the same symbols:
//
//	GC_disable     suspend the collector (called first, every unit)
//	build_top_env  create the top-level environment (called once per session)
//	EVAL           run the unit's code in that environment; null means it raised
//
// The environment outlives every unit that touches it, so loaders must keep
// module code mapped after Close.
package bridge

import (
	"errors"
	"fmt"
	"path/filepath"

	"natrepl/internal/logging"
)

// Entry point names every compiled unit exports.
const (
	EntryGCDisable = "GC_disable"
	EntryBuildEnv  = "build_top_env"
	EntryEval      = "EVAL"
)

var entryPoints = []string{EntryGCDisable, EntryBuildEnv, EntryEval}

// ErrUnsupported is returned by loaders on platforms without dynamic loading.
var ErrUnsupported = errors.New("native module loading is not supported on this platform")

// Loader opens a compiled unit.
type Loader interface {
	Load(path string) (Module, error)
}

// Module is an open link to a unit.
type Module interface {
	Lookup(name string) (Symbol, error)
	Close() error
}

// Symbol is a resolved entry point. Handles cross the boundary as uintptr;
// zero is null.
type Symbol interface {
	CallVoid() uintptr
	CallPtr(arg uintptr) uintptr
}

// Environment holds the persistent top-level environment handle. The zero
// value is an unbuilt environment.
type Environment struct {
	handle  uintptr
	builds  int
	builtBy string
}

// NewEnvironment returns an environment that has not been built yet.
func NewEnvironment() *Environment {
	return &Environment{}
}

// Handle returns the opaque handle, zero until built.
func (e *Environment) Handle() uintptr { return e.handle }

// Built reports whether the environment exists.
func (e *Environment) Built() bool { return e.handle != 0 }

// Builds counts builder invocations. It never exceeds one.
func (e *Environment) Builds() int { return e.builds }

// BuiltBy is the unit whose builder created the environment.
func (e *Environment) BuiltBy() string { return e.builtBy }

// LoadError means a unit could not be opened or lacks an entry point.
// Nothing from the unit ran.
type LoadError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("failed to resolve %s in %s: %v", e.Symbol, filepath.Base(e.Path), e.Err)
	}
	return fmt.Sprintf("failed to load %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RuntimeError means EVAL returned null: the code raised and the runtime
// has already printed the exception.
type RuntimeError struct {
	Path string
}

func (e *RuntimeError) Error() string {
	return "the snippet raised an exception"
}

// Result describes one execution.
type Result struct {
	// BuiltEnv is set when this unit created the environment.
	BuiltEnv bool
}

// Bridge executes units through a Loader.
type Bridge struct {
	loader Loader
}

// New creates a bridge over loader.
func New(loader Loader) *Bridge {
	return &Bridge{loader: loader}
}

// Execute loads the unit at path, resolves all entry points, suspends the
// collector, builds env if needed and evaluates. The module link is closed
// on every path once it was opened.
func (b *Bridge) Execute(path string, env *Environment) (res Result, err error) {
	if env == nil {
		return res, errors.New("nil environment")
	}
	timer := logging.StartTimer(logging.CategoryBridge, "execute "+filepath.Base(path))
	defer timer.Stop()

	mod, err := b.loader.Load(path)
	if err != nil {
		return res, &LoadError{Path: path, Err: err}
	}
	defer func() {
		if cerr := mod.Close(); cerr != nil {
			logging.BridgeWarn("close %s: %v", filepath.Base(path), cerr)
		}
	}()

	syms := make(map[string]Symbol, len(entryPoints))
	for _, name := range entryPoints {
		sym, err := mod.Lookup(name)
		if err != nil {
			return res, &LoadError{Path: path, Symbol: name, Err: err}
		}
		syms[name] = sym
	}

	syms[EntryGCDisable].CallVoid()

	if !env.Built() {
		h := syms[EntryBuildEnv].CallVoid()
		if h == 0 {
			return res, &LoadError{Path: path, Symbol: EntryBuildEnv, Err: errors.New("returned a null environment")}
		}
		env.handle = h
		env.builds++
		env.builtBy = path
		res.BuiltEnv = true
		logging.Bridge("top-level environment built by %s", filepath.Base(path))
	}

	if syms[EntryEval].CallPtr(env.handle) == 0 {
		logging.BridgeDebug("EVAL returned null for %s", filepath.Base(path))
		return res, &RuntimeError{Path: path}
	}
	return res, nil
}
