// Package session runs the read, compile, load, run loop. One Controller
// owns one Session: the persistent environment, the variable context the
// compiler threads through every unit, and the count of units that ran to
// completion. State only moves forward on success; a failed snippet leaves
// nothing behind but what its own code did to the environment before it
// raised.
package session

import (
	"errors"
	"fmt"
	"strings"

	"natrepl/internal/bridge"
	"natrepl/internal/compiler"
	"natrepl/internal/store"
)

// Session is the state carried from snippet to snippet.
type Session struct {
	ID string

	// Env is built by the first unit that runs and reused by every later one.
	Env *bridge.Environment

	// Vars is the context from the last successful unit.
	Vars compiler.VarContext

	// Counter counts successful units.
	Counter int

	// Requires are loaded ahead of the user's code until a unit has run.
	Requires []string

	requiresApplied bool
	unitSeq         int
}

// RequiresApplied reports whether the auto-load modules have been run.
func (s *Session) RequiresApplied() bool {
	return s.requiresApplied
}

// Attempts returns how many units were handed to the compiler, successful
// or not. Each got a distinct snippet ID.
func (s *Session) Attempts() int {
	return s.unitSeq
}

// prelude returns the auto-load directives still owed.
func (s *Session) prelude() string {
	if s.requiresApplied || len(s.Requires) == 0 {
		return ""
	}
	var b strings.Builder
	for _, name := range s.Requires {
		fmt.Fprintf(&b, "require '%s'\n", strings.ReplaceAll(name, "'", `\'`))
	}
	return b.String()
}

// Kind classifies an error returned while running a unit.
func Kind(err error) store.Outcome {
	var (
		ce *compiler.CompileError
		le *bridge.LoadError
		re *bridge.RuntimeError
	)
	switch {
	case err == nil:
		return store.OutcomeAccepted
	case errors.As(err, &ce):
		return store.OutcomeCompileError
	case errors.As(err, &le):
		return store.OutcomeLoadError
	case errors.As(err, &re):
		return store.OutcomeRuntimeError
	}
	return store.OutcomeInternal
}

// describe is the text shown to the user for a failed unit. A runtime
// error has already been printed by the runtime itself.
func describe(err error) string {
	var ce *compiler.CompileError
	switch {
	case errors.As(err, &ce):
		return ce.Message
	case Kind(err) == store.OutcomeRuntimeError:
		return ""
	}
	return err.Error()
}
