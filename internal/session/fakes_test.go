package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"natrepl/internal/bridge"
	"natrepl/internal/compiler"
	"natrepl/internal/store"
)

// fakeBuilder stands in for the external compiler. It writes the program
// text to the output path so the fake loader can run it, and derives the
// next variable context from the assignments it sees.
type fakeBuilder struct {
	requests []compiler.Request
	existed  []bool // whether OutPath existed when Build ran
	debugDir bool   // also produce a <path>.dSYM directory

	// reportPath, when set, is where the unit is written and the path
	// reported back instead of OutPath.
	reportPath string

	// onBuild runs before anything else; a non-nil error is returned as is.
	onBuild func(ctx context.Context) error
}

var assignRE = regexp.MustCompile(`(?m)(?:^|[;(\s])([a-z_]\w*) = `)

func (b *fakeBuilder) Build(ctx context.Context, req compiler.Request) (*compiler.Unit, error) {
	b.requests = append(b.requests, req)
	_, statErr := os.Stat(req.OutPath)
	b.existed = append(b.existed, statErr == nil)
	if b.onBuild != nil {
		if err := b.onBuild(ctx); err != nil {
			return nil, err
		}
	}

	if strings.Contains(req.Program.Source, "undefined_method") {
		return nil, &compiler.CompileError{
			SnippetID: req.SnippetID,
			Message:   "undefined method 'undefined_method' for main:Object",
			ExitCode:  1,
		}
	}

	out := req.OutPath
	if b.reportPath != "" {
		out = b.reportPath
	}
	if err := os.WriteFile(out, []byte(req.Program.Source), 0600); err != nil {
		return nil, err
	}
	if b.debugDir {
		if err := os.MkdirAll(out+".dSYM/Contents", 0700); err != nil {
			return nil, err
		}
	}

	var updates []compiler.Binding
	next := req.Vars.Len()
	for _, m := range assignRE.FindAllStringSubmatch(req.Program.Source, -1) {
		name := m[1]
		if _, ok := req.Vars.Lookup(name); ok {
			continue
		}
		updates = append(updates, compiler.Binding{Name: name, Index: next})
		next++
	}
	vars, err := req.Vars.Merge(updates)
	if err != nil {
		return nil, err
	}
	return &compiler.Unit{Path: out, Vars: vars}, nil
}

func (b *fakeBuilder) sources() []string {
	out := make([]string, len(b.requests))
	for i, r := range b.requests {
		out[i] = r.Program.Source
	}
	return out
}

// fakeRuntime is the process-wide native runtime: one environment, shared
// by every module the loader opens.
type fakeRuntime struct {
	out      bytes.Buffer
	vars     map[string]string
	required []string
	builds   int
	gcOff    int
	missing  string
	loaded   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{vars: make(map[string]string)}
}

func (r *fakeRuntime) Load(path string) (bridge.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r.loaded = append(r.loaded, path)
	return &fakeModule{rt: r, src: string(src)}, nil
}

type fakeModule struct {
	rt  *fakeRuntime
	src string
}

func (m *fakeModule) Lookup(name string) (bridge.Symbol, error) {
	if name == m.rt.missing {
		return nil, fmt.Errorf("undefined symbol: %s", name)
	}
	return fakeEntry{name: name, m: m}, nil
}

func (m *fakeModule) Close() error { return nil }

type fakeEntry struct {
	name string
	m    *fakeModule
}

func (e fakeEntry) CallVoid() uintptr {
	switch e.name {
	case bridge.EntryGCDisable:
		e.m.rt.gcOff++
	case bridge.EntryBuildEnv:
		e.m.rt.builds++
		return 0x1000
	}
	return 0
}

func (e fakeEntry) CallPtr(env uintptr) uintptr {
	if env != 0x1000 {
		return 0
	}
	if err := e.m.rt.run(e.m.src); err != nil {
		fmt.Fprintf(&e.m.rt.out, "%v\n", err)
		return 0
	}
	return 1
}

const (
	wrapOpen  = "puts((_ = ("
	wrapClose = ")).inspect)"
)

var errRaised = errors.New("RuntimeError")

// run interprets just enough Ruby for the session tests.
func (r *fakeRuntime) run(src string) error {
	before, inner, wrapped := src, "", false
	if i := strings.Index(src, wrapOpen); i >= 0 {
		j := strings.LastIndex(src, wrapClose)
		before, inner, wrapped = src[:i], src[i+len(wrapOpen):j], true
	}
	for _, line := range strings.Split(before, "\n") {
		for _, stmt := range strings.Split(line, ";") {
			if _, err := r.eval(stmt); err != nil {
				return err
			}
		}
	}
	if !wrapped {
		return nil
	}
	v, err := r.eval(inner)
	if err != nil {
		return err
	}
	r.vars["_"] = v
	fmt.Fprintln(&r.out, v)
	return nil
}

var (
	defRE     = regexp.MustCompile(`^def\s+(\w+)`)
	requireRE = regexp.MustCompile(`^require\s+'([^']+)'$`)
	setRE     = regexp.MustCompile(`^([a-z_]\w*)\s*=\s*(.+)$`)
	identRE   = regexp.MustCompile(`^[a-z_]\w*$`)
)

func (r *fakeRuntime) eval(expr string) (string, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "" || strings.HasPrefix(expr, "#"):
		return "nil", nil
	case strings.HasPrefix(expr, "raise"):
		return "", errRaised
	case defRE.MatchString(expr):
		return ":" + defRE.FindStringSubmatch(expr)[1], nil
	case requireRE.MatchString(expr):
		r.required = append(r.required, requireRE.FindStringSubmatch(expr)[1])
		return "true", nil
	case setRE.MatchString(expr):
		m := setRE.FindStringSubmatch(expr)
		v, err := r.eval(m[2])
		if err != nil {
			return "", err
		}
		r.vars[m[1]] = v
		return v, nil
	}
	for _, op := range []string{" + ", " - ", " * "} {
		if i := strings.Index(expr, op); i > 0 {
			a, err := r.int(expr[:i])
			if err != nil {
				return "", err
			}
			b, err := r.int(expr[i+len(op):])
			if err != nil {
				return "", err
			}
			switch op {
			case " + ":
				return strconv.Itoa(a + b), nil
			case " - ":
				return strconv.Itoa(a - b), nil
			default:
				return strconv.Itoa(a * b), nil
			}
		}
	}
	if identRE.MatchString(expr) {
		v, ok := r.vars[expr]
		if !ok {
			return "", fmt.Errorf("NameError: undefined local variable or method '%s'", expr)
		}
		return v, nil
	}
	return expr, nil
}

func (r *fakeRuntime) int(expr string) (int, error) {
	v, err := r.eval(expr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// memJournal collects entries in memory.
type memJournal struct {
	outcomes []string
	err      error
}

func (j *memJournal) Record(e store.Entry) error {
	j.outcomes = append(j.outcomes, string(e.Outcome))
	return j.err
}
