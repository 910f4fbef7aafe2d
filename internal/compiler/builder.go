// Package compiler is the boundary to the external ahead-of-time compiler.
// It hands one rewritten program plus the current variable context to the
// compiler and gets back a loadable native module and the next context.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"natrepl/internal/build"
	"natrepl/internal/config"
	"natrepl/internal/logging"
	"natrepl/internal/snippet"
	"natrepl/internal/tactile"
)

// Request is one compilation unit to build.
type Request struct {
	Program   snippet.Program
	Vars      VarContext
	SnippetID int

	// OutPath is where the loadable module must be written.
	OutPath string
}

// Unit is a built, loadable module.
type Unit struct {
	Path string

	// Vars is the context after this unit's assignments.
	Vars VarContext

	// Output is anything the compiler printed besides its response
	// (warnings). It is informational only.
	Output string
}

// Builder turns a request into a unit.
type Builder interface {
	Build(ctx context.Context, req Request) (*Unit, error)
}

// CompileError is a compilation failure. Message is the compiler's own
// diagnostic, passed through unchanged.
type CompileError struct {
	SnippetID int
	Message   string
	ExitCode  int
}

func (e *CompileError) Error() string {
	return e.Message
}

// IsCompileError reports whether err is (or wraps) a CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}

// wireRequest is written to the compiler's stdin.
type wireRequest struct {
	Source  string     `json:"source"`
	ReplNum int        `json:"repl_num"`
	Output  string     `json:"output"`
	Vars    VarContext `json:"vars"`
}

// wireResponse is the last non-empty line of the compiler's stdout.
type wireResponse struct {
	Artifact string    `json:"artifact"`
	Vars     []Binding `json:"vars"`
	Error    string    `json:"error"`
}

// ExternalBuilder runs the compiler as a subprocess per unit.
type ExternalBuilder struct {
	executor  tactile.Executor
	binary    string
	args      []string
	dir       string
	env       []string
	timeout   time.Duration
	sessionID string
}

// NewExternalBuilder creates a builder from the compiler section of cfg.
func NewExternalBuilder(cfg *config.Config, executor tactile.Executor, sessionID string) *ExternalBuilder {
	if executor == nil {
		executor = tactile.NewDirectExecutor()
	}
	return &ExternalBuilder{
		executor:  executor,
		binary:    cfg.Compiler.Binary,
		args:      append([]string(nil), cfg.Compiler.Args...),
		dir:       cfg.Compiler.WorkingDirectory,
		env:       build.CompilerEnv(cfg),
		timeout:   cfg.GetCompileTimeout(),
		sessionID: sessionID,
	}
}

// Build compiles req.Program into req.OutPath.
func (b *ExternalBuilder) Build(ctx context.Context, req Request) (*Unit, error) {
	timer := logging.StartTimer(logging.CategoryCompile, fmt.Sprintf("compile snippet %d", req.SnippetID))
	defer timer.StopWithThreshold(10 * time.Second)

	if req.OutPath == "" {
		return nil, fmt.Errorf("snippet %d: no output path", req.SnippetID)
	}
	payload, err := json.Marshal(wireRequest{
		Source:  req.Program.Source,
		ReplNum: req.SnippetID,
		Output:  req.OutPath,
		Vars:    req.Vars,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode compile request: %w", err)
	}

	cmd := tactile.Command{
		Binary:           b.binary,
		Arguments:        b.args,
		WorkingDirectory: b.dir,
		Environment:      b.env,
		Stdin:            payload,
		Timeout:          b.timeout,
		SessionID:        b.sessionID,
	}
	logging.CompileDebug("snippet %d: %s (%d vars in)", req.SnippetID, cmd.CommandString(), req.Vars.Len())

	res, err := b.executor.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run compiler: %w", err)
	}
	return b.decode(req, res)
}

func (b *ExternalBuilder) decode(req Request, res *tactile.ExecutionResult) (*Unit, error) {
	fail := func(msg string) error {
		return &CompileError{SnippetID: req.SnippetID, Message: msg, ExitCode: res.ExitCode}
	}

	switch {
	case res.Killed:
		return nil, fail(fmt.Sprintf("%s: %s", b.binary, res.KillReason))
	case res.IsError():
		return nil, fail(fmt.Sprintf("could not start %s: %s", b.binary, res.Error))
	case res.IsNonZeroExit():
		msg := strings.TrimSpace(res.Output())
		if msg == "" {
			msg = fmt.Sprintf("%s exited with status %d", b.binary, res.ExitCode)
		}
		return nil, fail(msg)
	}

	body, extra := splitResponse(res.Stdout)
	var resp wireResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fail(fmt.Sprintf("unreadable compiler response: %v", err))
	}
	if resp.Error != "" {
		return nil, fail(resp.Error)
	}

	path := resp.Artifact
	if path == "" {
		path = req.OutPath
	}
	if path != req.OutPath {
		logging.CompileWarn("snippet %d: compiler wrote %s instead of %s", req.SnippetID, path, req.OutPath)
	}

	vars, err := req.Vars.Merge(resp.Vars)
	if err != nil {
		return nil, fail(fmt.Sprintf("bad variable context from compiler: %v", err))
	}

	output := strings.TrimSpace(strings.Join([]string{extra, res.Stderr}, "\n"))
	logging.Compile("snippet %d compiled in %s (%d vars out)", req.SnippetID, res.Duration, vars.Len())
	return &Unit{Path: path, Vars: vars, Output: output}, nil
}

// splitResponse separates the JSON response line from anything the compiler
// printed before it.
func splitResponse(stdout string) (body, extra string) {
	trimmed := strings.TrimRight(stdout, " \t\r\n")
	i := strings.LastIndexByte(trimmed, '\n')
	if i < 0 {
		return trimmed, ""
	}
	return strings.TrimSpace(trimmed[i+1:]), strings.TrimSpace(trimmed[:i])
}
