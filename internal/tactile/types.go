// Package tactile is the process execution layer. natrepl uses it to drive
// the external native compiler: one subprocess per snippet, stdin in,
// stdout/stderr captured with a size cap, killed as a process group when the
// compile timeout expires so a stuck C toolchain does not outlive it.
package tactile

import (
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "natalie").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment is the complete child environment (KEY=VALUE).
	// Nil inherits the executor's allowed variables.
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin []byte `json:"-"`

	// Timeout overrides the executor default when positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	// SessionID tags the execution for log correlation.
	SessionID string `json:"session_id,omitempty"`
}

// CommandString returns a printable form of the command line.
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult contains the complete result of command execution.
type ExecutionResult struct {
	// Success reports whether the process ran (even with a non-zero exit).
	Success bool `json:"success"`

	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed is set when the process was stopped by timeout or cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// Error is set when the process could not be started at all.
	Error string `json:"error,omitempty"`
}

// IsError returns true if the command failed to run or was killed.
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Killed
}

// IsNonZeroExit returns true if the command ran but exited non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && !r.Killed && r.ExitCode != 0
}

// Output returns stderr when present, otherwise stdout. Compilers report
// diagnostics on stderr, so that is the text worth surfacing.
func (r *ExecutionResult) Output() string {
	if strings.TrimSpace(r.Stderr) != "" {
		return r.Stderr
	}
	return r.Stdout
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string

	// DefaultTimeout is used when no timeout is specified. Zero means none.
	DefaultTimeout time.Duration

	// AllowedEnvironment lists environment variables to pass through when
	// the command does not carry its own environment.
	AllowedEnvironment []string

	// MaxOutputBytes caps output capture per stream.
	MaxOutputBytes int64
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:  ".",
		DefaultTimeout:     2 * time.Minute,
		MaxOutputBytes:     4 * 1024 * 1024,
		AllowedEnvironment: []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR"},
	}
}

// Merge combines this config with command-specific settings.
// Command settings override config defaults.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd
	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}
	if result.Timeout <= 0 {
		result.Timeout = c.DefaultTimeout
	}
	return result
}
