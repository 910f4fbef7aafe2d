package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns a comprehensive result.
	// A non-nil error means the command was rejected before running.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)
}
