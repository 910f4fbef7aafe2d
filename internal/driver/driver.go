// Package driver is the line-oriented front end of a session. A terminal
// gets an editing line reader with history; anything else (a pipe, a file)
// is read line by line with no prompts, so scripted input produces only
// program output.
package driver

import (
	"io"
	"os"

	"golang.org/x/term"

	"natrepl/internal/logging"
)

// Prompt selects which prompt to show.
type Prompt int

const (
	// Primary is shown when no input is buffered.
	Primary Prompt = iota
	// Continuation is shown while a construct is still open.
	Continuation
)

// Driver reads chunks of input and reports failures.
type Driver interface {
	// ReadChunk returns the next line including its newline. io.EOF ends
	// the session.
	ReadChunk(p Prompt) (string, error)

	// Report shows a diagnostic to the user.
	Report(msg string)

	Close() error
}

// Options configures both driver kinds.
type Options struct {
	Prompt             string
	ContinuationPrompt string
	Color              bool

	// History preloads the terminal's recall ring, oldest first.
	History []string
}

func (o Options) prompt(p Prompt) string {
	if p == Continuation {
		return o.ContinuationPrompt
	}
	return o.Prompt
}

// New picks a TerminalDriver when in is a terminal and a StreamDriver
// otherwise.
func New(in *os.File, out, errOut io.Writer, opts Options) (Driver, error) {
	if term.IsTerminal(int(in.Fd())) {
		logging.DriverDebug("stdin is a terminal, using line editor")
		return NewTerminal(in, out, opts)
	}
	logging.DriverDebug("stdin is not a terminal, reading lines")
	return NewStream(in, errOut), nil
}
