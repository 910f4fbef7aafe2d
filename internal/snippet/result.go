// Package snippet classifies REPL input and rewrites complete programs so
// their last value is printed.
//
// Transform returns exactly one of three results:
//
//	Incomplete   - an open construct (block, bracket, literal); append more text
//	*SyntaxError - malformed input; discard the buffer
//	Ready        - a program to compile (possibly empty)
//
// Callers switch on the concrete type; there is no error path.
package snippet

import (
	"fmt"
	"strings"
)

// Result is the outcome of classifying one buffered input.
type Result interface {
	isResult()
}

// Incomplete means the input ends inside an unterminated construct.
type Incomplete struct {
	// Open lists the unterminated constructs, outermost first
	// (e.g. "def", "{", "<<~EOS").
	Open []string
}

// Ready carries a program that parsed cleanly.
type Ready struct {
	Program Program
}

// SyntaxError describes malformed input. Line and Column are 1-based and
// relative to the user's text (auto-load directives excluded).
type SyntaxError struct {
	Message string
	Line    int
	Column  int

	// Excerpt is the offending source line with a caret under Column.
	Excerpt string
}

func (Incomplete) isResult()   {}
func (Ready) isResult()        {}
func (*SyntaxError) isResult() {}

func (e *SyntaxError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d: %s", Filename, e.Line, e.Message)
	if e.Excerpt != "" {
		b.WriteString("\n")
		b.WriteString(e.Excerpt)
	}
	return b.String()
}

// Filename is the pseudo file name used in diagnostics.
const Filename = "(repl)"

// Span is a half-open byte range of one top-level statement.
type Span struct {
	Start int
	End   int
	Kind  string
}

// Program is a parsed snippet, already rewritten for display.
type Program struct {
	// Source is the text handed to the compiler.
	Source string

	// Original is the text before the rewrite.
	Original string

	// Statements are the top-level statements of Original.
	Statements []Span
}

// Empty reports whether the program has no statements and therefore needs
// no compilation.
func (p Program) Empty() bool {
	return len(p.Statements) == 0
}

// Last returns the source text of the final statement, which is the value
// the rewritten program prints.
func (p Program) Last() string {
	if p.Empty() {
		return ""
	}
	s := p.Statements[len(p.Statements)-1]
	return p.Original[s.Start:s.End]
}
