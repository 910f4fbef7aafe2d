package snippet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"

	"natrepl/internal/logging"
)

// Transformer classifies buffered input and rewrites complete programs.
// It owns a tree-sitter parser and must be closed.
type Transformer struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewTransformer creates a transformer with the Ruby grammar loaded.
func NewTransformer() *Transformer {
	parser := sitter.NewParser()
	parser.SetLanguage(ruby.GetLanguage())
	return &Transformer{parser: parser}
}

// Close releases the parser.
func (t *Transformer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parser != nil {
		t.parser.Close()
		t.parser = nil
	}
}

// Transform classifies source on its own.
func Transform(source string) Result {
	t := NewTransformer()
	defer t.Close()
	return t.Transform(source)
}

// Transform classifies source and, when it is complete and valid, rewrites
// its last top-level statement S into `puts((_ = (S)).inspect)`.
func (t *Transformer) Transform(source string) Result {
	return t.TransformWithPrelude("", source)
}

// TransformWithPrelude classifies prelude+source as one program. The
// prelude (auto-load directives) is part of the compiled text, but
// diagnostics point into source.
func (t *Transformer) TransformWithPrelude(prelude, source string) Result {
	full := prelude + source
	offset := strings.Count(prelude, "\n")

	sc := scan(full)
	if sc.stray != nil {
		msg := fmt.Sprintf("syntax error, unexpected '%s'", sc.stray.token)
		logging.TransformDebug("stray %q at %d:%d", sc.stray.token, sc.stray.line, sc.stray.col)
		return newSyntaxError(full, msg, sc.stray.line, sc.stray.col, offset)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parser == nil {
		return &SyntaxError{Message: "transformer is closed", Line: 1, Column: 1}
	}

	content := []byte(full)
	tree, err := t.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return &SyntaxError{Message: fmt.Sprintf("parse failed: %v", err), Line: 1, Column: 1}
	}
	defer tree.Close()
	root := tree.RootNode()

	// The grammar has the last word on validity. An open literal is still
	// incomplete even when the grammar tolerates it (a heredoc with no body
	// parses cleanly), and an open keyword the grammar accepts was a
	// modifier the scan could not tell apart.
	if sc.incomplete() && (root.HasError() || sc.literal || sc.continued) {
		logging.TransformDebug("incomplete, open=%v continued=%v", sc.openTokens(), sc.continued)
		return Incomplete{Open: sc.openTokens()}
	}
	if root.HasError() {
		return grammarError(root, content, offset)
	}

	prog := Program{Source: full, Original: full}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "comment", "heredoc_body", "empty_statement", "uninterpreted":
			continue
		}
		prog.Statements = append(prog.Statements, Span{
			Start: int(n.StartByte()),
			End:   int(n.EndByte()),
			Kind:  n.Type(),
		})
	}
	if !prog.Empty() {
		last := prog.Statements[len(prog.Statements)-1]
		switch last.Kind {
		case "begin_block", "end_block":
			// BEGIN { } and END { } are only legal at top level.
		default:
			prog.Source = rewrite(full, last)
		}
	}
	logging.TransformDebug("ready, %d statement(s)", len(prog.Statements))
	return Ready{Program: prog}
}

// rewrite wraps the statement at s so its value is printed and bound to _.
func rewrite(src string, s Span) string {
	var b strings.Builder
	b.Grow(len(src) + 32)
	b.WriteString(src[:s.Start])
	b.WriteString("puts((_ = (")
	b.WriteString(src[s.Start:s.End])
	b.WriteString(")).inspect)")
	b.WriteString(src[s.End:])
	return b.String()
}

func grammarError(root *sitter.Node, content []byte, offset int) *SyntaxError {
	n := firstError(root)
	if n == nil {
		return newSyntaxError(string(content), "syntax error", 1, 1, offset)
	}

	pt := n.StartPoint()
	line, col := int(pt.Row)+1, int(pt.Column)+1
	var msg string
	switch {
	case n.IsMissing():
		msg = fmt.Sprintf("syntax error, missing '%s'", n.Type())
	case int(n.EndByte()) >= len(strings.TrimRight(string(content), " \t\r\n")):
		msg = "syntax error, unexpected end-of-input"
		end := n.EndPoint()
		line, col = int(end.Row)+1, int(end.Column)+1
	default:
		text := n.Content(content)
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		if len(text) > 24 {
			text = text[:24] + "..."
		}
		msg = fmt.Sprintf("syntax error, unexpected '%s'", strings.TrimSpace(text))
	}
	return newSyntaxError(string(content), msg, line, col, offset)
}

// firstError returns the earliest ERROR or MISSING node in document order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsMissing() || n.Type() == "ERROR" {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || !c.HasError() && !c.IsMissing() {
			continue
		}
		if e := firstError(c); e != nil {
			return e
		}
	}
	return nil
}

// newSyntaxError positions an error found in the full text relative to the
// user's input. An error inside the prelude keeps its own line.
func newSyntaxError(full, msg string, line, col, offset int) *SyntaxError {
	userLine := line - offset
	if userLine < 1 {
		msg = "in auto-loaded requires: " + msg
		return &SyntaxError{Message: msg, Line: line, Column: col, Excerpt: excerpt(full, line, col)}
	}
	user := full
	for i := 0; i < offset; i++ {
		user = user[strings.IndexByte(user, '\n')+1:]
	}
	ex := excerpt(user, userLine, col)
	return &SyntaxError{
		Message: msg,
		Line:    userLine,
		Column:  col,
		Excerpt: ex,
	}
}
