package snippet

import (
	"strings"
)

// scanResult is what a structural pass over the input found.
type scanResult struct {
	// open holds unterminated constructs, outermost first.
	open []opener

	// continued is set when the input ends in a line continuation.
	continued bool

	// literal is set when an unterminated string, regexp or heredoc is
	// among the open constructs.
	literal bool

	// stray is set when a closer had nothing to close.
	stray *opener
}

func (r scanResult) incomplete() bool {
	return len(r.open) > 0 || r.continued
}

func (r scanResult) openTokens() []string {
	out := make([]string, len(r.open))
	for i, o := range r.open {
		out[i] = o.token
	}
	return out
}

type opener struct {
	token string
	line  int
	col   int
}

type frameKind int

const (
	frameKeyword frameKind = iota
	frameParen
	frameBracket
	frameBrace
	frameString
	frameInterp
	frameHeredoc
)

type frame struct {
	kind frameKind
	opener

	// literal state
	open   byte // nesting delimiter for %-literals, 0 if none
	close  byte
	depth  int
	interp bool
	regexp bool

	// heredoc state
	id       string
	indented bool
}

// prevClass is the lexical class of the last significant token; it decides
// whether `if`, `/`, `%` and `<<` start something or are operators.
type prevClass int

const (
	prevStart    prevClass = iota // start of statement
	prevOperator                  // operator, opening bracket, comma, keyword
	prevValue                     // identifier, literal, closing bracket, `end`
)

type scanner struct {
	src  string
	pos  int
	line int
	col  int // byte column of pos, 1-based

	stack   []frame
	pending []frame // heredocs whose bodies start on the next line

	prev        prevClass
	spaceBefore bool
	afterDot    bool // the next word is a method name
	afterDef    bool // the next word is a method being defined
	loopDo      bool // an optional `do` on this line belongs to while/until/for

	stray *opener
}

// scan walks src tracking every construct that needs a terminator. It is
// not a parser: it only has to agree with Ruby on where things open and
// close, and the grammar has the final word on validity.
func scan(src string) scanResult {
	s := &scanner{src: src, line: 1, col: 1}
	s.run()

	var res scanResult
	res.stray = s.stray
	// Heredoc bodies that have not started yet are still owed.
	for _, f := range append(s.stack, s.pending...) {
		res.open = append(res.open, f.opener)
		if f.kind == frameString || f.kind == frameHeredoc {
			res.literal = true
		}
	}
	res.continued = endsWithContinuation(src)
	return res
}

func endsWithContinuation(src string) bool {
	trimmed := strings.TrimRight(src, " \t\r\n")
	if !strings.HasSuffix(trimmed, "\\") {
		return false
	}
	// An escaped backslash is not a continuation.
	n := 0
	for i := len(trimmed) - 1; i >= 0 && trimmed[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1 && !strings.HasPrefix(strings.TrimSpace(lastLine(trimmed)), "#")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (s *scanner) run() {
	for s.pos < len(s.src) && s.stray == nil {
		top := s.top()
		switch {
		case top != nil && top.kind == frameString:
			s.stepLiteral(top)
		case top != nil && top.kind == frameHeredoc:
			s.stepHeredoc(top)
		default:
			if s.stepCode() {
				return
			}
		}
	}
}

func (s *scanner) top() *frame {
	if len(s.stack) == 0 {
		return nil
	}
	return &s.stack[len(s.stack)-1]
}

func (s *scanner) here(token string) opener {
	return opener{token: token, line: s.line, col: s.col}
}

func (s *scanner) push(f frame) {
	s.stack = append(s.stack, f)
}

func (s *scanner) pop() {
	s.stack = s.stack[:len(s.stack)-1]
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}
	return 0
}

func (s *scanner) advance(n int) {
	for i := 0; i < n && s.pos < len(s.src); i++ {
		if s.src[s.pos] == '\n' {
			s.line++
			s.col = 1
		} else {
			s.col++
		}
		s.pos++
	}
}

func (s *scanner) atLineStart() bool {
	return s.pos == 0 || s.src[s.pos-1] == '\n'
}

func (s *scanner) restOfLine() string {
	end := strings.IndexByte(s.src[s.pos:], '\n')
	if end < 0 {
		return s.src[s.pos:]
	}
	return s.src[s.pos : s.pos+end]
}

func (s *scanner) skipLine() {
	s.advance(len(s.restOfLine()))
}

// stepCode consumes one token of ordinary code. It returns true when
// scanning must stop (__END__).
func (s *scanner) stepCode() bool {
	c := s.src[s.pos]

	if s.atLineStart() {
		line := s.restOfLine()
		if strings.TrimRight(line, "\r") == "__END__" {
			return true
		}
		if strings.HasPrefix(line, "=begin") && (len(line) == 6 || isSpace(line[6])) {
			s.blockComment()
			return false
		}
	}

	switch {
	case c == '\n':
		s.advance(1)
		s.newline()
		return false
	case c == ' ' || c == '\t' || c == '\r':
		s.advance(1)
		s.spaceBefore = true
		return false
	case c == '\\' && (s.peek(1) == '\n' || s.peek(1) == '\r'):
		s.advance(2)
		if s.peek(-1) == '\r' && s.peek(0) == '\n' {
			s.advance(1)
		}
		return false
	case c == '#':
		s.skipLine()
		return false
	}

	wasSpace := s.spaceBefore
	s.spaceBefore = false

	switch {
	case c == '"' || c == '`':
		s.push(frame{kind: frameString, opener: s.here(string(c)), close: c, interp: true})
		s.advance(1)
	case c == '\'':
		s.push(frame{kind: frameString, opener: s.here("'"), close: '\''})
		s.advance(1)
	case c == ':':
		s.colon()
	case c == '%' && s.prev != prevValue || c == '%' && wasSpace && isPercentStart(s.peek(1), s.peek(2)):
		if !s.percentLiteral() {
			s.advance(1)
			s.prev = prevOperator
		}
	case c == '/' && (s.prev != prevValue || wasSpace && s.peek(1) != ' ' && s.peek(1) != '='):
		s.push(frame{kind: frameString, opener: s.here("/"), close: '/', interp: true, regexp: true})
		s.advance(1)
	case c == '?' && s.prev != prevValue && s.peek(1) != 0 && !isSpace(s.peek(1)) && !isIdent(s.peek(2)):
		// character literal such as ?a or ?"
		if s.peek(1) == '\\' {
			s.advance(3)
		} else {
			s.advance(2)
		}
		s.prev = prevValue
	case c == '<' && s.peek(1) == '<' && (s.prev != prevValue || wasSpace):
		if !s.heredoc() {
			s.advance(2)
			s.prev = prevOperator
		}
	case c == '.':
		if s.peek(1) == '.' {
			s.advance(2)
			if s.peek(0) == '.' {
				s.advance(1)
			}
			s.prev = prevOperator
			return false
		}
		s.advance(1)
		s.afterDot = true
		s.prev = prevOperator
	case c == '&' && s.peek(1) == '.':
		s.advance(2)
		s.afterDot = true
		s.prev = prevOperator
	case c == '@' || c == '$':
		s.advance(1)
		for s.pos < len(s.src) && (isIdent(s.src[s.pos]) || s.src[s.pos] == '@') {
			s.advance(1)
		}
		s.prev = prevValue
	case isDigit(c):
		s.number()
	case isIdentStart(c):
		s.word()
	case c == '(' || c == '[' || c == '{':
		kinds := map[byte]frameKind{'(': frameParen, '[': frameBracket, '{': frameBrace}
		s.push(frame{kind: kinds[c], opener: s.here(string(c))})
		s.advance(1)
		s.prev = prevOperator
	case c == ')' || c == ']' || c == '}':
		s.closeBracket(c)
	default:
		s.advance(1)
		s.prev = prevOperator
	}
	return false
}

func (s *scanner) newline() {
	s.loopDo = false
	s.afterDot = false
	s.afterDef = false
	s.prev = prevStart
	if len(s.pending) == 0 {
		return
	}
	for i := len(s.pending) - 1; i >= 0; i-- {
		s.push(s.pending[i])
	}
	s.pending = nil
}

func (s *scanner) blockComment() {
	start := s.here("=begin")
	for s.pos < len(s.src) {
		s.skipLine()
		s.advance(1) // newline
		line := s.restOfLine()
		if strings.HasPrefix(line, "=end") && (len(line) == 4 || isSpace(line[4])) {
			s.skipLine()
			return
		}
	}
	s.push(frame{kind: frameString, opener: start, close: 0})
	// Nothing can close it; park at EOF.
	s.pos = len(s.src)
}

func (s *scanner) colon() {
	switch next := s.peek(1); {
	case next == ':':
		s.advance(2)
		s.afterDot = true
		s.prev = prevOperator
	case next == '"':
		s.advance(1)
		s.push(frame{kind: frameString, opener: s.here(`:"`), close: '"', interp: true})
		s.advance(1)
	case next == '\'':
		s.advance(1)
		s.push(frame{kind: frameString, opener: s.here(`:'`), close: '\''})
		s.advance(1)
	case isIdentStart(next) || next == '@' || next == '$':
		// Symbols never open anything, :end included.
		s.advance(2)
		for s.pos < len(s.src) && (isIdent(s.src[s.pos]) || s.src[s.pos] == '@') {
			s.advance(1)
		}
		if c := s.peek(0); c == '?' || c == '!' || c == '=' && s.peek(1) != '>' && s.peek(1) != '=' {
			s.advance(1)
		}
		s.prev = prevValue
	default:
		s.advance(1)
		s.prev = prevOperator
	}
}

func isPercentStart(a, b byte) bool {
	if strings.IndexByte("qQwWiIrsx", a) >= 0 {
		return b != 0 && !isIdent(b) && !isSpace(b)
	}
	return strings.IndexByte("([{<|!", a) >= 0
}

func (s *scanner) percentLiteral() bool {
	kind := s.peek(1)
	delim := kind
	width := 2
	if strings.IndexByte("qQwWiIrsx", kind) >= 0 {
		delim = s.peek(2)
		width = 3
	} else {
		kind = 'Q'
	}
	if delim == 0 || isIdent(delim) || isSpace(delim) {
		return false
	}
	closer := delim
	switch delim {
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	case '<':
		closer = '>'
	}
	f := frame{
		kind:   frameString,
		opener: s.here(s.src[s.pos : s.pos+width]),
		close:  closer,
		interp: kind == 'Q' || kind == 'W' || kind == 'I' || kind == 'r' || kind == 'x',
		regexp: kind == 'r',
	}
	if closer != delim {
		f.open = delim
	}
	s.push(f)
	s.advance(width)
	return true
}

// heredoc recognises <<ID, <<-ID, <<~ID and their quoted forms. The body
// starts on the next line, so the frame is parked until then.
func (s *scanner) heredoc() bool {
	rest := s.src[s.pos+2:]
	i := 0
	indented := false
	if i < len(rest) && (rest[i] == '~' || rest[i] == '-') {
		indented = true
		i++
	}
	quote := byte(0)
	if i < len(rest) && (rest[i] == '\'' || rest[i] == '"' || rest[i] == '`') {
		quote = rest[i]
		i++
	}
	start := i
	for i < len(rest) && isIdent(rest[i]) {
		i++
	}
	if i == start || !isIdentStart(rest[start]) && quote == 0 {
		return false
	}
	id := rest[start:i]
	if quote != 0 {
		if i >= len(rest) || rest[i] != quote {
			return false
		}
		i++
	}
	s.pending = append(s.pending, frame{
		kind:     frameHeredoc,
		opener:   s.here(s.src[s.pos : s.pos+2+i]),
		id:       id,
		indented: indented,
		interp:   quote != '\'',
	})
	s.advance(2 + i)
	s.prev = prevValue
	return true
}

func (s *scanner) number() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if isIdent(c) || c == '.' && isDigit(s.peek(1)) {
			s.advance(1)
			continue
		}
		break
	}
	s.prev = prevValue
}

func (s *scanner) closeBracket(c byte) {
	want := map[byte]frameKind{')': frameParen, ']': frameBracket, '}': frameBrace}[c]
	top := s.top()
	switch {
	case top != nil && c == '}' && top.kind == frameInterp:
		s.pop()
		s.advance(1)
		return
	case top != nil && top.kind == want:
		s.pop()
	default:
		o := s.here(string(c))
		s.stray = &o
		return
	}
	s.advance(1)
	s.prev = prevValue
}

func (s *scanner) stepLiteral(f *frame) {
	c := s.src[s.pos]
	switch {
	case c == '\\':
		s.advance(2)
	case f.interp && c == '#' && s.peek(1) == '{':
		s.push(frame{kind: frameInterp, opener: s.here("#{")})
		s.advance(2)
		s.prev = prevStart
	case f.open != 0 && c == f.open:
		f.depth++
		s.advance(1)
	case c == f.close:
		if f.depth > 0 {
			f.depth--
			s.advance(1)
			return
		}
		regexp := f.regexp
		s.pop()
		s.advance(1)
		if regexp {
			for s.pos < len(s.src) && strings.IndexByte("imxounse", s.src[s.pos]) >= 0 {
				s.advance(1)
			}
		}
		s.prev = prevValue
	default:
		s.advance(1)
	}
}

// stepHeredoc is entered at the start of a body line.
func (s *scanner) stepHeredoc(f *frame) {
	if s.atLineStart() {
		line := strings.TrimRight(s.restOfLine(), "\r")
		if f.indented {
			line = strings.TrimLeft(line, " \t")
		}
		if line == f.id {
			s.skipLine()
			s.pop()
			return
		}
	}
	c := s.src[s.pos]
	switch {
	case c == '\\':
		s.advance(2)
	case f.interp && c == '#' && s.peek(1) == '{':
		s.push(frame{kind: frameInterp, opener: s.here("#{")})
		s.advance(2)
		s.prev = prevStart
	default:
		s.advance(1)
	}
}

// word handles identifiers and keywords.
func (s *scanner) word() {
	start := s.pos
	for s.pos < len(s.src) && isIdent(s.src[s.pos]) {
		s.advance(1)
	}
	if c := s.peek(0); (c == '?' || c == '!') && s.peek(1) != '=' {
		s.advance(1)
	}
	w := s.src[start:s.pos]
	at := opener{token: w, line: s.line, col: s.col - len(w)}

	if s.afterDot || s.afterDef {
		s.afterDot = false
		s.afterDef = false
		s.prev = prevValue
		return
	}
	// hash label such as `if: 1`
	if s.peek(0) == ':' && s.peek(1) != ':' {
		s.advance(1)
		s.prev = prevOperator
		return
	}

	stmtStart := s.prev != prevValue
	switch w {
	case "def":
		s.afterDef = true
		s.prev = prevOperator
		if !isEndlessDef(s.src[s.pos:]) {
			s.push(frame{kind: frameKeyword, opener: at})
		}
		return
	case "class", "module", "begin", "case":
		s.push(frame{kind: frameKeyword, opener: at})
	case "for":
		s.push(frame{kind: frameKeyword, opener: at})
		s.loopDo = true
	case "while", "until":
		if stmtStart {
			s.push(frame{kind: frameKeyword, opener: at})
			s.loopDo = true
		}
	case "if", "unless":
		if stmtStart {
			s.push(frame{kind: frameKeyword, opener: at})
		}
	case "do":
		if s.loopDo {
			s.loopDo = false
		} else {
			s.push(frame{kind: frameKeyword, opener: at})
		}
	case "end":
		top := s.top()
		if top == nil || top.kind != frameKeyword {
			s.stray = &at
			return
		}
		s.pop()
		s.prev = prevValue
		return
	case "then", "else", "elsif", "when", "in", "rescue", "ensure",
		"and", "or", "not", "defined?":
	default:
		s.prev = prevValue
		return
	}
	s.prev = prevOperator
}

var operatorNames = []string{
	"===", "==", "=~", "!=", "!~", "<=>", "<=", ">=", "<<", ">>",
	"[]=", "[]", "**", "+@", "-@", "+", "-", "*", "/", "%", "<", ">",
	"!", "~", "&", "|", "^",
}

// isEndlessDef reports whether the text after `def` is a one-line
// definition (`def name(args) = expr`), which takes no `end`.
func isEndlessDef(rest string) bool {
	i := skipSpaces(rest, 0)

	name := func() bool {
		if i < len(rest) && isIdentStart(rest[i]) {
			for i < len(rest) && isIdent(rest[i]) {
				i++
			}
			if i < len(rest) && (rest[i] == '?' || rest[i] == '!') {
				i++
			} else if i+1 < len(rest) && rest[i] == '=' && rest[i+1] == '(' {
				i++ // setter
			}
			return true
		}
		for _, op := range operatorNames {
			if strings.HasPrefix(rest[i:], op) {
				i += len(op)
				return true
			}
		}
		return false
	}

	if !name() {
		return false
	}
	// receiver: def self.foo / def Foo.bar
	if i < len(rest) && rest[i] == '.' {
		i++
		if !name() {
			return false
		}
	}
	i = skipSpaces(rest, i)
	if i < len(rest) && rest[i] == '(' {
		depth := 0
		for ; i < len(rest); i++ {
			if rest[i] == '(' {
				depth++
			} else if rest[i] == ')' {
				depth--
				if depth == 0 {
					i++
					break
				}
			} else if rest[i] == '\n' {
				return false
			}
		}
	}
	i = skipSpaces(rest, i)
	if i >= len(rest) || rest[i] != '=' {
		return false
	}
	if i+1 < len(rest) && strings.IndexByte("=~>", rest[i+1]) >= 0 {
		return false
	}
	return true
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isIdent(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
