package snippet

import (
	"fmt"
	"strings"
)

// excerpt renders the given 1-based line of src with a caret under col:
//
//	2 | x = (1 +
//	  |         ^
//
// Out of range positions are clamped so the caret can always be drawn.
func excerpt(src string, line, col int) string {
	lines := strings.Split(src, "\n")
	if len(lines) == 0 {
		return ""
	}
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	text := strings.TrimRight(lines[line-1], "\r")
	if col < 1 {
		col = 1
	}
	if col > len(text)+1 {
		col = len(text) + 1
	}

	gutter := fmt.Sprintf("%4d | ", line)
	pad := strings.Repeat(" ", len(gutter)-2) + "| "
	var b strings.Builder
	b.WriteString(gutter)
	b.WriteString(text)
	b.WriteString("\n")
	b.WriteString(pad)
	// Keep tabs so the caret lines up with the source under any tab width.
	for _, r := range text[:col-1] {
		if r == '\t' {
			b.WriteByte('\t')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString("^")
	return b.String()
}
