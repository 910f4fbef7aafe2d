package driver

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"natrepl/internal/logging"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	contStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2a3850"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
)

// TerminalDriver edits lines in raw mode. The terminal is put back into
// its original mode between reads so native output lands on a cooked tty.
type TerminalDriver struct {
	fd      int
	saved   *term.State
	term    *term.Terminal
	out     io.Writer
	opts    Options
	history *ring
}

// NewTerminal takes over the terminal on in.
func NewTerminal(in *os.File, out io.Writer, opts Options) (*TerminalDriver, error) {
	fd := int(in.Fd())
	saved, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal state: %w", err)
	}

	rw := struct {
		io.Reader
		io.Writer
	}{in, out}
	t := term.NewTerminal(rw, "")
	h := newRing(historySize)
	for _, line := range opts.History {
		h.Add(line)
	}
	t.History = h

	if w, _, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, 0)
	}

	return &TerminalDriver{fd: fd, saved: saved, term: t, out: out, opts: opts, history: h}, nil
}

// ReadChunk reads one edited line.
func (d *TerminalDriver) ReadChunk(p Prompt) (string, error) {
	if _, err := term.MakeRaw(d.fd); err != nil {
		return "", fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(d.fd, d.saved)
	}()

	d.term.SetPrompt(d.decorate(p))
	line, err := d.term.ReadLine()
	if err == term.ErrPasteIndicator {
		err = nil
	}
	if err != nil {
		if err == io.EOF {
			fmt.Fprint(d.out, "\r\n")
		}
		return "", err
	}
	logging.DriverDebug("read %d bytes", len(line))
	return line + "\n", nil
}

func (d *TerminalDriver) decorate(p Prompt) string {
	text := d.opts.prompt(p)
	if !d.opts.Color {
		return text
	}
	if p == Continuation {
		return contStyle.Render(text)
	}
	return promptStyle.Render(text)
}

// Report prints msg in the error style. It runs in cooked mode.
func (d *TerminalDriver) Report(msg string) {
	msg = strings.TrimRight(msg, "\n")
	if d.opts.Color {
		msg = errorStyle.Render(msg)
	}
	fmt.Fprintln(d.out, msg)
}

// Close restores the terminal.
func (d *TerminalDriver) Close() error {
	return term.Restore(d.fd, d.saved)
}

const historySize = 500

// ring is the recall history handed to term.Terminal. At(0) is the most
// recent entry.
type ring struct {
	entries []string
	max     int
}

func newRing(max int) *ring {
	return &ring{max: max}
}

func (r *ring) Add(entry string) {
	entry = strings.TrimRight(entry, "\n")
	if strings.TrimSpace(entry) == "" {
		return
	}
	if n := len(r.entries); n > 0 && r.entries[n-1] == entry {
		return
	}
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

func (r *ring) Len() int {
	return len(r.entries)
}

func (r *ring) At(idx int) string {
	return r.entries[len(r.entries)-1-idx]
}
