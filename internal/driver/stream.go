package driver

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// StreamDriver reads newline-separated input without prompting.
type StreamDriver struct {
	in     *bufio.Reader
	errOut io.Writer
	closer io.Closer
}

// NewStream reads from in and reports to errOut. If in is an io.Closer it
// is closed by Close.
func NewStream(in io.Reader, errOut io.Writer) *StreamDriver {
	d := &StreamDriver{in: bufio.NewReader(in), errOut: errOut}
	if c, ok := in.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// ReadChunk returns the next line. A final line without a newline is
// returned with one added.
func (d *StreamDriver) ReadChunk(Prompt) (string, error) {
	line, err := d.in.ReadString('\n')
	if err == io.EOF && line != "" {
		return line + "\n", nil
	}
	if err != nil {
		return "", err
	}
	return line, nil
}

// Report writes msg to the error stream.
func (d *StreamDriver) Report(msg string) {
	fmt.Fprintln(d.errOut, strings.TrimRight(msg, "\n"))
}

// Close closes the input if it is closable.
func (d *StreamDriver) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
