package session

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"natrepl/internal/artifact"
	"natrepl/internal/bridge"
	"natrepl/internal/compiler"
	"natrepl/internal/driver"
	"natrepl/internal/logging"
	"natrepl/internal/snippet"
	"natrepl/internal/store"
)

// SignalKind tells the driver what to do next.
type SignalKind int

const (
	// SignalMore asks for another chunk; the buffer is kept.
	SignalMore SignalKind = iota
	// SignalReset means the buffer was discarded after a failure.
	SignalReset
	// SignalAccepted means the buffer ran (or was empty) and was cleared.
	SignalAccepted
)

func (k SignalKind) String() string {
	switch k {
	case SignalMore:
		return "more"
	case SignalReset:
		return "reset"
	case SignalAccepted:
		return "accepted"
	}
	return "unknown"
}

// Signal is the result of one Feed.
type Signal struct {
	Kind SignalKind

	// Message is the diagnostic for SignalReset. It is empty when the
	// runtime already reported the failure.
	Message string

	// Open lists unterminated constructs for SignalMore.
	Open []string
}

// Journal receives one entry per input the controller acted on.
type Journal interface {
	Record(e store.Entry) error
}

// Options configures a controller.
type Options struct {
	// ID names the session; a random one is generated when empty.
	ID string

	// Requires are loaded before the first snippet.
	Requires []string

	// Journal is optional.
	Journal Journal
}

// Controller drives one session.
type Controller struct {
	sess        *Session
	transformer *snippet.Transformer
	builder     compiler.Builder
	bridge      *bridge.Bridge
	artifacts   *artifact.Store
	journal     Journal

	buffer   string
	inputSeq int
	closed   bool
}

// NewController wires a session over its collaborators.
func NewController(builder compiler.Builder, br *bridge.Bridge, artifacts *artifact.Store, opts Options) *Controller {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Controller{
		sess: &Session{
			ID:       id,
			Env:      bridge.NewEnvironment(),
			Requires: append([]string(nil), opts.Requires...),
		},
		transformer: snippet.NewTransformer(),
		builder:     builder,
		bridge:      br,
		artifacts:   artifacts,
		journal:     opts.Journal,
	}
}

// Session exposes the session state. Callers must not modify it.
func (c *Controller) Session() *Session {
	return c.sess
}

// Pending returns the buffered, not yet complete input.
func (c *Controller) Pending() string {
	return c.buffer
}

// Discard drops the buffered input.
func (c *Controller) Discard() {
	c.buffer = ""
}

// Feed appends chunk to the buffer and acts on the result.
func (c *Controller) Feed(ctx context.Context, chunk string) Signal {
	c.buffer += chunk

	res := c.transformer.TransformWithPrelude(c.sess.prelude(), c.buffer)
	switch r := res.(type) {
	case snippet.Incomplete:
		return Signal{Kind: SignalMore, Open: r.Open}

	case *snippet.SyntaxError:
		input := c.take()
		c.record(input, store.OutcomeSyntaxError, r.Error())
		return Signal{Kind: SignalReset, Message: r.Error()}

	case snippet.Ready:
		input := c.take()
		if r.Program.Empty() {
			c.record(input, store.OutcomeEmpty, "")
			return Signal{Kind: SignalAccepted}
		}
		if err := c.runUnit(ctx, r.Program); err != nil {
			kind := Kind(err)
			logging.SessionDebug("snippet %d failed (%s): %v", c.sess.unitSeq, kind, err)
			c.record(input, kind, err.Error())
			return Signal{Kind: SignalReset, Message: describe(err)}
		}
		c.record(input, store.OutcomeAccepted, "")
		return Signal{Kind: SignalAccepted}
	}

	// Result is a closed set; this is unreachable.
	c.take()
	return Signal{Kind: SignalReset, Message: "internal error: unknown transform result"}
}

func (c *Controller) take() string {
	input := c.buffer
	c.buffer = ""
	return input
}

// runUnit compiles, loads and runs one program. The artifact is disposed
// on every path. Vars and Counter change only when everything succeeded.
func (c *Controller) runUnit(ctx context.Context, prog snippet.Program) error {
	c.sess.unitSeq++
	id := c.sess.unitSeq

	art, err := c.artifacts.Allocate()
	if err != nil {
		return err
	}
	defer func() {
		if err := c.artifacts.Dispose(art); err != nil {
			logging.ArtifactWarn("snippet %d: %v", id, err)
		}
	}()

	unit, err := c.builder.Build(ctx, compiler.Request{
		Program:   prog,
		Vars:      c.sess.Vars,
		SnippetID: id,
		OutPath:   art.Path,
	})
	if err != nil {
		return err
	}
	if unit.Path != art.Path {
		if c.artifacts.Owns(unit.Path) {
			other := artifact.Artifact{Path: unit.Path}
			defer func() {
				if err := c.artifacts.Dispose(other); err != nil {
					logging.ArtifactWarn("snippet %d: %v", id, err)
				}
			}()
		} else {
			logging.ArtifactWarn("snippet %d: compiler wrote %s outside %s, leaving it in place", id, unit.Path, c.artifacts.Dir())
		}
	}
	if unit.Output != "" {
		logging.CompileDebug("snippet %d compiler output:\n%s", id, unit.Output)
	}

	res, err := c.bridge.Execute(unit.Path, c.sess.Env)
	if res.BuiltEnv {
		logging.Session("session %s: environment built by snippet %d", c.sess.ID, id)
	}
	// EVAL ran, so the requires it carried are loaded even if it raised.
	var rerr *bridge.RuntimeError
	if err == nil || errors.As(err, &rerr) {
		c.markRequiresApplied()
	}
	if err != nil {
		return err
	}

	c.sess.Vars = unit.Vars
	c.sess.Counter++
	logging.SessionDebug("snippet %d ok, counter=%d %s", id, c.sess.Counter, c.sess.Vars)
	return nil
}

func (c *Controller) markRequiresApplied() {
	if !c.sess.requiresApplied && len(c.sess.Requires) > 0 {
		logging.SessionDebug("auto-load modules %v applied", c.sess.Requires)
	}
	c.sess.requiresApplied = true
}

func (c *Controller) record(input string, outcome store.Outcome, msg string) {
	if c.journal == nil {
		return
	}
	c.inputSeq++
	err := c.journal.Record(store.Entry{
		SessionID: c.sess.ID,
		Seq:       c.inputSeq,
		Input:     input,
		Outcome:   outcome,
		Message:   msg,
	})
	if err != nil {
		logging.SessionWarn("history not recorded: %v", err)
	}
}

// Run reads from d until it returns io.EOF or ctx is done, then closes the
// session. Closing disposes every artifact still live, so an interrupt
// during a read or a compile leaves nothing behind.
func (c *Controller) Run(ctx context.Context, d driver.Driver) (err error) {
	defer func() {
		if cerr := d.Close(); cerr != nil {
			logging.DriverDebug("driver close: %v", cerr)
		}
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	logging.Session("session %s started", c.sess.ID)
	prompt := driver.Primary
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := read(ctx, d, prompt)
		if errors.Is(err, io.EOF) {
			if c.buffer != "" {
				logging.SessionDebug("discarding incomplete input at end of stream")
			}
			logging.Session("session %s ended after %d snippet(s)", c.sess.ID, c.sess.Counter)
			return nil
		}
		if err != nil {
			return err
		}

		sig := c.Feed(ctx, chunk)
		if err := ctx.Err(); err != nil {
			return err
		}
		switch sig.Kind {
		case SignalMore:
			prompt = driver.Continuation
		case SignalReset:
			if sig.Message != "" {
				d.Report(sig.Message)
			}
			prompt = driver.Primary
		default:
			prompt = driver.Primary
		}
	}
}

type chunkResult struct {
	chunk string
	err   error
}

// read waits for the next chunk or for ctx to end. On cancellation the
// pending ReadChunk is abandoned; closing the driver unblocks it when the
// input is closable.
func read(ctx context.Context, d driver.Driver, p driver.Prompt) (string, error) {
	ch := make(chan chunkResult, 1)
	go func() {
		chunk, err := d.ReadChunk(p)
		ch <- chunkResult{chunk: chunk, err: err}
	}()
	select {
	case r := <-ch:
		return r.chunk, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases the transformer and disposes any artifact still live.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.transformer.Close()
	return c.artifacts.Close()
}
