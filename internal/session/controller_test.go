package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"natrepl/internal/artifact"
	"natrepl/internal/bridge"
	"natrepl/internal/compiler"
	"natrepl/internal/driver"
	"natrepl/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	c       *Controller
	builder *fakeBuilder
	rt      *fakeRuntime
	arts    *artifact.Store
	dir     string
	journal *memJournal
}

func newHarness(t *testing.T, requires ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	arts, err := artifact.NewStore(dir, "test-session")
	require.NoError(t, err)

	h := &harness{
		builder: &fakeBuilder{},
		rt:      newFakeRuntime(),
		arts:    arts,
		dir:     dir,
		journal: &memJournal{},
	}
	h.c = NewController(h.builder, bridge.New(h.rt), arts, Options{
		ID:       "test-session",
		Requires: requires,
		Journal:  h.journal,
	})
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

func (h *harness) feed(t *testing.T, chunk string) Signal {
	t.Helper()
	return h.c.Feed(context.Background(), chunk)
}

// leftovers lists whatever the store left in its directory.
func (h *harness) leftovers(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (h *harness) output() string {
	out := h.rt.out.String()
	h.rt.out.Reset()
	return out
}

func TestScenarioA_FirstExpression(t *testing.T) {
	h := newHarness(t)

	sig := h.feed(t, "1 + 1\n")
	assert.Equal(t, SignalAccepted, sig.Kind)
	assert.Equal(t, "2\n", h.output())

	s := h.c.Session()
	assert.True(t, s.Env.Built())
	assert.Equal(t, 1, s.Env.Builds())
	assert.Equal(t, 1, s.Counter)

	require.Len(t, h.builder.requests, 1)
	assert.True(t, h.builder.existed[0], "artifact allocated before build")
	assert.Empty(t, h.leftovers(t), "artifact removed after the iteration")
	assert.Equal(t, 0, h.arts.Live())
}

func TestScenarioB_VariablesThreadThrough(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, SignalAccepted, h.feed(t, "x = 5\n").Kind)
	assert.Equal(t, "5\n", h.output())

	require.Equal(t, SignalAccepted, h.feed(t, "x * 2\n").Kind)
	assert.Equal(t, "10\n", h.output())

	require.Len(t, h.builder.requests, 2)
	_, ok := h.builder.requests[1].Vars.Lookup("x")
	assert.True(t, ok, "second unit sees x from the first")
	assert.NotEqual(t, h.builder.requests[0].SnippetID, h.builder.requests[1].SnippetID)

	s := h.c.Session()
	assert.Equal(t, 2, s.Counter)
	assert.Equal(t, 1, s.Env.Builds(), "environment built once")
	assert.Equal(t, 2, h.rt.gcOff, "collector suspended for every unit")
}

func TestScenarioC_IncompleteThenComplete(t *testing.T) {
	h := newHarness(t)

	sig := h.feed(t, "def foo\n")
	assert.Equal(t, SignalMore, sig.Kind)
	assert.Equal(t, []string{"def"}, sig.Open)
	assert.Equal(t, "def foo\n", h.c.Pending())
	assert.Empty(t, h.builder.requests)

	sig = h.feed(t, "end\n")
	assert.Equal(t, SignalAccepted, sig.Kind)
	assert.Equal(t, ":foo\n", h.output())
	require.Len(t, h.builder.requests, 1)
	assert.Equal(t, "puts((_ = (def foo\nend)).inspect)\n", h.builder.requests[0].Program.Source)
	assert.Empty(t, h.c.Pending())
}

func TestScenarioD_SyntaxErrorResetsBuffer(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, SignalAccepted, h.feed(t, "x = 1\n").Kind)
	before := h.c.Session().Vars
	counter := h.c.Session().Counter

	sig := h.feed(t, "1 +\n")
	assert.Equal(t, SignalReset, sig.Kind)
	assert.Contains(t, sig.Message, "syntax error")
	assert.Empty(t, h.c.Pending())
	assert.Len(t, h.builder.requests, 1, "nothing compiled")

	assert.True(t, before.Equal(h.c.Session().Vars))
	assert.Equal(t, counter, h.c.Session().Counter)

	h.output()
	require.Equal(t, SignalAccepted, h.feed(t, "2\n").Kind)
	assert.Equal(t, "2\n", h.output())
	assert.Equal(t, "puts((_ = (2)).inspect)\n", h.builder.requests[1].Program.Source)
}

func TestScenarioE_RequiresPrependedOnce(t *testing.T) {
	h := newHarness(t, "M")

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	require.Equal(t, SignalAccepted, h.feed(t, "2\n").Kind)

	srcs := h.builder.sources()
	require.Len(t, srcs, 2)
	assert.True(t, strings.HasPrefix(srcs[0], "require 'M'\n"), srcs[0])
	assert.Equal(t, 1, strings.Count(srcs[0], "require 'M'"))
	assert.NotContains(t, srcs[1], "require")
	assert.Equal(t, []string{"M"}, h.rt.required)
	assert.True(t, h.c.Session().RequiresApplied())
}

func TestRequiresStayPendingUntilSuccess(t *testing.T) {
	h := newHarness(t, "M")

	require.Equal(t, SignalReset, h.feed(t, "undefined_method\n").Kind)
	assert.False(t, h.c.Session().RequiresApplied())

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	srcs := h.builder.sources()
	require.Len(t, srcs, 2)
	assert.True(t, strings.HasPrefix(srcs[0], "require 'M'\n"))
	assert.True(t, strings.HasPrefix(srcs[1], "require 'M'\n"))
}

func TestRequiresNotRepeatedAfterRuntimeError(t *testing.T) {
	h := newHarness(t, "M")

	require.Equal(t, SignalReset, h.feed(t, "raise 'boom'\n").Kind)
	assert.True(t, h.c.Session().RequiresApplied(), "the unit ran its requires before raising")
	assert.Equal(t, 0, h.c.Session().Counter)

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	srcs := h.builder.sources()
	require.Len(t, srcs, 2)
	assert.True(t, strings.HasPrefix(srcs[0], "require 'M'\n"))
	assert.NotContains(t, srcs[1], "require")
	assert.Equal(t, []string{"M"}, h.rt.required)
}

func TestRequiresStayPendingAfterLoadError(t *testing.T) {
	h := newHarness(t, "M")
	h.rt.missing = bridge.EntryEval

	require.Equal(t, SignalReset, h.feed(t, "1\n").Kind)
	assert.False(t, h.c.Session().RequiresApplied())

	h.rt.missing = ""
	require.Equal(t, SignalAccepted, h.feed(t, "2\n").Kind)
	srcs := h.builder.sources()
	require.Len(t, srcs, 2)
	assert.True(t, strings.HasPrefix(srcs[1], "require 'M'\n"))
	assert.Equal(t, []string{"M"}, h.rt.required)
}

func TestEmptyProgramNotCompiled(t *testing.T) {
	h := newHarness(t)

	for _, in := range []string{"\n", "   \n", "# only a comment\n"} {
		sig := h.feed(t, in)
		assert.Equal(t, SignalAccepted, sig.Kind, "%q", in)
	}
	assert.Empty(t, h.builder.requests)
	assert.Equal(t, 0, h.c.Session().Counter)
	assert.Equal(t, 0, h.c.Session().Attempts())
	assert.False(t, h.c.Session().Env.Built())
	assert.Equal(t, []string{"empty", "empty", "empty"}, h.journal.outcomes)
}

func TestIncompleteNeverDiscards(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, SignalMore, h.feed(t, "x = [1,\n").Kind)
	assert.Equal(t, SignalMore, h.feed(t, "2,\n").Kind)
	assert.Equal(t, "x = [1,\n2,\n", h.c.Pending())
	assert.Equal(t, SignalAccepted, h.feed(t, "3]\n").Kind)

	require.Len(t, h.builder.requests, 1)
	assert.Contains(t, h.builder.requests[0].Program.Source, "x = [1,\n2,\n3]")
}

func TestCompileErrorLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, SignalAccepted, h.feed(t, "x = 1\n").Kind)
	before := h.c.Session().Vars

	sig := h.feed(t, "undefined_method\n")
	assert.Equal(t, SignalReset, sig.Kind)
	assert.Equal(t, "undefined method 'undefined_method' for main:Object", sig.Message)

	s := h.c.Session()
	assert.True(t, before.Equal(s.Vars))
	assert.Equal(t, 1, s.Counter)
	assert.Equal(t, 2, s.Attempts())
	assert.Empty(t, h.leftovers(t))
	assert.Equal(t, []string{"accepted", "compile_error"}, h.journal.outcomes)
}

func TestRuntimeErrorKeepsPartialEnvironment(t *testing.T) {
	h := newHarness(t)
	h.builder.debugDir = true

	sig := h.feed(t, "y = 7; raise 'boom'\n")
	assert.Equal(t, SignalReset, sig.Kind)
	assert.Empty(t, sig.Message, "the runtime reports its own exception")
	assert.Contains(t, h.output(), "RuntimeError")

	s := h.c.Session()
	assert.Equal(t, 0, s.Counter)
	assert.Equal(t, 0, s.Vars.Len(), "compiler snapshot discarded")
	assert.True(t, s.Env.Built(), "environment survives the raise")
	assert.Equal(t, "7", h.rt.vars["y"], "side effects before the raise stay")
	assert.Empty(t, h.leftovers(t), "artifact and debug dir removed")
	assert.Equal(t, []string{"runtime_error"}, h.journal.outcomes)

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	assert.Equal(t, 1, h.c.Session().Env.Builds())
}

func TestLoadErrorDisposesArtifact(t *testing.T) {
	h := newHarness(t)
	h.rt.missing = bridge.EntryEval

	sig := h.feed(t, "1\n")
	assert.Equal(t, SignalReset, sig.Kind)
	assert.Contains(t, sig.Message, "EVAL")
	assert.False(t, h.c.Session().Env.Built())
	assert.Equal(t, 0, h.c.Session().Counter)
	assert.Empty(t, h.leftovers(t))
	assert.Equal(t, []string{"load_error"}, h.journal.outcomes)
}

func TestSuccessfulUnitsDisposeDebugDirs(t *testing.T) {
	h := newHarness(t)
	h.builder.debugDir = true

	require.Equal(t, SignalAccepted, h.feed(t, "x = 1\n").Kind)
	require.Equal(t, SignalAccepted, h.feed(t, "x + 1\n").Kind)
	assert.Empty(t, h.leftovers(t))
}

func TestReportedPathInsideStoreDisposed(t *testing.T) {
	h := newHarness(t)
	h.builder.reportPath = filepath.Join(h.dir, "natalie-compiler-chosen.so")
	h.builder.debugDir = true

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	assert.Equal(t, []string{h.builder.reportPath}, h.rt.loaded)
	assert.Empty(t, h.leftovers(t))
}

func TestReportedPathOutsideStoreLeftAlone(t *testing.T) {
	h := newHarness(t)
	elsewhere := filepath.Join(t.TempDir(), "natalie-compiler-chosen.so")
	h.builder.reportPath = elsewhere

	require.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	assert.FileExists(t, elsewhere)
	assert.Empty(t, h.leftovers(t), "the allocated artifact is still disposed")
}

func TestKind(t *testing.T) {
	assert.Equal(t, store.OutcomeAccepted, Kind(nil))
	assert.Equal(t, store.OutcomeCompileError, Kind(&compiler.CompileError{Message: "x"}))
	assert.Equal(t, store.OutcomeLoadError, Kind(&bridge.LoadError{Path: "a.so", Err: errors.New("x")}))
	assert.Equal(t, store.OutcomeRuntimeError, Kind(&bridge.RuntimeError{}))
	assert.Equal(t, store.OutcomeInternal, Kind(errors.New("disk full")))
}

func TestSessionPreludeQuoting(t *testing.T) {
	s := &Session{Requires: []string{"set", "it's"}}
	assert.Equal(t, "require 'set'\nrequire 'it\\'s'\n", s.prelude())
	s.requiresApplied = true
	assert.Equal(t, "", s.prelude())
}

func TestRun_StreamDriver(t *testing.T) {
	h := newHarness(t)

	var errOut bytes.Buffer
	d := driver.NewStream(strings.NewReader("x = 5\ndef foo\nend\n1 +\nx * 2\ndef bar\n"), &errOut)

	require.NoError(t, h.c.Run(context.Background(), d))
	assert.Equal(t, "5\n:foo\n10\n", h.output())
	assert.Contains(t, errOut.String(), "syntax error")
	assert.Equal(t, 3, h.c.Session().Counter)
	assert.Equal(t, "def bar\n", h.c.Pending(), "unfinished input is dropped at EOF")
	assert.Equal(t, 0, h.arts.Live())

	// Run closed the controller; closing again is harmless.
	assert.NoError(t, h.c.Close())
}

func TestRun_ContextCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.c.Run(ctx, driver.NewStream(strings.NewReader("1\n"), &bytes.Buffer{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.builder.requests)
}

func TestRun_CanceledDuringRead(t *testing.T) {
	h := newHarness(t)
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.c.Run(ctx, driver.NewStream(pr, &bytes.Buffer{}))
	}()

	_, err := pw.Write([]byte("x = 1\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("def foo\n"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, h.c.Session().Counter)
	assert.Equal(t, 0, h.arts.Live())
	assert.Empty(t, h.leftovers(t))
	_ = pw.Close()
}

func TestRun_CanceledDuringCompile(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.builder.onBuild = func(bctx context.Context) error {
		cancel()
		<-bctx.Done()
		return bctx.Err()
	}

	var errOut bytes.Buffer
	err := h.c.Run(ctx, driver.NewStream(strings.NewReader("1\n2\n"), &errOut))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.builder.requests, 1)
	assert.Empty(t, errOut.String(), "nothing reported once the session is ending")
	assert.Equal(t, 0, h.arts.Live())
	assert.Empty(t, h.leftovers(t))
}

func TestJournalWithHistoryStore(t *testing.T) {
	hs, err := store.Open(":memory:")
	require.NoError(t, err)
	defer hs.Close()

	arts, err := artifact.NewStore(filepath.Join(t.TempDir(), "arts"), "j")
	require.NoError(t, err)
	c := NewController(&fakeBuilder{}, bridge.New(newFakeRuntime()), arts, Options{ID: "j", Journal: hs})
	defer c.Close()

	c.Feed(context.Background(), "1\n")
	c.Feed(context.Background(), "end\n")

	entries, err := hs.Session("j")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.OutcomeAccepted, entries[0].Outcome)
	assert.Equal(t, "1\n", entries[0].Input)
	assert.Equal(t, store.OutcomeSyntaxError, entries[1].Outcome)
	assert.Contains(t, entries[1].Message, "unexpected 'end'")
}

func TestJournalFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.journal.err = errors.New("disk full")

	assert.Equal(t, SignalAccepted, h.feed(t, "1\n").Kind)
	assert.Equal(t, 1, h.c.Session().Counter)
}
