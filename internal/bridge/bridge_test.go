package bridge

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader serves fakeModules and records every call in order.
type fakeLoader struct {
	calls   []string
	loadErr error
	missing string
	envPtr  uintptr
	evalRet uintptr
	closed  int
	evalArg uintptr
}

func (l *fakeLoader) Load(path string) (Module, error) {
	l.calls = append(l.calls, "load")
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return &fakeModule{l: l}, nil
}

type fakeModule struct{ l *fakeLoader }

func (m *fakeModule) Lookup(name string) (Symbol, error) {
	if name == m.l.missing {
		return nil, errors.New("undefined symbol")
	}
	return fakeSymbol{name: name, l: m.l}, nil
}

func (m *fakeModule) Close() error {
	m.l.calls = append(m.l.calls, "close")
	m.l.closed++
	return nil
}

type fakeSymbol struct {
	name string
	l    *fakeLoader
}

func (s fakeSymbol) CallVoid() uintptr {
	s.l.calls = append(s.l.calls, s.name)
	if s.name == EntryBuildEnv {
		return s.l.envPtr
	}
	return 0
}

func (s fakeSymbol) CallPtr(arg uintptr) uintptr {
	s.l.calls = append(s.l.calls, s.name)
	s.l.evalArg = arg
	return s.l.evalRet
}

func newFake() *fakeLoader {
	return &fakeLoader{envPtr: 0xbeef, evalRet: 0x1}
}

func TestExecute_BuildsEnvironmentOnce(t *testing.T) {
	l := newFake()
	b := New(l)
	env := NewEnvironment()
	assert.False(t, env.Built())

	res, err := b.Execute("/tmp/a.so", env)
	require.NoError(t, err)
	assert.True(t, res.BuiltEnv)
	assert.Equal(t, []string{"load", EntryGCDisable, EntryBuildEnv, EntryEval, "close"}, l.calls)
	assert.Equal(t, uintptr(0xbeef), env.Handle())
	assert.Equal(t, "/tmp/a.so", env.BuiltBy())

	l.calls = nil
	res, err = b.Execute("/tmp/b.so", env)
	require.NoError(t, err)
	assert.False(t, res.BuiltEnv)
	assert.Equal(t, []string{"load", EntryGCDisable, EntryEval, "close"}, l.calls)
	assert.Equal(t, 1, env.Builds())
	assert.Equal(t, uintptr(0xbeef), l.evalArg)
	assert.Equal(t, "/tmp/a.so", env.BuiltBy())
}

func TestExecute_RuntimeError(t *testing.T) {
	l := newFake()
	l.evalRet = 0
	env := NewEnvironment()

	_, err := New(l).Execute("/tmp/a.so", env)
	var rt *RuntimeError
	require.True(t, errors.As(err, &rt))
	assert.Equal(t, "/tmp/a.so", rt.Path)
	assert.Equal(t, 1, l.closed)

	// The environment survives a raising unit.
	assert.True(t, env.Built())
}

func TestExecute_LoadFailure(t *testing.T) {
	l := newFake()
	l.loadErr = errors.New("not an ELF file")
	env := NewEnvironment()

	_, err := New(l).Execute("/tmp/a.so", env)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Empty(t, le.Symbol)
	assert.Contains(t, err.Error(), "not an ELF file")
	assert.Equal(t, 0, l.closed, "nothing to close")
	assert.False(t, env.Built())
}

func TestExecute_MissingEntryPointRunsNothing(t *testing.T) {
	for _, name := range []string{EntryGCDisable, EntryBuildEnv, EntryEval} {
		t.Run(name, func(t *testing.T) {
			l := newFake()
			l.missing = name
			env := NewEnvironment()

			_, err := New(l).Execute("/tmp/a.so", env)
			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, name, le.Symbol)
			assert.Equal(t, []string{"load", "close"}, l.calls)
			assert.False(t, env.Built())
		})
	}
}

func TestExecute_NullEnvironment(t *testing.T) {
	l := newFake()
	l.envPtr = 0
	env := NewEnvironment()

	_, err := New(l).Execute("/tmp/a.so", env)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, EntryBuildEnv, le.Symbol)
	assert.NotContains(t, l.calls, EntryEval)
	assert.False(t, env.Built())
	assert.Equal(t, 0, env.Builds())
}

func TestExecute_NilEnvironment(t *testing.T) {
	_, err := New(newFake()).Execute("/tmp/a.so", nil)
	assert.Error(t, err)
}

func TestDynamicLoader_MissingFile(t *testing.T) {
	_, err := NewDynamicLoader().Load(filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)
}
