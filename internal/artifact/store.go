// Package artifact manages the ephemeral build outputs of a session: one
// loadable module per snippet, plus the debug-symbol directory some
// toolchains (clang on macOS) write next to it. Every allocated artifact
// must be disposed, whatever happened to the snippet, or a long session
// fills the temp directory.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"natrepl/internal/logging"

	"github.com/google/uuid"
)

const (
	namePrefix     = "natalie-"
	moduleSuffix   = ".so"
	debugDirSuffix = ".dSYM"
)

// Artifact is one allocated output location.
type Artifact struct {
	ID   string
	Path string
}

// DebugDir is where the toolchain may place debug info for this artifact.
func (a Artifact) DebugDir() string {
	return a.Path + debugDirSuffix
}

// Store allocates and disposes artifacts inside one directory.
type Store struct {
	dir    string
	prefix string

	mu   sync.Mutex
	live map[string]Artifact
}

// NewStore creates the directory if needed. sessionID is folded into every
// name so concurrent sessions sharing a directory can tell their files apart.
func NewStore(dir, sessionID string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	prefix := namePrefix
	if short != "" {
		prefix += short + "-"
	}
	return &Store{
		dir:    dir,
		prefix: prefix,
		live:   make(map[string]Artifact),
	}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string {
	return s.dir
}

// Allocate reserves a fresh, unique path. The file is created empty with
// O_EXCL so no other process can claim the same name.
func (s *Store) Allocate() (Artifact, error) {
	id := uuid.NewString()
	a := Artifact{
		ID:   id,
		Path: filepath.Join(s.dir, s.prefix+id+moduleSuffix),
	}

	f, err := os.OpenFile(a.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to allocate artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(a.Path)
		return Artifact{}, fmt.Errorf("failed to allocate artifact: %w", err)
	}

	s.mu.Lock()
	s.live[a.Path] = a
	s.mu.Unlock()

	logging.ArtifactDebug("Allocated %s", a.Path)
	return a, nil
}

// Dispose removes the artifact and its debug directory. Missing files are
// not errors. The artifact is forgotten even when removal fails so that a
// stuck file is reported once, not on every later call.
func (s *Store) Dispose(a Artifact) error {
	s.mu.Lock()
	delete(s.live, a.Path)
	s.mu.Unlock()

	var errs []error
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove %s: %w", a.Path, err))
	}
	if info, err := os.Stat(a.DebugDir()); err == nil && info.IsDir() {
		if err := os.RemoveAll(a.DebugDir()); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", a.DebugDir(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		logging.ArtifactWarn("Dispose incomplete: %v", err)
		return err
	}
	logging.ArtifactDebug("Disposed %s", a.Path)
	return nil
}

// Owns reports whether path names an artifact inside the store directory.
// Only such paths may be handed to Dispose.
func (s *Store) Owns(path string) bool {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == dir && isArtifactName(filepath.Base(abs))
}

// Live returns the number of allocated, not yet disposed artifacts.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Close disposes anything still live.
func (s *Store) Close() error {
	s.mu.Lock()
	pending := make([]Artifact, 0, len(s.live))
	for _, a := range s.live {
		pending = append(pending, a)
	}
	s.mu.Unlock()

	var errs []error
	for _, a := range pending {
		if err := s.Dispose(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) isLive(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[strings.TrimSuffix(path, debugDirSuffix)]
	return ok
}

// isArtifactName reports whether a directory entry looks like something a
// store produced.
func isArtifactName(name string) bool {
	if !strings.HasPrefix(name, namePrefix) {
		return false
	}
	return strings.HasSuffix(name, moduleSuffix) || strings.HasSuffix(name, moduleSuffix+debugDirSuffix)
}
