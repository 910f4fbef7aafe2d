package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"natrepl/internal/logging"

	"golang.org/x/sync/errgroup"
)

// sweepWorkers bounds concurrent removals.
const sweepWorkers = 4

// Sweep removes artifacts older than olderThan left in the store's directory
// by sessions that exited before disposing them. Artifacts live in this store
// are never touched. Returns the number of entries removed.
func (s *Store) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	return sweep(ctx, s.dir, olderThan, s.isLive)
}

// SweepDir is Sweep for a directory no session currently owns.
func SweepDir(ctx context.Context, dir string, olderThan time.Duration) (int, error) {
	return sweep(ctx, dir, olderThan, func(string) bool { return false })
}

func sweep(ctx context.Context, dir string, olderThan time.Duration, live func(string) bool) (int, error) {
	timer := logging.StartTimer(logging.CategoryArtifact, "Sweep")
	defer timer.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	var removed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepWorkers)

	for _, entry := range entries {
		name := entry.Name()
		if !isArtifactName(name) {
			continue
		}
		path := filepath.Join(dir, name)
		if live(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			removed.Add(1)
			logging.ArtifactDebug("Swept stale artifact %s", path)
			return nil
		})
	}

	err = g.Wait()
	return int(removed.Load()), err
}
