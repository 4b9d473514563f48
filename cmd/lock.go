package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nendo/logger"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 200 * time.Millisecond

var errLibraryLocked = errors.New("library is locked by another nendo process")

// lockLibrary takes the exclusive lock on <dir>/.lock, waiting until ctx is
// done. The returned func releases it.
func lockLibrary(ctx context.Context, dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, ".lock"))
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, errLibraryLocked
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, errLibraryLocked
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("[Lock] Failed to release library lock", logger.ErrorField(err))
		}
	}, nil
}
