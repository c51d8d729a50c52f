// Package runner orchestrates one full monitoring cycle: scan ownership,
// evaluate every tracked position, drive the alert machines and publish the
// summary snapshots.
package runner

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/position-sentinel/internal/logging"
)

// ErrLockHeld means another run is in progress. Callers treat it as a clean
// skip, not a failure.
var ErrLockHeld = fmt.Errorf("run lock held")

// FileLock serializes runs across processes with an exclusive lock file. A
// lock older than StaleAfter is assumed abandoned by a crashed run and is
// broken.
type FileLock struct {
	path       string
	staleAfter time.Duration
	log        *zap.Logger
}

// NewFileLock creates a file lock.
func NewFileLock(path string, staleAfter time.Duration) *FileLock {
	return &FileLock{path: path, staleAfter: staleAfter, log: logging.Named("runner.lock")}
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *FileLock) Acquire() error {
	if err := l.tryCreate(); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			// holder released between our attempts; try once more
			if err := l.tryCreate(); err != nil {
				if os.IsExist(err) {
					return ErrLockHeld
				}
				return fmt.Errorf("failed to create lock file: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to stat lock file: %w", err)
	}

	if time.Since(info.ModTime()) < l.staleAfter {
		return ErrLockHeld
	}

	l.log.Warn("breaking stale run lock",
		zap.String("path", l.path), zap.Time("mtime", info.ModTime()))
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}
	if err := l.tryCreate(); err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

func (l *FileLock) tryCreate() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return nil
}

// Release drops the lock. Safe to call when the lock was never acquired.
func (l *FileLock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.log.Warn("failed to release run lock", zap.String("path", l.path), zap.Error(err))
	}
}
