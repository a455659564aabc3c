// Package flock provides file-based mutual exclusion between independent
// processes sharing a directory. The lock is an empty marker file created
// with O_EXCL; holders coordinate through its existence alone, so no shared
// memory is required.
package flock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// MarkerSuffix is appended to the guarded path to form the marker file.
	MarkerSuffix = ".lock"

	// DefaultPollInterval is how often waiters re-check a held marker.
	DefaultPollInterval = 100 * time.Millisecond
)

// Lock is a held file lock. Release must run on every exit path.
type Lock struct {
	markerPath string
}

// Acquire blocks until the marker for path can be created exclusively, or
// the context is done. The create step is atomic: two callers observing the
// marker as absent cannot both succeed.
func Acquire(ctx context.Context, path string, pollInterval time.Duration) (*Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}

	marker := abs + MarkerSuffix
	for {
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := f.Close(); err != nil {
				_ = os.Remove(marker)
				return nil, err
			}
			return &Lock{markerPath: marker}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock marker %s: %w", marker, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release removes the marker. A marker already removed by another actor's
// cleanup is not an error.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
