// Package blob implements a local-disk blob store with exclusive
// time-bounded write leases. It stands in for a redundant blob service
// during local development; correctness across concurrent workers relies
// only on the file system (exclusive create, atomic rename/link).
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"standin/internal/flock"
	"standin/internal/persistence"
)

const (
	// LeaseSuffix is appended to a blob path to form its lease file.
	LeaseSuffix = ".lease"

	// DefaultRetryBackoff is the pause before re-reading a lease file that
	// vanished or was corrupt mid-read.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultRetryLimit bounds lease-read race retries.
	DefaultRetryLimit = 50
)

// Config defines one blob container.
type Config struct {
	// Name is the container name, joined under Path.
	Name string
	// Path is the parent directory for containers.
	Path string
	// LockPollInterval is how often lock waiters re-check the marker.
	LockPollInterval time.Duration
	// RetryBackoff is the pause between lease-read race retries.
	RetryBackoff time.Duration
	// RetryLimit bounds lease-read race retries per operation.
	RetryLimit int
}

func (c Config) retryBackoff() time.Duration {
	if c.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return c.RetryBackoff
}

func (c Config) retryLimit() int {
	if c.RetryLimit <= 0 {
		return DefaultRetryLimit
	}
	return c.RetryLimit
}

// DiskBlob stores blobs as files under a container directory, with one
// sibling lease file per actively leased blob.
type DiskBlob struct {
	cfg  Config
	root string
}

var _ persistence.Blob = (*DiskBlob)(nil)

// New creates a DiskBlob for the configured container.
func New(cfg Config) (*DiskBlob, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("blob container name is required")
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("blob container path is required")
	}
	root, err := filepath.Abs(filepath.Join(cfg.Path, cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("resolve blob container root: %w", err)
	}
	slog.Info("local disk blob configured", "name", cfg.Name, "path", root)
	slog.Warn("local disk blob is not recommended for production; prefer a redundant high-availability service")
	return &DiskBlob{cfg: cfg, root: root}, nil
}

// LeaseBlob acquires an exclusive lease on an existing blob. The
// read-decide-write sequence on the lease file runs under a file lock so
// that concurrent workers resolve to exactly one winner.
func (b *DiskBlob) LeaseBlob(ctx context.Context, key string, duration time.Duration) (persistence.LeaseHandle, error) {
	blobPath, err := b.blobPath(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(blobPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, persistence.ErrBlobNotFound)
		}
		return nil, err
	}

	leasePath := blobPath + LeaseSuffix
	for attempt := 0; attempt <= b.cfg.retryLimit(); attempt++ {
		lease, retry, err := b.tryLease(ctx, key, leasePath, duration)
		if err != nil {
			return nil, err
		}
		if retry {
			// Lease file vanished or was corrupt mid-read: another
			// worker's cleanup raced us. Back off and retry.
			if err := sleep(ctx, b.cfg.retryBackoff()); err != nil {
				return nil, err
			}
			continue
		}
		return lease, nil
	}
	return nil, fmt.Errorf("lease blob %q: retry limit reached reading lease file", key)
}

func (b *DiskBlob) tryLease(ctx context.Context, key, leasePath string, duration time.Duration) (*Lease, bool, error) {
	lock, err := flock.Acquire(ctx, leasePath, b.cfg.LockPollInterval)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = lock.Release()
	}()

	if _, err := os.Stat(leasePath); err == nil {
		existing, readErr := readLeaseRecord(leasePath)
		if readErr != nil {
			if isLeaseReadRace(readErr) {
				return nil, true, nil
			}
			return nil, false, readErr
		}
		if !existing.expired(time.Now()) {
			return nil, false, fmt.Errorf("lease for blob %q already exists: %w", key, persistence.ErrLeaseConflict)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	record := newLeaseRecord(duration)
	if err := writeLeaseRecord(leasePath, record); err != nil {
		return nil, false, err
	}
	return &Lease{id: record.LeaseID, until: record.Until, path: leasePath}, false, nil
}

// UploadBlob writes data under key after validating the lease state. The
// payload is staged to a temporary file and installed atomically, so readers
// never observe a partial write.
func (b *DiskBlob) UploadBlob(ctx context.Context, key string, data []byte, overwrite bool, leaseID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blobPath, err := b.blobPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(blobPath); err == nil {
		if !overwrite {
			return fmt.Errorf("blob %q: %w", key, persistence.ErrBlobAlreadyExists)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := b.validateLease(ctx, key, blobPath+LeaseSuffix, leaseID); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return err
	}
	return installPayload(blobPath, data, overwrite, key)
}

func (b *DiskBlob) validateLease(ctx context.Context, key, leasePath, leaseID string) error {
	for attempt := 0; attempt <= b.cfg.retryLimit(); attempt++ {
		if _, err := os.Stat(leasePath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			// No lease on disk. A supplied lease id is stale.
			if leaseID != "" {
				return fmt.Errorf("lease for blob %q: %w", key, persistence.ErrLeaseNotFound)
			}
			return nil
		}

		existing, err := readLeaseRecord(leasePath)
		if err != nil {
			if isLeaseReadRace(err) {
				if err := sleep(ctx, b.cfg.retryBackoff()); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if existing.expired(time.Now()) {
			// Lazy reclaim: the lease is semantically absent.
			if err := os.Remove(leasePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		}
		if leaseID == "" {
			return fmt.Errorf("lease id is required to overwrite leased blob %q: %w", key, persistence.ErrLeaseConflict)
		}
		if existing.LeaseID != leaseID {
			return fmt.Errorf("lease id does not match for blob %q: %w", key, persistence.ErrLeaseConflict)
		}
		return nil
	}
	return fmt.Errorf("upload blob %q: retry limit reached reading lease file", key)
}

// installPayload stages data next to the destination and installs it in one
// file-system operation. Rename replaces an existing blob; link is
// create-or-fail, so exactly one of N concurrent creators wins.
func installPayload(blobPath string, data []byte, overwrite bool, key string) error {
	dir := filepath.Dir(blobPath)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}

	if overwrite {
		if err := os.Rename(tmpPath, blobPath); err != nil {
			_ = os.Remove(tmpPath)
			return err
		}
		return nil
	}

	if err := os.Link(tmpPath, blobPath); err != nil {
		_ = os.Remove(tmpPath)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("blob %q: %w", key, persistence.ErrBlobAlreadyExists)
		}
		return err
	}
	return os.Remove(tmpPath)
}

// DownloadBlob returns the blob payload as text.
func (b *DiskBlob) DownloadBlob(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	blobPath, err := b.blobPath(key)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(blobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("blob %q: %w", key, persistence.ErrBlobNotFound)
		}
		return "", err
	}
	return string(data), nil
}

// DeleteContainer removes every file under the container root deepest-first,
// then the emptied directories. A crash mid-deletion leaves a partially
// emptied container; callers accept this for a local store.
func (b *DiskBlob) DeleteContainer(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root := b.root
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var files, dirs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	// Deepest directories first.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, path := range dirs {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	slog.Info("deleted local disk blob container", "name", b.cfg.Name)
	return nil
}

func (b *DiskBlob) blobPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
