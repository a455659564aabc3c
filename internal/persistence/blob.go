package persistence

import (
	"context"
	"errors"
	"time"
)

// Blob errors returned by every implementation of the Blob interface.
var (
	// ErrBlobNotFound is returned when a referenced blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobAlreadyExists is returned when an upload without overwrite
	// targets an existing blob.
	ErrBlobAlreadyExists = errors.New("blob already exists")

	// ErrLeaseConflict is returned when a lease is already held by
	// someone else, or a supplied lease id does not match the active one.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrLeaseNotFound is returned when a lease id was supplied but no
	// lease exists for the blob. The caller holds a stale token.
	ErrLeaseNotFound = errors.New("lease not found")
)

// LeaseHandle is a live exclusive-write claim on one blob. Release must be
// called when the holder is done; releasing an already-reclaimed lease is
// not an error.
type LeaseHandle interface {
	ID() string
	Until() time.Time
	Release() error
}

// Blob is the byte-storage abstraction callers depend on. Implementations
// must keep uploads atomic from a reader's perspective and must honor the
// lease protocol: while an unexpired lease exists, only uploads presenting
// its id may win.
type Blob interface {
	// LeaseBlob acquires an exclusive time-bounded lease on an existing
	// blob. Returns ErrBlobNotFound if the blob does not exist and
	// ErrLeaseConflict if an unexpired lease is already held.
	LeaseBlob(ctx context.Context, key string, duration time.Duration) (LeaseHandle, error)

	// UploadBlob writes data under key. With overwrite false an existing
	// blob fails with ErrBlobAlreadyExists. leaseID may be empty when the
	// blob is unleased.
	UploadBlob(ctx context.Context, key string, data []byte, overwrite bool, leaseID string) error

	// DownloadBlob returns the full payload as text.
	DownloadBlob(ctx context.Context, key string) (string, error)

	// DeleteContainer removes every blob, lease, and lock file under the
	// store root. Best effort, not crash-atomic.
	DeleteContainer(ctx context.Context) error
}
