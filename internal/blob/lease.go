package blob

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	"standin/internal/persistence"
)

// leaseRecord is the on-disk lease format, one JSON document per lease file.
type leaseRecord struct {
	LeaseID string    `json:"lease_id"`
	Until   time.Time `json:"until"`
}

func newLeaseRecord(duration time.Duration) leaseRecord {
	return leaseRecord{
		LeaseID: uuid.NewString(),
		Until:   time.Now().UTC().Add(duration),
	}
}

// expired reports whether the lease is semantically absent. An expired lease
// file may still sit on disk until the next writer reclaims it.
func (r leaseRecord) expired(now time.Time) bool {
	return !r.Until.After(now)
}

// errCorruptLease marks a lease file whose contents could not be decoded,
// usually because a concurrent worker removed or rewrote it mid-read.
var errCorruptLease = errors.New("corrupt lease file")

func isLeaseReadRace(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, errCorruptLease)
}

func readLeaseRecord(path string) (leaseRecord, error) {
	var record leaseRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, errCorruptLease
	}
	return record, nil
}

func writeLeaseRecord(path string, record leaseRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Lease is a held blob lease. Release deletes the lease file; a file already
// reclaimed by another worker is not an error.
type Lease struct {
	id    string
	until time.Time
	path  string
}

var _ persistence.LeaseHandle = (*Lease)(nil)

// ID returns the opaque lease identifier presented on uploads.
func (l *Lease) ID() string { return l.id }

// Until returns the absolute expiry time.
func (l *Lease) Until() time.Time { return l.until }

// Release deletes the lease file.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
