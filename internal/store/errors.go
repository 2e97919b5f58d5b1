package store

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed ingest parameters or
	// retrieval filters. Callers should not retry.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when no entry exists for an id.
	ErrNotFound = errors.New("entry not found")

	// ErrPersistenceUnavailable is returned when the durable backing
	// store cannot be written. The affected entry stays in the warm tier
	// and the write is retried by maintenance; callers should treat it
	// as transient.
	ErrPersistenceUnavailable = errors.New("durable backing store unavailable")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// DuplicateError reports that ingested content was near-identical to an
// existing entry. It is a normal ingest outcome, not a failure: the
// existing entry has been reinforced and callers should redirect to it.
type DuplicateError struct {
	ExistingID string
	Similarity float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of entry %s (similarity %.2f)", e.ExistingID, e.Similarity)
}

// IsDuplicate reports whether err is a duplicate-ingest outcome.
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

// AsDuplicate extracts the duplicate outcome from err, if any.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var d *DuplicateError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// ConsistencyError reports an index referencing a missing entry or an
// entry absent from an applicable index. It triggers a targeted index
// rebuild, never a process crash.
type ConsistencyError struct {
	Index string
	ID    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation: index %q references missing entry %s", e.Index, e.ID)
}
