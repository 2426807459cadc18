// Package errs defines the error taxonomy shared by the acquisition engine.
// Expected conditions (conflict, not found, rate limit) are sentinel values
// checked with errors.Is, never panics.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExternalID is returned for malformed catalog ids, before any
	// store is touched.
	ErrInvalidExternalID = errors.New("invalid external track id")

	// ErrTrackNotFound means the metadata provider has no such track, or the
	// media source found no playable match. Terminal; a fresh user request is
	// required to try again.
	ErrTrackNotFound = errors.New("track not found")

	// ErrAcquisitionConflict means another worker holds the acquisition lock.
	// This is a normal dedup signal, not a failure.
	ErrAcquisitionConflict = errors.New("acquisition already in progress")

	// ErrProviderUnavailable marks a transient metadata/media provider error.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrStorage marks a local or object-storage write/move failure.
	ErrStorage = errors.New("storage failure")

	// ErrRateLimited is returned when a request exceeds its endpoint window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRevoked marks a job cancelled by an explicit revoke signal.
	ErrRevoked = errors.New("job revoked")
)

// Transient reports whether err is eligible for the scheduler's automatic
// retry policy. Provider outages and storage failures retry; bad ids, missing
// tracks, conflicts and revocations do not.
func Transient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrStorage)
}

// Wrap annotates err with context while keeping it matchable via errors.Is.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{sentinel}, args...)...)
}
