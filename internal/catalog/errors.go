package catalog

import (
	"errors"
	"fmt"

	"github.com/openshelf/catalogd/internal/domain"
)

var (
	// ErrNotFound reports that a target or history record does not exist.
	ErrNotFound = errors.New("target not found")

	// ErrAlreadyExists reports a create against an id that already holds a value.
	ErrAlreadyExists = errors.New("target already exists")

	// ErrConflict reports that a bounded retry loop lost the compare-and-swap
	// race on every attempt.
	ErrConflict = errors.New("update conflict persisted past retry limit")

	// ErrInvalidOperation reports a caller bug, such as updating an absent
	// entry. Never retried.
	ErrInvalidOperation = errors.New("invalid operation")
)

// HistoryGapError reports that an entity write committed but its paired
// history record could not be appended. The entity change stands; the missing
// record is repairable by the reconciler because snapshot ids are
// deterministic.
type HistoryGapError struct {
	Snapshot domain.Snapshot
	Err      error
}

func (e *HistoryGapError) Error() string {
	return fmt.Sprintf("committed %s on %s %s at version %d but failed to append history record %s: %v",
		e.Snapshot.EventType, e.Snapshot.TargetType, e.Snapshot.TargetID, e.Snapshot.TargetVersion, e.Snapshot.ID, e.Err)
}

func (e *HistoryGapError) Unwrap() error { return e.Err }
