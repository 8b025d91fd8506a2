package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// snapshotNamespace scopes deterministic snapshot ids; generated once, never changed.
var snapshotNamespace = uuid.MustParse("9f2c1c3e-54d7-4d8a-b7c4-2f3a8e6d1b90")

// NewID returns a fresh identifier for a target or sub-entity. UUIDv7 embeds a
// millisecond timestamp, so ids sort roughly by creation time without any
// coordination between writers.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is broken; fall back to v4
		// rather than panicking in a request path.
		return uuid.New()
	}
	return id
}

// SnapshotID derives the history record id for a committed change. The id is a
// pure function of (targetType, targetID, version), so re-appending the record
// after a crash between the entity write and the history write cannot duplicate.
func SnapshotID(targetType TargetType, targetID uuid.UUID, version int64) uuid.UUID {
	name := fmt.Sprintf("%s/%s@%d", targetType, targetID, version)
	return uuid.NewSHA1(snapshotNamespace, []byte(name))
}
