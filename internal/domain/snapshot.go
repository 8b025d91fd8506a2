package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a committed change to a target.
type EventType string

const (
	EventTypeCreation     EventType = "CREATION"
	EventTypeModification EventType = "MODIFICATION"
	EventTypeDeletion     EventType = "DELETION"
	EventTypeRollback     EventType = "ROLLBACK"
)

// ParseEventType validates a wire string against the known event types.
func ParseEventType(raw string) (EventType, error) {
	switch EventType(raw) {
	case EventTypeCreation, EventTypeModification, EventTypeDeletion, EventTypeRollback:
		return EventType(raw), nil
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// Snapshot is an immutable history record of one committed change. Value holds
// the full target state immediately after the event and is nil for deletions
// (a tombstone) and for rollbacks to a deletion. Records are never mutated or
// deleted once written; they outlive the target.
//
// TargetVersion is the store revision after the event and defines the ordering
// of a target's history. CreatedTime is advisory only; clock skew across
// writers can make it diverge from version order.
type Snapshot struct {
	ID            uuid.UUID       `json:"id"`
	CreatedTime   time.Time       `json:"created_time"`
	EventType     EventType       `json:"event_type"`
	ActorClass    ActorClass      `json:"actor_class"`
	ActorID       *uuid.UUID      `json:"actor_id,omitempty"`
	TargetType    TargetType      `json:"target_type"`
	TargetID      uuid.UUID       `json:"target_id"`
	TargetVersion int64           `json:"target_version"`
	RollbackOfID  *uuid.UUID      `json:"rollback_of_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
}

// NewSnapshot builds the history record for a committed change. The record id
// is deterministic in (targetType, targetID, version) so a retried append
// after a partial failure cannot duplicate history.
func NewSnapshot(eventType EventType, actor Actor, targetType TargetType, targetID uuid.UUID, version int64, value json.RawMessage, reason string) Snapshot {
	return Snapshot{
		ID:            SnapshotID(targetType, targetID, version),
		CreatedTime:   time.Now().UTC(),
		EventType:     eventType,
		ActorClass:    actor.Class,
		ActorID:       actor.ID,
		TargetType:    targetType,
		TargetID:      targetID,
		TargetVersion: version,
		Reason:        reason,
		Value:         value,
	}
}

// HasValue reports whether the record carries a target state. Deletion records
// are tombstones and carry none.
func (s Snapshot) HasValue() bool { return len(s.Value) > 0 }

// DecodeValue deserializes the stored target state.
func (s Snapshot) DecodeValue() (Target, error) {
	if !s.HasValue() {
		return nil, fmt.Errorf("snapshot %s is a tombstone and has no value", s.ID)
	}
	return DecodeTarget(s.TargetType, s.Value)
}
