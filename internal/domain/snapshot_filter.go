package domain

import (
	"time"

	"github.com/google/uuid"
)

// SnapshotFilter narrows a history search. Every field is optional; zero
// values mean "no constraint".
type SnapshotFilter struct {
	TargetType   TargetType
	TargetID     *uuid.UUID
	ActorID      *uuid.UUID
	EventType    EventType
	ActorClass   ActorClass
	RollbackOfID *uuid.UUID
	CreatedAfter *time.Time
	CreatedUntil *time.Time
	ReasonSubstr string
}

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// SnapshotSortField enumerates fields history results can be ordered by.
// Ties are always broken by record id so paged iteration is stable.
type SnapshotSortField string

const (
	// SnapshotSortFieldCreatedTime orders by wall-clock time. Advisory only;
	// under clock skew it can disagree with version order.
	SnapshotSortFieldCreatedTime SnapshotSortField = "created_time"
	// SnapshotSortFieldVersion orders by the store's version sequence, the
	// authoritative order of a single target's history.
	SnapshotSortFieldVersion SnapshotSortField = "target_version"
)

// SnapshotSort captures ordering preferences for history searches.
type SnapshotSort struct {
	Field     SnapshotSortField
	Direction SortDirection
}

// DefaultSnapshotSort orders newest-first by created time.
func DefaultSnapshotSort() SnapshotSort {
	return SnapshotSort{Field: SnapshotSortFieldCreatedTime, Direction: SortDirectionDesc}
}

// Page bounds one result window of a history search.
type Page struct {
	Offset int
	Limit  int
}
