package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
)

// snapshotDocType is the store collection holding history records. Records
// live in the same document store as the entities they describe, but there is
// no transaction spanning the two.
const snapshotDocType = "snapshot"

// HistoryLog appends and queries the immutable records describing every
// creation, modification, deletion and rollback of any target. Records are
// never mutated or deleted; they outlive the targets they describe.
type HistoryLog struct {
	store docstore.Store
}

// NewHistoryLog wires a history log over the document store.
func NewHistoryLog(store docstore.Store) *HistoryLog {
	return &HistoryLog{store: store}
}

// Append inserts a history record. Record ids are deterministic per committed
// change, so appending the same record twice is a no-op rather than a
// duplicate; Append therefore never fails on conflict.
func (l *HistoryLog) Append(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode history record %s: %w", snapshot.ID, err)
	}
	_, err = l.store.Put(ctx, snapshotDocType, snapshot.ID, data, docstore.RevisionAbsent)
	if errors.Is(err, docstore.ErrRevisionMismatch) {
		// Already appended by an earlier attempt.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to append history record %s: %w", snapshot.ID, err)
	}
	return nil
}

// Get loads a single history record by id.
func (l *HistoryLog) Get(ctx context.Context, recordID uuid.UUID) (domain.Snapshot, error) {
	doc, err := l.store.Get(ctx, snapshotDocType, recordID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to load history record %s: %w", recordID, err)
	}
	if doc == nil {
		return domain.Snapshot{}, ErrNotFound
	}
	return decodeSnapshot(*doc)
}

// ValueAt returns the stored value of a record: the concrete target state, or
// nil for tombstones. Works regardless of whether the target still exists.
func (l *HistoryLog) ValueAt(ctx context.Context, recordID uuid.UUID) (domain.Target, error) {
	snapshot, err := l.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !snapshot.HasValue() {
		return nil, nil
	}
	return snapshot.DecodeValue()
}

// Search filters, sorts and pages history records, returning the page plus the
// total match count.
func (l *HistoryLog) Search(ctx context.Context, filter domain.SnapshotFilter, sortBy domain.SnapshotSort, page domain.Page) ([]domain.Snapshot, int, error) {
	query := docstore.Query{
		Equals: map[string]any{},
		Offset: page.Offset,
		Limit:  page.Limit,
	}
	if filter.TargetType != "" {
		query.Equals["target_type"] = string(filter.TargetType)
	}
	if filter.TargetID != nil {
		query.Equals["target_id"] = filter.TargetID.String()
	}
	if filter.ActorID != nil {
		query.Equals["actor_id"] = filter.ActorID.String()
	}
	if filter.EventType != "" {
		query.Equals["event_type"] = string(filter.EventType)
	}
	if filter.ActorClass != "" {
		query.Equals["actor_class"] = string(filter.ActorClass)
	}
	if filter.RollbackOfID != nil {
		query.Equals["rollback_of_id"] = filter.RollbackOfID.String()
	}
	if filter.CreatedAfter != nil || filter.CreatedUntil != nil {
		query.TimeRange = &docstore.TimeRange{
			Field: "created_time",
			After: filter.CreatedAfter,
			Until: filter.CreatedUntil,
		}
	}
	if filter.ReasonSubstr != "" {
		query.Substring = &docstore.SubstringMatch{Field: "reason", Substr: filter.ReasonSubstr}
	}

	if sortBy.Field == "" {
		sortBy = domain.DefaultSnapshotSort()
	}
	kind := docstore.FieldKindTime
	if sortBy.Field == domain.SnapshotSortFieldVersion {
		kind = docstore.FieldKindNumber
	}
	query.Sort = []docstore.SortKey{{
		Field: string(sortBy.Field),
		Kind:  kind,
		Desc:  sortBy.Direction == domain.SortDirectionDesc,
	}}

	docs, total, err := l.store.Query(ctx, snapshotDocType, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search history: %w", err)
	}
	snapshots := make([]domain.Snapshot, len(docs))
	for i, doc := range docs {
		snapshot, err := decodeSnapshot(doc)
		if err != nil {
			return nil, 0, err
		}
		snapshots[i] = snapshot
	}
	return snapshots, total, nil
}

// TargetHistory lists a single target's records in version order, the
// authoritative order of its committed changes.
func (l *HistoryLog) TargetHistory(ctx context.Context, targetType domain.TargetType, targetID uuid.UUID, page domain.Page) ([]domain.Snapshot, int, error) {
	return l.Search(ctx,
		domain.SnapshotFilter{TargetType: targetType, TargetID: &targetID},
		domain.SnapshotSort{Field: domain.SnapshotSortFieldVersion, Direction: domain.SortDirectionAsc},
		page,
	)
}

func decodeSnapshot(doc docstore.Document) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := json.Unmarshal(doc.Value, &snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("failed to decode history record %s: %w", doc.ID, err)
	}
	return snapshot, nil
}
