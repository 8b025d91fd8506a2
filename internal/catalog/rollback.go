package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/domain"
)

// Rollback restores a target to the value stored in a past history record and
// appends a Rollback record describing the restoration. Restoring a deletion
// record removes the target; restoring a value record onto a deleted target
// re-creates it at its original id so existing references keep resolving.
// Rolling back to the current state is a legal no-op that is still recorded.
//
// Rollback is itself a compare-and-swap mutation: on conflict it re-fetches,
// re-checks existence and redoes the appropriate path, up to the attempt cap.
func (r *Repository) Rollback(ctx context.Context, targetType domain.TargetType, targetID uuid.UUID, toRecordID uuid.UUID, actor domain.Actor, reason string) (domain.Target, error) {
	record, err := r.history.Get(ctx, toRecordID)
	if err != nil {
		return nil, err
	}
	if record.TargetType != targetType || record.TargetID != targetID {
		return nil, fmt.Errorf("%w: history record %s does not belong to %s %s", ErrNotFound, toRecordID, targetType, targetID)
	}

	var restored domain.Target
	if record.HasValue() {
		restored, err = record.DecodeValue()
		if err != nil {
			return nil, err
		}
	}

	meta := commitMeta{eventType: domain.EventTypeRollback, actor: actor, reason: reason, rollbackOf: &record.ID}
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := r.Fetch(ctx, targetType, targetID)
		if err != nil {
			return nil, err
		}

		if restored == nil {
			if !entry.Exists() {
				// Already absent: nothing to write, but the requested
				// rollback still becomes part of the history. No entity write
				// is paired with this record, so it gets a fresh id rather
				// than a version-derived one.
				snapshot := domain.Snapshot{
					ID:            domain.NewID(),
					CreatedTime:   r.now().UTC(),
					EventType:     domain.EventTypeRollback,
					ActorClass:    actor.Class,
					ActorID:       actor.ID,
					TargetType:    targetType,
					TargetID:      targetID,
					TargetVersion: int64(entry.Revision),
					RollbackOfID:  &record.ID,
					Reason:        reason,
				}
				if err := r.history.Append(ctx, snapshot); err != nil {
					return nil, err
				}
				return nil, nil
			}
			ok, err := r.delete(ctx, entry, meta)
			if err != nil {
				return nil, err
			}
			if ok {
				return nil, nil
			}
			continue
		}

		if entry.Exists() {
			committed, ok, err := r.update(ctx, entry, restored, meta)
			if err != nil {
				var gap *HistoryGapError
				if errors.As(err, &gap) {
					return committed, err
				}
				return nil, err
			}
			if ok {
				return committed, nil
			}
			continue
		}

		committed, err := r.create(ctx, entry, restored, meta)
		if errors.Is(err, ErrAlreadyExists) {
			// Someone re-created the target while we were deciding; re-fetch
			// and roll the live value back instead.
			continue
		}
		if err != nil {
			var gap *HistoryGapError
			if errors.As(err, &gap) {
				return committed, err
			}
			return nil, err
		}
		return committed, nil
	}
	return nil, fmt.Errorf("%w: rollback of %s %s after %d attempts", ErrConflict, targetType, targetID, r.maxAttempts)
}
