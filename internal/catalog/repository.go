// Package catalog implements the versioned entity repository: optimistic
// concurrency over a document store, an append-only history of every committed
// change, and rollback to any recorded state. The store's compare-and-swap is
// the only concurrency primitive; the repository holds no state about any
// target between calls, so any number of callers may race on the same id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
)

const defaultMaxAttempts = 5

// Repository orchestrates entity writes and their paired history records.
// Every successful write appends exactly one history record; the entity write
// always lands first, so a crash between the two surfaces as a repairable
// history gap rather than phantom history.
type Repository struct {
	store       docstore.Store
	history     *HistoryLog
	logger      *zap.SugaredLogger
	now         func() time.Time
	maxAttempts int
}

// Option customizes a Repository.
type Option func(*Repository)

// WithMaxAttempts caps the bounded retry loops (RetryUpdate, Rollback).
func WithMaxAttempts(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRepository wires a repository over the document store.
func NewRepository(store docstore.Store, history *HistoryLog, opts ...Option) *Repository {
	repo := &Repository{
		store:       store,
		history:     history,
		logger:      zap.S(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// History exposes the history log for read-side callers.
func (r *Repository) History() *HistoryLog { return r.history }

// MaxAttempts reports the retry cap, so callers running their own
// fetch-transform-commit loops bound them consistently.
func (r *Repository) MaxAttempts() int { return r.maxAttempts }

// Fetch reads the current value and revision of a target. Absence is a valid
// result: Entry.Target is nil, and Entry.Revision carries the tombstone
// revision when the target existed before.
func (r *Repository) Fetch(ctx context.Context, targetType domain.TargetType, id uuid.UUID) (Entry, error) {
	entry := Entry{TargetType: targetType, ID: id}
	doc, err := r.store.Get(ctx, string(targetType), id)
	if err != nil {
		return Entry{}, err
	}
	if doc == nil {
		return entry, nil
	}
	entry.Revision = doc.Revision
	if doc.Deleted {
		return entry, nil
	}
	target, err := domain.DecodeTarget(targetType, doc.Value)
	if err != nil {
		return Entry{}, err
	}
	entry.Target = target
	return entry, nil
}

// commitMeta carries the history-record fields of one commit.
type commitMeta struct {
	eventType  domain.EventType
	actor      domain.Actor
	reason     string
	rollbackOf *uuid.UUID
}

// CommitCreate writes a new target. The entry must have been fetched absent;
// if the store holds a value by commit time the create fails with
// ErrAlreadyExists and the caller re-fetches. On success a Creation record is
// appended and the committed value returned.
func (r *Repository) CommitCreate(ctx context.Context, entry Entry, value domain.Target, actor domain.Actor, reason string) (domain.Target, error) {
	return r.create(ctx, entry, value, commitMeta{eventType: domain.EventTypeCreation, actor: actor, reason: reason})
}

// CommitUpdate writes a new value at the entry's revision. A false return is
// not an error: the compare-and-swap lost the race and the caller must
// re-fetch, recompute the new value and retry. On success a Modification
// record is appended.
func (r *Repository) CommitUpdate(ctx context.Context, entry Entry, newValue domain.Target, actor domain.Actor, reason string) (bool, error) {
	_, ok, err := r.update(ctx, entry, newValue, commitMeta{eventType: domain.EventTypeModification, actor: actor, reason: reason})
	return ok, err
}

// CommitDelete removes the target at the entry's revision, with the same
// false-on-conflict contract as CommitUpdate. On success a Deletion tombstone
// record is appended.
func (r *Repository) CommitDelete(ctx context.Context, entry Entry, actor domain.Actor, reason string) (bool, error) {
	return r.delete(ctx, entry, commitMeta{eventType: domain.EventTypeDeletion, actor: actor, reason: reason})
}

func (r *Repository) create(ctx context.Context, entry Entry, value domain.Target, meta commitMeta) (domain.Target, error) {
	if entry.Exists() {
		return nil, ErrAlreadyExists
	}
	if err := r.checkValue(entry, value); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	stamped := value.Touched(now)
	data, err := domain.EncodeTarget(stamped)
	if err != nil {
		return nil, err
	}
	revision, err := r.store.Put(ctx, string(entry.TargetType), entry.ID, data, entry.Revision)
	if errors.Is(err, docstore.ErrRevisionMismatch) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	snapshot := domain.NewSnapshot(meta.eventType, meta.actor, entry.TargetType, entry.ID, int64(revision), data, meta.reason)
	snapshot.CreatedTime = now
	snapshot.RollbackOfID = meta.rollbackOf
	return stamped, r.appendSnapshot(ctx, snapshot)
}

func (r *Repository) update(ctx context.Context, entry Entry, newValue domain.Target, meta commitMeta) (domain.Target, bool, error) {
	if !entry.Exists() {
		return nil, false, fmt.Errorf("%w: update on absent %s %s", ErrInvalidOperation, entry.TargetType, entry.ID)
	}
	if err := r.checkValue(entry, newValue); err != nil {
		return nil, false, err
	}
	now := r.now().UTC()
	stamped := newValue.Touched(now)
	data, err := domain.EncodeTarget(stamped)
	if err != nil {
		return nil, false, err
	}
	revision, err := r.store.Put(ctx, string(entry.TargetType), entry.ID, data, entry.Revision)
	if errors.Is(err, docstore.ErrRevisionMismatch) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	snapshot := domain.NewSnapshot(meta.eventType, meta.actor, entry.TargetType, entry.ID, int64(revision), data, meta.reason)
	snapshot.CreatedTime = now
	snapshot.RollbackOfID = meta.rollbackOf
	return stamped, true, r.appendSnapshot(ctx, snapshot)
}

func (r *Repository) delete(ctx context.Context, entry Entry, meta commitMeta) (bool, error) {
	if !entry.Exists() {
		return false, fmt.Errorf("%w: delete on absent %s %s", ErrInvalidOperation, entry.TargetType, entry.ID)
	}
	revision, err := r.store.Delete(ctx, string(entry.TargetType), entry.ID, entry.Revision)
	if errors.Is(err, docstore.ErrRevisionMismatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	snapshot := domain.NewSnapshot(meta.eventType, meta.actor, entry.TargetType, entry.ID, int64(revision), nil, meta.reason)
	snapshot.CreatedTime = r.now().UTC()
	snapshot.RollbackOfID = meta.rollbackOf
	return true, r.appendSnapshot(ctx, snapshot)
}

func (r *Repository) checkValue(entry Entry, value domain.Target) error {
	if value == nil {
		return fmt.Errorf("%w: nil value for %s %s", ErrInvalidOperation, entry.TargetType, entry.ID)
	}
	if value.TargetType() != entry.TargetType || value.TargetID() != entry.ID {
		return fmt.Errorf("%w: value %s/%s does not match entry %s/%s",
			ErrInvalidOperation, value.TargetType(), value.TargetID(), entry.TargetType, entry.ID)
	}
	return nil
}

// appendSnapshot records a committed change. The entity write has already
// landed, so an append failure is a consistency gap, not a failed operation:
// it is logged and surfaced as a HistoryGapError the caller can distinguish,
// and the reconciler repairs it later.
func (r *Repository) appendSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	if err := r.history.Append(ctx, snapshot); err != nil {
		r.logger.Errorw("history append failed after committed write",
			"target_type", snapshot.TargetType,
			"target_id", snapshot.TargetID,
			"target_version", snapshot.TargetVersion,
			"event_type", snapshot.EventType,
			"error", err,
		)
		return &HistoryGapError{Snapshot: snapshot, Err: err}
	}
	return nil
}

// RetryUpdate runs the canonical fetch-transform-commit loop for the caller:
// re-fetching on every conflict so the transform always sees the latest value,
// and escalating to ErrConflict once the attempt cap is hit. The transform
// must be pure; it may run several times.
func (r *Repository) RetryUpdate(ctx context.Context, targetType domain.TargetType, id uuid.UUID, transform func(domain.Target) (domain.Target, error), actor domain.Actor, reason string) (domain.Target, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := r.Fetch(ctx, targetType, id)
		if err != nil {
			return nil, err
		}
		if !entry.Exists() {
			return nil, ErrNotFound
		}
		next, err := transform(entry.Target)
		if err != nil {
			return nil, err
		}
		committed, ok, err := r.update(ctx, entry, next, commitMeta{eventType: domain.EventTypeModification, actor: actor, reason: reason})
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
	}
	return nil, fmt.Errorf("%w: %s %s after %d attempts", ErrConflict, targetType, id, r.maxAttempts)
}
