package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
)

const defaultReconcilePageSize = 500

// Reconciler repairs the gap left by a crash between an entity write and its
// history append: it scans live documents and re-appends the missing record
// for any document whose current revision has no snapshot. Because snapshot
// ids are deterministic in (type, id, version), repair is idempotent.
type Reconciler struct {
	store    docstore.Store
	history  *HistoryLog
	logger   *zap.SugaredLogger
	pageSize int
}

// NewReconciler wires a reconciler over the same store the repository uses.
func NewReconciler(store docstore.Store, history *HistoryLog) *Reconciler {
	return &Reconciler{
		store:    store,
		history:  history,
		logger:   zap.S(),
		pageSize: defaultReconcilePageSize,
	}
}

// Run scans every target type once and returns the number of records repaired.
func (c *Reconciler) Run(ctx context.Context) (int, error) {
	repaired := 0
	for _, targetType := range domain.TargetTypes() {
		n, err := c.reconcileType(ctx, targetType)
		repaired += n
		if err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}

// RunEvery keeps scanning on an interval until the context is cancelled.
func (c *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repaired, err := c.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Errorw("history reconcile scan failed", "error", err)
			}
			if repaired > 0 {
				c.logger.Infow("repaired missing history records", "count", repaired)
			}
		}
	}
}

func (c *Reconciler) reconcileType(ctx context.Context, targetType domain.TargetType) (int, error) {
	repaired := 0
	for offset := 0; ; offset += c.pageSize {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		docs, total, err := c.store.Query(ctx, string(targetType), docstore.Query{
			Offset: offset,
			Limit:  c.pageSize,
		})
		if err != nil {
			return repaired, fmt.Errorf("failed to scan %s documents: %w", targetType, err)
		}
		for _, doc := range docs {
			ok, err := c.reconcileDocument(ctx, targetType, doc)
			if err != nil {
				return repaired, err
			}
			if ok {
				repaired++
			}
		}
		if offset+len(docs) >= total || len(docs) == 0 {
			return repaired, nil
		}
	}
}

func (c *Reconciler) reconcileDocument(ctx context.Context, targetType domain.TargetType, doc docstore.Document) (bool, error) {
	recordID := domain.SnapshotID(targetType, doc.ID, int64(doc.Revision))
	_, err := c.history.Get(ctx, recordID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	// The original event type is unrecoverable once the record is lost; a
	// first revision can only be a creation, anything later is recorded as a
	// modification.
	eventType := domain.EventTypeModification
	if doc.Revision == 1 {
		eventType = domain.EventTypeCreation
	}
	snapshot := domain.NewSnapshot(eventType, domain.SystemActor, targetType, doc.ID, int64(doc.Revision), doc.Value, "reconciled from entity state")
	if err := c.history.Append(ctx, snapshot); err != nil {
		return false, fmt.Errorf("failed to repair history for %s %s: %w", targetType, doc.ID, err)
	}
	c.logger.Warnw("repaired missing history record",
		"target_type", targetType,
		"target_id", doc.ID,
		"target_version", doc.Revision,
	)
	return true, nil
}
