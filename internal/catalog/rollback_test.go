package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/domain"
)

func TestRollbackRestoresEarlierValue(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "original")
	for _, name := range []string{"renamed once", "renamed twice"} {
		if _, err := repo.RetryUpdate(ctx, domain.TargetTypeUser, user.ID, func(current domain.Target) (domain.Target, error) {
			return current.(*domain.User).WithName(name), nil
		}, domain.SystemActor, "rename"); err != nil {
			t.Fatalf("rename returned error: %v", err)
		}
	}

	records := targetRecords(t, history, domain.TargetTypeUser, user.ID)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	moderator := domain.ModeratorActor(uuid.New())
	restored, err := repo.Rollback(ctx, domain.TargetTypeUser, user.ID, records[0].ID, moderator, "undo renames")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored.(*domain.User).Name != "original" {
		t.Fatalf("expected restored name original, got %s", restored.(*domain.User).Name)
	}

	records = targetRecords(t, history, domain.TargetTypeUser, user.ID)
	if len(records) != 4 {
		t.Fatalf("expected rollback to append a record, got %d", len(records))
	}
	rollbackRecord := records[3]
	if rollbackRecord.EventType != domain.EventTypeRollback {
		t.Fatalf("expected ROLLBACK record, got %s", rollbackRecord.EventType)
	}
	if rollbackRecord.RollbackOfID == nil || *rollbackRecord.RollbackOfID != records[0].ID {
		t.Fatalf("rollback record must reference the restored record")
	}
	if rollbackRecord.ActorClass != domain.ActorClassModerator {
		t.Fatalf("expected moderator attribution, got %s", rollbackRecord.ActorClass)
	}
	if rollbackRecord.TargetVersion != 4 {
		t.Fatalf("rollback is a new version, expected 4, got %d", rollbackRecord.TargetVersion)
	}
}

func TestRollbackToCurrentStateIsRecordedNoOp(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "steady")
	records := targetRecords(t, history, domain.TargetTypeUser, user.ID)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	// Rolling back to the latest record changes nothing but is still recorded.
	restored, err := repo.Rollback(ctx, domain.TargetTypeUser, user.ID, records[0].ID, domain.SystemActor, "confirm current state")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored.(*domain.User).Name != "steady" {
		t.Fatalf("expected unchanged name steady, got %s", restored.(*domain.User).Name)
	}

	records = targetRecords(t, history, domain.TargetTypeUser, user.ID)
	if len(records) != 2 {
		t.Fatalf("expected the no-op rollback to append a record, got %d", len(records))
	}
	rollbackRecord := records[1]
	if rollbackRecord.EventType != domain.EventTypeRollback {
		t.Fatalf("expected ROLLBACK record, got %s", rollbackRecord.EventType)
	}
	if rollbackRecord.RollbackOfID == nil || *rollbackRecord.RollbackOfID != records[0].ID {
		t.Fatalf("rollback record must reference the creation record")
	}
	if rollbackRecord.TargetVersion != 2 {
		t.Fatalf("no-op rollback still advances the version, expected 2, got %d", rollbackRecord.TargetVersion)
	}
}

func TestRollbackToDeletionRemovesTarget(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "fleeting")
	entry, err := repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if ok, err := repo.CommitDelete(ctx, entry, domain.SystemActor, ""); err != nil || !ok {
		t.Fatalf("delete failed: ok=%v err=%v", ok, err)
	}

	// Bring it back, then roll back to the deletion record.
	entry, err = repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	revived := *user
	if _, err := repo.CommitCreate(ctx, entry, &revived, domain.SystemActor, "revive"); err != nil {
		t.Fatalf("re-create returned error: %v", err)
	}

	records := targetRecords(t, history, domain.TargetTypeUser, user.ID)
	deletionRecord := records[1]
	if deletionRecord.EventType != domain.EventTypeDeletion {
		t.Fatalf("expected records[1] to be the deletion, got %s", deletionRecord.EventType)
	}

	restored, err := repo.Rollback(ctx, domain.TargetTypeUser, user.ID, deletionRecord.ID, domain.SystemActor, "back to deleted")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored != nil {
		t.Fatalf("rolling back to a tombstone must leave the target absent")
	}

	entry, err = repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if entry.Exists() {
		t.Fatalf("expected target to be deleted")
	}

	records = targetRecords(t, history, domain.TargetTypeUser, user.ID)
	last := records[len(records)-1]
	if last.EventType != domain.EventTypeRollback || last.HasValue() {
		t.Fatalf("expected a valueless rollback record, got %+v", last)
	}
}

func TestRollbackRecreatesDeletedTarget(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "lazarus")
	entry, err := repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if ok, err := repo.CommitDelete(ctx, entry, domain.SystemActor, ""); err != nil || !ok {
		t.Fatalf("delete failed: ok=%v err=%v", ok, err)
	}

	records := targetRecords(t, history, domain.TargetTypeUser, user.ID)
	creationRecord := records[0]

	restored, err := repo.Rollback(ctx, domain.TargetTypeUser, user.ID, creationRecord.ID, domain.SystemActor, "restore")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored.(*domain.User).ID != user.ID {
		t.Fatalf("restoration must keep the original id")
	}
	if restored.(*domain.User).Name != "lazarus" {
		t.Fatalf("expected restored name lazarus, got %s", restored.(*domain.User).Name)
	}

	entry, err = repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if !entry.Exists() {
		t.Fatalf("expected target to exist again")
	}
}

func TestRollbackToAbsentStateOnAbsentTargetIsRecordedNoOp(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "gone")
	entry, err := repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if ok, err := repo.CommitDelete(ctx, entry, domain.SystemActor, ""); err != nil || !ok {
		t.Fatalf("delete failed: ok=%v err=%v", ok, err)
	}

	records := targetRecords(t, history, domain.TargetTypeUser, user.ID)
	deletionRecord := records[1]

	restored, err := repo.Rollback(ctx, domain.TargetTypeUser, user.ID, deletionRecord.ID, domain.SystemActor, "already gone")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored != nil {
		t.Fatalf("expected no value")
	}

	entry, err = repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if entry.Exists() {
		t.Fatalf("no-op rollback must not revive the target")
	}

	records = targetRecords(t, history, domain.TargetTypeUser, user.ID)
	if len(records) != 3 {
		t.Fatalf("even a no-op rollback is recorded, got %d records", len(records))
	}
	var rollbackRecord *domain.Snapshot
	for i := range records {
		if records[i].EventType == domain.EventTypeRollback {
			rollbackRecord = &records[i]
		}
	}
	if rollbackRecord == nil || rollbackRecord.RollbackOfID == nil || *rollbackRecord.RollbackOfID != deletionRecord.ID {
		t.Fatalf("missing or malformed no-op rollback record: %+v", records)
	}
}

func TestRollbackRejectsForeignRecord(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	alice := mustCreateUser(t, repo, "alice")
	bob := mustCreateUser(t, repo, "bob")

	aliceRecords := targetRecords(t, history, domain.TargetTypeUser, alice.ID)
	_, err := repo.Rollback(ctx, domain.TargetTypeUser, bob.ID, aliceRecords[0].ID, domain.SystemActor, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a record of another target, got %v", err)
	}
}
