package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/domain"
)

func TestHistorySearchFilters(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	alice := domain.UserActor(uuid.New())
	bob := domain.UserActor(uuid.New())

	user := mustCreateUser(t, repo, "subject")
	if _, err := repo.RetryUpdate(ctx, domain.TargetTypeUser, user.ID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.User).WithName("by alice"), nil
	}, alice, "alice edit"); err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	if _, err := repo.RetryUpdate(ctx, domain.TargetTypeUser, user.ID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.User).WithName("by bob"), nil
	}, bob, "bob edit"); err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	image := domain.NewImage("cover", "files/cover.png", 600, 800)
	entry, err := repo.Fetch(ctx, domain.TargetTypeImage, image.ID)
	if err != nil {
		t.Fatalf("fetch returned error: %v", err)
	}
	if _, err := repo.CommitCreate(ctx, entry, image, alice, "upload"); err != nil {
		t.Fatalf("create returned error: %v", err)
	}

	records, total, err := history.Search(ctx, domain.SnapshotFilter{ActorID: alice.ID}, domain.SnapshotSort{}, domain.Page{})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("expected 2 records by alice, got %d", total)
	}

	records, total, err = history.Search(ctx, domain.SnapshotFilter{
		TargetType: domain.TargetTypeUser,
		EventType:  domain.EventTypeModification,
	}, domain.SnapshotSort{}, domain.Page{})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 user modifications, got %d", total)
	}
	for _, record := range records {
		if record.TargetType != domain.TargetTypeUser || record.EventType != domain.EventTypeModification {
			t.Fatalf("filter leaked record %+v", record)
		}
	}

	records, total, err = history.Search(ctx, domain.SnapshotFilter{ReasonSubstr: "bob"}, domain.SnapshotSort{}, domain.Page{})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if total != 1 || records[0].Reason != "bob edit" {
		t.Fatalf("expected the single bob edit, got total=%d", total)
	}

	until := time.Now().UTC().Add(time.Minute)
	_, total, err = history.Search(ctx, domain.SnapshotFilter{CreatedUntil: &until}, domain.SnapshotSort{}, domain.Page{})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected all 4 records inside the window, got %d", total)
	}
}

func TestHistorySearchDefaultSortIsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, history, _ := newTestRepository(t)

	user := mustCreateUser(t, repo, "first")
	if _, err := repo.RetryUpdate(ctx, domain.TargetTypeUser, user.ID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.User).WithName("second"), nil
	}, domain.SystemActor, ""); err != nil {
		t.Fatalf("update returned error: %v", err)
	}

	records, _, err := history.Search(ctx, domain.SnapshotFilter{}, domain.SnapshotSort{}, domain.Page{})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].CreatedTime.Before(records[1].CreatedTime) {
		t.Fatalf("default sort must be newest first")
	}
}

func TestHistoryGetUnknownRecord(t *testing.T) {
	_, history, _ := newTestRepository(t)
	if _, err := history.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
