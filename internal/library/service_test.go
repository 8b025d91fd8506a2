package library

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
)

func newTestService(t *testing.T) (*Service, *catalog.HistoryLog) {
	t.Helper()
	store := docstore.NewMemoryStore()
	history := catalog.NewHistoryLog(store)
	return NewService(catalog.NewRepository(store, history)), history
}

func TestCreateBookRequiresContent(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.CreateBook(context.Background(), "empty", nil, nil, nil, domain.SystemActor, "")
	if !errors.Is(err, catalog.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for a contentless book, got %v", err)
	}
}

func TestRemoveBookContentKeepsBookWhileContentsRemain(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	contents := []domain.BookContent{
		domain.NewBookContent("volume 1", "files/v1", 120),
		domain.NewBookContent("volume 2", "files/v2", 98),
	}
	book, err := service.CreateBook(ctx, "two volumes", []string{"author"}, nil, contents, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}

	updated, err := service.RemoveBookContent(ctx, book.ID, contents[0].ID, domain.SystemActor, "drop v1")
	if err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if updated == nil || updated.PartCount() != 1 {
		t.Fatalf("expected book to survive with one content, got %+v", updated)
	}
	if _, found := updated.Content(contents[0].ID); found {
		t.Fatalf("removed content still present")
	}
}

func TestRemoveLastBookContentDeletesBook(t *testing.T) {
	ctx := context.Background()
	service, history := newTestService(t)

	content := domain.NewBookContent("only volume", "files/v1", 120)
	book, err := service.CreateBook(ctx, "single volume", nil, nil, []domain.BookContent{content}, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}

	updated, err := service.RemoveBookContent(ctx, book.ID, content.ID, domain.SystemActor, "withdraw")
	if err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if updated != nil {
		t.Fatalf("removing the last content must delete the book, got %+v", updated)
	}

	if _, err := service.GetBook(ctx, book.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected book to be gone, got %v", err)
	}

	records, _, err := history.TargetHistory(ctx, domain.TargetTypeBook, book.ID, domain.Page{})
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected creation and deletion records, got %d", len(records))
	}
	if records[1].EventType != domain.EventTypeDeletion {
		t.Fatalf("the cascade commits a deletion, got %s", records[1].EventType)
	}
}

func TestRemoveBookContentUnknownContent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	content := domain.NewBookContent("volume", "files/v1", 0)
	book, err := service.CreateBook(ctx, "book", nil, nil, []domain.BookContent{content}, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}

	_, err = service.RemoveBookContent(ctx, book.ID, uuid.New(), domain.SystemActor, "")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown content, got %v", err)
	}
	if _, err := service.GetBook(ctx, book.ID); err != nil {
		t.Fatalf("book must be untouched, got %v", err)
	}
}

func TestAddBookToCollectionChecksBookExists(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	collection, err := service.CreateCollection(ctx, "favorites", "", domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create collection returned error: %v", err)
	}

	if _, err := service.AddBookToCollection(ctx, collection.ID, uuid.New(), domain.SystemActor, ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing book, got %v", err)
	}
}

func TestCollectionSurvivesEmptyMemberList(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	content := domain.NewBookContent("volume", "files/v1", 0)
	book, err := service.CreateBook(ctx, "member", nil, nil, []domain.BookContent{content}, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create book returned error: %v", err)
	}
	collection, err := service.CreateCollection(ctx, "shelf", "", domain.SystemActor, "")
	if err != nil {
		t.Fatalf("create collection returned error: %v", err)
	}

	withBook, err := service.AddBookToCollection(ctx, collection.ID, book.ID, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("add returned error: %v", err)
	}
	if len(withBook.BookIDs) != 1 {
		t.Fatalf("expected one member, got %d", len(withBook.BookIDs))
	}

	emptied, err := service.RemoveBookFromCollection(ctx, collection.ID, book.ID, domain.SystemActor, "")
	if err != nil {
		t.Fatalf("remove returned error: %v", err)
	}
	if emptied == nil || len(emptied.BookIDs) != 0 {
		t.Fatalf("collections carry no cascade rule, got %+v", emptied)
	}
	if _, err := service.GetCollection(ctx, collection.ID); err != nil {
		t.Fatalf("collection must remain live, got %v", err)
	}
}

func TestUserRenameAndRollbackScenario(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)
	actor := domain.UserActor(uuid.New())

	user, err := service.CreateUser(ctx, "reader", "Reader One", "member", actor, "signup")
	if err != nil {
		t.Fatalf("create returned error: %v", err)
	}
	if _, err := service.RenameUser(ctx, user.ID, "reader-v2", actor, ""); err != nil {
		t.Fatalf("rename returned error: %v", err)
	}
	if _, err := service.RenameUser(ctx, user.ID, "reader-v3", actor, ""); err != nil {
		t.Fatalf("rename returned error: %v", err)
	}

	records, _, err := service.TargetHistory(ctx, domain.TargetTypeUser, user.ID, domain.Page{})
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	preview, err := service.ValueAt(ctx, records[1].ID)
	if err != nil {
		t.Fatalf("value at returned error: %v", err)
	}
	if preview.(*domain.User).Name != "reader-v2" {
		t.Fatalf("expected stored intermediate name, got %s", preview.(*domain.User).Name)
	}

	restored, err := service.Rollback(ctx, domain.TargetTypeUser, user.ID, records[0].ID, actor, "undo")
	if err != nil {
		t.Fatalf("rollback returned error: %v", err)
	}
	if restored.(*domain.User).Name != "reader" {
		t.Fatalf("expected original name restored, got %s", restored.(*domain.User).Name)
	}

	current, err := service.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if current.Name != "reader" {
		t.Fatalf("current state must reflect the rollback, got %s", current.Name)
	}
}
