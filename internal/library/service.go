// Package library is the typed service layer over the versioned repository:
// one method per catalog operation, each running the fetch-transform-commit
// pattern and applying the aggregate rules of its target type.
package library

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/catalog"
	"github.com/openshelf/catalogd/internal/domain"
)

// Service exposes catalog operations for books, users, images and collections.
type Service struct {
	repo *catalog.Repository
}

// NewService wires the service over a repository.
func NewService(repo *catalog.Repository) *Service {
	return &Service{repo: repo}
}

// Repository exposes the underlying repository for specialized callers.
func (s *Service) Repository() *catalog.Repository { return s.repo }

// --- books ---

// CreateBook commits a new book. Books are composites and are never created
// empty: at least one content is required.
func (s *Service) CreateBook(ctx context.Context, title string, authors, tags []string, contents []domain.BookContent, actor domain.Actor, reason string) (*domain.Book, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("%w: a book requires at least one content", catalog.ErrInvalidOperation)
	}
	book := domain.NewBook(title, authors, tags, contents)
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeBook, book.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CommitCreate(ctx, entry, book, actor, reason)
	if created == nil {
		return nil, err
	}
	return created.(*domain.Book), err
}

// GetBook loads the current state of a book.
func (s *Service) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeBook, id)
	if err != nil {
		return nil, err
	}
	if !entry.Exists() {
		return nil, catalog.ErrNotFound
	}
	return entry.Target.(*domain.Book), nil
}

// AddBookContent appends a content to a book. Concurrent adds each re-read
// the latest list before appending, so none is lost.
func (s *Service) AddBookContent(ctx context.Context, bookID uuid.UUID, content domain.BookContent, actor domain.Actor, reason string) (*domain.Book, error) {
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeBook, bookID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.Book).WithContent(content), nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.Book), err
}

// RemoveBookContent removes a content from a book. Removing the last content
// deletes the book wholesale: a live book never has zero contents. The
// returned book is nil when the cascade fired. Whether the content is the
// last one is re-checked against the freshly fetched list on every retry,
// because a concurrent add can change the answer between fetch and write.
func (s *Service) RemoveBookContent(ctx context.Context, bookID, contentID uuid.UUID, actor domain.Actor, reason string) (*domain.Book, error) {
	for attempt := 0; attempt < s.repo.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.repo.Fetch(ctx, domain.TargetTypeBook, bookID)
		if err != nil {
			return nil, err
		}
		if !entry.Exists() {
			return nil, catalog.ErrNotFound
		}
		book := entry.Target.(*domain.Book)
		next, found := book.WithoutContent(contentID)
		if !found {
			return nil, fmt.Errorf("%w: content %s in book %s", catalog.ErrNotFound, contentID, bookID)
		}
		if next.PartCount() == 0 {
			ok, err := s.repo.CommitDelete(ctx, entry, actor, reason)
			if err != nil {
				return nil, err
			}
			if ok {
				return nil, nil
			}
			continue
		}
		ok, err := s.repo.CommitUpdate(ctx, entry, next, actor, reason)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
	}
	return nil, fmt.Errorf("%w: remove content from book %s", catalog.ErrConflict, bookID)
}

// UpdateBookDetails replaces a book's descriptive fields. Nil slices leave
// the corresponding field untouched.
func (s *Service) UpdateBookDetails(ctx context.Context, bookID uuid.UUID, title *string, authors, tags []string, actor domain.Actor, reason string) (*domain.Book, error) {
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeBook, bookID, func(current domain.Target) (domain.Target, error) {
		book := current.(*domain.Book)
		next := *book
		next.Authors = append([]string(nil), book.Authors...)
		next.Tags = append([]string(nil), book.Tags...)
		next.Contents = append([]domain.BookContent(nil), book.Contents...)
		if title != nil {
			next.Title = *title
		}
		if authors != nil {
			next.Authors = append([]string(nil), authors...)
		}
		if tags != nil {
			next.Tags = append([]string(nil), tags...)
		}
		return &next, nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.Book), err
}

// DeleteBook deletes a book and all its contents in one Deletion commit.
func (s *Service) DeleteBook(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) error {
	return s.deleteTarget(ctx, domain.TargetTypeBook, id, actor, reason)
}

// --- users ---

// CreateUser commits a new user.
func (s *Service) CreateUser(ctx context.Context, name, displayName, role string, actor domain.Actor, reason string) (*domain.User, error) {
	user := domain.NewUser(name, displayName, role)
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeUser, user.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CommitCreate(ctx, entry, user, actor, reason)
	if created == nil {
		return nil, err
	}
	return created.(*domain.User), err
}

// GetUser loads the current state of a user.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeUser, id)
	if err != nil {
		return nil, err
	}
	if !entry.Exists() {
		return nil, catalog.ErrNotFound
	}
	return entry.Target.(*domain.User), nil
}

// RenameUser replaces a user's name.
func (s *Service) RenameUser(ctx context.Context, id uuid.UUID, name string, actor domain.Actor, reason string) (*domain.User, error) {
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeUser, id, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.User).WithName(name), nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.User), err
}

// DeleteUser deletes a user.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) error {
	return s.deleteTarget(ctx, domain.TargetTypeUser, id, actor, reason)
}

// --- images ---

// CreateImage commits a new image.
func (s *Service) CreateImage(ctx context.Context, title, fileKey string, width, height int, actor domain.Actor, reason string) (*domain.Image, error) {
	image := domain.NewImage(title, fileKey, width, height)
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeImage, image.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CommitCreate(ctx, entry, image, actor, reason)
	if created == nil {
		return nil, err
	}
	return created.(*domain.Image), err
}

// GetImage loads the current state of an image.
func (s *Service) GetImage(ctx context.Context, id uuid.UUID) (*domain.Image, error) {
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeImage, id)
	if err != nil {
		return nil, err
	}
	if !entry.Exists() {
		return nil, catalog.ErrNotFound
	}
	return entry.Target.(*domain.Image), nil
}

// RetagImage replaces an image's tags.
func (s *Service) RetagImage(ctx context.Context, id uuid.UUID, tags []string, actor domain.Actor, reason string) (*domain.Image, error) {
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeImage, id, func(current domain.Target) (domain.Target, error) {
		next := *current.(*domain.Image)
		next.Tags = append([]string(nil), tags...)
		return &next, nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.Image), err
}

// DeleteImage deletes an image.
func (s *Service) DeleteImage(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) error {
	return s.deleteTarget(ctx, domain.TargetTypeImage, id, actor, reason)
}

// --- collections ---

// CreateCollection commits a new collection.
func (s *Service) CreateCollection(ctx context.Context, name, description string, actor domain.Actor, reason string) (*domain.Collection, error) {
	collection := domain.NewCollection(name, description)
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeCollection, collection.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.CommitCreate(ctx, entry, collection, actor, reason)
	if created == nil {
		return nil, err
	}
	return created.(*domain.Collection), err
}

// GetCollection loads the current state of a collection.
func (s *Service) GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	entry, err := s.repo.Fetch(ctx, domain.TargetTypeCollection, id)
	if err != nil {
		return nil, err
	}
	if !entry.Exists() {
		return nil, catalog.ErrNotFound
	}
	return entry.Target.(*domain.Collection), nil
}

// AddBookToCollection appends a book reference. The book must currently
// exist; the reference is not cleaned up if the book is later deleted, since
// collections carry no cascade rule.
func (s *Service) AddBookToCollection(ctx context.Context, collectionID, bookID uuid.UUID, actor domain.Actor, reason string) (*domain.Collection, error) {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeCollection, collectionID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.Collection).WithBook(bookID), nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.Collection), err
}

// RemoveBookFromCollection drops a book reference. Collections stay live when
// empty.
func (s *Service) RemoveBookFromCollection(ctx context.Context, collectionID, bookID uuid.UUID, actor domain.Actor, reason string) (*domain.Collection, error) {
	updated, err := s.repo.RetryUpdate(ctx, domain.TargetTypeCollection, collectionID, func(current domain.Target) (domain.Target, error) {
		return current.(*domain.Collection).WithoutBook(bookID), nil
	}, actor, reason)
	if updated == nil {
		return nil, err
	}
	return updated.(*domain.Collection), err
}

// DeleteCollection deletes a collection.
func (s *Service) DeleteCollection(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) error {
	return s.deleteTarget(ctx, domain.TargetTypeCollection, id, actor, reason)
}

// --- history & rollback ---

// History searches history records across all targets.
func (s *Service) History(ctx context.Context, filter domain.SnapshotFilter, sortBy domain.SnapshotSort, page domain.Page) ([]domain.Snapshot, int, error) {
	return s.repo.History().Search(ctx, filter, sortBy, page)
}

// TargetHistory lists one target's records in version order.
func (s *Service) TargetHistory(ctx context.Context, targetType domain.TargetType, id uuid.UUID, page domain.Page) ([]domain.Snapshot, int, error) {
	return s.repo.History().TargetHistory(ctx, targetType, id, page)
}

// ValueAt previews the stored value of a history record without applying it.
func (s *Service) ValueAt(ctx context.Context, recordID uuid.UUID) (domain.Target, error) {
	return s.repo.History().ValueAt(ctx, recordID)
}

// Rollback restores a target to the state in a past history record.
func (s *Service) Rollback(ctx context.Context, targetType domain.TargetType, id, toRecordID uuid.UUID, actor domain.Actor, reason string) (domain.Target, error) {
	return s.repo.Rollback(ctx, targetType, id, toRecordID, actor, reason)
}

func (s *Service) deleteTarget(ctx context.Context, targetType domain.TargetType, id uuid.UUID, actor domain.Actor, reason string) error {
	for attempt := 0; attempt < s.repo.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := s.repo.Fetch(ctx, targetType, id)
		if err != nil {
			return err
		}
		if !entry.Exists() {
			return catalog.ErrNotFound
		}
		ok, err := s.repo.CommitDelete(ctx, entry, actor, reason)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: delete %s %s", catalog.ErrConflict, targetType, id)
}
