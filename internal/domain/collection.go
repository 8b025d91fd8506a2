package domain

import (
	"time"

	"github.com/google/uuid"
)

// Collection groups books by reference. Member books can disappear
// independently; a collection stays live even when its member list is empty,
// so it carries no cascade rule.
type Collection struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	BookIDs     []uuid.UUID `json:"book_ids,omitempty"`
	CreatedTime time.Time   `json:"created_time"`
	UpdatedTime time.Time   `json:"updated_time"`
}

// NewCollection creates a collection with a fresh id.
func NewCollection(name, description string) *Collection {
	now := time.Now().UTC()
	return &Collection{
		ID:          NewID(),
		Name:        name,
		Description: description,
		CreatedTime: now,
		UpdatedTime: now,
	}
}

func (c *Collection) TargetID() uuid.UUID    { return c.ID }
func (c *Collection) TargetType() TargetType { return TargetTypeCollection }

func (c *Collection) Touched(now time.Time) Target {
	clone := c.clone()
	clone.UpdatedTime = now
	return clone
}

// WithBook returns a copy with the book id appended if not already present.
func (c *Collection) WithBook(bookID uuid.UUID) *Collection {
	clone := c.clone()
	for _, id := range clone.BookIDs {
		if id == bookID {
			return clone
		}
	}
	clone.BookIDs = append(clone.BookIDs, bookID)
	return clone
}

// WithoutBook returns a copy with the book id removed.
func (c *Collection) WithoutBook(bookID uuid.UUID) *Collection {
	clone := c.clone()
	kept := clone.BookIDs[:0]
	for _, id := range clone.BookIDs {
		if id != bookID {
			kept = append(kept, id)
		}
	}
	clone.BookIDs = kept
	return clone
}

func (c *Collection) clone() *Collection {
	clone := *c
	clone.BookIDs = append([]uuid.UUID(nil), c.BookIDs...)
	return &clone
}
