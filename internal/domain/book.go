package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookContent is a sub-entity of a book (one uploaded content item, e.g. a
// scanned volume or an epub file). Each content carries its own id, generated
// independently of the book and never reused.
type BookContent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	FileKey   string    `json:"file_key"`
	PageCount int       `json:"page_count,omitempty"`
}

// Book is a composite catalog object owning an ordered, non-empty list of
// contents. A live book always has at least one content; removing the last one
// deletes the book itself.
type Book struct {
	ID          uuid.UUID     `json:"id"`
	Title       string        `json:"title"`
	Authors     []string      `json:"authors,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Contents    []BookContent `json:"contents"`
	CreatedTime time.Time     `json:"created_time"`
	UpdatedTime time.Time     `json:"updated_time"`
}

// NewBook creates a book with an initial content list. Books are never created
// empty; the caller supplies at least one content.
func NewBook(title string, authors, tags []string, contents []BookContent) *Book {
	now := time.Now().UTC()
	return &Book{
		ID:          NewID(),
		Title:       title,
		Authors:     append([]string(nil), authors...),
		Tags:        append([]string(nil), tags...),
		Contents:    append([]BookContent(nil), contents...),
		CreatedTime: now,
		UpdatedTime: now,
	}
}

// NewBookContent creates a content sub-entity with a fresh id.
func NewBookContent(name, fileKey string, pageCount int) BookContent {
	return BookContent{ID: NewID(), Name: name, FileKey: fileKey, PageCount: pageCount}
}

func (b *Book) TargetID() uuid.UUID    { return b.ID }
func (b *Book) TargetType() TargetType { return TargetTypeBook }

// Touched returns a copy with UpdatedTime stamped.
func (b *Book) Touched(now time.Time) Target {
	clone := b.clone()
	clone.UpdatedTime = now
	return clone
}

// PartCount reports the number of owned contents.
func (b *Book) PartCount() int { return len(b.Contents) }

// WithContent returns a copy with the content appended.
func (b *Book) WithContent(content BookContent) *Book {
	clone := b.clone()
	clone.Contents = append(clone.Contents, content)
	return clone
}

// WithoutContent returns a copy with the content removed. The second return
// reports whether the content was present.
func (b *Book) WithoutContent(contentID uuid.UUID) (*Book, bool) {
	clone := b.clone()
	kept := clone.Contents[:0]
	found := false
	for _, content := range clone.Contents {
		if content.ID == contentID {
			found = true
			continue
		}
		kept = append(kept, content)
	}
	clone.Contents = kept
	return clone, found
}

// Content looks up an owned content by id.
func (b *Book) Content(contentID uuid.UUID) (BookContent, bool) {
	for _, content := range b.Contents {
		if content.ID == contentID {
			return content, true
		}
	}
	return BookContent{}, false
}

func (b *Book) clone() *Book {
	clone := *b
	clone.Authors = append([]string(nil), b.Authors...)
	clone.Tags = append([]string(nil), b.Tags...)
	clone.Contents = append([]BookContent(nil), b.Contents...)
	return &clone
}
