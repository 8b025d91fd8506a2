// Package docstore provides the versioned document primitives the catalog is
// built on: typed JSON documents addressed by (type, id), conditional writes
// keyed on an opaque revision, and a filtered query. The store's
// compare-and-swap is the only source of mutual exclusion in the system; there
// are no transactions across documents.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Revision is the opaque version token returned alongside every read. A write
// carrying a stale revision is rejected atomically. Revisions are not
// comparable across different documents.
//
// The revision sequence of a document is a total order over its whole
// lifetime: deletion leaves a hidden tombstone, so re-creating a document at
// the same id continues the sequence instead of restarting it.
type Revision int64

// RevisionAbsent is the expected revision for a write that must create the
// document (must-not-exist semantics).
const RevisionAbsent Revision = 0

// ErrRevisionMismatch reports that a conditional write lost the race: the
// document's revision no longer matches what the caller read (or the document
// exists when the caller required absence, or vice versa).
var ErrRevisionMismatch = errors.New("document revision mismatch")

// Document is one stored value plus its version metadata. A deleted document
// surfaces as a tombstone: Deleted true, no value, revision still advancing.
type Document struct {
	Type      string
	ID        uuid.UUID
	Value     json.RawMessage
	Revision  Revision
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FieldKind tells the store how to interpret a document field for range
// filtering and ordering.
type FieldKind int

const (
	FieldKindString FieldKind = iota
	FieldKindTime
	FieldKindNumber
)

// TimeRange bounds a time-valued field. Either bound may be nil.
type TimeRange struct {
	Field string
	After *time.Time
	Until *time.Time
}

// SubstringMatch filters on a case-insensitive substring of a string field.
type SubstringMatch struct {
	Field  string
	Substr string
}

// SortKey orders results by one document field. Results are always further
// ordered by document id so pagination is deterministic under ties.
type SortKey struct {
	Field string
	Kind  FieldKind
	Desc  bool
}

// Query filters and pages documents of one type.
type Query struct {
	Equals    map[string]any
	TimeRange *TimeRange
	Substring *SubstringMatch
	Sort      []SortKey
	Offset    int
	Limit     int
}

// Store is the narrow surface consumed by the versioned repository. All writes
// are conditional; unlimited concurrent callers are safe.
type Store interface {
	// Get reads the current value and revision. Absence is not an error: the
	// returned document is nil for ids never written, and a tombstone
	// (Deleted true) for deleted ones so callers can continue the revision
	// sequence when re-creating.
	Get(ctx context.Context, docType string, id uuid.UUID) (*Document, error)

	// Put writes value if the stored revision equals expected. Pass
	// RevisionAbsent to require that the document has never existed. A Put at
	// a tombstone's revision revives the document. Returns the new revision,
	// or ErrRevisionMismatch.
	Put(ctx context.Context, docType string, id uuid.UUID, value json.RawMessage, expected Revision) (Revision, error)

	// Delete removes the document if the stored revision equals expected,
	// leaving a tombstone that keeps the revision sequence advancing. Returns
	// the tombstone's revision, or ErrRevisionMismatch when the revision is
	// stale or the document is already gone.
	Delete(ctx context.Context, docType string, id uuid.UUID, expected Revision) (Revision, error)

	// Query returns one page of matching documents plus the total match count.
	Query(ctx context.Context, docType string, q Query) ([]Document, int, error)
}
