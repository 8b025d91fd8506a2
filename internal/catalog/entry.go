package catalog

import (
	"github.com/google/uuid"

	"github.com/openshelf/catalogd/internal/docstore"
	"github.com/openshelf/catalogd/internal/domain"
)

// Entry is an in-memory handle bound to one fetch of a target: the value read
// (nil when absent) plus the revision token the store handed back. An Entry is
// single-use; after a commit attempt, conflict or not, the caller re-fetches.
type Entry struct {
	TargetType domain.TargetType
	ID         uuid.UUID
	Target     domain.Target
	Revision   docstore.Revision
}

// Exists reports whether the target held a value at fetch time.
func (e Entry) Exists() bool { return e.Target != nil }
