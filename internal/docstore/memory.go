package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory store for tests and ephemeral
// environments. It implements the same conditional-write semantics as the
// Postgres store, including revision conflicts under concurrent writers.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[uuid.UUID]*memoryDocument
}

type memoryDocument struct {
	value     json.RawMessage
	revision  Revision
	deleted   bool
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]map[uuid.UUID]*memoryDocument{}}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, docType string, id uuid.UUID) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docType][id]
	if !ok {
		return nil, nil
	}
	return s.export(docType, id, doc), nil
}

func (s *MemoryStore) Put(ctx context.Context, docType string, id uuid.UUID, value json.RawMessage, expected Revision) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.docs[docType]
	if !ok {
		byID = map[uuid.UUID]*memoryDocument{}
		s.docs[docType] = byID
	}

	now := time.Now().UTC()
	existing, exists := byID[id]
	if expected == RevisionAbsent {
		if exists {
			return 0, ErrRevisionMismatch
		}
		byID[id] = &memoryDocument{
			value:     append(json.RawMessage(nil), value...),
			revision:  1,
			createdAt: now,
			updatedAt: now,
		}
		return 1, nil
	}
	if !exists || existing.revision != expected {
		return 0, ErrRevisionMismatch
	}
	// Writing at a tombstone's revision revives the document; the revision
	// sequence continues across delete and re-create.
	existing.value = append(json.RawMessage(nil), value...)
	existing.revision++
	existing.deleted = false
	existing.updatedAt = now
	return existing.revision, nil
}

func (s *MemoryStore) Delete(ctx context.Context, docType string, id uuid.UUID, expected Revision) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.docs[docType][id]
	if !exists || existing.deleted || existing.revision != expected {
		return 0, ErrRevisionMismatch
	}
	existing.deleted = true
	existing.value = nil
	existing.revision++
	existing.updatedAt = time.Now().UTC()
	return existing.revision, nil
}

func (s *MemoryStore) Query(ctx context.Context, docType string, q Query) ([]Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	equals, err := normalizeEquals(q.Equals)
	if err != nil {
		return nil, 0, err
	}

	var matched []Document
	for id, doc := range s.docs[docType] {
		if doc.deleted {
			continue
		}
		fields := map[string]any{}
		if err := json.Unmarshal(doc.value, &fields); err != nil {
			return nil, 0, fmt.Errorf("failed to decode %s document %s: %w", docType, id, err)
		}
		if !matchesQuery(fields, equals, q) {
			continue
		}
		matched = append(matched, *s.export(docType, id, doc))
	}

	sortDocuments(matched, q.Sort)

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) export(docType string, id uuid.UUID, doc *memoryDocument) *Document {
	out := &Document{
		Type:      docType,
		ID:        id,
		Revision:  doc.revision,
		Deleted:   doc.deleted,
		CreatedAt: doc.createdAt,
		UpdatedAt: doc.updatedAt,
	}
	if !doc.deleted {
		out.Value = append(json.RawMessage(nil), doc.value...)
	}
	return out
}

// normalizeEquals round-trips expected values through JSON so comparisons use
// the same representation as the decoded documents.
func normalizeEquals(equals map[string]any) (map[string]any, error) {
	if len(equals) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(equals)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal equals filter: %w", err)
	}
	normalized := map[string]any{}
	if err := json.Unmarshal(data, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize equals filter: %w", err)
	}
	return normalized, nil
}

func matchesQuery(fields map[string]any, equals map[string]any, q Query) bool {
	for key, want := range equals {
		got, ok := fields[key]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	if q.TimeRange != nil {
		ts, ok := fieldTime(fields, q.TimeRange.Field)
		if !ok {
			return false
		}
		if q.TimeRange.After != nil && ts.Before(*q.TimeRange.After) {
			return false
		}
		if q.TimeRange.Until != nil && ts.After(*q.TimeRange.Until) {
			return false
		}
	}
	if q.Substring != nil && q.Substring.Substr != "" {
		raw, _ := fields[q.Substring.Field].(string)
		if !strings.Contains(strings.ToLower(raw), strings.ToLower(q.Substring.Substr)) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ab) == string(bb)
}

func fieldTime(fields map[string]any, field string) (time.Time, bool) {
	raw, _ := fields[field].(string)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func sortDocuments(docs []Document, keys []SortKey) {
	sort.Slice(docs, func(i, j int) bool {
		var fi, fj map[string]any
		_ = json.Unmarshal(docs[i].Value, &fi)
		_ = json.Unmarshal(docs[j].Value, &fj)
		for _, key := range keys {
			cmp := compareField(fi[key.Field], fj[key.Field], key.Kind)
			if cmp == 0 {
				continue
			}
			if key.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return strings.Compare(docs[i].ID.String(), docs[j].ID.String()) < 0
	})
}

func compareField(a, b any, kind FieldKind) int {
	switch kind {
	case FieldKindTime:
		ta, okA := parseAnyTime(a)
		tb, okB := parseAnyTime(b)
		switch {
		case !okA && !okB:
			return 0
		case !okA:
			return -1
		case !okB:
			return 1
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		}
		return 0
	case FieldKindNumber:
		na, _ := a.(float64)
		nb, _ := b.(float64)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	default:
		sa, _ := a.(string)
		sb, _ := b.(string)
		return strings.Compare(sa, sb)
	}
}

func parseAnyTime(v any) (time.Time, bool) {
	raw, _ := v.(string)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
