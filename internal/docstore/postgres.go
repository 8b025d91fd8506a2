package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents in a single JSONB table. Every conditional
// write is one statement, so the row-level atomicity of the database provides
// the compare-and-swap without explicit transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Get(ctx context.Context, docType string, id uuid.UUID) (*Document, error) {
	doc := Document{Type: docType, ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT value, revision, deleted, created_at, updated_at
		 FROM documents
		 WHERE doc_type = $1 AND doc_id = $2`,
		docType, id,
	).Scan(&doc.Value, &doc.Revision, &doc.Deleted, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s document %s: %w", docType, id, err)
	}
	if doc.Deleted {
		doc.Value = nil
	}
	return &doc, nil
}

func (s *PostgresStore) Put(ctx context.Context, docType string, id uuid.UUID, value json.RawMessage, expected Revision) (Revision, error) {
	var revision Revision
	var err error
	if expected == RevisionAbsent {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO documents (doc_type, doc_id, value, revision)
			 VALUES ($1, $2, $3, 1)
			 ON CONFLICT (doc_type, doc_id) DO NOTHING
			 RETURNING revision`,
			docType, id, value,
		).Scan(&revision)
	} else {
		// Writing at a tombstone's revision revives the document; the
		// revision sequence continues so ids derived from (type, id, version)
		// never collide across delete and re-create.
		err = s.pool.QueryRow(ctx,
			`UPDATE documents
			 SET value = $3, revision = revision + 1, deleted = FALSE, updated_at = now()
			 WHERE doc_type = $1 AND doc_id = $2 AND revision = $4
			 RETURNING revision`,
			docType, id, value, expected,
		).Scan(&revision)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRevisionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("failed to put %s document %s: %w", docType, id, err)
	}
	return revision, nil
}

func (s *PostgresStore) Delete(ctx context.Context, docType string, id uuid.UUID, expected Revision) (Revision, error) {
	var revision Revision
	err := s.pool.QueryRow(ctx,
		`UPDATE documents
		 SET deleted = TRUE, value = 'null'::jsonb, revision = revision + 1, updated_at = now()
		 WHERE doc_type = $1 AND doc_id = $2 AND revision = $3 AND NOT deleted
		 RETURNING revision`,
		docType, id, expected,
	).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRevisionMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s document %s: %w", docType, id, err)
	}
	return revision, nil
}

// fieldNamePattern restricts filterable/sortable field names to plain JSON
// keys; query fields come from internal callers, this guards against typos
// turning into SQL.
var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func fieldExpr(field string, kind FieldKind) (string, error) {
	if !fieldNamePattern.MatchString(field) {
		return "", fmt.Errorf("invalid query field %q", field)
	}
	expr := fmt.Sprintf("value->>'%s'", field)
	switch kind {
	case FieldKindTime:
		expr = "(" + expr + ")::timestamptz"
	case FieldKindNumber:
		expr = "(" + expr + ")::numeric"
	}
	return expr, nil
}

func (s *PostgresStore) Query(ctx context.Context, docType string, q Query) ([]Document, int, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT doc_id, value, revision, created_at, updated_at, COUNT(*) OVER() AS total_count FROM documents WHERE doc_type = $1 AND NOT deleted`)
	args = append(args, docType)

	if len(q.Equals) > 0 {
		match, err := json.Marshal(q.Equals)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal equals filter: %w", err)
		}
		args = append(args, match)
		fmt.Fprintf(&sb, " AND value @> $%d::jsonb", len(args))
	}
	if q.TimeRange != nil {
		expr, err := fieldExpr(q.TimeRange.Field, FieldKindTime)
		if err != nil {
			return nil, 0, err
		}
		if q.TimeRange.After != nil {
			args = append(args, *q.TimeRange.After)
			fmt.Fprintf(&sb, " AND %s >= $%d", expr, len(args))
		}
		if q.TimeRange.Until != nil {
			args = append(args, *q.TimeRange.Until)
			fmt.Fprintf(&sb, " AND %s <= $%d", expr, len(args))
		}
	}
	if q.Substring != nil && q.Substring.Substr != "" {
		expr, err := fieldExpr(q.Substring.Field, FieldKindString)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, "%"+escapeLike(q.Substring.Substr)+"%")
		fmt.Fprintf(&sb, " AND %s ILIKE $%d", expr, len(args))
	}

	sb.WriteString(" ORDER BY ")
	for _, key := range q.Sort {
		expr, err := fieldExpr(key.Field, key.Kind)
		if err != nil {
			return nil, 0, err
		}
		direction := "ASC"
		if key.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, "%s %s, ", expr, direction)
	}
	sb.WriteString("doc_id ASC")

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s documents: %w", docType, err)
	}
	defer rows.Close()

	var (
		docs  []Document
		total int
	)
	for rows.Next() {
		doc := Document{Type: docType}
		if err := rows.Scan(&doc.ID, &doc.Value, &doc.Revision, &doc.CreatedAt, &doc.UpdatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s document: %w", docType, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate %s documents: %w", docType, err)
	}
	return docs, total, nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
