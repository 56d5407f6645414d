package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"siraj/pkg/platform/sentinel"
)

// Schema is applied by Migrate. Documents live in one jsonb table keyed by
// (collection, id); merges rewrite only the touched top-level keys.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
`

// Postgres SQLSTATEs that mean "try the statement again".
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	maxSerializationRetry  = 3
)

// PostgresStore persists documents in a jsonb table. Field names are always
// bound as parameters, never interpolated.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the documents table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return unavailable("postgres migrate", err)
	}
	return nil
}

type documentRow struct {
	ID   string `db:"id"`
	Data []byte `db:"data"`
}

func (r documentRow) document() (Document, error) {
	doc := Document{}
	if err := json.Unmarshal(r.Data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", r.ID, err)
	}
	doc[FieldID] = r.ID
	return doc, nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	var row documentRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, data FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, unavailable("postgres get", err)
	}
	return row.document()
}

func (s *PostgresStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	payload, err := encodePayload(data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, jsonb_strip_nulls($3::jsonb))
		ON CONFLICT (collection, id) DO UPDATE SET
			data = jsonb_strip_nulls(EXCLUDED.data),
			updated_at = now()
	`
	if merge {
		query = `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, jsonb_strip_nulls($3::jsonb))
			ON CONFLICT (collection, id) DO UPDATE SET
				data = jsonb_strip_nulls(documents.data || $3::jsonb),
				updated_at = now()
		`
	}
	if _, err := s.db.ExecContext(ctx, query, collection, id, payload); err != nil {
		return unavailable("postgres set", err)
	}
	return nil
}

// ConditionalSet folds the precondition into the statement's WHERE clause so
// the check and the write happen under the same row lock. With only Absent
// fields it is an upsert (a missing document satisfies Absent); with Equals it
// is an UPDATE of an existing row. No returned row means the precondition failed.
func (s *PostgresStore) ConditionalSet(ctx context.Context, collection, id string, data map[string]any, pre Precondition) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	payload, err := encodePayload(data)
	if err != nil {
		return err
	}

	args := []any{collection, id, payload}
	var conds []string
	for _, field := range pre.Absent {
		args = append(args, field)
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"((documents.data -> $%d::text) IS NULL OR documents.data -> $%d::text = 'null'::jsonb)", n, n))
	}

	var query string
	if len(pre.Equals) == 0 {
		where := ""
		if len(conds) > 0 {
			where = "WHERE " + strings.Join(conds, " AND ")
		}
		query = fmt.Sprintf(`
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, jsonb_strip_nulls($3::jsonb))
			ON CONFLICT (collection, id) DO UPDATE SET
				data = jsonb_strip_nulls(documents.data || $3::jsonb),
				updated_at = now()
			%s
			RETURNING id
		`, where)
	} else {
		want, err := normalize(pre.Equals)
		if err != nil {
			return err
		}
		for field, v := range want {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode precondition %q: %w", field, err)
			}
			args = append(args, field, string(raw))
			n := len(args)
			conds = append(conds, fmt.Sprintf("documents.data -> $%d::text = $%d::jsonb", n-1, n))
		}
		query = fmt.Sprintf(`
			UPDATE documents SET
				data = jsonb_strip_nulls(documents.data || $3::jsonb),
				updated_at = now()
			WHERE collection = $1 AND id = $2 AND %s
			RETURNING id
		`, strings.Join(conds, " AND "))
	}

	for attempt := 0; ; attempt++ {
		var returned string
		err = s.db.QueryRowxContext(ctx, query, args...).Scan(&returned)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sql.ErrNoRows):
			return sentinel.ErrConflict
		case isRetryable(err) && attempt < maxSerializationRetry:
			continue
		default:
			return unavailable("postgres conditional set", err)
		}
	}
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	args := []any{collection}
	where := filterClause(q.Filters, &args)

	order := "id"
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		dir := "ASC NULLS FIRST"
		if q.Desc {
			dir = "DESC NULLS LAST"
		}
		order = fmt.Sprintf("data -> $%d::text %s, id", len(args), dir)
	}

	query := fmt.Sprintf(`SELECT id, data FROM documents WHERE collection = $1%s ORDER BY %s`, where, order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("postgres query", err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return unavailable("postgres delete", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	args := []any{collection}
	where := filterClause(filters, &args)

	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM documents WHERE collection = $1`+where, args...)
	if err != nil {
		return 0, unavailable("postgres count", err)
	}
	return n, nil
}

// filterClause renders filters as " AND ..." conditions, appending their
// parameters to args. A nil value compares against field absence.
func filterClause(filters []Filter, args *[]any) string {
	var b strings.Builder
	for _, f := range filters {
		*args = append(*args, f.Field)
		fieldArg := len(*args)

		if f.Value == nil {
			if f.Op == OpNotEqual {
				fmt.Fprintf(&b, " AND (data -> $%d::text) IS NOT NULL", fieldArg)
			} else {
				fmt.Fprintf(&b, " AND (data -> $%d::text) IS NULL", fieldArg)
			}
			continue
		}

		raw, _ := json.Marshal(f.Value)
		*args = append(*args, string(raw))
		valueArg := len(*args)
		if f.Op == OpNotEqual {
			fmt.Fprintf(&b, " AND (data -> $%d::text) IS DISTINCT FROM $%d::jsonb", fieldArg, valueArg)
		} else {
			fmt.Fprintf(&b, " AND data -> $%d::text = $%d::jsonb", fieldArg, valueArg)
		}
	}
	return b.String()
}

func encodePayload(data map[string]any) (string, error) {
	fields, err := normalize(data)
	if err != nil {
		return "", err
	}
	delete(fields, FieldID)
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}
