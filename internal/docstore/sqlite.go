package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"siraj/pkg/platform/sentinel"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (collection, id)
);
`

// SQLiteStore is the single-node backend. It holds one connection, so every
// read-modify-write transaction runs alone and ConditionalSet is atomic
// within the process; other processes get SQLITE_BUSY rather than a lost
// update.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping is the health check.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}
	doc, err := s.load(ctx, s.db, collection, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, sentinel.ErrNotFound
	}
	return doc, nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}
	return s.update(ctx, "sqlite set", collection, id, func(doc Document) (Document, error) {
		if doc == nil || !merge {
			doc = Document{}
		}
		mergeFields(doc, fields)
		return doc, nil
	})
}

func (s *SQLiteStore) ConditionalSet(ctx context.Context, collection, id string, data map[string]any, pre Precondition) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	fields, err := normalize(data)
	if err != nil {
		return err
	}
	return s.update(ctx, "sqlite conditional set", collection, id, func(doc Document) (Document, error) {
		if !pre.holds(doc) {
			return nil, sentinel.ErrConflict
		}
		if doc == nil {
			doc = Document{}
		}
		mergeFields(doc, fields)
		return doc, nil
	})
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return applyQuery(docs, q), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return unavailable("sqlite delete", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	if len(filters) == 0 {
		var n int
		if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM documents WHERE collection = ?`, collection); err != nil {
			return 0, unavailable("sqlite count", err)
		}
		return n, nil
	}
	docs, err := s.loadCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		if matchesAll(doc, filters) {
			n++
		}
	}
	return n, nil
}

// update runs mutate on the stored document (nil when missing) inside one
// transaction and writes back its result. An error from mutate aborts the
// write and is returned unchanged.
func (s *SQLiteStore) update(ctx context.Context, op, collection, id string, mutate func(Document) (Document, error)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := s.load(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	doc, err = mutate(doc)
	if err != nil {
		return err
	}
	delete(doc, FieldID)
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, collection, id, string(raw))
	if err != nil {
		return unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// load returns nil, nil when the document does not exist.
func (s *SQLiteStore) load(ctx context.Context, q sqlx.QueryerContext, collection, id string) (Document, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT id, data FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("sqlite get", err)
	}
	return row.document()
}

func (s *SQLiteStore) loadCollection(ctx context.Context, collection string) ([]Document, error) {
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, data FROM documents WHERE collection = ?`, collection); err != nil {
		return nil, unavailable("sqlite query", err)
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
