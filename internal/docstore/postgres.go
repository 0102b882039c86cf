// internal/docstore/postgres.go
package docstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool (or pgx.Tx) the Postgres store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps every collection in one JSONB table created by the
// migrations in migrations/. Filters use JSONB containment (@>), which is
// equality for scalar values only: an array filter value matches any
// document array holding those elements, and an object value matches any
// superset object.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore wraps an open pool. The pool stays owned by the caller.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const ensureCollection = `INSERT INTO collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`

const insertDocument = `
WITH c AS (
    INSERT INTO collections (name) VALUES ($2) ON CONFLICT (name) DO NOTHING
)
INSERT INTO documents (id, collection, body) VALUES ($1, $2, $3::jsonb)`

const findDocuments = `
SELECT id, body FROM documents
WHERE collection = $1 AND body @> $2::jsonb
ORDER BY seq`

const replaceDocument = `
UPDATE documents d SET body = $3::jsonb
FROM (
    SELECT seq, body FROM documents
    WHERE collection = $1 AND body @> $2::jsonb
    ORDER BY seq
    LIMIT 1
    FOR UPDATE
) prev
WHERE d.seq = prev.seq
RETURNING d.id, prev.body`

const deleteDocument = `
DELETE FROM documents
WHERE seq = (
    SELECT seq FROM documents
    WHERE collection = $1 AND body @> $2::jsonb
    ORDER BY seq
    LIMIT 1
    FOR UPDATE
)
RETURNING id, body`

const deleteDocuments = `DELETE FROM documents WHERE collection = $1 AND body @> $2::jsonb`

func (s *PostgresStore) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, ensureCollection, name)
	return err
}

func (s *PostgresStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	id := newID(doc)
	body, err := encodeBody(doc)
	if err != nil {
		return "", err
	}
	if _, err := s.db.Exec(ctx, insertDocument, id, collection, body); err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter) ([]Document, error) {
	cond, err := encodeFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, findDocuments, collection, cond)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Document{}
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		doc, err := decodeRow(id, body)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *PostgresStore) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	cond, err := encodeFilter(filter)
	if err != nil {
		return nil, err
	}
	body, err := encodeBody(doc)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, replaceDocument, collection, cond, body)
}

func (s *PostgresStore) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (Document, error) {
	cond, err := encodeFilter(filter)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, deleteDocument, collection, cond)
}

func (s *PostgresStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error) {
	cond, err := encodeFilter(filter)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, deleteDocuments, collection, cond)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is closed by whoever opened it.
func (s *PostgresStore) Close() error { return nil }

// queryOne runs a single-document statement. Under READ COMMITTED the
// FOR UPDATE subselect yields no row when the row it waited on was deleted
// by a concurrent writer, even if other matches remain, so an empty result
// is retried once against a fresh snapshot.
func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (Document, error) {
	doc, err := s.scanOne(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNoDocuments) {
		doc, err = s.scanOne(s.db.QueryRow(ctx, query, args...))
	}
	return doc, err
}

func (s *PostgresStore) scanOne(row pgx.Row) (Document, error) {
	var (
		id   string
		body []byte
	)
	if err := row.Scan(&id, &body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoDocuments
		}
		return nil, err
	}
	return decodeRow(id, body)
}

// encodeBody serialises doc without its id; the id lives in its own column.
func encodeBody(doc Document) (string, error) {
	body := make(Document, len(doc))
	for k, v := range doc {
		if k != IDField {
			body[k] = v
		}
	}
	data, err := encode(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeFilter(filter Filter) (string, error) {
	if filter == nil {
		filter = Filter{}
	}
	data, err := encode(Document(filter))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRow(id string, body []byte) (Document, error) {
	doc, err := decode(body)
	if err != nil {
		return nil, err
	}
	doc[IDField] = id
	return doc, nil
}
