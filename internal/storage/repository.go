package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresBackend = "postgres"

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS documents (
        name       TEXT PRIMARY KEY,
        body       JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS records (
        collection TEXT NOT NULL,
        key        TEXT NOT NULL,
        body       JSONB NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (collection, key)
    );
    CREATE INDEX IF NOT EXISTS records_body_idx ON records USING GIN (body jsonb_path_ops);`

	loadDocumentSQL = `SELECT body FROM documents WHERE name = $1;`

	saveDocumentSQL = `INSERT INTO documents (name, body, updated_at)
    VALUES ($1, $2::jsonb, now())
    ON CONFLICT (name) DO UPDATE
    SET body       = EXCLUDED.body,
        updated_at = EXCLUDED.updated_at;`

	findRecordsSQL = `SELECT key, body
    FROM records
    WHERE collection = $1
      AND body @> $2::jsonb
    ORDER BY key COLLATE "C";`

	lockRecordsSQL = `SELECT key, body
    FROM records
    WHERE collection = $1
      AND body @> $2::jsonb
    ORDER BY key COLLATE "C"
    FOR UPDATE;`

	upsertRecordSQL = `INSERT INTO records (collection, key, body, updated_at)
    VALUES ($1, $2, $3::jsonb, now())
    ON CONFLICT (collection, key) DO UPDATE
    SET body       = EXCLUDED.body,
        updated_at = EXCLUDED.updated_at;`

	deleteRecordsSQL = `DELETE FROM records WHERE collection = $1 AND key = ANY($2);`
)

// PostgresStore implements Port on two JSONB tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Backend() string { return postgresBackend }

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr(postgresBackend, "migrate", "schema", err)
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return wrapErr(postgresBackend, "migrate", "schema", err)
	}
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LoadDocument implements Port.
func (s *PostgresStore) LoadDocument(ctx context.Context, name string, dst any) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, wrapErr(postgresBackend, "load", name, err)
	}

	var raw []byte
	if err := pool.QueryRow(ctx, loadDocumentSQL, name).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, wrapErr(postgresBackend, "load", name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, wrapErr(postgresBackend, "load", name, fmt.Errorf("corrupt document: %w", err))
	}
	return true, nil
}

// SaveDocument implements Port.
func (s *PostgresStore) SaveDocument(ctx context.Context, name string, doc any) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr(postgresBackend, "save", name, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return wrapErr(postgresBackend, "save", name, err)
	}
	if _, err := pool.Exec(ctx, saveDocumentSQL, name, string(raw)); err != nil {
		return wrapErr(postgresBackend, "save", name, err)
	}
	return nil
}

// Find implements Port.
func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrapErr(postgresBackend, "find", collection, err)
	}
	if err := filter.Validate(); err != nil {
		return nil, wrapErr(postgresBackend, "find", collection, err)
	}
	contains, err := containmentJSON(filter)
	if err != nil {
		return nil, wrapErr(postgresBackend, "find", collection, err)
	}

	rows, err := pool.Query(ctx, findRecordsSQL, collection, contains)
	if err != nil {
		return nil, wrapErr(postgresBackend, "find", collection, err)
	}
	records, err := scanRecords(rows, filter)
	if err != nil {
		return nil, wrapErr(postgresBackend, "find", collection, err)
	}
	return records, nil
}

// InsertMany implements Port. All records are written in one transaction.
func (s *PostgresStore) InsertMany(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return wrapErr(postgresBackend, "insert", collection, err)
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		if rec.Key == "" {
			return wrapErr(postgresBackend, "insert", collection, ErrEmptyKey)
		}
		raw, err := json.Marshal(rec.Body)
		if err != nil {
			return wrapErr(postgresBackend, "insert", collection, err)
		}
		batch.Queue(upsertRecordSQL, collection, rec.Key, string(raw))
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	return wrapErr(postgresBackend, "insert", collection, err)
}

// DeleteMany implements Port. Matching rows are locked before deletion so the
// predicate is evaluated against the rows actually removed.
func (s *PostgresStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, wrapErr(postgresBackend, "delete", collection, err)
	}
	if err := filter.Validate(); err != nil {
		return 0, wrapErr(postgresBackend, "delete", collection, err)
	}
	contains, err := containmentJSON(filter)
	if err != nil {
		return 0, wrapErr(postgresBackend, "delete", collection, err)
	}

	deleted := 0
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockRecordsSQL, collection, contains)
		if err != nil {
			return err
		}
		matched, err := scanRecords(rows, filter)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			return nil
		}
		keys := make([]string, len(matched))
		for i, rec := range matched {
			keys[i] = rec.Key
		}
		tag, err := tx.Exec(ctx, deleteRecordsSQL, collection, keys)
		if err != nil {
			return err
		}
		deleted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, wrapErr(postgresBackend, "delete", collection, err)
	}
	return deleted, nil
}

// Upsert implements Port.
func (s *PostgresStore) Upsert(ctx context.Context, collection, key string, body Body) error {
	if key == "" {
		return wrapErr(postgresBackend, "upsert", collection, ErrEmptyKey)
	}
	pool, err := s.getPool()
	if err != nil {
		return wrapErr(postgresBackend, "upsert", collection, err)
	}
	if body == nil {
		body = Body{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return wrapErr(postgresBackend, "upsert", collection, err)
	}
	if _, err := pool.Exec(ctx, upsertRecordSQL, collection, key, string(raw)); err != nil {
		return wrapErr(postgresBackend, "upsert", collection, err)
	}
	return nil
}

func scanRecords(rows pgx.Rows, filter Filter) ([]Record, error) {
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		body, err := decodeBody(raw)
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", key, err)
		}
		if filter.Match(body) {
			records = append(records, Record{Key: key, Body: body})
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// containmentJSON renders the equality conditions that jsonb containment
// evaluates exactly. Timestamps are left to Match because equal instants may
// be spelled differently.
func containmentJSON(filter Filter) (string, error) {
	pushed := make(map[string]any)
	for field, value := range filter.equalityFields() {
		switch v := value.(type) {
		case string:
			if _, err := time.Parse(time.RFC3339Nano, v); err == nil {
				continue
			}
		case []any, map[string]any:
			continue
		}
		pushed[field] = value
	}
	raw, err := json.Marshal(pushed)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

var _ Port = (*PostgresStore)(nil)
