package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docsync/docsync/ot"
)

// PostgresStore is a Postgres-backed DocumentStore built on pgxpool. Callers
// are expected to have applied the schema in postgresSchema before use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// postgresSchema is the DDL a deployment applies before pointing docsyncd
// at a Postgres backend.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS operations (
	doc_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	ops     JSONB NOT NULL,
	PRIMARY KEY (doc_id, version)
);
`

// EnsureSchema applies postgresSchema, creating the documents and operations
// tables if they don't already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, id, content string) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, content, version, created_at, updated_at) VALUES ($1, $2, 0, $3, $3)`,
		id, content, now)
	if err != nil {
		return fmt.Errorf("document %q already exists or could not be created: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	var info DocumentInfo
	info.ID = id
	err := s.pool.QueryRow(ctx,
		`SELECT content, version, created_at, updated_at FROM documents WHERE id = $1`, id,
	).Scan(&info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, content, version, created_at, updated_at FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		if err := rows.Scan(&info.ID, &info.Content, &info.Version, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET content = $2, version = $3, updated_at = $4 WHERE id = $1`,
		id, content, version, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q not found", id)
	}
	return nil
}

func (s *PostgresStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("postgres store: encode operation for %q: %w", id, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET version = $2, updated_at = $3 WHERE id = $1`, id, version, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %q not found", id)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO operations (doc_id, version, ops) VALUES ($1, $2, $3)`, id, version, payload,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ops FROM operations WHERE doc_id = $1 AND version > $2 ORDER BY version ASC`, id, fromVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []ot.Operation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var op ot.Operation
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, fmt.Errorf("postgres store: decode operation for %q: %w", id, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
