package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS speech_sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			error_class TEXT NOT NULL DEFAULT '',
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			locale TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			redactions TEXT[],
			created_at TIMESTAMPTZ NOT NULL,
			activated_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_speech_sessions_kind_ended ON speech_sessions (kind, ended_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	var activated *time.Time
	if !r.ActivatedAt.IsZero() {
		activated = &r.ActivatedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO speech_sessions
			(id, kind, state, error, error_class, forced, locale, text, pii_redacted, redactions, created_at, activated_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Kind, r.State, r.Error, r.ErrorClass, r.Forced, r.Locale, r.Text, r.PIIRedacted,
		r.Redactions, r.CreatedAt, activated, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, state, error, error_class, forced, locale, text, pii_redacted, redactions, created_at, activated_at, ended_at
		 FROM speech_sessions
		 WHERE $1 = '' OR kind = $1
		 ORDER BY ended_at DESC LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		var activated *time.Time
		err := row.Scan(&r.ID, &r.Kind, &r.State, &r.Error, &r.ErrorClass, &r.Forced, &r.Locale, &r.Text,
			&r.PIIRedacted, &r.Redactions, &r.CreatedAt, &activated, &r.EndedAt)
		if activated != nil {
			r.ActivatedAt = *activated
		}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan session records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
