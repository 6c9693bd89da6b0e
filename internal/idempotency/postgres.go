package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps records in the idempotency_keys table so every ledgerd
// instance behind a load balancer sees the same keys.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Acquire implements Store. The upsert only overwrites a row that has
// expired or whose lock is stale, so exactly one caller owns a fresh key.
func (s *PostgresStore) Acquire(ctx context.Context, rec *Record, lockTimeout time.Duration) (*Record, bool, error) {
	const q = `
		INSERT INTO idempotency_keys (key, fingerprint, locked_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET fingerprint = EXCLUDED.fingerprint,
		    locked_at = EXCLUDED.locked_at,
		    expires_at = EXCLUDED.expires_at,
		    completed_at = NULL, status = NULL, body = NULL
		WHERE idempotency_keys.expires_at < EXCLUDED.locked_at
		   OR (idempotency_keys.completed_at IS NULL AND idempotency_keys.locked_at < $5)
		RETURNING key`

	var key string
	err := s.db.QueryRow(ctx, q,
		rec.Key, rec.Fingerprint, rec.LockedAt, rec.ExpiresAt, rec.LockedAt.Add(-lockTimeout),
	).Scan(&key)
	switch {
	case err == nil:
		return rec.clone(), true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, fmt.Errorf("acquire idempotency key: %w", err)
	}

	cur, err := s.get(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (s *PostgresStore) get(ctx context.Context, key string) (*Record, error) {
	const q = `
		SELECT key, fingerprint, locked_at, completed_at, COALESCE(status, 0), COALESCE(body, ''::bytea), expires_at
		FROM idempotency_keys WHERE key = $1`

	r := &Record{}
	err := s.db.QueryRow(ctx, q, key).Scan(
		&r.Key, &r.Fingerprint, &r.LockedAt, &r.CompletedAt, &r.Status, &r.Body, &r.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return r, nil
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	const q = `UPDATE idempotency_keys SET completed_at = now(), status = $2, body = $3 WHERE key = $1`

	tag, err := s.db.Exec(ctx, q, key, status, body)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Clean implements Store.
func (s *PostgresStore) Clean(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("clean idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
