package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const entryColumns = `seq, previous_hash, payload_hash, entry_hash, ts_unix_nano, signer_id, action, payload`

// PostgresStore persists the chain to the ledger_entries table.
//
// Append is a single conditional INSERT: the row is written only if its
// predecessor exists with the declared hash (or it is sequence 0 chained to
// GenesisHash) and no row already holds its sequence. Concurrent writers on
// the same tail therefore cannot both succeed, across any number of
// processes, without an explicit lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries ORDER BY seq DESC LIMIT 1`,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		 SELECT $1::bigint, $2::text, $3::text, $4::text, $5::bigint, $6::text, $7::text, $8::bytea
		 WHERE ($1::bigint = 0 AND $2::text = $9::text)
		    OR EXISTS (
		        SELECT 1 FROM ledger_entries
		        WHERE seq = $1::bigint - 1 AND entry_hash = $2::text
		    )
		 ON CONFLICT DO NOTHING`,
		e.Sequence, e.PreviousHash, e.PayloadHash, e.Hash,
		e.Timestamp.UnixNano(), e.SignerID, string(e.Action), []byte(e.Payload),
		GenesisHash,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("conditional ledger insert rejected", zap.Int64("seq", e.Sequence))
		return ErrChainConflict
	}
	return nil
}

// ByHash implements Store.
func (s *PostgresStore) ByHash(ctx context.Context, hash string) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE entry_hash = $1`, hash,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get ledger entry %s: %w", hash, err)
	}
	return e, err
}

// BySequence implements Store.
func (s *PostgresStore) BySequence(ctx context.Context, seq int64) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE seq = $1`, seq,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get ledger entry %d: %w", seq, err)
	}
	return e, err
}

// Range implements Store.
func (s *PostgresStore) Range(ctx context.Context, from, to int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE seq BETWEEN $1 AND $2
		 ORDER BY seq ASC
		 LIMIT $3`,
		from, to, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*Entry, error) {
		return scanEntry(r)
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger rows: %w", err)
	}
	return out, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		nanos  int64
		action string
		data   []byte
	)
	if err := row.Scan(
		&e.Sequence, &e.PreviousHash, &e.PayloadHash, &e.Hash,
		&nanos, &e.SignerID, &action, &data,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Timestamp = time.Unix(0, nanos).UTC()
	e.Action = Action(action)
	e.Payload = data
	return &e, nil
}
