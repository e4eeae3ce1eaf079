package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a Store backed by Postgres, for deployments where several
// bridge replicas must share one dedup window. The unique key constraint
// makes Remember atomic across processes.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Remember(ctx context.Context, key string, firstSeen time.Time, snapshot []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dedup_records (key, first_seen_at, snapshot)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO NOTHING`,
		key, firstSeen, snapshot)
	if err != nil {
		return false, fmt.Errorf("remember dedup key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Forget(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM dedup_records WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("forget dedup key: %w", err)
	}
	return nil
}

func (s *PGStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dedup_records WHERE first_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep dedup records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
