package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is a MappingStore backed by Postgres. The table is created by
// the embedded migrations in internal/db.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) FindByPhone(ctx context.Context, phone string) (Mapping, error) {
	return s.scanOne(ctx,
		`SELECT phone, lid, display_name, avatar_url, updated_at
		   FROM identity_mappings WHERE phone = $1`, phone)
}

func (s *PGStore) FindByLID(ctx context.Context, lid string) (Mapping, error) {
	if lid == "" {
		return Mapping{}, ErrMappingNotFound
	}
	return s.scanOne(ctx,
		`SELECT phone, lid, display_name, avatar_url, updated_at
		   FROM identity_mappings WHERE lid = $1 LIMIT 1`, lid)
}

func (s *PGStore) Upsert(ctx context.Context, m Mapping) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_mappings (phone, lid, display_name, avatar_url, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (phone) DO UPDATE SET
		   lid          = COALESCE(NULLIF(EXCLUDED.lid, ''), identity_mappings.lid),
		   display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), identity_mappings.display_name),
		   avatar_url   = COALESCE(NULLIF(EXCLUDED.avatar_url, ''), identity_mappings.avatar_url),
		   updated_at   = now()`,
		m.Phone, m.LID, m.DisplayName, m.AvatarURL)
	if err != nil {
		return fmt.Errorf("upsert identity mapping: %w", err)
	}
	return nil
}

func (s *PGStore) ClearLID(ctx context.Context, lid string) error {
	if lid == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE identity_mappings SET lid = '', updated_at = now() WHERE lid = $1`, lid)
	if err != nil {
		return fmt.Errorf("clear lid: %w", err)
	}
	return nil
}

func (s *PGStore) scanOne(ctx context.Context, query, arg string) (Mapping, error) {
	var m Mapping
	row := s.pool.QueryRow(ctx, query, arg)
	err := row.Scan(&m.Phone, &m.LID, &m.DisplayName, &m.AvatarURL, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrMappingNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("query identity mapping: %w", err)
	}
	return m, nil
}
