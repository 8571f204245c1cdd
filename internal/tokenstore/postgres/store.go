package tokenstorepostgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/tokenstore"
)

type Store struct {
	db      *pgxpool.Pool
	profile string
}

var _ tokenstore.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool, profile string) *Store {
	return &Store{
		db:      db,
		profile: profile,
	}
}

func (s *Store) Save(ctx context.Context, pair tokenstore.TokenPair) error {
	if err := tokenstore.Validate(pair); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := new(pgx.Batch)
	for key, value := range map[string]string{
		tokenstore.KeyAccess:  pair.AccessToken,
		tokenstore.KeyRefresh: pair.RefreshToken,
	} {
		b.Queue(`INSERT INTO local_storage (profile, key, value, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (profile, key)
	DO UPDATE SET (value, updated_at) = (EXCLUDED.value, EXCLUDED.updated_at);`,
			s.profile, key, value,
		)
	}

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upserting into local_storage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (s *Store) Load(ctx context.Context) (tokenstore.TokenPair, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value
FROM local_storage
WHERE profile = $1
	AND key IN ($2, $3);`,
		s.profile, tokenstore.KeyAccess, tokenstore.KeyRefresh,
	)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("selecting from local_storage: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]string, 2)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return tokenstore.TokenPair{}, fmt.Errorf("scanning local_storage row: %w", err)
		}

		entries[key] = value
	}

	if err := rows.Err(); err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("iterating local_storage rows: %w", err)
	}

	return tokenstore.FromEntries(entries)
}

func (s *Store) Clear(ctx context.Context) {
	if _, err := s.db.Exec(ctx, `DELETE FROM local_storage
WHERE profile = $1
	AND key IN ($2, $3);`,
		s.profile, tokenstore.KeyAccess, tokenstore.KeyRefresh,
	); err != nil {
		slogctx.Error(ctx, "Failed to clear the token pair", "profile", s.profile, "error", err)
	}
}
