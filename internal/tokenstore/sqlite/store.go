// Package tokenstoresqlite keeps the token pair in a local SQLite file, the
// closest match to a browser profile's local storage.
package tokenstoresqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	// Register the pure Go sqlite driver
	_ "modernc.org/sqlite"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/tokenstore"
	migrations "github.com/openkcm/session-portal/sql"
)

const driverName = "sqlite"

var dbSystemName = attribute.String("db.system.name", "sqlite")

type Store struct {
	db      *sql.DB
	reg     metric.Registration
	profile string
}

var _ tokenstore.Store = (*Store)(nil)

// Open opens or creates the database file at path and applies pending migrations.
func Open(ctx context.Context, path, profile string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := otelsql.Open(driverName, dsn, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("registering db stats metrics: %w", err), db.Close())
	}

	return &Store{
		db:      db,
		reg:     reg,
		profile: profile,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.SQLiteFS, migrations.SQLiteDir)
	if err != nil {
		return fmt.Errorf("opening migrations directory: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		slogctx.Debug(ctx, "Applied sqlite migration", "source", r.Source.Path, "duration", r.Duration)
	}

	return nil
}

func (s *Store) Close() error {
	return errors.Join(s.reg.Unregister(), s.db.Close())
}

func (s *Store) Save(ctx context.Context, pair tokenstore.TokenPair) error {
	if err := tokenstore.Validate(pair); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, kv := range [][2]string{
		{tokenstore.KeyAccess, pair.AccessToken},
		{tokenstore.KeyRefresh, pair.RefreshToken},
	} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO local_storage (profile, key, value, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (profile, key)
	DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
			s.profile, kv[0], kv[1],
		); err != nil {
			return fmt.Errorf("upserting %s into local_storage: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (s *Store) Load(ctx context.Context) (tokenstore.TokenPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value
FROM local_storage
WHERE profile = ?
	AND key IN (?, ?);`,
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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_storage
WHERE profile = ?
	AND key IN (?, ?);`,
		s.profile, tokenstore.KeyAccess, tokenstore.KeyRefresh,
	); err != nil {
		slogctx.Error(ctx, "Failed to clear the token pair", "profile", s.profile, "error", err)
	}
}
