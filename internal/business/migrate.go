package business

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/openkcm/session-portal/internal/config"
	tokenstoresqlite "github.com/openkcm/session-portal/internal/tokenstore/sqlite"
	migrations "github.com/openkcm/session-portal/sql"
)

// MigrateMain applies the schema of the configured durable token store.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	switch cfg.TokenStore.Driver {
	case config.TokenStorePostgres:
		return migratePostgres(ctx, cfg)
	case config.TokenStoreSQLite:
		// Opening the store applies its migrations.
		store, err := tokenstoresqlite.Open(ctx, cfg.SQLite.Path, cfg.TokenStore.Profile)
		if err != nil {
			return fmt.Errorf("migrating sqlite token store: %w", err)
		}

		return store.Close()
	default:
		slogctx.Info(ctx, "Token store has no schema to migrate", "driver", cfg.TokenStore.Driver)
		return nil
	}
}

func migratePostgres(ctx context.Context, cfg *config.Config) error {
	const dialect = "pgx"
	dbSystemName := semconv.DBSystemNamePostgreSQL

	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	db, err := otelsql.Open(dialect, connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}

	defer func() {
		err = reg.Unregister()
		if err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	goose.SetBaseFS(migrations.PostgresFS)

	err = goose.SetDialect(dialect)
	if err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	err = goose.UpContext(ctx, db, migrations.PostgresDir)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
