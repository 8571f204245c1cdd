package business

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-portal/internal/apiclient"
	"github.com/openkcm/session-portal/internal/business/server"
	"github.com/openkcm/session-portal/internal/config"
	"github.com/openkcm/session-portal/internal/identity"
	"github.com/openkcm/session-portal/internal/session"
	"github.com/openkcm/session-portal/internal/tokenstore"
	tokenstorememory "github.com/openkcm/session-portal/internal/tokenstore/memory"
	tokenstorepostgres "github.com/openkcm/session-portal/internal/tokenstore/postgres"
	tokenstoresqlite "github.com/openkcm/session-portal/internal/tokenstore/sqlite"
	tokenstorevalkey "github.com/openkcm/session-portal/internal/tokenstore/valkey"
)

// Main restores the stored session and serves the portal until ctx is done.
func Main(ctx context.Context, cfg *config.Config) error {
	csrfKey, err := commoncfg.LoadValueFromSourceRef(cfg.Portal.CSRFSecret)
	if err != nil {
		return fmt.Errorf("loading csrf secret from source ref: %w", err)
	}

	provider, err := identity.NewProvider(cfg.Identity)
	if err != nil {
		return fmt.Errorf("creating identity provider: %w", err)
	}

	store, closeFn, err := tokenStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}
	defer closeFn()

	api, err := apiclient.New(cfg.Backend, store)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	ctrl := session.NewController(cfg.Backend, store, api, provider)

	restored := ctrl.Restore(ctx)
	slogctx.Info(ctx, "Restored session", "status", restored.Status.String())

	portal, err := server.NewPortal(
		ctrl,
		session.NewCallbackHandler(ctrl, cfg.Portal),
		api,
		csrfKey,
		cfg.Portal.CSRFCookie,
	)
	if err != nil {
		return fmt.Errorf("creating portal: %w", err)
	}

	return server.StartHTTPServer(ctx, cfg, portal)
}

// LogoutMain clears the stored token pair and ends the backend session
// without a browser.
func LogoutMain(ctx context.Context, cfg *config.Config) error {
	store, closeFn, err := tokenStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}
	defer closeFn()

	api, err := apiclient.New(cfg.Backend, store)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	// The job never signs in, so it has no identity provider.
	ctrl := session.NewController(cfg.Backend, store, api, nil)

	nav := ctrl.SignOut(ctx)
	if lastErr := ctrl.Session().LastError; lastErr != nil {
		slogctx.Warn(ctx, "Backend logout failed, local tokens were cleared", "error", lastErr)
	}

	slogctx.Info(ctx, "Signed out", "next", nav.Target)

	return nil
}

// StatusMain runs the startup validation of the stored token pair and
// reports the resulting status. Rejected or expired pairs are cleared, as
// they would be when serving.
func StatusMain(ctx context.Context, cfg *config.Config) error {
	store, closeFn, err := tokenStoreFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}
	defer closeFn()

	api, err := apiclient.New(cfg.Backend, store)
	if err != nil {
		return fmt.Errorf("creating api client: %w", err)
	}

	restored := session.NewController(cfg.Backend, store, api, nil).Restore(ctx)

	attrs := []any{"status", restored.Status.String()}
	if restored.LastError != nil {
		attrs = append(attrs, "error", restored.LastError)
	}

	slogctx.Info(ctx, "Stored session", attrs...)

	return nil
}

func tokenStoreFromConfig(ctx context.Context, cfg *config.Config) (_ tokenstore.Store, closeFn func(), _ error) {
	profile := cfg.TokenStore.Profile

	switch cfg.TokenStore.Driver {
	case config.TokenStoreMemory:
		return tokenstorememory.NewStore(), func() {}, nil
	case config.TokenStoreSQLite:
		store, err := tokenstoresqlite.Open(ctx, cfg.SQLite.Path, profile)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite token store: %w", err)
		}

		return store, func() {
			if err := store.Close(); err != nil {
				slogctx.Error(ctx, "Failed to close sqlite token store", "error", err)
			}
		}, nil
	case config.TokenStorePostgres:
		db, err := pgxPoolFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		return tokenstorepostgres.NewStore(db, profile), db.Close, nil
	case config.TokenStoreValKey:
		client, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		return tokenstorevalkey.NewStore(client, cfg.ValKey.Prefix, profile), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown token store driver %q", cfg.TokenStore.Driver)
	}
}

func pgxPoolFromConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}

	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
