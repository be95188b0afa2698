package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/core"
	redismailbox "github.com/vovakirdan/parcelchat-server/internal/mailbox/redis"
	"github.com/vovakirdan/parcelchat-server/internal/store"
	"github.com/vovakirdan/parcelchat-server/internal/store/postgres"
	"github.com/vovakirdan/parcelchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/parcelchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	redis           *goredis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	mailbox, err := a.openMailbox(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	authService := auth.NewService(st, JWTConfig(cfg))

	a.hub = core.NewHub(st, mailbox, core.Options{
		PersistTimeout: cfg.PersistTimeout,
		HistoryLimit:   cfg.HistoryLimit,
	}, logger)
	a.server = transporthttp.NewServer(a.hub, authService, st, cfg, logger)

	return a, nil
}

// OpenStore connects to the configured database and applies the schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.DatabaseDriver {
	case config.DatabasePostgres:
		st, err = postgres.New(ctx, cfg.DatabaseURL)
	default:
		st, err = sqlite.New(cfg.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("database initialized")
	return st, nil
}

// JWTConfig builds token settings from configuration.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
}

func (a *App) openMailbox(ctx context.Context, cfg *config.Config) (core.Mailbox, error) {
	if cfg.MailboxBackend != config.MailboxRedis {
		a.log.Info().Msg("using in-memory mailbox")
		return core.NewMemoryMailbox(), nil
	}

	client, err := redismailbox.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init redis mailbox: %w", err)
	}
	a.redis = client
	a.log.Info().Dur("ttl", cfg.MailboxTTL).Msg("using redis mailbox")
	return redismailbox.New(client, redismailbox.Options{TTL: cfg.MailboxTTL}, a.log), nil
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
