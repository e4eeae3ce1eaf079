package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/zapiwoot/zapiwoot/internal/bridge"
	"github.com/zapiwoot/zapiwoot/internal/chatwoot"
	"github.com/zapiwoot/zapiwoot/internal/config"
	"github.com/zapiwoot/zapiwoot/internal/db"
	"github.com/zapiwoot/zapiwoot/internal/dedup"
	"github.com/zapiwoot/zapiwoot/internal/handlers"
	"github.com/zapiwoot/zapiwoot/internal/identity"
	"github.com/zapiwoot/zapiwoot/internal/logger"
	"github.com/zapiwoot/zapiwoot/internal/server"
	"github.com/zapiwoot/zapiwoot/internal/zapi"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			providePool,
			provideMappingStore,
			provideDedupStore,
			provideIdentityService,
			provideDedupEngine,
			provideZAPIClient,
			provideChatwootClient,
			provideResolver,
			provideBridge,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startDedupJanitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// providePool connects Postgres when it is configured; otherwise the
// bridge runs on in-memory stores and the pool is nil.
func providePool(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	if !cfg.Postgres.Enabled() {
		log.Warn("postgres not configured, mappings and dedup state are in-memory only")
		return nil, nil
	}
	if err := db.Migrate(log, cfg.Postgres); err != nil {
		return nil, err
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideMappingStore(pool *pgxpool.Pool) identity.MappingStore {
	if pool == nil {
		return identity.NewMemoryStore()
	}
	return identity.NewPGStore(pool)
}

func provideDedupStore(pool *pgxpool.Pool) dedup.Store {
	if pool == nil {
		return dedup.NewMemoryStore()
	}
	return dedup.NewPGStore(pool)
}

func provideIdentityService(log *slog.Logger, cfg config.Config, store identity.MappingStore) *identity.Service {
	return identity.NewService(log, identity.NewNormalizer(cfg.Bridge.CountryCode), store)
}

func provideDedupEngine(log *slog.Logger, cfg config.Config, store dedup.Store) (*dedup.Engine, error) {
	ttl, err := time.ParseDuration(cfg.Bridge.DedupTTL)
	if err != nil {
		return nil, fmt.Errorf("bridge.dedup_ttl: %w", err)
	}
	return dedup.NewEngine(log, store, ttl), nil
}

func provideZAPIClient(log *slog.Logger, cfg config.Config) *zapi.Client {
	return zapi.NewClient(log, cfg.ZAPI.BaseURL, cfg.ZAPI.InstanceID, cfg.ZAPI.Token, cfg.ZAPI.SecurityToken)
}

func provideChatwootClient(log *slog.Logger, cfg config.Config) *chatwoot.Client {
	return chatwoot.NewClient(log, cfg.Chatwoot.BaseURL, cfg.Chatwoot.APIToken, cfg.Chatwoot.AccountID)
}

func provideResolver(log *slog.Logger, cfg config.Config, client *chatwoot.Client, gateway *zapi.Client, ids *identity.Service) (*chatwoot.Resolver, error) {
	backoff, err := time.ParseDuration(cfg.Bridge.RetryBackoff)
	if err != nil {
		return nil, fmt.Errorf("bridge.retry_backoff: %w", err)
	}
	retry := chatwoot.NewRetryPolicy(cfg.Bridge.RetryAttempts, backoff)
	return chatwoot.NewResolver(log, client, gateway, ids.Normalizer(), cfg.Chatwoot.InboxID, retry), nil
}

func provideBridge(log *slog.Logger, cfg config.Config, gateway *zapi.Client, inbox *chatwoot.Client, resolver *chatwoot.Resolver, ids *identity.Service, deduper *dedup.Engine) *bridge.Bridge {
	return bridge.New(log, gateway, inbox, resolver, ids, deduper, bridge.Options{
		MediaDelay: time.Duration(cfg.Bridge.MediaDelayMs) * time.Millisecond,
	})
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, b *bridge.Bridge) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, b, cfg.ZAPI.SecurityToken)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.Handlers)
}

// startDedupJanitor sweeps expired dedup records hourly, in addition to
// the opportunistic sweep the engine does on every insert.
func startDedupJanitor(lc fx.Lifecycle, log *slog.Logger, engine *dedup.Engine) {
	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := engine.Sweep(ctx)
		if err != nil {
			log.Warn("dedup janitor sweep failed", slog.Any("error", err))
			return
		}
		if removed > 0 {
			log.Info("dedup janitor swept records", slog.Int("removed", removed))
		}
	})
	if err != nil {
		log.Error("dedup janitor schedule invalid", slog.Any("error", err))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { c.Start(); return nil },
		OnStop: func(ctx context.Context) error {
			stopped := c.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
