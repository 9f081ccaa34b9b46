// Command storefront-sync keeps a storefront session warm: it restores the
// persisted login, loads the cart and order counts, resyncs them on an interval
// and exposes health and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/app"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/config"
	"github.com/mallfront/storefront-client/internal/infrastructure/db/memory"
	"github.com/mallfront/storefront-client/internal/infrastructure/db/redis"
	ophttp "github.com/mallfront/storefront-client/internal/infrastructure/http"
	"github.com/mallfront/storefront-client/internal/infrastructure/queue"
	"github.com/mallfront/storefront-client/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		boot := logger.Init(logger.Options{Pretty: true})
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.Pretty(),
		Service: "storefront-sync",
	})

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("storefront-sync stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	var (
		rdb   *goredis.Client
		store ports.SessionStore
		dedup ports.CallbackDedup
	)
	if cfg.Redis.Addr != "" {
		client, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client
		store = redis.NewSessionStore(client, cfg.Session.Key, cfg.Session.TTL)
		dedup = redis.NewCallbackDedup(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("session store: redis")
	} else {
		store = memory.NewSessionStore()
		dedup = memory.NewCallbackDedup(24 * time.Hour)
		log.Info().Msg("session store: memory")
	}

	dispatcher := queue.NewDispatcher(cfg.Sync.RefreshWorkers, logger.Component("refresh"))
	dispatcher.Start(ctx)

	client := app.New(app.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		Store:     store,
		Dedup:     dedup,
		Scheduler: dispatcher,
		Policy:    cfg.OrderPolicy(),
		PageSize:  cfg.Order.PageSize,
		Logger:    log,
	})
	if err := client.Start(ctx, logger.Component("startup")); err != nil {
		return err
	}

	ops := ophttp.NewRouter(ophttp.RouterConfig{Redis: rdb, Session: client.Session})
	go func() {
		log.Info().Str("addr", cfg.Sync.MetricsAddr).Msg("ops server listening")
		if err := ops.Start(cfg.Sync.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server failed")
		}
	}()

	ticker := time.NewTicker(cfg.Sync.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := ops.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("ops server shutdown")
			}
			dispatcher.Wait()
			return nil
		case <-ticker.C:
			if err := client.Resync(ctx); err != nil {
				log.Warn().Err(err).Msg("resync failed")
			}
		}
	}
}
