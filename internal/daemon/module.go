// Package daemon composes the pipeline into a running process: fx
// providers, startup checks and the shutdown sequence.
package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"linguachat/go-backend/internal/bus"
	"linguachat/go-backend/internal/cache"
	"linguachat/go-backend/internal/config"
	"linguachat/go-backend/internal/crypto"
	"linguachat/go-backend/internal/delivery"
	"linguachat/go-backend/internal/fanout"
	"linguachat/go-backend/internal/hub"
	"linguachat/go-backend/internal/lock"
	"linguachat/go-backend/internal/logging"
	"linguachat/go-backend/internal/presence"
	"linguachat/go-backend/internal/store"
	"linguachat/go-backend/internal/translate"
	"linguachat/go-backend/internal/ws"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideCipher,
			provideTranslator,
			provideGateway,
			provideHub,
			provideResolver,
			provideEngine,
			provideFanout,
			providePresence,
			provideWSServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideCache(cfg *config.Config, logger *zap.Logger) *cache.Cache {
	return cache.New(cfg.Redis, logger)
}

func provideCipher(cfg *config.Config) (*crypto.Cipher, error) {
	return crypto.New(cfg.Secret)
}

func provideTranslator(cfg *config.Config, logger *zap.Logger) *translate.Client {
	return translate.NewClient(cfg.Translator, logger)
}

func provideGateway(cfg *config.Config, client *translate.Client, logger *zap.Logger) *translate.Gateway {
	return translate.NewGateway(client, cfg.Translator.Timeout(), logger)
}

func provideHub(logger *zap.Logger) *hub.Hub {
	return hub.New(logger)
}

func provideResolver(c *cache.Cache, g *translate.Gateway, ci *crypto.Cipher, logger *zap.Logger) *delivery.Resolver {
	return delivery.NewResolver(c, g, ci, logger)
}

func provideEngine(db *store.DB, c *cache.Cache, r *delivery.Resolver, ci *crypto.Cipher, h *hub.Hub, b *bus.Bus, logger *zap.Logger) *delivery.Engine {
	return delivery.NewEngine(db, c, r, ci, h, b, logger)
}

func provideFanout(c *cache.Cache, h *hub.Hub, logger *zap.Logger) *fanout.Engine {
	return fanout.NewEngine(c, h, logger)
}

func providePresence(db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Engine {
	return presence.NewEngine(db, b, logger)
}

func provideWSServer(cfg *config.Config, h *hub.Hub, e *delivery.Engine, b *bus.Bus, logger *zap.Logger) *ws.Server {
	return ws.NewServer(cfg.WS, h, e, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, c *cache.Cache, translator *translate.Client, fo *fanout.Engine, pres *presence.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// The cache doubles as the delivery bus; the daemon is not
			// functional without it.
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("redis unreachable: %w", err)
			}
			// Runtime translator failures degrade to placeholders, but a
			// daemon that never translates must not come up.
			if err := translator.Ping(ctx); err != nil {
				return fmt.Errorf("translation backend unreachable: %w", err)
			}

			pres.Start(context.Background())
			fo.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			fo.Stop()
			pres.Stop()
			if err := c.Close(); err != nil {
				logger.Warn("error closing redis client", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
