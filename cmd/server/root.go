package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/warp/consult-wallet/booking"
	memstore "github.com/warp/consult-wallet/booking/store"
	"github.com/warp/consult-wallet/config"
	"github.com/warp/consult-wallet/lock"
	"github.com/warp/consult-wallet/logging"
	"github.com/warp/consult-wallet/store/postgres"
	"github.com/warp/consult-wallet/store/sqlite"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "consult-wallet",
		Short:         "Consultation booking with a prepaid patient wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newSeedCommand())
	root.AddCommand(newAuditCommand())

	return root
}

// app holds what every subcommand shares.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	store booking.Store
	redis *redis.Client // nil unless REDIS_ADDR is set
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	log := logging.New(cfg)
	slog.SetDefault(log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("driver", cfg.StoreDriver))

	a := &app{cfg: cfg, log: log, store: store}

	if cfg.RedisEnabled() {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.redis = rdb
		log.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
	}

	return a, nil
}

// locker picks the Redis slot lock when configured, otherwise an in-process one.
func (a *app) locker() booking.SlotLocker {
	if a.redis != nil {
		return lock.NewRedisSlotLocker(a.redis, a.cfg.LockTTL)
	}
	return booking.NewLocalLocker()
}

func (a *app) engine() *booking.Engine {
	return booking.NewEngine(a.store,
		booking.WithLocker(a.locker()),
		booking.WithLogger(a.log),
	)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("closing redis", slog.Any("error", err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", slog.Any("error", err))
	}
}

func openStore(ctx context.Context, cfg config.Config) (booking.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := postgres.New(pgCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		return s, nil
	case config.DriverMemory:
		return memstore.NewMemory(), nil
	default:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		return s, nil
	}
}
