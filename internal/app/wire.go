// Package app wires configured stores, caches and archives into the
// components the binaries run.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"alphafactory/internal/api"
	s3blob "alphafactory/internal/blob/s3"
	"alphafactory/internal/cache/redis"
	"alphafactory/internal/config"
	"alphafactory/internal/store"
	"alphafactory/internal/store/postgres"
	"alphafactory/internal/strategy"
	"alphafactory/internal/strategy/builtins"
)

// Dependencies bundles what the binaries need to run and serve backtests.
type Dependencies struct {
	Bars       store.BarStore
	Results    store.ResultStore
	Archiver   api.Archiver // nil unless s3 is enabled
	Registry   *strategy.Registry
	Backtester *strategy.Backtester
}

// Wire builds Dependencies from cfg. The returned cleanup releases every
// opened resource in reverse order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Dependencies, func(), error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "app")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Bars:     store.NewParquetStore(cfg.Storage.DataDir),
		Registry: builtins.NewRegistry(),
	}
	deps.Backtester = strategy.NewBacktester(deps.Bars, deps.Registry, log)

	// --- Result store ---
	switch cfg.Storage.ResultBackend {
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.Results = postgres.NewResultStore(pg.Pool())
		log.Info("result store ready", "backend", "postgres")

	default:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: sqlite dir: %w", err)
			}
		}
		sq, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		closers = append(closers, func() { sq.Close() })
		deps.Results = sq
		log.Info("result store ready", "backend", "sqlite", "path", cfg.Storage.SQLitePath)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { rc.Close() })
		deps.Results = redis.NewCachedStore(deps.Results, redis.NewReportCache(rc, cfg.Redis.TTL))
		log.Info("report cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(sc, cfg.S3.Prefix)
		log.Info("report archive enabled", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	return deps, cleanup, nil
}
