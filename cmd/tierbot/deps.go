package main

import (
	"context"
	"fmt"

	"github.com/devrev/tierbot/internal/config"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/store"
	"go.uber.org/zap"
)

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (store.EntitlementStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		st, err := store.NewPostgresEntitlementStore(ctx, &store.PostgresStoreConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			MaxConns: cfg.Storage.Postgres.MaxConns,
			MinConns: cfg.Storage.Postgres.MinConns,
		}, logger, m)
		if err != nil {
			return nil, err
		}
		return st, nil

	case config.BackendFile, "":
		st, err := store.NewFileEntitlementStore(&store.FileStoreConfig{
			Path:       cfg.Storage.Path,
			SyncWrites: cfg.Storage.SyncWrites,
		}, logger, m)
		if err != nil {
			return nil, err
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openDedup(cfg *config.Config, logger *zap.Logger) (store.UpdateDeduplicator, error) {
	dc := &store.DedupConfig{
		TTL:        cfg.Dedup.TTL,
		MaxEntries: cfg.Dedup.MaxEntries,
		KeyPrefix:  cfg.Dedup.Redis.KeyPrefix,
	}

	if cfg.Dedup.Backend == config.BackendRedis {
		d, err := store.NewRedisDeduplicator(store.RedisOptions{
			Addr:     cfg.Dedup.Redis.Addr,
			Password: cfg.Dedup.Redis.Password,
			DB:       cfg.Dedup.Redis.DB,
		}, dc, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	return store.NewMemoryDeduplicator(dc, logger), nil
}
