// Package store selects the forecaster's snapshot and artifact backend.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
	"github.com/HatiCode/lagcast/pkg/storage"
)

// Backend keeps forecast snapshots and published model artifacts.
type Backend interface {
	storage.Store
	storage.ArtifactStore
	Close() error
}

// New returns the backend named by cfg.Storage.
func New(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		logger.Info("using redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		return rs, nil
	case "memory", "":
		logger.Info("using in-memory storage")
		return memoryBackend{storage.NewMemoryStore()}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// Ping checks the backend when it supports it.
func Ping(ctx context.Context, b Backend) error {
	if p, ok := b.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

type memoryBackend struct {
	*storage.MemoryStore
}

func (m memoryBackend) Close() error {
	m.Stop()
	return nil
}
