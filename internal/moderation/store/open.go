// Package store selects the identity ledger backend named by configuration.
package store

import (
	"context"
	"fmt"

	"chatgate/internal/moderation/ports"
	"chatgate/internal/moderation/store/memory"
	pgstore "chatgate/internal/moderation/store/postgres"
	redisstore "chatgate/internal/moderation/store/redis"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/postgres"
	"chatgate/internal/platform/redis"
)

// Backend bundles an opened store with its lifecycle hooks.
type Backend struct {
	Name   string
	Store  ports.Store
	Health func(ctx context.Context) error
	Close  func() error
}

// Open connects the configured backend. The postgres backend applies the
// schema before returning.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory, "":
		return &Backend{
			Name:   config.BackendMemory,
			Store:  memory.New(),
			Health: func(context.Context) error { return nil },
			Close:  func() error { return nil },
		}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		s := pgstore.New(db)
		return &Backend{
			Name:   config.BackendPostgres,
			Store:  s,
			Health: s.Health,
			Close:  db.Close,
		}, nil

	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s := redisstore.New(client.Client)
		return &Backend{
			Name:   config.BackendRedis,
			Store:  s,
			Health: client.Health,
			Close:  client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
