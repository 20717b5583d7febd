package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/store/memory"
	"github.com/xraph/signoff/store/mongo"
	"github.com/xraph/signoff/store/postgres"
	redisstore "github.com/xraph/signoff/store/redis"
	"github.com/xraph/signoff/store/sqlite"
)

// ownedRedis closes the client the service created for the redis store.
type ownedRedis struct {
	*redisstore.Store
	client *goredis.Client
}

func (s *ownedRedis) Close() error { return s.client.Close() }

// openStore connects the backend named by cfg.Driver.
func openStore(ctx context.Context, cfg storeConfig, logger *slog.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return memory.New(), nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		s := redisstore.New(client, redisstore.WithLogger(logger))
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &ownedRedis{Store: s, client: client}, nil

	case "mongo", "mongodb":
		s, err := mongo.New(ctx, cfg.DSN, cfg.Database, mongo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
