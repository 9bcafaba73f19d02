package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/GhostKellz/ghostflow/internal/config"
)

// Open creates the Store selected by the configuration
func Open(
	ctx context.Context, cfg config.StoreConfig, logger *slog.Logger,
) (Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return NewMemory(), nil
	case config.StoreBadger:
		return OpenBadger(cfg.Badger.Path, logger)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedis(client, cfg.Redis.Prefix), nil
	case config.StoreTimebox:
		s, err := OpenTimebox(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open timebox %s: %w", cfg.Redis.Addr, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidStoreType, cfg.Type)
	}
}
