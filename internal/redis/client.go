package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mossy-p/livecast/config"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Connect opens a Redis client and verifies it with a ping
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return client, nil
}
