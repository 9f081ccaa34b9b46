package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultIOTimeout = 5 * time.Second
	// session and callback traffic only
	defaultPoolSize = 4
)

// Config selects the Redis that holds the session snapshot and callback claims.
type Config struct {
	Addr    string
	DB      int
	Timeout time.Duration
}

func (c Config) options() *redis.Options {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultIOTimeout
	}
	return &redis.Options{
		Addr:         c.Addr,
		DB:           c.DB,
		PoolSize:     defaultPoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Connect returns a client that has answered PING, so a wrong REDIS_ADDR stops
// the daemon at boot rather than losing the first session write.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts := cfg.options()
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s db %d unreachable: %w", cfg.Addr, cfg.DB, err)
	}
	return client, nil
}
