package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Options configures a client. Zero timeouts fall back to the package defaults.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient connects with default timeouts.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	return NewClient(context.Background(), Options{Addr: addr, Password: password, DB: db})
}

// NewClient builds a go-redis client and checks it with PING before returning.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  orDefault(opts.DialTimeout, defaultDialTimeout),
		ReadTimeout:  orDefault(opts.ReadTimeout, defaultReadTimeout),
		WriteTimeout: orDefault(opts.WriteTimeout, defaultWriteTimeout),
	})

	pingCtx, cancel := context.WithTimeout(ctx, orDefault(opts.DialTimeout, defaultDialTimeout))
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
