package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultTimeout = 3 * time.Second

// Config configures a topology-agnostic Redis connection. go-redis picks the
// topology: MasterName set means Sentinel, several Addrs means Cluster.
type Config struct {
	Addrs        []string
	MasterName   string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) options() *goredis.UniversalOptions {
	timeout := func(d time.Duration) time.Duration {
		if d <= 0 {
			return defaultTimeout
		}
		return d
	}
	return &goredis.UniversalOptions{
		Addrs:        c.Addrs,
		MasterName:   c.MasterName,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  timeout(c.DialTimeout),
		ReadTimeout:  timeout(c.ReadTimeout),
		WriteTimeout: timeout(c.WriteTimeout),
	}
}

// NewUniversalClient builds a client and verifies it with a ping.
func NewUniversalClient(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	client, err := NewLazyClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLazyClient builds a client without contacting the server.
func NewLazyClient(cfg Config) (goredis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}
	return goredis.NewUniversalClient(cfg.options()), nil
}
