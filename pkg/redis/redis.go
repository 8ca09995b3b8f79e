// Package redis dials the optional Redis backing conversation history and
// chart state.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Config is optional: an empty URL means the agent keeps state in memory.
// Timeouts are in seconds.
type Config struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
	PoolSize     int    `split_words:"true" default:"0"`
	// DialAttempts bounds the startup pings.
	DialAttempts uint `split_words:"true" default:"3"`
}

func (c *Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c *Config) options() (*redis.Options, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(c.URL))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.ReadTimeout = seconds(c.ReadTimeout, opts.ReadTimeout)
	opts.WriteTimeout = seconds(c.WriteTimeout, opts.WriteTimeout)
	opts.DialTimeout = seconds(c.DialTimeout, opts.DialTimeout)
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	return opts, nil
}

// Dial opens a client and pings it until it answers or DialAttempts run out.
// The client is closed again when no ping succeeds.
func (c *Config) Dial(ctx context.Context) (*redis.Client, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	attempts := c.DialAttempts
	if attempts == 0 {
		attempts = 1
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		return struct{}{}, client.Ping(pingCtx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
