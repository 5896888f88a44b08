// Package cache wraps the Redis client used by the whole platform. All
// Redis traffic flows through Pool, which adds per-call deadlines, retry on
// timeout, and a circuit breaker.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
	"github.com/S-Corkum/caching-platform/pkg/retry"
)

// Pool is the shared Redis access layer
type Pool struct {
	client  redis.UniversalClient
	cfg     config.RedisConfig
	breaker *gobreaker.CircuitBreaker
	retry   retry.Policy
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewPool connects to Redis and verifies the connection with a ping
func NewPool(cfg config.RedisConfig, logger observability.Logger, metrics observability.MetricsClient) (*Pool, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   0, // retries are handled by our policy, not go-redis
		DialTimeout:  cfg.ConnectionTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.MaxConnections,
	})

	pool := NewPoolWithClient(client, cfg, logger, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if _, err := pool.Ping(ctx); err != nil {
		return nil, platform.Wrap(err, platform.CodeBackendUnavailable, "redis connection check failed")
	}
	return pool, nil
}

// NewPoolWithClient wraps an existing client. Tests use this with miniredis.
func NewPoolWithClient(client redis.UniversalClient, cfg config.RedisConfig, logger observability.Logger, metrics observability.MetricsClient) *Pool {
	pool := &Pool{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}

	pool.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.IncrementCounterWithLabels("circuit_breaker_state_changes_total", 1, map[string]string{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	if cfg.RetryOnTimeout {
		pool.retry = retry.NewExponentialBackoff(retry.Config{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			MaxElapsedTime:  10 * time.Second,
			MaxRetries:      cfg.MaxRetries,
		})
	} else {
		pool.retry = retry.NewFixedDelay(0, 0)
	}

	return pool
}

// execute runs a Redis call through the breaker and the retry policy.
// redis.Nil is a domain result (missing key), never a failure.
func (p *Pool) execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		err := p.retry.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
			defer cancel()
			err := fn(callCtx)
			if err == nil || err == redis.Nil {
				return nil
			}
			if !isTimeout(err) {
				return retry.Permanent(err)
			}
			return err
		})
		return nil, err
	})

	if err != nil {
		return p.classify(op, err)
	}
	return nil
}

func (p *Pool) classify(op string, err error) error {
	switch {
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		return platform.Wrap(err, platform.CodeBackendUnavailable, fmt.Sprintf("redis %s rejected by circuit breaker", op))
	case isTimeout(err):
		return platform.Wrap(err, platform.CodeTimeout, fmt.Sprintf("redis %s timed out", op))
	default:
		return platform.Wrap(err, platform.CodeBackendUnavailable, fmt.Sprintf("redis %s failed", op))
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "i/o timeout")
}

// Get returns the raw value for key, or not_found
func (p *Pool) Get(ctx context.Context, key string) (string, error) {
	var value string
	var missing bool
	err := p.execute(ctx, "get", func(ctx context.Context) error {
		v, err := p.client.Get(ctx, key).Result()
		if err == redis.Nil {
			missing = true
			return redis.Nil
		}
		value = v
		return err
	})
	if err != nil {
		return "", err
	}
	if missing {
		return "", platform.Newf(platform.CodeNotFound, "key %s not found", key)
	}
	return value, nil
}

// Set stores a value without expiry
func (p *Pool) Set(ctx context.Context, key, value string) error {
	return p.execute(ctx, "set", func(ctx context.Context) error {
		return p.client.Set(ctx, key, value, 0).Err()
	})
}

// SetEx stores a value with a TTL
func (p *Pool) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return p.execute(ctx, "setex", func(ctx context.Context) error {
		return p.client.Set(ctx, key, value, ttl).Err()
	})
}

// Del removes keys and returns how many existed
func (p *Pool) Del(ctx context.Context, keys ...string) (int64, error) {
	var removed int64
	err := p.execute(ctx, "del", func(ctx context.Context) error {
		n, err := p.client.Del(ctx, keys...).Result()
		removed = n
		return err
	})
	return removed, err
}

// Exists reports whether the key is present
func (p *Pool) Exists(ctx context.Context, key string) (bool, error) {
	var present bool
	err := p.execute(ctx, "exists", func(ctx context.Context) error {
		n, err := p.client.Exists(ctx, key).Result()
		present = n > 0
		return err
	})
	return present, err
}

// Expire sets a TTL on an existing key
func (p *Pool) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var set bool
	err := p.execute(ctx, "expire", func(ctx context.Context) error {
		ok, err := p.client.Expire(ctx, key, ttl).Result()
		set = ok
		return err
	})
	return set, err
}

// TTL returns the remaining TTL for a key. Redis conventions apply: -1 for
// no expiry, -2 for a missing key.
func (p *Pool) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := p.execute(ctx, "ttl", func(ctx context.Context) error {
		d, err := p.client.TTL(ctx, key).Result()
		ttl = d
		return err
	})
	return ttl, err
}

// IncrBy atomically increments a counter
func (p *Pool) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	err := p.execute(ctx, "incrby", func(ctx context.Context) error {
		v, err := p.client.IncrBy(ctx, key, delta).Result()
		value = v
		return err
	})
	return value, err
}

// DecrBy atomically decrements a counter
func (p *Pool) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	err := p.execute(ctx, "decrby", func(ctx context.Context) error {
		v, err := p.client.DecrBy(ctx, key, delta).Result()
		value = v
		return err
	})
	return value, err
}

// MGet fetches multiple keys; missing keys come back as nil entries
func (p *Pool) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	var values []interface{}
	err := p.execute(ctx, "mget", func(ctx context.Context) error {
		v, err := p.client.MGet(ctx, keys...).Result()
		values = v
		return err
	})
	return values, err
}

// MSet stores multiple key/value pairs in one round trip
func (p *Pool) MSet(ctx context.Context, pairs map[string]string) error {
	args := make([]interface{}, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	return p.execute(ctx, "mset", func(ctx context.Context) error {
		return p.client.MSet(ctx, args...).Err()
	})
}

// Keys enumerates keys matching the pattern using SCAN, never the blocking
// KEYS command.
func (p *Pool) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := p.execute(ctx, "scan", func(ctx context.Context) error {
		var cursor uint64
		keys = keys[:0]
		for {
			batch, next, err := p.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return err
			}
			keys = append(keys, batch...)
			if next == 0 {
				return nil
			}
			cursor = next
		}
	})
	return keys, err
}

// Ping verifies liveness and returns the round-trip time
func (p *Pool) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := p.execute(ctx, "ping", func(ctx context.Context) error {
		return p.client.Ping(ctx).Err()
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Info returns parsed fields from the Redis INFO command
func (p *Pool) Info(ctx context.Context) (map[string]string, error) {
	var raw string
	err := p.execute(ctx, "info", func(ctx context.Context) error {
		v, err := p.client.Info(ctx).Result()
		raw = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseInfo(raw), nil
}

// parseInfo turns INFO output into a flat key/value map, ignoring section
// headers and blank lines.
func parseInfo(raw string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			fields[line[:idx]] = line[idx+1:]
		}
	}
	return fields
}

// BreakerState exposes the current circuit breaker state for health checks
func (p *Pool) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Close releases the underlying connection pool
func (p *Pool) Close() error {
	return p.client.Close()
}
