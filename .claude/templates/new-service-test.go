// Template for component tests
// Usage: Copy this when testing a component that talks to Redis. Use
// miniredis for the backend, FakeClock for anything time-dependent, and
// noop observability.

package {component}

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/cache"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

func new{Component}Fixture(t *testing.T) (*{Component}, *platform.FakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RedisConfig{MaxConnections: 10, ReadTimeout: time.Second, WriteTimeout: time.Second}
	pool := cache.NewPoolWithClient(client, cfg, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	clock := platform.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	// TODO: construct the component under test with the pool and clock.
	c := New{Component}(pool, clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	return c, clock
}

func Test{Component}_{Operation}(t *testing.T) {
	c, clock := new{Component}Fixture(t)
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		// TODO: exercise the operation and assert on the result.
		got, err := c.{Operation}(ctx /* ... */)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("classified failure", func(t *testing.T) {
		// Time-dependent behavior is driven through the clock, never
		// through sleeps.
		clock.Advance(time.Minute)

		_, err := c.{Operation}(ctx /* ... */)
		assert.True(t, platform.IsCode(err, platform.CodeNotFound))
	})
}
