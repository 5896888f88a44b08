package tenant

import (
	"context"
	"strings"
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

func newTestManager(t *testing.T) (*Manager, *platform.FakeClock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := cache.NewPoolWithClient(client, config.RedisConfig{
		MaxConnections: 10,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	clock := platform.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mgr := NewManager(pool, config.TenantConfig{
		DefaultMemoryMB:          512,
		DefaultRequestsPerSecond: 100,
		DefaultConnections:       50,
	}, 30*time.Second, clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	return mgr, clock, mr
}

func createTenant(t *testing.T, mgr *Manager, id string) *Tenant {
	t.Helper()
	created, err := mgr.CreateTenant(context.Background(), Tenant{ID: id, Name: "Tenant " + id})
	require.NoError(t, err)
	return created
}

// step advances the fake clock past every per-op rate gap so admission
// never interferes with the behavior under test.
func step(clock *platform.FakeClock) {
	clock.Advance(time.Second)
}

func TestTenantLifecycle(t *testing.T) {
	mgr, clock, _ := newTestManager(t)
	ctx := context.Background()

	t.Run("create applies defaults and normalizes id", func(t *testing.T) {
		created, err := mgr.CreateTenant(ctx, Tenant{ID: "  AcmeCorp  ", Name: "Acme"})
		require.NoError(t, err)
		assert.Equal(t, "acmecorp", created.ID)
		assert.Equal(t, StatusActive, created.Status)
		assert.Equal(t, 512, created.MemoryLimitMB)
		assert.Equal(t, 100, created.RequestsPerSecond)
		assert.Equal(t, 50, created.MaxConnections)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := mgr.CreateTenant(ctx, Tenant{ID: "acmecorp", Name: "Clone"})
		assert.True(t, platform.IsCode(err, platform.CodeAlreadyExists))
	})

	t.Run("validation failures", func(t *testing.T) {
		_, err := mgr.CreateTenant(ctx, Tenant{ID: "ab", Name: "Too Short"})
		assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))

		_, err = mgr.CreateTenant(ctx, Tenant{ID: "validid", Name: "X"})
		assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))

		_, err = mgr.CreateTenant(ctx, Tenant{ID: "validid", Name: "Valid", MemoryLimitMB: 32})
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))

		_, err = mgr.CreateTenant(ctx, Tenant{ID: "validid", Name: "Valid", RequestsPerSecond: 20000})
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))
	})

	t.Run("delete removes record and keys", func(t *testing.T) {
		createTenant(t, mgr, "doomed")
		step(clock)
		require.NoError(t, mgr.Set(ctx, "doomed", "k", "v", 0))

		require.NoError(t, mgr.DeleteTenant(ctx, "doomed"))

		_, err := mgr.GetTenant("doomed")
		assert.True(t, platform.IsCode(err, platform.CodeNotFound))

		assert.True(t, platform.IsCode(mgr.DeleteTenant(ctx, "doomed"), platform.CodeNotFound))
	})

	t.Run("list is sorted", func(t *testing.T) {
		createTenant(t, mgr, "zeta")
		createTenant(t, mgr, "alpha")

		ids := make([]string, 0)
		for _, tn := range mgr.ListTenants() {
			ids = append(ids, tn.ID)
		}
		assert.Equal(t, []string{"acmecorp", "alpha", "zeta"}, ids)
	})
}

func TestRegistrySurvivesRestart(t *testing.T) {
	mgr, _, mr := newTestManager(t)
	ctx := context.Background()
	createTenant(t, mgr, "persisted")

	// A second manager against the same Redis must see the tenant.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	pool := cache.NewPoolWithClient(client, config.RedisConfig{
		MaxConnections: 10,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
	}, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	clock := platform.NewFakeClock(time.Now())
	fresh := NewManager(pool, config.TenantConfig{DefaultMemoryMB: 512, DefaultRequestsPerSecond: 100, DefaultConnections: 50},
		30*time.Second, clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())

	require.NoError(t, fresh.Initialize(ctx))

	loaded, err := fresh.GetTenant("persisted")
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.ID)
}

func TestDataPlaneRoundTrip(t *testing.T) {
	mgr, clock, mr := newTestManager(t)
	ctx := context.Background()
	createTenant(t, mgr, "acme")

	t.Run("set then get round-trips JSON values", func(t *testing.T) {
		step(clock)
		payload := map[string]interface{}{"plan": "enterprise", "seats": float64(25)}
		require.NoError(t, mgr.Set(ctx, "acme", "account", payload, 0))

		step(clock)
		value, err := mgr.Get(ctx, "acme", "account")
		require.NoError(t, err)
		assert.Equal(t, payload, value)
	})

	t.Run("miss is not_found and counted", func(t *testing.T) {
		step(clock)
		_, err := mgr.Get(ctx, "acme", "missing")
		assert.True(t, platform.IsCode(err, platform.CodeNotFound))

		metrics, err := mgr.TenantMetrics("acme")
		require.NoError(t, err)
		assert.Equal(t, int64(1), metrics.CacheHits)
		assert.Equal(t, int64(1), metrics.CacheMisses)
	})

	t.Run("keys are namespaced per tenant", func(t *testing.T) {
		createTenant(t, mgr, "globex")
		step(clock)
		require.NoError(t, mgr.Set(ctx, "globex", "account", "other", 0))

		step(clock)
		value, err := mgr.Get(ctx, "acme", "account")
		require.NoError(t, err)
		assert.NotEqual(t, "other", value)

		assert.True(t, mr.Exists("cache:acme:account"))
		assert.True(t, mr.Exists("cache:globex:account"))
	})

	t.Run("ttl expiry", func(t *testing.T) {
		step(clock)
		require.NoError(t, mgr.Set(ctx, "acme", "session", "data", 30*time.Second))

		ttl, err := mgr.TTL(ctx, "acme", "session")
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))

		mr.FastForward(31 * time.Second)
		step(clock)
		_, err = mgr.Get(ctx, "acme", "session")
		assert.True(t, platform.IsCode(err, platform.CodeNotFound))
	})

	t.Run("delete reports prior existence", func(t *testing.T) {
		step(clock)
		require.NoError(t, mgr.Set(ctx, "acme", "temp", 1, 0))

		step(clock)
		existed, err := mgr.Delete(ctx, "acme", "temp")
		require.NoError(t, err)
		assert.True(t, existed)

		step(clock)
		existed, err = mgr.Delete(ctx, "acme", "temp")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("counters", func(t *testing.T) {
		step(clock)
		value, err := mgr.Incr(ctx, "acme", "visits", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), value)

		step(clock)
		value, err = mgr.Decr(ctx, "acme", "visits", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), value)
	})

	t.Run("batch operations", func(t *testing.T) {
		step(clock)
		require.NoError(t, mgr.MSet(ctx, "acme", map[string]interface{}{
			"b1": "one",
			"b2": float64(2),
		}))

		step(clock)
		values, err := mgr.MGet(ctx, "acme", []string{"b1", "b2", "b3"})
		require.NoError(t, err)
		require.Len(t, values, 3)
		assert.Equal(t, "one", values[0])
		assert.Equal(t, float64(2), values[1])
		assert.Nil(t, values[2])
	})

	t.Run("unknown tenant rejected", func(t *testing.T) {
		step(clock)
		err := mgr.Set(ctx, "stranger", "k", "v", 0)
		assert.True(t, platform.IsCode(err, platform.CodeNotFound))
	})
}

func TestBatchAccountingOnMalformedData(t *testing.T) {
	mgr, clock, mr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateTenant(ctx, Tenant{ID: "batch", Name: "Batch"})
	require.NoError(t, err)

	t.Run("mset serialization failure still counts the request", func(t *testing.T) {
		step(clock)
		err := mgr.MSet(ctx, "batch", map[string]interface{}{"bad": make(chan int)})
		require.True(t, platform.IsCode(err, platform.CodeInvalidValue))

		metrics, err := mgr.TenantMetrics("batch")
		require.NoError(t, err)
		assert.Equal(t, int64(1), metrics.TotalRequests)
		assert.Equal(t, int64(1), metrics.FailedRequests)
	})

	t.Run("undecodable slot counts as a miss", func(t *testing.T) {
		step(clock)
		require.NoError(t, mr.Set(CacheKey("batch", "corrupt"), "{oops"))

		values, err := mgr.MGet(ctx, "batch", []string{"corrupt"})
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Nil(t, values[0])

		metrics, err := mgr.TenantMetrics("batch")
		require.NoError(t, err)
		assert.Equal(t, int64(1), metrics.CacheMisses)
		assert.Zero(t, metrics.CacheHits)
	})
}

func TestAdmissionControl(t *testing.T) {
	t.Run("rate limit per operation", func(t *testing.T) {
		mgr, clock, _ := newTestManager(t)
		ctx := context.Background()

		_, err := mgr.CreateTenant(ctx, Tenant{ID: "limited", Name: "Limited", RequestsPerSecond: 10})
		require.NoError(t, err)

		step(clock)
		require.NoError(t, mgr.Set(ctx, "limited", "k", "v", 0))

		// Second set inside the 100ms gap is rejected; a get is a
		// different bucket and still admitted.
		clock.Advance(50 * time.Millisecond)
		err = mgr.Set(ctx, "limited", "k2", "v", 0)
		assert.True(t, platform.IsCode(err, platform.CodeRateLimited))

		_, err = mgr.Get(ctx, "limited", "k")
		require.NoError(t, err)

		clock.Advance(100 * time.Millisecond)
		assert.NoError(t, mgr.Set(ctx, "limited", "k2", "v", 0))
	})

	t.Run("memory quota boundary", func(t *testing.T) {
		mgr, clock, _ := newTestManager(t)
		ctx := context.Background()

		_, err := mgr.CreateTenant(ctx, Tenant{ID: "cramped", Name: "Cramped", MemoryLimitMB: 64})
		require.NoError(t, err)

		// ~33 MB fits; the second write of the same size would cross
		// 64 MB and must be rejected up front.
		big := strings.Repeat("x", 33*1024*1024)
		step(clock)
		require.NoError(t, mgr.Set(ctx, "cramped", "blob1", big, 0))

		step(clock)
		err = mgr.Set(ctx, "cramped", "blob2", big, 0)
		assert.True(t, platform.IsCode(err, platform.CodeQuotaExceeded))

		// Deleting the first blob frees quota for the second.
		step(clock)
		_, err = mgr.Delete(ctx, "cramped", "blob1")
		require.NoError(t, err)

		step(clock)
		assert.NoError(t, mgr.Set(ctx, "cramped", "blob2", big, 0))
	})

	t.Run("suspended tenant rejected", func(t *testing.T) {
		mgr, clock, _ := newTestManager(t)
		ctx := context.Background()

		_, err := mgr.CreateTenant(ctx, Tenant{ID: "paused", Name: "Paused"})
		require.NoError(t, err)

		require.NoError(t, mgr.updateTenant(ctx, "paused", func(tn *Tenant) {
			tn.Status = StatusSuspended
		}))

		step(clock)
		err = mgr.Set(ctx, "paused", "k", "v", 0)
		assert.True(t, platform.IsCode(err, platform.CodeUnavailable))
	})
}

func TestQuotaAndSettings(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	createTenant(t, mgr, "tunable")

	t.Run("update quota", func(t *testing.T) {
		require.NoError(t, mgr.UpdateQuota(ctx, "tunable", 1024))
		tn, err := mgr.GetTenant("tunable")
		require.NoError(t, err)
		assert.Equal(t, 1024, tn.MemoryLimitMB)
	})

	t.Run("quota bounds enforced", func(t *testing.T) {
		err := mgr.UpdateQuota(ctx, "tunable", 10000)
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))
	})

	t.Run("apply setting routes memory_limit_mb to quota", func(t *testing.T) {
		require.NoError(t, mgr.ApplySetting(ctx, "tunable", "memory_limit_mb", float64(2048)))
		tn, err := mgr.GetTenant("tunable")
		require.NoError(t, err)
		assert.Equal(t, 2048, tn.MemoryLimitMB)
	})

	t.Run("apply setting stores others in settings bag", func(t *testing.T) {
		require.NoError(t, mgr.ApplySetting(ctx, "tunable", "eviction_policy", "allkeys-lru"))
		tn, err := mgr.GetTenant("tunable")
		require.NoError(t, err)
		assert.Equal(t, "allkeys-lru", tn.Settings["eviction_policy"])
	})
}

func TestClearBackupRestore(t *testing.T) {
	mgr, clock, mr := newTestManager(t)
	ctx := context.Background()
	createTenant(t, mgr, "acme")

	seed := func() {
		step(clock)
		require.NoError(t, mgr.Set(ctx, "acme", "permanent", "stays", 0))
		step(clock)
		require.NoError(t, mgr.Set(ctx, "acme", "expiring", "goes", time.Hour))
	}
	seed()

	t.Run("backup captures keys and ttls", func(t *testing.T) {
		snap, err := mgr.BackupTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", snap.TenantID)
		assert.Equal(t, 2, snap.KeyCount)
		assert.NotEmpty(t, snap.ID)
		assert.NotEmpty(t, snap.Checksum)

		perm := snap.Data["cache:acme:permanent"]
		assert.Zero(t, perm.TTLSeconds)
		exp := snap.Data["cache:acme:expiring"]
		assert.Greater(t, exp.TTLSeconds, int64(0))
	})

	t.Run("clear then restore brings data back", func(t *testing.T) {
		snap, err := mgr.BackupTenant(ctx, "acme")
		require.NoError(t, err)

		require.NoError(t, mgr.ClearTenantData(ctx, "acme"))
		assert.False(t, mr.Exists("cache:acme:permanent"))

		require.NoError(t, mgr.RestoreTenant(ctx, "acme", snap))
		step(clock)
		value, err := mgr.Get(ctx, "acme", "permanent")
		require.NoError(t, err)
		assert.Equal(t, "stays", value)
	})

	t.Run("tampered snapshot rejected", func(t *testing.T) {
		snap, err := mgr.BackupTenant(ctx, "acme")
		require.NoError(t, err)

		snap.Data["cache:acme:permanent"] = SnapshotEntry{Value: `"tampered"`}
		err = mgr.RestoreTenant(ctx, "acme", snap)
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))
	})

	t.Run("snapshot for wrong tenant rejected", func(t *testing.T) {
		createTenant(t, mgr, "globex")
		snap, err := mgr.BackupTenant(ctx, "acme")
		require.NoError(t, err)

		err = mgr.RestoreTenant(ctx, "globex", snap)
		assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))
	})
}

func TestMetricsAggregation(t *testing.T) {
	mgr, clock, mr := newTestManager(t)
	ctx := context.Background()
	createTenant(t, mgr, "acme")

	step(clock)
	require.NoError(t, mgr.Set(ctx, "acme", "k", "v", 0))
	step(clock)
	_, err := mgr.Get(ctx, "acme", "k")
	require.NoError(t, err)
	step(clock)
	_, err = mgr.Get(ctx, "acme", "missing")
	assert.True(t, platform.IsCode(err, platform.CodeNotFound))

	t.Run("tenant metrics", func(t *testing.T) {
		metrics, err := mgr.TenantMetrics("acme")
		require.NoError(t, err)
		assert.Equal(t, int64(3), metrics.TotalRequests)
		assert.Equal(t, int64(1), metrics.CacheHits)
		assert.Equal(t, int64(1), metrics.CacheMisses)
		assert.InDelta(t, 50.0, metrics.HitRatio, 0.01)
		assert.GreaterOrEqual(t, metrics.HitRatio, 0.0)
		assert.LessOrEqual(t, metrics.HitRatio, 100.0)
	})

	t.Run("system snapshot aggregates tenants", func(t *testing.T) {
		snapshot := mgr.SystemMetricsSnapshot()
		assert.Equal(t, int64(3), snapshot.TotalOperations)
		assert.Equal(t, 1, snapshot.ActiveTenants)
		assert.InDelta(t, 50.0, snapshot.OverallHitRatio, 0.01)
	})

	t.Run("collector writes expiring record and bounded history", func(t *testing.T) {
		require.NoError(t, mgr.CollectMetrics(ctx))
		assert.True(t, mr.Exists("metrics:system"))

		ttl := mr.TTL("metrics:system")
		assert.Equal(t, 60*time.Second, ttl)

		for i := 0; i < systemMetricsHistoryCap+10; i++ {
			require.NoError(t, mgr.CollectMetrics(ctx))
		}
		assert.Len(t, mgr.MetricsHistory(), systemMetricsHistoryCap)
	})
}
