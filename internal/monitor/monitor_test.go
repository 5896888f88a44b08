package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

type fakeCacheHealth struct {
	err     error
	tenants int
}

func (f *fakeCacheHealth) Healthy(ctx context.Context) error { return f.err }
func (f *fakeCacheHealth) ActiveTenants() int                { return f.tenants }

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *recordingNotifier) Notify(ctx context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type harness struct {
	monitor  *Monitor
	clock    *platform.FakeClock
	notifier *recordingNotifier
	stats    *SystemStats
	redisRTT *time.Duration
	redisErr *error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	stats := &SystemStats{CPUPercent: 20, MemoryPercent: 30, DiskPercent: 40}
	rtt := 2 * time.Millisecond
	var redisErr error

	h := &harness{
		clock:    platform.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		notifier: &recordingNotifier{},
		stats:    stats,
		redisRTT: &rtt,
		redisErr: &redisErr,
	}

	systemProbe := func(ctx context.Context) (SystemStats, error) { return *h.stats, nil }
	redisProbe := func(ctx context.Context) (time.Duration, error) { return *h.redisRTT, *h.redisErr }

	h.monitor = New(systemProbe, redisProbe, &fakeCacheHealth{tenants: 2}, h.notifier,
		map[string]float64{"cpu_usage": 85, "memory_usage": 90, "response_time": 100, "error_rate": 5},
		h.clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	return h
}

func TestSystemCheckHealthy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.monitor.CheckSystem(context.Background()))

	health := h.monitor.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, "healthy", health.Components["system"].Status)
	assert.Empty(t, h.monitor.Alerts("", false, 0))
}

func TestThresholdAlerts(t *testing.T) {
	t.Run("cpu above threshold raises warning", func(t *testing.T) {
		h := newHarness(t)
		h.stats.CPUPercent = 90
		require.NoError(t, h.monitor.CheckSystem(context.Background()))

		alerts := h.monitor.Alerts("", false, 0)
		require.Len(t, alerts, 1)
		assert.Equal(t, "High CPU Usage", alerts[0].Title)
		assert.Equal(t, SeverityWarning, alerts[0].Severity)
		assert.False(t, h.monitor.Health().Healthy)
	})

	t.Run("cpu above 95 is critical and escalates", func(t *testing.T) {
		h := newHarness(t)
		h.stats.CPUPercent = 97
		require.NoError(t, h.monitor.CheckSystem(context.Background()))

		alerts := h.monitor.Alerts(SeverityCritical, false, 0)
		require.Len(t, alerts, 1)
		assert.Equal(t, 1, h.notifier.count())
	})

	t.Run("duplicates suppressed inside the window", func(t *testing.T) {
		h := newHarness(t)
		h.stats.MemoryPercent = 93
		ctx := context.Background()

		require.NoError(t, h.monitor.CheckSystem(ctx))
		h.clock.Advance(30 * time.Second)
		require.NoError(t, h.monitor.CheckSystem(ctx))
		assert.Len(t, h.monitor.Alerts("", false, 0), 1)

		// Past the window it fires again.
		h.clock.Advance(duplicateSuppression)
		require.NoError(t, h.monitor.CheckSystem(ctx))
		assert.Len(t, h.monitor.Alerts("", false, 0), 2)
	})
}

func TestRedisCheck(t *testing.T) {
	t.Run("healthy ping", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.monitor.CheckRedis(context.Background()))

		health := h.monitor.Health()
		assert.Equal(t, "healthy", health.Components["redis"].Status)
		assert.Equal(t, "healthy", health.Components["cache_manager"].Status)
	})

	t.Run("failed ping raises critical and escalates", func(t *testing.T) {
		h := newHarness(t)
		*h.redisErr = platform.New(platform.CodeBackendUnavailable, "connection refused")

		require.NoError(t, h.monitor.CheckRedis(context.Background()))

		health := h.monitor.Health()
		assert.Equal(t, "unhealthy", health.Components["redis"].Status)
		alerts := h.monitor.Alerts(SeverityCritical, false, 0)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Redis Unavailable", alerts[0].Title)
		assert.Equal(t, 1, h.notifier.count())
	})

	t.Run("slow ping raises warning", func(t *testing.T) {
		h := newHarness(t)
		*h.redisRTT = 250 * time.Millisecond

		require.NoError(t, h.monitor.CheckRedis(context.Background()))

		alerts := h.monitor.Alerts(SeverityWarning, false, 0)
		require.Len(t, alerts, 1)
		assert.Equal(t, "Slow Redis Response", alerts[0].Title)
	})
}

func TestAlertLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.monitor.raiseAlert(ctx, "Manual Note", "informational", SeverityInfo, "test", "misc")
	alerts := h.monitor.Alerts("", false, 0)
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	t.Run("acknowledge", func(t *testing.T) {
		require.NoError(t, h.monitor.Acknowledge(id))
		got := h.monitor.Alerts("", false, 0)
		require.Len(t, got, 1)
		assert.True(t, got[0].Acknowledged)
		require.NotNil(t, got[0].AcknowledgedAt)
	})

	t.Run("resolve hides from default listing", func(t *testing.T) {
		require.NoError(t, h.monitor.Resolve(id))
		assert.Empty(t, h.monitor.Alerts("", false, 0))
		assert.Len(t, h.monitor.Alerts("", true, 0), 1)
	})

	t.Run("unknown id", func(t *testing.T) {
		assert.True(t, platform.IsCode(h.monitor.Acknowledge("ghost"), platform.CodeNotFound))
		assert.True(t, platform.IsCode(h.monitor.Resolve("ghost"), platform.CodeNotFound))
	})
}

func TestAlertSweep(t *testing.T) {
	t.Run("info auto-resolves after an hour", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.monitor.raiseAlert(ctx, "FYI", "note", SeverityInfo, "test", "misc")

		h.clock.Advance(infoAutoResolve + time.Minute)
		require.NoError(t, h.monitor.SweepAlerts(ctx))

		open := h.monitor.Alerts("", false, 0)
		assert.Empty(t, open)
		all := h.monitor.Alerts("", true, 0)
		require.Len(t, all, 1)
		assert.True(t, all[0].Resolved)
	})

	t.Run("alerts purged after retention", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.monitor.raiseAlert(ctx, "Old News", "stale", SeverityWarning, "test", "misc")

		h.clock.Advance(alertRetention + time.Hour)
		require.NoError(t, h.monitor.SweepAlerts(ctx))

		assert.Empty(t, h.monitor.Alerts("", true, 0))
	})

	t.Run("unacknowledged critical escalates once", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		h.stats.CPUPercent = 99
		require.NoError(t, h.monitor.CheckSystem(ctx))
		require.Equal(t, 1, h.notifier.count()) // escalated at creation

		require.NoError(t, h.monitor.SweepAlerts(ctx))
		require.NoError(t, h.monitor.SweepAlerts(ctx))
		assert.Equal(t, 1, h.notifier.count())
	})
}

func TestSetThresholds(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.monitor.SetThresholds(map[string]float64{"cpu_usage": 70}))

	h.stats.CPUPercent = 75
	require.NoError(t, h.monitor.CheckSystem(context.Background()))
	assert.Len(t, h.monitor.Alerts("", false, 0), 1)

	assert.True(t, platform.IsCode(
		h.monitor.SetThresholds(map[string]float64{"bogus": 1}), platform.CodeInvalidArgument))
	assert.True(t, platform.IsCode(
		h.monitor.SetThresholds(map[string]float64{"cpu_usage": -1}), platform.CodeInvalidValue))
}

func TestRunHealthCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("single component", func(t *testing.T) {
		checks, err := h.monitor.RunHealthCheck(ctx, "system")
		require.NoError(t, err)
		assert.Contains(t, checks, "system")
		assert.NotContains(t, checks, "redis")
	})

	t.Run("all components", func(t *testing.T) {
		checks, err := h.monitor.RunHealthCheck(ctx, "")
		require.NoError(t, err)
		assert.Contains(t, checks, "system")
		assert.Contains(t, checks, "redis")
		assert.Contains(t, checks, "cache_manager")
	})

	t.Run("unknown component", func(t *testing.T) {
		_, err := h.monitor.RunHealthCheck(ctx, "mainframe")
		assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))
	})
}

func TestPerformanceMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.stats.CPUPercent = 10
	require.NoError(t, h.monitor.CheckSystem(ctx))
	h.clock.Advance(30 * time.Second)
	h.stats.CPUPercent = 30
	require.NoError(t, h.monitor.CheckSystem(ctx))

	summaries := h.monitor.PerformanceMetrics(time.Hour)
	byName := make(map[string]MetricSummary)
	for _, s := range summaries {
		byName[s.Metric] = s
	}

	cpu := byName["cpu_usage"]
	assert.Equal(t, 2, cpu.Samples)
	assert.Equal(t, 10.0, cpu.Min)
	assert.Equal(t, 30.0, cpu.Max)
	assert.InDelta(t, 20.0, cpu.Avg, 0.01)

	// Old samples age out of the window.
	h.clock.Advance(2 * time.Hour)
	summaries = h.monitor.PerformanceMetrics(time.Hour)
	for _, s := range summaries {
		if s.Metric == "cpu_usage" {
			assert.Zero(t, s.Samples)
		}
	}
}
