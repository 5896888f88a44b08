package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/internal/tenant"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

type predictionFixture struct {
	agent   *PredictionAgent
	scale   *fakeScale
	metrics *fakeMetricsReader
	clock   *platform.FakeClock
}

func newPredictionFixture() *predictionFixture {
	clock := platform.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	scale := &fakeScale{}
	metrics := &fakeMetricsReader{all: map[string]tenant.Metrics{}}
	return &predictionFixture{
		agent:   NewPredictionAgent(scale, metrics, clock, observability.NewNoopLogger()),
		scale:   scale,
		metrics: metrics,
		clock:   clock,
	}
}

// cycle sets the current load and runs one prediction cycle an hour after
// the previous one.
func (f *predictionFixture) cycle(t *testing.T, cpu float64) {
	t.Helper()
	f.scale.mu.Lock()
	f.scale.history = []scaler.PerformanceRecord{{
		Timestamp: f.clock.Now(),
		Nodes:     3,
		Load:      scaler.Load{CPUPercent: cpu, MemoryPercent: cpu / 2, RequestRate: cpu * 10},
	}}
	f.scale.mu.Unlock()

	require.NoError(t, f.agent.Run(context.Background()))
	f.clock.Advance(time.Hour)
}

func TestPredictionForecasts(t *testing.T) {
	f := newPredictionFixture()

	// A daily-ish pattern with enough points to train the series models.
	for i := 0; i < 60; i++ {
		f.cycle(t, 40+float64(i%12))
	}

	forecasts := f.agent.Forecasts()
	require.Contains(t, forecasts, "system/cpu_usage")

	cpu := forecasts["system/cpu_usage"]
	assert.Equal(t, "system", cpu.Series)
	assert.Equal(t, "cpu_usage", cpu.Metric)
	require.Len(t, cpu.Predictions, forecastSteps)
	require.Len(t, cpu.Intervals, forecastSteps)

	for i, interval := range cpu.Intervals {
		assert.GreaterOrEqual(t, cpu.Predictions[i], 0.0)
		assert.LessOrEqual(t, interval[0], cpu.Predictions[i])
		assert.GreaterOrEqual(t, interval[1], cpu.Predictions[i])
	}

	// Timestamps step hourly from the generation time.
	for i := 1; i < len(cpu.Timestamps); i++ {
		assert.Equal(t, time.Hour, cpu.Timestamps[i].Sub(cpu.Timestamps[i-1]))
	}
}

func TestPredictionAnomalyDetection(t *testing.T) {
	f := newPredictionFixture()

	// Stable-with-jitter baseline, then a spike.
	for i := 0; i < 30; i++ {
		f.cycle(t, 50+float64(i%3))
	}
	f.cycle(t, 100)

	anomalies := f.agent.Anomalies(2 * time.Hour)
	require.NotEmpty(t, anomalies)

	var found *Anomaly
	for i := range anomalies {
		if anomalies[i].Series == "system" && anomalies[i].Metric == "cpu_usage" {
			found = &anomalies[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "high", found.Severity)
	assert.Equal(t, 100.0, found.CurrentValue)
	assert.Greater(t, found.Score, anomalyHigh)

	// Outside the query window nothing is returned.
	f.clock.Advance(3 * time.Hour)
	assert.Empty(t, f.agent.Anomalies(time.Hour))
}

func TestPredictionTenantSeries(t *testing.T) {
	f := newPredictionFixture()
	f.metrics.all["acme"] = tenant.Metrics{HitRatio: 80, TotalRequests: 100, AvgResponseTimeMs: 5}

	for i := 0; i < 50; i++ {
		f.metrics.all["acme"] = tenant.Metrics{
			HitRatio:          80 + float64(i%5),
			TotalRequests:     int64(100 + i),
			AvgResponseTimeMs: 5,
		}
		f.cycle(t, 50)
	}

	forecasts := f.agent.Forecasts()
	assert.Contains(t, forecasts, "tenant:acme/hit_ratio")
	assert.Contains(t, forecasts, "tenant:acme/total_requests")
}

func TestPredictionInfo(t *testing.T) {
	f := newPredictionFixture()
	f.cycle(t, 50)

	info := f.agent.Info()
	assert.Equal(t, "prediction", info.Name)
	assert.Equal(t, 3, info.Metrics["series_tracked"])
	assert.Equal(t, 0, info.Metrics["models_trained"])
	assert.False(t, info.LastActivity.IsZero())
}
