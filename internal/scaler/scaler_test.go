package scaler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/balancer"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

type scalerHarness struct {
	scaler      *Scaler
	balancer    *balancer.Balancer
	provisioner *RecordingProvisioner
	clock       *platform.FakeClock
	load        *Load
}

func newScalerHarness(t *testing.T) *scalerHarness {
	t.Helper()

	h := &scalerHarness{
		clock: platform.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		load:  &Load{CPUPercent: 50, MemoryPercent: 50, RequestRate: 100},
	}
	h.balancer = balancer.New(nil, h.clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	h.provisioner = &RecordingProvisioner{}

	cfg := config.ScalingConfig{
		Enabled:            true,
		MinNodes:           2,
		MaxNodes:           5,
		ScaleUpThreshold:   85,
		ScaleDownThreshold: 30,
		ScaleUpCooldown:    5 * time.Minute,
		ScaleDownCooldown:  10 * time.Minute,
	}
	loadFn := func(ctx context.Context) (Load, error) { return *h.load, nil }
	h.scaler = New(cfg, h.balancer, h.provisioner, &BalancerOps{Balancer: h.balancer}, loadFn,
		h.clock, observability.NewNoopLogger(), observability.NewNoopMetricsClient())
	return h
}

func TestInitializeProvisionsMinNodes(t *testing.T) {
	h := newScalerHarness(t)
	require.NoError(t, h.scaler.Initialize(context.Background()))

	assert.Equal(t, 2, h.balancer.NodeCount())
	assert.Equal(t, []int{1, 2}, h.provisioner.Provisioned)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		load    Load
		want    DecisionType
		trigger string
	}{
		{"cpu pressure scales up", Load{CPUPercent: 90, MemoryPercent: 40, RequestRate: 100}, ScaleUp, "cpu"},
		{"memory pressure scales up", Load{CPUPercent: 40, MemoryPercent: 92, RequestRate: 100}, ScaleUp, "memory"},
		{"request rate scales up", Load{CPUPercent: 40, MemoryPercent: 40, RequestRate: 2500}, ScaleUp, "request_rate"},
		{"cpu exactly on threshold scales up", Load{CPUPercent: 85, MemoryPercent: 40, RequestRate: 100}, ScaleUp, "cpu"},
		{"memory exactly on threshold scales up", Load{CPUPercent: 40, MemoryPercent: 85, RequestRate: 100}, ScaleUp, "memory"},
		{"request rate exactly at capacity scales up", Load{CPUPercent: 40, MemoryPercent: 40, RequestRate: 2000}, ScaleUp, "request_rate"},
		{"quiet cluster holds", Load{CPUPercent: 50, MemoryPercent: 50, RequestRate: 500}, "", ""},
		{"one low metric is not enough to scale down", Load{CPUPercent: 20, MemoryPercent: 60, RequestRate: 100}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newScalerHarness(t)
			require.NoError(t, h.scaler.Initialize(context.Background()))

			decision := h.scaler.Evaluate(tt.load)
			if tt.want == "" {
				assert.Nil(t, decision)
				return
			}
			require.NotNil(t, decision)
			assert.Equal(t, tt.want, decision.Type)
			assert.Equal(t, tt.trigger, decision.Trigger)
			assert.Equal(t, 3, decision.TargetNodes)
		})
	}

	t.Run("scale down needs every condition and headroom", func(t *testing.T) {
		h := newScalerHarness(t)
		require.NoError(t, h.scaler.Initialize(context.Background()))

		// At min_nodes the idle cluster stays put.
		idle := Load{CPUPercent: 10, MemoryPercent: 15, RequestRate: 50}
		assert.Nil(t, h.scaler.Evaluate(idle))

		// Grow past the floor, clear the cooldown, then the same load
		// shrinks the cluster.
		_, err := h.scaler.ForceScale(context.Background(), 3, "test growth")
		require.NoError(t, err)
		h.clock.Advance(11 * time.Minute)

		decision := h.scaler.Evaluate(idle)
		require.NotNil(t, decision)
		assert.Equal(t, ScaleDown, decision.Type)
		assert.Equal(t, 2, decision.TargetNodes)
	})

	t.Run("no scale up past max nodes", func(t *testing.T) {
		h := newScalerHarness(t)
		require.NoError(t, h.scaler.Initialize(context.Background()))
		_, err := h.scaler.ForceScale(context.Background(), 5, "test growth")
		require.NoError(t, err)
		h.clock.Advance(11 * time.Minute)

		assert.Nil(t, h.scaler.Evaluate(Load{CPUPercent: 99, MemoryPercent: 99, RequestRate: 9000}))
	})
}

func TestCooldownGates(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	hot := Load{CPUPercent: 95, MemoryPercent: 50, RequestRate: 100}
	decision := h.scaler.Evaluate(hot)
	require.NotNil(t, decision)
	require.NoError(t, h.scaler.Execute(ctx, decision))
	assert.Equal(t, 3, h.balancer.NodeCount())

	// Still hot, but inside the cooldown.
	h.clock.Advance(2 * time.Minute)
	assert.Nil(t, h.scaler.Evaluate(hot))

	h.clock.Advance(4 * time.Minute)
	decision = h.scaler.Evaluate(hot)
	require.NotNil(t, decision)
	assert.Equal(t, 4, decision.TargetNodes)
}

func TestExecuteScaleDownRemovesNewestNode(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	h.clock.Advance(time.Minute)
	_, err := h.scaler.ForceScale(ctx, 3, "test growth")
	require.NoError(t, err)
	require.Equal(t, 3, h.balancer.NodeCount())

	h.clock.Advance(11 * time.Minute)
	decision := h.scaler.Evaluate(Load{CPUPercent: 10, MemoryPercent: 10, RequestRate: 10})
	require.NotNil(t, decision)
	require.NoError(t, h.scaler.Execute(ctx, decision))

	assert.Equal(t, 2, h.balancer.NodeCount())
	require.Len(t, h.provisioner.Decommissioned, 1)
	assert.Equal(t, "redis-node-3", h.provisioner.Decommissioned[0])
}

func TestForceScale(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	t.Run("bypasses cooldown", func(t *testing.T) {
		decision, err := h.scaler.ForceScale(ctx, 4, "capacity test")
		require.NoError(t, err)
		assert.True(t, decision.Forced)
		assert.Equal(t, 4, h.balancer.NodeCount())

		// Immediately again, no cooldown wait.
		_, err = h.scaler.ForceScale(ctx, 3, "capacity test")
		require.NoError(t, err)
		assert.Equal(t, 3, h.balancer.NodeCount())
	})

	t.Run("rejects targets outside bounds", func(t *testing.T) {
		_, err := h.scaler.ForceScale(ctx, 6, "too big")
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))
		_, err = h.scaler.ForceScale(ctx, 1, "too small")
		assert.True(t, platform.IsCode(err, platform.CodeInvalidValue))
	})

	t.Run("rejects no-op target", func(t *testing.T) {
		_, err := h.scaler.ForceScale(ctx, h.balancer.NodeCount(), "noop")
		assert.True(t, platform.IsCode(err, platform.CodeInvalidArgument))
	})
}

type blockingProvisioner struct {
	inner   RecordingProvisioner
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvisioner) Provision(ctx context.Context, ordinal int) (balancer.Node, error) {
	p.started <- struct{}{}
	<-p.release
	return p.inner.Provision(ctx, ordinal)
}

func (p *blockingProvisioner) Decommission(ctx context.Context, node balancer.Node) error {
	return p.inner.Decommission(ctx, node)
}

func TestExecuteIsSingleFlight(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	blocking := &blockingProvisioner{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	h.scaler.provisioner = blocking

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		decision := h.scaler.Evaluate(Load{CPUPercent: 95, MemoryPercent: 50, RequestRate: 100})
		assert.NoError(t, h.scaler.Execute(ctx, decision))
	}()

	<-blocking.started
	err := h.scaler.Execute(ctx, &Decision{Type: ScaleUp, TargetNodes: 4, CreatedAt: h.clock.Now()})
	assert.True(t, platform.IsCode(err, platform.CodeConflict))

	close(blocking.release)
	wg.Wait()
	assert.Equal(t, 3, h.balancer.NodeCount())
}

func TestStatusAndDecisionHistory(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	// Bounce between 2 and 3 nodes to build up history.
	target := 3
	for i := 0; i < 12; i++ {
		_, err := h.scaler.ForceScale(ctx, target, "history churn")
		require.NoError(t, err)
		if target == 3 {
			target = 2
		} else {
			target = 3
		}
	}

	status := h.scaler.Status()
	assert.Equal(t, h.balancer.NodeCount(), status.CurrentNodes)
	assert.Equal(t, 2, status.MinNodes)
	assert.Equal(t, 5, status.MaxNodes)
	assert.Len(t, status.RecentDecisions, 10)
	last := status.RecentDecisions[len(status.RecentDecisions)-1]
	assert.True(t, last.Executed)
	assert.True(t, last.Successful)
}

func TestRunBuildsHistoryAndPredictions(t *testing.T) {
	h := newScalerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.scaler.Initialize(ctx))

	// Idle load at the node floor, so the loop records samples without
	// ever scaling.
	*h.load = Load{CPUPercent: 20, MemoryPercent: 20, RequestRate: 50}
	for i := 0; i < 12; i++ {
		require.NoError(t, h.scaler.Run(ctx))
		h.clock.Advance(30 * time.Second)
	}

	assert.Equal(t, 2, h.balancer.NodeCount())
	history := h.scaler.PerformanceHistory(time.Hour)
	assert.Len(t, history, 12)

	predictions := h.scaler.Status().Predictions
	assert.Equal(t, string(ScaleDown), predictions.PredictedScaling)
	assert.InDelta(t, 0.7, predictions.Confidence, 0.001)
	assert.Equal(t, "heuristic", predictions.Source)

	t.Run("model predictions take precedence", func(t *testing.T) {
		h.scaler.SetPredictions(Predictions{PredictedScaling: string(ScaleUp), Confidence: 0.9})
		require.NoError(t, h.scaler.Run(ctx))

		predictions := h.scaler.Status().Predictions
		assert.Equal(t, string(ScaleUp), predictions.PredictedScaling)
		assert.Equal(t, "model", predictions.Source)
	})
}

func TestSetConfig(t *testing.T) {
	h := newScalerHarness(t)

	updated := h.scaler.Config()
	updated.MaxNodes = 10
	require.NoError(t, h.scaler.SetConfig(updated))
	assert.Equal(t, 10, h.scaler.Config().MaxNodes)

	bad := updated
	bad.MinNodes = 0
	assert.True(t, platform.IsCode(h.scaler.SetConfig(bad), platform.CodeInvalidValue))

	bad = updated
	bad.ScaleDownThreshold = 90
	assert.True(t, platform.IsCode(h.scaler.SetConfig(bad), platform.CodeInvalidValue))
}
