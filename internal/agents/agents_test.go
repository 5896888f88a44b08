package agents

import (
	"context"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/internal/tenant"
)

// Interface compliance for the concrete agents.
var (
	_ Agent = (*ScalingAgent)(nil)
	_ Agent = (*OptimizationAgent)(nil)
	_ Agent = (*HealingAgent)(nil)
	_ Agent = (*PredictionAgent)(nil)
)

type fakeScale struct {
	mu      sync.Mutex
	status  scaler.Status
	cfg     config.ScalingConfig
	history []scaler.PerformanceRecord
	preds   []scaler.Predictions
	forced  []int
}

func (f *fakeScale) Status() scaler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeScale) Config() config.ScalingConfig { return f.cfg }

func (f *fakeScale) SetPredictions(p scaler.Predictions) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preds = append(f.preds, p)
}

func (f *fakeScale) PerformanceHistory(window time.Duration) []scaler.PerformanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scaler.PerformanceRecord, len(f.history))
	copy(out, f.history)
	return out
}

func (f *fakeScale) ForceScale(ctx context.Context, target int, reason string) (*scaler.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, target)
	f.status.CurrentNodes = target
	return &scaler.Decision{TargetNodes: target, Forced: true}, nil
}

type fakeMetricsReader struct {
	all     map[string]tenant.Metrics
	sys     tenant.SystemMetrics
	tenants []tenant.Tenant
}

func (f *fakeMetricsReader) AllMetrics() map[string]tenant.Metrics {
	out := make(map[string]tenant.Metrics, len(f.all))
	for k, v := range f.all {
		out[k] = v
	}
	return out
}

func (f *fakeMetricsReader) SystemMetricsSnapshot() tenant.SystemMetrics { return f.sys }
func (f *fakeMetricsReader) ListTenants() []tenant.Tenant               { return f.tenants }

type appliedSetting struct {
	tenantID string
	name     string
	value    interface{}
}

type fakeTenantAdmin struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	metrics map[string]tenant.Metrics
	applied []appliedSetting
	quotas  map[string]int
	cleared []string
}

func newFakeTenantAdmin() *fakeTenantAdmin {
	return &fakeTenantAdmin{
		tenants: make(map[string]*tenant.Tenant),
		metrics: make(map[string]tenant.Metrics),
		quotas:  make(map[string]int),
	}
}

func (f *fakeTenantAdmin) ListTenants() []tenant.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tenant.Tenant, 0, len(f.tenants))
	for _, t := range f.tenants {
		out = append(out, *t)
	}
	return out
}

func (f *fakeTenantAdmin) GetTenant(tenantID string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[tenantID]
	if !ok {
		return nil, platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTenantAdmin) AllMetrics() map[string]tenant.Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]tenant.Metrics, len(f.metrics))
	for k, v := range f.metrics {
		out[k] = v
	}
	return out
}

func (f *fakeTenantAdmin) UpdateQuota(ctx context.Context, tenantID string, memoryLimitMB int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotas[tenantID] = memoryLimitMB
	if t, ok := f.tenants[tenantID]; ok {
		t.MemoryLimitMB = memoryLimitMB
	}
	return nil
}

func (f *fakeTenantAdmin) ApplySetting(ctx context.Context, tenantID, name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, appliedSetting{tenantID: tenantID, name: name, value: value})
	return nil
}

func (f *fakeTenantAdmin) ClearTenantData(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, tenantID)
	return nil
}

type raisedAlert struct {
	title    string
	severity monitor.Severity
	source   string
}

type fakeHealthReader struct {
	mu     sync.Mutex
	health monitor.SystemHealth
	alerts []raisedAlert
}

func (f *fakeHealthReader) Health() monitor.SystemHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeHealthReader) RaiseAlert(ctx context.Context, title, message string, severity monitor.Severity, source, category string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, raisedAlert{title: title, severity: severity, source: source})
}
