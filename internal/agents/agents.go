// Package agents holds the platform's autonomous agents: scaling
// prediction, cache optimization, self-healing, and usage forecasting.
// Each agent is a periodic task driven by the orchestrator; agents reach
// the rest of the platform only through the narrow capability interfaces
// declared here.
package agents

import (
	"context"
	"time"

	"github.com/S-Corkum/caching-platform/internal/balancer"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/internal/tenant"
)

// Loop intervals per agent
const (
	ScalingInterval      = 60 * time.Second
	OptimizationInterval = 300 * time.Second
	HealingInterval      = 30 * time.Second
	PredictionInterval   = 300 * time.Second
)

// Agent is one autonomous agent. Run executes a single cycle; the
// orchestrator schedules it every Interval.
type Agent interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
	Info() Info
}

// Info is the agent summary surfaced by get_agent_status
type Info struct {
	Name         string                 `json:"name"`
	LastActivity time.Time              `json:"last_activity"`
	Metrics      map[string]interface{} `json:"metrics"`
}

// MetricsReader is the slice of the cache manager agents read metrics from
type MetricsReader interface {
	AllMetrics() map[string]tenant.Metrics
	SystemMetricsSnapshot() tenant.SystemMetrics
	ListTenants() []tenant.Tenant
}

// TenantAdmin is the slice of the cache manager agents tune tenants through
type TenantAdmin interface {
	ListTenants() []tenant.Tenant
	GetTenant(tenantID string) (*tenant.Tenant, error)
	AllMetrics() map[string]tenant.Metrics
	UpdateQuota(ctx context.Context, tenantID string, memoryLimitMB int) error
	ApplySetting(ctx context.Context, tenantID, name string, value interface{}) error
	ClearTenantData(ctx context.Context, tenantID string) error
}

// ScaleControl is the slice of the auto-scaler agents steer
type ScaleControl interface {
	Status() scaler.Status
	Config() config.ScalingConfig
	SetPredictions(p scaler.Predictions)
	PerformanceHistory(window time.Duration) []scaler.PerformanceRecord
	ForceScale(ctx context.Context, target int, reason string) (*scaler.Decision, error)
}

// HealthReader is the slice of the health monitor agents observe and
// report through.
type HealthReader interface {
	Health() monitor.SystemHealth
	RaiseAlert(ctx context.Context, title, message string, severity monitor.Severity, source, category string)
}

// ClusterReader is the slice of the load balancer the healing agent
// watches for node failures
type ClusterReader interface {
	ClusterStatus() balancer.Status
}
