// Package monitor implements the health monitor: periodic system and
// Redis probes, threshold alerts with lifecycle management, and the
// performance history behind get_performance_metrics.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Probe intervals and retention
const (
	SystemCheckInterval = 30 * time.Second
	RedisCheckInterval  = 10 * time.Second
	AlertSweepInterval  = time.Minute

	perfSampleCap = 1000
)

// SystemStats is one sample of host-level resource usage
type SystemStats struct {
	CPUPercent        float64
	MemoryPercent     float64
	DiskPercent       float64
	MemoryAvailableGB float64
	DiskFreeGB        float64
}

// SystemProbe samples host resource usage. The default uses gopsutil;
// tests substitute canned values.
type SystemProbe func(ctx context.Context) (SystemStats, error)

// DefaultSystemProbe reads CPU, memory, and disk usage from the host
func DefaultSystemProbe(ctx context.Context) (SystemStats, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return SystemStats{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return SystemStats{}, err
	}

	stats := SystemStats{
		MemoryPercent:     vm.UsedPercent,
		DiskPercent:       du.UsedPercent,
		MemoryAvailableGB: float64(vm.Available) / (1 << 30),
		DiskFreeGB:        float64(du.Free) / (1 << 30),
	}
	if len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}
	return stats, nil
}

// RedisProbe pings Redis and returns the round-trip time
type RedisProbe func(ctx context.Context) (time.Duration, error)

// CacheHealth is the slice of the cache manager the monitor needs
type CacheHealth interface {
	Healthy(ctx context.Context) error
	ActiveTenants() int
}

// Notifier receives critical alerts for escalation
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// HealthCheck is the recorded status of one component
type HealthCheck struct {
	Component      string                 `json:"component"`
	Status         string                 `json:"status"`
	Timestamp      time.Time              `json:"timestamp"`
	ResponseTimeMs float64                `json:"response_time_ms,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth is the aggregate health summary
type SystemHealth struct {
	Healthy    bool                   `json:"healthy"`
	Components map[string]HealthCheck `json:"components"`
	OpenAlerts int                    `json:"open_alerts"`
	Timestamp  time.Time              `json:"timestamp"`
}

type perfSample struct {
	at    time.Time
	value float64
}

// Monitor is the health monitor
type Monitor struct {
	systemProbe SystemProbe
	redisProbe  RedisProbe
	cacheHealth CacheHealth
	notifier    Notifier
	clock       platform.Clock
	logger      observability.Logger
	metrics     observability.MetricsClient

	mu         sync.Mutex
	thresholds map[string]float64
	health     map[string]HealthCheck
	alerts     []*Alert
	perf       map[string][]perfSample
}

// New creates a monitor. thresholds must contain cpu_usage, memory_usage,
// response_time, and error_rate entries; missing ones fall back to the
// platform defaults.
func New(systemProbe SystemProbe, redisProbe RedisProbe, cacheHealth CacheHealth, notifier Notifier,
	thresholds map[string]float64, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) *Monitor {

	defaults := map[string]float64{
		"cpu_usage":     85.0,
		"memory_usage":  90.0,
		"response_time": 100.0,
		"error_rate":    5.0,
		"disk_usage":    90.0,
	}
	for k, v := range thresholds {
		defaults[k] = v
	}

	return &Monitor{
		systemProbe: systemProbe,
		redisProbe:  redisProbe,
		cacheHealth: cacheHealth,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		thresholds:  defaults,
		health:      make(map[string]HealthCheck),
		perf:        make(map[string][]perfSample),
	}
}

// CheckSystem samples host resources, records performance history, and
// raises threshold alerts. Runs every SystemCheckInterval.
func (m *Monitor) CheckSystem(ctx context.Context) error {
	stats, err := m.systemProbe(ctx)
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "system probe failed")
	}

	now := m.clock.Now()

	m.mu.Lock()
	m.observeLocked("cpu_usage", stats.CPUPercent, now)
	m.observeLocked("memory_usage", stats.MemoryPercent, now)
	m.observeLocked("disk_usage", stats.DiskPercent, now)

	healthy := stats.CPUPercent < m.thresholds["cpu_usage"] && stats.MemoryPercent < m.thresholds["memory_usage"]
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	m.health["system"] = HealthCheck{
		Component: "system",
		Status:    status,
		Timestamp: now,
		Details: map[string]interface{}{
			"cpu_percent":         stats.CPUPercent,
			"memory_percent":      stats.MemoryPercent,
			"disk_percent":        stats.DiskPercent,
			"memory_available_gb": stats.MemoryAvailableGB,
			"disk_free_gb":        stats.DiskFreeGB,
		},
	}

	cpuThresh := m.thresholds["cpu_usage"]
	memThresh := m.thresholds["memory_usage"]
	diskThresh := m.thresholds["disk_usage"]
	m.mu.Unlock()

	m.metrics.RecordHealthStatus("system", healthy)
	m.metrics.RecordGauge("system_cpu_percent", stats.CPUPercent, nil)
	m.metrics.RecordGauge("system_memory_percent", stats.MemoryPercent, nil)

	if stats.CPUPercent > cpuThresh {
		m.raiseAlert(ctx, "High CPU Usage",
			fmt.Sprintf("CPU usage is %.1f%% (threshold: %.0f%%)", stats.CPUPercent, cpuThresh),
			severityFor(stats.CPUPercent), "system_monitor", "performance")
	}
	if stats.MemoryPercent > memThresh {
		m.raiseAlert(ctx, "High Memory Usage",
			fmt.Sprintf("Memory usage is %.1f%% (threshold: %.0f%%)", stats.MemoryPercent, memThresh),
			severityFor(stats.MemoryPercent), "system_monitor", "performance")
	}
	if stats.DiskPercent > diskThresh {
		m.raiseAlert(ctx, "High Disk Usage",
			fmt.Sprintf("Disk usage is %.1f%%", stats.DiskPercent),
			SeverityWarning, "system_monitor", "storage")
	}
	return nil
}

// severityFor escalates to critical when a resource is nearly exhausted
func severityFor(percent float64) Severity {
	if percent >= 95 {
		return SeverityCritical
	}
	return SeverityWarning
}

// CheckRedis probes Redis and the cache manager. Runs every
// RedisCheckInterval.
func (m *Monitor) CheckRedis(ctx context.Context) error {
	now := m.clock.Now()

	rtt, err := m.redisProbe(ctx)
	redisHealthy := err == nil && rtt < time.Second
	rttMs := float64(rtt.Microseconds()) / 1000.0

	status := "healthy"
	if !redisHealthy {
		status = "unhealthy"
	}
	details := map[string]interface{}{"connection_ok": redisHealthy}
	if err != nil {
		details["error"] = err.Error()
	}

	m.mu.Lock()
	m.health["redis"] = HealthCheck{
		Component:      "redis",
		Status:         status,
		Timestamp:      now,
		ResponseTimeMs: rttMs,
		Details:        details,
	}
	m.observeLocked("response_time", rttMs, now)
	respThresh := m.thresholds["response_time"]
	m.mu.Unlock()

	m.metrics.RecordHealthStatus("redis", redisHealthy)

	if !redisHealthy {
		msg := "Redis ping failed"
		if err == nil {
			msg = fmt.Sprintf("Redis ping took %.1fms", rttMs)
		}
		m.raiseAlert(ctx, "Redis Unavailable", msg, SeverityCritical, "redis_monitor", "availability")
	} else if rttMs > respThresh {
		m.raiseAlert(ctx, "Slow Redis Response",
			fmt.Sprintf("Redis ping took %.1fms (threshold: %.0fms)", rttMs, respThresh),
			SeverityWarning, "redis_monitor", "performance")
	}

	cmErr := m.cacheHealth.Healthy(ctx)
	cmStatus := "healthy"
	if cmErr != nil {
		cmStatus = "unhealthy"
	}
	m.mu.Lock()
	m.health["cache_manager"] = HealthCheck{
		Component: "cache_manager",
		Status:    cmStatus,
		Timestamp: now,
		Details: map[string]interface{}{
			"tenants_count": m.cacheHealth.ActiveTenants(),
		},
	}
	m.mu.Unlock()
	m.metrics.RecordHealthStatus("cache_manager", cmErr == nil)

	return nil
}

// RaiseAlert records an alert on behalf of another component, subject to
// the same suppression and escalation rules as the monitor's own checks.
func (m *Monitor) RaiseAlert(ctx context.Context, title, message string, severity Severity, source, category string) {
	m.raiseAlert(ctx, title, message, severity, source, category)
}

// raiseAlert creates an alert unless an identical one from the same source
// fired inside the suppression window. Critical alerts go straight to the
// notifier.
func (m *Monitor) raiseAlert(ctx context.Context, title, message string, severity Severity, source, category string) {
	now := m.clock.Now()

	m.mu.Lock()
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.Source == source && a.Title == title && now.Sub(a.CreatedAt) < duplicateSuppression {
			m.mu.Unlock()
			return
		}
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Source:    source,
		Category:  category,
		CreatedAt: now,
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertCap {
		m.alerts = m.alerts[len(m.alerts)-alertCap:]
	}
	m.mu.Unlock()

	m.logger.Warn("alert raised", map[string]interface{}{
		"title":    title,
		"severity": string(severity),
		"source":   source,
	})
	m.metrics.RecordAlert(string(severity), source)

	if severity == SeverityCritical {
		m.escalate(ctx, alert)
	}
}

func (m *Monitor) escalate(ctx context.Context, alert *Alert) {
	m.mu.Lock()
	if alert.escalated {
		m.mu.Unlock()
		return
	}
	alert.escalated = true
	cp := *alert
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, cp); err != nil {
		m.logger.Error("alert escalation failed", map[string]interface{}{
			"alert": cp.ID,
			"error": err.Error(),
		})
	}
}

// SweepAlerts is the periodic alert janitor: it escalates unacknowledged
// criticals, auto-resolves stale informational alerts, and purges alerts
// past retention. Runs every AlertSweepInterval.
func (m *Monitor) SweepAlerts(ctx context.Context) error {
	now := m.clock.Now()

	m.mu.Lock()
	var toEscalate []*Alert
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if now.Sub(a.CreatedAt) > alertRetention {
			continue
		}
		if a.Severity == SeverityCritical && !a.Acknowledged && !a.escalated {
			toEscalate = append(toEscalate, a)
		}
		if a.Severity == SeverityInfo && !a.Resolved && now.Sub(a.CreatedAt) > infoAutoResolve {
			a.Resolved = true
			resolvedAt := now
			a.ResolvedAt = &resolvedAt
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	m.mu.Unlock()

	for _, a := range toEscalate {
		m.escalate(ctx, a)
	}
	return nil
}

// Alerts returns alerts, newest first, optionally filtered by severity.
// Resolved alerts are excluded unless includeResolved is set.
func (m *Monitor) Alerts(severity Severity, includeResolved bool, limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if severity != "" && a.Severity != severity {
			continue
		}
		if a.Resolved && !includeResolved {
			continue
		}
		out = append(out, *a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Acknowledge marks an alert as seen
func (m *Monitor) Acknowledge(alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID {
			a.Acknowledged = true
			at := m.clock.Now()
			a.AcknowledgedAt = &at
			return nil
		}
	}
	return platform.Newf(platform.CodeNotFound, "alert %s not found", alertID)
}

// Resolve closes an alert
func (m *Monitor) Resolve(alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID {
			a.Resolved = true
			at := m.clock.Now()
			a.ResolvedAt = &at
			return nil
		}
	}
	return platform.Newf(platform.CodeNotFound, "alert %s not found", alertID)
}

// SetThresholds replaces alert thresholds. Unknown names are rejected so
// typos do not silently disable alerting.
func (m *Monitor) SetThresholds(thresholds map[string]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, value := range thresholds {
		if _, known := m.thresholds[name]; !known {
			return platform.Newf(platform.CodeInvalidArgument, "unknown threshold %q", name)
		}
		if value <= 0 {
			return platform.Newf(platform.CodeInvalidValue, "threshold %q must be positive", name)
		}
	}
	for name, value := range thresholds {
		m.thresholds[name] = value
	}
	return nil
}

// Health returns the aggregate health summary
func (m *Monitor) Health() SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := SystemHealth{
		Healthy:    true,
		Components: make(map[string]HealthCheck, len(m.health)),
		Timestamp:  m.clock.Now(),
	}
	for name, check := range m.health {
		summary.Components[name] = check
		if check.Status != "healthy" {
			summary.Healthy = false
		}
	}
	for _, a := range m.alerts {
		if !a.Resolved {
			summary.OpenAlerts++
		}
	}
	return summary
}

// RunHealthCheck runs one component's probe on demand. An empty component
// runs everything.
func (m *Monitor) RunHealthCheck(ctx context.Context, component string) (map[string]HealthCheck, error) {
	switch component {
	case "system":
		if err := m.CheckSystem(ctx); err != nil {
			return nil, err
		}
	case "redis", "cache_manager":
		if err := m.CheckRedis(ctx); err != nil {
			return nil, err
		}
	case "":
		if err := m.CheckSystem(ctx); err != nil {
			return nil, err
		}
		if err := m.CheckRedis(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, platform.Newf(platform.CodeInvalidArgument, "unknown component %q", component)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HealthCheck, len(m.health))
	for name, check := range m.health {
		if component == "" || name == component || (component == "redis" && name == "cache_manager") {
			out[name] = check
		}
	}
	return out, nil
}

func (m *Monitor) observeLocked(metric string, value float64, at time.Time) {
	samples := append(m.perf[metric], perfSample{at: at, value: value})
	if len(samples) > perfSampleCap {
		samples = samples[len(samples)-perfSampleCap:]
	}
	m.perf[metric] = samples
}

// MetricSummary is the min/avg/max digest of one performance metric
type MetricSummary struct {
	Metric  string  `json:"metric"`
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
}

// PerformanceMetrics summarizes retained samples from the last window
func (m *Monitor) PerformanceMetrics(window time.Duration) []MetricSummary {
	cutoff := m.clock.Now().Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.perf))
	for name := range m.perf {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MetricSummary, 0, len(names))
	for _, name := range names {
		summary := MetricSummary{Metric: name}
		var sum float64
		for _, s := range m.perf[name] {
			if s.at.Before(cutoff) {
				continue
			}
			if summary.Samples == 0 || s.value < summary.Min {
				summary.Min = s.value
			}
			if summary.Samples == 0 || s.value > summary.Max {
				summary.Max = s.value
			}
			sum += s.value
			summary.Samples++
		}
		if summary.Samples > 0 {
			summary.Avg = sum / float64(summary.Samples)
		}
		out = append(out, summary)
	}
	return out
}
