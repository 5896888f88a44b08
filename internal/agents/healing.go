package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// IssueType classifies a detected problem
type IssueType string

const (
	IssueHighCPU         IssueType = "high_cpu"
	IssueHighMemory      IssueType = "high_memory"
	IssueRedisConnection IssueType = "redis_connection"
	IssueSlowResponse    IssueType = "slow_response"
	IssueLowHitRatio     IssueType = "low_hit_ratio"
	IssueNodeFailure     IssueType = "node_failure"
	IssueNetworkIssue    IssueType = "network_issue"
	IssueQuotaExceeded   IssueType = "quota_exceeded"
)

// HealingAction is one remediation step
type HealingAction string

const (
	ActionScaleUp        HealingAction = "scale_up"
	ActionClearCache     HealingAction = "clear_cache"
	ActionAdjustQuota    HealingAction = "adjust_quota"
	ActionRestartService HealingAction = "restart_service"
	ActionOptimizeConfig HealingAction = "optimize_config"
	ActionSendAlert      HealingAction = "send_alert"
)

// issueRetention bounds how long resolved issues and resolution records
// are kept.
const issueRetention = 24 * time.Hour

// Issue is one detected problem
type Issue struct {
	ID         string             `json:"id"`
	Type       IssueType          `json:"type"`
	Severity   monitor.Severity   `json:"severity"`
	Component  string             `json:"component"`
	Details    string             `json:"details"`
	Metrics    map[string]float64 `json:"metrics"`
	DetectedAt time.Time          `json:"detected_at"`
}

// resolutionStrategy describes how an issue type is handled
type resolutionStrategy struct {
	priority       int
	autoResolvable bool
	maxAttempts    int
	actions        []HealingAction
	successProb    float64
}

// ResolutionRecord is one resolution attempt and its outcome
type ResolutionRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	IssueID   string          `json:"issue_id"`
	IssueType IssueType       `json:"issue_type"`
	Actions   []HealingAction `json:"actions"`
	Success   bool            `json:"success"`
}

// HealingAgent detects system and tenant issues and resolves the ones it
// can: clearing overgrown caches, growing quotas, requesting capacity.
// Issues it cannot fix become alerts for operators.
type HealingAgent struct {
	health  HealthReader
	tenants TenantAdmin
	scale   ScaleControl
	cluster ClusterReader
	clock   platform.Clock
	logger  observability.Logger

	strategies map[IssueType]resolutionStrategy

	mu           sync.Mutex
	active       map[string]*Issue
	attempts     map[string]int
	resolved     []Issue
	history      []ResolutionRecord
	lastActivity time.Time
}

// NewHealingAgent creates a healing agent
func NewHealingAgent(health HealthReader, tenants TenantAdmin, scale ScaleControl,
	cluster ClusterReader, clock platform.Clock, logger observability.Logger) *HealingAgent {
	return &HealingAgent{
		health:     health,
		tenants:    tenants,
		scale:      scale,
		cluster:    cluster,
		clock:      clock,
		logger:     logger.WithPrefix("healing-agent"),
		strategies: defaultStrategies(),
		active:     make(map[string]*Issue),
		attempts:   make(map[string]int),
	}
}

// defaultStrategies is the per-issue-type resolution table. Priority 0 is
// most urgent. Network issues need a human.
func defaultStrategies() map[IssueType]resolutionStrategy {
	return map[IssueType]resolutionStrategy{
		IssueHighCPU:         {priority: 1, autoResolvable: true, maxAttempts: 3, actions: []HealingAction{ActionScaleUp, ActionOptimizeConfig}, successProb: 0.8},
		IssueHighMemory:      {priority: 1, autoResolvable: true, maxAttempts: 3, actions: []HealingAction{ActionClearCache, ActionScaleUp}, successProb: 0.8},
		IssueRedisConnection: {priority: 0, autoResolvable: true, maxAttempts: 2, actions: []HealingAction{ActionRestartService}, successProb: 0.8},
		IssueSlowResponse:    {priority: 2, autoResolvable: true, maxAttempts: 3, actions: []HealingAction{ActionOptimizeConfig, ActionScaleUp}, successProb: 0.8},
		IssueLowHitRatio:     {priority: 3, autoResolvable: true, maxAttempts: 5, actions: []HealingAction{ActionOptimizeConfig}, successProb: 0.75},
		IssueNodeFailure:     {priority: 0, autoResolvable: true, maxAttempts: 1, actions: []HealingAction{ActionScaleUp, ActionSendAlert}, successProb: 0.7},
		IssueNetworkIssue:    {priority: 0, autoResolvable: false, maxAttempts: 0, actions: []HealingAction{ActionSendAlert}, successProb: 0.3},
		IssueQuotaExceeded:   {priority: 2, autoResolvable: true, maxAttempts: 2, actions: []HealingAction{ActionAdjustQuota}, successProb: 0.9},
	}
}

func (a *HealingAgent) Name() string            { return "healing" }
func (a *HealingAgent) Interval() time.Duration { return HealingInterval }

// Run executes one healing cycle: detect, resolve, clean up
func (a *HealingAgent) Run(ctx context.Context) error {
	issues := a.detect()

	a.mu.Lock()
	for i := range issues {
		issue := issues[i]
		if _, exists := a.active[issue.ID]; !exists {
			a.active[issue.ID] = &issue
		}
	}
	a.mu.Unlock()

	for _, issue := range issues {
		a.health.RaiseAlert(ctx, fmt.Sprintf("System Issue: %s", issue.Type), issue.Details,
			issue.Severity, "healing_agent", "system_health")
	}

	a.resolveActive(ctx)
	a.cleanup()

	a.mu.Lock()
	a.lastActivity = a.clock.Now()
	a.mu.Unlock()
	return nil
}

// detect inspects health checks and tenant metrics for known issue
// signatures. Issue IDs are stable per (type, component) so repeated
// cycles track one issue instead of minting duplicates.
func (a *HealingAgent) detect() []Issue {
	now := a.clock.Now()
	var issues []Issue

	health := a.health.Health()

	if system, ok := health.Components["system"]; ok {
		cpu := detailFloat(system.Details, "cpu_percent")
		memory := detailFloat(system.Details, "memory_percent")

		if cpu > 85 {
			issues = append(issues, Issue{
				ID:         string(IssueHighCPU) + ":system",
				Type:       IssueHighCPU,
				Severity:   severityAbove(cpu, 95),
				Component:  "system",
				Details:    fmt.Sprintf("CPU usage at %.1f%%", cpu),
				Metrics:    map[string]float64{"cpu_percent": cpu},
				DetectedAt: now,
			})
		}
		if memory > 85 {
			issues = append(issues, Issue{
				ID:         string(IssueHighMemory) + ":system",
				Type:       IssueHighMemory,
				Severity:   severityAbove(memory, 95),
				Component:  "system",
				Details:    fmt.Sprintf("Memory usage at %.1f%%", memory),
				Metrics:    map[string]float64{"memory_percent": memory},
				DetectedAt: now,
			})
		}
	}

	if redis, ok := health.Components["redis"]; ok && redis.Status != "healthy" {
		issues = append(issues, Issue{
			ID:         string(IssueRedisConnection) + ":redis",
			Type:       IssueRedisConnection,
			Severity:   monitor.SeverityCritical,
			Component:  "redis",
			Details:    "Redis connection is unhealthy",
			DetectedAt: now,
		})
	}

	issues = append(issues, a.detectNodeIssues(now)...)
	issues = append(issues, a.detectTenantIssues(now)...)
	return issues
}

// detectNodeIssues inspects cluster node health. A single unhealthy node
// classifies as a node failure; the whole cluster unreachable at once
// points at the network and needs a human.
func (a *HealingAgent) detectNodeIssues(now time.Time) []Issue {
	if a.cluster == nil {
		return nil
	}
	status := a.cluster.ClusterStatus()
	if status.TotalNodes == 0 {
		return nil
	}

	if status.HealthyNodes == 0 {
		return []Issue{{
			ID:         string(IssueNetworkIssue) + ":cluster",
			Type:       IssueNetworkIssue,
			Severity:   monitor.SeverityCritical,
			Component:  "cluster",
			Details:    fmt.Sprintf("All %d nodes are unreachable", status.TotalNodes),
			Metrics:    map[string]float64{"total_nodes": float64(status.TotalNodes)},
			DetectedAt: now,
		}}
	}

	var issues []Issue
	for id, node := range status.Nodes {
		if node.Healthy {
			continue
		}
		issues = append(issues, Issue{
			ID:         string(IssueNodeFailure) + ":" + id,
			Type:       IssueNodeFailure,
			Severity:   monitor.SeverityCritical,
			Component:  id,
			Details:    fmt.Sprintf("Node %s is down", id),
			DetectedAt: now,
		})
	}
	return issues
}

// detectTenantIssues scans per-tenant metrics for degradations
func (a *HealingAgent) detectTenantIssues(now time.Time) []Issue {
	var issues []Issue
	allMetrics := a.tenants.AllMetrics()

	for _, t := range a.tenants.ListTenants() {
		metrics, ok := allMetrics[t.ID]
		if !ok || metrics.TotalRequests == 0 {
			continue
		}

		if metrics.AvgResponseTimeMs > 500 {
			issues = append(issues, Issue{
				ID:         string(IssueSlowResponse) + ":" + t.ID,
				Type:       IssueSlowResponse,
				Severity:   severityAbove(metrics.AvgResponseTimeMs, 1000),
				Component:  t.ID,
				Details:    fmt.Sprintf("Average response time for %s is %.1fms", t.ID, metrics.AvgResponseTimeMs),
				Metrics:    map[string]float64{"avg_response_time_ms": metrics.AvgResponseTimeMs},
				DetectedAt: now,
			})
		}
		if metrics.HitRatio < 50 && metrics.CacheHits+metrics.CacheMisses > 0 {
			issues = append(issues, Issue{
				ID:         string(IssueLowHitRatio) + ":" + t.ID,
				Type:       IssueLowHitRatio,
				Severity:   monitor.SeverityWarning,
				Component:  t.ID,
				Details:    fmt.Sprintf("Hit ratio for %s is %.1f%%", t.ID, metrics.HitRatio),
				Metrics:    map[string]float64{"hit_ratio": metrics.HitRatio},
				DetectedAt: now,
			})
		}
		if t.MemoryLimitMB > 0 {
			ratio := metrics.MemoryUsedMB / float64(t.MemoryLimitMB)
			if ratio > 0.95 {
				issues = append(issues, Issue{
					ID:         string(IssueQuotaExceeded) + ":" + t.ID,
					Type:       IssueQuotaExceeded,
					Severity:   monitor.SeverityWarning,
					Component:  t.ID,
					Details:    fmt.Sprintf("Tenant %s is at %.0f%% of its memory quota", t.ID, ratio*100),
					Metrics:    map[string]float64{"memory_usage_ratio": ratio},
					DetectedAt: now,
				})
			}
		}
	}
	return issues
}

// resolveActive walks active issues and executes each one's strategy.
// Actions run in order and the attempt halts on the first failure.
func (a *HealingAgent) resolveActive(ctx context.Context) {
	a.mu.Lock()
	pending := make([]*Issue, 0, len(a.active))
	for _, issue := range a.active {
		pending = append(pending, issue)
	}
	a.mu.Unlock()

	for _, issue := range pending {
		strategy, ok := a.strategies[issue.Type]
		if !ok || !strategy.autoResolvable || strategy.successProb < 0.7 {
			continue
		}

		a.mu.Lock()
		attempts := a.attempts[issue.ID]
		a.mu.Unlock()
		if attempts >= strategy.maxAttempts {
			continue
		}

		success := true
		for _, action := range strategy.actions {
			if err := a.execute(ctx, action, issue); err != nil {
				a.logger.Warn("healing action failed", map[string]interface{}{
					"issue":  issue.ID,
					"action": string(action),
					"error":  err.Error(),
				})
				success = false
				break
			}
		}

		a.mu.Lock()
		a.attempts[issue.ID]++
		a.history = append(a.history, ResolutionRecord{
			Timestamp: a.clock.Now(),
			IssueID:   issue.ID,
			IssueType: issue.Type,
			Actions:   strategy.actions,
			Success:   success,
		})
		if success {
			a.resolved = append(a.resolved, *issue)
			delete(a.active, issue.ID)
			delete(a.attempts, issue.ID)
		}
		a.mu.Unlock()

		if success {
			a.logger.Info("issue resolved", map[string]interface{}{
				"issue":   issue.ID,
				"type":    string(issue.Type),
				"actions": len(strategy.actions),
			})
		}
	}
}

// execute performs one healing action against the issue's component
func (a *HealingAgent) execute(ctx context.Context, action HealingAction, issue *Issue) error {
	switch action {
	case ActionScaleUp:
		status := a.scale.Status()
		if status.CurrentNodes >= status.MaxNodes {
			// Already at capacity; treat as done rather than failing the plan.
			return nil
		}
		_, err := a.scale.ForceScale(ctx, status.CurrentNodes+1,
			fmt.Sprintf("healing: %s", issue.Type))
		return err

	case ActionClearCache:
		if _, err := a.tenants.GetTenant(issue.Component); err != nil {
			// System-level memory pressure has no single tenant to clear.
			return nil
		}
		return a.tenants.ClearTenantData(ctx, issue.Component)

	case ActionAdjustQuota:
		t, err := a.tenants.GetTenant(issue.Component)
		if err != nil {
			return err
		}
		newQuota := int(float64(t.MemoryLimitMB) * 1.2)
		return a.tenants.UpdateQuota(ctx, issue.Component, newQuota)

	case ActionRestartService, ActionOptimizeConfig:
		// Delegated concerns: restarts belong to the process supervisor and
		// config tuning to the optimization agent. The healing agent just
		// records that they were requested.
		a.logger.Info("healing action requested", map[string]interface{}{
			"action": string(action),
			"issue":  issue.ID,
		})
		return nil

	case ActionSendAlert:
		a.health.RaiseAlert(ctx, fmt.Sprintf("Manual Intervention Needed: %s", issue.Type),
			issue.Details, monitor.SeverityCritical, "healing_agent", "escalation")
		return nil

	default:
		return platform.Newf(platform.CodeInvalidValue, "unknown healing action %q", action)
	}
}

// cleanup drops resolved issues and resolution records past retention
func (a *HealingAgent) cleanup() {
	cutoff := a.clock.Now().Add(-issueRetention)

	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.resolved[:0]
	for _, issue := range a.resolved {
		if issue.DetectedAt.After(cutoff) {
			kept = append(kept, issue)
		}
	}
	a.resolved = kept

	records := a.history[:0]
	for _, rec := range a.history {
		if rec.Timestamp.After(cutoff) {
			records = append(records, rec)
		}
	}
	a.history = records
}

// ActiveIssues returns a copy of the currently open issues
func (a *HealingAgent) ActiveIssues() []Issue {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Issue, 0, len(a.active))
	for _, issue := range a.active {
		out = append(out, *issue)
	}
	return out
}

// ResolutionHistory returns the retained resolution records
func (a *HealingAgent) ResolutionHistory() []ResolutionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ResolutionRecord, len(a.history))
	copy(out, a.history)
	return out
}

func (a *HealingAgent) successRate() float64 {
	if len(a.history) == 0 {
		return 0
	}
	var ok int
	for _, rec := range a.history {
		if rec.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(a.history))
}

// Info implements Agent
func (a *HealingAgent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Name:         a.Name(),
		LastActivity: a.lastActivity,
		Metrics: map[string]interface{}{
			"active_issues":   len(a.active),
			"resolved_issues": len(a.resolved),
			"success_rate":    a.successRate(),
		},
	}
}

func detailFloat(details map[string]interface{}, key string) float64 {
	if details == nil {
		return 0
	}
	if v, ok := details[key].(float64); ok {
		return v
	}
	return 0
}

func severityAbove(value, critical float64) monitor.Severity {
	if value >= critical {
		return monitor.SeverityCritical
	}
	return monitor.SeverityWarning
}
