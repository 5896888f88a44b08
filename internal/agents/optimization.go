package agents

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

const (
	// improvementThreshold gates which recommendations get applied
	improvementThreshold = 0.05
	hotKeyCacheSize      = 1024
	appliedHistoryCap    = 500
)

// Recommendation is one proposed tenant tuning
type Recommendation struct {
	TenantID            string      `json:"tenant_id"`
	Parameter           string      `json:"parameter"`
	CurrentValue        interface{} `json:"current_value"`
	RecommendedValue    interface{} `json:"recommended_value"`
	ExpectedImprovement float64     `json:"expected_improvement"`
	Confidence          float64     `json:"confidence"`
	Reasoning           string      `json:"reasoning"`
}

// AppliedOptimization records a recommendation that was carried out
type AppliedOptimization struct {
	Timestamp           time.Time   `json:"timestamp"`
	TenantID            string      `json:"tenant_id"`
	Parameter           string      `json:"parameter"`
	OldValue            interface{} `json:"old_value"`
	NewValue            interface{} `json:"new_value"`
	ExpectedImprovement float64     `json:"expected_improvement"`
}

// OptimizationAgent tunes tenant cache settings from observed behavior:
// TTL against hit ratio, quota against memory pressure, and eviction
// policy against key-access skew.
type OptimizationAgent struct {
	tenants TenantAdmin
	clock   platform.Clock
	logger  observability.Logger

	mu              sync.Mutex
	hotKeys         map[string]*lru.Cache[string, int]
	recommendations []Recommendation
	applied         []AppliedOptimization
	lastActivity    time.Time
}

// NewOptimizationAgent creates an optimization agent
func NewOptimizationAgent(tenants TenantAdmin, clock platform.Clock, logger observability.Logger) *OptimizationAgent {
	return &OptimizationAgent{
		tenants: tenants,
		clock:   clock,
		logger:  logger.WithPrefix("optimization-agent"),
		hotKeys: make(map[string]*lru.Cache[string, int]),
	}
}

func (a *OptimizationAgent) Name() string            { return "optimization" }
func (a *OptimizationAgent) Interval() time.Duration { return OptimizationInterval }

// ObserveAccess feeds one key access into the per-tenant hot-key window.
// The data plane calls this on every read.
func (a *OptimizationAgent) ObserveAccess(tenantID, key string) {
	a.mu.Lock()
	cache, ok := a.hotKeys[tenantID]
	if !ok {
		// Size errors only happen for non-positive sizes.
		cache, _ = lru.New[string, int](hotKeyCacheSize)
		a.hotKeys[tenantID] = cache
	}
	a.mu.Unlock()

	count, _ := cache.Get(key)
	cache.Add(key, count+1)
}

// Run executes one optimization cycle: score every tenant, build
// recommendations, and apply those past the improvement threshold.
func (a *OptimizationAgent) Run(ctx context.Context) error {
	allMetrics := a.tenants.AllMetrics()
	recommendations := make([]Recommendation, 0)

	for _, t := range a.tenants.ListTenants() {
		metrics, ok := allMetrics[t.ID]
		if !ok {
			continue
		}

		memoryRatio := 0.0
		if t.MemoryLimitMB > 0 {
			memoryRatio = metrics.MemoryUsedMB / float64(t.MemoryLimitMB)
		}

		if rec := a.recommendTTL(t.ID, metrics.HitRatio, t.Settings["default_ttl"]); rec != nil {
			recommendations = append(recommendations, *rec)
		}
		if rec := a.recommendQuota(t.ID, t.MemoryLimitMB, memoryRatio); rec != nil {
			recommendations = append(recommendations, *rec)
		}
		if rec := a.recommendEviction(t.ID, t.Settings["eviction_policy"]); rec != nil {
			recommendations = append(recommendations, *rec)
		}
	}

	applied := 0
	for _, rec := range recommendations {
		if rec.ExpectedImprovement < improvementThreshold {
			continue
		}
		if err := a.apply(ctx, rec); err != nil {
			a.logger.Warn("failed to apply optimization", map[string]interface{}{
				"tenant":    rec.TenantID,
				"parameter": rec.Parameter,
				"error":     err.Error(),
			})
			continue
		}
		applied++
	}

	a.mu.Lock()
	a.recommendations = recommendations
	a.lastActivity = a.clock.Now()
	a.mu.Unlock()

	a.logger.Debug("optimization cycle complete", map[string]interface{}{
		"recommendations": len(recommendations),
		"applied":         applied,
	})
	return nil
}

// recommendTTL suggests raising TTL when misses dominate and lowering it
// when nearly everything hits.
func (a *OptimizationAgent) recommendTTL(tenantID string, hitRatio float64, current interface{}) *Recommendation {
	var recommended int
	var reasoning string
	switch {
	case hitRatio < 70:
		recommended = 3600
		reasoning = "low hit ratio, longer TTL keeps entries warm"
	case hitRatio > 95:
		recommended = 1800
		reasoning = "very high hit ratio, shorter TTL frees memory"
	default:
		return nil
	}
	if current == recommended {
		return nil
	}
	return &Recommendation{
		TenantID:            tenantID,
		Parameter:           "default_ttl",
		CurrentValue:        current,
		RecommendedValue:    recommended,
		ExpectedImprovement: 0.05,
		Confidence:          0.7,
		Reasoning:           reasoning,
	}
}

// recommendQuota suggests growing the memory quota when a tenant runs
// close to its limit.
func (a *OptimizationAgent) recommendQuota(tenantID string, currentMB int, memoryRatio float64) *Recommendation {
	if memoryRatio <= 0.9 {
		return nil
	}
	return &Recommendation{
		TenantID:            tenantID,
		Parameter:           "memory_limit_mb",
		CurrentValue:        currentMB,
		RecommendedValue:    int(float64(currentMB) * 1.5),
		ExpectedImprovement: 0.1,
		Confidence:          0.8,
		Reasoning:           "memory usage near quota, growing it avoids admission rejections",
	}
}

// recommendEviction reads the hot-key window: a strongly skewed access
// distribution favors LRU, a flat one favors random eviction.
func (a *OptimizationAgent) recommendEviction(tenantID string, current interface{}) *Recommendation {
	a.mu.Lock()
	cache, ok := a.hotKeys[tenantID]
	a.mu.Unlock()
	if !ok || cache.Len() < 2 {
		return nil
	}

	var total, hottest int
	for _, key := range cache.Keys() {
		count, _ := cache.Get(key)
		total += count
		if count > hottest {
			hottest = count
		}
	}
	if total == 0 {
		return nil
	}

	recommended := "allkeys-random"
	reasoning := "flat access distribution, random eviction is cheapest"
	if float64(hottest)/float64(total) > 0.5 {
		recommended = "allkeys-lru"
		reasoning = "access distribution is dominated by hot keys, LRU protects them"
	}
	if current == recommended {
		return nil
	}
	return &Recommendation{
		TenantID:            tenantID,
		Parameter:           "eviction_policy",
		CurrentValue:        current,
		RecommendedValue:    recommended,
		ExpectedImprovement: 0.03,
		Confidence:          0.6,
		Reasoning:           reasoning,
	}
}

func (a *OptimizationAgent) apply(ctx context.Context, rec Recommendation) error {
	if err := a.tenants.ApplySetting(ctx, rec.TenantID, rec.Parameter, rec.RecommendedValue); err != nil {
		return err
	}

	a.mu.Lock()
	a.applied = append(a.applied, AppliedOptimization{
		Timestamp:           a.clock.Now(),
		TenantID:            rec.TenantID,
		Parameter:           rec.Parameter,
		OldValue:            rec.CurrentValue,
		NewValue:            rec.RecommendedValue,
		ExpectedImprovement: rec.ExpectedImprovement,
	})
	if len(a.applied) > appliedHistoryCap {
		a.applied = a.applied[len(a.applied)-appliedHistoryCap:]
	}
	a.mu.Unlock()

	a.logger.Info("optimization applied", map[string]interface{}{
		"tenant":    rec.TenantID,
		"parameter": rec.Parameter,
		"value":     rec.RecommendedValue,
	})
	return nil
}

// Recommendations returns the latest cycle's recommendations
func (a *OptimizationAgent) Recommendations() []Recommendation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Recommendation, len(a.recommendations))
	copy(out, a.recommendations)
	return out
}

// Applied returns the applied-optimization history
func (a *OptimizationAgent) Applied() []AppliedOptimization {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AppliedOptimization, len(a.applied))
	copy(out, a.applied)
	return out
}

// Info implements Agent
func (a *OptimizationAgent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Info{
		Name:         a.Name(),
		LastActivity: a.lastActivity,
		Metrics: map[string]interface{}{
			"optimizations_applied": len(a.applied),
			"open_recommendations":  len(a.recommendations),
			"tenants_tracked":       len(a.hotKeys),
		},
	}
}
