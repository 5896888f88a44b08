package tenant

import (
	"math/rand"
	"sort"
	"time"
)

// reservoirSize bounds the response-time sample set per tenant. Beyond it,
// samples are admitted by reservoir sampling so percentiles stay
// representative at constant memory.
const reservoirSize = 1000

// Metrics is the per-tenant view of cache behavior. Counters are
// monotonic; derived ratios are recomputed on every update and clamped to
// [0,100].
type Metrics struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	CacheHits          int64     `json:"cache_hits"`
	CacheMisses        int64     `json:"cache_misses"`
	HitRatio           float64   `json:"hit_ratio"`
	ErrorRate          float64   `json:"error_rate"`
	AvgResponseTimeMs  float64   `json:"average_response_time_ms"`
	P50ResponseTimeMs  float64   `json:"p50_response_time_ms"`
	P95ResponseTimeMs  float64   `json:"p95_response_time_ms"`
	P99ResponseTimeMs  float64   `json:"p99_response_time_ms"`
	MemoryUsedMB       float64   `json:"memory_used_mb"`
	Timestamp          time.Time `json:"timestamp"`
}

// metricsState holds the mutable tracking behind a tenant's Metrics,
// including the response-time reservoir that never leaves the manager.
type metricsState struct {
	Metrics
	samples []float64
	seen    int64
	rng     *rand.Rand
}

func newMetricsState() *metricsState {
	return &metricsState{
		samples: make([]float64, 0, 64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// recordOperation folds one completed operation into the metrics
func (s *metricsState) recordOperation(responseTimeMs float64, success bool, now time.Time) {
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
	} else {
		s.FailedRequests++
	}

	if responseTimeMs > 0 {
		// Incremental mean avoids keeping the full history.
		s.AvgResponseTimeMs += (responseTimeMs - s.AvgResponseTimeMs) / float64(s.TotalRequests)
		s.observe(responseTimeMs)
		s.P50ResponseTimeMs = s.percentile(50)
		s.P95ResponseTimeMs = s.percentile(95)
		s.P99ResponseTimeMs = s.percentile(99)
	}

	if total := s.CacheHits + s.CacheMisses; total > 0 {
		s.HitRatio = clampPercent(float64(s.CacheHits) / float64(total) * 100)
	}
	if s.TotalRequests > 0 {
		s.ErrorRate = clampPercent(float64(s.FailedRequests) / float64(s.TotalRequests) * 100)
	}
	s.Timestamp = now
}

func (s *metricsState) recordHit()  { s.CacheHits++ }
func (s *metricsState) recordMiss() { s.CacheMisses++ }

// observe admits a sample into the bounded reservoir
func (s *metricsState) observe(v float64) {
	s.seen++
	if len(s.samples) < reservoirSize {
		s.samples = append(s.samples, v)
		return
	}
	if idx := s.rng.Int63n(s.seen); idx < reservoirSize {
		s.samples[idx] = v
	}
}

// percentile computes the p-th percentile over the current reservoir
func (s *metricsState) percentile(p float64) float64 {
	if len(s.samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	sort.Float64s(sorted)

	rank := int(p / 100 * float64(len(sorted)-1))
	return sorted[rank]
}

// snapshot returns a copy safe to hand to callers
func (s *metricsState) snapshot() Metrics {
	return s.Metrics
}

// reset clears everything, keeping the reservoir allocation
func (s *metricsState) reset() {
	s.Metrics = Metrics{}
	s.samples = s.samples[:0]
	s.seen = 0
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SystemMetrics is the platform-wide aggregate written to metrics:system
type SystemMetrics struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalOperations   int64     `json:"total_operations"`
	TotalHits         int64     `json:"total_hits"`
	TotalMisses       int64     `json:"total_misses"`
	OverallHitRatio   float64   `json:"overall_hit_ratio"`
	ActiveTenants     int       `json:"active_tenants"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
	MemoryUsageMB     float64   `json:"memory_usage_mb"`
	AvgResponseTimeMs float64   `json:"average_response_time_ms"`
}
