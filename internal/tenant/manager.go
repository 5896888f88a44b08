package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/caching-platform/internal/cache"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Manager is the multi-tenant cache manager. It owns the tenant registry,
// enforces admission (status, memory quota, rate limit) before every data
// operation, and keeps per-tenant metrics.
type Manager struct {
	pool            *cache.Pool
	cfg             config.TenantConfig
	metricsInterval time.Duration
	clock           platform.Clock
	logger          observability.Logger
	metrics         observability.MetricsClient

	mu       sync.RWMutex
	tenants  map[string]*Tenant
	states   map[string]*metricsState
	limiters map[string]map[string]time.Time

	histMu    sync.Mutex
	history   []SystemMetrics
	startTime time.Time
}

// systemMetricsHistoryCap bounds the in-memory aggregate history
const systemMetricsHistoryCap = 100

// NewManager creates a cache manager on top of the shared Redis pool
func NewManager(pool *cache.Pool, cfg config.TenantConfig, metricsInterval time.Duration, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) *Manager {
	return &Manager{
		pool:            pool,
		cfg:             cfg,
		metricsInterval: metricsInterval,
		clock:           clock,
		logger:          logger,
		metrics:         metrics,
		tenants:         make(map[string]*Tenant),
		states:          make(map[string]*metricsState),
		limiters:        make(map[string]map[string]time.Time),
		startTime:       clock.Now(),
	}
}

// Initialize loads existing tenant records from Redis so the registry
// survives restarts.
func (m *Manager) Initialize(ctx context.Context) error {
	keys, err := m.pool.Keys(ctx, tenantKeyPrefix+"*")
	if err != nil {
		return platform.Wrap(err, platform.CodeBackendUnavailable, "failed to scan tenant records")
	}

	loaded := 0
	for _, key := range keys {
		raw, err := m.pool.Get(ctx, key)
		if err != nil {
			if platform.IsCode(err, platform.CodeNotFound) {
				continue
			}
			return err
		}
		var t Tenant
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			m.logger.Warn("skipping unreadable tenant record", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		m.mu.Lock()
		m.tenants[t.ID] = &t
		m.states[t.ID] = newMetricsState()
		m.limiters[t.ID] = make(map[string]time.Time)
		m.mu.Unlock()
		loaded++
	}

	m.logger.Info("tenant registry loaded", map[string]interface{}{"tenants": loaded})
	return nil
}

// CreateTenant registers a new tenant. Unset quotas fall back to the
// configured defaults.
func (m *Manager) CreateTenant(ctx context.Context, t Tenant) (*Tenant, error) {
	if t.MemoryLimitMB == 0 {
		t.MemoryLimitMB = m.cfg.DefaultMemoryMB
	}
	if t.RequestsPerSecond == 0 {
		t.RequestsPerSecond = m.cfg.DefaultRequestsPerSecond
	}
	if t.MaxConnections == 0 {
		t.MaxConnections = m.cfg.DefaultConnections
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.CreatedAt = m.clock.Now()
	t.UpdatedAt = t.CreatedAt

	m.mu.Lock()
	if _, exists := m.tenants[t.ID]; exists {
		m.mu.Unlock()
		return nil, platform.Newf(platform.CodeAlreadyExists, "tenant %s already exists", t.ID)
	}
	m.tenants[t.ID] = &t
	m.states[t.ID] = newMetricsState()
	m.limiters[t.ID] = make(map[string]time.Time)
	m.mu.Unlock()

	if err := m.persistTenant(ctx, &t); err != nil {
		m.mu.Lock()
		delete(m.tenants, t.ID)
		delete(m.states, t.ID)
		delete(m.limiters, t.ID)
		m.mu.Unlock()
		return nil, err
	}

	m.logger.Info("tenant created", map[string]interface{}{
		"tenant":          t.ID,
		"memory_limit_mb": t.MemoryLimitMB,
		"rps":             t.RequestsPerSecond,
	})
	return &t, nil
}

// DeleteTenant removes a tenant together with its whole key space
func (m *Manager) DeleteTenant(ctx context.Context, tenantID string) error {
	m.mu.RLock()
	_, exists := m.tenants[tenantID]
	m.mu.RUnlock()
	if !exists {
		return platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}

	keys, err := m.pool.Keys(ctx, tenantPattern(tenantID))
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if _, err := m.pool.Del(ctx, keys...); err != nil {
			return err
		}
	}
	if _, err := m.pool.Del(ctx, tenantKey(tenantID)); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tenants, tenantID)
	delete(m.states, tenantID)
	delete(m.limiters, tenantID)
	m.mu.Unlock()

	m.logger.Info("tenant deleted", map[string]interface{}{"tenant": tenantID, "keys_removed": len(keys)})
	return nil
}

// GetTenant returns a copy of the tenant record
func (m *Manager) GetTenant(tenantID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, exists := m.tenants[tenantID]
	if !exists {
		return nil, platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	cp := *t
	return &cp, nil
}

// ListTenants returns copies of all tenant records sorted by id
func (m *Manager) ListTenants() []Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateQuota changes a tenant's memory limit and persists the record
func (m *Manager) UpdateQuota(ctx context.Context, tenantID string, memoryLimitMB int) error {
	if memoryLimitMB < 64 || memoryLimitMB > 8192 {
		return platform.New(platform.CodeInvalidValue, "memory limit must be between 64 and 8192 MB")
	}
	return m.updateTenant(ctx, tenantID, func(t *Tenant) {
		t.MemoryLimitMB = memoryLimitMB
	})
}

// UpdateRateLimit changes a tenant's request rate quota and persists the
// record.
func (m *Manager) UpdateRateLimit(ctx context.Context, tenantID string, requestsPerSecond int) error {
	if requestsPerSecond < 1 || requestsPerSecond > 10000 {
		return platform.New(platform.CodeInvalidValue, "requests per second must be between 1 and 10000")
	}
	return m.updateTenant(ctx, tenantID, func(t *Tenant) {
		t.RequestsPerSecond = requestsPerSecond
	})
}

// ApplySetting updates a tenant configuration value. memory_limit_mb maps
// onto the quota; everything else lands in the settings bag.
func (m *Manager) ApplySetting(ctx context.Context, tenantID, name string, value interface{}) error {
	if name == "memory_limit_mb" {
		mb, ok := toInt(value)
		if !ok {
			return platform.Newf(platform.CodeInvalidValue, "memory_limit_mb must be numeric, got %T", value)
		}
		return m.UpdateQuota(ctx, tenantID, mb)
	}
	return m.updateTenant(ctx, tenantID, func(t *Tenant) {
		if t.Settings == nil {
			t.Settings = make(map[string]interface{})
		}
		t.Settings[name] = value
	})
}

func (m *Manager) updateTenant(ctx context.Context, tenantID string, mutate func(*Tenant)) error {
	m.mu.Lock()
	t, exists := m.tenants[tenantID]
	if !exists {
		m.mu.Unlock()
		return platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	mutate(t)
	t.UpdatedAt = m.clock.Now()
	cp := *t
	m.mu.Unlock()

	return m.persistTenant(ctx, &cp)
}

func (m *Manager) persistTenant(ctx context.Context, t *Tenant) error {
	data, err := json.Marshal(t)
	if err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to encode tenant record")
	}
	return m.pool.Set(ctx, tenantKey(t.ID), string(data))
}

// admit is the admission check run before every data-plane operation. The
// rate bucket is per (tenant, operation): a request is admitted when at
// least 1/rps has elapsed since the last admitted request of that kind.
func (m *Manager) admit(tenantID, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tenants[tenantID]
	if !exists {
		return platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	if t.Status != StatusActive {
		return platform.Newf(platform.CodeUnavailable, "tenant %s is %s", tenantID, t.Status)
	}

	state := m.states[tenantID]
	if state.MemoryUsedMB > float64(t.MemoryLimitMB) {
		return platform.Newf(platform.CodeQuotaExceeded, "tenant %s exceeded memory quota", tenantID)
	}

	now := m.clock.Now()
	rateKey := "rate:" + op
	minGap := time.Duration(float64(time.Second) / float64(t.RequestsPerSecond))
	if last, ok := m.limiters[tenantID][rateKey]; ok && now.Sub(last) < minGap {
		return platform.Newf(platform.CodeRateLimited, "tenant %s rate limit exceeded for %s", tenantID, op)
	}
	m.limiters[tenantID][rateKey] = now
	return nil
}

// Get fetches and decodes a tenant's cached value. A missing key is a
// recorded miss and comes back as not_found.
func (m *Manager) Get(ctx context.Context, tenantID, key string) (interface{}, error) {
	start := time.Now()
	if err := m.admit(tenantID, "get"); err != nil {
		return nil, err
	}

	raw, err := m.pool.Get(ctx, CacheKey(tenantID, key))
	if err != nil {
		if platform.IsCode(err, platform.CodeNotFound) {
			m.withState(tenantID, func(s *metricsState) { s.recordMiss() })
			m.finishOp(tenantID, "get", start, true)
			m.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
			return nil, platform.Newf(platform.CodeNotFound, "key %s not found for tenant %s", key, tenantID)
		}
		m.finishOp(tenantID, "get", start, false)
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		m.finishOp(tenantID, "get", start, false)
		return nil, platform.Wrap(err, platform.CodeInternal, "stored value is not valid JSON")
	}

	m.withState(tenantID, func(s *metricsState) { s.recordHit() })
	m.finishOp(tenantID, "get", start, true)
	m.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
	return value, nil
}

// Set stores a JSON-encoded value for a tenant, optionally with a TTL.
// The write is rejected up front if it would push the tenant past its
// memory quota.
func (m *Manager) Set(ctx context.Context, tenantID, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	if err := m.admit(tenantID, "set"); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return platform.Wrap(err, platform.CodeInvalidValue, "value is not JSON-serializable")
	}
	sizeMB := float64(len(data)) / (1024 * 1024)

	if err := m.reserveMemory(tenantID, sizeMB); err != nil {
		m.finishOp(tenantID, "set", start, false)
		return err
	}

	if ttl > 0 {
		err = m.pool.SetEx(ctx, CacheKey(tenantID, key), string(data), ttl)
	} else {
		err = m.pool.Set(ctx, CacheKey(tenantID, key), string(data))
	}
	if err != nil {
		m.withState(tenantID, func(s *metricsState) { s.MemoryUsedMB -= sizeMB })
		m.finishOp(tenantID, "set", start, false)
		return err
	}

	m.finishOp(tenantID, "set", start, true)
	m.metrics.RecordCacheOperation("set", true, time.Since(start).Seconds())
	return nil
}

// reserveMemory charges the write against the quota before it happens
func (m *Manager) reserveMemory(tenantID string, sizeMB float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.tenants[tenantID]
	if !exists {
		return platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	state := m.states[tenantID]
	if state.MemoryUsedMB+sizeMB > float64(t.MemoryLimitMB) {
		return platform.Newf(platform.CodeQuotaExceeded, "write would exceed memory quota for tenant %s", tenantID)
	}
	state.MemoryUsedMB += sizeMB
	return nil
}

// Delete removes a tenant's key and returns whether it existed
func (m *Manager) Delete(ctx context.Context, tenantID, key string) (bool, error) {
	start := time.Now()
	if err := m.admit(tenantID, "delete"); err != nil {
		return false, err
	}

	cacheKey := CacheKey(tenantID, key)

	// Credit the freed memory back before deleting.
	if raw, err := m.pool.Get(ctx, cacheKey); err == nil {
		freed := float64(len(raw)) / (1024 * 1024)
		m.withState(tenantID, func(s *metricsState) {
			s.MemoryUsedMB -= freed
			if s.MemoryUsedMB < 0 {
				s.MemoryUsedMB = 0
			}
		})
	}

	removed, err := m.pool.Del(ctx, cacheKey)
	if err != nil {
		m.finishOp(tenantID, "delete", start, false)
		return false, err
	}
	m.finishOp(tenantID, "delete", start, true)
	m.metrics.RecordCacheOperation("delete", removed > 0, time.Since(start).Seconds())
	return removed > 0, nil
}

// Exists reports whether a tenant key is present
func (m *Manager) Exists(ctx context.Context, tenantID, key string) (bool, error) {
	if _, err := m.GetTenant(tenantID); err != nil {
		return false, err
	}
	return m.pool.Exists(ctx, CacheKey(tenantID, key))
}

// Expire sets a TTL on an existing tenant key
func (m *Manager) Expire(ctx context.Context, tenantID, key string, ttl time.Duration) (bool, error) {
	if _, err := m.GetTenant(tenantID); err != nil {
		return false, err
	}
	return m.pool.Expire(ctx, CacheKey(tenantID, key), ttl)
}

// TTL returns the remaining TTL for a tenant key
func (m *Manager) TTL(ctx context.Context, tenantID, key string) (time.Duration, error) {
	if _, err := m.GetTenant(tenantID); err != nil {
		return 0, err
	}
	return m.pool.TTL(ctx, CacheKey(tenantID, key))
}

// Incr atomically increments a tenant counter
func (m *Manager) Incr(ctx context.Context, tenantID, key string, amount int64) (int64, error) {
	start := time.Now()
	if err := m.admit(tenantID, "incr"); err != nil {
		return 0, err
	}
	value, err := m.pool.IncrBy(ctx, CacheKey(tenantID, key), amount)
	m.finishOp(tenantID, "incr", start, err == nil)
	return value, err
}

// Decr atomically decrements a tenant counter
func (m *Manager) Decr(ctx context.Context, tenantID, key string, amount int64) (int64, error) {
	start := time.Now()
	if err := m.admit(tenantID, "decr"); err != nil {
		return 0, err
	}
	value, err := m.pool.DecrBy(ctx, CacheKey(tenantID, key), amount)
	m.finishOp(tenantID, "decr", start, err == nil)
	return value, err
}

// MGet fetches multiple tenant keys in one round trip; missing keys come
// back as nil entries and count as misses.
func (m *Manager) MGet(ctx context.Context, tenantID string, keys []string) ([]interface{}, error) {
	start := time.Now()
	if err := m.admit(tenantID, "mget"); err != nil {
		return nil, err
	}

	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = CacheKey(tenantID, key)
	}

	raw, err := m.pool.MGet(ctx, cacheKeys...)
	if err != nil {
		m.finishOp(tenantID, "mget", start, false)
		return nil, err
	}

	values := make([]interface{}, len(raw))
	for i, entry := range raw {
		if entry == nil {
			m.withState(tenantID, func(s *metricsState) { s.recordMiss() })
			continue
		}
		str, ok := entry.(string)
		if !ok {
			// A malformed slot yields nil, so it counts as a miss.
			m.withState(tenantID, func(s *metricsState) { s.recordMiss() })
			continue
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(str), &decoded); err != nil {
			m.withState(tenantID, func(s *metricsState) { s.recordMiss() })
			continue
		}
		values[i] = decoded
		m.withState(tenantID, func(s *metricsState) { s.recordHit() })
	}

	m.finishOp(tenantID, "mget", start, true)
	return values, nil
}

// MSet stores multiple tenant values in one round trip, charging the
// combined size against the quota first.
func (m *Manager) MSet(ctx context.Context, tenantID string, values map[string]interface{}) error {
	start := time.Now()
	if err := m.admit(tenantID, "mset"); err != nil {
		return err
	}

	pairs := make(map[string]string, len(values))
	var totalMB float64
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			m.finishOp(tenantID, "mset", start, false)
			return platform.Wrap(err, platform.CodeInvalidValue, "value is not JSON-serializable")
		}
		pairs[CacheKey(tenantID, key)] = string(data)
		totalMB += float64(len(data)) / (1024 * 1024)
	}

	if err := m.reserveMemory(tenantID, totalMB); err != nil {
		m.finishOp(tenantID, "mset", start, false)
		return err
	}

	if err := m.pool.MSet(ctx, pairs); err != nil {
		m.withState(tenantID, func(s *metricsState) { s.MemoryUsedMB -= totalMB })
		m.finishOp(tenantID, "mset", start, false)
		return err
	}

	m.finishOp(tenantID, "mset", start, true)
	return nil
}

// ClearTenantData wipes a tenant's key space and resets its metrics
func (m *Manager) ClearTenantData(ctx context.Context, tenantID string) error {
	if _, err := m.GetTenant(tenantID); err != nil {
		return err
	}

	keys, err := m.pool.Keys(ctx, tenantPattern(tenantID))
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		if _, err := m.pool.Del(ctx, keys...); err != nil {
			return err
		}
	}

	m.withState(tenantID, func(s *metricsState) { s.reset() })
	m.logger.Info("tenant data cleared", map[string]interface{}{"tenant": tenantID, "keys_removed": len(keys)})
	return nil
}

// BackupTenant captures the tenant's entire key space with TTLs
func (m *Manager) BackupTenant(ctx context.Context, tenantID string) (*Snapshot, error) {
	if _, err := m.GetTenant(tenantID); err != nil {
		return nil, err
	}

	keys, err := m.pool.Keys(ctx, tenantPattern(tenantID))
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		CreatedAt: m.clock.Now(),
		Data:      make(map[string]SnapshotEntry, len(keys)),
	}

	for _, key := range keys {
		value, err := m.pool.Get(ctx, key)
		if err != nil {
			if platform.IsCode(err, platform.CodeNotFound) {
				continue // expired between scan and read
			}
			return nil, err
		}
		ttl, err := m.pool.TTL(ctx, key)
		if err != nil {
			return nil, err
		}
		entry := SnapshotEntry{Value: value}
		if ttl > 0 {
			entry.TTLSeconds = int64(ttl.Seconds())
		}
		snap.Data[key] = entry
		snap.SizeBytes += int64(len(value))
	}

	snap.KeyCount = len(snap.Data)
	snap.Checksum = snapshotChecksum(snap.Data)

	m.logger.Info("tenant backup created", map[string]interface{}{
		"tenant": tenantID,
		"backup": snap.ID,
		"keys":   snap.KeyCount,
	})
	return snap, nil
}

// RestoreTenant replaces the tenant's key space with a snapshot's content.
// A checksum mismatch rejects the snapshot before anything is touched.
func (m *Manager) RestoreTenant(ctx context.Context, tenantID string, snap *Snapshot) error {
	if _, err := m.GetTenant(tenantID); err != nil {
		return err
	}
	if snap.TenantID != tenantID {
		return platform.Newf(platform.CodeInvalidArgument, "snapshot belongs to tenant %s", snap.TenantID)
	}
	if snap.Checksum != "" && snap.Checksum != snapshotChecksum(snap.Data) {
		return platform.New(platform.CodeInvalidValue, "snapshot checksum mismatch")
	}

	if err := m.ClearTenantData(ctx, tenantID); err != nil {
		return err
	}

	for key, entry := range snap.Data {
		var err error
		if entry.TTLSeconds > 0 {
			err = m.pool.SetEx(ctx, key, entry.Value, time.Duration(entry.TTLSeconds)*time.Second)
		} else {
			err = m.pool.Set(ctx, key, entry.Value)
		}
		if err != nil {
			return err
		}
	}

	m.logger.Info("tenant data restored", map[string]interface{}{
		"tenant": tenantID,
		"backup": snap.ID,
		"keys":   snap.KeyCount,
	})
	return nil
}

func snapshotChecksum(data map[string]SnapshotEntry) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(data[k].Value))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TenantMetrics returns a copy of a tenant's metrics
func (m *Manager) TenantMetrics(tenantID string) (Metrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.states[tenantID]
	if !exists {
		return Metrics{}, platform.Newf(platform.CodeNotFound, "tenant %s not found", tenantID)
	}
	return state.snapshot(), nil
}

// AllMetrics returns metrics for every tenant
func (m *Manager) AllMetrics() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Metrics, len(m.states))
	for id, state := range m.states {
		out[id] = state.snapshot()
	}
	return out
}

// SystemMetricsSnapshot aggregates per-tenant metrics into the
// platform-wide view.
func (m *Manager) SystemMetricsSnapshot() SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := SystemMetrics{
		Timestamp:     m.clock.Now(),
		ActiveTenants: len(m.tenants),
		UptimeSeconds: m.clock.Since(m.startTime).Seconds(),
	}

	var responseSum float64
	for _, state := range m.states {
		agg.TotalOperations += state.TotalRequests
		agg.TotalHits += state.CacheHits
		agg.TotalMisses += state.CacheMisses
		agg.MemoryUsageMB += state.MemoryUsedMB
		responseSum += state.AvgResponseTimeMs
	}
	if total := agg.TotalHits + agg.TotalMisses; total > 0 {
		agg.OverallHitRatio = clampPercent(float64(agg.TotalHits) / float64(total) * 100)
	}
	if len(m.states) > 0 {
		agg.AvgResponseTimeMs = responseSum / float64(len(m.states))
	}
	return agg
}

// CollectMetrics is the periodic system-metrics publisher. The record in
// Redis expires after two intervals so stale data never outlives a dead
// collector.
func (m *Manager) CollectMetrics(ctx context.Context) error {
	snapshot := m.SystemMetricsSnapshot()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to encode system metrics")
	}
	if err := m.pool.SetEx(ctx, systemMetricKey, string(data), 2*m.metricsInterval); err != nil {
		return err
	}

	m.histMu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > systemMetricsHistoryCap {
		m.history = m.history[len(m.history)-systemMetricsHistoryCap:]
	}
	m.histMu.Unlock()
	return nil
}

// MetricsHistory returns the retained system-metrics records, oldest first
func (m *Manager) MetricsHistory() []SystemMetrics {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	out := make([]SystemMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// Healthy pings Redis through the pool
func (m *Manager) Healthy(ctx context.Context) error {
	_, err := m.pool.Ping(ctx)
	return err
}

// ActiveTenants counts registered tenants
func (m *Manager) ActiveTenants() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tenants)
}

func (m *Manager) withState(tenantID string, fn func(*metricsState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, exists := m.states[tenantID]; exists {
		fn(state)
	}
}

func (m *Manager) finishOp(tenantID, op string, start time.Time, success bool) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	m.withState(tenantID, func(s *metricsState) {
		s.recordOperation(elapsed, success, m.clock.Now())
	})
	m.metrics.RecordTenantOperation(tenantID, op, success, time.Since(start).Seconds())
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
