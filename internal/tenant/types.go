// Package tenant implements the multi-tenant cache manager: tenant
// registry, key namespacing, admission control, per-tenant metrics, and
// backup/restore.
package tenant

import (
	"strings"
	"time"

	"github.com/S-Corkum/caching-platform/internal/platform"
)

// Status is the lifecycle state of a tenant
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusDeleted   Status = "deleted"
)

// Tenant is the unit of isolation. All of a tenant's keys live under the
// cache:{id}: namespace; quotas and rate limits apply per tenant.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Resource quotas
	MemoryLimitMB     int `json:"memory_limit_mb"`
	RequestsPerSecond int `json:"requests_per_second"`
	MaxConnections    int `json:"max_connections"`

	// Tenant-specific settings (default_ttl, eviction_policy, ...)
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// Validate normalizes and checks tenant fields. IDs are lowercased so the
// key namespace is case-insensitive.
func (t *Tenant) Validate() error {
	t.ID = strings.ToLower(strings.TrimSpace(t.ID))
	if len(t.ID) < 3 {
		return platform.New(platform.CodeInvalidArgument, "tenant id must be at least 3 characters")
	}
	if len(strings.TrimSpace(t.Name)) < 2 {
		return platform.New(platform.CodeInvalidArgument, "tenant name must be at least 2 characters")
	}
	if t.MemoryLimitMB < 64 || t.MemoryLimitMB > 8192 {
		return platform.New(platform.CodeInvalidValue, "memory limit must be between 64 and 8192 MB")
	}
	if t.RequestsPerSecond < 1 || t.RequestsPerSecond > 10000 {
		return platform.New(platform.CodeInvalidValue, "requests per second must be between 1 and 10000")
	}
	if t.MaxConnections < 1 {
		return platform.New(platform.CodeInvalidValue, "max connections must be at least 1")
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	return nil
}

// SnapshotEntry is one key captured in a tenant backup
type SnapshotEntry struct {
	Value string `json:"value"`
	// TTLSeconds is zero for keys without expiry
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// Snapshot is a point-in-time backup of a tenant's key space
type Snapshot struct {
	ID        string                   `json:"id"`
	TenantID  string                   `json:"tenant_id"`
	CreatedAt time.Time                `json:"created_at"`
	KeyCount  int                      `json:"key_count"`
	SizeBytes int64                    `json:"size_bytes"`
	Checksum  string                   `json:"checksum"`
	Data      map[string]SnapshotEntry `json:"data"`
}

// Keyspace prefixes
const (
	cacheKeyPrefix  = "cache:"
	tenantKeyPrefix = "tenant:"
	systemMetricKey = "metrics:system"
)

// CacheKey returns the namespaced key for a tenant's cache entry
func CacheKey(tenantID, key string) string {
	return cacheKeyPrefix + tenantID + ":" + key
}

// tenantKey returns the registry key holding a tenant record
func tenantKey(tenantID string) string {
	return tenantKeyPrefix + tenantID
}

// tenantPattern matches every cache key owned by the tenant
func tenantPattern(tenantID string) string {
	return cacheKeyPrefix + tenantID + ":*"
}
