package core

import (
	"encoding/json"

	"github.com/S-Corkum/caching-platform/internal/platform"
)

// Command names the operations the orchestrator accepts. The set is
// closed: anything else is rejected as unknown_command in one place.
type Command string

const (
	CmdCreateTenant       Command = "create_tenant"
	CmdDeleteTenant       Command = "delete_tenant"
	CmdListTenants        Command = "list_tenants"
	CmdGetTenantDetails   Command = "get_tenant_details"
	CmdModifyTenantQuotas Command = "modify_tenant_quotas"
	CmdCacheGet           Command = "cache_get"
	CmdCacheSet           Command = "cache_set"
	CmdCacheDelete        Command = "cache_delete"
	CmdGetMetrics         Command = "get_metrics"
	CmdGetClusterStatus   Command = "get_cluster_status"
	CmdScaleCluster       Command = "scale_cluster"
	CmdGetScalingStatus   Command = "get_scaling_status"
	CmdConfigureScaling   Command = "configure_scaling"
	CmdAcknowledgeAlert   Command = "acknowledge_alert"
	CmdResolveAlert       Command = "resolve_alert"
	CmdCreateBackup       Command = "create_backup"
	CmdRestoreBackup      Command = "restore_backup"
	CmdHealthCheck        Command = "health_check"
	CmdLoadTest           Command = "load_test"
)

// CreateTenantParams are the arguments to create_tenant. Zero quotas fall
// back to the configured tenant defaults.
type CreateTenantParams struct {
	Name                   string `json:"name"`
	QuotaMemoryMB          int    `json:"quota_memory_mb"`
	QuotaRequestsPerSecond int    `json:"quota_requests_per_second"`
	QuotaConnections       int    `json:"quota_connections"`
}

// TenantNameParams names the tenant a command operates on
type TenantNameParams struct {
	Name string `json:"name"`
}

// ModifyQuotasParams carries optional quota overrides; nil fields are
// left unchanged.
type ModifyQuotasParams struct {
	Name                   string `json:"name"`
	QuotaMemoryMB          *int   `json:"quota_memory_mb"`
	QuotaRequestsPerSecond *int   `json:"quota_requests_per_second"`
}

// CacheGetParams are the arguments to cache_get
type CacheGetParams struct {
	Tenant string `json:"tenant"`
	Key    string `json:"key"`
}

// CacheSetParams are the arguments to cache_set. TTL is in seconds; zero
// means no expiry.
type CacheSetParams struct {
	Tenant     string      `json:"tenant"`
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	TTLSeconds int64       `json:"ttl"`
}

// CacheDeleteParams are the arguments to cache_delete
type CacheDeleteParams struct {
	Tenant string `json:"tenant"`
	Key    string `json:"key"`
}

// GetMetricsParams select whose metrics to return. Tenant "all" (or empty)
// returns every tenant plus the system aggregate; Limit bounds the history
// records included with the aggregate.
type GetMetricsParams struct {
	Tenant string `json:"tenant"`
	Limit  int    `json:"limit"`
}

// ScaleClusterParams are the arguments to scale_cluster. Nodes is how many
// nodes to add or remove; zero means one.
type ScaleClusterParams struct {
	Action string `json:"action"`
	Nodes  int    `json:"nodes"`
}

// ConfigureScalingParams carries optional scaling overrides; nil fields
// keep their current values. Cooldowns are in seconds.
type ConfigureScalingParams struct {
	MinNodes           *int     `json:"min_nodes"`
	MaxNodes           *int     `json:"max_nodes"`
	ScaleUpThreshold   *float64 `json:"scale_up_threshold"`
	ScaleDownThreshold *float64 `json:"scale_down_threshold"`
	ScaleUpCooldown    *float64 `json:"scale_up_cooldown"`
	ScaleDownCooldown  *float64 `json:"scale_down_cooldown"`
}

// AlertParams identify the alert for acknowledge_alert / resolve_alert
type AlertParams struct {
	AlertID string `json:"alert_id"`
}

// BackupParams are the arguments to create_backup
type BackupParams struct {
	Tenant string `json:"tenant"`
}

// RestoreParams are the arguments to restore_backup. An empty Path
// restores the most recent snapshot.
type RestoreParams struct {
	Tenant string `json:"tenant"`
	Path   string `json:"path"`
}

// HealthCheckParams optionally narrow health_check to one component
type HealthCheckParams struct {
	Component string `json:"component"`
}

// LoadTestParams are the arguments to load_test
type LoadTestParams struct {
	DurationSeconds float64 `json:"duration"`
	Concurrency     int     `json:"concurrency"`
}

// Response is the uniform command result. "ok" is always present; on
// failure "error" carries the taxonomy code and "detail" the message.
type Response map[string]interface{}

// OK builds a success response with extra payload fields
func OK(fields map[string]interface{}) Response {
	r := Response{"ok": true}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Fail builds a failure response from a classified error
func Fail(err error) Response {
	return Response{
		"ok":     false,
		"error":  string(platform.CodeOf(err)),
		"detail": err.Error(),
	}
}

// DecodeParams unmarshals raw JSON into the parameter struct for a
// command. Commands without parameters return nil. The HTTP layer uses
// this so the dispatch switch only ever sees typed values.
func DecodeParams(cmd Command, raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	decode := func(into interface{}) error {
		if err := json.Unmarshal(raw, into); err != nil {
			return platform.Wrap(err, platform.CodeInvalidArgument, "malformed command parameters")
		}
		return nil
	}

	switch cmd {
	case CmdCreateTenant:
		var p CreateTenantParams
		return p, decode(&p)
	case CmdDeleteTenant, CmdGetTenantDetails:
		var p TenantNameParams
		return p, decode(&p)
	case CmdModifyTenantQuotas:
		var p ModifyQuotasParams
		return p, decode(&p)
	case CmdCacheGet:
		var p CacheGetParams
		return p, decode(&p)
	case CmdCacheSet:
		var p CacheSetParams
		return p, decode(&p)
	case CmdCacheDelete:
		var p CacheDeleteParams
		return p, decode(&p)
	case CmdGetMetrics:
		var p GetMetricsParams
		return p, decode(&p)
	case CmdScaleCluster:
		var p ScaleClusterParams
		return p, decode(&p)
	case CmdConfigureScaling:
		var p ConfigureScalingParams
		return p, decode(&p)
	case CmdAcknowledgeAlert, CmdResolveAlert:
		var p AlertParams
		return p, decode(&p)
	case CmdCreateBackup:
		var p BackupParams
		return p, decode(&p)
	case CmdRestoreBackup:
		var p RestoreParams
		return p, decode(&p)
	case CmdHealthCheck:
		var p HealthCheckParams
		return p, decode(&p)
	case CmdLoadTest:
		var p LoadTestParams
		return p, decode(&p)
	case CmdListTenants, CmdGetClusterStatus, CmdGetScalingStatus:
		return nil, nil
	default:
		return nil, platform.Newf(platform.CodeUnknownCommand, "unknown command %q", cmd)
	}
}
