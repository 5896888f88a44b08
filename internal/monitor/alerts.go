package monitor

import (
	"time"
)

// Severity ranks alerts
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one raised condition with its lifecycle state
type Alert struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	Source         string     `json:"source"`
	Category       string     `json:"category"`
	TenantID       string     `json:"tenant_id,omitempty"`
	NodeID         string     `json:"node_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	escalated bool
}

// Alert lifecycle windows
const (
	// duplicateSuppression drops a repeat alert from the same source with
	// the same title inside this window.
	duplicateSuppression = time.Minute
	// infoAutoResolve closes informational alerts nobody acted on.
	infoAutoResolve = time.Hour
	// alertRetention purges alerts from memory entirely.
	alertRetention = 24 * time.Hour
	// alertCap bounds the in-memory alert list.
	alertCap = 1000
)
