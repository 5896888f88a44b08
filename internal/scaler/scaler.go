// Package scaler implements the auto-scaler: threshold and cooldown based
// scaling decisions, execution through provisioning hooks, and the
// rolling performance history behind scaling predictions.
package scaler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/caching-platform/internal/balancer"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// baseRatePerNode is the sustainable request rate one node is assumed to
// handle; the rate trigger scales linearly with node count.
const baseRatePerNode = 1000.0

// EvaluateInterval is how often the scaling loop runs
const EvaluateInterval = 30 * time.Second

const (
	decisionHistoryCap    = 100
	performanceHistoryCap = 1000
)

// Load is one sample of cluster-wide load
type Load struct {
	CPUPercent     float64 `json:"cpu_usage_percent"`
	MemoryPercent  float64 `json:"memory_usage_percent"`
	RequestRate    float64 `json:"requests_per_second"`
	ResponseTimeMs float64 `json:"average_response_time_ms"`
}

// LoadFunc supplies the current load sample
type LoadFunc func(ctx context.Context) (Load, error)

// DecisionType says which way a decision scales
type DecisionType string

const (
	ScaleUp   DecisionType = "scale_up"
	ScaleDown DecisionType = "scale_down"
)

// Decision is one scaling decision with its execution outcome
type Decision struct {
	ID           string       `json:"id"`
	Type         DecisionType `json:"type"`
	CurrentNodes int          `json:"current_nodes"`
	TargetNodes  int          `json:"target_nodes"`
	Reason       string       `json:"reason"`
	Trigger      string       `json:"trigger"`
	CPUUsage     float64      `json:"cpu_usage"`
	MemoryUsage  float64      `json:"memory_usage"`
	RequestRate  float64      `json:"request_rate"`
	Forced       bool         `json:"forced,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Executed     bool         `json:"executed"`
	ExecutedAt   *time.Time   `json:"executed_at,omitempty"`
	Successful   bool         `json:"successful"`
}

// PerformanceRecord is one retained load sample with the node count that
// served it.
type PerformanceRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Nodes     int       `json:"nodes"`
	Load      Load      `json:"load"`
}

// Predictions is the heuristic scaling outlook surfaced in status. The
// scaling agent overwrites it with model-based values when its model is
// trained.
type Predictions struct {
	PredictedScaling string    `json:"predicted_scaling"`
	Confidence       float64   `json:"confidence"`
	AvgCPU           float64   `json:"avg_cpu"`
	AvgMemory        float64   `json:"avg_memory"`
	AvgRequestRate   float64   `json:"avg_request_rate"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
}

// Status is the scaling summary returned by get_scaling_status
type Status struct {
	CurrentNodes       int         `json:"current_nodes"`
	MinNodes           int         `json:"min_nodes"`
	MaxNodes           int         `json:"max_nodes"`
	ScaleUpThreshold   float64     `json:"scale_up_threshold"`
	ScaleDownThreshold float64     `json:"scale_down_threshold"`
	LastScaleUp        time.Time   `json:"last_scale_up,omitempty"`
	LastScaleDown      time.Time   `json:"last_scale_down,omitempty"`
	ScaleUpCooldown    string      `json:"scale_up_cooldown"`
	ScaleDownCooldown  string      `json:"scale_down_cooldown"`
	RecentDecisions    []Decision  `json:"recent_decisions"`
	Predictions        Predictions `json:"predictions"`
}

// Scaler is the auto-scaler
type Scaler struct {
	balancer    *balancer.Balancer
	provisioner NodeProvisioner
	ops         ClusterOps
	loadFn      LoadFunc
	clock       platform.Clock
	logger      observability.Logger
	metrics     observability.MetricsClient

	mu            sync.Mutex
	cfg           config.ScalingConfig
	nextOrdinal   int
	lastScaleUp   time.Time
	lastScaleDown time.Time
	decisions     []Decision
	history       []PerformanceRecord
	predictions   Predictions
	scaling       bool
}

// New creates a scaler
func New(cfg config.ScalingConfig, b *balancer.Balancer, provisioner NodeProvisioner, ops ClusterOps,
	loadFn LoadFunc, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) *Scaler {
	return &Scaler{
		balancer:    b,
		provisioner: provisioner,
		ops:         ops,
		loadFn:      loadFn,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
		nextOrdinal: 1,
	}
}

// Initialize provisions the cluster up to min_nodes
func (s *Scaler) Initialize(ctx context.Context) error {
	for s.balancer.NodeCount() < s.cfg.MinNodes {
		if err := s.addNode(ctx); err != nil {
			return platform.Wrap(err, platform.CodeUnavailable, "failed to provision initial nodes")
		}
	}
	s.logger.Info("auto scaler initialized", map[string]interface{}{
		"nodes":     s.balancer.NodeCount(),
		"min_nodes": s.cfg.MinNodes,
		"max_nodes": s.cfg.MaxNodes,
	})
	return nil
}

// Run is one iteration of the scaling loop: sample load, retain it,
// refresh predictions, then evaluate and execute at most one decision.
func (s *Scaler) Run(ctx context.Context) error {
	load, err := s.loadFn(ctx)
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to sample cluster load")
	}

	nodes := s.balancer.NodeCount()
	s.mu.Lock()
	s.history = append(s.history, PerformanceRecord{
		Timestamp: s.clock.Now(),
		Nodes:     nodes,
		Load:      load,
	})
	if len(s.history) > performanceHistoryCap {
		s.history = s.history[len(s.history)-performanceHistoryCap:]
	}
	s.mu.Unlock()

	s.refreshPredictions()

	decision := s.Evaluate(load)
	if decision == nil {
		return nil
	}
	return s.Execute(ctx, decision)
}

// Evaluate applies the threshold and cooldown rules to one load sample.
// A nil result means no scaling is warranted right now.
func (s *Scaler) Evaluate(load Load) *Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.lastScaleUp.IsZero() && now.Sub(s.lastScaleUp) < s.cfg.ScaleUpCooldown {
		return nil
	}
	if !s.lastScaleDown.IsZero() && now.Sub(s.lastScaleDown) < s.cfg.ScaleDownCooldown {
		return nil
	}

	nodes := s.balancer.NodeCount()
	rateThreshold := baseRatePerNode * float64(nodes)

	// Up-triggers are inclusive: load exactly on the threshold scales.
	var trigger string
	switch {
	case load.CPUPercent >= s.cfg.ScaleUpThreshold:
		trigger = "cpu"
	case load.MemoryPercent >= s.cfg.ScaleUpThreshold:
		trigger = "memory"
	case load.RequestRate >= rateThreshold:
		trigger = "request_rate"
	}

	if trigger != "" && nodes < s.cfg.MaxNodes {
		return &Decision{
			ID:           uuid.NewString(),
			Type:         ScaleUp,
			CurrentNodes: nodes,
			TargetNodes:  min(nodes+1, s.cfg.MaxNodes),
			Reason:       fmt.Sprintf("High resource usage - CPU: %.1f%%, Memory: %.1f%%, Rate: %.0f req/s", load.CPUPercent, load.MemoryPercent, load.RequestRate),
			Trigger:      trigger,
			CPUUsage:     load.CPUPercent,
			MemoryUsage:  load.MemoryPercent,
			RequestRate:  load.RequestRate,
			CreatedAt:    now,
		}
	}

	scaleDown := load.CPUPercent < s.cfg.ScaleDownThreshold &&
		load.MemoryPercent < s.cfg.ScaleDownThreshold &&
		load.RequestRate < rateThreshold*0.5 &&
		nodes > s.cfg.MinNodes

	if scaleDown {
		return &Decision{
			ID:           uuid.NewString(),
			Type:         ScaleDown,
			CurrentNodes: nodes,
			TargetNodes:  max(nodes-1, s.cfg.MinNodes),
			Reason:       fmt.Sprintf("Low resource usage - CPU: %.1f%%, Memory: %.1f%%, Rate: %.0f req/s", load.CPUPercent, load.MemoryPercent, load.RequestRate),
			Trigger:      "idle",
			CPUUsage:     load.CPUPercent,
			MemoryUsage:  load.MemoryPercent,
			RequestRate:  load.RequestRate,
			CreatedAt:    now,
		}
	}
	return nil
}

// Execute carries out a decision. Executions are single-flight: a second
// caller gets a conflict while one is in progress.
func (s *Scaler) Execute(ctx context.Context, decision *Decision) error {
	s.mu.Lock()
	if s.scaling {
		s.mu.Unlock()
		return platform.New(platform.CodeConflict, "a scaling operation is already in progress")
	}
	s.scaling = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.scaling = false
		s.mu.Unlock()
	}()

	s.logger.Info("executing scaling decision", map[string]interface{}{
		"decision": decision.ID,
		"type":     string(decision.Type),
		"from":     decision.CurrentNodes,
		"to":       decision.TargetNodes,
		"trigger":  decision.Trigger,
	})

	var err error
	switch decision.Type {
	case ScaleUp:
		err = s.scaleTo(ctx, decision.TargetNodes)
	case ScaleDown:
		err = s.scaleTo(ctx, decision.TargetNodes)
	default:
		err = platform.Newf(platform.CodeInvalidValue, "unknown decision type %q", decision.Type)
	}

	now := s.clock.Now()
	decision.Executed = true
	decision.ExecutedAt = &now
	decision.Successful = err == nil

	s.mu.Lock()
	s.decisions = append(s.decisions, *decision)
	if len(s.decisions) > decisionHistoryCap {
		s.decisions = s.decisions[len(s.decisions)-decisionHistoryCap:]
	}
	if decision.Type == ScaleUp {
		s.lastScaleUp = now
	} else {
		s.lastScaleDown = now
	}
	s.mu.Unlock()

	s.metrics.RecordScalingDecision(string(decision.Type), decision.Trigger)
	s.metrics.RecordGauge("cluster_nodes", float64(s.balancer.NodeCount()), nil)

	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "scaling execution failed")
	}
	return nil
}

// scaleTo adds or removes nodes one at a time until the cluster matches
// the target, then verifies cluster health.
func (s *Scaler) scaleTo(ctx context.Context, target int) error {
	for s.balancer.NodeCount() < target {
		if err := s.addNode(ctx); err != nil {
			return err
		}
	}
	for s.balancer.NodeCount() > target {
		if err := s.removeNewestNode(ctx); err != nil {
			return err
		}
	}

	if err := s.ops.Rebalance(ctx); err != nil {
		return err
	}
	return s.ops.VerifyHealth(ctx)
}

func (s *Scaler) addNode(ctx context.Context) error {
	s.mu.Lock()
	ordinal := s.nextOrdinal
	s.nextOrdinal++
	s.mu.Unlock()

	node, err := s.provisioner.Provision(ctx, ordinal)
	if err != nil {
		return err
	}
	return s.balancer.AddNode(node)
}

// removeNewestNode drains and decommissions the most recently added node
func (s *Scaler) removeNewestNode(ctx context.Context) error {
	nodes := s.balancer.Nodes()
	if len(nodes) == 0 {
		return platform.New(platform.CodeUnavailable, "no nodes to remove")
	}

	newest := nodes[0]
	for _, n := range nodes[1:] {
		if n.AddedAt.After(newest.AddedAt) {
			newest = n
		}
	}

	if err := s.balancer.RemoveNode(ctx, newest.ID); err != nil {
		return err
	}
	return s.provisioner.Decommission(ctx, newest)
}

// ForceScale scales directly to a target, bypassing thresholds and
// cooldowns. The target must stay inside [min_nodes, max_nodes].
func (s *Scaler) ForceScale(ctx context.Context, target int, reason string) (*Decision, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if target < cfg.MinNodes || target > cfg.MaxNodes {
		return nil, platform.Newf(platform.CodeInvalidValue,
			"target %d outside [%d, %d]", target, cfg.MinNodes, cfg.MaxNodes)
	}

	current := s.balancer.NodeCount()
	if target == current {
		return nil, platform.Newf(platform.CodeInvalidArgument, "cluster already at %d nodes", target)
	}

	decisionType := ScaleUp
	if target < current {
		decisionType = ScaleDown
	}
	decision := &Decision{
		ID:           uuid.NewString(),
		Type:         decisionType,
		CurrentNodes: current,
		TargetNodes:  target,
		Reason:       reason,
		Trigger:      "manual",
		Forced:       true,
		CreatedAt:    s.clock.Now(),
	}

	if err := s.Execute(ctx, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

// refreshPredictions recomputes the heuristic outlook from the recent
// history. Once a model-based prediction has been pushed via
// SetPredictions the heuristic stands down; the agent refreshes it.
func (s *Scaler) refreshPredictions() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) < 10 {
		return
	}
	if s.predictions.Source == "model" {
		return
	}

	recent := s.history
	if len(recent) > 120 {
		recent = recent[len(recent)-120:]
	}

	var cpu, memory, rate float64
	for _, r := range recent {
		cpu += r.Load.CPUPercent
		memory += r.Load.MemoryPercent
		rate += r.Load.RequestRate
	}
	n := float64(len(recent))
	cpu, memory, rate = cpu/n, memory/n, rate/n

	predicted, confidence := "none", 0.5
	switch {
	case cpu > 80 || memory > 80:
		predicted, confidence = string(ScaleUp), 0.8
	case cpu < 30 && memory < 30:
		predicted, confidence = string(ScaleDown), 0.7
	}

	s.predictions = Predictions{
		PredictedScaling: predicted,
		Confidence:       confidence,
		AvgCPU:           cpu,
		AvgMemory:        memory,
		AvgRequestRate:   rate,
		Source:           "heuristic",
		Timestamp:        s.clock.Now(),
	}
}

// SetPredictions installs model-based predictions from the scaling agent
func (s *Scaler) SetPredictions(p Predictions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Source = "model"
	p.Timestamp = s.clock.Now()
	s.predictions = p
}

// Status returns the scaling summary
func (s *Scaler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.decisions
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	decisions := make([]Decision, len(recent))
	copy(decisions, recent)

	return Status{
		CurrentNodes:       s.balancer.NodeCount(),
		MinNodes:           s.cfg.MinNodes,
		MaxNodes:           s.cfg.MaxNodes,
		ScaleUpThreshold:   s.cfg.ScaleUpThreshold,
		ScaleDownThreshold: s.cfg.ScaleDownThreshold,
		LastScaleUp:        s.lastScaleUp,
		LastScaleDown:      s.lastScaleDown,
		ScaleUpCooldown:    s.cfg.ScaleUpCooldown.String(),
		ScaleDownCooldown:  s.cfg.ScaleDownCooldown.String(),
		RecentDecisions:    decisions,
		Predictions:        s.predictions,
	}
}

// SetConfig updates scaling limits and thresholds at runtime
func (s *Scaler) SetConfig(updates config.ScalingConfig) error {
	if updates.MinNodes < 1 || updates.MaxNodes < updates.MinNodes {
		return platform.New(platform.CodeInvalidValue, "node bounds must satisfy 1 <= min <= max")
	}
	if updates.ScaleDownThreshold >= updates.ScaleUpThreshold {
		return platform.New(platform.CodeInvalidValue, "scale_down_threshold must be below scale_up_threshold")
	}
	s.mu.Lock()
	s.cfg = updates
	s.mu.Unlock()
	s.logger.Info("scaling configuration updated", map[string]interface{}{
		"min_nodes": updates.MinNodes,
		"max_nodes": updates.MaxNodes,
	})
	return nil
}

// Config returns the current scaling configuration
func (s *Scaler) Config() config.ScalingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// PerformanceHistory returns retained load samples inside the window
func (s *Scaler) PerformanceHistory(window time.Duration) []PerformanceRecord {
	cutoff := s.clock.Now().Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PerformanceRecord, 0, len(s.history))
	for _, r := range s.history {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
