// Package core hosts the orchestrator: it owns every platform component,
// runs their control loops, and exposes the closed command surface that
// external callers go through.
package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/S-Corkum/caching-platform/internal/agents"
	"github.com/S-Corkum/caching-platform/internal/backup"
	"github.com/S-Corkum/caching-platform/internal/balancer"
	"github.com/S-Corkum/caching-platform/internal/cache"
	"github.com/S-Corkum/caching-platform/internal/config"
	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/notify"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/internal/scaler"
	"github.com/S-Corkum/caching-platform/internal/tenant"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Version is reported in SystemStatus
const Version = "1.0.0"

// statusInterval is how often the aggregate status snapshot is recomputed
const statusInterval = 10 * time.Second

// Load-test bounds keep a runaway request from saturating the platform
const (
	loadTestMaxDuration    = time.Minute
	loadTestMaxConcurrency = 64
	loadTestTenantID       = "load-test"
)

// SystemStatus is the aggregate platform snapshot recomputed every
// statusInterval.
type SystemStatus struct {
	Platform      string  `json:"platform"`
	Version       string  `json:"version"`
	Environment   string  `json:"environment"`
	Running       bool    `json:"running"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	Components map[string]monitor.HealthCheck `json:"components"`
	Agents     map[string]agents.Info         `json:"agents"`

	TotalTenants  int `json:"total_tenants"`
	ActiveTenants int `json:"active_tenants"`
	TotalNodes    int `json:"total_nodes"`
	OnlineNodes   int `json:"online_nodes"`

	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	RequestRate       float64 `json:"requests_per_second"`
	AvgResponseTimeMs float64 `json:"average_response_time_ms"`

	ActiveAlerts   int       `json:"active_alerts"`
	CriticalAlerts int       `json:"critical_alerts"`
	Timestamp      time.Time `json:"timestamp"`
}

// Options override component construction. Every nil field falls back to
// the production default; tests inject miniredis-backed pools, recording
// provisioners, and canned probes.
type Options struct {
	Pool        *cache.Pool
	BackupStore backup.Store
	Provisioner scaler.NodeProvisioner
	ClusterOps  scaler.ClusterOps
	SystemProbe monitor.SystemProbe
	NodeProbe   balancer.HealthProbe
	Notifier    monitor.Notifier
}

// Orchestrator owns all platform components and their control loops
type Orchestrator struct {
	cfg     *config.Config
	clock   platform.Clock
	logger  observability.Logger
	metrics observability.MetricsClient

	pool     *cache.Pool
	tenants  *tenant.Manager
	balancer *balancer.Balancer
	monitor  *monitor.Monitor
	scaler   *scaler.Scaler
	backups  backup.Store
	runner   *platform.TaskRunner

	optimization *agents.OptimizationAgent
	agents       []agents.Agent

	startTime time.Time

	mu        sync.Mutex
	running   bool
	taskOrder []string

	statusMu sync.RWMutex
	status   SystemStatus
}

// New constructs the orchestrator with production defaults: a real Redis
// pool, the configured backup store, host probes, and the static
// single-host provisioner.
func New(ctx context.Context, cfg *config.Config, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) (*Orchestrator, error) {
	return NewWithOptions(ctx, cfg, Options{}, clock, logger, metrics)
}

// NewWithOptions constructs the orchestrator with injected components
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) (*Orchestrator, error) {
	pool := opts.Pool
	if pool == nil {
		var err error
		pool, err = cache.NewPool(cfg.Redis, logger.WithPrefix("cache"), metrics)
		if err != nil {
			return nil, err
		}
	}

	store := opts.BackupStore
	if store == nil {
		var err error
		store, err = backup.NewStore(ctx, cfg.Backup, logger)
		if err != nil {
			return nil, err
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		if cfg.Monitoring.EscalationQueueURL != "" {
			var err error
			notifier, err = notify.NewSQSNotifier(ctx, cfg.Monitoring.EscalationQueueURL, cfg.Monitoring.EscalationRegion, logger)
			if err != nil {
				return nil, err
			}
		} else {
			notifier = notify.NewLogNotifier(logger)
		}
	}

	systemProbe := opts.SystemProbe
	if systemProbe == nil {
		systemProbe = monitor.DefaultSystemProbe
	}

	o := &Orchestrator{
		cfg:       cfg,
		clock:     clock,
		logger:    logger.WithPrefix("orchestrator"),
		metrics:   metrics,
		pool:      pool,
		backups:   store,
		runner:    platform.NewTaskRunner(logger),
		startTime: clock.Now(),
	}

	o.tenants = tenant.NewManager(pool, cfg.Tenants, cfg.Monitoring.MetricsInterval, clock, logger.WithPrefix("tenant"), metrics)

	nodeProbe := opts.NodeProbe
	if nodeProbe == nil {
		// The static provisioner points every node at the shared backend,
		// so one ping covers the lot.
		nodeProbe = func(ctx context.Context, node balancer.Node) error {
			_, err := pool.Ping(ctx)
			return err
		}
	}
	o.balancer = balancer.New(nodeProbe, clock, logger.WithPrefix("balancer"), metrics)

	redisProbe := func(ctx context.Context) (time.Duration, error) { return pool.Ping(ctx) }
	o.monitor = monitor.New(systemProbe, redisProbe, o.tenants, notifier, cfg.Monitoring.AlertThresholds, clock, logger.WithPrefix("monitor"), metrics)

	provisioner := opts.Provisioner
	if provisioner == nil {
		provisioner = &scaler.StaticProvisioner{Host: cfg.Redis.Host, BasePort: cfg.Redis.Port}
	}
	ops := opts.ClusterOps
	if ops == nil {
		ops = &scaler.BalancerOps{Balancer: o.balancer}
	}
	o.scaler = scaler.New(cfg.Scaling, o.balancer, provisioner, ops, o.clusterLoad, clock, logger.WithPrefix("scaler"), metrics)

	o.optimization = agents.NewOptimizationAgent(o.tenants, clock, logger)
	o.agents = []agents.Agent{
		agents.NewScalingAgent(o.scaler, o.tenants, clock, logger),
		o.optimization,
		agents.NewHealingAgent(o.monitor, o.tenants, o.scaler, o.balancer, clock, logger),
		agents.NewPredictionAgent(o.scaler, o.tenants, clock, logger),
	}

	return o, nil
}

// Initialize loads persisted tenants and provisions the cluster to its
// minimum size. A failure here means the platform must not be started.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.tenants.Initialize(ctx); err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "tenant registry initialization failed")
	}
	if err := o.scaler.Initialize(ctx); err != nil {
		return err
	}
	o.refreshStatus(ctx)

	o.logger.Info("platform initialized", map[string]interface{}{
		"tenants": o.tenants.ActiveTenants(),
		"nodes":   o.balancer.NodeCount(),
	})
	return nil
}

// Start launches every control loop: the scaler, the balancer health
// probe, the monitor loops, the metrics collector, the agents, and the
// status aggregator.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return platform.New(platform.CodeConflict, "platform already running")
	}

	start := func(name string, interval time.Duration, fn platform.TaskFunc) error {
		if err := o.runner.Start(ctx, name, interval, fn); err != nil {
			return err
		}
		o.taskOrder = append(o.taskOrder, name)
		return nil
	}

	type loop struct {
		name     string
		interval time.Duration
		fn       platform.TaskFunc
	}
	loops := []loop{
		{"balancer-health", o.cfg.Monitoring.HealthCheckInterval, o.balancer.CheckHealth},
		{"monitor-system", monitor.SystemCheckInterval, o.monitor.CheckSystem},
		{"monitor-redis", monitor.RedisCheckInterval, o.monitor.CheckRedis},
		{"alert-sweep", monitor.AlertSweepInterval, o.monitor.SweepAlerts},
		{"metrics-collector", o.cfg.Monitoring.MetricsInterval, o.tenants.CollectMetrics},
	}
	if o.cfg.Scaling.Enabled {
		loops = append([]loop{{"scaling-loop", scaler.EvaluateInterval, o.scaler.Run}}, loops...)
	}
	for _, a := range o.agents {
		if a.Name() == "scaling" && !o.cfg.Scaling.Enabled {
			continue
		}
		loops = append(loops, loop{"agent-" + a.Name(), a.Interval(), a.Run})
	}
	loops = append(loops, loop{"status", statusInterval, func(ctx context.Context) error {
		o.refreshStatus(ctx)
		return nil
	}})

	for _, l := range loops {
		if err := start(l.name, l.interval, l.fn); err != nil {
			return err
		}
	}

	o.running = true
	o.logger.Info("platform started", map[string]interface{}{"loops": len(o.taskOrder)})
	return nil
}

// Stop cancels every loop in reverse start order and waits for them to
// drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	order := o.taskOrder
	o.taskOrder = nil
	o.running = false
	o.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		o.runner.StopTask(order[i])
	}
	o.runner.Stop()
	o.logger.Info("platform stopped", nil)
}

// Shutdown stops every loop and releases the Redis pool
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.Stop()
	if err := o.pool.Close(); err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to close redis pool")
	}
	o.logger.Info("platform shut down", nil)
	return nil
}

// CheckReadiness verifies the data path is serving. Hosts call it once
// after Start and treat failure as a boot error.
func (o *Orchestrator) CheckReadiness(ctx context.Context) error {
	if err := o.monitor.CheckRedis(ctx); err != nil {
		return err
	}
	health := o.monitor.Health()
	for _, name := range []string{"redis", "cache_manager"} {
		if check, ok := health.Components[name]; ok && check.Status != "healthy" {
			return platform.Newf(platform.CodeUnavailable, "component %s is %s", name, check.Status)
		}
	}
	return nil
}

// Health returns the monitor's component summary
func (o *Orchestrator) Health() monitor.SystemHealth {
	return o.monitor.Health()
}

// Status returns the latest aggregate status snapshot
func (o *Orchestrator) Status() SystemStatus {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

// clusterLoad assembles the load sample the scaler evaluates: host
// resources from the monitor, traffic from the cache manager's aggregate
// history.
func (o *Orchestrator) clusterLoad(ctx context.Context) (scaler.Load, error) {
	var load scaler.Load

	if sys, ok := o.monitor.Health().Components["system"]; ok {
		load.CPUPercent = floatDetail(sys.Details, "cpu_percent")
		load.MemoryPercent = floatDetail(sys.Details, "memory_percent")
	}

	agg := o.tenants.SystemMetricsSnapshot()
	load.ResponseTimeMs = agg.AvgResponseTimeMs

	if hist := o.tenants.MetricsHistory(); len(hist) >= 2 {
		last, prev := hist[len(hist)-1], hist[len(hist)-2]
		if secs := last.Timestamp.Sub(prev.Timestamp).Seconds(); secs > 0 {
			load.RequestRate = float64(last.TotalOperations-prev.TotalOperations) / secs
		}
	} else if agg.UptimeSeconds > 0 {
		load.RequestRate = float64(agg.TotalOperations) / agg.UptimeSeconds
	}

	return load, nil
}

func (o *Orchestrator) refreshStatus(ctx context.Context) {
	health := o.monitor.Health()
	cluster := o.balancer.ClusterStatus()
	load, _ := o.clusterLoad(ctx)

	all := o.tenants.ListTenants()
	active := 0
	for _, t := range all {
		if t.Status == tenant.StatusActive {
			active++
		}
	}

	open := o.monitor.Alerts("", false, 0)
	critical := 0
	for _, a := range open {
		if a.Severity == monitor.SeverityCritical {
			critical++
		}
	}

	agentInfos := make(map[string]agents.Info, len(o.agents))
	for _, a := range o.agents {
		agentInfos[a.Name()] = a.Info()
	}

	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	st := SystemStatus{
		Platform:          o.cfg.PlatformName,
		Version:           Version,
		Environment:       o.cfg.Environment,
		Running:           running,
		UptimeSeconds:     o.clock.Since(o.startTime).Seconds(),
		Components:        health.Components,
		Agents:            agentInfos,
		TotalTenants:      len(all),
		ActiveTenants:     active,
		TotalNodes:        cluster.TotalNodes,
		OnlineNodes:       cluster.HealthyNodes,
		CPUPercent:        load.CPUPercent,
		MemoryPercent:     load.MemoryPercent,
		RequestRate:       load.RequestRate,
		AvgResponseTimeMs: load.ResponseTimeMs,
		ActiveAlerts:      len(open),
		CriticalAlerts:    critical,
		Timestamp:         o.clock.Now(),
	}

	o.statusMu.Lock()
	o.status = st
	o.statusMu.Unlock()

	o.metrics.RecordGauge("active_tenants", float64(active), nil)
	o.metrics.RecordGauge("active_alerts", float64(len(open)), nil)
}

// Execute dispatches one command. Unknown commands and mistyped
// parameters are rejected here; everything else is delegated to the
// owning component and its error comes back classified.
func (o *Orchestrator) Execute(ctx context.Context, cmd Command, params interface{}) Response {
	switch cmd {
	case CmdCreateTenant:
		p, ok := params.(CreateTenantParams)
		if !ok {
			return badParams(cmd)
		}
		return o.createTenant(ctx, p)
	case CmdDeleteTenant:
		p, ok := params.(TenantNameParams)
		if !ok {
			return badParams(cmd)
		}
		if err := o.tenants.DeleteTenant(ctx, p.Name); err != nil {
			return Fail(err)
		}
		return OK(nil)
	case CmdListTenants:
		return OK(map[string]interface{}{"tenants": o.tenants.ListTenants()})
	case CmdGetTenantDetails:
		p, ok := params.(TenantNameParams)
		if !ok {
			return badParams(cmd)
		}
		t, err := o.tenants.GetTenant(p.Name)
		if err != nil {
			return Fail(err)
		}
		return OK(map[string]interface{}{"tenant": t})
	case CmdModifyTenantQuotas:
		p, ok := params.(ModifyQuotasParams)
		if !ok {
			return badParams(cmd)
		}
		return o.modifyTenantQuotas(ctx, p)
	case CmdCacheGet:
		p, ok := params.(CacheGetParams)
		if !ok {
			return badParams(cmd)
		}
		return o.cacheGet(ctx, p)
	case CmdCacheSet:
		p, ok := params.(CacheSetParams)
		if !ok {
			return badParams(cmd)
		}
		return o.cacheSet(ctx, p)
	case CmdCacheDelete:
		p, ok := params.(CacheDeleteParams)
		if !ok {
			return badParams(cmd)
		}
		return o.cacheDelete(ctx, p)
	case CmdGetMetrics:
		p, ok := params.(GetMetricsParams)
		if !ok {
			return badParams(cmd)
		}
		return o.getMetrics(p)
	case CmdGetClusterStatus:
		return OK(map[string]interface{}{"cluster": o.balancer.ClusterStatus()})
	case CmdScaleCluster:
		p, ok := params.(ScaleClusterParams)
		if !ok {
			return badParams(cmd)
		}
		return o.scaleCluster(ctx, p)
	case CmdGetScalingStatus:
		return OK(map[string]interface{}{"scaling": o.scaler.Status()})
	case CmdConfigureScaling:
		p, ok := params.(ConfigureScalingParams)
		if !ok {
			return badParams(cmd)
		}
		return o.configureScaling(p)
	case CmdAcknowledgeAlert:
		p, ok := params.(AlertParams)
		if !ok {
			return badParams(cmd)
		}
		if err := o.monitor.Acknowledge(p.AlertID); err != nil {
			return Fail(err)
		}
		return OK(nil)
	case CmdResolveAlert:
		p, ok := params.(AlertParams)
		if !ok {
			return badParams(cmd)
		}
		if err := o.monitor.Resolve(p.AlertID); err != nil {
			return Fail(err)
		}
		return OK(nil)
	case CmdCreateBackup:
		p, ok := params.(BackupParams)
		if !ok {
			return badParams(cmd)
		}
		return o.createBackup(ctx, p)
	case CmdRestoreBackup:
		p, ok := params.(RestoreParams)
		if !ok {
			return badParams(cmd)
		}
		return o.restoreBackup(ctx, p)
	case CmdHealthCheck:
		p, ok := params.(HealthCheckParams)
		if !ok {
			return badParams(cmd)
		}
		checks, err := o.monitor.RunHealthCheck(ctx, p.Component)
		if err != nil {
			return Fail(err)
		}
		return OK(map[string]interface{}{"health": checks})
	case CmdLoadTest:
		p, ok := params.(LoadTestParams)
		if !ok {
			return badParams(cmd)
		}
		return o.loadTest(ctx, p)
	default:
		return Fail(platform.Newf(platform.CodeUnknownCommand, "unknown command %q", cmd))
	}
}

func badParams(cmd Command) Response {
	return Fail(platform.Newf(platform.CodeInvalidArgument, "wrong parameter type for %s", cmd))
}

func (o *Orchestrator) createTenant(ctx context.Context, p CreateTenantParams) Response {
	created, err := o.tenants.CreateTenant(ctx, tenant.Tenant{
		ID:                p.Name,
		Name:              p.Name,
		Status:            tenant.StatusActive,
		MemoryLimitMB:     p.QuotaMemoryMB,
		RequestsPerSecond: p.QuotaRequestsPerSecond,
		MaxConnections:    p.QuotaConnections,
	})
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"tenant": created})
}

func (o *Orchestrator) modifyTenantQuotas(ctx context.Context, p ModifyQuotasParams) Response {
	if p.QuotaMemoryMB != nil {
		if err := o.tenants.UpdateQuota(ctx, p.Name, *p.QuotaMemoryMB); err != nil {
			return Fail(err)
		}
	}
	if p.QuotaRequestsPerSecond != nil {
		if err := o.tenants.UpdateRateLimit(ctx, p.Name, *p.QuotaRequestsPerSecond); err != nil {
			return Fail(err)
		}
	}
	t, err := o.tenants.GetTenant(p.Name)
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"tenant": t})
}

// routeRequest runs one data-plane operation through the load balancer's
// bookkeeping: node selection, a connection slot, and a response-time
// sample against the chosen node.
func (o *Orchestrator) routeRequest(tenantID, key string, fn func() error) error {
	nodeID, err := o.balancer.SelectNode(tenantID, key)
	if err != nil {
		return err
	}
	if err := o.balancer.AcquireConnection(nodeID); err != nil {
		return err
	}

	start := time.Now()
	opErr := fn()
	o.balancer.ReleaseConnection(nodeID)
	o.balancer.RecordRequest(nodeID, float64(time.Since(start).Microseconds())/1000.0, opErr == nil)
	return opErr
}

func (o *Orchestrator) cacheGet(ctx context.Context, p CacheGetParams) Response {
	o.optimization.ObserveAccess(p.Tenant, p.Key)

	var value interface{}
	err := o.routeRequest(p.Tenant, p.Key, func() error {
		v, err := o.tenants.Get(ctx, p.Tenant, p.Key)
		value = v
		return err
	})
	if err != nil {
		// A missing key is a miss, not a failure; a missing tenant is.
		if platform.IsCode(err, platform.CodeNotFound) {
			if _, terr := o.tenants.GetTenant(p.Tenant); terr == nil {
				return OK(map[string]interface{}{"value": nil})
			}
		}
		return Fail(err)
	}
	return OK(map[string]interface{}{"value": value})
}

func (o *Orchestrator) cacheSet(ctx context.Context, p CacheSetParams) Response {
	ttl := time.Duration(p.TTLSeconds) * time.Second
	err := o.routeRequest(p.Tenant, p.Key, func() error {
		return o.tenants.Set(ctx, p.Tenant, p.Key, p.Value, ttl)
	})
	if err != nil {
		return Fail(err)
	}
	return OK(nil)
}

func (o *Orchestrator) cacheDelete(ctx context.Context, p CacheDeleteParams) Response {
	var removed bool
	err := o.routeRequest(p.Tenant, p.Key, func() error {
		r, err := o.tenants.Delete(ctx, p.Tenant, p.Key)
		removed = r
		return err
	})
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"deleted": removed})
}

func (o *Orchestrator) getMetrics(p GetMetricsParams) Response {
	if p.Tenant == "" || p.Tenant == "all" {
		fields := map[string]interface{}{
			"metrics": o.tenants.AllMetrics(),
			"system":  o.tenants.SystemMetricsSnapshot(),
		}
		hist := o.tenants.MetricsHistory()
		if p.Limit > 0 && len(hist) > p.Limit {
			hist = hist[len(hist)-p.Limit:]
		}
		fields["history"] = hist
		return OK(fields)
	}

	m, err := o.tenants.TenantMetrics(p.Tenant)
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"metrics": m})
}

func (o *Orchestrator) scaleCluster(ctx context.Context, p ScaleClusterParams) Response {
	count := p.Nodes
	if count <= 0 {
		count = 1
	}

	current := o.balancer.NodeCount()
	var target int
	switch p.Action {
	case "up":
		target = current + count
	case "down":
		target = current - count
	default:
		return Fail(platform.Newf(platform.CodeInvalidArgument, "action must be up or down, got %q", p.Action))
	}

	if _, err := o.scaler.ForceScale(ctx, target, "manual scale "+p.Action); err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"current_nodes": o.balancer.NodeCount()})
}

func (o *Orchestrator) configureScaling(p ConfigureScalingParams) Response {
	cfg := o.scaler.Config()
	if p.MinNodes != nil {
		cfg.MinNodes = *p.MinNodes
	}
	if p.MaxNodes != nil {
		cfg.MaxNodes = *p.MaxNodes
	}
	if p.ScaleUpThreshold != nil {
		cfg.ScaleUpThreshold = *p.ScaleUpThreshold
	}
	if p.ScaleDownThreshold != nil {
		cfg.ScaleDownThreshold = *p.ScaleDownThreshold
	}
	if p.ScaleUpCooldown != nil {
		cfg.ScaleUpCooldown = time.Duration(*p.ScaleUpCooldown * float64(time.Second))
	}
	if p.ScaleDownCooldown != nil {
		cfg.ScaleDownCooldown = time.Duration(*p.ScaleDownCooldown * float64(time.Second))
	}

	if err := o.scaler.SetConfig(cfg); err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"config": o.scaler.Config()})
}

func (o *Orchestrator) createBackup(ctx context.Context, p BackupParams) Response {
	snap, err := o.tenants.BackupTenant(ctx, p.Tenant)
	if err != nil {
		return Fail(err)
	}
	if err := o.backups.Save(ctx, snap); err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"backup": descriptorOf(snap)})
}

func (o *Orchestrator) restoreBackup(ctx context.Context, p RestoreParams) Response {
	var snap *tenant.Snapshot

	if p.Path != "" {
		loaded, err := o.backups.Load(ctx, p.Tenant, p.Path)
		if err != nil {
			return Fail(err)
		}
		snap = loaded
	} else {
		ids, err := o.backups.List(ctx, p.Tenant)
		if err != nil {
			return Fail(err)
		}
		if len(ids) == 0 {
			return Fail(platform.Newf(platform.CodeNotFound, "no backups found for tenant %s", p.Tenant))
		}
		for _, id := range ids {
			candidate, err := o.backups.Load(ctx, p.Tenant, id)
			if err != nil {
				return Fail(err)
			}
			if snap == nil || candidate.CreatedAt.After(snap.CreatedAt) {
				snap = candidate
			}
		}
	}

	if err := o.tenants.RestoreTenant(ctx, p.Tenant, snap); err != nil {
		return Fail(err)
	}
	return OK(map[string]interface{}{"backup": descriptorOf(snap)})
}

// descriptorOf is the backup summary returned to callers; snapshot data
// itself never crosses the command surface.
func descriptorOf(snap *tenant.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"id":         snap.ID,
		"tenant_id":  snap.TenantID,
		"created_at": snap.CreatedAt,
		"key_count":  snap.KeyCount,
		"size_bytes": snap.SizeBytes,
		"checksum":   snap.Checksum,
	}
}

// loadTest drives synthetic set/get traffic through the data plane under
// a throwaway tenant and returns summary statistics.
func (o *Orchestrator) loadTest(ctx context.Context, p LoadTestParams) Response {
	if p.DurationSeconds <= 0 || p.Concurrency <= 0 {
		return Fail(platform.New(platform.CodeInvalidArgument, "duration and concurrency must be positive"))
	}

	duration := time.Duration(p.DurationSeconds * float64(time.Second))
	if duration > loadTestMaxDuration {
		duration = loadTestMaxDuration
	}
	workers := p.Concurrency
	if workers > loadTestMaxConcurrency {
		workers = loadTestMaxConcurrency
	}

	_, err := o.tenants.CreateTenant(ctx, tenant.Tenant{
		ID:                loadTestTenantID,
		Name:              "Load Test",
		Status:            tenant.StatusActive,
		MemoryLimitMB:     1024,
		RequestsPerSecond: 10000,
		MaxConnections:    100,
	})
	if err != nil && !platform.IsCode(err, platform.CodeAlreadyExists) {
		return Fail(err)
	}
	defer func() {
		if err := o.tenants.DeleteTenant(context.Background(), loadTestTenantID); err != nil {
			o.logger.Warn("load test tenant cleanup failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var ops, failures, latencyNs int64
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; runCtx.Err() == nil; i++ {
				key := fmt.Sprintf("lt:%d:%d", worker, i)
				opStart := time.Now()

				err := o.tenants.Set(runCtx, loadTestTenantID, key, i, time.Minute)
				if err == nil {
					_, err = o.tenants.Get(runCtx, loadTestTenantID, key)
				}

				atomic.AddInt64(&latencyNs, int64(time.Since(opStart)))
				atomic.AddInt64(&ops, 1)
				if err != nil && runCtx.Err() == nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := atomic.LoadInt64(&ops)
	failed := atomic.LoadInt64(&failures)
	summary := map[string]interface{}{
		"duration_seconds":  elapsed.Seconds(),
		"concurrency":       workers,
		"total_operations":  total,
		"failed_operations": failed,
	}
	if elapsed > 0 {
		summary["operations_per_second"] = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		summary["avg_latency_ms"] = float64(atomic.LoadInt64(&latencyNs)) / float64(total) / 1e6
	}
	return OK(map[string]interface{}{"summary": summary})
}

func floatDetail(details map[string]interface{}, key string) float64 {
	if details == nil {
		return 0
	}
	if v, ok := details[key].(float64); ok {
		return v
	}
	return 0
}
