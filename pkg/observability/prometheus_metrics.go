package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsClient implements MetricsClient interface using Prometheus
type PrometheusMetricsClient struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry
	factory   promauto.Factory

	// Metric collectors
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Common labels
	commonLabels prometheus.Labels
}

// NewPrometheusMetricsClient creates a new Prometheus metrics client backed
// by its own registry, so multiple clients can coexist in one process.
func NewPrometheusMetricsClient(namespace, subsystem string, commonLabels map[string]string) *PrometheusMetricsClient {
	labels := prometheus.Labels{}
	for k, v := range commonLabels {
		labels[k] = v
	}

	registry := prometheus.NewRegistry()
	client := &PrometheusMetricsClient{
		namespace:    namespace,
		subsystem:    subsystem,
		registry:     registry,
		factory:      promauto.With(registry),
		counters:     make(map[string]*prometheus.CounterVec),
		gauges:       make(map[string]*prometheus.GaugeVec),
		histograms:   make(map[string]*prometheus.HistogramVec),
		commonLabels: labels,
	}

	// Register default metrics
	client.registerDefaultMetrics()

	return client
}

// Registry exposes the underlying registry for exposition handlers.
func (c *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return c.registry
}

// registerDefaultMetrics registers commonly used metrics
func (c *PrometheusMetricsClient) registerDefaultMetrics() {
	// Cache operation metrics
	c.getOrCreateCounter("cache_operations_total", "Total cache operations", []string{"operation", "result"})
	c.getOrCreateHistogram("cache_operation_duration_seconds", "Cache operation duration", []string{"operation"}, prometheus.DefBuckets)

	// Tenant operation metrics
	c.getOrCreateCounter("tenant_operations_total", "Total tenant operations", []string{"tenant", "operation", "status"})
	c.getOrCreateHistogram("tenant_operation_duration_seconds", "Tenant operation duration", []string{"tenant", "operation"}, prometheus.DefBuckets)

	// Scaling metrics
	c.getOrCreateCounter("scaling_decisions_total", "Total scaling decisions", []string{"action", "trigger"})
	c.getOrCreateGauge("cluster_nodes", "Current cluster node count", nil)

	// Circuit breaker metrics
	c.getOrCreateCounter("circuit_breaker_state_changes_total", "Circuit breaker state changes", []string{"name", "from", "to"})
	c.getOrCreateGauge("circuit_breaker_state", "Current circuit breaker state", []string{"name"})

	// Health check metrics
	c.getOrCreateGauge("health_check_status", "Health check status (1=healthy, 0=unhealthy)", []string{"component"})
	c.getOrCreateCounter("alerts_total", "Total alerts raised", []string{"severity", "source"})
}

// RecordCounter records a counter metric
func (c *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	counter := c.getOrCreateCounter(name, fmt.Sprintf("Counter for %s", name), c.getLabelNames(labels))
	counter.With(c.mergeLabelValues(labels)).Add(value)
}

// RecordGauge records a gauge metric
func (c *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	gauge := c.getOrCreateGauge(name, fmt.Sprintf("Gauge for %s", name), c.getLabelNames(labels))
	gauge.With(c.mergeLabelValues(labels)).Set(value)
}

// RecordHistogram records a histogram metric
func (c *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	histogram := c.getOrCreateHistogram(name, fmt.Sprintf("Histogram for %s", name), c.getLabelNames(labels), prometheus.DefBuckets)
	histogram.With(c.mergeLabelValues(labels)).Observe(value)
}

// RecordTimer records a duration as a histogram observation in seconds
func (c *PrometheusMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), labels)
}

// IncrementCounter increments a counter by the given value
func (c *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	c.RecordCounter(name, value, nil)
}

// IncrementCounterWithLabels increments a counter with labels
func (c *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	c.RecordCounter(name, value, labels)
}

// StartTimer starts a timer and returns a function to stop it
func (c *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		c.RecordTimer(name, time.Since(start), labels)
	}
}

// RecordCacheOperation records a cache operation
func (c *PrometheusMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
	result := "miss"
	if hit {
		result = "hit"
	}

	c.IncrementCounterWithLabels("cache_operations_total", 1, map[string]string{
		"operation": operation,
		"result":    result,
	})

	c.RecordHistogram("cache_operation_duration_seconds", durationSeconds, map[string]string{
		"operation": operation,
	})
}

// RecordTenantOperation records an operation on behalf of a tenant
func (c *PrometheusMetricsClient) RecordTenantOperation(tenant, operation string, success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "error"
	}

	c.IncrementCounterWithLabels("tenant_operations_total", 1, map[string]string{
		"tenant":    tenant,
		"operation": operation,
		"status":    status,
	})

	c.RecordHistogram("tenant_operation_duration_seconds", durationSeconds, map[string]string{
		"tenant":    tenant,
		"operation": operation,
	})
}

// RecordScalingDecision records an auto-scaler decision
func (c *PrometheusMetricsClient) RecordScalingDecision(action, trigger string) {
	c.IncrementCounterWithLabels("scaling_decisions_total", 1, map[string]string{
		"action":  action,
		"trigger": trigger,
	})
}

// RecordHealthStatus records a component health probe result
func (c *PrometheusMetricsClient) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.RecordGauge("health_check_status", value, map[string]string{
		"component": component,
	})
}

// RecordAlert records a raised alert
func (c *PrometheusMetricsClient) RecordAlert(severity, source string) {
	c.IncrementCounterWithLabels("alerts_total", 1, map[string]string{
		"severity": severity,
		"source":   source,
	})
}

// Close implements MetricsClient.Close
func (c *PrometheusMetricsClient) Close() error {
	return nil
}

// Helper methods

func (c *PrometheusMetricsClient) getOrCreateCounter(name, help string, labels []string) *prometheus.CounterVec {
	c.mu.RLock()
	if counter, exists := c.counters[name]; exists {
		c.mu.RUnlock()
		return counter
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := c.counters[name]; exists {
		return counter
	}

	counter := c.factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
	}, c.withCommonLabelNames(labels))

	c.counters[name] = counter
	return counter
}

func (c *PrometheusMetricsClient) getOrCreateGauge(name, help string, labels []string) *prometheus.GaugeVec {
	c.mu.RLock()
	if gauge, exists := c.gauges[name]; exists {
		c.mu.RUnlock()
		return gauge
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if gauge, exists := c.gauges[name]; exists {
		return gauge
	}

	gauge := c.factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
	}, c.withCommonLabelNames(labels))

	c.gauges[name] = gauge
	return gauge
}

func (c *PrometheusMetricsClient) getOrCreateHistogram(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	c.mu.RLock()
	if histogram, exists := c.histograms[name]; exists {
		c.mu.RUnlock()
		return histogram
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if histogram, exists := c.histograms[name]; exists {
		return histogram
	}

	histogram := c.factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Subsystem: c.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, c.withCommonLabelNames(labels))

	c.histograms[name] = histogram
	return histogram
}

func (c *PrometheusMetricsClient) getLabelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

func (c *PrometheusMetricsClient) withCommonLabelNames(labels []string) []string {
	names := make([]string, 0, len(labels)+len(c.commonLabels))
	names = append(names, labels...)
	for name := range c.commonLabels {
		names = append(names, name)
	}
	return names
}

func (c *PrometheusMetricsClient) mergeLabelValues(labels map[string]string) prometheus.Labels {
	merged := prometheus.Labels{}
	for k, v := range c.commonLabels {
		merged[k] = v
	}
	for k, v := range labels {
		merged[k] = v
	}
	return merged
}
