package observability

import "time"

// NoopMetricsClient is a metrics client that discards everything. Used in
// tests and when metrics are disabled in configuration.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a new NoopMetricsClient
func NewNoopMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

// RecordCounter implements MetricsClient.RecordCounter
func (c *NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

// RecordGauge implements MetricsClient.RecordGauge
func (c *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordHistogram implements MetricsClient.RecordHistogram
func (c *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

// RecordTimer implements MetricsClient.RecordTimer
func (c *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}

// RecordCacheOperation implements MetricsClient.RecordCacheOperation
func (c *NoopMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
}

// RecordTenantOperation implements MetricsClient.RecordTenantOperation
func (c *NoopMetricsClient) RecordTenantOperation(tenant, operation string, success bool, durationSeconds float64) {
}

// RecordScalingDecision implements MetricsClient.RecordScalingDecision
func (c *NoopMetricsClient) RecordScalingDecision(action, trigger string) {}

// RecordHealthStatus implements MetricsClient.RecordHealthStatus
func (c *NoopMetricsClient) RecordHealthStatus(component string, healthy bool) {}

// RecordAlert implements MetricsClient.RecordAlert
func (c *NoopMetricsClient) RecordAlert(severity, source string) {}

// StartTimer implements MetricsClient.StartTimer
func (c *NoopMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}

// IncrementCounter implements MetricsClient.IncrementCounter
func (c *NoopMetricsClient) IncrementCounter(name string, value float64) {}

// IncrementCounterWithLabels implements MetricsClient.IncrementCounterWithLabels
func (c *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

// Close implements MetricsClient.Close
func (c *NoopMetricsClient) Close() error {
	return nil
}
