package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// metricsClient keeps counters and gauges in memory. Values are exported
// through Snapshot for the metrics endpoint; histograms fold into
// <name>_sum and <name>_count counters.
type metricsClient struct {
	enabled bool
	labels  map[string]string

	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Enabled bool
	Labels  map[string]string
}

// NewMetricsClient creates a new metrics client with default options
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{
		Enabled: true,
		Labels:  map[string]string{},
	})
}

// NewMetricsClientWithOptions creates a new metrics client with specific options
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	return &metricsClient{
		enabled:  options.Enabled,
		labels:   options.Labels,
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// metricKey folds labels into the series name, sorted for stability
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// RecordCounter increments a counter metric
func (m *metricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counters[metricKey(name, labels)] += value
	m.mu.Unlock()
}

// RecordGauge records a gauge metric
func (m *metricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.gauges[metricKey(name, labels)] = value
	m.mu.Unlock()
}

// RecordHistogram records a histogram metric
func (m *metricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counters[metricKey(name+"_sum", labels)] += value
	m.counters[metricKey(name+"_count", labels)]++
	m.mu.Unlock()
}

// RecordTimer records a timer metric
func (m *metricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.RecordHistogram(name+"_seconds", duration.Seconds(), labels)
}

// RecordCacheOperation records cache operation metrics
func (m *metricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
	if !m.enabled {
		return
	}
	labels := map[string]string{
		"operation": operation,
		"success":   stringFromBool(success),
	}
	m.RecordCounter("cache_operations_total", 1.0, labels)
	m.RecordHistogram("cache_operation_duration_seconds", durationSeconds, labels)
}

// RecordAPIOperation records API operation metrics
func (m *metricsClient) RecordAPIOperation(api string, operation string, success bool, durationSeconds float64) {
	if !m.enabled {
		return
	}
	labels := map[string]string{
		"api":       api,
		"operation": operation,
		"success":   stringFromBool(success),
	}
	m.RecordCounter("api_operations_total", 1.0, labels)
	m.RecordHistogram("api_operation_duration_seconds", durationSeconds, labels)
}

// RecordDatabaseOperation records database operation metrics
func (m *metricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
	if !m.enabled {
		return
	}
	labels := map[string]string{
		"operation": operation,
		"success":   stringFromBool(success),
	}
	m.RecordCounter("database_operations_total", 1.0, labels)
	m.RecordHistogram("database_operation_duration_seconds", durationSeconds, labels)
}

// StartTimer starts a timer metric
func (m *metricsClient) StartTimer(name string, labels map[string]string) func() {
	if !m.enabled {
		return func() {}
	}
	startTime := time.Now()
	return func() {
		m.RecordTimer(name, time.Since(startTime), labels)
	}
}

// IncrementCounter increments a counter metric with the default labels
func (m *metricsClient) IncrementCounter(name string, value float64) {
	if !m.enabled {
		return
	}
	m.RecordCounter(name, value, m.labels)
}

// IncrementCounterWithLabels increments a counter metric with custom labels
func (m *metricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	effectiveLabels := m.labels
	if labels != nil {
		effectiveLabels = labels
	}
	m.RecordCounter(name, value, effectiveLabels)
}

// Snapshot returns a copy of the current counter and gauge values
func (m *metricsClient) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		Counters: make(map[string]float64, len(m.counters)),
		Gauges:   make(map[string]float64, len(m.gauges)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

// Close closes the metrics client
func (m *metricsClient) Close() error {
	return nil
}

func stringFromBool(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

// NoopMetricsClient discards all metrics
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that records nothing
func NewNoopMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

func (n *NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string)   {}
func (n *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (n *NoopMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (n *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}
func (n *NoopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}
func (n *NoopMetricsClient) RecordAPIOperation(api string, operation string, success bool, durationSeconds float64) {
}
func (n *NoopMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
}
func (n *NoopMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}
func (n *NoopMetricsClient) IncrementCounter(name string, value float64) {}
func (n *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (n *NoopMetricsClient) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{Counters: map[string]float64{}, Gauges: map[string]float64{}}
}
func (n *NoopMetricsClient) Close() error { return nil }
