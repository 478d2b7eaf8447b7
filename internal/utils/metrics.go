// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Counter metric, updated atomically
type Counter struct {
	name  string
	value int64
}

// Gauge metric, updated atomically
type Gauge struct {
	name  string
	value int64
}

// Histogram metric (count, sum, min, max)
type Histogram struct {
	name  string
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*Counter),
			gauges:     make(map[string]*Gauge),
			histograms: make(map[string]*Histogram),
		}
	})
	return globalMetrics
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		counter, exists = m.counters[name]
		if !exists {
			counter = &Counter{name: name}
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&counter.value, value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		gauge, exists = m.gauges[name]
		if !exists {
			gauge = &Gauge{name: name}
			m.gauges[name] = gauge
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(&gauge.value, value)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}
	return atomic.LoadInt64(&gauge.value)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{
				name: name,
				min:  value,
				max:  value,
			}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value

	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{})

	counters := make(map[string]int64)
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(&counter.value)
	}
	metrics["counters"] = counters

	gauges := make(map[string]int64)
	for name, gauge := range m.gauges {
		gauges[name] = atomic.LoadInt64(&gauge.value)
	}
	metrics["gauges"] = gauges

	histograms := make(map[string]map[string]int64)
	for name, histogram := range m.histograms {
		histogram.mu.Lock()
		histograms[name] = map[string]int64{
			"count": histogram.count,
			"sum":   histogram.sum,
			"min":   histogram.min,
			"max":   histogram.max,
		}
		histogram.mu.Unlock()
	}
	metrics["histograms"] = histograms

	return metrics
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}
	return atomic.LoadInt64(&counter.value)
}

// EngineMetrics records simulation-engine specific metrics
type EngineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewEngineMetrics creates a new engine metrics instance
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// RecordModelCall records one model invocation
func (em *EngineMetrics) RecordModelCall(provider, model string, tokensUsed int, duration time.Duration) {
	em.metrics.IncrementCounter("llm_requests_total")
	em.metrics.IncrementCounter("llm_requests_" + provider)
	em.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	em.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	em.logger.Debug("模型调用完成", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordModelFailure records a failed model invocation
func (em *EngineMetrics) RecordModelFailure(provider string) {
	em.metrics.IncrementCounter("llm_failures_total")
	em.metrics.IncrementCounter("llm_failures_" + provider)
}

// RecordCacheHit records a completion cache hit
func (em *EngineMetrics) RecordCacheHit() {
	em.metrics.IncrementCounter("llm_cache_hits_total")
}

// RecordFallbackReaction records a turn answered with the deterministic fallback
func (em *EngineMetrics) RecordFallbackReaction(characterID string) {
	em.metrics.IncrementCounter("agent_fallback_reactions_total")

	em.logger.Warn("角色回合使用兜底反应", map[string]interface{}{
		"character_id": characterID,
	})
}

// RecordProfilerWindow records the outcome of one document window
func (em *EngineMetrics) RecordProfilerWindow(outcome string) {
	// outcome: processed / skipped / failed
	em.metrics.IncrementCounter("profiler_windows_" + outcome)
}

// RecordExtractionRecovery records which recovery tier produced a parse
func (em *EngineMetrics) RecordExtractionRecovery(failed bool) {
	if failed {
		em.metrics.IncrementCounter("extractor_exhausted_total")
		return
	}
	em.metrics.IncrementCounter("extractor_recovered_total")
}
