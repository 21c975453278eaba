package observability

import (
	"sync"
	"time"
)

// categoryMetrics accumulates count/error/latency totals for one
// request category (auth, bridge, queue, pool, cache, breaker, hub,
// admin), matching the documented category taxonomy.
type categoryMetrics struct {
	count   int64
	errors  int64
	totalMs int64
	maxMs   int64
}

// Metrics is an in-process counter/histogram/gauge store, rendered as
// JSON at /metrics and /admin/metrics. There is no external metrics
// backend: the gateway is single-process, so counters live in memory
// and reset on restart.
type Metrics struct {
	mu         sync.Mutex
	categories map[string]*categoryMetrics
	gauges     map[string]float64
}

// NewMetrics builds an empty Metrics store.
func NewMetrics() *Metrics {
	return &Metrics{
		categories: make(map[string]*categoryMetrics),
		gauges:     make(map[string]float64),
	}
}

// Record logs one completed operation in category, with its duration
// and whether it ended in an error.
func (m *Metrics) Record(category string, duration time.Duration, isError bool) {
	ms := duration.Milliseconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[category]
	if !ok {
		c = &categoryMetrics{}
		m.categories[category] = c
	}
	c.count++
	if isError {
		c.errors++
	}
	c.totalMs += ms
	if ms > c.maxMs {
		c.maxMs = ms
	}
}

// SetGauge records a point-in-time value (queue depth, pool size,
// breaker state) under name.
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

// CategorySnapshot is one category's rendered metrics.
type CategorySnapshot struct {
	Count        int64   `json:"count"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
}

// Snapshot renders the current counters/histograms/gauges for JSON
// serving.
func (m *Metrics) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	categories := make(map[string]CategorySnapshot, len(m.categories))
	for name, c := range m.categories {
		avg := 0.0
		if c.count > 0 {
			avg = float64(c.totalMs) / float64(c.count)
		}
		categories[name] = CategorySnapshot{Count: c.count, Errors: c.errors, AvgLatencyMs: avg, MaxLatencyMs: c.maxMs}
	}
	gauges := make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return map[string]any{"categories": categories, "gauges": gauges}
}
