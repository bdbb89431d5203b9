package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name  string
	help  string
	value float64
	mu    sync.Mutex
}

// Histogram tracks distribution of values.
type Histogram struct {
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates a new metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram.
func (r *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
// LLM calls routinely take tens of seconds, so the tail is long.
func DefaultBuckets() []float64 {
	return []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.Add(-1) }

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records a duration in the histogram.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes metrics in Prometheus text format, sorted by
// name so output is stable.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w io.Writer, name, metricType, help string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %s\n", name, formatFloat(value))
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=%q} %d\n", h.name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %s\n", h.name, formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ForgeMetrics contains all PromptForge-specific metrics.
type ForgeMetrics struct {
	Registry *MetricsRegistry

	// LLM metrics
	LLMRequestsTotal   *Counter
	LLMRequestDuration *Histogram
	LLMTokensTotal     *Counter
	LLMErrorsTotal     *Counter

	// Run metrics
	RunsTotal          *Counter
	RunDuration        *Histogram
	RunsTruncatedTotal *Counter
	RunsFailedTotal    *Counter
	RefinementsTotal   *Counter

	// Parser recovery metrics, one counter per tier plus failures.
	ParseStrictTotal    *Counter
	ParseRepairedTotal  *Counter
	ParseRecoveredTotal *Counter
	ParseFailedTotal    *Counter

	// Active workflow executions gauge
	ActiveRuns *Gauge
}

// NewForgeMetrics creates PromptForge-specific metrics.
func NewForgeMetrics() *ForgeMetrics {
	r := NewMetricsRegistry()

	return &ForgeMetrics{
		Registry: r,

		LLMRequestsTotal:   r.NewCounter("forge_llm_requests_total", "Total LLM API requests"),
		LLMRequestDuration: r.NewHistogram("forge_llm_request_duration_seconds", "LLM request duration", nil),
		LLMTokensTotal:     r.NewCounter("forge_llm_tokens_total", "Total tokens used"),
		LLMErrorsTotal:     r.NewCounter("forge_llm_errors_total", "Total LLM errors"),

		RunsTotal:          r.NewCounter("forge_runs_total", "Total optimization runs"),
		RunDuration:        r.NewHistogram("forge_run_duration_seconds", "Optimization run duration", nil),
		RunsTruncatedTotal: r.NewCounter("forge_runs_truncated_total", "Runs stopped early on unparsable refinement"),
		RunsFailedTotal:    r.NewCounter("forge_runs_failed_total", "Runs that produced no prompt"),
		RefinementsTotal:   r.NewCounter("forge_refinements_total", "Total refinement rounds executed"),

		ParseStrictTotal:    r.NewCounter("forge_parse_strict_total", "Responses parsed by strict JSON"),
		ParseRepairedTotal:  r.NewCounter("forge_parse_repaired_total", "Responses parsed after brace extraction and repair"),
		ParseRecoveredTotal: r.NewCounter("forge_parse_recovered_total", "Responses recovered field-by-field"),
		ParseFailedTotal:    r.NewCounter("forge_parse_failed_total", "Responses that could not be parsed"),

		ActiveRuns: r.NewGauge("forge_active_runs", "Number of runs in flight"),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *ForgeMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordLLMRequest records an LLM request.
func (m *ForgeMetrics) RecordLLMRequest(duration time.Duration, tokens int, err error) {
	m.LLMRequestsTotal.Inc()
	m.LLMRequestDuration.Observe(duration.Seconds())
	m.LLMTokensTotal.Add(float64(tokens))
	if err != nil {
		m.LLMErrorsTotal.Inc()
	}
}

// RecordRun records a completed optimization run.
func (m *ForgeMetrics) RecordRun(duration time.Duration, refinements int, truncated bool, err error) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.RefinementsTotal.Add(float64(refinements))
	if truncated {
		m.RunsTruncatedTotal.Inc()
	}
	if err != nil {
		m.RunsFailedTotal.Inc()
	}
}

// RecordParse records which tier parsed a response. Tier 1 is strict,
// 2 repaired, 3 field recovery, 0 failure.
func (m *ForgeMetrics) RecordParse(tier int) {
	switch tier {
	case 1:
		m.ParseStrictTotal.Inc()
	case 2:
		m.ParseRepairedTotal.Inc()
	case 3:
		m.ParseRecoveredTotal.Inc()
	default:
		m.ParseFailedTotal.Inc()
	}
}

// Global metrics instance
var globalMetrics *ForgeMetrics
var metricsOnce sync.Once

// Metrics returns the global metrics instance.
func Metrics() *ForgeMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewForgeMetrics()
	})
	return globalMetrics
}
