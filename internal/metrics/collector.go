// Package metrics collects gateway counters and latency histograms and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the exposition text. Series are sorted by name and labels.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP aina_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE aina_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "aina_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, v := range sortedValues(&c.counters) {
		ctr := v.(*Counter)
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		writeSample(&sb, ctr.name, ctr.labels, fmt.Sprint(ctr.Value()))
	}

	helpWritten = make(map[string]bool)
	for _, v := range sortedValues(&c.gauges) {
		g := v.(*Gauge)
		if !helpWritten[g.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			helpWritten[g.name] = true
		}
		writeSample(&sb, g.name, g.labels, fmt.Sprint(g.Value()))
	}

	helpWritten = make(map[string]bool)
	for _, v := range sortedValues(&c.histograms) {
		h := v.(*Histogram)
		h.mu.Lock()
		if !helpWritten[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			helpWritten[h.name] = true
		}
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			fmt.Fprintf(&sb, "%sle=\"%g\"} %d\n", prefix, b.le, b.count)
		}
		fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", prefix, h.count)
		writeSample(&sb, h.name+"_count", h.labels, fmt.Sprint(h.count))
		writeSample(&sb, h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
		h.mu.Unlock()
	}

	return sb.String()
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
		return
	}
	fmt.Fprintf(sb, "%s %s\n", name, value)
}

func sortedValues(m *sync.Map) []any {
	var keys []string
	vals := make(map[string]any)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

// --- Pre-defined metrics used across the application ---

var (
	MessagesTotal      = Collector.Counter("aina_messages_total", "Total inbound messages processed", "")
	WelcomesTotal      = Collector.Counter("aina_welcomes_total", "Welcome messages sent to new senders", "")
	ProfilesSaved      = Collector.Counter("aina_profiles_saved_total", "Profiles saved by onboarding", "")
	FormatRejections   = Collector.Counter("aina_format_rejections_total", "Onboarding messages with an incomplete profile", "")
	TranscriptionsOK   = Collector.Counter("aina_transcriptions_total", "Audio transcriptions", `result="ok"`)
	TranscriptionsFail = Collector.Counter("aina_transcriptions_total", "Audio transcriptions", `result="failed"`)
	RepliesGenerated   = Collector.Counter("aina_replies_generated_total", "Replies produced by the generator", "")
	HandlerPanics      = Collector.Counter("aina_handler_panics_total", "Recovered panics while handling an event", "")
	DeliveriesOK       = Collector.Counter("aina_deliveries_total", "Outbound deliveries", `result="ok"`)
	DeliveriesFailed   = Collector.Counter("aina_deliveries_total", "Outbound deliveries", `result="failed"`)
	TurnsDropped       = Collector.Counter("aina_turns_dropped_total", "Conversation turns dropped because the log queue was full", "")
	InFlight           = Collector.Gauge("aina_inflight_events", "Events currently being handled", "")

	GenerationLatency = Collector.Histogram("aina_generation_latency_seconds", "Chat backend latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	TranscriptionLatency = Collector.Histogram("aina_transcription_latency_seconds", "Speech backend latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30})
)
