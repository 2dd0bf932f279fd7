// Package obstest provides recording observability ports for tests.
package obstest

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

type sink struct {
	mu      sync.Mutex
	entries []Entry
}

// Logger records every entry, including fields bound through With.
type Logger struct {
	base map[string]any
	sink *sink
}

func NewLogger() *Logger {
	return &Logger{base: map[string]any{}, sink: &sink{}}
}

func (l *Logger) With(fields ...observability.Field) observability.Logger {
	next := &Logger{base: make(map[string]any, len(l.base)+len(fields)), sink: l.sink}
	for k, v := range l.base {
		next.base[k] = v
	}
	for _, f := range fields {
		next.base[f.Key] = f.Value
	}
	return next
}

func (l *Logger) Debug(msg string, f ...observability.Field) { l.log("debug", msg, f) }
func (l *Logger) Info(msg string, f ...observability.Field)  { l.log("info", msg, f) }
func (l *Logger) Warn(msg string, f ...observability.Field)  { l.log("warn", msg, f) }
func (l *Logger) Error(msg string, f ...observability.Field) { l.log("error", msg, f) }

func (l *Logger) log(level, msg string, fields []observability.Field) {
	m := make(map[string]any, len(l.base)+len(fields))
	for k, v := range l.base {
		m[k] = v
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.sink.mu.Lock()
	l.sink.entries = append(l.sink.entries, Entry{Level: level, Msg: msg, Fields: m})
	l.sink.mu.Unlock()
}

func (l *Logger) Entries() []Entry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]Entry(nil), l.sink.entries...)
}

// Find returns the entries with the given message.
func (l *Logger) Find(msg string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

// Metrics sums counter deltas per metric key and label set.
type Metrics struct {
	mu     sync.Mutex
	counts map[string]float64
}

func NewMetrics() *Metrics {
	return &Metrics{counts: map[string]float64{}}
}

// Count returns the total recorded for key with exactly the given labels.
func (m *Metrics) Count(key observability.MetricKey, labels ...observability.Label) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[seriesKey(key, labels)]
}

func (m *Metrics) Counter(key observability.MetricKey) observability.Counter {
	return &counter{m: m, key: key}
}

func (m *Metrics) Histogram(observability.MetricKey) observability.Histogram {
	return observability.NopHistogram()
}

type counter struct {
	m   *Metrics
	key observability.MetricKey
}

func (c *counter) Add(delta float64, labels ...observability.Label) {
	c.m.mu.Lock()
	c.m.counts[seriesKey(c.key, labels)] += delta
	c.m.mu.Unlock()
}

func (c *counter) Bind(labels ...observability.Label) observability.BoundCounter {
	return bound{c: c, labels: labels}
}

type bound struct {
	c      *counter
	labels []observability.Label
}

func (b bound) Add(delta float64) { b.c.Add(delta, b.labels...) }

func seriesKey(key observability.MetricKey, labels []observability.Label) string {
	s := string(key)
	for _, l := range labels {
		s += "|" + l.Key + "=" + l.Value
	}
	return s
}

// Observability bundles a recording logger and metrics with a no-op tracer.
type Observability struct {
	Log *Logger
	Met *Metrics
}

func New() *Observability {
	return &Observability{Log: NewLogger(), Met: NewMetrics()}
}

func (o *Observability) Tracer() observability.Tracer   { return tracer{} }
func (o *Observability) Logger() observability.Logger   { return o.Log }
func (o *Observability) Metrics() observability.Metrics { return o.Met }

type tracer struct{}

func (tracer) Start(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}
