package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics observability.Metrics
}

type registeredMetrics struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *registeredMetrics) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok && c != nil {
		return c
	}
	return observability.NopCounter()
}

func (m *registeredMetrics) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok && h != nil {
		return h
	}
	return observability.NopHistogram()
}

// RegisterStandard creates every instrument the service records.
func RegisterStandard(reg prometrics.Registry) observability.Metrics {
	latency := prometheus.DefBuckets
	return &registeredMetrics{
		counters: map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests:      reg.Counter(string(observability.MUsecaseRequests), "Use case executions by outcome.", "use_case", "outcome"),
			observability.MHTTPRequests:         reg.Counter(string(observability.MHTTPRequests), "HTTP requests served.", "method", "route", "status"),
			observability.MExternalRequests:     reg.Counter(string(observability.MExternalRequests), "Calls to external collaborators.", "peer", "endpoint", "outcome"),
			observability.MStockCompensations:   reg.Counter(string(observability.MStockCompensations), "Compensating stock increments.", "outcome"),
			observability.MCompensationFailures: reg.Counter(string(observability.MCompensationFailures), "Reservations left needing operator review.", "stage"),
		},
		histograms: map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration:         reg.Histogram(string(observability.MUsecaseDuration), "Use case latency.", latency, "use_case"),
			observability.MHTTPRequestDuration:     reg.Histogram(string(observability.MHTTPRequestDuration), "HTTP request latency.", latency, "method", "route", "status"),
			observability.MExternalRequestDuration: reg.Histogram(string(observability.MExternalRequestDuration), "External call latency.", latency, "peer", "endpoint"),
		},
	}
}

// New assembles an Observability provider backed by the supplied tracer, logger, and metrics.
func New(tracer observability.Tracer, logger observability.Logger, metrics observability.Metrics) observability.Observability {
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &provider{
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *provider) Tracer() observability.Tracer {
	return p.tracer
}

func (p *provider) Logger() observability.Logger {
	return p.logger
}

func (p *provider) Metrics() observability.Metrics {
	return p.metrics
}
