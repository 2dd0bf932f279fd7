package application

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

// Instruments holds the RED metrics shared by every use case.
type Instruments struct {
	tracer   observability.Tracer
	requests observability.Counter   // usecase_requests_total{use_case,outcome}
	duration observability.Histogram // usecase_duration_seconds{use_case}
}

func NewInstruments(tel observability.Observability) Instruments {
	tel = observability.Or(tel)
	return Instruments{
		tracer:   tel.Tracer(),
		requests: tel.Metrics().Counter(observability.MUsecaseRequests),
		duration: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

// Run tracks one use case execution: a span, RED metrics and a single
// use_case_done log line written by End.
type Run struct {
	useCase string
	outcome string
	status  string
	start   time.Time
	span    trace.Span
	logger  observability.Logger
	fields  []observability.Field
	in      Instruments
}

// Start opens the span and enriches the context logger with use_case, trace_id and span_id.
func (in Instruments) Start(ctx context.Context, base observability.Logger, useCase, spanName string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	if in.tracer == nil {
		in = NewInstruments(nil)
	}
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := in.tracer.Start(ctx, SpanPrefix+spanName, attrs...)

	fields := []observability.Field{observability.F("use_case", useCase)}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx, logger := logctx.Enrich(ctx, base, fields...)

	return ctx, &Run{
		useCase: useCase,
		outcome: "success",
		status:  "OK",
		start:   time.Now(),
		span:    span,
		logger:  logger,
		in:      in,
	}
}

func (r *Run) Logger() observability.Logger { return r.logger }
func (r *Run) Span() trace.Span             { return r.span }

// Fail records an error outcome with an upper-snake status code.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// Mark sets a non-error status code, e.g. IDEMPOTENT_REPLAY.
func (r *Run) Mark(status string) {
	r.status = status
}

// With adds fields to the use_case_done line.
func (r *Run) With(fields ...observability.Field) {
	r.fields = append(r.fields, fields...)
}

func (r *Run) End(err error) {
	lat := time.Since(r.start).Seconds()

	if err != nil {
		r.span.RecordError(err)
	}
	if r.outcome == "error" {
		r.span.SetStatus(codes.Error, r.status)
	} else {
		r.span.SetStatus(codes.Ok, r.status)
	}
	r.span.End()

	r.in.requests.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.in.duration.Observe(lat, observability.L("use_case", r.useCase))

	fields := append([]observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}, r.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}
	if r.outcome == "error" {
		r.logger.Warn("use_case_done", fields...)
		return
	}
	r.logger.Info("use_case_done", fields...)
}
