package jembatan

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ambiyansyah-risyal/jembatan"

// requestSpan wraps the span covering one logical request.
type requestSpan struct {
	span trace.Span
}

func startRequestSpan(ctx context.Context, tracer trace.Tracer, method, endpoint, requestID string) (context.Context, *requestSpan) {
	ctx, span := tracer.Start(ctx, method+" "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("jembatan.endpoint", endpoint),
			attribute.String("jembatan.request_id", requestID),
		),
	)
	return ctx, &requestSpan{span: span}
}

// event adds a timestamped event, e.g. "retry.scheduled" or "token.refreshed".
func (s *requestSpan) event(name string, attrs ...attribute.KeyValue) {
	if s == nil || s.span == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *requestSpan) succeed(resp *Response, attempts int) {
	if s == nil || s.span == nil {
		return
	}
	s.span.SetAttributes(
		attribute.Int("http.response.status_code", resp.Status),
		attribute.Bool("jembatan.cached", resp.Cached),
		attribute.Int("jembatan.attempts", attempts),
	)
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
}

func (s *requestSpan) fail(err *ClassifiedError, attempts int) {
	if s == nil || s.span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("jembatan.error.kind", string(err.Kind())),
		attribute.Int("jembatan.attempts", attempts),
	}
	if err.HasStatus() {
		attrs = append(attrs, attribute.Int("http.response.status_code", err.Status))
	}
	if err.Code != "" {
		attrs = append(attrs, attribute.String("jembatan.error.code", err.Code))
	}
	s.span.SetAttributes(attrs...)
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Message)
	s.span.End()
}

// injectTraceContext propagates the active span to the server using the
// globally configured propagator.
func injectTraceContext(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}
