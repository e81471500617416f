package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracerName is the tracer name used when none is configured.
const DefaultTracerName = "urlsync"

// Tracer returns the tracer for name from the global provider. An empty name
// means DefaultTracerName.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = DefaultTracerName
	}
	return otel.Tracer(name)
}

// FlushAttrs describes a batch for span attributes.
type FlushAttrs struct {
	BatchID string
	Batch   uint64
	Keys    []string
	Writes  int
	History string
	Shallow bool
	Scroll  bool
}

// StartFlush starts a span covering the synchronous part of a flush.
// A nil tracer yields a no-op span.
func StartFlush(ctx context.Context, tracer trace.Tracer, a FlushAttrs) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, "urlsync.flush",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("urlsync.batch_id", a.BatchID),
			attribute.Int64("urlsync.batch", int64(a.Batch)),
			attribute.StringSlice("urlsync.keys", a.Keys),
			attribute.Int("urlsync.writes", a.Writes),
			attribute.String("urlsync.history", a.History),
			attribute.Bool("urlsync.shallow", a.Shallow),
			attribute.Bool("urlsync.scroll", a.Scroll),
		),
	)
}

// EndFlush records err on span (if any) and ends it.
func EndFlush(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
