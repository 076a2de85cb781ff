// Package hugetrace wraps control-channel dispatch and store I/O in
// OpenTelemetry spans.
package hugetrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hugefs/hugefs"

// ShutdownFunc flushes and releases the tracer provider installed by
// InstallStdout.
type ShutdownFunc func(ctx context.Context) error

// InstallStdout installs a TracerProvider that writes completed spans
// to stdout, suitable for local debugging without a full
// observability backend.
func InstallStdout() (ShutdownFunc, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("constructing stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// Span starts a span named name and returns it along with a derived
// context; callers must call End regardless of outcome.
func Span(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, name)
}

// End records err (if non-nil) on span and ends it.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
