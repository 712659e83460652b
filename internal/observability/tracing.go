// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TracingOptions configures span export.
type TracingOptions struct {
	// Endpoint is an OTLP/HTTP collector URL, e.g. http://collector:4318.
	// Empty disables export.
	Endpoint string
	// SampleRatio is the fraction of root spans kept.
	SampleRatio float64
	Service     string
	Version     string
}

// SetupTracing installs a global tracer provider that batches spans to the
// OTLP endpoint. With no endpoint it installs nothing and the returned
// shutdown is a no-op. Shutdown flushes pending spans.
func SetupTracing(ctx context.Context, opts TracingOptions) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return noop, oops.Code("TRACING_SETUP_FAILED").With("endpoint", opts.Endpoint).Wrap(err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(opts.Service),
		semconv.ServiceVersion(opts.Version),
	))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noop, oops.Code("TRACING_SETUP_FAILED").Wrap(err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(opts.SampleRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
