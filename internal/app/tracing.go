package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const tracingExportTimeout = 5 * time.Second

// initTracing installs the global tracer provider the store and the admin
// server pick up through otel.Tracer. The returned func flushes pending spans.
func (a *App) initTracing(ctx context.Context) (func(context.Context) error, error) {
	if !a.config.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	endpoint := strings.TrimSpace(a.config.TracingEndpoint)
	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(tracingExportTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("init tracing exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(a.traceAttributes()...))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("init tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	a.logger.Info("tracing enabled",
		"node_id", a.config.NodeID,
		"endpoint", endpoint,
		"service_name", a.config.TracingServiceName,
	)
	return tp.Shutdown, nil
}

// traceAttributes describe the node on every exported span.
func (a *App) traceAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", a.config.TracingServiceName),
		attribute.String("service.instance.id", a.config.NodeID),
		attribute.String("raftstore.backend", string(a.config.Backend)),
	}
	if a.config.Backend == BackendBolt {
		attrs = append(attrs, attribute.String("raftstore.data_dir", a.config.DataDir))
	}
	if a.config.MaxSizeBytes > 0 {
		attrs = append(attrs, attribute.Int64("raftstore.max_size_bytes", a.config.MaxSizeBytes))
	}
	return attrs
}
