//go:build oteltracing

// Package tracing wires OpenTelemetry distributed tracing around the
// daemon's inbound RPC handlers, its outbound dispatcher client, and the
// frame attendant's lifecycle, exporting over OTLP/HTTP.
//
// usage: go build -tags oteltracing ./...
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package tracing

import (
	"context"
	"net/http"
	ratomic "sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/opencue/rqd/cmn"
	"github.com/opencue/rqd/cmn/nlog"
)

const tracerName = "github.com/opencue/rqd"

var (
	enabled  ratomic.Bool
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
)

// Init builds and installs the global TracerProvider when conf.Enabled.
// hostName and version populate the exported resource's attributes so spans
// from every rendering host are distinguishable at the collector.
func Init(conf *cmn.TracingConf, hostName, version string) error {
	if conf == nil || !conf.Enabled {
		return nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(conf.ExporterEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return err
	}
	return initWithExporter(conf, hostName, version, exporter)
}

func initWithExporter(conf *cmn.TracingConf, hostName, version string, exporter sdktrace.SpanExporter) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("rqd"),
			attribute.String("version", version),
			attribute.String("host.name", hostName),
		),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(conf.SamplerProbability))),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(tracerName)
	enabled.Store(true)
	nlog.Infof("tracing: exporting to %s (sample %.2f)", conf.ExporterEndpoint, conf.SamplerProbability)
	return nil
}

func IsEnabled() bool { return enabled.Load() }

// Shutdown flushes and stops the exporter; safe to call when disabled.
func Shutdown() {
	if !enabled.Load() || provider == nil {
		return
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		nlog.Warningf("tracing: shutdown: %v", err)
	}
	enabled.Store(false)
}

// ForceFlush blocks until every pending span has been exported; tests use
// this instead of waiting out the batcher's timer.
func ForceFlush() {
	if !enabled.Load() || provider == nil {
		return
	}
	if err := provider.ForceFlush(context.Background()); err != nil {
		nlog.Warningf("tracing: force flush: %v", err)
	}
}

// NewTraceableHandler wraps h so every inbound request starts a server span
// named operation (spec's inbound RPC surface: launchFrame, killFrame, ...).
func NewTraceableHandler(h http.Handler, operation string) http.Handler {
	if !enabled.Load() {
		return h
	}
	return otelhttp.NewHandler(h, operation)
}

// NewTraceableClient wraps c's transport so every outbound dispatcher call
// propagates the active trace context.
func NewTraceableClient(c *http.Client) *http.Client {
	if !enabled.Load() {
		return c
	}
	cp := *c
	cp.Transport = otelhttp.NewTransport(c.Transport)
	return &cp
}

// StartFrameSpan starts a span covering one frame attendant's full lifecycle
// (spec §4.2); the returned func ends it. A no-op when tracing is disabled.
func StartFrameSpan(ctx context.Context, frameID string) (context.Context, func()) {
	if !enabled.Load() {
		return ctx, func() {}
	}
	ctx, span := tracer.Start(ctx, "attendant.Run", oteltrace.WithAttributes(
		attribute.String("rqd.frame_id", frameID),
	))
	return ctx, func() { span.End() }
}
