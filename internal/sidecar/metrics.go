package sidecar

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("orchard.sidecar")
	meter  = otel.Meter("orchard.sidecar")
)

var (
	handshakeLatency metric.Float64Histogram
	handshakeTotal   metric.Int64Counter
	callLatency      metric.Float64Histogram
	callTotal        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		handshakeLatency, err = meter.Float64Histogram(
			"sidecar_handshake_duration_seconds",
			metric.WithDescription("Duration of sidecar startup handshakes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		handshakeTotal, err = meter.Int64Counter(
			"sidecar_handshake_total",
			metric.WithDescription("Sidecar handshakes by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callLatency, err = meter.Float64Histogram(
			"sidecar_call_duration_seconds",
			metric.WithDescription("Duration of proxied sidecar calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		callTotal, err = meter.Int64Counter(
			"sidecar_call_total",
			metric.WithDescription("Proxied sidecar calls"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startCallSpan(ctx context.Context, operation, language string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Bridge."+operation,
		trace.WithAttributes(
			attribute.String("sidecar.operation", operation),
			attribute.String("sidecar.language", language),
		),
	)
}

func recordCall(ctx context.Context, operation, language string, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	callLatency.Record(ctx, d.Seconds(), attrs)
	callTotal.Add(ctx, 1, attrs)
}

func recordHandshake(ctx context.Context, language string, res HandshakeResult) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("outcome", res.Outcome.String()),
	)
	handshakeLatency.Record(ctx, res.Elapsed.Seconds(), attrs)
	handshakeTotal.Add(ctx, 1, attrs)
}
