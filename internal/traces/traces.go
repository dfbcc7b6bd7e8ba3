// Package traces wires OpenTelemetry spans through dispatch and analysis.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/guardian"

// Config selects the exporter and labels the service resource.
type Config struct {
	Endpoint       string // OTLP gRPC collector; empty disables export
	ServiceVersion string
	Environment    string
}

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs a batching tracer provider when cfg.Endpoint is set.
// Without an endpoint the global no-op provider stays in place and the
// returned Shutdown does nothing.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return noop, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(serviceAttributes(cfg)...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "version", cfg.ServiceVersion)
	return tp.Shutdown, nil
}

func serviceAttributes(cfg Config) []attribute.KeyValue {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName("guardian"),
		semconv.ServiceVersion(version),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return attrs
}

// StartSpan opens a span on the guardian tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span attributes.

func MessageType(t string) attribute.KeyValue { return attribute.String("message.type", t) }
func ContextID(id string) attribute.KeyValue  { return attribute.String("context.id", id) }
func TxTo(addr string) attribute.KeyValue     { return attribute.String("tx.to", addr) }
func Origin(origin string) attribute.KeyValue { return attribute.String("origin", origin) }
func Analyzer(name string) attribute.KeyValue { return attribute.String("analyzer", name) }
func RiskLevel(l string) attribute.KeyValue   { return attribute.String("risk.level", l) }
func PendingID(id string) attribute.KeyValue  { return attribute.String("pending.id", id) }
