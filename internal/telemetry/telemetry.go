package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Service information
	ServiceName    = "flashloan-arb-go"
	ServiceVersion = "1.0.0"

	tracerPrefix = "github.com/irfndi/flashloan-arb-go/"
)

// TelemetryConfig holds configuration for telemetry
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
	Stdout         bool
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "http://localhost:4318",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// FromConfig maps the application config onto a TelemetryConfig, keeping
// defaults for anything unset.
func FromConfig(cfg config.TelemetryConfig, environment string) *TelemetryConfig {
	out := DefaultConfig()
	out.Enabled = cfg.Enabled
	out.Stdout = cfg.Stdout
	out.Environment = environment
	if cfg.OTLPEndpoint != "" {
		out.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		out.ServiceName = cfg.ServiceName
	}
	if cfg.ServiceVersion != "" {
		out.ServiceVersion = cfg.ServiceVersion
	}
	if cfg.SampleRate > 0 {
		out.SampleRate = cfg.SampleRate
	}
	return out
}

// Provider holds the telemetry provider
type Provider struct {
	Shutdown func(context.Context) error
	tp       *sdktrace.TracerProvider
	logger   *logrus.Logger
}

// InitTelemetry installs the global tracer provider. When telemetry is
// disabled the returned provider has a no-op Shutdown.
func InitTelemetry(ctx context.Context, cfg *TelemetryConfig, logger *logrus.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Provider{Shutdown: func(context.Context) error { return nil }, logger: logger}, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	} else {
		hostport, urlPath, insecure, resolved, err := normalizeOTLPEndpoint(cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid OTLPEndpoint: %w", err)
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
		logger.WithField("endpoint", resolved).Info("OTLP trace exporter configured")
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatch),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{Shutdown: tp.Shutdown, tp: tp, logger: logger}, nil
}

// normalizeOTLPEndpoint splits a collector base URL into the pieces the
// HTTP exporter wants. The traces path is appended unless already present.
func normalizeOTLPEndpoint(endpoint string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", "", false, "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", false, "", errors.New("endpoint must start with http:// or https://")
	}
	if u.Host == "" {
		return "", "", false, "", errors.New("endpoint host is empty")
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/v1/traces") {
		path += "/v1/traces"
	}
	insecure = u.Scheme == "http"
	resolved = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, path)
	return u.Host, path, insecure, resolved, nil
}

// GetTracer returns a named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(tracerPrefix + name)
}

func GetHTTPTracer() trace.Tracer     { return GetTracer("http") }
func GetDatabaseTracer() trace.Tracer { return GetTracer("database") }
func GetBusinessTracer() trace.Tracer { return GetTracer("business") }
func GetExternalTracer() trace.Tracer { return GetTracer("external") }

// StartSpan starts a span with optional attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordError records err on span and marks it failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanStatus(span trace.Span, code codes.Code, description string) {
	span.SetStatus(code, description)
}

func StringAttribute(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func StringSliceAttribute(key string, value []string) attribute.KeyValue {
	return attribute.StringSlice(key, value)
}
func Int64Attribute(key string, value int64) attribute.KeyValue { return attribute.Int64(key, value) }
func Float64Attribute(key string, value float64) attribute.KeyValue {
	return attribute.Float64(key, value)
}
func BoolAttribute(key string, value bool) attribute.KeyValue { return attribute.Bool(key, value) }
