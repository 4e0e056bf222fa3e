// Package telemetry wires OpenTelemetry traces and metrics for blueauth.
//
// Traces are exported over OTLP/gRPC when an endpoint is configured. Metrics
// are collected through the OpenTelemetry Prometheus exporter into a registry
// owned by the Provider and served by MetricsHandler.
//
// Every recording method is safe on a nil *Provider, so components treat
// telemetry as optional.
package telemetry

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// OTLPEndpoint is the OTLP/gRPC trace collector. Empty disables export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "blueauth",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages the tracer and meter providers and the metric instruments.
type Provider struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prom.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	signInStarted   metric.Int64Counter
	signInCompleted metric.Int64Counter
	registrations   metric.Int64Counter
	rateLimited     metric.Int64Counter
	emailsSent      metric.Int64Counter
	sessions        metric.Int64Counter
	flowDuration    metric.Float64Histogram
}

// NewProvider creates a Provider. A disabled config yields a Provider that
// records nothing.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(ctx, res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, res *resource.Resource) error {
	var sampler sdktrace.Sampler
	switch {
	case p.config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)
	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	p.registry = prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(p.config.ServiceName)
	return nil
}

func (p *Provider) initMetrics() error {
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&p.signInStarted, "blueauth.signin.started", "Sign-in emails requested"},
		{&p.signInCompleted, "blueauth.signin.completed", "Sign-in links redeemed"},
		{&p.registrations, "blueauth.registration", "Identities registered"},
		{&p.rateLimited, "blueauth.signin.rate_limited", "Sign-in requests rejected by the rate limiter"},
		{&p.emailsSent, "blueauth.email.sent", "Sign-in emails handed to the transport"},
		{&p.sessions, "blueauth.session.issued", "Session tokens issued or refreshed"},
	}
	for _, c := range counters {
		counter, err := p.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
		*c.dst = counter
	}

	var err error
	p.flowDuration, err = p.meter.Float64Histogram(
		"blueauth.flow.duration",
		metric.WithDescription("Sign-in flow operation duration in seconds"),
		metric.WithUnit("s"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer, or the global one when telemetry is disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("blueauth")
	}
	return p.tracer
}

// MetricsHandler serves the Prometheus metrics of this Provider.
// It returns nil when telemetry is disabled.
func (p *Provider) MetricsHandler() http.Handler {
	if p == nil || p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "failure")
	}
	return attribute.String("status", "success")
}

// RecordSignInStarted counts a Start outcome.
func (p *Provider) RecordSignInStarted(ctx context.Context, err error) {
	if p == nil || p.signInStarted == nil {
		return
	}
	p.signInStarted.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordSignInCompleted counts a Complete outcome.
func (p *Provider) RecordSignInCompleted(ctx context.Context, err error) {
	if p == nil || p.signInCompleted == nil {
		return
	}
	p.signInCompleted.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordRegistration counts a registration outcome.
func (p *Provider) RecordRegistration(ctx context.Context, err error) {
	if p == nil || p.registrations == nil {
		return
	}
	p.registrations.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordRateLimited counts a rejected sign-in request.
func (p *Provider) RecordRateLimited(ctx context.Context) {
	if p == nil || p.rateLimited == nil {
		return
	}
	p.rateLimited.Add(ctx, 1)
}

// RecordEmail counts a dispatch attempt.
func (p *Provider) RecordEmail(ctx context.Context, err error) {
	if p == nil || p.emailsSent == nil {
		return
	}
	p.emailsSent.Add(ctx, 1, metric.WithAttributes(statusAttr(err)))
}

// RecordSession counts an issued session; kind is "issued" or "refreshed".
func (p *Provider) RecordSession(ctx context.Context, kind string) {
	if p == nil || p.sessions == nil {
		return
	}
	p.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDuration records how long a flow operation took.
func (p *Provider) RecordDuration(ctx context.Context, operation string, d time.Duration) {
	if p == nil || p.flowDuration == nil {
		return
	}
	p.flowDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}
