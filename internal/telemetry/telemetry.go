package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// USE metrics
	memoryUsage    metric.Int64Gauge
	goroutineCount metric.Int64Gauge

	// Business metrics
	sessionOpsTotal     metric.Int64Counter
	sessionsActive      metric.Int64UpDownCounter
	completionsTotal    metric.Int64Counter
	cooldownRejections  metric.Int64Counter
	sizeMismatches      metric.Int64Counter
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram
}

// Config holds telemetry configuration.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// New creates a new telemetry instance. When an OTLP endpoint is configured,
// metrics are pushed there in addition to being scraped from /metrics.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		// Noop providers keep the tracer usable while every instrument
		// stays nil and records nothing.
		return &Telemetry{
			tracer: otel.Tracer(cfg.ServiceName),
			meter:  otel.Meter(cfg.ServiceName),
		}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithReader(exporter), sdkmetric.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordSessionOp records one lifecycle operation outcome. op and status are
// bounded sets (init/progress/complete/cancel, accepted/rejected/error).
func (t *Telemetry) RecordSessionOp(op, status string) {
	if t.sessionOpsTotal != nil {
		t.sessionOpsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("op", op),
				attribute.String("status", status),
			),
		)
	}
}

// IncrementActiveSessions increments the in-flight session counter.
func (t *Telemetry) IncrementActiveSessions() {
	if t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveSessions decrements the in-flight session counter.
func (t *Telemetry) DecrementActiveSessions() {
	if t.sessionsActive != nil {
		t.sessionsActive.Add(context.Background(), -1)
	}
}

// RecordCompletion records one credited download.
func (t *Telemetry) RecordCompletion() {
	if t.completionsTotal != nil {
		t.completionsTotal.Add(context.Background(), 1)
	}
}

// RecordCooldownRejection records an init rejected by the rate limiter.
func (t *Telemetry) RecordCooldownRejection() {
	if t.cooldownRejections != nil {
		t.cooldownRejections.Add(context.Background(), 1)
	}
}

// RecordSizeMismatch records a completion rejected by the integrity check.
func (t *Telemetry) RecordSizeMismatch() {
	if t.sizeMismatches != nil {
		t.sizeMismatches.Add(context.Background(), 1)
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown gracefully shuts down the telemetry system.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		return mp.Shutdown(ctx)
	}

	return nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	if t.memoryUsage, err = t.meter.Int64Gauge(
		"memory_usage_bytes",
		metric.WithDescription("Memory usage in bytes"),
		metric.WithUnit("bytes"),
	); err != nil {
		return fmt.Errorf("failed to create memory_usage gauge: %w", err)
	}

	if t.goroutineCount, err = t.meter.Int64Gauge(
		"goroutine_count",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create goroutine_count gauge: %w", err)
	}

	if t.sessionOpsTotal, err = t.meter.Int64Counter(
		"download_session_ops_total",
		metric.WithDescription("Total number of download session operations"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_session_ops_total counter: %w", err)
	}

	if t.sessionsActive, err = t.meter.Int64UpDownCounter(
		"download_sessions_active",
		metric.WithDescription("Number of download sessions currently started"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_sessions_active counter: %w", err)
	}

	if t.completionsTotal, err = t.meter.Int64Counter(
		"download_completions_total",
		metric.WithDescription("Total number of credited download completions"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_completions_total counter: %w", err)
	}

	if t.cooldownRejections, err = t.meter.Int64Counter(
		"download_cooldown_rejections_total",
		metric.WithDescription("Total number of session starts rejected by the cooldown"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_cooldown_rejections_total counter: %w", err)
	}

	if t.sizeMismatches, err = t.meter.Int64Counter(
		"download_size_mismatches_total",
		metric.WithDescription("Total number of completions rejected by the size check"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create download_size_mismatches_total counter: %w", err)
	}

	if t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	if t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats

			runtime.ReadMemStats(&m)

			if t.memoryUsage != nil {
				t.memoryUsage.Record(ctx, int64(m.Alloc))
			}

			if t.goroutineCount != nil {
				t.goroutineCount.Record(ctx, int64(runtime.NumGoroutine()))
			}
		}
	}
}
