// Package otelcollector implements the OTLP exporter, to send the
// client metrics and traces to an OpenTelemetry collector.
package otelcollector

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/krakend/krakend-httpmetrics/config"
)

const (
	defaultGRPCPort = 4317
	defaultHTTPPort = 4318
	defaultHost     = "localhost"
)

// OtelCollector holds the span and metric exporters for a collector.
type OtelCollector struct {
	exporter                 sdktrace.SpanExporter
	metricExporter           sdkmetric.Exporter
	metricsDisabledByDefault bool
	tracesDisabledByDefault  bool
}

// SpanExporter implements the interface to export traces.
func (c *OtelCollector) SpanExporter() sdktrace.SpanExporter {
	return c.exporter
}

// MetricReader returns a reader that pushes the metrics every
// reportingPeriod.
func (c *OtelCollector) MetricReader(reportingPeriod time.Duration) sdkmetric.Reader {
	return sdkmetric.NewPeriodicReader(c.metricExporter,
		sdkmetric.WithInterval(reportingPeriod))
}

func (c *OtelCollector) MetricDefaultReporting() bool {
	return !c.metricsDisabledByDefault
}

func (c *OtelCollector) TraceDefaultReporting() bool {
	return !c.tracesDisabledByDefault
}

func httpExporterWithOptions(ctx context.Context, cfg config.OTLPExporter,
	options []interface{},
) (*OtelCollector, error) {
	tOpts := make([]otlptracehttp.Option, 0, len(options)+1)
	mOpts := make([]otlpmetrichttp.Option, 0, len(options)+1)
	for _, iopt := range options {
		if to, ok := iopt.(otlptracehttp.Option); ok {
			tOpts = append(tOpts, to)
		}
		if mo, ok := iopt.(otlpmetrichttp.Option); ok {
			mOpts = append(mOpts, mo)
		}
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tOpts = append(tOpts, otlptracehttp.WithEndpoint(endpoint))
	exporter, err := otlptracehttp.New(ctx, tOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create http trace exporter: %w", err)
	}

	mOpts = append(mOpts, otlpmetrichttp.WithEndpoint(endpoint))
	metricExporter, err := otlpmetrichttp.New(ctx, mOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create http metric exporter: %w", err)
	}

	return newCollector(cfg, exporter, metricExporter), nil
}

func grpcExporterWithOptions(ctx context.Context, cfg config.OTLPExporter,
	options []interface{},
) (*OtelCollector, error) {
	tOpts := make([]otlptracegrpc.Option, 0, len(options)+1)
	mOpts := make([]otlpmetricgrpc.Option, 0, len(options)+1)
	for _, iopt := range options {
		if to, ok := iopt.(otlptracegrpc.Option); ok {
			tOpts = append(tOpts, to)
		}
		if mo, ok := iopt.(otlpmetricgrpc.Option); ok {
			mOpts = append(mOpts, mo)
		}
	}

	endpoint := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	tOpts = append(tOpts, otlptracegrpc.WithEndpoint(endpoint))
	exporter, err := otlptracegrpc.New(ctx, tOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create grpc trace exporter: %w", err)
	}
	mOpts = append(mOpts, otlpmetricgrpc.WithEndpoint(endpoint))
	metricExporter, err := otlpmetricgrpc.New(ctx, mOpts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create grpc metric exporter: %w", err)
	}

	return newCollector(cfg, exporter, metricExporter), nil
}

func newCollector(cfg config.OTLPExporter, se sdktrace.SpanExporter, me sdkmetric.Exporter) *OtelCollector {
	return &OtelCollector{
		exporter:                 se,
		metricExporter:           me,
		metricsDisabledByDefault: cfg.DisableMetrics,
		tracesDisabledByDefault:  cfg.DisableTraces,
	}
}

// ExporterWithOptions creates the exporter with a list of options, where
// each option is applied only to the exporters (http or grpc, metrics or
// traces) it belongs to.
func ExporterWithOptions(ctx context.Context, cfg config.OTLPExporter, options []interface{}) (*OtelCollector, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultGRPCPort
		if cfg.UseHTTP {
			cfg.Port = defaultHTTPPort
		}
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}

	if cfg.UseHTTP {
		return httpExporterWithOptions(ctx, cfg, options)
	}
	return grpcExporterWithOptions(ctx, cfg, options)
}

// Exporter creates an OTLP exporter instance. grpc connections are made
// without TLS.
func Exporter(ctx context.Context, cfg config.OTLPExporter) (*OtelCollector, error) {
	options := []interface{}{
		otlptracegrpc.WithInsecure(),
		otlpmetricgrpc.WithInsecure(),
	}
	return ExporterWithOptions(ctx, cfg, options)
}
