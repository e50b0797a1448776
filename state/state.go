// Package state packs into a single structure the configured
// OpenTelemetry instances (meter and tracer providers, fed by the
// exporters) used to report the client metrics.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/krakend/krakend-httpmetrics/exporter"
)

const (
	providerName string = "io.krakend.krakend-httpmetrics"
)

// ErrUnknownProvider is returned when the state config names an exporter
// that does not exist.
var ErrUnknownProvider = errors.New("unknown provider")

// OTEL defines the interface to obtain observability
// instruments for a state.
type OTEL interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Propagator() propagation.TextMapPropagator
	Shutdown(ctx context.Context)
	MeterProvider() metric.MeterProvider
	TracerProvider() trace.TracerProvider
}

// GetterFn defines a function that will return an [OTEL] instance.
type GetterFn func() OTEL

type OTELStateConfig struct {
	MetricProviders       []string `json:"metric_providers"`
	TraceProviders        []string `json:"trace_providers"`
	MetricReportingPeriod int      `json:"metric_reporting_period"`
	TraceSampleRate       float64  `json:"trace_sample_rate"`
}

// OTELState is the basic implementation of an [OTEL] instance.
type OTELState struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	// the sdk implementations are kept to be able to shut them down
	sdkMeterProvider  *sdkmetric.MeterProvider
	sdkTracerProvider *sdktrace.TracerProvider
	tracer            trace.Tracer
	meter             metric.Meter
}

// NewWithVersion creates a new OTELState for a service and its version,
// with the provided metrics and traces exporters. When no exporter is
// selected for metrics or traces, a noop provider is used.
func NewWithVersion(serviceName string, cfg *OTELStateConfig, version string,
	me map[string]exporter.MetricReader, te map[string]exporter.SpanExporter,
) (*OTELState, error) {
	res := sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version))

	s := &OTELState{
		meterProvider:  noopmetric.NewMeterProvider(),
		tracerProvider: nooptrace.NewTracerProvider(),
	}

	metricOpts, err := metricProviderOpts(cfg, me)
	if err != nil {
		return nil, err
	}
	if len(metricOpts) > 0 {
		metricOpts = append(metricOpts, sdkmetric.WithResource(res))
		s.sdkMeterProvider = sdkmetric.NewMeterProvider(metricOpts...)
		s.meterProvider = s.sdkMeterProvider
	}
	s.meter = s.meterProvider.Meter(providerName)

	traceOpts, err := tracerProviderOpts(cfg, te)
	if err != nil {
		return nil, err
	}
	if len(traceOpts) > 0 {
		traceOpts = append(traceOpts, sdktrace.WithResource(res))
		s.sdkTracerProvider = sdktrace.NewTracerProvider(traceOpts...)
		s.tracerProvider = s.sdkTracerProvider
	}
	s.tracer = s.tracerProvider.Tracer(providerName)

	return s, nil
}

// NewWithGlobalExporters creates a new OTELState reporting to the
// exporters named in cfg, taken from the global exporter instances.
func NewWithGlobalExporters(serviceName string, cfg *OTELStateConfig, version string) (*OTELState, error) {
	me := make(map[string]exporter.MetricReader, len(cfg.MetricProviders))
	for _, name := range cfg.MetricProviders {
		m, err := exporter.GlobalMetricInstance(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownProvider, err)
		}
		me[name] = m
	}
	te := make(map[string]exporter.SpanExporter, len(cfg.TraceProviders))
	for _, name := range cfg.TraceProviders {
		t, err := exporter.GlobalTraceInstance(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownProvider, err)
		}
		te[name] = t
	}
	return NewWithVersion(serviceName, cfg, version, me, te)
}

func metricProviderOpts(cfg *OTELStateConfig, me map[string]exporter.MetricReader) ([]sdkmetric.Option, error) {
	reportingPeriod := time.Duration(cfg.MetricReportingPeriod) * time.Second
	opts := make([]sdkmetric.Option, 0, len(cfg.MetricProviders)+1)
	for idx, prov := range cfg.MetricProviders {
		pm, ok := me[prov]
		if !ok {
			return nil, fmt.Errorf("%w: exporter %s for metric provider %d", ErrUnknownProvider, prov, idx)
		}
		opts = append(opts, sdkmetric.WithReader(pm.MetricReader(reportingPeriod)))
	}
	return opts, nil
}

func tracerProviderOpts(cfg *OTELStateConfig, te map[string]exporter.SpanExporter) ([]sdktrace.TracerProviderOption, error) {
	opts := make([]sdktrace.TracerProviderOption, 0, len(cfg.TraceProviders)+2)
	for idx, prov := range cfg.TraceProviders {
		pt, ok := te[prov]
		if !ok {
			return nil, fmt.Errorf("%w: exporter %s for trace provider %d", ErrUnknownProvider, prov, idx)
		}
		opts = append(opts, sdktrace.WithBatcher(pt.SpanExporter()))
	}
	if len(opts) == 0 {
		return opts, nil
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.TraceSampleRate > 0.0 && cfg.TraceSampleRate < 1.0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRate))
	}
	return append(opts, sdktrace.WithSampler(sampler)), nil
}

// Tracer returns a tracer to start a span.
func (s *OTELState) Tracer() trace.Tracer {
	return s.tracer
}

// Meter returns a meter to create metric instruments.
func (s *OTELState) Meter() metric.Meter {
	return s.meter
}

func (s *OTELState) MeterProvider() metric.MeterProvider {
	return s.meterProvider
}

func (s *OTELState) TracerProvider() trace.TracerProvider {
	return s.tracerProvider
}

// Propagator returns the configured propagator to use.
func (s *OTELState) Propagator() propagation.TextMapPropagator {
	if s == nil {
		return nil
	}
	return otel.GetTextMapPropagator()
}

// Shutdown flushes the pending traces and metrics.
func (s *OTELState) Shutdown(ctx context.Context) {
	if s.sdkTracerProvider != nil {
		s.sdkTracerProvider.Shutdown(ctx)
	}
	if s.sdkMeterProvider != nil {
		s.sdkMeterProvider.Shutdown(ctx)
	}
}
