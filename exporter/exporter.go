// Package exporter builds the metric readers and span exporters that
// send the client metrics and traces out of the process.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luraproject/lura/v2/logging"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/krakend/krakend-httpmetrics/config"
	"github.com/krakend/krakend-httpmetrics/exporter/otelcollector"
	"github.com/krakend/krakend-httpmetrics/exporter/prometheus"
)

// ErrExporterNotFound is returned when looking for a global exporter
// that has not been registered.
var ErrExporterNotFound = errors.New("exporter not found")

// MetricReader is the interface required in order to
// export metrics.
type MetricReader interface {
	MetricReader(reportingPeriod time.Duration) sdkmetric.Reader
	MetricDefaultReporting() bool
}

// SpanExporter is the interface required in order to
// export traces.
type SpanExporter interface {
	SpanExporter() sdktrace.SpanExporter
	TraceDefaultReporting() bool
}

var (
	metricsInstances map[string]MetricReader
	tracesInstances  map[string]SpanExporter
	mu               = new(sync.RWMutex)
)

// CreateOTLPExporters creates an exporter for each OTLP config, that
// can be used both for metrics and traces.
func CreateOTLPExporters(ctx context.Context, otlpConfs []config.OTLPExporter) (map[string]MetricReader, map[string]SpanExporter, error) {
	m := make(map[string]MetricReader, len(otlpConfs))
	s := make(map[string]SpanExporter, len(otlpConfs))
	for idx, ecfg := range otlpConfs {
		c, err := otelcollector.Exporter(ctx, ecfg)
		if err != nil {
			return nil, nil, fmt.Errorf("OTLP exporter %s (at idx %d) failed: %w", ecfg.Name, idx, err)
		}
		s[ecfg.Name] = c
		m[ecfg.Name] = c
	}
	return m, s, nil
}

// CreatePrometheusExporters creates a metrics exporter (and the server
// to scrape it) for each Prometheus config.
func CreatePrometheusExporters(ctx context.Context, l logging.Logger,
	promConfs []config.PrometheusExporter,
) (map[string]MetricReader, error) {
	m := make(map[string]MetricReader, len(promConfs))
	for idx, ecfg := range promConfs {
		c, err := prometheus.Exporter(ctx, l, ecfg)
		if err != nil {
			return nil, fmt.Errorf("prometheus exporter %s (at idx %d) failed: %w", ecfg.Name, idx, err)
		}
		m[ecfg.Name] = c
	}
	return m, nil
}

// Instances create instances for a given configuration.
func Instances(ctx context.Context, l logging.Logger, cfg *config.ConfigData) (map[string]MetricReader, map[string]SpanExporter, error) {
	if l == nil {
		l = logging.NoOp
	}
	m, s, err := CreateOTLPExporters(ctx, cfg.Exporters.OTLP)
	if err != nil {
		return nil, nil, err
	}
	pm, err := CreatePrometheusExporters(ctx, l, cfg.Exporters.Prometheus)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range pm {
		m[k] = v
	}
	return m, s, nil
}

// SetGlobalExporterInstances sets the provided metric and traces
// as global defaults.
func SetGlobalExporterInstances(m map[string]MetricReader, t map[string]SpanExporter) {
	mu.Lock()
	metricsInstances = make(map[string]MetricReader, len(m))
	tracesInstances = make(map[string]SpanExporter, len(t))
	for k, v := range m {
		metricsInstances[k] = v
	}
	for k, v := range t {
		tracesInstances[k] = v
	}
	mu.Unlock()
}

// GetGlobalExporterInstances gets the global metrics and traces exporters
func GetGlobalExporterInstances() (map[string]MetricReader, map[string]SpanExporter) {
	mu.RLock()
	m := make(map[string]MetricReader, len(metricsInstances))
	t := make(map[string]SpanExporter, len(tracesInstances))
	for k, v := range metricsInstances {
		m[k] = v
	}
	for k, v := range tracesInstances {
		t[k] = v
	}
	mu.RUnlock()
	return m, t
}

// GlobalTraceInstance gets a global trace exporter by name
func GlobalTraceInstance(name string) (SpanExporter, error) {
	mu.RLock()
	i, ok := tracesInstances[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: traces %s", ErrExporterNotFound, name)
	}
	return i, nil
}

// GlobalMetricInstance get a global metrics exporter by name
func GlobalMetricInstance(name string) (MetricReader, error) {
	mu.RLock()
	i, ok := metricsInstances[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: metrics %s", ErrExporterNotFound, name)
	}
	return i, nil
}
