// Package prometheus implements a Prometheus metrics exporter, with its
// own server to be scraped.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/luraproject/lura/v2/logging"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/krakend/krakend-httpmetrics/config"
)

const (
	defaultPort = 9090
	logPrefix   = "[SERVICE: http-client-metrics][Prometheus]"
)

// PrometheusCollector implements the metrics exporter
type PrometheusCollector struct {
	registry          *prom.Registry
	exporter          *prometheus.Exporter
	disabledByDefault bool
}

// MetricReader implements the interface to export metrics. Prometheus
// pulls the metrics, so the reporting period is ignored.
func (c *PrometheusCollector) MetricReader(_ time.Duration) sdkmetric.Reader {
	return c.exporter
}

func (c *PrometheusCollector) MetricDefaultReporting() bool {
	return !c.disabledByDefault
}

// Handler returns the handler that serves the collected metrics.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Exporter creates a Prometheus exporter instance, and starts serving
// its metrics at "/metrics" until the context is done.
func Exporter(ctx context.Context, l logging.Logger, cfg config.PrometheusExporter) (*PrometheusCollector, error) {
	c, err := newCollector(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	router := http.NewServeMux()
	router.Handle("/metrics", c.Handler())
	server := http.Server{
		Handler:           router,
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		l.Debug(logPrefix, "listening at", server.Addr)
		if serverErr := server.ListenAndServe(); !errors.Is(serverErr, http.ErrServerClosed) {
			l.Error(logPrefix, "failed to listen and serve:", serverErr.Error())
		}
	}()

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		server.Shutdown(ctx)
		cancel()
	}()

	return c, nil
}

func newCollector(cfg config.PrometheusExporter) (*PrometheusCollector, error) {
	prometheusRegistry := prom.NewRegistry()

	if cfg.ProcessMetrics {
		err := prometheusRegistry.Register(promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}))
		if err != nil {
			return nil, err
		}
	}

	if cfg.GoMetrics {
		err := prometheusRegistry.Register(promcollectors.NewGoCollector())
		if err != nil {
			return nil, err
		}
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(prometheusRegistry))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		registry:          prometheusRegistry,
		exporter:          exporter,
		disabledByDefault: cfg.DisableMetrics,
	}, nil
}
