// Package httpmetrics reports, for each transaction of an http client,
// the request, response and error metrics, and records them with
// OpenTelemetry (in a KrakenD instance, or some other
// [Lura](https://github.com/luraproject/lura) based software).
//
// A transaction goes through three interception points:
//   - the request hook: takes the request metric right before sending
//     the request, and attaches it to the request context.
//   - the response hook: finds the request metric, and derives the
//     response metric with the response time.
//   - the error hook: finds the request metric if the failure carries
//     the failed request, or reports a degraded error metric.
//
// See the [client] package for the interception, and the [otelsink]
// package for the recording.
package httpmetrics

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	lconfig "github.com/luraproject/lura/v2/config"
	lcore "github.com/luraproject/lura/v2/core"
	"github.com/luraproject/lura/v2/logging"

	"github.com/krakend/krakend-httpmetrics/config"
	"github.com/krakend/krakend-httpmetrics/exporter"
	"github.com/krakend/krakend-httpmetrics/http/client"
	"github.com/krakend/krakend-httpmetrics/otelsink"
	"github.com/krakend/krakend-httpmetrics/state"
)

const logPrefix = "[SERVICE: http-client-metrics]"

// Register uses the ServiceConfig to instantiate the configured exporters.
// It also sets the global exporter instances, the global propagation method, and
// the global state, so it can be used from anywhere.
func Register(ctx context.Context, l logging.Logger, srvCfg lconfig.ServiceConfig) (func(), error) {
	cfg, err := config.FromLura(srvCfg)
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return func() {}, nil
		}
		// we do not log, we left it to the parent:
		return func() {}, err
	}
	return RegisterWithConfig(ctx, l, cfg)
}

// RegisterWithConfig instantiates the configured exporters from an already
// parsed config: sets the global exporter instances, the global propagation method, and
// the global state, so it can be used from anywhere.
func RegisterWithConfig(ctx context.Context, l logging.Logger, cfg *config.ConfigData) (func(), error) {
	shutdownFn := func() {}
	if err := cfg.Validate(); err != nil {
		return shutdownFn, err
	}
	cfg.UnsetFieldsToDefaults()

	me, te, err := exporter.Instances(ctx, l, cfg)
	if err != nil {
		return shutdownFn, err
	}
	exporter.SetGlobalExporterInstances(me, te)
	shutdown, err := RegisterGlobalInstance(ctx, l, me, te, *cfg.MetricReportingPeriod,
		*cfg.TraceSampleRate, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return shutdown, err
	}
	stateCfg := state.NewConfig(cfg)
	state.SetGlobalConfig(stateCfg)
	return func() {
		stateCfg.Shutdown(ctx)
		shutdown()
	}, nil
}

// RegisterGlobalInstance creates the instance that will be used to report metrics and traces
func RegisterGlobalInstance(ctx context.Context, l logging.Logger,
	me map[string]exporter.MetricReader, te map[string]exporter.SpanExporter,
	metricReportingPeriod int, traceSampleRate float64, serviceName string, serviceVersion string,
) (func(), error) {
	if l == nil {
		l = logging.NoOp
	}
	shutdownFn := func() {}
	prop := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(prop)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(e error) {
		// TODO: throttle repeated errors while an OTLP backend is down
		l.Error(logPrefix, e.Error())
	}))

	globalStateCfg := &state.OTELStateConfig{
		MetricReportingPeriod: metricReportingPeriod,
		TraceSampleRate:       traceSampleRate,
		MetricProviders:       make([]string, 0, len(me)),
		TraceProviders:        make([]string, 0, len(te)),
	}
	for k, v := range me {
		if v.MetricDefaultReporting() {
			globalStateCfg.MetricProviders = append(globalStateCfg.MetricProviders, k)
		}
	}
	for k, v := range te {
		if v.TraceDefaultReporting() {
			globalStateCfg.TraceProviders = append(globalStateCfg.TraceProviders, k)
		}
	}

	version := serviceVersion
	if version == "" {
		version = lcore.KrakendVersion
	}

	s, err := state.NewWithVersion(serviceName, globalStateCfg, version, me, te)
	if err != nil {
		return shutdownFn, err
	}
	shutdownFn = func() { s.Shutdown(ctx) }
	state.SetGlobalState(s)
	l.Debug(logPrefix, "registered", len(globalStateCfg.MetricProviders), "metric providers and",
		len(globalStateCfg.TraceProviders), "trace providers")
	return shutdownFn, nil
}

// NewHTTPClient returns a client that reports the metrics of its
// transactions to the state returned by getState (the global state when
// nil). A nil opts means the service level options of the global config.
//
// The provided client is returned as is when there is nothing to report.
func NewHTTPClient(c *http.Client, opts *config.ClientOpts, name string, getState state.GetterFn,
	clientOpts ...client.Option,
) *http.Client {
	if opts == nil {
		opts = clientOptsFromGlobalConfig()
	}
	if getState == nil {
		getState = state.GlobalState
	}

	sink := otelsink.New(getState(), otelsink.OptionsFromConfig(opts), name)
	if !sink.Enabled() {
		return c
	}

	clientOpts = append([]client.Option{
		client.WithName(name),
		client.WithBodyCapture(opts.BodyCaptureLimit()),
	}, clientOpts...)
	wc, _ := client.InstrumentedHTTPClient(c, sink.Callbacks(), clientOpts...)
	return wc
}

func clientOptsFromGlobalConfig() *config.ClientOpts {
	if cfg := state.GlobalConfig(); cfg != nil {
		return cfg.ClientOpts()
	}
	return new(config.ClientOpts)
}
