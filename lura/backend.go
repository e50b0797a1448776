// Package lura instruments the http clients that a Lura based gateway
// uses to talk to its backends.
package lura

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/luraproject/lura/v2/config"
	"github.com/luraproject/lura/v2/logging"
	transport "github.com/luraproject/lura/v2/transport/http/client"

	kotelconfig "github.com/krakend/krakend-httpmetrics/config"
	clienthttp "github.com/krakend/krakend-httpmetrics/http/client"
	"github.com/krakend/krakend-httpmetrics/otelsink"
	otelstate "github.com/krakend/krakend-httpmetrics/state"
)

const logPrefix = "[BACKEND: http-client-metrics]"

// HTTPRequestExecutorFromConfig creates an HTTPRequestExecutor to be used
// for the backend requests.
func HTTPRequestExecutorFromConfig(clientFactory transport.HTTPClientFactory,
	cfg *config.Backend, opts *kotelconfig.ClientOpts, skipPaths []string,
	getState otelstate.GetterFn, l logging.Logger,
) transport.HTTPRequestExecutor {
	cf := InstrumentedHTTPClientFactory(clientFactory, cfg, opts, skipPaths, getState, l)
	return transport.DefaultHTTPRequestExecutor(cf)
}

// InstrumentedHTTPClientFactory wraps the client factory of a backend,
// so the clients it creates report the metrics of their transactions.
// The backend attributes (route, endpoint and hosts) are added to the
// static attributes of the metrics and traces.
//
// The factory is returned unchanged for the endpoints in skipPaths, or
// when there is nothing to report.
func InstrumentedHTTPClientFactory(clientFactory transport.HTTPClientFactory,
	cfg *config.Backend, opts *kotelconfig.ClientOpts, skipPaths []string,
	getState otelstate.GetterFn, l logging.Logger,
) transport.HTTPClientFactory {
	if l == nil {
		l = logging.NoOp
	}
	for _, sp := range skipPaths {
		if cfg.ParentEndpoint == sp {
			return clientFactory
		}
	}
	if opts == nil {
		opts = new(kotelconfig.ClientOpts)
	}
	if !opts.Enabled() {
		// no configuration for the backend, then .. no metrics nor tracing:
		return clientFactory
	}
	if getState == nil {
		getState = otelstate.GlobalState
	}

	urlPattern := kotelconfig.NormalizeURLPattern(cfg.URLPattern)
	attrs := backendConfigAttributes(cfg)

	sinkOpts := otelsink.OptionsFromConfig(opts)
	sinkOpts.Metrics.FixedAttributes = append(sinkOpts.Metrics.FixedAttributes, attrs...)
	traceAttrs := make([]attribute.KeyValue, 0, len(attrs)+1+len(sinkOpts.Traces.FixedAttributes))
	traceAttrs = append(traceAttrs, attrs...)
	traceAttrs = append(traceAttrs, attribute.String("krakend.stage", "backend-request"))
	sinkOpts.Traces.FixedAttributes = append(traceAttrs, sinkOpts.Traces.FixedAttributes...)

	sink := otelsink.New(getState(), sinkOpts, urlPattern)
	if !sink.Enabled() {
		l.Debug(logPrefix, "no telemetry state for backend", urlPattern)
		return clientFactory
	}

	registrarOpts := []clienthttp.Option{
		clienthttp.WithName(urlPattern),
		clienthttp.WithLogger(l),
		clienthttp.WithBodyCapture(opts.BodyCaptureLimit()),
	}
	return func(ctx context.Context) *http.Client {
		c, _ := clienthttp.InstrumentedHTTPClient(clientFactory(ctx), sink.Callbacks(), registrarOpts...)
		return c
	}
}

// BackendClientFactory returns the instrumented client factory for a
// backend, using the global config for its options (taking into account
// the backend overrides) and the global state.
func BackendClientFactory(clientFactory transport.HTTPClientFactory, cfg *config.Backend,
	l logging.Logger,
) transport.HTTPClientFactory {
	stateCfg := otelstate.GlobalConfig()
	if stateCfg == nil || stateCfg.SkipEndpoint(cfg.ParentEndpoint) {
		return clientFactory
	}
	getState := func() otelstate.OTEL { return stateCfg.BackendOTEL(cfg) }
	return InstrumentedHTTPClientFactory(clientFactory, cfg, stateCfg.BackendClientOpts(cfg),
		nil, getState, l)
}
