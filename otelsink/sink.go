// Package otelsink provides ready made callbacks for an instrumented
// client, that record the transaction metrics with OpenTelemetry.
//
// Spans are created once the transaction is over, with the start and
// end times of the metrics, as children of the span found in the
// request context (if any).
package otelsink

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/krakend/krakend-httpmetrics/config"
	"github.com/krakend/krakend-httpmetrics/http/client"
	"github.com/krakend/krakend-httpmetrics/http/intercept"
	kmetric "github.com/krakend/krakend-httpmetrics/metric"
	"github.com/krakend/krakend-httpmetrics/state"
)

// Options defines the detail we want for the metrics and traces.
type Options struct {
	Metrics MetricsOptions
	Traces  TracesOptions
}

// Enabled tells if there is something to report.
func (o *Options) Enabled() bool {
	return o.Metrics.Enabled || o.Traces.Enabled
}

// OptionsFromConfig converts the client configuration into sink
// options.
func OptionsFromConfig(cfg *config.ClientOpts) Options {
	if cfg == nil {
		cfg = new(config.ClientOpts)
	}
	return Options{
		Metrics: MetricsOptions{
			Enabled:         !cfg.DisableMetrics,
			FixedAttributes: keyValues(cfg.MetricsStaticAttributes),
			SemConv:         cfg.SemConv,
		},
		Traces: TracesOptions{
			Enabled:         !cfg.DisableTraces,
			FixedAttributes: keyValues(cfg.TracesStaticAttributes),
			ReportHeaders:   cfg.ReportHeaders,
		},
	}
}

func keyValues(attrs config.Attributes) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if len(kv.Key) > 0 && len(kv.Value) > 0 {
			kvs = append(kvs, attribute.String(kv.Key, kv.Value))
		}
	}
	return kvs
}

// Sink records the metrics delivered to its callbacks.
type Sink struct {
	metrics *sinkMetrics
	traces  *sinkTraces
}

// New creates a Sink that records into the meter and tracer of the
// provided state. A nil state, or disabled options, give a Sink that
// records nothing.
func New(s state.OTEL, opts Options, clientName string) *Sink {
	if s == nil {
		return &Sink{}
	}
	return &Sink{
		metrics: newSinkMetrics(&opts.Metrics, s.Meter(), clientName),
		traces:  newSinkTraces(&opts.Traces, s.Tracer(), clientName),
	}
}

// Enabled tells if the Sink records anything.
func (s *Sink) Enabled() bool {
	return s.metrics != nil || s.traces != nil
}

// Callbacks returns the sink callbacks, to be registered in a
// [client.Registrar].
func (s *Sink) Callbacks() client.Callbacks {
	return client.Callbacks{
		Request:  s.Request,
		Response: s.Response,
		Error:    s.Error,
	}
}

// Register installs the sink callbacks in the registrar.
func (s *Sink) Register(r *client.Registrar) client.Registration {
	return r.Register(s.Callbacks())
}

// Request records a started request.
func (s *Sink) Request(m kmetric.RequestMetric, req *http.Request) {
	s.metrics.request(requestContext(req), m, req)
}

// Response records a completed transaction.
func (s *Sink) Response(m kmetric.ResponseMetric, resp *http.Response) {
	ctx := context.Background()
	if resp != nil {
		ctx = requestContext(resp.Request)
	}
	s.metrics.response(ctx, m, resp)
	s.traces.response(ctx, m, resp)
}

// Error records a failed transaction.
func (s *Sink) Error(m kmetric.ErrorMetric, err error) {
	ctx := context.Background()
	if ce, ok := intercept.AsClientError(err); ok {
		ctx = requestContext(ce.Request)
	}
	s.metrics.failure(ctx, m, err)
	s.traces.failure(ctx, m, err)
}

func requestContext(req *http.Request) context.Context {
	if req == nil {
		return context.Background()
	}
	return req.Context()
}
