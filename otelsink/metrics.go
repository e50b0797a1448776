package otelsink

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/semconv/v1.21.0"
	v127 "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/krakend/krakend-httpmetrics/config"
	otelhttp "github.com/krakend/krakend-httpmetrics/http"
	kmetric "github.com/krakend/krakend-httpmetrics/metric"
)

// MetricsOptions selects the metrics to report, and a set of fixed
// attributes to add to all of them.
type MetricsOptions struct {
	Enabled         bool
	FixedAttributes []attribute.KeyValue // "static" attributes set at config time.
	SemConv         string               // "" or "1.27", to select the metric names
}

// sinkMetrics holds the metric instruments for the client transactions
type sinkMetrics struct {
	// total of initiated requests (successful, failed and canceled)
	requestsStarted  metric.Int64Counter
	requestsFailed   metric.Int64Counter
	requestsCanceled metric.Int64Counter
	requestsTimedOut metric.Int64Counter
	// failures that could not be matched with their request
	requestsUncorrelated metric.Int64Counter

	// the value of the Content-Length of the request, not the actual
	// written bytes (that might be canceled while on flight)
	requestContentLength     metric.Int64Counter
	requestContentLengthHist metric.Int64Histogram

	responseLatency metric.Float64Histogram

	// the server provided Content-Length, that might differ from the
	// actual number of bytes read from the body
	responseContentLength   metric.Int64Histogram
	responseNoContentLength metric.Int64Counter

	fixedAttrs []attribute.KeyValue
	clientName string
}

type metricFillerFn func(meter metric.Meter, sm *sinkMetrics)

func noSemConvMetricsFiller(meter metric.Meter, sm *sinkMetrics) {
	nopMeter := noop.Meter{}

	sm.requestsStarted, _ = meter.Int64Counter("http.client.request.started.count")
	sm.requestsFailed, _ = meter.Int64Counter("http.client.request.failed.count")
	sm.requestsCanceled, _ = meter.Int64Counter("http.client.request.canceled.count")
	sm.requestsTimedOut, _ = meter.Int64Counter("http.client.request.timedout.count") // included in failed
	sm.requestsUncorrelated, _ = meter.Int64Counter("http.client.request.uncorrelated.count")

	sm.requestContentLength, _ = meter.Int64Counter("http.client.request.size")
	sm.requestContentLengthHist, _ = nopMeter.Int64Histogram(v127.HTTPClientRequestBodySizeName)

	sm.responseLatency, _ = meter.Float64Histogram("http.client.duration", config.TimeBucketsOpt)
	sm.responseContentLength, _ = meter.Int64Histogram("http.client.response.size", config.SizeBucketsOpt)
	sm.responseNoContentLength, _ = meter.Int64Counter("http.client.response.no-content-length")
}

func semConv1_27MetricsFiller(meter metric.Meter, sm *sinkMetrics) {
	nopMeter := noop.Meter{}

	sm.requestContentLength, _ = nopMeter.Int64Counter("http.client.request.size")

	// WARNING: Stability => Experimental (subject to change in the future)
	sm.requestContentLengthHist, _ = meter.Int64Histogram(v127.HTTPClientRequestBodySizeName,
		metric.WithUnit(v127.HTTPClientRequestBodySizeUnit),
		metric.WithDescription(v127.HTTPClientRequestBodySizeDescription),
		config.SizeBucketsOpt)

	sm.responseLatency, _ = meter.Float64Histogram(v127.HTTPClientRequestDurationName,
		metric.WithUnit(v127.HTTPClientRequestDurationUnit),
		metric.WithDescription(v127.HTTPClientRequestDurationDescription),
		config.TimeBucketsOpt)

	// WARNING: Stability => Experimental (subject to change in the future)
	sm.responseContentLength, _ = meter.Int64Histogram(v127.HTTPClientResponseBodySizeName,
		metric.WithUnit(v127.HTTPClientResponseBodySizeUnit),
		metric.WithDescription(v127.HTTPClientResponseBodySizeDescription),
		config.SizeBucketsOpt)

	// not standardized by the semantic conventions
	sm.requestsStarted, _ = meter.Int64Counter("http.client.request.started.count",
		metric.WithDescription("Client requests sent"))
	sm.requestsFailed, _ = meter.Int64Counter("http.client.request.failed.count",
		metric.WithDescription("Client requests without a response"))
	sm.requestsCanceled, _ = meter.Int64Counter("http.client.request.canceled.count",
		metric.WithDescription("Client requests canceled by the caller"))
	sm.requestsTimedOut, _ = meter.Int64Counter("http.client.request.timedout.count",
		metric.WithDescription("Client requests that reached their deadline"))
	sm.requestsUncorrelated, _ = meter.Int64Counter("http.client.request.uncorrelated.count",
		metric.WithDescription("Client failures that could not be matched with their request"))
	sm.responseNoContentLength, _ = meter.Int64Counter("http.client.response.no-content-length",
		metric.WithUnit(v127.HTTPClientResponseBodySizeUnit),
		metric.WithDescription("Client received responses that do not have 'Content-Length' value set"))
}

var supportedSemConv = map[string]metricFillerFn{
	"":     noSemConvMetricsFiller,
	"1.27": semConv1_27MetricsFiller,
}

func newSinkMetrics(opts *MetricsOptions, meter metric.Meter, clientName string) *sinkMetrics {
	if meter == nil || !opts.Enabled {
		return nil
	}

	sm := sinkMetrics{
		fixedAttrs: opts.FixedAttributes,
		clientName: clientName,
	}
	filler := noSemConvMetricsFiller
	if versionFiller, ok := supportedSemConv[opts.SemConv]; ok {
		filler = versionFiller
	}
	filler(meter, &sm)
	return &sm
}

func (m *sinkMetrics) attributes(method, rawURL string, statusCode int, withStatus bool) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, len(m.fixedAttrs), len(m.fixedAttrs)+4)
	copy(attrs, m.fixedAttrs)
	if len(m.clientName) > 0 {
		attrs = append(attrs, otelhttp.ClientNameKey.String(m.clientName))
	}
	attrs = append(attrs, otelhttp.MetricAttrs(method, rawURL)...)
	if withStatus {
		// failures without response are reported with a 0 status code
		attrs = append(attrs, semconv.HTTPResponseStatusCode(statusCode))
	}
	return metric.WithAttributeSet(attribute.NewSet(attrs...))
}

func (m *sinkMetrics) request(ctx context.Context, rm kmetric.RequestMetric, req *http.Request) {
	if m == nil {
		return
	}
	attrOpt := m.attributes(rm.Method, rm.URL, 0, false)
	m.requestsStarted.Add(ctx, 1, attrOpt)
	if req != nil && req.ContentLength >= 0 {
		m.requestContentLength.Add(ctx, req.ContentLength, attrOpt)
		m.requestContentLengthHist.Record(ctx, req.ContentLength, attrOpt)
	}
}

func (m *sinkMetrics) response(ctx context.Context, rm kmetric.ResponseMetric, resp *http.Response) {
	if m == nil {
		return
	}
	attrOpt := m.attributes(rm.Method, rm.URL, rm.Response.StatusCode, true)
	if secs := rm.ResponseTime.Seconds(); secs >= 0 {
		m.responseLatency.Record(ctx, secs, attrOpt)
	}
	if rm.Method == http.MethodHead || resp == nil {
		return
	}
	if resp.ContentLength >= 0 {
		m.responseContentLength.Record(ctx, resp.ContentLength, attrOpt)
	} else {
		// chunked responses do not have a content length
		m.responseNoContentLength.Add(ctx, 1, attrOpt)
	}
}

func (m *sinkMetrics) failure(ctx context.Context, em kmetric.ErrorMetric, err error) {
	if m == nil {
		return
	}
	attrOpt := m.attributes(em.Method, em.URL, 0, true)

	switch {
	case errors.Is(err, context.Canceled):
		// ATTENTION: a canceled request is not considered failed
		m.requestsCanceled.Add(ctx, 1, attrOpt)
	case isTimeout(err):
		m.requestsTimedOut.Add(ctx, 1, attrOpt)
		m.requestsFailed.Add(ctx, 1, attrOpt)
	default:
		m.requestsFailed.Add(ctx, 1, attrOpt)
	}

	if !em.Correlated() {
		m.requestsUncorrelated.Add(ctx, 1, attrOpt)
		return
	}
	if secs := em.ResponseTime.Seconds(); secs >= 0 {
		m.responseLatency.Record(ctx, secs, attrOpt)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
