package otelsink

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelhttp "github.com/krakend/krakend-httpmetrics/http"
	kmetric "github.com/krakend/krakend-httpmetrics/metric"
)

// TracesOptions defines if a span is created for each transaction, and
// extra fixed attributes to add to it.
type TracesOptions struct {
	Enabled         bool
	FixedAttributes []attribute.KeyValue // "static" attributes set at config time.
	ReportHeaders   bool
}

// sinkTraces creates the client spans once the transaction is over,
// using the timestamps of the metrics.
type sinkTraces struct {
	tracer        trace.Tracer
	spanName      string
	fixedAttrs    []attribute.KeyValue
	reportHeaders bool
}

func newSinkTraces(opts *TracesOptions, tracer trace.Tracer, spanName string) *sinkTraces {
	if tracer == nil || !opts.Enabled {
		return nil
	}
	return &sinkTraces{
		tracer:        tracer,
		spanName:      spanName,
		fixedAttrs:    opts.FixedAttributes,
		reportHeaders: opts.ReportHeaders,
	}
}

func (t *sinkTraces) start(ctx context.Context, method string, startTime time.Time) trace.Span {
	name := t.spanName
	if name == "" {
		name = method
	}
	if name == "" {
		name = "HTTP"
	}
	_, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(startTime),
		trace.WithAttributes(t.fixedAttrs...))
	return span
}

func (t *sinkTraces) response(ctx context.Context, rm kmetric.ResponseMetric, resp *http.Response) {
	if t == nil {
		return
	}
	span := t.start(ctx, rm.Method, rm.Request.StartTime)
	if !span.IsRecording() {
		// we might not be recording because of sampling
		return
	}

	span.SetAttributes(otelhttp.TraceRequestAttrs(rm.Request)...)
	span.SetAttributes(otelhttp.TraceResponseAttrs(rm)...)
	if resp != nil && resp.Request != nil && resp.Request.ContentLength > 0 {
		span.SetAttributes(attribute.Int64("http.request.body.size", resp.Request.ContentLength))
	}
	if t.reportHeaders {
		span.SetAttributes(otelhttp.HeaderAttrs("http.request.header.", rm.Request.Headers)...)
		span.SetAttributes(otelhttp.HeaderAttrs("http.response.header.", rm.Headers)...)
	}
	span.SetAttributes(attribute.Float64("response-duration", rm.ResponseTime.Seconds()))

	if rm.Response.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, rm.Response.StatusMessage)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(rm.EndTime))
}

func (t *sinkTraces) failure(ctx context.Context, em kmetric.ErrorMetric, err error) {
	if t == nil {
		return
	}
	// without a request there is no start time: the span has no duration
	startTime := em.EndTime
	if em.Request != nil {
		startTime = em.Request.StartTime
	}
	span := t.start(ctx, em.Method, startTime)
	if !span.IsRecording() {
		return
	}

	if em.Request != nil {
		span.SetAttributes(otelhttp.TraceRequestAttrs(*em.Request)...)
		if t.reportHeaders {
			span.SetAttributes(otelhttp.HeaderAttrs("http.request.header.", em.Request.Headers)...)
		}
	}
	span.SetAttributes(otelhttp.TraceErrorAttrs(em)...)
	span.SetAttributes(attribute.Float64("response-duration", em.ResponseTime.Seconds()))

	if err != nil {
		span.RecordError(err, trace.WithTimestamp(em.EndTime))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Error, em.Kind.String())
	}
	span.End(trace.WithTimestamp(em.EndTime))
}
