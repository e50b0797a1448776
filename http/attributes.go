// Package http builds the OpenTelemetry attributes that describe the
// transactions of an http client.
package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/krakend/krakend-httpmetrics/metric"
)

// ClientNameKey is the attribute with the name of the instrumented client
// (in KrakenD, the backend it talks to).
const ClientNameKey = attribute.Key("clientname")

// ServerAddress returns the host (without the port) of a url string.
func ServerAddress(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// MetricAttrs returns the low cardinality attributes used for the
// metrics of a transaction: method and server address.
func MetricAttrs(method, rawURL string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(method),
		semconv.ServerAddress(ServerAddress(rawURL)),
	}
}

// TraceRequestAttrs returns a list of attributes to be set
// for a request metric (only useful for traces, as it reports
// the url string with any variable parameter that it might contain).
func TraceRequestAttrs(m metric.RequestMetric) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs,
		semconv.URLFull(m.URL),
		semconv.ServerAddress(ServerAddress(m.URL)),
		semconv.HTTPRequestMethodKey.String(m.Method),
	)
	if size, ok := ContentLength(m.Headers); ok {
		attrs = append(attrs, semconv.HTTPRequestBodySize(int(size)))
	}
	if userAgent := m.Headers.Get("User-Agent"); userAgent != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(userAgent))
	}
	if m.ID != "" {
		attrs = append(attrs, attribute.String("http.client.transaction.id", m.ID))
	}
	return attrs
}

// TraceResponseAttrs returns a list of attributes to be set
// for a response metric.
func TraceResponseAttrs(m metric.ResponseMetric) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.HTTPResponseStatusCode(m.Response.StatusCode),
	}
	if size, ok := ContentLength(m.Headers); ok {
		attrs = append(attrs, semconv.HTTPResponseBodySize(int(size)))
	}
	return attrs
}

// TraceErrorAttrs returns a list of attributes to be set for an error
// metric.
func TraceErrorAttrs(m metric.ErrorMetric) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.client.failure", m.Kind.String()),
		attribute.Bool("http.client.correlated", m.Correlated()),
	}
	if m.URL != "" {
		attrs = append(attrs,
			semconv.URLFull(m.URL),
			semconv.ServerAddress(ServerAddress(m.URL)))
	}
	if m.Method != "" {
		attrs = append(attrs, semconv.HTTPRequestMethodKey.String(m.Method))
	}
	return attrs
}

// HeaderAttrs returns an attribute for each header, with the lower case
// header name appended to the prefix.
func HeaderAttrs(prefix string, h http.Header) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(h))
	for k, v := range h {
		attrs = append(attrs, attribute.StringSlice(prefix+strings.ToLower(k), v))
	}
	return attrs
}

// ContentLength returns the value of the Content-Length header.
func ContentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
