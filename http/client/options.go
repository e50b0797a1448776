package client

import (
	"github.com/luraproject/lura/v2/logging"

	"github.com/krakend/krakend-httpmetrics/correlation"
	"github.com/krakend/krakend-httpmetrics/metric"
)

// Option configures a [Registrar].
type Option func(*Registrar)

// WithClock sets the timestamp source (by default [metric.SystemClock]).
func WithClock(c metric.Clock) Option {
	return func(r *Registrar) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger (by default nothing is logged).
func WithLogger(l logging.Logger) Option {
	return func(r *Registrar) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBodyCapture makes the metrics include up to maxBytes of the
// request and response bodies. Request bodies are only captured when
// they can be obtained again (the request has a GetBody function).
// Response bodies are only captured when they have a Content-Length
// not above maxBytes: streamed responses are never read by the hooks.
// A value <= 0 disables the capture, that is the default.
func WithBodyCapture(maxBytes int64) Option {
	return func(r *Registrar) {
		r.maxBodySize = maxBytes
	}
}

// WithStore sets the store used for the correlation contexts. By
// default each Registrar has its own.
func WithStore(s *correlation.Store) Option {
	return func(r *Registrar) {
		if s != nil {
			r.store = s
		}
	}
}

// WithName sets the client name used in the log lines.
func WithName(name string) Option {
	return func(r *Registrar) {
		r.name = name
	}
}
