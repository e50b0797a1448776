// Package client instruments an http client to report, for each
// transaction, the metrics defined in the [metric] package.
//
// The instrumentation is installed with a [Registrar] on the hooks of
// an [intercept.Transport]:
//
//	Request hook:
//	    - takes the request metric (method, url, headers, body and
//	      start time) right before the request is sent.
//	    - attaches it to the transaction correlation context.
//
//	Response hook:
//	    - finds the request metric of the transaction.
//	    - computes the response time (end time - start time).
//
//	Error hook:
//	    - finds the request metric when the failure carries the
//	      request that failed.
//	    - otherwise reports a degraded metric, without request and
//	      with an unavailable response time.
//
// Hooks never change the request that is sent, nor the response or
// error returned to the caller.
package client

import (
	"net/http"

	"github.com/krakend/krakend-httpmetrics/http/intercept"
)

// InstrumentedHTTPClient creates a new http client that delivers the
// transaction metrics to the provided callbacks. The provided client is
// not modified: the returned one shares its configuration, with a
// transport that wraps the original one.
//
// The returned Registrar can be used to add more callbacks to the same
// client.
func InstrumentedHTTPClient(c *http.Client, cbs Callbacks, opts ...Option) (*http.Client, *Registrar) {
	if c == nil {
		c = http.DefaultClient
	}

	transport := c.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	it := intercept.NewTransport(transport)
	r := NewRegistrar(it, opts...)
	r.Register(cbs)

	wc := &http.Client{
		Transport:     it,
		CheckRedirect: c.CheckRedirect,
		Jar:           c.Jar,
		Timeout:       c.Timeout,
	}
	return wc, r
}
