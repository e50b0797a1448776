package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/luraproject/lura/v2/logging"
	"go.uber.org/atomic"

	"github.com/krakend/krakend-httpmetrics/bodyio"
	"github.com/krakend/krakend-httpmetrics/correlation"
	"github.com/krakend/krakend-httpmetrics/http/intercept"
	"github.com/krakend/krakend-httpmetrics/metric"
)

const logPrefix = "[HTTP-METRICS]"

// ErrResponseNotCorrelated signals a response whose request never went
// through the request hook of the same [Registrar]. It means the hooks
// are wrongly wired, so it is raised with a panic.
var ErrResponseNotCorrelated = errors.New("response without correlation context")

// RequestCallback receives the metric for a request about to be sent,
// and the request itself.
type RequestCallback func(m metric.RequestMetric, req *http.Request)

// ResponseCallback receives the metric for a completed response, and
// the response itself.
type ResponseCallback func(m metric.ResponseMetric, resp *http.Response)

// ErrorCallback receives the metric for a failed transaction, and the
// failure itself.
type ErrorCallback func(m metric.ErrorMetric, err error)

// Callbacks groups the three callbacks. Any of them can be nil.
type Callbacks struct {
	Request  RequestCallback
	Response ResponseCallback
	Error    ErrorCallback
}

// Registration holds the ids of the hooks installed by a registration
// call. A zero id means no hook of that kind was installed.
type Registration struct {
	Request  intercept.ID
	Response intercept.ID
}

// Stats are the counters of the events seen by a [Registrar].
type Stats struct {
	Requests         uint64
	Responses        uint64
	CorrelatedErrors uint64
	DegradedErrors   uint64
}

type registrarStats struct {
	requests         atomic.Uint64
	responses        atomic.Uint64
	correlatedErrors atomic.Uint64
	degradedErrors   atomic.Uint64
}

// Registrar installs the metric hooks into the interception points of
// a client, and delivers the metrics to the registered callbacks.
//
// The Registrar is safe for concurrent transactions: its configuration
// does not change once created, and each transaction has its own
// correlation context.
type Registrar struct {
	interceptors intercept.Interceptors
	store        *correlation.Store
	clock        metric.Clock
	logger       logging.Logger
	name         string
	maxBodySize  int64

	stats registrarStats
}

// NewRegistrar creates a Registrar for the provided interception points.
func NewRegistrar(ic intercept.Interceptors, opts ...Option) *Registrar {
	r := &Registrar{
		interceptors: ic,
		store:        correlation.NewStore(),
		clock:        metric.SystemClock,
		logger:       logging.NoOp,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the store with the correlation contexts of the
// transactions seen by this Registrar.
func (r *Registrar) Store() *correlation.Store {
	return r.store
}

// Stats returns a copy of the current counters.
func (r *Registrar) Stats() Stats {
	return Stats{
		Requests:         r.stats.requests.Load(),
		Responses:        r.stats.responses.Load(),
		CorrelatedErrors: r.stats.correlatedErrors.Load(),
		DegradedErrors:   r.stats.degradedErrors.Load(),
	}
}

// OnRequest installs the request hook: it takes the request metric,
// attaches it to the transaction and calls cb (if not nil). The request
// content is not modified.
func (r *Registrar) OnRequest(cb RequestCallback) Registration {
	return Registration{Request: r.interceptors.UseRequest(r.requestHook(cb))}
}

// OnResponse installs the response and error hooks. A nil failure
// callback means failures are not reported, but they are still
// returned to the caller as usual.
func (r *Registrar) OnResponse(success ResponseCallback, failure ErrorCallback) Registration {
	var onError intercept.ErrorHook
	if failure != nil {
		onError = r.errorHook(failure)
	}
	return Registration{Response: r.interceptors.UseResponse(r.responseHook(success), onError)}
}

// Use installs the request hook and the response hook, without
// failure reporting.
func (r *Registrar) Use(req RequestCallback, resp ResponseCallback) Registration {
	return Registration{
		Request:  r.OnRequest(req).Request,
		Response: r.OnResponse(resp, nil).Response,
	}
}

// Register installs the request hook and the response / error hooks
// for all the callbacks.
func (r *Registrar) Register(cbs Callbacks) Registration {
	return Registration{
		Request:  r.OnRequest(cbs.Request).Request,
		Response: r.OnResponse(cbs.Response, cbs.Error).Response,
	}
}

// Eject removes the hooks of a previous registration.
func (r *Registrar) Eject(reg Registration) {
	if reg.Request != 0 {
		r.interceptors.EjectRequest(reg.Request)
	}
	if reg.Response != 0 {
		r.interceptors.EjectResponse(reg.Response)
	}
}

func (r *Registrar) requestHook(cb RequestCallback) intercept.RequestHook {
	return func(req *http.Request) (*http.Request, error) {
		m := metric.CaptureRequest(metric.Request{
			ID:      correlation.NewTransactionID(),
			Method:  req.Method,
			URL:     urlString(req.URL),
			Headers: req.Header,
			Body:    r.requestBody(req),
		}, r.clock)
		annotated := r.store.Attach(req, m)
		r.stats.requests.Inc()
		if cb != nil {
			cb(m, annotated)
		}
		return annotated, nil
	}
}

func (r *Registrar) responseHook(cb ResponseCallback) intercept.ResponseHook {
	return func(resp *http.Response) (*http.Response, error) {
		end := r.clock.Now()
		var req *http.Request
		if resp != nil {
			req = resp.Request
		}
		reqMetric, ok := r.store.Lookup(req)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrResponseNotCorrelated, describe(req))
			r.logger.Critical(logPrefix, r.name, err.Error())
			panic(err)
		}

		m := metric.DeriveResponse(metric.Response{
			Method:        req.Method,
			URL:           urlString(req.URL),
			Headers:       resp.Header,
			StatusCode:    resp.StatusCode,
			StatusMessage: statusMessage(resp),
			Body:          r.responseBody(resp),
		}, reqMetric, end)
		r.checkClock(reqMetric, end)
		r.stats.responses.Inc()
		if cb != nil {
			cb(m, resp)
		}
		return resp, nil
	}
}

func (r *Registrar) errorHook(cb ErrorCallback) intercept.ErrorHook {
	return func(err error) error {
		end := r.clock.Now()
		f, req := classify(err)

		var reqMetric *metric.RequestMetric
		if f.Kind == metric.ClientFailureWithConfig {
			if m, ok := r.store.Lookup(req); ok {
				reqMetric = &m
			}
		}

		m := metric.DeriveError(f, reqMetric, end)
		if m.Correlated() {
			r.checkClock(*reqMetric, end)
			r.stats.correlatedErrors.Inc()
		} else {
			r.stats.degradedErrors.Inc()
			r.logger.Debug(logPrefix, r.name, "uncorrelated failure:", f.Kind.String(), err.Error())
		}
		cb(m, err)
		return err
	}
}

// classify tells if the failure comes from the instrumented client,
// and if it carries the request that failed.
func classify(err error) (metric.Failure, *http.Request) {
	ce, ok := intercept.AsClientError(err)
	if !ok {
		return metric.Failure{Kind: metric.UnrecognizedFailure, Err: err}, nil
	}
	if ce.Request == nil {
		return metric.Failure{Kind: metric.ClientFailureWithoutConfig, Err: err}, nil
	}
	return metric.Failure{
		Kind:    metric.ClientFailureWithConfig,
		Method:  ce.Request.Method,
		URL:     urlString(ce.Request.URL),
		Headers: ce.Request.Header,
		Err:     err,
	}, ce.Request
}

func (r *Registrar) requestBody(req *http.Request) any {
	if r.maxBodySize <= 0 || req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}
	b, err := bodyio.Snapshot(req.GetBody, r.maxBodySize)
	if err != nil {
		r.logger.Debug(logPrefix, r.name, "cannot capture the request body:", err.Error())
		return nil
	}
	return b
}

// responseBody captures the response body only when its whole content
// is announced (Content-Length) and fits in the limit. Streamed or
// larger bodies are not read, so the caller gets the response as soon
// as the transport returns it.
func (r *Registrar) responseBody(resp *http.Response) any {
	if r.maxBodySize <= 0 || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	if resp.ContentLength <= 0 || resp.ContentLength > r.maxBodySize {
		return nil
	}
	b, rc, err := bodyio.Capture(resp.Body, resp.ContentLength)
	resp.Body = rc
	if err != nil {
		// the consumer of the body gets the same error when reading
		r.logger.Debug(logPrefix, r.name, "cannot capture the response body:", err.Error())
	}
	return b
}

// checkClock reports the transactions ending before they started.
func (r *Registrar) checkClock(req metric.RequestMetric, end time.Time) {
	if end.Before(req.StartTime) {
		r.logger.Warning(logPrefix, r.name, "the clock went backwards for transaction", req.ID)
	}
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// statusMessage returns the reason phrase of the response status line.
func statusMessage(resp *http.Response) string {
	if resp.Status == "" {
		return http.StatusText(resp.StatusCode)
	}
	return strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
}

func describe(req *http.Request) string {
	if req == nil {
		return "no request"
	}
	return req.Method + " " + urlString(req.URL)
}
