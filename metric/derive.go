package metric

import (
	"net/http"
	"time"
)

// FailureKind classifies a failure to decide how its [ErrorMetric]
// is derived.
type FailureKind int

const (
	// UnrecognizedFailure is an error that does not come from the
	// instrumented client (or that some other hook replaced).
	UnrecognizedFailure FailureKind = iota
	// ClientFailureWithoutConfig comes from the instrumented client,
	// but has no request attached.
	ClientFailureWithoutConfig
	// ClientFailureWithConfig comes from the instrumented client and
	// carries the request that failed.
	ClientFailureWithConfig
)

func (k FailureKind) String() string {
	switch k {
	case ClientFailureWithConfig:
		return "client_failure_with_config"
	case ClientFailureWithoutConfig:
		return "client_failure_without_config"
	default:
		return "unrecognized_failure"
	}
}

// Request describes a request that is about to be sent.
type Request struct {
	ID      string
	Method  string
	URL     string
	Headers http.Header
	Body    any
}

// Response describes a completed response.
type Response struct {
	Method        string
	URL           string
	Headers       http.Header
	StatusCode    int
	StatusMessage string
	Body          any
}

// Failure describes a failed transaction. Method, URL and Headers
// belong to the failed request, and are only expected for a
// [ClientFailureWithConfig].
type Failure struct {
	Kind    FailureKind
	Method  string
	URL     string
	Headers http.Header
	Err     error
}

// CaptureRequest takes the snapshot of a request. The clock is read
// exactly once.
func CaptureRequest(r Request, clock Clock) RequestMetric {
	if clock == nil {
		clock = SystemClock
	}
	return RequestMetric{
		ID:        r.ID,
		Method:    r.Method,
		URL:       r.URL,
		Headers:   r.Headers.Clone(),
		Body:      r.Body,
		StartTime: clock.Now(),
	}
}

// DeriveResponse builds the metric for a response that has been
// correlated to req.
func DeriveResponse(resp Response, req RequestMetric, end time.Time) ResponseMetric {
	return ResponseMetric{
		Method:  resp.Method,
		URL:     resp.URL,
		Headers: resp.Headers.Clone(),
		Request: req,
		Response: ResponseInfo{
			StatusCode:    resp.StatusCode,
			StatusMessage: resp.StatusMessage,
			Body:          resp.Body,
		},
		EndTime:      end,
		ResponseTime: Elapsed(req.StartTime, end),
	}
}

// DeriveError builds the metric for a failure. The request is only
// embedded (and the response time computed) for failures of kind
// [ClientFailureWithConfig] with a non nil req: in any other case
// the metric is degraded, it never fails.
func DeriveError(f Failure, req *RequestMetric, end time.Time) ErrorMetric {
	m := ErrorMetric{
		Kind:         f.Kind,
		EndTime:      end,
		ResponseTime: TimingUnavailable,
		Err:          f.Err,
	}
	if f.Kind != ClientFailureWithConfig {
		return m
	}

	m.Method = f.Method
	m.URL = f.URL
	m.Headers = f.Headers.Clone()
	if req == nil {
		return m
	}

	r := *req
	m.Request = &r
	if m.Headers == nil {
		m.Headers = r.Headers.Clone()
	}
	m.ResponseTime = Elapsed(r.StartTime, end)
	return m
}

// Elapsed returns end - start. The value is not adjusted: a negative
// result means the clock went backwards during the transaction.
func Elapsed(start, end time.Time) ResponseTime {
	return ResponseTime(end.Sub(start))
}
