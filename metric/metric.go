// Package metric defines the snapshots produced for each outgoing http
// transaction:
//
//   - [RequestMetric]: what was sent, and when.
//   - [ResponseMetric]: what came back, always tied to its [RequestMetric].
//   - [ErrorMetric]: what failed, tied to its [RequestMetric] only when
//     the failure could be correlated.
//
// The package does not perform any I/O: it only copies the facts it is
// given and computes the elapsed times.
package metric

import (
	"net/http"
	"time"
)

// TimingUnavailable marks the [ResponseTime] of a failure that could not
// be correlated to its request.
const TimingUnavailable ResponseTime = -1

// ResponseTime is the time elapsed between a request being sent and its
// outcome (response or error) being available.
type ResponseTime time.Duration

// Available tells if the response time holds an actual measure.
func (rt ResponseTime) Available() bool {
	return rt != TimingUnavailable
}

// Duration returns the measured time, and false when no measure
// is available.
func (rt ResponseTime) Duration() (time.Duration, bool) {
	if !rt.Available() {
		return 0, false
	}
	return time.Duration(rt), true
}

// Seconds returns the response time in seconds, or -1 when
// not available.
func (rt ResponseTime) Seconds() float64 {
	if !rt.Available() {
		return -1
	}
	return float64(rt) / float64(time.Second)
}

func (rt ResponseTime) String() string {
	if !rt.Available() {
		return "unavailable"
	}
	return time.Duration(rt).String()
}

// Clock is the source of timestamps. The values it returns must not go
// backwards during the lifetime of a transaction.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the [Clock] interface.
type ClockFunc func() time.Time

// Now returns the current time.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock uses [time.Now], that carries a monotonic clock reading.
var SystemClock Clock = ClockFunc(time.Now)

// RequestMetric is the snapshot of an outgoing request taken right
// before it is handed to the transport.
//
// Empty Method or URL means the value was not present: no defaults
// (like GET for an empty method) are applied.
type RequestMetric struct {
	ID        string
	Method    string
	URL       string
	Headers   http.Header
	Body      any
	StartTime time.Time
}

// ResponseInfo holds the status and payload of a completed response.
type ResponseInfo struct {
	StatusCode    int
	StatusMessage string
	Body          any
}

// ResponseMetric is the snapshot of a completed response. Headers are
// the response headers.
type ResponseMetric struct {
	Method       string
	URL          string
	Headers      http.Header
	Request      RequestMetric
	Response     ResponseInfo
	EndTime      time.Time
	ResponseTime ResponseTime
}

// ErrorMetric is the snapshot of a failed transaction. Headers are the
// request headers (there might be no response at all).
//
// Request is only set when the failure could be correlated to the
// request that produced it: in that case ResponseTime is computed from
// its StartTime, otherwise ResponseTime is [TimingUnavailable].
type ErrorMetric struct {
	Method       string
	URL          string
	Headers      http.Header
	Request      *RequestMetric
	Kind         FailureKind
	EndTime      time.Time
	ResponseTime ResponseTime
	Err          error
}

// Correlated tells if the error could be tied to its request.
func (m *ErrorMetric) Correlated() bool {
	return m.Request != nil
}
