package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luraproject/lura/v2/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/krakend/krakend-httpmetrics/http/intercept"
	"github.com/krakend/krakend-httpmetrics/metric"
)

var origin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns a timestamp n milliseconds after origin.
func at(n int) time.Time {
	return origin.Add(time.Duration(n) * time.Millisecond)
}

// seqClock returns the provided timestamps, one per call, and
// keeps returning the last one.
type seqClock struct {
	mu    sync.Mutex
	times []time.Time
}

func newSeqClock(ms ...int) *seqClock {
	c := &seqClock{}
	for _, n := range ms {
		c.times = append(c.times, at(n))
	}
	return c
}

func (c *seqClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respond(status int, body string) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
			Header:        http.Header{"Content-Type": []string{"text/plain"}},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       r,
		}, nil
	}
}

func fail(err error) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return nil, err
	}
}

func TestRegistrar_ItemsScenario(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, "[]"))
	r := NewRegistrar(tr, WithClock(newSeqClock(100, 150)))

	var reqMetrics []metric.RequestMetric
	var respMetrics []metric.ResponseMetric
	r.Use(func(m metric.RequestMetric, _ *http.Request) {
		reqMetrics = append(reqMetrics, m)
	}, func(m metric.ResponseMetric, _ *http.Response) {
		respMetrics = append(respMetrics, m)
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.tld/items", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, reqMetrics, 1)
	require.Len(t, respMetrics, 1)
	m := respMetrics[0]
	assert.Equal(t, metric.ResponseTime(50*time.Millisecond), m.ResponseTime)
	assert.Equal(t, http.StatusOK, m.Response.StatusCode)
	assert.Equal(t, "OK", m.Response.StatusMessage)
	assert.Equal(t, at(100), m.Request.StartTime)
	assert.Equal(t, at(150), m.EndTime)
	assert.Equal(t, reqMetrics[0], m.Request)
	assert.Equal(t, http.MethodGet, m.Method)
	assert.Equal(t, "http://example.tld/items", m.URL)
	assert.Equal(t, "text/plain", m.Headers.Get("Content-Type"))
	assert.Nil(t, m.Response.Body, "bodies are not captured by default")
}

func TestRegistrar_ResponseTimeIsEndMinusStart(t *testing.T) {
	var zero time.Time
	for _, tc := range []struct {
		name       string
		start, end time.Time
	}{
		{"same instant", at(0), at(0)},
		{"one ms", at(1), at(2)},
		{"items", at(100), at(150)},
		{"ten seconds", at(250), at(10_250)},
		{"zero start", zero, zero.Add(50)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := intercept.NewTransport(respond(http.StatusAccepted, ""))
			r := NewRegistrar(tr, WithClock(&seqClock{times: []time.Time{tc.start, tc.end}}))
			var got metric.ResponseMetric
			r.Use(nil, func(m metric.ResponseMetric, _ *http.Response) { got = m })

			_, err := tr.RoundTrip(httptest.NewRequest(http.MethodPut, "http://example.tld/items/1", nil))
			require.NoError(t, err)
			assert.True(t, got.ResponseTime.Available())
			assert.Equal(t, metric.ResponseTime(tc.end.Sub(tc.start)), got.ResponseTime)
			assert.Equal(t, tc.start, got.Request.StartTime)
		})
	}
}

func TestRegistrar_ClockGoingBackwards(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, err := logging.NewLogger("WARNING", buf, "")
	require.NoError(t, err)

	tr := intercept.NewTransport(respond(http.StatusOK, ""))
	r := NewRegistrar(tr, WithClock(newSeqClock(5, 1)), WithLogger(logger))
	var got metric.ResponseMetric
	r.Use(nil, func(m metric.ResponseMetric, _ *http.Response) { got = m })

	_, err = tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
	require.NoError(t, err)
	assert.Equal(t, metric.ResponseTime(-4*time.Millisecond), got.ResponseTime)
	assert.Contains(t, buf.String(), "the clock went backwards for transaction "+got.Request.ID)
}

func TestRegistrar_ConcurrentTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// make the transactions overlap
		time.Sleep(time.Duration(len(req.Header.Get("X-Tx"))%3) * time.Millisecond)
		w.Write([]byte(req.Header.Get("X-Tx")))
	}))
	defer server.Close()

	var ticks atomic.Int64
	clock := metric.ClockFunc(func() time.Time {
		return at(int(ticks.Inc()))
	})

	var sent sync.Map
	var mismatches atomic.Int64
	var responses atomic.Int64
	c, _ := InstrumentedHTTPClient(server.Client(), Callbacks{
		Request: func(m metric.RequestMetric, req *http.Request) {
			sent.Store(req.Header.Get("X-Tx"), m)
		},
		Response: func(m metric.ResponseMetric, resp *http.Response) {
			responses.Inc()
			tx := resp.Request.Header.Get("X-Tx")
			want, ok := sent.Load(tx)
			if !ok || !sameRequest(want.(metric.RequestMetric), m.Request) {
				mismatches.Inc()
			}
			if m.Request.Headers.Get("X-Tx") != tx {
				mismatches.Inc()
			}
		},
	}, WithClock(clock))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set("X-Tx", fmt.Sprintf("tx-%d", i))
			resp, err := c.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n), responses.Load())
	assert.Zero(t, mismatches.Load())
}

// sameRequest compares the identity of two request metrics.
func sameRequest(a, b metric.RequestMetric) bool {
	return a.ID == b.ID && a.StartTime.Equal(b.StartTime) &&
		a.Method == b.Method && a.URL == b.URL
}

func TestRegistrar_ErrorWithoutDispatch(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, ""))
	rejected := errors.New("rejected before dispatch")
	// runs before the metrics request hook
	tr.UseRequest(func(*http.Request) (*http.Request, error) { return nil, rejected })

	r := NewRegistrar(tr, WithClock(newSeqClock(10, 20)))
	requestCalled := false
	var got metric.ErrorMetric
	var gotErr error
	r.Register(Callbacks{
		Request: func(metric.RequestMetric, *http.Request) { requestCalled = true },
		Error: func(m metric.ErrorMetric, err error) {
			got = m
			gotErr = err
		},
	})

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld/items", nil))
	require.ErrorIs(t, err, rejected)
	assert.False(t, requestCalled)
	assert.Nil(t, got.Request)
	assert.Equal(t, metric.ResponseTime(-1), got.ResponseTime)
	assert.Equal(t, metric.ClientFailureWithConfig, got.Kind)
	assert.Equal(t, "http://example.tld/items", got.URL)
	assert.Equal(t, err, gotErr)
	assert.Equal(t, uint64(1), r.Stats().DegradedErrors)
}

func TestRegistrar_CorrelatedError(t *testing.T) {
	refused := errors.New("connection refused")
	tr := intercept.NewTransport(fail(refused))
	r := NewRegistrar(tr, WithClock(newSeqClock(100, 180)))

	var got metric.ErrorMetric
	r.Register(Callbacks{Error: func(m metric.ErrorMetric, _ error) { got = m }})

	req := httptest.NewRequest(http.MethodPost, "http://example.tld/items", nil)
	req.Header.Set("X-Foo", "bar")
	_, err := tr.RoundTrip(req)
	require.ErrorIs(t, err, refused)

	require.NotNil(t, got.Request)
	assert.Equal(t, at(100), got.Request.StartTime)
	assert.Equal(t, at(180), got.EndTime)
	assert.Equal(t, metric.ResponseTime(got.EndTime.Sub(got.Request.StartTime)), got.ResponseTime)
	assert.Equal(t, "bar", got.Headers.Get("X-Foo"), "error metrics use the request headers")
	assert.Equal(t, http.MethodPost, got.Method)
	assert.ErrorIs(t, got.Err, refused)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Requests)
	assert.Equal(t, uint64(1), stats.CorrelatedErrors)
	assert.Zero(t, stats.DegradedErrors)
}

func TestRegistrar_CanceledRequestIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	var got metric.ErrorMetric
	c, _ := InstrumentedHTTPClient(server.Client(), Callbacks{
		Error: func(m metric.ErrorMetric, _ error) { got = m },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, got.Request)
	assert.True(t, got.ResponseTime.Available())
}

func TestRegistrar_UnrecognizedFailure(t *testing.T) {
	tr := intercept.NewTransport(fail(errors.New("refused")))
	replaced := errors.New("replaced by some other hook")
	tr.UseResponse(nil, func(error) error { return replaced })

	r := NewRegistrar(tr)
	var got metric.ErrorMetric
	r.OnResponse(nil, func(m metric.ErrorMetric, _ error) { got = m })

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
	assert.Same(t, replaced, err)
	assert.Equal(t, metric.UnrecognizedFailure, got.Kind)
	assert.Nil(t, got.Request)
	assert.Equal(t, metric.TimingUnavailable, got.ResponseTime)
	assert.Empty(t, got.Method)
}

func TestRegistrar_FailureWithoutConfig(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, ""))
	r := NewRegistrar(tr)
	var got metric.ErrorMetric
	r.Register(Callbacks{Error: func(m metric.ErrorMetric, _ error) { got = m }})

	_, err := tr.RoundTrip(nil)
	assert.ErrorIs(t, err, intercept.ErrNilRequest)
	assert.Equal(t, metric.ClientFailureWithoutConfig, got.Kind)
	assert.Nil(t, got.Request)
	assert.Equal(t, metric.TimingUnavailable, got.ResponseTime)
}

func TestRegistrar_NoErrorCallback(t *testing.T) {
	refused := errors.New("refused")
	tr := intercept.NewTransport(fail(refused))
	r := NewRegistrar(tr)

	responseCalled := false
	r.Use(nil, func(metric.ResponseMetric, *http.Response) { responseCalled = true })

	var err error
	assert.NotPanics(t, func() {
		_, err = tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
	})
	assert.ErrorIs(t, err, refused)
	assert.False(t, responseCalled)
}

func TestRegistrar_ResponseWithoutCorrelationPanics(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, ""))
	r := NewRegistrar(tr)
	// the response hook without the request hook of the same registrar
	r.OnResponse(func(metric.ResponseMetric, *http.Response) {}, nil)

	defer func() {
		v := recover()
		require.NotNil(t, v, "expected a panic")
		err, ok := v.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrResponseNotCorrelated)
	}()
	tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
}

func TestRegistrar_RequestUnchanged(t *testing.T) {
	type seen struct {
		method, url, header, body string
	}
	var atTransport seen
	tr := intercept.NewTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		atTransport = seen{req.Method, req.URL.String(), req.Header.Get("X-Foo"), string(b)}
		return respond(http.StatusCreated, "")(req)
	}))
	r := NewRegistrar(tr, WithBodyCapture(1024))
	var reqMetric metric.RequestMetric
	r.Use(func(m metric.RequestMetric, _ *http.Request) { reqMetric = m }, nil)

	req, err := http.NewRequest(http.MethodPost, "http://example.tld/items", bytes.NewBufferString(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("X-Foo", "bar")

	_, err = tr.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, seen{http.MethodPost, "http://example.tld/items", "bar", `{"a":1}`}, atTransport)
	assert.Equal(t, []byte(`{"a":1}`), reqMetric.Body)
	assert.NotEmpty(t, reqMetric.ID)
}

func TestRegistrar_ResponseBodyCapture(t *testing.T) {
	for _, tc := range []struct {
		name  string
		limit int64
		want  any
	}{
		{"fits", 16, []byte("foo bar")},
		{"exact", 7, []byte("foo bar")},
		{"too big", 3, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := intercept.NewTransport(respond(http.StatusOK, "foo bar"))
			r := NewRegistrar(tr, WithBodyCapture(tc.limit))
			var got metric.ResponseMetric
			r.Use(nil, func(m metric.ResponseMetric, _ *http.Response) { got = m })

			resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
			require.NoError(t, err)
			b, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, "foo bar", string(b))
			assert.Equal(t, tc.want, got.Response.Body)
		})
	}
}

func TestRegistrar_StreamedResponseIsNotRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := intercept.NewTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": []string{"text/event-stream"}},
			Body:          pr,
			ContentLength: -1,
			Request:       req,
		}, nil
	}))
	r := NewRegistrar(tr, WithBodyCapture(1024))
	var got metric.ResponseMetric
	r.Use(nil, func(m metric.ResponseMetric, _ *http.Response) { got = m })

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld/events", nil))
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("the response was held by the response hook")
	}
	require.NoError(t, res.err)
	assert.Nil(t, got.Response.Body)

	event := "data: first\n\n"
	go pw.Write([]byte(event))
	b := make([]byte, len(event))
	_, err := io.ReadFull(res.resp.Body, b)
	require.NoError(t, err)
	assert.Equal(t, event, string(b))
}

func TestRegistrar_Eject(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, ""))
	r := NewRegistrar(tr)
	calls := 0
	reg := r.Use(func(metric.RequestMetric, *http.Request) { calls++ },
		func(metric.ResponseMetric, *http.Response) { calls++ })

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	r.Eject(reg)
	_, err = tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestStatusMessage(t *testing.T) {
	assert.Equal(t, "Not Found", statusMessage(&http.Response{StatusCode: 404, Status: "404 Not Found"}))
	assert.Equal(t, "I'm a teapot", statusMessage(&http.Response{StatusCode: 418}))
	assert.Equal(t, "Custom Reason", statusMessage(&http.Response{StatusCode: 299, Status: "299 Custom Reason"}))
}

func TestRegistrar_SubstitutedResponseIsCorrelated(t *testing.T) {
	tr := intercept.NewTransport(respond(http.StatusOK, "fresh"))
	tr.UseResponse(func(*http.Response) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNotModified, Body: http.NoBody}, nil
	}, nil)
	r := NewRegistrar(tr, WithClock(newSeqClock(10, 30)))
	var got metric.ResponseMetric
	r.Use(nil, func(m metric.ResponseMetric, _ *http.Response) { got = m })

	_, err := tr.RoundTrip(httptest.NewRequest(http.MethodGet, "http://example.tld/items", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, got.Response.StatusCode)
	assert.Equal(t, metric.ResponseTime(20*time.Millisecond), got.ResponseTime)
}
