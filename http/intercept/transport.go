// Package intercept provides the interception points of an http client:
// a round tripper that runs a chain of request hooks before sending a
// request, and a chain of response / error hooks once the outcome is
// known.
//
// Hooks are not expected to change what is sent or received: they can
// annotate the request context, and must hand back the response or the
// error they got.
package intercept

import (
	"net/http"
	"sync"

	"go.uber.org/atomic"
)

// ID identifies a registered hook, to be able to eject it.
type ID uint64

// RequestHook is called before a request is sent. It returns the
// request to continue with (a nil request means "unchanged"). A non
// nil error aborts the transaction.
type RequestHook func(*http.Request) (*http.Request, error)

// ResponseHook is called with a completed response. It returns the
// response to continue with (nil means "unchanged"). A non nil error
// switches the rest of the chain to the error hooks.
type ResponseHook func(*http.Response) (*http.Response, error)

// ErrorHook is called with a failure, and must signal it again by
// returning it.
type ErrorHook func(error) error

// Interceptors are the registration points of the request, response and
// error hooks.
type Interceptors interface {
	UseRequest(h RequestHook) ID
	UseResponse(onResponse ResponseHook, onError ErrorHook) ID
	EjectRequest(id ID)
	EjectResponse(id ID)
}

var (
	_ http.RoundTripper = (*Transport)(nil)
	_ Interceptors      = (*Transport)(nil)
)

type requestEntry struct {
	id   ID
	hook RequestHook
}

type responseEntry struct {
	id         ID
	onResponse ResponseHook
	onError    ErrorHook
}

// Transport is an http.RoundTripper that runs the registered hooks
// around a base round tripper.
//
// Hooks can be registered and ejected at any time: each call to
// RoundTrip works with the hooks registered when it started.
type Transport struct {
	base http.RoundTripper

	mu            sync.RWMutex
	requestHooks  []requestEntry
	responseHooks []responseEntry

	lastID atomic.Uint64
}

// NewTransport creates an intercepting transport around base. A nil
// base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base}
}

// Base returns the wrapped round tripper.
func (t *Transport) Base() http.RoundTripper {
	return t.base
}

// UseRequest registers a request hook. Request hooks run in
// registration order.
func (t *Transport) UseRequest(h RequestHook) ID {
	id := ID(t.lastID.Inc())
	if h == nil {
		return id
	}
	t.mu.Lock()
	hooks := make([]requestEntry, len(t.requestHooks), len(t.requestHooks)+1)
	copy(hooks, t.requestHooks)
	t.requestHooks = append(hooks, requestEntry{id: id, hook: h})
	t.mu.Unlock()
	return id
}

// UseResponse registers a pair of response and error hooks, any of them
// can be nil. Pairs run in registration order.
func (t *Transport) UseResponse(onResponse ResponseHook, onError ErrorHook) ID {
	id := ID(t.lastID.Inc())
	if onResponse == nil && onError == nil {
		return id
	}
	t.mu.Lock()
	hooks := make([]responseEntry, len(t.responseHooks), len(t.responseHooks)+1)
	copy(hooks, t.responseHooks)
	t.responseHooks = append(hooks, responseEntry{id: id, onResponse: onResponse, onError: onError})
	t.mu.Unlock()
	return id
}

// EjectRequest removes a request hook. Unknown ids are ignored.
func (t *Transport) EjectRequest(id ID) {
	t.mu.Lock()
	hooks := make([]requestEntry, 0, len(t.requestHooks))
	for _, e := range t.requestHooks {
		if e.id != id {
			hooks = append(hooks, e)
		}
	}
	t.requestHooks = hooks
	t.mu.Unlock()
}

// EjectResponse removes a pair of response hooks. Unknown ids are ignored.
func (t *Transport) EjectResponse(id ID) {
	t.mu.Lock()
	hooks := make([]responseEntry, 0, len(t.responseHooks))
	for _, e := range t.responseHooks {
		if e.id != id {
			hooks = append(hooks, e)
		}
	}
	t.responseHooks = hooks
	t.mu.Unlock()
}

func (t *Transport) hooks() ([]requestEntry, []responseEntry) {
	t.mu.RLock()
	req, resp := t.requestHooks, t.responseHooks
	t.mu.RUnlock()
	return req, resp
}

// RoundTrip implements http.RoundTripper: it runs the request hooks,
// delegates to the base round tripper, and runs the response / error
// hooks with the outcome.
//
// Any failure reaching the error hooks, and the one returned, is a
// [*ClientError].
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestHooks, responseHooks := t.hooks()

	var err error
	if req == nil {
		err = &ClientError{Stage: StageRequest, Err: ErrNilRequest}
	} else {
		for _, e := range requestHooks {
			next, hookErr := e.hook(req)
			if hookErr != nil {
				err = wrapError(StageRequest, req, hookErr)
				break
			}
			if next != nil {
				req = next
			}
		}
	}

	var resp *http.Response
	if err == nil {
		resp, err = t.base.RoundTrip(req)
		if err != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			resp = nil
			err = wrapError(StageTransport, req, err)
		} else if resp == nil {
			err = &ClientError{Stage: StageTransport, Request: req, Err: ErrNilResponse}
		} else if resp.Request == nil {
			// response hooks find the transaction through the request
			resp.Request = req
		}
	}

	for _, e := range responseHooks {
		if err != nil {
			if e.onError != nil {
				if hookErr := e.onError(err); hookErr != nil {
					err = hookErr
				}
			}
			continue
		}
		if e.onResponse == nil {
			continue
		}
		next, hookErr := e.onResponse(resp)
		if hookErr != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			resp = nil
			err = wrapError(StageResponse, req, hookErr)
			continue
		}
		if next != nil {
			if next.Request == nil {
				next.Request = req
			}
			resp = next
		}
	}
	return resp, err
}
