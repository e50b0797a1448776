package intercept

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNilRequest is reported when the transport is asked to send a
// nil request.
var ErrNilRequest = errors.New("intercept: nil request")

// ErrNilResponse is reported when the base round tripper returns
// neither a response nor an error.
var ErrNilResponse = errors.New("intercept: nil response without error")

// Stage tells at which point of a transaction a failure happened.
type Stage int

const (
	// StageRequest is a failure in a request hook, before dispatch.
	StageRequest Stage = iota
	// StageTransport is a failure of the base round tripper.
	StageTransport
	// StageResponse is a failure returned by a response hook.
	StageResponse
)

func (s Stage) String() string {
	switch s {
	case StageRequest:
		return "request"
	case StageTransport:
		return "transport"
	case StageResponse:
		return "response"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ClientError is the failure that the error hooks receive from the
// [Transport]. Request is the request being processed when the failure
// happened (it can be nil, when there was no request at all).
type ClientError struct {
	Stage   Stage
	Request *http.Request
	Err     error
}

func (e *ClientError) Error() string {
	if e.Request == nil || e.Request.URL == nil {
		return fmt.Sprintf("%s stage: %s", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage: %s %s: %s", e.Stage, e.Request.Method, e.Request.URL, e.Err)
}

// Unwrap returns the original failure, so errors.Is(err, context.Canceled)
// keeps working through the wrapper.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// AsClientError finds the first [ClientError] in the err chain.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// wrapError keeps an existing ClientError, and wraps any other error.
func wrapError(stage Stage, req *http.Request, err error) error {
	if _, ok := AsClientError(err); ok {
		return err
	}
	return &ClientError{Stage: stage, Request: req, Err: err}
}
