// Package correlation ties the asynchronous outcome of an http
// transaction (its response or its error) to the [metric.RequestMetric]
// taken when the request was sent.
//
// The request metric is not stored in any client owned structure: it
// travels in the request [context.Context], under a key that belongs to
// a single [Store]. Each transaction gets its own context, so concurrent
// transactions can never see each other's metric, and the entry is
// discarded with the context once the transaction is done.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/krakend/krakend-httpmetrics/metric"
)

// storeKey is the context key of a Store. It is not a zero sized
// type, so two stores never share a key.
type storeKey struct {
	id string
}

// Store attaches and reads correlation contexts.
type Store struct {
	key *storeKey
}

// NewStore creates a Store with its own context key.
func NewStore() *Store {
	return &Store{key: &storeKey{id: uuid.NewString()}}
}

// NewTransactionID returns a new unique transaction identifier.
func NewTransactionID() string {
	return uuid.NewString()
}

// Attach returns a shallow copy of req whose context holds m. The
// provided request is not modified.
func (s *Store) Attach(req *http.Request, m metric.RequestMetric) *http.Request {
	return req.WithContext(s.WithMetric(req.Context(), m))
}

// WithMetric returns a copy of ctx holding m.
func (s *Store) WithMetric(ctx context.Context, m metric.RequestMetric) context.Context {
	return context.WithValue(ctx, s.key, m)
}

// Lookup returns the request metric attached to req. A nil request,
// or one without a correlation context for this store, reports false.
func (s *Store) Lookup(req *http.Request) (metric.RequestMetric, bool) {
	if req == nil {
		return metric.RequestMetric{}, false
	}
	return s.FromContext(req.Context())
}

// FromContext returns the request metric held by ctx.
func (s *Store) FromContext(ctx context.Context) (metric.RequestMetric, bool) {
	if ctx == nil {
		return metric.RequestMetric{}, false
	}
	m, ok := ctx.Value(s.key).(metric.RequestMetric)
	return m, ok
}
