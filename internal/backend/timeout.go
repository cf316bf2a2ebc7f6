package backend

import (
	"context"
	"time"

	"mentorship/internal/apperr"
	"mentorship/internal/metrics"
)

// WithTimeout bounds every Store call by timeout and classifies failures into
// the apperr taxonomy. Subscribe is only bounded while it is being opened.
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &timeoutStore{next: next, timeout: timeout}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (s *timeoutStore) Query(ctx context.Context, table string, q Query) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	rows, err := s.next.Query(ctx, table, q)
	observe("query", table, start, err)
	return rows, apperr.Backend(err)
}

func (s *timeoutStore) Get(ctx context.Context, table string, q Query) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	rec, err := s.next.Get(ctx, table, q)
	observe("get", table, start, err)
	return rec, apperr.Backend(err)
}

func (s *timeoutStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	out, err := s.next.Insert(ctx, table, rec)
	observe("insert", table, start, err)
	return out, apperr.Backend(err)
}

func (s *timeoutStore) Update(ctx context.Context, table string, filters []Filter, patch Record) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	n, err := s.next.Update(ctx, table, filters, patch)
	observe("update", table, start, err)
	return n, apperr.Backend(err)
}

func (s *timeoutStore) Delete(ctx context.Context, table string, filters []Filter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	n, err := s.next.Delete(ctx, table, filters)
	observe("delete", table, start, err)
	return n, apperr.Backend(err)
}

func (s *timeoutStore) Subscribe(ctx context.Context, table string, opts SubscribeOptions) (*Subscription, error) {
	start := time.Now()
	sub, err := s.next.Subscribe(ctx, table, opts)
	observe("subscribe", table, start, err)
	return sub, apperr.Backend(err)
}

func observe(op, table string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BackendDuration.WithLabelValues(op, table, result).Observe(time.Since(start).Seconds())
}
