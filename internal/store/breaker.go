package store

import (
	"context"

	"github.com/worklogapp/feed-platform/pkg/resilience"
)

// Breaker decorates a Store with a circuit breaker. Retry and breaker policy
// live here, at the edge, never inside the feed core: a tripped breaker fails
// pages fast while the backend recovers.
type Breaker struct {
	inner Store
	cb    *resilience.CircuitBreaker
}

// NewBreaker wraps inner with the given circuit breaker.
func NewBreaker(inner Store, cb *resilience.CircuitBreaker) *Breaker {
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Query(ctx context.Context, collection string, q Query) ([]Row, error) {
	var rows []Row
	err := b.cb.Execute(func() error {
		var err error
		rows, err = b.inner.Query(ctx, collection, q)
		return err
	})
	return rows, err
}

func (b *Breaker) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	var count int64
	err := b.cb.Execute(func() error {
		var err error
		count, err = b.inner.Count(ctx, collection, filters)
		return err
	})
	return count, err
}

func (b *Breaker) GroupCount(ctx context.Context, collection string, filters []Filter, groupField string) (map[string]int64, error) {
	var counts map[string]int64
	err := b.cb.Execute(func() error {
		var err error
		counts, err = b.inner.GroupCount(ctx, collection, filters, groupField)
		return err
	})
	return counts, err
}

func (b *Breaker) Insert(ctx context.Context, collection string, record Row) (Row, error) {
	var row Row
	err := b.cb.Execute(func() error {
		var err error
		row, err = b.inner.Insert(ctx, collection, record)
		return err
	})
	return row, err
}

func (b *Breaker) Update(ctx context.Context, collection string, filters []Filter, patch Row) error {
	return b.cb.Execute(func() error {
		return b.inner.Update(ctx, collection, filters, patch)
	})
}

func (b *Breaker) Delete(ctx context.Context, collection string, filters []Filter) error {
	return b.cb.Execute(func() error {
		return b.inner.Delete(ctx, collection, filters)
	})
}
