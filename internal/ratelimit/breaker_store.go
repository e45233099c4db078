package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/pkg/metrics"
)

// BreakerStore guards a Store with a circuit breaker. While the breaker is open,
// calls fail immediately with ErrCircuitOpen instead of waiting on a dead backend;
// the limiter then fails open as it would for any other store error.
type BreakerStore struct {
	next    Store
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

type atomicBreakerStore struct {
	*BreakerStore
	atomic AtomicStore
}

// NewBreakerStore wraps next. The result implements AtomicStore only when next does.
func NewBreakerStore(next Store, breaker *apperrors.CircuitBreaker, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}
	if breaker == nil {
		breaker = apperrors.NewCircuitBreaker(apperrors.BreakerSettings{})
	}

	b := &BreakerStore{
		next:    next,
		breaker: breaker,
		log:     log,
	}

	if atomic, ok := next.(AtomicStore); ok {
		return &atomicBreakerStore{BreakerStore: b, atomic: atomic}
	}
	return b
}

// Get delegates to the wrapped store. A missing record is not a failure.
func (b *BreakerStore) Get(ctx context.Context, key string) (*Record, error) {
	var (
		record   *Record
		notFound bool
	)

	err := b.call(func() error {
		r, err := b.next.Get(ctx, key)
		if errors.Is(err, ErrRecordNotFound) {
			notFound = true
			return nil
		}
		record = r
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// Put delegates to the wrapped store.
func (b *BreakerStore) Put(ctx context.Context, key string, record Record) error {
	return b.call(func() error {
		return b.next.Put(ctx, key, record)
	})
}

func (b *BreakerStore) call(fn func() error) error {
	before := b.breaker.State()
	err := b.breaker.Call(fn)
	if after := b.breaker.State(); after != before {
		metrics.SetStoreBreakerOpen(after == apperrors.StateOpen)
		b.log.Warn("rate limit store breaker changed state",
			slog.String("from", before.String()),
			slog.String("to", after.String()),
		)
	}
	return err
}

func (a *atomicBreakerStore) Increment(ctx context.Context, key string, policy Policy, now time.Time) (Record, error) {
	var record Record
	err := a.call(func() error {
		r, err := a.atomic.Increment(ctx, key, policy, now)
		record = r
		return err
	})
	return record, err
}
