// Package idempotency replays the stored response of a request retried with the same key.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

const defaultLockTTL = time.Minute

// Operation produces the response to store for a key. Only responses for which
// Cacheable returns true are recorded.
type Operation func(ctx context.Context) (*Record, error)

// Result is the response for a key and whether it was replayed.
type Result struct {
	Record    *Record
	FromCache bool
}

type Manager interface {
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	log     *slog.Logger
	lockTTL time.Duration
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store:   store,
		log:     log,
		lockTTL: defaultLockTTL,
	}
}

// Execute runs fn once per key. A completed record is replayed; a key whose first
// request is still running yields ErrRequestInProgress.
func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == StatusCompleted {
		return &Result{Record: record, FromCache: true}, nil
	}

	locked, err := m.store.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrRequestInProgress
	}
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
			m.log.Warn("idempotency lock not released", slog.String("key", key), slog.Any("error", err))
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("operation returned no record")
	}

	if Cacheable(result.StatusCode) {
		result.Status = StatusCompleted
		if err := m.store.Set(ctx, key, result, ttl); err != nil {
			m.log.Warn("idempotency record not stored", slog.String("key", key), slog.Any("error", err))
		}
	}

	return &Result{Record: result}, nil
}

// Cacheable reports whether a response with this status is replayed on retry.
// Client and server errors are not, so a corrected retry can succeed.
func Cacheable(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
