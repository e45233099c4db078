package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/Proton-105/site-pulse/pkg/metrics"
)

// Limiter evaluates fixed-window counters kept in a Store.
//
// The default path reads the record, updates it in memory and writes it back.
// That read-modify-write is not atomic: two invocations racing on the same key can
// both read count N and both write N+1, so concurrent bursts are under-counted and
// slightly over-admitted. WithAtomicIncrement switches to AtomicStore.Increment when
// the store supports it; decisions keep the same shape either way.
type Limiter struct {
	store    Store
	policies Policies
	log      *slog.Logger
	now      func() time.Time
	atomic   bool
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAtomicIncrement uses the store's atomic increment when available.
func WithAtomicIncrement() Option {
	return func(l *Limiter) {
		l.atomic = true
	}
}

// NewLimiter creates a Limiter over store using the given policies.
func NewLimiter(store Store, policies Policies, log *slog.Logger, opts ...Option) *Limiter {
	if log == nil {
		log = slog.Default()
	}

	l := &Limiter{
		store:    store,
		policies: policies,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.atomic {
		if _, ok := store.(AtomicStore); !ok {
			l.log.Warn("store does not support atomic increment, using read-modify-write")
			l.atomic = false
		}
	}

	return l
}

// Key builds the store key for an identifier under a policy type.
func Key(policyType PolicyType, identifier string) string {
	return string(policyType) + ":" + identifier
}

// Check returns the admission decision for identifier under policyType.
//
// An unknown policy type is a configuration defect and is returned as ErrUnknownPolicy.
// Store failures never surface as errors: the request is admitted with a full quota
// and the failure is logged.
func (l *Limiter) Check(ctx context.Context, identifier string, policyType PolicyType) (Decision, error) {
	policy, err := l.policies.Lookup(policyType)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()
	decision, err := l.evaluate(ctx, identifier, policyType, policy, now)
	if err != nil {
		var failure *StoreFailure
		if !errors.As(err, &failure) {
			return Decision{}, err
		}

		l.log.Warn("rate limit store failed, admitting request",
			slog.String("policy", string(policyType)),
			slog.String("op", failure.Op),
			slog.String("key", failure.Key),
			slog.Any("error", failure.Err),
		)
		metrics.RecordStoreFailure(string(policyType), failure.Op)
		decision = failOpen(policy, now)
	}

	metrics.RecordDecision(string(policyType), decision.Allowed)
	return decision, nil
}

// Evaluate is Check without the fail-open policy: store failures come back as *StoreFailure.
func (l *Limiter) Evaluate(ctx context.Context, identifier string, policyType PolicyType) (Decision, error) {
	policy, err := l.policies.Lookup(policyType)
	if err != nil {
		return Decision{}, err
	}

	return l.evaluate(ctx, identifier, policyType, policy, l.now())
}

func (l *Limiter) evaluate(ctx context.Context, identifier string, policyType PolicyType, policy Policy, now time.Time) (Decision, error) {
	key := Key(policyType, identifier)

	if l.atomic {
		record, err := l.store.(AtomicStore).Increment(ctx, key, policy, now)
		if err != nil {
			return Decision{}, &StoreFailure{Op: "increment", Key: key, Err: err}
		}
		if record.Count > int64(policy.MaxRequests) {
			return denied(policy, record, now), nil
		}
		return allowed(policy, record), nil
	}

	record, err := l.next(ctx, key, policy, now)
	if err != nil {
		return Decision{}, err
	}

	if record.Count > int64(policy.MaxRequests) {
		// Overflow attempts are not written back so the stored count stops at the first overflow.
		return denied(policy, record, now), nil
	}

	if err := l.store.Put(ctx, key, record); err != nil {
		return Decision{}, &StoreFailure{Op: "put", Key: key, Err: err}
	}

	return allowed(policy, record), nil
}

// next computes the record after counting one more request at now.
func (l *Limiter) next(ctx context.Context, key string, policy Policy, now time.Time) (Record, error) {
	existing, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return newRecord(now, policy.Window), nil
	case err != nil:
		return Record{}, &StoreFailure{Op: "get", Key: key, Err: err}
	case existing == nil:
		return newRecord(now, policy.Window), nil
	case now.UnixMilli()-existing.WindowStart > policy.Window.Milliseconds():
		return newRecord(now, policy.Window), nil
	}

	record := *existing
	record.Count++
	return record, nil
}

func allowed(policy Policy, record Record) Decision {
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests - int(record.Count),
		ResetTime: record.WindowEnd(policy.Window),
	}
}

func denied(policy Policy, record Record, now time.Time) Decision {
	reset := record.WindowEnd(policy.Window)
	untilReset := reset.UnixMilli() - now.UnixMilli()

	return Decision{
		Allowed:    false,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetTime:  reset,
		RetryAfter: int(math.Ceil(float64(untilReset) / 1000)),
	}
}

func failOpen(policy Policy, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     policy.MaxRequests,
		Remaining: policy.MaxRequests,
		ResetTime: now.Add(policy.Window),
	}
}
