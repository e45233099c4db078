package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is the persisted counter for one key.
type Record struct {
	Count       int64 `json:"count"`
	WindowStart int64 `json:"windowStart"` // epoch milliseconds
	ExpireAt    int64 `json:"expireAt"`    // epoch seconds, advisory
}

func newRecord(now time.Time, window time.Duration) Record {
	start := now.UnixMilli()
	return Record{
		Count:       1,
		WindowStart: start,
		ExpireAt:    (start + window.Milliseconds()) / 1000,
	}
}

// WindowEnd returns the instant the record's window closes.
func (r Record) WindowEnd(window time.Duration) time.Time {
	return time.UnixMilli(r.WindowStart + window.Milliseconds())
}

// Decision is the per-check admission result. It is never persisted.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
	// RetryAfter is whole seconds until the window closes; set only when denied.
	RetryAfter int
}

// Store persists counter records. Get and Put are separate calls and no atomicity is assumed.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, record Record) error
}

// AtomicStore can perform the fetch, reset-or-increment and conditional write of a
// check as one atomic operation. The returned record carries the post-increment count
// even when that count exceeds the policy and was therefore not written.
type AtomicStore interface {
	Store
	Increment(ctx context.Context, key string, policy Policy, now time.Time) (Record, error)
}

// ErrRecordNotFound is returned by Store.Get when no record exists for the key.
var ErrRecordNotFound = errors.New("rate limit record not found")

// StoreFailure reports that the counter store could not serve a check.
type StoreFailure struct {
	Op  string
	Key string
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("rate limit store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreFailure) Unwrap() error {
	return e.Err
}
