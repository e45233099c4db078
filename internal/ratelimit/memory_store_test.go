package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, store.Put(ctx, "IP:old", Record{Count: 1, WindowStart: now.Add(-time.Hour).UnixMilli(), ExpireAt: now.Unix() - 10}))
	require.NoError(t, store.Put(ctx, "IP:new", newRecord(now, time.Minute)))

	assert.Equal(t, 1, store.Sweep(now))
	assert.Equal(t, 1, store.Len())

	_, err := store.Get(ctx, "IP:old")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStore_StaleRecordStartsNewWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.Put(ctx, Key(PolicyIP, "a"), Record{Count: 3, WindowStart: start.UnixMilli(), ExpireAt: start.Unix() + 1}))

	later := start.Add(5 * time.Second)
	stale, err := store.Get(ctx, Key(PolicyIP, "a"))
	require.NoError(t, err)
	assert.Less(t, stale.ExpireAt, later.Unix())

	limiter := NewLimiter(store, scenarioPolicies(), testLogger(), WithClock(func() time.Time { return later }))
	decision, err := limiter.Check(ctx, "a", PolicyIP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Remaining)

	record, err := store.Get(ctx, Key(PolicyIP, "a"))
	require.NoError(t, err)
	assert.Equal(t, later.UnixMilli(), record.WindowStart)
	assert.Equal(t, 0, store.Sweep(later))
}

func TestMemoryStore_HonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "IP:x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, "IP:x", Record{}), context.Canceled)
}

type countingSweeper struct {
	calls chan time.Time
}

func (s *countingSweeper) Sweep(now time.Time) int {
	select {
	case s.calls <- now:
	default:
	}
	return 1
}

func TestCleaner_RunSweepsUntilCancelled(t *testing.T) {
	sweeper := &countingSweeper{calls: make(chan time.Time, 10)}
	cleaner := NewCleaner(sweeper, testLogger(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleaner.Run(ctx)
		close(done)
	}()

	select {
	case <-sweeper.calls:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not sweep")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop")
	}
}
