package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (*Record, error) {
	args := m.Called(ctx, key)
	record, _ := args.Get(0).(*Record)
	return record, args.Error(1)
}

func (m *mockStore) Put(ctx context.Context, key string, record Record) error {
	args := m.Called(ctx, key, record)
	return args.Error(0)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Check(ctx context.Context, identifier string, policyType PolicyType) (Decision, error) {
	args := m.Called(ctx, identifier, policyType)
	decision, _ := args.Get(0).(Decision)
	return decision, args.Error(1)
}
