package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/site-pulse/internal/ratelimit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) CheckAll(ctx context.Context, identifiers []ratelimit.Identifier) (*ratelimit.AggregateResult, error) {
	args := m.Called(ctx, identifiers)
	result, _ := args.Get(0).(*ratelimit.AggregateResult)
	return result, args.Error(1)
}

var resetAt = time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func TestAdmission_AllowedCarriesIPHeaders(t *testing.T) {
	ipDecision := ratelimit.Decision{Allowed: true, Limit: 1000, Remaining: 999, ResetTime: resetAt}
	siteDecision := ratelimit.Decision{Allowed: true, Limit: 10000, Remaining: 42, ResetTime: resetAt.Add(time.Hour)}

	evaluator := &mockEvaluator{}
	evaluator.On("CheckAll", mock.Anything, []ratelimit.Identifier{
		{Type: ratelimit.PolicyIP, Value: "192.0.2.1"},
		{Type: ratelimit.PolicySite, Value: "site-1"},
	}).Return(&ratelimit.AggregateResult{
		Allowed:      true,
		PerDimension: map[ratelimit.PolicyType]ratelimit.Decision{ratelimit.PolicyIP: ipDecision, ratelimit.PolicySite: siteDecision},
		Order:        []ratelimit.PolicyType{ratelimit.PolicyIP, ratelimit.PolicySite},
	}, nil).Once()

	handler := NewAdmission(evaluator, testLogger()).Handle(okHandler("ok"))

	req := httptest.NewRequest(http.MethodGet, "/api/analytics?siteId=site-1", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "1000", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "999", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "2024-01-01T00:15:00.000Z", rec.Header().Get(HeaderRateLimitReset))
	assert.Empty(t, rec.Header().Get(HeaderRetryAfter))
	evaluator.AssertExpectations(t)
}

func TestAdmission_DeniedUsesFirstDeniedDimension(t *testing.T) {
	ipDecision := ratelimit.Decision{Allowed: true, Limit: 1000, Remaining: 500, ResetTime: resetAt}
	siteDecision := ratelimit.Decision{Allowed: false, Limit: 10000, Remaining: 0, ResetTime: resetAt.Add(time.Minute), RetryAfter: 37}

	evaluator := &mockEvaluator{}
	evaluator.On("CheckAll", mock.Anything, mock.Anything).Return(&ratelimit.AggregateResult{
		Allowed:      false,
		PerDimension: map[ratelimit.PolicyType]ratelimit.Decision{ratelimit.PolicyIP: ipDecision, ratelimit.PolicySite: siteDecision},
		Order:        []ratelimit.PolicyType{ratelimit.PolicyIP, ratelimit.PolicySite},
	}, nil).Once()

	called := false
	handler := NewAdmission(evaluator, testLogger()).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sites/site-1/stats?siteId=site-1", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "10000", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "0", rec.Header().Get(HeaderRateLimitRemaining))
	assert.Equal(t, "2024-01-01T00:16:00.000Z", rec.Header().Get(HeaderRateLimitReset))
	assert.Equal(t, "37", rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, "Too many requests. Try again in 37 seconds.", body["message"])
	assert.EqualValues(t, 37, body["retryAfter"])
}

func TestAdmission_EvaluatorErrorAdmitsUntouched(t *testing.T) {
	evaluator := &mockEvaluator{}
	evaluator.On("CheckAll", mock.Anything, mock.Anything).Return(nil, ratelimit.ErrUnknownPolicy).Once()

	handler := NewAdmission(evaluator, testLogger()).Handle(okHandler("through"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "through", rec.Body.String())
	assert.Empty(t, rec.Header().Get(HeaderRateLimitLimit))
}

func TestAdmission_SetsHeadersWhenHandlerWritesNothing(t *testing.T) {
	evaluator := &mockEvaluator{}
	evaluator.On("CheckAll", mock.Anything, mock.Anything).Return(&ratelimit.AggregateResult{
		Allowed: true,
		PerDimension: map[ratelimit.PolicyType]ratelimit.Decision{
			ratelimit.PolicyIP: {Allowed: true, Limit: 3, Remaining: 2, ResetTime: resetAt},
		},
		Order: []ratelimit.PolicyType{ratelimit.PolicyIP},
	}, nil).Once()

	handler := NewAdmission(evaluator, testLogger()).Handle(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "2", rec.Header().Get(HeaderRateLimitRemaining))
}

func TestAdmission_SiteIDFromBodyIsRestored(t *testing.T) {
	evaluator := &mockEvaluator{}
	evaluator.On("CheckAll", mock.Anything, []ratelimit.Identifier{
		{Type: ratelimit.PolicyIP, Value: "192.0.2.1"},
		{Type: ratelimit.PolicySite, Value: "body-site"},
	}).Return(&ratelimit.AggregateResult{
		Allowed:      true,
		PerDimension: map[ratelimit.PolicyType]ratelimit.Decision{},
	}, nil).Once()

	payload := `{"siteId":"body-site","path":"/"}`
	var seen string
	handler := NewAdmission(evaluator, testLogger()).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(payload))
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, payload, seen)
	evaluator.AssertExpectations(t)
}

func TestAdmission_WithLimiterScenario(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := ratelimit.Policies{
		ratelimit.PolicyIP:   {Window: time.Minute, MaxRequests: 2},
		ratelimit.PolicySite: {Window: time.Minute, MaxRequests: 100},
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), policies, testLogger(),
		ratelimit.WithClock(func() time.Time { return now }))
	aggregator := ratelimit.NewAggregator(limiter, testLogger())
	handler := NewAdmission(aggregator, testLogger()).Handle(okHandler("ok"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/?siteId=s1", nil)
		req.RemoteAddr = "198.51.100.9:80"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get(HeaderRateLimitRemaining))

	second := send()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get(HeaderRateLimitRemaining))

	third := send()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "2", third.Header().Get(HeaderRateLimitLimit))
	assert.Equal(t, "60", third.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "2024-01-01T00:01:00.000Z", third.Header().Get(HeaderRateLimitReset))

	now = now.Add(61 * time.Second)
	afterReset := send()
	assert.Equal(t, http.StatusOK, afterReset.Code)
	assert.Equal(t, "1", afterReset.Header().Get(HeaderRateLimitRemaining))
}

func TestAdmission_NilEvaluatorPassesThrough(t *testing.T) {
	handler := NewAdmission(nil, nil).Handle(okHandler("ok"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFormatReset(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 0, 0, 123_000_000, time.FixedZone("X", 3*3600))
	assert.Equal(t, "2024-03-05T07:00:00.123Z", FormatReset(ts))
}

var errBoom = errors.New("boom")
