package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/idempotency"
)

func newIdempotency(t *testing.T) (func(http.Handler) http.Handler, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := testLogger()
	manager := idempotency.NewManager(idempotency.NewRedisStore(client, log), log)
	return Idempotency(manager, time.Hour, apperrors.NewHandler(log, false), log), mr
}

func TestIdempotency_ReplaysSuccessfulResponse(t *testing.T) {
	mw, _ := newIdempotency(t)

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/sites", strings.NewReader(`{}`))
		req.Header.Set(HeaderIdempotencyKey, "abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplay))

	second := send()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(HeaderIdempotentReplay))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"call":1}`, second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	mw, _ := newIdempotency(t)

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	for range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sites", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_ErrorsAreNotReplayed(t *testing.T) {
	mw, _ := newIdempotency(t)

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad", http.StatusBadRequest)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/sites", nil)
		req.Header.Set(HeaderIdempotencyKey, "k")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotency_InProgressConflicts(t *testing.T) {
	mw, mr := newIdempotency(t)
	require.NoError(t, mr.Set("idempotency:POST /api/sites:busy:lock", "1"))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is locked")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sites", nil)
	req.Header.Set(HeaderIdempotencyKey, "busy")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotency_StoreDownProcessesRequest(t *testing.T) {
	mw, mr := newIdempotency(t)
	mr.Close()

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/sites", nil)
	req.Header.Set(HeaderIdempotencyKey, "k")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
}
