package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDecision(t *testing.T) {
	before := testutil.ToFloat64(rateLimitDecisionsTotal.WithLabelValues("IP", "rejected"))

	RecordDecision("IP", false)

	assert.Equal(t, before+1, testutil.ToFloat64(rateLimitDecisionsTotal.WithLabelValues("IP", "rejected")))
}

func TestRecordStoreFailure_DefaultsLabels(t *testing.T) {
	before := testutil.ToFloat64(rateLimitStoreFailuresTotal.WithLabelValues("unknown", "unknown"))

	RecordStoreFailure("", "")

	assert.Equal(t, before+1, testutil.ToFloat64(rateLimitStoreFailuresTotal.WithLabelValues("unknown", "unknown")))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordHTTPRequest(http.MethodGet, "GET /api/sites", http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
