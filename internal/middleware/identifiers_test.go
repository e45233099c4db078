package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		xff        string
		trust      bool
		want       string
	}{
		{name: "remote host", remoteAddr: "203.0.113.5:4000", want: "203.0.113.5"},
		{name: "remote without port", remoteAddr: "203.0.113.5", want: "203.0.113.5"},
		{name: "ipv6", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "forwarded ignored by default", remoteAddr: "10.0.0.1:1", xff: "198.51.100.1", want: "10.0.0.1"},
		{name: "forwarded first entry", remoteAddr: "10.0.0.1:1", xff: " 198.51.100.1 , 10.0.0.2", trust: true, want: "198.51.100.1"},
		{name: "empty forwarded falls back", remoteAddr: "10.0.0.1:1", xff: " ", trust: true, want: "10.0.0.1"},
		{name: "unknown", remoteAddr: "", want: unknownClientIP},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ClientIP(req, tc.trust))
		})
	}
}

func TestSiteID_Sources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?siteId=%20q1%20", nil)
	assert.Equal(t, "q1", SiteID(req, 0))

	mux := http.NewServeMux()
	var fromPath string
	mux.HandleFunc("GET /api/sites/{siteId}/stats", func(w http.ResponseWriter, r *http.Request) {
		fromPath = SiteID(r, 0)
	})
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sites/p1/stats", nil))
	assert.Equal(t, "p1", fromPath)

	req = httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"siteId":"b1"}`))
	assert.Equal(t, "b1", SiteID(req, 0))
	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, `{"siteId":"b1"}`, string(body))
}

func TestSiteID_BodyEdgeCases(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{"siteId":"b1"}`))
	assert.Empty(t, SiteID(req, 0), "GET bodies are not inspected")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	assert.Empty(t, SiteID(req, 0))
	body, _ := io.ReadAll(req.Body)
	assert.Equal(t, "not json", string(body))

	large := `{"siteId":"b1","pad":"` + strings.Repeat("x", 64) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(large))
	assert.Empty(t, SiteID(req, 16), "oversized bodies are skipped")
	body, _ = io.ReadAll(req.Body)
	assert.Equal(t, large, string(body))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"siteId":7}`))
	assert.Empty(t, SiteID(req, 0))
}
