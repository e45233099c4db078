package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/site-pulse/pkg/metrics"
)

const unmatchedRoute = "unmatched"

// Metrics reports request counts and latency to Prometheus, labelled by the matched
// ServeMux pattern to keep label cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	if next == nil {
		return nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusWriter(w)

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		metrics.RecordHTTPRequest(r.Method, route, sw.Status(), time.Since(start))
	})
}
