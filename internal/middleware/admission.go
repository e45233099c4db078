package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Proton-105/site-pulse/internal/ratelimit"
	"github.com/Proton-105/site-pulse/pkg/logger"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	// resetLayout renders UTC timestamps with millisecond precision.
	resetLayout = "2006-01-02T15:04:05.000Z"
)

// Evaluator checks a set of rate-limit dimensions. *ratelimit.Aggregator implements it.
type Evaluator interface {
	CheckAll(ctx context.Context, identifiers []ratelimit.Identifier) (*ratelimit.AggregateResult, error)
}

// Admission rejects requests that exceed any rate-limit dimension and annotates
// admitted responses with the caller's IP quota.
type Admission struct {
	evaluator         Evaluator
	log               *slog.Logger
	trustForwardedFor bool
	maxBodyBytes      int64
}

// AdmissionOption customizes Admission.
type AdmissionOption func(*Admission)

// WithTrustForwardedFor takes the client IP from X-Forwarded-For. Enable only behind a trusted proxy.
func WithTrustForwardedFor(trust bool) AdmissionOption {
	return func(a *Admission) {
		a.trustForwardedFor = trust
	}
}

// WithMaxBodyBytes bounds how much of a request body is inspected for a site id.
func WithMaxBodyBytes(n int64) AdmissionOption {
	return func(a *Admission) {
		a.maxBodyBytes = n
	}
}

// NewAdmission constructs the admission middleware.
func NewAdmission(evaluator Evaluator, log *slog.Logger, opts ...AdmissionOption) *Admission {
	if log == nil {
		log = slog.Default()
	}

	a := &Admission{
		evaluator:    evaluator,
		log:          log,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Handle wraps next with admission control.
func (a *Admission) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.evaluator == nil {
			next.ServeHTTP(w, r)
			return
		}

		identifiers := a.Identifiers(r)

		result, err := a.evaluator.CheckAll(r.Context(), identifiers)
		if err != nil {
			a.log.Error("rate limit evaluation failed, admitting request",
				slog.String("path", r.URL.Path),
				slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
				slog.Any("error", err),
			)
			next.ServeHTTP(w, r)
			return
		}

		if !result.Allowed {
			policyType, decision, _ := result.FirstDenied()
			a.log.Warn("rate limit exceeded",
				slog.String("policy", string(policyType)),
				slog.String("path", r.URL.Path),
				slog.Int("retry_after", decision.RetryAfter),
				slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
			)
			writeRateLimited(w, decision)
			return
		}

		ipDecision, ok := result.PerDimension[ratelimit.PolicyIP]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		sw := newStatusWriter(w)
		sw.beforeHeader = func(h http.Header) {
			setQuotaHeaders(h, ipDecision)
		}

		next.ServeHTTP(sw, r)

		if !sw.wroteHeader {
			sw.WriteHeader(http.StatusOK)
		}
	})
}

// Identifiers extracts the dimensions to evaluate: IP always, SITE when the request names a site.
func (a *Admission) Identifiers(r *http.Request) []ratelimit.Identifier {
	identifiers := []ratelimit.Identifier{
		{Type: ratelimit.PolicyIP, Value: ClientIP(r, a.trustForwardedFor)},
	}

	if siteID := SiteID(r, a.maxBodyBytes); siteID != "" {
		identifiers = append(identifiers, ratelimit.Identifier{Type: ratelimit.PolicySite, Value: siteID})
	}

	return identifiers
}

func setQuotaHeaders(h http.Header, decision ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
	h.Set(HeaderRateLimitReset, FormatReset(decision.ResetTime))
}

func writeRateLimited(w http.ResponseWriter, decision ratelimit.Decision) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	setQuotaHeaders(h, decision)
	h.Set(HeaderRetryAfter, strconv.Itoa(decision.RetryAfter))

	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rateLimitedBody{
		Error:      "Rate limit exceeded",
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", decision.RetryAfter),
		RetryAfter: decision.RetryAfter,
	})
}

// FormatReset renders a reset instant as ISO-8601 UTC with milliseconds.
func FormatReset(t time.Time) string {
	return t.UTC().Format(resetLayout)
}
