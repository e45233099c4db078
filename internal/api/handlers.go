// Package api exposes the analytics service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Proton-105/site-pulse/internal/analytics"
	"github.com/Proton-105/site-pulse/internal/domain"
	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/middleware"
)

const maxBodyBytes = 64 << 10

// Analytics is the service surface the handlers depend on.
type Analytics interface {
	Collect(ctx context.Context, req analytics.CollectRequest) (*domain.Event, error)
	RegisterSite(ctx context.Context, req analytics.RegisterSiteRequest) (*domain.Site, error)
	ListSites(ctx context.Context, ownerEmail string, limit int, lastKey string) (*analytics.SitePage, error)
	SiteStats(ctx context.Context, siteID, period, metric string) (*analytics.SiteStats, error)
	Report(ctx context.Context, q analytics.ReportQuery) (*analytics.Report, error)
	Script(siteID string) (string, error)
}

// Handlers serves the public analytics endpoints.
type Handlers struct {
	svc               Analytics
	errs              *apperrors.Handler
	log               *slog.Logger
	trustForwardedFor bool
}

// HandlersOption customizes Handlers.
type HandlersOption func(*Handlers)

// WithForwardedClientIP records the X-Forwarded-For client address on collected events.
func WithForwardedClientIP(trust bool) HandlersOption {
	return func(h *Handlers) {
		h.trustForwardedFor = trust
	}
}

// NewHandlers wires the handlers to svc. Errors are rendered through errs.
func NewHandlers(svc Analytics, errs *apperrors.Handler, log *slog.Logger, opts ...HandlersOption) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	if errs == nil {
		errs = apperrors.NewHandler(log, false)
	}

	h := &Handlers{svc: svc, errs: errs, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type collectResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId"`
	Message string `json:"message"`
}

// CollectEvent stores an event posted as JSON by the tracking script.
func (h *Handlers) CollectEvent(w http.ResponseWriter, r *http.Request) {
	var req analytics.CollectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}
	if req.IP == "" {
		req.IP = middleware.ClientIP(r, h.trustForwardedFor)
	}

	h.collect(w, r, req)
}

// CollectPixel stores an event described by query parameters, for clients without JavaScript.
func (h *Handlers) CollectPixel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := analytics.CollectRequest{
		SiteID:    q.Get("siteId"),
		EventType: q.Get("eventType"),
		Page:      q.Get("page"),
		Referrer:  r.Referer(),
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r, h.trustForwardedFor),
	}

	h.collect(w, r, req)
}

func (h *Handlers) collect(w http.ResponseWriter, r *http.Request, req analytics.CollectRequest) {
	event, err := h.svc.Collect(r.Context(), req)
	if err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, collectResponse{
		Success: true,
		EventID: event.ID,
		Message: "Event collected successfully",
	})
}

type registerResponse struct {
	Success bool         `json:"success"`
	Site    *domain.Site `json:"site"`
	Message string       `json:"message"`
}

// RegisterSite creates a tracked site.
func (h *Handlers) RegisterSite(w http.ResponseWriter, r *http.Request) {
	var req analytics.RegisterSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	site, err := h.svc.RegisterSite(r.Context(), req)
	if err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Success: true,
		Site:    site,
		Message: "Site registered successfully",
	})
}

type listSitesResponse struct {
	Sites   []domain.Site `json:"sites"`
	Count   int           `json:"count"`
	LastKey *string       `json:"lastKey"`
}

// ListSites pages through registered sites.
func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.errs.WriteJSON(w, r, apperrors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	page, err := h.svc.ListSites(r.Context(), q.Get("ownerEmail"), limit, q.Get("lastKey"))
	if err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	resp := listSitesResponse{Sites: page.Sites, Count: len(page.Sites)}
	if resp.Sites == nil {
		resp.Sites = []domain.Site{}
	}
	if page.LastKey != "" {
		resp.LastKey = &page.LastKey
	}
	writeJSON(w, http.StatusOK, resp)
}

// SiteStats lists a site's events over a named period.
func (h *Handlers) SiteStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stats, err := h.svc.SiteStats(r.Context(), r.PathValue("siteId"), q.Get("period"), q.Get("metric"))
	if err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Analytics returns the summary report for a site.
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := parseDate(q.Get("startDate"))
	if err != nil {
		h.errs.WriteJSON(w, r, apperrors.NewValidationError("startDate must be an ISO-8601 date"))
		return
	}
	end, err := parseDate(q.Get("endDate"))
	if err != nil {
		h.errs.WriteJSON(w, r, apperrors.NewValidationError("endDate must be an ISO-8601 date"))
		return
	}

	report, err := h.svc.Report(r.Context(), analytics.ReportQuery{
		SiteID:    q.Get("siteId"),
		Start:     start,
		End:       end,
		EventType: q.Get("eventType"),
		GroupBy:   q.Get("groupBy"),
	})
	if err != nil {
		h.errs.WriteJSON(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Script serves the tracking JavaScript for a site.
func (h *Handlers) Script(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript")

	siteID := strings.TrimSpace(r.URL.Query().Get("siteId"))
	if siteID == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`console.error("Analytics: siteId is required");`))
		return
	}

	script, err := h.svc.Script(siteID)
	if err != nil {
		h.log.Error("failed to render tracking script", slog.String("site_id", siteID), slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`console.error("Analytics: Failed to load tracking script");`))
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.NewValidationError("request body too large")
		}
		return apperrors.NewValidationError("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// parseDate accepts RFC 3339 timestamps or plain dates. Empty input yields the zero time.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, value)
}
