// Package analytics implements event collection, site registration and reporting.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Proton-105/site-pulse/internal/domain"
	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/repository"
)

const (
	DefaultSitesLimit = 50
	MaxSitesLimit     = 500

	defaultPeriod    = "7d"
	defaultMetric    = "pageviews"
	defaultGroupBy   = "day"
	summaryDays      = 30
	defaultRangeDays = 30
)

var periods = map[string]int{
	"1d":  1,
	"7d":  7,
	"30d": 30,
	"90d": 90,
}

// CollectRequest is the payload posted by the tracking script.
type CollectRequest struct {
	SiteID    string     `json:"siteId" validate:"required"`
	EventType string     `json:"eventType"`
	Page      string     `json:"page"`
	Referrer  string     `json:"referrer"`
	UserAgent string     `json:"userAgent"`
	IP        string     `json:"ip"`
	SessionID string     `json:"sessionId"`
	Timestamp *time.Time `json:"timestamp"`
}

// RegisterSiteRequest is the payload for registering a site.
type RegisterSiteRequest struct {
	Name        string `json:"name" validate:"required"`
	Domain      string `json:"domain" validate:"required"`
	Description string `json:"description"`
	OwnerEmail  string `json:"ownerEmail" validate:"omitempty,email"`
}

// SitePage is one page of a site listing. LastKey is empty on the last page.
type SitePage struct {
	Sites   []domain.Site
	LastKey string
}

// SiteStats lists a site's events over a named period.
type SiteStats struct {
	SiteID    string           `json:"siteId"`
	Period    string           `json:"period"`
	Metric    string           `json:"metric"`
	DateRange domain.DateRange `json:"dateRange"`
	Stats     struct {
		TotalEvents int            `json:"totalEvents"`
		Events      []domain.Event `json:"events"`
	} `json:"stats"`
}

// ReportQuery selects the events summarized by Report. Zero times fall back to the last 30 days.
type ReportQuery struct {
	SiteID    string
	Start     time.Time
	End       time.Time
	EventType string
	GroupBy   string
}

// Report is a summary plus the raw events it was computed from.
type Report struct {
	Summary   domain.Summary   `json:"summary"`
	Data      []domain.Event   `json:"data"`
	DateRange domain.DateRange `json:"dateRange"`
	GroupBy   string           `json:"groupBy"`
}

// ReportCache stores computed reports. *cache.JSON[Report] implements it.
type ReportCache interface {
	Get(ctx context.Context, key string) (*Report, error)
	Set(ctx context.Context, key string, report *Report, ttl time.Duration) error
}

// Service provides business operations over sites and events.
type Service struct {
	sites     repository.SiteRepository
	events    repository.EventRepository
	validate  *validator.Validate
	log       *slog.Logger
	now       func() time.Time
	publicURL string
	retention time.Duration
	reports   ReportCache
	reportTTL time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetention sets how long collected events are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithReportCache caches reports whose start and end were both given explicitly.
// Open-ended ranges move with the clock and are always computed.
func WithReportCache(c ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil && ttl > 0 {
			s.reports = c
			s.reportTTL = ttl
		}
	}
}

// NewService constructs a new Service instance. publicURL is the externally reachable
// base URL embedded in tracking snippets.
func NewService(sites repository.SiteRepository, events repository.EventRepository, publicURL string, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	s := &Service{
		sites:     sites,
		events:    events,
		validate:  validate,
		log:       log,
		now:       time.Now,
		publicURL: strings.TrimRight(publicURL, "/"),
		retention: domain.DefaultRetentionDays * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collect validates and stores a tracked event.
func (s *Service) Collect(ctx context.Context, req CollectRequest) (*domain.Event, error) {
	req.SiteID = strings.TrimSpace(req.SiteID)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError(validationMessage(err))
	}

	now := s.now().UTC()
	event := &domain.Event{
		ID:        uuid.NewString(),
		SiteID:    req.SiteID,
		EventType: lo.Ternary(req.EventType == "", domain.EventTypePageview, req.EventType),
		Page:      lo.Ternary(req.Page == "", "/", req.Page),
		Referrer:  req.Referrer,
		UserAgent: req.UserAgent,
		IP:        req.IP,
		SessionID: req.SessionID,
		Timestamp: now,
		ExpiresAt: now.Add(s.retention),
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		event.Timestamp = req.Timestamp.UTC()
	}

	if err := s.events.Create(ctx, event); err != nil {
		s.logError("collect", req.SiteID, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	return event, nil
}

// RegisterSite creates a site with default settings and its tracking snippet.
func (s *Service) RegisterSite(ctx context.Context, req RegisterSiteRequest) (*domain.Site, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Domain = strings.TrimSpace(req.Domain)
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Tag() == "required" {
			return nil, apperrors.NewValidationError("name and domain are required")
		}
		return nil, apperrors.NewValidationError(validationMessage(err))
	}

	site := &domain.Site{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Domain:      req.Domain,
		Description: req.Description,
		OwnerEmail:  req.OwnerEmail,
		Settings:    domain.DefaultSiteSettings(),
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
	}

	code, err := TrackingCode(s.publicURL, site.ID)
	if err != nil {
		return nil, fmt.Errorf("render tracking code: %w", err)
	}
	site.TrackingCode = code

	if err := s.sites.Create(ctx, site); err != nil {
		if errors.Is(err, repository.ErrDuplicateSite) {
			return nil, apperrors.NewConflictError("site")
		}
		s.logError("register_site", site.ID, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	return site, nil
}

// ListSites pages through registered sites, optionally filtered by owner.
func (s *Service) ListSites(ctx context.Context, ownerEmail string, limit int, lastKey string) (*SitePage, error) {
	limit = clampLimit(limit)

	sites, err := s.sites.List(ctx, repository.SiteFilter{
		OwnerEmail: strings.TrimSpace(ownerEmail),
		After:      strings.TrimSpace(lastKey),
		Limit:      limit + 1,
	})
	if err != nil {
		s.logError("list_sites", "", err)
		return nil, apperrors.NewDatabaseError(err)
	}

	page := &SitePage{Sites: sites}
	if len(sites) > limit {
		page.Sites = sites[:limit]
		page.LastKey = page.Sites[limit-1].ID
	}
	return page, nil
}

// SiteStats returns a site's events over period (1d, 7d, 30d or 90d). Unknown periods use 7d.
func (s *Service) SiteStats(ctx context.Context, siteID, period, metric string) (*SiteStats, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, apperrors.NewValidationError("siteId is required")
	}

	days, ok := periods[period]
	if !ok {
		period, days = defaultPeriod, periods[defaultPeriod]
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)

	events, err := s.events.List(ctx, repository.EventQuery{SiteID: siteID, From: start, To: end})
	if err != nil {
		s.logError("site_stats", siteID, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	stats := &SiteStats{
		SiteID:    siteID,
		Period:    period,
		Metric:    lo.Ternary(metric == "", defaultMetric, metric),
		DateRange: domain.DateRange{Start: start, End: end},
	}
	stats.Stats.TotalEvents = len(events)
	stats.Stats.Events = lo.Ternary(events == nil, []domain.Event{}, events)

	return stats, nil
}

// Report summarizes a site's events of one type over a date range.
func (s *Service) Report(ctx context.Context, q ReportQuery) (*Report, error) {
	q.SiteID = strings.TrimSpace(q.SiteID)
	if q.SiteID == "" {
		return nil, apperrors.NewValidationError("siteId is required")
	}

	end := lo.Ternary(q.End.IsZero(), s.now().UTC(), q.End.UTC())
	start := lo.Ternary(q.Start.IsZero(), end.AddDate(0, 0, -defaultRangeDays), q.Start.UTC())
	if start.After(end) {
		return nil, apperrors.NewValidationError("startDate must not be after endDate")
	}

	eventType := lo.Ternary(q.EventType == "", domain.EventTypePageview, q.EventType)
	groupBy := lo.Ternary(q.GroupBy == "", defaultGroupBy, q.GroupBy)

	var key string
	if s.reports != nil && !q.Start.IsZero() && !q.End.IsZero() {
		key = reportKey(q.SiteID, eventType, groupBy, start, end)
		cached, err := s.reports.Get(ctx, key)
		if err != nil {
			s.log.Warn("report cache read failed", slog.String("site_id", q.SiteID), slog.Any("error", err))
		} else if cached != nil {
			return cached, nil
		}
	}

	events, err := s.events.List(ctx, repository.EventQuery{
		SiteID:    q.SiteID,
		From:      start,
		To:        end,
		EventType: eventType,
	})
	if err != nil {
		s.logError("report", q.SiteID, err)
		return nil, apperrors.NewDatabaseError(err)
	}

	report := &Report{
		Summary:   Summarize(events),
		Data:      lo.Ternary(events == nil, []domain.Event{}, events),
		DateRange: domain.DateRange{Start: start, End: end},
		GroupBy:   groupBy,
	}

	if key != "" {
		if err := s.reports.Set(ctx, key, report, s.reportTTL); err != nil {
			s.log.Warn("report cache write failed", slog.String("site_id", q.SiteID), slog.Any("error", err))
		}
	}

	return report, nil
}

func reportKey(siteID, eventType, groupBy string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", siteID, eventType, groupBy, start.UnixMilli(), end.UnixMilli())
}

// Summarize computes totals over events. Visitors are distinguished by session id,
// falling back to IP. The per-day average always divides by 30.
func Summarize(events []domain.Event) domain.Summary {
	if len(events) == 0 {
		return domain.Summary{}
	}

	visitors := lo.UniqBy(events, func(e domain.Event) string {
		return lo.Ternary(e.SessionID != "", e.SessionID, e.IP)
	})

	pages := lo.Map(events, func(e domain.Event, _ int) string {
		return lo.Ternary(e.Page == "", "/", e.Page)
	})

	referrers := lo.FilterMap(events, func(e domain.Event, _ int) (string, bool) {
		if e.Referrer == "" {
			return "", false
		}
		u, err := url.Parse(e.Referrer)
		if err != nil || u.Hostname() == "" {
			return "", false
		}
		return u.Hostname(), true
	})

	avg := float64(len(events)) / summaryDays

	return domain.Summary{
		TotalPageviews:         len(events),
		TotalUniqueVisitors:    len(visitors),
		AveragePageviewsPerDay: math.Round(avg*100) / 100,
		TopPage:                mostFrequent(pages),
		TopReferrer:            mostFrequent(referrers),
	}
}

// mostFrequent returns the most common value; ties go to the value seen first.
func mostFrequent(values []string) *string {
	if len(values) == 0 {
		return nil
	}

	counts := lo.CountValues(values)
	top := lo.MaxBy(lo.Uniq(values), func(a, b string) bool {
		return counts[a] > counts[b]
	})
	return &top
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSitesLimit
	case limit > MaxSitesLimit:
		return MaxSitesLimit
	default:
		return limit
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	fe := verrs[0]
	if fe.Tag() == "required" {
		return fe.Field() + " is required"
	}
	return fe.Field() + " is invalid"
}

func (s *Service) logError(op, siteID string, err error) {
	s.log.Error("analytics operation failed",
		slog.String("op", op),
		slog.String("site_id", siteID),
		slog.Any("error", err),
	)
}
