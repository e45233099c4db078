package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/site-pulse/internal/cache"
	"github.com/Proton-105/site-pulse/internal/domain"
	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/repository"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type mockSites struct {
	mock.Mock
}

func (m *mockSites) Create(ctx context.Context, site *domain.Site) error {
	return m.Called(ctx, site).Error(0)
}

func (m *mockSites) List(ctx context.Context, filter repository.SiteFilter) ([]domain.Site, error) {
	args := m.Called(ctx, filter)
	sites, _ := args.Get(0).([]domain.Site)
	return sites, args.Error(1)
}

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) Create(ctx context.Context, event *domain.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEvents) List(ctx context.Context, query repository.EventQuery) ([]domain.Event, error) {
	args := m.Called(ctx, query)
	events, _ := args.Get(0).([]domain.Event)
	return events, args.Error(1)
}

func (m *mockEvents) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func newTestService(sites *mockSites, events *mockEvents) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(sites, events, "https://pulse.example.com/", log, WithClock(func() time.Time { return fixedNow }))
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Status
}

func TestService_CollectAppliesDefaults(t *testing.T) {
	events := &mockEvents{}
	events.On("Create", mock.Anything, mock.MatchedBy(func(e *domain.Event) bool {
		return e.SiteID == "site-1" &&
			e.EventType == domain.EventTypePageview &&
			e.Page == "/" &&
			e.Timestamp.Equal(fixedNow) &&
			e.ExpiresAt.Equal(fixedNow.Add(30*24*time.Hour)) &&
			e.ID != ""
	})).Return(nil).Once()

	event, err := newTestService(&mockSites{}, events).Collect(context.Background(), CollectRequest{SiteID: " site-1 "})
	require.NoError(t, err)
	assert.Equal(t, "site-1", event.SiteID)
	events.AssertExpectations(t)
}

func TestService_CollectKeepsClientFields(t *testing.T) {
	ts := time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC)
	events := &mockEvents{}
	events.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	event, err := newTestService(&mockSites{}, events).Collect(context.Background(), CollectRequest{
		SiteID:    "site-1",
		EventType: "click",
		Page:      "/pricing",
		SessionID: "s-1",
		Timestamp: &ts,
	})
	require.NoError(t, err)
	assert.Equal(t, "click", event.EventType)
	assert.Equal(t, "/pricing", event.Page)
	assert.Equal(t, ts, event.Timestamp)
}

func TestService_CollectValidation(t *testing.T) {
	events := &mockEvents{}

	_, err := newTestService(&mockSites{}, events).Collect(context.Background(), CollectRequest{SiteID: "  "})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	assert.Equal(t, "siteId is required", err.Error())
	events.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestService_CollectStorageFailure(t *testing.T) {
	events := &mockEvents{}
	events.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	_, err := newTestService(&mockSites{}, events).Collect(context.Background(), CollectRequest{SiteID: "s"})
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
}

func TestService_RegisterSite(t *testing.T) {
	sites := &mockSites{}
	sites.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	site, err := newTestService(sites, &mockEvents{}).RegisterSite(context.Background(), RegisterSiteRequest{
		Name:       "Blog",
		Domain:     "blog.example.com",
		OwnerEmail: "owner@example.com",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, site.ID)
	assert.True(t, site.IsActive)
	assert.Equal(t, fixedNow, site.CreatedAt)
	assert.Equal(t, domain.DefaultSiteSettings(), site.Settings)
	assert.Contains(t, site.TrackingCode, "https://pulse.example.com/analytics.js?siteId="+site.ID)
	sites.AssertExpectations(t)
}

func TestService_RegisterSiteErrors(t *testing.T) {
	svc := newTestService(&mockSites{}, &mockEvents{})

	_, err := svc.RegisterSite(context.Background(), RegisterSiteRequest{Name: "Blog"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	assert.Equal(t, "name and domain are required", err.Error())

	_, err = svc.RegisterSite(context.Background(), RegisterSiteRequest{Name: "Blog", Domain: "b.example", OwnerEmail: "nope"})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
	assert.Equal(t, "ownerEmail is invalid", err.Error())

	sites := &mockSites{}
	sites.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicateSite).Once()
	_, err = newTestService(sites, &mockEvents{}).RegisterSite(context.Background(), RegisterSiteRequest{Name: "Blog", Domain: "b.example"})
	assert.Equal(t, http.StatusConflict, statusOf(t, err))
}

func TestService_ListSitesPaginates(t *testing.T) {
	sites := &mockSites{}
	sites.On("List", mock.Anything, repository.SiteFilter{OwnerEmail: "o@example.com", Limit: 3}).
		Return([]domain.Site{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil).Once()
	sites.On("List", mock.Anything, repository.SiteFilter{After: "b", Limit: 3}).
		Return([]domain.Site{{ID: "c"}}, nil).Once()

	svc := newTestService(sites, &mockEvents{})

	page, err := svc.ListSites(context.Background(), "o@example.com", 2, "")
	require.NoError(t, err)
	assert.Len(t, page.Sites, 2)
	assert.Equal(t, "b", page.LastKey)

	page, err = svc.ListSites(context.Background(), "", 2, "b")
	require.NoError(t, err)
	assert.Len(t, page.Sites, 1)
	assert.Empty(t, page.LastKey)
	sites.AssertExpectations(t)
}

func TestService_ListSitesDefaultLimit(t *testing.T) {
	sites := &mockSites{}
	sites.On("List", mock.Anything, repository.SiteFilter{Limit: DefaultSitesLimit + 1}).Return([]domain.Site{}, nil).Once()
	sites.On("List", mock.Anything, repository.SiteFilter{Limit: MaxSitesLimit + 1}).Return([]domain.Site{}, nil).Once()

	svc := newTestService(sites, &mockEvents{})
	_, err := svc.ListSites(context.Background(), "", 0, "")
	require.NoError(t, err)
	_, err = svc.ListSites(context.Background(), "", 10_000, "")
	require.NoError(t, err)
	sites.AssertExpectations(t)
}

func TestService_SiteStatsPeriods(t *testing.T) {
	testCases := []struct {
		period     string
		wantPeriod string
		wantDays   int
	}{
		{period: "1d", wantPeriod: "1d", wantDays: 1},
		{period: "30d", wantPeriod: "30d", wantDays: 30},
		{period: "90d", wantPeriod: "90d", wantDays: 90},
		{period: "", wantPeriod: "7d", wantDays: 7},
		{period: "1y", wantPeriod: "7d", wantDays: 7},
	}

	for _, tc := range testCases {
		t.Run(tc.period, func(t *testing.T) {
			events := &mockEvents{}
			events.On("List", mock.Anything, repository.EventQuery{
				SiteID: "s1",
				From:   fixedNow.AddDate(0, 0, -tc.wantDays),
				To:     fixedNow,
			}).Return([]domain.Event{{ID: "e1"}}, nil).Once()

			stats, err := newTestService(&mockSites{}, events).SiteStats(context.Background(), "s1", tc.period, "")
			require.NoError(t, err)
			assert.Equal(t, tc.wantPeriod, stats.Period)
			assert.Equal(t, "pageviews", stats.Metric)
			assert.Equal(t, 1, stats.Stats.TotalEvents)
			events.AssertExpectations(t)
		})
	}
}

func TestService_ReportDefaults(t *testing.T) {
	events := &mockEvents{}
	events.On("List", mock.Anything, repository.EventQuery{
		SiteID:    "s1",
		From:      fixedNow.AddDate(0, 0, -30),
		To:        fixedNow,
		EventType: domain.EventTypePageview,
	}).Return(nil, nil).Once()

	report, err := newTestService(&mockSites{}, events).Report(context.Background(), ReportQuery{SiteID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "day", report.GroupBy)
	assert.NotNil(t, report.Data)
	assert.Equal(t, domain.Summary{}, report.Summary)

	_, err = newTestService(&mockSites{}, events).Report(context.Background(), ReportQuery{
		SiteID: "s1",
		Start:  fixedNow,
		End:    fixedNow.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestService_ReportCachesExplicitRange(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	start := fixedNow.AddDate(0, 0, -7)
	events := &mockEvents{}
	events.On("List", mock.Anything, repository.EventQuery{
		SiteID:    "s1",
		From:      start,
		To:        fixedNow,
		EventType: domain.EventTypePageview,
	}).Return([]domain.Event{{ID: "e1", SiteID: "s1", Page: "/"}}, nil).Once()
	events.On("List", mock.Anything, mock.Anything).Return(nil, nil).Once()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(&mockSites{}, events, "https://pulse.example.com", log,
		WithClock(func() time.Time { return fixedNow }),
		WithReportCache(cache.NewJSON[Report](client, "report:"), time.Minute),
	)

	query := ReportQuery{SiteID: "s1", Start: start, End: fixedNow}
	first, err := svc.Report(context.Background(), query)
	require.NoError(t, err)
	second, err := svc.Report(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Len(t, second.Data, 1)

	// open-ended ranges bypass the cache
	_, err = svc.Report(context.Background(), ReportQuery{SiteID: "s1"})
	require.NoError(t, err)
	events.AssertNumberOfCalls(t, "List", 2)
}

func TestSummarize(t *testing.T) {
	events := []domain.Event{
		{Page: "/a", SessionID: "s1", Referrer: "https://news.example.org/x"},
		{Page: "/b", SessionID: "s1"},
		{Page: "/b", IP: "10.0.0.1", Referrer: "https://search.example.com/?q=1"},
		{Page: "/a", IP: "10.0.0.2", Referrer: "https://news.example.org/y"},
		{Page: "", IP: "10.0.0.1", Referrer: "::not a url"},
	}

	summary := Summarize(events)
	assert.Equal(t, 5, summary.TotalPageviews)
	assert.Equal(t, 3, summary.TotalUniqueVisitors)
	assert.InDelta(t, 0.17, summary.AveragePageviewsPerDay, 0.0001)
	require.NotNil(t, summary.TopPage)
	assert.Equal(t, "/a", *summary.TopPage)
	require.NotNil(t, summary.TopReferrer)
	assert.Equal(t, "news.example.org", *summary.TopReferrer)
}

func TestSummarize_NoReferrers(t *testing.T) {
	summary := Summarize([]domain.Event{{Page: "/"}})
	assert.Nil(t, summary.TopReferrer)
	assert.Equal(t, "/", *summary.TopPage)
	assert.Equal(t, 1, summary.TotalUniqueVisitors)
}

func TestTrackingScriptEscapesSiteID(t *testing.T) {
	script, err := TrackingScript("https://pulse.example.com/", "abc'</script>")
	require.NoError(t, err)
	assert.Contains(t, script, "apiUrl: 'https://pulse.example.com/api/events'")
	assert.NotContains(t, script, "abc'</script>")
	assert.True(t, strings.HasPrefix(script, "(function()"))
}
