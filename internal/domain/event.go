package domain

import "time"

// EventTypePageview is the default event type.
const EventTypePageview = "pageview"

// Event is a single tracked interaction on a site.
type Event struct {
	ID        string    `json:"eventId"`
	SiteID    string    `json:"siteId"`
	EventType string    `json:"eventType"`
	Page      string    `json:"page"`
	Referrer  string    `json:"referrer,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Summary aggregates a set of events.
type Summary struct {
	TotalPageviews         int     `json:"totalPageviews"`
	TotalUniqueVisitors    int     `json:"totalUniqueVisitors"`
	AveragePageviewsPerDay float64 `json:"averagePageviewsPerDay"`
	TopPage                *string `json:"topPage"`
	TopReferrer            *string `json:"topReferrer"`
}

// DateRange is an inclusive time interval.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
