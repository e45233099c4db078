package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DefaultRetentionDays is how long collected events are kept.
const DefaultRetentionDays = 30

// Site is a website registered for tracking.
type Site struct {
	ID           string       `json:"siteId"`
	Name         string       `json:"name"`
	Domain       string       `json:"domain"`
	Description  string       `json:"description"`
	OwnerEmail   string       `json:"ownerEmail"`
	TrackingCode string       `json:"trackingCode"`
	Settings     SiteSettings `json:"settings"`
	IsActive     bool         `json:"isActive"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// SiteSettings controls what the tracking script reports for a site.
type SiteSettings struct {
	TrackPageviews    bool `json:"trackPageviews"`
	TrackEvents       bool `json:"trackEvents"`
	TrackReferrers    bool `json:"trackReferrers"`
	TrackUserAgents   bool `json:"trackUserAgents"`
	TrackIPs          bool `json:"trackIPs"`
	DataRetentionDays int  `json:"dataRetentionDays"`
}

// DefaultSiteSettings returns the settings applied to newly registered sites.
func DefaultSiteSettings() SiteSettings {
	return SiteSettings{
		TrackPageviews:    true,
		TrackEvents:       true,
		TrackReferrers:    true,
		TrackUserAgents:   true,
		TrackIPs:          false,
		DataRetentionDays: DefaultRetentionDays,
	}
}

// Value stores settings as JSONB.
func (s SiteSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan decodes settings from a JSONB column.
func (s *SiteSettings) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = SiteSettings{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported site settings column type")
	}
}
