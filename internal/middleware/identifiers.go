package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
)

const (
	unknownClientIP     = "unknown"
	siteIDParam         = "siteId"
	defaultMaxBodyBytes = 64 << 10
)

// ClientIP returns the caller address. With trustForwardedFor the first entry of
// X-Forwarded-For wins; otherwise the connection's remote host is used.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err == nil && host != "" {
		return host
	}
	if remote != "" {
		return remote
	}
	return unknownClientIP
}

// SiteID looks for the site identifier in the query string, the route path and finally
// a JSON body. The body is restored so the wrapped handler can still read it.
func SiteID(r *http.Request, maxBodyBytes int64) string {
	if id := strings.TrimSpace(r.URL.Query().Get(siteIDParam)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.PathValue(siteIDParam)); id != "" {
		return id
	}
	return siteIDFromBody(r, maxBodyBytes)
}

func siteIDFromBody(r *http.Request, maxBodyBytes int64) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return ""
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	if err != nil || int64(len(buf)) > maxBodyBytes {
		return ""
	}

	// sendBeacon posts JSON as text/plain, so the content type is not checked.
	var payload struct {
		SiteID string `json:"siteId"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf), &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.SiteID)
}

type readCloser struct {
	io.Reader
	io.Closer
}
