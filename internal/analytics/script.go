package analytics

import (
	"strings"
	"text/template"
)

var trackingScript = template.Must(template.New("analytics.js").Parse(`(function() {
  'use strict';

  var config = {
    siteId: '{{js .SiteID}}',
    apiUrl: '{{js .BaseURL}}/api/events',
    debug: false,
    respectDoNotTrack: true
  };

  if (config.respectDoNotTrack && navigator.doNotTrack === '1') {
    return;
  }

  var sessionId = getSessionId();

  function trackPageView() {
    sendEvent({
      siteId: config.siteId,
      eventType: 'pageview',
      page: window.location.pathname + window.location.search,
      referrer: document.referrer || null,
      userAgent: navigator.userAgent,
      timestamp: new Date().toISOString(),
      sessionId: sessionId
    });
  }

  function trackEvent(eventType, data) {
    var payload = data || {};
    payload.siteId = config.siteId;
    payload.eventType = eventType;
    payload.page = window.location.pathname + window.location.search;
    payload.timestamp = new Date().toISOString();
    payload.sessionId = sessionId;
    sendEvent(payload);
  }

  function sendEvent(data) {
    if (config.debug) {
      console.log('Analytics Event:', data);
    }

    if (navigator.sendBeacon) {
      navigator.sendBeacon(config.apiUrl, JSON.stringify(data));
      return;
    }

    fetch(config.apiUrl, {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      body: JSON.stringify(data),
      keepalive: true
    }).catch(function(error) {
      if (config.debug) {
        console.error('Analytics Error:', error);
      }
    });
  }

  function getSessionId() {
    var key = 'analytics_session_' + config.siteId;
    var id = sessionStorage.getItem(key);
    if (!id) {
      id = 'xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx'.replace(/[xy]/g, function(c) {
        var r = Math.random() * 16 | 0;
        var v = c == 'x' ? r : (r & 0x3 | 0x8);
        return v.toString(16);
      });
      sessionStorage.setItem(key, id);
    }
    return id;
  }

  function init() {
    trackPageView();
    window.addEventListener('beforeunload', trackPageView);
  }

  window.analytics = { track: trackEvent, trackPageView: trackPageView };

  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', init);
  } else {
    init();
  }
})();
`))

var trackingCode = template.Must(template.New("tracking-code").Parse(`<!-- site-pulse analytics -->
<script>
(function() {
  var script = document.createElement('script');
  script.async = true;
  script.src = '{{js .BaseURL}}/analytics.js?siteId={{urlquery .SiteID}}';
  document.head.appendChild(script);
})();
</script>
<noscript>
  <img src="{{.BaseURL}}/api/events?siteId={{urlquery .SiteID}}&eventType=pageview" style="display:none;" />
</noscript>
<!-- end site-pulse analytics -->`))

type scriptData struct {
	SiteID  string
	BaseURL string
}

// TrackingScript renders the JavaScript served at /analytics.js for siteID.
func TrackingScript(baseURL, siteID string) (string, error) {
	return render(trackingScript, baseURL, siteID)
}

// TrackingCode renders the HTML snippet a site owner embeds in their pages.
func TrackingCode(baseURL, siteID string) (string, error) {
	return render(trackingCode, baseURL, siteID)
}

func render(tmpl *template.Template, baseURL, siteID string) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, scriptData{SiteID: siteID, BaseURL: strings.TrimRight(baseURL, "/")}); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Script renders the tracking script for siteID using the service's public URL.
func (s *Service) Script(siteID string) (string, error) {
	return TrackingScript(s.publicURL, strings.TrimSpace(siteID))
}
