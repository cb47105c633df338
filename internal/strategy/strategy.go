// Package strategy turns product URLs into observations. The API variant
// reads a JSON endpoint with basic auth; the scrape variant parses HTML with
// CSS selectors. Both share status and error classification.
package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultThrottleMarkers are body fragments that signal soft throttling.
var DefaultThrottleMarkers = []string{"too many requests"}

// Set dispatches a fetch to the strategy of the site's category.
type Set struct {
	api    tracker.Strategy
	scrape tracker.Strategy
}

// NewSet builds the dispatcher over the two variants.
func NewSet(api, scrape tracker.Strategy) *Set {
	return &Set{api: api, scrape: scrape}
}

// Fetch implements tracker.Strategy.
func (s *Set) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.Observation, error) {
	var impl tracker.Strategy
	switch request.Site.Category {
	case tracker.CategoryAPI:
		impl = s.api
	case tracker.CategoryScrape:
		impl = s.scrape
	}
	if impl == nil {
		return tracker.Observation{}, tracker.ConfigurationError(tracker.KindNotConfigured, request.URL,
			fmt.Errorf("no strategy for category %q", request.Site.Category))
	}
	return impl.Fetch(ctx, request)
}

// classifyLoadError maps a PageLoader failure onto the error taxonomy.
// Cancellation of the caller's context is passed through untyped so the
// engine can report the URL as cancelled instead of failed.
func classifyLoadError(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("fetch %s: %w", url, ctxErr)
	}
	var typed *tracker.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return tracker.ConfigurationError(tracker.KindRobotsDisallowed, url, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return tracker.TransientError(tracker.KindTimeout, url, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return tracker.TransientError(tracker.KindTimeout, url, err)
	}
	return tracker.TransientError(tracker.KindNetwork, url, err)
}

// checkStatus classifies non-2xx responses. 429 is reported to the
// throttle reporter before the retryable error is returned. 401 and 403 are
// auth failures only for requests that carried credentials.
func checkStatus(request tracker.FetchRequest, page tracker.Page, authenticated bool) error {
	status := page.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	case authenticated && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		return tracker.ConfigurationError(tracker.KindAuth, request.URL, fmt.Errorf("status %d", status))
	case status == http.StatusTooManyRequests:
		return throttled(request, fmt.Errorf("status %d", status))
	case status >= 500:
		return tracker.TransientError(tracker.KindServerError, request.URL, fmt.Errorf("status %d", status))
	default:
		return tracker.ConfigurationError(tracker.KindHTTPStatus, request.URL, fmt.Errorf("status %d", status))
	}
}

func throttled(request tracker.FetchRequest, cause error) error {
	if request.Throttle != nil {
		request.Throttle.ReportThrottled(request.Domain)
	}
	return tracker.TransientError(tracker.KindThrottled, request.URL, cause)
}

// hasThrottleMarker reports whether body contains any marker, ignoring case.
func hasThrottleMarker(markers []string, body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if bytes.Contains(lower, bytes.ToLower([]byte(marker))) {
			return true
		}
	}
	return false
}
