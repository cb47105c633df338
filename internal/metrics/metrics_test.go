package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchesTotal == nil || alertsTotal == nil || cyclesTotal == nil || domainRate == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveFetch("https://Metrics-Test.example/p", "ok")
	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics-test.example", "ok")); val != 1 {
		t.Errorf("expected one fetch observation, got %f", val)
	}

	ObserveThrottle("throttle-test.example", 2.5)
	if val := testutil.ToFloat64(throttleEventsTotal.WithLabelValues("throttle-test.example")); val != 1 {
		t.Errorf("expected one throttle event, got %f", val)
	}
	if val := testutil.ToFloat64(domainRate.WithLabelValues("throttle-test.example")); val != 2.5 {
		t.Errorf("expected domain rate 2.5, got %f", val)
	}

	before := testutil.ToFloat64(cyclesTotal.WithLabelValues("timed_out"))
	ObserveCycle(time.Second, true)
	if val := testutil.ToFloat64(cyclesTotal.WithLabelValues("timed_out")); val != before+1 {
		t.Errorf("expected timed out cycle counter to increase, got %f", val)
	}

	ObserveAlert("metrics_test_kind")
	if val := testutil.ToFloat64(alertsTotal.WithLabelValues("metrics_test_kind")); val != 1 {
		t.Errorf("expected one alert, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
