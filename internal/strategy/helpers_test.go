package strategy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return testNow }

// stubLoader returns a canned page and records the requests it served.
type stubLoader struct {
	mu       sync.Mutex
	page     tracker.Page
	err      error
	requests []tracker.PageRequest
}

func (s *stubLoader) Load(_ context.Context, request tracker.PageRequest) (tracker.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, request)
	if s.err != nil {
		return tracker.Page{}, s.err
	}
	page := s.page
	page.URL = request.URL
	return page, nil
}

func htmlPage(status int, body string) tracker.Page {
	return tracker.Page{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

type throttleRecorder struct {
	mu      sync.Mutex
	domains []string
}

func (r *throttleRecorder) ReportThrottled(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = append(r.domains, domain)
}

type blobRecorder struct {
	paths []string
	data  [][]byte
}

func (b *blobRecorder) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return "", err
	}
	b.paths = append(b.paths, path)
	b.data = append(b.data, buf.Bytes())
	return "memory://" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(_ []byte) (string, error) { return "0123456789abcdef0123", nil }
