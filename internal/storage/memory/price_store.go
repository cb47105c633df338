package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

type ledgerKey struct {
	url  string
	kind tracker.AlertKind
}

// PriceStore is an in-memory tracker.Store for development and tests.
type PriceStore struct {
	mu      sync.RWMutex
	current map[string]tracker.Record
	history map[string][]tracker.Record
	ledger  map[ledgerKey]string
	commits int
}

// NewPriceStore constructs an empty PriceStore.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		current: make(map[string]tracker.Record),
		history: make(map[string][]tracker.Record),
		ledger:  make(map[ledgerKey]string),
	}
}

// GetCurrent returns the current record of url.
func (s *PriceStore) GetCurrent(_ context.Context, url string) (tracker.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.current[url]
	return rec, ok, nil
}

// Commit replaces the current record and appends to the history.
func (s *PriceStore) Commit(_ context.Context, productName string, obs tracker.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := tracker.Record{ProductName: productName, Observation: obs}
	s.current[obs.URL] = rec
	s.history[obs.URL] = append(s.history[obs.URL], rec)
	s.commits++
	return nil
}

// History returns up to limit records of url, newest first.
func (s *PriceStore) History(_ context.Context, url string, limit int) ([]tracker.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.history[url]
	out := make([]tracker.Record, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, rows[i])
	}
	return out, nil
}

// LastAlert returns the fingerprint of the last alert of kind for url.
func (s *PriceStore) LastAlert(_ context.Context, url string, kind tracker.AlertKind) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.ledger[ledgerKey{url: url, kind: kind}]
	return fp, ok, nil
}

// SaveAlert records the fingerprint of a delivered alert.
func (s *PriceStore) SaveAlert(_ context.Context, url string, kind tracker.AlertKind, fingerprint string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[ledgerKey{url: url, kind: kind}] = fingerprint
	return nil
}

// ClearAlert forgets the alert of kind for url.
func (s *PriceStore) ClearAlert(_ context.Context, url string, kind tracker.AlertKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, ledgerKey{url: url, kind: kind})
	return nil
}

// Commits reports how many observations were committed.
func (s *PriceStore) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Close is a no-op.
func (s *PriceStore) Close() error {
	return nil
}
