package tracker

import (
	"context"
	"io"
	"time"
)

// Strategy turns a URL into a normalized observation.
type Strategy interface {
	Fetch(ctx context.Context, request FetchRequest) (Observation, error)
}

// ThrottleReporter receives remote rate-limiting signals for a domain.
type ThrottleReporter interface {
	ReportThrottled(domain string)
}

// PageLoader performs the network part of a fetch.
type PageLoader interface {
	Load(ctx context.Context, request PageRequest) (Page, error)
}

// Store persists current records, price history and the alert ledger.
type Store interface {
	GetCurrent(ctx context.Context, url string) (Record, bool, error)
	// Commit upserts the current record and appends to history atomically.
	Commit(ctx context.Context, productName string, obs Observation) error
	History(ctx context.Context, url string, limit int) ([]Record, error)
	LastAlert(ctx context.Context, url string, kind AlertKind) (string, bool, error)
	SaveAlert(ctx context.Context, url string, kind AlertKind, fingerprint string, at time.Time) error
	ClearAlert(ctx context.Context, url string, kind AlertKind) error
	Close() error
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for alert fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
