// Package notify delivers alerts raised by the change detector.
//
// Every transport implements tracker.Notifier. Delivery failures come back
// as tracker.NotificationError values; callers log and count them but never
// let them fail a cycle.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Log writes alerts to a zap logger. It never fails.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Send logs the alert.
func (l *Log) Send(_ context.Context, alert tracker.Alert) error {
	l.logger.Info("price alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("product", alert.ProductName),
		zap.String("url", alert.URL),
		zap.String("old_price", alert.OldPrice.String()),
		zap.String("new_price", alert.NewPrice.String()),
		zap.String("message", alert.Message()),
	)
	return nil
}

// Memory records alerts for inspection.
type Memory struct {
	mu     sync.Mutex
	alerts []tracker.Alert
	err    error
}

// NewMemory returns an empty recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// SetError makes Send fail with err until reset with nil.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send records alert or returns the configured error.
func (m *Memory) Send(_ context.Context, alert tracker.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return tracker.NotificationError(alert.URL, m.err)
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (m *Memory) Alerts() []tracker.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tracker.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Discard drops every alert.
type Discard struct{}

// Send does nothing.
func (Discard) Send(context.Context, tracker.Alert) error { return nil }
