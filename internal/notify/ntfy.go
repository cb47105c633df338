package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Default ntfy headers.
const (
	DefaultTitle = "Price Alert"
	DefaultTags  = "warning"
)

// NtfyConfig configures the ntfy transport.
type NtfyConfig struct {
	URL     string
	Title   string
	Tags    string
	Timeout time.Duration
}

// Ntfy posts the alert message as a plain-text body to an ntfy topic URL.
type Ntfy struct {
	cfg    NtfyConfig
	client *http.Client
}

// NewNtfy builds an ntfy notifier. A nil client gets one with cfg.Timeout.
func NewNtfy(cfg NtfyConfig, client *http.Client) (*Ntfy, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ntfy url is required")
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Tags == "" {
		cfg.Tags = DefaultTags
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Ntfy{cfg: cfg, client: client}, nil
}

// Send posts alert.Message() with the Title and Tags headers.
func (n *Ntfy) Send(ctx context.Context, alert tracker.Alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, strings.NewReader(alert.Message()))
	if err != nil {
		return tracker.NotificationError(alert.URL, fmt.Errorf("build ntfy request: %w", err))
	}
	req.Header.Set("Title", n.cfg.Title)
	req.Header.Set("Tags", n.cfg.Tags)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := n.client.Do(req)
	if err != nil {
		return tracker.NotificationError(alert.URL, fmt.Errorf("post ntfy: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // body drained below
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tracker.NotificationError(alert.URL, fmt.Errorf("ntfy returned status %d", resp.StatusCode))
	}
	return nil
}
