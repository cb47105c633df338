package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// PubSub publishes alerts as JSON to a topic.
type PubSub struct {
	publisher tracker.Publisher
	topic     string
}

// NewPubSub returns a notifier publishing to topic.
func NewPubSub(publisher tracker.Publisher, topic string) (*PubSub, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &PubSub{publisher: publisher, topic: topic}, nil
}

// Send publishes alert.
func (p *PubSub) Send(ctx context.Context, alert tracker.Alert) error {
	if _, err := p.publisher.Publish(ctx, p.topic, alert); err != nil {
		return tracker.NotificationError(alert.URL, fmt.Errorf("publish alert: %w", err))
	}
	return nil
}
