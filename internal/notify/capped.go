package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// DefaultPerMinute is the default notification cap.
const DefaultPerMinute = 50

// Capped forwards at most perMinute alerts per minute to the next notifier.
// Alerts above the cap are dropped with a warning, not reported as failures.
type Capped struct {
	next    tracker.Notifier
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCapped wraps next. perMinute <= 0 uses DefaultPerMinute.
func NewCapped(next tracker.Notifier, perMinute int, logger *zap.Logger) *Capped {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capped{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger,
	}
}

// Send forwards alert when the cap allows it.
func (c *Capped) Send(ctx context.Context, alert tracker.Alert) error {
	if !c.limiter.Allow() {
		metrics.ObserveNotificationDropped()
		c.logger.Warn("notification cap reached, dropping alert",
			zap.String("kind", string(alert.Kind)),
			zap.String("url", alert.URL),
		)
		return nil
	}
	return c.next.Send(ctx, alert)
}
