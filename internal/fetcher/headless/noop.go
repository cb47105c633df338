package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ErrDisabled is returned by Noop for sites that ask for rendering while
// the renderer is switched off.
var ErrDisabled = errors.New("headless rendering disabled")

// Noop is the PageLoader used when headless rendering is not enabled.
type Noop struct{}

// NewNoop creates a new Noop loader.
func NewNoop() *Noop {
	return &Noop{}
}

// Load always fails with ErrDisabled.
func (Noop) Load(_ context.Context, request tracker.PageRequest) (tracker.Page, error) {
	return tracker.Page{}, tracker.ConfigurationError(tracker.KindNotConfigured, request.URL, ErrDisabled)
}
