package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	renderer, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(renderer.Close)
	require.Equal(t, 2, cap(renderer.slots))
	require.Equal(t, defaultNavigationTimeout, renderer.cfg.NavigationTimeout)
	require.Equal(t, defaultSelectorWait, renderer.cfg.SelectorWait)
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	r := &Renderer{slots: make(chan struct{}, 1)}
	require.NoError(t, r.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.acquire(ctx), context.DeadlineExceeded)

	r.release()
	require.NoError(t, r.acquire(context.Background()))
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := toNetworkHeaders(http.Header{
		"X-Multi":  {"a", "b"},
		"X-Single": {"one"},
		"X-Empty":  {},
	})
	require.Equal(t, []string{"a", "b"}, got["X-Multi"])
	require.Equal(t, "one", got["X-Single"])
	require.NotContains(t, got, "X-Empty")
}

func TestDocumentResponseKeepsLastDocument(t *testing.T) {
	t.Parallel()

	doc := newDocumentResponse()
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 301, URL: "https://shop.example/old"},
	})
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://cdn.example/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  200,
			URL:     "https://shop.example/new",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})

	status, headers, url := doc.resolve("https://req", "")
	require.Equal(t, 200, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, "https://shop.example/new", url)
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	status, headers, url := newDocumentResponse().resolve("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)

	_, _, url = newDocumentResponse().resolve("https://req", "")
	require.Equal(t, "https://req", url)
}

func TestNoopLoader(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Load(context.Background(), tracker.PageRequest{URL: "https://shop.example/p"})
	require.ErrorIs(t, err, ErrDisabled)
	require.ErrorIs(t, err, tracker.ErrConfiguration)
	require.Equal(t, tracker.KindNotConfigured, tracker.KindOf(err))
}
