package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func apiSite() tracker.Site {
	return tracker.Site{
		RootDomain:  "shop.example",
		Category:    tracker.CategoryAPI,
		Credentials: tracker.Credentials{ConsumerKey: "ck", ConsumerSecret: "cs"},
	}
}

func apiRequest(url string, throttle tracker.ThrottleReporter) tracker.FetchRequest {
	return tracker.FetchRequest{URL: url, Domain: "shop.example", Site: apiSite(), Throttle: throttle}
}

func TestAPIFetchAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ck" || pass != "cs" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != "application/json" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"price":"19.99","regular_price":"24.99","sale_price":"19.99","stock_status":"instock"}`))
	}))
	t.Cleanup(srv.Close)

	api := NewAPI(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), fixedClock{}, nil)
	obs, err := api.Fetch(context.Background(), apiRequest(srv.URL+"/wp-json/wc/v3/products/7", nil))
	require.NoError(t, err)
	require.True(t, obs.Price.Equal(decimal.RequireFromString("19.99")))
	require.True(t, obs.RegularPrice.Valid)
	require.True(t, obs.RegularPrice.Decimal.Equal(decimal.RequireFromString("24.99")))
	require.True(t, obs.SalePrice.Valid)
	require.NotNil(t, obs.InStock)
	require.True(t, *obs.InStock)
	require.Equal(t, tracker.CategoryAPI, obs.SourceCategory)
	require.Equal(t, testNow, obs.Timestamp)
}

func TestAPIFetchStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		class     error
		kind      tracker.Kind
		throttled bool
	}{
		{"unauthorized", http.StatusUnauthorized, tracker.ErrConfiguration, tracker.KindAuth, false},
		{"forbidden", http.StatusForbidden, tracker.ErrConfiguration, tracker.KindAuth, false},
		{"too many requests", http.StatusTooManyRequests, tracker.ErrTransient, tracker.KindThrottled, true},
		{"bad gateway", http.StatusBadGateway, tracker.ErrTransient, tracker.KindServerError, false},
		{"not found", http.StatusNotFound, tracker.ErrConfiguration, tracker.KindHTTPStatus, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loader := &stubLoader{page: htmlPage(tt.status, "")}
			throttle := &throttleRecorder{}
			_, err := NewAPI(loader, fixedClock{}, nil).Fetch(context.Background(), apiRequest("https://shop.example/p/1", throttle))
			require.ErrorIs(t, err, tt.class)
			require.Equal(t, tt.kind, tracker.KindOf(err))
			if tt.throttled {
				require.Equal(t, []string{"shop.example"}, throttle.domains)
			} else {
				require.Empty(t, throttle.domains)
			}
		})
	}
}

func TestAPIFetchSendsCredentials(t *testing.T) {
	t.Parallel()

	loader := &stubLoader{page: htmlPage(http.StatusOK, `{"price":5}`)}
	_, err := NewAPI(loader, fixedClock{}, nil).Fetch(context.Background(), apiRequest("https://shop.example/p/1", nil))
	require.NoError(t, err)
	require.Len(t, loader.requests, 1)
	require.Equal(t, "Basic Y2s6Y3M=", loader.requests[0].Headers.Get("Authorization"))
	require.Equal(t, "application/json", loader.requests[0].Headers.Get("Accept"))
}

func TestAPIParse(t *testing.T) {
	t.Parallel()

	api := NewAPI(&stubLoader{}, fixedClock{}, nil)

	t.Run("numeric fields and bool stock", func(t *testing.T) {
		t.Parallel()
		obs, err := api.parse(apiRequest("u", nil), []byte(`{"price":12.5,"in_stock":false,"sale_price":""}`))
		require.NoError(t, err)
		require.True(t, obs.Price.Equal(decimal.RequireFromString("12.5")))
		require.False(t, obs.SalePrice.Valid)
		require.False(t, obs.RegularPrice.Valid)
		require.NotNil(t, obs.InStock)
		require.False(t, *obs.InStock)
	})

	t.Run("custom paths", func(t *testing.T) {
		t.Parallel()
		req := apiRequest("u", nil)
		req.Site.Fields = tracker.APIFields{Price: "data.amount", Stock: "data.availability"}
		obs, err := api.parse(req, []byte(`{"data":{"amount":"1.299,00","availability":"OutOfStock"}}`))
		require.NoError(t, err)
		require.True(t, obs.Price.Equal(decimal.RequireFromString("1299")))
		require.False(t, *obs.InStock)
	})

	t.Run("array response uses first element", func(t *testing.T) {
		t.Parallel()
		obs, err := api.parse(apiRequest("u", nil), []byte(`[{"price":"3.10"}]`))
		require.NoError(t, err)
		require.True(t, obs.Price.Equal(decimal.RequireFromString("3.10")))
		require.Nil(t, obs.InStock)
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()
		_, err := api.parse(apiRequest("u", nil), []byte(`<html>oops</html>`))
		require.ErrorIs(t, err, tracker.ErrConfiguration)
		require.Equal(t, tracker.KindMalformedResponse, tracker.KindOf(err))
	})

	t.Run("missing price", func(t *testing.T) {
		t.Parallel()
		_, err := api.parse(apiRequest("u", nil), []byte(`{"name":"widget","price":""}`))
		require.Equal(t, tracker.KindMalformedResponse, tracker.KindOf(err))
	})

	t.Run("throttle marker", func(t *testing.T) {
		t.Parallel()
		throttle := &throttleRecorder{}
		_, err := api.parse(apiRequest("u", throttle), []byte(`Too Many Requests, slow down`))
		require.ErrorIs(t, err, tracker.ErrTransient)
		require.Equal(t, tracker.KindThrottled, tracker.KindOf(err))
		require.Len(t, throttle.domains, 1)
	})
}

func TestLoadErrorClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	loader := &stubLoader{err: context.DeadlineExceeded}
	_, err := NewAPI(loader, fixedClock{}, nil).Fetch(ctx, apiRequest("u", nil))
	require.Equal(t, tracker.KindTimeout, tracker.KindOf(err))

	loader = &stubLoader{err: errors.New("connection reset by peer")}
	_, err = NewAPI(loader, fixedClock{}, nil).Fetch(ctx, apiRequest("u", nil))
	require.ErrorIs(t, err, tracker.ErrTransient)
	require.Equal(t, tracker.KindNetwork, tracker.KindOf(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewAPI(loader, fixedClock{}, nil).Fetch(cancelled, apiRequest("u", nil))
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, tracker.ErrTransient)
}
