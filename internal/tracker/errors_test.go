package tracker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestErrorClassMatching(t *testing.T) {
	t.Parallel()

	cfgErr := ConfigurationError(KindSelectorDrift, "https://shop.example/p", errors.New("price selector matched nothing"))
	wrapped := fmt.Errorf("fetch: %w", cfgErr)

	require.ErrorIs(t, wrapped, ErrConfiguration)
	require.NotErrorIs(t, wrapped, ErrTransient)
	require.Equal(t, KindSelectorDrift, KindOf(wrapped))

	transient := TransientError(KindThrottled, "https://shop.example/p", nil)
	require.ErrorIs(t, transient, ErrTransient)
	require.NotErrorIs(t, transient, ErrConfiguration)

	notify := NotificationError("https://shop.example/p", errors.New("503"))
	require.ErrorIs(t, notify, ErrNotification)
	require.Contains(t, notify.Error(), "notification error (delivery)")
}

func TestKindOfUntyped(t *testing.T) {
	t.Parallel()

	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestSiteValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		site    Site
		wantErr bool
	}{
		{"scrape ok", Site{RootDomain: "shop.example", Category: CategoryScrape, Selectors: Selectors{Price: ".price"}}, false},
		{"scrape without selectors", Site{RootDomain: "shop.example", Category: CategoryScrape}, true},
		{"api ok", Site{RootDomain: "api.example", Category: CategoryAPI, Credentials: Credentials{ConsumerKey: "k", ConsumerSecret: "s"}}, false},
		{"api missing secret", Site{RootDomain: "api.example", Category: CategoryAPI, Credentials: Credentials{ConsumerKey: "k"}}, true},
		{"unknown category", Site{RootDomain: "x.example", Category: "rss"}, true},
		{"missing domain", Site{Category: CategoryScrape, Selectors: Selectors{Price: ".p"}}, true},
		{"bad decimal mark", Site{RootDomain: "shop.example", Category: CategoryScrape, Selectors: Selectors{Price: ".p"}, DecimalMark: ";"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.site.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAlertMessage(t *testing.T) {
	t.Parallel()

	alert := Alert{
		Kind:        AlertPriceDecreased,
		ProductName: "Widget",
		URL:         "https://shop.example/widget",
		OldPrice:    decimal.NewFromInt(100),
		NewPrice:    decimal.NewFromInt(90),
	}
	require.Equal(t, "Widget dropped from 100 to 90 at https://shop.example/widget", alert.Message())

	stock := Alert{Kind: AlertStockChanged, ProductName: "Widget", URL: "u", NewPrice: decimal.NewFromInt(5), InStock: Bool(true)}
	require.Contains(t, stock.Message(), "back in stock")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	report := CycleReport{Outcomes: []Outcome{
		{Status: StatusOK, Alerts: []Alert{{Kind: AlertPriceIncreased}}},
		{Status: StatusFailed},
		{Status: StatusCancelled},
		{Status: StatusSkipped},
		{Status: StatusOK},
	}}
	report.Summarize(2, 1)

	require.Equal(t, Summary{
		Total:                5,
		Succeeded:            2,
		Failed:               1,
		Cancelled:            1,
		Skipped:              1,
		Alerts:               1,
		NotificationFailures: 2,
		StoreFailures:        1,
	}, report.Summary)
}
