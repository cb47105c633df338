package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func scrapeSite(domain string) tracker.Site {
	return tracker.Site{
		RootDomain: domain,
		Category:   tracker.CategoryScrape,
		Selectors:  tracker.Selectors{Price: ".price"},
	}
}

func TestRootDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://www.store.co.uk/p/1", "store.co.uk"},
		{"https://store.co.uk", "store.co.uk"},
		{"store.co.uk", "store.co.uk"},
		{"https://shop.eu.example.com/item?id=3", "example.com"},
		{"https://WWW.Example.COM.", "example.com"},
		{"http://127.0.0.1:8080/x", "127.0.0.1"},
		{"http://localhost:9000/x", "localhost"},
		{"https://www.example.com.au/thing", "example.com.au"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := RootDomain(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRootDomainErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "http://", "https://co.uk"} {
		_, err := RootDomain(in)
		require.Error(t, err, in)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	disabled := scrapeSite("closed.example")
	disabled.Disabled = true
	reg, err := New([]tracker.Site{scrapeSite("www.store.co.uk"), disabled})
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	site, err := reg.Resolve("https://store.co.uk/widget")
	require.NoError(t, err)
	require.Equal(t, "store.co.uk", site.RootDomain)

	site, err = reg.Resolve("https://www.store.co.uk/widget")
	require.NoError(t, err)
	require.Equal(t, "store.co.uk", site.RootDomain)

	_, err = reg.Resolve("https://unknown.example/widget")
	require.ErrorIs(t, err, tracker.ErrConfiguration)
	require.Equal(t, tracker.KindNotConfigured, tracker.KindOf(err))

	_, err = reg.Resolve("https://closed.example/widget")
	require.ErrorIs(t, err, tracker.ErrConfiguration)
	require.Equal(t, tracker.KindSiteDisabled, tracker.KindOf(err))

	_, err = reg.Resolve("")
	require.Equal(t, tracker.KindInvalidURL, tracker.KindOf(err))
}

func TestNewRejectsDuplicatesAndInvalid(t *testing.T) {
	t.Parallel()

	_, err := New([]tracker.Site{scrapeSite("www.shop.example"), scrapeSite("shop.example")})
	require.ErrorContains(t, err, "duplicate site")

	_, err = New([]tracker.Site{{RootDomain: "shop.example", Category: tracker.CategoryScrape}})
	require.ErrorContains(t, err, "invalid site")
}

func TestSitesOrdered(t *testing.T) {
	t.Parallel()

	reg, err := New([]tracker.Site{scrapeSite("b.example"), scrapeSite("a.example")})
	require.NoError(t, err)
	sites := reg.Sites()
	require.Len(t, sites, 2)
	require.Equal(t, "a.example", sites[0].RootDomain)
}
