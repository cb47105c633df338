// Package registry resolves product URLs to their configured site.
package registry

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Registry is an immutable index of sites keyed by root domain.
type Registry struct {
	sites map[string]tracker.Site
}

// New indexes sites by their normalized root domain. Duplicate domains and
// sites with invalid parameters are rejected.
func New(sites []tracker.Site) (*Registry, error) {
	index := make(map[string]tracker.Site, len(sites))
	for _, site := range sites {
		if err := site.Validate(); err != nil {
			return nil, fmt.Errorf("invalid site: %w", err)
		}
		domain, err := RootDomain(site.RootDomain)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.RootDomain, err)
		}
		if _, dup := index[domain]; dup {
			return nil, fmt.Errorf("duplicate site for root domain %s", domain)
		}
		site.RootDomain = domain
		index[domain] = site
	}
	return &Registry{sites: index}, nil
}

// Resolve returns the site owning rawURL.
func (r *Registry) Resolve(rawURL string) (tracker.Site, error) {
	domain, err := RootDomain(rawURL)
	if err != nil {
		return tracker.Site{}, tracker.ConfigurationError(tracker.KindInvalidURL, rawURL, err)
	}
	site, ok := r.sites[domain]
	if !ok {
		return tracker.Site{}, tracker.ConfigurationError(
			tracker.KindNotConfigured, rawURL, fmt.Errorf("no site configured for %s", domain))
	}
	if site.Disabled {
		return tracker.Site{}, tracker.ConfigurationError(
			tracker.KindSiteDisabled, rawURL, fmt.Errorf("site %s is disabled", domain))
	}
	return site, nil
}

// Sites returns the registered sites ordered by root domain.
func (r *Registry) Sites() []tracker.Site {
	out := make([]tracker.Site, 0, len(r.sites))
	for _, site := range r.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RootDomain < out[j].RootDomain })
	return out
}

// Len returns the number of registered sites.
func (r *Registry) Len() int {
	return len(r.sites)
}

// RootDomain extracts the registrable domain of a URL or bare host, so that
// www.store.co.uk and store.co.uk both yield store.co.uk. IP addresses and
// single label hosts are returned unchanged.
func RootDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("derive root domain of %s: %w", host, err)
	}
	return domain, nil
}
