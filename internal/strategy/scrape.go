package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ScrapeConfig wires the scrape strategy.
type ScrapeConfig struct {
	// Loader performs plain HTTP loads.
	Loader tracker.PageLoader
	// Renderer loads pages of sites with render_js; nil falls back to Loader.
	Renderer tracker.PageLoader
	// Snapshots archives pages that fail extraction; nil disables archiving.
	Snapshots tracker.BlobStore
	Hasher    tracker.Hasher
	Clock     tracker.Clock
	// ThrottleMarkers default to DefaultThrottleMarkers when nil.
	ThrottleMarkers []string
	Logger          *zap.Logger
}

// Scrape extracts prices from HTML with the site's selectors.
type Scrape struct {
	cfg ScrapeConfig
}

// NewScrape builds the scrape strategy.
func NewScrape(cfg ScrapeConfig) *Scrape {
	if cfg.ThrottleMarkers == nil {
		cfg.ThrottleMarkers = DefaultThrottleMarkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scrape{cfg: cfg}
}

// Fetch implements tracker.Strategy.
func (s *Scrape) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.Observation, error) {
	loader := s.cfg.Loader
	if request.Site.RenderJS && s.cfg.Renderer != nil {
		loader = s.cfg.Renderer
	}
	page, err := loader.Load(ctx, tracker.PageRequest{
		URL:     request.URL,
		WaitFor: waitSelector(request.Site.Selectors),
	})
	if err != nil {
		return tracker.Observation{}, classifyLoadError(ctx, request.URL, err)
	}
	if err := checkStatus(request, page, false); err != nil {
		return tracker.Observation{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return tracker.Observation{}, tracker.ConfigurationError(tracker.KindMalformedResponse, request.URL, err)
	}

	prices, ok := extractPrices(doc, request.Site.Selectors, request.Site.DecimalMark)
	if !ok {
		if hasThrottleMarker(s.cfg.ThrottleMarkers, page.Body) {
			return tracker.Observation{}, throttled(request, errors.New("throttle marker in page"))
		}
		return tracker.Observation{}, s.drift(ctx, request, page)
	}

	return tracker.Observation{
		URL:            request.URL,
		Timestamp:      s.cfg.Clock.Now(),
		Price:          prices.price,
		RegularPrice:   prices.regular,
		SalePrice:      prices.sale,
		InStock:        applyRules(doc, request.Site.Rules),
		SourceCategory: tracker.CategoryScrape,
	}, nil
}

type extracted struct {
	price   decimal.Decimal
	regular decimal.NullDecimal
	sale    decimal.NullDecimal
}

// extractPrices applies the selector map. A sale/regular pair wins over the
// plain price selector; the plain price also fills a missing regular price.
func extractPrices(doc *goquery.Document, sel tracker.Selectors, mark string) (extracted, bool) {
	main := lowestMatch(doc, sel.Price, mark)
	regular := lowestMatch(doc, sel.RegularPrice, mark)
	sale := lowestMatch(doc, sel.SalePrice, mark)

	out := extracted{regular: regular, sale: sale}
	switch {
	case regular.Valid && sale.Valid:
		out.price = sale.Decimal
	case main.Valid:
		out.price = main.Decimal
		if !regular.Valid {
			out.regular = main
		}
	case sale.Valid:
		out.price = sale.Decimal
	case regular.Valid:
		out.price = regular.Decimal
	default:
		return extracted{}, false
	}
	return out, true
}

// lowestMatch parses every element matching selector and keeps the lowest
// price. Elements without visible text fall back to their content attribute
// (schema.org <meta itemprop="price" content="...">).
func lowestMatch(doc *goquery.Document, selector, mark string) decimal.NullDecimal {
	var lowest decimal.NullDecimal
	if strings.TrimSpace(selector) == "" {
		return lowest
	}
	doc.Find(selector).Each(func(_ int, el *goquery.Selection) {
		text := strings.TrimSpace(el.Text())
		if text == "" {
			text, _ = el.Attr("content")
		}
		value, err := ParsePrice(text, mark)
		if err != nil {
			return
		}
		if !lowest.Valid || value.LessThan(lowest.Decimal) {
			lowest = decimal.NewNullDecimal(value)
		}
	})
	return lowest
}

// applyRules evaluates text rules and then element rules in key order; the
// last matching rule decides. No match leaves the stock state unknown.
func applyRules(doc *goquery.Document, rules tracker.SiteRules) *bool {
	var state *bool
	if len(rules.TextContains) > 0 {
		text := strings.ToLower(doc.Text())
		for _, key := range sortedKeys(rules.TextContains) {
			if strings.Contains(text, strings.ToLower(key)) {
				state = tracker.Bool(rules.TextContains[key])
			}
		}
	}
	for _, key := range sortedKeys(rules.ElementSelector) {
		if doc.Find(key).Length() > 0 {
			state = tracker.Bool(rules.ElementSelector[key])
		}
	}
	return state
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func waitSelector(sel tracker.Selectors) string {
	for _, candidate := range []string{sel.Price, sel.SalePrice, sel.RegularPrice} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// drift builds the selector-drift error, archiving the page first when a
// snapshot store is configured. Archive failures are logged, not returned.
func (s *Scrape) drift(ctx context.Context, request tracker.FetchRequest, page tracker.Page) error {
	driftErr := tracker.ConfigurationError(tracker.KindSelectorDrift, request.URL,
		errors.New("no price selector matched a parseable price"))
	if s.cfg.Snapshots == nil {
		return driftErr
	}
	path, err := s.snapshotPath(request)
	if err != nil {
		s.cfg.Logger.Warn("snapshot path failed", zap.String("url", request.URL), zap.Error(err))
		return driftErr
	}
	uri, err := s.cfg.Snapshots.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(page.Body))
	if err != nil {
		s.cfg.Logger.Warn("snapshot upload failed", zap.String("url", request.URL), zap.Error(err))
		return driftErr
	}
	driftErr.Snapshot = uri
	return driftErr
}

func (s *Scrape) snapshotPath(request tracker.FetchRequest) (string, error) {
	stamp := s.cfg.Clock.Now().UTC().Format("20060102T150405Z")
	name := "page"
	if s.cfg.Hasher != nil {
		sum, err := s.cfg.Hasher.Hash([]byte(request.URL))
		if err != nil {
			return "", fmt.Errorf("hash url: %w", err)
		}
		if len(sum) > 16 {
			sum = sum[:16]
		}
		name = sum
	}
	domain := request.Domain
	if domain == "" {
		domain = request.Site.RootDomain
	}
	return fmt.Sprintf("%s/%s-%s.html", domain, stamp, name), nil
}
