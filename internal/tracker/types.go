package tracker

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category selects the fetch strategy for a site.
type Category string

// Supported site categories.
const (
	CategoryAPI    Category = "api"
	CategoryScrape Category = "scrape"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c == CategoryAPI || c == CategoryScrape
}

// Credentials is the API credential pair used for HTTP basic auth.
type Credentials struct {
	ConsumerKey    string `mapstructure:"consumer_key" json:"-"`
	ConsumerSecret string `mapstructure:"consumer_secret" json:"-"`
}

// APIFields maps observation fields to JSON paths in an API response.
// Empty paths fall back to the WooCommerce-style defaults.
type APIFields struct {
	Price        string `mapstructure:"price" json:"price,omitempty"`
	RegularPrice string `mapstructure:"regular_price" json:"regular_price,omitempty"`
	SalePrice    string `mapstructure:"sale_price" json:"sale_price,omitempty"`
	Stock        string `mapstructure:"stock" json:"stock,omitempty"`
}

// Selectors is the CSS selector map of a scrape site.
type Selectors struct {
	Price        string `mapstructure:"price" json:"price,omitempty"`
	RegularPrice string `mapstructure:"regular_price" json:"regular_price,omitempty"`
	SalePrice    string `mapstructure:"sale_price" json:"sale_price,omitempty"`
}

// Empty reports whether no selector is configured.
func (s Selectors) Empty() bool {
	return strings.TrimSpace(s.Price) == "" &&
		strings.TrimSpace(s.RegularPrice) == "" &&
		strings.TrimSpace(s.SalePrice) == ""
}

// SiteRules override the stock state of a scraped page.
type SiteRules struct {
	// TextContains maps page text to the stock state it implies.
	TextContains map[string]bool `mapstructure:"text_contains" json:"text_contains,omitempty"`
	// ElementSelector maps a CSS selector to the stock state its presence implies.
	ElementSelector map[string]bool `mapstructure:"element_selector" json:"element_selector,omitempty"`
}

// Site is one configured shop, keyed by its registrable root domain.
type Site struct {
	RootDomain  string      `mapstructure:"root_domain" json:"root_domain"`
	Category    Category    `mapstructure:"category" json:"category"`
	Disabled    bool        `mapstructure:"disabled" json:"disabled,omitempty"`
	Credentials Credentials `mapstructure:"env_variables" json:"-"`
	Fields      APIFields   `mapstructure:"fields" json:"fields,omitempty"`
	Selectors   Selectors   `mapstructure:"selectors" json:"selectors,omitempty"`
	Rules       SiteRules   `mapstructure:"site_rules" json:"site_rules,omitempty"`
	// DecimalMark is "," or "." when the shop's price format is known.
	DecimalMark string `mapstructure:"decimal_mark" json:"decimal_mark,omitempty"`
	RenderJS    bool   `mapstructure:"render_js" json:"render_js,omitempty"`
}

// Validate checks the category specific parameters.
func (s Site) Validate() error {
	if strings.TrimSpace(s.RootDomain) == "" {
		return fmt.Errorf("root_domain is required")
	}
	switch s.Category {
	case CategoryAPI:
		if s.Credentials.ConsumerKey == "" || s.Credentials.ConsumerSecret == "" {
			return fmt.Errorf("site %s: api sites need consumer_key and consumer_secret", s.RootDomain)
		}
	case CategoryScrape:
		if s.Selectors.Empty() {
			return fmt.Errorf("site %s: scrape sites need at least one price selector", s.RootDomain)
		}
	default:
		return fmt.Errorf("site %s: unknown category %q", s.RootDomain, s.Category)
	}
	switch s.DecimalMark {
	case "", ",", ".":
	default:
		return fmt.Errorf("site %s: decimal_mark must be \",\" or \".\"", s.RootDomain)
	}
	return nil
}

// Product is a named item tracked on one or more URLs.
type Product struct {
	Name string   `mapstructure:"product_name" json:"product_name"`
	URLs []string `mapstructure:"urls" json:"urls"`
}

// Observation is one price reading of a URL. It is never mutated once built.
type Observation struct {
	URL            string              `json:"url"`
	Timestamp      time.Time           `json:"timestamp"`
	Price          decimal.Decimal     `json:"price"`
	RegularPrice   decimal.NullDecimal `json:"regular_price"`
	SalePrice      decimal.NullDecimal `json:"sale_price"`
	InStock        *bool               `json:"in_stock"`
	SourceCategory Category            `json:"source_category"`
}

// Record is the persisted current observation of a URL.
type Record struct {
	ProductName string `json:"product_name"`
	Observation
}

// Bool returns a pointer to b, used for tri-state stock values.
func Bool(b bool) *bool {
	return &b
}

// AlertKind classifies an alert.
type AlertKind string

// Alert kinds raised by the change detector.
const (
	AlertStockChanged       AlertKind = "stock_changed"
	AlertPriceIncreased     AlertKind = "price_increased"
	AlertPriceDecreased     AlertKind = "price_decreased"
	AlertCompetitorUndercut AlertKind = "competitor_undercut"
)

// Alert is the payload handed to a Notifier.
type Alert struct {
	Kind        AlertKind       `json:"kind"`
	ProductName string          `json:"product_name"`
	URL         string          `json:"url"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	// CompetitorURL is the cheaper sibling for competitor_undercut alerts.
	CompetitorURL string    `json:"competitor_url,omitempty"`
	WasInStock    *bool     `json:"was_in_stock,omitempty"`
	InStock       *bool     `json:"in_stock,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Message renders the alert as a single human readable line.
func (a Alert) Message() string {
	switch a.Kind {
	case AlertStockChanged:
		state := "out of stock"
		if a.InStock != nil && *a.InStock {
			state = "back in stock"
		}
		return fmt.Sprintf("%s is %s at %s (price %s)", a.ProductName, state, a.URL, a.NewPrice.String())
	case AlertPriceIncreased:
		return fmt.Sprintf("%s went up from %s to %s at %s", a.ProductName, a.OldPrice.String(), a.NewPrice.String(), a.URL)
	case AlertPriceDecreased:
		return fmt.Sprintf("%s dropped from %s to %s at %s", a.ProductName, a.OldPrice.String(), a.NewPrice.String(), a.URL)
	case AlertCompetitorUndercut:
		return fmt.Sprintf("%s costs %s at %s but only %s at %s",
			a.ProductName, a.OldPrice.String(), a.URL, a.NewPrice.String(), a.CompetitorURL)
	default:
		return fmt.Sprintf("%s: %s (%s -> %s)", a.Kind, a.URL, a.OldPrice.String(), a.NewPrice.String())
	}
}

// Attributes labels a published alert so subscribers can filter by kind.
func (a Alert) Attributes() map[string]string {
	return map[string]string{
		"kind":    string(a.Kind),
		"product": a.ProductName,
		"url":     a.URL,
	}
}

// PageRequest describes one page load.
type PageRequest struct {
	URL     string
	Headers http.Header
	// WaitFor is a CSS selector a rendering loader waits for before capture.
	WaitFor string
}

// Page is the raw result of a page load, whatever its status code.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// FetchRequest is handed to a Strategy for a single URL.
type FetchRequest struct {
	URL      string
	Domain   string
	Site     Site
	Throttle ThrottleReporter
}
