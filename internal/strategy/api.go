package strategy

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Default JSON paths, matching the WooCommerce product resource.
const (
	defaultPricePath        = "price"
	defaultRegularPricePath = "regular_price"
	defaultSalePricePath    = "sale_price"
)

var defaultStockPaths = []string{"stock_status", "in_stock"}

// API fetches product JSON with HTTP basic auth.
type API struct {
	loader  tracker.PageLoader
	clock   tracker.Clock
	markers []string
}

// NewAPI builds the API strategy. A nil markers slice uses DefaultThrottleMarkers.
func NewAPI(loader tracker.PageLoader, clock tracker.Clock, markers []string) *API {
	if markers == nil {
		markers = DefaultThrottleMarkers
	}
	return &API{loader: loader, clock: clock, markers: markers}
}

// Fetch implements tracker.Strategy.
func (a *API) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.Observation, error) {
	creds := request.Site.Credentials
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	token := base64.StdEncoding.EncodeToString([]byte(creds.ConsumerKey + ":" + creds.ConsumerSecret))
	headers.Set("Authorization", "Basic "+token)

	page, err := a.loader.Load(ctx, tracker.PageRequest{URL: request.URL, Headers: headers})
	if err != nil {
		return tracker.Observation{}, classifyLoadError(ctx, request.URL, err)
	}
	if err := checkStatus(request, page, true); err != nil {
		return tracker.Observation{}, err
	}
	return a.parse(request, page.Body)
}

func (a *API) parse(request tracker.FetchRequest, body []byte) (tracker.Observation, error) {
	if !gjson.ValidBytes(body) {
		if hasThrottleMarker(a.markers, body) {
			return tracker.Observation{}, throttled(request, errors.New("throttle marker in body"))
		}
		return tracker.Observation{}, tracker.ConfigurationError(tracker.KindMalformedResponse, request.URL,
			errors.New("response is not valid JSON"))
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		root = root.Get("0")
	}

	fields := request.Site.Fields
	mark := request.Site.DecimalMark
	price, ok := decimalAt(root, pathOr(fields.Price, defaultPricePath), mark)
	if !ok {
		return tracker.Observation{}, tracker.ConfigurationError(tracker.KindMalformedResponse, request.URL,
			errors.New("response has no usable price"))
	}

	obs := tracker.Observation{
		URL:            request.URL,
		Timestamp:      a.clock.Now(),
		Price:          price,
		InStock:        stockAt(root, fields.Stock),
		SourceCategory: tracker.CategoryAPI,
	}
	if v, ok := decimalAt(root, pathOr(fields.RegularPrice, defaultRegularPricePath), mark); ok {
		obs.RegularPrice = decimal.NewNullDecimal(v)
	}
	if v, ok := decimalAt(root, pathOr(fields.SalePrice, defaultSalePricePath), mark); ok {
		obs.SalePrice = decimal.NewNullDecimal(v)
	}
	return obs, nil
}

func pathOr(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	return path
}

// decimalAt reads a number or a numeric string. Empty strings, as
// WooCommerce sends for an unset sale price, are treated as absent.
func decimalAt(root gjson.Result, path, mark string) (decimal.Decimal, bool) {
	r := root.Get(path)
	switch r.Type {
	case gjson.Number:
		v, err := decimal.NewFromString(r.Raw)
		return v, err == nil
	case gjson.String:
		if strings.TrimSpace(r.Str) == "" {
			return decimal.Zero, false
		}
		v, err := ParsePrice(r.Str, mark)
		return v, err == nil
	default:
		return decimal.Zero, false
	}
}

func stockAt(root gjson.Result, path string) *bool {
	paths := defaultStockPaths
	if strings.TrimSpace(path) != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if state := stockValue(root.Get(p)); state != nil {
			return state
		}
	}
	return nil
}

func stockValue(r gjson.Result) *bool {
	switch r.Type {
	case gjson.True:
		return tracker.Bool(true)
	case gjson.False:
		return tracker.Bool(false)
	case gjson.String:
		normalized := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(r.Str))
		switch normalized {
		case "instock", "true", "available":
			return tracker.Bool(true)
		case "outofstock", "false", "soldout", "unavailable":
			return tracker.Bool(false)
		}
	}
	return nil
}
