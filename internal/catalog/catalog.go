// Package catalog loads the sites and products to track from a JSON file.
//
// The file has two arrays:
//
//	{
//	  "sites": [{"root_domain": "shop.example", "category": "scrape", "selectors": {"price": ".price"}}],
//	  "products": [{"product_name": "Kettle", "urls": ["https://www.shop.example/kettle"]}]
//	}
//
// Entries are decoded with mapstructure rather than viper because viper
// lowercases map keys, and site_rules keys are page text and CSS selectors.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/registry"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Catalog is the validated content of a catalog file.
type Catalog struct {
	Sites    []tracker.Site    `json:"sites"`
	Products []tracker.Product `json:"products"`
}

// URLCount returns the number of product URLs.
func (c Catalog) URLCount() int {
	n := 0
	for _, p := range c.Products {
		n += len(p.URLs)
	}
	return n
}

type rawFile struct {
	Sites    []map[string]any `json:"sites"`
	Products []map[string]any `json:"products"`
}

// Load reads and parses the catalog at path.
func Load(path string, logger *zap.Logger) (Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- the catalog path is operator supplied.
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := Parse(data, logger)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse validates a catalog document. Invalid sites and products are
// dropped with a warning; only a malformed document is an error. URLs of
// disabled sites are removed, and products left without URLs are dropped.
func Parse(data []byte, logger *zap.Logger) (Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return Catalog{}, fmt.Errorf("decode json: %w", err)
	}

	var cat Catalog
	seen := make(map[string]bool)
	disabled := make(map[string]bool)
	for i, entry := range raw.Sites {
		site, err := decodeSite(entry)
		if err != nil {
			logger.Warn("dropping invalid site", zap.Int("index", i), zap.Error(err))
			continue
		}
		if seen[site.RootDomain] {
			logger.Warn("dropping duplicate site", zap.String("root_domain", site.RootDomain))
			continue
		}
		seen[site.RootDomain] = true
		if site.Disabled {
			disabled[site.RootDomain] = true
		}
		cat.Sites = append(cat.Sites, site)
	}

	for i, entry := range raw.Products {
		var product tracker.Product
		if err := decode(entry, &product); err != nil {
			logger.Warn("dropping invalid product", zap.Int("index", i), zap.Error(err))
			continue
		}
		product.Name = strings.TrimSpace(product.Name)
		if product.Name == "" {
			logger.Warn("dropping product without a name", zap.Int("index", i))
			continue
		}
		urls := make([]string, 0, len(product.URLs))
		for _, url := range product.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			if domain, err := registry.RootDomain(url); err == nil && disabled[domain] {
				continue
			}
			urls = append(urls, url)
		}
		if len(urls) == 0 {
			logger.Info("dropping product with no active urls", zap.String("product", product.Name))
			continue
		}
		product.URLs = urls
		cat.Products = append(cat.Products, product)
	}
	return cat, nil
}

func decodeSite(entry map[string]any) (tracker.Site, error) {
	var site tracker.Site
	if err := decode(entry, &site); err != nil {
		return tracker.Site{}, err
	}
	site.Category = tracker.Category(strings.ToLower(strings.TrimSpace(string(site.Category))))
	domain, err := registry.RootDomain(site.RootDomain)
	if err != nil {
		return tracker.Site{}, fmt.Errorf("root_domain %q: %w", site.RootDomain, err)
	}
	site.RootDomain = domain

	var missing []string
	site.Credentials.ConsumerKey = expandEnv(site.Credentials.ConsumerKey, &missing)
	site.Credentials.ConsumerSecret = expandEnv(site.Credentials.ConsumerSecret, &missing)
	if len(missing) > 0 && site.Category == tracker.CategoryAPI {
		return tracker.Site{}, fmt.Errorf("site %s: unset environment variables %s", domain, strings.Join(missing, ", "))
	}
	if err := site.Validate(); err != nil {
		return tracker.Site{}, err
	}
	return site, nil
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// expandEnv replaces ${NAME} references with environment values. Names that
// are unset are appended to missing.
func expandEnv(s string, missing *[]string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			*missing = append(*missing, name)
		}
		return value
	})
}
