// Package detect compares a new observation with the stored record and the
// product's other listings and decides which alerts to raise.
package detect

import (
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Config tunes the detector.
type Config struct {
	// PriceThreshold is the absolute delta a price change must exceed.
	// Zero means any difference alerts.
	PriceThreshold decimal.Decimal
}

// Sibling is the current price of another URL of the same product.
type Sibling struct {
	URL   string
	Price decimal.Decimal
}

// Input is everything the detector needs for one URL.
type Input struct {
	ProductName string
	Observation tracker.Observation
	// Prior is nil on first sighting.
	Prior    *tracker.Record
	Siblings []Sibling
}

// Result lists the alerts for one URL.
type Result struct {
	// Baseline is true when there was no prior record.
	Baseline bool
	Alerts   []tracker.Alert
}

// Detector evaluates observations. It holds no state between calls.
type Detector struct {
	threshold decimal.Decimal
}

// New builds a Detector. Negative thresholds are treated as zero.
func New(cfg Config) *Detector {
	threshold := cfg.PriceThreshold
	if threshold.IsNegative() {
		threshold = decimal.Zero
	}
	return &Detector{threshold: threshold}
}

// Evaluate returns the alerts implied by in.
func (d *Detector) Evaluate(in Input) Result {
	obs := in.Observation
	var res Result

	if in.Prior == nil {
		res.Baseline = true
	} else {
		prior := in.Prior.Observation
		if stockChanged(prior.InStock, obs.InStock) {
			res.Alerts = append(res.Alerts, d.alert(in, tracker.AlertStockChanged, prior))
		}
		delta := obs.Price.Sub(prior.Price)
		if !delta.IsZero() && delta.Abs().GreaterThan(d.threshold) {
			kind := tracker.AlertPriceDecreased
			if delta.IsPositive() {
				kind = tracker.AlertPriceIncreased
			}
			res.Alerts = append(res.Alerts, d.alert(in, kind, prior))
		}
	}

	if cheapest, ok := cheapestBelow(obs.Price, in.Siblings); ok {
		res.Alerts = append(res.Alerts, tracker.Alert{
			Kind:          tracker.AlertCompetitorUndercut,
			ProductName:   in.ProductName,
			URL:           obs.URL,
			OldPrice:      obs.Price,
			NewPrice:      cheapest.Price,
			CompetitorURL: cheapest.URL,
			InStock:       obs.InStock,
			Timestamp:     obs.Timestamp,
		})
	}
	return res
}

func (d *Detector) alert(in Input, kind tracker.AlertKind, prior tracker.Observation) tracker.Alert {
	return tracker.Alert{
		Kind:        kind,
		ProductName: in.ProductName,
		URL:         in.Observation.URL,
		OldPrice:    prior.Price,
		NewPrice:    in.Observation.Price,
		WasInStock:  prior.InStock,
		InStock:     in.Observation.InStock,
		Timestamp:   in.Observation.Timestamp,
	}
}

// stockChanged is true only for a known-to-known transition.
func stockChanged(before, after *bool) bool {
	return before != nil && after != nil && *before != *after
}

// cheapestBelow returns the lowest-priced sibling strictly cheaper than
// price. Ties go to the first sibling in input order.
func cheapestBelow(price decimal.Decimal, siblings []Sibling) (Sibling, bool) {
	var (
		best  Sibling
		found bool
	)
	for _, s := range siblings {
		if !s.Price.LessThan(price) {
			continue
		}
		if !found || s.Price.LessThan(best.Price) {
			best, found = s, true
		}
	}
	return best, found
}
