package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/detect"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// settleAll compares, persists and notifies product by product. It runs
// detached from the cycle deadline so that fetches which finished in time
// are still committed.
func (c *cycle) settleAll(ctx context.Context, products []tracker.Product, tasks []task, outcomes []tracker.Outcome) {
	byProduct := make([][]int, len(products))
	for _, t := range tasks {
		byProduct[t.product] = append(byProduct[t.product], t.index)
	}
	base := context.WithoutCancel(ctx)
	for pi, indexes := range byProduct {
		if len(indexes) == 0 {
			continue
		}
		settleCtx, cancel := context.WithTimeout(base, c.engine.cfg.SettleTimeout)
		c.settleProduct(settleCtx, products[pi].Name, indexes, outcomes)
		cancel()
	}
}

// knownPrice is the latest price of one URL of a product, if any.
type knownPrice struct {
	price decimal.Decimal
	known bool
}

func (c *cycle) settleProduct(ctx context.Context, product string, indexes []int, outcomes []tracker.Outcome) {
	e := c.engine
	logger := c.logger.With(zap.String("product", product))

	// The first outcome of a URL owns it; repeats mirror its persistence.
	owner := make(map[string]int, len(indexes))
	var urls []string
	for _, i := range indexes {
		url := outcomes[i].URL
		if _, seen := owner[url]; seen {
			continue
		}
		owner[url] = i
		urls = append(urls, url)
	}

	// Priors are read before anything of this product is committed.
	priors := make(map[string]*tracker.Record, len(urls))
	readFailed := make(map[string]bool)
	prices := make(map[string]knownPrice, len(urls))
	for _, url := range urls {
		o := outcomes[owner[url]]
		rec, found, err := e.deps.Store.GetCurrent(ctx, url)
		switch {
		case err != nil:
			c.storeFailures++
			readFailed[url] = true
			logger.Error("read current record failed", zap.String("url", url), zap.Error(err))
		case found:
			priors[url] = &rec
		}
		switch {
		case o.Status == tracker.StatusOK:
			prices[url] = knownPrice{price: o.Observation.Price, known: true}
		case priors[url] != nil:
			prices[url] = knownPrice{price: priors[url].Price, known: true}
		}
	}

	for _, url := range urls {
		i := owner[url]
		if outcomes[i].Status != tracker.StatusOK {
			continue
		}
		// A URL listed under an earlier product was already evaluated and
		// committed by it; one cycle writes one history row per URL.
		if first, done := c.settled[url]; done {
			outcomes[i].Persisted = outcomes[first].Persisted
			outcomes[i].Baseline = outcomes[first].Baseline
			outcomes[i].Error = outcomes[first].Error
			continue
		}
		if readFailed[url] {
			outcomes[i].Error = "prior record unavailable, observation not persisted"
			continue
		}
		obs := *outcomes[i].Observation

		var siblings []detect.Sibling
		for _, other := range urls {
			if other == url || !prices[other].known {
				continue
			}
			siblings = append(siblings, detect.Sibling{URL: other, Price: prices[other].price})
		}
		result := e.detector.Evaluate(detect.Input{
			ProductName: product,
			Observation: obs,
			Prior:       priors[url],
			Siblings:    siblings,
		})
		outcomes[i].Baseline = result.Baseline
		c.settled[url] = i

		if err := e.deps.Store.Commit(ctx, product, obs); err != nil {
			c.storeFailures++
			outcomes[i].Error = "persist observation: " + err.Error()
			logger.Error("commit observation failed", zap.String("url", url), zap.Error(err))
		} else {
			outcomes[i].Persisted = true
		}

		alerts := c.dedupUndercut(ctx, url, result.Alerts)
		outcomes[i].Alerts = alerts
		for _, alert := range alerts {
			metrics.ObserveAlert(string(alert.Kind))
			if err := e.deps.Notifier.Send(ctx, alert); err != nil {
				c.notificationFailures++
				metrics.ObserveNotificationFailure(e.cfg.Transport)
				logger.Warn("alert not delivered",
					zap.String("url", url),
					zap.String("kind", string(alert.Kind)),
					zap.Error(err),
				)
			}
		}
	}

	for _, i := range indexes {
		first := owner[outcomes[i].URL]
		if first != i && outcomes[i].Status == tracker.StatusOK {
			outcomes[i].Persisted = outcomes[first].Persisted
			outcomes[i].Baseline = outcomes[first].Baseline
		}
	}
}

// dedupUndercut drops a competitor_undercut alert whose fingerprint matches
// the last one sent for url, and clears the ledger once url is no longer
// undercut. Ledger failures let the alert through.
func (c *cycle) dedupUndercut(ctx context.Context, url string, alerts []tracker.Alert) []tracker.Alert {
	e := c.engine
	kept := alerts[:0:0]
	undercut := false
	for _, alert := range alerts {
		if alert.Kind != tracker.AlertCompetitorUndercut {
			kept = append(kept, alert)
			continue
		}
		undercut = true
		fp, err := e.deps.Hasher.Fingerprint(alert.URL, alert.CompetitorURL, alert.OldPrice.String(), alert.NewPrice.String())
		if err != nil {
			c.logger.Warn("fingerprint undercut alert", zap.String("url", url), zap.Error(err))
			kept = append(kept, alert)
			continue
		}
		last, found, err := e.deps.Store.LastAlert(ctx, url, tracker.AlertCompetitorUndercut)
		if err != nil {
			c.storeFailures++
			c.logger.Error("read alert ledger failed", zap.String("url", url), zap.Error(err))
		}
		if found && last == fp {
			c.logger.Debug("suppressing repeated undercut alert", zap.String("url", url))
			continue
		}
		if err := e.deps.Store.SaveAlert(ctx, url, alert.Kind, fp, alert.Timestamp); err != nil {
			c.storeFailures++
			c.logger.Error("write alert ledger failed", zap.String("url", url), zap.Error(err))
		}
		kept = append(kept, alert)
	}

	if !undercut {
		if _, found, err := e.deps.Store.LastAlert(ctx, url, tracker.AlertCompetitorUndercut); err == nil && found {
			if err := e.deps.Store.ClearAlert(ctx, url, tracker.AlertCompetitorUndercut); err != nil {
				c.storeFailures++
				c.logger.Error("clear alert ledger failed", zap.String("url", url), zap.Error(err))
			}
		}
	}
	return kept
}
