package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/cache"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/policy/retry"
	"github.com/JakeFAU/pricewatch/internal/registry"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// breaker remembers sites that failed authentication in this cycle.
type breaker struct {
	mu      sync.Mutex
	tripped map[string]error
}

func newBreaker() *breaker {
	return &breaker{tripped: make(map[string]error)}
}

func (b *breaker) trip(domain string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tripped[domain]; !ok {
		b.tripped[domain] = err
	}
}

func (b *breaker) check(domain string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped[domain]
}

func (c *cycle) fetchOne(ctx context.Context, t task) tracker.Outcome {
	out := tracker.Outcome{Product: t.productName, URL: t.url}
	if domain, err := registry.RootDomain(t.url); err == nil {
		out.Domain = domain
	}
	if err := ctx.Err(); err != nil {
		return finish(out, fmt.Errorf("not started: %w", err))
	}

	site, err := c.registry.Resolve(t.url)
	if err != nil {
		if tracker.KindOf(err) == tracker.KindSiteDisabled {
			c.logger.Debug("skipping url of disabled site", zap.String("url", t.url))
		} else {
			c.logger.Warn("url not fetchable", zap.String("url", t.url), zap.Error(err))
		}
		return finish(out, err)
	}

	res, shared := c.cache.Do(ctx, t.url, func(ctx context.Context) cache.Result {
		return c.fetch(ctx, site, out.Domain, t.url)
	})
	out.Attempts = res.Attempts
	out.Cached = shared
	if res.Err != nil {
		return finish(out, res.Err)
	}
	obs := res.Observation
	out.Status = tracker.StatusOK
	out.Observation = &obs
	return out
}

// fetch runs the retry loop for one URL. Every attempt takes a fresh
// limiter token and consults the auth breaker first.
func (c *cycle) fetch(ctx context.Context, site tracker.Site, domain, url string) cache.Result {
	e := c.engine
	logger := c.logger.With(zap.String("url", url), zap.String("domain", domain))
	request := tracker.FetchRequest{URL: url, Domain: domain, Site: site, Throttle: e.limiter}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := c.breaker.check(domain); err != nil {
			return cache.Result{Err: err, Attempts: attempt - 1}
		}
		if err := e.limiter.Acquire(ctx, domain); err != nil {
			return cache.Result{Err: abandon(lastErr, err), Attempts: attempt - 1}
		}

		metrics.IncActiveFetches()
		obs, err := e.deps.Strategy.Fetch(ctx, request)
		metrics.DecActiveFetches()

		if err == nil {
			e.limiter.ReportSuccess(domain)
			metrics.ObserveFetch(url, "ok")
			logger.Debug("fetched price",
				zap.String("price", obs.Price.String()),
				zap.Int("attempt", attempt),
			)
			return cache.Result{Observation: obs, Attempts: attempt}
		}

		lastErr = err
		metrics.ObserveFetch(url, outcomeLabel(err))
		if tracker.KindOf(err) == tracker.KindAuth {
			c.breaker.trip(domain, err)
			logger.Error("authentication failed, skipping site for this cycle", zap.Error(err))
		}
		if !e.retry.ShouldRetry(err, attempt) {
			return cache.Result{Err: err, Attempts: attempt}
		}

		delay := e.retry.Backoff(attempt)
		logger.Warn("transient fetch failure, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if !retry.Pause(ctx, delay) {
			return cache.Result{Err: abandon(err, ctx.Err()), Attempts: attempt}
		}
	}
}

// abandon reports a fetch given up because ctx ended. The earlier failure
// is kept in the message only, so the result classifies as cancelled.
func abandon(last, ctxErr error) error {
	if last == nil {
		return ctxErr
	}
	return fmt.Errorf("gave up after %v: %w", last, ctxErr)
}

// finish fills the failure fields of an outcome from err.
func finish(out tracker.Outcome, err error) tracker.Outcome {
	out.Error = err.Error()
	if typed, ok := tracker.AsError(err); ok {
		out.Class = typed.Class
		out.Kind = typed.Kind
		out.SnapshotURI = typed.Snapshot
		out.Status = tracker.StatusFailed
		if typed.Kind == tracker.KindSiteDisabled {
			out.Status = tracker.StatusSkipped
		}
		return out
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		out.Status = tracker.StatusCancelled
		return out
	}
	out.Status = tracker.StatusFailed
	return out
}

func outcomeLabel(err error) string {
	if kind := tracker.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
