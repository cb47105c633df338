// Package engine runs check cycles: it fans out over every tracked URL,
// fetches through the rate limiter and the cycle cache, then compares,
// persists and notifies product by product.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pricewatch/internal/cache"
	"github.com/JakeFAU/pricewatch/internal/detect"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewatch/internal/policy/retry"
	"github.com/JakeFAU/pricewatch/internal/registry"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ErrBusy is returned by TryRunCycle while another cycle is running.
var ErrBusy = errors.New("a cycle is already running")

const (
	defaultTimeout       = 5 * time.Minute
	defaultConcurrency   = 10
	defaultSettleTimeout = 30 * time.Second
)

// Fingerprinter digests the parts of an alert into a stable key.
type Fingerprinter interface {
	Fingerprint(parts ...string) (string, error)
}

// Config tunes a cycle.
type Config struct {
	// Timeout bounds the fetch phase of a cycle.
	Timeout     time.Duration
	Concurrency int
	// SettleTimeout bounds persistence and notification of one product,
	// which still runs after Timeout has fired.
	SettleTimeout time.Duration
	// Transport labels notification failure metrics.
	Transport string
	RateLimit ratelimit.Config
	Retry     retry.Config
	Detect    detect.Config
}

// Deps are the collaborators of an Engine. All are required except Logger.
type Deps struct {
	Strategy tracker.Strategy
	Store    tracker.Store
	Notifier tracker.Notifier
	Clock    ratelimit.Clock
	IDs      tracker.IDGenerator
	Hasher   Fingerprinter
	Logger   *zap.Logger
}

// Engine owns the per-domain rate state, so a long-lived Engine keeps its
// throttling penalties across cycles. Cycles never overlap.
type Engine struct {
	cfg      Config
	deps     Deps
	limiter  *ratelimit.Limiter
	retry    *retry.Policy
	detector *detect.Detector
	logger   *zap.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *tracker.CycleReport
}

// New validates deps and builds an Engine with a fresh rate state.
func New(cfg Config, deps Deps) (*Engine, error) {
	var missing []string
	if deps.Strategy == nil {
		missing = append(missing, "strategy")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Notifier == nil {
		missing = append(missing, "notifier")
	}
	if deps.Clock == nil {
		missing = append(missing, "clock")
	}
	if deps.IDs == nil {
		missing = append(missing, "id generator")
	}
	if deps.Hasher == nil {
		missing = append(missing, "hasher")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("engine: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.Transport == "" {
		cfg.Transport = "unknown"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("engine")

	return &Engine{
		cfg:      cfg,
		deps:     deps,
		limiter:  ratelimit.New(cfg.RateLimit, ratelimit.NewState(), deps.Clock, logger.Named("ratelimit")),
		retry:    retry.New(cfg.Retry),
		detector: detect.New(cfg.Detect),
		logger:   logger,
	}, nil
}

// RateLimits returns the current per-domain limiter state.
func (e *Engine) RateLimits() []ratelimit.DomainSnapshot {
	return e.limiter.Snapshot()
}

// LastReport returns the report of the most recent finished cycle.
func (e *Engine) LastReport() (tracker.CycleReport, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return tracker.CycleReport{}, false
	}
	return *e.last, true
}

// TryRunCycle runs a cycle unless one is already in progress.
func (e *Engine) TryRunCycle(ctx context.Context, sites []tracker.Site, products []tracker.Product) (tracker.CycleReport, error) {
	if !e.running.TryLock() {
		return tracker.CycleReport{}, ErrBusy
	}
	defer e.running.Unlock()
	return e.runCycle(ctx, sites, products)
}

// RunCycle fetches every product URL once, persists the observations and
// sends the resulting alerts. It waits for a running cycle to finish first.
// The error is non-nil only for invalid input; per-URL failures are
// recorded in the report.
func (e *Engine) RunCycle(ctx context.Context, sites []tracker.Site, products []tracker.Product) (tracker.CycleReport, error) {
	e.running.Lock()
	defer e.running.Unlock()
	return e.runCycle(ctx, sites, products)
}

func (e *Engine) runCycle(ctx context.Context, sites []tracker.Site, products []tracker.Product) (tracker.CycleReport, error) {
	reg, err := registry.New(sites)
	if err != nil {
		return tracker.CycleReport{}, fmt.Errorf("build site registry: %w", err)
	}
	for i, p := range products {
		if strings.TrimSpace(p.Name) == "" {
			return tracker.CycleReport{}, fmt.Errorf("product %d has no name", i)
		}
	}
	id, err := e.deps.IDs.NewID()
	if err != nil {
		return tracker.CycleReport{}, fmt.Errorf("generate cycle id: %w", err)
	}

	c := &cycle{
		engine:   e,
		registry: reg,
		cache:    cache.New(),
		breaker:  newBreaker(),
		logger:   e.logger.With(zap.String("cycle_id", id)),
		settled:  make(map[string]int),
	}
	report := tracker.CycleReport{ID: id, StartedAt: e.deps.Clock.Now()}
	c.logger.Info("cycle started", zap.Int("products", len(products)), zap.Int("sites", reg.Len()))

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	tasks := plan(products)
	report.Outcomes = c.fetchAll(fetchCtx, tasks)
	report.TimedOut = errors.Is(fetchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if report.TimedOut {
		c.logger.Warn("cycle timed out, settling completed fetches", zap.Duration("timeout", e.cfg.Timeout))
	}

	c.settleAll(ctx, products, tasks, report.Outcomes)

	report.FinishedAt = e.deps.Clock.Now()
	report.Summarize(c.notificationFailures, c.storeFailures)
	metrics.ObserveCycle(report.FinishedAt.Sub(report.StartedAt), report.TimedOut)

	c.logger.Info("cycle finished",
		zap.Int("total", report.Summary.Total),
		zap.Int("succeeded", report.Summary.Succeeded),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("cancelled", report.Summary.Cancelled),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Int("alerts", report.Summary.Alerts),
		zap.Bool("timed_out", report.TimedOut),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	e.mu.Lock()
	stored := report
	e.last = &stored
	e.mu.Unlock()
	return report, nil
}

// task is one product URL; index is its position in the report.
type task struct {
	index       int
	product     int
	productName string
	url         string
}

func plan(products []tracker.Product) []task {
	var tasks []task
	for pi, p := range products {
		for _, url := range p.URLs {
			tasks = append(tasks, task{
				index:       len(tasks),
				product:     pi,
				productName: p.Name,
				url:         strings.TrimSpace(url),
			})
		}
	}
	return tasks
}

// cycle is the state scoped to one run.
type cycle struct {
	engine   *Engine
	registry *registry.Registry
	cache    *cache.Cycle
	breaker  *breaker
	logger   *zap.Logger

	// Written only by the sequential settle phase.
	notificationFailures int
	storeFailures        int
	// settled maps a URL to the outcome that committed it this cycle.
	settled map[string]int
}

func (c *cycle) fetchAll(ctx context.Context, tasks []task) []tracker.Outcome {
	outcomes := make([]tracker.Outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(c.engine.cfg.Concurrency)
	for _, t := range tasks {
		g.Go(func() error {
			outcomes[t.index] = c.fetchOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
