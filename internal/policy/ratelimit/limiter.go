// Package ratelimit implements adaptive per-domain token buckets.
//
// Each root domain gets its own bucket with capacity Burst refilled at RPS
// tokens per second. A throttling signal halves the refill rate (down to a
// floor) and empties the bucket; a run of successes restores the rate one
// doubling at a time until the configured default is reached again.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/pricewatch/internal/metrics"
)

const (
	defaultRPS          = 5
	defaultBurst        = 1
	defaultRecoverAfter = 10
)

// Clock abstracts time so buckets can be driven by a simulated clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// DomainConfig overrides the bucket parameters of one domain.
type DomainConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64                 `mapstructure:"default_rps"`
	DefaultBurst int                     `mapstructure:"default_burst"`
	MinRPS       float64                 `mapstructure:"min_rps"`
	RecoverAfter int                     `mapstructure:"recover_after"`
	Domains      map[string]DomainConfig `mapstructure:"domains"`
}

// State is the table of per-domain buckets. It is owned by whoever runs
// cycles and injected into a Limiter, so separate engines never share
// backoff state.
type State struct {
	mu      sync.Mutex
	domains map[string]*domainState
}

// NewState returns an empty bucket table.
func NewState() *State {
	return &State{domains: make(map[string]*domainState)}
}

type domainState struct {
	mu        sync.Mutex
	bucket    *rate.Limiter
	base      rate.Limit
	floor     rate.Limit
	current   rate.Limit
	burst     int
	successes int
	throttles int
}

// DomainSnapshot is a read-only view of one domain's bucket.
type DomainSnapshot struct {
	Domain     string  `json:"domain"`
	RPS        float64 `json:"rps"`
	DefaultRPS float64 `json:"default_rps"`
	Burst      int     `json:"burst"`
	Tokens     float64 `json:"tokens"`
	Throttles  int     `json:"throttles"`
	Penalized  bool    `json:"penalized"`
}

// Limiter manages per-domain rate limits.
type Limiter struct {
	cfg    Config
	state  *State
	clock  Clock
	logger *zap.Logger
}

// New creates a Limiter over state. A nil state gets a fresh table.
func New(cfg Config, state *State, clock Clock, logger *zap.Logger) *Limiter {
	if cfg.DefaultRPS <= 0 {
		cfg.DefaultRPS = defaultRPS
	}
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = defaultBurst
	}
	if cfg.MinRPS <= 0 {
		cfg.MinRPS = cfg.DefaultRPS / 8
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = defaultRecoverAfter
	}
	if state == nil {
		state = NewState()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{cfg: cfg, state: state, clock: clock, logger: logger}
}

// Acquire blocks until a token for domain is available, respecting the
// context. Waiters hold reservations, so they are served in arrival order.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	st := l.domain(domain)
	now := l.clock.Now()

	st.mu.Lock()
	reservation := st.bucket.ReserveN(now, 1)
	st.mu.Unlock()
	if !reservation.OK() {
		return fmt.Errorf("rate limit reserve for %s: burst is zero", domain)
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-l.clock.After(delay):
		metrics.ObserveRateLimitDelay(domain, delay)
		return nil
	case <-ctx.Done():
		reservation.CancelAt(l.clock.Now())
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
}

// ReportThrottled halves the domain's refill rate and empties its bucket.
func (l *Limiter) ReportThrottled(domain string) {
	st := l.domain(domain)
	now := l.clock.Now()

	st.mu.Lock()
	next := st.current / 2
	if next < st.floor {
		next = st.floor
	}
	st.current = next
	st.successes = 0
	st.throttles++
	st.bucket.SetLimitAt(now, next)
	if tokens := st.bucket.TokensAt(now); tokens >= 1 {
		st.bucket.ReserveN(now, int(math.Floor(tokens)))
	}
	throttles := st.throttles
	st.mu.Unlock()

	metrics.ObserveThrottle(domain, float64(next))
	l.logger.Warn("domain throttled, slowing down",
		zap.String("domain", domain),
		zap.Float64("rps", float64(next)),
		zap.Int("throttles", throttles),
	)
}

// ReportSuccess counts a successful fetch. After RecoverAfter consecutive
// successes a penalized domain's rate doubles, capped at its default.
func (l *Limiter) ReportSuccess(domain string) {
	st := l.domain(domain)
	now := l.clock.Now()

	st.mu.Lock()
	if st.current >= st.base {
		st.successes = 0
		st.mu.Unlock()
		return
	}
	st.successes++
	if st.successes < l.cfg.RecoverAfter {
		st.mu.Unlock()
		return
	}
	st.successes = 0
	next := st.current * 2
	if next > st.base {
		next = st.base
	}
	st.current = next
	st.bucket.SetLimitAt(now, next)
	st.mu.Unlock()

	metrics.SetDomainRate(domain, float64(next))
	l.logger.Info("domain rate recovering",
		zap.String("domain", domain),
		zap.Float64("rps", float64(next)),
	)
}

// Rate returns the current refill rate of domain.
func (l *Limiter) Rate(domain string) float64 {
	st := l.domain(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return float64(st.current)
}

// Snapshot returns the state of every domain seen so far, ordered by domain.
func (l *Limiter) Snapshot() []DomainSnapshot {
	l.state.mu.Lock()
	domains := make(map[string]*domainState, len(l.state.domains))
	for name, st := range l.state.domains {
		domains[name] = st
	}
	l.state.mu.Unlock()

	now := l.clock.Now()
	out := make([]DomainSnapshot, 0, len(domains))
	for name, st := range domains {
		st.mu.Lock()
		out = append(out, DomainSnapshot{
			Domain:     name,
			RPS:        float64(st.current),
			DefaultRPS: float64(st.base),
			Burst:      st.burst,
			Tokens:     st.bucket.TokensAt(now),
			Throttles:  st.throttles,
			Penalized:  st.current < st.base,
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func (l *Limiter) domain(domain string) *domainState {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if st, ok := l.state.domains[domain]; ok {
		return st
	}
	rps, burst := l.cfg.DefaultRPS, l.cfg.DefaultBurst
	if override, ok := l.cfg.Domains[domain]; ok {
		if override.RPS > 0 {
			rps = override.RPS
		}
		if override.Burst > 0 {
			burst = override.Burst
		}
	}
	base := rate.Limit(rps)
	floor := rate.Limit(l.cfg.MinRPS)
	if floor > base {
		floor = base
	}
	st := &domainState{
		bucket:  rate.NewLimiter(base, burst),
		base:    base,
		floor:   floor,
		current: base,
		burst:   burst,
	}
	l.state.domains[domain] = st
	metrics.SetDomainRate(domain, rps)
	return st
}
