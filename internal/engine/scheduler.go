package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Source returns the sites and products for the next cycle. It is called
// before every cycle so catalog edits apply without a restart.
type Source func() ([]tracker.Site, []tracker.Product, error)

// Scheduler runs a cycle on start, then on every interval tick and on
// demand, until its context ends.
type Scheduler struct {
	engine   *Engine
	source   Source
	interval time.Duration
	onReport func(tracker.CycleReport)
	logger   *zap.Logger

	trigger chan struct{}
	busy    atomic.Bool
}

// NewScheduler builds a Scheduler. onReport may be nil.
func NewScheduler(e *Engine, source Source, interval time.Duration, onReport func(tracker.CycleReport), logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   e,
		source:   source,
		interval: interval,
		onReport: onReport,
		logger:   logger.Named("scheduler"),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks for a cycle now. It returns false when a cycle is running or
// already pending.
func (s *Scheduler) Trigger() bool {
	if s.busy.Load() {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.busy.Load()
}

// Run blocks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
			ticker.Reset(s.interval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.busy.Store(true)
	defer s.busy.Store(false)

	sites, products, err := s.source()
	if err != nil {
		s.logger.Error("load catalog failed, skipping cycle", zap.Error(err))
		return
	}
	report, err := s.engine.TryRunCycle(ctx, sites, products)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Warn("previous cycle still running, skipping")
		return
	case err != nil:
		s.logger.Error("cycle rejected", zap.Error(err))
		return
	}
	if s.onReport != nil {
		s.onReport(report)
	}
}
