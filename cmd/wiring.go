package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/clock/system"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/detect"
	"github.com/JakeFAU/pricewatch/internal/engine"
	collyfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/pricewatch/internal/fetcher/headless"
	"github.com/JakeFAU/pricewatch/internal/hash/sha256"
	"github.com/JakeFAU/pricewatch/internal/id/uuid"
	"github.com/JakeFAU/pricewatch/internal/notify"
	pubsubpublisher "github.com/JakeFAU/pricewatch/internal/publisher/pubsub"
	"github.com/JakeFAU/pricewatch/internal/storage/gcs"
	"github.com/JakeFAU/pricewatch/internal/storage/local"
	"github.com/JakeFAU/pricewatch/internal/storage/memory"
	"github.com/JakeFAU/pricewatch/internal/storage/postgres"
	"github.com/JakeFAU/pricewatch/internal/storage/sqlite"
	"github.com/JakeFAU/pricewatch/internal/strategy"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// services holds the long-lived collaborators built from config. close
// releases them in reverse order of creation.
type services struct {
	store   tracker.Store
	engine  *engine.Engine
	closers []func() error
}

func (s *services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *services) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServices wires the store, notifier, loaders and strategies into an
// Engine. On error everything built so far is closed.
func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			if cerr := svc.close(); cerr != nil {
				logger.Warn("cleanup after failed setup", zap.Error(cerr))
			}
		}
	}()

	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	svc.store = store
	svc.onClose(store.Close)

	notifier, err := buildNotifier(ctx, cfg.Notify, svc, logger)
	if err != nil {
		return nil, err
	}

	snapshots, err := buildSnapshots(ctx, cfg.Snapshots, svc)
	if err != nil {
		return nil, err
	}

	strat := buildStrategy(cfg, snapshots, svc, logger)

	threshold, err := cfg.Detect.Threshold()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Config{
		Timeout:     cfg.Cycle.Timeout,
		Concurrency: cfg.Cycle.Concurrency,
		Transport:   cfg.Notify.Transport,
		RateLimit:   cfg.RateLimit,
		Retry:       cfg.RetryConfig(),
		Detect:      detect.Config{PriceThreshold: threshold},
	}, engine.Deps{
		Strategy: strat,
		Store:    store,
		Notifier: notifier,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Hasher:   sha256.New(),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	svc.engine = eng
	return svc, nil
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (tracker.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewPriceStore(), nil
	case "sqlite":
		store, err := sqlite.New(ctx, sqlite.Config{DSN: cfg.DSN, TablePrefix: cfg.TablePrefix})
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.NewPriceStore(ctx, postgres.Config{
			DSN:         cfg.DSN,
			TablePrefix: cfg.TablePrefix,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildNotifier returns the configured transport behind the per-minute cap.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, svc *services, logger *zap.Logger) (tracker.Notifier, error) {
	var next tracker.Notifier
	switch cfg.Transport {
	case "none":
		return notify.Discard{}, nil
	case "log":
		next = notify.NewLog(logger)
	case "memory":
		next = notify.NewMemory()
	case "ntfy":
		ntfy, err := notify.NewNtfy(notify.NtfyConfig{
			URL:     cfg.URL,
			Title:   cfg.Title,
			Tags:    cfg.Tags,
			Timeout: cfg.Timeout,
		}, &http.Client{Timeout: cfg.Timeout})
		if err != nil {
			return nil, fmt.Errorf("init ntfy notifier: %w", err)
		}
		next = ntfy
	case "pubsub":
		pub, err := pubsubpublisher.Open(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		svc.onClose(pub.Close)
		ps, err := notify.NewPubSub(pub, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		next = ps
	default:
		return nil, fmt.Errorf("unknown notify transport %q", cfg.Transport)
	}
	return notify.NewCapped(next, cfg.PerMinute, logger), nil
}

// buildSnapshots returns nil when drift snapshots are switched off.
func buildSnapshots(ctx context.Context, cfg config.SnapshotConfig, svc *services) (tracker.BlobStore, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshots: %w", err)
		}
		return store, nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshots: %w", err)
		}
		svc.onClose(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown snapshot provider %q", cfg.Provider)
	}
}

func buildStrategy(cfg config.Config, snapshots tracker.BlobStore, svc *services, logger *zap.Logger) tracker.Strategy {
	loader := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
	})

	var renderer tracker.PageLoader = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SelectorWait:      cfg.Headless.SelectorWait,
		})
		if err != nil {
			logger.Warn("headless renderer unavailable, render_js sites will fail", zap.Error(err))
		} else {
			renderer = chrome
			svc.onClose(func() error {
				chrome.Close()
				return nil
			})
		}
	}

	clock := system.New()
	api := strategy.NewAPI(loader, clock, cfg.HTTP.ThrottleMarkers)
	scrape := strategy.NewScrape(strategy.ScrapeConfig{
		Loader:          loader,
		Renderer:        renderer,
		Snapshots:       snapshots,
		Hasher:          sha256.New(),
		Clock:           clock,
		ThrottleMarkers: cfg.HTTP.ThrottleMarkers,
		Logger:          logger.Named("scrape"),
	})
	return strategy.NewSet(api, scrape)
}
