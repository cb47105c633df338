package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/api"
	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/engine"
	"github.com/JakeFAU/pricewatch/internal/report"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run check cycles on a schedule and serve the HTTP API",
		Long: `Runs a cycle at start and then every cycle.interval. The catalog is
re-read before each cycle. The HTTP API on server.port exposes health,
metrics, the latest report, limiter state and price history, and can
trigger a cycle. SIGINT or SIGTERM drains the server and stops.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.cfg, opts.logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.close(); cerr != nil {
			logger.Warn("close services", zap.Error(cerr))
		}
	}()

	source := func() ([]tracker.Site, []tracker.Product, error) {
		cat, err := catalog.Load(cfg.Catalog.Path, logger.Named("catalog"))
		if err != nil {
			return nil, nil, err
		}
		return cat.Sites, cat.Products, nil
	}
	onReport := func(r tracker.CycleReport) {
		if cfg.Report.Output == "" {
			return
		}
		if err := report.WriteFile(cfg.Report.Output, r); err != nil {
			logger.Warn("write cycle report failed", zap.Error(err))
		}
	}
	scheduler := engine.NewScheduler(svc.engine, source, cfg.Cycle.Interval, onReport, logger)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(svc.engine, scheduler, svc.store, api.Config{
		APIKey:         apiKey,
		RequestTimeout: cfg.HTTP.Timeout,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		logger.Info("scheduler started", zap.Duration("interval", cfg.Cycle.Interval))
		scheduler.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-schedulerDone
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
