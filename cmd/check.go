package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/catalog"
	"github.com/JakeFAU/pricewatch/internal/report"
)

// newCheckCmd runs a single cycle. Per-URL failures end up in the report;
// the command fails only when it cannot set up or write the report.
func newCheckCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one check cycle over the catalog",
		Long: `Fetches every product URL in the catalog once, stores the observations,
sends alerts, prints a summary table and writes the JSON cycle report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := opts.logger

			cat, err := catalog.Load(opts.cfg.Catalog.Path, logger.Named("catalog"))
			if err != nil {
				return err
			}
			svc, err := buildServices(ctx, opts.cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := svc.close(); cerr != nil {
					logger.Warn("close services", zap.Error(cerr))
				}
			}()

			result, err := svc.engine.RunCycle(ctx, cat.Sites, cat.Products)
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}
			report.Table(cmd.OutOrStdout(), result)

			if output == "" {
				output = opts.cfg.Report.Output
			}
			if err := report.WriteFile(output, result); err != nil {
				return err
			}
			logger.Info("report written", zap.String("path", output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "report path (default from report.output, output.json)")
	return cmd
}
