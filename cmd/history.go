package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/report"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <url>",
		Short: "Print the stored price history of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := buildStore(ctx, opts.cfg.Store)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					opts.logger.Warn("close store", zap.Error(cerr))
				}
			}()

			records, err := store.History(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No observations stored for", args[0])
				return nil
			}
			report.History(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of observations, newest first (0 for all)")
	return cmd
}
