package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"matchpicks/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
	backfillChunk  int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Sync fixtures for a past date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.DateOnly, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.DateOnly, backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			Chunk:  backfillChunk,
			DryRun: backfillDryRun,
		}

		summary, err := getApp().Backfill(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if !backfillDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "fixtures: %d\napi calls: %d\nquota exhausted: %t\n",
				summary.TotalFixtures, summary.APICallsUsed, summary.QuotaExhausted)
		}
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Log the windows without calling the provider")
	backfillCmd.Flags().IntVar(&backfillChunk, "chunk-days", 7, "Days per provider request window")
}
