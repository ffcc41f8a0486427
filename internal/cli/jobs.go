package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive claims on finished fixtures once",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := getApp().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked: %d\narchived: %d\nmissing: %d\n", result.Checked, result.Archived, result.Missing)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch fixtures for the configured leagues once",
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := getApp().Sync(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "fixtures: %d\nleagues: %d\napi calls: %d\nquota exhausted: %t\nduration: %s\n",
			summary.TotalFixtures, summary.LeaguesSynced, summary.APICallsUsed, summary.QuotaExhausted, summary.Duration)
		for _, line := range summary.Details {
			fmt.Fprintf(out, "  %s\n", line)
		}
		return nil
	},
}

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the provider call history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			return fmt.Errorf("reset discards every recorded call; pass --force to confirm")
		}
		state, err := getApp().ResetQuota(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "quota reset at %s\n", state.LastReset.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Confirm the reset")
}
