package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"matchpicks/internal/app"
)

var (
	historyUser  string
	historyLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the provider call budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), cmd.OutOrStdout())
	},
}

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Display active fixture claims",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Claims(cmd.Context(), cmd.OutOrStdout())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display archived claims, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.HistoryOptions{
			User:  historyUser,
			Limit: historyLimit,
		}

		return getApp().History(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyUser, "user", "", "Only show this user's history")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to display (0 for all)")
}
