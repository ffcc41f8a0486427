package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"matchpicks/internal/app"
)

var (
	analyticsPNGPath string
	analyticsCSVPath string
	analyticsDir     string
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show or export provider calls per day",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if analyticsCSVPath == "" && analyticsPNGPath == "" {
			return a.Analytics(cmd.Context(), cmd.OutOrStdout())
		}

		dir := a.Config.ResolveExportDir(analyticsDir)
		opts := app.ExportOptions{
			PNGPath: exportPath(dir, analyticsPNGPath),
			CSVPath: exportPath(dir, analyticsCSVPath),
		}
		return a.Export(cmd.Context(), opts)
	},
}

// exportPath places bare file names under dir.
func exportPath(dir, path string) string {
	if path == "" || dir == "" || filepath.Dir(path) != "." {
		return path
	}
	return filepath.Join(dir, path)
}

func init() {
	analyticsCmd.Flags().StringVar(&analyticsPNGPath, "png", "", "Path to write PNG chart")
	analyticsCmd.Flags().StringVar(&analyticsCSVPath, "csv", "", "Path to write CSV data")
	analyticsCmd.Flags().StringVar(&analyticsDir, "dir", "", "Directory for bare file names (defaults to export.dir)")
}
