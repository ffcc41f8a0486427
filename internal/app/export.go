package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"

	"matchpicks/internal/quota"
)

// Export writes the in-window call analytics as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	analytics, err := rt.tracker.Analytics(ctx)
	if err != nil {
		return err
	}
	days := analytics.Days()
	if len(days) == 0 {
		a.Logger.Info().Msg("no calls recorded in the current window")
		return nil
	}
	a.Logger.Info().Int("calls", analytics.TotalCalls).Int("days", len(days)).Msg("exporting analytics")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeDaysCSV(w, days) }); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeDaysPNG(w, days, analytics.TotalCalls) }); err != nil {
			return err
		}
	}
	return nil
}

func writeDaysCSV(w io.Writer, days []quota.DayCount) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"day", "calls"}); err != nil {
		return err
	}
	for _, d := range days {
		if err := writer.Write([]string{d.Day, strconv.Itoa(d.Calls)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeDaysPNG(w io.Writer, days []quota.DayCount, total int) error {
	bars := make([]chart.Value, len(days))
	peak := 0
	for i, d := range days {
		bars[i] = chart.Value{Label: d.Day, Value: float64(d.Calls)}
		if d.Calls > peak {
			peak = d.Calls
		}
	}

	graph := chart.BarChart{
		Title:    "Provider calls per day (" + strconv.Itoa(total) + " in window)",
		Width:    1280,
		Height:   720,
		BarWidth: 60,
		YAxis: chart.YAxis{
			Name:  "Calls",
			Range: &chart.ContinuousRange{Min: 0, Max: float64(peak + 1)},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
