package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/config"
	"matchpicks/internal/fixtures"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Backend: config.BackendFile,
			File:    config.FileConfig{Dir: t.TempDir()},
		},
		Quota: config.QuotaConfig{
			SoftLimit:      75,
			HardLimit:      100,
			Window:         7 * 24 * time.Hour,
			NearLimitRatio: 0.9,
		},
		Fixtures:  config.FixturesConfig{Source: config.FixtureSourceStore},
		Scheduler: config.SchedulerConfig{SweepInterval: time.Minute},
	}
	return NewApp(cfg, zerolog.Nop())
}

func seed(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	rt, err := a.open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.close()

	kickoff := time.Date(2030, 5, 1, 15, 0, 0, 0, time.UTC)
	err = rt.fixtures.Save(ctx, []fixtures.Snapshot{
		{FixtureID: 11, StatusShort: "NS", HomeTeam: "Arsenal", AwayTeam: "Chelsea", Kickoff: kickoff, LeagueName: "Premier League"},
		{FixtureID: 12, StatusShort: "NS", HomeTeam: "Lyon", AwayTeam: "Lille", Kickoff: kickoff, LeagueName: "Ligue 1"},
	})
	if err != nil {
		t.Fatalf("save fixtures: %v", err)
	}
	if _, err := rt.registry.Claim(ctx, 11, "alice"); err != nil {
		t.Fatalf("claim 11: %v", err)
	}
	if _, err := rt.registry.Claim(ctx, 12, "bob"); err != nil {
		t.Fatalf("claim 12: %v", err)
	}
	home, away := 2, 1
	err = rt.fixtures.Save(ctx, []fixtures.Snapshot{
		{FixtureID: 12, StatusShort: "FT", StatusLong: "Match Finished", HomeTeam: "Lyon", AwayTeam: "Lille", Kickoff: kickoff, HomeGoals: &home, AwayGoals: &away},
	})
	if err != nil {
		t.Fatalf("finish fixture: %v", err)
	}
	if _, err := rt.tracker.RecordCall(ctx, "/fixtures", "system", nil); err != nil {
		t.Fatalf("record call: %v", err)
	}
}

func TestReportsAfterSweep(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)
	seed(t, a)

	result, err := a.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Checked != 2 || result.Archived != 1 {
		t.Fatalf("unexpected sweep result %+v", result)
	}

	var out bytes.Buffer
	if err := a.Claims(ctx, &out); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if !strings.Contains(out.String(), "Arsenal vs Chelsea") || strings.Contains(out.String(), "Lyon") {
		t.Fatalf("unexpected claims report:\n%s", out.String())
	}

	out.Reset()
	if err := a.History(ctx, HistoryOptions{User: "bob"}, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "2-1") || !strings.Contains(out.String(), "Match Finished") {
		t.Fatalf("unexpected history report:\n%s", out.String())
	}

	out.Reset()
	if err := a.History(ctx, HistoryOptions{User: "alice"}, &out); err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no history found" {
		t.Fatalf("unexpected empty history output %q", out.String())
	}

	out.Reset()
	if err := a.Status(ctx, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "1/75") || !strings.Contains(out.String(), "/fixtures") {
		t.Fatalf("unexpected status report:\n%s", out.String())
	}
}

func TestSyncWithoutProviderKey(t *testing.T) {
	a := testApp(t)
	if _, err := a.Sync(context.Background()); err == nil {
		t.Fatal("expected sync to fail without a provider key")
	}
}

func TestExportWritesCSVAndPNG(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)
	seed(t, a)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "calls.csv")
	pngPath := filepath.Join(dir, "out", "calls.png")
	if err := a.Export(ctx, ExportOptions{CSVPath: csvPath, PNGPath: pngPath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	raw, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 || lines[0] != "day,calls" || !strings.HasSuffix(lines[1], ",1") {
		t.Fatalf("unexpected csv:\n%s", raw)
	}

	png, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("png output is not a PNG")
	}

	if err := a.Export(ctx, ExportOptions{}); err == nil {
		t.Fatal("expected an error when no output is requested")
	}
}

func TestResetQuota(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)
	seed(t, a)

	state, err := a.ResetQuota(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(state.Calls) != 0 || state.LastReset.IsZero() {
		t.Fatalf("unexpected state after reset %+v", state)
	}
}

func TestBackfillWindows(t *testing.T) {
	from := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)

	windows := backfillWindows(from, to, 7)
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	if got := windows[0][1].Format(time.DateOnly); got != "2024-01-07" {
		t.Fatalf("first window should end on 2024-01-07, got %s", got)
	}
	if got := windows[2]; got[0].Format(time.DateOnly) != "2024-01-15" || got[1].Format(time.DateOnly) != "2024-01-17" {
		t.Fatalf("last window should be clipped to the range end, got %v", got)
	}
	if backfillWindows(to, from, 7) != nil {
		t.Fatal("an inverted range yields no windows")
	}
}

func TestBackfillDryRun(t *testing.T) {
	a := testApp(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.Backfill(context.Background(), BackfillOptions{From: from, To: from.AddDate(0, 0, 20), DryRun: true}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if _, err := a.Backfill(context.Background(), BackfillOptions{From: from, To: from.AddDate(0, 0, -1)}); err == nil {
		t.Fatal("expected an empty range to be rejected")
	}
}

func TestAnalyticsReport(t *testing.T) {
	a := testApp(t)
	seed(t, a)

	var out bytes.Buffer
	if err := a.Analytics(context.Background(), &out); err != nil {
		t.Fatalf("analytics: %v", err)
	}
	report := out.String()
	if !strings.Contains(report, "Total calls") || !strings.Contains(report, "/fixtures") || !strings.Contains(report, "system") {
		t.Fatalf("unexpected analytics report:\n%s", report)
	}
}
