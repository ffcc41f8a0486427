package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"matchpicks/internal/claims"
	"matchpicks/internal/quota"
)

// Status prints the current call budget and the most recent calls.
func (a *App) Status(ctx context.Context, out io.Writer) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	status, err := rt.tracker.Status(ctx)
	if err != nil {
		return err
	}
	writeStatus(out, status)
	return nil
}

// Analytics prints in-window calls per day, endpoint and user.
func (a *App) Analytics(ctx context.Context, out io.Writer) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	analytics, err := rt.tracker.Analytics(ctx)
	if err != nil {
		return err
	}
	writeAnalytics(out, analytics)
	return nil
}

// Claims prints the active claims.
func (a *App) Claims(ctx context.Context, out io.Writer) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	active, err := rt.registry.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Fprintln(out, "no active claims")
		return nil
	}
	writeClaims(out, active)
	return nil
}

// History prints archived claims, newest first.
func (a *App) History(ctx context.Context, opts HistoryOptions, out io.Writer) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	entries, err := rt.registry.History(ctx, opts.User)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "no history found")
		return nil
	}
	writeHistory(out, entries)
	return nil
}

func writeStatus(out io.Writer, s quota.Status) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Calls\t%d/%d (hard limit %d)\n", s.Count, s.SoftLimit, s.HardLimit)
	fmt.Fprintf(writer, "Remaining\t%d\n", s.Remaining)
	fmt.Fprintf(writer, "Usage\t%s%%\n", s.UsagePercent.StringFixed(1))
	fmt.Fprintf(writer, "Blocked\t%t\n", s.IsBlocked)
	fmt.Fprintf(writer, "Near limit\t%t\n", s.IsNearLimit)
	fmt.Fprintf(writer, "Window start\t%s\n", formatTime(s.WindowStart))
	if s.OldestCallExpiry != nil {
		fmt.Fprintf(writer, "Next slot\t%s\n", formatTime(*s.OldestCallExpiry))
	}
	if !s.LastReset.IsZero() {
		fmt.Fprintf(writer, "Last reset\t%s\n", formatTime(s.LastReset))
	}
	writer.Flush()

	if len(s.RecentCalls) == 0 {
		return
	}
	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEndpoint\tUser")
	for _, call := range s.RecentCalls {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", formatTime(call.Timestamp), sanitizeInline(call.Endpoint), sanitizeInline(call.User))
	}
	writer.Flush()
}

func writeAnalytics(out io.Writer, a quota.Analytics) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Window\t%s .. %s\n", formatTime(a.WindowStart), formatTime(a.WindowEnd))
	fmt.Fprintf(writer, "Total calls\t%d\n", a.TotalCalls)
	writer.Flush()
	if a.TotalCalls == 0 {
		return
	}

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Day\tCalls")
	for _, d := range a.Days() {
		fmt.Fprintf(writer, "%s\t%d\n", d.Day, d.Calls)
	}
	writer.Flush()

	writeCounts(out, "Endpoint", a.ByEndpoint)
	writeCounts(out, "User", a.ByUser)
}

func writeCounts(out io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "%s\tCalls\n", label)
	for _, k := range keys {
		fmt.Fprintf(writer, "%s\t%d\n", sanitizeInline(k), counts[k])
	}
	writer.Flush()
}

func writeClaims(out io.Writer, active []claims.Claim) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fixture\tMatch\tKickoff (UTC)\tLeague\tUser\tClaimed (UTC)")
	for _, c := range active {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.FixtureID,
			sanitizeInline(c.HomeTeam+" vs "+c.AwayTeam),
			formatTime(c.Date),
			sanitizeInline(c.LeagueName),
			sanitizeInline(c.Username),
			formatTime(c.ClaimedAt),
		)
	}
	writer.Flush()
}

func writeHistory(out io.Writer, entries []claims.HistoryEntry) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Archived (UTC)\tFixture\tMatch\tScore\tStatus\tUser")
	for _, e := range entries {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%d-%d\t%s\t%s\n",
			formatTime(e.ArchivedAt),
			e.FixtureID,
			sanitizeInline(e.HomeTeam+" vs "+e.AwayTeam),
			e.FinalScore.Home, e.FinalScore.Away,
			sanitizeInline(e.MatchStatus),
			sanitizeInline(e.Username),
		)
	}
	writer.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
