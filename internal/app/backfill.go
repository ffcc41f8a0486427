package app

import (
	"context"
	"errors"
	"time"

	"matchpicks/internal/fixtures"
)

const defaultBackfillChunk = 7

// Backfill syncs fixtures for a past date range, one window at a time. It
// stops early once the call budget is spent.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (fixtures.SyncSummary, error) {
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = defaultBackfillChunk
	}

	windows := backfillWindows(opts.From, opts.To, chunk)
	if len(windows) == 0 {
		return fixtures.SyncSummary{}, errors.New("backfill range is empty; check --from/--to")
	}

	if opts.DryRun {
		for _, w := range windows {
			a.Logger.Info().
				Str("from", w[0].Format(time.DateOnly)).
				Str("to", w[1].Format(time.DateOnly)).
				Msg("backfill dry-run window")
		}
		return fixtures.SyncSummary{}, nil
	}

	rt, err := a.open(ctx)
	if err != nil {
		return fixtures.SyncSummary{}, err
	}
	defer rt.close()

	var total fixtures.SyncSummary
	started := time.Now()
	for _, w := range windows {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		summary, err := rt.service.SyncRange(ctx, w[0], w[1])
		if err != nil {
			return total, err
		}
		total = mergeSummaries(total, summary)
		if summary.QuotaExhausted {
			a.Logger.Warn().Str("stopped_at", w[0].Format(time.DateOnly)).Msg("backfill stopped: call budget exhausted")
			break
		}
	}
	total.Duration = time.Since(started)

	a.Logger.Info().
		Int("fixtures", total.TotalFixtures).
		Int("api_calls", total.APICallsUsed).
		Int("windows", len(windows)).
		Msg("backfill complete")
	return total, nil
}

// backfillWindows splits [from, to] into day-aligned windows of chunk days.
func backfillWindows(from, to time.Time, chunk int) [][2]time.Time {
	start := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		return nil
	}
	step := time.Duration(chunk) * 24 * time.Hour
	var windows [][2]time.Time
	for w := start; !w.After(end); w = w.Add(step) {
		last := w.Add(step - 24*time.Hour)
		if last.After(end) {
			last = end
		}
		windows = append(windows, [2]time.Time{w, last})
	}
	return windows
}

func mergeSummaries(acc, s fixtures.SyncSummary) fixtures.SyncSummary {
	acc.TotalFixtures += s.TotalFixtures
	acc.Saved += s.Saved
	acc.LeaguesSynced += s.LeaguesSynced
	acc.APICallsUsed += s.APICallsUsed
	acc.QuotaExhausted = acc.QuotaExhausted || s.QuotaExhausted
	acc.Details = append(acc.Details, s.Details...)
	return acc
}
