package fixtures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/quota"
)

// SyncOptions parameterise a sync pass.
type SyncOptions struct {
	Season        int
	Leagues       []int
	DateRangeDays int
	RequestDelay  time.Duration
}

// SyncSummary reports what a sync pass did.
type SyncSummary struct {
	TotalFixtures  int           `json:"totalFixtures"`
	Saved          int           `json:"saved"`
	LeaguesSynced  int           `json:"leaguesSynced"`
	APICallsUsed   int           `json:"apiCallsUsed"`
	QuotaExhausted bool          `json:"quotaExhausted"`
	Duration       time.Duration `json:"duration"`
	Details        []string      `json:"details"`
}

// Syncer pulls fixtures for the configured leagues into a repository.
type Syncer struct {
	fetcher Fetcher
	repo    Repository
	opts    SyncOptions
	logger  zerolog.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewSyncer constructs a syncer.
func NewSyncer(fetcher Fetcher, repo Repository, opts SyncOptions, logger zerolog.Logger) *Syncer {
	return &Syncer{
		fetcher: fetcher,
		repo:    repo,
		opts:    opts,
		logger:  logger.With().Str("component", "fixture_sync").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Sync fetches each league in turn. A failing league is recorded in the
// details and skipped; quota exhaustion or a provider rate limit stops the
// pass early.
func (s *Syncer) Sync(ctx context.Context) (SyncSummary, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)
	span := time.Duration(s.opts.DateRangeDays) * 24 * time.Hour
	return s.SyncRange(ctx, today.Add(-span), today.Add(span))
}

// SyncRange is Sync over an explicit date window.
func (s *Syncer) SyncRange(ctx context.Context, from, to time.Time) (SyncSummary, error) {
	if to.Before(from) {
		return SyncSummary{}, fmt.Errorf("sync range: from %s is after to %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	started := s.now()
	summary := SyncSummary{Details: make([]string, 0, len(s.opts.Leagues))}
	s.logger.Info().
		Int("leagues", len(s.opts.Leagues)).
		Str("from", from.Format(time.DateOnly)).
		Str("to", to.Format(time.DateOnly)).
		Msg("fixture sync started")

	for i, league := range s.opts.Leagues {
		if i > 0 && s.opts.RequestDelay > 0 {
			if err := s.sleep(ctx, s.opts.RequestDelay); err != nil {
				return s.finish(summary, started), err
			}
		}

		snaps, err := s.fetcher.FetchFixtures(ctx, Query{League: league, Season: s.opts.Season, From: from, To: to})
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(summary, started), ctx.Err()
			}
			summary.Details = append(summary.Details, fmt.Sprintf("league %d: error: %v", league, err))
			if errors.Is(err, quota.ErrQuotaExceeded) || errors.Is(err, ErrProviderRateLimited) {
				summary.QuotaExhausted = true
				s.logger.Warn().Err(err).Int("league", league).Msg("fixture sync stopped early")
				break
			}
			s.logger.Error().Err(err).Int("league", league).Msg("league fetch failed")
			continue
		}
		summary.APICallsUsed++

		if len(snaps) == 0 {
			summary.Details = append(summary.Details, fmt.Sprintf("league %d: no fixtures", league))
			continue
		}
		if err := s.repo.Save(ctx, snaps); err != nil {
			summary.Details = append(summary.Details, fmt.Sprintf("league %d: save failed: %v", league, err))
			s.logger.Error().Err(err).Int("league", league).Msg("saving fixtures failed")
			continue
		}
		summary.TotalFixtures += len(snaps)
		summary.Saved += len(snaps)
		summary.LeaguesSynced++
		summary.Details = append(summary.Details, fmt.Sprintf("league %d: %d fixtures", league, len(snaps)))
	}

	summary = s.finish(summary, started)
	s.logger.Info().
		Int("fixtures", summary.TotalFixtures).
		Int("leagues_synced", summary.LeaguesSynced).
		Int("api_calls", summary.APICallsUsed).
		Dur("duration", summary.Duration).
		Msg("fixture sync finished")
	return summary, nil
}

func (s *Syncer) finish(summary SyncSummary, started time.Time) SyncSummary {
	summary.Duration = s.now().Sub(started)
	return summary
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
