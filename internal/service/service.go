package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"matchpicks/internal/claims"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/quota"
	"matchpicks/internal/scheduler"
)

var (
	// ErrSyncDisabled is returned when no fixture provider is configured.
	ErrSyncDisabled = errors.New("fixture sync is not configured")
	// ErrBusy is returned when the same job is already running.
	ErrBusy = errors.New("job already running")
)

// Sweeper archives claims on finished fixtures.
type Sweeper interface {
	SweepFinished(ctx context.Context) (claims.SweepResult, error)
}

// FixtureSyncer refreshes stored fixture snapshots from the provider.
type FixtureSyncer interface {
	Sync(ctx context.Context) (fixtures.SyncSummary, error)
	SyncRange(ctx context.Context, from, to time.Time) (fixtures.SyncSummary, error)
}

// QuotaReader exposes the provider call budget.
type QuotaReader interface {
	Status(ctx context.Context) (quota.Status, error)
}

// QuotaObserver reacts to quota status changes.
type QuotaObserver interface {
	Observe(ctx context.Context, status quota.Status, now time.Time) (bool, error)
}

// Options configure the background loops.
type Options struct {
	SweepInterval   time.Duration
	SyncInterval    time.Duration
	AlignToInterval bool
	StartupDelay    time.Duration
}

// Service runs the periodic sweep and fixture sync jobs and exposes them
// for on-demand use.
type Service struct {
	opts     Options
	sweeper  Sweeper
	syncer   FixtureSyncer
	quota    QuotaReader
	observer QuotaObserver
	logger   zerolog.Logger
	now      func() time.Time

	sweepMu sync.Mutex
	syncMu  sync.Mutex
}

// New constructs the service. syncer and observer may be nil.
func New(opts Options, sweeper Sweeper, syncer FixtureSyncer, q QuotaReader, observer QuotaObserver, logger zerolog.Logger) *Service {
	return &Service{
		opts:     opts,
		sweeper:  sweeper,
		syncer:   syncer,
		quota:    q,
		observer: observer,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping on SweepInterval and, when
// SyncInterval is positive, syncing fixtures on that interval.
func (s *Service) Run(ctx context.Context) error {
	sweepSched, err := scheduler.New("sweep", scheduler.Options{
		Interval:        s.opts.SweepInterval,
		AlignToInterval: s.opts.AlignToInterval,
		StartupDelay:    s.opts.StartupDelay,
	}, s.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweepSched.Run(ctx, func(ctx context.Context, tick time.Time) error {
			_, err := s.Sweep(ctx)
			return err
		})
	})

	if s.opts.SyncInterval > 0 && s.syncer != nil {
		syncSched, err := scheduler.New("sync", scheduler.Options{
			Interval:        s.opts.SyncInterval,
			AlignToInterval: s.opts.AlignToInterval,
			StartupDelay:    s.opts.StartupDelay,
		}, s.logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return syncSched.Run(ctx, func(ctx context.Context, tick time.Time) error {
				_, err := s.SyncFixtures(ctx)
				if errors.Is(err, ErrBusy) {
					s.logger.Debug().Time("tick", tick).Msg("skip sync because another sync is running")
					return nil
				}
				return err
			})
		})
	} else {
		s.logger.Info().Msg("periodic fixture sync disabled")
	}

	return g.Wait()
}

// Sweep archives claims whose fixtures have finished. Concurrent callers
// are serialised.
func (s *Service) Sweep(ctx context.Context) (claims.SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	result, err := s.sweeper.SweepFinished(ctx)
	if err != nil {
		return result, fmt.Errorf("sweep finished claims: %w", err)
	}
	s.logger.Info().
		Int("checked", result.Checked).
		Int("archived", result.Archived).
		Int("missing", result.Missing).
		Msg("sweep complete")
	return result, nil
}

// SyncFixtures refreshes fixtures for the configured window and then
// evaluates quota alerts. It returns ErrBusy if a sync is already running.
func (s *Service) SyncFixtures(ctx context.Context) (fixtures.SyncSummary, error) {
	return s.runSync(ctx, func(ctx context.Context) (fixtures.SyncSummary, error) {
		return s.syncer.Sync(ctx)
	})
}

// SyncRange is SyncFixtures over an explicit date window.
func (s *Service) SyncRange(ctx context.Context, from, to time.Time) (fixtures.SyncSummary, error) {
	return s.runSync(ctx, func(ctx context.Context) (fixtures.SyncSummary, error) {
		return s.syncer.SyncRange(ctx, from, to)
	})
}

func (s *Service) runSync(ctx context.Context, run func(context.Context) (fixtures.SyncSummary, error)) (fixtures.SyncSummary, error) {
	if s.syncer == nil {
		return fixtures.SyncSummary{}, ErrSyncDisabled
	}
	if !s.syncMu.TryLock() {
		return fixtures.SyncSummary{}, ErrBusy
	}
	defer s.syncMu.Unlock()

	summary, err := run(ctx)
	if err != nil {
		return summary, fmt.Errorf("sync fixtures: %w", err)
	}
	if _, err := s.CheckQuota(ctx); err != nil {
		s.logger.Error().Err(err).Msg("quota alert check failed")
	}
	return summary, nil
}

// CheckQuota reads the quota status and passes it to the observer.
func (s *Service) CheckQuota(ctx context.Context) (quota.Status, error) {
	status, err := s.quota.Status(ctx)
	if err != nil {
		return status, fmt.Errorf("read quota status: %w", err)
	}
	if s.observer == nil {
		return status, nil
	}
	sent, err := s.observer.Observe(ctx, status, s.now().UTC())
	if err != nil {
		return status, fmt.Errorf("dispatch quota alert: %w", err)
	}
	if sent {
		s.logger.Info().Int("count", status.Count).Bool("blocked", status.IsBlocked).Msg("quota alert dispatched")
	}
	return status, nil
}
