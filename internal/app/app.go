package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"matchpicks/internal/alerting"
	"matchpicks/internal/claims"
	"matchpicks/internal/config"
	"matchpicks/internal/fetcher"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/httpapi"
	"matchpicks/internal/logging"
	"matchpicks/internal/quota"
	"matchpicks/internal/service"
	"matchpicks/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

// runtime holds the wired components for one command invocation.
type runtime struct {
	store    storage.Port
	tracker  *quota.Tracker
	fixtures fixtures.Repository
	registry *claims.Registry
	syncer   *fixtures.Syncer
	monitor  *alerting.Monitor
	service  *service.Service
	closers  []func() error
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

func (a *App) open(ctx context.Context) (*runtime, error) {
	cfg := a.Config
	rt := &runtime{}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)
	a.Logger.Debug().Str("backend", store.Backend()).Msg("storage opened")

	rt.tracker, err = quota.NewTracker(store, quota.Limits{
		Soft:           cfg.Quota.SoftLimit,
		Hard:           cfg.Quota.HardLimit,
		Window:         cfg.Quota.Window,
		NearLimitRatio: cfg.Quota.NearLimitRatio,
	}, a.Logger)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.fixtures, err = a.openFixtures(ctx, rt)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.registry = claims.NewRegistry(store, rt.fixtures, a.Logger)
	rt.syncer = a.newSyncer(rt)
	rt.monitor = a.newMonitor()

	var syncer service.FixtureSyncer
	if rt.syncer != nil {
		syncer = rt.syncer
	}
	var observer service.QuotaObserver
	if rt.monitor != nil {
		observer = rt.monitor
	}
	rt.service = service.New(service.Options{
		SweepInterval:   cfg.Scheduler.SweepInterval,
		SyncInterval:    cfg.Scheduler.SyncInterval,
		AlignToInterval: cfg.Scheduler.AlignToInterval,
		StartupDelay:    cfg.Scheduler.StartupDelay,
	}, rt.registry, syncer, rt.tracker, observer, a.Logger)

	return rt, nil
}

func (a *App) openFixtures(ctx context.Context, rt *runtime) (fixtures.Repository, error) {
	if a.Config.Fixtures.Source != config.FixtureSourceRedis {
		return fixtures.NewStoreRepository(rt.store), nil
	}
	client, err := fixtures.Connect(ctx, a.Config.Fixtures.Redis.URL)
	if err != nil {
		return nil, err
	}
	repo := fixtures.NewRedisRepository(client, a.Config.Fixtures.Redis.KeyPrefix)
	rt.closers = append(rt.closers, repo.Close)
	return repo, nil
}

func (a *App) newSyncer(rt *runtime) *fixtures.Syncer {
	p := a.Config.Provider
	if p.APIKey == "" {
		a.Logger.Warn().Msg("provider.api_key not configured; fixture sync disabled")
		return nil
	}
	client := fetcher.NewAPIFootball(fetcher.Options{
		BaseURL:   p.BaseURL,
		Host:      p.Host,
		APIKey:    p.APIKey,
		Timeout:   p.Timeout,
		UserAgent: p.UserAgent,
		User:      quota.DefaultUser,
	}, rt.tracker, a.Logger)
	return fixtures.NewSyncer(client, rt.fixtures, fixtures.SyncOptions{
		Season:        p.Season,
		Leagues:       p.Leagues,
		DateRangeDays: p.DateRangeDays,
		RequestDelay:  p.RequestDelay,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newMonitor() *alerting.Monitor {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewMonitor(a.newNotifier(), a.Config.Alerting.Cooldown)
}

// Serve runs the HTTP API and the background loops until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	handler := httpapi.NewHandler(rt.registry, rt.tracker, rt.service, a.Logger)
	server := httpapi.NewServer(a.Config.HTTP, httpapi.NewRouter(handler, a.Logger), a.Logger)

	a.Logger.Info().Str("storage", rt.store.Backend()).Msg("starting matchpicks service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.service.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("matchpicks service stopped")
	return nil
}

// Sweep archives finished claims once.
func (a *App) Sweep(ctx context.Context) (claims.SweepResult, error) {
	rt, err := a.open(ctx)
	if err != nil {
		return claims.SweepResult{}, err
	}
	defer rt.close()
	return rt.service.Sweep(ctx)
}

// Sync refreshes fixtures for the configured window once.
func (a *App) Sync(ctx context.Context) (fixtures.SyncSummary, error) {
	rt, err := a.open(ctx)
	if err != nil {
		return fixtures.SyncSummary{}, err
	}
	defer rt.close()
	return rt.service.SyncFixtures(ctx)
}

// ResetQuota clears the call history.
func (a *App) ResetQuota(ctx context.Context) (quota.State, error) {
	rt, err := a.open(ctx)
	if err != nil {
		return quota.State{}, err
	}
	defer rt.close()
	return rt.tracker.Reset(ctx)
}

// ExportOptions hold parameters for exporting call analytics.
type ExportOptions struct {
	PNGPath string
	CSVPath string
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	User  string
	Limit int
}

// BackfillOptions configure a historical fixture sync.
type BackfillOptions struct {
	From time.Time
	To   time.Time
	// Chunk splits the range into windows of this many days.
	Chunk  int
	DryRun bool
}
