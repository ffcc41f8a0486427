package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/claims"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/quota"
)

type fakeSweeper struct {
	calls  atomic.Int32
	result claims.SweepResult
	err    error
}

func (f *fakeSweeper) SweepFinished(context.Context) (claims.SweepResult, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type fakeSyncer struct {
	calls   int
	summary fixtures.SyncSummary
	err     error
	started chan struct{}
	block   chan struct{}
	from    time.Time
	to      time.Time
}

func (f *fakeSyncer) Sync(context.Context) (fixtures.SyncSummary, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.summary, f.err
}

func (f *fakeSyncer) SyncRange(_ context.Context, from, to time.Time) (fixtures.SyncSummary, error) {
	f.calls++
	f.from, f.to = from, to
	return f.summary, f.err
}

type fakeQuota struct {
	status quota.Status
	err    error
}

func (f *fakeQuota) Status(context.Context) (quota.Status, error) { return f.status, f.err }

type fakeObserver struct {
	seen []quota.Status
}

func (f *fakeObserver) Observe(_ context.Context, status quota.Status, _ time.Time) (bool, error) {
	f.seen = append(f.seen, status)
	return status.IsBlocked, nil
}

func TestSweepWrapsErrors(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("store down")}
	svc := New(Options{SweepInterval: time.Minute}, sweeper, nil, &fakeQuota{}, nil, zerolog.Nop())

	if _, err := svc.Sweep(context.Background()); err == nil || !errors.Is(err, sweeper.err) {
		t.Fatalf("expected wrapped sweep error, got %v", err)
	}

	sweeper.err = nil
	sweeper.result = claims.SweepResult{Checked: 3, Archived: 1}
	result, err := svc.Sweep(context.Background())
	if err != nil || result.Archived != 1 {
		t.Fatalf("unexpected sweep result %+v err=%v", result, err)
	}
}

func TestSyncFixturesChecksQuota(t *testing.T) {
	syncer := &fakeSyncer{summary: fixtures.SyncSummary{TotalFixtures: 12, APICallsUsed: 2}}
	q := &fakeQuota{status: quota.Status{Count: 75, SoftLimit: 75, IsBlocked: true}}
	observer := &fakeObserver{}
	svc := New(Options{SweepInterval: time.Minute}, &fakeSweeper{}, syncer, q, observer, zerolog.Nop())

	summary, err := svc.SyncFixtures(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.TotalFixtures != 12 || syncer.calls != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(observer.seen) != 1 || !observer.seen[0].IsBlocked {
		t.Fatalf("expected the observer to see the blocked status, got %+v", observer.seen)
	}
}

func TestSyncRangePassesWindow(t *testing.T) {
	syncer := &fakeSyncer{}
	svc := New(Options{SweepInterval: time.Minute}, &fakeSweeper{}, syncer, &fakeQuota{}, nil, zerolog.Nop())
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 14)

	if _, err := svc.SyncRange(context.Background(), from, to); err != nil {
		t.Fatalf("sync range: %v", err)
	}
	if !syncer.from.Equal(from) || !syncer.to.Equal(to) {
		t.Fatalf("window not forwarded: %v..%v", syncer.from, syncer.to)
	}
}

func TestSyncFixturesWithoutProvider(t *testing.T) {
	svc := New(Options{SweepInterval: time.Minute}, &fakeSweeper{}, nil, &fakeQuota{}, nil, zerolog.Nop())
	if _, err := svc.SyncFixtures(context.Background()); !errors.Is(err, ErrSyncDisabled) {
		t.Fatalf("expected ErrSyncDisabled, got %v", err)
	}
}

func TestSyncFixturesRejectsOverlap(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}), block: make(chan struct{})}
	svc := New(Options{SweepInterval: time.Minute}, &fakeSweeper{}, syncer, &fakeQuota{}, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.SyncFixtures(context.Background())
		done <- err
	}()

	select {
	case <-syncer.started:
	case <-time.After(time.Second):
		t.Fatal("first sync never started")
	}

	if _, err := svc.SyncFixtures(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(syncer.block)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := New(Options{SweepInterval: 5 * time.Millisecond}, sweeper, nil, &fakeQuota{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sweeper.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper was not invoked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	svc := New(Options{}, &fakeSweeper{}, nil, &fakeQuota{}, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected an error for a zero sweep interval")
	}
}
