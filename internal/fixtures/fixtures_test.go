package fixtures

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/quota"
	"matchpicks/internal/storage"
)

func sampleSnapshot(id int64, status string) Snapshot {
	return Snapshot{
		FixtureID:   id,
		StatusShort: status,
		StatusLong:  "Not Started",
		Kickoff:     time.Date(2024, 3, 16, 15, 0, 0, 0, time.UTC),
		HomeTeam:    "Arsenal",
		AwayTeam:    "Chelsea",
		LeagueID:    39,
		LeagueName:  "Premier League",
		Round:       "Regular Season - 29",
		Season:      2023,
		UpdatedAt:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, code := range []string{"NS", "TBD"} {
		if !IsNotStarted(code) || IsFinished(code) {
			t.Fatalf("%s should be not started", code)
		}
	}
	for _, code := range []string{"FT", "AET", "PEN", "AWD", "WO"} {
		if !IsFinished(code) || IsNotStarted(code) {
			t.Fatalf("%s should be finished", code)
		}
	}
	for _, code := range []string{"1H", "HT", "PST", "CANC", "ABD", ""} {
		if IsFinished(code) || IsNotStarted(code) {
			t.Fatalf("%s should be neither", code)
		}
	}
}

func TestSnapshotScore(t *testing.T) {
	snap := sampleSnapshot(1, "FT")
	snap.HomeGoals = goals(2)
	home, away := snap.Score()
	if home != 2 || away != 0 {
		t.Fatalf("expected 2-0, got %d-%d", home, away)
	}
}

func TestStoreRepository(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	checkRepository(t, NewStoreRepository(store))
}

// checkRepository holds the expectations every Repository must meet.
func checkRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	first := sampleSnapshot(1001, "NS")
	second := sampleSnapshot(1002, "FT")
	second.HomeGoals, second.AwayGoals = goals(2), goals(1)
	if err := repo.Save(ctx, []Snapshot{first, second}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := repo.Get(ctx, 1001)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.HomeTeam != "Arsenal" || !got.Kickoff.Equal(first.Kickoff) || got.HomeGoals != nil {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	if _, found, err := repo.Get(ctx, 9999); err != nil || found {
		t.Fatalf("expected missing fixture, found=%v err=%v", found, err)
	}

	many, err := repo.GetMany(ctx, []int64{1001, 1002, 9999})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(many) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(many))
	}
	if h, a := many[1002].Score(); h != 2 || a != 1 {
		t.Fatalf("expected 2-1, got %d-%d", h, a)
	}

	second.StatusShort = "AET"
	if err := repo.Save(ctx, []Snapshot{second}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _, err = repo.Get(ctx, 1002)
	if err != nil || got.StatusShort != "AET" {
		t.Fatalf("expected replaced snapshot, got %+v err=%v", got, err)
	}
}

func TestRedisHashRoundTrip(t *testing.T) {
	snap := sampleSnapshot(1001, "FT")
	snap.HomeGoals, snap.AwayGoals = goals(3), goals(0)

	raw := make(map[string]string)
	for k, v := range toHash(snap) {
		raw[k] = fmt.Sprint(v)
	}
	got, err := fromHash(raw)
	if err != nil {
		t.Fatalf("from hash: %v", err)
	}
	if got.FixtureID != 1001 || got.LeagueID != 39 || got.Season != 2023 || !got.Kickoff.Equal(snap.Kickoff) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if h, a := got.Score(); h != 3 || a != 0 || got.AwayGoals == nil {
		t.Fatalf("unexpected score %d-%d", h, a)
	}

	snap.HomeGoals, snap.AwayGoals = nil, nil
	raw = make(map[string]string)
	for k, v := range toHash(snap) {
		raw[k] = fmt.Sprint(v)
	}
	got, err = fromHash(raw)
	if err != nil {
		t.Fatalf("from hash: %v", err)
	}
	if got.HomeGoals != nil || got.AwayGoals != nil {
		t.Fatalf("expected missing goals to stay nil")
	}

	if _, err := fromHash(map[string]string{"fixture_id": "x"}); err == nil {
		t.Fatal("expected error for malformed fixture id")
	}
}

type stubFetcher struct {
	results map[int][]Snapshot
	errs    map[int]error
	queries []Query
}

func (f *stubFetcher) FetchFixtures(_ context.Context, q Query) ([]Snapshot, error) {
	f.queries = append(f.queries, q)
	if err := f.errs[q.League]; err != nil {
		return nil, err
	}
	return f.results[q.League], nil
}

type memoryRepo struct {
	saved map[int64]Snapshot
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Snapshot, bool, error) {
	s, ok := m.saved[id]
	return s, ok, nil
}

func (m *memoryRepo) GetMany(_ context.Context, ids []int64) (map[int64]Snapshot, error) {
	out := make(map[int64]Snapshot)
	for _, id := range ids {
		if s, ok := m.saved[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *memoryRepo) Save(_ context.Context, snaps []Snapshot) error {
	for _, s := range snaps {
		m.saved[s.FixtureID] = s
	}
	return nil
}

func TestSyncerCollectsLeagues(t *testing.T) {
	fetcher := &stubFetcher{
		results: map[int][]Snapshot{
			39:  {sampleSnapshot(1, "NS"), sampleSnapshot(2, "NS")},
			140: nil,
			78:  {sampleSnapshot(3, "FT")},
		},
		errs: map[int]error{135: errors.New("boom")},
	}
	repo := &memoryRepo{saved: map[int64]Snapshot{}}
	syncer := NewSyncer(fetcher, repo, SyncOptions{Season: 2023, Leagues: []int{39, 140, 135, 78}, DateRangeDays: 3, RequestDelay: time.Second}, zerolog.Nop())
	syncer.now = func() time.Time { return time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC) }
	slept := 0
	syncer.sleep = func(context.Context, time.Duration) error { slept++; return nil }

	summary, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.TotalFixtures != 3 || summary.LeaguesSynced != 2 || summary.APICallsUsed != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Details) != 4 || summary.QuotaExhausted {
		t.Fatalf("unexpected details %v", summary.Details)
	}
	if slept != 3 {
		t.Fatalf("expected a delay between each of 4 requests, got %d", slept)
	}
	if len(repo.saved) != 3 {
		t.Fatalf("expected 3 saved snapshots, got %d", len(repo.saved))
	}
	q := fetcher.queries[0]
	if q.From.Format(time.DateOnly) != "2024-03-07" || q.To.Format(time.DateOnly) != "2024-03-13" || q.Season != 2023 {
		t.Fatalf("unexpected query %+v", q)
	}
}

func TestSyncerStopsWhenQuotaExhausted(t *testing.T) {
	fetcher := &stubFetcher{
		results: map[int][]Snapshot{39: {sampleSnapshot(1, "NS")}},
		errs:    map[int]error{140: &quota.ExceededError{Status: quota.Status{Count: 75, SoftLimit: 75}}},
	}
	repo := &memoryRepo{saved: map[int64]Snapshot{}}
	syncer := NewSyncer(fetcher, repo, SyncOptions{Season: 2023, Leagues: []int{39, 140, 78}}, zerolog.Nop())

	summary, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !summary.QuotaExhausted {
		t.Fatal("expected quota exhaustion to be reported")
	}
	if len(fetcher.queries) != 2 {
		t.Fatalf("expected sync to stop after the refused league, got %d queries", len(fetcher.queries))
	}
	if summary.APICallsUsed != 1 || summary.LeaguesSynced != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSyncRangeUsesExplicitWindow(t *testing.T) {
	fetcher := &stubFetcher{results: map[int][]Snapshot{39: {sampleSnapshot(1, "FT")}}}
	repo := &memoryRepo{saved: map[int64]Snapshot{}}
	syncer := NewSyncer(fetcher, repo, SyncOptions{Season: 2023, Leagues: []int{39}}, zerolog.Nop())

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	if _, err := syncer.SyncRange(context.Background(), to, from); err == nil {
		t.Fatal("expected an inverted range to be rejected")
	}
	if len(fetcher.queries) != 0 {
		t.Fatal("an inverted range must not reach the provider")
	}

	summary, err := syncer.SyncRange(context.Background(), from, to)
	if err != nil {
		t.Fatalf("sync range: %v", err)
	}
	if summary.Saved != 1 || !fetcher.queries[0].From.Equal(from) || !fetcher.queries[0].To.Equal(to) {
		t.Fatalf("unexpected result %+v queries %+v", summary, fetcher.queries)
	}
}

func goals(n int) *int { return &n }
