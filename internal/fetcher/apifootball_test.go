package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/fixtures"
	"matchpicks/internal/quota"
	"matchpicks/internal/storage"
)

const fixturesPayload = `{
  "get": "fixtures",
  "errors": [],
  "results": 2,
  "response": [
    {
      "fixture": {"id": 1001, "date": "2024-03-16T15:00:00+00:00", "status": {"long": "Not Started", "short": "NS"}},
      "league": {"id": 39, "name": "Premier League", "season": 2023, "round": "Regular Season - 29"},
      "teams": {"home": {"name": "Arsenal"}, "away": {"name": "Chelsea"}},
      "goals": {"home": null, "away": null}
    },
    {
      "fixture": {"id": 1002, "date": "2024-03-09T17:30:00+01:00", "status": {"long": "Match Finished", "short": "FT"}},
      "league": {"id": 39, "name": "Premier League", "season": 2023, "round": "Regular Season - 28"},
      "teams": {"home": {"name": "Liverpool"}, "away": {"name": "Everton"}},
      "goals": {"home": 2, "away": 1}
    }
  ]
}`

func newBudget(t *testing.T, soft int) *quota.Tracker {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	limits := quota.DefaultLimits()
	limits.Soft = soft
	tracker, err := quota.NewTracker(store, limits, zerolog.Nop())
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	return tracker
}

func testQuery() fixtures.Query {
	return fixtures.Query{
		League: 39,
		Season: 2023,
		From:   time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		To:     time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchFixturesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fixtures" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-apisports-key") != "secret" {
			t.Errorf("missing api key header")
		}
		q := r.URL.Query()
		if q.Get("league") != "39" || q.Get("season") != "2023" || q.Get("from") != "2024-03-03" || q.Get("to") != "2024-03-17" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(fixturesPayload))
	}))
	defer srv.Close()

	budget := newBudget(t, 75)
	client := NewAPIFootball(Options{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second, User: "admin"}, budget, zerolog.Nop())

	snaps, err := client.FetchFixtures(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(snaps))
	}
	if snaps[0].FixtureID != 1001 || !snaps[0].NotStarted() || snaps[0].HomeGoals != nil {
		t.Fatalf("unexpected first fixture %+v", snaps[0])
	}
	if !snaps[1].Finished() || !snaps[1].Kickoff.Equal(time.Date(2024, 3, 9, 16, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected second fixture %+v", snaps[1])
	}
	if h, a := snaps[1].Score(); h != 2 || a != 1 {
		t.Fatalf("expected 2-1, got %d-%d", h, a)
	}

	status, err := budget.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Count != 1 {
		t.Fatalf("expected one recorded call, got %d", status.Count)
	}
	call := status.RecentCalls[0]
	if call.Endpoint != "/fixtures" || call.User != "admin" {
		t.Fatalf("unexpected call %+v", call)
	}
	if call.Metadata["results"] != float64(2) || call.Metadata["from"] != "2024-03-03" {
		t.Fatalf("unexpected metadata %v", call.Metadata)
	}
}

func TestFetchFixturesBlockedBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(fixturesPayload))
	}))
	defer srv.Close()

	budget := newBudget(t, 1)
	client := NewAPIFootball(Options{BaseURL: srv.URL, APIKey: "secret"}, budget, zerolog.Nop())

	if _, err := client.FetchFixtures(context.Background(), testQuery()); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := client.FetchFixtures(context.Background(), testQuery())
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("blocked call must not reach the provider, hits=%d", hits.Load())
	}
}

func TestFetchFixturesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	budget := newBudget(t, 75)
	client := NewAPIFootball(Options{BaseURL: srv.URL, APIKey: "secret"}, budget, zerolog.Nop())

	_, err := client.FetchFixtures(context.Background(), testQuery())
	if !errors.Is(err, fixtures.ErrProviderRateLimited) {
		t.Fatalf("expected provider rate limit, got %v", err)
	}
	status, err := budget.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Count != 0 {
		t.Fatalf("failed calls are not recorded, got %d", status.Count)
	}
}

func TestFetchFixturesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors": {"requests": "You have reached the request limit for the day"}, "results": 0, "response": []}`))
	}))
	defer srv.Close()

	client := NewAPIFootball(Options{BaseURL: srv.URL, APIKey: "secret"}, newBudget(t, 75), zerolog.Nop())
	_, err := client.FetchFixtures(context.Background(), testQuery())
	if !errors.Is(err, fixtures.ErrProviderRateLimited) {
		t.Fatalf("expected provider rate limit, got %v", err)
	}
}

func TestFetchFixturesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message": "You are not subscribed to this API."}`))
	}))
	defer srv.Close()

	client := NewAPIFootball(Options{BaseURL: srv.URL, APIKey: "secret"}, newBudget(t, 75), zerolog.Nop())
	_, err := client.FetchFixtures(context.Background(), testQuery())
	if err == nil || errors.Is(err, fixtures.ErrProviderRateLimited) {
		t.Fatalf("expected plain provider error, got %v", err)
	}
}

func TestFetchFixturesRequiresKey(t *testing.T) {
	client := NewAPIFootball(Options{}, newBudget(t, 75), zerolog.Nop())
	if _, err := client.FetchFixtures(context.Background(), testQuery()); err == nil {
		t.Fatal("expected error without api key")
	}
}
