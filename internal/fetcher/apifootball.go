package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/fixtures"
)

const fixturesPath = "/fixtures"

// Options parameterise the API-Football client.
type Options struct {
	BaseURL   string
	Host      string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// User is recorded against every call in the quota tracker.
	User string
}

// APIFootball fetches fixtures from API-Football, spending the call budget.
type APIFootball struct {
	opts    Options
	budget  CallBudget
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewAPIFootball constructs a provider client.
func NewAPIFootball(opts Options, budget CallBudget, logger zerolog.Logger) *APIFootball {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://v3.football.api-sports.io"
	}

	return &APIFootball{
		opts:    opts,
		budget:  budget,
		logger:  logger.With().Str("component", "provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// FetchFixtures checks the budget, queries /fixtures and records the call.
// A refused budget check is returned unchanged so callers can match
// quota.ErrQuotaExceeded.
func (a *APIFootball) FetchFixtures(ctx context.Context, q fixtures.Query) ([]fixtures.Snapshot, error) {
	if a.opts.APIKey == "" {
		return nil, errors.New("provider api key not configured")
	}
	if q.Season <= 0 {
		return nil, errors.New("season is required")
	}

	if _, err := a.budget.CheckLimit(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("season", strconv.Itoa(q.Season))
	if q.League > 0 {
		params.Set("league", strconv.Itoa(q.League))
	}
	if !q.From.IsZero() {
		params.Set("from", q.From.Format(time.DateOnly))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.Format(time.DateOnly))
	}

	endpoint := a.baseURL + fixturesPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-apisports-key", a.opts.APIKey)
	if host := strings.TrimSpace(a.opts.Host); host != "" {
		req.Header.Set("x-rapidapi-host", host)
	}
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "matchpicks/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("api-football (%d): %w", resp.StatusCode, fixtures.ErrProviderRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var parsed fixturesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode fixtures response: %w", err)
	}
	if err := parsed.apiError(); err != nil {
		return nil, err
	}

	user := a.opts.User
	if user == "" {
		user = "system"
	}
	meta := map[string]any{
		"league":  q.League,
		"season":  q.Season,
		"results": parsed.Results,
	}
	if !q.From.IsZero() {
		meta["from"] = q.From.Format(time.DateOnly)
	}
	if !q.To.IsZero() {
		meta["to"] = q.To.Format(time.DateOnly)
	}
	if _, err := a.budget.RecordCall(ctx, fixturesPath, user, meta); err != nil {
		return nil, fmt.Errorf("record provider call: %w", err)
	}

	fetchedAt := a.now().UTC()
	snaps := make([]fixtures.Snapshot, 0, len(parsed.Response))
	for _, item := range parsed.Response {
		snaps = append(snaps, item.snapshot(fetchedAt))
	}

	a.logger.Debug().
		Int("league", q.League).
		Int("season", q.Season).
		Int("results", len(snaps)).
		Msg("fixtures fetched")
	return snaps, nil
}

type fixturesResponse struct {
	Results  int             `json:"results"`
	Errors   json.RawMessage `json:"errors"`
	Response []fixtureItem   `json:"response"`
}

// apiError interprets the errors field, which the provider sends as either
// an empty list or an object of messages, with HTTP 200.
func (r fixturesResponse) apiError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	var messages map[string]string
	if err := json.Unmarshal(r.Errors, &messages); err != nil || len(messages) == 0 {
		return nil
	}
	keys := make([]string, 0, len(messages))
	for k := range messages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	limited := false
	for _, k := range keys {
		parts = append(parts, k+": "+messages[k])
		if k == "requests" || k == "rateLimit" {
			limited = true
		}
	}
	msg := strings.Join(parts, "; ")
	if limited {
		return fmt.Errorf("api-football: %s: %w", msg, fixtures.ErrProviderRateLimited)
	}
	return fmt.Errorf("api-football: %s", msg)
}

type fixtureItem struct {
	Fixture struct {
		ID     int64     `json:"id"`
		Date   time.Time `json:"date"`
		Status struct {
			Long  string `json:"long"`
			Short string `json:"short"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Season int    `json:"season"`
		Round  string `json:"round"`
	} `json:"league"`
	Teams struct {
		Home struct {
			Name string `json:"name"`
		} `json:"home"`
		Away struct {
			Name string `json:"name"`
		} `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
}

func (f fixtureItem) snapshot(fetchedAt time.Time) fixtures.Snapshot {
	return fixtures.Snapshot{
		FixtureID:   f.Fixture.ID,
		StatusShort: f.Fixture.Status.Short,
		StatusLong:  f.Fixture.Status.Long,
		Kickoff:     f.Fixture.Date.UTC(),
		HomeTeam:    f.Teams.Home.Name,
		AwayTeam:    f.Teams.Away.Name,
		HomeGoals:   f.Goals.Home,
		AwayGoals:   f.Goals.Away,
		LeagueID:    f.League.ID,
		LeagueName:  f.League.Name,
		Round:       f.League.Round,
		Season:      f.League.Season,
		UpdatedAt:   fetchedAt,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("api-football error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("api-football error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("api-football error (%d)", status)
}

var _ fixtures.Fetcher = (*APIFootball)(nil)
