package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matchpicks/internal/apperr"
	"matchpicks/internal/storage"
)

// Tracker enforces the rolling call budget against a single stored document.
//
// Admission (CanMakeCall/CheckLimit) and recording (RecordCall) are separate
// storage round trips, so concurrent callers can each pass the check before
// any of them records. The overshoot is bounded by the number of callers in
// flight and absorbed by the gap between the soft and hard limits.
type Tracker struct {
	store  storage.Port
	limits Limits
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker validates limits and binds the tracker to store.
func NewTracker(store storage.Port, limits Limits, logger zerolog.Logger, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("quota: storage port is required")
	}
	if err := limits.validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		store:  store,
		limits: limits,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Limits returns the configured budget.
func (t *Tracker) Limits() Limits { return t.limits }

// CanMakeCall reports whether the pruned count is below the soft limit.
// Storage failures are returned, never treated as permission.
func (t *Tracker) CanMakeCall(ctx context.Context) (bool, error) {
	state, _, err := t.load(ctx)
	if err != nil {
		return false, err
	}
	return state.WeeklyCount < t.limits.Soft, nil
}

// CheckLimit returns an *ExceededError when admission is refused.
func (t *Tracker) CheckLimit(ctx context.Context) (Status, error) {
	status, err := t.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	if status.IsBlocked {
		return status, &ExceededError{Status: status}
	}
	return status, nil
}

// RecordCall appends a call made now.
func (t *Tracker) RecordCall(ctx context.Context, endpoint, user string, metadata map[string]any) (CallRecord, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return CallRecord{}, apperr.Invalid("endpoint", "is required")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = DefaultUser
	}

	state, now, err := t.load(ctx)
	if err != nil {
		return CallRecord{}, err
	}

	call := CallRecord{
		ID:        t.newID(),
		Endpoint:  endpoint,
		Timestamp: now,
		User:      user,
		Metadata:  metadata,
	}
	state.Calls = append(state.Calls, call)
	state.WeeklyCount = len(state.Calls)

	if err := t.save(ctx, state); err != nil {
		return CallRecord{}, err
	}

	t.logger.Info().
		Str("endpoint", endpoint).
		Str("user", user).
		Int("count", state.WeeklyCount).
		Int("soft_limit", t.limits.Soft).
		Msg("provider call recorded")
	return call, nil
}

// Status summarises the current window.
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	state, now, err := t.load(ctx)
	if err != nil {
		return Status{}, err
	}
	return t.statusOf(state, now), nil
}

// Reset drops every recorded call.
func (t *Tracker) Reset(ctx context.Context) (State, error) {
	state := State{Calls: []CallRecord{}, WeeklyCount: 0, LastReset: t.now().UTC()}
	if err := t.save(ctx, state); err != nil {
		return State{}, err
	}
	t.logger.Warn().Msg("call tracking reset")
	return state, nil
}

// load reads the tracker document and prunes calls that left the window,
// persisting only when pruning changed something.
func (t *Tracker) load(ctx context.Context) (State, time.Time, error) {
	now := t.now().UTC()

	var state State
	found, err := t.store.LoadDocument(ctx, DocumentName, &state)
	if err != nil {
		return State{}, now, fmt.Errorf("load quota state: %w", err)
	}
	if !found {
		state = State{LastReset: now}
	}

	kept := prune(state.Calls, now.Add(-t.limits.Window))
	dirty := len(kept) != len(state.Calls) || state.WeeklyCount != len(kept)
	state.Calls = kept
	state.WeeklyCount = len(kept)

	if dirty {
		if err := t.save(ctx, state); err != nil {
			return State{}, now, err
		}
		t.logger.Debug().Int("count", state.WeeklyCount).Msg("pruned expired calls")
	}
	return state, now, nil
}

func (t *Tracker) save(ctx context.Context, state State) error {
	if state.Calls == nil {
		state.Calls = []CallRecord{}
	}
	if err := t.store.SaveDocument(ctx, DocumentName, state); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}

func (t *Tracker) statusOf(state State, now time.Time) Status {
	count := state.WeeklyCount
	soft := t.limits.Soft

	status := Status{
		Count:        count,
		Remaining:    max(0, soft-count),
		SoftLimit:    soft,
		HardLimit:    t.limits.Hard,
		IsBlocked:    count >= soft,
		IsNearLimit:  float64(count) >= t.limits.NearLimitRatio*float64(soft),
		WindowStart:  now.Add(-t.limits.Window),
		RecentCalls:  recent(state.Calls, recentCallsLimit),
		UsagePercent: decimal.NewFromInt(int64(count)).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(int64(soft))).Round(1),
		LastReset:    state.LastReset,
	}
	if oldest, ok := oldestCall(state.Calls); ok {
		expiry := oldest.Timestamp.Add(t.limits.Window)
		status.OldestCallExpiry = &expiry
	}
	return status
}

// prune keeps calls at or after cutoff. Timestamps ahead of the clock stay.
func prune(calls []CallRecord, cutoff time.Time) []CallRecord {
	kept := make([]CallRecord, 0, len(calls))
	for _, call := range calls {
		if !call.Timestamp.Before(cutoff) {
			kept = append(kept, call)
		}
	}
	return kept
}

// oldestCall returns the earliest call; the first in insertion order wins ties.
func oldestCall(calls []CallRecord) (CallRecord, bool) {
	if len(calls) == 0 {
		return CallRecord{}, false
	}
	oldest := calls[0]
	for _, call := range calls[1:] {
		if call.Timestamp.Before(oldest.Timestamp) {
			oldest = call
		}
	}
	return oldest, true
}

func recent(calls []CallRecord, n int) []CallRecord {
	start := max(0, len(calls)-n)
	out := make([]CallRecord, len(calls)-start)
	copy(out, calls[start:])
	return out
}
