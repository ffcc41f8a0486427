// Package claims lets one user at a time reserve an upcoming fixture and
// archives reservations once the fixture has a result.
package claims

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"matchpicks/internal/apperr"
	"matchpicks/internal/fixtures"
	"matchpicks/internal/storage"
)

// Registry owns the active claim collection and its history.
//
// There are no in-process locks. Two users racing for the same fixture can
// both pass the conflict check and the later upsert wins; the loser sees
// AlreadyClaimedError on the next attempt.
type Registry struct {
	store    storage.Port
	fixtures fixtures.Source
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRegistry wires a registry to its store and snapshot source.
func NewRegistry(store storage.Port, source fixtures.Source, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		fixtures: source,
		logger:   logger.With().Str("component", "claims").Logger(),
		now:      time.Now,
	}
}

// Claim reserves fixtureID for username. Any other claim the user holds on a
// fixture without a result is removed first and reported as ReplacedPrior. Re-claiming one's own fixture refreshes it in place.
func (r *Registry) Claim(ctx context.Context, fixtureID int64, username string) (Result, error) {
	username, err := validate(fixtureID, username)
	if err != nil {
		return Result{}, err
	}

	snap, found, err := r.fixtures.Get(ctx, fixtureID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup fixture %d: %w", fixtureID, err)
	}
	if !found {
		return Result{}, fmt.Errorf("fixture %d: %w", fixtureID, ErrFixtureNotFound)
	}
	if !snap.NotStarted() {
		return Result{}, fmt.Errorf("fixture %d has status %s: %w", fixtureID, snap.StatusShort, ErrFixtureNotClaimable)
	}

	current, err := r.find(ctx, storage.Where(storage.Eq("fixtureId", fixtureID)))
	if err != nil {
		return Result{}, err
	}

	claim := claimFromSnapshot(snap, username, r.now().UTC())
	if len(current) > 0 {
		owner := current[0]
		if owner.Username != username {
			return Result{}, &AlreadyClaimedError{FixtureID: fixtureID, By: owner.Username}
		}
		claim.ClaimedAt = owner.ClaimedAt
	}

	replaced, err := r.retirePriors(ctx, username, fixtureID)
	if err != nil {
		return Result{}, err
	}

	body, err := storage.Encode(claim)
	if err != nil {
		return Result{}, err
	}
	if err := r.store.Upsert(ctx, ActiveCollection, claim.key(), body); err != nil {
		return Result{}, fmt.Errorf("install claim %d: %w", fixtureID, err)
	}

	event := r.logger.Info().Int64("fixture_id", fixtureID).Str("username", username)
	if replaced != nil {
		event = event.Int64("replaced_fixture_id", replaced.FixtureID)
	}
	event.Msg("fixture claimed")

	return Result{Claim: claim, ReplacedPrior: replaced}, nil
}

// retirePriors removes the user's other claims unless their fixture has
// finished. Finished claims stay until the sweep archives them.
func (r *Registry) retirePriors(ctx context.Context, username string, keep int64) (*Claim, error) {
	held, err := r.find(ctx, storage.Where(
		storage.Eq("username", username),
		storage.Ne("fixtureId", keep),
	))
	if err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(held))
	for i, c := range held {
		ids[i] = c.FixtureID
	}
	snaps, err := r.fixtures.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup prior fixtures: %w", err)
	}

	var (
		retire   []int64
		replaced *Claim
	)
	for i := range held {
		c := held[i]
		if snap, ok := snaps[c.FixtureID]; ok && snap.Finished() {
			continue
		}
		retire = append(retire, c.FixtureID)
		if replaced == nil || c.ClaimedAt.After(replaced.ClaimedAt) {
			replaced = &c
		}
	}
	if len(retire) == 0 {
		return nil, nil
	}

	_, err = r.store.DeleteMany(ctx, ActiveCollection, storage.Where(
		storage.Eq("username", username),
		storage.In("fixtureId", retire),
	))
	if err != nil {
		return nil, fmt.Errorf("retire prior claims: %w", err)
	}
	return replaced, nil
}

// Release drops the user's claim on fixtureID. Releasing an unclaimed
// fixture succeeds with removed=false so the call is safe to retry.
func (r *Registry) Release(ctx context.Context, fixtureID int64, username string) (bool, error) {
	username, err := validate(fixtureID, username)
	if err != nil {
		return false, err
	}

	current, err := r.find(ctx, storage.Where(storage.Eq("fixtureId", fixtureID)))
	if err != nil {
		return false, err
	}
	if len(current) == 0 {
		return false, nil
	}
	if current[0].Username != username {
		return false, fmt.Errorf("fixture %d: %w", fixtureID, ErrNotOwner)
	}

	n, err := r.store.DeleteMany(ctx, ActiveCollection, storage.Where(
		storage.Eq("fixtureId", fixtureID),
		storage.Eq("username", username),
	))
	if err != nil {
		return false, fmt.Errorf("release claim %d: %w", fixtureID, err)
	}
	r.logger.Info().Int64("fixture_id", fixtureID).Str("username", username).Msg("claim released")
	return n > 0, nil
}

// ListActive returns every active claim by kickoff, then fixture id.
func (r *Registry) ListActive(ctx context.Context) ([]Claim, error) {
	active, err := r.find(ctx, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].Date.Equal(active[j].Date) {
			return active[i].Date.Before(active[j].Date)
		}
		return active[i].FixtureID < active[j].FixtureID
	})
	return active, nil
}

// SweepFinished archives claims whose fixture has finished. History is
// written before the active entries are removed, and entries already in
// history are not written twice, so an interrupted sweep completes on the
// next run.
func (r *Registry) SweepFinished(ctx context.Context) (SweepResult, error) {
	active, err := r.find(ctx, nil)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{Checked: len(active)}
	if len(active) == 0 {
		return result, nil
	}

	ids := make([]int64, len(active))
	for i, c := range active {
		ids[i] = c.FixtureID
	}
	snaps, err := r.fixtures.GetMany(ctx, ids)
	if err != nil {
		return SweepResult{}, fmt.Errorf("lookup fixtures: %w", err)
	}

	archivedAt := r.now().UTC()
	var (
		entries  []HistoryEntry
		resolved []int64
	)
	for _, c := range active {
		snap, ok := snaps[c.FixtureID]
		if !ok {
			result.Missing++
			r.logger.Warn().
				Int64("fixture_id", c.FixtureID).
				Str("username", c.Username).
				Msg("fixture snapshot missing; claim left active")
			continue
		}
		if !snap.Finished() {
			continue
		}
		entries = append(entries, archiveEntry(c, snap, archivedAt))
		resolved = append(resolved, c.FixtureID)
	}
	if len(entries) == 0 {
		return result, nil
	}

	fresh, err := r.unarchived(ctx, entries)
	if err != nil {
		return SweepResult{}, err
	}
	if len(fresh) > 0 {
		records := make([]storage.Record, 0, len(fresh))
		for _, e := range fresh {
			body, err := storage.Encode(e)
			if err != nil {
				return SweepResult{}, err
			}
			records = append(records, storage.Record{Key: historyKey(e.Claim), Body: body})
		}
		if err := r.store.InsertMany(ctx, HistoryCollection, records); err != nil {
			return SweepResult{}, fmt.Errorf("archive claims: %w", err)
		}
	}

	removed, err := r.store.DeleteMany(ctx, ActiveCollection, storage.Where(storage.In("fixtureId", resolved)))
	if err != nil {
		return SweepResult{}, fmt.Errorf("remove archived claims: %w", err)
	}
	result.Archived = removed

	r.logger.Info().
		Int("checked", result.Checked).
		Int("archived", result.Archived).
		Int("missing", result.Missing).
		Msg("finished claims archived")
	return result, nil
}

// unarchived drops entries whose history key already exists.
func (r *Registry) unarchived(ctx context.Context, entries []HistoryEntry) ([]HistoryEntry, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.FixtureID
	}
	existing, err := r.store.Find(ctx, HistoryCollection, storage.Where(storage.In("fixtureId", ids)))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec.Key] = struct{}{}
	}
	fresh := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[historyKey(e.Claim)]; !ok {
			fresh = append(fresh, e)
		}
	}
	return fresh, nil
}

// History returns archived claims, newest first. An empty username returns
// every user's history.
func (r *Registry) History(ctx context.Context, username string) ([]HistoryEntry, error) {
	var filter storage.Filter
	if u := strings.TrimSpace(username); u != "" {
		filter = storage.Where(storage.Eq("username", u))
	}
	records, err := r.store.Find(ctx, HistoryCollection, filter)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	entries, err := storage.DecodeAll[HistoryEntry](records)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ArchivedAt.After(entries[j].ArchivedAt)
	})
	return entries, nil
}

func (r *Registry) find(ctx context.Context, filter storage.Filter) ([]Claim, error) {
	records, err := r.store.Find(ctx, ActiveCollection, filter)
	if err != nil {
		return nil, fmt.Errorf("load claims: %w", err)
	}
	return storage.DecodeAll[Claim](records)
}

func validate(fixtureID int64, username string) (string, error) {
	if fixtureID <= 0 {
		return "", apperr.Invalid("fixtureId", "must be a positive integer")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", apperr.Invalid("username", "is required")
	}
	return username, nil
}

func claimFromSnapshot(snap fixtures.Snapshot, username string, now time.Time) Claim {
	return Claim{
		FixtureID:  snap.FixtureID,
		Username:   username,
		ClaimedAt:  now,
		HomeTeam:   snap.HomeTeam,
		AwayTeam:   snap.AwayTeam,
		Date:       snap.Kickoff.UTC(),
		LeagueID:   snap.LeagueID,
		LeagueName: snap.LeagueName,
		Round:      snap.Round,
		Season:     snap.Season,
		Status:     snap.StatusShort,
	}
}

func archiveEntry(c Claim, snap fixtures.Snapshot, archivedAt time.Time) HistoryEntry {
	if c.Round == "" {
		c.Round = snap.Round
	}
	if c.LeagueName == "" {
		c.LeagueName = snap.LeagueName
	}
	if c.Season == 0 {
		c.Season = snap.Season
	}
	c.Status = snap.StatusShort

	home, away := snap.Score()
	status := snap.StatusLong
	if status == "" {
		status = snap.StatusShort
	}
	return HistoryEntry{
		Claim:       c,
		ArchivedAt:  archivedAt,
		FinalScore:  Score{Home: home, Away: away},
		MatchStatus: status,
	}
}
