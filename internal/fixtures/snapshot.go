// Package fixtures models provider fixture snapshots and where they are kept.
package fixtures

import (
	"context"
	"errors"
	"time"
)

// ErrProviderRateLimited is returned when the provider itself refuses a
// request for exceeding its limits.
var ErrProviderRateLimited = errors.New("provider rate limit reached")

// Snapshot is the latest known state of a fixture.
type Snapshot struct {
	FixtureID   int64     `json:"fixtureId"`
	StatusShort string    `json:"statusShort"`
	StatusLong  string    `json:"statusLong"`
	Kickoff     time.Time `json:"kickoff"`
	HomeTeam    string    `json:"homeTeam"`
	AwayTeam    string    `json:"awayTeam"`
	HomeGoals   *int      `json:"homeGoals"`
	AwayGoals   *int      `json:"awayGoals"`
	LeagueID    int       `json:"leagueId"`
	LeagueName  string    `json:"leagueName"`
	Round       string    `json:"round"`
	Season      int       `json:"season"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

var (
	notStartedCodes = map[string]struct{}{"NS": {}, "TBD": {}}
	finishedCodes   = map[string]struct{}{"FT": {}, "AET": {}, "PEN": {}, "AWD": {}, "WO": {}}
)

// IsNotStarted reports whether code is a pre-match status.
func IsNotStarted(code string) bool {
	_, ok := notStartedCodes[code]
	return ok
}

// IsFinished reports whether code is a terminal status with a result.
// Cancelled, abandoned and postponed fixtures are not finished.
func IsFinished(code string) bool {
	_, ok := finishedCodes[code]
	return ok
}

func (s Snapshot) NotStarted() bool { return IsNotStarted(s.StatusShort) }

func (s Snapshot) Finished() bool { return IsFinished(s.StatusShort) }

// Score returns the goals with missing values as zero.
func (s Snapshot) Score() (home, away int) {
	if s.HomeGoals != nil {
		home = *s.HomeGoals
	}
	if s.AwayGoals != nil {
		away = *s.AwayGoals
	}
	return home, away
}

// Source reads snapshots.
type Source interface {
	Get(ctx context.Context, fixtureID int64) (Snapshot, bool, error)
	// GetMany returns the snapshots found; absent ids are left out.
	GetMany(ctx context.Context, fixtureIDs []int64) (map[int64]Snapshot, error)
}

// Repository reads and writes snapshots.
type Repository interface {
	Source
	Save(ctx context.Context, snapshots []Snapshot) error
}

// Query selects fixtures from the provider.
type Query struct {
	League int
	Season int
	From   time.Time
	To     time.Time
}

// Fetcher retrieves fixtures from the provider.
type Fetcher interface {
	FetchFixtures(ctx context.Context, q Query) ([]Snapshot, error)
}
