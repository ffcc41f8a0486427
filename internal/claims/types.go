package claims

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// ActiveCollection holds current claims keyed by fixture id.
	ActiveCollection = "match_selections"
	// HistoryCollection is the append-only archive of resolved claims.
	HistoryCollection = "match_selection_history"
)

var (
	ErrFixtureNotFound     = errors.New("fixture not found")
	ErrFixtureNotClaimable = errors.New("fixture is not open for selection")
	ErrAlreadyClaimed      = errors.New("fixture already claimed")
	ErrNotOwner            = errors.New("claim belongs to another user")
)

// AlreadyClaimedError names the current owner of a fixture.
type AlreadyClaimedError struct {
	FixtureID int64
	By        string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("fixture %d already claimed by %s", e.FixtureID, e.By)
}

func (e *AlreadyClaimedError) Is(target error) bool { return target == ErrAlreadyClaimed }

// Claim is a user's reservation of one fixture.
type Claim struct {
	FixtureID  int64     `json:"fixtureId"`
	Username   string    `json:"username"`
	ClaimedAt  time.Time `json:"claimedAt"`
	HomeTeam   string    `json:"homeTeam"`
	AwayTeam   string    `json:"awayTeam"`
	Date       time.Time `json:"date"`
	LeagueID   int       `json:"leagueId"`
	LeagueName string    `json:"leagueName"`
	Round      string    `json:"round"`
	Season     int       `json:"season"`
	Status     string    `json:"status"`
}

func (c Claim) key() string { return strconv.FormatInt(c.FixtureID, 10) }

// Score is a final result.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// HistoryEntry is an archived claim with its outcome.
type HistoryEntry struct {
	Claim
	ArchivedAt  time.Time `json:"archivedAt"`
	FinalScore  Score     `json:"finalScore"`
	MatchStatus string    `json:"matchStatus"`
}

func historyKey(c Claim) string {
	return c.key() + ":" + c.Username
}

// Result is the outcome of a successful claim.
type Result struct {
	Claim         Claim  `json:"claim"`
	ReplacedPrior *Claim `json:"replacedPrior"`
}

// SweepResult reports a sweep pass.
type SweepResult struct {
	Checked  int `json:"checked"`
	Archived int `json:"archived"`
	Missing  int `json:"missing"`
}
