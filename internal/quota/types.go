package quota

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DocumentName is the storage document holding the tracker state.
	DocumentName = "api_calls_tracker"

	// DefaultUser is recorded when a call carries no caller identity.
	DefaultUser = "system"

	recentCallsLimit = 10
)

// ErrQuotaExceeded matches every ExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// CallRecord is one outbound provider call. Records are never mutated, only
// pruned once they leave the window.
type CallRecord struct {
	ID        string         `json:"id"`
	Endpoint  string         `json:"endpoint"`
	Timestamp time.Time      `json:"timestamp"`
	User      string         `json:"user"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// State is the persisted tracker document.
type State struct {
	Calls       []CallRecord `json:"calls"`
	WeeklyCount int          `json:"weeklyCount"`
	LastReset   time.Time    `json:"lastReset"`
}

// Limits configures the rolling budget.
type Limits struct {
	Soft           int
	Hard           int
	Window         time.Duration
	NearLimitRatio float64
}

// DefaultLimits mirrors the free provider tier: 100 calls a week with
// blocking from 75.
func DefaultLimits() Limits {
	return Limits{
		Soft:           75,
		Hard:           100,
		Window:         7 * 24 * time.Hour,
		NearLimitRatio: 0.9,
	}
}

func (l Limits) validate() error {
	if l.Soft <= 0 {
		return fmt.Errorf("quota: soft limit must be positive, got %d", l.Soft)
	}
	if l.Hard < l.Soft {
		return fmt.Errorf("quota: hard limit %d below soft limit %d", l.Hard, l.Soft)
	}
	if l.Window <= 0 {
		return fmt.Errorf("quota: window must be positive")
	}
	if l.NearLimitRatio <= 0 || l.NearLimitRatio > 1 {
		return fmt.Errorf("quota: near-limit ratio %.2f outside (0, 1]", l.NearLimitRatio)
	}
	return nil
}

// Status is a point-in-time view of the budget.
type Status struct {
	Count            int             `json:"count"`
	Remaining        int             `json:"remaining"`
	SoftLimit        int             `json:"softLimit"`
	HardLimit        int             `json:"hardLimit"`
	IsBlocked        bool            `json:"isBlocked"`
	IsNearLimit      bool            `json:"isNearLimit"`
	WindowStart      time.Time       `json:"windowStart"`
	OldestCallExpiry *time.Time      `json:"oldestCallExpiry"`
	RecentCalls      []CallRecord    `json:"recentCalls"`
	UsagePercent     decimal.Decimal `json:"usagePercent"`
	LastReset        time.Time       `json:"lastReset"`
}

// ExceededError is returned by CheckLimit when admission is refused.
type ExceededError struct {
	Status Status
}

func (e *ExceededError) Error() string {
	msg := fmt.Sprintf("quota exceeded: %d/%d calls in window", e.Status.Count, e.Status.SoftLimit)
	if e.Status.OldestCallExpiry != nil {
		msg += ", next slot at " + e.Status.OldestCallExpiry.Format(time.RFC3339)
	}
	return msg
}

func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }
