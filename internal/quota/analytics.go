package quota

import (
	"context"
	"sort"
	"time"
)

// Analytics aggregates the calls currently in the window.
type Analytics struct {
	TotalCalls  int            `json:"totalCalls"`
	ByEndpoint  map[string]int `json:"byEndpoint"`
	ByDay       map[string]int `json:"byDay"`
	ByUser      map[string]int `json:"byUser"`
	WindowStart time.Time      `json:"windowStart"`
	WindowEnd   time.Time      `json:"windowEnd"`
}

// DayCount is one row of the per-day breakdown.
type DayCount struct {
	Day   string `json:"day"`
	Calls int    `json:"calls"`
}

// Analytics groups in-window calls by endpoint, UTC day and user.
func (t *Tracker) Analytics(ctx context.Context) (Analytics, error) {
	state, now, err := t.load(ctx)
	if err != nil {
		return Analytics{}, err
	}
	return aggregate(state.Calls, now.Add(-t.limits.Window), now), nil
}

func aggregate(calls []CallRecord, start, end time.Time) Analytics {
	out := Analytics{
		TotalCalls:  len(calls),
		ByEndpoint:  make(map[string]int),
		ByDay:       make(map[string]int),
		ByUser:      make(map[string]int),
		WindowStart: start,
		WindowEnd:   end,
	}
	for _, call := range calls {
		out.ByEndpoint[call.Endpoint]++
		out.ByDay[call.Timestamp.UTC().Format(time.DateOnly)]++
		user := call.User
		if user == "" {
			user = DefaultUser
		}
		out.ByUser[user]++
	}
	return out
}

// Days returns the per-day breakdown in chronological order.
func (a Analytics) Days() []DayCount {
	days := make([]DayCount, 0, len(a.ByDay))
	for day, n := range a.ByDay {
		days = append(days, DayCount{Day: day, Calls: n})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })
	return days
}
