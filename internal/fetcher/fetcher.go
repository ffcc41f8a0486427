package fetcher

import (
	"context"

	"matchpicks/internal/quota"
)

// CallBudget gates outbound provider calls. *quota.Tracker satisfies it.
type CallBudget interface {
	CheckLimit(ctx context.Context) (quota.Status, error)
	RecordCall(ctx context.Context, endpoint, user string, metadata map[string]any) (quota.CallRecord, error)
}

var _ CallBudget = (*quota.Tracker)(nil)
