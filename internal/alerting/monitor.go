package alerting

import (
	"context"
	"sync"
	"time"

	"matchpicks/internal/quota"
)

// LevelOf classifies a quota status.
func LevelOf(status quota.Status) Level {
	switch {
	case status.IsBlocked:
		return LevelBlocked
	case status.IsNearLimit:
		return LevelNearLimit
	default:
		return LevelOK
	}
}

// Monitor sends a notification when the quota level rises, and repeats it
// for an unchanged level once the cooldown has passed.
type Monitor struct {
	notifier Notifier
	cooldown time.Duration

	mu       sync.Mutex
	last     Level
	lastSent time.Time
}

// NewMonitor returns a monitor starting at LevelOK.
func NewMonitor(notifier Notifier, cooldown time.Duration) *Monitor {
	return &Monitor{notifier: notifier, cooldown: cooldown}
}

// Observe evaluates status and reports whether a notification was sent.
func (m *Monitor) Observe(ctx context.Context, status quota.Status, now time.Time) (bool, error) {
	level := LevelOf(status)

	m.mu.Lock()
	prev, lastSent := m.last, m.lastSent
	m.last = level
	send := level > LevelOK && (level > prev || now.Sub(lastSent) >= m.cooldown)
	if send {
		m.lastSent = now
	}
	m.mu.Unlock()

	if !send {
		return false, nil
	}

	err := m.notifier.Notify(ctx, Notification{
		At:               now,
		Level:            level,
		Count:            status.Count,
		SoftLimit:        status.SoftLimit,
		HardLimit:        status.HardLimit,
		UsagePercent:     status.UsagePercent,
		OldestCallExpiry: status.OldestCallExpiry,
	})
	if err != nil {
		m.mu.Lock()
		m.lastSent = lastSent
		m.mu.Unlock()
		return false, err
	}
	return true, nil
}
