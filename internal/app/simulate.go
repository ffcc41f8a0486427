package app

import (
	"context"
	"errors"
	"time"

	"matchpicks/internal/alerting"
)

// SimulateAlert 使用当前配额状态发送一条测试告警，用于验证告警通道。
func (a *App) SimulateAlert(ctx context.Context) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	status, err := rt.tracker.Status(ctx)
	if err != nil {
		return err
	}

	level := alerting.LevelOf(status)
	if level == alerting.LevelOK {
		level = alerting.LevelNearLimit
	}
	return a.newNotifier().Notify(ctx, alerting.Notification{
		At:               time.Now().UTC(),
		Level:            level,
		Count:            status.Count,
		SoftLimit:        status.SoftLimit,
		HardLimit:        status.HardLimit,
		UsagePercent:     status.UsagePercent,
		OldestCallExpiry: status.OldestCallExpiry,
		AdditionalMsg:    "(simulated alert)",
	})
}
