package stub

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"terrachat/pkg/config"
	"terrachat/pkg/logger"
)

// StartRetention runs the stale-thread purge on the configured cron
// schedule. Returns a cancel func; when retention is disabled the cancel
// is a no-op.
func StartRetention(ctx context.Context, cfg config.RetentionConfig, store *Store, projectIDs func() []string) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	period := cfg.PeriodOr(30 * 24 * time.Hour)
	logger.Info("retention_enabled", "cron", cronExpr, "period", period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period, store, projectIDs)
	return cancel, nil
}

// runScheduler sleeps until the cron expression's next tick and fires a
// purge pass, repeating until cancelled.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration, store *Store, projectIDs func() []string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := purgeStale(store, projectIDs(), period); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// purgeStale deletes threads whose last activity is older than the period.
func purgeStale(store *Store, projects []string, period time.Duration) error {
	cutoff := time.Now().Add(-period).UnixNano()
	var purged int
	for _, pid := range projects {
		threads, err := store.ListThreads(pid)
		if err != nil {
			return err
		}
		for _, th := range threads {
			last := th.LastMessageTS
			if last == 0 {
				last = th.CreatedTS
			}
			if last >= cutoff {
				continue
			}
			if err := store.DeleteThread(pid, th.ID); err != nil {
				logger.Warn("retention_delete_failed", "thread", th.ID, "error", err)
				continue
			}
			purged++
		}
	}
	logger.Info("retention_run_complete", "purged", purged)
	return nil
}
