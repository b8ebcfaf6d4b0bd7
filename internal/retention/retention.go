package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"whisperchat/pkg/config"
	"whisperchat/pkg/logger"
	"whisperchat/pkg/state"
	"whisperchat/pkg/store"
)

// Start starts the retention scheduler if enabled and returns a cancel
// func. Each run purges message rows older than the configured period.
func Start(ctx context.Context, cfg *config.Config) (context.CancelFunc, error) {
	if !cfg.Retention.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	period, err := cfg.RetentionPeriod()
	if err != nil {
		return nil, err
	}

	retentionPath := state.PathsVar.Retention
	if retentionPath == "" {
		return nil, fmt.Errorf("state paths not initialized")
	}
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	// default daily @02:00
	cronExpr := cfg.Retention.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Retention.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Retention.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Retention.Period, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, period, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler computes the next tick for the configured cron expression
// with gronx and sleeps until then, purging once per tick.
func runScheduler(ctx context.Context, period time.Duration, retentionPath, cronExpr string) {
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
			if err := RunOnce(period, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce purges messages older than period and records a lastrun marker.
// Exported so admin triggers and tests can invoke a run on demand.
func RunOnce(period time.Duration, retentionPath string) error {
	cutoff := time.Now().UTC().Add(-period)
	n, err := store.PurgeMessagesBefore(cutoff)
	if err != nil {
		return err
	}
	logger.Info("retention_run_complete", "purged", n, "cutoff", cutoff.Format(time.RFC3339))
	if retentionPath != "" {
		marker := filepath.Join(retentionPath, "lastrun")
		_ = os.WriteFile(marker, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o600)
	}
	return nil
}
