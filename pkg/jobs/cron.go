package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mercury-nju/novamail-sub004/pkg/domain"
	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
	"github.com/Mercury-nju/novamail-sub004/pkg/quota"
)

// sweepBatchSize caps how many accounts one rollover sweep touches.
const sweepBatchSize = 500

// CronManager runs the periodic maintenance jobs: purging expired
// verification codes and rolling usage periods for accounts that saw no
// traffic after their period elapsed. Both jobs are safe to run on several
// instances at once; the stores make each operation idempotent.
type CronManager struct {
	cron     *cron.Cron
	codes    domain.CodeStore
	accounts domain.AccountStore
	tracker  *quota.Tracker
	log      logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(codes domain.CodeStore, accounts domain.AccountStore, tracker *quota.Tracker, log logger.Logger) *CronManager {
	return &CronManager{
		cron:     cron.New(),
		codes:    codes,
		accounts: accounts,
		tracker:  tracker,
		log:      log,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	// Every 15 minutes: purge verification codes past their window.
	if _, err := cm.cron.AddFunc("*/15 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		purged, err := cm.codes.PurgeExpired(ctx)
		if err != nil {
			cm.log.Error("verification code purge failed", "error", err)
			return
		}
		if purged > 0 {
			cm.log.Info("purged expired verification codes", "count", purged)
		}
	}); err != nil {
		return err
	}

	// Hourly: roll usage periods for idle accounts. Active accounts roll
	// lazily on their next quota operation; this sweep catches the rest so
	// usage snapshots stay honest.
	if _, err := cm.cron.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		ids, err := cm.accounts.ListElapsedPeriods(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			cm.log.Error("failed to list elapsed periods", "error", err)
			return
		}

		rolled := 0
		for _, id := range ids {
			ok, err := cm.tracker.RollPeriodIfElapsed(ctx, id)
			if err != nil {
				cm.log.Error("period rollover failed", "account_id", id, "error", err)
				continue
			}
			if ok {
				rolled++
			}
		}
		if rolled > 0 {
			cm.log.Info("rolled usage periods", "count", rolled)
		}
	}); err != nil {
		return err
	}

	return nil
}

// Start begins running scheduled jobs
func (cm *CronManager) Start() {
	cm.cron.Start()
	cm.log.Info("cron jobs started")
}

// Stop gracefully stops scheduled jobs
func (cm *CronManager) Stop() {
	ctx := cm.cron.Stop()
	<-ctx.Done()
	cm.log.Info("cron jobs stopped")
}
