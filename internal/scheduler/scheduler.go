package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specPresenceSync = "*/15 * * * * *"
	specTotalsSync   = "0 */5 * * * *"
)

type PresenceTask interface {
	SyncPresence()
}

type TotalsTask interface {
	SyncTotals()
}

type Deps struct {
	PresenceJob PresenceTask
	TotalsJob   TotalsTask
}

// NewScheduler registers the periodic jobs. The caller starts and stops the
// returned cron.
func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.PresenceJob != nil {
		addFunc(c, specPresenceSync, "metrics.sync_presence", logger, deps.PresenceJob.SyncPresence)
	}
	if deps.TotalsJob != nil {
		addFunc(c, specTotalsSync, "metrics.sync_totals", logger, deps.TotalsJob.SyncTotals)
	}

	return c
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, wrapJob(name, logger, fn)); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func wrapJob(name string, logger *zap.Logger, fn func()) func() {
	return func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if logger == nil {
		return
	}

	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
