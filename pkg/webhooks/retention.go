package webhooks

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

// RetentionJob prunes old delivery log rows on a cron schedule
type RetentionJob struct {
	service  *Service
	logger   *observability.Logger
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewRetentionJob creates the pruning job. schedule uses standard cron
// syntax, e.g. "0 3 * * *" for daily at 03:00.
func NewRetentionJob(service *Service, logger *observability.Logger, maxAge time.Duration, schedule string) *RetentionJob {
	return &RetentionJob{
		service:  service,
		logger:   logger,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the schedule and begins running. Returns an error for
// an unparseable schedule.
func (j *RetentionJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.run); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.WithFields(map[string]interface{}{
		"schedule": j.schedule,
		"max_age":  j.maxAge.String(),
	}).Info("delivery log retention job started")
	return nil
}

// Stop halts the schedule and waits for a running prune to finish
func (j *RetentionJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *RetentionJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.maxAge)
	pruned, err := j.service.PruneLogs(ctx, cutoff)
	if err != nil {
		j.logger.WithError(err).Error("delivery log prune failed")
		return
	}
	j.logger.WithFields(map[string]interface{}{
		"pruned": pruned,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("delivery log prune complete")
}
