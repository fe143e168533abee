package tasks

import (
	"fmt"

	"github.com/slipstream/acquire/internal/config"
	"github.com/slipstream/acquire/internal/poller"
	"github.com/slipstream/acquire/internal/scheduler"
)

const CompletionPollTaskID = "completion-poll"

const defaultCompletionCron = "*/5 * * * *"

// RegisterCompletionPollTask schedules the completion poller. Nothing is
// registered when polling is disabled.
func RegisterCompletionPollTask(sched *scheduler.Scheduler, p *poller.Poller, cfg config.PollerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	cron := cfg.Cron
	if cron == "" {
		cron = defaultCompletionCron
	}

	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          CompletionPollTaskID,
		Name:        "Completion Poll",
		Description: "Checks open snatches against their download backends",
		Cron:        cron,
		RunOnStart:  true,
		Func:        p.Run,
	})
}

// UpdateCompletionPollTask re-registers the poller after a config change.
func UpdateCompletionPollTask(sched *scheduler.Scheduler, p *poller.Poller, cfg config.PollerConfig) error {
	if err := sched.UnregisterTask(CompletionPollTaskID); err != nil {
		return fmt.Errorf("failed to unregister %s task: %w", CompletionPollTaskID, err)
	}
	return RegisterCompletionPollTask(sched, p, cfg)
}
