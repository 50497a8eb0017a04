package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs PurgeMachine periodically for a fixed set of machines,
// per SETTINGS.ENABLE_PURGE. It is a thin wrapper over gocron/v2 so the
// cron expression and job lifecycle aren't hand-rolled on top of
// time.Ticker.
type Scheduler struct {
	sched   gocron.Scheduler
	backend Backend
	logger  *slog.Logger
}

// NewScheduler constructs a Scheduler bound to backend, on which
// TaskPurgeMachine must already be registered.
func NewScheduler(backend Backend, logger *slog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("worker: create scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{sched: sched, backend: backend, logger: logger}, nil
}

// SchedulePurge registers a cron-expression job that enqueues
// PurgeMachine for every machine in machines.
func (s *Scheduler) SchedulePurge(cronExpr string, machines []string) error {
	_, err := s.sched.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			for _, machine := range machines {
				if err := s.backend.Enqueue(context.Background(), TaskPurgeMachine, PurgeMachineArgs{Machine: machine}); err != nil {
					s.logger.Error("scheduled purge enqueue failed", "machine", machine, "error", err)
				}
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("worker: schedule purge job: %w", err)
	}
	return nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.sched.Start() }

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("worker: shutdown scheduler: %w", err)
	}
	return nil
}
