package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks(cleanupSchedule string) error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	log            *slog.Logger
}

func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC}),
		log:            log,
	}
}

// RegisterTasks schedules the periodic event cleanup. cleanupSchedule accepts cron
// specs and "@every <duration>".
func (s *scheduler) RegisterTasks(cleanupSchedule string) error {
	task, err := NewEventsCleanupTask(time.Time{})
	if err != nil {
		return err
	}

	entryID, err := s.asynqScheduler.Register(cleanupSchedule, task)
	if err != nil {
		return err
	}

	s.log.InfoContext(context.Background(), "scheduler: registered events cleanup task",
		slog.String("schedule", cleanupSchedule),
		slog.String("entry_id", entryID),
	)

	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", slog.Any("error", err))
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")
	s.asynqScheduler.Shutdown()
}
