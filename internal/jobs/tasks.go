package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeEventsCleanup = "events:cleanup"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues weights the queues processed by the worker.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// EventsCleanupPayload carries an optional cutoff; zero means "now" at processing time.
type EventsCleanupPayload struct {
	Before time.Time `json:"before,omitzero"`
}

// NewEventsCleanupTask builds a task that deletes events whose retention expired before before.
func NewEventsCleanupTask(before time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(EventsCleanupPayload{Before: before})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskTypeEventsCleanup,
		payload,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}
