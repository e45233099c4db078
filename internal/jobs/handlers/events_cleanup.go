package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/site-pulse/internal/jobs"
	"github.com/Proton-105/site-pulse/pkg/metrics"
)

// EventPurger deletes events whose retention has elapsed.
type EventPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type EventsCleanupHandler struct {
	events EventPurger
	log    *slog.Logger
	now    func() time.Time
}

func NewEventsCleanupHandler(events EventPurger, log *slog.Logger) *EventsCleanupHandler {
	if log == nil {
		log = slog.Default()
	}

	return &EventsCleanupHandler{
		events: events,
		log:    log,
		now:    time.Now,
	}
}

func (h *EventsCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.EventsCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			h.log.ErrorContext(ctx, "events cleanup: failed to decode payload",
				slog.String("task_type", t.Type()),
				slog.Any("error", err),
			)
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	before := payload.Before
	if before.IsZero() {
		before = h.now().UTC()
	}

	deleted, err := h.events.DeleteExpired(ctx, before)
	if err != nil {
		return fmt.Errorf("delete expired events: %w", err)
	}

	metrics.RecordEventsCleaned(deleted)
	h.log.InfoContext(ctx, "events cleanup finished",
		slog.Int64("deleted", deleted),
		slog.Time("before", before),
	)

	return nil
}
