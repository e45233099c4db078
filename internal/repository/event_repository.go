package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/site-pulse/internal/domain"
)

// EventQuery selects a site's events in [From, To]. An empty EventType matches all types.
type EventQuery struct {
	SiteID    string
	From      time.Time
	To        time.Time
	EventType string
}

// EventRepository defines persistence operations for tracked events.
type EventRepository interface {
	Create(ctx context.Context, event *domain.Event) error
	List(ctx context.Context, query EventQuery) ([]domain.Event, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type eventRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewEventRepository creates a new SQL-backed event repository.
func NewEventRepository(db *sql.DB, log *slog.Logger) EventRepository {
	return &eventRepository{
		db:  db,
		log: log,
	}
}

// Create persists a tracked event.
func (r *eventRepository) Create(ctx context.Context, event *domain.Event) error {
	const query = `
		INSERT INTO events (id, site_id, event_type, page, referrer, user_agent, ip, session_id, occurred_at, expires_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.SiteID,
		event.EventType,
		event.Page,
		event.Referrer,
		event.UserAgent,
		event.IP,
		event.SessionID,
		event.Timestamp,
		event.ExpiresAt,
	); err != nil {
		if r.log != nil {
			r.log.Error("failed to store event", slog.String("site_id", event.SiteID), slog.Any("error", err))
		}
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}

// List returns the matching events in ascending time order.
func (r *eventRepository) List(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	const query = `
		SELECT id, site_id, event_type, page,
		       COALESCE(referrer, ''), COALESCE(user_agent, ''), COALESCE(ip, ''), COALESCE(session_id, ''),
		       occurred_at, expires_at
		FROM events
		WHERE site_id = $1
		  AND occurred_at BETWEEN $2 AND $3
		  AND ($4 = '' OR event_type = $4)
		ORDER BY occurred_at
	`

	rows, err := r.db.QueryContext(ctx, query, q.SiteID, q.From, q.To, q.EventType)
	if err != nil {
		if r.log != nil {
			r.log.Error("failed to query events", slog.String("site_id", q.SiteID), slog.Any("error", err))
		}
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		if err := rows.Scan(
			&event.ID,
			&event.SiteID,
			&event.EventType,
			&event.Page,
			&event.Referrer,
			&event.UserAgent,
			&event.IP,
			&event.SessionID,
			&event.Timestamp,
			&event.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// DeleteExpired removes events whose retention elapsed before now.
func (r *eventRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM events WHERE expires_at <= $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return n, nil
}
