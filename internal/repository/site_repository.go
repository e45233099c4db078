// Package repository implements PostgreSQL storage for sites and events.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Proton-105/site-pulse/internal/domain"
)

// ErrDuplicateSite is returned when a site with the same domain already exists.
var ErrDuplicateSite = errors.New("site already registered")

const uniqueViolation = "23505"

// SiteFilter narrows and pages a site listing. After is the id of the last site of
// the previous page.
type SiteFilter struct {
	OwnerEmail string
	After      string
	Limit      int
}

// SiteRepository defines persistence operations for sites.
type SiteRepository interface {
	Create(ctx context.Context, site *domain.Site) error
	List(ctx context.Context, filter SiteFilter) ([]domain.Site, error)
}

type siteRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSiteRepository creates a new SQL-backed site repository.
func NewSiteRepository(db *sql.DB, log *slog.Logger) SiteRepository {
	return &siteRepository{
		db:  db,
		log: log,
	}
}

// Create persists a new site.
func (r *siteRepository) Create(ctx context.Context, site *domain.Site) error {
	const query = `
		INSERT INTO sites (id, name, domain, description, owner_email, tracking_code, settings, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		site.ID,
		site.Name,
		site.Domain,
		site.Description,
		site.OwnerEmail,
		site.TrackingCode,
		site.Settings,
		site.IsActive,
		site.CreatedAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateSite
		}

		if r.log != nil {
			r.log.Error("failed to create site", slog.String("site_id", site.ID), slog.Any("error", err))
		}
		return fmt.Errorf("insert site: %w", err)
	}

	return nil
}

// List returns up to filter.Limit sites ordered by id, starting after filter.After.
func (r *siteRepository) List(ctx context.Context, filter SiteFilter) ([]domain.Site, error) {
	const query = `
		SELECT id, name, domain, description, owner_email, tracking_code, settings, is_active, created_at
		FROM sites
		WHERE ($1 = '' OR owner_email = $1)
		  AND ($2 = '' OR id > $2)
		ORDER BY id
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, filter.OwnerEmail, filter.After, filter.Limit)
	if err != nil {
		if r.log != nil {
			r.log.Error("failed to list sites", slog.Any("error", err))
		}
		return nil, fmt.Errorf("select sites: %w", err)
	}
	defer rows.Close()

	sites := make([]domain.Site, 0, filter.Limit)
	for rows.Next() {
		var site domain.Site
		if err := rows.Scan(
			&site.ID,
			&site.Name,
			&site.Domain,
			&site.Description,
			&site.OwnerEmail,
			&site.TrackingCode,
			&site.Settings,
			&site.IsActive,
			&site.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}

	return sites, nil
}
