// source_repository.go implements SourceRepository, the CRUD store of storage sources.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openregister/openregister/internal/db/models"
)

// SourceRepository handles source database operations
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// CreateSource inserts s and sets its ID
func (r *SourceRepository) CreateSource(ctx context.Context, s *models.Source) error {
	query := `
		INSERT INTO sources (uuid, title, description, type, database_url, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		s.UUID, s.Title, s.Description, s.Type, s.DatabaseURL, s.Created, s.Updated,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by UUID. Returns (nil, nil) when absent.
func (r *SourceRepository) GetSource(ctx context.Context, uuid string) (*models.Source, error) {
	var s models.Source
	err := conn(ctx, r.db).GetContext(ctx, &s, `SELECT * FROM sources WHERE uuid = $1`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &s, nil
}

// ListSources lists all sources ordered by title
func (r *SourceRepository) ListSources(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	if err := conn(ctx, r.db).SelectContext(ctx, &sources, `SELECT * FROM sources ORDER BY title, id`); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// UpdateSource persists the mutable fields of s
func (r *SourceRepository) UpdateSource(ctx context.Context, s *models.Source) error {
	query := `
		UPDATE sources SET title = $2, description = $3, type = $4, database_url = $5, updated = $6
		WHERE uuid = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query,
		s.UUID, s.Title, s.Description, s.Type, s.DatabaseURL, s.Updated); err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	return nil
}

// DeleteSource removes a source; registers pointing at it fall back to the internal store
func (r *SourceRepository) DeleteSource(ctx context.Context, uuid string) error {
	if _, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM sources WHERE uuid = $1`, uuid); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}
