// schema_repository.go implements SchemaRepository, the CRUD store of schema definitions.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openregister/openregister/internal/db/models"
)

const schemaColumns = `id, uuid, version, title, slug, description, summary, required, properties,
	hard_validation, max_depth, configuration, "authorization", icon, archive, created, updated, deleted`

// SchemaRepository handles schema database operations
type SchemaRepository struct {
	db *sqlx.DB
}

// NewSchemaRepository creates a new schema repository
func NewSchemaRepository(db *sqlx.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

// CreateSchema inserts s and sets its ID
func (r *SchemaRepository) CreateSchema(ctx context.Context, s *models.Schema) error {
	query := `
		INSERT INTO schemas (
			uuid, version, title, slug, description, summary, required, properties,
			hard_validation, max_depth, configuration, "authorization", icon, archive, created, updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		s.UUID, s.Version, s.Title, s.Slug, s.Description, s.Summary, s.Required, s.Properties,
		s.HardValidation, s.MaxDepth, s.Configuration, s.Authorization, s.Icon, s.Archive, s.Created, s.Updated,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert schema: %w", err)
	}
	return nil
}

// GetSchema retrieves a schema by UUID. Returns (nil, nil) when absent.
func (r *SchemaRepository) GetSchema(ctx context.Context, uuid string) (*models.Schema, error) {
	return r.get(ctx, `SELECT `+schemaColumns+` FROM schemas WHERE uuid = $1`, uuid)
}

// GetSchemaBySlug retrieves a live schema by slug. Returns (nil, nil) when absent.
func (r *SchemaRepository) GetSchemaBySlug(ctx context.Context, slug string) (*models.Schema, error) {
	return r.get(ctx, `SELECT `+schemaColumns+` FROM schemas WHERE slug = $1 AND deleted IS NULL`, slug)
}

func (r *SchemaRepository) get(ctx context.Context, query string, args ...any) (*models.Schema, error) {
	var s models.Schema
	err := conn(ctx, r.db).GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}
	return &s, nil
}

// ListSchemas lists schemas ordered by title
func (r *SchemaRepository) ListSchemas(ctx context.Context, includeDeleted bool) ([]*models.Schema, error) {
	query := `SELECT ` + schemaColumns + ` FROM schemas`
	if !includeDeleted {
		query += ` WHERE deleted IS NULL`
	}
	query += ` ORDER BY title, id`

	var schemas []*models.Schema
	if err := conn(ctx, r.db).SelectContext(ctx, &schemas, query); err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return schemas, nil
}

// GetSchemasByUUIDs returns the schemas among uuids that exist, in no particular order
func (r *SchemaRepository) GetSchemasByUUIDs(ctx context.Context, uuids []string) ([]*models.Schema, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var schemas []*models.Schema
	query := `SELECT ` + schemaColumns + ` FROM schemas WHERE uuid::text = ANY($1)`
	if err := conn(ctx, r.db).SelectContext(ctx, &schemas, query, pq.Array(uuids)); err != nil {
		return nil, fmt.Errorf("failed to get schemas: %w", err)
	}
	return schemas, nil
}

// UpdateSchema persists every mutable field of s, including the deletion marker
func (r *SchemaRepository) UpdateSchema(ctx context.Context, s *models.Schema) error {
	query := `
		UPDATE schemas SET
			version = $2, title = $3, slug = $4, description = $5, summary = $6,
			required = $7, properties = $8, hard_validation = $9, max_depth = $10,
			configuration = $11, "authorization" = $12, icon = $13, archive = $14,
			updated = $15, deleted = $16
		WHERE uuid = $1`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		s.UUID, s.Version, s.Title, s.Slug, s.Description, s.Summary,
		s.Required, s.Properties, s.HardValidation, s.MaxDepth,
		s.Configuration, s.Authorization, s.Icon, s.Archive,
		s.Updated, s.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update schema: %w", err)
	}
	return nil
}
