// register_repository.go implements RegisterRepository, the CRUD store of registers.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openregister/openregister/internal/db/models"
)

const registerColumns = `id, uuid, version, title, slug, description, schemas, source, owner,
	organisation, application, folder, "authorization", configuration, created, updated, deleted`

// RegisterRepository handles register database operations
type RegisterRepository struct {
	db *sqlx.DB
}

// NewRegisterRepository creates a new register repository
func NewRegisterRepository(db *sqlx.DB) *RegisterRepository {
	return &RegisterRepository{db: db}
}

// CreateRegister inserts reg and sets its ID
func (r *RegisterRepository) CreateRegister(ctx context.Context, reg *models.Register) error {
	query := `
		INSERT INTO registers (
			uuid, version, title, slug, description, schemas, source, owner,
			organisation, application, folder, "authorization", configuration, created, updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`
	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		reg.UUID, reg.Version, reg.Title, reg.Slug, reg.Description, reg.Schemas, reg.Source, reg.Owner,
		reg.Organisation, reg.Application, reg.Folder, reg.Authorization, reg.Configuration, reg.Created, reg.Updated,
	).Scan(&reg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert register: %w", err)
	}
	return nil
}

// GetRegister retrieves a register by UUID. Returns (nil, nil) when absent.
func (r *RegisterRepository) GetRegister(ctx context.Context, uuid string) (*models.Register, error) {
	return r.get(ctx, `SELECT `+registerColumns+` FROM registers WHERE uuid = $1`, uuid)
}

// GetRegisterBySlug retrieves a live register by slug. Returns (nil, nil) when absent.
func (r *RegisterRepository) GetRegisterBySlug(ctx context.Context, slug string) (*models.Register, error) {
	return r.get(ctx, `SELECT `+registerColumns+` FROM registers WHERE slug = $1 AND deleted IS NULL`, slug)
}

func (r *RegisterRepository) get(ctx context.Context, query string, args ...any) (*models.Register, error) {
	var reg models.Register
	err := conn(ctx, r.db).GetContext(ctx, &reg, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get register: %w", err)
	}
	return &reg, nil
}

// ListRegisters lists registers ordered by title
func (r *RegisterRepository) ListRegisters(ctx context.Context, includeDeleted bool) ([]*models.Register, error) {
	query := `SELECT ` + registerColumns + ` FROM registers`
	if !includeDeleted {
		query += ` WHERE deleted IS NULL`
	}
	query += ` ORDER BY title, id`

	var regs []*models.Register
	if err := conn(ctx, r.db).SelectContext(ctx, &regs, query); err != nil {
		return nil, fmt.Errorf("failed to list registers: %w", err)
	}
	return regs, nil
}

// ListRegistersUsingSchema lists live registers that permit the schema
func (r *RegisterRepository) ListRegistersUsingSchema(ctx context.Context, schemaUUID string) ([]*models.Register, error) {
	query := `SELECT ` + registerColumns + ` FROM registers
		WHERE deleted IS NULL AND schemas ? $1
		ORDER BY title, id`
	var regs []*models.Register
	if err := conn(ctx, r.db).SelectContext(ctx, &regs, query, schemaUUID); err != nil {
		return nil, fmt.Errorf("failed to list registers for schema: %w", err)
	}
	return regs, nil
}

// UpdateRegister persists every mutable field of reg, including the deletion marker
func (r *RegisterRepository) UpdateRegister(ctx context.Context, reg *models.Register) error {
	query := `
		UPDATE registers SET
			version = $2, title = $3, slug = $4, description = $5, schemas = $6, source = $7,
			owner = $8, organisation = $9, application = $10, folder = $11,
			"authorization" = $12, configuration = $13, updated = $14, deleted = $15
		WHERE uuid = $1`
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		reg.UUID, reg.Version, reg.Title, reg.Slug, reg.Description, reg.Schemas, reg.Source,
		reg.Owner, reg.Organisation, reg.Application, reg.Folder,
		reg.Authorization, reg.Configuration, reg.Updated, reg.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update register: %w", err)
	}
	return nil
}
