// configuration_repository.go implements ConfigurationRepository, the store of register bundles.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/openregister/openregister/internal/db/models"
)

// ConfigurationRepository handles configuration database operations
type ConfigurationRepository struct {
	db *sqlx.DB
}

// NewConfigurationRepository creates a new configuration repository
func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// CreateConfiguration inserts c and sets its ID
func (r *ConfigurationRepository) CreateConfiguration(ctx context.Context, c *models.Configuration) error {
	query := `
		INSERT INTO configurations (uuid, title, description, type, owner, version, registers, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		c.UUID, c.Title, c.Description, c.Type, c.Owner, c.Version, c.Registers, c.Created, c.Updated,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	return nil
}

// GetConfiguration retrieves a configuration by UUID. Returns (nil, nil) when absent.
func (r *ConfigurationRepository) GetConfiguration(ctx context.Context, uuid string) (*models.Configuration, error) {
	var c models.Configuration
	err := conn(ctx, r.db).GetContext(ctx, &c, `SELECT * FROM configurations WHERE uuid = $1`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &c, nil
}

// ListConfigurations lists all configurations ordered by title
func (r *ConfigurationRepository) ListConfigurations(ctx context.Context) ([]*models.Configuration, error) {
	var configs []*models.Configuration
	if err := conn(ctx, r.db).SelectContext(ctx, &configs, `SELECT * FROM configurations ORDER BY title, id`); err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	return configs, nil
}

// UpdateConfiguration persists the mutable fields of c
func (r *ConfigurationRepository) UpdateConfiguration(ctx context.Context, c *models.Configuration) error {
	query := `
		UPDATE configurations SET title = $2, description = $3, type = $4, owner = $5,
			version = $6, registers = $7, updated = $8
		WHERE uuid = $1`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query,
		c.UUID, c.Title, c.Description, c.Type, c.Owner, c.Version, c.Registers, c.Updated); err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	return nil
}

// DeleteConfiguration removes a configuration; the registers it bundles are untouched
func (r *ConfigurationRepository) DeleteConfiguration(ctx context.Context, uuid string) error {
	if _, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM configurations WHERE uuid = $1`, uuid); err != nil {
		return fmt.Errorf("failed to delete configuration: %w", err)
	}
	return nil
}
