// audit_trail_repository.go implements AuditTrailRepository: the append-only store of
// object change records, the per-object history used by revert, and the expiry sweep.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openregister/openregister/internal/db/models"
)

// AuditTrailFilters narrows audit trail listings
type AuditTrailFilters struct {
	ObjectUUID   *string
	RegisterUUID *string
	SchemaUUID   *string
	Action       *string
	User         *string
	Since        *time.Time
	Until        *time.Time
}

const auditTrailColumns = `id, uuid, object_uuid, register_uuid, schema_uuid, action, changed,
	user_id, user_name, session, request, ip_address, version, created, expires`

// AuditTrailRepository handles audit trail database operations
type AuditTrailRepository struct {
	db *sqlx.DB
}

// NewAuditTrailRepository creates a new audit trail repository
func NewAuditTrailRepository(db *sqlx.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

// CreateAuditTrail appends an entry. It joins the transaction carried by ctx.
func (r *AuditTrailRepository) CreateAuditTrail(ctx context.Context, a *models.AuditTrail) error {
	query := `
		INSERT INTO audit_trails (
			uuid, object_uuid, register_uuid, schema_uuid, action, changed,
			user_id, user_name, session, request, ip_address, version, created, expires
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		a.UUID, a.ObjectUUID, a.RegisterUUID, a.SchemaUUID, a.Action, a.Changed,
		a.User, a.UserName, a.Session, a.Request, a.IPAddress, a.Version, a.Created, a.Expires,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit trail: %w", err)
	}
	return nil
}

// GetAuditTrail retrieves an entry by ID. Returns (nil, nil) when absent.
func (r *AuditTrailRepository) GetAuditTrail(ctx context.Context, id int64) (*models.AuditTrail, error) {
	var a models.AuditTrail
	err := conn(ctx, r.db).GetContext(ctx, &a, `SELECT `+auditTrailColumns+` FROM audit_trails WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	return &a, nil
}

// ListAuditTrailsAfter returns every entry of an object recorded after afterID, newest first
func (r *AuditTrailRepository) ListAuditTrailsAfter(ctx context.Context, objectUUID string, afterID int64) ([]*models.AuditTrail, error) {
	var entries []*models.AuditTrail
	query := `SELECT ` + auditTrailColumns + ` FROM audit_trails
		WHERE object_uuid = $1 AND id > $2
		ORDER BY id DESC`
	if err := conn(ctx, r.db).SelectContext(ctx, &entries, query, objectUUID, afterID); err != nil {
		return nil, fmt.Errorf("failed to list audit trails: %w", err)
	}
	return entries, nil
}

// ListAuditTrails returns a filtered page of entries, newest first, and the total count
func (r *AuditTrailRepository) ListAuditTrails(ctx context.Context, filters AuditTrailFilters, limit, offset int) ([]*models.AuditTrail, int, error) {
	var args sqlArgs
	var clauses []string
	if filters.ObjectUUID != nil {
		clauses = append(clauses, "object_uuid::text = "+args.next(*filters.ObjectUUID))
	}
	if filters.RegisterUUID != nil {
		clauses = append(clauses, "register_uuid = "+args.next(*filters.RegisterUUID))
	}
	if filters.SchemaUUID != nil {
		clauses = append(clauses, "schema_uuid = "+args.next(*filters.SchemaUUID))
	}
	if filters.Action != nil {
		clauses = append(clauses, "action = "+args.next(*filters.Action))
	}
	if filters.User != nil {
		clauses = append(clauses, "user_id = "+args.next(*filters.User))
	}
	if filters.Since != nil {
		clauses = append(clauses, "created >= "+args.next(*filters.Since))
	}
	if filters.Until != nil {
		clauses = append(clauses, "created < "+args.next(*filters.Until))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_trails`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit trails: %w", err)
	}

	query := `SELECT ` + auditTrailColumns + ` FROM audit_trails` + where +
		` ORDER BY id DESC LIMIT ` + args.next(limit) + ` OFFSET ` + args.next(offset)
	var entries []*models.AuditTrail
	if err := conn(ctx, r.db).SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit trails: %w", err)
	}
	return entries, total, nil
}

// DeleteExpiredAuditTrails removes up to limit entries whose retention has passed
func (r *AuditTrailRepository) DeleteExpiredAuditTrails(ctx context.Context, now time.Time, limit int) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		DELETE FROM audit_trails WHERE id IN (
			SELECT id FROM audit_trails WHERE expires IS NOT NULL AND expires <= $1 ORDER BY id LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit trails: %w", err)
	}
	return res.RowsAffected()
}
