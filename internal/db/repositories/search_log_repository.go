// search_log_repository.go implements SearchLogRepository, the analytics log of executed searches.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openregister/openregister/internal/db/models"
)

// SearchLogRepository handles search log database operations
type SearchLogRepository struct {
	db *sqlx.DB
}

// NewSearchLogRepository creates a new search log repository
func NewSearchLogRepository(db *sqlx.DB) *SearchLogRepository {
	return &SearchLogRepository{db: db}
}

// CreateSearchLog inserts l
func (r *SearchLogRepository) CreateSearchLog(ctx context.Context, l *models.SearchLog) error {
	query := `
		INSERT INTO search_logs (
			uuid, schema_uuid, register_uuid, filters, terms, result_count, user_id, session, ip_address, created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := conn(ctx, r.db).QueryRowxContext(ctx, query,
		l.UUID, l.Schema, l.Register, l.Filters, l.Terms, l.ResultCount, l.User, l.Session, l.IPAddress, l.Created,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("failed to insert search log: %w", err)
	}
	return nil
}

// ListSearchLogs returns a page of search logs newest first and the total count
func (r *SearchLogRepository) ListSearchLogs(ctx context.Context, since *time.Time, limit, offset int) ([]*models.SearchLog, int, error) {
	var args sqlArgs
	where := ""
	if since != nil {
		where = " WHERE created >= " + args.next(*since)
	}

	var total int
	if err := conn(ctx, r.db).GetContext(ctx, &total, `SELECT COUNT(*) FROM search_logs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count search logs: %w", err)
	}

	query := `SELECT * FROM search_logs` + where +
		` ORDER BY created DESC, id DESC LIMIT ` + args.next(limit) + ` OFFSET ` + args.next(offset)
	var logs []*models.SearchLog
	if err := conn(ctx, r.db).SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list search logs: %w", err)
	}
	return logs, total, nil
}

// DeleteSearchLogsBefore removes search logs older than cutoff
func (r *SearchLogRepository) DeleteSearchLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM search_logs WHERE created < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete search logs: %w", err)
	}
	return res.RowsAffected()
}
