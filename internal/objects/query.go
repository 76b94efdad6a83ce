package objects

import (
	"context"
	"strconv"

	"github.com/openregister/openregister/internal/audit"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
)

// DefaultLimit and MaxLimit bound page sizes for listings
const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// ListOptions selects and pages a plain listing
type ListOptions struct {
	Filter repositories.ObjectFilter
	Order  []repositories.SortField
	Limit  int
	Offset int
}

// Page is one page of objects with the total match count
type Page struct {
	Results []*models.ObjectEntity `json:"results"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// FindAll lists objects of one register and schema that actor may read.
// Soft-deleted objects are excluded unless opts.Filter.IncludeDeleted is set.
func (s *Service) FindAll(ctx context.Context, register, schema string, opts ListOptions, actor auth.Actor) (*Page, error) {
	reg, sch, err := s.resolve(ctx, register, schema)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, actionRead, reg, sch, nil); err != nil {
		return nil, err
	}

	f := opts.Filter
	f.Register, f.Schema = reg.UUID, sch.UUID
	f.Reader = ReadScope(actor)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := max(opts.Offset, 0)

	total, err := s.objects.CountObjects(ctx, f)
	if err != nil {
		return nil, storeErr("count objects", err)
	}
	rows, err := s.objects.ListObjects(ctx, f, opts.Order, limit, offset)
	if err != nil {
		return nil, storeErr("list objects", err)
	}
	for i, o := range rows {
		rows[i] = Redact(o, actor)
	}
	return &Page{Results: rows, Total: total, Limit: limit, Offset: offset}, nil
}

// AuditTrails lists the audit trail of one object, newest first
func (s *Service) AuditTrails(ctx context.Context, ref Ref, actor auth.Actor, limit, offset int) ([]*models.AuditTrail, int, error) {
	obj, err := s.objects.GetObject(ctx, ref.ID)
	if err != nil {
		return nil, 0, storeErr("get object", err)
	}
	if obj == nil {
		return nil, 0, notFound("object", ref.ID)
	}
	reg, sch, err := s.scope(ctx, obj, ref)
	if err != nil {
		return nil, 0, err
	}
	if err := authorize(actor, actionRead, reg, sch, obj); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	trails, total, err := s.audits.ListAuditTrails(ctx, repositories.AuditTrailFilters{ObjectUUID: &obj.UUID}, min(limit, MaxLimit), max(offset, 0))
	if err != nil {
		return nil, 0, storeErr("list audit trails", err)
	}
	return trails, total, nil
}

// Revert restores the object payload to the state right after audit trail
// entry auditTrailID by undoing every later entry, newest first. The result
// is persisted as a new version with a revert audit entry; history is never
// rewritten.
func (s *Service) Revert(ctx context.Context, ref Ref, auditTrailID int64, actor auth.Actor) (*Result, error) {
	return s.mutate(ctx, ref, actor, models.ActionRevert, func(ctx context.Context, obj *models.ObjectEntity) (map[string]any, error) {
		target, err := s.audits.GetAuditTrail(ctx, auditTrailID)
		if err != nil {
			return nil, storeErr("get audit trail", err)
		}
		if target == nil || target.ObjectUUID != obj.UUID {
			return nil, notFound("audit trail", strconv.FormatInt(auditTrailID, 10))
		}
		newer, err := s.audits.ListAuditTrailsAfter(ctx, obj.UUID, target.ID)
		if err != nil {
			return nil, storeErr("list audit trails", err)
		}
		state, err := audit.Reconstruct(obj.Object, newer)
		if err != nil {
			return nil, storeErr("reconstruct object", err)
		}
		return state, nil
	})
}
