// Package search implements filtered, paginated and faceted object search.
//
// One core algorithm turns a Query into independent tasks (count, page fetch,
// one task per facet, facet discovery) that write to their own result slots.
// An Executor decides how the tasks run: Sequential evaluates them in order,
// Concurrent dispatches them through an errgroup. The join step is shared, so
// both executors return identical results, totals and pages for the same data.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/safego"
	"github.com/openregister/openregister/internal/telemetry"
)

// Store is the read side of the object store used by searches
type Store interface {
	CountObjects(ctx context.Context, f repositories.ObjectFilter) (int, error)
	ListObjects(ctx context.Context, f repositories.ObjectFilter, order []repositories.SortField, limit, offset int) ([]*models.ObjectEntity, error)
	FieldValueCounts(ctx context.Context, f repositories.ObjectFilter, field string, metadata bool, limit int) ([]repositories.ValueCount, error)
}

// LogStore persists search logs
type LogStore interface {
	CreateSearchLog(ctx context.Context, l *models.SearchLog) error
}

// Response is one page of search results with facets
type Response struct {
	Results   []*models.ObjectEntity `json:"results"`
	Total     int                    `json:"total"`
	Page      int                    `json:"page"`
	Pages     int                    `json:"pages"`
	Limit     int                    `json:"limit"`
	Offset    int                    `json:"offset"`
	Facets    map[string]*Facet      `json:"facets,omitempty"`
	Facetable *Facetable             `json:"facetable,omitempty"`
}

// Engine executes searches
type Engine struct {
	store    Store
	registry objects.Registry
	logs     LogStore
	now      func() time.Time
}

// NewEngine creates a search engine. logs may be nil to disable search logging.
func NewEngine(store Store, registry objects.Registry, logs LogStore) *Engine {
	return &Engine{store: store, registry: registry, logs: logs, now: time.Now}
}

// plan holds the result slots of one search. Each task writes one field.
type plan struct {
	total     int
	rows      []*models.ObjectEntity
	facets    []*Facet
	facetable *Facetable
}

// Search runs q with exec on behalf of actor
func (e *Engine) Search(ctx context.Context, q *Query, exec Executor, actor auth.Actor) (resp *Response, err error) {
	start := time.Now()
	ctx, end := telemetry.StartSpan(ctx, "search", attribute.String("executor", exec.Name()))
	defer func() { end(err) }()

	filter, err := e.scope(ctx, q, actor)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)
	requested := max(q.Page, 1)

	p := &plan{facets: make([]*Facet, len(q.Facets))}
	tasks := []Task{
		traced("search.count", func(ctx context.Context) error {
			n, err := e.store.CountObjects(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to count objects: %w", err)
			}
			p.total = n
			return nil
		}),
		traced("search.page", func(ctx context.Context) error {
			rows, err := e.store.ListObjects(ctx, filter, q.Order, limit, (requested-1)*limit)
			if err != nil {
				return fmt.Errorf("failed to list objects: %w", err)
			}
			p.rows = rows
			return nil
		}),
	}
	for i, req := range q.Facets {
		i, req := i, req
		tasks = append(tasks, traced("search.facet", func(ctx context.Context) error {
			values, err := e.store.FieldValueCounts(ctx, filter, req.Field, req.Metadata, repositories.MaxFacetValues+1)
			if err != nil {
				return fmt.Errorf("failed to compute %s facet on %s: %w", req.Type, req.Key(), err)
			}
			truncated := len(values) > repositories.MaxFacetValues
			if truncated {
				values = values[:repositories.MaxFacetValues]
			}
			p.facets[i] = computeFacet(req, values)
			p.facets[i].Truncated = truncated
			telemetry.FacetsComputedTotal.WithLabelValues(string(req.Type)).Inc()
			return nil
		}, attribute.String("field", req.Key()), attribute.String("type", string(req.Type))))
	}
	if q.Facetable {
		sampleSize := q.SampleSize
		if sampleSize <= 0 {
			sampleSize = DefaultSampleSize
		}
		tasks = append(tasks, traced("search.facetable", func(ctx context.Context) error {
			sample, err := e.store.ListObjects(ctx, filter, nil, min(sampleSize, MaxSampleSize), 0)
			if err != nil {
				return fmt.Errorf("failed to sample objects: %w", err)
			}
			p.facetable = discoverFacetable(sample)
			return nil
		}))
	}

	if err := exec.Run(ctx, tasks); err != nil {
		return nil, err
	}

	pages := (p.total + limit - 1) / limit
	page := min(requested, max(pages, 1))
	if page != requested {
		// The requested page was past the end; fetch the clamped one.
		rows, err := e.store.ListObjects(ctx, filter, q.Order, limit, (page-1)*limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		p.rows = rows
	}

	resp = &Response{
		Results:   make([]*models.ObjectEntity, len(p.rows)),
		Total:     p.total,
		Page:      page,
		Pages:     pages,
		Limit:     limit,
		Offset:    (page - 1) * limit,
		Facetable: p.facetable,
	}
	for i, o := range p.rows {
		resp.Results[i] = objects.Redact(o, actor)
	}
	if len(p.facets) > 0 {
		resp.Facets = make(map[string]*Facet, len(p.facets))
		for i, f := range p.facets {
			resp.Facets[q.Facets[i].Key()] = f
		}
	}

	telemetry.SearchDuration.WithLabelValues(exec.Name()).Observe(time.Since(start).Seconds())
	e.log(ctx, filter, resp.Total, actor)
	return resp, nil
}

// scope resolves register and schema references into the filter, checks read
// access and restricts the filter to objects the actor may read. Searches spanning every register are reserved to elevated actors.
func (e *Engine) scope(ctx context.Context, q *Query, actor auth.Actor) (repositories.ObjectFilter, error) {
	f := q.Filter
	var (
		reg *models.Register
		sch *models.Schema
		err error
	)
	if q.Register != "" {
		reg, err = e.registry.GetRegister(ctx, q.Register)
		if err != nil {
			return f, fmt.Errorf("failed to get register: %w", err)
		}
		if reg == nil || reg.IsDeleted() {
			return f, fmt.Errorf("register %q: %w", q.Register, objects.ErrNotFound)
		}
		f.Register = reg.UUID
	}
	if q.Schema != "" {
		sch, err = e.registry.GetSchema(ctx, q.Schema)
		if err != nil {
			return f, fmt.Errorf("failed to get schema: %w", err)
		}
		if sch == nil || sch.Deleted != nil {
			return f, fmt.Errorf("schema %q: %w", q.Schema, objects.ErrNotFound)
		}
		f.Schema = sch.UUID
	}
	if reg != nil && sch != nil && !reg.HasSchema(sch.UUID) {
		return f, fmt.Errorf("schema %q in register %q: %w", q.Schema, q.Register, objects.ErrNotFound)
	}
	if reg == nil && sch == nil && !actor.Elevated {
		return f, fmt.Errorf("search across all registers: %w", objects.ErrNotAuthorized)
	}
	if err := objects.AuthorizeRead(actor, reg, sch); err != nil {
		return f, err
	}
	f.Reader = objects.ReadScope(actor)
	return f, nil
}

// log records the search asynchronously; failures are only logged
func (e *Engine) log(ctx context.Context, f repositories.ObjectFilter, total int, actor auth.Actor) {
	if e.logs == nil {
		return
	}
	entry := &models.SearchLog{
		UUID:        uuid.NewString(),
		Register:    optional(f.Register),
		Schema:      optional(f.Schema),
		Filters:     models.JSONMap{},
		Terms:       models.StringList(strings.Fields(f.Search)),
		ResultCount: total,
		User:        optional(actor.UserID),
		Session:     optional(actor.SessionID),
		IPAddress:   optional(actor.IPAddress),
		Created:     e.now().UTC(),
	}
	if len(f.Metadata) > 0 {
		entry.Filters["@self"] = f.Metadata
	}
	if len(f.Fields) > 0 {
		entry.Filters["fields"] = f.Fields
	}
	if f.IncludeDeleted {
		entry.Filters["includeDeleted"] = true
	}

	ctx = context.WithoutCancel(ctx)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := e.logs.CreateSearchLog(ctx, entry); err != nil {
			slog.Warn("failed to write search log", "error", err)
		}
	})
}

func traced(name string, task Task, attrs ...attribute.KeyValue) Task {
	return func(ctx context.Context) error {
		ctx, end := telemetry.StartSpan(ctx, name, attrs...)
		err := task(ctx)
		end(err)
		return err
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
