// Package objectsapi serves the object endpoints: CRUD, locking, revert,
// audit trails and search under /api/objects, plus the cross-register
// /api/search, /api/audit-trails and /api/search-logs listings.
package objectsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openregister/openregister/internal/api/respond"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/middleware"
	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/search"
	"github.com/openregister/openregister/internal/validation"
)

// LockTokenHeader carries the lock token on unlock requests without a body
const LockTokenHeader = "X-Lock-Token"

// ObjectService is the object engine. Implemented by *objects.Service.
type ObjectService interface {
	Create(ctx context.Context, register, schema string, in objects.Input, actor auth.Actor) (*objects.Result, error)
	Update(ctx context.Context, ref objects.Ref, in objects.Input, actor auth.Actor) (*objects.Result, error)
	Patch(ctx context.Context, ref objects.Ref, in objects.Input, actor auth.Actor) (*objects.Result, error)
	Get(ctx context.Context, ref objects.Ref, actor auth.Actor, includeDeleted bool) (*models.ObjectEntity, error)
	Delete(ctx context.Context, ref objects.Ref, actor auth.Actor) error
	Lock(ctx context.Context, ref objects.Ref, actor auth.Actor, opts objects.LockOptions) (*models.Lock, error)
	Unlock(ctx context.Context, ref objects.Ref, actor auth.Actor, token string) error
	Revert(ctx context.Context, ref objects.Ref, auditTrailID int64, actor auth.Actor) (*objects.Result, error)
	FindAll(ctx context.Context, register, schema string, opts objects.ListOptions, actor auth.Actor) (*objects.Page, error)
	AuditTrails(ctx context.Context, ref objects.Ref, actor auth.Actor, limit, offset int) ([]*models.AuditTrail, int, error)
}

// Searcher runs faceted searches. Implemented by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, q *search.Query, exec search.Executor, actor auth.Actor) (*search.Response, error)
}

// AuditTrailLister lists audit trails across objects. Implemented by repositories.AuditTrailRepository.
type AuditTrailLister interface {
	ListAuditTrails(ctx context.Context, filters repositories.AuditTrailFilters, limit, offset int) ([]*models.AuditTrail, int, error)
}

// SearchLogLister lists search logs. Implemented by repositories.SearchLogRepository.
type SearchLogLister interface {
	ListSearchLogs(ctx context.Context, since *time.Time, limit, offset int) ([]*models.SearchLog, int, error)
}

// Handler serves the object endpoints
type Handler struct {
	objects    ObjectService
	search     Searcher
	executor   search.Executor
	audits     AuditTrailLister
	searchLogs SearchLogLister
}

// NewHandler creates a Handler. exec selects the search execution strategy.
func NewHandler(svc ObjectService, searcher Searcher, exec search.Executor, audits AuditTrailLister, searchLogs SearchLogLister) *Handler {
	if exec == nil {
		exec = search.Concurrent{}
	}
	return &Handler{objects: svc, search: searcher, executor: exec, audits: audits, searchLogs: searchLogs}
}

// metadata is the "@self" block of an object request body
type metadata struct {
	UUID          string               `json:"uuid"`
	Owner         *string              `json:"owner"`
	Organisation  *string              `json:"organisation"`
	Folder        *string              `json:"folder"`
	Files         models.FileRefs      `json:"files"`
	Published     *time.Time           `json:"published"`
	Authorization models.Authorization `json:"authorization"`
}

// objectResponse flattens the object and the warnings of soft validation
type objectResponse struct {
	*models.ObjectEntity
	Warnings []validation.FieldError `json:"warnings,omitempty"`
}

func newObjectResponse(res *objects.Result) objectResponse {
	return objectResponse{ObjectEntity: res.Object, Warnings: res.Warnings}
}

func ref(c *gin.Context) objects.Ref {
	return objects.Ref{Register: c.Param("register"), Schema: c.Param("schema"), ID: c.Param("id")}
}

// bindInput reads an object body. The payload is the JSON object itself;
// engine metadata travels in an optional "@self" member.
func bindInput(c *gin.Context) (objects.Input, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.BadRequest(c, "request body must be a JSON object")
		return objects.Input{}, false
	}

	in := objects.Input{}
	if raw, ok := body["@self"]; ok {
		delete(body, "@self")
		data, err := json.Marshal(raw)
		if err != nil {
			respond.BadRequest(c, "invalid @self metadata")
			return objects.Input{}, false
		}
		var meta metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			respond.BadRequest(c, "invalid @self metadata: "+err.Error())
			return objects.Input{}, false
		}
		in = objects.Input{
			UUID:          meta.UUID,
			Owner:         meta.Owner,
			Organisation:  meta.Organisation,
			Folder:        meta.Folder,
			Files:         meta.Files,
			Published:     meta.Published,
			Authorization: meta.Authorization,
		}
	}
	in.Object = body
	return in, true
}

// List lists the objects of one register and schema with offset paging.
// Filters and ordering use the search vocabulary; facets are ignored here.
// GET /api/objects/:register/:schema
func (h *Handler) List(c *gin.Context) {
	q, err := search.ParseRawQuery(c.Request.URL.RawQuery)
	if err != nil {
		respond.Error(c, err)
		return
	}
	limit, offset, err := respond.Paging(c, objects.DefaultLimit, objects.MaxLimit)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}

	page, err := h.objects.FindAll(c.Request.Context(), c.Param("register"), c.Param("schema"), objects.ListOptions{
		Filter: q.Filter,
		Order:  q.Order,
		Limit:  limit,
		Offset: offset,
	}, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Search runs a paginated, faceted search within one register and schema
// GET /api/objects/:register/:schema/search
func (h *Handler) Search(c *gin.Context) {
	h.runSearch(c, c.Param("register"), c.Param("schema"))
}

// SearchAll runs a search scoped by @self[register] / @self[schema] parameters
// GET /api/search
func (h *Handler) SearchAll(c *gin.Context) {
	h.runSearch(c, "", "")
}

func (h *Handler) runSearch(c *gin.Context, register, schema string) {
	q, err := search.ParseRawQuery(c.Request.URL.RawQuery)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if register != "" {
		q.Register = register
	}
	if schema != "" {
		q.Schema = schema
	}

	resp, err := h.search.Search(c.Request.Context(), q, h.executor, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Create stores a new object
// POST /api/objects/:register/:schema
func (h *Handler) Create(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	res, err := h.objects.Create(c.Request.Context(), c.Param("register"), c.Param("schema"), in, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, newObjectResponse(res))
}

// Get returns one object
// GET /api/objects/:register/:schema/:id
func (h *Handler) Get(c *gin.Context) {
	obj, err := h.objects.Get(c.Request.Context(), ref(c), middleware.ActorFrom(c), respond.IsTrue(c, "_includeDeleted"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

// Update replaces the object payload
// PUT /api/objects/:register/:schema/:id
func (h *Handler) Update(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	res, err := h.objects.Update(c.Request.Context(), ref(c), in, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, newObjectResponse(res))
}

// Patch merges the body into the object payload
// PATCH /api/objects/:register/:schema/:id
func (h *Handler) Patch(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	res, err := h.objects.Patch(c.Request.Context(), ref(c), in, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, newObjectResponse(res))
}

// Delete soft-deletes the object
// DELETE /api/objects/:register/:schema/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.objects.Delete(c.Request.Context(), ref(c), middleware.ActorFrom(c)); err != nil {
		respond.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type lockRequest struct {
	// TTL in seconds; zero uses the configured default
	TTL     int    `json:"ttl"`
	Process string `json:"process"`
}

// Lock places an advisory lock and returns it with its token
// POST /api/objects/:register/:schema/:id/lock
func (h *Handler) Lock(c *gin.Context) {
	var req lockRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid lock request: "+err.Error())
			return
		}
	}
	if req.TTL < 0 {
		respond.BadRequest(c, "ttl must not be negative")
		return
	}

	lock, err := h.objects.Lock(c.Request.Context(), ref(c), middleware.ActorFrom(c), objects.LockOptions{
		TTL:     time.Duration(req.TTL) * time.Second,
		Process: req.Process,
	})
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

type unlockRequest struct {
	Token string `json:"token"`
}

// Unlock releases a lock. The token comes from the body or the X-Lock-Token header.
// POST /api/objects/:register/:schema/:id/unlock
func (h *Handler) Unlock(c *gin.Context) {
	req := unlockRequest{Token: c.GetHeader(LockTokenHeader)}
	if req.Token == "" && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.BadRequest(c, "invalid unlock request: "+err.Error())
			return
		}
	}
	if err := h.objects.Unlock(c.Request.Context(), ref(c), middleware.ActorFrom(c), req.Token); err != nil {
		respond.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type revertRequest struct {
	AuditTrailID int64 `json:"auditTrailId" binding:"required"`
}

// Revert restores the object to the state after an audit trail entry
// POST /api/objects/:register/:schema/:id/revert
func (h *Handler) Revert(c *gin.Context) {
	var req revertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "auditTrailId is required")
		return
	}
	res, err := h.objects.Revert(c.Request.Context(), ref(c), req.AuditTrailID, middleware.ActorFrom(c))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, newObjectResponse(res))
}

// AuditTrails lists the audit trail of one object, newest first
// GET /api/objects/:register/:schema/:id/audit-trails
func (h *Handler) AuditTrails(c *gin.Context) {
	limit, offset, err := respond.Paging(c, objects.DefaultLimit, objects.MaxLimit)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	trails, total, err := h.objects.AuditTrails(c.Request.Context(), ref(c), middleware.ActorFrom(c), limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, respond.List[*models.AuditTrail]{Results: trails, Total: total, Limit: limit, Offset: offset})
}

// ListAuditTrails lists audit trails across objects. Elevated actors only.
// GET /api/audit-trails?object=&register=&schema=&action=&user=&since=&until=
func (h *Handler) ListAuditTrails(c *gin.Context) {
	limit, offset, err := respond.Paging(c, objects.DefaultLimit, objects.MaxLimit)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	var filters repositories.AuditTrailFilters
	filters.ObjectUUID = optionalQuery(c, "object")
	filters.RegisterUUID = optionalQuery(c, "register")
	filters.SchemaUUID = optionalQuery(c, "schema")
	filters.Action = optionalQuery(c, "action")
	filters.User = optionalQuery(c, "user")
	if filters.Since, err = timeQuery(c, "since"); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	if filters.Until, err = timeQuery(c, "until"); err != nil {
		respond.BadRequest(c, err.Error())
		return
	}

	trails, total, err := h.audits.ListAuditTrails(c.Request.Context(), filters, limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, respond.List[*models.AuditTrail]{Results: trails, Total: total, Limit: limit, Offset: offset})
}

// ListSearchLogs lists search logs, newest first. Elevated actors only.
// GET /api/search-logs?since=
func (h *Handler) ListSearchLogs(c *gin.Context) {
	limit, offset, err := respond.Paging(c, objects.DefaultLimit, objects.MaxLimit)
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	since, err := timeQuery(c, "since")
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	logs, total, err := h.searchLogs.ListSearchLogs(c.Request.Context(), since, limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, respond.List[*models.SearchLog]{Results: logs, Total: total, Limit: limit, Offset: offset})
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, &queryError{key: key}
	}
	return &t, nil
}

type queryError struct{ key string }

func (e *queryError) Error() string {
	return e.key + " must be an RFC 3339 timestamp"
}

// Register mounts the object routes on api
func (h *Handler) Register(api *gin.RouterGroup) {
	objectsGroup := api.Group("/objects/:register/:schema")
	{
		objectsGroup.GET("", h.List)
		objectsGroup.POST("", h.Create)
		objectsGroup.GET("/search", h.Search)
		objectsGroup.GET("/:id", h.Get)
		objectsGroup.PUT("/:id", h.Update)
		objectsGroup.PATCH("/:id", h.Patch)
		objectsGroup.DELETE("/:id", h.Delete)
		objectsGroup.POST("/:id/lock", h.Lock)
		objectsGroup.POST("/:id/unlock", h.Unlock)
		objectsGroup.POST("/:id/revert", h.Revert)
		objectsGroup.GET("/:id/audit-trails", h.AuditTrails)
	}

	api.GET("/search", h.SearchAll)
	api.GET("/audit-trails", middleware.RequireElevated(), h.ListAuditTrails)
	api.GET("/search-logs", middleware.RequireElevated(), h.ListSearchLogs)
}
