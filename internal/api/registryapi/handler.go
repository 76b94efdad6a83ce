// Package registryapi serves the register, schema, source and configuration
// definitions, their OpenAPI export and import, and configuration bundles.
package registryapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openregister/openregister/internal/api/respond"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/middleware"
	"github.com/openregister/openregister/internal/registry"
	"github.com/openregister/openregister/internal/storage"
)

const (
	// DefaultBundleURLTTL is the validity of bundle download links when ?ttl is absent
	DefaultBundleURLTTL = 15 * time.Minute
	// MaxBundleURLTTL caps ?ttl on bundle download links
	MaxBundleURLTTL = 7 * 24 * time.Hour

	maxDocumentSize = 32 << 20
)

// RegistryService manages definitions. Implemented by *registry.Service.
type RegistryService interface {
	ListRegisters(ctx context.Context, includeDeleted bool) ([]*models.Register, error)
	GetRegister(ctx context.Context, ref string) (*models.Register, error)
	CreateRegister(ctx context.Context, in registry.RegisterInput, actor auth.Actor) (*models.Register, error)
	UpdateRegister(ctx context.Context, ref string, in registry.RegisterInput, actor auth.Actor) (*models.Register, error)
	DeleteRegister(ctx context.Context, ref string, actor auth.Actor) error

	ListSchemas(ctx context.Context, includeDeleted bool) ([]*models.Schema, error)
	GetSchema(ctx context.Context, ref string) (*models.Schema, error)
	CreateSchema(ctx context.Context, in registry.SchemaInput, actor auth.Actor) (*models.Schema, error)
	UpdateSchema(ctx context.Context, ref string, in registry.SchemaInput, actor auth.Actor) (*models.Schema, error)
	DeleteSchema(ctx context.Context, ref string, actor auth.Actor) error

	ListSources(ctx context.Context) ([]*models.Source, error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	CreateSource(ctx context.Context, in registry.SourceInput, actor auth.Actor) (*models.Source, error)
	UpdateSource(ctx context.Context, id string, in registry.SourceInput, actor auth.Actor) (*models.Source, error)
	DeleteSource(ctx context.Context, id string, actor auth.Actor) error

	ListConfigurations(ctx context.Context) ([]*models.Configuration, error)
	GetConfiguration(ctx context.Context, id string) (*models.Configuration, error)
	CreateConfiguration(ctx context.Context, in registry.ConfigurationInput, actor auth.Actor) (*models.Configuration, error)
	UpdateConfiguration(ctx context.Context, id string, in registry.ConfigurationInput, actor auth.Actor) (*models.Configuration, error)
	DeleteConfiguration(ctx context.Context, id string, actor auth.Actor) error

	ExportRegister(ctx context.Context, ref string) (*registry.Document, error)
	ExportConfiguration(ctx context.Context, id string) (*registry.Document, error)
	Import(ctx context.Context, doc *registry.Document, actor auth.Actor) (*registry.ImportSummary, error)

	PublishConfiguration(ctx context.Context, id string, actor auth.Actor) (*storage.Object, error)
	ListConfigurationBundles(ctx context.Context, id string) ([]storage.Object, error)
	ConfigurationBundleURL(ctx context.Context, id, version string, ttl time.Duration) (string, error)
	ImportConfigurationBundle(ctx context.Context, id, version string, actor auth.Actor) (*registry.ImportSummary, error)
}

// Handler serves the definition endpoints
type Handler struct {
	registry RegistryService
	exports  storage.Storage
}

// NewHandler creates a Handler. exports may be nil when no export store is
// configured; the download route then answers 501.
func NewHandler(svc RegistryService, exports storage.Storage) *Handler {
	return &Handler{registry: svc, exports: exports}
}

// Register mounts the definition routes on api. importLimit guards the
// import endpoints and may be nil.
func (h *Handler) Register(api *gin.RouterGroup, importLimit gin.HandlerFunc) {
	guard := []gin.HandlerFunc{}
	if importLimit != nil {
		guard = append(guard, importLimit)
	}

	registers := api.Group("/registers")
	{
		registers.GET("", h.ListRegisters)
		registers.POST("", h.CreateRegister)
		registers.GET("/:ref", h.GetRegister)
		registers.PUT("/:ref", h.UpdateRegister)
		registers.DELETE("/:ref", h.DeleteRegister)
		registers.GET("/:ref/export", h.ExportRegister)
	}

	schemas := api.Group("/schemas")
	{
		schemas.GET("", h.ListSchemas)
		schemas.POST("", h.CreateSchema)
		schemas.GET("/:ref", h.GetSchema)
		schemas.PUT("/:ref", h.UpdateSchema)
		schemas.DELETE("/:ref", h.DeleteSchema)
	}

	sources := api.Group("/sources")
	{
		sources.GET("", h.ListSources)
		sources.POST("", h.CreateSource)
		sources.GET("/:id", h.GetSource)
		sources.PUT("/:id", h.UpdateSource)
		sources.DELETE("/:id", h.DeleteSource)
	}

	configurations := api.Group("/configurations")
	{
		configurations.GET("", h.ListConfigurations)
		configurations.POST("", h.CreateConfiguration)
		configurations.POST("/import", append(guard, h.Import)...)
		configurations.GET("/:id", h.GetConfiguration)
		configurations.PUT("/:id", h.UpdateConfiguration)
		configurations.DELETE("/:id", h.DeleteConfiguration)
		configurations.GET("/:id/export", h.ExportConfiguration)
		configurations.POST("/:id/publish", h.PublishConfiguration)
		configurations.GET("/:id/bundles", h.ListBundles)
		configurations.GET("/:id/bundles/:version", h.BundleURL)
		configurations.POST("/:id/bundles/:version/import", append(guard, h.ImportBundle)...)
	}

	api.GET("/exports/*key", h.Download)
}

// bind decodes the JSON body into in, answering 400 on failure
func bind[T any](c *gin.Context) (T, bool) {
	var in T
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, "invalid request body: "+err.Error())
		return in, false
	}
	return in, true
}

func list[T any](c *gin.Context, items []T, err error) {
	if err != nil {
		respond.Error(c, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, respond.List[T]{Results: items, Total: len(items)})
}

func single[T any](c *gin.Context, status int, item T, err error) {
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(status, item)
}

func deleted(c *gin.Context, err error) {
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Registers

func (h *Handler) ListRegisters(c *gin.Context) {
	items, err := h.registry.ListRegisters(c.Request.Context(), respond.IsTrue(c, "_includeDeleted"))
	list(c, items, err)
}

func (h *Handler) GetRegister(c *gin.Context) {
	reg, err := h.registry.GetRegister(c.Request.Context(), c.Param("ref"))
	single(c, http.StatusOK, reg, err)
}

func (h *Handler) CreateRegister(c *gin.Context) {
	in, ok := bind[registry.RegisterInput](c)
	if !ok {
		return
	}
	reg, err := h.registry.CreateRegister(c.Request.Context(), in, middleware.ActorFrom(c))
	single(c, http.StatusCreated, reg, err)
}

func (h *Handler) UpdateRegister(c *gin.Context) {
	in, ok := bind[registry.RegisterInput](c)
	if !ok {
		return
	}
	reg, err := h.registry.UpdateRegister(c.Request.Context(), c.Param("ref"), in, middleware.ActorFrom(c))
	single(c, http.StatusOK, reg, err)
}

func (h *Handler) DeleteRegister(c *gin.Context) {
	deleted(c, h.registry.DeleteRegister(c.Request.Context(), c.Param("ref"), middleware.ActorFrom(c)))
}

// Schemas

func (h *Handler) ListSchemas(c *gin.Context) {
	items, err := h.registry.ListSchemas(c.Request.Context(), respond.IsTrue(c, "_includeDeleted"))
	list(c, items, err)
}

func (h *Handler) GetSchema(c *gin.Context) {
	sch, err := h.registry.GetSchema(c.Request.Context(), c.Param("ref"))
	single(c, http.StatusOK, sch, err)
}

func (h *Handler) CreateSchema(c *gin.Context) {
	in, ok := bind[registry.SchemaInput](c)
	if !ok {
		return
	}
	sch, err := h.registry.CreateSchema(c.Request.Context(), in, middleware.ActorFrom(c))
	single(c, http.StatusCreated, sch, err)
}

func (h *Handler) UpdateSchema(c *gin.Context) {
	in, ok := bind[registry.SchemaInput](c)
	if !ok {
		return
	}
	sch, err := h.registry.UpdateSchema(c.Request.Context(), c.Param("ref"), in, middleware.ActorFrom(c))
	single(c, http.StatusOK, sch, err)
}

func (h *Handler) DeleteSchema(c *gin.Context) {
	deleted(c, h.registry.DeleteSchema(c.Request.Context(), c.Param("ref"), middleware.ActorFrom(c)))
}

// Sources

func (h *Handler) ListSources(c *gin.Context) {
	items, err := h.registry.ListSources(c.Request.Context())
	list(c, items, err)
}

func (h *Handler) GetSource(c *gin.Context) {
	src, err := h.registry.GetSource(c.Request.Context(), c.Param("id"))
	single(c, http.StatusOK, src, err)
}

func (h *Handler) CreateSource(c *gin.Context) {
	in, ok := bind[registry.SourceInput](c)
	if !ok {
		return
	}
	src, err := h.registry.CreateSource(c.Request.Context(), in, middleware.ActorFrom(c))
	single(c, http.StatusCreated, src, err)
}

func (h *Handler) UpdateSource(c *gin.Context) {
	in, ok := bind[registry.SourceInput](c)
	if !ok {
		return
	}
	src, err := h.registry.UpdateSource(c.Request.Context(), c.Param("id"), in, middleware.ActorFrom(c))
	single(c, http.StatusOK, src, err)
}

func (h *Handler) DeleteSource(c *gin.Context) {
	deleted(c, h.registry.DeleteSource(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c)))
}

// Configurations

func (h *Handler) ListConfigurations(c *gin.Context) {
	items, err := h.registry.ListConfigurations(c.Request.Context())
	list(c, items, err)
}

func (h *Handler) GetConfiguration(c *gin.Context) {
	cfg, err := h.registry.GetConfiguration(c.Request.Context(), c.Param("id"))
	single(c, http.StatusOK, cfg, err)
}

func (h *Handler) CreateConfiguration(c *gin.Context) {
	in, ok := bind[registry.ConfigurationInput](c)
	if !ok {
		return
	}
	cfg, err := h.registry.CreateConfiguration(c.Request.Context(), in, middleware.ActorFrom(c))
	single(c, http.StatusCreated, cfg, err)
}

func (h *Handler) UpdateConfiguration(c *gin.Context) {
	in, ok := bind[registry.ConfigurationInput](c)
	if !ok {
		return
	}
	cfg, err := h.registry.UpdateConfiguration(c.Request.Context(), c.Param("id"), in, middleware.ActorFrom(c))
	single(c, http.StatusOK, cfg, err)
}

func (h *Handler) DeleteConfiguration(c *gin.Context) {
	deleted(c, h.registry.DeleteConfiguration(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c)))
}

// Export and import

// ExportRegister renders a register and the schemas it needs as an OpenAPI document
// GET /api/registers/:ref/export
func (h *Handler) ExportRegister(c *gin.Context) {
	doc, err := h.registry.ExportRegister(c.Request.Context(), c.Param("ref"))
	single(c, http.StatusOK, doc, err)
}

// ExportConfiguration renders a configuration and its registers as an OpenAPI document
// GET /api/configurations/:id/export
func (h *Handler) ExportConfiguration(c *gin.Context) {
	doc, err := h.registry.ExportConfiguration(c.Request.Context(), c.Param("id"))
	single(c, http.StatusOK, doc, err)
}

// Import upserts the definitions of an exported document
// POST /api/configurations/import
func (h *Handler) Import(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentSize+1))
	if err != nil {
		respond.BadRequest(c, "failed to read request body")
		return
	}
	if len(body) > maxDocumentSize {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "document too large"})
		return
	}
	doc, err := registry.ParseDocument(body)
	if err != nil {
		respond.Error(c, err)
		return
	}
	summary, err := h.registry.Import(c.Request.Context(), doc, middleware.ActorFrom(c))
	single(c, http.StatusOK, summary, err)
}

// Bundles

// PublishConfiguration writes the configuration export to the export store
// POST /api/configurations/:id/publish
func (h *Handler) PublishConfiguration(c *gin.Context) {
	obj, err := h.registry.PublishConfiguration(c.Request.Context(), c.Param("id"), middleware.ActorFrom(c))
	single(c, http.StatusCreated, obj, err)
}

// ListBundles lists the published bundles of a configuration
// GET /api/configurations/:id/bundles
func (h *Handler) ListBundles(c *gin.Context) {
	items, err := h.registry.ListConfigurationBundles(c.Request.Context(), c.Param("id"))
	list(c, items, err)
}

// BundleURL returns a download link for one bundle version
// GET /api/configurations/:id/bundles/:version?ttl=seconds
func (h *Handler) BundleURL(c *gin.Context) {
	ttl := DefaultBundleURLTTL
	if raw := c.Query("ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			respond.BadRequest(c, "ttl must be a positive number of seconds")
			return
		}
		ttl = min(time.Duration(secs)*time.Second, MaxBundleURLTTL)
	}

	u, err := h.registry.ConfigurationBundleURL(c.Request.Context(), c.Param("id"), c.Param("version"), ttl)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u, "expiresAt": time.Now().Add(ttl).UTC()})
}

// ImportBundle imports a published bundle back into the registry
// POST /api/configurations/:id/bundles/:version/import
func (h *Handler) ImportBundle(c *gin.Context) {
	summary, err := h.registry.ImportConfigurationBundle(c.Request.Context(), c.Param("id"), c.Param("version"), middleware.ActorFrom(c))
	single(c, http.StatusOK, summary, err)
}

// Download serves a document from the export store. Local stores hand out
// links to this route.
// GET /api/exports/*key
func (h *Handler) Download(c *gin.Context) {
	if h.exports == nil {
		respond.Error(c, registry.ErrNoExportStore)
		return
	}
	key, err := storage.CleanKey(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		respond.BadRequest(c, err.Error())
		return
	}
	body, obj, err := h.exports.Get(c.Request.Context(), key)
	if err != nil {
		respond.Error(c, err)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	if obj.Checksum != "" {
		c.Header("ETag", `"`+obj.Checksum+`"`)
	}
	c.Data(http.StatusOK, contentType, body)
}
