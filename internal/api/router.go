// Package api wires the HTTP routes of the register service.
//
// Every route under /api passes the identity middleware, so handlers always
// see an actor (possibly anonymous when auth.allow_anonymous is set).
// Authorization decisions live in the services, not in route groups; only the
// cross-register audit and search log listings require an elevated actor.
//
// /health, /ready and /version are unauthenticated and not rate limited.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/openregister/openregister/internal/api/objectsapi"
	"github.com/openregister/openregister/internal/api/registryapi"
	"github.com/openregister/openregister/internal/audit"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/events"
	"github.com/openregister/openregister/internal/jobs"
	"github.com/openregister/openregister/internal/middleware"
	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/registry"
	"github.com/openregister/openregister/internal/search"
	"github.com/openregister/openregister/internal/storage"
	"github.com/openregister/openregister/internal/validation"
)

// readinessKey is a key that never exists in the export store. Stat on it
// exercises credentials and connectivity without creating state.
const readinessKey = ".readiness-check"

// Services holds the wired service graph behind the routes
type Services struct {
	Version string

	DB    *sqlx.DB
	Redis *redis.Client // nil when redis is disabled

	Objects     *objects.Service
	Registry    *registry.Service
	Search      *search.Engine
	ObjectRepo  *repositories.ObjectRepository
	AuditTrails *repositories.AuditTrailRepository
	SearchLogs  *repositories.SearchLogRepository
	Exports     storage.Storage // nil when no export backend is configured
	Publisher   events.Publisher
	OIDC        *auth.OIDCVerifier // nil when OIDC is disabled
}

// NewServices builds repositories and services on db. redisClient may be nil.
func NewServices(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, version string) (*Services, error) {
	var exports storage.Storage
	if cfg.Export.DefaultBackend != "" {
		var err error
		exports, err = storage.NewStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize export store: %w", err)
		}
		slog.Info("export store initialized", "backend", cfg.Export.DefaultBackend)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Events) > 0 {
		multi, err := events.NewMulti(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize event publishers: %w", err)
		}
		publisher = multi
		slog.Info("event publishers initialized", "count", multi.Len())
	}

	var oidcVerifier *auth.OIDCVerifier
	if cfg.Auth.OIDC.Enabled {
		var err error
		oidcVerifier, err = auth.NewOIDCVerifier(context.Background(), cfg.Auth.OIDC)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		slog.Info("OIDC verifier initialized", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	tx := repositories.NewTxManager(db)
	objectRepo := repositories.NewObjectRepository(db)
	auditRepo := repositories.NewAuditTrailRepository(db)
	searchLogRepo := repositories.NewSearchLogRepository(db)

	deps := registry.Deps{
		Registers:      repositories.NewRegisterRepository(db),
		Schemas:        repositories.NewSchemaRepository(db),
		Sources:        repositories.NewSourceRepository(db),
		Configurations: repositories.NewConfigurationRepository(db),
		Objects:        objectRepo,
		Tx:             tx,
		Exports:        exports,
	}
	if redisClient != nil {
		deps.Cache = registry.NewRedisSchemaCache(redisClient, cfg.Redis.SchemaCacheTTL)
	}
	registrySvc := registry.NewService(deps)

	objectSvc := objects.NewService(objects.Deps{
		Objects:   objectRepo,
		Audits:    auditRepo,
		Tx:        tx,
		Registry:  registrySvc,
		Validator: validation.NewValidator(registrySvc),
		Recorder:  audit.NewRecorder(auditRepo, cfg.Audit.DefaultRetention),
		Publisher: publisher,
	}, objects.Config{
		DefaultLockTTL:  cfg.Objects.DefaultLockTTL,
		MaxLockTTL:      cfg.Objects.MaxLockTTL,
		DeleteRetention: cfg.Objects.DeleteRetention,
	})

	var logs search.LogStore
	if cfg.Search.LogSearches {
		logs = searchLogRepo
	}

	return &Services{
		Version:     version,
		DB:          db,
		Redis:       redisClient,
		Objects:     objectSvc,
		Registry:    registrySvc,
		Search:      search.NewEngine(objectRepo, registrySvc, logs),
		ObjectRepo:  objectRepo,
		AuditTrails: auditRepo,
		SearchLogs:  searchLogRepo,
		Exports:     exports,
		Publisher:   publisher,
		OIDC:        oidcVerifier,
	}, nil
}

// BackgroundServices holds the background jobs and resources that must be
// stopped during graceful shutdown. cmd/server calls Shutdown after the HTTP
// server has drained.
type BackgroundServices struct {
	scheduler    *jobs.Scheduler
	rateLimiters []*middleware.RateLimiter
	publisher    events.Publisher
}

// Shutdown stops the jobs and rate limiter goroutines and closes publishers
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.scheduler != nil {
		bg.scheduler.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.publisher != nil {
		if err := bg.publisher.Close(); err != nil {
			slog.Warn("failed to close event publishers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// StartJobs starts the maintenance jobs on svc. The jobs stop when ctx is
// cancelled or on Shutdown.
func (bg *BackgroundServices) StartJobs(ctx context.Context, cfg *config.Config, svc *Services) {
	bg.scheduler = jobs.NewScheduler(
		jobs.NewAuditTrailExpiryJob(svc.AuditTrails, cfg.Jobs),
		jobs.NewLockSweepJob(svc.ObjectRepo, cfg.Jobs),
		jobs.NewPurgeJob(svc.ObjectRepo, cfg.Jobs),
		jobs.NewSearchLogGCJob(svc.SearchLogs, cfg.Search.LogRetention, cfg.Jobs),
	)
	bg.scheduler.Start(ctx)
}

// NewRouter creates the gin engine serving svc
func NewRouter(cfg *config.Config, svc *Services) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{publisher: svc.Publisher}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS.AllowedOrigins, cfg.Security.CORS.AllowedMethods))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(svc.DB))
	router.GET("/ready", readinessHandler(svc.DB, svc.Redis, svc.Exports))
	router.GET("/version", versionHandler(svc.Version))

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.IdentityMiddleware(middleware.IdentityConfig{
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		Keys:           auth.NewKeyRing(cfg.Auth.ServiceKeys),
		OIDC:           svc.OIDC,
	}))

	var importLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		general := middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   middleware.DefaultRateLimitConfig().CleanupInterval,
		}
		apiGroup.Use(middleware.RateLimitMiddleware(bg.limiter(svc.Redis, "api", general)))
		importLimit = middleware.RateLimitMiddleware(bg.limiter(svc.Redis, "import", middleware.ImportRateLimitConfig()))
	}

	objectsapi.NewHandler(
		svc.Objects,
		svc.Search,
		search.ExecutorByName(cfg.Search.Executor, cfg.Search.Concurrency),
		svc.AuditTrails,
		svc.SearchLogs,
	).Register(apiGroup)

	registryapi.NewHandler(svc.Registry, svc.Exports).Register(apiGroup, importLimit)

	return router, bg
}

// limiter prefers the shared redis limiter so limits hold across replicas
func (bg *BackgroundServices) limiter(client *redis.Client, name string, cfg middleware.RateLimitConfig) middleware.Limiter {
	if client != nil {
		return middleware.NewRedisRateLimiter(client, name, cfg)
	}
	rl := middleware.NewRateLimiter(cfg)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl
}

// healthCheckHandler reports liveness, which only needs the database
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also checks redis and the export store when configured, so
// a readiness gate fails when caching, rate limiting or publishing would error
func readinessHandler(db *sqlx.DB, client *redis.Client, exports storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}
		notReady := func(component, message string) {
			checks[component] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  message,
			})
		}

		if err := db.PingContext(ctx); err != nil {
			notReady("database", "database not ready")
			return
		}
		checks["database"] = "healthy"

		if client != nil {
			if err := client.Ping(ctx).Err(); err != nil {
				notReady("redis", "redis not ready")
				return
			}
			checks["redis"] = "healthy"
		}

		if exports != nil {
			if _, err := exports.Stat(ctx, readinessKey); err != nil && !errors.Is(err, storage.ErrNotExist) {
				notReady("export_store", "export store not ready")
				return
			}
			checks["export_store"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":       version,
			"api_version":   "v1",
			"export_format": "openapi " + registry.OpenAPIVersion,
		})
	}
}
