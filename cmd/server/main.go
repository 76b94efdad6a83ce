// Package main is the entry point for the register server binary. It
// dispatches four subcommands (serve, migrate, version, hash-key) via a switch
// on os.Args so the binary's CLI surface is readable in one place. The serve
// command runs migrations on startup so freshly deployed containers never need
// a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openregister/openregister/internal/api"
	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/db"
	"github.com/openregister/openregister/internal/telemetry"

	// Export store backends register themselves with the storage factory
	_ "github.com/openregister/openregister/internal/storage/azure"
	_ "github.com/openregister/openregister/internal/storage/gcs"
	_ "github.com/openregister/openregister/internal/storage/local"
	_ "github.com/openregister/openregister/internal/storage/s3"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// commands that need no configuration
	switch command {
	case "version":
		fmt.Printf("OpenRegister v%s\n", version)
		return nil
	case "hash-key":
		return hashKey()
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version, hash-key", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tracer, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing, version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	database, err := db.Connect(cfg.Database.GetDSN(), db.PoolConfig{
		MaxOpen:     cfg.Database.MaxConnections,
		MaxIdle:     cfg.Database.MinIdleConnections,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	log.Printf("Connected to database %s on %s:%d", cfg.Database.Name, cfg.Database.Host, cfg.Database.Port)

	telemetry.StartDBStatsCollector(ctx, database.DB, 0)

	log.Println("Running database migrations...")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		log.Printf("Warning: failed to get migration version: %v", err)
	} else {
		log.Printf("Database schema version: %d (dirty: %v)", v, dirty)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Printf("Connected to redis on %s", cfg.Redis.Addr)
	}

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	services, err := api.NewServices(cfg, database, redisClient, version)
	if err != nil {
		return err
	}
	router, bgServices := api.NewRouter(cfg, services)
	bgServices.StartJobs(ctx, cfg, services)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Server.GetAddress())
		log.Printf("Base URL: %s", cfg.Server.BaseURL)
		if cfg.Export.DefaultBackend != "" {
			log.Printf("Export store: %s", cfg.Export.DefaultBackend)
		}

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stop()
	bgServices.Shutdown()

	log.Println("Server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), db.PoolConfig{MaxOpen: 1, MaxIdle: 1})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}

// hashKey generates a service key and prints the config entry for it. Only
// the bcrypt hash goes into the configuration; the key is shown once.
func hashKey() error {
	name := "service"
	if len(os.Args) > 2 {
		name = os.Args[2]
	}
	key, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	fmt.Printf("Service key (store it now, it is not shown again):\n  %s\n\n", key)
	fmt.Println("Add to auth.service_keys:")
	fmt.Printf("  - name: %s\n    prefix: %q\n    hash: %q\n    user_id: %q\n", name, prefix, hash, "svc-"+name)
	return nil
}
