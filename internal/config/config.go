// Package config loads and validates the register service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the OR_ prefix (e.g., OR_DATABASE_HOST
// overrides database.host in the YAML). The JWT signing secret is read directly
// by internal/auth from OR_JWT_SECRET and never lives in the config struct.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/events"
	"github.com/openregister/openregister/internal/telemetry"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Objects   ObjectsConfig   `mapstructure:"objects"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Search    SearchConfig    `mapstructure:"search"`
	Export    StorageConfig   `mapstructure:"export"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Events    []events.Config `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the optional Redis used for the schema cache and
// distributed rate limiting
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	SchemaCacheTTL time.Duration `mapstructure:"schema_cache_ttl"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AllowAnonymous lets requests without credentials through as the anonymous actor
	AllowAnonymous bool              `mapstructure:"allow_anonymous"`
	ServiceKeys    []auth.ServiceKey `mapstructure:"service_keys"`
	OIDC           auth.OIDCConfig   `mapstructure:"oidc"`
}

// ObjectsConfig holds the object engine settings
type ObjectsConfig struct {
	DefaultLockTTL  time.Duration `mapstructure:"default_lock_ttl"`
	MaxLockTTL      time.Duration `mapstructure:"max_lock_ttl"`
	DeleteRetention time.Duration `mapstructure:"delete_retention"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	// DefaultRetention applies when neither schema nor register configure one; 0 keeps entries forever
	DefaultRetention time.Duration `mapstructure:"default_retention"`
}

// SearchConfig selects the search executor and search log behaviour
type SearchConfig struct {
	// Executor is "sequential" or "concurrent"
	Executor    string `mapstructure:"executor"`
	Concurrency int    `mapstructure:"concurrency"`
	LogSearches bool   `mapstructure:"log_searches"`
	// LogRetention bounds how long search logs are kept; 0 keeps them forever
	LogRetention time.Duration `mapstructure:"log_retention"`
}

// StorageConfig holds the export store backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	CDNURL        string `mapstructure:"cdn_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// AuthMethod is one of "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`

	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// AuthMethod is one of "default", "service_account", "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath      string `mapstructure:"base_path"`
	ServeDirectly bool   `mapstructure:"serve_directly"`
}

// JobsConfig holds the intervals of the background maintenance jobs.
// A zero interval disables the job.
type JobsConfig struct {
	AuditExpiryInterval time.Duration `mapstructure:"audit_expiry_interval"`
	LockSweepInterval   time.Duration `mapstructure:"lock_sweep_interval"`
	PurgeInterval       time.Duration `mapstructure:"purge_interval"`
	SearchLogGCInterval time.Duration `mapstructure:"search_log_gc_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig           `mapstructure:"metrics"`
	Tracing telemetry.TracingConfig `mapstructure:"tracing"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv() alone doesn't reach nested struct fields during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.conn_max_lifetime",

		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.schema_cache_ttl",

		"auth.allow_anonymous",
		"auth.oidc.enabled",
		"auth.oidc.issuer_url",
		"auth.oidc.client_id",
		"auth.oidc.groups_claim",

		"objects.default_lock_ttl",
		"objects.max_lock_ttl",
		"objects.delete_retention",

		"audit.default_retention",

		"search.executor",
		"search.concurrency",
		"search.log_searches",
		"search.log_retention",

		"export.default_backend",
		"export.azure.account_name",
		"export.azure.account_key",
		"export.azure.container_name",
		"export.azure.cdn_url",
		"export.s3.endpoint",
		"export.s3.region",
		"export.s3.bucket",
		"export.s3.auth_method",
		"export.s3.access_key_id",
		"export.s3.secret_access_key",
		"export.s3.role_arn",
		"export.s3.role_session_name",
		"export.s3.external_id",
		"export.s3.web_identity_token_file",
		"export.gcs.bucket",
		"export.gcs.project_id",
		"export.gcs.auth_method",
		"export.gcs.credentials_file",
		"export.gcs.credentials_json",
		"export.gcs.endpoint",
		"export.local.base_path",
		"export.local.serve_directly",

		"jobs.audit_expiry_interval",
		"jobs.lock_sweep_interval",
		"jobs.purge_interval",
		"jobs.search_log_gc_interval",
		"jobs.batch_size",

		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		"logging.level",
		"logging.format",

		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.tracing.enabled",
		"telemetry.tracing.service_name",
		"telemetry.tracing.environment",
		"telemetry.tracing.exporter",
		"telemetry.tracing.endpoint",
		"telemetry.tracing.sampling_rate",
		"telemetry.tracing.insecure",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/openregister")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("OR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Export.Azure.AccountKey = expandEnv(cfg.Export.Azure.AccountKey)
	cfg.Export.S3.AccessKeyID = expandEnv(cfg.Export.S3.AccessKeyID)
	cfg.Export.S3.SecretAccessKey = expandEnv(cfg.Export.S3.SecretAccessKey)
	cfg.Export.GCS.CredentialsJSON = expandEnv(cfg.Export.GCS.CredentialsJSON)
	for i := range cfg.Events {
		if wh := cfg.Events[i].Webhook; wh != nil {
			for k, val := range wh.Headers {
				wh.Headers[k] = expandEnv(val)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "openregister")
	v.SetDefault("database.user", "openregister")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.schema_cache_ttl", "10m")

	v.SetDefault("auth.allow_anonymous", true)
	v.SetDefault("auth.oidc.enabled", false)
	v.SetDefault("auth.oidc.groups_claim", "groups")

	v.SetDefault("objects.default_lock_ttl", "1h")
	v.SetDefault("objects.max_lock_ttl", "24h")
	v.SetDefault("objects.delete_retention", "720h")

	v.SetDefault("audit.default_retention", "0s")

	v.SetDefault("search.executor", "sequential")
	v.SetDefault("search.concurrency", 4)
	v.SetDefault("search.log_searches", true)
	v.SetDefault("search.log_retention", "2160h")

	v.SetDefault("export.default_backend", "local")
	v.SetDefault("export.local.base_path", "./exports")
	v.SetDefault("export.local.serve_directly", false)

	v.SetDefault("jobs.audit_expiry_interval", "1h")
	v.SetDefault("jobs.lock_sweep_interval", "5m")
	v.SetDefault("jobs.purge_interval", "1h")
	v.SetDefault("jobs.search_log_gc_interval", "24h")
	v.SetDefault("jobs.batch_size", 500)

	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 600)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.tracing.enabled", false)
	v.SetDefault("telemetry.tracing.service_name", "openregister")
	v.SetDefault("telemetry.tracing.exporter", "otlp-http")
	v.SetDefault("telemetry.tracing.endpoint", "localhost:4318")
	v.SetDefault("telemetry.tracing.sampling_rate", 1.0)
	v.SetDefault("telemetry.tracing.insecure", true)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Objects.DefaultLockTTL <= 0 {
		return fmt.Errorf("objects.default_lock_ttl must be positive")
	}
	if c.Objects.MaxLockTTL > 0 && c.Objects.MaxLockTTL < c.Objects.DefaultLockTTL {
		return fmt.Errorf("objects.max_lock_ttl (%s) is shorter than objects.default_lock_ttl (%s)",
			c.Objects.MaxLockTTL, c.Objects.DefaultLockTTL)
	}
	if c.Objects.DeleteRetention < 0 {
		return fmt.Errorf("objects.delete_retention must not be negative")
	}
	if c.Audit.DefaultRetention < 0 {
		return fmt.Errorf("audit.default_retention must not be negative")
	}

	switch c.Search.Executor {
	case "sequential", "concurrent":
	default:
		return fmt.Errorf("invalid search executor: %s (must be sequential or concurrent)", c.Search.Executor)
	}
	if c.Search.Executor == "concurrent" && c.Search.Concurrency < 1 {
		return fmt.Errorf("search.concurrency must be at least 1 for the concurrent executor")
	}

	if err := c.Export.validate(); err != nil {
		return err
	}

	for i, ev := range c.Events {
		if !ev.Enabled {
			continue
		}
		switch ev.Type {
		case "webhook":
			if ev.Webhook == nil || ev.Webhook.URL == "" {
				return fmt.Errorf("events[%d].webhook.url is required for webhook destinations", i)
			}
		case "file":
			if ev.File == nil || ev.File.Path == "" {
				return fmt.Errorf("events[%d].file.path is required for file destinations", i)
			}
		default:
			return fmt.Errorf("invalid events[%d].type: %s (must be webhook or file)", i, ev.Type)
		}
	}

	for i, key := range c.Auth.ServiceKeys {
		if key.Hash == "" || key.DisplayPrefix == "" {
			return fmt.Errorf("auth.service_keys[%d] requires prefix and hash", i)
		}
		if key.UserID == "" {
			return fmt.Errorf("auth.service_keys[%d].user_id is required", i)
		}
	}

	if c.Auth.OIDC.Enabled && (c.Auth.OIDC.IssuerURL == "" || c.Auth.OIDC.ClientID == "") {
		return fmt.Errorf("auth.oidc requires issuer_url and client_id when enabled")
	}

	if c.Security.RateLimiting.Enabled && c.Security.RateLimiting.RequestsPerMinute < 1 {
		return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

func (s *StorageConfig) validate() error {
	switch s.DefaultBackend {
	case "azure":
		if s.Azure.AccountName == "" {
			return fmt.Errorf("export.azure.account_name is required when using Azure backend")
		}
		if s.Azure.AccountKey == "" {
			return fmt.Errorf("export.azure.account_key is required when using Azure backend")
		}
		if s.Azure.ContainerName == "" {
			return fmt.Errorf("export.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if s.S3.Bucket == "" {
			return fmt.Errorf("export.s3.bucket is required when using S3 backend")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("export.s3.region is required when using S3 backend")
		}
	case "gcs":
		if s.GCS.Bucket == "" {
			return fmt.Errorf("export.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if s.Local.BasePath == "" {
			return fmt.Errorf("export.local.base_path is required when using local backend")
		}
	default:
		return fmt.Errorf("invalid export backend: %s (must be azure, s3, gcs, or local)", s.DefaultBackend)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
