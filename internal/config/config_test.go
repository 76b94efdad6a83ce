package config

import (
	"os"
	"testing"
	"time"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/events"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "openregister",
				Password: "secret",
				Name:     "openregister",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=openregister password=secret dbname=openregister sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "db.example.com",
				Port:    5433,
				User:    "user",
				Name:    "registers",
				SSLMode: "disable",
			},
			want: "host=db.example.com port=5433 user=user password= dbname=registers sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "openregister",
			User: "openregister",
		},
		Objects: ObjectsConfig{
			DefaultLockTTL: time.Hour,
			MaxLockTTL:     24 * time.Hour,
		},
		Search: SearchConfig{Executor: "sequential"},
		Export: StorageConfig{
			DefaultBackend: "local",
			Local:          LocalStorageConfig{BasePath: "./exports"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	invalid := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port 0", func(c *Config) { c.Server.Port = 0 }},
		{"server port 70000", func(c *Config) { c.Server.Port = 70000 }},
		{"missing base_url", func(c *Config) { c.Server.BaseURL = "" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing database name", func(c *Config) { c.Database.Name = "" }},
		{"missing database user", func(c *Config) { c.Database.User = "" }},
		{"redis enabled without addr", func(c *Config) { c.Redis = RedisConfig{Enabled: true} }},
		{"zero default lock ttl", func(c *Config) { c.Objects.DefaultLockTTL = 0 }},
		{"max lock ttl below default", func(c *Config) { c.Objects.MaxLockTTL = time.Minute }},
		{"negative delete retention", func(c *Config) { c.Objects.DeleteRetention = -time.Hour }},
		{"negative audit retention", func(c *Config) { c.Audit.DefaultRetention = -time.Hour }},
		{"unknown search executor", func(c *Config) { c.Search.Executor = "parallel" }},
		{"concurrent executor without concurrency", func(c *Config) {
			c.Search = SearchConfig{Executor: "concurrent"}
		}},
		{"unknown export backend", func(c *Config) { c.Export.DefaultBackend = "ftp" }},
		{"azure backend missing account_name", func(c *Config) {
			c.Export = StorageConfig{DefaultBackend: "azure", Azure: AzureStorageConfig{AccountKey: "k", ContainerName: "c"}}
		}},
		{"s3 backend missing region", func(c *Config) {
			c.Export = StorageConfig{DefaultBackend: "s3", S3: S3StorageConfig{Bucket: "b"}}
		}},
		{"gcs backend missing bucket", func(c *Config) { c.Export = StorageConfig{DefaultBackend: "gcs"} }},
		{"local backend missing base_path", func(c *Config) { c.Export = StorageConfig{DefaultBackend: "local"} }},
		{"webhook destination without url", func(c *Config) {
			c.Events = []events.Config{{Enabled: true, Type: "webhook", Webhook: &events.WebhookConfig{}}}
		}},
		{"file destination without config", func(c *Config) {
			c.Events = []events.Config{{Enabled: true, Type: "file"}}
		}},
		{"unknown event destination", func(c *Config) {
			c.Events = []events.Config{{Enabled: true, Type: "kafka"}}
		}},
		{"service key without hash", func(c *Config) {
			c.Auth.ServiceKeys = []auth.ServiceKey{{Name: "etl", DisplayPrefix: "ork_abcdef", UserID: "etl"}}
		}},
		{"service key without user", func(c *Config) {
			c.Auth.ServiceKeys = []auth.ServiceKey{{Name: "etl", DisplayPrefix: "ork_abcdef", Hash: "$2a$12$x"}}
		}},
		{"oidc enabled without issuer", func(c *Config) {
			c.Auth.OIDC = auth.OIDCConfig{Enabled: true, ClientID: "openregister"}
		}},
		{"oidc enabled without client id", func(c *Config) {
			c.Auth.OIDC = auth.OIDCConfig{Enabled: true, IssuerURL: "https://idp.example.com"}
		}},
		{"rate limiting without rate", func(c *Config) {
			c.Security.RateLimiting = RateLimitingConfig{Enabled: true}
		}},
		{"tls without cert", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "k"} }},
		{"tls without key", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, CertFile: "c"} }},
		{"invalid logging level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error for %s, got nil", tt.name)
			}
		})
	}

	t.Run("disabled event destinations are not checked", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Events = []events.Config{{Enabled: false, Type: "kafka"}}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("max lock ttl 0 means unbounded", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Objects.MaxLockTTL = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		if got := expandEnv("no-vars-here"); got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  base_url: "http://testhost:9999"
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
objects:
  default_lock_ttl: "15m"
  max_lock_ttl: "2h"
search:
  executor: "concurrent"
  concurrency: 8
events:
  - enabled: true
    type: "file"
    file:
      path: "/tmp/events.jsonl"
auth:
  service_keys:
    - name: "etl"
      prefix: "ork_abcdef"
      hash: "$2a$12$abcdefghijklmnopqrstuv"
      user_id: "etl-bot"
      groups: ["importers"]
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %s:%d, want testhost:9999", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("Database.Name = %q, want testdb", cfg.Database.Name)
	}
	if cfg.Objects.DefaultLockTTL != 15*time.Minute {
		t.Errorf("Objects.DefaultLockTTL = %s, want 15m", cfg.Objects.DefaultLockTTL)
	}
	if cfg.Objects.MaxLockTTL != 2*time.Hour {
		t.Errorf("Objects.MaxLockTTL = %s, want 2h", cfg.Objects.MaxLockTTL)
	}
	if cfg.Search.Executor != "concurrent" || cfg.Search.Concurrency != 8 {
		t.Errorf("Search = %+v, want concurrent/8", cfg.Search)
	}
	if len(cfg.Events) != 1 || cfg.Events[0].File == nil || cfg.Events[0].File.Path != "/tmp/events.jsonl" {
		t.Errorf("Events = %+v, want one file destination", cfg.Events)
	}
	if len(cfg.Auth.ServiceKeys) != 1 || cfg.Auth.ServiceKeys[0].UserID != "etl-bot" {
		t.Errorf("Auth.ServiceKeys = %+v, want etl-bot", cfg.Auth.ServiceKeys)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
database:
  host: "localhost"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default Database.SSLMode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Objects.DefaultLockTTL != time.Hour {
		t.Errorf("default Objects.DefaultLockTTL = %s, want 1h", cfg.Objects.DefaultLockTTL)
	}
	if cfg.Objects.DeleteRetention != 30*24*time.Hour {
		t.Errorf("default Objects.DeleteRetention = %s, want 720h", cfg.Objects.DeleteRetention)
	}
	if cfg.Search.Executor != "sequential" {
		t.Errorf("default Search.Executor = %q, want sequential", cfg.Search.Executor)
	}
	if cfg.Export.DefaultBackend != "local" {
		t.Errorf("default Export.DefaultBackend = %q, want local", cfg.Export.DefaultBackend)
	}
	if cfg.Telemetry.Tracing.Enabled {
		t.Error("default Telemetry.Tracing.Enabled = true, want false")
	}
	if cfg.Jobs.LockSweepInterval != 5*time.Minute {
		t.Errorf("default Jobs.LockSweepInterval = %s, want 5m", cfg.Jobs.LockSweepInterval)
	}
	if cfg.Auth.OIDC.Enabled || cfg.Auth.OIDC.GroupsClaim != "groups" {
		t.Errorf("default Auth.OIDC = %+v, want disabled with groups claim", cfg.Auth.OIDC)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OR_SEARCH_EXECUTOR", "concurrent")
	t.Setenv("OR_OBJECTS_DEFAULT_LOCK_TTL", "10m")
	t.Setenv("OR_AUTH_OIDC_ISSUER_URL", "https://idp.example.com")
	path := writeTempConfig(t, "logging:\n  level: info\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Search.Executor != "concurrent" {
		t.Errorf("Search.Executor = %q, want concurrent", cfg.Search.Executor)
	}
	if cfg.Objects.DefaultLockTTL != 10*time.Minute {
		t.Errorf("Objects.DefaultLockTTL = %s, want 10m", cfg.Objects.DefaultLockTTL)
	}
	if cfg.Auth.OIDC.IssuerURL != "https://idp.example.com" {
		t.Errorf("Auth.OIDC.IssuerURL = %q, want env override", cfg.Auth.OIDC.IssuerURL)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	t.Setenv("TEST_HOOK_TOKEN", "Bearer abc")
	const content = `
database:
  password: "${TEST_DB_PASS}"
events:
  - enabled: true
    type: "webhook"
    webhook:
      url: "https://hooks.example.com/registers"
      headers:
        authorization: "${TEST_HOOK_TOKEN}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
	if got := cfg.Events[0].Webhook.Headers["authorization"]; got != "Bearer abc" {
		t.Errorf("webhook header = %q, want %q", got, "Bearer abc")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeTempConfig(t, "search:\n  executor: \"parallel\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error, got nil")
	}
}
