package gcs

import (
	"testing"

	appconfig "github.com/openregister/openregister/internal/config"
	appstorage "github.com/openregister/openregister/internal/storage"
)

// ---------------------------------------------------------------------------
// New() — constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.GCSStorageConfig
	}{
		{"missing bucket", appconfig.GCSStorageConfig{}},
		{"service account without credentials", appconfig.GCSStorageConfig{Bucket: "exports", AuthMethod: "service_account"}},
		{"unsupported method", appconfig.GCSStorageConfig{Bucket: "exports", AuthMethod: "kerberos"}},
		{"none without endpoint", appconfig.GCSStorageConfig{Bucket: "exports", AuthMethod: "none"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg); err == nil {
				t.Errorf("New() = nil error, want error for %s", tt.name)
			}
		})
	}
}

func TestNew_EmulatorWithoutAuthentication(t *testing.T) {
	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:     "exports",
		ProjectID:  "local",
		AuthMethod: "none",
		Endpoint:   "http://localhost:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	if s.bucket != "exports" || s.projectID != "local" {
		t.Errorf("New() = %+v, want bucket exports in project local", s)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, err := New(&appconfig.GCSStorageConfig{
		Bucket:     "exports",
		AuthMethod: "none",
		Endpoint:   "http://localhost:4443/storage/v1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Close()

	if _, _, err := s.object("../secrets.json"); err == nil {
		t.Error("object() accepted a key escaping the bucket root")
	}
	key, _, err := s.object("configurations//abc/1.0.0.json")
	if err != nil {
		t.Fatalf("object() error: %v", err)
	}
	if key != "configurations/abc/1.0.0.json" {
		t.Errorf("object() key = %q", key)
	}

	var _ appstorage.Storage = s
}
