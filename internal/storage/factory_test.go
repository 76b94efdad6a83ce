package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/storage"
)

type mockStorage struct{}

func (m *mockStorage) Put(_ context.Context, key string, body []byte, _ string) (*storage.Object, error) {
	return &storage.Object{Key: key, Size: int64(len(body))}, nil
}
func (m *mockStorage) Get(_ context.Context, _ string) ([]byte, *storage.Object, error) {
	return nil, nil, storage.ErrNotExist
}
func (m *mockStorage) Stat(_ context.Context, _ string) (*storage.Object, error) {
	return nil, storage.ErrNotExist
}
func (m *mockStorage) List(_ context.Context, _ string) ([]storage.Object, error) { return nil, nil }
func (m *mockStorage) Delete(_ context.Context, _ string) error                  { return nil }
func (m *mockStorage) URL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Export.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}

	found := false
	for _, name := range storage.Backends() {
		if name == "test-backend" {
			found = true
		}
	}
	if !found {
		t.Errorf("Backends() = %v, want test-backend listed", storage.Backends())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Export.DefaultBackend = "completely-unknown-backend"

	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() = nil error, want error for unregistered backend")
	}
}

func TestChecksum(t *testing.T) {
	// sha256("") is a well known constant
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := storage.Checksum(nil); got != empty {
		t.Errorf("Checksum(nil) = %s, want %s", got, empty)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{"configurations/abc/1.0.0.json", "configurations/abc/1.0.0.json", false},
		{"configurations//abc/./1.json", "configurations/abc/1.json", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"configurations/../../secrets", "", true},
		{"..", "", true},
		{"a\\b", "", true},
		{".", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := storage.CleanKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("CleanKey(%q) = %q, want error", tt.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanKey(%q) error: %v", tt.key, err)
			}
			if got != tt.want {
				t.Errorf("CleanKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
