// factory.go maps export backend names (local, s3, azure, gcs) to constructor
// functions and dispatches NewStorage calls.
package storage

import (
	"fmt"
	"sort"

	"github.com/openregister/openregister/internal/config"
)

// FactoryFunc builds a backend from the application configuration
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Backends returns the names of the registered backends
func Backends() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the export store selected by export.default_backend
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Export.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported export backend: %s (registered: %v)", cfg.Export.DefaultBackend, Backends())
	}

	return factory(cfg)
}
