// factory.go implements the storage backend registry and factory, mapping backend type
// strings (local, s3, azure, gcs, minio) to constructor functions.
package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bandyab/bandyab/internal/config"
)

// FactoryFunc creates a storage backend from configuration
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Registered returns the names of every registered backend, sorted
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates a new storage backend based on configuration
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %s)",
			cfg.Storage.DefaultBackend, strings.Join(Registered(), ", "))
	}
	return factory(cfg)
}
