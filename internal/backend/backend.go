// Package backend selects and constructs the key-value store the tracker
// persists through: embedded SQLite, plain memory, or another instance's
// /api/kv endpoint.
package backend

import (
	"fmt"
	"log/slog"

	"expensecf/internal/config"
	"expensecf/internal/kv"
)

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
	RemoteBackend BackendType = "remote"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid.
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend, RemoteBackend:
		return true
	default:
		return false
	}
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the store instance and optional cleanup function.
type Result struct {
	Store   kv.Store
	Cleanup CleanupFunc
}

// DefaultFactory builds stores from configuration.
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *DefaultFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateStore builds the configured store.
func (f *DefaultFactory) CreateStore(cfg *config.Config) (*Result, error) {
	backendType := BackendType(cfg.DataBackend)
	if !backendType.IsValid() {
		return nil, fmt.Errorf("invalid backend type: %s", cfg.DataBackend)
	}

	switch backendType {
	case SQLiteBackend:
		store, err := kv.NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return &Result{Store: store, Cleanup: store.Close}, nil

	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return &Result{Store: kv.NewMemoryStore()}, nil

	case RemoteBackend:
		f.logger.Info("Initialized remote backend", "url", cfg.RemoteKVURL)
		return &Result{Store: kv.NewHTTPStore(cfg.RemoteKVURL)}, nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", backendType)
	}
}
