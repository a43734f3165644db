package store

import (
	"fmt"

	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// Store saves and restores the full tenant-id -> snapshot mapping.
// Save replaces the stored state wholesale; Load reads it back once at
// startup before sessions are reattached.
type Store interface {
	Save(snapshots map[string]models.PlayerSnapshot) error
	Load() (map[string]models.PlayerSnapshot, error)
	Close() error
}

// Open constructs the Store selected by the persistence configuration.
func Open(cfg shared.PersistenceConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown persistence backend %q", shared.ErrInvalidConfig, cfg.Backend)
	}
}
