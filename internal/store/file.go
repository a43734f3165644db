package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// FileStore persists snapshots as a single JSON object mapping tenant id to
// snapshot. Writes go through a temp file and rename so a crash mid-save
// never corrupts the previous state.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(snapshots map[string]models.PlayerSnapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshots: %w", err)
	}

	// Unique temp name so concurrent saves never clobber each other's
	// half-written file before the rename.
	tmp := s.path + "." + shared.GenerateID() + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

func (s *FileStore) Load() (map[string]models.PlayerSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.PlayerSnapshot{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	snapshots := map[string]models.PlayerSnapshot{}
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}

	return snapshots, nil
}

func (s *FileStore) Close() error { return nil }
