package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the snapshot in a single JSON file. Writes go to a
// temp file in the same directory followed by a rename, so a crash mid-write
// never corrupts the previous durable copy.
type FileStore struct {
	path string
}

// NewFileStore validates path and creates its parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the configured snapshot location.
func (s *FileStore) Path() string { return s.path }

// Persist writes the envelope to <path>.tmp and renames it into place.
func (s *FileStore) Persist(_ context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot file: %w", err)
	}
	return nil
}

// Load reads the last snapshot. A missing file maps to ErrNotFound.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("read snapshot file: %w", err)
	}
	return decodeSnapshot(data)
}
