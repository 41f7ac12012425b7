// Package store persists registry checkpoints between connector restarts.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by Load when no checkpoint has been saved yet.
var ErrNotFound = errors.New("store: checkpoint not found")

// Store saves and restores an opaque checkpoint blob.
type Store interface {
	Save(data []byte) error
	Load() ([]byte, error)
}

// FileStore keeps the checkpoint as a single JSON file under a storage
// directory, one file per connector instance. Writes go through a temp
// file and rename so a crash never leaves a torn checkpoint.
type FileStore struct {
	path string
}

// NewFileStore creates the storage directory if needed and returns a store
// writing to <dir>/<instanceID>.json.
func NewFileStore(dir, instanceID string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, instanceID+".json")}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return data, nil
}
