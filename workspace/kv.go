// Package workspace provides the persisted workspace store: the single-writer
// data model holding projects and generation jobs, debounced autosave into a
// pluggable key-value backend, and the export/import document codec.
//
// Supported backends:
//   - File: one file per key with atomic writes, for local deployments
//   - Redis: for shared deployments
//   - SQLite: embedded single-file database
package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Common errors
var (
	ErrStoreClosed = errors.New("store is closed")
)

// KV is the minimal persistent key-value contract the store saves through.
type KV interface {
	// Get returns the value for key; the bool reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores the value, replacing any previous one.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// FileKV is a file-backed KV: one file per key under a base directory,
// written atomically via a temp file and rename.
type FileKV struct {
	baseDir string
	closed  bool
}

// NewFileKV creates the base directory if needed.
func NewFileKV(baseDir string) (*FileKV, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &FileKV{baseDir: baseDir}, nil
}

func (s *FileKV) path(key string) string {
	return filepath.Join(s.baseDir, key+".json")
}

// Get reads the stored value for key.
func (s *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Put writes the value atomically: temp file then rename.
func (s *FileKV) Put(_ context.Context, key string, value []byte) error {
	if s.closed {
		return ErrStoreClosed
	}
	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Delete removes the key's file.
func (s *FileKV) Delete(_ context.Context, key string) error {
	if s.closed {
		return ErrStoreClosed
	}
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close marks the store closed.
func (s *FileKV) Close() error {
	s.closed = true
	return nil
}
