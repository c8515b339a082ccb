package filestore

// ============================================================================
// Responsibilities:
// 1. Store each saved file under the workspace directory
// 2. Write atomically (temp file + rename) so a crash never leaves a
//    half-written file behind
// 3. Optionally keep the previous version as <name>.bak
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	tmpSuffix    = ".tmp"
	backupSuffix = ".bak"
)

// FSStore stores files in a directory
type FSStore struct {
	dir        string
	keepBackup bool
	mu         sync.Mutex // serializes writes
}

// FSOption configures an FSStore.
type FSOption func(*FSStore)

// WithBackup keeps the previous content of a file as <name>.bak.
func WithBackup() FSOption {
	return func(s *FSStore) {
		s.keepBackup = true
	}
}

// NewFSStore creates dir if needed.
func NewFSStore(dir string, opts ...FSOption) (*FSStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &FSStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save writes content atomically
//
// Steps:
// 1. write <name>.tmp
// 2. move the old file to <name>.bak when backups are enabled
// 3. rename the temp file over <name>
func (s *FSStore) Save(ctx context.Context, name, content string) error {
	name, err := CleanName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	tmpPath := path + tmpSuffix

	if err := os.WriteFile(tmpPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if s.keepBackup {
		if err := os.Rename(path, path+backupSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmpPath)
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Load reads a file.
func (s *FSStore) Load(ctx context.Context, name string) (string, error) {
	name, err := CleanName(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// List returns saved file names, sorted. Temp and backup files are skipped.
func (s *FSStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list store dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasSuffix(n, tmpSuffix) || strings.HasSuffix(n, backupSuffix) || n == StateFileName {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Dir returns the directory files are stored in.
func (s *FSStore) Dir() string {
	return s.dir
}

// Close is a no-op.
func (s *FSStore) Close() error {
	return nil
}
